package engine

import (
	"fmt"

	"github.com/hupe1980/poigo/metadata"
	"github.com/hupe1980/poigo/record"
)

// OpKind identifies a batch mutation kind.
type OpKind uint8

const (
	// OpInsert inserts a new record.
	OpInsert OpKind = iota
	// OpUpdate replaces the content of an existing record.
	OpUpdate
	// OpDelete removes a record.
	OpDelete
)

// String returns a human-readable name for the op kind.
func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Op is a single mutation within a batch.
type Op struct {
	// Kind selects the mutation.
	Kind OpKind

	// ID is the target identifier for updates and deletes. Ignored for
	// inserts, where Record.ID governs identifier assignment.
	ID uint32

	// Record carries the content for inserts and updates.
	Record record.Record
}

// OpResult reports the outcome of one batch op. Ops are applied in
// submission order; a batch stops at the first failure and already applied
// ops stay applied.
type OpResult struct {
	// ID is the identifier the op targeted (or was assigned, for inserts).
	ID uint32

	// Err is nil when the op was applied.
	Err error
}

// Match is a single query result.
type Match struct {
	// ID is the matched record's identifier.
	ID uint32

	// Distance is the distance in meters from the query center to the
	// record. Zero for box queries, which have no center.
	Distance float64

	// Record is the hydrated record. Zero value when IDsOnly was set.
	Record record.Record
}

// QueryOptions narrow and shape query results.
type QueryOptions struct {
	// Limit caps the number of results. Zero means unlimited.
	Limit int

	// Filter restricts matches by attribute conditions (AND logic).
	Filter *metadata.FilterSet

	// Category restricts matches to one category. Empty matches all.
	Category string

	// Region restricts matches to one dataset region. Empty matches all.
	Region string

	// MinRank and MaxRank bound the record rank, inclusive. MaxRank zero
	// means no upper bound.
	MinRank int
	MaxRank int

	// IDsOnly skips record hydration in results.
	IDsOnly bool

	// MaxDistance bounds nearest-neighbor search to a radius in meters.
	// Zero or negative means unbounded. Ignored by box and radius queries.
	MaxDistance float64
}

// matchesRecord applies the non-spatial predicates to a hydrated record.
func (o *QueryOptions) matchesRecord(rec record.Record) bool {
	if o.Category != "" && rec.Category != o.Category {
		return false
	}
	if o.Region != "" && rec.Region != o.Region {
		return false
	}
	if rec.Rank < o.MinRank {
		return false
	}
	if o.MaxRank > 0 && rec.Rank > o.MaxRank {
		return false
	}
	if o.Filter != nil && !o.Filter.Matches(rec.Attributes) {
		return false
	}
	return true
}

// hasRecordPredicates reports whether any predicate needs the hydrated
// record, which forces over-fetching during nearest-neighbor search.
func (o *QueryOptions) hasRecordPredicates() bool {
	return o.Category != "" || o.Region != "" || o.MinRank > 0 || o.MaxRank > 0 || o.Filter != nil
}
