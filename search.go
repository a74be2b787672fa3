// This file implements a fluent query API for Poigo instances.
package poigo

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/hupe1980/poigo/engine"
	"github.com/hupe1980/poigo/geo"
	"github.com/hupe1980/poigo/metadata"
	"github.com/hupe1980/poigo/record"
)

// Result is a single query result.
type Result struct {
	// ID is the matched record's identifier.
	ID uint32

	// Distance is the distance in meters from the query center to the
	// record. Zero for box queries, which have no center.
	Distance float64

	// Record is the hydrated record. Zero value when IDsOnly was set.
	Record record.Record
}

type queryKind uint8

const (
	kindNone queryKind = iota
	kindBox
	kindRadius
	kindNearest
)

func (k queryKind) String() string {
	switch k {
	case kindBox:
		return "box"
	case kindRadius:
		return "radius"
	case kindNearest:
		return "nearest"
	default:
		return "none"
	}
}

// Query creates a new fluent query builder. Exactly one spatial predicate
// (Box, Radius, or Nearest) must be set before execution.
//
// Example:
//
//	results, err := db.Query().
//	    Radius(center, 2000).
//	    Category("cafe").
//	    Limit(10).
//	    Execute(ctx)
//
//	// Or with streaming:
//	for res, err := range db.Query().Nearest(center, 100).Stream(ctx) {
//	    if err != nil { break }
//	    if res.Distance > threshold { break }
//	    process(res)
//	}
func (pg *Poigo) Query() *QueryBuilder {
	return &QueryBuilder{pg: pg}
}

// QueryBuilder is a fluent builder for constructing spatial queries.
type QueryBuilder struct {
	pg   *Poigo
	kind queryKind

	box    geo.BoundingBox
	center geo.Point
	radius float64
	k      int

	// Predicates and shaping
	filter      *metadata.FilterSet
	category    string
	region      string
	minRank     int
	maxRank     int
	limit       int
	idsOnly     bool
	maxDistance float64
}

// Box matches records whose bounding box intersects box. Results are
// ordered by ascending identifier.
func (qb *QueryBuilder) Box(box geo.BoundingBox) *QueryBuilder {
	qb.kind = kindBox
	qb.box = box
	return qb
}

// Radius matches records within meters of center. Results are ordered by
// ascending distance.
func (qb *QueryBuilder) Radius(center geo.Point, meters float64) *QueryBuilder {
	qb.kind = kindRadius
	qb.center = center
	qb.radius = meters
	return qb
}

// Nearest matches the k records closest to center, ordered by ascending
// distance with ties broken by ascending identifier.
func (qb *QueryBuilder) Nearest(center geo.Point, k int) *QueryBuilder {
	qb.kind = kindNearest
	qb.center = center
	qb.k = k
	return qb
}

// Filter restricts matches by attribute conditions (AND logic).
func (qb *QueryBuilder) Filter(fs *metadata.FilterSet) *QueryBuilder {
	qb.filter = fs
	return qb
}

// Where is a convenience for filtering on single attribute conditions.
func (qb *QueryBuilder) Where(filters ...metadata.Filter) *QueryBuilder {
	return qb.Filter(metadata.And(filters...))
}

// Category restricts matches to one category.
func (qb *QueryBuilder) Category(category string) *QueryBuilder {
	qb.category = category
	return qb
}

// Region restricts matches to one dataset region.
func (qb *QueryBuilder) Region(region string) *QueryBuilder {
	qb.region = region
	return qb
}

// RankBetween bounds the record rank, inclusive. A zero max means no upper
// bound.
func (qb *QueryBuilder) RankBetween(min, max int) *QueryBuilder {
	qb.minRank = min
	qb.maxRank = max
	return qb
}

// Limit caps the number of results.
func (qb *QueryBuilder) Limit(n int) *QueryBuilder {
	qb.limit = n
	return qb
}

// IDsOnly skips record hydration in results.
func (qb *QueryBuilder) IDsOnly() *QueryBuilder {
	qb.idsOnly = true
	return qb
}

// MaxDistance bounds a Nearest query to a radius in meters.
func (qb *QueryBuilder) MaxDistance(meters float64) *QueryBuilder {
	qb.maxDistance = meters
	return qb
}

func (qb *QueryBuilder) applyOptions(o *engine.QueryOptions) {
	o.Limit = qb.limit
	o.Filter = qb.filter
	o.Category = qb.category
	o.Region = qb.region
	o.MinRank = qb.minRank
	o.MaxRank = qb.maxRank
	o.IDsOnly = qb.idsOnly
	o.MaxDistance = qb.maxDistance
}

// Execute runs the query and returns the results.
func (qb *QueryBuilder) Execute(ctx context.Context) ([]Result, error) {
	start := time.Now()

	var (
		matches []engine.Match
		err     error
	)

	switch qb.kind {
	case kindBox:
		matches, err = qb.pg.coordinator.SearchBox(ctx, qb.box, qb.applyOptions)
	case kindRadius:
		matches, err = qb.pg.coordinator.SearchRadius(ctx, qb.center, qb.radius, qb.applyOptions)
	case kindNearest:
		matches, err = qb.pg.coordinator.Nearest(ctx, qb.center, qb.k, qb.applyOptions)
	default:
		err = fmt.Errorf("%w: no spatial predicate set", engine.ErrInvalidQuery)
	}
	err = translateError(err)

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result(m)
	}

	qb.pg.metrics.RecordQuery(qb.kind.String(), len(results), time.Since(start), err)
	qb.pg.logger.LogQuery(ctx, qb.kind.String(), len(results), err)

	if err != nil {
		return nil, err
	}
	return results, nil
}

// Stream returns an iterator over query results for memory-efficient
// processing. The iterator supports early termination by breaking from the
// loop.
func (qb *QueryBuilder) Stream(ctx context.Context) iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		start := time.Now()

		var seq iter.Seq2[engine.Match, error]
		switch qb.kind {
		case kindBox:
			seq = qb.pg.coordinator.SearchBoxSeq(ctx, qb.box, qb.applyOptions)
		case kindRadius:
			seq = qb.pg.coordinator.SearchRadiusSeq(ctx, qb.center, qb.radius, qb.applyOptions)
		case kindNearest:
			seq = qb.pg.coordinator.NearestSeq(ctx, qb.center, qb.k, qb.applyOptions)
		default:
			err := translateError(fmt.Errorf("%w: no spatial predicate set", engine.ErrInvalidQuery))
			qb.pg.metrics.RecordQuery(qb.kind.String(), 0, time.Since(start), err)
			qb.pg.logger.LogQuery(ctx, qb.kind.String(), 0, err)
			yield(Result{}, err)
			return
		}

		count := 0
		for m, err := range seq {
			if err != nil {
				err = translateError(err)
				qb.pg.metrics.RecordQuery(qb.kind.String(), count, time.Since(start), err)
				qb.pg.logger.LogQuery(ctx, qb.kind.String(), count, err)
				yield(Result{}, err)
				return
			}

			count++
			if !yield(Result(m), nil) {
				// Early termination.
				qb.pg.metrics.RecordQuery(qb.kind.String(), count, time.Since(start), nil)
				qb.pg.logger.LogQuery(ctx, qb.kind.String(), count, nil)
				return
			}
		}

		qb.pg.metrics.RecordQuery(qb.kind.String(), count, time.Since(start), nil)
		qb.pg.logger.LogQuery(ctx, qb.kind.String(), count, nil)
	}
}

// First returns only the first result, or ErrNotFound if none matched.
func (qb *QueryBuilder) First(ctx context.Context) (Result, error) {
	if qb.kind == kindNearest {
		qb.k = 1
	} else {
		qb.limit = 1
	}

	results, err := qb.Execute(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 {
		return Result{}, ErrNotFound
	}
	return results[0], nil
}

// Count executes the query and returns the number of results.
func (qb *QueryBuilder) Count(ctx context.Context) (int, error) {
	qb.idsOnly = true

	results, err := qb.Execute(ctx)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

// Exists checks whether at least one record matches the query.
func (qb *QueryBuilder) Exists(ctx context.Context) (bool, error) {
	if qb.kind == kindNearest {
		qb.k = 1
	} else {
		qb.limit = 1
	}
	qb.idsOnly = true

	results, err := qb.Execute(ctx)
	if err != nil {
		return false, err
	}
	return len(results) > 0, nil
}
