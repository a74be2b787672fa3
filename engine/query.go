package engine

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/poigo/geo"
	"github.com/hupe1980/poigo/record"
)

// Get retrieves a record by identifier.
func (c *Coordinator) Get(ctx context.Context, id uint32) (record.Record, error) {
	if c.closed.Load() {
		return record.Record{}, ErrClosed
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return record.Record{}, err
	}

	rec, ok := c.store.Get(id)
	if !ok {
		return record.Record{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return rec, nil
}

// SearchBox returns all records whose bounding box intersects box, ordered
// by ascending identifier. An empty result is not an error.
func (c *Coordinator) SearchBox(ctx context.Context, box geo.BoundingBox, optFns ...func(o *QueryOptions)) ([]Match, error) {
	var matches []Match
	for m, err := range c.SearchBoxSeq(ctx, box, optFns...) {
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// SearchBoxSeq is the streaming form of SearchBox. Breaking out of the range
// loop stops the query.
func (c *Coordinator) SearchBoxSeq(ctx context.Context, box geo.BoundingBox, optFns ...func(o *QueryOptions)) iter.Seq2[Match, error] {
	return func(yield func(Match, error) bool) {
		opts, err := c.prepareQuery(ctx, optFns)
		if err != nil {
			yield(Match{}, err)
			return
		}
		if err := box.Validate(); err != nil {
			yield(Match{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err))
			return
		}

		ids := c.tree.SearchBoxIDs(box)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		if bm := c.candidateBitmap(opts); bm != nil {
			kept := ids[:0]
			for _, id := range ids {
				if bm.Contains(id) {
					kept = append(kept, id)
				}
			}
			ids = kept
		}

		c.yieldHydrated(ids, nil, opts, yield)
	}
}

// SearchRadius returns all records within radius meters of center, ordered
// by ascending distance, ties by ascending identifier.
func (c *Coordinator) SearchRadius(ctx context.Context, center geo.Point, radius float64, optFns ...func(o *QueryOptions)) ([]Match, error) {
	var matches []Match
	for m, err := range c.SearchRadiusSeq(ctx, center, radius, optFns...) {
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// SearchRadiusSeq is the streaming form of SearchRadius.
func (c *Coordinator) SearchRadiusSeq(ctx context.Context, center geo.Point, radius float64, optFns ...func(o *QueryOptions)) iter.Seq2[Match, error] {
	return func(yield func(Match, error) bool) {
		opts, err := c.prepareQuery(ctx, optFns)
		if err != nil {
			yield(Match{}, err)
			return
		}
		if err := center.Validate(); err != nil {
			yield(Match{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err))
			return
		}
		if radius < 0 {
			yield(Match{}, fmt.Errorf("%w: radius must be non-negative, got %g", ErrInvalidQuery, radius))
			return
		}

		bm := c.candidateBitmap(opts)

		// The visit callback runs under the tree lock and must not call
		// back into the tree.
		var hits []Match
		c.tree.SearchRadius(center, radius, func(id uint32, dist float64) bool {
			if bm != nil && !bm.Contains(id) {
				return true
			}
			hits = append(hits, Match{ID: id, Distance: dist})
			return true
		})

		sort.Slice(hits, func(i, j int) bool {
			if hits[i].Distance != hits[j].Distance {
				return hits[i].Distance < hits[j].Distance
			}
			return hits[i].ID < hits[j].ID
		})

		ids := make([]uint32, len(hits))
		dists := make([]float64, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
			dists[i] = h.Distance
		}

		c.yieldHydrated(ids, dists, opts, yield)
	}
}

// Nearest returns up to k records ordered by ascending distance from p,
// ties by ascending identifier. A positive MaxDistance option bounds the
// search radius.
func (c *Coordinator) Nearest(ctx context.Context, p geo.Point, k int, optFns ...func(o *QueryOptions)) ([]Match, error) {
	var matches []Match
	for m, err := range c.NearestSeq(ctx, p, k, optFns...) {
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// NearestSeq is the streaming form of Nearest.
func (c *Coordinator) NearestSeq(ctx context.Context, p geo.Point, k int, optFns ...func(o *QueryOptions)) iter.Seq2[Match, error] {
	return func(yield func(Match, error) bool) {
		opts, err := c.prepareQuery(ctx, optFns)
		if err != nil {
			yield(Match{}, err)
			return
		}
		if err := p.Validate(); err != nil {
			yield(Match{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err))
			return
		}
		if k <= 0 {
			yield(Match{}, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, k))
			return
		}

		want := k
		if opts.Limit > 0 && opts.Limit < want {
			want = opts.Limit
		}

		bm := c.candidateBitmap(opts)

		// Record predicates are checked after hydration, so a filtered
		// search over-fetches and widens until it has enough matches or
		// the index is exhausted.
		fetch := want
		if opts.hasRecordPredicates() || bm != nil {
			fetch = want * 4
		}

		for {
			candidates := c.tree.Nearest(p, fetch, opts.MaxDistance)

			out := make([]Match, 0, want)
			for _, cand := range candidates {
				if bm != nil && !bm.Contains(cand.ID) {
					continue
				}
				m, ok := c.hydrate(cand.ID, cand.Distance, opts)
				if !ok {
					continue
				}
				out = append(out, m)
				if len(out) == want {
					break
				}
			}

			exhausted := len(candidates) < fetch
			if len(out) == want || exhausted {
				for _, m := range out {
					if !yield(m, nil) {
						return
					}
				}
				return
			}

			fetch *= 2
		}
	}
}

// prepareQuery applies option funcs, validates them, and ensures the state
// is loaded.
func (c *Coordinator) prepareQuery(ctx context.Context, optFns []func(o *QueryOptions)) (*QueryOptions, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	opts := &QueryOptions{}
	for _, fn := range optFns {
		fn(opts)
	}

	if opts.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be non-negative, got %d", ErrInvalidQuery, opts.Limit)
	}

	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return opts, nil
}

// candidateBitmap compiles the indexable part of the filter set into a
// bitmap of candidate identifiers. When the bitmap is exact the filter set
// is dropped from opts, skipping the per-record re-check.
func (c *Coordinator) candidateBitmap(opts *QueryOptions) *roaring.Bitmap {
	if opts.Filter == nil {
		return nil
	}

	bm, exact := c.meta.Candidates(opts.Filter)
	if exact {
		opts.Filter = nil
	}
	return bm
}

// yieldHydrated hydrates ids in order, applies record predicates and the
// limit, and yields matches. dists carries the per-id distance, nil for box
// queries.
func (c *Coordinator) yieldHydrated(ids []uint32, dists []float64, opts *QueryOptions, yield func(Match, error) bool) {
	yielded := 0
	for i, id := range ids {
		var dist float64
		if dists != nil {
			dist = dists[i]
		}

		m, ok := c.hydrate(id, dist, opts)
		if !ok {
			continue
		}
		if !yield(m, nil) {
			return
		}

		yielded++
		if opts.Limit > 0 && yielded == opts.Limit {
			return
		}
	}
}

// hydrate fetches the record behind an index hit and applies the record
// predicates. An identifier the index knows but the store does not is a
// record inconsistency: logged, skipped, and the query continues.
func (c *Coordinator) hydrate(id uint32, dist float64, opts *QueryOptions) (Match, bool) {
	rec, ok := c.store.Get(id)
	if !ok {
		c.logger.Warn("record inconsistency: indexed id missing from store",
			slog.Uint64("id", uint64(id)),
		)
		return Match{}, false
	}

	if !opts.matchesRecord(rec) {
		return Match{}, false
	}

	m := Match{ID: id, Distance: dist}
	if !opts.IDsOnly {
		m.Record = rec
	}
	return m, true
}
