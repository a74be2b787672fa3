package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/poigo/geo"
	"github.com/hupe1980/poigo/metadata"
	"github.com/hupe1980/poigo/persist"
	"github.com/hupe1980/poigo/record"
)

func newTestCoordinator(t *testing.T, optFns ...func(o *Options)) *Coordinator {
	t.Helper()

	c, err := New(optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func poi(name string, lat, lon float64) record.Record {
	return record.Record{
		Name:     name,
		Category: "cafe",
		Region:   "eu",
		Rank:     3,
		Geometry: geo.NewPoint(lat, lon),
	}
}

// faultAdapter wraps another adapter and fails selected calls.
type faultAdapter struct {
	persist.Adapter

	failPersist error
	failDelete  error
}

func (f *faultAdapter) Persist(ctx context.Context, rec record.Record) error {
	if f.failPersist != nil {
		return f.failPersist
	}
	return f.Adapter.Persist(ctx, rec)
}

func (f *faultAdapter) Delete(ctx context.Context, id uint32) error {
	if f.failDelete != nil {
		return f.failDelete
	}
	return f.Adapter.Delete(ctx, id)
}

// blockingAdapter parks Persist until released, to hold the writer lock.
type blockingAdapter struct {
	persist.Noop

	entered chan struct{}
	release chan struct{}
}

func (b *blockingAdapter) Persist(context.Context, record.Record) error {
	close(b.entered)
	<-b.release
	return nil
}

func TestCoordinatorInsertGetDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	id, err := c.Insert(ctx, poi("a", 52.52, 13.405))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	rec, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Name)
	assert.Equal(t, uint64(1), rec.Revision)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, c.Delete(ctx, id))

	_, err = c.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.Delete(ctx, id), ErrNotFound)
}

func TestCoordinatorExplicitID(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	id, err := c.Insert(ctx, record.Record{ID: 42, Name: "x", Geometry: geo.NewPoint(0, 0)})
	require.NoError(t, err)
	assert.Equal(t, uint32(42), id)

	_, err = c.Insert(ctx, record.Record{ID: 42, Name: "dup", Geometry: geo.NewPoint(1, 1)})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Assignment continues past explicit identifiers.
	id, err = c.Insert(ctx, poi("y", 1, 1))
	require.NoError(t, err)
	assert.Equal(t, uint32(43), id)
}

func TestCoordinatorUpdate(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	id, err := c.Insert(ctx, poi("a", 0, 0))
	require.NoError(t, err)

	assert.ErrorIs(t, c.Update(ctx, 99, poi("ghost", 0, 0)), ErrNotFound)

	upd := poi("a2", 10, 10)
	require.NoError(t, c.Update(ctx, id, upd))

	rec, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a2", rec.Name)
	assert.Equal(t, uint64(2), rec.Revision)

	// Geometry change relocated the record in the index.
	matches, err := c.Nearest(ctx, geo.Point{Lat: 10, Lon: 10}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
	assert.Less(t, matches[0].Distance, 1.0)
}

func TestCoordinatorInvalidRecord(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	_, err := c.Insert(ctx, record.Record{Name: "bad", Geometry: geo.NewPoint(91, 0)})
	assert.ErrorIs(t, err, geo.ErrInvalidGeometry)
}

func TestCoordinatorPersistBeforeApply(t *testing.T) {
	ctx := context.Background()

	boom := errors.New("disk full")
	fa := &faultAdapter{Adapter: persist.NewMemory(), failPersist: boom}
	c := newTestCoordinator(t, func(o *Options) { o.Adapter = fa })

	_, err := c.Insert(ctx, poi("a", 0, 0))

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, boom)

	// Nothing was applied in memory.
	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCoordinatorDeletePersistFailure(t *testing.T) {
	ctx := context.Background()

	fa := &faultAdapter{Adapter: persist.NewMemory()}
	c := newTestCoordinator(t, func(o *Options) { o.Adapter = fa })

	id, err := c.Insert(ctx, poi("a", 0, 0))
	require.NoError(t, err)

	fa.failDelete = errors.New("unavailable")
	err = c.Delete(ctx, id)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)

	// The record stays fully queryable.
	rec, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Name)

	matches, err := c.Nearest(ctx, geo.Point{Lat: 0, Lon: 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
}

func TestCoordinatorLockTimeout(t *testing.T) {
	ctx := context.Background()

	ba := &blockingAdapter{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := newTestCoordinator(t, func(o *Options) {
		o.Adapter = ba
		o.LockTimeout = 50 * time.Millisecond
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Insert(ctx, poi("slow", 0, 0))
	}()
	<-ba.entered

	_, err := c.Insert(ctx, poi("blocked", 1, 1))
	assert.ErrorIs(t, err, ErrLockTimeout)

	close(ba.release)
	<-done
}

func TestCoordinatorLoadFromAdapter(t *testing.T) {
	ctx := context.Background()

	mem := persist.NewMemory()
	mem.Seed(
		record.Record{ID: 3, Name: "c", Geometry: geo.NewPoint(5, 5), Revision: 1},
		record.Record{ID: 1, Name: "a", Geometry: geo.NewPoint(0, 0), Revision: 2},
	)

	c := newTestCoordinator(t, func(o *Options) { o.Adapter = mem })

	rec, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Name)
	assert.Equal(t, uint64(2), rec.Revision)

	// Identifier assignment resumes past the loaded maximum.
	id, err := c.Insert(ctx, poi("d", 2, 2))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), id)
	assert.Equal(t, 3, mem.Len())
}

func TestApplyBatch(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	results, err := c.ApplyBatch(ctx, []Op{
		{Kind: OpInsert, Record: poi("a", 0, 0)},
		{Kind: OpInsert, Record: poi("b", 1, 1)},
		{Kind: OpDelete, ID: 99},
		{Kind: OpInsert, Record: poi("never", 2, 2)},
	})
	require.ErrorIs(t, err, ErrNotFound)

	// Stops at the first failure; committed ops stay committed.
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, ErrNotFound)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	var ids []uint32
	for i := range 50 {
		id, err := c.Insert(ctx, poi("p", float64(i%30), float64(i%60)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids[:40] {
		require.NoError(t, c.Delete(ctx, id))
	}

	require.NoError(t, c.Compact(ctx))

	stats := c.Stats()
	assert.Equal(t, 10, stats.Records)
	assert.Equal(t, 10, stats.Index.Size)

	matches, err := c.Nearest(ctx, geo.Point{Lat: 0, Lon: 0}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 10)
}

func TestCoordinatorClosed(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close()) // idempotent

	_, err := c.Insert(ctx, poi("a", 0, 0))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCoordinatorConcurrentMutations(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	const n = 64

	var wg sync.WaitGroup
	ids := make([]uint32, n)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := c.Insert(ctx, poi("p", float64(i%90), float64(i%180)))
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	count, err := c.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, n, count)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Delete(ctx, ids[i]))
		}()
	}
	wg.Wait()

	count, err = c.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, c.Stats().Index.Size)
}

func TestApplyBatchUpdateOp(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)

	id, err := c.Insert(ctx, poi("a", 0, 0))
	require.NoError(t, err)

	upd := poi("a2", 0, 0)
	upd.Attributes = metadata.Document{"stars": metadata.Int(4)}

	results, err := c.ApplyBatch(ctx, []Op{{Kind: OpUpdate, ID: id, Record: upd}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)

	rec, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a2", rec.Name)
	assert.Equal(t, uint64(2), rec.Revision)
}
