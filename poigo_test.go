package poigo

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/poigo/blobstore"
	"github.com/hupe1980/poigo/geo"
	"github.com/hupe1980/poigo/metadata"
	"github.com/hupe1980/poigo/persist"
	"github.com/hupe1980/poigo/record"
)

func newTestDB(t *testing.T, optFns ...Option) *Poigo {
	t.Helper()

	db, err := New(optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func resultIDs(results []Result) []uint32 {
	ids := make([]uint32, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func TestPoigoScenario(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a, err := db.Insert(ctx, record.Record{Name: "a", Geometry: geo.NewPoint(0, 0)})
	require.NoError(t, err)
	b, err := db.Insert(ctx, record.Record{Name: "b", Geometry: geo.NewPoint(1, 1)})
	require.NoError(t, err)
	c, err := db.Insert(ctx, record.Record{Name: "c", Geometry: geo.NewPoint(5, 5)})
	require.NoError(t, err)

	// Radius 200km around the origin: a at 0m, b at ~157km, not c.
	results, err := db.Query().Radius(geo.Point{Lat: 0, Lon: 0}, 200_000).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{a, b}, resultIDs(results))

	// Nearest k=1.
	results, err = db.Query().Nearest(geo.Point{Lat: 0, Lon: 0}, 1).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{a}, resultIDs(results))

	// Box [-2,-2]..[2,2].
	results, err = db.Query().Box(geo.NewBox(-2, -2, 2, 2)).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{a, b}, resultIDs(results))

	// Update relocates c next to the origin.
	require.NoError(t, db.Update(ctx, c, record.Record{Name: "c2", Geometry: geo.NewPoint(0.1, 0.1)}))

	rec, err := db.Get(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "c2", rec.Name)
	assert.Equal(t, uint64(2), rec.Revision)

	results, err = db.Query().Nearest(geo.Point{Lat: 0, Lon: 0}, 2).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{a, c}, resultIDs(results))

	// Delete removes from both store and index.
	require.NoError(t, db.Delete(ctx, a))
	_, err = db.Get(ctx, a)
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := db.Query().Nearest(geo.Point{Lat: 0, Lon: 0}, 1).Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	results, err = db.Query().Nearest(geo.Point{Lat: 0, Lon: 0}, 1).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{c}, resultIDs(results))
}

func TestPoigoQueryBuilder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for i := range 20 {
		_, err := db.Insert(ctx, record.Record{
			Name:     fmt.Sprintf("poi-%d", i),
			Category: []string{"cafe", "museum"}[i%2],
			Region:   "eu",
			Rank:     i % 5,
			Geometry: geo.NewPoint(float64(i)*0.01, float64(i)*0.01),
			Attributes: metadata.Document{
				"stars": metadata.Int(int64(i % 5)),
			},
		})
		require.NoError(t, err)
	}

	t.Run("CategoryAndLimit", func(t *testing.T) {
		results, err := db.Query().
			Nearest(geo.Point{Lat: 0, Lon: 0}, 10).
			Category("cafe").
			Limit(3).
			Execute(ctx)
		require.NoError(t, err)
		assert.Len(t, results, 3)
		for _, r := range results {
			assert.Equal(t, "cafe", r.Record.Category)
		}
	})

	t.Run("Where", func(t *testing.T) {
		results, err := db.Query().
			Box(geo.NewBox(-1, -1, 1, 1)).
			Where(metadata.Eq("stars", metadata.Int(4))).
			Execute(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		for _, r := range results {
			assert.Equal(t, metadata.Int(4), r.Record.Attributes["stars"])
		}
	})

	t.Run("RankBetween", func(t *testing.T) {
		count, err := db.Query().
			Box(geo.NewBox(-1, -1, 1, 1)).
			RankBetween(1, 2).
			Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 8, count)
	})

	t.Run("First", func(t *testing.T) {
		res, err := db.Query().Nearest(geo.Point{Lat: 0, Lon: 0}, 5).First(ctx)
		require.NoError(t, err)
		assert.Equal(t, "poi-0", res.Record.Name)
	})

	t.Run("FirstNoMatch", func(t *testing.T) {
		_, err := db.Query().
			Radius(geo.Point{Lat: 80, Lon: 80}, 1000).
			First(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Stream", func(t *testing.T) {
		var seen int
		for res, err := range db.Query().Nearest(geo.Point{Lat: 0, Lon: 0}, 20).Stream(ctx) {
			require.NoError(t, err)
			require.NotZero(t, res.ID)
			seen++
			if seen == 5 {
				break
			}
		}
		assert.Equal(t, 5, seen)
	})

	t.Run("NoSpatialPredicate", func(t *testing.T) {
		_, err := db.Query().Category("cafe").Execute(ctx)
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})

	t.Run("IDsOnly", func(t *testing.T) {
		results, err := db.Query().
			Nearest(geo.Point{Lat: 0, Lon: 0}, 3).
			IDsOnly().
			Execute(ctx)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Empty(t, results[0].Record.Name)
	})
}

func TestPoigoErrorTranslation(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, db.Delete(ctx, 1), ErrNotFound)
	assert.ErrorIs(t, db.Update(ctx, 1, record.Record{Geometry: geo.NewPoint(0, 0)}), ErrNotFound)

	id, err := db.Insert(ctx, record.Record{ID: 7, Name: "x", Geometry: geo.NewPoint(0, 0)})
	require.NoError(t, err)
	assert.Equal(t, uint32(7), id)

	_, err = db.Insert(ctx, record.Record{ID: 7, Name: "dup", Geometry: geo.NewPoint(0, 0)})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = db.Insert(ctx, record.Record{Name: "bad", Geometry: geo.NewPoint(123, 0)})
	assert.ErrorIs(t, err, geo.ErrInvalidGeometry)

	_, err = db.Query().Radius(geo.Point{Lat: 0, Lon: 0}, -5).Execute(ctx)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	require.NoError(t, db.Close())
	_, err = db.Insert(ctx, record.Record{Name: "late", Geometry: geo.NewPoint(0, 0)})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPoigoPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	db := newTestDB(t, WithBlobStore(store, func(o *persist.BlobOptions) {
		o.Compression = persist.CompressionZstd
	}))

	id, err := db.Insert(ctx, record.Record{
		Name:     "museum island",
		Category: "museum",
		Geometry: geo.NewPoint(52.516, 13.402),
		Attributes: metadata.Document{
			"open": metadata.Bool(true),
		},
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// A fresh instance over the same store sees the record.
	db2 := newTestDB(t, WithBlobStore(store))

	rec, err := db2.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "museum island", rec.Name)
	assert.Equal(t, metadata.Bool(true), rec.Attributes["open"])

	results, err := db2.Query().Radius(geo.Point{Lat: 52.52, Lon: 13.405}, 2_000).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{id}, resultIDs(results))
}

func TestPoigoPersistenceFailure(t *testing.T) {
	ctx := context.Background()

	db := newTestDB(t, WithAdapter(failingAdapter{}))

	_, err := db.Insert(ctx, record.Record{Name: "x", Geometry: geo.NewPoint(0, 0)})

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "persist", perr.Op)
}

// failingAdapter rejects every persist call. LoadAll yields nothing so the
// lazy startup load succeeds.
type failingAdapter struct {
	persist.Noop
}

func (failingAdapter) Persist(context.Context, record.Record) error {
	return fmt.Errorf("backend unavailable")
}

func TestPoigoBatchAndCompact(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	results, err := db.ApplyBatch(ctx, []Op{
		{Kind: OpInsert, Record: record.Record{Name: "a", Geometry: geo.NewPoint(0, 0)}},
		{Kind: OpInsert, Record: record.Record{Name: "b", Geometry: geo.NewPoint(1, 1)}},
		{Kind: OpDelete, ID: 999},
	})
	require.ErrorIs(t, err, ErrNotFound)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[2].Err, ErrNotFound)

	require.NoError(t, db.Delete(ctx, results[1].ID))
	require.NoError(t, db.Compact(ctx))

	stats := db.Stats()
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, 1, stats.Index.Size)
}

func TestPoigoMetricsAndOptions(t *testing.T) {
	ctx := context.Background()

	metrics := &BasicMetricsCollector{}
	db := newTestDB(t,
		WithDistanceModel(geo.Planar),
		WithNodeCapacity(16),
		WithLockTimeout(time.Second),
		WithMetricsCollector(metrics),
	)

	id, err := db.Insert(ctx, record.Record{Name: "a", Geometry: geo.NewPoint(0, 0)})
	require.NoError(t, err)

	_, err = db.Query().Nearest(geo.Point{Lat: 0, Lon: 0}, 1).Execute(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Delete(ctx, id))

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.InsertCount)
	assert.Equal(t, int64(1), stats.QueryCount)
	assert.Equal(t, int64(1), stats.QueryResults)
	assert.Equal(t, int64(1), stats.DeleteCount)
	assert.Zero(t, stats.InsertErrors)
}

func TestPoigoConcurrentUse(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	const n = 32

	var wg sync.WaitGroup
	ids := make([]uint32, n)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := db.Insert(ctx, record.Record{
				Name:     "p",
				Geometry: geo.NewPoint(float64(i), float64(i)),
			})
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	// Readers run against a concurrent writer without blocking each other.
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.Query().Nearest(geo.Point{Lat: 0, Lon: 0}, 5).Execute(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, db.Delete(ctx, ids[i]))
		}()
	}
	wg.Wait()

	count, err := db.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
