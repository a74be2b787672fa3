// Package poigo provides an embedded geospatial index for points of interest.
//
// Poigo keeps records in memory behind a classic R-tree and answers bounding
// box, radius, and nearest-neighbor queries with attribute filtering:
//
//   - Classic R-tree spatial index with quadratic split and kNN search
//   - Point and polygon geometries with great-circle or planar distance
//   - Typed attribute bags with a Roaring Bitmap-backed inverted index
//   - Single-writer mutations with persist-before-apply durability
//   - Pluggable persistence adapters: in-memory, local disk, MinIO, S3
//   - Streaming query API for memory-efficient iteration
//
// # Quick Start
//
//	ctx := context.Background()
//	db, err := poigo.New()
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	id, err := db.Insert(ctx, record.Record{
//	    Name:     "Cafe Einstein",
//	    Category: "cafe",
//	    Geometry: geo.NewPoint(52.5163, 13.3777),
//	    Attributes: metadata.Document{
//	        "stars": metadata.Int(5),
//	    },
//	})
//
// Query with the fluent API:
//
//	results, err := db.Query().
//	    Radius(geo.Point{Lat: 52.52, Lon: 13.405}, 2000).
//	    Category("cafe").
//	    Limit(10).
//	    Execute(ctx)
//
// Streaming with early termination:
//
//	for res, err := range db.Query().Nearest(center, 100).Stream(ctx) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if res.Distance > threshold {
//	        break
//	    }
//	    process(res)
//	}
//
// # Durability
//
// By default nothing is persisted. Configure a persistence adapter to make
// mutations durable; each mutation commits to the adapter before it becomes
// visible in memory:
//
//	store, _ := blobstore.NewLocalStore("./data")
//	db, err := poigo.New(poigo.WithBlobStore(store))
package poigo

import (
	"context"
	"time"

	"github.com/hupe1980/poigo/engine"
	"github.com/hupe1980/poigo/record"
)

// Poigo is an embedded points-of-interest database.
type Poigo struct {
	coordinator *engine.Coordinator
	metrics     MetricsCollector
	logger      *Logger
}

// New creates a Poigo instance. Persisted records are loaded lazily on first
// use.
func New(optFns ...Option) (*Poigo, error) {
	opts, err := applyOptions(optFns)
	if err != nil {
		return nil, err
	}

	coord, err := engine.New(func(o *engine.Options) {
		o.Distance = opts.distance
		if opts.nodeCapacity > 0 {
			o.NodeCapacity = opts.nodeCapacity
		}
		if opts.lockTimeout > 0 {
			o.LockTimeout = opts.lockTimeout
		}
		o.Adapter = opts.adapter
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		return nil, err
	}

	return &Poigo{
		coordinator: coord,
		metrics:     opts.metricsCollector,
		logger:      opts.logger,
	}, nil
}

// Get retrieves a record by identifier.
func (pg *Poigo) Get(ctx context.Context, id uint32) (record.Record, error) {
	rec, err := pg.coordinator.Get(ctx, id)
	return rec, translateError(err)
}

// Insert adds a record and returns its identifier. A zero rec.ID gets a
// fresh identifier; the stored record has Revision 1.
func (pg *Poigo) Insert(ctx context.Context, rec record.Record) (uint32, error) {
	start := time.Now()

	id, err := pg.coordinator.Insert(ctx, rec)
	err = translateError(err)

	pg.metrics.RecordInsert(time.Since(start), err)
	pg.logger.LogInsert(ctx, id, err)
	return id, err
}

// Update replaces the content of an existing record and bumps its revision.
func (pg *Poigo) Update(ctx context.Context, id uint32, rec record.Record) error {
	start := time.Now()

	err := translateError(pg.coordinator.Update(ctx, id, rec))

	pg.metrics.RecordUpdate(time.Since(start), err)
	pg.logger.LogUpdate(ctx, id, err)
	return err
}

// Delete removes a record.
func (pg *Poigo) Delete(ctx context.Context, id uint32) error {
	start := time.Now()

	err := translateError(pg.coordinator.Delete(ctx, id))

	pg.metrics.RecordDelete(time.Since(start), err)
	pg.logger.LogDelete(ctx, id, err)
	return err
}

// Op re-exports the engine batch op for convenience.
type Op = engine.Op

// Batch op kinds.
const (
	OpInsert = engine.OpInsert
	OpUpdate = engine.OpUpdate
	OpDelete = engine.OpDelete
)

// OpResult reports the outcome of one batch op.
type OpResult = engine.OpResult

// ApplyBatch applies ops in submission order under a single writer lock
// acquisition. It stops at the first failure; ops applied before the failure
// stay applied. The returned slice has one result per attempted op.
func (pg *Poigo) ApplyBatch(ctx context.Context, ops []Op) ([]OpResult, error) {
	start := time.Now()

	results, err := pg.coordinator.ApplyBatch(ctx, ops)
	err = translateError(err)
	for i := range results {
		results[i].Err = translateError(results[i].Err)
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}

	pg.metrics.RecordBatch(len(ops), failed, time.Since(start))
	pg.logger.LogBatch(ctx, len(ops), failed)
	return results, err
}

// Compact rebuilds the spatial index from the record store, reclaiming space
// left behind by deletes.
func (pg *Poigo) Compact(ctx context.Context) error {
	start := time.Now()

	err := translateError(pg.coordinator.Compact(ctx))

	pg.logger.LogCompact(ctx, time.Since(start), err)
	return err
}

// Len returns the number of indexed records.
func (pg *Poigo) Len(ctx context.Context) (int, error) {
	n, err := pg.coordinator.Len(ctx)
	return n, translateError(err)
}

// Stats returns counters for the in-memory state.
func (pg *Poigo) Stats() engine.Stats {
	return pg.coordinator.Stats()
}

// Close marks the database closed and waits for an in-flight writer.
// Subsequent operations return ErrClosed.
func (pg *Poigo) Close() error {
	if pg == nil {
		return nil
	}
	return pg.coordinator.Close()
}
