// Package engine coordinates the record store, the spatial index, and the
// attribute index behind a single-writer mutation path, and plans spatial
// queries across them.
//
// Mutations follow persist-before-apply: the persistence adapter commits
// first, then the record store, then the spatial index; an index failure
// rolls the record store back. Readers never take the writer lock — the
// underlying structures are individually RWMutex-guarded.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/poigo/geo"
	"github.com/hupe1980/poigo/metadata"
	"github.com/hupe1980/poigo/persist"
	"github.com/hupe1980/poigo/record"
	"github.com/hupe1980/poigo/rtree"
)

// Options configure a Coordinator.
type Options struct {
	// Distance selects the distance model shared by index and queries.
	Distance geo.DistanceFunc

	// NodeCapacity is the spatial index node capacity (min 4).
	NodeCapacity int

	// LockTimeout bounds the wait for the writer lock. Zero or negative
	// disables the bound; mutations then wait for the caller's context.
	LockTimeout time.Duration

	// Adapter is the durable persistence collaborator.
	Adapter persist.Adapter

	// Logger receives operational events (record inconsistencies,
	// rollback failures).
	Logger *slog.Logger
}

// DefaultOptions are the coordinator defaults.
var DefaultOptions = Options{
	Distance:     geo.Haversine,
	NodeCapacity: rtree.DefaultOptions.Capacity,
	LockTimeout:  5 * time.Second,
	Adapter:      persist.Noop{},
}

// Coordinator owns the in-memory state and serializes mutations.
type Coordinator struct {
	store record.Store
	tree  *rtree.Tree
	meta  *metadata.Index

	adapter persist.Adapter
	logger  *slog.Logger

	writeSem    *semaphore.Weighted
	lockTimeout time.Duration

	nextID atomic.Uint32

	loadMu sync.Mutex
	loaded atomic.Bool

	closed atomic.Bool
}

// New creates a Coordinator. Persisted records are loaded lazily on first
// use, so construction never touches the adapter.
func New(optFns ...func(o *Options)) (*Coordinator, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.NodeCapacity != 0 && opts.NodeCapacity < 4 {
		return nil, fmt.Errorf("node capacity must be at least 4, got %d", opts.NodeCapacity)
	}
	if opts.Distance == nil {
		opts.Distance = geo.Haversine
	}
	if opts.Adapter == nil {
		opts.Adapter = persist.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	tree := rtree.New(func(o *rtree.Options) {
		if opts.NodeCapacity != 0 {
			o.Capacity = opts.NodeCapacity
		}
		o.Distance = opts.Distance
	})

	return &Coordinator{
		store:       record.NewMemoryStore(),
		tree:        tree,
		meta:        metadata.NewIndex(),
		adapter:     opts.Adapter,
		logger:      opts.Logger,
		writeSem:    semaphore.NewWeighted(1),
		lockTimeout: opts.LockTimeout,
	}, nil
}

// Len returns the number of indexed records.
func (c *Coordinator) Len(ctx context.Context) (int, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	return c.store.Len(), nil
}

// Stats describes the coordinator state.
type Stats struct {
	Records int
	Index   rtree.Stats
}

// Stats returns counters for the in-memory state.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Records: c.store.Len(),
		Index:   c.tree.Stats(),
	}
}

// Close marks the coordinator closed and waits for an in-flight writer.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Drain the writer so no mutation is mid-commit after Close returns.
	if err := c.writeSem.Acquire(context.Background(), 1); err == nil {
		c.writeSem.Release(1)
	}
	return nil
}

// acquireWrite takes the writer lock, bounded by the lock timeout. A bound
// exceeded while the caller's context is still live maps to ErrLockTimeout.
func (c *Coordinator) acquireWrite(ctx context.Context) error {
	lockCtx := ctx
	if c.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, c.lockTimeout)
		defer cancel()
	}

	if err := c.writeSem.Acquire(lockCtx, 1); err != nil {
		if ctx.Err() == nil {
			return ErrLockTimeout
		}
		return ctx.Err()
	}
	return nil
}

// ensureLoaded populates the in-memory state from the adapter, once.
func (c *Coordinator) ensureLoaded(ctx context.Context) error {
	if c.loaded.Load() {
		return nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if c.loaded.Load() {
		return nil
	}

	var maxID uint32
	for rec, err := range c.adapter.LoadAll(ctx) {
		if err != nil {
			return &PersistenceError{Op: "load", Err: err}
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("load record %d: %w", rec.ID, err)
		}

		if err := c.store.Put(rec); err != nil {
			return fmt.Errorf("load record %d: %w", rec.ID, err)
		}
		if err := c.tree.Insert(rec.ID, rec.BoundingBox()); err != nil {
			return fmt.Errorf("load record %d: %w", rec.ID, err)
		}
		c.meta.Set(rec.ID, rec.Attributes)

		if rec.ID > maxID {
			maxID = rec.ID
		}
	}

	c.nextID.Store(maxID)
	c.loaded.Store(true)
	return nil
}

// Insert adds a record. A zero rec.ID gets a fresh identifier; a non-zero
// one is honored if free. The stored record has Revision 1. Returns the
// assigned identifier.
func (c *Coordinator) Insert(ctx context.Context, rec record.Record) (uint32, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if err := rec.Validate(); err != nil {
		return 0, err
	}

	if err := c.acquireWrite(ctx); err != nil {
		return 0, err
	}
	defer c.writeSem.Release(1)

	if err := c.ensureLoaded(ctx); err != nil {
		return 0, err
	}

	return c.insertLocked(ctx, rec)
}

func (c *Coordinator) insertLocked(ctx context.Context, rec record.Record) (uint32, error) {
	if rec.ID == 0 {
		rec.ID = c.nextID.Add(1)
	} else {
		if _, ok := c.store.Get(rec.ID); ok {
			return 0, fmt.Errorf("%w: id %d", ErrAlreadyExists, rec.ID)
		}
		// Keep the counter ahead of explicit identifiers.
		for {
			cur := c.nextID.Load()
			if rec.ID <= cur || c.nextID.CompareAndSwap(cur, rec.ID) {
				break
			}
		}
	}
	rec.Revision = 1

	if err := c.adapter.Persist(ctx, rec); err != nil {
		return 0, &PersistenceError{Op: "persist", ID: rec.ID, Err: err}
	}

	if err := c.store.Put(rec); err != nil {
		c.rollbackPersist(ctx, "insert", rec.ID, nil)
		return 0, err
	}
	if err := c.tree.Insert(rec.ID, rec.BoundingBox()); err != nil {
		_ = c.store.Delete(rec.ID)
		c.rollbackPersist(ctx, "insert", rec.ID, nil)
		return 0, err
	}
	c.meta.Set(rec.ID, rec.Attributes)

	return rec.ID, nil
}

// Update replaces the content of an existing record. The revision is bumped;
// a geometry change relocates the record in the spatial index, while a
// same-geometry update leaves the tree untouched.
func (c *Coordinator) Update(ctx context.Context, id uint32, rec record.Record) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	if err := c.acquireWrite(ctx); err != nil {
		return err
	}
	defer c.writeSem.Release(1)

	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	return c.updateLocked(ctx, id, rec)
}

func (c *Coordinator) updateLocked(ctx context.Context, id uint32, rec record.Record) error {
	prev, ok := c.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	rec.ID = id
	rec.Revision = prev.Revision + 1

	if err := c.adapter.Persist(ctx, rec); err != nil {
		return &PersistenceError{Op: "persist", ID: id, Err: err}
	}

	if err := c.store.Put(rec); err != nil {
		c.rollbackPersist(ctx, "update", id, &prev)
		return err
	}
	if err := c.tree.Update(id, rec.BoundingBox()); err != nil {
		_ = c.store.Put(prev)
		c.rollbackPersist(ctx, "update", id, &prev)
		return err
	}
	c.meta.Set(id, rec.Attributes)

	return nil
}

// Delete removes a record.
func (c *Coordinator) Delete(ctx context.Context, id uint32) error {
	if c.closed.Load() {
		return ErrClosed
	}

	if err := c.acquireWrite(ctx); err != nil {
		return err
	}
	defer c.writeSem.Release(1)

	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	return c.deleteLocked(ctx, id)
}

func (c *Coordinator) deleteLocked(ctx context.Context, id uint32) error {
	prev, ok := c.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	if err := c.adapter.Delete(ctx, id); err != nil {
		return &PersistenceError{Op: "delete", ID: id, Err: err}
	}

	if err := c.tree.Delete(id); err != nil {
		c.rollbackPersist(ctx, "delete", id, &prev)
		return err
	}
	_ = c.store.Delete(id)
	c.meta.Delete(id)

	return nil
}

// rollbackPersist restores (or removes) the durable copy after an in-memory
// apply failed. prev nil means the durable copy must be removed. Rollback
// failures are logged, not returned: the mutation error is authoritative.
func (c *Coordinator) rollbackPersist(ctx context.Context, op string, id uint32, prev *record.Record) {
	var err error
	if prev == nil {
		err = c.adapter.Delete(ctx, id)
	} else {
		err = c.adapter.Persist(ctx, *prev)
	}
	if err != nil {
		c.logger.Warn("persistence rollback failed",
			slog.String("op", op),
			slog.Uint64("id", uint64(id)),
			slog.String("error", err.Error()),
		)
	}
}

// ApplyBatch applies ops in submission order under a single writer lock
// acquisition. It stops at the first failure; ops applied before the failure
// stay applied. The returned slice has one result per attempted op.
func (c *Coordinator) ApplyBatch(ctx context.Context, ops []Op) ([]OpResult, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	if err := c.acquireWrite(ctx); err != nil {
		return nil, err
	}
	defer c.writeSem.Release(1)

	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	results := make([]OpResult, 0, len(ops))
	for _, op := range ops {
		var res OpResult

		switch op.Kind {
		case OpInsert:
			if err := op.Record.Validate(); err != nil {
				res.Err = err
			} else {
				res.ID, res.Err = c.insertLocked(ctx, op.Record)
			}
		case OpUpdate:
			res.ID = op.ID
			if err := op.Record.Validate(); err != nil {
				res.Err = err
			} else {
				res.Err = c.updateLocked(ctx, op.ID, op.Record)
			}
		case OpDelete:
			res.ID = op.ID
			res.Err = c.deleteLocked(ctx, op.ID)
		default:
			res.Err = fmt.Errorf("unknown op kind %d", op.Kind)
		}

		results = append(results, res)
		if res.Err != nil {
			return results, res.Err
		}
	}

	return results, nil
}

// Compact rebuilds the spatial index from the record store, reclaiming arena
// slack left behind by deletes. This is the only global rebuild.
func (c *Coordinator) Compact(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	if err := c.acquireWrite(ctx); err != nil {
		return err
	}
	defer c.writeSem.Release(1)

	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	items := make([]rtree.Item, 0, c.store.Len())
	for rec := range c.store.Scan(nil) {
		items = append(items, rtree.Item{ID: rec.ID, Box: rec.BoundingBox()})
	}

	c.tree.Rebuild(items)
	return nil
}
