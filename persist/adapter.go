// Package persist defines the narrow persistence contract the mutation
// coordinator commits through, plus reference adapters: a no-op adapter, an
// in-memory adapter for tests, and a blob adapter over blobstore backends.
//
// The contract is persist-before-apply: the coordinator calls Persist/Delete
// synchronously inside its commit step, before any in-memory state changes.
// An adapter failure therefore aborts the mutation cleanly and is safe to
// retry.
package persist

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/hupe1980/poigo/record"
)

// Adapter is the durable-storage collaborator of the mutation coordinator.
//
// Implementations must be safe for concurrent use.
type Adapter interface {
	// LoadAll streams every persisted record, in ascending identifier
	// order where the backend allows it. Called once at startup.
	LoadAll(ctx context.Context) iter.Seq2[record.Record, error]

	// Persist durably stores a record (insert or replace).
	Persist(ctx context.Context, rec record.Record) error

	// Delete durably removes a record.
	Delete(ctx context.Context, id uint32) error
}

// Noop is an Adapter that persists nothing. It keeps the coordinator's
// atomicity semantics without durability.
type Noop struct{}

var _ Adapter = Noop{}

// LoadAll yields nothing.
func (Noop) LoadAll(context.Context) iter.Seq2[record.Record, error] {
	return func(func(record.Record, error) bool) {}
}

// Persist does nothing.
func (Noop) Persist(context.Context, record.Record) error { return nil }

// Delete does nothing.
func (Noop) Delete(context.Context, uint32) error { return nil }

// Memory is an in-memory Adapter, mostly for tests.
type Memory struct {
	mu   sync.RWMutex
	data map[uint32]record.Record
}

var _ Adapter = (*Memory)(nil)

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{data: make(map[uint32]record.Record)}
}

// Seed stores records directly, bypassing the coordinator. Useful to set up
// startup-load scenarios in tests.
func (m *Memory) Seed(recs ...record.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		m.data[rec.ID] = rec.Clone()
	}
}

// LoadAll yields all records in ascending identifier order.
func (m *Memory) LoadAll(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		m.mu.RLock()
		ids := make([]uint32, 0, len(m.data))
		for id := range m.data {
			ids = append(ids, id)
		}
		m.mu.RUnlock()

		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(record.Record{}, err)
				return
			}

			m.mu.RLock()
			rec, ok := m.data[id]
			m.mu.RUnlock()
			if !ok {
				continue
			}
			if !yield(rec.Clone(), nil) {
				return
			}
		}
	}
}

// Persist stores a record.
func (m *Memory) Persist(_ context.Context, rec record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[rec.ID] = rec.Clone()
	return nil
}

// Delete removes a record.
func (m *Memory) Delete(_ context.Context, id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

// Len returns the number of persisted records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
