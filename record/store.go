package record

import (
	"iter"
	"slices"
	"sync"
)

// Store maps identifiers to their authoritative records.
//
// Implementations must be safe for concurrent use; readers never block
// readers.
type Store interface {
	// Put inserts or fully replaces a record.
	Put(rec Record) error

	// Get retrieves a record by identifier.
	Get(id uint32) (Record, bool)

	// Delete removes a record. Returns ErrNotFound if absent.
	Delete(id uint32) error

	// Len returns the number of stored records.
	Len() int

	// MaxID returns the highest identifier ever stored. Used to seed
	// identifier assignment after loading persisted records.
	MaxID() uint32

	// Scan returns a finite, restartable sequence of records matching pred,
	// in ascending identifier order. A nil pred matches everything. The
	// consumer may stop early by breaking out of the range loop; no side
	// effects result.
	Scan(pred func(Record) bool) iter.Seq[Record]
}

// MemoryStore is the in-memory Store implementation backed by a Go map.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[uint32]Record
	maxID uint32
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[uint32]Record),
	}
}

// Put inserts or fully replaces a record.
func (m *MemoryStore) Put(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[rec.ID] = rec.Clone()
	if rec.ID > m.maxID {
		m.maxID = rec.ID
	}
	return nil
}

// Get retrieves a record by identifier.
func (m *MemoryStore) Get(id uint32) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.data[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Delete removes a record.
func (m *MemoryStore) Delete(id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[id]; !ok {
		return ErrNotFound
	}
	delete(m.data, id)
	return nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// MaxID returns the highest identifier ever stored.
func (m *MemoryStore) MaxID() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxID
}

// Scan returns records matching pred in ascending identifier order.
//
// The identifier set is snapshotted when iteration starts, so the sequence
// is finite and restartable even under concurrent mutation; records deleted
// mid-scan are skipped.
func (m *MemoryStore) Scan(pred func(Record) bool) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		m.mu.RLock()
		ids := make([]uint32, 0, len(m.data))
		for id := range m.data {
			ids = append(ids, id)
		}
		m.mu.RUnlock()

		slices.Sort(ids)

		for _, id := range ids {
			m.mu.RLock()
			rec, ok := m.data[id]
			m.mu.RUnlock()

			if !ok {
				continue
			}
			if pred != nil && !pred(rec) {
				continue
			}
			if !yield(rec.Clone()) {
				return
			}
		}
	}
}
