package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/poigo/geo"
	"github.com/hupe1980/poigo/metadata"
)

func testRecord(id uint32, name string) Record {
	return Record{
		ID:       id,
		Name:     name,
		Category: "cafe",
		Geometry: geo.NewPoint(52.52, 13.405),
		Attributes: metadata.Document{
			"cuisine": metadata.String("espresso"),
		},
		Revision: 1,
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	// 1. Put + Get
	require.NoError(t, s.Put(testRecord(1, "Kaffeemitte")))
	require.NoError(t, s.Put(testRecord(3, "Barn")))

	rec, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "Kaffeemitte", rec.Name)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, uint32(3), s.MaxID())

	// 2. Replace keeps a single entry
	replaced := testRecord(1, "Kaffeemitte Neu")
	replaced.Revision = 2
	require.NoError(t, s.Put(replaced))
	rec, _ = s.Get(1)
	assert.Equal(t, uint64(2), rec.Revision)
	assert.Equal(t, 2, s.Len())

	// 3. Delete
	require.NoError(t, s.Delete(3))
	_, ok = s.Get(3)
	assert.False(t, ok)
	assert.ErrorIs(t, s.Delete(3), ErrNotFound)

	// MaxID is sticky across deletes so identifiers are never reused.
	assert.Equal(t, uint32(3), s.MaxID())
}

func TestMemoryStoreIsolation(t *testing.T) {
	s := NewMemoryStore()
	original := testRecord(1, "Original")
	require.NoError(t, s.Put(original))

	// Mutating the caller's copy must not leak into the store.
	original.Attributes["cuisine"] = metadata.String("tea")
	rec, _ := s.Get(1)
	assert.Equal(t, metadata.String("espresso"), rec.Attributes["cuisine"])

	// Mutating a returned copy must not leak either.
	rec.Attributes["cuisine"] = metadata.String("tea")
	again, _ := s.Get(1)
	assert.Equal(t, metadata.String("espresso"), again.Attributes["cuisine"])
}

func TestMemoryStoreScan(t *testing.T) {
	s := NewMemoryStore()
	for _, id := range []uint32{5, 1, 3, 2, 4} {
		require.NoError(t, s.Put(testRecord(id, "poi")))
	}

	t.Run("AscendingOrder", func(t *testing.T) {
		var ids []uint32
		for rec := range s.Scan(nil) {
			ids = append(ids, rec.ID)
		}
		assert.Equal(t, []uint32{1, 2, 3, 4, 5}, ids)
	})

	t.Run("Predicate", func(t *testing.T) {
		count := 0
		for range s.Scan(func(r Record) bool { return r.ID%2 == 0 }) {
			count++
		}
		assert.Equal(t, 2, count)
	})

	t.Run("Restartable", func(t *testing.T) {
		seq := s.Scan(nil)
		first, second := 0, 0
		for range seq {
			first++
		}
		for range seq {
			second++
		}
		assert.Equal(t, first, second)
	})

	t.Run("EarlyTermination", func(t *testing.T) {
		seen := 0
		for range s.Scan(nil) {
			seen++
			if seen == 2 {
				break
			}
		}
		assert.Equal(t, 2, seen)
		assert.Equal(t, 5, s.Len())
	})
}

func TestRecordValidate(t *testing.T) {
	rec := testRecord(1, "ok")
	assert.NoError(t, rec.Validate())

	rec.Geometry = geo.NewPoint(99, 0)
	assert.ErrorIs(t, rec.Validate(), geo.ErrInvalidGeometry)

	rec = testRecord(1, "bad attrs")
	rec.Attributes = metadata.Document{"": metadata.Int(1)}
	assert.Error(t, rec.Validate())
}
