package metadata

import (
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Index combines attribute storage with an inverted index backed by Roaring
// Bitmaps. The query engine uses it to pre-filter candidate identifiers for
// equality-shaped filters before hydrating records.
//
// Structure: field -> value key -> bitmap of record identifiers. Range and
// substring operators are not indexable here and fall back to per-document
// matching.
type Index struct {
	mu sync.RWMutex

	documents map[uint32]Document
	inverted  map[string]map[string]*roaring.Bitmap
}

// NewIndex creates an empty attribute index.
func NewIndex() *Index {
	return &Index{
		documents: make(map[uint32]Document),
		inverted:  make(map[string]map[string]*roaring.Bitmap),
	}
}

// Set stores the document for an identifier, replacing any previous one.
func (ix *Index) Set(id uint32, doc Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.documents[id]; ok {
		ix.removeLocked(id, old)
	}
	if doc == nil {
		delete(ix.documents, id)
		return
	}

	ix.documents[id] = doc
	for key, value := range doc {
		valueMap, ok := ix.inverted[key]
		if !ok {
			valueMap = make(map[string]*roaring.Bitmap)
			ix.inverted[key] = valueMap
		}
		vk := postingKey(value)
		bm, ok := valueMap[vk]
		if !ok {
			bm = roaring.New()
			valueMap[vk] = bm
		}
		bm.Add(id)
	}
}

// Get retrieves the document for an identifier.
func (ix *Index) Get(id uint32) (Document, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	doc, ok := ix.documents[id]
	return doc, ok
}

// Delete removes the document for an identifier.
func (ix *Index) Delete(id uint32) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if doc, ok := ix.documents[id]; ok {
		ix.removeLocked(id, doc)
	}
	delete(ix.documents, id)
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.documents)
}

// Matches evaluates the filter set against the stored document for id.
// Identifiers without a stored document match only the empty set.
func (ix *Index) Matches(id uint32, fs *FilterSet) bool {
	if fs == nil || len(fs.Filters) == 0 {
		return true
	}

	ix.mu.RLock()
	doc := ix.documents[id]
	ix.mu.RUnlock()

	return fs.Matches(doc)
}

// Candidates compiles the indexable part of the filter set into a bitmap of
// identifiers. The second return value reports whether the bitmap is exact:
// if false, the set contains non-indexable operators and callers must still
// evaluate Matches per identifier.
//
// An empty or nil filter set returns (nil, true), meaning "no restriction".
func (ix *Index) Candidates(fs *FilterSet) (*roaring.Bitmap, bool) {
	if fs == nil || len(fs.Filters) == 0 {
		return nil, true
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var result *roaring.Bitmap
	exact := true

	for i := range fs.Filters {
		f := &fs.Filters[i]

		var bm *roaring.Bitmap
		switch f.Operator {
		case OpEqual:
			// NaN never compares equal, not even to itself.
			if !isNaNValue(f.Value) {
				bm = ix.lookupLocked(f.Key, f.Value)
			}
		case OpIn:
			bm = roaring.New()
			for _, v := range f.Values {
				if isNaNValue(v) {
					continue
				}
				if hit := ix.lookupLocked(f.Key, v); hit != nil {
					bm.Or(hit)
				}
			}
		default:
			exact = false
			continue
		}

		if bm == nil {
			bm = roaring.New()
		}
		if result == nil {
			result = bm.Clone()
		} else {
			result.And(bm)
		}
	}

	return result, exact
}

func (ix *Index) lookupLocked(key string, value Value) *roaring.Bitmap {
	valueMap, ok := ix.inverted[key]
	if !ok {
		return nil
	}
	return valueMap[postingKey(value)]
}

// postingKey returns the inverted-index key for a value. Integral floats
// share the posting list of the equal int, matching compareEqual's
// cross-kind numeric equality.
func postingKey(v Value) string {
	if v.Kind == KindFloat && v.F64 == math.Trunc(v.F64) &&
		v.F64 >= math.MinInt64 && v.F64 < math.MaxInt64 {
		return Int(int64(v.F64)).Key()
	}
	return v.Key()
}

func isNaNValue(v Value) bool {
	return v.Kind == KindFloat && math.IsNaN(v.F64)
}

// removeLocked drops id from all posting lists of doc. Caller holds ix.mu.
func (ix *Index) removeLocked(id uint32, doc Document) {
	for key, value := range doc {
		valueMap, ok := ix.inverted[key]
		if !ok {
			continue
		}
		vk := postingKey(value)
		if bm, ok := valueMap[vk]; ok {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(valueMap, vk)
			}
		}
		if len(valueMap) == 0 {
			delete(ix.inverted, key)
		}
	}
}
