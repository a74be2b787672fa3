package metadata

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Value
	}{
		{"nil", nil, Null()},
		{"int", 42, Int(42)},
		{"int64", int64(-7), Int(-7)},
		{"float64", 1.5, Float(1.5)},
		{"string", "cafe", String("cafe")},
		{"bool", true, Bool(true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := FromAny([]string{"not", "scalar"})
	assert.Error(t, err)
}

func TestDocumentValidate(t *testing.T) {
	doc := Document{"category": String("restaurant"), "rank": Int(3)}
	assert.NoError(t, doc.Validate())

	assert.Error(t, Document{"": String("x")}.Validate())
	assert.Error(t, Document{"x": {Kind: KindInvalid}}.Validate())
}

func TestDocumentClone(t *testing.T) {
	doc := Document{"a": Int(1)}
	clone := doc.Clone()
	clone["a"] = Int(2)

	assert.Equal(t, Int(1), doc["a"])
	assert.Nil(t, CloneIfNeeded(nil))
	assert.Nil(t, CloneIfNeeded(Document{}))
}

func TestFilterMatches(t *testing.T) {
	doc := Document{
		"category": String("restaurant"),
		"rank":     Int(5),
		"rating":   Float(4.5),
		"open":     Bool(true),
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"EqString", Eq("category", String("restaurant")), true},
		{"EqStringMiss", Eq("category", String("bar")), false},
		{"EqIntFloatCoerce", Eq("rank", Float(5)), true},
		{"Ne", Ne("category", String("bar")), true},
		{"Gt", Gt("rank", Int(4)), true},
		{"GtMiss", Gt("rank", Int(5)), false},
		{"Gte", Gte("rank", Int(5)), true},
		{"Lt", Lt("rating", Float(5)), true},
		{"Lte", Lte("rating", Float(4.5)), true},
		{"In", In("category", String("bar"), String("restaurant")), true},
		{"InMiss", In("category", String("bar"), String("cafe")), false},
		{"Contains", Contains("category", "staur"), true},
		{"ContainsMiss", Contains("category", "museum"), false},
		{"MissingKey", Eq("nope", Int(1)), false},
		{"BoolEq", Eq("open", Bool(true)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(doc))
		})
	}
}

func TestFilterSetMatches(t *testing.T) {
	doc := Document{"category": String("cafe"), "rank": Int(2)}

	assert.True(t, And().Matches(doc))
	assert.True(t, (*FilterSet)(nil).Matches(doc))
	assert.True(t, And(Eq("category", String("cafe")), Lte("rank", Int(2))).Matches(doc))
	assert.False(t, And(Eq("category", String("cafe")), Gt("rank", Int(2))).Matches(doc))
}

func TestIndex(t *testing.T) {
	ix := NewIndex()

	ix.Set(1, Document{"category": String("cafe"), "rank": Int(1)})
	ix.Set(2, Document{"category": String("cafe"), "rank": Int(2)})
	ix.Set(3, Document{"category": String("museum")})

	t.Run("GetSetDelete", func(t *testing.T) {
		doc, ok := ix.Get(1)
		require.True(t, ok)
		assert.Equal(t, String("cafe"), doc["category"])
		assert.Equal(t, 3, ix.Len())
	})

	t.Run("CandidatesEq", func(t *testing.T) {
		bm, exact := ix.Candidates(And(Eq("category", String("cafe"))))
		require.NotNil(t, bm)
		assert.True(t, exact)
		assert.ElementsMatch(t, []uint32{1, 2}, bm.ToArray())
	})

	t.Run("CandidatesIn", func(t *testing.T) {
		bm, exact := ix.Candidates(And(In("category", String("cafe"), String("museum"))))
		require.NotNil(t, bm)
		assert.True(t, exact)
		assert.Equal(t, uint64(3), bm.GetCardinality())
	})

	t.Run("CandidatesConjunction", func(t *testing.T) {
		bm, exact := ix.Candidates(And(
			Eq("category", String("cafe")),
			Eq("rank", Int(2)),
		))
		require.NotNil(t, bm)
		assert.True(t, exact)
		assert.Equal(t, []uint32{2}, bm.ToArray())
	})

	t.Run("CandidatesInexactFallback", func(t *testing.T) {
		bm, exact := ix.Candidates(And(
			Eq("category", String("cafe")),
			Gt("rank", Int(1)),
		))
		require.NotNil(t, bm)
		assert.False(t, exact)
		// The bitmap still narrows to the eq part.
		assert.ElementsMatch(t, []uint32{1, 2}, bm.ToArray())

		assert.True(t, ix.Matches(2, And(Gt("rank", Int(1)))))
		assert.False(t, ix.Matches(1, And(Gt("rank", Int(1)))))
	})

	t.Run("NoFilters", func(t *testing.T) {
		bm, exact := ix.Candidates(nil)
		assert.Nil(t, bm)
		assert.True(t, exact)
	})

	t.Run("Replace", func(t *testing.T) {
		ix.Set(3, Document{"category": String("park")})
		bm, _ := ix.Candidates(And(Eq("category", String("museum"))))
		assert.True(t, bm.IsEmpty())
	})

	t.Run("Delete", func(t *testing.T) {
		ix.Delete(2)
		bm, _ := ix.Candidates(And(Eq("category", String("cafe"))))
		assert.Equal(t, []uint32{1}, bm.ToArray())
		assert.Equal(t, 2, ix.Len())
	})
}

func TestValueKeyStability(t *testing.T) {
	// Keys feed persisted inverted indexes; equal values must collide and
	// different values must not.
	assert.Equal(t, Int(5).Key(), Int(5).Key())
	assert.NotEqual(t, Int(5).Key(), Float(5).Key())
	assert.NotEqual(t, String("1").Key(), Int(1).Key())
	assert.Equal(t, "null", Null().Key())
}

// Equality across numeric kinds: Int(5) and Float(5) compare equal, so they
// must share a posting list and the candidate bitmap must stay exact.
func TestIndexCandidatesNumericKinds(t *testing.T) {
	ix := NewIndex()
	ix.Set(1, Document{"stars": Int(5)})
	ix.Set(2, Document{"stars": Float(5)})
	ix.Set(3, Document{"stars": Float(5.5)})

	t.Run("EqFloatMatchesInt", func(t *testing.T) {
		bm, exact := ix.Candidates(And(Eq("stars", Float(5))))
		require.True(t, exact)
		assert.Equal(t, []uint32{1, 2}, bm.ToArray())
	})

	t.Run("EqIntMatchesIntegralFloat", func(t *testing.T) {
		bm, exact := ix.Candidates(And(Eq("stars", Int(5))))
		require.True(t, exact)
		assert.Equal(t, []uint32{1, 2}, bm.ToArray())
	})

	t.Run("FractionalFloatStaysSeparate", func(t *testing.T) {
		bm, exact := ix.Candidates(And(In("stars", Float(5.5), Int(4))))
		require.True(t, exact)
		assert.Equal(t, []uint32{3}, bm.ToArray())
	})

	t.Run("NaNMatchesNothing", func(t *testing.T) {
		ix.Set(4, Document{"stars": Float(math.NaN())})

		bm, exact := ix.Candidates(And(Eq("stars", Float(math.NaN()))))
		require.True(t, exact)
		assert.True(t, bm.IsEmpty())
	})

	t.Run("DeleteRemovesNormalizedPosting", func(t *testing.T) {
		ix.Delete(2)
		bm, exact := ix.Candidates(And(Eq("stars", Float(5))))
		require.True(t, exact)
		assert.Equal(t, []uint32{1}, bm.ToArray())
	})
}
