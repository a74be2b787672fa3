package metadata

import "strings"

// Operator represents a comparison operator for filtering.
type Operator string

const (
	// OpEqual matches values that compare equal.
	OpEqual Operator = "eq"
	// OpNotEqual matches values that do not compare equal.
	OpNotEqual Operator = "ne"
	// OpGreaterThan matches numeric values strictly greater.
	OpGreaterThan Operator = "gt"
	// OpGreaterEqual matches numeric values greater or equal.
	OpGreaterEqual Operator = "gte"
	// OpLessThan matches numeric values strictly less.
	OpLessThan Operator = "lt"
	// OpLessEqual matches numeric values less or equal.
	OpLessEqual Operator = "lte"
	// OpIn matches values equal to any of the filter's value set.
	OpIn Operator = "in"
	// OpContains matches string values containing the filter string.
	OpContains Operator = "contains"
)

// Filter is a single attribute condition.
type Filter struct {
	Key      string
	Operator Operator
	Value    Value
	// Values is the candidate set for OpIn.
	Values []Value
}

// FilterSet is a conjunction of filters (AND logic).
type FilterSet struct {
	Filters []Filter
}

// Eq returns an equality filter.
func Eq(key string, value Value) Filter {
	return Filter{Key: key, Operator: OpEqual, Value: value}
}

// Ne returns an inequality filter.
func Ne(key string, value Value) Filter {
	return Filter{Key: key, Operator: OpNotEqual, Value: value}
}

// Gt returns a greater-than filter.
func Gt(key string, value Value) Filter {
	return Filter{Key: key, Operator: OpGreaterThan, Value: value}
}

// Gte returns a greater-or-equal filter.
func Gte(key string, value Value) Filter {
	return Filter{Key: key, Operator: OpGreaterEqual, Value: value}
}

// Lt returns a less-than filter.
func Lt(key string, value Value) Filter {
	return Filter{Key: key, Operator: OpLessThan, Value: value}
}

// Lte returns a less-or-equal filter.
func Lte(key string, value Value) Filter {
	return Filter{Key: key, Operator: OpLessEqual, Value: value}
}

// In returns a set-membership filter.
func In(key string, values ...Value) Filter {
	return Filter{Key: key, Operator: OpIn, Values: values}
}

// Contains returns a substring filter.
func Contains(key string, substr string) Filter {
	return Filter{Key: key, Operator: OpContains, Value: String(substr)}
}

// And combines filters into a FilterSet.
func And(filters ...Filter) *FilterSet {
	return &FilterSet{Filters: filters}
}

// Matches checks if the provided document matches this filter.
func (f *Filter) Matches(doc Document) bool {
	value, exists := doc[f.Key]
	if !exists {
		return false
	}

	switch f.Operator {
	case OpEqual:
		return compareEqual(value, f.Value)
	case OpNotEqual:
		return !compareEqual(value, f.Value)
	case OpGreaterThan:
		return compareGreater(value, f.Value)
	case OpGreaterEqual:
		return compareGreater(value, f.Value) || compareEqual(value, f.Value)
	case OpLessThan:
		return compareLess(value, f.Value)
	case OpLessEqual:
		return compareLess(value, f.Value) || compareEqual(value, f.Value)
	case OpIn:
		for _, candidate := range f.Values {
			if compareEqual(value, candidate) {
				return true
			}
		}
		return false
	case OpContains:
		return value.Kind == KindString && f.Value.Kind == KindString &&
			strings.Contains(value.S, f.Value.S)
	default:
		return false
	}
}

// Matches checks if the provided document matches all filters in the set.
// A nil or empty set matches everything.
func (fs *FilterSet) Matches(doc Document) bool {
	if fs == nil {
		return true
	}
	for i := range fs.Filters {
		if !fs.Filters[i].Matches(doc) {
			return false
		}
	}
	return true
}

func compareEqual(a, b Value) bool {
	if a.Kind == KindNull && b.Kind == KindNull {
		return true
	}
	if a.Kind == KindNull || b.Kind == KindNull {
		return false
	}

	if isNumber(a) && isNumber(b) {
		// Prefer exact int compare when possible.
		if a.Kind == KindInt && b.Kind == KindInt {
			return a.I64 == b.I64
		}
		return asFloat64(a) == asFloat64(b)
	}

	if a.Kind != b.Kind {
		return false
	}

	switch a.Kind {
	case KindString:
		return a.S == b.S
	case KindBool:
		return a.B == b.B
	default:
		return false
	}
}

func compareGreater(a, b Value) bool {
	if !isNumber(a) || !isNumber(b) {
		return false
	}
	return asFloat64(a) > asFloat64(b)
}

func compareLess(a, b Value) bool {
	if !isNumber(a) || !isNumber(b) {
		return false
	}
	return asFloat64(a) < asFloat64(b)
}

func isNumber(v Value) bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

func asFloat64(v Value) float64 {
	if v.Kind == KindInt {
		return float64(v.I64)
	}
	return v.F64
}
