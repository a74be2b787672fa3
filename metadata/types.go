// Package metadata provides the typed attribute bags attached to POI
// records, the filter model evaluated against them, and a roaring-bitmap
// inverted index for cheap candidate pre-filtering.
//
// Values are a small tagged variant (null/int/float/string/bool). The typed
// model keeps filtering fast and predictable: no reflection and no
// fmt-based stringification. Arbitrary map[string]any input is validated at
// the record-store boundary via FromAny.
package metadata

import (
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindNull represents a null value.
	KindNull
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a float value.
	KindFloat
	// KindString represents a string value.
	KindString
	// KindBool represents a boolean value.
	KindBool
)

// Value is a small typed scalar used for record attributes and filters.
//
// NOTE: This is also used for persistence; keep it stable.
type Value struct {
	Kind Kind    `json:"k"`
	I64  int64   `json:"i,omitempty"`
	F64  float64 `json:"f,omitempty"`
	S    string  `json:"s,omitempty"`
	B    bool    `json:"b,omitempty"`
}

// Null returns a null Value.
func Null() Value { return Value{Kind: KindNull} }

// Int returns an int64 Value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a float64 Value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, S: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// FromAny converts a dynamically typed scalar into a Value. It is the
// validation boundary for attribute bags: anything that is not a supported
// scalar is rejected.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case Value:
		if x.Kind == KindInvalid || x.Kind > KindBool {
			return Value{}, fmt.Errorf("invalid metadata value")
		}
		return x, nil
	default:
		return Value{}, fmt.Errorf("unsupported metadata value type %T", v)
	}
}

// AsInt64 returns the int64 value if Kind is KindInt.
func (v Value) AsInt64() (int64, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.I64, true
}

// AsFloat64 returns the float64 value if Kind is KindFloat.
func (v Value) AsFloat64() (float64, bool) {
	if v.Kind != KindFloat {
		return 0, false
	}
	return v.F64, true
}

// AsString returns the string value if Kind is KindString.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.S, true
}

// AsBool returns the boolean value if Kind is KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.B, true
}

// Key returns a stable string representation for use in inverted indexes.
// It must remain stable across versions for persisted metadata usage.
func (v Value) Key() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return "i:" + strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return "f:" + strconv.FormatUint(math.Float64bits(v.F64), 16)
	case KindString:
		return "s:" + v.S
	case KindBool:
		if v.B {
			return "b:1"
		}
		return "b:0"
	default:
		return "invalid"
	}
}

// Document is a typed attribute document.
type Document map[string]Value

// Validate rejects documents containing invalid values or empty keys.
func (d Document) Validate() error {
	for k, v := range d {
		if k == "" {
			return fmt.Errorf("empty attribute key")
		}
		if v.Kind == KindInvalid || v.Kind > KindBool {
			return fmt.Errorf("attribute %q has invalid value kind %d", k, v.Kind)
		}
	}
	return nil
}

// Clone creates a copy of the document. Scalar values copy by value, so the
// clone is fully independent of the original. This is the safe default to
// prevent external mutation after insert.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	clone := make(Document, len(d))
	for k, v := range d {
		clone[k] = v
	}
	return clone
}

// CloneIfNeeded clones a document only if it is non-empty, avoiding an
// allocation for the common empty case.
func CloneIfNeeded(d Document) Document {
	if len(d) == 0 {
		return nil
	}
	return d.Clone()
}

// DocumentFromAny validates and converts a map[string]any into a Document.
func DocumentFromAny(m map[string]any) (Document, error) {
	if m == nil {
		return nil, nil
	}
	doc := make(Document, len(m))
	for k, raw := range m {
		if k == "" {
			return nil, fmt.Errorf("empty attribute key")
		}
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		doc[k] = v
	}
	return doc, nil
}
