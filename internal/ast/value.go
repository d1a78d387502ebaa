// Package ast holds the typed expression tree and the runtime value model
// shared by the grammar-driven parser and the evaluator.
package ast

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind identifies the variant held by a Value
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInteger
	KindFloat
	KindString
	KindBoolean
)

// String returns the DSL spelling of a ValueKind
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInteger:
		return "INTEGER"
	case KindFloat:
		return "FLOAT"
	case KindString:
		return "STRING"
	case KindBoolean:
		return "BOOLEAN"
	default:
		return "UNKNOWN"
	}
}

// IsNumeric reports whether the kind participates in arithmetic
func (k ValueKind) IsNumeric() bool {
	return k == KindInteger || k == KindFloat
}

// ParseValueKind maps a type name (as written in definitions and CAST
// expressions) to a ValueKind.
func ParseValueKind(name string) (ValueKind, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "INTEGER", "INT":
		return KindInteger, nil
	case "FLOAT", "DECIMAL", "NUMBER":
		return KindFloat, nil
	case "STRING", "TEXT":
		return KindString, nil
	case "BOOLEAN", "BOOL":
		return KindBoolean, nil
	case "NULL":
		return KindNull, nil
	default:
		return KindNull, fmt.Errorf("unknown value type: %s", name)
	}
}

// Value is the runtime value domain. Only the field matching Kind is meaningful.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Str   string
	Bool  bool
}

// Null is the Null value
var Null = Value{Kind: KindNull}

// Int returns an Integer value
func Int(i int64) Value { return Value{Kind: KindInteger, Int: i} }

// Float returns a Float value
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// Str returns a String value
func Str(s string) Value { return Value{Kind: KindString, Str: s} }

// Bool returns a Boolean value
func Bool(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

// IsNull reports whether v is Null
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsFloat returns the numeric value as float64. ok is false for non-numeric kinds.
func (v Value) AsFloat() (f float64, ok bool) {
	switch v.Kind {
	case KindInteger:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// Equal is structural equality: same kind and same payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindInteger:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindString:
		return v.Str == o.Str
	case KindBoolean:
		return v.Bool == o.Bool
	}
	return false
}

// Text returns the value rendered as a plain string, the form used by
// string concatenation. Null renders as the empty string.
func (v Value) Text() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		if math.IsInf(v.Float, 1) {
			return "Inf"
		}
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindString:
		return v.Str
	case KindBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// String renders v as a DSL literal
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindString:
		return strconv.Quote(v.Str)
	case KindBoolean:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	case KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return v.Text()
		}
		s := strconv.FormatFloat(v.Float, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	default:
		return v.Text()
	}
}

// Interface converts the value to a plain Go value, used for JSON output.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindInteger:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.Str
	case KindBoolean:
		return v.Bool
	default:
		return nil
	}
}

// FromInterface converts a decoded JSON value into a Value. Whole numbers
// become Integer values.
func FromInterface(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null, nil
	case bool:
		return Bool(t), nil
	case string:
		return Str(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float64:
		if t == float64(int64(t)) && !strings.ContainsAny(strconv.FormatFloat(t, 'g', -1, 64), "eE.") {
			return Int(int64(t)), nil
		}
		return Float(t), nil
	case jsonNumber:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Null, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Float(f), nil
	default:
		return Null, fmt.Errorf("unsupported fact value of type %T", x)
	}
}

// jsonNumber matches encoding/json.Number without importing encoding/json here.
type jsonNumber interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}
