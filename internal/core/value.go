package core

import (
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Kind tags the payload carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	default:
		return "null"
	}
}

// SemanticType maps a value kind to the column type that stores it.
// Null has no type of its own and maps to string.
func (k Kind) SemanticType() SemanticType {
	switch k {
	case KindNumber:
		return TypeNumber
	case KindBool:
		return TypeBoolean
	case KindDate:
		return TypeDate
	default:
		return TypeString
	}
}

// Value is a dynamically typed cell: absent, string, number, boolean or date.
// The zero Value is null.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	t    time.Time
}

func Null() Value { return Value{} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, n: n} }
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }
func DateValue(t time.Time) Value { return Value{kind: KindDate, t: t.UTC()} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Str() string { return v.s }
func (v Value) Number() float64 { return v.n }
func (v Value) Bool() bool { return v.b }
func (v Value) Time() time.Time { return v.t }

// Text renders the value in its canonical textual form. Dates render as
// YYYY-MM-DD at midnight UTC and RFC 3339 otherwise.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDate:
		return FormatDate(v.t)
	default:
		return ""
	}
}

// Interface returns the value as a plain Go value (nil, string, float64, bool or time.Time).
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	case KindDate:
		return v.t
	default:
		return nil
	}
}

// Equal compares two values. A date equals a string holding its canonical text.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		if (v.kind == KindDate && o.kind == KindString) || (v.kind == KindString && o.kind == KindDate) {
			return v.Text() == o.Text()
		}
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	case KindDate:
		return v.t.Equal(o.t)
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString, KindDate:
		return json.Marshal(v.Text())
	case KindNumber:
		return json.Marshal(v.n)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// MarshalYAML mirrors MarshalJSON so CLI output matches the API.
func (v Value) MarshalYAML() (any, error) {
	switch v.kind {
	case KindString, KindDate:
		return v.Text(), nil
	case KindNumber:
		return v.n, nil
	case KindBool:
		return v.b, nil
	default:
		return nil, nil
	}
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "null"
	}
	return v.Text()
}

// FormatDate renders a date canonically.
func FormatDate(t time.Time) string {
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339Nano)
}

type float64er interface {
	Float64() (float64, error)
}

// ValueOf converts a plain Go scalar into a Value. Nested values and
// non-finite numbers are rejected.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case time.Time:
		return DateValue(t), nil
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		f, _ := integer(t)
		return NumberValue(f), nil
	case float64er:
		f, err := t.Float64()
		if err != nil {
			return Value{}, ErrValidation("invalid number %v", t)
		}
		return finite(f)
	default:
		return Value{}, ErrValidation("unsupported value of type %T: nested values are not allowed", x)
	}
}

// integer widens any built-in integer kind to float64.
func integer(x any) (float64, bool) {
	switch t := x.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	}
	return 0, false
}

func finite(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, ErrValidation("invalid number %v", f)
	}
	return NumberValue(f), nil
}
