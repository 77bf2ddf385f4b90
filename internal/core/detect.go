package core

// detect.go classifies raw cell values into semantic types and converts
// values into the type a column committed to.
//
// Detection order matters: booleans and numbers are checked before dates,
// so "0" and "1" are numbers and "true"/"false" never reach the numeric or
// date checks. Anything unrecognised falls back to string; detection has no
// error path.

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// numericRegex validates that a string is a plain decimal or scientific number.
// It rejects forms ParseFloat would accept but a spreadsheet user would not
// mean as numbers (hex, "Inf", "NaN", digit separators).
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// datePrefixRegex gates date parsing to the three accepted shapes:
// YYYY-MM-DD..., MM/DD/YYYY..., MM-DD-YYYY...
var datePrefixRegex = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}|\d{2}/\d{2}/\d{4}|\d{2}-\d{2}-\d{4})`)

// dateLayouts are tried in order once the prefix matched.
var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.DateTime,
	"2006-01-02 15:04",
	"01/02/2006",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01-02-2006",
	"01-02-2006 15:04:05",
	"01-02-2006 15:04",
}

// Detect classifies a single raw value.
func Detect(raw any) SemanticType {
	switch v := raw.(type) {
	case nil:
		return TypeString
	case bool:
		return TypeBoolean
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeNumber
	case time.Time:
		return TypeDate
	case Value:
		if v.IsNull() {
			return TypeString
		}
		if v.Kind() != KindString {
			return v.Kind().SemanticType()
		}
		return detectText(v.Str())
	case string:
		return detectText(v)
	default:
		return TypeString
	}
}

func detectText(s string) SemanticType {
	if s == "" {
		return TypeString
	}
	if s == "true" || s == "false" {
		return TypeBoolean
	}
	if _, ok := ParseNumber(s); ok {
		return TypeNumber
	}
	if _, ok := ParseDate(s); ok {
		return TypeDate
	}
	return TypeString
}

// ParseNumber parses text that is entirely a finite number.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseDate parses text in one of the accepted date shapes into a valid
// calendar date. Impossible dates such as 2024-02-30 are rejected.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if !datePrefixRegex.MatchString(s) {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseBool accepts only the exact literals "true" and "false".
func ParseBool(s string) (bool, bool) {
	switch s {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

// Convert coerces v into column type t. Null and empty strings become null.
// The second result is false when v cannot be represented in t.
func Convert(v Value, t SemanticType) (Value, bool) {
	if v.IsNull() || (v.Kind() == KindString && v.Str() == "") {
		return Null(), true
	}

	switch t {
	case TypeNumber:
		switch v.Kind() {
		case KindNumber:
			return v, true
		case KindString:
			if f, ok := ParseNumber(v.Str()); ok {
				return NumberValue(f), true
			}
		}
	case TypeBoolean:
		switch v.Kind() {
		case KindBool:
			return v, true
		case KindString:
			if b, ok := ParseBool(v.Str()); ok {
				return BoolValue(b), true
			}
		}
	case TypeDate:
		switch v.Kind() {
		case KindDate:
			return v, true
		case KindString:
			if d, ok := ParseDate(v.Str()); ok {
				return DateValue(d), true
			}
		}
	default:
		if v.Kind() == KindString {
			return v, true
		}
		return StringValue(v.Text()), true
	}
	return Null(), false
}
