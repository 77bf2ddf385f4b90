package core

import (
	"testing"
	"time"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  SemanticType
	}{
		{"nil is string", nil, TypeString},
		{"empty is string", "", TypeString},
		{"bool literal", true, TypeBoolean},
		{"true text", "true", TypeBoolean},
		{"false text", "false", TypeBoolean},
		{"True is case sensitive", "True", TypeString},
		{"integer", "30", TypeNumber},
		{"int8", int8(-3), TypeNumber},
		{"int16", int16(300), TypeNumber},
		{"uint", uint(7), TypeNumber},
		{"uint16", uint16(7), TypeNumber},
		{"uint32", uint32(7), TypeNumber},
		{"zero is number not date", "0", TypeNumber},
		{"one is number", "1", TypeNumber},
		{"negative decimal", "-4.5", TypeNumber},
		{"leading dot", ".5", TypeNumber},
		{"scientific", "1e3", TypeNumber},
		{"padded number", " 42 ", TypeNumber},
		{"float value", 3.14, TypeNumber},
		{"int value", 7, TypeNumber},
		{"NaN text is string", "NaN", TypeString},
		{"Infinity text is string", "Infinity", TypeString},
		{"hex is string", "0x1F", TypeString},
		{"currency is string", "$100", TypeString},
		{"iso date", "2024-01-15", TypeDate},
		{"iso datetime", "2024-01-15T10:30:00Z", TypeDate},
		{"iso datetime with space", "2024-01-15 10:30:00", TypeDate},
		{"us slash date", "01/15/2024", TypeDate},
		{"us dash date", "01-15-2024", TypeDate},
		{"impossible date", "2024-02-30", TypeString},
		{"month 13", "13/01/2024", TypeString},
		{"date prefix with junk", "2024-01-15abc", TypeString},
		{"time value", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), TypeDate},
		{"free text", "Alice", TypeString},
		{"typed null value", Null(), TypeString},
		{"typed string value is detected", StringValue("12"), TypeNumber},
		{"typed bool value", BoolValue(false), TypeBoolean},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.input); got != tt.want {
				t.Errorf("Detect(%#v) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"2024-01-15", "2024-01-15", true},
		{"01/15/2024", "2024-01-15", true},
		{"12-31-1999", "1999-12-31", true},
		{"2024-01-15T10:30:00Z", "2024-01-15T10:30:00Z", true},
		{"2024-01-15T10:30:00+02:00", "2024-01-15T08:30:00Z", true},
		{"2024-01-15 10:30", "2024-01-15T10:30:00Z", true},
		{"2023-02-29", "", false},
		{"15.01.2024", "", false},
		{"Jan 15, 2024", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if ok != tt.ok {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && FormatDate(got) != tt.want {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.input, FormatDate(got), tt.want)
			}
		})
	}
}

func TestConvert(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		in     Value
		typ    SemanticType
		want   Value
		wantOK bool
	}{
		{"empty to null", StringValue(""), TypeNumber, Null(), true},
		{"null stays null", Null(), TypeDate, Null(), true},
		{"numeric text", StringValue("30"), TypeNumber, NumberValue(30), true},
		{"number passthrough", NumberValue(2.5), TypeNumber, NumberValue(2.5), true},
		{"bool into number fails", BoolValue(true), TypeNumber, Null(), false},
		{"text into number fails", StringValue("abc"), TypeNumber, Null(), false},
		{"bool text", StringValue("false"), TypeBoolean, BoolValue(false), true},
		{"yes is not boolean", StringValue("yes"), TypeBoolean, Null(), false},
		{"date text", StringValue("01/15/2024"), TypeDate, DateValue(day), true},
		{"bad date", StringValue("soon"), TypeDate, Null(), false},
		{"number into string", NumberValue(30), TypeString, StringValue("30"), true},
		{"bool into string", BoolValue(true), TypeString, StringValue("true"), true},
		{"string unchanged", StringValue(" x "), TypeString, StringValue(" x "), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Convert(tt.in, tt.typ)
			if ok != tt.wantOK {
				t.Fatalf("Convert(%v, %s) ok = %v, want %v", tt.in, tt.typ, ok, tt.wantOK)
			}
			if !got.Equal(tt.want) || got.Kind() != tt.want.Kind() {
				t.Errorf("Convert(%v, %s) = %v (%s), want %v (%s)", tt.in, tt.typ, got, got.Kind(), tt.want, tt.want.Kind())
			}
		})
	}
}

func TestValueText(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{NumberValue(30), "30"},
		{NumberValue(4.5), "4.5"},
		{NumberValue(-0.001), "-0.001"},
		{BoolValue(true), "true"},
		{DateValue(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)), "2024-03-01"},
		{DateValue(time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)), "2024-03-01T09:05:00Z"},
		{Null(), ""},
	}
	for _, tt := range tests {
		if got := tt.v.Text(); got != tt.want {
			t.Errorf("Text() = %q, want %q", got, tt.want)
		}
	}
}

func TestValueOf(t *testing.T) {
	if _, err := ValueOf(map[string]any{"a": 1}); !IsValidation(err) {
		t.Errorf("ValueOf(map) err = %v, want validation error", err)
	}
	if _, err := ValueOf([]any{1}); !IsValidation(err) {
		t.Errorf("ValueOf(slice) err = %v, want validation error", err)
	}
	v, err := ValueOf(int64(12))
	if err != nil || !v.Equal(NumberValue(12)) {
		t.Errorf("ValueOf(int64) = %v, %v", v, err)
	}
	for _, in := range []any{int8(12), int16(12), uint(12), uint8(12), uint16(12), uint32(12)} {
		v, err := ValueOf(in)
		if err != nil || !v.Equal(NumberValue(12)) {
			t.Errorf("ValueOf(%T) = %v, %v", in, v, err)
		}
	}
	v, err = ValueOf(nil)
	if err != nil || !v.IsNull() {
		t.Errorf("ValueOf(nil) = %v, %v", v, err)
	}
}
