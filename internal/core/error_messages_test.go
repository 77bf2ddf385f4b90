package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"table not found", TableNotFound("sales"), "TBL001"},
		{"record not found", RecordNotFound("sales", 7), "REC001"},
		{"ingest busy", ErrIngestBusy, "UPL002"},
		{"invalid number", ErrValidation("invalid number value for column %q: x", "age"), "VAL002"},
		{"invalid date", ErrValidation("invalid date value for column %q: x", "d"), "VAL001"},
		{"invalid boolean", ErrValidation("invalid boolean value for column %q: x", "b"), "VAL003"},
		{"nested value", ErrValidation(`field "a": nested objects and arrays are not supported`), "VAL004"},
		{"empty name", ErrValidation("table name is empty"), "VAL007"},
		{"other validation", ErrValidation("something odd"), "VAL000"},
		{"unsupported file", errors.New("unsupported file type: application/pdf"), "FILE006"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"storage cause is matched", ErrStorage("insert", errors.New("dial tcp: connection refused")), "DB004"},
		{"sqlite busy", ErrStorage("insert", errors.New("database is locked")), "DB008"},
		{"storage without known cause", ErrStorage("insert", errors.New("syntax error at or near")), "DB000"},
		{"wrapped not found", fmt.Errorf("list: %w", TableNotFound("x")), "TBL001"},
		{"case insensitive", errors.New("CONTEXT DEADLINE EXCEEDED"), "UPL005"},
		{"unknown error", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
		})
	}
}

func TestStorageErrorHidesCause(t *testing.T) {
	cause := errors.New(`ERROR: relation "secret" does not exist (SQLSTATE 42P01)`)
	err := ErrStorage("list", cause)

	if strings.Contains(err.Error(), "secret") {
		t.Errorf("Error() leaks cause: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("StorageError should unwrap to its cause")
	}
	if got := SafeDetail(err); strings.Contains(got, "secret") {
		t.Errorf("SafeDetail leaks cause: %q", got)
	}
}

func TestErrStoragePassesThroughClassified(t *testing.T) {
	nf := TableNotFound("t")
	if got := ErrStorage("get", nf); !IsNotFound(got) || IsStorage(got) {
		t.Errorf("ErrStorage rewrapped a NotFoundError: %v", got)
	}
	if ErrStorage("get", nil) != nil {
		t.Error("ErrStorage(nil) should be nil")
	}
}

func TestSafeDetail(t *testing.T) {
	if got := SafeDetail(ErrValidation("bad age")); got != "bad age" {
		t.Errorf("SafeDetail(validation) = %q", got)
	}
	if got := SafeDetail(errors.New("panic: nil map")); got != "An unexpected error occurred" {
		t.Errorf("SafeDetail(internal) = %q", got)
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(TableNotFound("sales"))
	want := "Table not found (Code: TBL001). Verify the table name is correct or upload a file first"
	if got != want {
		t.Errorf("FormatUserError = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}
