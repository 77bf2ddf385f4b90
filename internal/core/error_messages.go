package core

// # Error Codes Reference
//
// This file maps technical errors to user-facing messages with a code that
// can be quoted to support staff.
//
// # Storage Errors (DB000-DB099)
//
//	DB000 - Storage failure: The data store could not complete the operation
//	DB001 - Duplicate key: A record with this id already exists
//	        Patterns: "duplicate key", "unique constraint"
//	DB004 - Connection refused: Unable to connect to database
//	        Patterns: "connection refused"
//	DB005 - Connection reset: Database connection was interrupted
//	        Patterns: "connection reset", "broken pipe"
//	DB006 - Timeout: Operation timed out
//	        Patterns: "timeout"
//	DB007 - Deadlock: Database was busy with conflicting operations
//	        Patterns: "deadlock"
//	DB008 - Locked: Database file is locked by another writer
//	        Patterns: "database is locked", "sqlite_busy"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date          Patterns: "invalid date"
//	VAL002 - Invalid number        Patterns: "invalid number"
//	VAL003 - Invalid boolean       Patterns: "invalid boolean"
//	VAL004 - Nested value          Patterns: "nested"
//	VAL005 - Invalid JSON body     Patterns: "invalid json", "must be a json object", "request body is empty"
//	VAL006 - Invalid record id     Patterns: "invalid record id"
//	VAL007 - Invalid name          Patterns: "name is empty", "nul byte", "exceeds 63 bytes", "reserved"
//	VAL000 - Any other validation failure
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large       Patterns: "file too large"
//	FILE002 - Invalid CSV          Patterns: "invalid csv"
//	FILE003 - Encoding error       Patterns: "encoding error"
//	FILE004 - No file              Patterns: "no file provided"
//	FILE005 - Empty file           Patterns: "empty file"
//	FILE006 - Unsupported type     Patterns: "unsupported file type"
//	FILE007 - Invalid spreadsheet  Patterns: "invalid spreadsheet"
//
// # Ingest Errors (UPL001-UPL099)
//
//	UPL002 - System busy           Patterns: "too many concurrent ingests"
//	UPL004 - Request cancelled     Patterns: "context canceled"
//	UPL005 - Request timeout       Patterns: "context deadline exceeded"
//
// # Not Found (TBL001, REC001)
//
//	TBL001 - Table not found       Patterns: "table not found"
//	REC001 - Record not found      Patterns: "record not found"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests    Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches. Check application logs for the original error.
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns come before general ones. A StorageError is
// matched on its wrapped cause and falls back to DB000, never ERR000, so the
// client can tell a persistence failure from a bug.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	patterns []string
	msg      UserMessage
}

var errorPatterns = []errorPattern{
	// Not found
	{[]string{"table not found"}, UserMessage{"Table not found", "Verify the table name is correct or upload a file first", "TBL001"}},
	{[]string{"record not found"}, UserMessage{"Record not found", "Verify the record id is correct", "REC001"}},

	// Ingest
	{[]string{"too many concurrent ingests"}, UserMessage{"System is busy processing other uploads", "Please wait a moment and try again", "UPL002"}},
	{[]string{"context canceled"}, UserMessage{"Request was cancelled", "Please try again", "UPL004"}},
	{[]string{"context deadline exceeded"}, UserMessage{"Request timed out", "Try a smaller file or check your connection", "UPL005"}},

	// File
	{[]string{"file too large"}, UserMessage{"File exceeds the maximum size limit", "Split the file into smaller chunks", "FILE001"}},
	{[]string{"unsupported file type"}, UserMessage{"File type is not supported", "Upload a CSV or XLSX file", "FILE006"}},
	{[]string{"invalid spreadsheet"}, UserMessage{"File is not a readable spreadsheet", "Re-save the workbook as XLSX or export it as CSV", "FILE007"}},
	{[]string{"invalid csv"}, UserMessage{"File is not a valid CSV", "Ensure the file is comma-separated with a header row", "FILE002"}},
	{[]string{"encoding error"}, UserMessage{"File contains invalid characters", "Save the file as UTF-8", "FILE003"}},
	{[]string{"no file provided"}, UserMessage{"No file was provided", "Attach a CSV or XLSX file in the files field", "FILE004"}},
	{[]string{"empty file"}, UserMessage{"The uploaded file is empty", "Upload a file with a header row", "FILE005"}},

	// Validation
	{[]string{"invalid date"}, UserMessage{"Invalid date value", "Use YYYY-MM-DD, MM/DD/YYYY or MM-DD-YYYY", "VAL001"}},
	{[]string{"invalid number"}, UserMessage{"Invalid number value", "Use plain decimal notation without symbols", "VAL002"}},
	{[]string{"invalid boolean"}, UserMessage{"Invalid boolean value", "Use true or false", "VAL003"}},
	{[]string{"nested"}, UserMessage{"Nested values are not supported", "Send a flat JSON object of scalar values", "VAL004"}},
	{[]string{"invalid json", "must be a json object", "single json object", "request body is empty"}, UserMessage{"Request body is not a valid JSON object", "Send a flat JSON object", "VAL005"}},
	{[]string{"invalid record id"}, UserMessage{"Invalid record id", "Record ids are positive integers", "VAL006"}},
	{[]string{"name is empty", "nul byte", "exceeds 63 bytes", "reserved"}, UserMessage{"Invalid table or column name", "Use a non-empty name of at most 63 bytes", "VAL007"}},

	// Storage causes
	{[]string{"duplicate key", "unique constraint"}, UserMessage{"A record with this id already exists", "Please try again", "DB001"}},
	{[]string{"connection refused"}, UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{[]string{"connection reset", "broken pipe"}, UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{[]string{"deadlock"}, UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},
	{[]string{"database is locked", "sqlite_busy"}, UserMessage{"Database is busy", "Please try again", "DB008"}},
	{[]string{"timeout"}, UserMessage{"Operation timed out", "Try again later", "DB006"}},

	// Rate limiting
	{[]string{"rate limit"}, UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var (
	defaultMessage    = UserMessage{"An unexpected error occurred", "Please try again or contact support", "ERR000"}
	storageMessage    = UserMessage{"The data store could not complete the operation", "Please try again later", "DB000"}
	validationMessage = UserMessage{"Invalid input", "Check the request and try again", "VAL000"}
)

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	msg := MapError(TableNotFound("sales"))
//	// msg.Code == "TBL001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		if msg, ok := matchPattern(storageErr.Err); ok {
			return msg
		}
		return storageMessage
	}

	if msg, ok := matchPattern(err); ok {
		return msg
	}
	if IsValidation(err) {
		return validationMessage
	}
	return defaultMessage
}

func matchPattern(err error) (UserMessage, bool) {
	if err == nil {
		return UserMessage{}, false
	}
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		for _, p := range ep.patterns {
			if strings.Contains(errStr, p) {
				return ep.msg, true
			}
		}
	}
	return UserMessage{}, false
}

// FormatUserError creates "Message (Code: XXX). Action" for display.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// SafeDetail returns text that may be shown to a client. Not-found and
// validation errors describe the caller's own input and are returned as is;
// everything else is replaced by its mapped message.
func SafeDetail(err error) string {
	if err == nil {
		return ""
	}
	if IsNotFound(err) || IsValidation(err) {
		return err.Error()
	}
	return MapError(err).Message
}
