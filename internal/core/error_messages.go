package core

// # Error Codes Reference
//
// This file maps technical errors to user-friendly messages with codes for
// support reference. Users quote the code, support looks it up here.
//
// Typed errors are recognised first with errors.Is / errors.As; anything
// else falls through to case-insensitive substring patterns.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large          Patterns: "file too large"
//	FILE002 - Could not read file     Patterns: "could not read file" (any *FileParseError
//	                                  not matched by a more specific FILE code)
//	FILE003 - Encoding error          Patterns: "encoding error"
//	FILE004 - No file                 Patterns: "no file provided"
//	FILE005 - Empty file              Patterns: "empty file", "no data rows"
//	FILE006 - Unsupported file type   Patterns: "unsupported file type"
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Required fields unmapped Type: *MappingIncompleteError
//	MAP002 - Invalid mapping override Type: ErrInvalidOverride, Patterns: "override"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Rows failed validation   Type: *RowValidationError
//	VAL002 - Required value missing   Patterns: "is required"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key             Patterns: "duplicate key"
//	DB002 - Unique constraint         Patterns: "unique constraint", "violates unique"
//	DB004 - Connection refused        Patterns: "connection refused"
//	DB005 - Connection reset          Patterns: "connection reset"
//	DB006 - Timeout                   Patterns: "timeout"
//	DB007 - Deadlock / busy           Patterns: "deadlock", "database is locked"
//
// # Permission Errors (PERM001-PERM099)
//
//	PERM001 - Insufficient permission Type: ErrInsufficientPermission, ErrAccessDenied
//	PERM002 - Tenant not identified   Type: ErrTenantRequired
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import cancelled         Patterns: "import cancelled"
//	IMP002 - System busy              Type: ErrTooManyImports
//	IMP003 - Session expired          Type: ErrImportNotFound
//	IMP004 - Request cancelled        Patterns: "context canceled"
//	IMP005 - Request timeout          Patterns: "context deadline exceeded"
//
// # Entity Errors (ENT001)
//
//	ENT001 - Unknown entity           Type: ErrUnknownEntity
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests       Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the application log for the
// original technical error.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// typedMessages are checked before patterns, in order.
var typedMessages = []struct {
	match func(error) bool
	msg   UserMessage
}{
	{
		match: func(err error) bool { var e *MappingIncompleteError; return errors.As(err, &e) },
		msg: UserMessage{
			Message: "Some required fields are not mapped to a column",
			Action:  "Map a column to every required field and try again",
			Code:    "MAP001",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrInvalidOverride) },
		msg: UserMessage{
			Message: "The column mapping is not valid",
			Action:  "Map each column to at most one known field",
			Code:    "MAP002",
		},
	},
	{
		match: func(err error) bool { var e *RowValidationError; return errors.As(err, &e) },
		msg: UserMessage{
			Message: "Some rows failed validation",
			Action:  "Fix the listed rows and import again",
			Code:    "VAL001",
		},
	},
	{
		match: func(err error) bool {
			return errors.Is(err, ErrInsufficientPermission) || errors.Is(err, ErrAccessDenied)
		},
		msg: UserMessage{
			Message: "You do not have permission to import these records",
			Action:  "Ask an administrator to grant import access",
			Code:    "PERM001",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrTenantRequired) },
		msg: UserMessage{
			Message: "No tenant was identified for this request",
			Action:  "Sign in again or set the tenant and retry",
			Code:    "PERM002",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrTooManyImports) },
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP002",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrImportNotFound) },
		msg: UserMessage{
			Message: "Import session not found",
			Action:  "The import may have expired. Please start a new import",
			Code:    "IMP003",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrUnknownEntity) },
		msg: UserMessage{
			Message: "Unknown record type",
			Action:  "Choose one of the supported record types",
			Code:    "ENT001",
		},
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user
// messages. The first matching pattern wins, so specific patterns come
// before general ones.
var errorPatterns = []errorPattern{
	// Database constraint errors
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Review the failed rows for duplicate keys",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},

	// Permission errors reported as text by the store
	{
		pattern: "permission denied",
		msg: UserMessage{
			Message: "You do not have permission to import these records",
			Action:  "Ask an administrator to grant import access",
			Code:    "PERM001",
		},
	},
	{
		pattern: "row-level security",
		msg: UserMessage{
			Message: "You do not have permission to import these records",
			Action:  "Ask an administrator to grant import access",
			Code:    "PERM001",
		},
	},

	// Connection errors
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try importing a smaller file or check your connection",
			Code:    "IMP005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try importing a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// File errors
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller parts",
			Code:    "FILE001",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save the file with UTF-8 encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV or Excel file to import",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The file is empty",
			Action:  "Please import a file with a header row and data rows",
			Code:    "FILE005",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "The file has a header but no data rows",
			Action:  "Please import a file with a header row and data rows",
			Code:    "FILE005",
		},
	},
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "This file type is not supported",
			Action:  "Use a .csv, .tsv or .xlsx file",
			Code:    "FILE006",
		},
	},
	{
		pattern: "could not read file",
		msg: UserMessage{
			Message: "Could not read file",
			Action:  "Check that the file is a valid CSV or Excel workbook",
			Code:    "FILE002",
		},
	},

	// Mapping and validation
	{
		pattern: "override",
		msg: UserMessage{
			Message: "The column mapping is not valid",
			Action:  "Map each column to at most one known field",
			Code:    "MAP002",
		},
	},
	{
		pattern: "is required",
		msg: UserMessage{
			Message: "A required value is missing",
			Action:  "Ensure all required fields have values",
			Code:    "VAL002",
		},
	},

	// Import session
	{
		pattern: "import cancelled",
		msg: UserMessage{
			Message: "Import was cancelled",
			Action:  "Rows already imported were kept. Re-run the file to finish",
			Code:    "IMP001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "IMP004",
		},
	},

	// Rate limiting
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	msg := MapError(&MappingIncompleteError{Entity: "inventory"})
//	// msg.Code == "MAP001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, tm := range typedMessages {
		if tm.match(err) {
			return tm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with the message
// shown to users.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
