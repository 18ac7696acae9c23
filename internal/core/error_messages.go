package core

// error_messages.go maps technical errors to operator-facing messages with
// codes for support reference.
//
// # Error Codes Reference
//
// # Ingestion Errors (ING001-ING099)
//
// Structural problems that abort a whole import:
//
//	ING001 - Missing column: A required column is absent from the header
//	         Action: Check the publication for renamed headers and add an alias
//	         Match: *MissingColumnError, "missing required column"
//
//	ING002 - Duplicate column key: Two column specs share one key
//	         Action: Fix the dataset definition
//	         Match: ErrDuplicateColumnKey
//
//	ING003 - Unknown charset: The declared charset cannot be decoded
//	         Action: Use an IANA charset name such as windows-1250 or UTF-8
//	         Match: ErrUnknownCharset
//
//	ING004 - Invalid delimiter: The declared delimiter cannot be used
//	         Action: Use a single printable character such as ';'
//	         Match: ErrInvalidDelimiter
//
// # Dataset Errors (DS001-DS099)
//
//	DS001 - Unknown dataset: The dataset type is not registered
//	        Match: ErrUnknownDataset, "unknown dataset type"
//
//	DS002 - Invalid period: Period does not match the dataset granularity
//	        Match: "invalid period"
//
// # Eligibility (ELG001-ELG099)
//
//	ELG001 - Period already claimed: Another worker processed this period
//	         Match: ErrPeriodClaimed
//
//	ELG002 - Not eligible: The period cannot be processed yet
//	         Match: *IneligibleError
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key:      "duplicate key"
//	DB002 - Unique constraint:  "unique constraint", "violates unique"
//	DB004 - Connection refused: "connection refused"
//	DB005 - Connection reset:   "connection reset"
//	DB006 - Timeout:            "timeout"
//	DB007 - Deadlock:           "deadlock"
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - File too large: ErrFileTooLarge, "file too large"
//	SRC002 - Not found:      "no such file", "status 404"
//	SRC003 - Fetch failed:   "fetch"
//	SRC004 - Empty file:     "empty file"
//
// # Import Capacity (IMP001-IMP099)
//
//	IMP001 - System busy:       ErrTooManyImports
//	IMP002 - Request cancelled: "context canceled"
//	IMP003 - Request timeout:   "context deadline exceeded"
//	IMP004 - Job not found:     ErrJobNotFound
//	IMP005 - Shutting down:     ErrShuttingDown
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Rate limited: "rate limit"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: check application logs for the technical error
//
// Typed errors are matched with errors.Is / errors.As first. Remaining errors
// are matched case-insensitively with strings.Contains; the first matching
// pattern wins, so more specific patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgMissingColumn = UserMessage{
		Message: "A required column is missing from the file header",
		Action:  "Check the publication for renamed headers and add an alias",
		Code:    "ING001",
	}
	msgDuplicateColumnKey = UserMessage{
		Message: "The dataset definition declares a column key twice",
		Action:  "Fix the dataset definition",
		Code:    "ING002",
	}
	msgUnknownCharset = UserMessage{
		Message: "The declared charset is not supported",
		Action:  "Use an IANA charset name such as windows-1250 or UTF-8",
		Code:    "ING003",
	}
	msgInvalidDelimiter = UserMessage{
		Message: "The declared delimiter cannot be used",
		Action:  "Use a single printable character such as ';'",
		Code:    "ING004",
	}
	msgUnknownDataset = UserMessage{
		Message: "Unknown dataset type",
		Action:  "Use one of the registered dataset types",
		Code:    "DS001",
	}
	msgPeriodClaimed = UserMessage{
		Message: "This period was processed by another worker",
		Action:  "No action needed",
		Code:    "ELG001",
	}
	msgIneligible = UserMessage{
		Message: "This period cannot be processed yet",
		Action:  "Process the periods it depends on first",
		Code:    "ELG002",
	}
	msgFileTooLarge = UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Raise IMPORT_MAX_FILE_SIZE or check the source",
		Code:    "SRC001",
	}
	msgTooManyImports = UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "IMP001",
	}
	msgJobNotFound = UserMessage{
		Message: "Import job not found",
		Action:  "The job may have expired. Submit the dataset again",
		Code:    "IMP004",
	}
	msgShuttingDown = UserMessage{
		Message: "The service is shutting down",
		Action:  "Submit the dataset again once the service is back",
		Code:    "IMP005",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Ingestion and dataset errors
	// =========================================================================
	{pattern: "missing required column", msg: msgMissingColumn},
	{pattern: "unknown dataset type", msg: msgUnknownDataset},
	{
		pattern: "invalid period",
		msg: UserMessage{
			Message: "The period does not match the dataset granularity",
			Action:  "Use YYYY-MM for monthly datasets and YYYY for yearly ones",
			Code:    "DS002",
		},
	},

	// =========================================================================
	// Database errors
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Check the import history for an earlier run",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check the import history for an earlier run",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Check the import history for an earlier run",
			Code:    "DB002",
		},
	},
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

	// =========================================================================
	// Request lifecycle (checked before the generic "timeout" pattern)
	// =========================================================================
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "IMP002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Raise IMPORT_TIMEOUT or try again later",
			Code:    "IMP003",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
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

	// =========================================================================
	// Source errors
	// =========================================================================
	{pattern: "file too large", msg: msgFileTooLarge},
	{
		pattern: "no such file",
		msg: UserMessage{
			Message: "The published file was not found",
			Action:  "Verify the descriptor location",
			Code:    "SRC002",
		},
	},
	{
		pattern: "status 404",
		msg: UserMessage{
			Message: "The published file was not found",
			Action:  "Verify the descriptor location",
			Code:    "SRC002",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The published file is empty",
			Action:  "Check the publication",
			Code:    "SRC004",
		},
	},
	{
		pattern: "fetch",
		msg: UserMessage{
			Message: "The published file could not be downloaded",
			Action:  "Check the source availability and retry",
			Code:    "SRC003",
		},
	},

	// =========================================================================
	// Rate limiting
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Known sentinel and typed errors are matched first, then text patterns.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var missingCol *MissingColumnError
	var ineligible *IneligibleError
	switch {
	case errors.As(err, &missingCol):
		msg := msgMissingColumn
		msg.Message = fmt.Sprintf("Required column %s is missing from the file header", missingCol.Key)
		return msg
	case errors.Is(err, ErrDuplicateColumnKey):
		return msgDuplicateColumnKey
	case errors.Is(err, ErrUnknownCharset):
		return msgUnknownCharset
	case errors.Is(err, ErrInvalidDelimiter):
		return msgInvalidDelimiter
	case errors.Is(err, ErrUnknownDataset):
		return msgUnknownDataset
	case errors.Is(err, ErrPeriodClaimed):
		return msgPeriodClaimed
	case errors.As(err, &ineligible):
		msg := msgIneligible
		msg.Message = fmt.Sprintf("%s %s cannot be processed: %s",
			ineligible.Type, ineligible.Period, ineligible.Decision.Reason)
		return msg
	case errors.Is(err, ErrFileTooLarge):
		return msgFileTooLarge
	case errors.Is(err, ErrTooManyImports):
		return msgTooManyImports
	case errors.Is(err, ErrJobNotFound):
		return msgJobNotFound
	case errors.Is(err, ErrShuttingDown):
		return msgShuttingDown
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing checks if an error maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
