package report

// errors.go maps technical errors to user-facing messages with support codes.
//
// Codes are grouped by category:
//
//	SRC001   - Unknown source: the key is not in the catalog
//	SRC002   - Not loaded: the source has never refreshed successfully
//	FETCH001 - Not published: the sheet returned HTML instead of CSV
//	FETCH002 - Too large: the export exceeded the size limit
//	FETCH003 - Upstream error: Google returned a 5xx or 429 after retries
//	FETCH004 - Not found: the export URL returned 404
//	FETCH005 - Access denied: the export URL returned 401/403
//	FETCH006 - Busy: too many refreshes in progress
//	CFG001   - Invalid catalog
//	REQ001   - Request cancelled
//	REQ002   - Request timed out
//	REQ003   - Rate limited
//	ERR000   - Anything else; check the logs for the original error
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownSource is returned for keys missing from the catalog.
	ErrUnknownSource = errors.New("unknown source")

	// ErrNotLoaded is returned when a source has no snapshot yet.
	ErrNotLoaded = errors.New("source not loaded yet")

	// ErrInvalidCatalog wraps catalog validation failures.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// UserMessage is a user-facing description of an error.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Sources
	{
		pattern: "unknown source",
		msg: UserMessage{
			Message: "This report source does not exist",
			Action:  "Check the source key against the catalog",
			Code:    "SRC001",
		},
	},
	{
		pattern: "source not loaded",
		msg: UserMessage{
			Message: "This report has not loaded yet",
			Action:  "Wait for the first refresh or trigger one manually",
			Code:    "SRC002",
		},
	},

	// Fetching
	{
		pattern: "not published as csv",
		msg: UserMessage{
			Message: "The sheet is not published to the web",
			Action:  "Publish the tab as CSV (File > Share > Publish to web)",
			Code:    "FETCH001",
		},
	},
	{
		pattern: "payload too large",
		msg: UserMessage{
			Message: "The sheet export is larger than the allowed size",
			Action:  "Raise FETCH_MAX_BYTES or split the sheet",
			Code:    "FETCH002",
		},
	},
	{
		pattern: "http 429",
		msg: UserMessage{
			Message: "Google is throttling sheet downloads",
			Action:  "Wait a few minutes before refreshing again",
			Code:    "FETCH003",
		},
	},
	{
		pattern: "http 5",
		msg: UserMessage{
			Message: "Google Sheets is temporarily unavailable",
			Action:  "Please try again in a few moments",
			Code:    "FETCH003",
		},
	},
	{
		pattern: "http 404",
		msg: UserMessage{
			Message: "The sheet export was not found",
			Action:  "Verify the spreadsheet id and gid in the catalog",
			Code:    "FETCH004",
		},
	},
	{
		pattern: "http 401",
		msg: UserMessage{
			Message: "The sheet is private",
			Action:  "Publish the tab to the web or update the URL",
			Code:    "FETCH005",
		},
	},
	{
		pattern: "http 403",
		msg: UserMessage{
			Message: "The sheet is private",
			Action:  "Publish the tab to the web or update the URL",
			Code:    "FETCH005",
		},
	},
	{
		pattern: "too many concurrent refreshes",
		msg: UserMessage{
			Message: "Other refreshes are already running",
			Action:  "Please wait a moment and try again",
			Code:    "FETCH006",
		},
	},

	// Configuration
	{
		pattern: "invalid catalog",
		msg: UserMessage{
			Message: "The source catalog is invalid",
			Action:  "Fix the catalog file and restart",
			Code:    "CFG001",
		},
	},

	// Requests
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Please try again or check your connection",
			Code:    "REQ002",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "REQ003",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message.
// Returns the ERR000 message when no pattern matches, and a zero value for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs the technical error with its user message.
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

// NewUserError maps err. Returns nil for nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
