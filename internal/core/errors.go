package core

// errors.go maps import failures to coded, user-facing messages.
//
// Codes by category:
//
//	IO001-IO099     reading the source (missing file, read failure, bad name)
//	FILE001-FILE099 upload handling (size, missing file part)
//	PARSE001-099    malformed CSV structure
//	TGT001-099      import target lookup
//	RUN001-099      run control (busy, cancelled, timed out)
//	DB001-099       sink failures, matched on the driver's message
//	ERR000          anything else; check the logs for the technical error
//
// Typed errors are matched with errors.Is and errors.As first. Driver errors
// carry no common type across backends, so they fall back to case-insensitive
// substring patterns, first match wins.

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/JonMunkholm/ingest/internal/csv"
	"github.com/JonMunkholm/ingest/internal/source"
)

var (
	// ErrFileTooLarge is returned when an upload exceeds the configured limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrNoFile is returned when an upload request carries no file.
	ErrNoFile = errors.New("no file provided")
)

// UserMessage is what a client is shown for an error.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var (
	msgNotFound      = UserMessage{"The file was not found", "Check the file name and that it is in the imports directory", "IO001"}
	msgReadFailed    = UserMessage{"The file could not be read", "Try the import again; if it keeps failing, re-export the file", "IO002"}
	msgBadName       = UserMessage{"The file name is not valid", "Use a plain file name without directories", "IO003"}
	msgTooLarge      = UserMessage{"The file exceeds the maximum upload size", "Split the file into smaller parts", "FILE001"}
	msgNoFile        = UserMessage{"No file was provided", "Attach a CSV file in the \"file\" form field", "FILE002"}
	msgFieldCount    = UserMessage{"A line has a different number of columns than the header", "Check the reported line for missing or extra commas", "PARSE001"}
	msgBadHeader     = UserMessage{"The header row is invalid", "Make sure every column has a unique, non-empty name", "PARSE002"}
	msgMalformed     = UserMessage{"The file is not valid CSV", "Check quoting around the reported line", "PARSE003"}
	msgUnknownTarget = UserMessage{"Unknown import target", "Use one of the targets listed at /api/targets", "TGT001"}
	msgBusy          = UserMessage{"Too many imports are running", "Wait a moment and try again", "RUN001"}
	msgCancelled     = UserMessage{"The import was cancelled", "Start the import again when ready", "RUN002"}
	msgTimedOut      = UserMessage{"The import timed out", "Try a smaller file or try again later", "RUN003"}
	defaultMessage   = UserMessage{"An unexpected error occurred", "Please try again or contact support", "ERR000"}
)

// errorPattern maps a lowercase message fragment to a user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// sinkPatterns covers Postgres, MySQL, SQL Server, SQLite and MongoDB wording.
var sinkPatterns = []errorPattern{
	{"duplicate key", UserMessage{"A record with this key already exists", "Remove duplicate rows and import again", "DB001"}},
	{"unique constraint", UserMessage{"A value that must be unique already exists", "Check for duplicate entries in your CSV", "DB002"}},
	{"not null constraint", UserMessage{"A required value was empty when stored", "Check the schema against the table definition", "DB003"}},
	{"violates not-null", UserMessage{"A required value was empty when stored", "Check the schema against the table definition", "DB003"}},
	{"connection refused", UserMessage{"Unable to connect to the database", "Please try again in a few moments", "DB004"}},
	{"server selection", UserMessage{"Unable to connect to the database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"The database connection was interrupted", "Please try again", "DB005"}},
	{"timeout", UserMessage{"The database operation timed out", "Try a smaller batch size or try again later", "DB006"}},
	{"deadlock", UserMessage{"The database was busy with conflicting operations", "Please try again", "DB007"}},
}

// MapError converts an error to a user message. It returns the zero value
// for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	if msg, ok := mapTyped(err); ok {
		return msg
	}

	s := strings.ToLower(err.Error())
	for _, p := range sinkPatterns {
		if strings.Contains(s, p.pattern) {
			return p.msg
		}
	}
	return defaultMessage
}

func mapTyped(err error) (UserMessage, bool) {
	var ioErr *source.IOError
	var parseErr *csv.ParseError

	switch {
	case errors.Is(err, ErrUnknownTarget):
		return msgUnknownTarget, true
	case errors.Is(err, ErrTooManyImports):
		return msgBusy, true
	case errors.Is(err, ErrFileTooLarge):
		return msgTooLarge, true
	case errors.Is(err, ErrNoFile):
		return msgNoFile, true
	case errors.Is(err, source.ErrInvalidName):
		return msgBadName, true
	case errors.As(err, &ioErr):
		if errors.Is(err, fs.ErrNotExist) {
			return msgNotFound, true
		}
		return msgReadFailed, true
	case errors.As(err, &parseErr):
		switch {
		case errors.Is(err, csv.ErrFieldCount):
			return withLine(msgFieldCount, parseErr.Line), true
		case errors.Is(err, csv.ErrDuplicateHeader), errors.Is(err, csv.ErrEmptyHeader):
			return msgBadHeader, true
		default:
			return withLine(msgMalformed, parseErr.Line), true
		}
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimedOut, true
	case errors.Is(err, context.Canceled):
		return msgCancelled, true
	}
	return UserMessage{}, false
}

func withLine(m UserMessage, line int) UserMessage {
	if line > 0 {
		m.Message = fmt.Sprintf("%s (line %d)", m.Message, line)
	}
	return m
}

// FormatUserError renders "Message (Code: XXX). Action".
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
	return err != nil && MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string { return e.User.Message }

func (e *UserError) Unwrap() error { return e.Technical }

// NewUserError maps err. It returns nil for nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
