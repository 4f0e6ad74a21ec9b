package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindValidation Kind = "validation_error"
	KindUpload     Kind = "upload_error"
	KindTrigger    Kind = "trigger_error"
	KindProcessing Kind = "processing_error"
	KindTimeout    Kind = "timeout_error"
	KindUnexpected Kind = "unexpected_error"
)

// Validation reason for an empty session. The per-file reasons come from
// upload.Reason.
const ReasonNoFiles = "no_files"

var (
	// ErrSuperseded is returned by a run or job whose result was invalidated
	// by a newer run or by teardown.
	ErrSuperseded = errors.New("analysis superseded")

	// ErrNoFiles is the cause of the validation error raised when analysis is
	// started on an empty session.
	ErrNoFiles = errors.New("no files to analyze")

	// ErrMissingTaskHandle is the cause of the trigger error raised when a
	// trigger response succeeds without a task id.
	ErrMissingTaskHandle = errors.New("trigger response carried no task handle")

	// ErrClosed is returned by operations on a torn-down orchestrator.
	ErrClosed = errors.New("orchestrator closed")
)

// Error is a structured pipeline failure.
type Error struct {
	Kind    Kind
	Reason  string // validation only: unsupported_type, too_large or no_files
	File    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.File != "" {
		fmt.Fprintf(&b, " (%s)", e.File)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil && (e.Message == "" || !strings.Contains(e.Message, e.Cause.Error())) {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether starting a new analysis may succeed. Validation
// failures need a different file first.
func (e *Error) Retryable() bool {
	return e.Kind != KindValidation
}

// UserMessage returns the most specific message suitable for display.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindValidation:
		if e.Message != "" {
			return e.Message
		}
		return "The selected file cannot be analyzed."
	case KindUpload:
		return "Upload failed. Check your connection and try again."
	case KindTrigger:
		return "Could not start document processing. Please try again."
	case KindProcessing:
		if e.Message != "" {
			return e.Message
		}
		return "Document processing failed."
	case KindTimeout:
		return "Analysis is taking longer than expected. Please try again later."
	default:
		return "Something went wrong. Please try again."
	}
}

// KindOf returns the kind of the first *Error in err's tree, or "" if none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// asError converts err to *Error, wrapping unknown failures as unexpected.
func asError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindUnexpected, Cause: err}
}
