package tts

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a synthesis failure. The orchestrator's recovery
// strategy depends only on the code, never on the engine that produced it.
type ErrorCode string

const (
	// CodeInput marks text that is empty or contains no speakable
	// content. The segment is dropped and the pipeline continues.
	CodeInput ErrorCode = "INPUT"

	// CodeSize marks text that exceeds a hard engine limit. The
	// orchestrator splits the text and retries the pieces.
	CodeSize ErrorCode = "SIZE"

	// CodeTransient marks a retryable runtime failure (resource
	// contention, flaky backend, timeout). Retried with backoff up to a
	// configured bound.
	CodeTransient ErrorCode = "TRANSIENT"

	// CodeModel marks an engine that failed to initialize or load.
	// Fatal: retrying a configuration problem cannot help.
	CodeModel ErrorCode = "MODEL"
)

// Error is a classified TTS failure. Errors outside this taxonomy
// propagate unclassified and are treated as fatal by the caller.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is worth retrying in place.
func (e *Error) Retryable() bool {
	return e.Code == CodeTransient
}

// NewInputError marks text as empty or non-speech.
func NewInputError(message string) *Error {
	return &Error{Code: CodeInput, Message: message}
}

// NewSizeError marks text as exceeding a hard engine limit.
func NewSizeError(message string) *Error {
	return &Error{Code: CodeSize, Message: message}
}

// NewTransientError wraps a retryable runtime failure.
func NewTransientError(message string, cause error) *Error {
	return &Error{Code: CodeTransient, Message: message, Cause: cause}
}

// NewModelError wraps an engine initialization failure.
func NewModelError(message string, cause error) *Error {
	return &Error{Code: CodeModel, Message: message, Cause: cause}
}

func hasCode(err error, code ErrorCode) bool {
	var ttsErr *Error
	return errors.As(err, &ttsErr) && ttsErr.Code == code
}

// IsInputError reports whether err is classified as non-speech input.
func IsInputError(err error) bool { return hasCode(err, CodeInput) }

// IsSizeError reports whether err is classified as oversized input.
func IsSizeError(err error) bool { return hasCode(err, CodeSize) }

// IsTransientError reports whether err is classified as retryable.
func IsTransientError(err error) bool { return hasCode(err, CodeTransient) }

// IsModelError reports whether err is classified as a model load failure.
func IsModelError(err error) bool { return hasCode(err, CodeModel) }

// IsClassified reports whether err belongs to the TTS error taxonomy at
// all. Unclassified errors must surface to the caller untouched.
func IsClassified(err error) bool {
	var ttsErr *Error
	return errors.As(err, &ttsErr)
}
