package agent

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures for callers and for the dispatcher's
// retry decision.
type Kind string

const (
	KindInvalidInput       Kind = "InvalidInput"
	KindOverloaded         Kind = "Overloaded"
	KindUnknownJob         Kind = "UnknownJob"
	KindNoRelevantTables   Kind = "NoRelevantTables"
	KindSQLSynthesisFailed Kind = "SQLSynthesisFailed"
	KindSQLExecutionFailed Kind = "SQLExecutionFailed"
	KindLMUnavailable      Kind = "LMUnavailable"
	KindTimeout            Kind = "Timeout"
	KindInternal           Kind = "InternalError"
	KindCancelled          Kind = "Cancelled"
)

// Error is the tagged failure value that flows up through stage boundaries.
// The pipeline classifies everything before it reaches the dispatcher; raw
// errors never cross the worker boundary.
type Error struct {
	Kind      Kind
	Message   string
	Transient bool
	cause     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Errf builds a non-transient Error.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr builds an Error around a cause.
func WrapErr(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Transientf builds a transient Error; the dispatcher may re-enqueue the job.
func Transientf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Transient: true}
}

// KindOf extracts the Kind of err, defaulting to InternalError.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsTransient reports whether err is worth re-enqueueing.
func IsTransient(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Transient
}

// userMessages are the short human sentences surfaced at the polling boundary.
var userMessages = map[Kind]string{
	KindInvalidInput:       "The question is empty or too long.",
	KindOverloaded:         "The service is busy right now. Please try again shortly.",
	KindUnknownJob:         "This query is no longer available.",
	KindNoRelevantTables:   "I'm not sure which data this refers to.",
	KindSQLSynthesisFailed: "I couldn't turn this question into a query. Try rephrasing it.",
	KindSQLExecutionFailed: "The generated query kept failing against the database.",
	KindLMUnavailable:      "The language model is temporarily unavailable.",
	KindTimeout:            "The query took too long and was stopped.",
	KindCancelled:          "The query was cancelled.",
	KindInternal:           "Something went wrong. The details have been logged.",
}

// UserMessage returns the presentable sentence for a Kind.
func UserMessage(kind Kind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return userMessages[KindInternal]
}
