// Package db is the read-only database boundary for the query core. The
// Connector interface hides the driver; callers receive classified errors so
// the correction loop can tell a syntax problem from a dead connection.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies connector failures.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindTimeout    ErrorKind = "timeout"
	KindSyntax     ErrorKind = "syntax"
	KindPermission ErrorKind = "permission"
	KindOther      ErrorKind = "other"
)

// Error is a classified connector failure. Message carries the driver's
// diagnostic text, which feeds the correction loop verbatim.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("db %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Classify returns the ErrorKind of err, or KindOther when err is not a
// connector Error.
func Classify(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindOther
}

// Column describes one column of an introspected table.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Comment  string
}

// Result is the materialized outcome of one SELECT.
type Result struct {
	Columns []string
	Rows    [][]any
}

// RowCount returns the number of rows in the result.
func (r Result) RowCount() int { return len(r.Rows) }

// Connector executes read-only SQL and introspects the schema. Execute runs
// one statement under the given timeout; implementations must cancel the
// server-side query when the deadline passes.
type Connector interface {
	Execute(ctx context.Context, sql string, timeout time.Duration) (Result, error)
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) ([]Column, error)
	Ping(ctx context.Context) error
}
