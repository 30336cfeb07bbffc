package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Fake is an in-memory Connector for tests. Queries are matched by script
// entries in order of registration; unmatched statements fail with a syntax
// error, which is what a hallucinated column produces in production.
type Fake struct {
	mu      sync.Mutex
	tables  map[string][]Column
	scripts []fakeScript
	calls   []string
}

type fakeScript struct {
	match string
	res   Result
	err   error
}

// NewFake creates a Fake with the given schema.
func NewFake(tables map[string][]Column) *Fake {
	if tables == nil {
		tables = map[string][]Column{}
	}
	return &Fake{tables: tables}
}

// Script registers a result for statements containing match (case-insensitive).
func (f *Fake) Script(match string, res Result, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, fakeScript{match: strings.ToLower(match), res: res, err: err})
}

// Calls returns the statements executed so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) Execute(ctx context.Context, sql string, _ time.Duration) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, &Error{Kind: KindTimeout, Message: "query timed out", cause: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sql)

	lowered := strings.ToLower(sql)
	for _, s := range f.scripts {
		if strings.Contains(lowered, s.match) {
			return s.res, s.err
		}
	}
	return Result{}, &Error{Kind: KindSyntax, Message: fmt.Sprintf("relation or column in %q does not exist", firstWord(sql))}
}

func (f *Fake) ListTables(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.tables))
	for name := range f.tables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names, nil
}

func (f *Fake) DescribeTable(_ context.Context, table string) ([]Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cols, ok := f.tables[table]
	if !ok {
		return nil, &Error{Kind: KindSyntax, Message: fmt.Sprintf("relation %q does not exist", table)}
	}
	return append([]Column(nil), cols...), nil
}

func (f *Fake) Ping(context.Context) error { return nil }

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
