package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// Local SQL post-processing. These rewrites run after generation and between
// correction attempts; they are cheap heuristics and never count against the
// correction budget.

var (
	fenceRe     = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	roundRe     = regexp.MustCompile(`(?i)\bROUND\s*\(`)
	divisionRe  = regexp.MustCompile(`(?i)(\))?\s*/\s*([a-zA-Z_][a-zA-Z0-9_.]*|\()`)
	limitRe     = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	writeVerbRe = regexp.MustCompile(`(?i)^\s*(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|CREATE|GRANT|REVOKE)\b`)
)

// CleanSQL strips code fences, surrounding prose artifacts, and the trailing
// semicolon from a model completion, returning the bare statement.
func CleanSQL(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), ";")
	return strings.TrimSpace(s)
}

// ReadOnlyViolation reports the offending verb when sql is a write or DDL
// statement. Deployment is read-only; anything mutating is rejected before it
// reaches the connector.
func ReadOnlyViolation(sql string) (string, bool) {
	if m := writeVerbRe.FindStringSubmatch(sql); m != nil {
		return strings.ToUpper(m[1]), true
	}
	return "", false
}

// EnsureLimit appends LIMIT 100 when the statement carries no LIMIT clause.
// Statements that already limit, or that are not SELECT-shaped (a WITH chain
// counts as SELECT-shaped), pass through unchanged.
func EnsureLimit(sql string, limit int) string {
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return sql
	}
	if limitRe.MatchString(trimmed) {
		return sql
	}
	return fmt.Sprintf("%s LIMIT %d", trimmed, limit)
}

// FixRound rewrites ROUND(expr, n) into ROUND(CAST(expr AS NUMERIC), n).
// Postgres has no ROUND(double precision, int) overload, and models generate
// it constantly.
func FixRound(sql string) string {
	locs := roundRe.FindAllStringIndex(sql, -1)
	if locs == nil {
		return sql
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		if loc[0] < last {
			continue // nested inside an already-rewritten call
		}
		open := loc[1] - 1 // position of '('
		inner, end, ok := matchParen(sql, open)
		if !ok {
			continue
		}
		args := splitTopLevel(inner, ',')
		if len(args) != 2 {
			continue
		}
		expr := strings.TrimSpace(args[0])
		if strings.HasPrefix(strings.ToUpper(expr), "CAST(") {
			continue
		}
		b.WriteString(sql[last:loc[0]])
		fmt.Fprintf(&b, "ROUND(CAST(%s AS NUMERIC),%s)", expr, args[1])
		last = end + 1
	}
	if last == 0 {
		return sql
	}
	b.WriteString(sql[last:])
	return b.String()
}

// GuardDivision wraps bare identifier denominators in NULLIF so a zero row
// yields NULL instead of a division error.
func GuardDivision(sql string) string {
	return divisionRe.ReplaceAllStringFunc(sql, func(m string) string {
		sub := divisionRe.FindStringSubmatch(m)
		denom := sub[2]
		if denom == "(" || isNumeric(denom) || strings.HasPrefix(strings.ToUpper(denom), "NULLIF") {
			return m
		}
		return fmt.Sprintf("%s / NULLIF(%s, 0)", sub[1], denom)
	})
}

// PostProcess applies the full rewrite chain in order.
func PostProcess(sql string, rowLimit int) string {
	sql = CleanSQL(sql)
	sql = FixRound(sql)
	sql = GuardDivision(sql)
	return EnsureLimit(sql, rowLimit)
}

// matchParen returns the text between the paren at open and its match.
func matchParen(s string, open int) (inner string, closeIdx int, ok bool) {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[open+1 : i], i, true
			}
		}
	}
	return "", 0, false
}

// splitTopLevel splits s on sep, ignoring separators inside parentheses.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func isNumeric(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return len(s) > 0
}
