// Package catalog maintains DDL snapshots of the target database. Tables are
// introspected lazily, rendered as deterministic CREATE TABLE text for prompt
// assembly, and cached so repeated pipeline runs do not hit the database.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/landmarklabs/sqlchat/agent/pkg/cache"
	"github.com/landmarklabs/sqlchat/agent/pkg/db"
)

// Catalog serves table lists and DDL snapshots backed by the cache layer.
type Catalog struct {
	conn  db.Connector
	store cache.Store
	log   *slog.Logger
	ttl   time.Duration
}

// New creates a Catalog. ttl bounds how stale a cached snapshot may get
// between explicit refreshes.
func New(conn db.Connector, store cache.Store, ttl time.Duration, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{conn: conn, store: store, log: log, ttl: ttl}
}

// Tables returns the database's table names sorted case-insensitively.
func (c *Catalog) Tables(ctx context.Context) ([]string, error) {
	if raw, ok, _ := c.store.Get(ctx, cache.NSSchema, cache.SchemaTablesKey); ok {
		var tables []string
		if err := json.Unmarshal(raw, &tables); err == nil {
			return tables, nil
		}
	}

	tables, err := c.conn.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	sort.Slice(tables, func(i, j int) bool {
		return strings.ToLower(tables[i]) < strings.ToLower(tables[j])
	})
	if raw, err := json.Marshal(tables); err == nil {
		_ = c.store.Put(ctx, cache.NSSchema, cache.SchemaTablesKey, raw, c.ttl)
	}
	return tables, nil
}

// DDL returns the rendered CREATE TABLE snapshot for a table, introspecting
// on first use.
func (c *Catalog) DDL(ctx context.Context, table string) (string, error) {
	if raw, ok, _ := c.store.Get(ctx, cache.NSSchema, cache.SchemaKey(table)); ok {
		return string(raw), nil
	}

	cols, err := c.conn.DescribeTable(ctx, table)
	if err != nil {
		return "", fmt.Errorf("describe table %s: %w", table, err)
	}
	ddl := RenderDDL(table, cols)
	_ = c.store.Put(ctx, cache.NSSchema, cache.SchemaKey(table), []byte(ddl), c.ttl)
	return ddl, nil
}

// Bundle renders the DDL of every named table, in the given order, separated
// by blank lines. Unknown tables are skipped with a log line rather than
// failing the whole bundle.
func (c *Catalog) Bundle(ctx context.Context, tables []string) (string, error) {
	var parts []string
	for _, table := range tables {
		ddl, err := c.DDL(ctx, table)
		if err != nil {
			if db.Classify(err) == db.KindSyntax {
				c.log.Warn("catalog: skipping unknown table in bundle", "table", table)
				continue
			}
			return "", err
		}
		parts = append(parts, ddl)
	}
	return strings.Join(parts, "\n\n"), nil
}

// Refresh re-introspects every table, replacing cached snapshots.
func (c *Catalog) Refresh(ctx context.Context) error {
	_ = c.store.Invalidate(ctx, cache.NSSchema, cache.SchemaTablesKey)
	tables, err := c.Tables(ctx)
	if err != nil {
		return err
	}
	for _, table := range tables {
		_ = c.store.Invalidate(ctx, cache.NSSchema, cache.SchemaKey(table))
		if _, err := c.DDL(ctx, table); err != nil {
			return err
		}
	}
	c.log.Info("catalog: schema refreshed", "tables", len(tables))
	return nil
}

// Invalidate drops the cached snapshot of one table.
func (c *Catalog) Invalidate(ctx context.Context, table string) error {
	return c.store.Invalidate(ctx, cache.NSSchema, cache.SchemaKey(table))
}

// RenderDDL renders a deterministic CREATE TABLE statement: columns in
// ordinal order, NOT NULL where applicable, comments as trailing -- text.
func RenderDDL(table string, cols []db.Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", table)
	for i, col := range cols {
		fmt.Fprintf(&b, "    %s %s", col.Name, col.Type)
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(cols)-1 {
			b.WriteString(",")
		}
		if col.Comment != "" {
			fmt.Fprintf(&b, " -- %s", col.Comment)
		}
		b.WriteString("\n")
	}
	b.WriteString(");")
	return b.String()
}
