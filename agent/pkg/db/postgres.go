package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/landmarklabs/sqlchat/api/metrics"
)

// PoolConfig sizes the underlying pgx pool.
type PoolConfig struct {
	MaxConns    int32
	MinConns    int32
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// Postgres is the production Connector over a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgres connects a pool to dsn with the given sizing.
func NewPostgres(ctx context.Context, dsn string, pc PoolConfig, log *slog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.MaxIdleTime > 0 {
		cfg.MaxConnIdleTime = pc.MaxIdleTime
	}
	if pc.MaxLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Postgres{pool: pool, log: log}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Execute(ctx context.Context, sql string, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, sql)
	if err != nil {
		metrics.RecordSQLQuery(time.Since(start), err)
		return Result{}, classifyPg(err)
	}
	defer rows.Close()

	var res Result
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			metrics.RecordSQLQuery(time.Since(start), err)
			return Result{}, classifyPg(err)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		metrics.RecordSQLQuery(time.Since(start), err)
		return Result{}, classifyPg(err)
	}
	metrics.RecordSQLQuery(time.Since(start), nil)
	return res, nil
}

func (p *Postgres) ListTables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY lower(table_name)`
	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return nil, classifyPg(err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classifyPg(err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPg(err)
	}
	return tables, nil
}

func (p *Postgres) DescribeTable(ctx context.Context, table string) ([]Column, error) {
	const q = `
		SELECT c.column_name,
		       c.data_type,
		       c.is_nullable = 'YES',
		       COALESCE(pgd.description, '')
		FROM information_schema.columns c
		LEFT JOIN pg_catalog.pg_statio_all_tables st
		       ON st.schemaname = c.table_schema AND st.relname = c.table_name
		LEFT JOIN pg_catalog.pg_description pgd
		       ON pgd.objoid = st.relid AND pgd.objsubid = c.ordinal_position
		WHERE c.table_schema = 'public' AND c.table_name = $1
		ORDER BY c.ordinal_position`
	rows, err := p.pool.Query(ctx, q, table)
	if err != nil {
		return nil, classifyPg(err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Comment); err != nil {
			return nil, classifyPg(err)
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPg(err)
	}
	return cols, nil
}

// classifyPg maps driver failures onto the connector taxonomy. SQLSTATE class
// 42 is syntax/semantics, 42501 specifically is a privilege failure, class 08
// is connection trouble, and 57014 is the server cancelling on deadline.
func classifyPg(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Message: "query timed out", cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := KindOther
		switch {
		case pgErr.Code == "42501":
			kind = KindPermission
		case strings.HasPrefix(pgErr.Code, "42"):
			kind = KindSyntax
		case strings.HasPrefix(pgErr.Code, "08"):
			kind = KindConnection
		case pgErr.Code == "57014":
			kind = KindTimeout
		}
		return &Error{Kind: kind, Message: pgErr.Message, cause: err}
	}

	if pgconn.Timeout(err) {
		return &Error{Kind: KindTimeout, Message: "query timed out", cause: err}
	}
	return &Error{Kind: KindConnection, Message: err.Error(), cause: err}
}
