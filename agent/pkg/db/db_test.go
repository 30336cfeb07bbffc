package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPg(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"syntax", &pgconn.PgError{Code: "42601", Message: "syntax error at or near"}, KindSyntax},
		{"undefined column", &pgconn.PgError{Code: "42703", Message: "column does not exist"}, KindSyntax},
		{"permission", &pgconn.PgError{Code: "42501", Message: "permission denied"}, KindPermission},
		{"connection", &pgconn.PgError{Code: "08006", Message: "connection failure"}, KindConnection},
		{"cancelled on server", &pgconn.PgError{Code: "57014", Message: "canceling statement"}, KindTimeout},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"unknown pg code", &pgconn.PgError{Code: "22012", Message: "division by zero"}, KindOther},
		{"plain error", errors.New("broken pipe"), KindConnection},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := classifyPg(tc.err)
			assert.Equal(t, tc.want, Classify(err))
		})
	}
}

func TestErrorCarriesDriverMessage(t *testing.T) {
	t.Parallel()

	err := classifyPg(&pgconn.PgError{Code: "42703", Message: `column "revnue" does not exist`})
	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, `column "revnue" does not exist`, de.Message)
}

func TestFakeScriptsAndDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := NewFake(map[string][]Column{
		"orders": {{Name: "id", Type: "bigint"}, {Name: "total", Type: "numeric", Nullable: true}},
		"Users":  {{Name: "id", Type: "bigint"}},
	})
	fake.Script("from orders", Result{Columns: []string{"n"}, Rows: [][]any{{int64(3)}}}, nil)

	res, err := fake.Execute(ctx, "SELECT count(*) AS n FROM orders", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount())

	_, err = fake.Execute(ctx, "SELECT * FROM nonexistent", 0)
	assert.Equal(t, KindSyntax, Classify(err))

	tables, err := fake.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "Users"}, tables, "table list sorts case-insensitively")

	cols, err := fake.DescribeTable(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.True(t, cols[1].Nullable)
}
