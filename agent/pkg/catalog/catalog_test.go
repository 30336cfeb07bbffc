package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landmarklabs/sqlchat/agent/pkg/cache"
	"github.com/landmarklabs/sqlchat/agent/pkg/db"
)

var testSchema = map[string][]db.Column{
	"orders": {
		{Name: "id", Type: "bigint"},
		{Name: "user_id", Type: "bigint", Comment: "FK to users"},
		{Name: "total", Type: "numeric", Nullable: true},
	},
	"users": {
		{Name: "id", Type: "bigint"},
		{Name: "email", Type: "text"},
	},
}

func TestRenderDDLDeterministic(t *testing.T) {
	t.Parallel()

	want := `CREATE TABLE orders (
    id bigint NOT NULL,
    user_id bigint NOT NULL, -- FK to users
    total numeric
);`
	got := RenderDDL("orders", testSchema["orders"])
	assert.Equal(t, want, got)
	assert.Equal(t, got, RenderDDL("orders", testSchema["orders"]))
}

func TestDDLIsCached(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := db.NewFake(testSchema)
	cat := New(fake, cache.NewMemoryStore(), time.Hour, nil)

	first, err := cat.DDL(ctx, "users")
	require.NoError(t, err)

	// Second read must come from the cache even if the table vanishes.
	cat2 := New(db.NewFake(nil), cat.store, time.Hour, nil)
	second, err := cat2.DDL(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTablesSortedAndCached(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := db.NewFake(testSchema)
	cat := New(fake, cache.NewMemoryStore(), time.Hour, nil)

	tables, err := cat.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, tables)
}

func TestBundleSkipsUnknownTables(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := New(db.NewFake(testSchema), cache.NewMemoryStore(), time.Hour, nil)

	bundle, err := cat.Bundle(ctx, []string{"orders", "phantom", "users"})
	require.NoError(t, err)
	assert.Contains(t, bundle, "CREATE TABLE orders")
	assert.Contains(t, bundle, "CREATE TABLE users")
	assert.NotContains(t, bundle, "phantom")
}

func TestRefreshIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := New(db.NewFake(testSchema), cache.NewMemoryStore(), time.Hour, nil)

	require.NoError(t, cat.Refresh(ctx))
	first, err := cat.DDL(ctx, "orders")
	require.NoError(t, err)

	require.NoError(t, cat.Refresh(ctx))
	second, err := cat.DDL(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
