package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landmarklabs/sqlchat/agent/pkg/cache"
)

func newTestService(t *testing.T, limit int) (*Service, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := cache.NewMemoryStoreWithClock(clock)
	return New(store, limit, 24*time.Hour, clock, nil), clock
}

func TestAppendAndRecentOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestService(t, 10)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Append(ctx, "s1", Entry{
			Question: fmt.Sprintf("q%d", i),
			SQL:      fmt.Sprintf("SELECT %d", i),
		}))
	}

	got, err := svc.Recent(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "q1", got[0].Question)
	assert.Equal(t, "q2", got[1].Question, "most recent entry comes last")
}

func TestHistoryCapDropsOldest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestService(t, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Append(ctx, "s1", Entry{Question: fmt.Sprintf("q%d", i)}))
	}

	got, err := svc.Recent(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "q2", got[0].Question)

	stats, ok := svc.Stats(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, 5, stats.QueryCount, "query count survives history trimming")
	assert.Equal(t, 3, stats.HistorySize)
}

func TestHistoryDigestTracksContent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestService(t, 10)

	empty, err := svc.HistoryDigest(ctx, "s1")
	require.NoError(t, err)

	otherEmpty, err := svc.HistoryDigest(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, empty, otherEmpty, "all empty sessions share one digest")

	require.NoError(t, svc.Append(ctx, "s1", Entry{Question: "q", SQL: "SELECT 1"}))
	after, err := svc.HistoryDigest(ctx, "s1")
	require.NoError(t, err)
	assert.NotEqual(t, empty, after)

	again, err := svc.HistoryDigest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, after, again, "digest is stable between reads")
}

func TestSessionExpiryAndTouch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, clock := newTestService(t, 10)

	require.NoError(t, svc.Append(ctx, "s1", Entry{Question: "q"}))

	clock.Advance(23 * time.Hour)
	require.NoError(t, svc.Touch(ctx, "s1"))

	// Touch refreshed the TTL; the session survives past the original expiry.
	clock.Advance(2 * time.Hour)
	_, ok := svc.Stats(ctx, "s1")
	assert.True(t, ok)

	clock.Advance(25 * time.Hour)
	_, ok = svc.Stats(ctx, "s1")
	assert.False(t, ok, "untouched session expires after the TTL")
}

func TestClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestService(t, 10)

	require.NoError(t, svc.Append(ctx, "s1", Entry{Question: "q"}))
	require.NoError(t, svc.Clear(ctx, "s1"))

	_, ok := svc.Stats(ctx, "s1")
	assert.False(t, ok)
	got, err := svc.Recent(ctx, "s1", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
