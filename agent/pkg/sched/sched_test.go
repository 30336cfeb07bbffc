package sched

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerElection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	a := NewMemoryLocker(clock)
	b := a.Instance()

	held, err := a.TryAcquire(ctx, "refresh", 2*time.Hour)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = b.TryAcquire(ctx, "refresh", 2*time.Hour)
	require.NoError(t, err)
	assert.False(t, held, "second instance loses the election")

	held, err = a.TryAcquire(ctx, "refresh", 2*time.Hour)
	require.NoError(t, err)
	assert.True(t, held, "the holder extends its own lease")

	clock.Advance(2*time.Hour + time.Minute)
	held, err = b.TryAcquire(ctx, "refresh", 2*time.Hour)
	require.NoError(t, err)
	assert.True(t, held, "an expired lease is up for grabs")
}

func TestMemoryLockerRelease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := NewMemoryLocker(clockwork.NewFakeClock())
	b := a.Instance()

	held, err := a.TryAcquire(ctx, "sweep", time.Hour)
	require.NoError(t, err)
	require.True(t, held)

	require.NoError(t, b.Release(ctx, "sweep"), "release by a non-holder is a no-op")
	held, err = b.TryAcquire(ctx, "sweep", time.Hour)
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, a.Release(ctx, "sweep"))
	held, err = b.TryAcquire(ctx, "sweep", time.Hour)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestSchedulerRunsElectedJob(t *testing.T) {
	t.Parallel()

	ran := make(chan struct{}, 1)
	s := New(nil, nil)
	require.NoError(t, s.Add(Job{
		Name:   "tick",
		Spec:   "@every 10ms",
		Period: 100 * time.Millisecond,
		Run: func(context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	}))

	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestSchedulerOnlyLockHolderRuns(t *testing.T) {
	t.Parallel()

	locker := NewMemoryLocker(nil)
	ctx := context.Background()

	// Another instance already holds the lease.
	other := locker.Instance()
	held, err := other.TryAcquire(ctx, "sched:tick", time.Hour)
	require.NoError(t, err)
	require.True(t, held)

	ran := make(chan struct{}, 1)
	s := New(locker, nil)
	require.NoError(t, s.Add(Job{
		Name:   "tick",
		Spec:   "@every 10ms",
		Period: 50 * time.Millisecond,
		Run: func(context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	}))

	s.Start()
	defer s.Stop()

	select {
	case <-ran:
		t.Fatal("non-holder must not run the job")
	case <-time.After(100 * time.Millisecond):
	}
}
