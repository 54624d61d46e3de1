package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/omnibill/pkg/logger"
	"github.com/dmitrymomot/omnibill/pkg/scheduler"
)

func TestDaily(t *testing.T) {
	t.Parallel()

	s := scheduler.Daily(0, 0, nil)
	assert.Equal(t, "daily at 00:00 UTC", s.String())

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{
			name: "later today",
			from: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC).Add(-time.Minute),
			want: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly at run time moves to tomorrow",
			from: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "month rollover",
			from: time.Date(2025, 1, 31, 15, 0, 0, 0, time.UTC),
			want: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.want.Equal(s.Next(tt.from)))
		})
	}
}

func TestEvery(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := scheduler.Every(time.Hour)
	assert.Equal(t, base.Add(time.Hour), s.Next(base))
	assert.Equal(t, "every 1h0m0s", s.String())
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	h, m, err := scheduler.ParseClock("03:30")
	require.NoError(t, err)
	assert.Equal(t, 3, h)
	assert.Equal(t, 30, m)

	for _, bad := range []string{"", "3", "24:00", "12:60", "ab:cd"} {
		_, _, err := scheduler.ParseClock(bad)
		assert.ErrorIs(t, err, scheduler.ErrInvalidClock, bad)
	}
}

func TestScheduler_AddJob(t *testing.T) {
	t.Parallel()
	s := scheduler.New(scheduler.WithLogger(logger.Discard()))
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.AddJob("sweep", scheduler.Every(time.Hour), noop))
	assert.ErrorIs(t, s.AddJob("sweep", scheduler.Every(time.Hour), noop), scheduler.ErrJobAlreadyRegistered)
}

func TestScheduler_StartWithoutJobs(t *testing.T) {
	t.Parallel()
	err := scheduler.New(scheduler.WithLogger(logger.Discard())).Start(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrNoJobs)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := scheduler.New(
		scheduler.WithLogger(logger.Discard()),
		scheduler.WithCheckInterval(5*time.Millisecond),
	)
	require.NoError(t, s.AddJob("tick", scheduler.Every(time.Millisecond), func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	t.Parallel()

	var (
		started atomic.Int32
		release = make(chan struct{})
	)
	s := scheduler.New(
		scheduler.WithLogger(logger.Discard()),
		scheduler.WithCheckInterval(2*time.Millisecond),
	)
	require.NoError(t, s.AddJob("slow", scheduler.Every(time.Millisecond), func(ctx context.Context) error {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), started.Load())

	close(release)
	cancel()
	<-done
}
