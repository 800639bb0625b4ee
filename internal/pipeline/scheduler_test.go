package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunNowDoesNotOverlap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	runs := 0

	s := NewScheduler(func(ctx context.Context) error {
		runs++
		close(started)
		<-release
		return nil
	}, time.UTC, nil)

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background()) }()

	<-started
	assert.ErrorIs(t, s.RunNow(context.Background()), ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, runs)
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := NewScheduler(func(context.Context) error { return nil }, nil, nil)
	assert.Error(t, s.Start("not a cron spec"))
}

func TestScheduler_StopCancelsRun(t *testing.T) {
	started := make(chan struct{})
	s := NewScheduler(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, time.UTC, nil)
	require.NoError(t, s.Start("@every 1h"))

	go s.tick()
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestParseSchedule(t *testing.T) {
	sched, err := ParseSchedule("30 18 * * 1-5")
	require.NoError(t, err)

	// Friday 2024-01-05 19:00 UTC -> Monday 2024-01-08 18:30 UTC
	next := sched.Next(time.Date(2024, 1, 5, 19, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 8, 18, 30, 0, 0, time.UTC), next)
}
