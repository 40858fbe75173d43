package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingRunner struct {
	ticks chan struct{}
	err   error
}

func (c *countingRunner) Tick(_ context.Context) error {
	c.ticks <- struct{}{}
	return c.err
}

func waitForTick(t *testing.T, ticks <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal(msg)
	}
}

func TestScheduler_RunsImmediatelyThenOnInterval(t *testing.T) {
	runner := &countingRunner{ticks: make(chan struct{}, 32)}
	s := NewScheduler(runner, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitForTick(t, runner.ticks, "first tick should fire immediately, not after one interval")
	waitForTick(t, runner.ticks, "second tick never fired")
	waitForTick(t, runner.ticks, "third tick never fired")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}
}

func TestScheduler_SurvivesFailingTicks(t *testing.T) {
	runner := &countingRunner{
		ticks: make(chan struct{}, 32),
		err:   errors.New("tick aborted"),
	}
	s := NewScheduler(runner, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Every tick fails; the scheduler must keep going regardless.
	for i := 0; i < 3; i++ {
		waitForTick(t, runner.ticks, "scheduler stopped after a failing tick")
	}
}

func TestScheduler_StopsOnCancelledContext(t *testing.T) {
	runner := &countingRunner{ticks: make(chan struct{}, 10)}
	s := NewScheduler(runner, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() with a cancelled context should return promptly")
	}
	if len(runner.ticks) != 0 {
		t.Error("no tick should run once the context is cancelled")
	}
}
