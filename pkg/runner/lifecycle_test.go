package runner

import (
	"context"
	"errors"
	"testing"
	"time"
)

func init() {
	BannerOutput = nil
}

func TestLifecycleRunnerDrainsOnCancel(t *testing.T) {
	var started, stopped, drained bool
	lr := NewLifecycleRunner(DrainerFunc(func(ctx context.Context) error {
		drained = true
		return nil
	}), Hooks{
		OnStart: func() { started = true },
		OnStop:  func(time.Duration, error) { stopped = true },
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lr.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for lr.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run error: %v", err)
	}
	if !started || !stopped || !drained {
		t.Fatalf("expected hooks and drain, got started=%v stopped=%v drained=%v", started, stopped, drained)
	}
	if lr.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", lr.State())
	}
	if err := lr.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected second run to fail, got %v", err)
	}
	select {
	case <-lr.Done():
	default:
		t.Fatalf("Done should be closed after drain")
	}
}

func TestLifecycleRunnerDrainTimeout(t *testing.T) {
	lr := NewLifecycleRunner(DrainerFunc(func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}), Hooks{}, 20*time.Millisecond)
	var hookErr error
	lr.hooks.OnStop = func(_ time.Duration, err error) { hookErr = err }
	if err := lr.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
	if !errors.Is(hookErr, ErrDrainTimeout) {
		t.Fatalf("OnStop should see the drain error, got %v", hookErr)
	}
	if err := lr.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("second Stop should return the same error, got %v", err)
	}
}

func TestLifecycleRunnerConcurrentStopWaitsForDrain(t *testing.T) {
	release := make(chan struct{})
	lr := NewLifecycleRunner(DrainerFunc(func(ctx context.Context) error {
		<-release
		return nil
	}), Hooks{}, time.Second)

	first := make(chan error, 1)
	go func() { first <- lr.Stop() }()
	second := make(chan error, 1)
	go func() { second <- lr.Stop() }()

	select {
	case <-second:
		t.Fatalf("Stop returned before the drain finished")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	for _, ch := range []chan error{first, second} {
		if err := <-ch; err != nil {
			t.Fatalf("stop: %v", err)
		}
	}
	if lr.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", lr.State())
	}
}
