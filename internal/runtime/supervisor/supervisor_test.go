package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestFatalErrorCancelsContext(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	boom := errors.New("listen tcp :3000: bind: address already in use")
	s.Go("http.serve", func(context.Context) error {
		return boom
	})

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after fatal goroutine error")
	}
	if err := s.Err(); !errors.Is(err, boom) {
		t.Fatalf("Err() = %v, want wrapped %v", err, boom)
	}
}

func TestErrorWithoutCancelOnErrorKeepsRunning(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	defer s.Cancel()

	s.Go("worker", func(context.Context) error {
		return errors.New("transient")
	})

	select {
	case <-s.Context().Done():
		t.Fatal("context canceled without WithCancelOnError")
	case <-time.After(100 * time.Millisecond):
	}
	if s.Err() == nil {
		t.Fatal("first error not recorded")
	}
}

func TestCanceledGoroutineIsCleanExit(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v, want nil for context.Canceled exit", err)
	}
}

func TestPanicIsRecoveredAndFatal(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	s.Go("panicky", func(context.Context) error {
		panic("boom")
	})

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after panic")
	}
	if s.Err() == nil {
		t.Fatal("panic not recorded as error")
	}
}

func TestGoRestartRetriesUntilCleanExit(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	defer s.Cancel()

	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("runs = %d, want 3 (restart loop stalled)", runs.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A clean exit must stop the loop, not restart it.
	time.Sleep(300 * time.Millisecond)
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d after clean exit, want 3", got)
	}
	if s.Err() != nil {
		t.Fatalf("restarted failures must not be fatal, got %v", s.Err())
	}
}
