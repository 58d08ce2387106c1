package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"dlbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestDispatch_SubmissionOrder(t *testing.T) {
	d := New(128, testLogger())
	defer d.Close()

	const n = 50
	var order []int
	futures := make([]<-chan error, 0, n)
	for i := 0; i < n; i++ {
		i := i
		futures = append(futures, d.Submit(context.Background(), func(context.Context) error {
			order = append(order, i)
			return nil
		}))
	}
	for _, f := range futures {
		if err := <-f; err != nil {
			t.Fatal(err)
		}
	}
	if len(order) != n {
		t.Fatalf("expected %d executions, got %d", n, len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("execution %d out of order: got op %d", i, got)
		}
	}
}

func TestDispatch_OneInFlight(t *testing.T) {
	d := New(64, testLogger())
	defer d.Close()

	var inflight, maxSeen atomic.Int32
	var futures []<-chan error
	for i := 0; i < 20; i++ {
		futures = append(futures, d.Submit(context.Background(), func(context.Context) error {
			cur := inflight.Add(1)
			if cur > maxSeen.Load() {
				maxSeen.Store(cur)
			}
			time.Sleep(time.Millisecond)
			inflight.Add(-1)
			return nil
		}))
	}
	for _, f := range futures {
		<-f
	}
	if maxSeen.Load() != 1 {
		t.Errorf("expected exactly one in-flight operation, saw %d", maxSeen.Load())
	}
}

func TestDispatch_FailureDoesNotBlockNext(t *testing.T) {
	d := New(8, testLogger())
	defer d.Close()

	boom := errors.New("boom")
	first := d.Submit(context.Background(), func(context.Context) error { return boom })
	second := d.Submit(context.Background(), func(context.Context) error { return nil })

	if err := <-first; !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if err := <-second; err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestDispatch_SubmitAfterClose(t *testing.T) {
	d := New(8, testLogger())
	d.Close()

	err := <-d.Submit(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, domain.ErrQueueNotStarted) {
		t.Errorf("expected ErrQueueNotStarted, got %v", err)
	}
}

func TestDispatch_DoubleCloseSafe(t *testing.T) {
	d := New(8, testLogger())
	d.Close()
	d.Close()
}

func TestDo_ReturnsOutcome(t *testing.T) {
	d := New(8, testLogger())
	defer d.Close()

	boom := errors.New("boom")
	if err := d.Do(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if err := d.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
