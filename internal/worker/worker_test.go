package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/cwygoda/postcatch/internal/orchestrator"
)

// mockBatcher records every batch it is asked to run.
type mockBatcher struct {
	mu    sync.Mutex
	calls []orchestrator.BatchOptions
	err   error
	block chan struct{}
}

func (b *mockBatcher) ProcessBatch(ctx context.Context, opts orchestrator.BatchOptions) (orchestrator.BatchReport, error) {
	b.mu.Lock()
	b.calls = append(b.calls, opts)
	b.mu.Unlock()
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return orchestrator.BatchReport{}, ctx.Err()
		}
	}
	return orchestrator.BatchReport{Total: 1, Succeeded: 1}, b.err
}

func (b *mockBatcher) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func TestWorker_Poll_PassesOptions(t *testing.T) {
	b := &mockBatcher{}
	opts := orchestrator.BatchOptions{Limit: 5, Platform: "twitter"}
	w := New(b, opts, time.Second, zaptest.NewLogger(t))

	w.poll(context.Background())

	if b.count() != 1 {
		t.Fatalf("batches = %d, want 1", b.count())
	}
	if b.calls[0] != opts {
		t.Errorf("opts = %+v, want %+v", b.calls[0], opts)
	}
}

func TestWorker_Poll_ErrorDoesNotPanic(t *testing.T) {
	b := &mockBatcher{err: errors.New("store down")}
	w := New(b, orchestrator.BatchOptions{Limit: 10}, time.Second, zaptest.NewLogger(t))

	w.poll(context.Background())
	w.poll(context.Background())

	if b.count() != 2 {
		t.Errorf("batches = %d, want 2", b.count())
	}
}

func TestWorker_Poll_SkipsWhenCancelled(t *testing.T) {
	b := &mockBatcher{}
	w := New(b, orchestrator.BatchOptions{}, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.poll(ctx)

	if b.count() != 0 {
		t.Errorf("batches = %d, want 0", b.count())
	}
}

func TestWorker_Run_PollsOnTick(t *testing.T) {
	b := &mockBatcher{}
	w := New(b, orchestrator.BatchOptions{Limit: 10}, 20*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for b.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("batches = %d after 1s, want at least 3", b.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestWorker_Run_Cancellation(t *testing.T) {
	b := &mockBatcher{block: make(chan struct{})}
	w := New(b, orchestrator.BatchOptions{}, 50*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Let the first batch start and block.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("worker did not stop after context cancellation")
	}
}
