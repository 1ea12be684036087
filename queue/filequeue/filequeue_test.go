package filequeue

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/semindex/queue"
)

func newFactory(t *testing.T) *Factory {
	t.Helper()
	dir := t.TempDir()
	return NewFactory(dir, nil)
}

func TestEnqueueAndDeliver(t *testing.T) {
	f := newFactory(t)
	ctx := context.Background()

	q, err := f.Connect(ctx, "extract", queue.Options{
		DequeueEnabled:   true,
		FetchBatchSize:   5,
		FetchLockSeconds: 5,
		MaxAttempts:      2,
		PollInterval:     20,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer q.Dispose(ctx)

	delivered := make(chan []byte, 1)
	q.OnDequeue(func(ctx context.Context, body []byte) (queue.Outcome, error) {
		delivered <- body
		return queue.Success, nil
	})

	if err := q.Enqueue(ctx, []byte("hello")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case body := <-delivered:
		if string(body) != "hello" {
			t.Fatalf("got %q want %q", body, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message was never delivered")
	}
}

func TestTransientErrorIsRetriedThenPoisoned(t *testing.T) {
	f := newFactory(t)
	ctx := context.Background()

	q, err := f.Connect(ctx, "partition", queue.Options{
		DequeueEnabled:   true,
		FetchBatchSize:   5,
		FetchLockSeconds: 1,
		MaxAttempts:      2,
		PollInterval:     20,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer q.Dispose(ctx)

	var mu sync.Mutex
	attempts := 0
	poisoned := make(chan struct{})
	q.OnDequeue(func(ctx context.Context, body []byte) (queue.Outcome, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n >= 2 {
			close(poisoned)
		}
		return queue.TransientError, nil
	})

	if err := q.Enqueue(ctx, []byte("retry me")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-poisoned:
	case <-time.After(5 * time.Second):
		t.Fatal("message was not retried to the poison threshold")
	}

	// Give the dispatch loop a moment to move the message to poison after
	// the final (MaxAttempts-th) delivery.
	time.Sleep(200 * time.Millisecond)

	queueDir := f.byName["partition"].dir
	entries, err := os.ReadDir(queueDir)
	if err != nil {
		t.Fatalf("read queue dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no messages left in the live queue, found %d", len(entries))
	}

	poisonDir := f.byName["partition"].poisonDir
	pentries, err := os.ReadDir(poisonDir)
	if err != nil {
		t.Fatalf("read poison dir: %v", err)
	}
	if len(pentries) != 1 {
		t.Fatalf("expected 1 poisoned message, found %d", len(pentries))
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("expected exactly 2 deliveries before poisoning, got %d", attempts)
	}
}

func TestFatalErrorPoisonsImmediately(t *testing.T) {
	f := newFactory(t)
	ctx := context.Background()

	q, err := f.Connect(ctx, "embed", queue.Options{
		DequeueEnabled:   true,
		FetchBatchSize:   5,
		FetchLockSeconds: 5,
		MaxAttempts:      5,
		PollInterval:     20,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer q.Dispose(ctx)

	done := make(chan struct{})
	var calls int
	var mu sync.Mutex
	q.OnDequeue(func(ctx context.Context, body []byte) (queue.Outcome, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
		return queue.FatalError, nil
	})

	if err := q.Enqueue(ctx, []byte("bad format")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was never delivered")
	}

	time.Sleep(200 * time.Millisecond)

	poisonDir := f.byName["embed"].poisonDir
	pentries, err := os.ReadDir(poisonDir)
	if err != nil {
		t.Fatalf("read poison dir: %v", err)
	}
	if len(pentries) != 1 {
		t.Fatalf("expected 1 poisoned message, found %d", len(pentries))
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("a fatal outcome must not be retried, got %d calls", calls)
	}
}

func TestConnectIsIdempotentPerName(t *testing.T) {
	f := newFactory(t)
	ctx := context.Background()

	q1, err := f.Connect(ctx, "save", queue.Options{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer q1.Dispose(ctx)

	q2, err := f.Connect(ctx, "save", queue.Options{})
	if err != nil {
		t.Fatalf("connect again: %v", err)
	}

	if q1 != q2 {
		t.Fatal("expected the same handle for a repeated Connect with the same name")
	}
}

func TestPublishOnlyHandleDoesNotDequeue(t *testing.T) {
	f := newFactory(t)
	ctx := context.Background()

	q, err := f.Connect(ctx, "save-only", queue.Options{DequeueEnabled: false})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer q.Dispose(ctx)

	if err := q.Enqueue(ctx, []byte("parked")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	entries, err := os.ReadDir(f.byName["save-only"].dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the message to stay parked on disk, found %d entries", len(entries))
	}
}
