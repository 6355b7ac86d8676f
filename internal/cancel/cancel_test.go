package cancel

import (
	"context"
	"testing"
	"time"
)

func TestCancelIdempotent(t *testing.T) {
	h := NewHandle()
	calls := 0
	h.OnCancel(func() { calls++ })
	h.Cancel("first")
	h.Cancel("second")
	if calls != 1 {
		t.Fatalf("expected cleanup to run exactly once, ran %d times", calls)
	}
	if h.Reason() != "first" {
		t.Fatalf("expected reason from first Cancel call, got %q", h.Reason())
	}
	if !h.Fired() {
		t.Fatal("expected Fired() to be true")
	}
}

func TestOnCancelAfterFireRunsInline(t *testing.T) {
	h := NewHandle()
	h.Cancel("done")
	ran := false
	h.OnCancel(func() { ran = true })
	if !ran {
		t.Fatal("expected late subscriber to run immediately")
	}
}

func TestContextCancelledOnFire(t *testing.T) {
	h := NewHandle()
	ctx, stop := h.Context(context.Background())
	defer stop()

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.Cancel("stop")
	}()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected derived context to be cancelled")
	}
}

func TestDoneChannel(t *testing.T) {
	h := NewHandle()
	select {
	case <-h.Done():
		t.Fatal("handle should not be done before Cancel")
	default:
	}
	h.Cancel("x")
	select {
	case <-h.Done():
	default:
		t.Fatal("expected Done() to be closed after Cancel")
	}
}
