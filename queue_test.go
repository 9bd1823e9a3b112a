package analytics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func testTrack(id string) *Track {
	return &Track{BaseAction: BaseAction{ID: id, UserID: "user"}, Event: "event"}
}

func TestQueueDrainPreservesFIFO(t *testing.T) {
	q := NewQueue(0)
	for i := 0; i < 5; i++ {
		if err := q.Push(context.Background(), testTrack(fmt.Sprint(i))); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	first := q.Drain(3)
	second := q.Drain(10)
	if len(first) != 3 || len(second) != 2 {
		t.Fatalf("unexpected drain sizes %d and %d", len(first), len(second))
	}
	for i, action := range append(first, second...) {
		if action.MessageID() != fmt.Sprint(i) {
			t.Fatalf("expected id %d at position %d, got %s", i, i, action.MessageID())
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
	if got := q.Drain(1); got != nil {
		t.Fatalf("expected nil drain from empty queue, got %v", got)
	}
}

func TestQueuePushRejectsWhenFull(t *testing.T) {
	q := NewQueue(1)
	if err := q.Push(context.Background(), testTrack("a")); err != nil {
		t.Fatalf("push: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := q.Push(ctx, testTrack("b"))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("push returned before the enqueue timeout")
	}
}

func TestQueuePushWaitsForRoom(t *testing.T) {
	q := NewQueue(1)
	if err := q.Push(context.Background(), testTrack("a")); err != nil {
		t.Fatalf("push: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Push(context.Background(), testTrack("b"))
	}()

	select {
	case err := <-done:
		t.Fatalf("push returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	q.Drain(1)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("push: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked push did not resume after drain")
	}
	if q.Len() != 1 {
		t.Fatalf("expected one queued action, got %d", q.Len())
	}
}

func TestQueueCloseReturnsRemaining(t *testing.T) {
	q := NewQueue(1)
	if err := q.Push(context.Background(), testTrack("a")); err != nil {
		t.Fatalf("push: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Push(context.Background(), testTrack("b"))
	}()
	time.Sleep(10 * time.Millisecond)

	rest := q.Close()
	if len(rest) != 1 || rest[0].MessageID() != "a" {
		t.Fatalf("unexpected remaining actions: %v", rest)
	}
	if err := <-blocked; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed for blocked producer, got %v", err)
	}
	if err := q.Push(context.Background(), testTrack("c")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if !q.Closed() {
		t.Fatal("expected queue to report closed")
	}
	if rest := q.Close(); rest != nil {
		t.Fatalf("second close must return nil, got %v", rest)
	}
}

func TestQueueChangedFiresOnPush(t *testing.T) {
	q := NewQueue(0)
	changed := q.Changed()

	if err := q.Push(context.Background(), testTrack("a")); err != nil {
		t.Fatalf("push: %v", err)
	}
	select {
	case <-changed:
	default:
		t.Fatal("expected change signal after push")
	}
}

func TestQueuePushFuncRunsHookOnlyOnAccept(t *testing.T) {
	q := NewQueue(1)
	accepted := 0
	hook := func() {
		// Runs under the queue lock.
		if len(q.items) != accepted {
			t.Fatal("hook ran after the action became visible")
		}
		accepted++
	}

	if err := q.PushFunc(context.Background(), testTrack("a"), hook); err != nil {
		t.Fatalf("push: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.PushFunc(ctx, testTrack("b"), hook); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if accepted != 1 {
		t.Fatalf("expected hook to run once, ran %d times", accepted)
	}
}
