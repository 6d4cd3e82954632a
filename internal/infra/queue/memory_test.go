package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/infra/queue"
	"github.com/vietddude/uptime/internal/infra/queue/queuetest"
)

func TestMemory(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) (queue.Queue, string) {
		q := queue.NewMemory(100 * time.Millisecond)
		t.Cleanup(func() { q.Close() })
		return q, "uptime:checks"
	})
}

func TestMemory_ClosedQueue(t *testing.T) {
	q := queue.NewMemory(time.Second)
	ctx := context.Background()
	if err := q.EnsureGroup(ctx, "t", "g"); err != nil {
		t.Fatalf("EnsureGroup failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := q.Claim(ctx, "t", "g", "m", queue.ClaimNew, 1)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		if !errors.Is(err, queue.ErrClosed) {
			t.Errorf("expected blocked claim to return ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked claim did not return after Close")
	}

	if _, err := q.Append(ctx, "t", domain.CheckTask{SiteID: "s"}); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("expected ErrClosed from Append, got %v", err)
	}
	if err := q.Ping(ctx); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("expected ErrClosed from Ping, got %v", err)
	}
}

func TestMemory_ClaimNewRespectsContext(t *testing.T) {
	q := queue.NewMemory(time.Minute)
	defer q.Close()
	if err := q.EnsureGroup(context.Background(), "t", "g"); err != nil {
		t.Fatalf("EnsureGroup failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Claim(ctx, "t", "g", "m", queue.ClaimNew, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context deadline, got %v", err)
	}
}

func TestMemory_Pending(t *testing.T) {
	q := queue.NewMemory(time.Second)
	defer q.Close()
	ctx := context.Background()
	_ = q.EnsureGroup(ctx, "t", "g")
	_, _ = q.Append(ctx, "t", domain.CheckTask{SiteID: "s"})
	if _, err := q.Claim(ctx, "t", "g", "m", queue.ClaimNew, 1); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if n := q.Pending("t", "g"); n != 1 {
		t.Errorf("expected 1 pending, got %d", n)
	}
}

func TestNames(t *testing.T) {
	if queue.GroupName("india-1") != "india-1" {
		t.Errorf("unexpected group name %q", queue.GroupName("india-1"))
	}
	if queue.MemberName("india-1") != "india-1_worker_1" {
		t.Errorf("unexpected member name %q", queue.MemberName("india-1"))
	}
}
