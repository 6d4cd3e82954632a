// Package queuetest holds delivery checks shared by every queue backend.
package queuetest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/infra/queue"
)

// Factory returns an empty queue whose ClaimNew block timeout is short
// (well under a second), plus a topic name unique to the test.
type Factory func(t *testing.T) (queue.Queue, string)

// Run exercises a queue backend.
func Run(t *testing.T, newQueue Factory) {
	t.Run("ClaimNewDeliversAppended", func(t *testing.T) { testClaimNew(t, newQueue) })
	t.Run("AtLeastOnce", func(t *testing.T) { testAtLeastOnce(t, newQueue) })
	t.Run("EnsureGroupIdempotent", func(t *testing.T) { testEnsureGroupIdempotent(t, newQueue) })
	t.Run("ClaimNewTimesOutEmpty", func(t *testing.T) { testClaimNewTimeout(t, newQueue) })
	t.Run("ClaimNewWakesOnAppend", func(t *testing.T) { testClaimNewWakes(t, newQueue) })
	t.Run("ClaimWithoutGroup", func(t *testing.T) { testClaimWithoutGroup(t, newQueue) })
	t.Run("AckEmpty", func(t *testing.T) { testAckEmpty(t, newQueue) })
	t.Run("DeliveryIDsOrdered", func(t *testing.T) { testDeliveryIDsOrdered(t, newQueue) })
	t.Run("GroupsAreIndependent", func(t *testing.T) { testGroupsIndependent(t, newQueue) })
	t.Run("ClaimStale", func(t *testing.T) { testClaimStale(t, newQueue) })
}

func tasks(names ...string) []domain.CheckTask {
	out := make([]domain.CheckTask, 0, len(names))
	for _, n := range names {
		out = append(out, domain.CheckTask{SiteID: "site-" + n, URL: "https://" + n + ".example"})
	}
	return out
}

func siteIDs(ts []domain.CheckTask) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.SiteID)
	}
	return out
}

func deliveryIDs(ts []domain.CheckTask) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.DeliveryID)
	}
	return out
}

func mustAppend(t *testing.T, q queue.Queue, topic string, ts []domain.CheckTask) []string {
	t.Helper()
	ids, err := q.AppendBatch(context.Background(), topic, ts)
	if err != nil {
		t.Fatalf("AppendBatch failed: %v", err)
	}
	if len(ids) != len(ts) {
		t.Fatalf("expected %d ids, got %d", len(ts), len(ids))
	}
	return ids
}

func mustGroup(t *testing.T, q queue.Queue, topic, group string) {
	t.Helper()
	if err := q.EnsureGroup(context.Background(), topic, group); err != nil {
		t.Fatalf("EnsureGroup failed: %v", err)
	}
}

func mustClaim(t *testing.T, q queue.Queue, topic, group, member string, mode queue.ClaimMode, n int) []domain.CheckTask {
	t.Helper()
	got, err := q.Claim(context.Background(), topic, group, member, mode, n)
	if err != nil {
		t.Fatalf("Claim(%s) failed: %v", mode, err)
	}
	return got
}

func testClaimNew(t *testing.T, newQueue Factory) {
	q, topic := newQueue(t)
	ids := mustAppend(t, q, topic, tasks("a", "b", "c"))
	mustGroup(t, q, topic, "india-1")

	got := mustClaim(t, q, topic, "india-1", "india-1_worker_1", queue.ClaimNew, 10)
	if diff := cmp.Diff([]string{"site-a", "site-b", "site-c"}, siteIDs(got)); diff != "" {
		t.Errorf("claimed sites mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ids, deliveryIDs(got)); diff != "" {
		t.Errorf("delivery ids mismatch (-want +got):\n%s", diff)
	}
	if got[0].URL != "https://a.example" {
		t.Errorf("expected url to round trip, got %q", got[0].URL)
	}
}

func testAtLeastOnce(t *testing.T, newQueue Factory) {
	q, topic := newQueue(t)
	ctx := context.Background()
	mustGroup(t, q, topic, "india-1")
	mustAppend(t, q, topic, tasks("a", "b", "c"))

	member := "india-1_worker_1"
	claimed := mustClaim(t, q, topic, "india-1", member, queue.ClaimNew, 10)
	if len(claimed) != 3 {
		t.Fatalf("expected 3 claimed, got %d", len(claimed))
	}

	// Crash before ack: the same member gets exactly the same tasks back.
	redelivered := mustClaim(t, q, topic, "india-1", member, queue.ClaimPending, 10)
	if diff := cmp.Diff(deliveryIDs(claimed), deliveryIDs(redelivered)); diff != "" {
		t.Fatalf("pending redelivery mismatch (-want +got):\n%s", diff)
	}

	// Another member in the group does not see them as pending.
	if other := mustClaim(t, q, topic, "india-1", "someone-else", queue.ClaimPending, 10); len(other) != 0 {
		t.Errorf("expected no pending for other member, got %d", len(other))
	}

	n, err := q.Ack(ctx, topic, "india-1", deliveryIDs(claimed))
	if err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 acked, got %d", n)
	}
	if after := mustClaim(t, q, topic, "india-1", member, queue.ClaimPending, 10); len(after) != 0 {
		t.Errorf("expected empty pending after ack, got %d", len(after))
	}

	n, err = q.Ack(ctx, topic, "india-1", deliveryIDs(claimed))
	if err != nil {
		t.Fatalf("second Ack failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected re-ack to count 0, got %d", n)
	}
}

func testEnsureGroupIdempotent(t *testing.T, newQueue Factory) {
	q, topic := newQueue(t)
	mustAppend(t, q, topic, tasks("a", "b"))
	mustGroup(t, q, topic, "g")

	first := mustClaim(t, q, topic, "g", "m", queue.ClaimNew, 1)
	if diff := cmp.Diff([]string{"site-a"}, siteIDs(first)); diff != "" {
		t.Fatalf("first claim mismatch (-want +got):\n%s", diff)
	}

	mustGroup(t, q, topic, "g")

	second := mustClaim(t, q, topic, "g", "m", queue.ClaimNew, 10)
	if diff := cmp.Diff([]string{"site-b"}, siteIDs(second)); diff != "" {
		t.Errorf("cursor moved after EnsureGroup (-want +got):\n%s", diff)
	}
}

func testClaimNewTimeout(t *testing.T, newQueue Factory) {
	q, topic := newQueue(t)
	mustGroup(t, q, topic, "g")

	start := time.Now()
	got, err := q.Claim(context.Background(), topic, "g", "m", queue.ClaimNew, 10)
	if err != nil {
		t.Fatalf("expected timeout to be a normal empty result, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no tasks, got %d", len(got))
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("claim blocked for %s", elapsed)
	}
}

func testClaimNewWakes(t *testing.T, newQueue Factory) {
	q, topic := newQueue(t)
	mustGroup(t, q, topic, "g")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = q.Append(context.Background(), topic, domain.CheckTask{SiteID: "site-late", URL: "https://late.example"})
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got := mustClaim(t, q, topic, "g", "m", queue.ClaimNew, 10)
		if len(got) == 1 && got[0].SiteID == "site-late" {
			return
		}
		if len(got) > 1 {
			t.Fatalf("unexpected tasks: %+v", got)
		}
	}
	t.Fatal("appended task was never delivered")
}

func testClaimWithoutGroup(t *testing.T, newQueue Factory) {
	q, topic := newQueue(t)
	mustAppend(t, q, topic, tasks("a"))

	_, err := q.Claim(context.Background(), topic, "missing", "m", queue.ClaimPending, 10)
	if !errors.Is(err, queue.ErrNoGroup) {
		t.Errorf("expected ErrNoGroup, got %v", err)
	}
}

func testAckEmpty(t *testing.T, newQueue Factory) {
	q, topic := newQueue(t)
	mustGroup(t, q, topic, "g")
	n, err := q.Ack(context.Background(), topic, "g", nil)
	if err != nil || n != 0 {
		t.Errorf("Ack(nil) = %d, %v; want 0, nil", n, err)
	}
}

// CompareIDs orders "<ms>-<seq>" delivery ids.
func CompareIDs(a, b string) int {
	am, as, _ := strings.Cut(a, "-")
	bm, bs, _ := strings.Cut(b, "-")
	ami, _ := strconv.ParseInt(am, 10, 64)
	bmi, _ := strconv.ParseInt(bm, 10, 64)
	if ami != bmi {
		if ami < bmi {
			return -1
		}
		return 1
	}
	asi, _ := strconv.ParseInt(as, 10, 64)
	bsi, _ := strconv.ParseInt(bs, 10, 64)
	switch {
	case asi < bsi:
		return -1
	case asi > bsi:
		return 1
	}
	return 0
}

func testDeliveryIDsOrdered(t *testing.T, newQueue Factory) {
	q, topic := newQueue(t)
	ids := mustAppend(t, q, topic, tasks("a", "b", "c"))
	single, err := q.Append(context.Background(), topic, tasks("d")[0])
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	ids = append(ids, single)

	for i := 1; i < len(ids); i++ {
		if CompareIDs(ids[i-1], ids[i]) >= 0 {
			t.Errorf("ids not strictly increasing: %s then %s", ids[i-1], ids[i])
		}
	}
}

func testGroupsIndependent(t *testing.T, newQueue Factory) {
	q, topic := newQueue(t)
	mustGroup(t, q, topic, "india-1")
	mustGroup(t, q, topic, "us-east-1")
	mustAppend(t, q, topic, tasks("a", "b"))

	india := mustClaim(t, q, topic, "india-1", "india-1_worker_1", queue.ClaimNew, 10)
	us := mustClaim(t, q, topic, "us-east-1", "us-east-1_worker_1", queue.ClaimNew, 10)
	if len(india) != 2 || len(us) != 2 {
		t.Fatalf("expected every group to receive every task, got %d and %d", len(india), len(us))
	}

	if _, err := q.Ack(context.Background(), topic, "india-1", deliveryIDs(india)); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if pending := mustClaim(t, q, topic, "us-east-1", "us-east-1_worker_1", queue.ClaimPending, 10); len(pending) != 2 {
		t.Errorf("ack in one group leaked into another: %d pending", len(pending))
	}
}

func testClaimStale(t *testing.T, newQueue Factory) {
	q, topic := newQueue(t)
	mustGroup(t, q, topic, "g")
	mustAppend(t, q, topic, tasks("a", "b"))

	if got := mustClaim(t, q, topic, "g", "crashed", queue.ClaimNew, 10); len(got) != 2 {
		t.Fatalf("expected 2 claimed, got %d", len(got))
	}

	// Fresh deliveries are not stale yet.
	fresh, err := q.ClaimStale(context.Background(), topic, "g", "rescuer", time.Hour, 10)
	if err != nil {
		t.Fatalf("ClaimStale failed: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("expected nothing stale, got %d", len(fresh))
	}

	time.Sleep(30 * time.Millisecond)
	stolen, err := q.ClaimStale(context.Background(), topic, "g", "rescuer", 10*time.Millisecond, 10)
	if err != nil {
		t.Fatalf("ClaimStale failed: %v", err)
	}
	if diff := cmp.Diff([]string{"site-a", "site-b"}, siteIDs(stolen)); diff != "" {
		t.Errorf("stale claim mismatch (-want +got):\n%s", diff)
	}

	if left := mustClaim(t, q, topic, "g", "crashed", queue.ClaimPending, 10); len(left) != 0 {
		t.Errorf("expected crashed member to lose ownership, still has %d", len(left))
	}
	if owned := mustClaim(t, q, topic, "g", "rescuer", queue.ClaimPending, 10); len(owned) != 2 {
		t.Errorf("expected rescuer to own 2, got %d", len(owned))
	}
}
