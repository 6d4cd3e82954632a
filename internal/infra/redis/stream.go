package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/uptime/internal/core/domain"
	"github.com/vietddude/uptime/internal/infra/queue"
)

// StreamQueue implements queue.Queue on Redis Streams consumer groups.
type StreamQueue struct {
	*Client
	blockTimeout time.Duration
}

var _ queue.Queue = (*StreamQueue)(nil)

// NewStreamQueue uses the client for all stream operations. blockTimeout
// bounds XREADGROUP waits for new entries.
func NewStreamQueue(c *Client, blockTimeout time.Duration) *StreamQueue {
	if blockTimeout <= 0 {
		blockTimeout = 5 * time.Second
	}
	return &StreamQueue{Client: c, blockTimeout: blockTimeout}
}

// Append adds one task with XADD.
func (q *StreamQueue) Append(ctx context.Context, topic string, task domain.CheckTask) (string, error) {
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: task.Fields(),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd failed: %w", err)
	}
	return id, nil
}

// AppendBatch adds all tasks in one MULTI/EXEC round trip.
func (q *StreamQueue) AppendBatch(ctx context.Context, topic string, tasks []domain.CheckTask) ([]string, error) {
	if len(tasks) == 0 {
		return []string{}, nil
	}

	cmds, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range tasks {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: topic,
				Values: t.Fields(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("batch xadd failed: %w", err)
	}

	ids := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		sc, ok := cmd.(*redis.StringCmd)
		if !ok {
			return nil, fmt.Errorf("unexpected pipeline reply %T", cmd)
		}
		ids = append(ids, sc.Val())
	}
	return ids, nil
}

// EnsureGroup creates the group at the start of the stream, creating the
// stream too if needed. An existing group is left untouched.
func (q *StreamQueue) EnsureGroup(ctx context.Context, topic, group string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create failed: %w", err)
	}
	return nil
}

// Claim reads with XREADGROUP, cursor "0" for pending and ">" for new.
func (q *StreamQueue) Claim(
	ctx context.Context,
	topic, group, member string,
	mode queue.ClaimMode,
	count int,
) ([]domain.CheckTask, error) {
	if count <= 0 {
		count = 1
	}
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: member,
		Count:    int64(count),
	}
	switch mode {
	case queue.ClaimPending:
		args.Streams = []string{topic, "0"}
		args.Block = -1 // no BLOCK argument
	case queue.ClaimNew:
		args.Streams = []string{topic, ">"}
		args.Block = q.blockTimeout
	default:
		return nil, fmt.Errorf("unknown claim mode %d", mode)
	}

	streams, err := q.rdb.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return []domain.CheckTask{}, nil
	}
	if err != nil {
		return nil, classify(err, "xreadgroup")
	}

	var out []domain.CheckTask
	for _, s := range streams {
		out = append(out, toTasks(s.Messages)...)
	}
	if out == nil {
		out = []domain.CheckTask{}
	}
	return out, nil
}

// ClaimStale transfers idle pending entries to member with XAUTOCLAIM.
func (q *StreamQueue) ClaimStale(
	ctx context.Context,
	topic, group, member string,
	minIdle time.Duration,
	count int,
) ([]domain.CheckTask, error) {
	if count <= 0 {
		count = 1
	}
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   topic,
		Group:    group,
		Consumer: member,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if errors.Is(err, redis.Nil) {
		return []domain.CheckTask{}, nil
	}
	if err != nil {
		return nil, classify(err, "xautoclaim")
	}
	return toTasks(msgs), nil
}

// Ack acknowledges deliveries with XACK.
func (q *StreamQueue) Ack(ctx context.Context, topic, group string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := q.rdb.XAck(ctx, topic, group, ids...).Result()
	if err != nil {
		return 0, classify(err, "xack")
	}
	return n, nil
}

func classify(err error, op string) error {
	if strings.HasPrefix(err.Error(), "NOGROUP") {
		return fmt.Errorf("%s: %w: %v", op, queue.ErrNoGroup, err)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

// toTasks decodes stream entries. Entries trimmed from the stream while
// still pending come back with no values; they keep their id so they can
// still be acknowledged.
func toTasks(msgs []redis.XMessage) []domain.CheckTask {
	out := make([]domain.CheckTask, 0, len(msgs))
	for _, m := range msgs {
		t := domain.CheckTask{DeliveryID: m.ID}
		if v, ok := m.Values[domain.TaskFieldSiteID].(string); ok {
			t.SiteID = v
		}
		if v, ok := m.Values[domain.TaskFieldURL].(string); ok {
			t.URL = v
		}
		out = append(out, t)
	}
	return out
}
