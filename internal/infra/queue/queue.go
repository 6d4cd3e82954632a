package queue

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/uptime/internal/core/domain"
)

var (
	// ErrNoGroup is returned when claiming from a group that was never created
	ErrNoGroup = errors.New("consumer group does not exist")

	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("queue closed")
)

// ClaimMode selects which entries a claim delivers.
type ClaimMode int

const (
	// ClaimPending re-delivers entries this member claimed but never acked.
	// It never blocks.
	ClaimPending ClaimMode = iota
	// ClaimNew delivers entries nobody in the group has claimed yet, waiting
	// up to the queue's block timeout when there are none.
	ClaimNew
)

func (m ClaimMode) String() string {
	switch m {
	case ClaimPending:
		return "pending"
	case ClaimNew:
		return "new"
	default:
		return "unknown"
	}
}

// Queue is a durable, replayable log of check tasks with consumer groups.
//
// Claim returning an empty slice with a nil error is the normal "no work"
// outcome; any non-nil error should be treated as a connectivity problem.
type Queue interface {
	Append(ctx context.Context, topic string, task domain.CheckTask) (string, error)
	AppendBatch(ctx context.Context, topic string, tasks []domain.CheckTask) ([]string, error)

	// EnsureGroup creates the group at the start of the topic if absent.
	// Calling it again never moves the group's cursor.
	EnsureGroup(ctx context.Context, topic, group string) error

	Claim(ctx context.Context, topic, group, member string, mode ClaimMode, count int) ([]domain.CheckTask, error)

	// ClaimStale takes over entries any member has held unacknowledged for at
	// least minIdle.
	ClaimStale(ctx context.Context, topic, group, member string, minIdle time.Duration, count int) ([]domain.CheckTask, error)

	// Ack removes deliveries from the group's pending set and reports how
	// many were pending.
	Ack(ctx context.Context, topic, group string, ids []string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

const memberSuffix = "_worker_1"

// GroupName is the consumer group a region's worker joins.
func GroupName(region string) string {
	return region
}

// MemberName is the consumer name of a region's worker within its group.
func MemberName(region string) string {
	return region + memberSuffix
}
