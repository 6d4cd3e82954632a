package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/uptime/internal/core/domain"
)

type entryID struct {
	ms  int64
	seq int64
}

func (id entryID) String() string {
	return strconv.FormatInt(id.ms, 10) + "-" + strconv.FormatInt(id.seq, 10)
}

func (id entryID) less(o entryID) bool {
	if id.ms != o.ms {
		return id.ms < o.ms
	}
	return id.seq < o.seq
}

func parseEntryID(s string) (entryID, error) {
	msPart, seqPart, ok := strings.Cut(s, "-")
	if !ok {
		return entryID{}, fmt.Errorf("invalid delivery id %q", s)
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return entryID{}, fmt.Errorf("invalid delivery id %q: %w", s, err)
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return entryID{}, fmt.Errorf("invalid delivery id %q: %w", s, err)
	}
	return entryID{ms: ms, seq: seq}, nil
}

type entry struct {
	id   entryID
	task domain.CheckTask
}

type pendingEntry struct {
	member      string
	deliveredAt time.Time
	deliveries  int
}

type group struct {
	next    int // index into stream.entries of the first undelivered entry
	pending map[string]*pendingEntry
}

type stream struct {
	entries []entry
	index   map[string]int
	last    entryID
	groups  map[string]*group
	notify  chan struct{} // closed and replaced on every append
}

// Memory is an in-process stream queue with the same delivery semantics as
// the Redis Streams backend.
type Memory struct {
	mu           sync.Mutex
	streams      map[string]*stream
	blockTimeout time.Duration
	closed       bool
	done         chan struct{}
	now          func() time.Time
}

var _ Queue = (*Memory)(nil)

// NewMemory creates an empty queue. blockTimeout bounds ClaimNew waits.
func NewMemory(blockTimeout time.Duration) *Memory {
	if blockTimeout <= 0 {
		blockTimeout = 5 * time.Second
	}
	return &Memory{
		streams:      make(map[string]*stream),
		blockTimeout: blockTimeout,
		done:         make(chan struct{}),
		now:          time.Now,
	}
}

func (q *Memory) streamLocked(topic string) *stream {
	s, ok := q.streams[topic]
	if !ok {
		s = &stream{
			index:  make(map[string]int),
			groups: make(map[string]*group),
			notify: make(chan struct{}),
		}
		q.streams[topic] = s
	}
	return s
}

func (q *Memory) nextIDLocked(s *stream) entryID {
	ms := q.now().UnixMilli()
	if ms > s.last.ms {
		s.last = entryID{ms: ms}
	} else {
		s.last = entryID{ms: s.last.ms, seq: s.last.seq + 1}
	}
	return s.last
}

func (q *Memory) Append(ctx context.Context, topic string, task domain.CheckTask) (string, error) {
	ids, err := q.AppendBatch(ctx, topic, []domain.CheckTask{task})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (q *Memory) AppendBatch(ctx context.Context, topic string, tasks []domain.CheckTask) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}

	s := q.streamLocked(topic)
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		id := q.nextIDLocked(s)
		t.DeliveryID = id.String()
		s.index[t.DeliveryID] = len(s.entries)
		s.entries = append(s.entries, entry{id: id, task: t})
		ids = append(ids, t.DeliveryID)
	}
	if len(tasks) > 0 {
		close(s.notify)
		s.notify = make(chan struct{})
	}
	return ids, nil
}

func (q *Memory) EnsureGroup(ctx context.Context, topic, name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	s := q.streamLocked(topic)
	if _, ok := s.groups[name]; ok {
		return nil
	}
	s.groups[name] = &group{pending: make(map[string]*pendingEntry)}
	return nil
}

func (q *Memory) Claim(
	ctx context.Context,
	topic, name, member string,
	mode ClaimMode,
	count int,
) ([]domain.CheckTask, error) {
	if count <= 0 {
		count = 1
	}
	switch mode {
	case ClaimPending:
		return q.claimPending(topic, name, member, count)
	case ClaimNew:
		return q.claimNew(ctx, topic, name, member, count)
	default:
		return nil, fmt.Errorf("unknown claim mode %d", mode)
	}
}

func (q *Memory) groupLocked(topic, name string) (*stream, *group, error) {
	if q.closed {
		return nil, nil, ErrClosed
	}
	s, ok := q.streams[topic]
	if !ok {
		return nil, nil, ErrNoGroup
	}
	g, ok := s.groups[name]
	if !ok {
		return nil, nil, ErrNoGroup
	}
	return s, g, nil
}

func (q *Memory) claimPending(topic, name, member string, count int) ([]domain.CheckTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, g, err := q.groupLocked(topic, name)
	if err != nil {
		return nil, err
	}

	var idx []int
	for id, p := range g.pending {
		if p.member == member {
			idx = append(idx, s.index[id])
		}
	}
	sort.Ints(idx)
	if len(idx) > count {
		idx = idx[:count]
	}

	now := q.now()
	out := make([]domain.CheckTask, 0, len(idx))
	for _, i := range idx {
		e := s.entries[i]
		p := g.pending[e.task.DeliveryID]
		p.deliveredAt = now
		p.deliveries++
		out = append(out, e.task)
	}
	return out, nil
}

func (q *Memory) claimNew(ctx context.Context, topic, name, member string, count int) ([]domain.CheckTask, error) {
	timer := time.NewTimer(q.blockTimeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		s, g, err := q.groupLocked(topic, name)
		if err != nil {
			q.mu.Unlock()
			return nil, err
		}
		if g.next < len(s.entries) {
			end := min(g.next+count, len(s.entries))
			now := q.now()
			out := make([]domain.CheckTask, 0, end-g.next)
			for _, e := range s.entries[g.next:end] {
				g.pending[e.task.DeliveryID] = &pendingEntry{member: member, deliveredAt: now, deliveries: 1}
				out = append(out, e.task)
			}
			g.next = end
			q.mu.Unlock()
			return out, nil
		}
		wake := s.notify
		q.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return []domain.CheckTask{}, nil
		case <-q.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *Memory) ClaimStale(
	ctx context.Context,
	topic, name, member string,
	minIdle time.Duration,
	count int,
) ([]domain.CheckTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, g, err := q.groupLocked(topic, name)
	if err != nil {
		return nil, err
	}

	now := q.now()
	var idx []int
	for id, p := range g.pending {
		if now.Sub(p.deliveredAt) >= minIdle {
			idx = append(idx, s.index[id])
		}
	}
	sort.Ints(idx)
	if count > 0 && len(idx) > count {
		idx = idx[:count]
	}

	out := make([]domain.CheckTask, 0, len(idx))
	for _, i := range idx {
		e := s.entries[i]
		p := g.pending[e.task.DeliveryID]
		p.member = member
		p.deliveredAt = now
		p.deliveries++
		out = append(out, e.task)
	}
	return out, nil
}

func (q *Memory) Ack(ctx context.Context, topic, name string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	_, g, err := q.groupLocked(topic, name)
	if err != nil {
		return 0, err
	}

	var acked int64
	for _, id := range ids {
		if _, err := parseEntryID(id); err != nil {
			return acked, err
		}
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			acked++
		}
	}
	return acked, nil
}

// Pending reports how many deliveries in the group are awaiting ack.
func (q *Memory) Pending(topic, name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, g, err := q.groupLocked(topic, name)
	if err != nil {
		return 0
	}
	return len(g.pending)
}

func (q *Memory) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
