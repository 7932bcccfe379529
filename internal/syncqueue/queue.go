// Package syncqueue buffers local mutations while a device is offline and
// replays them in dependency order with bounded retry and backoff. It is
// the client-side half of the sync protocol; the server never sees it.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Priority levels. Higher values transmit first; insertion order breaks
// ties, so same-priority operations replay in their original relative
// order.
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// Operation is one pending local mutation awaiting transmission.
type Operation struct {
	ID         string
	Type       string
	Payload    json.RawMessage
	Priority   int
	DependsOn  string // ID of an operation that must transmit first
	CreatedAt  time.Time
	RetryCount int

	seq         uint64
	nextAttempt time.Time
}

// Sender transmits one operation to the server. An error marks the attempt
// failed; the queue reschedules with backoff.
type Sender interface {
	Send(ctx context.Context, op *Operation) error
}

// Config tunes queue bounds and backoff.
type Config struct {
	Capacity    int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:    200,
		BackoffBase: 2 * time.Second,
		BackoffMax:  5 * time.Minute,
	}
}

// Queue is a priority-ordered, bounded buffer of operations. Overflow
// evicts the lowest-priority entry first, but never an entry another
// still-queued entry causally depends on.
type Queue struct {
	mu     sync.Mutex
	ops    []*Operation
	seq    uint64
	cfg    Config
	sender Sender
	online bool
	wake   chan struct{}
}

// New creates a queue. It starts offline; call SetOnline(true) once
// connectivity is known.
func New(sender Sender, cfg Config) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultConfig().BackoffMax
	}
	return &Queue{
		cfg:    cfg,
		sender: sender,
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue buffers an operation. At capacity the lowest-priority evictable
// entry is dropped to make room; if nothing may be evicted (everything is
// higher priority or a dependency of something queued) the new operation is
// rejected instead.
func (q *Queue) Enqueue(op *Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	q.seq++
	op.seq = q.seq
	op.nextAttempt = time.Now()

	if len(q.ops) >= q.cfg.Capacity {
		if !q.evictOne(op.Priority) {
			return fmt.Errorf("queue full and no evictable entry below priority %d", op.Priority)
		}
	}

	q.ops = append(q.ops, op)
	q.signal()
	return nil
}

// evictOne drops the lowest-priority entry strictly below limit that no
// queued entry depends on. Reports whether an entry was dropped.
func (q *Queue) evictOne(limit int) bool {
	protected := q.protectedIDs()

	victim := -1
	for i, op := range q.ops {
		if op.Priority >= limit || protected[op.ID] {
			continue
		}
		if victim == -1 {
			victim = i
			continue
		}
		v := q.ops[victim]
		// Lowest priority first; among equals the newest goes, preserving
		// the older entries' replay order.
		if op.Priority < v.Priority || (op.Priority == v.Priority && op.seq > v.seq) {
			victim = i
		}
	}
	if victim == -1 {
		return false
	}

	dropped := q.ops[victim]
	q.ops = append(q.ops[:victim], q.ops[victim+1:]...)
	log.Warn().
		Str("op_id", dropped.ID).
		Str("type", dropped.Type).
		Int("priority", dropped.Priority).
		Msg("Sync queue full, dropped lowest-priority operation")
	return true
}

// protectedIDs returns the transitive closure of dependency targets of
// every queued operation.
func (q *Queue) protectedIDs() map[string]bool {
	byID := make(map[string]*Operation, len(q.ops))
	for _, op := range q.ops {
		byID[op.ID] = op
	}
	protected := make(map[string]bool)
	for _, op := range q.ops {
		dep := op.DependsOn
		for dep != "" && !protected[dep] {
			protected[dep] = true
			next, ok := byID[dep]
			if !ok {
				break
			}
			dep = next.DependsOn
		}
	}
	return protected
}

// SetOnline records a connectivity transition. Going online resets backoff
// state immediately: pending retry timers are discarded rather than waited
// out.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	wasOnline := q.online
	q.online = online
	if online && !wasOnline {
		now := time.Now()
		for _, op := range q.ops {
			op.RetryCount = 0
			op.nextAttempt = now
		}
		log.Info().Int("pending", len(q.ops)).Msg("Network online, replaying sync queue")
	}
	q.signal()
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Pending returns the queued operations in transmission order.
func (q *Queue) Pending() []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Operation, len(q.ops))
	copy(out, q.ops)
	sortOps(out)
	for i := range out {
		cp := *out[i]
		out[i] = &cp
	}
	return out
}

// Run processes the queue until ctx is cancelled: while online and
// non-empty, transmit the highest-priority ready operation, honoring
// dependencies; on failure reschedule with exponential backoff.
func (q *Queue) Run(ctx context.Context) {
	for {
		op, wait := q.next()
		if op == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			case <-time.After(wait):
				continue
			}
		}

		err := q.sender.Send(ctx, op)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			q.fail(op, err)
			continue
		}
		q.remove(op.ID)
	}
}

// idleWait bounds sleeps while the queue has nothing ready.
const idleWait = time.Minute

// next picks the transmittable operation, or (nil, wait) when nothing is
// ready yet. An operation whose dependency is still queued is never picked
// before that dependency; the dependency is transmitted instead.
func (q *Queue) next() (*Operation, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.online || len(q.ops) == 0 {
		return nil, idleWait
	}

	byID := make(map[string]*Operation, len(q.ops))
	for _, op := range q.ops {
		byID[op.ID] = op
	}

	ordered := make([]*Operation, len(q.ops))
	copy(ordered, q.ops)
	sortOps(ordered)

	now := time.Now()
	wait := idleWait
	for _, op := range ordered {
		// Follow the dependency chain to its queued root. The hop limit
		// keeps a malformed cycle from spinning forever.
		for hops := 0; op.DependsOn != "" && hops < len(byID); hops++ {
			dep, ok := byID[op.DependsOn]
			if !ok {
				break
			}
			op = dep
		}
		if op.nextAttempt.After(now) {
			if d := op.nextAttempt.Sub(now); d < wait {
				wait = d
			}
			continue
		}
		return op, 0
	}
	return nil, wait
}

// fail reschedules an operation after base * 2^retryCount, capped.
func (q *Queue) fail(op *Operation, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op.RetryCount++
	backoff := q.cfg.BackoffBase << uint(op.RetryCount)
	if backoff > q.cfg.BackoffMax || backoff <= 0 {
		backoff = q.cfg.BackoffMax
	}
	op.nextAttempt = time.Now().Add(backoff)

	log.Debug().
		Err(err).
		Str("op_id", op.ID).
		Int("retry", op.RetryCount).
		Dur("backoff", backoff).
		Msg("Sync operation failed, rescheduled")
}

// remove drops a transmitted operation.
func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// sortOps orders by priority descending, then insertion order.
func sortOps(ops []*Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Priority != ops[j].Priority {
			return ops[i].Priority > ops[j].Priority
		}
		return ops[i].seq < ops[j].seq
	})
}
