package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// OverflowPolicy decides what a capped queue gives up when it is full.
type OverflowPolicy int

const (
	DropOldest OverflowPolicy = iota
	DropNewest
)

func (p OverflowPolicy) String() string {
	if p == DropNewest {
		return "drop_newest"
	}
	return "drop_oldest"
}

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_oldest", "oldest":
		return DropOldest, nil
	case "drop_newest", "newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("unknown overflow policy: %s", s)
	}
}

// compactAt bounds how much consumed head space the backing slice may keep.
const compactAt = 1024

// Queue is a FIFO of formatted log messages.
//
// Push never blocks. With capacity 0 the queue is unbounded; otherwise a full
// queue applies its OverflowPolicy. Pop suspends until an item is available.
// It is designed for one consumer, which calls Done after handling each item.
type Queue struct {
	mu       sync.Mutex
	items    []string
	head     int
	capacity int
	policy   OverflowPolicy
	taken    int

	// notify carries at most one pending wakeup.
	notify chan struct{}
}

func NewQueue(capacity int, policy OverflowPolicy) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		capacity: capacity,
		policy:   policy,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends msg. It reports whether a message (msg itself under DropNewest,
// the oldest one under DropOldest) was discarded to respect the capacity.
func (q *Queue) Push(msg string) (dropped bool) {
	q.mu.Lock()
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		if q.policy == DropNewest {
			q.mu.Unlock()
			return true
		}
		q.popLocked()
		dropped = true
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Pop removes and returns the oldest message, waiting while the queue is empty.
// It returns ctx.Err() once ctx is done, even if items remain.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		q.mu.Lock()
		if q.lenLocked() > 0 {
			msg := q.popLocked()
			q.taken++
			q.mu.Unlock()
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Done marks one popped message as handled.
func (q *Queue) Done() {
	q.mu.Lock()
	if q.taken > 0 {
		q.taken--
	}
	q.mu.Unlock()
}

// Idle reports whether nothing is queued and every popped message is Done.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked() == 0 && q.taken == 0
}

// Drain empties the queue and returns how many messages were discarded.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.lenLocked()
	q.items = nil
	q.head = 0
	return n
}

func (q *Queue) lenLocked() int { return len(q.items) - q.head }

func (q *Queue) popLocked() string {
	msg := q.items[q.head]
	q.items[q.head] = ""
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= compactAt && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return msg
}
