package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/earshot/internal/event"
	"github.com/MrWong99/earshot/internal/observe"
)

// DefaultEventBuffer is the number of events held for a slow consumer.
const DefaultEventBuffer = 256

// eventQueue is a bounded FIFO in front of the outbound channel. When full,
// the oldest partial transcript is evicted to make room; if there is none,
// the new event is dropped.
type eventQueue struct {
	out     chan event.Event
	limit   int
	metrics *observe.Metrics

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []event.Event
	closed  bool
	dropped int64
	done    chan struct{}
}

func newEventQueue(limit int, m *observe.Metrics) *eventQueue {
	if limit <= 0 {
		limit = DefaultEventBuffer
	}
	q := &eventQueue{
		out:     make(chan event.Event),
		limit:   limit,
		metrics: m,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

// push enqueues e without blocking.
func (q *eventQueue) push(e event.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.queue) >= q.limit {
		evicted := -1
		for i, old := range q.queue {
			if t, ok := old.(event.Transcript); ok && !t.IsFinal {
				evicted = i
				break
			}
		}
		if evicted < 0 {
			q.drop(e)
			return
		}
		q.drop(q.queue[evicted])
		q.queue = append(q.queue[:evicted], q.queue[evicted+1:]...)
	}
	q.queue = append(q.queue, e)
	q.cond.Signal()
}

// drop must be called with q.mu held.
func (q *eventQueue) drop(e event.Event) {
	q.dropped++
	if q.dropped%100 == 1 {
		slog.Warn("pipeline: event consumer too slow, dropping events", "type", e.Type(), "dropped_total", q.dropped)
	}
	if q.metrics != nil {
		q.metrics.RecordEventDropped(context.Background(), string(e.Type()))
	}
}

func (q *eventQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		e := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		select {
		case q.out <- e:
		case <-q.done:
			return
		}
	}
}

func (q *eventQueue) droppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// close stops delivery. Undelivered events are discarded.
func (q *eventQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.queue = nil
	close(q.done)
	q.cond.Broadcast()
	q.mu.Unlock()
}
