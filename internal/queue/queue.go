// Package queue implements the single-worker FIFO launch queue (spec §4.4):
// launch requests are processed strictly in arrival order, one at a time,
// so no two launches race the instruction-file preparation step. Priority
// is carried as metadata only and never reorders the queue (SPEC_FULL.md
// supplemented features §1 — the teacher's priority heap is deliberately
// not adopted here).
package queue

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
)

var (
	// ErrRequestExists is returned when a request id is already queued.
	ErrRequestExists = errors.New("launch request already queued")
	// ErrNotFound is returned when Cancel targets an unknown or already
	// dequeued request.
	ErrNotFound = errors.New("launch request not found in queue")
	// ErrClosed is returned by Enqueue once the queue has been closed.
	ErrClosed = errors.New("launch queue is closed")
)

// Handler processes one dequeued launch request. The queue calls it
// synchronously on its single worker goroutine, so the next request never
// starts until this one returns.
type Handler func(ctx context.Context, item QueuedLaunch) error

// QueuedLaunch is one entry waiting in, or having passed through, the
// queue.
type QueuedLaunch struct {
	RequestID string
	Request   domain.LaunchRequest
	Priority  int
	QueuedAt  time.Time
}

// Queue is a strict FIFO launch queue with a single background worker.
type Queue struct {
	logger *zap.Logger

	// OnCancel, if set, is invoked with a request id whenever Cancel removes
	// it before the worker could dequeue it. The coordinator wires this to
	// resolve that request's AwaitLaunch promise with a Cancelled error
	// (spec §4.4), so a cancelled-before-start launch never hangs the HTTP
	// caller until context timeout.
	OnCancel func(requestID string)

	mu       sync.Mutex
	items    *list.List // of *queueEntry, front = next to run
	byID     map[string]*list.Element
	closed   bool
	notEmpty chan struct{}

	wg sync.WaitGroup
}

type queueEntry struct {
	launch    QueuedLaunch
	cancelled bool
}

// New constructs a Queue. Call Run to start the worker loop.
func New(logger *zap.Logger) *Queue {
	return &Queue{
		logger:   logger,
		items:    list.New(),
		byID:     make(map[string]*list.Element),
		notEmpty: make(chan struct{}, 1),
	}
}

// Enqueue appends a launch request to the back of the queue.
func (q *Queue) Enqueue(requestID string, request domain.LaunchRequest, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if _, exists := q.byID[requestID]; exists {
		return ErrRequestExists
	}

	entry := &queueEntry{launch: QueuedLaunch{
		RequestID: requestID,
		Request:   request,
		Priority:  priority,
		QueuedAt:  time.Now(),
	}}
	elem := q.items.PushBack(entry)
	q.byID[requestID] = elem

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return nil
}

// Cancel marks a still-queued request as cancelled so the worker skips it
// without invoking the handler, then notifies OnCancel (if set) so anyone
// awaiting this request's outcome is released. Returns ErrNotFound if the
// request has already been dequeued or never existed.
func (q *Queue) Cancel(requestID string) error {
	q.mu.Lock()
	elem, ok := q.byID[requestID]
	if !ok {
		q.mu.Unlock()
		return ErrNotFound
	}
	elem.Value.(*queueEntry).cancelled = true
	q.mu.Unlock()

	if q.OnCancel != nil {
		q.OnCancel(requestID)
	}
	return nil
}

// List returns queued entries in FIFO order, including any marked
// cancelled but not yet skipped by the worker.
func (q *Queue) List() []QueuedLaunch {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]QueuedLaunch, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		result = append(result, e.Value.(*queueEntry).launch)
	}
	return result
}

// Len reports the number of entries still waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *Queue) dequeue() (*queueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		front := q.items.Front()
		if front == nil {
			return nil, false
		}
		entry := front.Value.(*queueEntry)
		q.items.Remove(front)
		delete(q.byID, entry.launch.RequestID)
		if entry.cancelled {
			continue
		}
		return entry, true
	}
}

// Run starts the single worker loop, invoking handler for each
// non-cancelled entry strictly in arrival order. It blocks until ctx is
// cancelled or Close is called.
func (q *Queue) Run(ctx context.Context, handler Handler) {
	q.wg.Add(1)
	defer q.wg.Done()

	for {
		entry, ok := q.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.notEmpty:
				continue
			}
		}

		if err := handler(ctx, entry.launch); err != nil {
			q.logger.Error("launch handler failed",
				zap.String("request_id", entry.launch.RequestID), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Close marks the queue closed to new Enqueue calls and waits for the
// worker to observe context cancellation.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
