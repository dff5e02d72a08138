package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
)

func newTestQueue() *Queue {
	return New(zap.NewNop())
}

func TestQueueProcessesStrictFIFORegardlessOfPriority(t *testing.T) {
	q := newTestQueue()

	require.NoError(t, q.Enqueue("req-1", domain.LaunchRequest{Prompt: "first"}, 1))
	require.NoError(t, q.Enqueue("req-2", domain.LaunchRequest{Prompt: "second"}, 100))
	require.NoError(t, q.Enqueue("req-3", domain.LaunchRequest{Prompt: "third"}, 50))

	var mu sync.Mutex
	var order []string

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, func(_ context.Context, item QueuedLaunch) error {
			mu.Lock()
			order = append(order, item.RequestID)
			mu.Unlock()
			if len(order) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue worker did not finish")
	}

	require.Equal(t, []string{"req-1", "req-2", "req-3"}, order)
}

func TestQueueCancelSkipsEntryWithoutInvokingHandler(t *testing.T) {
	q := newTestQueue()
	require.NoError(t, q.Enqueue("req-1", domain.LaunchRequest{Prompt: "a"}, 0))
	require.NoError(t, q.Enqueue("req-2", domain.LaunchRequest{Prompt: "b"}, 0))
	require.NoError(t, q.Cancel("req-1"))

	var processed []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, func(_ context.Context, item QueuedLaunch) error {
			processed = append(processed, item.RequestID)
			cancel()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue worker did not finish")
	}

	require.Equal(t, []string{"req-2"}, processed)
}

func TestQueueCancelInvokesOnCancelHook(t *testing.T) {
	q := newTestQueue()
	var notified []string
	q.OnCancel = func(requestID string) { notified = append(notified, requestID) }

	require.NoError(t, q.Enqueue("req-1", domain.LaunchRequest{Prompt: "a"}, 0))
	require.NoError(t, q.Cancel("req-1"))

	require.Equal(t, []string{"req-1"}, notified)
}

func TestQueueEnqueueDuplicateRequestIDFails(t *testing.T) {
	q := newTestQueue()
	require.NoError(t, q.Enqueue("req-1", domain.LaunchRequest{Prompt: "a"}, 0))
	require.ErrorIs(t, q.Enqueue("req-1", domain.LaunchRequest{Prompt: "a"}, 0), ErrRequestExists)
}

func TestQueueCancelUnknownRequestFails(t *testing.T) {
	q := newTestQueue()
	require.ErrorIs(t, q.Cancel("missing"), ErrNotFound)
}

func TestQueueListReflectsFIFOOrder(t *testing.T) {
	q := newTestQueue()
	require.NoError(t, q.Enqueue("req-1", domain.LaunchRequest{Prompt: "a"}, 0))
	require.NoError(t, q.Enqueue("req-2", domain.LaunchRequest{Prompt: "b"}, 0))

	items := q.List()
	require.Len(t, items, 2)
	require.Equal(t, "req-1", items[0].RequestID)
	require.Equal(t, "req-2", items[1].RequestID)
}
