package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue("ingest", 1)
	result := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	if err := q.Enqueue(context.Background(), "http://a.com/x"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got != "http://a.com/x" {
			t.Fatalf("expected http://a.com/x, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue("ingest", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue("ingest", 1)
	if err := qEnqueue.Enqueue(context.Background(), "primed"); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, "overflow"); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueEnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue("ingest", 1)
	require.NoError(t, q.Enqueue(context.Background(), "first"))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(context.Background(), "second")
	}()

	select {
	case err := <-done:
		t.Fatalf("enqueue on a full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", got)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue was not released")
	}
	require.Equal(t, 1, q.Len())
}

func TestQueueTryEnqueueAndDrain(t *testing.T) {
	t.Parallel()

	q := NewQueue("shuffle", 2)
	require.True(t, q.TryEnqueue("a"))
	require.True(t, q.TryEnqueue("b"))
	require.False(t, q.TryEnqueue("c"))
	require.Equal(t, 2, q.Len())
	require.Equal(t, 2, q.Cap())
	require.Equal(t, "shuffle", q.Name())

	require.Equal(t, []string{"a", "b"}, q.Drain())
	require.Zero(t, q.Len())
	require.Empty(t, q.Drain())
}

func TestQueueConcurrentProducersConsumers(t *testing.T) {
	t.Parallel()

	const producers, perProducer = 4, 50
	q := NewQueue("shuffle", 8)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := q.Enqueue(ctx, "item"); err != nil {
					return
				}
			}
		}()
	}

	received := 0
	for received < producers*perProducer {
		_, err := q.Dequeue(ctx)
		require.NoError(t, err)
		received++
	}
	wg.Wait()
	require.Zero(t, q.Len())
}

func TestNewQueueClampsCapacity(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, NewQueue("tiny", 0).Cap())
}
