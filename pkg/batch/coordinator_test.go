package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cobrance/lucia/pkg/negotiation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchCombinesMessagesIntoOneResult(t *testing.T) {
	var calls atomic.Int32
	var gotCombined string

	c := NewCoordinator(100*time.Millisecond, 20, func(ctx context.Context, combined string, snap negotiation.Snapshot) (*Result, error) {
		calls.Add(1)
		gotCombined = combined
		return &Result{Outcome: negotiation.Result{Reply: "uma resposta"}}, nil
	})

	var wg sync.WaitGroup
	results := make([]*Result, 3)
	for i, msg := range []string{"oi", "quero negociar", "meu cpf é 12345678901"} {
		wg.Add(1)
		go func(i int, msg string) {
			defer wg.Done()
			r, err := c.Enqueue(context.Background(), "s1", msg, negotiation.Snapshot{})
			require.NoError(t, err)
			results[i] = r
		}(i, msg)
		time.Sleep(10 * time.Millisecond) // preserve enqueue order
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "one flush for the whole burst")
	assert.Equal(t, "oi\nquero negociar\nmeu cpf é 12345678901", gotCombined)

	// Every waiter got the very same result value.
	require.NotNil(t, results[0])
	assert.Same(t, results[0], results[1])
	assert.Same(t, results[0], results[2])
}

func TestEachMessageRestartsTheWindow(t *testing.T) {
	var calls atomic.Int32
	c := NewCoordinator(80*time.Millisecond, 20, func(ctx context.Context, combined string, snap negotiation.Snapshot) (*Result, error) {
		calls.Add(1)
		return &Result{}, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Enqueue(context.Background(), "s1", "primeira", negotiation.Snapshot{})
	}()

	// Keep poking before the window elapses; nothing must flush yet.
	for i := 0; i < 3; i++ {
		time.Sleep(40 * time.Millisecond)
		assert.Equal(t, int32(0), calls.Load())
		go func() {
			_, _ = c.Enqueue(context.Background(), "s1", "mais uma", negotiation.Snapshot{})
		}()
	}

	<-done
	assert.Equal(t, int32(1), calls.Load())
}

func TestSizeCapFlushesImmediately(t *testing.T) {
	var calls atomic.Int32
	c := NewCoordinator(10*time.Second, 3, func(ctx context.Context, combined string, snap negotiation.Snapshot) (*Result, error) {
		calls.Add(1)
		assert.Len(t, strings.Split(combined, "\n"), 3)
		return &Result{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Enqueue(context.Background(), "s1", "m", negotiation.Snapshot{})
			require.NoError(t, err)
		}(i)
		time.Sleep(10 * time.Millisecond)
	}

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("cap-triggered flush never happened")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestSeparateSessionsDoNotShareBatches(t *testing.T) {
	var mu sync.Mutex
	combineds := map[string]bool{}

	c := NewCoordinator(50*time.Millisecond, 20, func(ctx context.Context, combined string, snap negotiation.Snapshot) (*Result, error) {
		mu.Lock()
		combineds[combined] = true
		mu.Unlock()
		return &Result{}, nil
	})

	var wg sync.WaitGroup
	for _, session := range []string{"a", "b"} {
		wg.Add(1)
		go func(session string) {
			defer wg.Done()
			_, err := c.Enqueue(context.Background(), session, "msg de "+session, negotiation.Snapshot{})
			require.NoError(t, err)
		}(session)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, combineds["msg de a"])
	assert.True(t, combineds["msg de b"])
}

func TestProcessorErrorReachesAllWaiters(t *testing.T) {
	boom := errors.New("boom")
	c := NewCoordinator(30*time.Millisecond, 20, func(ctx context.Context, combined string, snap negotiation.Snapshot) (*Result, error) {
		return nil, boom
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Enqueue(context.Background(), "s1", "m", negotiation.Snapshot{})
			assert.ErrorIs(t, err, boom)
		}()
	}
	wg.Wait()
}

func TestCancelRejectsAllWaiters(t *testing.T) {
	var calls atomic.Int32
	c := NewCoordinator(10*time.Second, 20, func(ctx context.Context, combined string, snap negotiation.Snapshot) (*Result, error) {
		calls.Add(1)
		return &Result{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Enqueue(context.Background(), "s1", "m", negotiation.Snapshot{})
			assert.ErrorIs(t, err, ErrSessionTerminated)
		}()
	}

	// Let both enqueues land before cancelling.
	for c.Pending("s1") < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	c.Cancel("s1")
	wg.Wait()

	assert.Equal(t, 0, c.Pending("s1"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load(), "no residual timer fires after cancel")
}

func TestLatestSnapshotWins(t *testing.T) {
	var gotState negotiation.ConversationState
	c := NewCoordinator(50*time.Millisecond, 20, func(ctx context.Context, combined string, snap negotiation.Snapshot) (*Result, error) {
		gotState = snap.State
		return &Result{}, nil
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = c.Enqueue(context.Background(), "s1", "a", negotiation.Snapshot{State: negotiation.StateConversing})
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		_, _ = c.Enqueue(context.Background(), "s1", "b", negotiation.Snapshot{State: negotiation.StateNegotiating})
	}()
	wg.Wait()

	// A turn finishing while the batch is open updates the session; the
	// flush must see that state, not the one from the first enqueue.
	assert.Equal(t, negotiation.StateNegotiating, gotState)
}

func TestEnqueueHonorsContextCancellation(t *testing.T) {
	c := NewCoordinator(10*time.Second, 20, func(ctx context.Context, combined string, snap negotiation.Snapshot) (*Result, error) {
		return &Result{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Enqueue(ctx, "s1", "m", negotiation.Snapshot{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
