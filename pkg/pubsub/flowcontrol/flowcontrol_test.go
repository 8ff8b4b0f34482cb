package flowcontrol_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/donlair/pubsub-sub001/pkg/pubsub/flowcontrol"
	"github.com/stretchr/testify/require"
)

func TestPublisherBlocksUntilRelease(t *testing.T) {
	p := flowcontrol.NewPublisher(1, 1024)
	require.NoError(t, p.Acquire(context.Background(), 10))

	acquired := make(chan struct{})
	go func() {
		require.NoError(t, p.Acquire(context.Background(), 10))
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should block while capacity is exhausted")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release(10)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire should unblock after Release")
	}
	p.Release(10)
}

func TestPublisherAcquireRespectsContext(t *testing.T) {
	p := flowcontrol.NewPublisher(1, 1024)
	require.NoError(t, p.Acquire(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Acquire(ctx, 1)
	require.Error(t, err)
}

func TestPublisherOversizedMessageStillAdmitted(t *testing.T) {
	p := flowcontrol.NewPublisher(10, 100)
	require.NoError(t, p.Acquire(context.Background(), 10_000_000))
	p.Release(10_000_000)
}

func TestSubscriberCanAcceptStrictMode(t *testing.T) {
	s := flowcontrol.New(2, 1024, false)
	require.True(t, s.CanAccept(10))
	s.AddMessage(10)
	require.True(t, s.CanAccept(10))
	s.AddMessage(10)
	require.False(t, s.CanAccept(10))

	s.RemoveMessage(10)
	require.True(t, s.CanAccept(10))
}

func TestSubscriberAllowExcessOnlyWithinBatch(t *testing.T) {
	s := flowcontrol.New(1, 1024, true)
	s.AddMessage(10)
	require.False(t, s.CanAccept(10))

	s.StartBatchPull()
	require.True(t, s.CanAccept(10))
	s.EndBatchPull()
	require.False(t, s.CanAccept(10))
}

func TestSubscriberRemoveMessageNeverGoesNegative(t *testing.T) {
	s := flowcontrol.New(1, 1024, false)
	s.RemoveMessage(10)
	require.Equal(t, int64(1), s.RemainingMessageCapacity())
}

func TestSubscriberConcurrentAccounting(t *testing.T) {
	s := flowcontrol.New(1000, 1024*1024, false)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddMessage(1)
		}()
	}
	wg.Wait()
	require.Equal(t, int64(900), s.RemainingMessageCapacity())
}
