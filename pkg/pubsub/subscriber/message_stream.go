package subscriber

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/donlair/pubsub-sub001/pkg/concurrency"
	"github.com/donlair/pubsub-sub001/pkg/errors"
	"github.com/donlair/pubsub-sub001/pkg/logger"
	"github.com/donlair/pubsub-sub001/pkg/pubsub"
	"github.com/donlair/pubsub-sub001/pkg/pubsub/flowcontrol"
	"golang.org/x/sync/errgroup"
)

// StreamState is the MessageStream lifecycle.
type StreamState int

const (
	StateIdle StreamState = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

// StreamingOptions configures the pull-worker pool.
type StreamingOptions struct {
	MaxStreams   int
	PullInterval time.Duration
	MaxPullSize  int
	Timeout      time.Duration
}

// DefaultStreamingOptions returns the default streaming configuration.
func DefaultStreamingOptions() StreamingOptions {
	return StreamingOptions{MaxStreams: 5, PullInterval: 10 * time.Millisecond, MaxPullSize: 100, Timeout: 300 * time.Second}
}

// CloseBehavior controls how Stop drains in-flight deliveries.
type CloseBehavior int

const (
	// WaitForCompletion waits for outstanding deliveries to resolve.
	WaitForCompletion CloseBehavior = iota
	// NackOutstanding immediately nacks every outstanding delivery.
	NackOutstanding
)

// CloseOptions configures Stop.
type CloseOptions struct {
	Behavior CloseBehavior
	Timeout  time.Duration
}

// Delivery is one message handed to the consumer callback; Ack/Nack
// resolve it through the stream's AckManager and LeaseManager.
type Delivery struct {
	Message *pubsub.Message
	stream  *MessageStream
	ackID   string
}

// Ack acknowledges the message.
func (d *Delivery) Ack() {
	d.stream.resolve(d.ackID, false)
}

// Nack negatively acknowledges the message, making it eligible for
// redelivery once the broker's retry-policy backoff has elapsed.
func (d *Delivery) Nack() {
	d.stream.resolve(d.ackID, true)
}

// ConsumerFunc processes one delivered message.
type ConsumerFunc func(ctx context.Context, d *Delivery)

// MessageStream owns a running subscription consumer: N pull workers, a
// LeaseManager, and an AckManager, with per-key serialization at the
// consumer boundary.
type MessageStream struct {
	broker           *pubsub.MessageQueue
	subscriptionName string
	consumer         ConsumerFunc

	ackDeadline time.Duration
	streaming   StreamingOptions
	closeOpts   CloseOptions
	ordering    bool

	flow  *flowcontrol.Subscriber
	lease *LeaseManager
	ack   *AckManager

	mu          *concurrency.SmartMutex
	state       StreamState
	cancel      context.CancelFunc
	workersDone sync.WaitGroup

	dispatched map[string]*pubsub.Message // ackId -> message, currently dispatched
	keyActive  map[string]struct{}        // ordering keys with a dispatch in flight
	keyWaiting map[string][]*pubsub.PulledMessage

	errCh chan error
	log   *slog.Logger
}

// New builds a MessageStream for subscriptionName, bound to broker, with
// ordering indicating whether the subscription has message ordering
// enabled (mirrors the broker's own per-key ordering guarantee at the
// consumer boundary).
func New(broker *pubsub.MessageQueue, subscriptionName string, ordering bool, ackDeadline time.Duration, flow *flowcontrol.Subscriber, streaming StreamingOptions, closeOpts CloseOptions, consumer ConsumerFunc) *MessageStream {
	if streaming.MaxStreams <= 0 {
		streaming = DefaultStreamingOptions()
	}
	if ackDeadline <= 0 {
		ackDeadline = time.Duration(pubsub.DefaultAckDeadlineSeconds) * time.Second
	}
	ms := &MessageStream{
		broker:           broker,
		subscriptionName: subscriptionName,
		consumer:         consumer,
		ackDeadline:      ackDeadline,
		streaming:        streaming,
		closeOpts:        closeOpts,
		ordering:         ordering,
		flow:             flow,
		mu:               concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "MessageStream:" + subscriptionName}),
		dispatched:       make(map[string]*pubsub.Message),
		keyActive:        make(map[string]struct{}),
		keyWaiting:       make(map[string][]*pubsub.PulledMessage),
		errCh:            make(chan error, 1),
		log:              logger.L().With("subscription", subscriptionName),
	}
	ms.lease = NewLeaseManager(func(ackID string, deadline time.Duration) {
		_ = broker.ModifyAckDeadline(context.Background(), ackID, int(deadline.Seconds()))
	})
	ms.ack = NewAckManager(func(ctx context.Context, ackID string, nack bool) error {
		if nack {
			return broker.Nack(ctx, ackID)
		}
		return broker.Ack(ctx, ackID)
	})
	return ms
}

// Errors returns a channel that receives at most one terminal stream error.
func (ms *MessageStream) Errors() <-chan error {
	return ms.errCh
}

// Start transitions Idle -> Running and spawns maxStreams pull workers.
func (ms *MessageStream) Start(ctx context.Context) {
	ms.mu.Lock()
	if ms.state != StateIdle {
		ms.mu.Unlock()
		return
	}
	ms.state = StateRunning
	runCtx, cancel := context.WithCancel(ctx)
	ms.cancel = cancel
	ms.mu.Unlock()

	if ms.streaming.Timeout > 0 {
		go ms.watchTimeout(runCtx)
	}

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < ms.streaming.MaxStreams; i++ {
		ms.workersDone.Add(1)
		g.Go(func() error {
			defer ms.workersDone.Done()
			return ms.pullWorker(gctx)
		})
	}
	go func() { _ = g.Wait() }()
}

func (ms *MessageStream) watchTimeout(ctx context.Context) {
	timer := time.NewTimer(ms.streaming.Timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		ms.emitError(errors.Internal("stream timeout elapsed", nil))
		ms.transitionStopped()
	case <-ctx.Done():
	}
}

// Pause halts new dispatch without cancelling in-flight processing.
func (ms *MessageStream) Pause() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.state == StateRunning {
		ms.state = StatePaused
	}
}

// Resume undoes Pause.
func (ms *MessageStream) Resume() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.state == StatePaused {
		ms.state = StateRunning
	}
}

// Stop begins the Stopping sequence described by closeOpts and blocks
// until the stream reaches Stopped.
func (ms *MessageStream) Stop() {
	ms.mu.Lock()
	if ms.state == StateStopped || ms.state == StateStopping {
		ms.mu.Unlock()
		return
	}
	ms.state = StateStopping
	cancel := ms.cancel
	ms.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	ms.workersDone.Wait()

	switch ms.closeOpts.Behavior {
	case NackOutstanding:
		ms.nackOutstanding()
	default:
		ms.waitForDrain()
	}

	ms.ack.Close()
	ms.lease.Clear()
	ms.transitionStopped()
}

func (ms *MessageStream) waitForDrain() {
	deadline := time.Time{}
	if ms.closeOpts.Timeout > 0 {
		deadline = time.Now().Add(ms.closeOpts.Timeout)
	}
	for {
		ms.mu.Lock()
		n := len(ms.dispatched)
		ms.mu.Unlock()
		if n == 0 {
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (ms *MessageStream) nackOutstanding() {
	ms.mu.Lock()
	ackIDs := make([]string, 0, len(ms.dispatched))
	for ackID := range ms.dispatched {
		ackIDs = append(ackIDs, ackID)
	}
	ms.mu.Unlock()

	for _, ackID := range ackIDs {
		err := ms.broker.Nack(context.Background(), ackID)
		if err == nil {
			continue
		}
		var appErr *errors.AppError
		if errors.As(err, &appErr) && appErr.Code == errors.CodeInvalidArgument {
			continue // lease already expired/resolved; swallow during stop teardown
		}
		ms.log.Warn("nack during stop teardown failed", "ackId", ackID, "error", err)
	}
}

func (ms *MessageStream) transitionStopped() {
	ms.mu.Lock()
	ms.state = StateStopped
	ms.mu.Unlock()
}

func (ms *MessageStream) State() StreamState {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.state
}

// pullWorker is the per-worker pull loop. A pull error is returned so the
// errgroup cancels the other workers.
func (ms *MessageStream) pullWorker(ctx context.Context) error {
	ticker := time.NewTicker(ms.streaming.PullInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		ms.mu.Lock()
		paused := ms.state == StatePaused
		ms.mu.Unlock()
		if paused {
			continue
		}

		n := ms.maxPull()
		if n == 0 {
			continue
		}

		ms.flow.StartBatchPull()
		msgs, err := ms.broker.Pull(ctx, ms.subscriptionName, n)
		ms.flow.EndBatchPull()
		if err != nil {
			ms.emitError(err)
			ms.transitionStopped()
			return err
		}
		for _, m := range msgs {
			ms.admit(ctx, m)
		}
	}
}

func (ms *MessageStream) maxPull() int {
	n := ms.streaming.MaxPullSize
	if remaining := int(ms.flow.RemainingMessageCapacity()); remaining < n {
		n = remaining
	}
	if n < 0 {
		n = 0
	}
	return n
}

// admit accounts for a pulled message, registers its lease, and either
// dispatches it immediately or queues it behind an in-flight delivery for
// the same ordering key.
func (ms *MessageStream) admit(ctx context.Context, pm *pubsub.PulledMessage) {
	size := pm.Message.Size()
	ms.flow.AddMessage(size)
	ms.lease.AddLease(pm.AckID, ms.ackDeadline)

	key := pm.Message.OrderingKey
	dispatch := true
	ms.mu.Lock()
	ms.dispatched[pm.AckID] = pm.Message
	if ms.ordering && key != "" {
		if _, busy := ms.keyActive[key]; busy {
			ms.keyWaiting[key] = append(ms.keyWaiting[key], pm)
			dispatch = false
		} else {
			ms.keyActive[key] = struct{}{}
		}
	}
	ms.mu.Unlock()

	if dispatch {
		ms.dispatch(ctx, pm)
	}
}

func (ms *MessageStream) dispatch(ctx context.Context, pm *pubsub.PulledMessage) {
	d := &Delivery{Message: pm.Message, stream: ms, ackID: pm.AckID}
	ms.consumer(ctx, d)
}

// resolve is invoked by Delivery.Ack/Nack: it releases flow control, drops
// the LeaseManager entry, and if ordering+key advances the next queued
// message for that key.
func (ms *MessageStream) resolve(ackID string, nack bool) {
	ms.mu.Lock()
	msg, ok := ms.dispatched[ackID]
	if ok {
		delete(ms.dispatched, ackID)
	}
	ms.mu.Unlock()
	if !ok {
		return
	}

	ms.flow.RemoveMessage(msg.Size())
	ms.lease.RemoveLease(ackID)

	var h *Handle
	if nack {
		h = ms.ack.Nack(ackID)
	} else {
		h = ms.ack.Ack(ackID)
	}
	go func() { _ = h.Wait(context.Background()) }()

	key := msg.OrderingKey
	if !ms.ordering || key == "" {
		return
	}

	ms.mu.Lock()
	var next *pubsub.PulledMessage
	if queue := ms.keyWaiting[key]; len(queue) > 0 {
		next = queue[0]
		ms.keyWaiting[key] = queue[1:]
		if len(ms.keyWaiting[key]) == 0 {
			delete(ms.keyWaiting, key)
		}
	} else {
		delete(ms.keyActive, key)
	}
	ms.mu.Unlock()

	if next != nil {
		ms.mu.Lock()
		ms.dispatched[next.AckID] = next.Message
		ms.mu.Unlock()
		ms.dispatch(context.Background(), next)
	}
}

func (ms *MessageStream) emitError(err error) {
	select {
	case ms.errCh <- err:
	default:
	}
}
