package subscriber

import (
	"context"
	"time"

	"github.com/donlair/pubsub-sub001/pkg/concurrency"
	"github.com/donlair/pubsub-sub001/pkg/errors"
)

const (
	DefaultAckBatchMaxMessages = 3000
	DefaultAckBatchMaxDelay    = 100 * time.Millisecond
)

// ackOp is one queued ack or nack, keyed by ackId.
type ackOp struct {
	ackID  string
	nack   bool
	result *Handle
}

// Handle is returned by AckManager.Ack/Nack; Wait blocks until the owning
// batch has resolved.
type Handle struct {
	done chan struct{}
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) resolve(err error) {
	h.err = err
	close(h.done)
}

// Wait blocks until the request this handle was returned for has been sent
// to the broker and resolved, or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// brokerAckFunc resolves one ackId against the broker: ack when nack is
// false, nack when true.
type brokerAckFunc func(ctx context.Context, ackID string, nack bool) error

// AckManager batches ack/nack calls from a subscription under count and
// time triggers. A broker error partway through a batch fails every
// remaining handle in that batch with the same error, mirroring the
// observable behavior of a single grouped RPC.
type AckManager struct {
	mu *concurrency.SmartMutex

	maxMessages int
	maxDelay    time.Duration
	resolve     brokerAckFunc

	pending []ackOp
	timer   *time.Timer
	closed  bool
}

// NewAckManager builds an AckManager that resolves batched ops through
// resolve, one ackId at a time, in submission order.
func NewAckManager(resolve brokerAckFunc) *AckManager {
	return &AckManager{
		mu:          concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "AckManager"}),
		maxMessages: DefaultAckBatchMaxMessages,
		maxDelay:    DefaultAckBatchMaxDelay,
		resolve:     resolve,
	}
}

// SetBatchingOptions changes the triggers applied to batches started after
// this call.
func (am *AckManager) SetBatchingOptions(maxMessages int, maxDelay time.Duration) {
	am.mu.Lock()
	defer am.mu.Unlock()
	if maxMessages > 0 {
		am.maxMessages = maxMessages
	}
	if maxDelay > 0 {
		am.maxDelay = maxDelay
	}
}

// Ack queues an ack for ackID.
func (am *AckManager) Ack(ackID string) *Handle {
	return am.enqueue(ackID, false)
}

// Nack queues a nack for ackID.
func (am *AckManager) Nack(ackID string) *Handle {
	return am.enqueue(ackID, true)
}

func (am *AckManager) enqueue(ackID string, nack bool) *Handle {
	h := newHandle()

	am.mu.Lock()
	if am.closed {
		am.mu.Unlock()
		h.resolve(errors.Cancelled("ack manager is closed", nil))
		return h
	}

	am.pending = append(am.pending, ackOp{ackID: ackID, nack: nack, result: h})
	trigger := len(am.pending) >= am.maxMessages
	if trigger {
		am.cancelTimerLocked()
	} else if am.timer == nil {
		am.timer = time.AfterFunc(am.maxDelay, am.flushTimer)
	}
	var batch []ackOp
	if trigger {
		batch = am.detachLocked()
	}
	am.mu.Unlock()

	if batch != nil {
		am.settle(batch)
	}
	return h
}

func (am *AckManager) flushTimer() {
	am.mu.Lock()
	batch := am.detachLocked()
	am.mu.Unlock()
	if batch != nil {
		am.settle(batch)
	}
}

func (am *AckManager) detachLocked() []ackOp {
	am.cancelTimerLocked()
	if len(am.pending) == 0 {
		return nil
	}
	batch := am.pending
	am.pending = nil
	return batch
}

func (am *AckManager) cancelTimerLocked() {
	if am.timer != nil {
		am.timer.Stop()
		am.timer = nil
	}
}

func (am *AckManager) settle(batch []ackOp) {
	var batchErr error
	for _, op := range batch {
		if batchErr != nil {
			op.result.resolve(batchErr)
			continue
		}
		err := am.resolve(context.Background(), op.ackID, op.nack)
		if err != nil {
			batchErr = err
		}
		op.result.resolve(err)
	}
}

// Flush immediately sends any pending batch and waits for it to settle.
func (am *AckManager) Flush() {
	am.mu.Lock()
	batch := am.detachLocked()
	am.mu.Unlock()
	if batch != nil {
		am.settle(batch)
	}
}

// Close flushes any pending batch and rejects further enqueues.
func (am *AckManager) Close() {
	am.Flush()
	am.mu.Lock()
	am.closed = true
	am.mu.Unlock()
}
