// Package flowcontrol implements the two admission gates that govern message
// throughput: a blocking outstanding-message/byte gate for publishers and a
// non-blocking inflight-counter gate for subscribers.
package flowcontrol

import (
	"context"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxOutstandingMessages = 100
	DefaultMaxOutstandingBytes    = 1024 * 1024
)

// Publisher gates outstanding publish work per topic. acquire blocks the
// caller until both the message-count and byte-weight semaphores have
// room; release gives both back. golang.org/x/sync/semaphore.Weighted
// already queues waiters FIFO, which is the fairness a blocking admission
// gate needs.
type Publisher struct {
	messages *semaphore.Weighted
	bytes    *semaphore.Weighted
	maxBytes int64
}

// NewPublisher builds a flow-control gate. A zero value for either limit
// falls back to the package default.
func NewPublisher(maxOutstandingMessages, maxOutstandingBytes int64) *Publisher {
	if maxOutstandingMessages <= 0 {
		maxOutstandingMessages = DefaultMaxOutstandingMessages
	}
	if maxOutstandingBytes <= 0 {
		maxOutstandingBytes = DefaultMaxOutstandingBytes
	}
	return &Publisher{
		messages: semaphore.NewWeighted(maxOutstandingMessages),
		bytes:    semaphore.NewWeighted(maxOutstandingBytes),
		maxBytes: maxOutstandingBytes,
	}
}

// Acquire admits one message of the given byte size, blocking until room is
// available or ctx is done. A message larger than the byte limit is capped
// to the full byte semaphore so it can still be admitted alone, rather than
// deadlocking forever.
func (p *Publisher) Acquire(ctx context.Context, bytes int) error {
	if err := p.messages.Acquire(ctx, 1); err != nil {
		return err
	}
	weight := p.clampedWeight(bytes)
	if err := p.bytes.Acquire(ctx, weight); err != nil {
		p.messages.Release(1)
		return err
	}
	return nil
}

// Release returns the capacity an Acquire of the same byte size reserved.
func (p *Publisher) Release(bytes int) {
	p.bytes.Release(p.clampedWeight(bytes))
	p.messages.Release(1)
}

func (p *Publisher) clampedWeight(bytes int) int64 {
	w := int64(bytes)
	if w > p.maxBytes {
		w = p.maxBytes
	}
	if w < 0 {
		w = 0
	}
	return w
}
