// Package publisher implements the per-topic batching layer: messages are
// accumulated into a batch under count/time/byte triggers, handed to the
// broker together, and the resulting ids (or the shared failure) are fanned
// back out to each caller's handle.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/donlair/pubsub-sub001/pkg/concurrency"
	"github.com/donlair/pubsub-sub001/pkg/logger"
	"github.com/donlair/pubsub-sub001/pkg/pubsub"
	"github.com/donlair/pubsub-sub001/pkg/pubsub/flowcontrol"
)

const (
	DefaultMaxMessages = 100
	DefaultMaxBytes    = 1024 * 1024
	DefaultMaxDelay    = 10 * time.Millisecond
)

// BatchingConfig controls when a pending Batch is flushed to the broker.
type BatchingConfig struct {
	MaxMessages int
	MaxBytes    int
	MaxDelay    time.Duration
}

// DefaultBatchingConfig returns the package's default batching triggers.
func DefaultBatchingConfig() BatchingConfig {
	return BatchingConfig{MaxMessages: DefaultMaxMessages, MaxBytes: DefaultMaxBytes, MaxDelay: DefaultMaxDelay}
}

// Result is the handle returned by Publish; Get blocks until the owning
// batch has been handed to the broker and resolved (or ctx is done).
type Result struct {
	done chan struct{}
	id   string
	err  error
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

func (r *Result) resolve(id string, err error) {
	r.id, r.err = id, err
	close(r.done)
}

// Get waits for the message's batch to settle and returns its assigned id.
func (r *Result) Get(ctx context.Context) (string, error) {
	select {
	case <-r.done:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type pending struct {
	req    pubsub.PublishRequest
	result *Result
}

// batch is one count/time/byte-triggered accumulation of pending publishes
// sharing either the default slot or a single ordering key.
type batch struct {
	orderingKey string
	items       []pending
	bytes       int
	timer       *time.Timer
}

// Publisher batches and admits publishes for a single topic.
type Publisher struct {
	mu *concurrency.SmartMutex

	broker    *pubsub.MessageQueue
	topicName string

	flowControl *flowcontrol.Publisher
	batching    BatchingConfig
	ordering    bool

	defaultBatch *batch
	byKey        map[string]*batch
	pausedKeys   map[string]struct{}

	log *slog.Logger
}

// New builds a Publisher bound to one topic. ordering enables per-key
// batches and pause/resume on publish failure; flowControl gates outstanding
// messages/bytes before a message is even appended to a batch.
func New(broker *pubsub.MessageQueue, topicName string, ordering bool, flowControl *flowcontrol.Publisher, batching BatchingConfig) *Publisher {
	if batching.MaxMessages <= 0 {
		batching.MaxMessages = DefaultMaxMessages
	}
	if batching.MaxBytes <= 0 {
		batching.MaxBytes = DefaultMaxBytes
	}
	if batching.MaxDelay <= 0 {
		batching.MaxDelay = DefaultMaxDelay
	}
	return &Publisher{
		mu:          concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "Publisher:" + topicName}),
		broker:      broker,
		topicName:   topicName,
		flowControl: flowControl,
		batching:    batching,
		ordering:    ordering,
		byKey:       make(map[string]*batch),
		pausedKeys:  make(map[string]struct{}),
		log:         logger.L().With("topic", topicName),
	}
}

// Publish validates, admits, and appends one message to its batch.
func (p *Publisher) Publish(ctx context.Context, data []byte, attrs map[string]string, orderingKey string) (*Result, error) {
	if err := pubsub.ValidateOutboundMessage(data, attrs, orderingKey); err != nil {
		return nil, err
	}

	size := messageSize(data, attrs)
	if p.ordering && orderingKey != "" {
		p.mu.Lock()
		_, paused := p.pausedKeys[orderingKey]
		p.mu.Unlock()
		if paused {
			return nil, pubsub.ErrOrderingKeyPaused(orderingKey)
		}
	}

	if err := p.flowControl.Acquire(ctx, size); err != nil {
		return nil, err
	}

	result := newResult()
	p.mu.Lock()
	b := p.batchFor(orderingKey)
	b.items = append(b.items, pending{
		req:    pubsub.PublishRequest{Data: data, Attributes: attrs, OrderingKey: orderingKey},
		result: result,
	})
	b.bytes += size

	// The detach must happen in the same critical section as the trigger
	// decision: otherwise a MaxDelay timer that fires concurrently
	// (flushKey) can detach and settle this same batch a second time,
	// double-resolving every handle in it.
	trigger := len(b.items) >= p.batching.MaxMessages || b.bytes >= p.batching.MaxBytes
	var detached *batch
	if trigger {
		p.cancelTimerLocked(b)
		detached = p.detachLocked(b.orderingKey)
	} else if b.timer == nil {
		b.timer = time.AfterFunc(p.batching.MaxDelay, func() { p.flushKey(b.orderingKey) })
	}
	p.mu.Unlock()

	if detached != nil {
		p.settle(detached)
	}
	return result, nil
}

func (p *Publisher) batchFor(orderingKey string) *batch {
	if p.ordering && orderingKey != "" {
		b, ok := p.byKey[orderingKey]
		if !ok {
			b = &batch{orderingKey: orderingKey}
			p.byKey[orderingKey] = b
		}
		return b
	}
	if p.defaultBatch == nil {
		p.defaultBatch = &batch{}
	}
	return p.defaultBatch
}

func (p *Publisher) cancelTimerLocked(b *batch) {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// flushKey is the time-triggered path: it looks the batch back up by key
// (it may since have been flushed already by a count/byte trigger) and
// detaches it before handing off, so a new batch can start accumulating
// immediately.
func (p *Publisher) flushKey(orderingKey string) {
	p.mu.Lock()
	b := p.detachLocked(orderingKey)
	p.mu.Unlock()
	if b != nil {
		p.settle(b)
	}
}

func (p *Publisher) detachLocked(orderingKey string) *batch {
	if orderingKey != "" {
		b, ok := p.byKey[orderingKey]
		if !ok || len(b.items) == 0 {
			return nil
		}
		delete(p.byKey, orderingKey)
		return b
	}
	b := p.defaultBatch
	if b == nil || len(b.items) == 0 {
		return nil
	}
	p.defaultBatch = nil
	return b
}

// settle hands an already-detached batch to the broker and resolves every
// handle. b must no longer be reachable from byKey/defaultBatch by the time
// this is called — the caller detaches it atomically with the trigger
// decision that led here, so settle never races a second detach of the same
// batch.
func (p *Publisher) settle(b *batch) {
	reqs := make([]pubsub.PublishRequest, len(b.items))
	for i, it := range b.items {
		reqs[i] = it.req
	}

	ids, err := p.broker.Publish(context.Background(), p.topicName, reqs)

	for i, it := range b.items {
		p.flowControl.Release(messageSize(it.req.Data, it.req.Attributes))
		if err != nil {
			it.result.resolve("", err)
			continue
		}
		it.result.resolve(ids[i], nil)
	}

	if err != nil && b.orderingKey != "" {
		p.mu.Lock()
		p.pausedKeys[b.orderingKey] = struct{}{}
		p.mu.Unlock()
		p.log.Warn("ordering key paused after publish failure", "orderingKey", b.orderingKey, "error", err)
	}
}

// ResumePublishing clears a paused ordering key, discarding nothing new
// since the failed batch was already resolved in settle.
func (p *Publisher) ResumePublishing(orderingKey string) {
	p.mu.Lock()
	delete(p.pausedKeys, orderingKey)
	p.mu.Unlock()
}

// Flush immediately triggers every non-empty batch and waits for all to
// settle.
func (p *Publisher) Flush() {
	p.mu.Lock()
	var batches []*batch
	if b := p.detachLocked(""); b != nil {
		p.cancelTimerLocked(b)
		batches = append(batches, b)
	}
	for key := range p.byKey {
		if b := p.detachLocked(key); b != nil {
			p.cancelTimerLocked(b)
			batches = append(batches, b)
		}
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range batches {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.settle(b)
		}()
	}
	wg.Wait()
}

// SetBatchingOptions changes the triggers applied to batches started after
// this call.
func (p *Publisher) SetBatchingOptions(cfg BatchingConfig) {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	p.mu.Lock()
	p.batching = cfg
	p.mu.Unlock()
}

func messageSize(data []byte, attrs map[string]string) int {
	n := len(data)
	for k, v := range attrs {
		n += len(k) + len(v)
	}
	return n
}
