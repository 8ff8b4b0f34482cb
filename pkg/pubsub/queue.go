package pubsub

import (
	"container/list"
	"context"
	"time"

	"github.com/donlair/pubsub-sub001/pkg/concurrency"
	"github.com/donlair/pubsub-sub001/pkg/datastructures/timer/wheel"
	"github.com/donlair/pubsub-sub001/pkg/logger"
	"github.com/donlair/pubsub-sub001/pkg/pstime"
)

// PublishRequest is one caller-supplied message awaiting admission.
type PublishRequest struct {
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
}

// PulledMessage pairs a delivered message with the ackId minted for it.
type PulledMessage struct {
	AckID   string
	Message *Message
}

// MessageQueue is the broker: the single owner of topics, subscriptions,
// messages, and leases. A process may run more than one instance in
// isolation — there is no package-level singleton — so that every invariant
// holds per instance rather than depending on a shared global.
type MessageQueue struct {
	topics        *concurrency.ShardedMapString[*topicRecord]
	subscriptions *concurrency.ShardedMapString[*subscriptionState]
	leases        *concurrency.ShardedMapString[*Lease]

	wheel *wheel.Wheel

	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// NewMessageQueue constructs a ready-to-use broker: its timing wheel and
// periodic cleanup loop are already running. Callers must Close it.
func NewMessageQueue() *MessageQueue {
	q := &MessageQueue{
		topics:        concurrency.NewShardedMapString[*topicRecord](),
		subscriptions: concurrency.NewShardedMapString[*subscriptionState](),
		leases:        concurrency.NewShardedMapString[*Lease](),
		wheel:         wheel.New(10*time.Millisecond, 4096),
		cleanupStop:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}
	q.wheel.Start()
	go q.runCleanupLoop()
	return q
}

// Close stops the cleanup loop and the timing wheel. Pending leases and
// backoff entries are abandoned, not drained — this mirrors process
// shutdown, not graceful subscription stop (see pkg/pubsub/subscriber for
// that).
func (q *MessageQueue) Close() {
	close(q.cleanupStop)
	<-q.cleanupDone
	q.wheel.Stop()
}

// RegisterTopic creates a new topic. ALREADY_EXISTS if name is taken.
func (q *MessageQueue) RegisterTopic(ctx context.Context, name string, meta TopicMetadata) error {
	rec := newTopicRecord(name, meta)
	if !q.topics.SetIfAbsent(name, rec) {
		return alreadyExistsf("topic %q already exists", name)
	}
	return nil
}

// UnregisterTopic deletes a topic. Bound subscriptions are detached, not
// destroyed: subsequent publishes to name fail with NOT_FOUND, but pull/
// ack on the detached subscriptions keeps working over whatever they
// already hold.
func (q *MessageQueue) UnregisterTopic(ctx context.Context, name string) error {
	if _, ok := q.topics.Get(name); !ok {
		return notFoundf("topic %q not found", name)
	}
	q.topics.Delete(name)
	return nil
}

// RegisterSubscription binds a new subscription to topic. NOT_FOUND if the
// topic doesn't exist, ALREADY_EXISTS if the subscription name is taken.
func (q *MessageQueue) RegisterSubscription(ctx context.Context, name, topicName string, cfg SubscriptionConfig) error {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return err
	}
	topicRec, ok := q.topics.Get(topicName)
	if !ok {
		return notFoundf("topic %q not found", topicName)
	}
	state := newSubscriptionState(name, topicName, cfg)
	if !q.subscriptions.SetIfAbsent(name, state) {
		return alreadyExistsf("subscription %q already exists", name)
	}
	topicRec.addSub(name)
	return nil
}

// UnregisterSubscription tears down a subscription: every lease and backoff
// timer it owns is cancelled, and it is detached from its topic (if the
// topic still exists). Its leases stay in the ackId index so that a later
// Ack/Nack on one of them reports FAILED_PRECONDITION (and drops it); any
// left over are removed by the orphaned-lease cleanup.
func (q *MessageQueue) UnregisterSubscription(ctx context.Context, name string) error {
	sub, ok := q.subscriptions.Get(name)
	if !ok {
		return notFoundf("subscription %q not found", name)
	}

	sub.mu.Lock()
	sub.closed = true
	for _, lease := range sub.inFlight {
		lease.task.Cancel()
	}
	for _, entry := range sub.backoff {
		entry.task.Cancel()
	}
	sub.mu.Unlock()

	q.subscriptions.Delete(name)
	if topicRec, ok := q.topics.Get(sub.topicName); ok {
		topicRec.removeSub(name)
	}
	return nil
}

// Publish validates and admits msgs to topicName, fanning an independent
// copy of each into every bound subscription's queue. Returns minted ids in
// input order.
func (q *MessageQueue) Publish(ctx context.Context, topicName string, reqs []PublishRequest) ([]string, error) {
	topicRec, ok := q.topics.Get(topicName)
	if !ok {
		return nil, notFoundf("topic %q not found", topicName)
	}

	msgs := make([]*Message, len(reqs))
	for i, r := range reqs {
		if err := validateOutboundMessage(r.Data, r.Attributes, r.OrderingKey); err != nil {
			return nil, err
		}
		msgs[i] = newMessage(r.Data, r.Attributes, r.OrderingKey)
	}

	subNames := topicRec.subNames()
	for _, m := range msgs {
		for _, subName := range subNames {
			sub, ok := q.subscriptions.Get(subName)
			if !ok {
				continue
			}
			q.admit(sub, m)
		}
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids, nil
}

// admit copies m into sub's queue, enforcing soft caps: past 10 000
// messages or 100 MiB outstanding, admission for this subscription's copy is
// silently dropped with a warning — the publish itself still succeeds.
func (q *MessageQueue) admit(sub *subscriptionState, m *Message) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.queueSize >= QueueSoftCapMessages || sub.queueBytes >= QueueSoftCapBytes {
		logger.L().Warn("subscription queue soft cap exceeded, dropping admission",
			"subscription", sub.name, "queueSize", sub.queueSize, "queueBytes", sub.queueBytes)
		return
	}

	dup := m.clone()
	sub.enqueue(dup)
	sub.queueSize++
	sub.queueBytes += int64(dup.Size())
}

// Pull returns up to maxMessages freshly leased messages from subName.
func (q *MessageQueue) Pull(ctx context.Context, subName string, maxMessages int) ([]*PulledMessage, error) {
	sub, ok := q.subscriptions.Get(subName)
	if !ok {
		return nil, notFoundf("subscription %q not found", subName)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	var out []*PulledMessage
	for budget := maxMessages; budget > 0; budget-- {
		m := sub.nextEligible()
		if m == nil {
			break
		}
		ackID := newAckID()
		now := pstime.Now()
		deadline := now.Add(time.Duration(sub.config.AckDeadlineSeconds) * time.Second)
		lease := &Lease{
			AckID:            ackID,
			SubscriptionName: subName,
			Message:          m,
			Deadline:         deadline,
			createdAt:        now,
		}
		lease.task = q.wheel.Schedule(time.Duration(sub.config.AckDeadlineSeconds)*time.Second, func() {
			q.onLeaseExpiry(subName, ackID)
		})
		sub.inFlight[ackID] = lease
		sub.queueSize--
		sub.queueBytes -= int64(m.Size())
		q.leases.Set(ackID, lease)
		out = append(out, &PulledMessage{AckID: ackID, Message: m})
	}
	return out, nil
}

// Ack resolves a delivery. Unknown ackId yields INVALID_ARGUMENT; an ackId
// whose subscription was unregistered yields FAILED_PRECONDITION. Acking an
// already-acked (or already-nacked) ackId also yields INVALID_ARGUMENT for
// the second call.
func (q *MessageQueue) Ack(ctx context.Context, ackID string) error {
	lease, ok := q.leases.Get(ackID)
	if !ok {
		return invalidArgumentf("unknown ackId")
	}
	sub, ok := q.subscriptions.Get(lease.SubscriptionName)
	if !ok {
		q.leases.Delete(ackID)
		return failedPreconditionf("subscription %q no longer exists", lease.SubscriptionName)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if _, stillPending := sub.inFlight[ackID]; !stillPending {
		return invalidArgumentf("unknown ackId")
	}
	delete(sub.inFlight, ackID)
	lease.task.Cancel()
	q.leases.Delete(ackID)
	sub.releaseOrderingKey(lease.Message.OrderingKey)
	return nil
}

// Nack schedules redelivery of ackID after backoff (or routes to the
// dead-letter topic if configured and exhausted).
func (q *MessageQueue) Nack(ctx context.Context, ackID string) error {
	return q.doNack(ackID)
}

func (q *MessageQueue) doNack(ackID string) error {
	lease, ok := q.leases.Get(ackID)
	if !ok {
		return invalidArgumentf("unknown ackId")
	}
	sub, ok := q.subscriptions.Get(lease.SubscriptionName)
	if !ok {
		q.leases.Delete(ackID)
		return failedPreconditionf("subscription %q no longer exists", lease.SubscriptionName)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if _, stillPending := sub.inFlight[ackID]; !stillPending {
		return invalidArgumentf("unknown ackId")
	}
	delete(sub.inFlight, ackID)
	lease.task.Cancel()
	q.leases.Delete(ackID)

	redelivered := lease.Message.redeliveryCopy()
	key := redelivered.OrderingKey

	// The ordering key stays gated (orderingInFlight) across the backoff
	// window, not just across the lease: releasing it here would let the
	// key's next queued message jump ahead of the not-yet-redelivered
	// message during the backoff delay, breaking per-key sequentiality. The
	// key is released when releaseFromBackoff puts the message back at the
	// head of its key's queue, on Ack, or on dead-letter routing.
	if sub.config.DeadLetterPolicy.enabled() && redelivered.DeliveryAttempt > sub.config.DeadLetterPolicy.maxAttempts() {
		sub.releaseOrderingKey(key)
		q.routeToDeadLetter(sub, redelivered)
		return nil
	}

	delay := sub.config.RetryPolicy.compute(redelivered.DeliveryAttempt)
	entry := &backoffEntry{
		message:     redelivered,
		orderingKey: key,
		releaseTime: pstime.Now().Add(delay),
	}
	entry.task = q.wheel.Schedule(delay, func() {
		q.releaseFromBackoff(lease.SubscriptionName, redelivered.ID)
	})
	sub.backoff[redelivered.ID] = entry
	return nil
}

// routeToDeadLetter publishes a copy of msg to sub's configured dead-letter
// topic's current subscriptions and drops it from sub. Caller must hold
// sub.mu; the dead-letter topic's subscriptions are distinct objects so
// locking them here does not re-enter sub's own lock.
func (q *MessageQueue) routeToDeadLetter(sub *subscriptionState, msg *Message) {
	dlqTopicName := sub.config.DeadLetterPolicy.Topic
	topicRec, ok := q.topics.Get(dlqTopicName)
	if !ok {
		logger.L().Warn("dead-letter topic not found, dropping message",
			"subscription", sub.name, "deadLetterTopic", dlqTopicName)
		return
	}
	for _, dlqSubName := range topicRec.subNames() {
		dlqSub, ok := q.subscriptions.Get(dlqSubName)
		if !ok {
			continue
		}
		q.admit(dlqSub, msg)
	}
}

// releaseFromBackoff is the wheel callback that moves a backed-off message
// back into its origin queue once its delay has elapsed.
func (q *MessageQueue) releaseFromBackoff(subName, messageID string) {
	sub, ok := q.subscriptions.Get(subName)
	if !ok {
		return
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()

	entry, ok := sub.backoff[messageID]
	if !ok {
		return
	}
	delete(sub.backoff, messageID)
	sub.enqueueFront(entry.message)
	sub.releaseOrderingKey(entry.orderingKey)
	sub.queueSize++
	sub.queueBytes += int64(entry.message.Size())
}

// onLeaseExpiry is the wheel callback fired when a lease's ackDeadline
// elapses without ack/nack/modAck: an expired lease behaves as a nack.
func (q *MessageQueue) onLeaseExpiry(subName, ackID string) {
	if _, ok := q.leases.Get(ackID); !ok {
		return // already resolved before the timer fired
	}
	if err := q.doNack(ackID); err != nil {
		logger.L().Debug("lease expiry nack no-op", "ackId", ackID, "error", err)
	}
}

// ModifyAckDeadline extends (seconds>0) or cancels (seconds=0, equivalent
// to Nack) a lease.
func (q *MessageQueue) ModifyAckDeadline(ctx context.Context, ackID string, seconds int) error {
	if seconds < 0 || seconds > MaxAckDeadlineSeconds {
		return invalidArgumentf("seconds must be in [0,%d]", MaxAckDeadlineSeconds)
	}
	if seconds == 0 {
		return q.doNack(ackID)
	}

	lease, ok := q.leases.Get(ackID)
	if !ok {
		return invalidArgumentf("unknown ackId")
	}
	sub, ok := q.subscriptions.Get(lease.SubscriptionName)
	if !ok {
		return failedPreconditionf("subscription %q no longer exists", lease.SubscriptionName)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if _, stillPending := sub.inFlight[ackID]; !stillPending {
		return invalidArgumentf("unknown ackId")
	}
	lease.task.Cancel()
	lease.Deadline = pstime.Now().Add(time.Duration(seconds) * time.Second)
	lease.task = q.wheel.Schedule(time.Duration(seconds)*time.Second, func() {
		q.onLeaseExpiry(lease.SubscriptionName, ackID)
	})
	return nil
}

func (q *MessageQueue) runCleanupLoop() {
	defer close(q.cleanupDone)
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.runCleanupOnce()
		case <-q.cleanupStop:
			return
		}
	}
}

// runCleanupOnce performs one pass of periodic cleanup: retention expiry
// across all queue variants, then orphaned-lease GC.
// Errors are logged, never propagated — a bad cycle must not halt the next.
func (q *MessageQueue) runCleanupOnce() {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("cleanup cycle panicked", "recovered", r)
		}
	}()

	now := pstime.Now()
	q.subscriptions.Range(func(_ string, sub *subscriptionState) bool {
		sub.mu.Lock()
		retention := sub.config.MessageRetention
		removeExpiredMessages(sub, sub.available, now, retention)
		for _, ordered := range sub.orderingQueues {
			removeExpiredMessages(sub, ordered, now, retention)
		}
		for id, entry := range sub.backoff {
			if now.Sub(entry.message.PublishTime) > retention {
				entry.task.Cancel()
				delete(sub.backoff, id)
			}
		}
		sub.mu.Unlock()
		return true
	})

	// Orphan ackIDs are collected here and deleted after Range returns:
	// q.leases.Delete would otherwise take the same shard's write lock
	// Range already holds for reading, deadlocking on the shard currently
	// being iterated.
	var orphans []string
	q.leases.Range(func(ackID string, lease *Lease) bool {
		sub, ok := q.subscriptions.Get(lease.SubscriptionName)
		orphaned := !ok
		if ok {
			sub.mu.Lock()
			_, inFlight := sub.inFlight[ackID]
			sub.mu.Unlock()
			orphaned = !inFlight
		}
		if orphaned && now.Sub(lease.createdAt) > OrphanLeaseGCAge {
			orphans = append(orphans, ackID)
		}
		return true
	})
	for _, ackID := range orphans {
		q.leases.Delete(ackID)
	}
}

// removeExpiredMessages removes messages past retention from q, a FIFO owned
// by sub, keeping sub.queueSize/queueBytes in sync with what remains.
// Caller must hold sub.mu.
func removeExpiredMessages(sub *subscriptionState, q *list.List, now pstime.PreciseDate, retention time.Duration) {
	for e := q.Front(); e != nil; {
		next := e.Next()
		m := e.Value.(*Message)
		if now.Sub(m.PublishTime) > retention {
			q.Remove(e)
			sub.queueSize--
			sub.queueBytes -= int64(m.Size())
		}
		e = next
	}
}
