package pubsub

import (
	"container/list"

	"github.com/donlair/pubsub-sub001/pkg/concurrency"
)

// topicRecord is the broker's record of a registered topic: its metadata
// and the set of subscription names currently bound to it. Deleting a
// topic detaches its subscriptions without destroying them.
type topicRecord struct {
	mu   *concurrency.SmartRWMutex
	name string
	meta TopicMetadata
	subs map[string]struct{}
}

func newTopicRecord(name string, meta TopicMetadata) *topicRecord {
	return &topicRecord{
		mu:   concurrency.NewSmartRWMutex(concurrency.MutexConfig{Name: "topic:" + name}),
		name: name,
		meta: meta,
		subs: make(map[string]struct{}),
	}
}

func (t *topicRecord) addSub(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[name] = struct{}{}
}

func (t *topicRecord) removeSub(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, name)
}

func (t *topicRecord) subNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.subs))
	for n := range t.subs {
		names = append(names, n)
	}
	return names
}

// subscriptionState is the broker's per-subscription record: the four
// queue variants (available, per-key ordering, backoff, inFlight), guarded
// by a single lock since pull/ack/nack are compound operations across them.
type subscriptionState struct {
	mu *concurrency.SmartMutex

	name      string
	topicName string
	config    SubscriptionConfig

	available        *list.List          // FIFO of *Message, no ordering key
	orderingQueues   map[string]*list.List // orderingKey -> FIFO of *Message
	orderingInFlight map[string]struct{}   // keys whose head is currently leased
	backoff          map[string]*backoffEntry // message ID -> entry
	inFlight         map[string]*Lease        // ackID -> Lease

	queueSize  int
	queueBytes int64

	closed bool
}

func newSubscriptionState(name, topicName string, cfg SubscriptionConfig) *subscriptionState {
	cfg.normalize()
	return &subscriptionState{
		mu:               concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "sub:" + name}),
		name:             name,
		topicName:        topicName,
		config:           cfg,
		available:        list.New(),
		orderingQueues:   make(map[string]*list.List),
		orderingInFlight: make(map[string]struct{}),
		backoff:          make(map[string]*backoffEntry),
		inFlight:         make(map[string]*Lease),
	}
}

// messageCount returns |available|+|ordering_held|+|backoff|+|inFlight|.
// Caller must hold s.mu.
func (s *subscriptionState) messageCount() int {
	n := s.available.Len() + len(s.backoff) + len(s.inFlight)
	for _, q := range s.orderingQueues {
		n += q.Len()
	}
	return n
}

// enqueue places m into the available queue or its ordering queue,
// depending on whether m carries an ordering key and ordering is enabled
// for this subscription. Caller must hold s.mu.
func (s *subscriptionState) enqueue(m *Message) {
	if m.OrderingKey != "" && s.config.EnableMessageOrdering {
		q, ok := s.orderingQueues[m.OrderingKey]
		if !ok {
			q = list.New()
			s.orderingQueues[m.OrderingKey] = q
		}
		q.PushBack(m)
		return
	}
	s.available.PushBack(m)
}

// enqueueFront re-admits a redelivered ordered message at the head of its
// key's queue, so a nacked ordered message is the very next thing
// dispatched for that key rather than going to the back of the line.
// Caller must hold s.mu.
func (s *subscriptionState) enqueueFront(m *Message) {
	if m.OrderingKey != "" && s.config.EnableMessageOrdering {
		q, ok := s.orderingQueues[m.OrderingKey]
		if !ok {
			q = list.New()
			s.orderingQueues[m.OrderingKey] = q
		}
		q.PushFront(m)
		return
	}
	s.available.PushFront(m)
}

// nextEligible returns the next message to deliver: available before
// orderingQueues, FIFO within each. Caller must hold s.mu.
func (s *subscriptionState) nextEligible() *Message {
	if e := s.available.Front(); e != nil {
		s.available.Remove(e)
		return e.Value.(*Message)
	}
	for key, q := range s.orderingQueues {
		if _, busy := s.orderingInFlight[key]; busy {
			continue
		}
		if e := q.Front(); e != nil {
			q.Remove(e)
			s.orderingInFlight[key] = struct{}{}
			return e.Value.(*Message)
		}
	}
	return nil
}

func (s *subscriptionState) releaseOrderingKey(key string) {
	if key == "" {
		return
	}
	delete(s.orderingInFlight, key)
}
