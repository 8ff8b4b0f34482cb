package flowcontrol

import "github.com/donlair/pubsub-sub001/pkg/concurrency"

const (
	DefaultSubscriberMaxMessages = 1000
	DefaultSubscriberMaxBytes    = 100 * 1024 * 1024
)

// Subscriber tracks inflight messages/bytes delivered by a MessageStream.
// Unlike Publisher this never blocks: canAccept is a check consulted before
// a pull, not a gate a caller waits on.
type Subscriber struct {
	mu *concurrency.SmartMutex

	maxMessages         int64
	maxBytes            int64
	allowExcessMessages bool

	messages int64
	bytes    int64
	inBatch  bool
}

// New builds a subscriber flow-control tracker. Zero-value limits fall back
// to the package defaults.
func New(maxMessages, maxBytes int64, allowExcessMessages bool) *Subscriber {
	if maxMessages <= 0 {
		maxMessages = DefaultSubscriberMaxMessages
	}
	if maxBytes <= 0 {
		maxBytes = DefaultSubscriberMaxBytes
	}
	return &Subscriber{
		mu:                  concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "SubscriberFlowControl"}),
		maxMessages:         maxMessages,
		maxBytes:            maxBytes,
		allowExcessMessages: allowExcessMessages,
	}
}

// CanAccept reports whether one more message of the given size may be
// added. Inside a StartBatchPull/EndBatchPull window with
// allowExcessMessages set, this unconditionally returns true so an
// in-progress pull can finish its batch even past the limit.
func (s *Subscriber) CanAccept(bytes int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowExcessMessages && s.inBatch {
		return true
	}
	return s.messages < s.maxMessages && s.bytes+int64(bytes) <= s.maxBytes
}

// AddMessage accounts for one more delivered-but-unresolved message.
func (s *Subscriber) AddMessage(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages++
	s.bytes += int64(bytes)
}

// RemoveMessage accounts for a resolved (acked/nacked) message leaving the
// inflight set.
func (s *Subscriber) RemoveMessage(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages--
	if s.messages < 0 {
		s.messages = 0
	}
	s.bytes -= int64(bytes)
	if s.bytes < 0 {
		s.bytes = 0
	}
}

// StartBatchPull/EndBatchPull bracket one pull-worker round trip so
// CanAccept can apply the excess-tolerance rule only within it.
func (s *Subscriber) StartBatchPull() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inBatch = true
}

func (s *Subscriber) EndBatchPull() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inBatch = false
}

// RemainingMessageCapacity returns how many more messages may be accepted
// right now under the strict limit, used by MessageStream to size its next
// pull request.
func (s *Subscriber) RemainingMessageCapacity() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.maxMessages - s.messages
	if remaining < 0 {
		return 0
	}
	return remaining
}
