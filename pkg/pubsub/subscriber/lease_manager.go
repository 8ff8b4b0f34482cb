// Package subscriber implements the consumer-side machinery: a LeaseManager
// mirroring the broker's own lease bookkeeping, a batching AckManager, and
// the MessageStream pull-worker loop that ties them together with
// subscriber-side flow control.
package subscriber

import (
	"time"

	"github.com/donlair/pubsub-sub001/pkg/concurrency"
)

const (
	DefaultMaxAckDeadline    = 600 * time.Second
	DefaultMaxExtensionTime  = 3600 * time.Second
	leaseExtensionSafetyMargin = 2 * time.Second
)

// extendFunc issues a ModifyAckDeadline call for one ackId.
type extendFunc func(ackID string, deadline time.Duration)

type leaseEntry struct {
	ackID     string
	deadline  time.Duration
	startedAt time.Time
	timer     *time.Timer
}

// LeaseManager mirrors the broker's authoritative lease table on the
// subscriber side so a MessageStream can keep extending a message's
// deadline without asking the broker what's outstanding.
type LeaseManager struct {
	mu *concurrency.SmartMutex

	maxAckDeadline   time.Duration
	maxExtensionTime time.Duration
	extend           extendFunc

	leases map[string]*leaseEntry
}

// NewLeaseManager builds a LeaseManager that calls extend to re-arm a
// message's deadline on the broker shortly before each local timer fires.
func NewLeaseManager(extend extendFunc) *LeaseManager {
	return &LeaseManager{
		mu:               concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "LeaseManager"}),
		maxAckDeadline:   DefaultMaxAckDeadline,
		maxExtensionTime: DefaultMaxExtensionTime,
		extend:           extend,
		leases:           make(map[string]*leaseEntry),
	}
}

// AddLease registers a newly delivered message and arms its deadline
// extender, capped at maxAckDeadline per extension and maxExtensionTime
// cumulative.
func (lm *LeaseManager) AddLease(ackID string, initialDeadline time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	entry := &leaseEntry{
		ackID:     ackID,
		deadline:  capDuration(initialDeadline, lm.maxAckDeadline),
		startedAt: time.Now(),
	}
	lm.leases[ackID] = entry
	lm.arm(entry)
}

// ExtendDeadline re-arms an existing lease with a new deadline length,
// refusing once the message's cumulative extension budget is spent.
func (lm *LeaseManager) ExtendDeadline(ackID string, deadline time.Duration) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	entry, ok := lm.leases[ackID]
	if !ok {
		return false
	}
	if time.Since(entry.startedAt) >= lm.maxExtensionTime {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.deadline = capDuration(deadline, lm.maxAckDeadline)
	lm.arm(entry)
	return true
}

// RemoveLease disarms and forgets a lease, called on ack/nack resolution.
func (lm *LeaseManager) RemoveLease(ackID string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.removeLocked(ackID)
}

// Clear disarms every outstanding lease, used on stream stop.
func (lm *LeaseManager) Clear() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for ackID := range lm.leases {
		lm.removeLocked(ackID)
	}
}

// Count reports how many leases are currently tracked.
func (lm *LeaseManager) Count() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.leases)
}

func (lm *LeaseManager) removeLocked(ackID string) {
	entry, ok := lm.leases[ackID]
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(lm.leases, ackID)
}

// arm schedules the next extension shortly before the current deadline
// would otherwise lapse, so the broker lease never expires while this
// subscriber is still processing the message.
func (lm *LeaseManager) arm(entry *leaseEntry) {
	fire := entry.deadline - leaseExtensionSafetyMargin
	if fire <= 0 {
		fire = entry.deadline
	}
	ackID := entry.ackID
	entry.timer = time.AfterFunc(fire, func() {
		lm.mu.Lock()
		cur, ok := lm.leases[ackID]
		if !ok || time.Since(cur.startedAt) >= lm.maxExtensionTime {
			lm.mu.Unlock()
			return
		}
		deadline := cur.deadline
		lm.mu.Unlock()

		lm.extend(ackID, deadline)

		lm.mu.Lock()
		if cur, ok := lm.leases[ackID]; ok {
			lm.arm(cur)
		}
		lm.mu.Unlock()
	})
}

func capDuration(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}
