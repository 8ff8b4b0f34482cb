package concurrency

import (
	"sync"
	"time"

	"github.com/donlair/pubsub-sub001/pkg/logger"
)

// MutexConfig configures a SmartMutex or SmartRWMutex.
type MutexConfig struct {
	// Name identifies the mutex in diagnostics (e.g. a subscription or topic name).
	Name string

	// DebugMode logs a warning when a critical section is held longer than
	// slowHoldThreshold. Off by default so the fast path pays no overhead.
	DebugMode bool
}

const slowHoldThreshold = 50 * time.Millisecond

// SmartMutex is a sync.Mutex that can optionally report long-held critical
// sections. The broker uses one per SubscriptionState; DebugMode is normally
// left off since the check adds a time.Now() on every lock/unlock.
type SmartMutex struct {
	mu     sync.Mutex
	cfg    MutexConfig
	locked time.Time
}

func NewSmartMutex(cfg MutexConfig) *SmartMutex {
	return &SmartMutex{cfg: cfg}
}

func (m *SmartMutex) Lock() {
	m.mu.Lock()
	if m.cfg.DebugMode {
		m.locked = time.Now()
	}
}

func (m *SmartMutex) Unlock() {
	if m.cfg.DebugMode && !m.locked.IsZero() {
		if held := time.Since(m.locked); held > slowHoldThreshold {
			logger.L().Warn("mutex held too long", "name", m.cfg.Name, "held", held)
		}
	}
	m.mu.Unlock()
}

// SmartRWMutex is a sync.RWMutex with the same opt-in diagnostics as SmartMutex.
type SmartRWMutex struct {
	mu     sync.RWMutex
	cfg    MutexConfig
	locked time.Time
}

func NewSmartRWMutex(cfg MutexConfig) *SmartRWMutex {
	return &SmartRWMutex{cfg: cfg}
}

func (m *SmartRWMutex) Lock() {
	m.mu.Lock()
	if m.cfg.DebugMode {
		m.locked = time.Now()
	}
}

func (m *SmartRWMutex) Unlock() {
	if m.cfg.DebugMode && !m.locked.IsZero() {
		if held := time.Since(m.locked); held > slowHoldThreshold {
			logger.L().Warn("mutex held too long", "name", m.cfg.Name, "held", held)
		}
	}
	m.mu.Unlock()
}

func (m *SmartRWMutex) RLock() {
	m.mu.RLock()
}

func (m *SmartRWMutex) RUnlock() {
	m.mu.RUnlock()
}
