// Package wheel implements a hashed timing wheel: a fixed ring of buckets
// advanced by a single ticker goroutine, used in place of one OS timer per
// pending deadline. The broker arms one entry per lease and one per
// backoff-delayed message; at subscription scale that is many more timers
// than a naive time.AfterFunc-per-entry design should create.
package wheel

import (
	"container/list"
	"sync"
	"time"
)

// Task is a handle to a scheduled callback. Cancel prevents the callback
// from firing if it hasn't already; it is safe to call more than once and
// safe to call after the callback has fired.
type Task struct {
	mu        sync.Mutex
	cancelled bool
	elem      *list.Element
	slot      int
	rounds    int
	fn        func()
}

func (t *Task) cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

// Cancel stops the task from firing. Returns false if it already fired or
// was already cancelled.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

// Wheel is a hashed timing wheel with fixed tick resolution and slot count.
type Wheel struct {
	tick  time.Duration
	slots []*list.List
	n     int

	mu      sync.Mutex
	current int

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Wheel with the given tick resolution and number of slots.
// A delay longer than tick*slots simply wraps around more than once before
// firing; it is tracked via each task's rounds counter.
func New(tick time.Duration, slots int) *Wheel {
	w := &Wheel{
		tick:  tick,
		slots: make([]*list.List, slots),
		n:     slots,
	}
	for i := range w.slots {
		w.slots[i] = list.New()
	}
	return w
}

// Start begins advancing the wheel. Safe to call once; calling Start on an
// already-started Wheel is a no-op.
func (w *Wheel) Start() {
	w.mu.Lock()
	if w.ticker != nil {
		w.mu.Unlock()
		return
	}
	w.ticker = time.NewTicker(w.tick)
	w.stopCh = make(chan struct{})
	ticker := w.ticker
	stop := w.stopCh
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ticker.C:
				w.advance()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the wheel. Pending tasks are discarded without firing.
func (w *Wheel) Stop() {
	w.mu.Lock()
	if w.ticker == nil {
		w.mu.Unlock()
		return
	}
	w.ticker.Stop()
	close(w.stopCh)
	w.ticker = nil
	w.mu.Unlock()
	w.wg.Wait()
}

// Schedule arranges for fn to run after delay has elapsed, on the wheel's
// own goroutine. fn should not block; the broker hands off to its own
// goroutines/channels for anything beyond a queue mutation.
func (w *Wheel) Schedule(delay time.Duration, fn func()) *Task {
	if delay < 0 {
		delay = 0
	}
	ticks := int(delay / w.tick)
	if delay > 0 && ticks == 0 {
		// A delay shorter than one tick still needs to land in a slot ahead
		// of w.current: slot 0 below would otherwise place it in the bucket
		// advance() just finished with, which isn't visited again for a
		// full rotation.
		ticks = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	slot := (w.current + ticks) % w.n
	rounds := ticks / w.n

	task := &Task{slot: slot, rounds: rounds, fn: fn}
	task.elem = w.slots[slot].PushBack(task)
	return task
}

func (w *Wheel) advance() {
	w.mu.Lock()
	w.current = (w.current + 1) % w.n
	bucket := w.slots[w.current]

	var due []*Task
	for e := bucket.Front(); e != nil; {
		next := e.Next()
		task := e.Value.(*Task)
		if task.rounds > 0 {
			task.rounds--
		} else {
			bucket.Remove(e)
			due = append(due, task)
		}
		e = next
	}
	w.mu.Unlock()

	for _, task := range due {
		task.mu.Lock()
		fired := !task.cancelled
		task.cancelled = true
		task.mu.Unlock()
		if fired {
			task.fn()
		}
	}
}
