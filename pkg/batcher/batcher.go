// Package batcher groups events by a caller-supplied key, per spec §4.2.
//
// Grounded on _examples/original_source/crates/common/batcher/src/driver.rs:
// the same three operations (event, time, flush), the same timer-dedup
// bookkeeping (a sorted set of pending deadlines), and the same driver loop
// shape (select over the input channel and the earliest timer deadline).
package batcher

import (
	"sort"
	"time"
)

// Config mirrors the three tunables named in spec §4.2.
type Config struct {
	EventJitter    time.Duration // max extra wait for same-key events after the first
	DeliveryJitter time.Duration // max extra wait before emitting a ready batch
	MessageLeap    time.Duration // event-time regression beyond this starts a new batch
}

// Keyed is the minimal contract an event must satisfy: it has a grouping
// key and an event-time used for leap detection and ordering.
type Keyed[K comparable] interface {
	BatchKey() K
	EventTime() time.Time
}

type window[K comparable, E Keyed[K]] struct {
	key      K
	events   []E
	deadline time.Time
	earliest time.Time
}

// Batcher implements the pure event/time/flush state machine of spec §4.2.
// It holds no goroutines or channels; Driver wraps it into the actor loop.
type Batcher[K comparable, E Keyed[K]] struct {
	cfg     Config
	windows map[K]*window[K, E]
	timers  map[time.Time]int // deadline -> count of windows sharing it, for dedup
}

// New creates a batcher with the given configuration.
func New[K comparable, E Keyed[K]](cfg Config) *Batcher[K, E] {
	return &Batcher[K, E]{
		cfg:     cfg,
		windows: make(map[K]*window[K, E]),
		timers:  make(map[time.Time]int),
	}
}

// Action is the result of feeding one event to the batcher.
type Action[E any] struct {
	Batch        []E
	Timer        time.Time
	EmitBatch    bool
	ScheduleTimer bool
}

// Event feeds one event at time now, returning the actions it produces. A
// batch is emitted immediately if this event closes a leapt-over window;
// otherwise the event joins (or opens) its key's window and a timer is
// scheduled for its deadline, unless that deadline has already elapsed, in
// which case the batcher never schedules an already-past timer (spec
// §4.2's invariant that it never emits elapsed timers).
func (b *Batcher[K, E]) Event(now time.Time, e E) []Action[E] {
	key := e.BatchKey()
	w, ok := b.windows[key]

	if ok && e.EventTime().Before(w.earliest.Add(-b.cfg.MessageLeap)) {
		actions := []Action[E]{{Batch: w.events, EmitBatch: true}}
		b.removeTimer(w.deadline)
		delete(b.windows, key)
		return append(actions, b.openWindow(now, key, e)...)
	}

	if !ok {
		return b.openWindow(now, key, e)
	}

	w.events = append(w.events, e)
	if e.EventTime().Before(w.earliest) {
		w.earliest = e.EventTime()
	}

	newDeadline := now.Add(b.cfg.EventJitter)
	if newDeadline.After(w.deadline) && newDeadline.Sub(w.deadline) <= b.cfg.DeliveryJitter {
		b.removeTimer(w.deadline)
		w.deadline = newDeadline
		b.addTimer(w.deadline)
		if !newDeadline.After(now) {
			return nil
		}
		return []Action[E]{{Timer: w.deadline, ScheduleTimer: true}}
	}
	return nil
}

func (b *Batcher[K, E]) openWindow(now time.Time, key K, e E) []Action[E] {
	deadline := now.Add(b.cfg.EventJitter)
	w := &window[K, E]{key: key, events: []E{e}, deadline: deadline, earliest: e.EventTime()}
	b.windows[key] = w
	b.addTimer(deadline)

	if !deadline.After(now) {
		return nil
	}
	return []Action[E]{{Timer: deadline, ScheduleTimer: true}}
}

// Time processes a timer expiry at now, emitting every batch whose deadline
// has passed.
func (b *Batcher[K, E]) Time(now time.Time) [][]E {
	var out [][]E
	for key, w := range b.windows {
		if !w.deadline.After(now) {
			out = append(out, w.events)
			b.removeTimer(w.deadline)
			delete(b.windows, key)
		}
	}
	return out
}

// Flush emits every open batch unconditionally.
func (b *Batcher[K, E]) Flush() [][]E {
	var out [][]E
	for key, w := range b.windows {
		out = append(out, w.events)
		delete(b.windows, key)
	}
	b.timers = make(map[time.Time]int)
	return out
}

func (b *Batcher[K, E]) addTimer(t time.Time) {
	b.timers[t]++
}

func (b *Batcher[K, E]) removeTimer(t time.Time) {
	if n, ok := b.timers[t]; ok {
		if n <= 1 {
			delete(b.timers, t)
		} else {
			b.timers[t] = n - 1
		}
	}
}

// NextTimer returns the earliest pending timer deadline and whether one
// exists, mirroring driver.rs's TimeTo::{Unbounded,Future,Past}.
func (b *Batcher[K, E]) NextTimer() (time.Time, bool) {
	if len(b.timers) == 0 {
		return time.Time{}, false
	}
	deadlines := make([]time.Time, 0, len(b.timers))
	for t := range b.timers {
		deadlines = append(deadlines, t)
	}
	sort.Slice(deadlines, func(i, j int) bool { return deadlines[i].Before(deadlines[j]) })
	return deadlines[0], true
}

// clampDuration clamps a signed duration to be non-negative, resolving the
// "what happens when a computed wait is negative" open question: treat it
// as already-elapsed rather than sleeping a negative amount or panicking.
func clampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
