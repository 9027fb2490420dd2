package batcher

import (
	"context"
	"time"

	"github.com/thin-edge/tedge-core/pkg/logger"
)

// Input mirrors driver.rs's BatchDriverInput: either a new event or a
// request to flush and terminate.
type Input[E any] struct {
	Event     *E
	IsFlush   bool
}

// Output mirrors driver.rs's BatchDriverOutput: an emitted batch, or a
// marker that flush has completed.
type Output[E any] struct {
	Batch    []E
	IsFlush  bool
}

// Driver runs a Batcher as its own actor: it selects over an input channel
// and the earliest pending timer deadline, exactly as described in spec
// §4.2's "Driver loop".
type Driver[K comparable, E Keyed[K]] struct {
	batcher *Batcher[K, E]
	input   <-chan Input[E]
	output  chan<- Output[E]
	now     func() time.Time
}

// NewDriver wires a batcher to its input/output channels. now defaults to
// time.Now when nil; tests may supply a deterministic clock.
func NewDriver[K comparable, E Keyed[K]](b *Batcher[K, E], input <-chan Input[E], output chan<- Output[E], now func() time.Time) *Driver[K, E] {
	if now == nil {
		now = time.Now
	}
	return &Driver[K, E]{batcher: b, input: input, output: output, now: now}
}

// Run drives the loop until the input channel closes, a Flush input is
// received, or ctx is cancelled.
func (d *Driver[K, E]) Run(ctx context.Context) {
	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if deadline, ok := d.batcher.NextTimer(); ok {
			timer = time.NewTimer(clampDuration(deadline.Sub(d.now())))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			d.stopTimer(timer)
			return

		case in, ok := <-d.input:
			d.stopTimer(timer)
			if !ok {
				return
			}
			if in.IsFlush {
				for _, batch := range d.batcher.Flush() {
					d.emit(ctx, Output[E]{Batch: batch})
				}
				d.emit(ctx, Output[E]{IsFlush: true})
				return
			}
			if in.Event != nil {
				for _, action := range d.batcher.Event(d.now(), *in.Event) {
					if action.EmitBatch {
						d.emit(ctx, Output[E]{Batch: action.Batch})
					}
				}
			}

		case <-timerC:
			for _, batch := range d.batcher.Time(d.now()) {
				d.emit(ctx, Output[E]{Batch: batch})
			}
		}
	}
}

func (d *Driver[K, E]) stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (d *Driver[K, E]) emit(ctx context.Context, out Output[E]) {
	select {
	case d.output <- out:
	case <-ctx.Done():
		logger.L().WarnContext(ctx, "batcher output dropped on shutdown")
	}
}
