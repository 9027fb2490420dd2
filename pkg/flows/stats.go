package flows

import (
	"sync"
	"time"
)

// ScriptStats is spec §4.4's per-script statistics: invocation count, total
// duration, and failure count. Step statistics are kept per script and
// handler (keyed "<script>#<handler>"), flow statistics per flow source.
type ScriptStats struct {
	Invocations int64
	Failures    int64
	TotalTime   time.Duration
}

// Counter aggregates ScriptStats per script handler and per flow. Snapshot
// returns a copy of the per-script figures; neither the engine nor any
// other code in this module dumps them on a schedule.
type Counter struct {
	mu       sync.Mutex
	byScript map[string]*ScriptStats
	byFlow   map[string]*ScriptStats
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{
		byScript: make(map[string]*ScriptStats),
		byFlow:   make(map[string]*ScriptStats),
	}
}

func (c *Counter) recordScript(script string, dur time.Duration, failed bool, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byScript[script]
	if !ok {
		s = &ScriptStats{}
		c.byScript[script] = s
	}
	s.Invocations++
	s.TotalTime += dur
	if failed {
		s.Failures++
	}
}

func (c *Counter) recordFlow(source string, dur time.Duration, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byFlow[source]
	if !ok {
		s = &ScriptStats{}
		c.byFlow[source] = s
	}
	s.Invocations++
	s.TotalTime += dur
}

// StepStarted marks the start of an invocation of script/handler, returning
// the start time to pass to StepDone/StepFailed.
func (c *Counter) StepStarted() time.Time { return time.Now() }

// StepDone records a successful step invocation.
func (c *Counter) StepDone(script, handler string, startedAt time.Time, outputCount int) {
	c.recordScript(script+"#"+handler, time.Since(startedAt), false, outputCount)
}

// StepFailed records a failed step invocation.
func (c *Counter) StepFailed(script, handler string) {
	c.recordScript(script+"#"+handler, 0, true, 0)
}

// FlowOnMessageStarted marks the start of a flow-wide OnMessage pass.
func (c *Counter) FlowOnMessageStarted() time.Time { return time.Now() }

// FlowOnMessageDone records a completed flow-wide OnMessage pass.
func (c *Counter) FlowOnMessageDone(source string, startedAt time.Time, outputCount int) {
	c.recordFlow(source, time.Since(startedAt), outputCount)
}

// FlowOnIntervalStarted marks the start of a flow-wide OnInterval pass.
func (c *Counter) FlowOnIntervalStarted() time.Time { return time.Now() }

// FlowOnIntervalDone records a completed flow-wide OnInterval pass.
func (c *Counter) FlowOnIntervalDone(source string, startedAt time.Time, outputCount int) {
	c.recordFlow(source, time.Since(startedAt), outputCount)
}

// Snapshot returns a copy of the per-script statistics collected so far.
func (c *Counter) Snapshot() map[string]ScriptStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ScriptStats, len(c.byScript))
	for k, v := range c.byScript {
		out[k] = *v
	}
	return out
}
