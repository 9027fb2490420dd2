package tests

import (
	"testing"
	"time"

	"github.com/thin-edge/tedge-core/pkg/batcher"
	"github.com/stretchr/testify/suite"
)

type testEvent struct {
	key  string
	time time.Time
}

func (e testEvent) BatchKey() string     { return e.key }
func (e testEvent) EventTime() time.Time { return e.time }

// BatcherSuite mirrors the flush/event/timer scenarios of the original
// batcher driver tests (flush_empty, flush_one_batch, two_batches_with_timer).
type BatcherSuite struct {
	suite.Suite
}

func (s *BatcherSuite) TestFlushEmpty() {
	b := batcher.New[string, testEvent](batcher.Config{
		EventJitter:    10 * time.Millisecond,
		DeliveryJitter: 10 * time.Millisecond,
		MessageLeap:    time.Second,
	})

	s.Empty(b.Flush())
}

func (s *BatcherSuite) TestEventThenFlushEmitsOneBatch() {
	b := batcher.New[string, testEvent](batcher.Config{
		EventJitter:    time.Second,
		DeliveryJitter: time.Second,
		MessageLeap:    time.Second,
	})

	now := time.Now()
	actions := b.Event(now, testEvent{key: "a", time: now})
	s.Len(actions, 1)
	s.True(actions[0].ScheduleTimer)

	batches := b.Flush()
	s.Len(batches, 1)
	s.Len(batches[0], 1)
}

func (s *BatcherSuite) TestSameKeyEventsJoinOneBatch() {
	b := batcher.New[string, testEvent](batcher.Config{
		EventJitter:    time.Second,
		DeliveryJitter: time.Second,
		MessageLeap:    time.Second,
	})

	now := time.Now()
	b.Event(now, testEvent{key: "a", time: now})
	b.Event(now.Add(time.Millisecond), testEvent{key: "a", time: now.Add(time.Millisecond)})

	batches := b.Flush()
	s.Len(batches, 1)
	s.Len(batches[0], 2)
}

func (s *BatcherSuite) TestDifferentKeysOpenDistinctBatches() {
	b := batcher.New[string, testEvent](batcher.Config{
		EventJitter:    time.Second,
		DeliveryJitter: time.Second,
		MessageLeap:    time.Second,
	})

	now := time.Now()
	b.Event(now, testEvent{key: "a", time: now})
	b.Event(now, testEvent{key: "b", time: now})

	batches := b.Flush()
	s.Len(batches, 2)
}

func (s *BatcherSuite) TestLeapStartsNewBatch() {
	b := batcher.New[string, testEvent](batcher.Config{
		EventJitter:    time.Second,
		DeliveryJitter: time.Second,
		MessageLeap:    10 * time.Millisecond,
	})

	now := time.Now()
	b.Event(now, testEvent{key: "a", time: now})

	// Second event's event-time precedes the earliest-in-window by more
	// than message_leap_limit: it must close the first batch and start a
	// new one instead of joining.
	leapTime := now.Add(-time.Hour)
	actions := b.Event(now, testEvent{key: "a", time: leapTime})

	var emitted int
	for _, a := range actions {
		if a.EmitBatch {
			emitted++
			s.Len(a.Batch, 1)
		}
	}
	s.Equal(1, emitted)

	batches := b.Flush()
	s.Len(batches, 1)
	s.Len(batches[0], 1)
}

func (s *BatcherSuite) TestTimeEmitsElapsedBatches() {
	b := batcher.New[string, testEvent](batcher.Config{
		EventJitter:    time.Millisecond,
		DeliveryJitter: time.Millisecond,
		MessageLeap:    time.Second,
	})

	now := time.Now()
	b.Event(now, testEvent{key: "a", time: now})

	later := now.Add(time.Hour)
	batches := b.Time(later)
	s.Len(batches, 1)

	// window removed, a second Time call at the same instant emits nothing
	s.Empty(b.Time(later))
}

func (s *BatcherSuite) TestNextTimerUnboundedWhenEmpty() {
	b := batcher.New[string, testEvent](batcher.Config{})
	_, ok := b.NextTimer()
	s.False(ok)
}

// TestBatcherSuite runs the test suite.
func TestBatcherSuite(t *testing.T) {
	suite.Run(t, new(BatcherSuite))
}
