package tests

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/thin-edge/tedge-core/pkg/runtime"
)

// RuntimeSuite covers spec §4.8's actor supervision lifecycle: clean exit,
// restart-with-backoff, and restart-budget exhaustion aborting the agent.
type RuntimeSuite struct {
	suite.Suite
}

type fakeActor struct {
	name    string
	runs    atomic.Int64
	runFunc func(ctx context.Context, run int64) error
}

func (a *fakeActor) Name() string { return a.name }

func (a *fakeActor) Run(ctx context.Context) error {
	n := a.runs.Add(1)
	return a.runFunc(ctx, n)
}

func (s *RuntimeSuite) TestCleanExitStopsSupervision() {
	a := &fakeActor{name: "a", runFunc: func(ctx context.Context, run int64) error { return nil }}
	rt := runtime.New(runtime.Config{})
	rt.Register(a)

	err := rt.Run(context.Background())
	s.NoError(err)
	s.Equal(int64(1), a.runs.Load())
}

func (s *RuntimeSuite) TestContextCancellationStopsSupervisionWithoutRestart() {
	a := &fakeActor{name: "a", runFunc: func(ctx context.Context, run int64) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	rt := runtime.New(runtime.Config{})
	rt.Register(a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.Fail("Run did not return after cancellation")
	}
	s.Equal(int64(1), a.runs.Load())
}

func (s *RuntimeSuite) TestFailureRestartsWithinBudget() {
	a := &fakeActor{name: "a", runFunc: func(ctx context.Context, run int64) error {
		if run < 3 {
			return assertErr
		}
		<-ctx.Done()
		return ctx.Err()
	}}
	rt := runtime.New(runtime.Config{MaxRestarts: 5, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	rt.Register(a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	s.Eventually(func() bool { return a.runs.Load() >= 3 }, time.Second, 2*time.Millisecond)
	cancel()
	<-done
}

func (s *RuntimeSuite) TestExhaustedRestartBudgetAbortsAgent() {
	a := &fakeActor{name: "a", runFunc: func(ctx context.Context, run int64) error {
		return assertErr
	}}
	rt := runtime.New(runtime.Config{MaxRestarts: 2, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	rt.Register(a)

	err := rt.Run(context.Background())
	s.Error(err)
	s.ErrorIs(err, assertErr)
	// 1 initial run + 2 retries = 3 total attempts before the 3rd failure
	// exceeds MaxRestarts=2.
	s.Equal(int64(3), a.runs.Load())
}

func (s *RuntimeSuite) TestAbortCancelsOtherActors() {
	failing := &fakeActor{name: "failing", runFunc: func(ctx context.Context, run int64) error {
		return assertErr
	}}
	var otherCancelled atomic.Bool
	other := &fakeActor{name: "other", runFunc: func(ctx context.Context, run int64) error {
		<-ctx.Done()
		otherCancelled.Store(true)
		return ctx.Err()
	}}

	rt := runtime.New(runtime.Config{MaxRestarts: 0, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	rt.Register(failing)
	rt.Register(other)

	err := rt.Run(context.Background())
	s.Error(err)
	s.True(otherCancelled.Load())
}

type reloadableActor struct {
	fakeActor
	reloads atomic.Int64
}

func (a *reloadableActor) Reload(ctx context.Context) error {
	a.reloads.Add(1)
	return nil
}

func (s *RuntimeSuite) TestReloadFansOutToReloadableActorsOnly() {
	reloadable := &reloadableActor{fakeActor: fakeActor{name: "r", runFunc: func(ctx context.Context, run int64) error {
		<-ctx.Done()
		return ctx.Err()
	}}}
	plain := &fakeActor{name: "p", runFunc: func(ctx context.Context, run int64) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	rt := runtime.New(runtime.Config{})
	rt.Register(reloadable)
	rt.Register(plain)

	err := rt.Reload(context.Background())
	s.NoError(err)
	s.Equal(int64(1), reloadable.reloads.Load())
}

var assertErr = &simpleError{"actor failure"}

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }

func TestRuntimeSuite(t *testing.T) {
	suite.Run(t, new(RuntimeSuite))
}
