package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/thin-edge/tedge-core/pkg/workflow"
)

// WorkflowSuite covers the command-board / supervisor invariants of spec
// §4.5: monotonic status transitions, restart resumption via
// AwaitingAgentRestart, capability ordering, and duplicate built-in
// rejection.
type WorkflowSuite struct {
	suite.Suite
}

func (s *WorkflowSuite) newBoard() *workflow.Board {
	return workflow.NewBoard(nil)
}

func (s *WorkflowSuite) TestApplyInsertsNewCommand() {
	b := s.newBoard()
	now := time.Now()

	cs, applied, err := b.Apply(context.Background(), "te/main/device1/cmd/restart/c1", "restart", workflow.StatusInit, "c1", map[string]any{"status": "init"}, now)
	s.Require().NoError(err)
	s.True(applied)
	s.Equal(workflow.StatusInit, cs.Status)

	got, ok := b.Get("te/main/device1/cmd/restart/c1")
	s.True(ok)
	s.Equal("c1", got.CorrelationID)
}

func (s *WorkflowSuite) TestTerminalStateDoesNotRegress() {
	b := s.newBoard()
	ctx := context.Background()
	topic := "te/main/device1/cmd/restart/c1"

	_, _, err := b.Apply(ctx, topic, "restart", workflow.StatusInit, "c1", map[string]any{"status": "init"}, time.Now())
	s.Require().NoError(err)
	_, applied, err := b.Apply(ctx, topic, "restart", workflow.StatusSuccessful, "c1", map[string]any{"status": "successful"}, time.Now())
	s.Require().NoError(err)
	s.True(applied)

	// An external update trying to push the same correlation id back to
	// "executing" must be dropped.
	cs, applied, err := b.Apply(ctx, topic, "restart", workflow.StatusExecuting, "c1", map[string]any{"status": "executing"}, time.Now())
	s.Require().NoError(err)
	s.False(applied)
	s.Equal(workflow.StatusSuccessful, cs.Status)
}

func (s *WorkflowSuite) TestFreshInitStartsNewInstanceOverTerminal() {
	b := s.newBoard()
	ctx := context.Background()
	topic := "te/main/device1/cmd/restart/c1"

	_, _, err := b.Apply(ctx, topic, "restart", workflow.StatusInit, "c1", map[string]any{"status": "init"}, time.Now())
	s.Require().NoError(err)
	_, _, err = b.Apply(ctx, topic, "restart", workflow.StatusFailed, "c1", map[string]any{"status": "failed"}, time.Now())
	s.Require().NoError(err)

	cs, applied, err := b.Apply(ctx, topic, "restart", workflow.StatusInit, "c2", map[string]any{"status": "init"}, time.Now())
	s.Require().NoError(err)
	s.True(applied)
	s.Equal(workflow.StatusInit, cs.Status)
	s.Equal("c2", cs.CorrelationID)
}

func (s *WorkflowSuite) TestEmptyPayloadClearsCommand() {
	b := s.newBoard()
	ctx := context.Background()
	topic := "te/main/device1/cmd/restart/c1"

	_, _, err := b.Apply(ctx, topic, "restart", workflow.StatusInit, "c1", map[string]any{"status": "init"}, time.Now())
	s.Require().NoError(err)

	_, applied, err := b.Apply(ctx, topic, "restart", "", "", nil, time.Now())
	s.Require().NoError(err)
	s.True(applied)

	_, ok := b.Get(topic)
	s.False(ok)
}

func (s *WorkflowSuite) TestSupervisorHandleMessageDispatches() {
	board := s.newBoard()
	var dispatched []workflow.Action
	sup := workflow.NewSupervisor(board, func(ctx context.Context, cs workflow.CommandState, action workflow.Action) error {
		dispatched = append(dispatched, action)
		return nil
	}, nil)
	s.Require().NoError(sup.RegisterWorkflow(workflow.NewRestartWorkflow()))

	err := sup.HandleMessage(context.Background(), "te", "te/device/device1///cmd/restart/c1", []byte(`{"status":"init"}`))
	s.Require().NoError(err)
	s.Len(dispatched, 1)
	s.Equal(workflow.ActionBuiltIn, dispatched[0].Kind)
}

func (s *WorkflowSuite) TestResumeResolvesAwaitingAgentRestart() {
	board := s.newBoard()
	var dispatched []workflow.CommandState
	sup := workflow.NewSupervisor(board, func(ctx context.Context, cs workflow.CommandState, action workflow.Action) error {
		dispatched = append(dispatched, cs)
		return nil
	}, nil)
	s.Require().NoError(sup.RegisterWorkflow(workflow.NewRestartWorkflow()))

	ctx := context.Background()
	topic := "te/device/device1///cmd/restart/c1"
	s.Require().NoError(sup.HandleMessage(ctx, "te", topic, []byte(`{"status":"init"}`)))
	s.Require().NoError(sup.HandleMessage(ctx, "te", topic, []byte(`{"status":"executing"}`)))

	cs, ok := board.Get(topic)
	s.Require().True(ok)
	s.Equal(workflow.StatusExecuting, cs.Status)

	s.Require().NoError(sup.Resume(ctx))

	cs, ok = board.Get(topic)
	s.Require().True(ok)
	s.Equal(workflow.StatusSuccessful, cs.Status)
}

func (s *WorkflowSuite) TestCapabilitiesAreSortedByOperation() {
	board := s.newBoard()
	sup := workflow.NewSupervisor(board, nil, nil)
	for _, def := range workflow.DefaultWorkflows() {
		s.Require().NoError(sup.RegisterWorkflow(def))
	}

	caps := sup.Capabilities()
	s.Require().Len(caps, len(workflow.DefaultWorkflows()))
	for i := 1; i < len(caps); i++ {
		s.True(caps[i-1].Operation < caps[i].Operation)
	}
}

func (s *WorkflowSuite) TestDuplicateBuiltInRegistrationRejected() {
	board := s.newBoard()
	sup := workflow.NewSupervisor(board, nil, nil)
	s.Require().NoError(sup.RegisterWorkflow(workflow.NewRestartWorkflow()))
	err := sup.RegisterWorkflow(workflow.NewRestartWorkflow())
	s.Error(err)
}

func (s *WorkflowSuite) TestUserWorkflowOverridesBuiltIn() {
	board := s.newBoard()
	sup := workflow.NewSupervisor(board, nil, nil)
	s.Require().NoError(sup.RegisterWorkflow(workflow.NewRestartWorkflow()))

	custom := workflow.WorkflowDefinition{
		Operation: workflow.OpRestart,
		BuiltIn:   false,
		States: workflow.Transitions{
			workflow.StatusInit: workflow.RunScript("restart.sh"),
		},
	}
	s.Require().NoError(sup.RegisterWorkflow(custom))

	caps := sup.Capabilities()
	s.Len(caps, 1)
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}
