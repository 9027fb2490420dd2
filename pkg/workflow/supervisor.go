package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/thin-edge/tedge-core/pkg/entity"
	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/logger"
	"github.com/thin-edge/tedge-core/pkg/validator"
)

// commandPayload is the shape every non-empty retained command payload is
// validated against before it reaches Board.Apply: status must be one of
// the spec §3 lifecycle values, enforced through the validator package's
// "tedge_status" tag rather than the ad hoc map lookup an inline check
// would need.
type commandPayload struct {
	Status string `validate:"required,tedge_status"`
}

// ActionHandler is invoked by the supervisor when dispatch yields an
// ActionBuiltIn, ActionScript, or ActionMove, so the operation-handler
// actors of spec §4.6 can react without the supervisor knowing their
// concrete types. AwaitingAgentRestart needs no handler: it is resolved by
// Resume().
type ActionHandler func(ctx context.Context, cs CommandState, action Action) error

// Supervisor is spec §4.5's "command-board / workflow supervisor": it
// keeps the board, dispatches actions for registered workflows, and drives
// restart resumption.
type Supervisor struct {
	board     *Board
	now       func() time.Time
	workflows map[string]WorkflowDefinition
	onAction  ActionHandler
	validate  *validator.Validator
}

// NewSupervisor creates a supervisor over board. onAction is called for
// every dispatched action except NoAction and AwaitingAgentRestart; now
// defaults to time.Now.
func NewSupervisor(board *Board, onAction ActionHandler, now func() time.Time) *Supervisor {
	if now == nil {
		now = time.Now
	}
	return &Supervisor{
		board:     board,
		now:       now,
		workflows: make(map[string]WorkflowDefinition),
		onAction:  onAction,
		validate:  validator.New(),
	}
}

// RegisterWorkflow records def for its operation name. A second built-in
// registration for the same operation is rejected; a user (non-built-in)
// workflow registered over an existing built-in of the same name silently
// wins (SPEC_FULL "Duplicate-workflow registration policy", grounded on
// register_custom_workflow's built_in comparison in the original).
func (s *Supervisor) RegisterWorkflow(def WorkflowDefinition) error {
	existing, ok := s.workflows[def.Operation]
	if ok && existing.BuiltIn && def.BuiltIn {
		return errors.Workflow("built-in workflow already registered for operation "+def.Operation, nil)
	}
	s.workflows[def.Operation] = def
	return nil
}

// Capabilities returns the deterministic, sorted capability list of spec
// §4.5 for every registered operation.
func (s *Supervisor) Capabilities() []Capability {
	caps := make([]Capability, 0, len(s.workflows))
	for op := range s.workflows {
		caps = append(caps, Capability{Operation: op})
	}
	return SortCapabilities(caps)
}

// HandleMessage processes one incoming retained MQTT message on a command
// topic: root is the configured topic-grammar root (spec §6), topic and
// payload are the raw MQTT message. An empty payload clears the command
// (spec §4.5 "An empty retained payload clears the entry"). A non-empty
// payload is decoded as JSON and applied through Board.Apply, then
// dispatched.
func (s *Supervisor) HandleMessage(ctx context.Context, root, topic string, payload []byte) error {
	msg, err := entity.Parse(root, topic)
	if err != nil {
		return errors.Wrap(err, "command topic does not match grammar")
	}
	if msg.Chan.Kind != "cmd" {
		return errors.Protocol("not a command topic: "+topic, nil)
	}
	operation := msg.Chan.Type
	correlationID := ""
	if len(msg.Chan.Args) > 0 {
		correlationID = msg.Chan.Args[0]
	}

	if len(payload) == 0 {
		_, _, err := s.board.Apply(ctx, topic, operation, "", correlationID, nil, s.now())
		return err
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return errors.Protocol("command payload is not valid JSON", err)
	}
	rawStatus, _ := decoded["status"].(string)
	if err := s.validate.ValidateStruct(commandPayload{Status: rawStatus}); err != nil {
		return errors.Protocol("command payload failed validation", err)
	}
	status := Status(rawStatus)

	cs, applied, err := s.board.Apply(ctx, topic, operation, status, correlationID, decoded, s.now())
	if err != nil {
		return err
	}
	if !applied {
		logger.L().WarnContext(ctx, "dropped external command update: would regress a terminal state",
			"topic", topic, "status", status)
		return nil
	}

	return s.dispatch(ctx, cs)
}

func (s *Supervisor) dispatch(ctx context.Context, cs CommandState) error {
	def, ok := s.workflows[cs.Operation]
	if !ok {
		logger.L().WarnContext(ctx, "no workflow registered for operation", "operation", cs.Operation)
		return nil
	}

	action := def.transitionFor(cs.Status)
	if action.Kind == ActionNoAction {
		return nil
	}
	if action.Kind == ActionAwaitingAgentRestart {
		// Nothing to do now; Resume() applies OnSuccess after restart.
		return nil
	}
	if s.onAction == nil {
		return nil
	}
	return s.onAction(ctx, cs, action)
}

// Resume is called once at startup after the persisted board has been
// loaded into s.board (spec §4.5 "On restart, the supervisor loads the
// persisted command board and, for each entry, consults resume_command").
// Commands left in AwaitingAgentRestart move to their OnSuccess state;
// every other command is re-evaluated exactly as if it had just been
// received, satisfying spec §8 property 6 (restart resumption never
// silently forgets a command).
func (s *Supervisor) Resume(ctx context.Context) error {
	for _, cs := range s.board.All() {
		def, ok := s.workflows[cs.Operation]
		if !ok {
			continue
		}
		action := def.transitionFor(cs.Status)

		if action.Kind == ActionAwaitingAgentRestart {
			newCS, _, err := s.board.Apply(ctx, cs.CommandTopic, cs.Operation, action.OnSuccess, cs.CorrelationID, cs.Payload, s.now())
			if err != nil {
				return err
			}
			if err := s.dispatch(ctx, newCS); err != nil {
				return err
			}
			continue
		}

		if err := s.dispatch(ctx, cs); err != nil {
			return err
		}
	}
	return nil
}

// LoadPersisted hydrates the board from its configured persister before
// Resume is called.
func (s *Supervisor) LoadPersisted(ctx context.Context) error {
	return s.board.LoadPersisted(ctx)
}

// Board exposes the underlying board, e.g. for direct inspection in tests
// or by an operation handler that needs to read current state.
func (s *Supervisor) Board() *Board {
	return s.board
}
