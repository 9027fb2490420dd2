package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/thin-edge/tedge-core/pkg/errors"
)

// Board owns the map command-topic -> CommandState exclusively (spec §3:
// "the command board exclusively owns command state"). At most one active
// command exists per command topic at a time.
type Board struct {
	mu       sync.Mutex
	commands map[string]CommandState
	persist  Persister
}

// NewBoard creates an empty board. persist may be nil, in which case
// updates are held in memory only (used in tests).
func NewBoard(persist Persister) *Board {
	return &Board{
		commands: make(map[string]CommandState),
		persist:  persist,
	}
}

// Get returns the current state of topic, if any.
func (b *Board) Get(topic string) (CommandState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs, ok := b.commands[topic]
	return cs, ok
}

// All returns a snapshot of every currently tracked command, for
// persistence and restart resumption.
func (b *Board) All() []CommandState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CommandState, 0, len(b.commands))
	for _, cs := range b.commands {
		out = append(out, cs)
	}
	return out
}

// Apply applies an incoming retained-message update for topic, enforcing
// spec §4.5's rules:
//
//   - an "init" status on an unknown topic inserts a new entry;
//   - an update for a known command replaces its state, UNLESS it would
//     regress a terminal state (successful/failed) back to a non-terminal
//     one without an intervening "init" carrying a new correlation id
//     (spec §9 Open Question 3, resolved as rejection);
//   - an empty payload (status == "" and no other fields) clears the
//     entry entirely.
//
// Returns the resulting CommandState (zero value if cleared) and whether
// the update was applied (false means it was dropped, per SPEC_FULL's
// "external command updates are not blindly applied").
func (b *Board) Apply(ctx context.Context, topic, operation string, status Status, correlationID string, payload map[string]any, now time.Time) (CommandState, bool, error) {
	b.mu.Lock()

	if status == "" && len(payload) == 0 {
		delete(b.commands, topic)
		b.mu.Unlock()
		if b.persist != nil {
			if err := b.persist.Save(ctx, b.All()); err != nil {
				return CommandState{}, true, errors.Wrap(err, "failed to persist command board after clear")
			}
		}
		return CommandState{}, true, nil
	}

	existing, known := b.commands[topic]

	if known && status == StatusInit && correlationID != existing.CorrelationID {
		// A fresh init with a new correlation id always starts a new
		// instance, even over a terminal one.
	} else if known && existing.Status.IsTerminal() && !status.IsTerminal() {
		b.mu.Unlock()
		return existing, false, nil
	}

	cs := CommandState{
		CommandTopic:  topic,
		Operation:     operation,
		CorrelationID: correlationID,
		Status:        status,
		Payload:       payload,
		UpdatedAt:     now,
	}
	b.commands[topic] = cs
	snapshot := b.All()
	b.mu.Unlock()

	if b.persist != nil {
		if err := b.persist.Save(ctx, snapshot); err != nil {
			return cs, true, errors.Wrap(err, "failed to persist command board")
		}
	}
	return cs, true, nil
}

// Load replaces the board's contents with states, used when restoring from
// persistence on restart (spec §4.5 "On restart, the supervisor loads the
// persisted command board").
func (b *Board) Load(states []CommandState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = make(map[string]CommandState, len(states))
	for _, cs := range states {
		b.commands[cs.CommandTopic] = cs
	}
}

// LoadPersisted hydrates the board from its configured Persister, if any
// (spec §4.5: "On restart, the supervisor loads the persisted command
// board").
func (b *Board) LoadPersisted(ctx context.Context) error {
	if b.persist == nil {
		return nil
	}
	states, err := b.persist.Load(ctx)
	if err != nil {
		return err
	}
	b.Load(states)
	return nil
}

// Persister is the persistence hook a Board calls on every mutation (spec
// §3 "Persisted to disk on update"; spec §5 "on-disk state files are
// written atomically").
type Persister interface {
	Save(ctx context.Context, states []CommandState) error
	Load(ctx context.Context) ([]CommandState, error)
}
