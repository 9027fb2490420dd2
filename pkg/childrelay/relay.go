package childrelay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/logger"
)

// Publisher ships one MQTT message toward a child device.
type Publisher func(ctx context.Context, topic string, payload []byte) error

// StateUpdater is invoked whenever a relayed operation's status changes,
// so the caller can reflect it onto the command board (spec §4.7 steps
// 5-7: "On executing -> update workflow state", "On successful/failed ->
// resolve workflow state").
type StateUpdater func(ctx context.Context, operationID, status, reason string)

// Config configures a Relay.
type Config struct {
	TopicRoot       string
	GracefulTimeout time.Duration // deadline for the first response (executing or terminal)
	ForcefulTimeout time.Duration // deadline for a terminal response once executing has been seen
	MaxAttempts     int
}

func (c *Config) applyDefaults() {
	if c.TopicRoot == "" {
		c.TopicRoot = "te"
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = 60 * time.Second
	}
	if c.ForcefulTimeout <= 0 {
		c.ForcefulTimeout = 10 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
}

type stage int

const (
	stageGraceful stage = iota
	stageForceful
)

type pending struct {
	entry Entry
	stage stage
	timer *time.Timer
}

// Relay drives spec §4.7's child-device operation protocol: publish
// request, track a per-request timer, retry on timeout up to an attempt
// budget, and resolve workflow state from the child's response.
type Relay struct {
	cfg       Config
	store     *EntryStore
	publish   Publisher
	onState   StateUpdater
	now       func() time.Time

	mu     sync.Mutex
	active map[string]*pending
}

// NewRelay creates a relay. publish ships request messages; onState is
// called on every status transition the relay observes or derives.
func NewRelay(cfg Config, store *EntryStore, publish Publisher, onState StateUpdater) *Relay {
	cfg.applyDefaults()
	return &Relay{
		cfg:     cfg,
		store:   store,
		publish: publish,
		onState: onState,
		now:     time.Now,
		active:  make(map[string]*pending),
	}
}

// Start begins relaying a new child-device operation: persists the entry,
// publishes the initial request, and arms the graceful timeout.
func (r *Relay) Start(ctx context.Context, entry Entry) error {
	if entry.Attempt == 0 {
		entry.Attempt = 1
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}

	if err := r.store.Save(ctx, entry); err != nil {
		return err
	}
	if err := r.sendRequest(ctx, entry); err != nil {
		return err
	}

	r.mu.Lock()
	r.arm(ctx, entry, stageGraceful)
	r.mu.Unlock()
	return nil
}

// Resume rehydrates in-flight operations from the store after a restart,
// rearming each with a fresh graceful timeout (spec §8 property 6: restart
// resumption never silently forgets a pending request).
func (r *Relay) Resume(ctx context.Context) error {
	entries, err := r.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range entries {
		r.arm(ctx, entry, stageGraceful)
	}
	return nil
}

// arm must be called with r.mu held.
func (r *Relay) arm(ctx context.Context, entry Entry, st stage) {
	if p, ok := r.active[entry.OperationID]; ok && p.timer != nil {
		p.timer.Stop()
	}
	timeout := r.cfg.GracefulTimeout
	if st == stageForceful {
		timeout = r.cfg.ForcefulTimeout
	}

	p := &pending{entry: entry, stage: st}
	p.timer = time.AfterFunc(timeout, func() { r.handleTimeout(ctx, entry.OperationID) })
	r.active[entry.OperationID] = p
}

func (r *Relay) sendRequest(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry.ToRequestPayload())
	if err != nil {
		return errors.Storage("failed to marshal child operation request", err)
	}
	topic := RequestTopic(r.cfg.TopicRoot, entry.ChildID, entry.Operation)
	return r.publish(ctx, topic, payload)
}

// handleTimeout fires when no qualifying response arrived before the
// armed deadline (spec §4.7 step 7, scenario S5).
func (r *Relay) handleTimeout(ctx context.Context, operationID string) {
	r.mu.Lock()
	p, ok := r.active[operationID]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry := p.entry
	r.mu.Unlock()

	if entry.Attempt >= r.cfg.MaxAttempts {
		r.finish(ctx, operationID, StatusFailed, "timeout")
		return
	}

	entry.Attempt++
	if err := r.store.Save(ctx, entry); err != nil {
		logger.L().ErrorContext(ctx, "failed to persist retried child operation entry",
			"operation_id", operationID, "error", err)
		return
	}
	if err := r.sendRequest(ctx, entry); err != nil {
		logger.L().ErrorContext(ctx, "failed to republish child operation request",
			"operation_id", operationID, "error", err)
		return
	}

	r.mu.Lock()
	r.arm(ctx, entry, stageGraceful)
	r.mu.Unlock()

	logger.L().WarnContext(ctx, "child operation timed out, retrying",
		"operation_id", operationID, "attempt", entry.Attempt)
}

// HandleResponse processes one response message on a child's response
// topic, matching it to its pending entry by operation id. An unrecognised
// id, invalid status, or malformed payload is logged and dropped without
// clearing the entry (spec §4.7: "a malformed response does not clear the
// entry").
func (r *Relay) HandleResponse(ctx context.Context, topic string, payload []byte) error {
	var resp ResponsePayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		logger.L().ErrorContext(ctx, "failed to parse child operation response", "topic", topic, "error", err)
		return errors.Protocol("malformed child operation response payload", err)
	}
	if resp.OperationID == "" {
		logger.L().ErrorContext(ctx, "child operation response missing id", "topic", topic)
		return errors.Protocol("child operation response missing id", nil)
	}
	if !validResponseStatus(resp.Status) {
		logger.L().ErrorContext(ctx, "child operation response has unknown status",
			"topic", topic, "status", resp.Status)
		return errors.Protocol("child operation response has unknown status: "+resp.Status, nil)
	}

	r.mu.Lock()
	p, ok := r.active[resp.OperationID]
	r.mu.Unlock()
	if !ok {
		logger.L().ErrorContext(ctx, "child operation response does not match any pending request",
			"operation_id", resp.OperationID, "topic", topic)
		return errors.Protocol("no pending child operation for id "+resp.OperationID, nil)
	}

	reason := ""
	if resp.Reason != nil {
		reason = *resp.Reason
	}

	switch resp.Status {
	case StatusExecuting:
		r.mu.Lock()
		r.arm(ctx, p.entry, stageForceful)
		r.mu.Unlock()
		r.onState(ctx, resp.OperationID, StatusExecuting, reason)
	case StatusSuccessful:
		r.finish(ctx, resp.OperationID, StatusSuccessful, reason)
	case StatusFailed:
		r.finish(ctx, resp.OperationID, StatusFailed, reason)
	}
	return nil
}

// finish resolves a terminal status: notifies the caller, stops the timer,
// and clears the persisted entry.
func (r *Relay) finish(ctx context.Context, operationID, status, reason string) {
	r.mu.Lock()
	p, ok := r.active[operationID]
	if ok {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(r.active, operationID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := r.store.Delete(ctx, operationID); err != nil {
		logger.L().ErrorContext(ctx, "failed to clear child operation entry",
			"operation_id", operationID, "error", err)
	}
	r.onState(ctx, operationID, status, reason)
}

// Pending reports whether operationID currently has an in-flight request
// tracked (used by tests, and by idempotent-retry handling: re-publishing
// the same operation id while it is still pending is a no-op on this
// side too, since the child response is matched by id regardless of how
// many times the request was sent).
func (r *Relay) Pending(operationID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.active[operationID]
	if !ok {
		return Entry{}, false
	}
	return p.entry, true
}
