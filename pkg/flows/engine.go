package flows

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/thin-edge/tedge-core/pkg/bus"
	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/logger"
)

// Publisher is how the engine emits a step's output messages onto the
// bridge (spec §4.3/§4.4 boundary).
type Publisher func(ctx context.Context, msg Message) error

// SubscriptionChange reports the engine's recomputed aggregate subscription
// set after a reload (spec §4.4: "the aggregate subscription set is
// recomputed and the diff is published to the bridge").
type SubscriptionChange struct {
	Added   []string
	Removed []string
}

// SubscriptionHandler is notified of subscription set changes.
type SubscriptionHandler func(ctx context.Context, change SubscriptionChange)

// Engine owns every loaded flow, watches their source directory for
// changes, and drives message dispatch plus interval ticks. It runs as its
// own actor (spec §4.1 idiom): Run selects over its inbound mailbox, the
// fsnotify watcher, and a one-second ticker.
type Engine struct {
	dir    string
	stats  *Counter
	pub    Publisher
	onSub  SubscriptionHandler
	inbox  *bus.Mailbox[Message]
	signal bus.SignalChan

	mu        sync.Mutex
	flows     map[string]*Flow // keyed by Source path
	lastTopic TopicFilter
}

// NewEngine creates an engine rooted at dir (the flow directory of spec
// §4.4), publishing step output through pub and reporting subscription
// changes through onSub.
func NewEngine(dir string, pub Publisher, onSub SubscriptionHandler) *Engine {
	return &Engine{
		dir:    dir,
		stats:  NewCounter(),
		pub:    pub,
		onSub:  onSub,
		inbox:  bus.NewMailbox[Message](256),
		signal: bus.NewSignalChan(),
		flows:  make(map[string]*Flow),
	}
}

// Stats exposes the engine's per-script statistics counter.
func (e *Engine) Stats() *Counter { return e.stats }

// Dispatch enqueues an incoming MQTT message for processing. Blocks while
// the engine's inbox is full, the backpressure mechanism of spec §4.1.
func (e *Engine) Dispatch(ctx context.Context, msg Message) error {
	return e.inbox.Send(ctx, msg)
}

// Shutdown requests the engine stop at the next opportunity.
func (e *Engine) Shutdown(ctx context.Context) error {
	select {
	case e.signal <- bus.Shutdown:
		return nil
	case <-ctx.Done():
		return errors.Channel("shutdown request cancelled", ctx.Err())
	}
}

// LoadAll walks the engine's directory loading every flow definition found,
// then recomputes and reports the initial subscription set.
func (e *Engine) LoadAll(ctx context.Context) error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return errors.Storage("failed to read flow directory "+e.dir, err)
	}

	e.mu.Lock()
	for _, ent := range entries {
		if ent.IsDir() || !IsFlowDefinition(ent.Name()) {
			continue
		}
		path := filepath.Join(e.dir, ent.Name())
		flow, err := LoadFlow(path)
		if err != nil {
			e.mu.Unlock()
			return err
		}
		e.flows[path] = flow
	}
	e.mu.Unlock()

	e.recomputeSubscriptions(ctx)
	return nil
}

// Run drives the engine until ctx is cancelled or Shutdown is requested: it
// watches the flow directory for changes, ticks once a second, and
// processes dispatched messages.
func (e *Engine) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Internal("failed to create flow directory watcher", err)
	}
	defer watcher.Close()
	if err := watcher.Add(e.dir); err != nil {
		return errors.Storage("failed to watch flow directory "+e.dir, err)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-e.signal:
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			e.handleFSEvent(ctx, ev)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.L().ErrorContext(ctx, "flow directory watch error", "error", err)

		case msg, ok := <-e.inbox.Recv():
			if !ok {
				return nil
			}
			e.process(ctx, msg)

		case t := <-ticker.C:
			e.tick(ctx, t)
		}
	}
}

func (e *Engine) handleFSEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		if ev.Op&fsnotify.Remove != 0 {
			e.removeFlow(ev.Name)
			e.recomputeSubscriptions(ctx)
		}
		return
	}

	switch {
	case IsFlowDefinition(ev.Name):
		flow, err := LoadFlow(ev.Name)
		if err != nil {
			logger.L().ErrorContext(ctx, "failed to reload flow", "path", ev.Name, "error", err)
			return
		}
		e.mu.Lock()
		e.flows[ev.Name] = flow
		e.mu.Unlock()
		logger.L().InfoContext(ctx, "reloaded flow", "path", ev.Name)
		e.recomputeSubscriptions(ctx)

	case IsScriptFile(ev.Name):
		e.mu.Lock()
		for _, flow := range e.flows {
			if err := ReloadScript(flow, ev.Name); err != nil {
				logger.L().ErrorContext(ctx, "failed to reload script", "path", ev.Name, "error", err)
			}
		}
		e.mu.Unlock()
		logger.L().InfoContext(ctx, "reloaded script", "path", ev.Name)
	}
}

func (e *Engine) removeFlow(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.flows, path)
}

func (e *Engine) recomputeSubscriptions(ctx context.Context) {
	e.mu.Lock()
	combined := NewTopicFilter()
	for _, flow := range e.flows {
		combined.AddAll(flow.Topics())
	}
	previous := e.lastTopic
	e.lastTopic = combined
	e.mu.Unlock()

	if e.onSub == nil {
		return
	}
	change := diffTopicFilters(previous, combined)
	if len(change.Added) > 0 || len(change.Removed) > 0 {
		e.onSub(ctx, change)
	}
}

func diffTopicFilters(prev, next TopicFilter) SubscriptionChange {
	var change SubscriptionChange
	prevSet := make(map[string]struct{}, len(prev.patterns))
	for _, p := range prev.patterns {
		prevSet[p] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next.patterns))
	for _, p := range next.patterns {
		nextSet[p] = struct{}{}
	}
	for p := range nextSet {
		if _, ok := prevSet[p]; !ok {
			change.Added = append(change.Added, p)
		}
	}
	for p := range prevSet {
		if _, ok := nextSet[p]; !ok {
			change.Removed = append(change.Removed, p)
		}
	}
	return change
}

func (e *Engine) process(ctx context.Context, msg Message) {
	e.mu.Lock()
	flowsCopy := make([]*Flow, 0, len(e.flows))
	for _, f := range e.flows {
		flowsCopy = append(flowsCopy, f)
	}
	e.mu.Unlock()

	for _, flow := range flowsCopy {
		out, errs := flow.OnMessage(e.stats, msg.Timestamp, msg)
		for _, err := range errs {
			logger.L().ErrorContext(ctx, "flow step failed", "flow", flow.Source, "error", err)
		}
		e.publishAll(ctx, out)
	}
}

func (e *Engine) tick(ctx context.Context, now time.Time) {
	e.mu.Lock()
	flowsCopy := make([]*Flow, 0, len(e.flows))
	for _, f := range e.flows {
		flowsCopy = append(flowsCopy, f)
	}
	e.mu.Unlock()

	for _, flow := range flowsCopy {
		out, errs := flow.OnInterval(e.stats, now)
		for _, err := range errs {
			logger.L().ErrorContext(ctx, "flow interval step failed", "flow", flow.Source, "error", err)
		}
		e.publishAll(ctx, out)
	}
}

func (e *Engine) publishAll(ctx context.Context, msgs []Message) {
	if e.pub == nil {
		return
	}
	for _, m := range msgs {
		if err := e.pub(ctx, m); err != nil {
			logger.L().ErrorContext(ctx, "failed to publish flow output", "topic", m.Topic, "error", err)
		}
	}
}
