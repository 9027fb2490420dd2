package main

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/thin-edge/tedge-core/pkg/childrelay"
	"github.com/thin-edge/tedge-core/pkg/entity"
	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/flows"
	"github.com/thin-edge/tedge-core/pkg/logger"
	"github.com/thin-edge/tedge-core/pkg/operations"
	"github.com/thin-edge/tedge-core/pkg/workflow"
)

// router is the local-broker subscriber that fans every inbound message out
// to the component that owns its channel, per spec §6's topic grammar: a
// command topic goes to the workflow supervisor, a child relay response
// topic to the child relay, a SmartREST request to the Cumulocity mapper,
// and telemetry to both the mapper's entity-birth buffer and the flow
// engine. It is the one piece of the agent with no analogue in the teacher
// or original_source: there, subscription fan-out was spread across several
// Rust actors wired by a shared in-process bus; here it is one runtime.Actor
// since pkg/runtime supervises at actor granularity, not per-subscription.
type router struct {
	cfg        AgentConfig
	registry   *entity.Registry
	supervisor *workflow.Supervisor
	mapper     *operations.Mapper
	relay      *childrelay.Relay
	flows      *flows.Engine

	mu     sync.RWMutex
	client mqtt.Client
}

func (r *router) Name() string { return "mqtt-router" }

// publish implements localPublisher, operations.CommandPublisher/
// OutboundPublisher, and flows.Publisher's underlying transport.
func (r *router) publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	r.mu.RLock()
	c := r.client
	r.mu.RUnlock()
	if c == nil {
		return errors.Unavailable("mqtt router not yet connected", nil)
	}
	token := c.Publish(topic, 1, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Transport("failed to publish "+topic, err)
	}
	return nil
}

func (r *router) publishCommand(ctx context.Context, topic string, payload map[string]any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal command init payload")
	}
	return r.publish(ctx, topic, buf, true)
}

func (r *router) publishOutbound(ctx context.Context, msg operations.OutboundMessage) error {
	return r.publish(ctx, msg.Topic, []byte(msg.Payload), false)
}

func (r *router) publishFlow(ctx context.Context, msg flows.Message) error {
	return r.publish(ctx, msg.Topic, []byte(msg.Payload), false)
}

func (r *router) publishChildRelay(ctx context.Context, topic string, payload []byte) error {
	return r.publish(ctx, topic, payload, false)
}

// onFlowSubscriptionChange implements flows.SubscriptionHandler: the flow
// engine reports its recomputed aggregate subscription set whenever flow
// definitions are added, changed, or removed (spec §4.4), and the router
// applies the diff against its own session since it owns the local broker
// connection. Topics already covered by the root "<te>/#" subscription are
// still re-subscribed harmlessly; paho de-duplicates identical filters.
func (r *router) onFlowSubscriptionChange(ctx context.Context, change flows.SubscriptionChange) {
	r.mu.RLock()
	c := r.client
	r.mu.RUnlock()
	if c == nil {
		return
	}

	for _, filter := range change.Added {
		if token := c.Subscribe(filter, 1, r.onFlowTopic); token.Wait() && token.Error() != nil {
			logger.L().ErrorContext(ctx, "router failed to subscribe to flow topic filter", "filter", filter, "error", token.Error())
		}
	}
	for _, filter := range change.Removed {
		if token := c.Unsubscribe(filter); token.Wait() && token.Error() != nil {
			logger.L().ErrorContext(ctx, "router failed to unsubscribe flow topic filter", "filter", filter, "error", token.Error())
		}
	}
}

// onFlowTopic feeds a message matched by a flow-specific subscription
// straight to the engine, without the entity-grammar interpretation
// onEntityMessage applies (a flow may subscribe to topics outside the
// entity root entirely, e.g. a raw sensor topic).
func (r *router) onFlowTopic(_ mqtt.Client, msg mqtt.Message) {
	ctx := context.Background()
	if err := r.flows.Dispatch(ctx, flows.Message{Topic: msg.Topic(), Payload: string(msg.Payload()), Timestamp: time.Now()}); err != nil {
		logger.L().WarnContext(ctx, "failed to dispatch flow-subscribed message", "topic", msg.Topic(), "error", err)
	}
}

// Run connects the router's own MQTT session and subscribes to the root
// topic tree plus the SmartREST inbound topic, reconnecting automatically
// (the router's reconnect policy is simpler than the bridge's: paho's
// built-in auto-reconnect is sufficient here since nothing needs in-flight
// redelivery bookkeeping across a router reconnect, unlike the bridge).
func (r *router) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(r.cfg.MQTT.LocalBroker).
		SetClientID(r.cfg.MQTT.ClientID + "-router").
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			r.subscribe(c)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Transport("mqtt router failed to connect", err)
	}

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()

	<-ctx.Done()
	client.Disconnect(250)
	return ctx.Err()
}

func (r *router) subscribe(c mqtt.Client) {
	root := r.cfg.MQTT.TopicRoot
	if token := c.Subscribe(root+"/#", 1, r.onEntityMessage); token.Wait() && token.Error() != nil {
		logger.L().Error("router failed to subscribe to entity topic tree", "error", token.Error())
	}

	smartrestReq := r.cfg.Mapper.SmartRESTPrefix + "/s/ds"
	if token := c.Subscribe(smartrestReq, 1, r.onSmartREST); token.Wait() && token.Error() != nil {
		logger.L().Error("router failed to subscribe to smartrest inbound topic", "error", token.Error())
	}
}

func (r *router) onSmartREST(_ mqtt.Client, msg mqtt.Message) {
	ctx := context.Background()
	for _, line := range strings.Split(string(msg.Payload()), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		code, csv, err := operations.ParseSmartREST(line)
		if err != nil {
			logger.L().WarnContext(ctx, "dropping malformed smartrest line", "line", line, "error", err)
			continue
		}
		if err := r.mapper.HandleSmartREST(ctx, code, csv); err != nil {
			logger.L().ErrorContext(ctx, "failed to handle smartrest request", "code", code, "error", err)
		}
	}
}

func (r *router) onEntityMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx := context.Background()
	topic := msg.Topic()

	if childID, operation, err := childrelay.ParseResponseTopic(r.cfg.MQTT.TopicRoot, topic); err == nil {
		if err := r.relay.HandleResponse(ctx, topic, msg.Payload()); err != nil {
			logger.L().WarnContext(ctx, "rejected child relay response", "child", childID, "operation", operation, "error", err)
		}
		return
	}

	parsed, err := entity.Parse(r.cfg.MQTT.TopicRoot, topic)
	if err != nil {
		return // not a grammar topic this agent understands (e.g. a child relay request topic)
	}

	switch parsed.Chan.Kind {
	case "cmd":
		r.handleCommand(ctx, parsed, topic, msg.Payload())
	case "status":
		r.handleStatus(ctx, parsed, topic, msg.Payload())
	case "m", "e", "a":
		r.handleTelemetry(ctx, parsed, topic, msg.Payload())
	}
}

// handleCommand applies an incoming command-topic update to the board and,
// on success, translates its new state into the SmartREST outbound
// notification spec §4.6 requires (independent of whatever workflow action
// the state transition triggered).
func (r *router) handleCommand(ctx context.Context, parsed entity.Message, topic string, payload []byte) {
	if err := r.supervisor.HandleMessage(ctx, r.cfg.MQTT.TopicRoot, topic, payload); err != nil {
		logger.L().WarnContext(ctx, "failed to handle command message", "topic", topic, "error", err)
		return
	}

	cs, ok := r.supervisor.Board().Get(topic)
	if !ok {
		return // cleared by an empty retained payload; nothing to report
	}
	if err := r.mapper.HandleCommandState(ctx, r.childXID(parsed.Entity), cs); err != nil {
		logger.L().WarnContext(ctx, "failed to translate command state to smartrest", "topic", topic, "error", err)
	}
}

// childXID returns the SmartREST device-suffix for id: empty for the main
// device itself, its registered external id otherwise (spec §4.6's
// "<prefix>/s/us[/<child-xid>]" addressing).
func (r *router) childXID(id entity.TopicID) string {
	if id.Kind == entity.KindMain && !id.IsService() {
		return ""
	}
	xid, ok := r.registry.Lookup(id)
	if !ok {
		xid, _ = r.registry.Register(id)
	}
	return xid
}

func (r *router) handleStatus(ctx context.Context, parsed entity.Message, topic string, payload []byte) {
	switch parsed.Chan.Type {
	case "health":
		xid, _ := r.registry.Register(parsed.Entity)
		if err := r.mapper.HandleHealthMessage(ctx, xid, parsed.Entity.Service, payload); err != nil {
			logger.L().WarnContext(ctx, "failed to translate health message", "topic", topic, "error", err)
		}
	case "entities":
		xid, born := r.registry.Register(parsed.Entity)
		if born {
			r.mapper.HandleEntityBirth(ctx, xid, func(t string, p []byte) error {
				return r.publish(ctx, t, p, false)
			})
		}
	}
}

func (r *router) handleTelemetry(ctx context.Context, parsed entity.Message, topic string, payload []byte) {
	xid, known := r.registry.Lookup(parsed.Entity)
	if !known {
		xid, _ = r.registry.Register(parsed.Entity)
	}
	if err := r.mapper.HandleTelemetry(xid, known, topic, payload, func(t string, p []byte) error {
		return r.publish(ctx, t, p, false)
	}); err != nil {
		logger.L().WarnContext(ctx, "failed to buffer/deliver telemetry", "topic", topic, "error", err)
	}

	if err := r.flows.Dispatch(ctx, flows.Message{Topic: topic, Payload: string(payload), Timestamp: time.Now()}); err != nil {
		logger.L().WarnContext(ctx, "failed to dispatch message to flow engine", "topic", topic, "error", err)
	}
}
