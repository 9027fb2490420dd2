package mqttbridge

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/logger"
	"github.com/thin-edge/tedge-core/pkg/resilience"
	"github.com/thin-edge/tedge-core/pkg/servicemesh/circuitbreaker"
)

// Rule rewrites a topic as it crosses from one side of the bridge to the
// other, by stripping FromPrefix and substituting ToPrefix.
type Rule struct {
	FromPrefix string
	ToPrefix   string
}

// apply rewrites topic if it matches the rule, reporting whether it did.
func (r Rule) apply(topic string) (string, bool) {
	if !strings.HasPrefix(topic, r.FromPrefix) {
		return "", false
	}
	return r.ToPrefix + strings.TrimPrefix(topic, r.FromPrefix), true
}

// Config configures both sides of the bridge per spec §4.3.
type Config struct {
	LocalBroker  string
	CloudBroker  string
	ClientID     string // persistent id for the local, clean-session-off side
	HealthTopic  string
	ForwardToCloud []Rule
	ForwardToLocal []Rule

	ReconnectInitialBackoff time.Duration
	ReconnectMaxBackoff     time.Duration
	// ConnectedResetThreshold is defaulted by New but not read anywhere
	// else: every reconnect loop, including the one started after a lost
	// connection, begins again at ReconnectInitialBackoff however long the
	// side stayed connected.
	ConnectedResetThreshold time.Duration

	// RequestPendingOperations is invoked whenever the cloud side
	// transitions from down to up, since operations may have
	// accumulated during the downtime.
	RequestPendingOperations func(ctx context.Context)
}

// side is one end of the bridge: a session, its in-flight table for
// messages forwarded *to* it, and its reconnect bookkeeping.
type side struct {
	name          string
	client        mqtt.Client
	opts          *mqtt.ClientOptions
	inFlight      *InFlightTable
	cb            *circuitbreaker.CircuitBreaker
	mu            sync.Mutex
	connected     bool
	lastConnectAt time.Time
}

// Bridge wires a local and a cloud MQTT session together, applying
// forwarding rules in both directions with at-least-once redelivery.
type Bridge struct {
	cfg   Config
	ctx   context.Context // set by Connect; reused by reconnects after a lost connection
	local *side
	cloud *side
}

// New constructs a bridge. Connect must be called to actually dial both
// brokers.
func New(cfg Config) *Bridge {
	if cfg.ReconnectInitialBackoff <= 0 {
		cfg.ReconnectInitialBackoff = 1 * time.Second
	}
	if cfg.ReconnectMaxBackoff <= 0 {
		cfg.ReconnectMaxBackoff = 2 * time.Minute
	}
	if cfg.ConnectedResetThreshold <= 0 {
		cfg.ConnectedResetThreshold = 5 * time.Minute
	}

	b := &Bridge{cfg: cfg}

	b.local = &side{
		name:     "local",
		inFlight: NewInFlightTable(),
		cb:       circuitbreaker.New("mqtt-bridge-local", circuitbreaker.Options{FailureThreshold: 3, Timeout: cfg.ReconnectMaxBackoff}),
	}
	b.local.opts = mqtt.NewClientOptions().
		AddBroker(cfg.LocalBroker).
		SetClientID(cfg.ClientID).
		SetCleanSession(false). // local session is persistent
		SetAutoReconnect(false). // bridge owns reconnect/backoff itself
		SetManualAckMode(true)  // origMsg.Ack() is only withheld if paho doesn't auto-ack on receipt
	b.local.opts.OnConnect = b.onConnect(b.local)
	b.local.opts.OnConnectionLost = b.onConnectionLost(b.local)

	b.cloud = &side{
		name:     "cloud",
		inFlight: NewInFlightTable(),
		cb:       circuitbreaker.New("mqtt-bridge-cloud", circuitbreaker.Options{FailureThreshold: 3, Timeout: cfg.ReconnectMaxBackoff}),
	}
	b.cloud.opts = mqtt.NewClientOptions().
		AddBroker(cfg.CloudBroker).
		SetClientID(cfg.ClientID + "-cloud").
		SetCleanSession(true). // cloud never holds session for the device
		SetAutoReconnect(false).
		SetManualAckMode(true)
	b.cloud.opts.OnConnect = b.onConnect(b.cloud)
	b.cloud.opts.OnConnectionLost = b.onConnectionLost(b.cloud)

	return b
}

// Connect dials both sides and starts their independent reconnect loops.
// It returns once the first connection attempt of each side has been
// issued; ongoing reconnection happens in background goroutines.
func (b *Bridge) Connect(ctx context.Context) error {
	b.local.client = mqtt.NewClient(b.local.opts)
	b.cloud.client = mqtt.NewClient(b.cloud.opts)
	b.ctx = ctx

	go b.connectLoop(ctx, b.local)
	go b.connectLoop(ctx, b.cloud)

	return nil
}

func (b *Bridge) connectLoop(ctx context.Context, s *side) {
	retryCfg := resilience.RetryConfig{
		MaxAttempts:    0, // retried forever via the outer loop below
		InitialBackoff: b.cfg.ReconnectInitialBackoff,
		MaxBackoff:     b.cfg.ReconnectMaxBackoff,
		Multiplier:     2.0,
		Jitter:         0.2,
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := resilience.Retry(ctx, resilience.RetryConfig{
			MaxAttempts:    1,
			InitialBackoff: retryCfg.InitialBackoff,
			MaxBackoff:     retryCfg.MaxBackoff,
			Multiplier:     retryCfg.Multiplier,
			Jitter:         retryCfg.Jitter,
		}, func(ctx context.Context) error {
			token := s.client.Connect()
			token.Wait()
			return token.Error()
		})

		if err == nil {
			return // onConnect callback takes over from here
		}

		backoff := resilience.ExponentialBackoff(attempt, b.cfg.ReconnectInitialBackoff, b.cfg.ReconnectMaxBackoff, 0.2)
		logger.L().WarnContext(ctx, "mqtt bridge connect failed, backing off", "side", s.name, "error", err, "backoff", backoff)
		attempt++

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) onConnect(s *side) mqtt.OnConnectHandler {
	return func(client mqtt.Client) {
		s.mu.Lock()
		wasDown := !s.connected
		s.connected = true
		s.lastConnectAt = time.Now()
		s.mu.Unlock()

		logger.L().Info("mqtt bridge side connected", "side", s.name)

		// Replay pending in-flight messages before forwarding anything
		// newly arrived, preserving original publish order (spec §4.3).
		// Each replay is republished under a freshly assigned packet id, so
		// the stale entry is taken (not acked) and re-tracked rather than
		// left to leak under an id the broker will never reference again.
		for _, entry := range s.inFlight.PendingEntries() {
			msg, ok := s.inFlight.Take(entry.ID)
			if !ok {
				continue
			}
			b.publishTracked(s, msg.Topic, msg.QoS, msg.Payload, msg.AckOrigin)
		}

		b.subscribeForwarding(s, client)

		if s == b.cloud && wasDown {
			b.publishHealth("up")
			if b.cfg.RequestPendingOperations != nil {
				b.cfg.RequestPendingOperations(context.Background())
			}
		}
	}
}

func (b *Bridge) onConnectionLost(s *side) mqtt.ConnectionLostHandler {
	return func(client mqtt.Client, err error) {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()

		logger.L().Warn("mqtt bridge side disconnected", "side", s.name, "error", err)
		if s == b.cloud {
			b.publishHealth("down")
		}
		if b.ctx != nil && b.ctx.Err() == nil {
			go b.connectLoop(b.ctx, s)
		}
	}
}

func (b *Bridge) subscribeForwarding(s *side, client mqtt.Client) {
	rules := b.cfg.ForwardToCloud
	dest := b.cloud
	if s == b.cloud {
		rules = b.cfg.ForwardToLocal
		dest = b.local
	}

	for _, rule := range rules {
		r := rule
		topic := r.FromPrefix + "#"
		client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			b.forward(s, dest, r, msg)
		})
	}
}

func (b *Bridge) forward(from, to *side, rule Rule, msg mqtt.Message) {
	destTopic, ok := rule.apply(msg.Topic())
	if !ok {
		return
	}

	origMsg := msg
	b.publishTracked(to, destTopic, msg.Qos(), msg.Payload(), origMsg.Ack)
}

// publishTracked publishes payload on to's client and, for QoS>0, tracks it
// in to's in-flight table under the packet id paho assigns the publish,
// waiting on the returned token to drive the eventual Ack/replay decision:
// a successful token (the far side's PUBACK/PUBREC) acks id, emitting
// ackOrigin; a failed token leaves the entry in-flight for the next
// reconnect's replay. QoS0 has no broker acknowledgement to wait for, so
// ackOrigin fires as soon as the publish is handed to paho.
func (b *Bridge) publishTracked(to *side, topic string, qos byte, payload []byte, ackOrigin func()) {
	token := to.client.Publish(topic, qos, false, payload)

	if qos == 0 {
		if ackOrigin != nil {
			ackOrigin()
		}
		return
	}

	pubToken, ok := token.(*mqtt.PublishToken)
	if !ok {
		logger.L().Error("mqtt bridge publish token has unexpected type, cannot track for redelivery", "side", to.name)
		return
	}
	id := PacketID(pubToken.MessageID())

	to.inFlight.Track(id, &InFlightMessage{
		Topic:     topic,
		Payload:   payload,
		QoS:       qos,
		AckOrigin: ackOrigin,
	})

	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			logger.L().Warn("mqtt bridge publish failed, leaving message in-flight for replay",
				"side", to.name, "topic", topic, "error", err)
			return
		}
		to.inFlight.Ack(id)
	}()
}

func (b *Bridge) publishHealth(status string) {
	if b.cfg.HealthTopic == "" || b.local == nil || b.local.client == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"status": status,
		"pid":    os.Getpid(),
	})
	if err != nil {
		logger.L().Error("failed to marshal bridge health payload", "error", err)
		return
	}
	b.local.client.Publish(b.cfg.HealthTopic, 1, true, payload)
}

// Disconnect gracefully tears down both sides.
func (b *Bridge) Disconnect(quiesce uint) {
	if b.local.client != nil {
		b.local.client.Disconnect(quiesce)
	}
	if b.cloud.client != nil {
		b.cloud.client.Disconnect(quiesce)
	}
}

// HealthStatus reports whether the named side is currently connected.
func (b *Bridge) HealthStatus(side string) (bool, error) {
	switch side {
	case "local":
		b.local.mu.Lock()
		defer b.local.mu.Unlock()
		return b.local.connected, nil
	case "cloud":
		b.cloud.mu.Lock()
		defer b.cloud.mu.Unlock()
		return b.cloud.connected, nil
	default:
		return false, errors.InvalidArgument("unknown bridge side: "+side, nil)
	}
}
