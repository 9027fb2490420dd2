package operations

import (
	"context"
	"strings"

	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/logger"
	"github.com/thin-edge/tedge-core/pkg/workflow"
)

// CommandPublisher persists a retained init command onto the board (e.g.
// via a supervisor's HandleMessage, which itself re-marshals and dispatches
// it, or by publishing directly to the local broker so the bridge's own
// retained-message path picks it up).
type CommandPublisher func(ctx context.Context, topic string, payload map[string]any) error

// OutboundPublisher ships a translated SmartREST message to the cloud.
type OutboundPublisher func(ctx context.Context, msg OutboundMessage) error

// Config configures a Mapper.
type Config struct {
	TopicRoot            string
	SmartRESTPrefix      string
	FileTransferBaseURL  string
	EntityBufferCapacity int
}

// Mapper is spec §4.6's Cumulocity cloud mapper: SmartREST <-> generic
// command translation, entity-birth buffering, and health-to-102
// translation.
type Mapper struct {
	cfg       Config
	buffer    *EntityBuffer
	publishCmd CommandPublisher
	publishOut OutboundPublisher
	newID     IDGenerator
}

// NewMapper creates a mapper. publishCmd is called for every inbound
// translation that mints a new command; publishOut is called for every
// outbound SmartREST emission.
func NewMapper(cfg Config, publishCmd CommandPublisher, publishOut OutboundPublisher) *Mapper {
	if cfg.EntityBufferCapacity == 0 {
		cfg.EntityBufferCapacity = 64
	}
	return &Mapper{
		cfg:        cfg,
		buffer:     NewEntityBuffer(cfg.EntityBufferCapacity),
		publishCmd: publishCmd,
		publishOut: publishOut,
		newID:      DefaultIDGenerator,
	}
}

// HandleSmartREST processes one inbound SmartREST request (code + CSV
// fields, spec §4.6's "Inbound request (numeric code + CSV)"). Only the
// log-request (522) code is translated structurally here; any other
// recognised code is routed through the generic custom-operation path.
func (m *Mapper) HandleSmartREST(ctx context.Context, code string, csv []string) error {
	switch code {
	case "522":
		if len(csv) == 0 {
			return errors.Protocol("522 log request missing device id", nil)
		}
		init, err := TranslateLogRequest(m.cfg.TopicRoot, m.cfg.FileTransferBaseURL, csv, m.newID)
		if err != nil {
			return err
		}
		return m.publish(ctx, init)
	default:
		if len(csv) == 0 {
			return errors.Protocol("custom operation request missing device id", nil)
		}
		init := TranslateCustomOperation(m.cfg.TopicRoot, csv[0], code)
		return m.publish(ctx, init)
	}
}

func (m *Mapper) publish(ctx context.Context, init CommandInit) error {
	if m.publishCmd == nil {
		return nil
	}
	return m.publishCmd(ctx, init.Topic, init.Payload)
}

// HandleCommandState translates a command-board state transition into its
// SmartREST notification and ships it, for any command whose correlation
// id was minted by this mapper (spec §4.6 "Outbound state transitions").
func (m *Mapper) HandleCommandState(ctx context.Context, childXID string, cs workflow.CommandState) error {
	msg, ok := TranslateOutbound(m.cfg.SmartRESTPrefix, childXID, cs)
	if !ok {
		return nil
	}
	if m.publishOut == nil {
		return nil
	}
	return m.publishOut(ctx, msg)
}

// HandleHealthMessage translates a service health message into its "102"
// SmartREST notification, publishing a pending-operations request too when
// the cloud mosquitto bridge has just come up.
func (m *Mapper) HandleHealthMessage(ctx context.Context, xid, serviceName string, payload []byte) error {
	msgs := TranslateHealthStatus(m.cfg.SmartRESTPrefix, xid, serviceName, payload)
	if m.publishOut == nil {
		return nil
	}
	for _, msg := range msgs {
		if err := m.publishOut(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// HandleTelemetry buffers telemetry for an entity not yet registered, or
// passes it straight to deliver if the entity is already known (spec §4.6
// entity-birth buffering).
func (m *Mapper) HandleTelemetry(entityID string, known bool, topic string, payload []byte, deliver func(string, []byte) error) error {
	if known {
		return deliver(topic, payload)
	}
	m.buffer.Buffer(entityID, BufferedMessage{Topic: topic, Payload: payload})
	return nil
}

// HandleEntityBirth drains entityID's buffered telemetry in FIFO order
// (spec §4.6) once its birth message has been processed.
func (m *Mapper) HandleEntityBirth(ctx context.Context, entityID string, deliver func(string, []byte) error) {
	for _, buffered := range m.buffer.Drain(entityID) {
		if err := deliver(buffered.Topic, buffered.Payload); err != nil {
			logger.L().ErrorContext(ctx, "failed to deliver buffered telemetry after entity birth",
				"entity", entityID, "topic", buffered.Topic, "error", err)
		}
	}
}

// ParseSmartREST splits a raw SmartREST line into its numeric code and CSV
// fields (`<code>,<field1>,<field2>,...`).
func ParseSmartREST(line string) (string, []string, error) {
	parts := strings.Split(line, ",")
	if len(parts) == 0 || parts[0] == "" {
		return "", nil, errors.Protocol("empty SmartREST line", nil)
	}
	return parts[0], parts[1:], nil
}
