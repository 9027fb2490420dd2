package workflow

import (
	"context"
	"fmt"

	"github.com/thin-edge/tedge-core/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedSupervisor wraps a Supervisor with logging and tracing,
// following the same wrapper shape as pkg/storage/file.InstrumentedStore.
type InstrumentedSupervisor struct {
	next   *Supervisor
	name   string
	tracer trace.Tracer
}

// NewInstrumentedSupervisor creates a new instrumented supervisor wrapper.
func NewInstrumentedSupervisor(next *Supervisor, name string) *InstrumentedSupervisor {
	return &InstrumentedSupervisor{
		next:   next,
		name:   name,
		tracer: otel.Tracer("pkg/workflow"),
	}
}

func (s *InstrumentedSupervisor) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("%s.%s", s.name, op))
	span.SetAttributes(attrs...)
	return ctx, span
}

func (s *InstrumentedSupervisor) RegisterWorkflow(def WorkflowDefinition) error {
	ctx, span := s.startSpan(context.Background(), "RegisterWorkflow",
		attribute.String("workflow.operation", def.Operation),
		attribute.Bool("workflow.built_in", def.BuiltIn),
	)
	defer span.End()

	err := s.next.RegisterWorkflow(def)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "failed to register workflow", "operation", def.Operation, "error", err)
		return err
	}

	logger.L().InfoContext(ctx, "registered workflow", "operation", def.Operation, "built_in", def.BuiltIn)
	return nil
}

func (s *InstrumentedSupervisor) Capabilities() []Capability {
	return s.next.Capabilities()
}

func (s *InstrumentedSupervisor) HandleMessage(ctx context.Context, root, topic string, payload []byte) error {
	ctx, span := s.startSpan(ctx, "HandleMessage",
		attribute.String("workflow.topic", topic),
		attribute.Int("workflow.payload_size", len(payload)),
	)
	defer span.End()

	logger.L().DebugContext(ctx, "handling command message", "topic", topic)

	err := s.next.HandleMessage(ctx, root, topic, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "failed to handle command message", "topic", topic, "error", err)
		return err
	}

	return nil
}

func (s *InstrumentedSupervisor) Resume(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Resume")
	defer span.End()

	logger.L().InfoContext(ctx, "resuming command board")

	err := s.next.Resume(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "failed to resume command board", "error", err)
		return err
	}

	logger.L().InfoContext(ctx, "resumed command board")
	return nil
}

func (s *InstrumentedSupervisor) LoadPersisted(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "LoadPersisted")
	defer span.End()

	err := s.next.LoadPersisted(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "failed to load persisted command board", "error", err)
		return err
	}

	return nil
}

func (s *InstrumentedSupervisor) Board() *Board {
	return s.next.Board()
}
