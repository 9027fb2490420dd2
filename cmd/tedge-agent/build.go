package main

import (
	"context"

	"github.com/thin-edge/tedge-core/pkg/childrelay"
	"github.com/thin-edge/tedge-core/pkg/entity"
	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/flows"
	"github.com/thin-edge/tedge-core/pkg/mqttbridge"
	"github.com/thin-edge/tedge-core/pkg/operations"
	"github.com/thin-edge/tedge-core/pkg/runtime"
	"github.com/thin-edge/tedge-core/pkg/storage/file/adapters/local"
	"github.com/thin-edge/tedge-core/pkg/workflow"
)

// agent holds every long-lived component built from an AgentConfig, wired
// into a pkg/runtime.Runtime for supervised execution (spec §4.8).
type agent struct {
	cfg *AgentConfig
	rt  *runtime.Runtime

	supervisor *workflow.Supervisor
}

// buildAgent wires the full dependency graph: storage, the command board,
// the child relay, the Cumulocity mapper, the flow engine, the local/cloud
// bridge, and the router that ties their MQTT traffic together. It mirrors
// spec §4.8's "setup" phase: every actor is constructed and registered
// before Run starts any of them.
func buildAgent(ctx context.Context, cfg AgentConfig) (*agent, error) {
	cfg.applyDefaults()

	store, err := local.New(cfg.Storage.Root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open agent storage root")
	}

	board := workflow.NewBoard(workflow.NewFilePersister(store, cfg.Storage.CommandBoardPath))

	registry := entity.NewRegistry()
	r := &router{cfg: cfg, registry: registry}

	// router and the child relay need each other (the router forwards
	// relay responses in, the relay needs the router's publish to send
	// requests out), and the operation handler needs the relay it starts.
	// Break the cycle by constructing the operation handler with a nil
	// relay and filling it in once the relay exists.
	opHandler := newOperationHandler(cfg.MQTT.TopicRoot, r.publish, nil, cfg.LogUpload)

	entryStore := childrelay.NewEntryStore(store, cfg.Storage.ChildRelayDir)
	relay := childrelay.NewRelay(childrelay.Config{
		TopicRoot:       cfg.MQTT.TopicRoot,
		GracefulTimeout: cfg.ChildRelay.GracefulTimeout,
		ForcefulTimeout: cfg.ChildRelay.ForcefulTimeout,
		MaxAttempts:     cfg.ChildRelay.MaxAttempts,
	}, entryStore, r.publishChildRelay, opHandler.onRelayState)
	opHandler.relay = relay
	r.relay = relay

	supervisor := workflow.NewSupervisor(board, opHandler.Handle, nil)
	for _, def := range workflow.DefaultWorkflows() {
		if err := supervisor.RegisterWorkflow(def); err != nil {
			return nil, err
		}
	}
	r.supervisor = supervisor

	mapper := operations.NewMapper(operations.Config{
		TopicRoot:           cfg.MQTT.TopicRoot,
		SmartRESTPrefix:     cfg.Mapper.SmartRESTPrefix,
		FileTransferBaseURL: cfg.Mapper.FileTransferBaseURL,
	}, r.publishCommand, r.publishOutbound)
	r.mapper = mapper

	flowPub := r.publishFlow
	engine := flows.NewEngine(cfg.Flows.Dir, flowPub, r.onFlowSubscriptionChange)
	r.flows = engine

	bridge := mqttbridge.New(mqttbridge.Config{
		LocalBroker:             cfg.MQTT.LocalBroker,
		CloudBroker:             cfg.MQTT.CloudBroker,
		ClientID:                cfg.MQTT.ClientID,
		HealthTopic:             entity.HealthTopic(cfg.MQTT.TopicRoot, entity.TopicID{Kind: entity.KindMain, Name: "tedge-agent", Service: "mqtt-bridge"}),
		ReconnectInitialBackoff: cfg.MQTT.ReconnectInitialBackoff,
		ReconnectMaxBackoff:     cfg.MQTT.ReconnectMaxBackoff,
		ForwardToCloud: []mqttbridge.Rule{
			{FromPrefix: cfg.Mapper.SmartRESTPrefix + "/s/us", ToPrefix: cfg.Mapper.SmartRESTPrefix + "/s/us"},
		},
		ForwardToLocal: []mqttbridge.Rule{
			{FromPrefix: cfg.Mapper.SmartRESTPrefix + "/s/ds", ToPrefix: cfg.Mapper.SmartRESTPrefix + "/s/ds"},
		},
		RequestPendingOperations: func(ctx context.Context) {
			req := operations.PendingOperationsRequest(cfg.Mapper.SmartRESTPrefix)
			if err := r.publish(ctx, req.Topic, []byte(req.Payload), false); err != nil {
				return
			}
		},
	})

	transferStore := childrelay.NewFileTransferServer(store, cfg.Storage.FileTransferDir)

	rt := runtime.New(runtime.Config{
		MaxRestarts: cfg.Runtime.MaxRestarts,
		Window:      cfg.Runtime.Window,
		BaseBackoff: cfg.Runtime.BaseBackoff,
		MaxBackoff:  cfg.Runtime.MaxBackoff,
	})
	rt.Register(r)
	rt.Register(&bridgeActor{bridge: bridge})
	rt.Register(namedActor{name: "flow-engine", run: engine.Run})
	rt.Register(&httpActor{name: "file-transfer", addr: cfg.Mapper.FileTransferAddr, handler: transferStore.Handler()})

	if err := resumeState(ctx, supervisor, engine, relay, cfg); err != nil {
		return nil, err
	}

	return &agent{cfg: &cfg, rt: rt, supervisor: supervisor}, nil
}

// resumeState re-hydrates every actor's persisted state before Run starts,
// per spec §4.8's setup phase and §8 property 6 (restart resumption never
// silently forgets a command).
func resumeState(ctx context.Context, supervisor *workflow.Supervisor, engine *flows.Engine, relay *childrelay.Relay, cfg AgentConfig) error {
	if err := supervisor.LoadPersisted(ctx); err != nil {
		return errors.Wrap(err, "failed to load persisted command board")
	}
	if err := supervisor.Resume(ctx); err != nil {
		return errors.Wrap(err, "failed to resume persisted commands")
	}
	if err := relay.Resume(ctx); err != nil {
		return errors.Wrap(err, "failed to resume persisted child relay entries")
	}
	if err := engine.LoadAll(ctx); err != nil {
		return errors.Wrap(err, "failed to load flow definitions")
	}
	return nil
}

// Run drives the whole agent under signal-aware supervision until shutdown.
func (a *agent) Run(ctx context.Context) error {
	return a.rt.RunWithSignals(ctx)
}
