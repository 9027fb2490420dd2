package workflow

// Built-in operation names, matching spec §6's cmd/<op> channel segment.
const (
	OpSoftwareList   = "software_list"
	OpSoftwareUpdate = "software_update"
	OpConfigSnapshot = "config_snapshot"
	OpConfigUpdate   = "config_update"
	OpLogUpload      = "log_upload"
	OpFirmwareUpdate = "firmware_update"
	OpRestart        = "restart"
	OpCustom         = "command" // generic custom-operation channel, spec §4.6 S4
)

// builtInSkeleton is the abbreviated state machine shared by every built-in
// workflow of spec §4.5: init -> scheduled -> executing -> {successful,
// failed}, with BuiltIn actions for every non-terminal state so the
// supervisor's default handler (the owning operation actor, wired via
// ActionHandler) takes over.
func builtInSkeleton() Transitions {
	return Transitions{
		StatusInit:      BuiltIn(),
		StatusScheduled: BuiltIn(),
		StatusExecuting: BuiltIn(),
		// Terminal states: nothing left to dispatch once published.
		StatusSuccessful: NoAction(),
		StatusFailed:     NoAction(),
	}
}

// NewSoftwareListWorkflow / NewSoftwareUpdateWorkflow: "executing" invokes
// the plugin manager; on terminal state the operation handler clears the
// retained message (spec §4.5).
func NewSoftwareListWorkflow() WorkflowDefinition {
	return WorkflowDefinition{Operation: OpSoftwareList, BuiltIn: true, States: builtInSkeleton()}
}

func NewSoftwareUpdateWorkflow() WorkflowDefinition {
	return WorkflowDefinition{Operation: OpSoftwareUpdate, BuiltIn: true, States: builtInSkeleton()}
}

// NewConfigSnapshotWorkflow / NewConfigUpdateWorkflow: "executing" requests
// the file from/into the file-transfer endpoint; matched by correlation id
// (spec §4.5).
func NewConfigSnapshotWorkflow() WorkflowDefinition {
	return WorkflowDefinition{Operation: OpConfigSnapshot, BuiltIn: true, States: builtInSkeleton()}
}

func NewConfigUpdateWorkflow() WorkflowDefinition {
	return WorkflowDefinition{Operation: OpConfigUpdate, BuiltIn: true, States: builtInSkeleton()}
}

// NewLogUploadWorkflow: "executing" ships a bounded window of lines to an
// HTTP endpoint (spec §4.5).
func NewLogUploadWorkflow() WorkflowDefinition {
	return WorkflowDefinition{Operation: OpLogUpload, BuiltIn: true, States: builtInSkeleton()}
}

// NewFirmwareUpdateWorkflow: "executing" issues a child-device request and
// waits for a response keyed by operation id (spec §4.5, §4.7).
func NewFirmwareUpdateWorkflow() WorkflowDefinition {
	return WorkflowDefinition{Operation: OpFirmwareUpdate, BuiltIn: true, States: builtInSkeleton()}
}

// NewRestartWorkflow: "executing" triggers a host restart and marks the
// command AwaitingAgentRestart with OnSuccess=successful, so the agent
// resolves it to "successful" the first time it boots back up and
// Resume() runs (spec §4.5, §9 "AwaitingAgentRestart pattern").
func NewRestartWorkflow() WorkflowDefinition {
	return WorkflowDefinition{
		Operation: OpRestart,
		BuiltIn:   true,
		States: Transitions{
			StatusInit:       BuiltIn(),
			StatusScheduled:  BuiltIn(),
			StatusExecuting:  AwaitingAgentRestart(StatusSuccessful),
			StatusSuccessful: NoAction(),
			StatusFailed:     NoAction(),
		},
	}
}

// NewCustomWorkflow registers the generic custom-operation channel: the
// Cumulocity mapper (pkg/operations) publishes "init" on this topic after
// translating a SmartREST custom-operation request, and every subsequent
// transition is a BuiltIn dispatch into the same translation layer (spec
// §4.6 scenario S4).
func NewCustomWorkflow() WorkflowDefinition {
	return WorkflowDefinition{Operation: OpCustom, BuiltIn: true, States: builtInSkeleton()}
}

// DefaultWorkflows returns every built-in workflow definition, for a
// supervisor to register at startup before any user-defined workflow
// overrides are applied.
func DefaultWorkflows() []WorkflowDefinition {
	return []WorkflowDefinition{
		NewSoftwareListWorkflow(),
		NewSoftwareUpdateWorkflow(),
		NewConfigSnapshotWorkflow(),
		NewConfigUpdateWorkflow(),
		NewLogUploadWorkflow(),
		NewFirmwareUpdateWorkflow(),
		NewRestartWorkflow(),
		NewCustomWorkflow(),
	}
}
