// Package operations implements the Cumulocity-facing mapper of spec §4.6:
// SmartREST-to-generic-command translation in both directions, entity-birth
// telemetry buffering, and service-health-to-SmartREST-102 translation.
//
// Grounded on
// _examples/original_source/crates/extensions/c8y_mapper_ext/src/service_monitor.rs
// for health-status translation and the mosquitto-bridge pending-operations
// trigger, and crates/core/tedge_mapper/src/c8y/operations.rs for the log
// request shape; numeric codes per spec §6 (101, 102, 118, 500, 504/505/506,
// 524/526).
package operations

import "github.com/thin-edge/tedge-core/pkg/workflow"

// OutboundMessage is one SmartREST publish the mapper emits toward the
// cloud.
type OutboundMessage struct {
	Topic   string
	Payload string
}

// CommandInit is one retained "init" command the mapper publishes toward
// the command board in response to an inbound cloud request.
type CommandInit struct {
	Topic   string
	Payload map[string]any
}

// smartRESTIDPrefix is prepended to a correlation id whenever the mapper
// mints it from a cloud-originated numeric operation id, so the id can be
// recovered on the outbound path without a side table.
const smartRESTIDPrefix = "c8y-mapper-"

// correlationID builds the command-board correlation id for a
// cloud-originated SmartREST operation id.
func correlationID(smartRESTID string) string {
	return smartRESTIDPrefix + smartRESTID
}

// smartRESTID recovers the original numeric SmartREST id from a
// command-board correlation id, if it was minted by this mapper.
func smartRESTID(correlationID string) (string, bool) {
	const prefix = smartRESTIDPrefix
	if len(correlationID) > len(prefix) && correlationID[:len(prefix)] == prefix {
		return correlationID[len(prefix):], true
	}
	return "", false
}

// SmartREST numeric codes used by this mapper (spec §6).
const (
	codeChildDeviceRegister  = "101"
	codeServiceStatus        = "102"
	codeSupportedLogTypes    = "118"
	codeGetPendingOperations = "500"
	codeExecuting            = "504"
	codeFailed               = "505"
	codeSuccessful           = "506"
)

// Status aliases, avoiding a hard import-cycle-prone dependency beyond what
// is needed.
const (
	statusExecuting  = workflow.StatusExecuting
	statusSuccessful = workflow.StatusSuccessful
	statusFailed     = workflow.StatusFailed
)
