package operations

import (
	"fmt"

	"github.com/thin-edge/tedge-core/pkg/workflow"
)

// UpstreamTopic returns the SmartREST publish topic for a device: the main
// device publishes on "<prefix>/s/us"; a child device publishes on
// "<prefix>/s/us/<child-xid>" (spec §4.6, grounded on service_monitor.rs's
// `c8y/s/us[/<xid>]` topics).
func UpstreamTopic(prefix, childXID string) string {
	if childXID == "" {
		return prefix + "/s/us"
	}
	return prefix + "/s/us/" + childXID
}

// TranslateOutbound converts a command-board state transition into the
// SmartREST status message spec §4.6 requires:
//
//	executing  -> "504,<id>"
//	successful -> "506,<id>"
//	failed     -> "505,<id>,<reason>"
//
// cs.CorrelationID must have been minted by TranslateCustomOperation (or otherwise
// carry the smartRESTIDPrefix); ok is false for any other status or an
// unrecognised correlation id, since those states have nothing to report to
// the cloud.
func TranslateOutbound(prefix, childXID string, cs workflow.CommandState) (OutboundMessage, bool) {
	id, ok := smartRESTID(cs.CorrelationID)
	if !ok {
		return OutboundMessage{}, false
	}

	topic := UpstreamTopic(prefix, childXID)
	switch cs.Status {
	case statusExecuting:
		return OutboundMessage{Topic: topic, Payload: fmt.Sprintf("%s,%s", codeExecuting, id)}, true
	case statusSuccessful:
		return OutboundMessage{Topic: topic, Payload: fmt.Sprintf("%s,%s", codeSuccessful, id)}, true
	case statusFailed:
		reason, _ := cs.Payload["reason"].(string)
		return OutboundMessage{Topic: topic, Payload: fmt.Sprintf("%s,%s,%s", codeFailed, id, csvEscape(reason))}, true
	default:
		return OutboundMessage{}, false
	}
}

// PendingOperationsRequest builds the "500" SmartREST message requesting
// any operations queued while the bridge was down (spec §4.6: "A
// mosquitto-<cloud>-bridge service whose status transitions to up triggers
// a pending-operations request").
func PendingOperationsRequest(prefix string) OutboundMessage {
	return OutboundMessage{Topic: UpstreamTopic(prefix, ""), Payload: codeGetPendingOperations}
}

// csvEscape quotes a CSV field if it contains a comma or double quote,
// doubling embedded quotes, per SmartREST's CSV-ish wire format (grounded
// on service_monitor.rs's test cases for comma- and quote-containing health
// status values).
func csvEscape(field string) string {
	needsQuoting := false
	for _, r := range field {
		if r == ',' || r == '"' {
			needsQuoting = true
			break
		}
	}
	if !needsQuoting {
		return field
	}
	escaped := make([]rune, 0, len(field)+2)
	escaped = append(escaped, '"')
	for _, r := range field {
		if r == '"' {
			escaped = append(escaped, '"', '"')
		} else {
			escaped = append(escaped, r)
		}
	}
	escaped = append(escaped, '"')
	return string(escaped)
}
