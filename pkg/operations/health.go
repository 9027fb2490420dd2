package operations

import (
	"encoding/json"
	"strings"
)

// HealthStatus is the decoded payload of a `.../status/health` message.
type HealthStatus struct {
	Status string
}

// ParseHealthStatus decodes a health message payload. A bare "1" or "0"
// maps to "up" or "down"; an empty or absent status field (or an entirely
// malformed payload) yields "unknown" rather than an error; any other
// non-empty status string is passed through as is. Fields other than status are ignored if
// invalid, matching service_monitor.rs's "if there are any problems with
// fields other than status, we want to ignore them and still send status
// update".
func ParseHealthStatus(payload []byte) HealthStatus {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "1" {
		return HealthStatus{Status: "up"}
	}
	if trimmed == "0" {
		return HealthStatus{Status: "down"}
	}

	var decoded struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return HealthStatus{Status: "unknown"}
	}
	if decoded.Status == "" {
		return HealthStatus{Status: "unknown"}
	}
	return HealthStatus{Status: decoded.Status}
}

// MosquittoBridgeServiceName is the health-service name whose "up"
// transition triggers a pending-operations request (spec §4.6).
func MosquittoBridgeServiceName(prefix string) string {
	return "mosquitto-" + prefix + "-bridge"
}

// TranslateHealthStatus converts a service's health status into the
// SmartREST "102" service-monitoring message, plus (when applicable) a
// pending-operations request (spec §4.6, grounded on
// service_monitor.rs's convert_health_status_message).
func TranslateHealthStatus(prefix, xid, serviceName string, payload []byte) []OutboundMessage {
	health := ParseHealthStatus(payload)
	topic := UpstreamTopic(prefix, "")
	statusMsg := OutboundMessage{
		Topic:   topic,
		Payload: codeServiceStatus + "," + xid + ",service," + serviceName + "," + csvEscape(health.Status),
	}

	out := []OutboundMessage{statusMsg}
	if serviceName == MosquittoBridgeServiceName(prefix) && health.Status == "up" {
		out = append(out, PendingOperationsRequest(prefix))
	}
	return out
}
