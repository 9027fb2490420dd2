// Package childrelay implements spec §4.7's child-device operation relay:
// the agent proxies an operation (firmware update, configuration update,
// log upload, ...) to a child device over MQTT plus a local HTTP
// file-transfer endpoint, retrying on timeout up to a fixed attempt
// budget.
//
// Grounded on
// _examples/original_source/plugins/c8y_firmware_plugin/src/message.rs for
// the request/response payload shape (operation id, attempt, name,
// version, sha256, file-transfer url) and on
// plugins/c8y_configuration_plugin/src/child_device.rs for the persisted
// entry's field set.
package childrelay

import "time"

// Entry is the persisted state of one in-flight child-device operation
// (spec §3's "Child operation entry"). Removed on terminal response or
// when the retry budget is exhausted.
type Entry struct {
	OperationID     string    `json:"operation_id"`
	ChildID         string    `json:"child_id"`
	Operation       string    `json:"operation"`
	Attempt         int       `json:"attempt"`
	Name            string    `json:"name"`
	Version         string    `json:"version"`
	SHA256          string    `json:"sha256"`
	FileTransferURL string    `json:"file_transfer_url"`
	CreatedAt       time.Time `json:"created_at"`
}

// RequestPayload is the wire shape published on the request topic. It
// mirrors message.rs's RequestPayload field-for-field, including its `id`
// and `url` renames.
type RequestPayload struct {
	OperationID string `json:"id"`
	Attempt     int    `json:"attempt"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	SHA256      string `json:"sha256"`
	URL         string `json:"url"`
}

// ToRequestPayload builds the wire request for the entry's current attempt.
func (e Entry) ToRequestPayload() RequestPayload {
	return RequestPayload{
		OperationID: e.OperationID,
		Attempt:     e.Attempt,
		Name:        e.Name,
		Version:     e.Version,
		SHA256:      e.SHA256,
		URL:         e.FileTransferURL,
	}
}

// ResponsePayload is the wire shape a child publishes on the response
// topic (spec §4.7: `{ "id", "status", "reason"? }`).
type ResponsePayload struct {
	OperationID string  `json:"id"`
	Status      string  `json:"status"`
	Reason      *string `json:"reason,omitempty"`
}

// Response statuses a child may report, per spec §4.7.
const (
	StatusExecuting  = "executing"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
)

func validResponseStatus(status string) bool {
	switch status {
	case StatusExecuting, StatusSuccessful, StatusFailed:
		return true
	default:
		return false
	}
}
