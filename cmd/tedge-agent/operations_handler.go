package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/thin-edge/tedge-core/pkg/childrelay"
	"github.com/thin-edge/tedge-core/pkg/client/rest"
	"github.com/thin-edge/tedge-core/pkg/entity"
	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/logger"
	"github.com/thin-edge/tedge-core/pkg/workflow"
)

// localPublisher publishes a retained message onto the local broker, the
// path by which every operation handler reports a command's new state back
// onto the command board (spec §4.5: the board is updated exclusively
// through incoming MQTT messages, including ones the agent publishes to
// itself).
type localPublisher func(ctx context.Context, topic string, payload []byte, retained bool) error

// operationHandler is spec §4.5/§4.6's collection of "operation handler"
// actors, implemented as a single workflow.ActionHandler: every built-in
// workflow's ActionBuiltIn/ActionMove dispatch passes through here. Actual
// plugin execution (software, config) is beyond this repo's scope, so every
// built-in but log_upload and firmware_update completes synchronously as
// successful; log_upload uploads a log file's tail over HTTP, and
// firmware_update is the one operation that genuinely needs the
// child-device relay of spec §4.7.
type operationHandler struct {
	topicRoot string
	publish   localPublisher
	relay     *childrelay.Relay

	logDir     string
	httpClient *rest.Client

	mu            sync.Mutex
	commandTopics map[string]string // child-relay operation id -> command topic
}

func newOperationHandler(topicRoot string, publish localPublisher, relay *childrelay.Relay, logCfg LogUploadConfig) *operationHandler {
	return &operationHandler{
		topicRoot:     topicRoot,
		publish:       publish,
		relay:         relay,
		logDir:        logCfg.Dir,
		httpClient:    rest.New(logCfg.Client),
		commandTopics: make(map[string]string),
	}
}

// Handle implements workflow.ActionHandler.
func (h *operationHandler) Handle(ctx context.Context, cs workflow.CommandState, action workflow.Action) error {
	switch action.Kind {
	case workflow.ActionMove:
		return h.complete(ctx, cs, action.NextState, "")
	case workflow.ActionScript:
		logger.L().WarnContext(ctx, "script actions are not supported by this agent build",
			"operation", cs.Operation, "script", action.ScriptPath)
		return nil
	case workflow.ActionBuiltIn:
		return h.handleBuiltIn(ctx, cs)
	default:
		return nil
	}
}

func (h *operationHandler) handleBuiltIn(ctx context.Context, cs workflow.CommandState) error {
	if cs.Status != workflow.StatusExecuting {
		return nil
	}

	if cs.Operation == workflow.OpFirmwareUpdate {
		return h.startFirmwareRelay(ctx, cs)
	}
	if cs.Operation == workflow.OpLogUpload {
		return h.uploadLog(ctx, cs)
	}

	// Every other built-in operation has no real plugin behind it in this
	// build; acknowledge it as done so a caller never sees a command stuck
	// in "executing" forever.
	return h.complete(ctx, cs, workflow.StatusSuccessful, "")
}

// uploadLog ships a bounded window of a log file's tail to the command's
// tedgeUrl (spec §4.5 "ships a bounded window of lines to an HTTP
// endpoint"), using a retrying, circuit-broken client since the upload
// target is itself an HTTP endpoint that can be transiently unavailable.
func (h *operationHandler) uploadLog(ctx context.Context, cs workflow.CommandState) error {
	logType := stringField(cs.Payload, "type")
	url := stringField(cs.Payload, "tedgeUrl")
	if logType == "" || url == "" {
		return h.complete(ctx, cs, workflow.StatusFailed, "missing log type or upload url")
	}

	maxLines := 1000
	if n, ok := cs.Payload["lines"]; ok {
		if f, ok := n.(float64); ok && f > 0 {
			maxLines = int(f)
		}
	}

	lines, err := tailLines(h.logDir+"/"+logType+".log", maxLines)
	if err != nil {
		return h.complete(ctx, cs, workflow.StatusFailed, "failed to read log: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(lines))
	if err != nil {
		return h.complete(ctx, cs, workflow.StatusFailed, "failed to build upload request: "+err.Error())
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return h.complete(ctx, cs, workflow.StatusFailed, "log upload failed: "+err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return h.complete(ctx, cs, workflow.StatusFailed, "log upload rejected with status "+strconv.Itoa(resp.StatusCode))
	}
	return h.complete(ctx, cs, workflow.StatusSuccessful, "")
}

// tailLines returns up to max trailing lines of path. A missing log file
// yields an empty upload rather than a hard failure, since an idle device
// may genuinely have nothing logged yet for the requested type.
func tailLines(path string, max int) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(all) > max {
		all = all[len(all)-max:]
	}
	return []byte(fmt.Sprintf("%s\n", joinLines(all))), nil
}

func joinLines(lines []string) string {
	buf := bytes.Buffer{}
	for i, l := range lines {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(l)
	}
	return buf.String()
}

// startFirmwareRelay drives spec §4.7's child-device relay for a
// firmware_update command whose payload carries the artifact's name,
// version, sha256 and file-transfer URL (placed there by whatever staged
// the artifact at the file-transfer endpoint, per spec §4.7 step 1).
func (h *operationHandler) startFirmwareRelay(ctx context.Context, cs workflow.CommandState) error {
	msg, err := entity.Parse(h.topicRoot, cs.CommandTopic)
	if err != nil {
		return errors.Wrap(err, "firmware_update command topic does not match grammar")
	}
	if msg.Entity.Kind != entity.KindChild {
		return errors.Workflow("firmware_update is only valid against a child device", nil)
	}

	h.mu.Lock()
	h.commandTopics[cs.CorrelationID] = cs.CommandTopic
	h.mu.Unlock()

	// A restart may have already rehydrated this operation id via
	// childrelay.Relay.Resume; don't republish a duplicate request.
	if _, pending := h.relay.Pending(cs.CorrelationID); pending {
		return nil
	}

	entry := childrelay.Entry{
		OperationID:     cs.CorrelationID,
		ChildID:         msg.Entity.Name,
		Operation:       workflow.OpFirmwareUpdate,
		Name:            stringField(cs.Payload, "name"),
		Version:         stringField(cs.Payload, "version"),
		SHA256:          stringField(cs.Payload, "sha256"),
		FileTransferURL: stringField(cs.Payload, "tedgeUrl"),
	}
	return h.relay.Start(ctx, entry)
}

// onRelayState implements childrelay.StateUpdater: it publishes the
// relay's outcome back onto the owning command's topic, re-entering the
// board exactly like any other external update.
func (h *operationHandler) onRelayState(ctx context.Context, operationID, status, reason string) {
	h.mu.Lock()
	topic, ok := h.commandTopics[operationID]
	delete(h.commandTopics, operationID)
	h.mu.Unlock()
	if !ok {
		logger.L().WarnContext(ctx, "child relay state update for unknown command topic",
			"operation_id", operationID, "status", status)
		return
	}

	payload := map[string]any{"status": status}
	if reason != "" {
		payload["reason"] = reason
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		logger.L().ErrorContext(ctx, "failed to marshal child relay state update", "error", err)
		return
	}
	if err := h.publish(ctx, topic, buf, true); err != nil {
		logger.L().ErrorContext(ctx, "failed to publish child relay state update", "topic", topic, "error", err)
	}
}

func (h *operationHandler) complete(ctx context.Context, cs workflow.CommandState, status workflow.Status, reason string) error {
	payload := map[string]any{"status": string(status)}
	if reason != "" {
		payload["reason"] = reason
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal command completion")
	}
	return h.publish(ctx, cs.CommandTopic, buf, true)
}

func stringField(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
