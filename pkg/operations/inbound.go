package operations

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/thin-edge/tedge-core/pkg/entity"
	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/workflow"
)

// IDGenerator mints a fresh SmartREST-side operation id for an inbound
// request; tests may override this for determinism.
type IDGenerator func() string

// DefaultIDGenerator mints ids via google/uuid.
func DefaultIDGenerator() string {
	return uuid.NewString()
}

// TranslateLogRequest translates an inbound SmartREST `522` log request
// (spec scenario S3) into a retained "init" command on the device's
// log_upload channel. csv is the request's comma-separated fields after
// the leading code: [deviceID, logType, dateFrom, dateTo, needle, lines].
func TranslateLogRequest(topicRoot, fileTransferBaseURL string, csv []string, newID IDGenerator) (CommandInit, error) {
	if len(csv) < 6 {
		return CommandInit{}, errors.Protocol("522 log request has too few fields", nil)
	}
	deviceID := csv[0]
	logType := csv[1]
	linesRaw := csv[5]

	lines, err := strconv.Atoi(linesRaw)
	if err != nil {
		return CommandInit{}, errors.Protocol("522 log request has a non-numeric lines field", err)
	}

	if newID == nil {
		newID = DefaultIDGenerator
	}
	id := newID()
	cmdTopic := entity.CommandTopic(topicRoot, entity.TopicID{Kind: entity.KindMain, Name: deviceID}, "log_upload", id)
	tedgeURL := strings.TrimRight(fileTransferBaseURL, "/") + "/log_upload/" + logType + "-" + id

	return CommandInit{
		Topic: cmdTopic,
		Payload: map[string]any{
			"status":   string(workflow.StatusInit),
			"type":     logType,
			"lines":    lines,
			"tedgeUrl": tedgeURL,
		},
	}, nil
}

// TranslateCustomOperation translates an inbound SmartREST custom operation
// request (identified by its numeric SmartREST id) into a retained "init"
// command on the generic custom-operation channel (spec §4.6 scenario S4's
// inverse direction, `workflow.OpCustom`). The minted correlation id
// encodes smartRESTID so TranslateOutbound can recover it later.
func TranslateCustomOperation(topicRoot, deviceID, smartRESTID string) CommandInit {
	cid := correlationID(smartRESTID)
	cmdTopic := entity.CommandTopic(topicRoot, entity.TopicID{Kind: entity.KindMain, Name: deviceID}, workflow.OpCustom, cid)
	return CommandInit{
		Topic: cmdTopic,
		Payload: map[string]any{
			"status": string(workflow.StatusInit),
		},
	}
}
