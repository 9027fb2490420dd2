package tests

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/thin-edge/tedge-core/pkg/operations"
	"github.com/thin-edge/tedge-core/pkg/workflow"
)

// OperationsSuite covers the SmartREST translation scenarios of spec §8
// (S3, S4) plus health-status and entity-birth-buffer behaviour.
type OperationsSuite struct {
	suite.Suite
}

// TestLogRequestTranslation reproduces scenario S3.
func (s *OperationsSuite) TestLogRequestTranslation() {
	csv := []string{"device-01", "syslog", "2024-01-01T00:00:00Z", "2024-01-01T01:00:00Z", "", "1000"}
	init, err := operations.TranslateLogRequest("te", "http://localhost:8000/tedge/file-transfer", csv, func() string { return "new-id" })
	s.Require().NoError(err)

	s.Equal("te/device/device-01///cmd/log_upload/new-id", init.Topic)
	s.Equal("init", init.Payload["status"])
	s.Equal("syslog", init.Payload["type"])
	s.Equal(1000, init.Payload["lines"])
	s.True(strings.HasSuffix(init.Payload["tedgeUrl"].(string), "/log_upload/syslog-new-id"))
}

func (s *OperationsSuite) TestLogRequestRejectsNonNumericLines() {
	csv := []string{"device-01", "syslog", "", "", "", "not-a-number"}
	_, err := operations.TranslateLogRequest("te", "http://x", csv, nil)
	s.Error(err)
}

// TestCustomOperationOutboundTranslation reproduces scenario S4.
func (s *OperationsSuite) TestCustomOperationOutboundTranslation() {
	init := operations.TranslateCustomOperation("te", "main", "1234")
	s.Equal("te/device/main///cmd/command/c8y-mapper-1234", init.Topic)

	cs := workflow.CommandState{
		CommandTopic:  init.Topic,
		Operation:     workflow.OpCustom,
		CorrelationID: "c8y-mapper-1234",
		Status:        workflow.StatusSuccessful,
		Payload:       map[string]any{"status": "successful", "text": "done"},
	}
	msg, ok := operations.TranslateOutbound("c8y", "", cs)
	s.Require().True(ok)
	s.Equal("c8y/s/us", msg.Topic)
	s.Equal("506,1234", msg.Payload)
}

func (s *OperationsSuite) TestOutboundExecutingAndFailed() {
	base := workflow.CommandState{CorrelationID: "c8y-mapper-42"}

	executing := base
	executing.Status = workflow.StatusExecuting
	msg, ok := operations.TranslateOutbound("c8y", "", executing)
	s.Require().True(ok)
	s.Equal("504,42", msg.Payload)

	failed := base
	failed.Status = workflow.StatusFailed
	failed.Payload = map[string]any{"reason": "disk full"}
	msg, ok = operations.TranslateOutbound("c8y", "", failed)
	s.Require().True(ok)
	s.Equal("505,42,disk full", msg.Payload)
}

func (s *OperationsSuite) TestOutboundIgnoresUnrecognisedCorrelationID() {
	cs := workflow.CommandState{CorrelationID: "not-ours", Status: workflow.StatusSuccessful}
	_, ok := operations.TranslateOutbound("c8y", "", cs)
	s.False(ok)
}

func (s *OperationsSuite) TestChildDeviceUsesChildTopic() {
	cs := workflow.CommandState{CorrelationID: "c8y-mapper-7", Status: workflow.StatusSuccessful}
	msg, ok := operations.TranslateOutbound("c8y", "test_device:device:child", cs)
	s.Require().True(ok)
	s.Equal("c8y/s/us/test_device:device:child", msg.Topic)
}

func (s *OperationsSuite) TestHealthStatusTranslation() {
	msgs := operations.TranslateHealthStatus("c8y", "test_device:device:main:service:tedge-mapper-c8y", "tedge-mapper-c8y", []byte(`{"pid":1234,"status":"up"}`))
	s.Require().Len(msgs, 1)
	s.Equal("c8y/s/us", msgs[0].Topic)
	s.Equal("102,test_device:device:main:service:tedge-mapper-c8y,service,tedge-mapper-c8y,up", msgs[0].Payload)
}

func (s *OperationsSuite) TestHealthStatusUnknownOnMalformedPayload() {
	msgs := operations.TranslateHealthStatus("c8y", "xid", "svc", []byte(`not json`))
	s.Require().Len(msgs, 1)
	s.Equal("102,xid,service,svc,unknown", msgs[0].Payload)
}

func (s *OperationsSuite) TestMosquittoBridgeUpTriggersPendingOperations() {
	msgs := operations.TranslateHealthStatus("xyz", "xid", "mosquitto-xyz-bridge", []byte("1"))
	s.Require().Len(msgs, 2)
	s.Equal("102,xid,service,mosquitto-xyz-bridge,up", msgs[0].Payload)
	s.Equal("500", msgs[1].Payload)
}

func (s *OperationsSuite) TestEntityBufferDrainsFIFO() {
	buf := operations.NewEntityBuffer(10)
	buf.Buffer("e1", operations.BufferedMessage{Topic: "a", Payload: []byte("1")})
	buf.Buffer("e1", operations.BufferedMessage{Topic: "b", Payload: []byte("2")})

	drained := buf.Drain("e1")
	s.Require().Len(drained, 2)
	s.Equal("a", drained[0].Topic)
	s.Equal("b", drained[1].Topic)
	s.Equal(0, buf.Pending("e1"))
}

func (s *OperationsSuite) TestMapperHandleSmartRESTPublishesCommand() {
	var published []string
	mapper := operations.NewMapper(operations.Config{TopicRoot: "te", SmartRESTPrefix: "c8y", FileTransferBaseURL: "http://x/tedge/file-transfer"},
		func(ctx context.Context, topic string, payload map[string]any) error {
			published = append(published, topic)
			return nil
		}, nil)

	err := mapper.HandleSmartREST(context.Background(), "522", []string{"device-01", "syslog", "", "", "", "10"})
	s.Require().NoError(err)
	s.Require().Len(published, 1)
	s.Contains(published[0], "log_upload")
}

func TestOperationsSuite(t *testing.T) {
	suite.Run(t, new(OperationsSuite))
}
