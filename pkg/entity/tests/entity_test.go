package tests

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/thin-edge/tedge-core/pkg/entity"
)

// EntitySuite grounds the topic grammar against spec §8's literal scenario
// strings (S3, S4): a bare device identifier renders as "device/<name>//",
// a serviced one as "device/<name>/service/<svc>", and Kind is inferred
// from the reserved "main" name rather than read off the wire.
type EntitySuite struct {
	suite.Suite
}

func (s *EntitySuite) TestCommandTopicMatchesScenarioS3() {
	topic := entity.CommandTopic("te", entity.TopicID{Kind: entity.KindMain, Name: "device-01"}, "log_upload", "new-id")
	s.Equal("te/device/device-01///cmd/log_upload/new-id", topic)
}

func (s *EntitySuite) TestCommandTopicMatchesScenarioS4() {
	topic := entity.CommandTopic("te", entity.TopicID{Kind: entity.KindMain, Name: "main"}, "command", "c8y-mapper-1234")
	s.Equal("te/device/main///cmd/command/c8y-mapper-1234", topic)
}

func (s *EntitySuite) TestTopicIDStringWithService() {
	id := entity.TopicID{Kind: entity.KindMain, Name: "main", Service: "tedge-mapper-c8y"}
	s.Equal("device/main/service/tedge-mapper-c8y", id.String())
	s.True(id.IsService())
}

func (s *EntitySuite) TestParseRoundTripsBareDevice() {
	msg, err := entity.Parse("te", "te/device/device-01///cmd/log_upload/new-id")
	s.Require().NoError(err)
	s.Equal("device-01", msg.Entity.Name)
	s.Equal("", msg.Entity.Service)
	s.Equal("cmd", msg.Chan.Kind)
	s.Equal("log_upload", msg.Chan.Type)
	s.Equal([]string{"new-id"}, msg.Chan.Args)
}

func (s *EntitySuite) TestParseInfersChildKindFromNonMainName() {
	msg, err := entity.Parse("te", "te/device/child-01///cmd/firmware_update/op-1")
	s.Require().NoError(err)
	s.Equal(entity.KindChild, msg.Entity.Kind)
	s.Equal("child-01", msg.Entity.Name)
}

func (s *EntitySuite) TestParseInfersMainKindFromMainName() {
	msg, err := entity.Parse("te", "te/device/main///status/health")
	s.Require().NoError(err)
	s.Equal(entity.KindMain, msg.Entity.Kind)
}

func (s *EntitySuite) TestParseWithService() {
	msg, err := entity.Parse("te", "te/device/main/service/tedge-mapper-c8y/status/health")
	s.Require().NoError(err)
	s.Equal("tedge-mapper-c8y", msg.Entity.Service)
	s.True(msg.Entity.IsService())
}

func (s *EntitySuite) TestParseRejectsMissingDeviceLiteral() {
	_, err := entity.Parse("te", "te/main/device-01///cmd/log_upload/new-id")
	s.Error(err)
}

func (s *EntitySuite) TestParseRejectsTooFewSegments() {
	_, err := entity.Parse("te", "te/device/main/")
	s.Error(err)
}

func TestEntitySuite(t *testing.T) {
	suite.Run(t, new(EntitySuite))
}
