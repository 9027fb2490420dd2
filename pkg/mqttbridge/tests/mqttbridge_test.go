package tests

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/thin-edge/tedge-core/pkg/mqttbridge"
)

// BridgeSuite exercises spec §4.3's redelivery contract: a message
// forwarded across the bridge stays in-flight (producer ack withheld)
// until the far side genuinely acks it (property 3), in-flight messages
// replay in original publish order on reconnect before anything new is
// forwarded (property 4), and a reconnect that republishes a message under
// a fresh packet id still resolves to exactly one producer ack, not zero
// and not two (scenario S6).
type BridgeSuite struct {
	suite.Suite
}

func (s *BridgeSuite) TestTrackThenAckRemovesEntryAndFiresAckOrigin() {
	t := mqttbridge.NewInFlightTable()
	acked := false
	t.Track(1, &mqttbridge.InFlightMessage{
		Topic:     "c8y/s/us",
		Payload:   []byte("one"),
		QoS:       1,
		AckOrigin: func() { acked = true },
	})
	s.Equal(1, t.Len())
	s.False(acked, "ack must be withheld until the table is told the far side acked")

	ok := t.Ack(1)
	s.True(ok)
	s.True(acked)
	s.Equal(0, t.Len())
}

func (s *BridgeSuite) TestAckOfUnknownIDIsANoOp() {
	table := mqttbridge.NewInFlightTable()
	ok := table.Ack(99)
	s.False(ok)
}

func (s *BridgeSuite) TestPendingPreservesPublishOrderAcrossReconnect() {
	table := mqttbridge.NewInFlightTable()
	table.Track(3, &mqttbridge.InFlightMessage{Topic: "a", Payload: []byte("1")})
	table.Track(1, &mqttbridge.InFlightMessage{Topic: "b", Payload: []byte("2")})
	table.Track(2, &mqttbridge.InFlightMessage{Topic: "c", Payload: []byte("3")})

	pending := table.Pending()
	s.Require().Len(pending, 3)
	s.Equal("a", pending[0].Topic)
	s.Equal("b", pending[1].Topic)
	s.Equal("c", pending[2].Topic)
}

// TestReconnectReplayUnderNewPacketIDResolvesToExactlyOneAck models scenario
// S6: the bridge's onConnect handler takes each pending entry, republishes
// it (the broker assigns a new packet id on redelivery), and re-tracks it
// under that id rather than the stale one. The original producer must
// still be acked exactly once, when (and only when) the replay is acked.
func (s *BridgeSuite) TestReconnectReplayUnderNewPacketIDResolvesToExactlyOneAck() {
	table := mqttbridge.NewInFlightTable()
	ackCount := 0
	table.Track(1, &mqttbridge.InFlightMessage{
		Topic:     "c8y/s/us",
		Payload:   []byte("reading"),
		QoS:       1,
		AckOrigin: func() { ackCount++ },
	})

	// Simulate the bridge's reconnect-replay loop: take the stale entry
	// (must not fire AckOrigin) and re-track it under the packet id the
	// broker assigns to the republish.
	entries := table.PendingEntries()
	s.Require().Len(entries, 1)
	s.Equal(mqttbridge.PacketID(1), entries[0].ID)

	msg, ok := table.Take(entries[0].ID)
	s.Require().True(ok)
	s.Equal(0, ackCount, "Take must not invoke AckOrigin")
	s.Equal(0, table.Len(), "stale id must not linger alongside the replay")

	const newID mqttbridge.PacketID = 42
	table.Track(newID, msg)
	s.Equal(1, table.Len())

	// Acking the stale id (as if a late PUBACK for the original attempt
	// arrived) must do nothing: it is no longer in the table.
	s.False(table.Ack(1))
	s.Equal(0, ackCount)

	// Acking the replay's id is what actually releases the producer ack,
	// and it must do so exactly once.
	s.True(table.Ack(newID))
	s.Equal(1, ackCount)
	s.Equal(0, table.Len())
}

func (s *BridgeSuite) TestTakeOnUnknownIDReportsAbsence() {
	table := mqttbridge.NewInFlightTable()
	msg, ok := table.Take(7)
	s.False(ok)
	s.Nil(msg)
}

func (s *BridgeSuite) TestHealthStatusBeforeConnectReportsDisconnected() {
	b := mqttbridge.New(mqttbridge.Config{
		LocalBroker: "tcp://127.0.0.1:1883",
		CloudBroker: "tcp://127.0.0.1:8883",
		ClientID:    "test-device",
	})

	local, err := b.HealthStatus("local")
	s.NoError(err)
	s.False(local)

	cloud, err := b.HealthStatus("cloud")
	s.NoError(err)
	s.False(cloud)

	_, err = b.HealthStatus("bogus")
	s.Error(err)
}

func TestBridgeSuite(t *testing.T) {
	suite.Run(t, new(BridgeSuite))
}
