// Package mqttbridge implements the two-sided MQTT bridge of spec §4.3:
// a local session (clean-session off, persistent client id) and a cloud
// session (clean-session on), with an in-flight redelivery table on each
// side that survives reconnects and preserves publish ordering.
//
// Grounded on the dependency the teacher's go.mod already declares,
// github.com/eclipse/paho.mqtt.golang, and on the redelivery contract
// exercised by _examples/original_source/crates/extensions/tedge_mqtt_bridge/tests/republish.rs
// (ordering preserved across reconnect, ack withheld until the far side
// acks, replay before newly arrived messages).
package mqttbridge

import (
	"sync"
)

// PacketID is the broker-assigned identifier a bridge uses to key its
// in-flight table, matching the wire protocol's 16-bit packet identifier.
type PacketID uint16

// InFlightMessage is one publish awaiting acknowledgement from the far
// side of the bridge.
type InFlightMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	// AckOrigin acknowledges the side the message arrived from. It is
	// called exactly once, when the far side acks, withholding the
	// original producer's ack until then (spec §4.3).
	AckOrigin func()
}

// InFlightTable tracks published-but-unacked messages for one direction of
// the bridge, keyed by the packet id assigned on the publishing
// (destination) side, and preserves publish order for replay.
type InFlightTable struct {
	mu      sync.Mutex
	order   []PacketID
	entries map[PacketID]*InFlightMessage
}

// NewInFlightTable creates an empty table.
func NewInFlightTable() *InFlightTable {
	return &InFlightTable{entries: make(map[PacketID]*InFlightMessage)}
}

// Track records a newly published message as in-flight.
func (t *InFlightTable) Track(id PacketID, msg *InFlightMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; !exists {
		t.order = append(t.order, id)
	}
	t.entries[id] = msg
}

// Ack removes id from the table and invokes its AckOrigin callback,
// emitting the withheld ack to the originating side. Reports whether id
// was actually in-flight.
func (t *InFlightTable) Ack(id PacketID) bool {
	t.mu.Lock()
	msg, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
		t.order = removePacketID(t.order, id)
	}
	t.mu.Unlock()

	if ok && msg.AckOrigin != nil {
		msg.AckOrigin()
	}
	return ok
}

// Pending returns every in-flight message in original publish order, for
// replay on reconnect before any newly arrived message is forwarded.
func (t *InFlightTable) Pending() []*InFlightMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*InFlightMessage, 0, len(t.order))
	for _, id := range t.order {
		if msg, ok := t.entries[id]; ok {
			out = append(out, msg)
		}
	}
	return out
}

// PendingEntry pairs an in-flight message with the packet id it is
// currently tracked under.
type PendingEntry struct {
	ID  PacketID
	Msg *InFlightMessage
}

// PendingEntries is Pending plus each message's current table key, so a
// caller can Take and re-Track a replayed message under the new packet id
// the broker assigns on republish.
func (t *InFlightTable) PendingEntries() []PendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PendingEntry, 0, len(t.order))
	for _, id := range t.order {
		if msg, ok := t.entries[id]; ok {
			out = append(out, PendingEntry{ID: id, Msg: msg})
		}
	}
	return out
}

// Take removes id from the table without invoking its AckOrigin callback,
// for the reconnect-replay path where a pending message is about to be
// republished under a new packet id rather than acked outright. Reports
// whether id was present.
func (t *InFlightTable) Take(id PacketID) (*InFlightMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
		t.order = removePacketID(t.order, id)
	}
	return msg, ok
}

// Len reports the number of messages currently in-flight.
func (t *InFlightTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

func removePacketID(order []PacketID, id PacketID) []PacketID {
	for i, p := range order {
		if p == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
