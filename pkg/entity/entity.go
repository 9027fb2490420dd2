// Package entity implements the MQTT topic grammar inherited unchanged from
// the original thin-edge implementation's EntityTopicId:
//
//	te/device/<name>/<service-or-empty>/<service-name-or-empty>/<channel>/<args...>
//
// The identifier is always four segments starting with the literal
// "device"; a device with no service leaves the last two empty (rendering
// as a bare "//"), a service fills them with "service/<svc-name>". This
// matches both the scenario literals of spec §8 (e.g.
// "te/device/device-01///cmd/log_upload/<id>") and original_source's
// mqtt_topics::EntityTopicId, rather than the simplified
// "te/<main|child>/<name>/..." form spec §6's prose grammar would also
// support.
//
// The entity-topic-id data model of spec §3 (device kind, name, optional
// service name) is preserved on top of this wire grammar: Kind is not a
// topic segment, it is inferred from Name — "main" is the reserved name of
// the agent's own device, any other name is a child.
package entity

import (
	"strings"

	"github.com/thin-edge/tedge-core/pkg/errors"
)

// Kind is the device kind of an entity. It is not a topic segment: Parse
// infers it from the device name (see the package doc).
type Kind string

const (
	KindMain  Kind = "main"
	KindChild Kind = "child"
)

// TopicID identifies a device, child device, or service beneath the root
// prefix. It is immutable once constructed.
type TopicID struct {
	Kind    Kind
	Name    string
	Service string // empty when this identifies a device, not a service
}

// String renders the canonical four-segment "device/<name>/<svc-type>/<svc-name>"
// identifier fragment of a topic, e.g. "device/device-01//" with no
// service or "device/main/service/tedge-mapper-c8y" with one.
func (t TopicID) String() string {
	svcType, svcName := "", ""
	if t.Service != "" {
		svcType, svcName = "service", t.Service
	}
	return "device/" + t.Name + "/" + svcType + "/" + svcName
}

// IsService reports whether this topic id names a service under a device.
func (t TopicID) IsService() bool {
	return t.Service != ""
}

// Channel describes the channel segment of a parsed topic: measurement (m),
// event (e), alarm (a), command (cmd), health status, or entity birth.
type Channel struct {
	Kind string   // "m", "e", "a", "cmd", "status"
	Type string   // e.g. measurement/event/alarm type, or operation name for cmd
	Args []string // remaining args, e.g. the command correlation id
}

// Message is a fully parsed topic: the entity it concerns plus its channel.
type Message struct {
	Root   string
	Entity TopicID
	Chan   Channel
}

// Parse splits a topic under the given root prefix (default "te") into its
// entity id and channel per the "device/<name>/<svc-type>/<svc-name>"
// grammar documented on the package. Returns a Protocol error for topics
// that don't match it.
func Parse(root, topic string) (Message, error) {
	prefix := strings.TrimSuffix(root, "/") + "/"
	if !strings.HasPrefix(topic, prefix) {
		return Message{}, errors.Protocol("topic does not match root prefix "+root, nil)
	}
	rest := strings.TrimPrefix(topic, prefix)
	segs := strings.Split(rest, "/")
	if len(segs) < 5 {
		return Message{}, errors.Protocol("topic has too few segments: "+topic, nil)
	}
	if segs[0] != "device" {
		return Message{}, errors.Protocol(`topic identifier must start with literal "device": `+topic, nil)
	}
	name := segs[1]
	if name == "" {
		return Message{}, errors.Protocol("topic missing device name: "+topic, nil)
	}

	kind := KindChild
	if name == "main" {
		kind = KindMain
	}
	id := TopicID{Kind: kind, Name: name}

	switch {
	case segs[2] == "" && segs[3] == "":
		// no service
	case segs[2] == "service" && segs[3] != "":
		id.Service = segs[3]
	default:
		return Message{}, errors.Protocol("malformed service segment: "+topic, nil)
	}

	ch, err := parseChannel(segs[4:])
	if err != nil {
		return Message{}, err
	}

	return Message{Root: root, Entity: id, Chan: ch}, nil
}

func parseChannel(segs []string) (Channel, error) {
	if len(segs) == 0 {
		return Channel{}, errors.Protocol("empty channel", nil)
	}

	switch segs[0] {
	case "m", "e", "a":
		if len(segs) < 2 {
			return Channel{}, errors.Protocol("measurement/event/alarm channel missing type", nil)
		}
		return Channel{Kind: segs[0], Type: segs[1], Args: segs[2:]}, nil
	case "cmd":
		if len(segs) < 2 {
			return Channel{}, errors.Protocol("cmd channel missing operation", nil)
		}
		op := segs[1]
		var args []string
		if len(segs) > 2 {
			args = segs[2:]
		}
		return Channel{Kind: "cmd", Type: op, Args: args}, nil
	case "status":
		if len(segs) < 2 {
			return Channel{}, errors.Protocol("status channel missing subtype", nil)
		}
		return Channel{Kind: "status", Type: segs[1], Args: segs[2:]}, nil
	default:
		return Channel{Kind: segs[0], Args: segs[1:]}, nil
	}
}

// CommandTopic builds the "te/device/<name>/<svc-type>/<svc-name>/cmd/<op>/<id>"
// topic for a command instance. Correlation id uniquely identifies one
// operation instance (per GLOSSARY).
func CommandTopic(root string, id TopicID, operation, correlationID string) string {
	return strings.TrimSuffix(root, "/") + "/" + id.String() + "/cmd/" + operation + "/" + correlationID
}

// HealthTopic builds the well-known health status topic for an entity.
func HealthTopic(root string, id TopicID) string {
	return strings.TrimSuffix(root, "/") + "/" + id.String() + "/status/health"
}

// BirthTopic builds the well-known entity-registration topic.
func BirthTopic(root string, id TopicID) string {
	return strings.TrimSuffix(root, "/") + "/" + id.String() + "/status/entities"
}

// Registry owns the set of known entity topic ids for a mapper instance,
// assigning them on first mention (spec §3: "Created on first mention or
// via explicit registration. Unique within the mapper.").
type Registry struct {
	mu      chan struct{} // binary semaphore; avoids importing sync for one field
	known   map[string]TopicID
	xidOf   map[string]string // deterministic external (cloud) id per topic id
	nextSeq int
}

// NewRegistry creates an empty entity registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:    make(chan struct{}, 1),
		known: make(map[string]TopicID),
		xidOf: make(map[string]string),
	}
}

func (r *Registry) lock()   { r.mu <- struct{}{} }
func (r *Registry) unlock() { <-r.mu }

// Register records id as known, generating a deterministic external id if
// one hasn't been assigned yet. Returns the external id and whether this was
// the first registration (a "birth").
func (r *Registry) Register(id TopicID) (externalID string, born bool) {
	r.lock()
	defer r.unlock()

	key := id.String()
	if _, ok := r.known[key]; ok {
		return r.xidOf[key], false
	}

	r.known[key] = id
	xid := deriveExternalID(id)
	r.xidOf[key] = xid
	return xid, true
}

// Lookup reports whether id is known and, if so, its external id.
func (r *Registry) Lookup(id TopicID) (string, bool) {
	r.lock()
	defer r.unlock()
	xid, ok := r.xidOf[id.String()]
	return xid, ok
}

// deriveExternalID computes a stable cloud-facing identifier from a topic
// id: a device (main or child) uses its bare name, and a service is
// "<device-name>:device:<service-name>" (spec §3: "External cloud id derived
// deterministically").
func deriveExternalID(id TopicID) string {
	if id.Kind == KindMain && id.Service == "" {
		return id.Name
	}
	if id.Service != "" {
		return id.Name + ":device:" + id.Service
	}
	return id.Name
}
