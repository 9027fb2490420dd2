// Package flows implements the flow / transform engine of spec §4.4: a
// flow is a directed list of sandboxed-script steps applied in order to
// incoming MQTT messages and to periodic ticks, with filesystem-watched
// reload of both flow definitions and individual scripts.
//
// Grounded on _examples/original_source/crates/extensions/tedge_gen_mapper/
// src/flow.rs and pipeline.rs for step ordering, message-before-tick
// interleaving, and reload semantics; scripts run in goja rather than a
// native JS engine.
package flows

import "time"

// Message is one MQTT message as it flows through steps: topic, raw
// payload, and an optional timestamp (set for messages originating from a
// real MQTT receipt or tick; left zero for script-synthesized intermediate
// messages that haven't been stamped yet).
type Message struct {
	Topic     string
	Payload   string
	Timestamp time.Time
}

// FlowStep is one transformation stage: a script plus the topics it should
// be notified of configuration changes on.
type FlowStep struct {
	Script       *Script
	ConfigTopics TopicFilter
}

// Flow is spec §4.4's flow: an input topic filter plus an ordered chain of
// steps, loaded from one `.toml` definition file.
type Flow struct {
	Source      string
	InputTopics TopicFilter
	Steps       []*FlowStep
}

// Topics returns the full subscription set this flow needs: its own input
// filter plus every step's config topics (spec §4.4 "the aggregate
// subscription set is recomputed").
func (f *Flow) Topics() TopicFilter {
	topics := NewTopicFilter()
	topics.AddAll(f.InputTopics)
	for _, step := range f.Steps {
		topics.AddAll(step.ConfigTopics)
	}
	return topics
}
