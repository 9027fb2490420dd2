package flows

import "strings"

// TopicFilter is a set of MQTT subscription filters (each possibly
// containing the `+` single-level and `#` multi-level wildcards),
// mirroring the original's tedge_mqtt_ext::TopicFilter used by Flow.topics
// and FlowStep.config_topics.
type TopicFilter struct {
	patterns []string
}

// NewTopicFilter builds a filter from zero or more subscription patterns.
func NewTopicFilter(patterns ...string) TopicFilter {
	tf := TopicFilter{}
	for _, p := range patterns {
		tf.Add(p)
	}
	return tf
}

// Add inserts pattern into the filter, ignoring an exact duplicate.
func (tf *TopicFilter) Add(pattern string) {
	for _, p := range tf.patterns {
		if p == pattern {
			return
		}
	}
	tf.patterns = append(tf.patterns, pattern)
}

// AddAll merges other's patterns into tf.
func (tf *TopicFilter) AddAll(other TopicFilter) {
	for _, p := range other.patterns {
		tf.Add(p)
	}
}

// IsEmpty reports whether the filter has no patterns, i.e. accepts nothing.
func (tf TopicFilter) IsEmpty() bool {
	return len(tf.patterns) == 0
}

// AcceptTopicName reports whether topic matches any pattern in the filter.
func (tf TopicFilter) AcceptTopicName(topic string) bool {
	for _, p := range tf.patterns {
		if matchFilter(p, topic) {
			return true
		}
	}
	return false
}

// matchFilter implements standard MQTT topic-filter matching: `+` matches
// exactly one level, `#` (only legal as the final segment) matches the
// remainder including zero further levels.
func matchFilter(filter, topic string) bool {
	fSegs := strings.Split(filter, "/")
	tSegs := strings.Split(topic, "/")

	for i, fs := range fSegs {
		if fs == "#" {
			return true
		}
		if i >= len(tSegs) {
			return false
		}
		if fs == "+" {
			continue
		}
		if fs != tSegs[i] {
			return false
		}
	}
	return len(fSegs) == len(tSegs)
}
