// Package bus implements the local publish/subscribe transport the mapper
// and agent binaries talk over. It wraps paho.mqtt.golang behind a small
// Message/Topic/TopicFilter vocabulary so the rest of the module never
// imports the MQTT client directly.
package bus

import "strings"

// Message is an opaque payload addressed to a topic. Producers create it,
// the converter consumes it once; outbound messages are owned by the
// mapper loop until handed to Publish.
type Message struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// New builds a non-retained message with a string payload, the common case
// for SmartREST lines and JSON bodies alike.
func New(topic, payload string) Message {
	return Message{Topic: topic, Payload: []byte(payload)}
}

// Retained returns a copy of m with the retain flag set.
func (m Message) Retained() Message {
	m.Retain = true
	return m
}

// PayloadString returns the payload decoded as UTF-8 text.
func (m Message) PayloadString() string {
	return string(m.Payload)
}

// TopicFilter is an ordered set of subscription patterns using MQTT's
// single-level (+) and multi-level (#) wildcards.
type TopicFilter struct {
	patterns []string
}

// NewTopicFilter builds a filter from zero or more patterns.
func NewTopicFilter(patterns ...string) TopicFilter {
	tf := TopicFilter{}
	tf.AddAll(patterns...)
	return tf
}

// Add appends a pattern to the filter.
func (f *TopicFilter) Add(pattern string) {
	f.patterns = append(f.patterns, pattern)
}

// AddAll appends every pattern to the filter.
func (f *TopicFilter) AddAll(patterns ...string) {
	f.patterns = append(f.patterns, patterns...)
}

// Patterns returns the filter's raw patterns, in insertion order.
func (f TopicFilter) Patterns() []string {
	out := make([]string, len(f.patterns))
	copy(out, f.patterns)
	return out
}

// Accept reports whether topic matches any pattern in the filter.
func (f TopicFilter) Accept(topic string) bool {
	for _, p := range f.patterns {
		if topicMatches(p, topic) {
			return true
		}
	}
	return false
}

func topicMatches(pattern, topic string) bool {
	pSegs := strings.Split(pattern, "/")
	tSegs := strings.Split(topic, "/")

	for i, p := range pSegs {
		if p == "#" {
			return true
		}
		if i >= len(tSegs) {
			return false
		}
		if p == "+" {
			continue
		}
		if p != tSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(tSegs)
}
