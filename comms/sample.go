package comms

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sample is one timestamped reading for a topic.
type Sample struct {
	Timestamp time.Time
	Value     any
}

// RawData is the fused view: topic to time-ordered samples. It is produced
// fresh on every Communicator.RawData call and never persisted.
type RawData map[string][]Sample

// SplitTopic splits a 3-segment topic address <unit>/<sensor>/<quantity>.
func SplitTopic(topic string) (unit, sensor, quantity string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("topic is malformed, got %q", topic)
	}
	return parts[0], parts[1], parts[2], nil
}

// MustSplitTopic is SplitTopic for topics that originate in code or
// validated configuration. A malformed address here is a programming error.
func MustSplitTopic(topic string) (unit, sensor, quantity string) {
	unit, sensor, quantity, err := SplitTopic(topic)
	if err != nil {
		panic(err)
	}
	return unit, sensor, quantity
}

// Unit returns the remote-unit segment of a topic, or the whole string if
// the address has no separator. Wire topics are handled leniently.
func Unit(topic string) string {
	if i := strings.IndexByte(topic, '/'); i >= 0 {
		return topic[:i]
	}
	return topic
}

// Quantity returns the last segment of a topic.
func Quantity(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// Tipify converts a plain-text scalar payload into the best matching type:
// int, else float, else string. Payloads containing an underscore stay
// strings, since underscores mark symbolic identifiers upstream.
func Tipify(s string) any {
	if strings.Contains(s, "_") {
		return s
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
