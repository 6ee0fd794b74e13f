package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Gray Motion topic.
const TopicPrefix = "graymotion"

// Topics provides builders for Gray Motion MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.ServoSet("maestro-0", 3) // graymotion/servo/maestro-0/3/set
type Topics struct{}

// ServoSet is the topic a controller bridge listens on for position writes.
func (Topics) ServoSet(controller string, index int) string {
	return fmt.Sprintf("%s/servo/%s/%d/set", TopicPrefix, controller, index)
}

// Effect is the topic for a fire-and-forget audio or lighting trigger.
func (Topics) Effect(kind string) string {
	return fmt.Sprintf("%s/effects/%s", TopicPrefix, kind)
}

// VisionEvents carries detection events from the vision collaborator.
func (Topics) VisionEvents() string {
	return TopicPrefix + "/vision/events"
}

// Metric is the topic for one sensor or health metric reading.
func (Topics) Metric(name string) string {
	return fmt.Sprintf("%s/metrics/%s", TopicPrefix, name)
}

// AllMetrics subscribes to every metric reading.
func (Topics) AllMetrics() string {
	return TopicPrefix + "/metrics/+"
}

// ControllerHealth is the topic a servo controller bridge reports liveness on.
func (Topics) ControllerHealth(controller string) string {
	return fmt.Sprintf("%s/controller/%s/health", TopicPrefix, controller)
}

// AllControllerHealth subscribes to every controller's health topic.
func (Topics) AllControllerHealth() string {
	return TopicPrefix + "/controller/+/health"
}

// SystemStatus carries the retained online/offline status and the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// Segment returns the n-th '/'-separated segment of topic, or "" when
// topic is shorter. Handlers use it to recover wildcard values.
func Segment(topic string, n int) string {
	parts := strings.Split(topic, "/")
	if n < 0 || n >= len(parts) {
		return ""
	}
	return parts[n]
}
