package mqtt

import (
	"fmt"
	"strings"
)

// Roborock cloud topic prefixes. Requests flow "in" to the device and
// replies flow "out" of it, from the broker's point of view.
const (
	TopicPrefixRequest  = "rr/m/i"
	TopicPrefixResponse = "rr/m/o"
)

// Topics provides builders for Roborock cloud MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceRequest("user-1", "a1b2c3d4", "duid-1")
//	// Returns: "rr/m/i/user-1/a1b2c3d4/duid-1"
type Topics struct{}

// DeviceRequest returns the topic requests to one device are published on.
//
// Example: rr/m/i/{user}/{username}/{duid}
func (Topics) DeviceRequest(user, username, duid string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixRequest, user, username, duid)
}

// DeviceResponses returns the wildcard matching replies from every device
// on the account.
//
// Pattern: rr/m/o/{user}/{username}/#
func (Topics) DeviceResponses(user, username string) string {
	return fmt.Sprintf("%s/%s/%s/#", TopicPrefixResponse, user, username)
}

// DeviceIDFromTopic returns the last topic segment, which carries the duid.
func (Topics) DeviceIDFromTopic(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
