package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the Gray Wave hierarchy.
const (
	// TopicPrefix is the root of every Gray Wave topic.
	TopicPrefix = "graywave"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = TopicPrefix + "/system"

	// TopicPrefixMap is the base for map (location) topics.
	TopicPrefixMap = TopicPrefix + "/map"

	// TopicPrefixSettings is the base for runtime settings topics.
	TopicPrefixSettings = TopicPrefix + "/settings"

	// TopicPrefixDecoder is the base for decoder status topics.
	TopicPrefixDecoder = TopicPrefix + "/decoder"
)

// Topics provides builders for Gray Wave MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.MapLocation("icao:3c6444")
//	// Returns: "graywave/map/location/icao:3c6444"
type Topics struct{}

// SystemStatus returns the topic carrying the core's online/offline status.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// MapLocation returns the topic for the latest position of one source.
//
// Example: graywave/map/location/hfdl:AB123
func (Topics) MapLocation(sourceKey string) string {
	return fmt.Sprintf("%s/location/%s", TopicPrefixMap, sanitizeLevel(sourceKey))
}

// AllMapLocations returns a wildcard subscription for every location topic.
func (Topics) AllMapLocations() string {
	return TopicPrefixMap + "/location/+"
}

// SettingsSet returns the topic used to change one runtime setting.
//
// Example: graywave/settings/set/aprs_callsign
func (Topics) SettingsSet(key string) string {
	return fmt.Sprintf("%s/set/%s", TopicPrefixSettings, key)
}

// AllSettingsSet returns a wildcard subscription for every settings change.
func (Topics) AllSettingsSet() string {
	return TopicPrefixSettings + "/set/+"
}

// DecoderStatus returns the topic for a supervised decoder's status.
//
// Example: graywave/decoder/direwolf/status
func (Topics) DecoderStatus(name string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixDecoder, name)
}

// LastLevel returns the final level of a topic, e.g. the key of a
// settings/set topic.
func LastLevel(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// sanitizeLevel replaces characters that would split or wildcard a single
// topic level.
func sanitizeLevel(level string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(level)
}
