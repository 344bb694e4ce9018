package mqtt

import "fmt"

// DefaultTopicPrefix is used when no topic prefix is configured.
const DefaultTopicPrefix = "vdba"

// Topics builds the MQTT topics vdba publishes to.
//
//	topics := mqtt.NewTopics("site-1")
//	topics.Event("sqlite3", "3f2a...", "committed")
//	// Returns: "site-1/events/sqlite3/3f2a.../committed"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Status returns the retained online/offline status topic.
//
// Example: vdba/status
func (t Topics) Status() string {
	return t.Prefix() + "/status"
}

// Event returns the topic for one connection event.
//
// Example: vdba/events/postgres/6b1d.../rolled_back
func (t Topics) Event(driver, connectionID, kind string) string {
	return fmt.Sprintf("%s/events/%s/%s/%s", t.Prefix(), driver, connectionID, kind)
}

// AllEvents returns a wildcard matching every event topic.
//
// Example: vdba/events/#
func (t Topics) AllEvents() string {
	return t.Prefix() + "/events/#"
}
