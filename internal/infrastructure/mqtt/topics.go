package mqtt

import "strings"

// DefaultPrefix is used when no topic prefix is configured.
const DefaultPrefix = "keymapd"

// Command names accepted on the command topics.
const (
	CommandStart = "start"
	CommandStop  = "stop"
	CommandRetry = "retry"
	CommandReset = "reset"
)

// Topics builds topic names under a prefix.
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix. Surrounding slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root topic.
func (t Topics) Prefix() string { return t.prefix }

// Status is the retained lifecycle status topic.
func (t Topics) Status() string { return t.prefix + "/status" }

// Diagnostics carries each new diagnostic.
func (t Topics) Diagnostics() string { return t.prefix + "/diagnostics" }

// Command is the topic for one named command.
func (t Topics) Command(name string) string { return t.prefix + "/command/" + name }

// AllCommands matches every command topic.
func (t Topics) AllCommands() string { return t.prefix + "/command/+" }

// SystemStatus carries the daemon's online/offline state and the LWT.
func (t Topics) SystemStatus() string { return t.prefix + "/system/status" }

// CommandName extracts the command from a command topic, or "" when topic
// is not one.
func (t Topics) CommandName(topic string) string {
	name, ok := strings.CutPrefix(topic, t.prefix+"/command/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return ""
	}
	return name
}
