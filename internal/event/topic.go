package event

import "strings"

// Topic identifies an event stream. The host publishes on a closed
// vocabulary: plugin lifecycle, tool activity, and system state.
type Topic string

// Plugin lifecycle topics.
const (
	TopicPluginDiscovered Topic = "plugin.discovered"
	TopicPluginLoaded     Topic = "plugin.loaded"
	TopicPluginEnabled    Topic = "plugin.enabled"
	TopicPluginDisabled   Topic = "plugin.disabled"
	TopicPluginUnloaded   Topic = "plugin.unloaded"
)

// Tool activity topics.
const (
	TopicToolRegistered Topic = "tool.registered"
	TopicToolExecuted   Topic = "tool.executed"
	TopicToolError      Topic = "tool.error"
)

// System topics.
const (
	TopicSystemStartup  Topic = "system.startup"
	TopicSystemShutdown Topic = "system.shutdown"
	TopicSystemReload   Topic = "system.reload"
	TopicSystemError    Topic = "system.error"
	TopicSystemHealth   Topic = "system.health"
)

var knownTopics = map[Topic]bool{
	TopicPluginDiscovered: true,
	TopicPluginLoaded:     true,
	TopicPluginEnabled:    true,
	TopicPluginDisabled:   true,
	TopicPluginUnloaded:   true,
	TopicToolRegistered:   true,
	TopicToolExecuted:     true,
	TopicToolError:        true,
	TopicSystemStartup:    true,
	TopicSystemShutdown:   true,
	TopicSystemReload:     true,
	TopicSystemError:      true,
	TopicSystemHealth:     true,
}

// IsKnown reports whether the topic belongs to the host vocabulary.
func (t Topic) IsKnown() bool {
	return knownTopics[t]
}

// IsKnown reports whether a topic belongs to the host vocabulary.
func IsKnown(t Topic) bool {
	return knownTopics[t]
}

// AllTopics returns the full topic vocabulary.
func AllTopics() []Topic {
	topics := []Topic{
		TopicPluginDiscovered,
		TopicPluginLoaded,
		TopicPluginEnabled,
		TopicPluginDisabled,
		TopicPluginUnloaded,
		TopicToolRegistered,
		TopicToolExecuted,
		TopicToolError,
		TopicSystemStartup,
		TopicSystemShutdown,
		TopicSystemReload,
		TopicSystemError,
		TopicSystemHealth,
	}
	return topics
}

// Match reports whether a topic matches a subscription pattern.
// Patterns are dot-separated; "*" matches exactly one segment and
// "**" matches the rest of the topic.
func Match(pattern, topic Topic) bool {
	if pattern == topic {
		return true
	}

	pparts := strings.Split(string(pattern), ".")
	tparts := strings.Split(string(topic), ".")

	for i, pp := range pparts {
		if pp == "**" {
			return true
		}
		if i >= len(tparts) {
			return false
		}
		if pp != "*" && pp != tparts[i] {
			return false
		}
	}
	return len(pparts) == len(tparts)
}
