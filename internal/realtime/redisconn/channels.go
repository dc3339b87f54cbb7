package redisconn

import (
	"fmt"
	"strings"
)

// DefaultPrefix namespaces every channel when no prefix is configured.
const DefaultPrefix = "vodpipeline"

func EventChannel(prefix, event string) string {
	return fmt.Sprintf("%s:events:%s", prefix, event)
}

func EventPattern(prefix string) string {
	return fmt.Sprintf("%s:events:*", prefix)
}

func InvokeChannel(prefix, method string) string {
	return fmt.Sprintf("%s:invoke:%s", prefix, method)
}

// EventName extracts the event name from a channel built by EventChannel.
func EventName(prefix, channel string) (string, bool) {
	name, ok := strings.CutPrefix(channel, prefix+":events:")
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}
