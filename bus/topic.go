package bus

import (
	"fmt"
	"strings"
)

// TopicPrefix namespaces every room topic so trivir traffic cannot collide
// with other applications sharing the same message bus.
const TopicPrefix = "trivir/room/"

// Topic derives the pub/sub topic for a room code: trim, lowercase, collapse
// every internal whitespace run to a single hyphen. Two room codes that
// normalize identically map to the same topic, no matter who derives it.
func Topic(roomCode string) (string, error) {
	normalized := strings.Join(strings.Fields(strings.ToLower(roomCode)), "-")
	if normalized == "" {
		return "", fmt.Errorf("room code %q normalizes to nothing", roomCode)
	}
	return TopicPrefix + normalized, nil
}
