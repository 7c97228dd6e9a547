package relay

import (
	"slices"

	"warelay/internal/domain"
)

// ShouldForward reports whether env passes the group whitelist. An empty
// whitelist disables filtering, and direct chats always pass. Group names are
// matched exactly.
func ShouldForward(env *domain.MessageEnvelope, whitelist []string) bool {
	if len(whitelist) == 0 || !env.IsGroup {
		return true
	}
	if env.GroupName == nil {
		return false
	}
	return slices.Contains(whitelist, *env.GroupName)
}
