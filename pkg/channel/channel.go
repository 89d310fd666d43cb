// Package channel holds the pieces shared by the transport adapters under
// pkg/channel/*.
package channel

import "strings"

const messagePreviewLimit = 240

// AllowList restricts which senders reach the bot. An empty list allows
// everyone.
type AllowList map[string]struct{}

// NewAllowList normalizes allow_from values into a lookup set.
func NewAllowList(allowFrom []string) AllowList {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(AllowList, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// Allows reports whether any of ids is permitted. Adapters pass both the
// numeric id and the username so either can be listed.
func (a AllowList) Allows(ids ...string) bool {
	if len(a) == 0 {
		return true
	}

	for _, id := range ids {
		if _, ok := a[strings.TrimSpace(id)]; ok {
			return true
		}
	}

	return false
}

// Preview returns a bounded log-safe preview of message text.
func Preview(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}
