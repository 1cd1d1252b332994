package bedrock

import (
	"crypto/sha256"
	"encoding/hex"
)

// SanitizeToolName maps a tool identifier to a Bedrock-compatible tool name.
//
// Bedrock restricts tool names to [a-zA-Z0-9_-]+ with at most 64 characters,
// and the name surfaced to the model must match the name registered in the
// tool configuration. The mapping is deterministic: disallowed runes are
// replaced with '_', and over-long names are truncated with a stable hash
// suffix to preserve uniqueness. The adapter keeps a per-request reverse map
// so tool_use blocks coming back from the model are translated to their
// original identifiers.
func SanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	const maxLen = 64
	const hashLen = 8

	allowed := true
	for _, r := range in {
		if !isAllowedToolNameRune(r) {
			allowed = false
			break
		}
	}

	sanitized := in
	if !allowed {
		out := make([]rune, 0, len(in))
		for _, r := range in {
			if isAllowedToolNameRune(r) {
				out = append(out, r)
			} else {
				out = append(out, '_')
			}
		}
		sanitized = string(out)
	}

	if len(sanitized) <= maxLen {
		return sanitized
	}

	// Truncate and append a stable hash suffix to keep names within Bedrock's
	// documented 64-character limit while preserving uniqueness.
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	prefixLen := maxLen - (1 + hashLen)
	return sanitized[:prefixLen] + "_" + suffix
}

func isAllowedToolNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_', r == '-':
		return true
	}
	return false
}

// canonicalToolName translates a provider-visible tool name back to the
// identifier the tool was registered under. Unknown names pass through
// unchanged so callers surface them verbatim in error results.
func canonicalToolName(provider string, sanToCanon map[string]string) string {
	if canonical, ok := sanToCanon[provider]; ok {
		return canonical
	}
	return provider
}
