package patreon

import "strings"

const DefaultRedirectPath = "/account"

// SanitizeRedirectPath only lets same-origin absolute paths through.
// Anything else, including protocol-relative and backslash tricks, falls back
// to DefaultRedirectPath.
func SanitizeRedirectPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return DefaultRedirectPath
	}
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return DefaultRedirectPath
	}
	if strings.ContainsAny(raw, "\r\n\t\\") {
		return DefaultRedirectPath
	}
	return raw
}
