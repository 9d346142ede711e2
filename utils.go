package pgkit

import (
	"regexp"
	"strings"
)

var (
	urlPasswordRe = regexp.MustCompile(`(://[^:/?#@]*:)([^@]+)(@)`)
	kvPasswordRe  = regexp.MustCompile(`(password=)(\S+)`)
)

// maskDSN replaces every password character in a connection string with a
// masking symbol, for safe inclusion in connection-related error events.
// Handles both URL-style and key/value DSNs.
func maskDSN(dsn string) string {
	if m := urlPasswordRe.FindStringSubmatch(dsn); m != nil {
		masked := m[1] + strings.Repeat("#", len(m[2])) + m[3]
		return strings.Replace(dsn, m[0], masked, 1)
	}
	if m := kvPasswordRe.FindStringSubmatch(dsn); m != nil {
		masked := m[1] + strings.Repeat("#", len(m[2]))
		return strings.Replace(dsn, m[0], masked, 1)
	}
	return dsn
}
