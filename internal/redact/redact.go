// Package redact keeps secrets out of log lines while preserving enough
// context (presence, e-mail domain) to debug session problems.
package redact

import "strings"

// Presence reports whether a secret is set without revealing it.
func Presence(secret string) string {
	if secret == "" {
		return "absent"
	}
	return "present"
}

// Email masks the local part of an address: "foobar@example.com" becomes
// "fo***@example.com". Anything that is not exactly one '@' becomes "***".
func Email(s string) string {
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	i := strings.IndexByte(s, '@')
	local, domain := s[:i], s[i+1:]

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}
