// Package redact strips secrets from error messages, headers and structured
// log fields before they are surfaced or persisted.
package redact

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
)

// Marker replaces every redacted value.
const Marker = "[REDACTED]"

var (
	bearerPattern    = regexp.MustCompile(`(?i)\b(bearer)(\s+)[^\s"',;]+`)
	secretKeyPattern = regexp.MustCompile(`(^|[^A-Za-z0-9])sk_[^\s"',;]+`)
)

// sensitiveFields holds normalized field names (lowercase, no separators)
// whose values are never logged.
var sensitiveFields = map[string]struct{}{
	"accesstoken":       {},
	"apikey":            {},
	"authorization":     {},
	"bearer":            {},
	"clientsecret":      {},
	"hmacsecret":        {},
	"mnemonic":          {},
	"password":          {},
	"privatekey":        {},
	"privkey":           {},
	"refreshtoken":      {},
	"secret":            {},
	"seed":              {},
	"seedphrase":        {},
	"sessionprivatekey": {},
	"token":             {},
}

var redactHeaderKeys = []string{
	"Authorization",
	"Cookie",
	"Set-Cookie",
	"X-API-Key",
	"X-Keyring-Signature",
}

// Message replaces bearer tokens and sk_ shaped secrets in s.
func Message(s string) string {
	if s == "" {
		return s
	}
	s = bearerPattern.ReplaceAllString(s, "${1}${2}"+Marker)
	s = secretKeyPattern.ReplaceAllString(s, "${1}"+Marker)
	return s
}

// Error returns the sanitized message of err, including every message found
// along its cause chain that is not already part of the top-level text.
func Error(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		if text := cause.Error(); !strings.Contains(msg, text) {
			msg += ": " + text
		}
	}
	return Message(msg)
}

// IsSensitiveField reports whether values stored under name must be redacted.
func IsSensitiveField(name string) bool {
	normalized := strings.NewReplacer("_", "", "-", "", ".", "", " ", "").Replace(strings.ToLower(name))
	_, ok := sensitiveFields[normalized]
	return ok
}

// Fields returns a deep copy of in with sensitive values replaced by Marker
// and every string value passed through Message.
func Fields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		if IsSensitiveField(key) {
			out[key] = Marker
			continue
		}
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return Fields(v)
	case []any:
		items := make([]any, len(v))
		for i := range v {
			items[i] = cloneValue(v[i])
		}
		return items
	case []string:
		items := make([]string, len(v))
		for i := range v {
			items[i] = Message(v[i])
		}
		return items
	case string:
		return Message(v)
	case error:
		return Error(v)
	default:
		return v
	}
}

func isHeaderInList(key string, keys []string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	for _, k := range keys {
		if strings.ToLower(k) == lower {
			return true
		}
	}
	return false
}

func redactHeaderValue(key, value string) string {
	if strings.EqualFold(key, "Authorization") {
		parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
		if len(parts) == 2 && parts[0] != "" {
			return parts[0] + " " + Marker
		}
	}
	return Marker
}

// Headers returns a copy of h with sensitive values replaced by Marker.
func Headers(h http.Header) http.Header {
	if h == nil {
		return nil
	}

	out := make(http.Header, len(h))
	for key, values := range h {
		copied := make([]string, len(values))
		for i := range values {
			if isHeaderInList(key, redactHeaderKeys) {
				copied[i] = redactHeaderValue(key, values[i])
			} else {
				copied[i] = values[i]
			}
		}
		out[key] = copied
	}
	return out
}
