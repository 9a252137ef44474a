package audit

import (
	"regexp"
	"strings"
)

// MaxValueLength caps string values stored in audit payloads.
const MaxValueLength = 2048

const redactedValue = "[REDACTED]"

// sensitiveKeys are payload keys whose values are always redacted.
var sensitiveKeys = map[string]bool{
	"token":         true,
	"bypass_token":  true,
	"bypasstoken":   true,
	"password":      true,
	"secret":        true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"credential":    true,
	"credentials":   true,
	"private_key":   true,
	"access_token":  true,
	"refresh_token": true,
}

// sensitivePrefixes are value prefixes indicating secrets.
var sensitivePrefixes = []string{
	"sk-",         // OpenAI, Stripe
	"ghp_",        // GitHub PAT
	"github_pat_", // GitHub fine-grained PAT
	"xoxb-",       // Slack bot
	"xoxp-",       // Slack user
	"AKIA",        // AWS access key
	"ya29.",       // Google OAuth
	"AIza",        // Google API key
	"npm_",        // npm token
}

var jwtRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}$`)

var longSecretRegex = regexp.MustCompile(`^[A-Za-z0-9+/=_-]{32,}$`)

// Redact returns a scrubbed deep copy of payload and whether anything was
// redacted. Long strings are truncated.
func Redact(payload map[string]any) (map[string]any, bool) {
	if payload == nil {
		return nil, false
	}
	out, redacted := redactValue("", payload)
	return out.(map[string]any), redacted
}

func redactValue(key string, v any) (any, bool) {
	if sensitiveKeys[strings.ToLower(key)] {
		return redactedValue, true
	}
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		found := false
		for k, inner := range val {
			r, changed := redactValue(k, inner)
			out[k] = r
			found = found || changed
		}
		return out, found
	case []any:
		out := make([]any, len(val))
		found := false
		for i, inner := range val {
			r, changed := redactValue("", inner)
			out[i] = r
			found = found || changed
		}
		return out, found
	case []string:
		out := make([]any, len(val))
		found := false
		for i, s := range val {
			r, changed := redactValue("", s)
			out[i] = r
			found = found || changed
		}
		return out, found
	case string:
		if IsSensitiveValue(val) {
			return redactedValue, true
		}
		return truncate(val), false
	default:
		return v, false
	}
}

// IsSensitiveValue reports whether value looks like a credential.
func IsSensitiveValue(value string) bool {
	for _, prefix := range sensitivePrefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	if jwtRegex.MatchString(value) {
		return true
	}
	// Paths, URLs and source code contain '/' or '.', skip them.
	if len(value) >= 32 && !strings.ContainsAny(value, "/. \n") {
		return longSecretRegex.MatchString(value)
	}
	return false
}

func truncate(s string) string {
	if len(s) <= MaxValueLength {
		return s
	}
	return s[:MaxValueLength-3] + "..."
}
