package logging

import "strings"

const redacted = "[REDACTED]"

// sensitiveKeyParts mark field names whose values never reach a log line.
var sensitiveKeyParts = []string{"api_key", "apikey", "token", "password", "secret", "dsn", "credential", "private_key"}

func sensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

// scrub returns fields with sensitive values masked. The input map is not
// modified.
func scrub(fields map[string]any) map[string]any {
	var out map[string]any
	for k := range fields {
		if !sensitiveKey(k) {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(fields))
			for k2, v := range fields {
				out[k2] = v
			}
		}
		out[k] = redacted
	}
	if out == nil {
		return fields
	}
	return out
}

// kvToMap folds alternating key/value pairs; non-string keys are dropped.
func kvToMap(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			m[key] = kv[i+1]
		}
	}
	return m
}
