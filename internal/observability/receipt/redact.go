package receipt

import (
	"strings"

	"github.com/mcptrust/execgate/internal/audit"
)

// sensitiveFlags are flags whose values never reach a receipt.
var sensitiveFlags = map[string]bool{
	"token":          true,
	"bypass-token":   true,
	"api-key":        true,
	"apikey":         true,
	"password":       true,
	"secret":         true,
	"postgres-dsn":   true,
	"redis-password": true,
	"credential":     true,
	"private-key":    true,
}

const redactedValue = "[REDACTED]"

// RedactArgs scrubs sensitive flag values and secret-looking arguments.
// It reports whether anything was replaced.
func RedactArgs(args []string) ([]string, bool) {
	if len(args) == 0 {
		return args, false
	}
	out := make([]string, len(args))
	redacted := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if eq := strings.Index(arg, "="); eq > 0 && strings.HasPrefix(arg, "-") {
			if sensitiveFlags[flagName(arg[:eq])] || audit.IsSensitiveValue(arg[eq+1:]) {
				out[i] = arg[:eq+1] + redactedValue
				redacted = true
				continue
			}
			out[i] = arg
			continue
		}

		if strings.HasPrefix(arg, "-") && sensitiveFlags[flagName(arg)] && i+1 < len(args) {
			out[i] = arg
			i++
			out[i] = redactedValue
			redacted = true
			continue
		}

		if audit.IsSensitiveValue(arg) {
			out[i] = redactedValue
			redacted = true
			continue
		}
		out[i] = arg
	}
	return out, redacted
}

func flagName(s string) string {
	return strings.ToLower(strings.TrimLeft(s, "-"))
}
