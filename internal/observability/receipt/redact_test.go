package receipt

import "testing"

func TestRedactArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		want     []string
		redacted bool
	}{
		{"bypass token spaced", []string{"--bypass-token", "hunter2"}, []string{"--bypass-token", "[REDACTED]"}, true},
		{"bypass token equals", []string{"--bypass-token=hunter2"}, []string{"--bypass-token=[REDACTED]"}, true},
		{"postgres dsn", []string{"--postgres-dsn", "postgres://u:p@db/x"}, []string{"--postgres-dsn", "[REDACTED]"}, true},
		{"secret-looking value", []string{"--model", "sk-abc123"}, []string{"--model", "[REDACTED]"}, true},
		{"secret positional", []string{"ghp_abcdefghijklmnop"}, []string{"[REDACTED]"}, true},
		{"plain flags", []string{"--tenant", "acme", "--context=sandbox"}, []string{"--tenant", "acme", "--context=sandbox"}, false},
		{"paths kept", []string{"./scripts/job.js"}, []string{"./scripts/job.js"}, false},
		{"equals in positional", []string{"a=b"}, []string{"a=b"}, false},
		{"empty", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, redacted := RedactArgs(tt.args)
			if redacted != tt.redacted {
				t.Errorf("redacted = %v, want %v", redacted, tt.redacted)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("arg[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
