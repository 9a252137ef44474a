package logging

import "fmt"

// Config selects the log format, threshold and destination.
type Config struct {
	Format string `yaml:"format"` // jsonl | pretty | none
	Level  string `yaml:"level"`
	Output string `yaml:"output"` // stderr, stdout or a file path
}

func DefaultConfig() Config {
	return Config{
		Format: FormatPretty,
		Level:  LevelInfo,
		Output: "stderr",
	}
}

const (
	FormatJSONL  = "jsonl"
	FormatPretty = "pretty"
	FormatNone   = "none"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var levels = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// levelPriority maps unknown levels to info.
func levelPriority(level string) int {
	if p, ok := levels[level]; ok {
		return p
	}
	return levels[LevelInfo]
}

func (c Config) Validate() error {
	switch c.Format {
	case FormatJSONL, FormatPretty, FormatNone, "":
	default:
		return fmt.Errorf("logging.format must be %s, %s or %s, got %q", FormatJSONL, FormatPretty, FormatNone, c.Format)
	}
	if _, ok := levels[c.Level]; !ok && c.Level != "" {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Level)
	}
	return nil
}
