package rulebook

import (
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed presets/*.yaml
var presetFS embed.FS

// presetFiles maps preset names to embedded file paths
var presetFiles = map[string]string{
	"default": "presets/default.yaml",
	"strict":  "presets/strict.yaml",
}

// Preset is a named rule list.
type Preset struct {
	Name      string   `yaml:"name"`
	Rules     []Rule   `yaml:"rules"`
	Allowlist []string `yaml:"allowlist,omitempty"`
}

// GetPreset loads a built-in preset.
func GetPreset(name string) (*Preset, error) {
	path, ok := presetFiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown rulebook preset %q (available: %v)", name, PresetNames())
	}
	data, err := presetFS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset %q: %w", name, err)
	}
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse preset %q: %w", name, err)
	}
	return &p, nil
}

// PresetNames returns the built-in preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presetFiles))
	for name := range presetFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
