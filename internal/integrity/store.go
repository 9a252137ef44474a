package integrity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mcptrust/execgate/internal/models"
)

// baselineFileVersion is written into saved baseline files.
const baselineFileVersion = "1"

type baselineFile struct {
	Version   string                     `json:"version"`
	Baselines []models.IntegrityBaseline `json:"baselines"`
}

// SaveBaselines writes the baseline store as JSON.
func (g *Guardian) SaveBaselines(path string) error {
	data, err := json.MarshalIndent(baselineFile{
		Version:   baselineFileVersion,
		Baselines: g.Baselines(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal baselines: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create baseline directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write baselines: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write baselines: %w", err)
	}
	return nil
}

// LoadBaselines replaces the baseline store with the file's contents.
func (g *Guardian) LoadBaselines(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read baselines: %w", err)
	}
	var f baselineFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse baselines: %w", err)
	}
	if f.Version != baselineFileVersion {
		return fmt.Errorf("unsupported baseline file version %q", f.Version)
	}

	loaded := make(map[string]models.IntegrityBaseline, len(f.Baselines))
	for _, b := range f.Baselines {
		if b.Path == "" || b.Hash == "" {
			return fmt.Errorf("baseline entry missing path or hash")
		}
		loaded[filepath.Clean(b.Path)] = b
	}

	g.mu.Lock()
	g.baselines = loaded
	g.mu.Unlock()
	return nil
}
