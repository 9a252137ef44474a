// Package integrity keeps SHA-256 baselines of tracked files and reports
// files that were modified, deleted or created since.
package integrity

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
)

const component = "integrity"

// hashWorkers bounds concurrent file hashing.
const hashWorkers = 8

// Report is the result of Verify.
type Report struct {
	Valid      bool                        `json:"valid"`
	Checked    int                         `json:"checked"`
	Violations []models.IntegrityViolation `json:"violations"`
	CheckedAt  time.Time                   `json:"checkedAt"`
}

// Guardian owns the baseline store and the violation log.
type Guardian struct {
	emitter *eventbus.Emitter
	log     logging.Logger
	now     func() time.Time

	mu         sync.RWMutex
	baselines  map[string]models.IntegrityBaseline
	violations []models.IntegrityViolation
}

func NewGuardian(emitter *eventbus.Emitter, log logging.Logger) *Guardian {
	return &Guardian{
		emitter:   emitter,
		log:       logging.OrNop(log),
		now:       time.Now,
		baselines: make(map[string]models.IntegrityBaseline),
	}
}

type fileHash struct {
	path string
	hash string
	size int64
	ok   bool
}

// HashFile returns "sha256:<hex>" of the file's content and its size.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), n, nil
}

// hashFile never fails: an unreadable file is reported as ok=false.
func hashFile(path string) fileHash {
	hash, size, err := HashFile(path)
	return fileHash{path: path, hash: hash, size: size, ok: err == nil}
}

func hashAll(ctx context.Context, paths []string) []fileHash {
	out := make([]fileHash, len(paths))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(hashWorkers)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			out[i] = hashFile(p)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func clean(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, filepath.Clean(p))
	}
	return out
}

// RecordBaseline hashes and stores each path. Files that cannot be read
// have no content to baseline: they are skipped with a warning. The only
// error is a cancelled context.
func (g *Guardian) RecordBaseline(ctx context.Context, paths ...string) ([]models.IntegrityBaseline, error) {
	hashes := hashAll(ctx, clean(paths))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := g.now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()
	var recorded []models.IntegrityBaseline
	for _, fh := range hashes {
		if !fh.ok {
			g.log.Warn(component, "skipping unreadable file", "path", fh.path)
			continue
		}
		b := models.IntegrityBaseline{Path: fh.path, Hash: fh.hash, Size: fh.size, RecordedAt: now}
		g.baselines[fh.path] = b
		recorded = append(recorded, b)
	}
	if len(recorded) > 0 {
		g.log.Info(component, "baseline recorded", "files", len(recorded))
	}
	return recorded, nil
}

// Baselines returns the baseline store sorted by path.
func (g *Guardian) Baselines() []models.IntegrityBaseline {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.IntegrityBaseline, 0, len(g.baselines))
	for _, b := range g.baselines {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (g *Guardian) trackedPaths() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	paths := make([]string, 0, len(g.baselines))
	for p := range g.baselines {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// compare classifies paths against the baseline without side effects.
func (g *Guardian) compare(ctx context.Context, paths []string) []models.IntegrityViolation {
	if paths == nil {
		paths = g.trackedPaths()
	} else {
		paths = clean(paths)
	}
	hashes := hashAll(ctx, paths)
	now := g.now().UTC()

	g.mu.RLock()
	defer g.mu.RUnlock()
	var found []models.IntegrityViolation
	for _, fh := range hashes {
		base, known := g.baselines[fh.path]
		switch {
		case known && !fh.ok:
			found = append(found, models.IntegrityViolation{
				Path: fh.path, ExpectedHash: base.Hash, Type: models.ViolationDeleted, DetectedAt: now,
			})
		case known && fh.hash != base.Hash:
			found = append(found, models.IntegrityViolation{
				Path: fh.path, ExpectedHash: base.Hash, ActualHash: fh.hash, Type: models.ViolationModified, DetectedAt: now,
			})
		case !known && fh.ok:
			found = append(found, models.IntegrityViolation{
				Path: fh.path, ActualHash: fh.hash, Type: models.ViolationNew, DetectedAt: now,
			})
		}
	}
	return found
}

// DetectMutations re-hashes paths (nil means every baselined path),
// appends findings to the violation log and publishes a tamper event if
// anything changed.
func (g *Guardian) DetectMutations(ctx context.Context, paths []string) []models.IntegrityViolation {
	found := g.compare(ctx, paths)
	if len(found) == 0 {
		return nil
	}

	g.mu.Lock()
	g.violations = append(g.violations, found...)
	g.mu.Unlock()

	files := make([]string, 0, len(found))
	for _, v := range found {
		files = append(files, v.Path)
	}
	g.log.Warn(component, "tamper detected", "violations", len(found), "files", files)
	g.emitter.Emit(ctx, eventbus.TypeTamperDetected, map[string]any{
		"count":      len(found),
		"files":      files,
		"violations": found,
	})
	return found
}

// Inspect reports current mismatches without logging or publishing them.
func (g *Guardian) Inspect(ctx context.Context) []models.IntegrityViolation {
	return g.compare(ctx, nil)
}

// Verify runs DetectMutations over every baselined path.
func (g *Guardian) Verify(ctx context.Context) Report {
	checked := len(g.trackedPaths())
	found := g.DetectMutations(ctx, nil)
	return Report{
		Valid:      len(found) == 0,
		Checked:    checked,
		Violations: found,
		CheckedAt:  g.now().UTC(),
	}
}

// UpdateBaseline accepts the current content of path as the new baseline.
// Callers are responsible for approving the change first. A path that no
// longer exists is dropped from the baseline.
func (g *Guardian) UpdateBaseline(path string) error {
	path = filepath.Clean(path)
	fh := hashFile(path)

	g.mu.Lock()
	defer g.mu.Unlock()
	if !fh.ok {
		if _, known := g.baselines[path]; !known {
			return fmt.Errorf("cannot read %s", path)
		}
		delete(g.baselines, path)
		g.log.Info(component, "baseline removed", "path", path)
		return nil
	}
	g.baselines[path] = models.IntegrityBaseline{Path: path, Hash: fh.hash, Size: fh.size, RecordedAt: g.now().UTC()}
	g.log.Info(component, "baseline updated", "path", path)
	return nil
}

// Violations returns the full violation log.
func (g *Guardian) Violations() []models.IntegrityViolation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]models.IntegrityViolation(nil), g.violations...)
}

// ViolationsSince counts logged violations detected at or after t.
func (g *Guardian) ViolationsSince(t time.Time) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, v := range g.violations {
		if !v.DetectedAt.Before(t) {
			n++
		}
	}
	return n
}
