package integrity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func setup(t *testing.T) (*Guardian, *eventbus.MemoryBus, string) {
	t.Helper()
	dir := t.TempDir()
	bus := eventbus.NewMemoryBus(0)
	g := NewGuardian(eventbus.NewEmitter(nil, bus), nil)
	path := filepath.Join(dir, "kernel.js")
	writeFile(t, path, "module.exports = {}")
	if _, err := g.RecordBaseline(context.Background(), path); err != nil {
		t.Fatalf("RecordBaseline: %v", err)
	}
	return g, bus, path
}

func TestVerify_Clean(t *testing.T) {
	g, bus, _ := setup(t)
	r := g.Verify(context.Background())
	if !r.Valid || r.Checked != 1 || len(r.Violations) != 0 {
		t.Errorf("report = %+v", r)
	}
	if bus.Count(eventbus.TypeTamperDetected) != 0 {
		t.Error("tamper event published for clean verify")
	}
}

func TestVerify_Modified(t *testing.T) {
	g, bus, path := setup(t)
	writeFile(t, path, "module.exports = { evil: true }")

	r := g.Verify(context.Background())
	if r.Valid || len(r.Violations) != 1 {
		t.Fatalf("report = %+v", r)
	}
	v := r.Violations[0]
	if v.Type != models.ViolationModified || v.ExpectedHash == v.ActualHash || v.ActualHash == "" {
		t.Errorf("violation = %+v", v)
	}
	if bus.Count(eventbus.TypeTamperDetected) != 1 {
		t.Error("expected one tamper event")
	}
	if len(g.Violations()) != 1 {
		t.Errorf("violation log = %d", len(g.Violations()))
	}
}

func TestVerify_Deleted(t *testing.T) {
	g, _, path := setup(t)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	r := g.Verify(context.Background())
	if len(r.Violations) != 1 || r.Violations[0].Type != models.ViolationDeleted {
		t.Fatalf("report = %+v", r)
	}
	if r.Violations[0].ActualHash != "" {
		t.Errorf("deleted file has actual hash %q", r.Violations[0].ActualHash)
	}
}

func TestUpdateBaseline_ClearsFutureDetections(t *testing.T) {
	g, _, path := setup(t)
	writeFile(t, path, "changed")
	if r := g.Verify(context.Background()); r.Valid {
		t.Fatal("expected violation before update")
	}
	if err := g.UpdateBaseline(path); err != nil {
		t.Fatalf("UpdateBaseline: %v", err)
	}
	if r := g.Verify(context.Background()); !r.Valid {
		t.Errorf("violations after update: %+v", r.Violations)
	}
	// The log is append-only.
	if len(g.Violations()) != 1 {
		t.Errorf("violation log = %d, want 1", len(g.Violations()))
	}
}

func TestUpdateBaseline_DeletedFileDropsBaseline(t *testing.T) {
	g, _, path := setup(t)
	os.Remove(path)
	if err := g.UpdateBaseline(path); err != nil {
		t.Fatal(err)
	}
	if len(g.Baselines()) != 0 {
		t.Error("baseline kept for deleted file")
	}
	if err := g.UpdateBaseline(path); err == nil {
		t.Error("unknown unreadable path should error")
	}
}

func TestDetectMutations_NewFile(t *testing.T) {
	g, _, path := setup(t)
	extra := filepath.Join(filepath.Dir(path), "plugin.js")
	writeFile(t, extra, "x")

	found := g.DetectMutations(context.Background(), []string{path, extra})
	if len(found) != 1 || found[0].Type != models.ViolationNew || found[0].Path != extra {
		t.Errorf("found = %+v", found)
	}

	missing := filepath.Join(filepath.Dir(path), "never.js")
	if found := g.DetectMutations(context.Background(), []string{missing}); len(found) != 0 {
		t.Errorf("unknown missing file reported: %+v", found)
	}
}

func TestInspect_HasNoSideEffects(t *testing.T) {
	g, bus, path := setup(t)
	writeFile(t, path, "changed")
	for i := 0; i < 3; i++ {
		if got := g.Inspect(context.Background()); len(got) != 1 {
			t.Fatalf("Inspect = %d violations", len(got))
		}
	}
	if len(g.Violations()) != 0 || bus.Count(eventbus.TypeTamperDetected) != 0 {
		t.Error("Inspect mutated state")
	}
}

func TestRecordBaseline_UnreadableSkipped(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good")
	writeFile(t, good, "ok")
	missing := filepath.Join(dir, "missing")
	rec := logging.NewRecorder()
	g := NewGuardian(nil, rec)

	recorded, err := g.RecordBaseline(context.Background(), good, missing)
	if err != nil {
		t.Fatalf("unreadable file should not fail: %v", err)
	}
	if len(recorded) != 1 || len(g.Baselines()) != 1 || recorded[0].Path != good {
		t.Errorf("recorded = %+v", recorded)
	}
	warns := rec.Entries(logging.LevelWarn)
	if len(warns) != 1 || warns[0].Fields["path"] != missing {
		t.Errorf("warnings = %+v", warns)
	}
}

func TestRecordBaseline_Cancelled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	writeFile(t, path, "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGuardian(nil, nil)
	if _, err := g.RecordBaseline(ctx, path); err == nil {
		t.Error("expected context error")
	}
	if len(g.Baselines()) != 0 {
		t.Error("cancelled record should store nothing")
	}
}

func TestViolationsSince(t *testing.T) {
	g, _, path := setup(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }
	writeFile(t, path, "changed")
	g.DetectMutations(context.Background(), nil)

	if n := g.ViolationsSince(base.Add(-time.Minute)); n != 1 {
		t.Errorf("since before = %d", n)
	}
	if n := g.ViolationsSince(base.Add(time.Minute)); n != 0 {
		t.Errorf("since after = %d", n)
	}
}

func TestSaveLoadBaselines(t *testing.T) {
	g, _, path := setup(t)
	store := filepath.Join(t.TempDir(), "state", "baselines.json")
	if err := g.SaveBaselines(store); err != nil {
		t.Fatalf("SaveBaselines: %v", err)
	}

	g2 := NewGuardian(nil, nil)
	if err := g2.LoadBaselines(store); err != nil {
		t.Fatalf("LoadBaselines: %v", err)
	}
	if len(g2.Baselines()) != 1 || g2.Baselines()[0].Path != path {
		t.Fatalf("baselines = %+v", g2.Baselines())
	}

	writeFile(t, path, "tampered")
	if r := g2.Verify(context.Background()); r.Valid {
		t.Error("loaded guardian missed modification")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	writeFile(t, bad, `{"version":"99","baselines":[]}`)
	if err := g2.LoadBaselines(bad); err == nil {
		t.Error("expected version error")
	}
}
