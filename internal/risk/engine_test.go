package risk

import (
	"context"
	"testing"
	"time"

	"github.com/mcptrust/execgate/internal/models"
)

type fakeHealth struct {
	snap       models.HealthSnapshot
	prediction int
	panics     bool
}

func (f *fakeHealth) Latest() models.HealthSnapshot {
	if f.panics {
		panic("sampler broken")
	}
	return f.snap
}

func (f *fakeHealth) Predict(ctx context.Context) models.DegradationPrediction {
	return models.DegradationPrediction{Score: f.prediction, Risk: models.RiskLevelLow}
}

type fakeIntegrity struct{ n int }

func (f *fakeIntegrity) Inspect(ctx context.Context) []models.IntegrityViolation {
	return make([]models.IntegrityViolation, f.n)
}

type fakeViolations struct{ n int }

func (f fakeViolations) ViolationsSince(t time.Time) int { return f.n }

func TestScore_Weighted(t *testing.T) {
	tests := []struct {
		name       string
		health     *fakeHealth
		integrity  int
		violations int
		wantScore  int
		wantLevel  models.RiskLevel
	}{
		{"all clear", &fakeHealth{}, 0, 0, 0, models.RiskLevelLow},
		// integrity 2*25=50 at weight 25 -> 12.5 -> 13
		{"two integrity violations", &fakeHealth{}, 2, 0, 13, models.RiskLevelLow},
		// violations 3*20=60 at 20 -> 12; integrity 100 at 25 -> 25; total 37
		{"integrity and violations", &fakeHealth{}, 4, 3, 37, models.RiskLevelMedium},
		// health 100*0.3 + prediction 100*0.25 + integrity 25 + violations 20
		{"everything bad", &fakeHealth{snap: models.HealthSnapshot{CPULoad: 5, HeapRatio: 0.95, RSSRatio: 0.9}, prediction: 100}, 10, 10, 100, models.RiskLevelCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(tt.health, &fakeIntegrity{n: tt.integrity}, DefaultWeights(), nil, fakeViolations{n: tt.violations})
			got := e.Score(context.Background())
			if got.Score != tt.wantScore || got.Level != tt.wantLevel {
				t.Errorf("Score = %d/%s, want %d/%s", got.Score, got.Level, tt.wantScore, tt.wantLevel)
			}
			if len(got.Factors) != 4 {
				t.Errorf("factors = %d, want 4", len(got.Factors))
			}
			if got.Recommendation == "" {
				t.Error("missing recommendation")
			}
		})
	}
}

func TestScore_RenormalizesMissingFactors(t *testing.T) {
	// Only integrity: 4 violations -> 100, weight 25 of 25.
	e := NewEngine(nil, &fakeIntegrity{n: 4}, DefaultWeights(), nil)
	if got := e.Score(context.Background()); got.Score != 100 || len(got.Factors) != 1 {
		t.Errorf("got %d with %d factors", got.Score, len(got.Factors))
	}

	// A panicking health source drops the health factor but keeps prediction.
	e = NewEngine(&fakeHealth{panics: true, prediction: 40}, nil, DefaultWeights(), nil)
	got := e.Score(context.Background())
	if got.Score != 40 || len(got.Factors) != 1 || got.Factors[0].Name != FactorPrediction {
		t.Errorf("got %+v", got)
	}

	e = NewEngine(nil, nil, DefaultWeights(), nil)
	if got := e.Score(context.Background()); got.Score != 0 || got.Level != models.RiskLevelLow {
		t.Errorf("empty engine = %+v", got)
	}
}

func TestScore_StableAcrossCalls(t *testing.T) {
	e := NewEngine(&fakeHealth{snap: models.HealthSnapshot{CPULoad: 3}, prediction: 25}, &fakeIntegrity{n: 1}, DefaultWeights(), nil, fakeViolations{n: 1})
	a := e.Score(context.Background())
	b := e.Score(context.Background())
	if a.Level != b.Level || a.Score != b.Score {
		t.Errorf("scores drifted: %d/%s vs %d/%s", a.Score, a.Level, b.Score, b.Level)
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score int
		want  models.RiskLevel
	}{
		{0, models.RiskLevelLow},
		{24, models.RiskLevelLow},
		{25, models.RiskLevelMedium},
		{49, models.RiskLevelMedium},
		{50, models.RiskLevelHigh},
		{74, models.RiskLevelHigh},
		{75, models.RiskLevelCritical},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.score); got != tt.want {
			t.Errorf("LevelFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestHistoryBounded(t *testing.T) {
	e := NewEngine(nil, &fakeIntegrity{}, DefaultWeights(), nil)
	for i := 0; i < HistorySize+20; i++ {
		e.Score(context.Background())
	}
	if n := len(e.History()); n != HistorySize {
		t.Errorf("history = %d, want %d", n, HistorySize)
	}
}

func TestTrend(t *testing.T) {
	seq := func(scores ...int) *Engine {
		e := NewEngine(nil, nil, DefaultWeights(), nil)
		for _, s := range scores {
			e.history = append(e.history, models.RiskScore{Score: s})
		}
		return e
	}
	tests := []struct {
		name string
		e    *Engine
		want models.Trend
	}{
		{"too few", seq(90, 10, 90), models.TrendStable},
		{"no prior window", seq(10, 10, 10, 10, 10), models.TrendStable},
		{"degrading", seq(10, 10, 10, 10, 10, 30, 30, 30, 30, 30), models.TrendDegrading},
		{"improving", seq(60, 60, 60, 60, 60, 40, 40, 40, 40, 50), models.TrendImproving},
		{"small change", seq(20, 20, 20, 20, 20, 25, 25, 25, 25, 25), models.TrendStable},
		{"exactly ten up", seq(0, 0, 0, 0, 0, 10, 10, 10, 10, 10), models.TrendDegrading},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.e.Trend(); got != tt.want {
				t.Errorf("Trend = %s, want %s", got, tt.want)
			}
		})
	}
}
