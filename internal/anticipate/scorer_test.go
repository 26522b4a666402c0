package anticipate

import (
	"math"
	"testing"
	"time"

	"github.com/lazypower/foresight/internal/models"
)

var now = time.Date(2026, 3, 3, 9, 15, 0, 0, time.UTC) // Tuesday 09:15

func TestContextGateRanksMatchingHigher(t *testing.T) {
	s := New(DefaultConfig())
	last := now.Add(-time.Hour)
	cands := []Candidate{
		{ContentID: "b-other", LastAccessAt: last, Context: models.ContextFrame{Activity: "cooking"}},
		{ContentID: "a-match", LastAccessAt: last, Context: models.ContextFrame{Activity: "coding"}},
	}

	res := s.Rank(now, models.ContextFrame{Activity: "coding"}, cands, nil, 10)
	if len(res) == 0 || res[0].ContentID != "a-match" {
		t.Fatalf("results = %+v, want a-match first", res)
	}
	for i := 1; i < len(res); i++ {
		if res[i].Score >= res[0].Score {
			t.Errorf("%s score %.3f not strictly below match %.3f", res[i].ContentID, res[i].Score, res[0].Score)
		}
	}
}

func TestGateHardSuppression(t *testing.T) {
	s := New(DefaultConfig())
	cands := []Candidate{
		// Very recent and on a strong pattern, but in the wrong context.
		{ContentID: "hot-wrong-context", LastAccessAt: now, Context: models.ContextFrame{Location: "gym"}},
	}
	patterns := []models.Pattern{{
		PeriodHours: 24, Type: models.PatternDaily, Confidence: 1, PeakTimes: []int{9},
		ContentIDs: []string{"hot-wrong-context"},
	}}
	res := s.Rank(now, models.ContextFrame{Location: "office"}, cands, patterns, 10)
	if len(res) != 0 {
		t.Errorf("results = %+v, want suppressed", res)
	}
}

func TestFactorBreakdownAndWeightedSum(t *testing.T) {
	cfg := DefaultConfig()
	s := New(cfg)
	last := now.Add(-7 * 24 * time.Hour) // one half-life
	cands := []Candidate{{ContentID: "c1", LastAccessAt: last}}
	patterns := []models.Pattern{{
		PeriodHours: 24, Type: models.PatternDaily, Confidence: 0.8, PeakTimes: []int{9},
		ContentIDs: []string{"c1"},
	}}

	res := s.Rank(now, models.ContextFrame{}, cands, patterns, 1)
	if len(res) != 1 {
		t.Fatalf("len = %d", len(res))
	}
	f := res[0].Factors
	if math.Abs(f.Temporal-0.8) > 1e-9 {
		t.Errorf("Temporal = %v, want 0.8", f.Temporal)
	}
	if math.Abs(f.Recency-0.5) > 1e-9 {
		t.Errorf("Recency = %v, want 0.5", f.Recency)
	}
	if f.ContextGate != 1 {
		t.Errorf("ContextGate = %v, want 1 for empty current context", f.ContextGate)
	}
	want := 0.4*0.8 + 0.3*1 + 0.3*0.5
	if math.Abs(res[0].Score-want) > 1e-9 {
		t.Errorf("Score = %v, want %v", res[0].Score, want)
	}
}

func TestTemporalTypeWeightsAndTolerance(t *testing.T) {
	s := New(DefaultConfig())
	patterns := []models.Pattern{
		{PeriodHours: 168, Type: models.PatternWeekly, Confidence: 1, PeakTimes: []int{24 + 10}, ContentIDs: []string{"w"}},
		{PeriodHours: 720, Type: models.PatternMonthly, Confidence: 1, PeakTimes: []int{0}, ContentIDs: []string{"m"}},
		{PeriodHours: 24, Type: models.PatternDaily, Confidence: 0.9, PeakTimes: []int{15}, ContentIDs: []string{"far"}},
	}
	// Tuesday 09:15 is phase 33 of the week; peak 34 is within 1h.
	if got := s.Temporal(now, "w", patterns); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("weekly temporal = %v, want 0.8", got)
	}
	if got := s.Temporal(now, "far", patterns); got != 0 {
		t.Errorf("off-peak temporal = %v, want 0", got)
	}
	if got := s.Temporal(now, "unrelated", patterns); got != 0 {
		t.Errorf("unassociated temporal = %v, want 0", got)
	}
}

func TestDailyOutweighsWeekly(t *testing.T) {
	s := New(DefaultConfig())
	patterns := []models.Pattern{
		{PeriodHours: 24, Type: models.PatternDaily, Confidence: 0.7, PeakTimes: []int{9}, ContentIDs: []string{"d"}},
		{PeriodHours: 168, Type: models.PatternWeekly, Confidence: 0.7, PeakTimes: []int{33}, ContentIDs: []string{"w"}},
	}
	cands := []Candidate{
		{ContentID: "w", LastAccessAt: now.Add(-time.Hour)},
		{ContentID: "d", LastAccessAt: now.Add(-time.Hour)},
	}
	res := s.Rank(now, models.ContextFrame{}, cands, patterns, 0)
	if res[0].ContentID != "d" {
		t.Errorf("order = %v, want daily first", []string{res[0].ContentID, res[1].ContentID})
	}
}

func TestTieBreaking(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = Weights{Context: 1} // recency ignored so scores tie
	s := New(cfg)
	cands := []Candidate{
		{ContentID: "b", LastAccessAt: now.Add(-2 * time.Hour)},
		{ContentID: "c", LastAccessAt: now.Add(-time.Hour)},
		{ContentID: "a", LastAccessAt: now.Add(-2 * time.Hour)},
	}
	res := s.Rank(now, models.ContextFrame{}, cands, nil, 0)
	got := []string{res[0].ContentID, res[1].ContentID, res[2].ContentID}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestTopN(t *testing.T) {
	s := New(DefaultConfig())
	var cands []Candidate
	for i := 0; i < 10; i++ {
		cands = append(cands, Candidate{ContentID: string(rune('a' + i)), LastAccessAt: now.Add(-time.Duration(i) * time.Hour)})
	}
	res := s.Rank(now, models.ContextFrame{}, cands, nil, 3)
	if len(res) != 3 {
		t.Fatalf("len = %d, want 3", len(res))
	}
	if res[0].ContentID != "a" {
		t.Errorf("first = %s, want most recent", res[0].ContentID)
	}
}

func TestContextSimilarity(t *testing.T) {
	tests := []struct {
		name            string
		current, stored models.ContextFrame
		want            float64
	}{
		{"empty current", models.ContextFrame{}, models.ContextFrame{Activity: "x"}, 1},
		{"activity match", models.ContextFrame{Activity: "Coding"}, models.ContextFrame{Activity: "coding"}, 1},
		{"activity mismatch", models.ContextFrame{Activity: "coding"}, models.ContextFrame{}, 0},
		{"partial", models.ContextFrame{Activity: "coding", Location: "home"}, models.ContextFrame{Activity: "coding", Location: "office"}, 0.4 / 0.7},
		{"people jaccard", models.ContextFrame{People: []string{"ana", "bo"}}, models.ContextFrame{People: []string{"bo", "cy"}}, 1.0 / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContextSimilarity(tt.current, tt.stored); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ContextSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecency(t *testing.T) {
	s := New(DefaultConfig())
	if got := s.Recency(now, now); got != 1 {
		t.Errorf("fresh = %v, want 1", got)
	}
	if got := s.Recency(now, now.Add(-14*24*time.Hour)); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("two half-lives = %v, want 0.25", got)
	}
	if got := s.Recency(now, time.Time{}); got != 0 {
		t.Errorf("never accessed = %v, want 0", got)
	}
}
