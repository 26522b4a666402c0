// Package anticipate ranks stored content by how likely it is to be needed
// now, combining detected temporal patterns, recency, and context overlap.
package anticipate

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/foresight/internal/metrics"
	"github.com/lazypower/foresight/internal/models"
	"github.com/lazypower/foresight/internal/pattern"
)

// Weights are the coefficients of the final weighted sum.
type Weights struct {
	Temporal float64
	Context  float64
	Recency  float64
}

// Config tunes scoring.
type Config struct {
	Weights            Weights
	TypeWeights        map[models.PatternType]float64
	HalfLife           time.Duration
	GateThreshold      float64
	PeakToleranceHours int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{Temporal: 0.4, Context: 0.3, Recency: 0.3},
		TypeWeights: map[models.PatternType]float64{
			models.PatternDaily:   1.0,
			models.PatternWeekly:  0.8,
			models.PatternMonthly: 0.6,
			models.PatternCustom:  0.5,
		},
		HalfLife:           7 * 24 * time.Hour,
		GateThreshold:      0.3,
		PeakToleranceHours: 1,
	}
}

// Candidate is an item eligible for ranking.
type Candidate struct {
	ContentID    string
	LastAccessAt time.Time
	Context      models.ContextFrame
}

// CandidateFromContent builds a Candidate from a stored item.
func CandidateFromContent(c models.Content) Candidate {
	return Candidate{ContentID: c.ID, LastAccessAt: c.LastAccessAt, Context: c.Context}
}

// Scorer ranks candidates. It is stateless and safe for concurrent use.
type Scorer struct {
	cfg Config
}

// New returns a Scorer.
func New(cfg Config) *Scorer {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultConfig().HalfLife
	}
	if cfg.TypeWeights == nil {
		cfg.TypeWeights = DefaultConfig().TypeWeights
	}
	return &Scorer{cfg: cfg}
}

type ranked struct {
	models.PredictionResult
	lastAccess time.Time
}

// Rank scores every candidate at now against current and returns the top
// maxResults (all when maxResults <= 0). Candidates whose context gate falls
// under the threshold are dropped entirely. Ties break on most recent access,
// then content id.
func (s *Scorer) Rank(now time.Time, current models.ContextFrame, candidates []Candidate, patterns []models.Pattern, maxResults int) []models.PredictionResult {
	out := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		gate := ContextSimilarity(current, c.Context)
		if gate < s.cfg.GateThreshold {
			metrics.ScorerSuppressed.Inc()
			continue
		}
		f := models.Factors{
			Temporal:    s.Temporal(now, c.ContentID, patterns),
			Recency:     s.Recency(now, c.LastAccessAt),
			ContextGate: gate,
		}
		w := s.cfg.Weights
		out = append(out, ranked{
			PredictionResult: models.PredictionResult{
				ContentID: c.ContentID,
				Score:     w.Temporal*f.Temporal + w.Context*f.ContextGate + w.Recency*f.Recency,
				Factors:   f,
			},
			lastAccess: c.LastAccessAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].lastAccess.Equal(out[j].lastAccess) {
			return out[i].lastAccess.After(out[j].lastAccess)
		}
		return out[i].ContentID < out[j].ContentID
	})

	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	results := make([]models.PredictionResult, len(out))
	for i, r := range out {
		results[i] = r.PredictionResult
	}
	return results
}

// Temporal returns the strongest confidence x type weight among the item's
// patterns whose peak lies within tolerance of now's phase, or 0.
func (s *Scorer) Temporal(now time.Time, contentID string, patterns []models.Pattern) float64 {
	var best float64
	for i := range patterns {
		p := &patterns[i]
		if p.PeriodHours <= 0 || !p.HasContent(contentID) {
			continue
		}
		phase := pattern.Phase(now, p.PeriodHours)
		for _, peak := range p.PeakTimes {
			if pattern.PhaseDistance(phase, peak, p.PeriodHours) <= s.cfg.PeakToleranceHours {
				if v := p.Confidence * s.cfg.TypeWeights[p.Type]; v > best {
					best = v
				}
				break
			}
		}
	}
	return best
}

// Recency is exp(-age x ln2 / halfLife): 1 for a fresh access, 0.5 at one
// half-life. Future access times count as fresh.
func (s *Scorer) Recency(now, lastAccess time.Time) float64 {
	if lastAccess.IsZero() {
		return 0
	}
	age := now.Sub(lastAccess)
	if age <= 0 {
		return 1
	}
	return math.Exp(-age.Hours() * math.Ln2 / s.cfg.HalfLife.Hours())
}

// Field weights for context overlap.
const (
	activityWeight = 0.4
	locationWeight = 0.3
	peopleWeight   = 0.3
)

// ContextSimilarity scores the overlap of stored against current in [0, 1].
// Only fields set in current participate: activity and location match on
// case-insensitive equality, people by Jaccard index. An empty current frame
// cannot discriminate and scores 1.
func ContextSimilarity(current, stored models.ContextFrame) float64 {
	var total, matched float64
	if current.Activity != "" {
		total += activityWeight
		if strings.EqualFold(current.Activity, stored.Activity) {
			matched += activityWeight
		}
	}
	if current.Location != "" {
		total += locationWeight
		if strings.EqualFold(current.Location, stored.Location) {
			matched += locationWeight
		}
	}
	if len(current.People) > 0 {
		total += peopleWeight
		matched += peopleWeight * jaccard(current.People, stored.People)
	}
	if total == 0 {
		return 1
	}
	return matched / total
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[strings.ToLower(x)] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, x := range b {
		x = strings.ToLower(x)
		if seen[x] {
			continue
		}
		seen[x] = true
		if set[x] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
