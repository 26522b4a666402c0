// Package pattern detects periodic access behaviour in a user's history.
//
// A run bins the user's access timestamps into hourly buckets, computes the
// autocorrelation of that series, and for each candidate period emits a
// Pattern when the series has covered enough cycles and the correlation at
// that lag reaches the configured minimum. Detection is a batch job; nothing
// here runs on the request path.
package pattern

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/lazypower/foresight/internal/metrics"
	"github.com/lazypower/foresight/internal/models"
)

// ErrInsufficientData marks a candidate period skipped because the observed
// span covers fewer than MinCycles periods. It is recorded, never returned.
var ErrInsufficientData = errors.New("insufficient data")

// ErrBelowConfidence marks a candidate period whose confidence fell under
// MinConfidence.
var ErrBelowConfidence = errors.New("confidence below minimum")

// Config tunes detection.
type Config struct {
	MinConfidence      float64
	PeakCount          int
	CandidatePeriods   []int
	MinCycles          int
	PeakToleranceHours int
}

// DefaultConfig returns the stock tuning: daily, weekly and monthly
// candidates, three cycles minimum, confidence 0.3, top three peaks.
func DefaultConfig() Config {
	return Config{
		MinConfidence:      0.3,
		PeakCount:          3,
		CandidatePeriods:   []int{models.PeriodDaily, models.PeriodWeekly, models.PeriodMonthly},
		MinCycles:          3,
		PeakToleranceHours: 1,
	}
}

// Skip explains why a candidate period produced no pattern.
type Skip struct {
	PeriodHours int
	Confidence  float64
	Reason      error
}

// Result is the outcome of one detection run.
type Result struct {
	Patterns  []models.Pattern
	Skipped   []Skip
	SpanHours int
}

// Detector finds periodic patterns.
type Detector struct {
	cfg Config
	now func() time.Time
}

// New returns a Detector. Zero-valued config fields fall back to defaults.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.PeakCount <= 0 {
		cfg.PeakCount = def.PeakCount
	}
	if len(cfg.CandidatePeriods) == 0 {
		cfg.CandidatePeriods = def.CandidatePeriods
	}
	if cfg.MinCycles <= 0 {
		cfg.MinCycles = def.MinCycles
	}
	if cfg.PeakToleranceHours < 0 {
		cfg.PeakToleranceHours = 0
	}
	return &Detector{cfg: cfg, now: time.Now}
}

// SetClock overrides time.Now for FormedAt stamps.
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

// Detect runs every candidate period over events (one user's history, any
// order). previous holds the user's patterns from the last run; a period that
// was already emitted keeps its StableAt.
func (d *Detector) Detect(userID string, events []models.AccessEvent, previous []models.Pattern) Result {
	formedAt := d.now()
	timestamps := make([]time.Time, len(events))
	for i, ev := range events {
		timestamps[i] = ev.Timestamp
	}

	series, start := Bin(timestamps)
	res := Result{SpanHours: len(series)}

	prevByPeriod := make(map[int]models.Pattern, len(previous))
	for _, p := range previous {
		prevByPeriod[p.PeriodHours] = p
	}

	var ac []float64
	for _, period := range d.cfg.CandidatePeriods {
		label := strconv.Itoa(period)
		if len(series) < d.cfg.MinCycles*period {
			metrics.PatternInsufficientData.WithLabelValues(label).Inc()
			res.Skipped = append(res.Skipped, Skip{
				PeriodHours: period,
				Reason:      fmt.Errorf("period %dh needs %dh of history, have %dh: %w", period, d.cfg.MinCycles*period, len(series), ErrInsufficientData),
			})
			continue
		}

		if ac == nil {
			ac = Autocorrelation(series)
		}
		conf := LagConfidence(ac, period)
		if conf < d.cfg.MinConfidence {
			metrics.PatternBelowConfidence.WithLabelValues(label).Inc()
			res.Skipped = append(res.Skipped, Skip{PeriodHours: period, Confidence: conf, Reason: ErrBelowConfidence})
			continue
		}

		peaks := PeakPhases(series, start, period, d.cfg.PeakCount)
		p := models.Pattern{
			UserID:      userID,
			PeriodHours: period,
			Type:        models.TypeForPeriod(period),
			Confidence:  conf,
			PeakTimes:   peaks,
			ContentIDs:  peakContent(events, period, peaks, d.cfg.PeakToleranceHours),
			FormedAt:    formedAt,
			StableAt:    formedAt,
		}
		if prev, ok := prevByPeriod[period]; ok && !prev.StableAt.IsZero() && prev.StableAt.Before(formedAt) {
			p.StableAt = prev.StableAt
		}
		metrics.PatternsEmitted.WithLabelValues(string(p.Type)).Inc()
		res.Patterns = append(res.Patterns, p)
	}
	return res
}

// PeakPhases folds series modulo period, averages each phase across folds,
// and returns up to k phases with positive mean intensity, strongest first.
// Ties go to the earlier phase.
func PeakPhases(series []float64, start int64, period, k int) []int {
	sums := make([]float64, period)
	counts := make([]int, period)
	for i, v := range series {
		ph := mod(start+int64(i), int64(period))
		sums[ph] += v
		counts[ph]++
	}

	type phase struct {
		at  int
		avg float64
	}
	var phases []phase
	for ph := range sums {
		if counts[ph] == 0 || sums[ph] <= 0 {
			continue
		}
		phases = append(phases, phase{at: ph, avg: sums[ph] / float64(counts[ph])})
	}
	sort.Slice(phases, func(i, j int) bool {
		if phases[i].avg != phases[j].avg {
			return phases[i].avg > phases[j].avg
		}
		return phases[i].at < phases[j].at
	})
	if len(phases) > k {
		phases = phases[:k]
	}

	out := make([]int, len(phases))
	for i, p := range phases {
		out[i] = p.at
	}
	return out
}

// PhaseDistance is the circular distance between two phases of a period.
func PhaseDistance(a, b, period int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	d %= period
	if period-d < d {
		return period - d
	}
	return d
}

// peakContent returns the content ids accessed within tolerance of a peak
// phase, most accessed first.
func peakContent(events []models.AccessEvent, period int, peaks []int, tolerance int) []string {
	counts := make(map[string]int)
	for _, ev := range events {
		ph := Phase(ev.Timestamp, period)
		for _, pk := range peaks {
			if PhaseDistance(ph, pk, period) <= tolerance {
				counts[ev.ContentID]++
				break
			}
		}
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
