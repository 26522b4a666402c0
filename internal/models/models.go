// Package models defines the records exchanged between the engine's
// components and persisted by the stores.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ContextFrame describes the situation an access happened in (or the caller
// is in now). All fields are optional.
type ContextFrame struct {
	Location string   `json:"location,omitempty"`
	Activity string   `json:"activity,omitempty"`
	People   []string `json:"people,omitempty"`
}

// IsEmpty reports whether no field is set.
func (f ContextFrame) IsEmpty() bool {
	return f.Location == "" && f.Activity == "" && len(f.People) == 0
}

// AccessEvent records one successful fetch of a content item by a user.
// Events are immutable once recorded.
type AccessEvent struct {
	UserID    string       `json:"user_id"`
	ContentID string       `json:"content_id"`
	Timestamp time.Time    `json:"timestamp"`
	Context   ContextFrame `json:"context"`
}

// PatternType classifies a detected period.
type PatternType string

const (
	PatternDaily   PatternType = "daily"
	PatternWeekly  PatternType = "weekly"
	PatternMonthly PatternType = "monthly"
	PatternCustom  PatternType = "custom"
)

// Well-known candidate periods, in hours.
const (
	PeriodDaily   = 24
	PeriodWeekly  = 168
	PeriodMonthly = 720
)

// TypeForPeriod maps a period in hours to its pattern type.
func TypeForPeriod(hours int) PatternType {
	switch hours {
	case PeriodDaily:
		return PatternDaily
	case PeriodWeekly:
		return PatternWeekly
	case PeriodMonthly:
		return PatternMonthly
	default:
		return PatternCustom
	}
}

// Pattern is a detected periodic access behaviour for one user. There is at
// most one Pattern per (UserID, PeriodHours); each detector run replaces it.
type Pattern struct {
	UserID      string      `json:"user_id"`
	PeriodHours int         `json:"period_hours"`
	Type        PatternType `json:"type"`
	Confidence  float64     `json:"confidence"`
	PeakTimes   []int       `json:"peak_times"` // phase offsets within one period, hours
	ContentIDs  []string    `json:"content_ids,omitempty"`
	FormedAt    time.Time   `json:"formed_at"`
	StableAt    time.Time   `json:"stable_at"`
}

// HasContent reports whether the pattern was formed from accesses to id.
func (p *Pattern) HasContent(id string) bool {
	for _, c := range p.ContentIDs {
		if c == id {
			return true
		}
	}
	return false
}

// Tier is a storage class.
type Tier string

const (
	TierFast     Tier = "fast"
	TierDurable  Tier = "durable"
	TierArchival Tier = "archival"
)

// ParseTier accepts a tier name in any case.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(s)) {
	case TierFast:
		return TierFast, nil
	case TierDurable, "":
		return TierDurable, nil
	case TierArchival:
		return TierArchival, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// TierState is the placement record for one content item. A content item is
// in exactly one tier at any instant.
type TierState struct {
	ContentID        string    `json:"content_id"`
	Tier             Tier      `json:"tier"`
	LastTransitionAt time.Time `json:"last_transition_at"`
	AccessFrequency  int64     `json:"access_frequency"`
}

// Content is a stored memory item.
type Content struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Body         []byte       `json:"body"`
	Context      ContextFrame `json:"context"`
	CreatedAt    time.Time    `json:"created_at"`
	LastAccessAt time.Time    `json:"last_access_at"`
}

// Factors is the per-factor breakdown behind a prediction score.
type Factors struct {
	Temporal    float64 `json:"temporal"`
	Recency     float64 `json:"recency"`
	ContextGate float64 `json:"context_gate"`
}

// PredictionResult is one ranked candidate. Not persisted.
type PredictionResult struct {
	ContentID string  `json:"content_id"`
	Score     float64 `json:"score"`
	Factors   Factors `json:"factors"`
}
