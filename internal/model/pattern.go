// Package model defines the core data structures for the spice application.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownPatternType is returned when a pattern type is outside the closed set.
var ErrUnknownPatternType = errors.New("unknown pattern type")

// PatternType selects how a pattern's value is interpreted.
type PatternType string

// Pattern types.
const (
	PatternMerchant    PatternType = "merchant"
	PatternKeyword     PatternType = "keyword"
	PatternDescription PatternType = "description"
	PatternAmountRange PatternType = "amount_range"
	PatternRegex       PatternType = "regex"
	PatternTime        PatternType = "time"
)

// PatternTypes lists every valid pattern type.
var PatternTypes = []PatternType{
	PatternMerchant,
	PatternKeyword,
	PatternDescription,
	PatternAmountRange,
	PatternRegex,
	PatternTime,
}

// ParsePatternType converts a string into a PatternType.
func ParsePatternType(s string) (PatternType, error) {
	t := PatternType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPatternType, s)
	}
	return t, nil
}

// Valid reports whether t is one of the known pattern types.
func (t PatternType) Valid() bool {
	for _, known := range PatternTypes {
		if t == known {
			return true
		}
	}
	return false
}

// TimeWindow is a named time-of-day or day-of-week window.
type TimeWindow string

// Named time windows.
const (
	WindowMorning   TimeWindow = "morning"
	WindowAfternoon TimeWindow = "afternoon"
	WindowEvening   TimeWindow = "evening"
	WindowNight     TimeWindow = "night"
	WindowWeekend   TimeWindow = "weekend"
	WindowWeekday   TimeWindow = "weekday"
)

// TimeWindows lists every named window.
var TimeWindows = []TimeWindow{
	WindowMorning,
	WindowAfternoon,
	WindowEvening,
	WindowNight,
	WindowWeekend,
	WindowWeekday,
}

// ParseTimeWindow returns the named window for s, if any.
func ParseTimeWindow(s string) (TimeWindow, bool) {
	w := TimeWindow(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range TimeWindows {
		if w == known {
			return w, true
		}
	}
	return "", false
}

// Confidence weight bounds and default.
const (
	MinConfidenceWeight     = 0.1
	MaxConfidenceWeight     = 5.0
	DefaultConfidenceWeight = 1.0
)

// Pattern is a stored rule associating a category with a typed matching condition.
type Pattern struct {
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Metadata         map[string]string `json:"metadata"`
	Type             PatternType       `json:"pattern_type"`
	Value            string            `json:"pattern_value"`
	ID               int               `json:"id"`
	CategoryID       int               `json:"category_id"`
	ConfidenceWeight float64           `json:"confidence_weight"`
	SuccessRate      float64           `json:"success_rate"`
	UsageCount       int               `json:"usage_count"`
	SuccessCount     int               `json:"success_count"`
	Active           bool              `json:"active"`
	UserCreated      bool              `json:"user_created"`
}

// RecordUsage applies one match outcome and recomputes the cached success rate.
func (p *Pattern) RecordUsage(successful bool) {
	p.UsageCount++
	if successful {
		p.SuccessCount++
	}
	p.RecalculateSuccessRate()
}

// RecalculateSuccessRate refreshes SuccessRate from the counters.
// It panics when the counters violate success_count <= usage_count.
func (p *Pattern) RecalculateSuccessRate() {
	p.MustBeConsistent()
	if p.UsageCount == 0 {
		p.SuccessRate = 0
		return
	}
	p.SuccessRate = float64(p.SuccessCount) / float64(p.UsageCount)
}

// MustBeConsistent panics if the pattern's counters or weight are out of bounds.
func (p *Pattern) MustBeConsistent() {
	if p.UsageCount < 0 || p.SuccessCount < 0 {
		panic(fmt.Sprintf("pattern %d: negative counters (usage=%d, success=%d)", p.ID, p.UsageCount, p.SuccessCount))
	}
	if p.SuccessCount > p.UsageCount {
		panic(fmt.Sprintf("pattern %d: success_count %d exceeds usage_count %d", p.ID, p.SuccessCount, p.UsageCount))
	}
	if p.ConfidenceWeight < MinConfidenceWeight || p.ConfidenceWeight > MaxConfidenceWeight {
		panic(fmt.Sprintf("pattern %d: confidence weight %.2f out of range", p.ID, p.ConfidenceWeight))
	}
}
