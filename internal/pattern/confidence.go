package pattern

import "github.com/esoto/expense-tracker/internal/model"

// Confidence and lifecycle thresholds.
const (
	// SparseDataThreshold is the usage count below which a pattern's history is ignored.
	SparseDataThreshold = 5
	// SparseDataPenalty scales the weight of patterns without enough history.
	SparseDataPenalty = 0.7
	// MaturityThreshold is the usage count at which poor performance can retire a pattern.
	MaturityThreshold = 20
	// PoorPerformanceThreshold is the success rate below which a mature pattern is retired.
	PoorPerformanceThreshold = 0.3
)

// EffectiveConfidence scores how far a pattern can be trusted. Patterns with
// sparse history get a flat penalty; otherwise the weight is scaled between
// half (never right) and full (always right) by the success rate.
func EffectiveConfidence(p *model.Pattern) float64 {
	if p.UsageCount < SparseDataThreshold {
		return p.ConfidenceWeight * SparseDataPenalty
	}
	return p.ConfidenceWeight * (0.5 + p.SuccessRate*0.5)
}

// SuccessRate returns success/usage, or 0 when there is no usage.
func SuccessRate(usage, success int) float64 {
	if usage <= 0 {
		return 0
	}
	return float64(success) / float64(usage)
}

// ShouldDeactivate reports whether a pattern has proven unreliable enough to retire.
// User-authored patterns are never retired automatically.
func ShouldDeactivate(p *model.Pattern) bool {
	return p.Active &&
		!p.UserCreated &&
		p.UsageCount >= MaturityThreshold &&
		p.SuccessRate < PoorPerformanceThreshold
}
