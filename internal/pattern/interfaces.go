// Package pattern decides whether categorization rules apply to a transaction,
// scores how far each rule can be trusted, and retires rules that keep failing.
package pattern

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candidate is the capability set a value must expose to be matched against
// patterns. Every accessor is optional: a false second result means the field
// is absent, and pattern types that need it simply do not match.
type Candidate interface {
	MerchantText() (string, bool)
	DescriptionText() (string, bool)
	AmountValue() (decimal.Decimal, bool)
	Timestamp() (time.Time, bool)
}

// Suggestion is a ranked category proposal produced from matching patterns.
type Suggestion struct {
	Reason          string
	CategoryID      int
	PatternID       int
	MatchedPatterns int
	Confidence      float64
}
