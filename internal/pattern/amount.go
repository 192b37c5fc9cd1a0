package pattern

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// amountRangePattern accepts "min-max" where either bound may carry a leading
// minus sign. A sign must sit directly before a digit and the separator is the
// hyphen after the first number, so "-100--50" reads as [-100, -50].
var amountRangePattern = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*-\s*(-?\d+(?:\.\d+)?)\s*$`)

// AmountRange is an inclusive [Min, Max] amount interval.
type AmountRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// ParseAmountRange parses an amount_range pattern value.
func ParseAmountRange(value string) (AmountRange, error) {
	m := amountRangePattern.FindStringSubmatch(value)
	if m == nil {
		return AmountRange{}, formatError("pattern_value", value, `amount range must look like "min-max"`)
	}

	lo, err := decimal.NewFromString(m[1])
	if err != nil {
		return AmountRange{}, formatError("pattern_value", value, "minimum is not a number")
	}
	hi, err := decimal.NewFromString(m[2])
	if err != nil {
		return AmountRange{}, formatError("pattern_value", value, "maximum is not a number")
	}
	if lo.GreaterThanOrEqual(hi) {
		return AmountRange{}, formatError("pattern_value", value, "minimum must be less than maximum")
	}

	return AmountRange{Min: lo, Max: hi}, nil
}

// Contains reports whether amount lies within the range, bounds included.
func (r AmountRange) Contains(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(r.Min) && amount.LessThanOrEqual(r.Max)
}

func (r AmountRange) String() string {
	return r.Min.String() + "-" + r.Max.String()
}
