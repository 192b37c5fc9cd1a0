package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/esoto/expense-tracker/internal/model"
)

// Validation errors.
var (
	ErrInvalidFormat      = errors.New("invalid pattern format")
	ErrBlankValue         = errors.New("pattern value cannot be blank")
	ErrWeightOutOfRange   = errors.New("confidence weight out of range")
	ErrMissingCategory    = errors.New("pattern requires a category")
	ErrUnknownPatternType = model.ErrUnknownPatternType
)

// FormatError describes a rejected pattern field.
type FormatError struct {
	Err    error
	Field  string
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatError(field, value, reason string) *FormatError {
	return &FormatError{Field: field, Value: value, Reason: reason, Err: ErrInvalidFormat}
}

// Validate checks every user-settable field of a pattern.
func Validate(p *model.Pattern) error {
	if p == nil {
		return errors.New("pattern cannot be nil")
	}
	if p.CategoryID <= 0 {
		return &FormatError{Field: "category_id", Reason: "is required", Err: ErrMissingCategory}
	}
	if p.ConfidenceWeight < model.MinConfidenceWeight || p.ConfidenceWeight > model.MaxConfidenceWeight {
		return &FormatError{
			Field:  "confidence_weight",
			Reason: fmt.Sprintf("%.2f is outside [%.1f, %.1f]", p.ConfidenceWeight, model.MinConfidenceWeight, model.MaxConfidenceWeight),
			Err:    ErrWeightOutOfRange,
		}
	}
	return ValidateValue(p.Type, p.Value)
}

// ValidateValue checks that value is well formed for the given pattern type.
func ValidateValue(patternType model.PatternType, value string) error {
	if !patternType.Valid() {
		return &FormatError{
			Field:  "pattern_type",
			Value:  string(patternType),
			Reason: "must be one of merchant, keyword, description, amount_range, regex, time",
			Err:    ErrUnknownPatternType,
		}
	}
	if strings.TrimSpace(value) == "" {
		return &FormatError{Field: "pattern_value", Reason: "cannot be blank", Err: ErrBlankValue}
	}

	switch patternType {
	case model.PatternAmountRange:
		_, err := ParseAmountRange(value)
		return err
	case model.PatternRegex:
		if _, err := regexp.Compile("(?i)" + value); err != nil {
			return formatError("pattern_value", value, fmt.Sprintf("is not a valid regular expression: %v", err))
		}
	case model.PatternTime:
		_, err := ParseTimeSpec(value)
		return err
	}

	return nil
}
