// Package storage persists categories, patterns and merchant aliases. SQLite
// is the default backend; Postgres is available through gorm.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/esoto/expense-tracker/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrInvalidPattern   = errors.New("invalid pattern")
	ErrInvalidAlias     = errors.New("invalid merchant alias")
	ErrMerchantMismatch = errors.New("aliases belong to different merchants")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validatePattern checks the columns the schema cannot express on its own.
// Value grammar is the pattern package's job.
func validatePattern(p *model.Pattern) error {
	if p == nil {
		return fmt.Errorf("%w: pattern", ErrNilParameter)
	}
	if p.CategoryID <= 0 {
		return fmt.Errorf("%w: missing category", ErrInvalidPattern)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidPattern, model.ErrUnknownPatternType)
	}
	if strings.TrimSpace(p.Value) == "" {
		return fmt.Errorf("%w: missing value", ErrInvalidPattern)
	}
	if p.ConfidenceWeight < model.MinConfidenceWeight || p.ConfidenceWeight > model.MaxConfidenceWeight {
		return fmt.Errorf("%w: confidence weight %.2f out of range", ErrInvalidPattern, p.ConfidenceWeight)
	}
	if p.UsageCount < 0 || p.SuccessCount < 0 || p.SuccessCount > p.UsageCount {
		return fmt.Errorf("%w: inconsistent counters", ErrInvalidPattern)
	}
	return nil
}

// validateAlias validates an alias before insert.
func validateAlias(a *model.MerchantAlias) error {
	if a == nil {
		return fmt.Errorf("%w: alias", ErrNilParameter)
	}
	if strings.TrimSpace(a.RawName) == "" {
		return fmt.Errorf("%w: missing raw name", ErrInvalidAlias)
	}
	if a.CanonicalMerchantID <= 0 {
		return fmt.Errorf("%w: missing canonical merchant", ErrInvalidAlias)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidAlias)
	}
	if a.MatchCount < 0 {
		return fmt.Errorf("%w: negative match count", ErrInvalidAlias)
	}
	return nil
}
