// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/esoto/expense-tracker/internal/model"
)

// ErrFuzzyUnavailable reports that the store cannot run similarity-ranked queries,
// for example because the trigram extension is not installed.
var ErrFuzzyUnavailable = errors.New("fuzzy search unavailable")

// CategoryStore manages the categories patterns point at.
type CategoryStore interface {
	GetCategories(ctx context.Context) ([]model.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	GetCategoryByID(ctx context.Context, id int) (*model.Category, error)
	CreateCategory(ctx context.Context, name, description string) (*model.Category, error)
}

// PatternStore persists patterns. Get* methods return common.ErrNotFound for a
// missing ID; Find* methods return (nil, nil) when nothing matches.
type PatternStore interface {
	CreatePattern(ctx context.Context, pattern *model.Pattern) error
	GetPattern(ctx context.Context, id int) (*model.Pattern, error)
	GetActivePatterns(ctx context.Context) ([]model.Pattern, error)
	GetPatterns(ctx context.Context, includeInactive bool) ([]model.Pattern, error)
	FindPattern(ctx context.Context, categoryID int, patternType model.PatternType, value string) (*model.Pattern, error)
	// RecordPatternUsage increments the counters in place and returns the updated row.
	RecordPatternUsage(ctx context.Context, id int, successful bool) (*model.Pattern, error)
	DeactivatePattern(ctx context.Context, id int) error
	// ActivatePattern is the explicit, manual way back from retirement.
	ActivatePattern(ctx context.Context, id int) error
}

// AliasStore persists canonical merchants and their aliases.
type AliasStore interface {
	CreateMerchant(ctx context.Context, name string) (*model.CanonicalMerchant, error)
	GetMerchant(ctx context.Context, id int) (*model.CanonicalMerchant, error)
	FindMerchantByName(ctx context.Context, name string) (*model.CanonicalMerchant, error)

	GetAlias(ctx context.Context, id int) (*model.MerchantAlias, error)
	FindAliasByRawName(ctx context.Context, rawName string) (*model.MerchantAlias, error)
	FindAliasByNormalizedName(ctx context.Context, normalizedName string) (*model.MerchantAlias, error)
	FindAlias(ctx context.Context, rawName string, merchantID int) (*model.MerchantAlias, error)
	GetAliasesByMerchant(ctx context.Context, merchantID int) ([]model.MerchantAlias, error)
	CreateAlias(ctx context.Context, alias *model.MerchantAlias) error
	// RecordAliasMatch increments match_count, stamps last_seen_at and applies the
	// confidence nudge in a single statement, returning the updated row.
	RecordAliasMatch(ctx context.Context, id int, seenAt time.Time) (*model.MerchantAlias, error)
	// MergeAliases folds other into keep and deletes other in one transaction.
	MergeAliases(ctx context.Context, keepID, otherID int, merge *model.AliasMerge) (*model.MerchantAlias, error)
	GetAliasMerges(ctx context.Context, merchantID int) ([]model.AliasMerge, error)
}

// SimilarAlias is one ranked result of a fuzzy alias query.
type SimilarAlias struct {
	Alias      model.MerchantAlias
	Similarity float64
}

// FuzzyAliasSearcher is the optional similarity-ranked query capability.
// Implementations return ErrFuzzyUnavailable when the capability is missing.
type FuzzyAliasSearcher interface {
	SearchSimilarAliases(ctx context.Context, normalizedName string, minSimilarity float64, limit int) ([]SimilarAlias, error)
}

// Storage is the full persistence contract used by the CLI.
type Storage interface {
	CategoryStore
	PatternStore
	AliasStore
	Migrate(ctx context.Context) error
	Close() error
}
