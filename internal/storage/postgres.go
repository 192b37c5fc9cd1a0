package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/merchant"
	"github.com/esoto/expense-tracker/internal/model"
	"github.com/esoto/expense-tracker/internal/service"
)

var (
	_ service.Storage            = (*PostgresStorage)(nil)
	_ service.FuzzyAliasSearcher = (*PostgresStorage)(nil)
)

// PostgresStorage implements the Storage interface on Postgres through gorm.
// Fuzzy alias search uses the pg_trgm extension when it is installed.
type PostgresStorage struct {
	db           *gorm.DB
	fuzzyEnabled bool
	wantFuzzy    bool
}

// NewPostgresStorage connects to the database at dsn.
func NewPostgresStorage(dsn string, opts ...Option) (*PostgresStorage, error) {
	if err := validateString(dsn, "dsn"); err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	o := buildOptions(opts)
	s := &PostgresStorage{db: db, wantFuzzy: o.fuzzySearch}
	s.fuzzyEnabled = s.wantFuzzy && s.probeFuzzy(context.Background())
	return s, nil
}

// probeFuzzy reports whether pg_trgm is installed in the connected database.
func (s *PostgresStorage) probeFuzzy(ctx context.Context) bool {
	var installed bool
	err := s.db.WithContext(ctx).
		Raw(`SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'pg_trgm')`).
		Scan(&installed).Error
	if err != nil || !installed {
		slog.Warn("pg_trgm unavailable, fuzzy alias search disabled", "error", err)
		return false
	}
	return true
}

// FuzzyEnabled reports whether similarity-ranked alias search is available.
func (s *PostgresStorage) FuzzyEnabled() bool {
	return s.fuzzyEnabled
}

// Migrate creates or updates the schema. It tries to install pg_trgm and its
// index; lacking the privilege only disables fuzzy search.
func (s *PostgresStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	db := s.db.WithContext(ctx)

	if err := db.AutoMigrate(&categoryRow{}, &patternRow{}, &merchantRow{}, &aliasRow{}, &aliasMergeRow{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	if !s.wantFuzzy {
		return nil
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pg_trgm`).Error; err != nil {
		slog.Warn("could not install pg_trgm", "error", err)
	}
	s.fuzzyEnabled = s.probeFuzzy(ctx)
	if s.fuzzyEnabled {
		if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_merchant_aliases_trgm
			ON merchant_aliases USING gin (normalized_name gin_trgm_ops)`).Error; err != nil {
			return fmt.Errorf("failed to create trigram index: %w", err)
		}
	}

	slog.Info("postgres schema migrated", "fuzzy", s.fuzzyEnabled)
	return nil
}

// Close closes the connection pool.
func (s *PostgresStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// take loads the first row matching the query into dest, reporting whether one existed.
func take(db *gorm.DB, dest any, query string, args ...any) (bool, error) {
	result := db.Where(query, args...).Limit(1).Find(dest)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetCategories returns all active categories.
func (s *PostgresStorage) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var rows []categoryRow
	if err := s.db.WithContext(ctx).Where("is_active").Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}

	categories := make([]model.Category, 0, len(rows))
	for i := range rows {
		categories = append(categories, *rows[i].toModel())
	}
	return categories, nil
}

// GetCategoryByName returns an active category by its name.
func (s *PostgresStorage) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	var row categoryRow
	found, err := take(s.db.WithContext(ctx), &row, "name = ? AND is_active", name)
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("category %q: %w", name, common.ErrNotFound)
	}
	return row.toModel(), nil
}

// GetCategoryByID returns a category by ID, active or not.
func (s *PostgresStorage) GetCategoryByID(ctx context.Context, id int) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var row categoryRow
	found, err := take(s.db.WithContext(ctx), &row, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("category %d: %w", id, common.ErrNotFound)
	}
	return row.toModel(), nil
}

// CreateCategory creates a new category, or returns and reactivates the
// existing one with the same name.
func (s *PostgresStorage) CreateCategory(ctx context.Context, name, description string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	var row categoryRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := take(tx.Clauses(clause.Locking{Strength: "UPDATE"}), &row, "name = ?", name)
		if err != nil {
			return fmt.Errorf("failed to check existing category: %w", err)
		}
		if found {
			if !row.IsActive {
				if err := tx.Model(&row).Update("is_active", true).Error; err != nil {
					return fmt.Errorf("failed to reactivate category: %w", err)
				}
				row.IsActive = true
				slog.Info("reactivated existing category", "name", name)
			}
			return nil
		}

		row = categoryRow{Name: name, Description: description, CreatedAt: time.Now(), IsActive: true}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create category: %w", err)
		}
		slog.Info("created new category", "name", name, "id", row.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// CreatePattern inserts a pattern. A pattern with the same category, type and
// value already stored yields common.ErrDuplicateEntry.
func (s *PostgresStorage) CreatePattern(ctx context.Context, p *model.Pattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePattern(p); err != nil {
		return err
	}

	db := s.db.WithContext(ctx)
	var exists bool
	if err := db.Raw(`SELECT EXISTS(SELECT 1 FROM categories WHERE id = ? AND is_active)`, p.CategoryID).
		Scan(&exists).Error; err != nil {
		return fmt.Errorf("failed to verify category: %w", err)
	}
	if !exists {
		return fmt.Errorf("category %d: %w", p.CategoryID, common.ErrNotFound)
	}

	p.RecalculateSuccessRate()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	row, err := newPatternRow(p)
	if err != nil {
		return err
	}
	result := db.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if result.Error != nil {
		return fmt.Errorf("failed to create pattern: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: pattern %s %q in category %d", common.ErrDuplicateEntry, p.Type, p.Value, p.CategoryID)
	}

	p.ID = row.ID
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	return nil
}

// GetPattern retrieves a pattern by ID.
func (s *PostgresStorage) GetPattern(ctx context.Context, id int) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getPatternRow(s.db.WithContext(ctx), id)
}

func getPatternRow(db *gorm.DB, id int) (*model.Pattern, error) {
	var row patternRow
	found, err := take(db, &row, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("pattern %d: %w", id, common.ErrNotFound)
	}
	return row.toModel()
}

// GetActivePatterns returns every active pattern ordered by ID.
func (s *PostgresStorage) GetActivePatterns(ctx context.Context) ([]model.Pattern, error) {
	return s.GetPatterns(ctx, false)
}

// GetPatterns returns patterns ordered by ID, optionally including retired ones.
func (s *PostgresStorage) GetPatterns(ctx context.Context, includeInactive bool) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Order("id")
	if !includeInactive {
		query = query.Where("active")
	}

	var rows []patternRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}

	patterns := make([]model.Pattern, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, *p)
	}
	return patterns, nil
}

// FindPattern looks a pattern up by its unique key. It returns nil when none exists.
func (s *PostgresStorage) FindPattern(ctx context.Context, categoryID int, patternType model.PatternType, value string) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var row patternRow
	found, err := take(s.db.WithContext(ctx), &row,
		"category_id = ? AND pattern_type = ? AND pattern_value = ?", categoryID, string(patternType), value)
	if err != nil {
		return nil, fmt.Errorf("failed to find pattern: %w", err)
	}
	if !found {
		return nil, nil //nolint:nilnil // not found is not an error here
	}
	return row.toModel()
}

// RecordPatternUsage applies one match outcome with an in-place UPDATE and
// returns the updated row.
func (s *PostgresStorage) RecordPatternUsage(ctx context.Context, id int, successful bool) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	inc := 0
	if successful {
		inc = 1
	}

	var updated *model.Pattern
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&patternRow{}).Where("id = ?", id).Updates(map[string]any{
			"usage_count":   gorm.Expr("usage_count + 1"),
			"success_count": gorm.Expr("success_count + ?", inc),
			"success_rate":  gorm.Expr("(success_count + ?)::double precision / (usage_count + 1)", inc),
			"updated_at":    time.Now(),
		})
		if result.Error != nil {
			return fmt.Errorf("failed to record pattern usage: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("pattern %d: %w", id, common.ErrNotFound)
		}

		var err error
		updated, err = getPatternRow(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeactivatePattern retires a pattern. It is never deleted.
func (s *PostgresStorage) DeactivatePattern(ctx context.Context, id int) error {
	return s.setPatternActive(ctx, id, false)
}

// ActivatePattern brings a retired pattern back into matching.
func (s *PostgresStorage) ActivatePattern(ctx context.Context, id int) error {
	return s.setPatternActive(ctx, id, true)
}

func (s *PostgresStorage) setPatternActive(ctx context.Context, id int, active bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Model(&patternRow{}).Where("id = ?", id).
		Updates(map[string]any{"active": active, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update pattern %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("pattern %d: %w", id, common.ErrNotFound)
	}
	return nil
}

// CreateMerchant inserts a canonical merchant.
func (s *PostgresStorage) CreateMerchant(ctx context.Context, name string) (*model.CanonicalMerchant, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	now := time.Now()
	row := merchantRow{Name: name, NormalizedName: merchant.Normalize(name), CreatedAt: now, UpdatedAt: now}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create merchant: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: merchant %q", common.ErrDuplicateEntry, name)
	}
	return row.toModel(), nil
}

// GetMerchant retrieves a canonical merchant by ID.
func (s *PostgresStorage) GetMerchant(ctx context.Context, id int) (*model.CanonicalMerchant, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var row merchantRow
	found, err := take(s.db.WithContext(ctx), &row, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get merchant: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("merchant %d: %w", id, common.ErrNotFound)
	}
	return row.toModel(), nil
}

// FindMerchantByName returns the merchant with the given name, or nil.
func (s *PostgresStorage) FindMerchantByName(ctx context.Context, name string) (*model.CanonicalMerchant, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var row merchantRow
	found, err := take(s.db.WithContext(ctx), &row, "name = ?", strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("failed to find merchant: %w", err)
	}
	if !found {
		return nil, nil //nolint:nilnil // not found is not an error here
	}
	return row.toModel(), nil
}

// GetMerchants returns every canonical merchant, busiest first.
func (s *PostgresStorage) GetMerchants(ctx context.Context) ([]model.CanonicalMerchant, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var rows []merchantRow
	if err := s.db.WithContext(ctx).Order("usage_count DESC, name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query merchants: %w", err)
	}

	merchants := make([]model.CanonicalMerchant, 0, len(rows))
	for i := range rows {
		merchants = append(merchants, *rows[i].toModel())
	}
	return merchants, nil
}

// GetAlias retrieves an alias by ID.
func (s *PostgresStorage) GetAlias(ctx context.Context, id int) (*model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getAliasRow(s.db.WithContext(ctx), id)
}

func getAliasRow(db *gorm.DB, id int) (*model.MerchantAlias, error) {
	var row aliasRow
	found, err := take(db, &row, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get alias: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("alias %d: %w", id, common.ErrNotFound)
	}
	return row.toModel(), nil
}

// FindAliasByRawName returns the most used alias recorded for exactly rawName.
func (s *PostgresStorage) FindAliasByRawName(ctx context.Context, rawName string) (*model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.findAlias(ctx, "raw_name = ?", rawName)
}

// FindAliasByNormalizedName returns the best alias with the given normalized name.
func (s *PostgresStorage) FindAliasByNormalizedName(ctx context.Context, normalizedName string) (*model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.findAlias(ctx, "normalized_name = ?", normalizedName)
}

// FindAlias returns the alias keyed by raw name and merchant, or nil.
func (s *PostgresStorage) FindAlias(ctx context.Context, rawName string, merchantID int) (*model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.findAlias(ctx, "raw_name = ? AND canonical_merchant_id = ?", rawName, merchantID)
}

func (s *PostgresStorage) findAlias(ctx context.Context, where string, args ...any) (*model.MerchantAlias, error) {
	var row aliasRow
	found, err := take(s.db.WithContext(ctx).Order("match_count DESC, id"), &row, where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find alias: %w", err)
	}
	if !found {
		return nil, nil //nolint:nilnil // not found is not an error here
	}
	return row.toModel(), nil
}

// GetAliasesByMerchant returns a merchant's aliases ordered by ID.
func (s *PostgresStorage) GetAliasesByMerchant(ctx context.Context, merchantID int) ([]model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var rows []aliasRow
	if err := s.db.WithContext(ctx).Where("canonical_merchant_id = ?", merchantID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}

	aliases := make([]model.MerchantAlias, 0, len(rows))
	for i := range rows {
		aliases = append(aliases, *rows[i].toModel())
	}
	return aliases, nil
}

// CreateAlias inserts an alias, deriving its normalized name when unset, and
// counts the observation against the owning merchant.
func (s *PostgresStorage) CreateAlias(ctx context.Context, a *model.MerchantAlias) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAlias(a); err != nil {
		return err
	}
	if a.NormalizedName == "" {
		a.NormalizedName = merchant.Normalize(a.RawName)
	}

	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	row := newAliasRow(a)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if result.Error != nil {
			return fmt.Errorf("failed to create alias: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: alias %q for merchant %d", common.ErrDuplicateEntry, a.RawName, a.CanonicalMerchantID)
		}
		return touchMerchantRow(tx, a.CanonicalMerchantID, now)
	})
	if err != nil {
		return err
	}

	a.ID = row.ID
	return nil
}

// RecordAliasMatch counts one reuse of an alias. The count, last-seen time and
// confidence nudge are applied by a single in-place UPDATE.
func (s *PostgresStorage) RecordAliasMatch(ctx context.Context, id int, seenAt time.Time) (*model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var updated *model.MerchantAlias
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&aliasRow{}).Where("id = ?", id).Updates(map[string]any{
			"match_count":  gorm.Expr("match_count + 1"),
			"last_seen_at": seenAt,
			"confidence": gorm.Expr(`CASE
				WHEN match_count + 1 > ? AND confidence < ? THEN LEAST(confidence + ?, ?)
				ELSE confidence
			END`,
				model.AliasEstablishedMatches, model.AliasConfidenceCap,
				model.AliasConfidenceStep, model.AliasConfidenceCap),
			"updated_at": time.Now(),
		})
		if result.Error != nil {
			return fmt.Errorf("failed to record alias match: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("alias %d: %w", id, common.ErrNotFound)
		}

		var err error
		if updated, err = getAliasRow(tx, id); err != nil {
			return err
		}
		return touchMerchantRow(tx, updated.CanonicalMerchantID, seenAt)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MergeAliases folds other into keep and deletes other in one transaction,
// recording the merge history row alongside.
func (s *PostgresStorage) MergeAliases(ctx context.Context, keepID, otherID int, merge *model.AliasMerge) (*model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if merge == nil {
		return nil, fmt.Errorf("%w: merge", ErrNilParameter)
	}
	if keepID == otherID {
		return nil, fmt.Errorf("%w: cannot merge alias %d into itself", ErrInvalidAlias, keepID)
	}

	var keep *model.MerchantAlias
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked := tx.Clauses(clause.Locking{Strength: "UPDATE"})
		var err error
		if keep, err = getAliasRow(locked, keepID); err != nil {
			return err
		}
		other, err := getAliasRow(locked, otherID)
		if err != nil {
			return err
		}
		if keep.CanonicalMerchantID != other.CanonicalMerchantID {
			return fmt.Errorf("%w: %d and %d", ErrMerchantMismatch, keep.CanonicalMerchantID, other.CanonicalMerchantID)
		}

		keep.Absorb(other)
		now := time.Now()

		if err := tx.Model(&aliasRow{}).Where("id = ?", keep.ID).Updates(map[string]any{
			"match_count":  keep.MatchCount,
			"confidence":   keep.Confidence,
			"last_seen_at": keep.LastSeenAt,
			"updated_at":   now,
		}).Error; err != nil {
			return fmt.Errorf("failed to update surviving alias: %w", err)
		}
		keep.UpdatedAt = now

		if err := tx.Delete(&aliasRow{}, other.ID).Error; err != nil {
			return fmt.Errorf("failed to delete merged alias: %w", err)
		}

		if merge.MergedAt.IsZero() {
			merge.MergedAt = now
		}
		history := aliasMergeRow{
			ID:                  merge.ID,
			SourceRawName:       merge.SourceRawName,
			TargetRawName:       merge.TargetRawName,
			TargetAliasID:       merge.TargetAliasID,
			CanonicalMerchantID: merge.CanonicalMerchantID,
			MergedAt:            merge.MergedAt,
		}
		if err := tx.Omit(clause.Associations).Create(&history).Error; err != nil {
			return fmt.Errorf("failed to record merge: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keep, nil
}

// GetAliasMerges returns a merchant's merge history, oldest first.
func (s *PostgresStorage) GetAliasMerges(ctx context.Context, merchantID int) ([]model.AliasMerge, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var rows []aliasMergeRow
	if err := s.db.WithContext(ctx).Where("canonical_merchant_id = ?", merchantID).
		Order("merged_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query alias merges: %w", err)
	}

	merges := make([]model.AliasMerge, 0, len(rows))
	for i := range rows {
		merges = append(merges, rows[i].toModel())
	}
	return merges, nil
}

// SearchSimilarAliases ranks aliases by pg_trgm similarity to normalizedName.
// It returns service.ErrFuzzyUnavailable when the extension is missing.
func (s *PostgresStorage) SearchSimilarAliases(ctx context.Context, normalizedName string, minSimilarity float64, limit int) ([]service.SimilarAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if !s.fuzzyEnabled {
		return nil, service.ErrFuzzyUnavailable
	}
	if limit <= 0 {
		limit = 1
	}

	var rows []scoredAliasRow
	err := s.db.WithContext(ctx).Model(&aliasRow{}).
		Select("merchant_aliases.*, similarity(normalized_name, ?) AS score", normalizedName).
		Where("similarity(normalized_name, ?) >= ?", normalizedName, minSimilarity).
		Order("score DESC, match_count DESC, id").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		if isUndefinedFunction(err) {
			return nil, service.ErrFuzzyUnavailable
		}
		return nil, fmt.Errorf("failed to search similar aliases: %w", err)
	}

	results := make([]service.SimilarAlias, 0, len(rows))
	for i := range rows {
		results = append(results, service.SimilarAlias{Alias: *rows[i].toModel(), Similarity: rows[i].Score})
	}
	return results, nil
}

// isUndefinedFunction spots SQLSTATE 42883, raised when pg_trgm was dropped
// after the connection was probed.
func isUndefinedFunction(err error) bool {
	var coded interface{ SQLState() string }
	if errors.As(err, &coded) {
		return coded.SQLState() == "42883"
	}
	return strings.Contains(err.Error(), "SQLSTATE 42883")
}

func touchMerchantRow(tx *gorm.DB, merchantID int, at time.Time) error {
	result := tx.Model(&merchantRow{}).Where("id = ?", merchantID).Updates(map[string]any{
		"usage_count": gorm.Expr("usage_count + 1"),
		"updated_at":  at,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update merchant usage: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("merchant %d: %w", merchantID, common.ErrNotFound)
	}
	return nil
}
