package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/merchant"
	"github.com/esoto/expense-tracker/internal/model"
	"github.com/esoto/expense-tracker/internal/service"
)

const merchantColumns = `id, name, normalized_name, usage_count, created_at, updated_at`

const aliasColumns = `id, raw_name, normalized_name, canonical_merchant_id, confidence,
	match_count, last_seen_at, created_at, updated_at`

func scanMerchant(row scanner) (*model.CanonicalMerchant, error) {
	var m model.CanonicalMerchant
	if err := row.Scan(&m.ID, &m.Name, &m.NormalizedName, &m.UsageCount, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanAlias(row scanner, extra ...any) (*model.MerchantAlias, error) {
	var (
		a        model.MerchantAlias
		lastSeen sql.NullTime
	)
	dest := []any{
		&a.ID, &a.RawName, &a.NormalizedName, &a.CanonicalMerchantID, &a.Confidence,
		&a.MatchCount, &lastSeen, &a.CreatedAt, &a.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		a.LastSeenAt = &t
	}
	return &a, nil
}

// CreateMerchant inserts a canonical merchant.
func (s *SQLiteStorage) CreateMerchant(ctx context.Context, name string) (*model.CanonicalMerchant, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	now := time.Now()
	m := &model.CanonicalMerchant{
		Name:           name,
		NormalizedName: merchant.Normalize(name),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO canonical_merchants (name, normalized_name, usage_count, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)`, m.Name, m.NormalizedName, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create merchant: %w", translateError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get merchant ID: %w", err)
	}
	m.ID = int(id)
	return m, nil
}

// GetMerchant retrieves a canonical merchant by ID.
func (s *SQLiteStorage) GetMerchant(ctx context.Context, id int) (*model.CanonicalMerchant, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	m, err := scanMerchant(s.db.QueryRowContext(ctx,
		`SELECT `+merchantColumns+` FROM canonical_merchants WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("merchant %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merchant: %w", err)
	}
	return m, nil
}

// FindMerchantByName returns the merchant with the given name, or nil.
func (s *SQLiteStorage) FindMerchantByName(ctx context.Context, name string) (*model.CanonicalMerchant, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	m, err := scanMerchant(s.db.QueryRowContext(ctx,
		`SELECT `+merchantColumns+` FROM canonical_merchants WHERE name = ?`, strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // not found is not an error here
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find merchant: %w", err)
	}
	return m, nil
}

// GetMerchants returns every canonical merchant, busiest first.
func (s *SQLiteStorage) GetMerchants(ctx context.Context) ([]model.CanonicalMerchant, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+merchantColumns+` FROM canonical_merchants ORDER BY usage_count DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var merchants []model.CanonicalMerchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan merchant: %w", err)
		}
		merchants = append(merchants, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merchants: %w", err)
	}
	return merchants, nil
}

// GetAlias retrieves an alias by ID.
func (s *SQLiteStorage) GetAlias(ctx context.Context, id int) (*model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	a, err := scanAlias(s.db.QueryRowContext(ctx,
		`SELECT `+aliasColumns+` FROM merchant_aliases WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alias %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alias: %w", err)
	}
	return a, nil
}

// Alias cache keys. Raw and normalized lookups share one LRU.
func rawAliasKey(rawName string) string               { return "raw:" + rawName }
func normalizedAliasKey(normalizedName string) string { return "norm:" + normalizedName }

// forgetAlias drops every cached lookup that could return a.
func (s *SQLiteStorage) forgetAlias(a *model.MerchantAlias) {
	s.aliasCache.Remove(rawAliasKey(a.RawName))
	s.aliasCache.Remove(normalizedAliasKey(a.NormalizedName))
}

// FindAliasByRawName returns the alias recorded for exactly rawName. When
// several merchants share the raw name the most used alias wins. Hits are
// cached until an alias with that raw name changes.
func (s *SQLiteStorage) FindAliasByRawName(ctx context.Context, rawName string) (*model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.findCachedAlias(ctx, rawAliasKey(rawName), `raw_name = ?`, rawName)
}

// FindAliasByNormalizedName returns the best alias with the given normalized
// name. Hits are cached like raw-name lookups.
func (s *SQLiteStorage) FindAliasByNormalizedName(ctx context.Context, normalizedName string) (*model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.findCachedAlias(ctx, normalizedAliasKey(normalizedName), `normalized_name = ?`, normalizedName)
}

func (s *SQLiteStorage) findCachedAlias(ctx context.Context, key, where, arg string) (*model.MerchantAlias, error) {
	if cached, ok := s.aliasCache.Get(key); ok {
		return &cached, nil
	}

	a, err := s.findAlias(ctx, where, arg)
	if err != nil || a == nil {
		return a, err
	}
	s.aliasCache.Add(key, *a)
	return a, nil
}

// FindAlias returns the alias keyed by raw name and merchant, or nil.
func (s *SQLiteStorage) FindAlias(ctx context.Context, rawName string, merchantID int) (*model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.findAlias(ctx, `raw_name = ? AND canonical_merchant_id = ?`, rawName, merchantID)
}

func (s *SQLiteStorage) findAlias(ctx context.Context, where string, args ...any) (*model.MerchantAlias, error) {
	a, err := scanAlias(s.db.QueryRowContext(ctx, `
		SELECT `+aliasColumns+`
		FROM merchant_aliases
		WHERE `+where+`
		ORDER BY match_count DESC, id
		LIMIT 1`, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // not found is not an error here
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find alias: %w", err)
	}
	return a, nil
}

// GetAliasesByMerchant returns a merchant's aliases ordered by ID.
func (s *SQLiteStorage) GetAliasesByMerchant(ctx context.Context, merchantID int) ([]model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+aliasColumns+`
		FROM merchant_aliases
		WHERE canonical_merchant_id = ?
		ORDER BY id`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var aliases []model.MerchantAlias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		aliases = append(aliases, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aliases: %w", err)
	}
	return aliases, nil
}

// CreateAlias inserts an alias, deriving its normalized name when unset, and
// counts the observation against the owning merchant.
func (s *SQLiteStorage) CreateAlias(ctx context.Context, a *model.MerchantAlias) error {
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
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO merchant_aliases (
				raw_name, normalized_name, canonical_merchant_id, confidence,
				match_count, last_seen_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.RawName, a.NormalizedName, a.CanonicalMerchantID, a.Confidence,
			a.MatchCount, nullTime(a.LastSeenAt), now, now)
		if err != nil {
			return fmt.Errorf("failed to create alias: %w", translateError(err))
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get alias ID: %w", err)
		}
		a.ID = int(id)

		return touchMerchant(ctx, tx, a.CanonicalMerchantID, now)
	})
	if err != nil {
		return err
	}

	a.CreatedAt = now
	a.UpdatedAt = now
	s.forgetAlias(a)
	return nil
}

// RecordAliasMatch counts one reuse of an alias. The count, last-seen time and
// confidence nudge are applied by a single in-place UPDATE.
func (s *SQLiteStorage) RecordAliasMatch(ctx context.Context, id int, seenAt time.Time) (*model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var updated *model.MerchantAlias
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE merchant_aliases SET
				match_count = match_count + 1,
				last_seen_at = ?,
				confidence = CASE
					WHEN match_count + 1 > ? AND confidence < ?
						THEN MIN(confidence + ?, ?)
					ELSE confidence
				END,
				updated_at = ?
			WHERE id = ?`,
			seenAt,
			model.AliasEstablishedMatches, model.AliasConfidenceCap,
			model.AliasConfidenceStep, model.AliasConfidenceCap,
			time.Now(), id)
		if err != nil {
			return fmt.Errorf("failed to record alias match: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		} else if affected == 0 {
			return fmt.Errorf("alias %d: %w", id, common.ErrNotFound)
		}

		if updated, err = getAliasTx(ctx, tx, id); err != nil {
			return err
		}
		return touchMerchant(ctx, tx, updated.CanonicalMerchantID, seenAt)
	})
	if err != nil {
		return nil, err
	}

	s.forgetAlias(updated)
	return updated, nil
}

// MergeAliases folds other into keep and deletes other. Sums are written
// before the delete, and both happen in one transaction along with the merge
// history row.
func (s *SQLiteStorage) MergeAliases(ctx context.Context, keepID, otherID int, merge *model.AliasMerge) (*model.MerchantAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if merge == nil {
		return nil, fmt.Errorf("%w: merge", ErrNilParameter)
	}
	if keepID == otherID {
		return nil, fmt.Errorf("%w: cannot merge alias %d into itself", ErrInvalidAlias, keepID)
	}

	var keep, other *model.MerchantAlias
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if keep, err = getAliasTx(ctx, tx, keepID); err != nil {
			return err
		}
		if other, err = getAliasTx(ctx, tx, otherID); err != nil {
			return err
		}
		if keep.CanonicalMerchantID != other.CanonicalMerchantID {
			return fmt.Errorf("%w: %d and %d", ErrMerchantMismatch, keep.CanonicalMerchantID, other.CanonicalMerchantID)
		}

		keep.Absorb(other)
		now := time.Now()

		if _, err := tx.ExecContext(ctx, `
			UPDATE merchant_aliases
			SET match_count = ?, confidence = ?, last_seen_at = ?, updated_at = ?
			WHERE id = ?`,
			keep.MatchCount, keep.Confidence, nullTime(keep.LastSeenAt), now, keep.ID); err != nil {
			return fmt.Errorf("failed to update surviving alias: %w", err)
		}
		keep.UpdatedAt = now

		if _, err := tx.ExecContext(ctx, `DELETE FROM merchant_aliases WHERE id = ?`, other.ID); err != nil {
			return fmt.Errorf("failed to delete merged alias: %w", err)
		}

		if merge.MergedAt.IsZero() {
			merge.MergedAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO alias_merges (id, source_raw_name, target_raw_name, target_alias_id, canonical_merchant_id, merged_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			merge.ID, merge.SourceRawName, merge.TargetRawName, merge.TargetAliasID,
			merge.CanonicalMerchantID, merge.MergedAt); err != nil {
			return fmt.Errorf("failed to record merge: %w", translateError(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.forgetAlias(keep)
	s.forgetAlias(other)
	return keep, nil
}

// GetAliasMerges returns a merchant's merge history, oldest first.
func (s *SQLiteStorage) GetAliasMerges(ctx context.Context, merchantID int) ([]model.AliasMerge, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_raw_name, target_raw_name, target_alias_id, canonical_merchant_id, merged_at
		FROM alias_merges
		WHERE canonical_merchant_id = ?
		ORDER BY merged_at, id`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alias merges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var merges []model.AliasMerge
	for rows.Next() {
		var m model.AliasMerge
		if err := rows.Scan(&m.ID, &m.SourceRawName, &m.TargetRawName, &m.TargetAliasID,
			&m.CanonicalMerchantID, &m.MergedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alias merge: %w", err)
		}
		merges = append(merges, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alias merges: %w", err)
	}
	return merges, nil
}

// SearchSimilarAliases ranks aliases by trigram similarity to normalizedName.
// It returns service.ErrFuzzyUnavailable when the similarity function is missing.
func (s *SQLiteStorage) SearchSimilarAliases(ctx context.Context, normalizedName string, minSimilarity float64, limit int) ([]service.SimilarAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if !s.fuzzyEnabled {
		return nil, service.ErrFuzzyUnavailable
	}
	if limit <= 0 {
		limit = 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+aliasColumns+`, score
		FROM (
			SELECT `+aliasColumns+`, trigram_similarity(?, normalized_name) AS score
			FROM merchant_aliases
		)
		WHERE score >= ?
		ORDER BY score DESC, match_count DESC, id
		LIMIT ?`, normalizedName, minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar aliases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []service.SimilarAlias
	for rows.Next() {
		var score float64
		a, err := scanAlias(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("failed to scan similar alias: %w", err)
		}
		results = append(results, service.SimilarAlias{Alias: *a, Similarity: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similar aliases: %w", err)
	}
	return results, nil
}

func getAliasTx(ctx context.Context, q queryable, id int) (*model.MerchantAlias, error) {
	a, err := scanAlias(q.QueryRowContext(ctx,
		`SELECT `+aliasColumns+` FROM merchant_aliases WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alias %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alias: %w", err)
	}
	return a, nil
}

// touchMerchant counts one observation against a canonical merchant.
func touchMerchant(ctx context.Context, q queryable, merchantID int, at time.Time) error {
	if _, err := q.ExecContext(ctx, `
		UPDATE canonical_merchants
		SET usage_count = usage_count + 1, updated_at = ?
		WHERE id = ?`, at, merchantID); err != nil {
		return fmt.Errorf("failed to update merchant usage: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
