package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/model"
)

const patternColumns = `id, category_id, pattern_type, pattern_value, confidence_weight,
	usage_count, success_count, success_rate, active, user_created, metadata,
	created_at, updated_at`

func scanPattern(row scanner) (*model.Pattern, error) {
	var (
		p        model.Pattern
		metadata string
	)
	err := row.Scan(
		&p.ID, &p.CategoryID, &p.Type, &p.Value, &p.ConfidenceWeight,
		&p.UsageCount, &p.SuccessCount, &p.SuccessRate, &p.Active, &p.UserCreated, &metadata,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Metadata = map[string]string{}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
			return nil, fmt.Errorf("pattern %d has corrupt metadata: %w", p.ID, err)
		}
	}
	return &p, nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

// CreatePattern inserts a pattern. A pattern with the same category, type and
// value already stored yields common.ErrDuplicateEntry.
func (s *SQLiteStorage) CreatePattern(ctx context.Context, p *model.Pattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePattern(p); err != nil {
		return err
	}

	var categoryExists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM categories WHERE id = ? AND is_active = 1)`,
		p.CategoryID).Scan(&categoryExists)
	if err != nil {
		return fmt.Errorf("failed to verify category: %w", err)
	}
	if !categoryExists {
		return fmt.Errorf("category %d: %w", p.CategoryID, common.ErrNotFound)
	}

	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}

	p.RecalculateSuccessRate()
	now := time.Now()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO patterns (
			category_id, pattern_type, pattern_value, confidence_weight,
			usage_count, success_count, success_rate, active, user_created, metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CategoryID, p.Type, p.Value, p.ConfidenceWeight,
		p.UsageCount, p.SuccessCount, p.SuccessRate, p.Active, p.UserCreated, metadata,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create pattern: %w", translateError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get pattern ID: %w", err)
	}

	p.ID = int(id)
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	return nil
}

// GetPattern retrieves a pattern by ID.
func (s *SQLiteStorage) GetPattern(ctx context.Context, id int) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	p, err := scanPattern(s.db.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pattern %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return p, nil
}

// GetActivePatterns returns every active pattern ordered by ID.
func (s *SQLiteStorage) GetActivePatterns(ctx context.Context) ([]model.Pattern, error) {
	return s.GetPatterns(ctx, false)
}

// GetPatterns returns patterns ordered by ID, optionally including retired ones.
func (s *SQLiteStorage) GetPatterns(ctx context.Context, includeInactive bool) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + patternColumns + ` FROM patterns`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []model.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		patterns = append(patterns, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patterns: %w", err)
	}
	return patterns, nil
}

// FindPattern looks a pattern up by its unique key. It returns nil when none exists.
func (s *SQLiteStorage) FindPattern(ctx context.Context, categoryID int, patternType model.PatternType, value string) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	p, err := scanPattern(s.db.QueryRowContext(ctx, `
		SELECT `+patternColumns+`
		FROM patterns
		WHERE category_id = ? AND pattern_type = ? AND pattern_value = ?`,
		categoryID, patternType, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // not found is not an error here
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pattern: %w", err)
	}
	return p, nil
}

// RecordPatternUsage applies one match outcome with an in-place UPDATE so
// concurrent callers never lose an increment, and returns the updated row.
func (s *SQLiteStorage) RecordPatternUsage(ctx context.Context, id int, successful bool) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	inc := 0
	if successful {
		inc = 1
	}

	var updated *model.Pattern
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE patterns SET
				usage_count = usage_count + 1,
				success_count = success_count + ?,
				success_rate = CAST(success_count + ? AS REAL) / (usage_count + 1),
				updated_at = ?
			WHERE id = ?`,
			inc, inc, time.Now(), id)
		if err != nil {
			return fmt.Errorf("failed to record pattern usage: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		} else if affected == 0 {
			return fmt.Errorf("pattern %d: %w", id, common.ErrNotFound)
		}

		updated, err = scanPattern(tx.QueryRowContext(ctx,
			`SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id))
		if err != nil {
			return fmt.Errorf("failed to reload pattern: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeactivatePattern retires a pattern. It is never deleted.
func (s *SQLiteStorage) DeactivatePattern(ctx context.Context, id int) error {
	return s.setPatternActive(ctx, id, false)
}

// ActivatePattern brings a retired pattern back into matching.
func (s *SQLiteStorage) ActivatePattern(ctx context.Context, id int) error {
	return s.setPatternActive(ctx, id, true)
}

func (s *SQLiteStorage) setPatternActive(ctx context.Context, id int, active bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE patterns SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update pattern %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pattern %d: %w", id, common.ErrNotFound)
	}
	return nil
}
