package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/model"
)

const categoryColumns = `id, name, description, created_at, is_active`

func scanCategory(row scanner) (*model.Category, error) {
	var cat model.Category
	if err := row.Scan(&cat.ID, &cat.Name, &cat.Description, &cat.CreatedAt, &cat.IsActive); err != nil {
		return nil, err
	}
	return &cat, nil
}

// GetCategories returns all active categories.
func (s *SQLiteStorage) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE is_active = 1
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, *cat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	slog.Debug("retrieved categories", "count", len(categories))
	return categories, nil
}

// GetCategoryByName returns an active category by its name.
func (s *SQLiteStorage) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	cat, err := scanCategory(s.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE name = ? AND is_active = 1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", err)
	}
	return cat, nil
}

// GetCategoryByID returns a category by ID, active or not.
func (s *SQLiteStorage) GetCategoryByID(ctx context.Context, id int) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	cat, err := scanCategory(s.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", err)
	}
	return cat, nil
}

// CreateCategory creates a new category. An existing category with the same
// name is returned as is, and reactivated if it had been retired.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, name, description string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	existing, err := scanCategory(s.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE name = ?`, name))
	switch {
	case err == nil:
		if !existing.IsActive {
			if _, err := s.db.ExecContext(ctx, `UPDATE categories SET is_active = 1 WHERE id = ?`, existing.ID); err != nil {
				return nil, fmt.Errorf("failed to reactivate category: %w", err)
			}
			existing.IsActive = true
			slog.Info("reactivated existing category", "name", name)
		}
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to check existing category: %w", err)
	}

	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (name, description, created_at, is_active)
		VALUES (?, ?, ?, 1)`, name, description, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create category: %w", translateError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get category ID: %w", err)
	}

	slog.Info("created new category", "name", name, "id", id)
	return &model.Category{
		ID:          int(id),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		IsActive:    true,
	}, nil
}
