// Package testutil sets up migrated SQLite databases seeded with categories,
// patterns and merchants for tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/esoto/expense-tracker/internal/model"
	"github.com/esoto/expense-tracker/internal/storage"
)

// TestDB is a migrated database and the categories seeded into it.
type TestDB struct {
	Storage    *storage.SQLiteStorage
	t          *testing.T
	categories map[CategoryName]model.Category
}

// SetupTestDB creates a migrated database in a temp dir and seeds the
// fixture's categories. It is closed when the test ends.
//
// Example:
//
//	db := testutil.SetupTestDB(t, testutil.FixtureMinimal)
//	shopping := db.MustCategory(testutil.CategoryShopping)
func SetupTestDB(t *testing.T, fixture Fixture, opts ...storage.Option) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"), opts...)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	db := &TestDB{Storage: store, t: t, categories: make(map[CategoryName]model.Category)}
	for _, name := range fixture.Categories {
		db.AddCategory(name)
	}
	return db
}

// AddCategory creates a category, failing the test on error.
func (db *TestDB) AddCategory(name CategoryName) model.Category {
	db.t.Helper()
	cat, err := db.Storage.CreateCategory(context.Background(), string(name), "")
	if err != nil {
		db.t.Fatalf("failed to seed category %q: %v", name, err)
	}
	db.categories[name] = *cat
	return *cat
}

// MustCategory returns a seeded category or fails the test.
func (db *TestDB) MustCategory(name CategoryName) model.Category {
	db.t.Helper()
	cat, ok := db.categories[name]
	if !ok {
		db.t.Fatalf("category %q was not seeded", name)
	}
	return cat
}

// AddPattern stores an active pattern for a seeded category.
func (db *TestDB) AddPattern(name CategoryName, patternType model.PatternType, value string) *model.Pattern {
	db.t.Helper()
	p := &model.Pattern{
		CategoryID:       db.MustCategory(name).ID,
		Type:             patternType,
		Value:            value,
		ConfidenceWeight: model.DefaultConfidenceWeight,
		Active:           true,
		UserCreated:      true,
		Metadata:         map[string]string{},
	}
	if err := db.Storage.CreatePattern(context.Background(), p); err != nil {
		db.t.Fatalf("failed to seed pattern %s %q: %v", patternType, value, err)
	}
	return p
}

// AddMerchant stores a canonical merchant with one exact alias per raw name.
func (db *TestDB) AddMerchant(name string, rawNames ...string) (*model.CanonicalMerchant, []model.MerchantAlias) {
	db.t.Helper()
	ctx := context.Background()

	m, err := db.Storage.CreateMerchant(ctx, name)
	if err != nil {
		db.t.Fatalf("failed to seed merchant %q: %v", name, err)
	}

	aliases := make([]model.MerchantAlias, 0, len(rawNames))
	for _, raw := range rawNames {
		a := &model.MerchantAlias{
			RawName:             raw,
			CanonicalMerchantID: m.ID,
			Confidence:          model.DefaultAliasConfidence,
		}
		if err := db.Storage.CreateAlias(ctx, a); err != nil {
			db.t.Fatalf("failed to seed alias %q: %v", raw, err)
		}
		aliases = append(aliases, *a)
	}
	return m, aliases
}
