package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-sqlite3"

	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/merchant"
	"github.com/esoto/expense-tracker/internal/model"
	"github.com/esoto/expense-tracker/internal/service"
)

// driverName is go-sqlite3 with the trigram_similarity SQL function registered
// on every connection.
const driverName = "sqlite3_trigram"

// DefaultAliasCacheSize is the number of raw-name lookups kept in memory.
const DefaultAliasCacheSize = 1024

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("trigram_similarity", merchant.Similarity, true)
		},
	})
}

var (
	_ service.Storage            = (*SQLiteStorage)(nil)
	_ service.FuzzyAliasSearcher = (*SQLiteStorage)(nil)
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db           *sql.DB
	aliasCache   *lru.Cache[string, model.MerchantAlias]
	dbPath       string
	cacheSize    int
	fuzzyEnabled bool
}

type options struct {
	cacheSize   int
	fuzzySearch bool
}

func buildOptions(opts []Option) options {
	o := options{cacheSize: DefaultAliasCacheSize, fuzzySearch: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheSize <= 0 {
		o.cacheSize = DefaultAliasCacheSize
	}
	return o
}

// Option configures a storage backend.
type Option func(*options)

// WithAliasCacheSize sets how many exact and normalized alias lookups are cached. Only the
// SQLite backend caches; Postgres may be shared between processes.
func WithAliasCacheSize(size int) Option {
	return func(o *options) { o.cacheSize = size }
}

// WithFuzzySearch turns similarity-ranked alias search on or off. It is on by
// default when the database supports it.
func WithFuzzySearch(enabled bool) Option {
	return func(o *options) { o.fuzzySearch = enabled }
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections, and a single
	// connection serializes the counter updates.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	o := buildOptions(opts)
	s := &SQLiteStorage{
		db:           db,
		dbPath:       dbPath,
		cacheSize:    o.cacheSize,
		fuzzyEnabled: o.fuzzySearch,
	}
	s.aliasCache, err = lru.New[string, model.MerchantAlias](s.cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create alias cache: %w", err)
	}

	if s.fuzzyEnabled {
		s.fuzzyEnabled = s.probeFuzzy()
	}

	return s, nil
}

// probeFuzzy checks that trigram_similarity is callable on this connection.
func (s *SQLiteStorage) probeFuzzy() bool {
	var score float64
	if err := s.db.QueryRow(`SELECT trigram_similarity('probe', 'probe')`).Scan(&score); err != nil {
		slog.Warn("trigram similarity unavailable, fuzzy alias search disabled", "error", err)
		return false
	}
	return true
}

// FuzzyEnabled reports whether similarity-ranked alias search is available.
func (s *SQLiteStorage) FuzzyEnabled() bool {
	return s.fuzzyEnabled
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

// withTx runs fn inside a transaction, committing only if fn succeeds.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// translateError maps driver constraint failures onto common errors.
func translateError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", common.ErrDuplicateEntry, err)
		}
	}
	return err
}
