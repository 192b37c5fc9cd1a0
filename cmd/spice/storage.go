package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/esoto/expense-tracker/internal/alias"
	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/config"
	"github.com/esoto/expense-tracker/internal/model"
	"github.com/esoto/expense-tracker/internal/pattern"
	"github.com/esoto/expense-tracker/internal/service"
	"github.com/esoto/expense-tracker/internal/storage"
)

// merchantLister is implemented by both backends but is not part of service.Storage.
type merchantLister interface {
	GetMerchants(ctx context.Context) ([]model.CanonicalMerchant, error)
}

// initStorage opens the configured backend and brings its schema up to date.
func initStorage(ctx context.Context) (service.Storage, *config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	opts := []storage.Option{
		storage.WithAliasCacheSize(cfg.Aliases.CacheSize),
		storage.WithFuzzySearch(cfg.Aliases.FuzzySearch),
	}

	var store service.Storage
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		store, err = storage.NewPostgresStorage(cfg.Database.DSN, opts...)
	default:
		if dir := filepath.Dir(cfg.Database.Path); dir != "" {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		store, err = storage.NewSQLiteStorage(cfg.Database.Path, opts...)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s storage: %w", cfg.Database.Driver, err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, cfg, nil
}

func newResolver(store service.Storage, cfg *config.Config) *alias.Resolver {
	return alias.NewResolver(store, alias.Config{
		FuzzyFloor: cfg.Aliases.FuzzyFloor,
		FuzzyLimit: cfg.Aliases.FuzzyLimit,
	})
}

// lookupCategory resolves a category given either its ID or its name.
func lookupCategory(ctx context.Context, store service.CategoryStore, ref string) (*model.Category, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, common.NewUserError("a category is required", errors.New("empty category"))
	}

	if id, err := strconv.Atoi(ref); err == nil {
		cat, err := store.GetCategoryByID(ctx, id)
		if err != nil {
			return nil, common.NewUserError(fmt.Sprintf("category %d not found", id), err)
		}
		return cat, nil
	}

	cat, err := store.GetCategoryByName(ctx, ref)
	if err != nil {
		return nil, common.NewUserError(fmt.Sprintf("category %q not found", ref), err)
	}
	return cat, nil
}

func parseID(arg, what string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, common.NewUserError(fmt.Sprintf("invalid %s ID: %s", what, arg), err)
	}
	return id, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, common.NewUserError(
		fmt.Sprintf("invalid date %q (use YYYY-MM-DD or YYYY-MM-DD HH:MM)", s), nil)
}

func addCandidateFlags(cmd *cobra.Command) {
	cmd.Flags().String("merchant", "", "merchant name")
	cmd.Flags().String("description", "", "transaction description")
	cmd.Flags().String("amount", "", "transaction amount")
	cmd.Flags().String("date", "", "transaction date (YYYY-MM-DD or YYYY-MM-DD HH:MM)")
}

// candidateFromFlags builds a match candidate from the flags added by
// addCandidateFlags. Fields that were not given stay absent.
func candidateFromFlags(cmd *cobra.Command) (pattern.Fields, error) {
	fields := pattern.Fields{}

	if v, _ := cmd.Flags().GetString("merchant"); v != "" {
		fields[pattern.FieldMerchantName] = v
	}
	if v, _ := cmd.Flags().GetString("description"); v != "" {
		fields[pattern.FieldDescription] = v
	}
	if v, _ := cmd.Flags().GetString("amount"); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, common.NewUserError(fmt.Sprintf("invalid amount %q", v), err)
		}
		fields[pattern.FieldAmount] = amount
	}
	if v, _ := cmd.Flags().GetString("date"); v != "" {
		ts, err := parseDate(v)
		if err != nil {
			return nil, err
		}
		fields[pattern.FieldTransactionDate] = ts
	}

	if len(fields) == 0 {
		return nil, common.NewUserError("provide at least one of --merchant, --description, --amount or --date", nil)
	}
	return fields, nil
}
