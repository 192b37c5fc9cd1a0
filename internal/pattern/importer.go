package pattern

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/model"
	"github.com/esoto/expense-tracker/internal/service"
)

// RuleFile is the YAML layout accepted by Import:
//
//	categories:
//	  - name: Coffee
//	    keywords: [starbucks, "blue bottle"]
//	    patterns:
//	      - type: amount_range
//	        value: "2-8"
//	        weight: 0.5
type RuleFile struct {
	Categories []RuleCategory `yaml:"categories"`
}

// RuleCategory lists the patterns for one category. Keywords is shorthand for
// keyword patterns at the default weight.
type RuleCategory struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Keywords    []string   `yaml:"keywords"`
	Patterns    []RuleSpec `yaml:"patterns"`
}

// RuleSpec is one pattern entry.
type RuleSpec struct {
	Type   string  `yaml:"type"`
	Value  string  `yaml:"value"`
	Weight float64 `yaml:"weight"`
	// UserCreated exempts the pattern from automatic retirement.
	UserCreated bool `yaml:"user_created"`
}

// ImportResult counts what an import did.
type ImportResult struct {
	Errors            []error
	CategoriesCreated int
	PatternsCreated   int
	PatternsSkipped   int
}

// LoadRules decodes a rule file.
func LoadRules(r io.Reader) (*RuleFile, error) {
	var rules RuleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil {
		if errors.Is(err, io.EOF) {
			return &rules, nil
		}
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return &rules, nil
}

// Import creates the rule file's categories and patterns. Patterns that
// already exist are skipped; invalid entries are collected in the result and
// do not stop the import.
func (m *Manager) Import(ctx context.Context, categories service.CategoryStore, rules *RuleFile) (*ImportResult, error) {
	result := &ImportResult{}

	for _, rc := range rules.Categories {
		name := strings.TrimSpace(rc.Name)
		if name == "" {
			result.Errors = append(result.Errors, fmt.Errorf("%w: category without a name", ErrMissingCategory))
			continue
		}

		cat, created, err := ensureCategory(ctx, categories, name, rc.Description)
		if err != nil {
			return result, err
		}
		if created {
			result.CategoriesCreated++
		}

		specs := make([]RuleSpec, 0, len(rc.Keywords)+len(rc.Patterns))
		for _, kw := range rc.Keywords {
			specs = append(specs, RuleSpec{Type: string(model.PatternKeyword), Value: kw})
		}
		specs = append(specs, rc.Patterns...)

		for _, spec := range specs {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			m.importOne(ctx, cat, spec, result)
		}
	}

	slog.Info("imported pattern rules",
		"categories_created", result.CategoriesCreated,
		"patterns_created", result.PatternsCreated,
		"patterns_skipped", result.PatternsSkipped,
		"errors", len(result.Errors))
	return result, nil
}

func (m *Manager) importOne(ctx context.Context, cat *model.Category, spec RuleSpec, result *ImportResult) {
	patternType, err := model.ParsePatternType(spec.Type)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("category %q: %w", cat.Name, err))
		return
	}

	opts := []Option{WithMetadata(MetadataSource, SourceImported), WithUserCreated(spec.UserCreated)}
	if spec.Weight != 0 {
		opts = append(opts, WithWeight(spec.Weight))
	}

	p, err := NewPattern(cat.ID, patternType, spec.Value, opts...)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("category %q: %w", cat.Name, err))
		return
	}

	switch err := m.CreatePattern(ctx, p); {
	case errors.Is(err, common.ErrDuplicateEntry):
		result.PatternsSkipped++
	case err != nil:
		result.Errors = append(result.Errors, fmt.Errorf("category %q: %w", cat.Name, err))
	default:
		result.PatternsCreated++
	}
}

func ensureCategory(ctx context.Context, categories service.CategoryStore, name, description string) (*model.Category, bool, error) {
	cat, err := categories.GetCategoryByName(ctx, name)
	if err == nil {
		return cat, false, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up category %q: %w", name, err)
	}

	cat, err = categories.CreateCategory(ctx, name, description)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create category %q: %w", name, err)
	}
	return cat, true, nil
}
