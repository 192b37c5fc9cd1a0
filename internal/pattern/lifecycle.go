package pattern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/model"
	"github.com/esoto/expense-tracker/internal/service"
)

// ErrNoMerchantText is returned when a correction carries no merchant text to learn from.
var ErrNoMerchantText = errors.New("candidate has no merchant text")

// Metadata keys written on learned patterns.
const (
	MetadataSource  = "source"
	SourceLearned   = "learned"
	SourceImported  = "imported"
	SourceUserInput = "user"
)

// Option customizes a pattern built by NewPattern.
type Option func(*model.Pattern)

// WithWeight sets the confidence weight.
func WithWeight(w float64) Option {
	return func(p *model.Pattern) { p.ConfidenceWeight = w }
}

// WithUserCreated marks the pattern as user-authored, exempting it from retirement.
func WithUserCreated(userCreated bool) Option {
	return func(p *model.Pattern) { p.UserCreated = userCreated }
}

// WithMetadata sets a metadata entry.
func WithMetadata(key, value string) Option {
	return func(p *model.Pattern) { p.Metadata[key] = value }
}

// NewPattern builds an active pattern with default weight and validates it.
func NewPattern(categoryID int, patternType model.PatternType, value string, opts ...Option) (*model.Pattern, error) {
	p := &model.Pattern{
		CategoryID:       categoryID,
		Type:             patternType,
		Value:            strings.TrimSpace(value),
		ConfidenceWeight: model.DefaultConfidenceWeight,
		Active:           true,
		Metadata:         map[string]string{},
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Manager drives a pattern through its lifecycle: creation, usage feedback,
// automatic retirement and learning from corrected classifications.
type Manager struct {
	store   service.PatternStore
	matcher *Matcher
}

// NewManager creates a lifecycle manager backed by store.
func NewManager(store service.PatternStore) *Manager {
	return &Manager{
		store:   store,
		matcher: NewMatcher(),
	}
}

// Matcher returns the manager's matcher.
func (m *Manager) Matcher() *Matcher {
	return m.matcher
}

// CreatePattern validates p and stores it.
func (m *Manager) CreatePattern(ctx context.Context, p *model.Pattern) error {
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	if err := Validate(p); err != nil {
		return err
	}

	existing, err := m.store.FindPattern(ctx, p.CategoryID, p.Type, p.Value)
	if err != nil {
		return fmt.Errorf("failed to check for existing pattern: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: %s pattern %q already exists for category %d",
			common.ErrDuplicateEntry, p.Type, p.Value, p.CategoryID)
	}

	if err := m.store.CreatePattern(ctx, p); err != nil {
		return fmt.Errorf("failed to create pattern: %w", err)
	}

	slog.Debug("created pattern",
		"id", p.ID,
		"category_id", p.CategoryID,
		"type", p.Type,
		"value", p.Value)
	return nil
}

// RecordUsage applies one match outcome to the stored pattern and retires it
// immediately if it has become unreliable.
func (m *Manager) RecordUsage(ctx context.Context, id int, successful bool) (*model.Pattern, error) {
	p, err := m.store.RecordPatternUsage(ctx, id, successful)
	if err != nil {
		return nil, fmt.Errorf("failed to record usage for pattern %d: %w", id, err)
	}
	p.MustBeConsistent()

	if _, err := m.CheckAndDeactivate(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

// CheckAndDeactivate retires p when it is mature, performing poorly and not
// user-authored. It reports whether the pattern was deactivated.
func (m *Manager) CheckAndDeactivate(ctx context.Context, p *model.Pattern) (bool, error) {
	if !ShouldDeactivate(p) {
		return false, nil
	}

	if err := m.store.DeactivatePattern(ctx, p.ID); err != nil {
		return false, fmt.Errorf("failed to deactivate pattern %d: %w", p.ID, err)
	}
	p.Active = false

	slog.Info("deactivated underperforming pattern",
		"id", p.ID,
		"type", p.Type,
		"value", p.Value,
		"usage_count", p.UsageCount,
		"success_rate", p.SuccessRate)
	return true, nil
}

// Classify matches candidate against every active pattern and returns ranked
// category suggestions. No match yields an empty slice.
func (m *Manager) Classify(ctx context.Context, candidate Candidate) ([]Suggestion, error) {
	patterns, err := m.store.GetActivePatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active patterns: %w", err)
	}

	return Rank(m.matcher.MatchAll(patterns, candidate)), nil
}

// LearnFromCorrection feeds a confirmed category back into the pattern bank.
// Every active pattern that matched the candidate records success when it
// points at categoryID and failure otherwise. If no merchant pattern for the
// candidate's merchant text exists in categoryID, one is created.
func (m *Manager) LearnFromCorrection(ctx context.Context, candidate Candidate, categoryID int) (*model.Pattern, error) {
	merchant, ok := candidate.MerchantText()
	if !ok {
		return nil, ErrNoMerchantText
	}
	value := strings.ToLower(strings.TrimSpace(merchant))

	patterns, err := m.store.GetActivePatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active patterns: %w", err)
	}

	for _, p := range m.matcher.MatchAll(patterns, candidate) {
		if _, err := m.RecordUsage(ctx, p.ID, p.CategoryID == categoryID); err != nil {
			return nil, err
		}
	}

	existing, err := m.store.FindPattern(ctx, categoryID, model.PatternMerchant, value)
	if err != nil {
		return nil, fmt.Errorf("failed to look up learned pattern: %w", err)
	}
	if existing != nil {
		return m.store.GetPattern(ctx, existing.ID)
	}

	learned, err := NewPattern(categoryID, model.PatternMerchant, value,
		WithMetadata(MetadataSource, SourceLearned))
	if err != nil {
		return nil, err
	}
	if err := m.store.CreatePattern(ctx, learned); err != nil {
		return nil, fmt.Errorf("failed to create learned pattern: %w", err)
	}

	slog.Info("learned merchant pattern",
		"id", learned.ID,
		"category_id", categoryID,
		"value", value)
	return learned, nil
}
