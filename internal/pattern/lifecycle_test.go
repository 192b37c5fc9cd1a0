package pattern

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/model"
	"github.com/esoto/expense-tracker/internal/service"
)

var _ service.PatternStore = (*memoryPatternStore)(nil)

// memoryPatternStore is an in-memory PatternStore with atomic counter updates.
type memoryPatternStore struct {
	patterns map[int]*model.Pattern
	mu       sync.Mutex
	nextID   int
}

func newMemoryPatternStore() *memoryPatternStore {
	return &memoryPatternStore{patterns: make(map[int]*model.Pattern), nextID: 1}
}

func (s *memoryPatternStore) CreatePattern(_ context.Context, p *model.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.patterns {
		if existing.CategoryID == p.CategoryID && existing.Type == p.Type && existing.Value == p.Value {
			return common.ErrDuplicateEntry
		}
	}
	p.ID = s.nextID
	s.nextID++
	stored := *p
	s.patterns[p.ID] = &stored
	return nil
}

func (s *memoryPatternStore) GetPattern(_ context.Context, id int) (*model.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *memoryPatternStore) GetActivePatterns(ctx context.Context) ([]model.Pattern, error) {
	return s.list(false), nil
}

func (s *memoryPatternStore) GetPatterns(_ context.Context, includeInactive bool) ([]model.Pattern, error) {
	return s.list(includeInactive), nil
}

func (s *memoryPatternStore) list(includeInactive bool) []model.Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Pattern
	for id := 1; id < s.nextID; id++ {
		if p, ok := s.patterns[id]; ok && (includeInactive || p.Active) {
			out = append(out, *p)
		}
	}
	return out
}

func (s *memoryPatternStore) FindPattern(_ context.Context, categoryID int, patternType model.PatternType, value string) (*model.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.patterns {
		if p.CategoryID == categoryID && p.Type == patternType && p.Value == value {
			out := *p
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memoryPatternStore) RecordPatternUsage(_ context.Context, id int, successful bool) (*model.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	p.RecordUsage(successful)
	out := *p
	return &out, nil
}

func (s *memoryPatternStore) DeactivatePattern(_ context.Context, id int) error {
	return s.setActive(id, false)
}

func (s *memoryPatternStore) ActivatePattern(_ context.Context, id int) error {
	return s.setActive(id, true)
}

func (s *memoryPatternStore) setActive(id int, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return common.ErrNotFound
	}
	p.Active = active
	return nil
}

func seedPattern(t *testing.T, store *memoryPatternStore, p *model.Pattern) *model.Pattern {
	t.Helper()
	if p.ConfidenceWeight == 0 {
		p.ConfidenceWeight = model.DefaultConfidenceWeight
	}
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	p.RecalculateSuccessRate()
	require.NoError(t, store.CreatePattern(context.Background(), p))
	return p
}

func TestManager_CreatePattern(t *testing.T) {
	ctx := context.Background()
	store := newMemoryPatternStore()
	m := NewManager(store)

	p, err := NewPattern(1, model.PatternMerchant, "starbucks", WithUserCreated(true))
	require.NoError(t, err)
	require.NoError(t, m.CreatePattern(ctx, p))
	assert.NotZero(t, p.ID)

	dup, err := NewPattern(1, model.PatternMerchant, "starbucks")
	require.NoError(t, err)
	assert.ErrorIs(t, m.CreatePattern(ctx, dup), common.ErrDuplicateEntry)

	otherCategory, err := NewPattern(2, model.PatternMerchant, "starbucks")
	require.NoError(t, err)
	assert.NoError(t, m.CreatePattern(ctx, otherCategory))

	bad := &model.Pattern{CategoryID: 1, Type: model.PatternRegex, Value: "(", ConfidenceWeight: 1}
	assert.ErrorIs(t, m.CreatePattern(ctx, bad), ErrInvalidFormat)
}

func TestManager_RecordUsage(t *testing.T) {
	ctx := context.Background()
	store := newMemoryPatternStore()
	m := NewManager(store)
	p := seedPattern(t, store, &model.Pattern{CategoryID: 1, Type: model.PatternMerchant, Value: "shell", Active: true})

	prevUsage, prevSuccess := 0, 0
	for i, outcome := range []bool{true, false, true, true, false} {
		updated, err := m.RecordUsage(ctx, p.ID, outcome)
		require.NoError(t, err)

		assert.Equal(t, i+1, updated.UsageCount)
		assert.GreaterOrEqual(t, updated.UsageCount, prevUsage)
		assert.GreaterOrEqual(t, updated.SuccessCount, prevSuccess)
		assert.LessOrEqual(t, updated.SuccessCount, updated.UsageCount)
		assert.InDelta(t, float64(updated.SuccessCount)/float64(updated.UsageCount), updated.SuccessRate, 1e-9)
		prevUsage, prevSuccess = updated.UsageCount, updated.SuccessCount
	}

	_, err := m.RecordUsage(ctx, 999, true)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestManager_RecordUsageConcurrent(t *testing.T) {
	ctx := context.Background()
	store := newMemoryPatternStore()
	m := NewManager(store)
	p := seedPattern(t, store, &model.Pattern{CategoryID: 1, Type: model.PatternMerchant, Value: "shell", Active: true, UserCreated: true})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(success bool) {
			defer wg.Done()
			_, err := m.RecordUsage(ctx, p.ID, success)
			assert.NoError(t, err)
		}(i%2 == 0)
	}
	wg.Wait()

	got, err := store.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.UsageCount)
	assert.Equal(t, 25, got.SuccessCount)
}

func TestManager_CheckAndDeactivate(t *testing.T) {
	tests := []struct {
		name        string
		usage       int
		success     int
		userCreated bool
		want        bool
	}{
		{name: "mature and poor", usage: 25, success: 5, want: true},
		{name: "user created", usage: 25, success: 5, userCreated: true},
		{name: "below maturity", usage: 10, success: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newMemoryPatternStore()
			m := NewManager(store)
			p := seedPattern(t, store, &model.Pattern{
				CategoryID:   1,
				Type:         model.PatternKeyword,
				Value:        "misc",
				Active:       true,
				UsageCount:   tt.usage,
				SuccessCount: tt.success,
				UserCreated:  tt.userCreated,
			})

			deactivated, err := m.CheckAndDeactivate(ctx, p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, deactivated)

			stored, err := store.GetPattern(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, !tt.want, stored.Active)
		})
	}
}

func TestManager_RecordUsageRetiresImmediately(t *testing.T) {
	ctx := context.Background()
	store := newMemoryPatternStore()
	m := NewManager(store)
	p := seedPattern(t, store, &model.Pattern{
		CategoryID:   1,
		Type:         model.PatternKeyword,
		Value:        "transfer",
		Active:       true,
		UsageCount:   19,
		SuccessCount: 4,
	})

	updated, err := m.RecordUsage(ctx, p.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 20, updated.UsageCount)
	assert.False(t, updated.Active)

	active, err := store.GetActivePatterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestManager_Classify(t *testing.T) {
	ctx := context.Background()
	store := newMemoryPatternStore()
	m := NewManager(store)

	seedPattern(t, store, &model.Pattern{CategoryID: 1, Type: model.PatternMerchant, Value: "starbucks", Active: true, ConfidenceWeight: 2.0})
	seedPattern(t, store, &model.Pattern{CategoryID: 2, Type: model.PatternAmountRange, Value: "0-10", Active: true})
	seedPattern(t, store, &model.Pattern{CategoryID: 3, Type: model.PatternMerchant, Value: "starbucks", Active: false, ConfidenceWeight: 5.0})

	suggestions, err := m.Classify(ctx, Fields{FieldMerchantName: "STARBUCKS #44", FieldAmount: "6.25"})
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	assert.Equal(t, 1, suggestions[0].CategoryID)
	assert.InDelta(t, 1.4, suggestions[0].Confidence, 1e-9)
	assert.Equal(t, 2, suggestions[1].CategoryID)

	none, err := m.Classify(ctx, Text("Chevron"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestManager_LearnFromCorrection(t *testing.T) {
	ctx := context.Background()
	store := newMemoryPatternStore()
	m := NewManager(store)

	wrong := seedPattern(t, store, &model.Pattern{CategoryID: 2, Type: model.PatternKeyword, Value: "market", Active: true})

	txn := model.Transaction{MerchantName: "  Whole Foods Market "}
	learned, err := m.LearnFromCorrection(ctx, txn, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, learned.CategoryID)
	assert.Equal(t, model.PatternMerchant, learned.Type)
	assert.Equal(t, "whole foods market", learned.Value)
	assert.False(t, learned.UserCreated)
	assert.Equal(t, SourceLearned, learned.Metadata[MetadataSource])

	wrongAfter, err := store.GetPattern(ctx, wrong.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, wrongAfter.UsageCount)
	assert.Equal(t, 0, wrongAfter.SuccessCount)

	again, err := m.LearnFromCorrection(ctx, txn, 1)
	require.NoError(t, err)
	assert.Equal(t, learned.ID, again.ID)
	assert.Equal(t, 1, again.UsageCount)
	assert.Equal(t, 1, again.SuccessCount)

	all, err := store.GetPatterns(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = m.LearnFromCorrection(ctx, Fields{FieldAmount: 5}, 1)
	assert.ErrorIs(t, err, ErrNoMerchantText)
}
