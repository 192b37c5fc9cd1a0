package alias

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/merchant"
	"github.com/esoto/expense-tracker/internal/model"
	"github.com/esoto/expense-tracker/internal/service"
)

var (
	_ service.AliasStore         = (*memoryAliasStore)(nil)
	_ service.FuzzyAliasSearcher = (*fuzzyAliasStore)(nil)
)

// memoryAliasStore is an in-memory AliasStore without fuzzy search.
type memoryAliasStore struct {
	merchants map[int]*model.CanonicalMerchant
	aliases   map[int]*model.MerchantAlias
	merges    []model.AliasMerge
	mu        sync.Mutex
	nextID    int
}

// fuzzyAliasStore adds trigram search on top of memoryAliasStore.
type fuzzyAliasStore struct {
	*memoryAliasStore
	unavailable bool
}

func newMemoryAliasStore() *memoryAliasStore {
	return &memoryAliasStore{
		merchants: make(map[int]*model.CanonicalMerchant),
		aliases:   make(map[int]*model.MerchantAlias),
		nextID:    1,
	}
}

func newFuzzyAliasStore() *fuzzyAliasStore {
	return &fuzzyAliasStore{memoryAliasStore: newMemoryAliasStore()}
}

func (s *memoryAliasStore) id() int {
	id := s.nextID
	s.nextID++
	return id
}

func (s *memoryAliasStore) CreateMerchant(_ context.Context, name string) (*model.CanonicalMerchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.merchants {
		if m.Name == name {
			return nil, common.ErrDuplicateEntry
		}
	}
	m := &model.CanonicalMerchant{ID: s.id(), Name: name, NormalizedName: merchant.Normalize(name)}
	s.merchants[m.ID] = m
	out := *m
	return &out, nil
}

func (s *memoryAliasStore) GetMerchant(_ context.Context, id int) (*model.CanonicalMerchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.merchants[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *m
	return &out, nil
}

func (s *memoryAliasStore) FindMerchantByName(_ context.Context, name string) (*model.CanonicalMerchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.merchants {
		if m.Name == name {
			out := *m
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memoryAliasStore) GetAlias(_ context.Context, id int) (*model.MerchantAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.aliases[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (s *memoryAliasStore) findFirst(match func(*model.MerchantAlias) bool) *model.MerchantAlias {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := 1; id < s.nextID; id++ {
		if a, ok := s.aliases[id]; ok && match(a) {
			out := *a
			return &out
		}
	}
	return nil
}

func (s *memoryAliasStore) FindAliasByRawName(_ context.Context, rawName string) (*model.MerchantAlias, error) {
	return s.findFirst(func(a *model.MerchantAlias) bool { return a.RawName == rawName }), nil
}

func (s *memoryAliasStore) FindAliasByNormalizedName(_ context.Context, normalizedName string) (*model.MerchantAlias, error) {
	return s.findFirst(func(a *model.MerchantAlias) bool { return a.NormalizedName == normalizedName }), nil
}

func (s *memoryAliasStore) FindAlias(_ context.Context, rawName string, merchantID int) (*model.MerchantAlias, error) {
	return s.findFirst(func(a *model.MerchantAlias) bool {
		return a.RawName == rawName && a.CanonicalMerchantID == merchantID
	}), nil
}

func (s *memoryAliasStore) GetAliasesByMerchant(_ context.Context, merchantID int) ([]model.MerchantAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.MerchantAlias
	for id := 1; id < s.nextID; id++ {
		if a, ok := s.aliases[id]; ok && a.CanonicalMerchantID == merchantID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *memoryAliasStore) CreateAlias(_ context.Context, alias *model.MerchantAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.merchants[alias.CanonicalMerchantID]; !ok {
		return common.ErrNotFound
	}
	alias.ID = s.id()
	stored := *alias
	s.aliases[alias.ID] = &stored
	return nil
}

func (s *memoryAliasStore) RecordAliasMatch(_ context.Context, id int, seenAt time.Time) (*model.MerchantAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.aliases[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	a.RecordMatch(seenAt)
	out := *a
	return &out, nil
}

func (s *memoryAliasStore) MergeAliases(_ context.Context, keepID, otherID int, merge *model.AliasMerge) (*model.MerchantAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep, ok := s.aliases[keepID]
	if !ok {
		return nil, common.ErrNotFound
	}
	other, ok := s.aliases[otherID]
	if !ok {
		return nil, common.ErrNotFound
	}

	keep.Absorb(other)
	delete(s.aliases, otherID)
	s.merges = append(s.merges, *merge)

	out := *keep
	return &out, nil
}

func (s *memoryAliasStore) GetAliasMerges(_ context.Context, merchantID int) ([]model.AliasMerge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.AliasMerge
	for _, m := range s.merges {
		if m.CanonicalMerchantID == merchantID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fuzzyAliasStore) SearchSimilarAliases(_ context.Context, normalizedName string, minSimilarity float64, limit int) ([]service.SimilarAlias, error) {
	if s.unavailable {
		return nil, service.ErrFuzzyUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []service.SimilarAlias
	for _, a := range s.aliases {
		if score := merchant.Similarity(normalizedName, a.NormalizedName); score >= minSimilarity {
			out = append(out, service.SimilarAlias{Alias: *a, Similarity: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Alias.ID < out[j].Alias.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
