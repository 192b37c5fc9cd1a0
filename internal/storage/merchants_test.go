package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esoto/expense-tracker/internal/alias"
	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/model"
	"github.com/esoto/expense-tracker/internal/service"
)

func createTestAlias(t *testing.T, store *SQLiteStorage, merchantID int, raw string, matches int, confidence float64) *model.MerchantAlias {
	t.Helper()
	a := &model.MerchantAlias{
		RawName:             raw,
		CanonicalMerchantID: merchantID,
		MatchCount:          matches,
		Confidence:          confidence,
	}
	require.NoError(t, store.CreateAlias(context.Background(), a))
	return a
}

func TestSQLiteStorage_Merchants(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	m, err := store.CreateMerchant(ctx, "  Café Nero ")
	require.NoError(t, err)
	assert.Equal(t, "Café Nero", m.Name)
	assert.Equal(t, "cafe nero", m.NormalizedName)

	_, err = store.CreateMerchant(ctx, "Café Nero")
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)

	found, err := store.FindMerchantByName(ctx, "Café Nero")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, m.ID, found.ID)

	missing, err := store.FindMerchantByName(ctx, "Costa")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = store.GetMerchant(ctx, 999)
	assert.ErrorIs(t, err, common.ErrNotFound)

	createTestAlias(t, store, m.ID, "CAFFE NERO 42", 1, 1.0)
	got, err := store.GetMerchant(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)

	all, err := store.GetMerchants(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStorage_CreateAlias(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	m, err := store.CreateMerchant(ctx, "Starbucks")
	require.NoError(t, err)

	seen := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	a := &model.MerchantAlias{
		RawName:             "STARBUCKS #1234",
		CanonicalMerchantID: m.ID,
		Confidence:          0.9,
		MatchCount:          1,
		LastSeenAt:          &seen,
	}
	require.NoError(t, store.CreateAlias(ctx, a))
	assert.Equal(t, "starbucks 1234", a.NormalizedName)

	got, err := store.GetAlias(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "STARBUCKS #1234", got.RawName)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	require.NotNil(t, got.LastSeenAt)
	assert.True(t, seen.Equal(*got.LastSeenAt))

	explicit := &model.MerchantAlias{
		RawName:             "SBUX",
		NormalizedName:      "starbucks",
		CanonicalMerchantID: m.ID,
		Confidence:          1.0,
	}
	require.NoError(t, store.CreateAlias(ctx, explicit))
	byNormalized, err := store.FindAliasByNormalizedName(ctx, "starbucks")
	require.NoError(t, err)
	require.NotNil(t, byNormalized)
	assert.Equal(t, explicit.ID, byNormalized.ID)
	assert.Nil(t, byNormalized.LastSeenAt)

	dup := &model.MerchantAlias{RawName: "SBUX", CanonicalMerchantID: m.ID, Confidence: 1.0}
	assert.ErrorIs(t, store.CreateAlias(ctx, dup), common.ErrDuplicateEntry)

	bad := &model.MerchantAlias{RawName: "x", CanonicalMerchantID: m.ID, Confidence: 1.5}
	assert.ErrorIs(t, store.CreateAlias(ctx, bad), ErrInvalidAlias)

	aliases, err := store.GetAliasesByMerchant(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, aliases, 2)
}

func TestSQLiteStorage_RecordAliasMatch(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	m, err := store.CreateMerchant(ctx, "Shell")
	require.NoError(t, err)
	a := createTestAlias(t, store, m.ID, "SHELL OIL 5512", 10, 0.5)

	// Prime the raw-name cache so the update has to invalidate it.
	cached, err := store.FindAliasByRawName(ctx, "SHELL OIL 5512")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 10, cached.MatchCount)

	seen := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	updated, err := store.RecordAliasMatch(ctx, a.ID, seen)
	require.NoError(t, err)
	assert.Equal(t, 11, updated.MatchCount)
	assert.InDelta(t, 0.54, updated.Confidence, 1e-9)
	require.NotNil(t, updated.LastSeenAt)
	assert.True(t, seen.Equal(*updated.LastSeenAt))

	fresh, err := store.FindAliasByRawName(ctx, "SHELL OIL 5512")
	require.NoError(t, err)
	assert.Equal(t, 11, fresh.MatchCount)

	high := createTestAlias(t, store, m.ID, "SHELL 77", 30, 0.93)
	updated, err = store.RecordAliasMatch(ctx, high.ID, seen)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, updated.Confidence, 1e-9)

	early := createTestAlias(t, store, m.ID, "SHELL 78", 2, 0.5)
	updated, err = store.RecordAliasMatch(ctx, early.ID, seen)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.MatchCount)
	assert.InDelta(t, 0.5, updated.Confidence, 1e-9)

	_, err = store.RecordAliasMatch(ctx, 999, seen)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

// assertConcurrentAliasMatches records matches on one alias from many
// goroutines and checks that none of the increments is lost.
func assertConcurrentAliasMatches(t *testing.T, store service.AliasStore) {
	t.Helper()
	ctx := context.Background()

	m, err := store.CreateMerchant(ctx, "Chevron")
	require.NoError(t, err)
	a := &model.MerchantAlias{RawName: "CHEVRON 0091", CanonicalMerchantID: m.ID, MatchCount: 1, Confidence: 0.5}
	require.NoError(t, store.CreateAlias(ctx, a))

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordAliasMatch(ctx, a.ID, time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetAlias(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, workers+1, got.MatchCount)
	assert.InDelta(t, model.AliasConfidenceCap, got.Confidence, 1e-9)
	require.NotNil(t, got.LastSeenAt)
}

// assertConcurrentAliasMerges folds several aliases into one survivor while
// other goroutines keep recording matches on it.
func assertConcurrentAliasMerges(t *testing.T, store service.AliasStore) {
	t.Helper()
	ctx := context.Background()

	m, err := store.CreateMerchant(ctx, "Shell")
	require.NoError(t, err)
	keep := &model.MerchantAlias{RawName: "SHELL", CanonicalMerchantID: m.ID, MatchCount: 1, Confidence: 0.5}
	require.NoError(t, store.CreateAlias(ctx, keep))

	const merges = 10
	const matches = 20
	others := make([]*model.MerchantAlias, merges)
	for i := range others {
		others[i] = &model.MerchantAlias{
			RawName:             fmt.Sprintf("SHELL OIL %04d", i),
			CanonicalMerchantID: m.ID,
			MatchCount:          2,
			Confidence:          0.6,
		}
		require.NoError(t, store.CreateAlias(ctx, others[i]))
	}

	var wg sync.WaitGroup
	for i, other := range others {
		wg.Add(1)
		go func(i int, other *model.MerchantAlias) {
			defer wg.Done()
			_, err := store.MergeAliases(ctx, keep.ID, other.ID, &model.AliasMerge{
				ID:                  fmt.Sprintf("merge-%d", i),
				SourceRawName:       other.RawName,
				TargetRawName:       keep.RawName,
				TargetAliasID:       keep.ID,
				CanonicalMerchantID: m.ID,
			})
			assert.NoError(t, err)
		}(i, other)
	}
	for i := 0; i < matches; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordAliasMatch(ctx, keep.ID, time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetAlias(ctx, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, 1+merges*2+matches, got.MatchCount)
	assert.GreaterOrEqual(t, got.Confidence, 0.6)
	assert.LessOrEqual(t, got.Confidence, model.AliasConfidenceCap)

	remaining, err := store.GetAliasesByMerchant(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, keep.ID, remaining[0].ID)

	history, err := store.GetAliasMerges(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, history, merges)
}

func TestSQLiteStorage_RecordAliasMatchConcurrent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	assertConcurrentAliasMatches(t, store)
}

func TestSQLiteStorage_MergeAliasesConcurrent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	assertConcurrentAliasMerges(t, store)
}

func TestSQLiteStorage_NormalizedAliasCache(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	m, err := store.CreateMerchant(ctx, "Shell")
	require.NoError(t, err)
	first := createTestAlias(t, store, m.ID, "SHELL OIL", 1, 0.8)
	key := normalizedAliasKey(first.NormalizedName)

	found, err := store.FindAliasByNormalizedName(ctx, first.NormalizedName)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)
	assert.True(t, store.aliasCache.Contains(key))

	_, err = store.RecordAliasMatch(ctx, first.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, store.aliasCache.Contains(key))

	found, err = store.FindAliasByNormalizedName(ctx, first.NormalizedName)
	require.NoError(t, err)
	assert.Equal(t, 2, found.MatchCount)

	// A busier alias with the same normalized name takes over the lookup.
	busier := createTestAlias(t, store, m.ID, "Shell Oil", 7, 0.9)
	require.Equal(t, first.NormalizedName, busier.NormalizedName)
	found, err = store.FindAliasByNormalizedName(ctx, first.NormalizedName)
	require.NoError(t, err)
	assert.Equal(t, busier.ID, found.ID)

	_, err = store.MergeAliases(ctx, first.ID, busier.ID, &model.AliasMerge{
		ID:                  "merge-1",
		SourceRawName:       busier.RawName,
		TargetRawName:       first.RawName,
		TargetAliasID:       first.ID,
		CanonicalMerchantID: m.ID,
	})
	require.NoError(t, err)

	found, err = store.FindAliasByNormalizedName(ctx, first.NormalizedName)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, 9, found.MatchCount)

	missing, err := store.FindAliasByNormalizedName(ctx, "texaco")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.False(t, store.aliasCache.Contains(normalizedAliasKey("texaco")))
}

func TestSQLiteStorage_MergeAliases(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	m, err := store.CreateMerchant(ctx, "Starbucks")
	require.NoError(t, err)
	keep := createTestAlias(t, store, m.ID, "STARBUCKS", 10, 0.8)
	other := createTestAlias(t, store, m.ID, "SBUX", 5, 0.9)

	merge := &model.AliasMerge{
		ID:                  "merge-1",
		SourceRawName:       other.RawName,
		TargetRawName:       keep.RawName,
		TargetAliasID:       keep.ID,
		CanonicalMerchantID: m.ID,
	}
	merged, err := store.MergeAliases(ctx, keep.ID, other.ID, merge)
	require.NoError(t, err)
	assert.Equal(t, 15, merged.MatchCount)
	assert.InDelta(t, 0.9, merged.Confidence, 1e-9)

	_, err = store.GetAlias(ctx, other.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	history, err := store.GetAliasMerges(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "merge-1", history[0].ID)
	assert.Equal(t, "SBUX", history[0].SourceRawName)

	elsewhere, err := store.CreateMerchant(ctx, "Dunkin")
	require.NoError(t, err)
	foreign := createTestAlias(t, store, elsewhere.ID, "DUNKIN", 3, 1.0)

	_, err = store.MergeAliases(ctx, keep.ID, foreign.ID, &model.AliasMerge{ID: "merge-2"})
	assert.ErrorIs(t, err, ErrMerchantMismatch)

	stillThere, err := store.GetAlias(ctx, foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stillThere.MatchCount)
}

func TestSQLiteStorage_SearchSimilarAliases(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	m, err := store.CreateMerchant(ctx, "Starbucks")
	require.NoError(t, err)
	coffee := createTestAlias(t, store, m.ID, "Starbucks Coffee", 4, 1.0)
	createTestAlias(t, store, m.ID, "Starbucks Reserve Roastery", 1, 1.0)
	createTestAlias(t, store, m.ID, "Walmart", 1, 1.0)

	results, err := store.SearchSimilarAliases(ctx, "starbuck coffee", 0.3, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, coffee.ID, results[0].Alias.ID)
	assert.InDelta(t, 15.0/18.0, results[0].Similarity, 1e-9)
	for _, r := range results {
		assert.NotEqual(t, "Walmart", r.Alias.RawName)
		assert.GreaterOrEqual(t, r.Similarity, 0.3)
	}

	limited, err := store.SearchSimilarAliases(ctx, "starbucks", 0.1, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteStorage_FuzzyDisabled(t *testing.T) {
	store, cleanup := createTestStorage(t, WithFuzzySearch(false))
	defer cleanup()
	ctx := context.Background()

	_, err := store.SearchSimilarAliases(ctx, "starbucks", 0.5, 5)
	assert.ErrorIs(t, err, service.ErrFuzzyUnavailable)

	m, err := store.CreateMerchant(ctx, "Starbucks")
	require.NoError(t, err)
	createTestAlias(t, store, m.ID, "Starbucks Coffee", 4, 1.0)

	resolver := alias.NewResolver(store, alias.DefaultConfig())
	got, err := resolver.FindBestMatch(ctx, "Starbuck Coffee")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStorage_ResolverEndToEnd(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	resolver := alias.NewResolver(store, alias.DefaultConfig())

	first, err := resolver.Resolve(ctx, "AMZN Mktp US*2K3")
	require.NoError(t, err)
	require.True(t, first.Created)

	exact, err := resolver.Resolve(ctx, "AMZN Mktp US*2K3")
	require.NoError(t, err)
	assert.Equal(t, alias.MatchExact, exact.Kind)
	assert.Equal(t, 2, exact.Alias.MatchCount)

	fuzzy, err := resolver.Resolve(ctx, "AMZN Mktp US*9Q1")
	require.NoError(t, err)
	assert.Equal(t, alias.MatchFuzzy, fuzzy.Kind)
	assert.Equal(t, first.Merchant.ID, fuzzy.Merchant.ID)
	assert.Less(t, fuzzy.Alias.Confidence, 1.0)

	keep, err := store.GetAlias(ctx, exact.Alias.ID)
	require.NoError(t, err)
	other, err := store.GetAlias(ctx, fuzzy.Alias.ID)
	require.NoError(t, err)

	merged, err := resolver.Merge(ctx, keep, other)
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, 3, keep.MatchCount)
	assert.InDelta(t, 1.0, keep.Confidence, 1e-9)

	_, err = store.GetAlias(ctx, other.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_DeduplicateAfterEarlierMerge(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	resolver := alias.NewResolver(store, alias.DefaultConfig())

	m, err := store.CreateMerchant(ctx, "Starbucks")
	require.NoError(t, err)
	upper := createTestAlias(t, store, m.ID, "STARBUCKS", 3, 0.8)
	mixed := createTestAlias(t, store, m.ID, "Starbucks", 1, 0.8)
	merged, err := resolver.Merge(ctx, upper, mixed)
	require.NoError(t, err)
	require.True(t, merged)

	// The merged-away spelling comes back and is soon the busier one.
	createTestAlias(t, store, m.ID, "Starbucks", 10, 0.9)

	removed, err := resolver.Deduplicate(ctx, m.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	remaining, err := store.GetAliasesByMerchant(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "STARBUCKS", remaining[0].RawName)
	assert.Equal(t, 14, remaining[0].MatchCount)
	assert.InDelta(t, 0.9, remaining[0].Confidence, 1e-9)
}
