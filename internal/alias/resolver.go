// Package alias resolves raw merchant strings to canonical merchants through
// recorded aliases, and merges duplicate aliases without losing history.
package alias

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xrash/smetrics"

	"github.com/esoto/expense-tracker/internal/merchant"
	"github.com/esoto/expense-tracker/internal/model"
	"github.com/esoto/expense-tracker/internal/service"
)

// ErrConfidenceOutOfRange is returned when a caller supplies a confidence outside [0,1].
var ErrConfidenceOutOfRange = errors.New("alias confidence must be within [0, 1]")

// Defaults for fuzzy lookups.
const (
	DefaultFuzzyFloor = 0.5
	DefaultFuzzyLimit = 5
)

// MatchKind records which lookup stage produced a match.
type MatchKind string

// Lookup stages, in the order they are tried.
const (
	MatchExact      MatchKind = "exact"
	MatchNormalized MatchKind = "normalized"
	MatchFuzzy      MatchKind = "fuzzy"
)

// Match is the outcome of a successful lookup.
type Match struct {
	Alias      *model.MerchantAlias
	Kind       MatchKind
	Similarity float64
}

// Config tunes fuzzy resolution.
type Config struct {
	// FuzzyFloor is the minimum similarity a fuzzy candidate must reach.
	FuzzyFloor float64
	// FuzzyLimit caps how many candidates the store returns.
	FuzzyLimit int
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{FuzzyFloor: DefaultFuzzyFloor, FuzzyLimit: DefaultFuzzyLimit}
}

// Resolver finds, records and merges merchant aliases.
type Resolver struct {
	store  service.AliasStore
	fuzzy  service.FuzzyAliasSearcher
	now    func() time.Time
	config Config
}

// NewResolver creates a resolver. Fuzzy lookups are enabled when store also
// implements service.FuzzyAliasSearcher.
func NewResolver(store service.AliasStore, config Config) *Resolver {
	if config.FuzzyFloor <= 0 || config.FuzzyFloor > 1 {
		config.FuzzyFloor = DefaultFuzzyFloor
	}
	if config.FuzzyLimit <= 0 {
		config.FuzzyLimit = DefaultFuzzyLimit
	}

	r := &Resolver{
		store:  store,
		config: config,
		now:    time.Now,
	}
	if fuzzy, ok := store.(service.FuzzyAliasSearcher); ok {
		r.fuzzy = fuzzy
	}
	return r
}

// FindBestMatch returns the alias that best explains raw, or nil when none does.
// Exact raw-name matches win over normalized matches, which win over fuzzy ones.
func (r *Resolver) FindBestMatch(ctx context.Context, raw string) (*model.MerchantAlias, error) {
	m, err := r.Lookup(ctx, raw)
	if err != nil || m == nil {
		return nil, err
	}
	return m.Alias, nil
}

// Lookup is FindBestMatch that also reports how the alias was found.
func (r *Resolver) Lookup(ctx context.Context, raw string) (*Match, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	exact, err := r.store.FindAliasByRawName(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to look up alias %q: %w", raw, err)
	}
	if exact != nil {
		return &Match{Alias: exact, Kind: MatchExact, Similarity: 1}, nil
	}

	normalized := merchant.Normalize(raw)
	if normalized == "" {
		return nil, nil
	}

	byNormalized, err := r.store.FindAliasByNormalizedName(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to look up normalized alias %q: %w", normalized, err)
	}
	if byNormalized != nil {
		return &Match{Alias: byNormalized, Kind: MatchNormalized, Similarity: 1}, nil
	}

	return r.fuzzyMatch(ctx, normalized)
}

func (r *Resolver) fuzzyMatch(ctx context.Context, normalized string) (*Match, error) {
	if r.fuzzy == nil {
		return nil, nil
	}

	candidates, err := r.fuzzy.SearchSimilarAliases(ctx, normalized, r.config.FuzzyFloor, r.config.FuzzyLimit)
	if errors.Is(err, service.ErrFuzzyUnavailable) {
		slog.Debug("fuzzy alias search unavailable", "query", normalized)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fuzzy alias search failed: %w", err)
	}

	best := rankCandidates(normalized, candidates, r.config.FuzzyFloor)
	if best == nil {
		return nil, nil
	}

	alias := best.Alias
	return &Match{Alias: &alias, Kind: MatchFuzzy, Similarity: best.Similarity}, nil
}

// rankCandidates orders fuzzy candidates by store similarity, breaking ties by
// Jaro-Winkler distance to the query and then by match count.
func rankCandidates(query string, candidates []service.SimilarAlias, floor float64) *service.SimilarAlias {
	kept := make([]service.SimilarAlias, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity >= floor {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	jw := make(map[int]float64, len(kept))
	for _, c := range kept {
		jw[c.Alias.ID] = smetrics.JaroWinkler(query, c.Alias.NormalizedName, 0.7, 4)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if jw[a.Alias.ID] != jw[b.Alias.ID] {
			return jw[a.Alias.ID] > jw[b.Alias.ID]
		}
		if a.Alias.MatchCount != b.Alias.MatchCount {
			return a.Alias.MatchCount > b.Alias.MatchCount
		}
		return a.Alias.ID < b.Alias.ID
	})

	return &kept[0]
}

// RecordOption customizes RecordAlias.
type RecordOption func(*recordOptions)

type recordOptions struct {
	confidence float64
}

// WithConfidence sets the confidence of a newly created alias, typically the
// similarity score of the fuzzy match that inferred it.
func WithConfidence(c float64) RecordOption {
	return func(o *recordOptions) { o.confidence = c }
}

// RecordAlias finds or creates the alias of raw for m. A new alias starts with
// one match; an existing one is reused through RecordMatch. Blank raw text or
// a nil merchant records nothing.
func (r *Resolver) RecordAlias(ctx context.Context, raw string, m *model.CanonicalMerchant, opts ...RecordOption) (*model.MerchantAlias, error) {
	if strings.TrimSpace(raw) == "" || m == nil {
		return nil, nil
	}

	o := recordOptions{confidence: model.DefaultAliasConfidence}
	for _, opt := range opts {
		opt(&o)
	}
	if o.confidence < 0 || o.confidence > 1 {
		return nil, fmt.Errorf("%w: %.4f", ErrConfidenceOutOfRange, o.confidence)
	}

	existing, err := r.store.FindAlias(ctx, raw, m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up alias %q: %w", raw, err)
	}
	if existing != nil {
		return r.RecordMatch(ctx, existing)
	}

	seen := r.now()
	alias := &model.MerchantAlias{
		RawName:             raw,
		NormalizedName:      merchant.Normalize(raw),
		CanonicalMerchantID: m.ID,
		Confidence:          o.confidence,
		MatchCount:          1,
		LastSeenAt:          &seen,
	}
	if err := r.store.CreateAlias(ctx, alias); err != nil {
		return nil, fmt.Errorf("failed to create alias %q: %w", raw, err)
	}

	slog.Debug("recorded merchant alias",
		"raw", raw,
		"merchant", m.Name,
		"confidence", alias.Confidence)
	return alias, nil
}

// RecordMatch registers one reuse of alias. The store increments the count and
// applies the confidence nudge atomically; alias is refreshed from the result.
func (r *Resolver) RecordMatch(ctx context.Context, alias *model.MerchantAlias) (*model.MerchantAlias, error) {
	if alias == nil {
		return nil, nil
	}

	updated, err := r.store.RecordAliasMatch(ctx, alias.ID, r.now())
	if err != nil {
		return nil, fmt.Errorf("failed to record match for alias %d: %w", alias.ID, err)
	}
	updated.MustBeConsistent()

	*alias = *updated
	return alias, nil
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Alias    *model.MerchantAlias
	Merchant *model.CanonicalMerchant
	Kind     MatchKind
	// Created is set when Resolve had to create a new canonical merchant.
	Created bool
}

// Resolve maps raw to a canonical merchant, learning along the way: exact and
// normalized hits are reused, a fuzzy hit records raw as a new alias of the
// matched merchant with the similarity as its confidence, and no hit at all
// creates a merchant named after raw.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*Resolution, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	match, err := r.Lookup(ctx, raw)
	if err != nil {
		return nil, err
	}

	if match == nil {
		return r.resolveNew(ctx, raw)
	}

	m, err := r.store.GetMerchant(ctx, match.Alias.CanonicalMerchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant %d: %w", match.Alias.CanonicalMerchantID, err)
	}

	var alias *model.MerchantAlias
	if match.Kind == MatchFuzzy {
		alias, err = r.RecordAlias(ctx, raw, m, WithConfidence(match.Similarity))
	} else {
		alias, err = r.RecordMatch(ctx, match.Alias)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("resolved merchant",
		"raw", raw,
		"merchant", m.Name,
		"kind", match.Kind,
		"similarity", match.Similarity)
	return &Resolution{Alias: alias, Merchant: m, Kind: match.Kind}, nil
}

func (r *Resolver) resolveNew(ctx context.Context, raw string) (*Resolution, error) {
	name := strings.TrimSpace(raw)

	m, err := r.store.FindMerchantByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up merchant %q: %w", name, err)
	}
	created := false
	if m == nil {
		if m, err = r.store.CreateMerchant(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to create merchant %q: %w", name, err)
		}
		created = true
		slog.Info("created canonical merchant", "name", name, "id", m.ID)
	}

	alias, err := r.RecordAlias(ctx, raw, m)
	if err != nil {
		return nil, err
	}
	return &Resolution{Alias: alias, Merchant: m, Created: created}, nil
}
