package alias

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/esoto/expense-tracker/internal/model"
)

// ErrMergeCycle is returned when a merge would make an alias name its own ancestor.
var ErrMergeCycle = errors.New("merge would create a cycle")

// Merge folds other into keep: match counts add up, keep takes the higher
// confidence and the later last-seen time, and other is deleted. The store
// applies all of it in one transaction and keep is refreshed in place.
//
// Merging an alias into itself, or aliases of different merchants, does
// nothing and reports false.
func (r *Resolver) Merge(ctx context.Context, keep, other *model.MerchantAlias) (bool, error) {
	if keep == nil || other == nil || keep.ID == other.ID {
		return false, nil
	}
	if keep.CanonicalMerchantID != other.CanonicalMerchantID {
		slog.Warn("refusing to merge aliases of different merchants",
			"keep", keep.RawName,
			"keep_merchant_id", keep.CanonicalMerchantID,
			"other", other.RawName,
			"other_merchant_id", other.CanonicalMerchantID)
		return false, nil
	}

	if err := r.checkCycle(ctx, keep, other); err != nil {
		return false, err
	}

	edge := &model.AliasMerge{
		ID:                  uuid.New().String(),
		SourceRawName:       other.RawName,
		TargetRawName:       keep.RawName,
		TargetAliasID:       keep.ID,
		CanonicalMerchantID: keep.CanonicalMerchantID,
		MergedAt:            r.now(),
	}

	merged, err := r.store.MergeAliases(ctx, keep.ID, other.ID, edge)
	if err != nil {
		return false, fmt.Errorf("failed to merge alias %d into %d: %w", other.ID, keep.ID, err)
	}
	merged.MustBeConsistent()
	*keep = *merged

	slog.Info("merged merchant aliases",
		"kept", keep.RawName,
		"removed", other.RawName,
		"match_count", keep.MatchCount,
		"confidence", keep.Confidence)
	return true, nil
}

// checkCycle rejects a merge of other into keep when keep's raw name already
// leads, through earlier merges, back to other's raw name.
func (r *Resolver) checkCycle(ctx context.Context, keep, other *model.MerchantAlias) error {
	if keep.RawName == other.RawName {
		return fmt.Errorf("%w: %q merged into itself", ErrMergeCycle, keep.RawName)
	}

	history, err := r.store.GetAliasMerges(ctx, keep.CanonicalMerchantID)
	if err != nil {
		return fmt.Errorf("failed to load merge history: %w", err)
	}

	next := make(map[string][]string, len(history))
	for _, h := range history {
		next[h.SourceRawName] = append(next[h.SourceRawName], h.TargetRawName)
	}

	seen := map[string]bool{keep.RawName: true}
	queue := []string{keep.RawName}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, target := range next[name] {
			if target == other.RawName {
				return fmt.Errorf("%w: %q already merged into %q", ErrMergeCycle, keep.RawName, other.RawName)
			}
			if !seen[target] {
				seen[target] = true
				queue = append(queue, target)
			}
		}
	}
	return nil
}

// Deduplicate merges aliases of one merchant that share a normalized name.
// Each group collapses into its most-used member, unless merge history
// already folded that member's raw name into another one of the group, in
// which case the earlier target survives. progress, when non-nil, is
// called after each group with the number of groups done and the total.
// It returns how many aliases were removed.
func (r *Resolver) Deduplicate(ctx context.Context, merchantID int, progress func(done, total int)) (int, error) {
	aliases, err := r.store.GetAliasesByMerchant(ctx, merchantID)
	if err != nil {
		return 0, fmt.Errorf("failed to load aliases for merchant %d: %w", merchantID, err)
	}

	groups := make(map[string][]model.MerchantAlias)
	var order []string
	for _, a := range aliases {
		if _, ok := groups[a.NormalizedName]; !ok {
			order = append(order, a.NormalizedName)
		}
		groups[a.NormalizedName] = append(groups[a.NormalizedName], a)
	}

	var dupes []string
	for _, name := range order {
		if len(groups[name]) > 1 {
			dupes = append(dupes, name)
		}
	}

	removed := 0
	for i, name := range dupes {
		group := groups[name]
		sort.SliceStable(group, func(a, b int) bool {
			if group[a].MatchCount != group[b].MatchCount {
				return group[a].MatchCount > group[b].MatchCount
			}
			return group[a].ID < group[b].ID
		})

		keep := group[0]
		for j := 1; j < len(group); j++ {
			other := group[j]
			merged, err := r.Merge(ctx, &keep, &other)
			if errors.Is(err, ErrMergeCycle) {
				// An earlier merge went the other way, so its target survives.
				merged, err = r.Merge(ctx, &other, &keep)
				if err == nil && merged {
					keep = other
				}
			}
			if errors.Is(err, ErrMergeCycle) {
				slog.Warn("skipping alias merge", "keep", keep.RawName, "other", other.RawName, "error", err)
				continue
			}
			if err != nil {
				return removed, err
			}
			if merged {
				removed++
			}
		}

		if progress != nil {
			progress(i+1, len(dupes))
		}
	}

	return removed, nil
}
