package pattern

import (
	"fmt"
	"sort"

	"github.com/esoto/expense-tracker/internal/model"
)

// Rank folds matched patterns into one suggestion per category. A category
// scores the best effective confidence among its patterns; suggestions are
// ordered by that score, then by the best pattern's usage count, then by
// pattern ID so the order is stable.
func Rank(matched []model.Pattern) []Suggestion {
	type group struct {
		best  *model.Pattern
		score float64
		count int
	}

	groups := make(map[int]*group)
	for i := range matched {
		p := &matched[i]
		score := EffectiveConfidence(p)

		g, ok := groups[p.CategoryID]
		if !ok {
			groups[p.CategoryID] = &group{best: p, score: score, count: 1}
			continue
		}
		g.count++
		if beats(p, score, g.best, g.score) {
			g.best, g.score = p, score
		}
	}

	suggestions := make([]Suggestion, 0, len(groups))
	usage := make(map[int]int, len(groups))
	for categoryID, g := range groups {
		suggestions = append(suggestions, Suggestion{
			CategoryID:      categoryID,
			PatternID:       g.best.ID,
			MatchedPatterns: g.count,
			Confidence:      g.score,
			Reason:          reason(g.best, g.count),
		})
		usage[g.best.ID] = g.best.UsageCount
	}

	sort.Slice(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if usage[a.PatternID] != usage[b.PatternID] {
			return usage[a.PatternID] > usage[b.PatternID]
		}
		return a.PatternID < b.PatternID
	})

	return suggestions
}

func beats(p *model.Pattern, score float64, best *model.Pattern, bestScore float64) bool {
	if score != bestScore {
		return score > bestScore
	}
	if p.UsageCount != best.UsageCount {
		return p.UsageCount > best.UsageCount
	}
	return p.ID < best.ID
}

func reason(p *model.Pattern, matched int) string {
	var r string
	switch p.Type {
	case model.PatternMerchant, model.PatternKeyword:
		r = fmt.Sprintf("merchant contains %q", p.Value)
	case model.PatternDescription:
		r = fmt.Sprintf("description contains %q", p.Value)
	case model.PatternRegex:
		r = fmt.Sprintf("text matches /%s/", p.Value)
	case model.PatternAmountRange:
		r = fmt.Sprintf("amount within %s", p.Value)
	case model.PatternTime:
		r = fmt.Sprintf("time within %s", p.Value)
	default:
		r = fmt.Sprintf("%s pattern %q", p.Type, p.Value)
	}

	if p.UsageCount < SparseDataThreshold {
		r += " (new pattern)"
	} else {
		r += fmt.Sprintf(" (%.0f%% correct over %d uses)", p.SuccessRate*100, p.UsageCount)
	}
	if matched > 1 {
		r += fmt.Sprintf(", %d patterns agree", matched)
	}
	return r
}
