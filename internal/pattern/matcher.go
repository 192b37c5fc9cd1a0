package pattern

import (
	"regexp"
	"strings"
	"sync"

	"github.com/esoto/expense-tracker/internal/model"
)

// Matcher evaluates patterns against candidates. Compiled regular expressions
// are cached by pattern value, so one Matcher can be shared between goroutines.
type Matcher struct {
	regexCache sync.Map // pattern value -> *regexp.Regexp, or nil when it fails to compile
}

// NewMatcher creates a new pattern matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

var defaultMatcher = NewMatcher()

// Matches reports whether p applies to candidate using a shared Matcher.
func Matches(p *model.Pattern, candidate Candidate) bool {
	return defaultMatcher.Matches(p, candidate)
}

// Matches reports whether p applies to candidate. The Active flag is not
// consulted; callers filter inactive patterns before matching.
func (m *Matcher) Matches(p *model.Pattern, candidate Candidate) bool {
	if p == nil || candidate == nil {
		return false
	}

	switch p.Type {
	case model.PatternMerchant, model.PatternKeyword:
		text, ok := candidate.MerchantText()
		return ok && containsFold(text, p.Value)
	case model.PatternDescription:
		text, ok := candidate.DescriptionText()
		return ok && containsFold(text, p.Value)
	case model.PatternRegex:
		return m.matchesRegex(p.Value, candidate)
	case model.PatternAmountRange:
		amount, ok := candidate.AmountValue()
		if !ok {
			return false
		}
		r, err := ParseAmountRange(p.Value)
		return err == nil && r.Contains(amount)
	case model.PatternTime:
		ts, ok := candidate.Timestamp()
		if !ok {
			return false
		}
		spec, err := ParseTimeSpec(p.Value)
		return err == nil && spec.Contains(ts)
	}

	return false
}

// MatchesValue adapts v with AsCandidate and matches it against p.
func (m *Matcher) MatchesValue(p *model.Pattern, v any) bool {
	c, ok := AsCandidate(v)
	if !ok {
		return false
	}
	return m.Matches(p, c)
}

// MatchAll returns the active patterns that apply to candidate, preserving order.
func (m *Matcher) MatchAll(patterns []model.Pattern, candidate Candidate) []model.Pattern {
	var matched []model.Pattern
	for i := range patterns {
		if !patterns[i].Active {
			continue
		}
		if m.Matches(&patterns[i], candidate) {
			matched = append(matched, patterns[i])
		}
	}
	return matched
}

func (m *Matcher) matchesRegex(expr string, candidate Candidate) bool {
	re := m.compile(expr)
	if re == nil {
		return false
	}

	merchant, hasMerchant := candidate.MerchantText()
	if hasMerchant && re.MatchString(merchant) {
		return true
	}
	desc, hasDesc := candidate.DescriptionText()
	return hasDesc && desc != merchant && re.MatchString(desc)
}

func (m *Matcher) compile(expr string) *regexp.Regexp {
	if cached, ok := m.regexCache.Load(expr); ok {
		re, _ := cached.(*regexp.Regexp)
		return re
	}

	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		re = nil
	}
	m.regexCache.Store(expr, re)
	return re
}

func containsFold(text, needle string) bool {
	if strings.TrimSpace(text) == "" || strings.TrimSpace(needle) == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(needle))
}
