package model

import (
	"fmt"
	"time"
)

// Alias confidence thresholds.
const (
	// DefaultAliasConfidence is used when an alias is assigned explicitly.
	DefaultAliasConfidence = 1.0
	// AliasConfidenceCap bounds the reuse-driven confidence nudge.
	AliasConfidenceCap = 0.95
	// AliasConfidenceStep is added per reuse once an alias is established.
	AliasConfidenceStep = 0.04
	// AliasEstablishedMatches is the match count above which reuse raises confidence.
	AliasEstablishedMatches = 10
	// HighConfidenceThreshold is the minimum confidence of a trustworthy alias.
	HighConfidenceThreshold = 0.8
	// TrustworthyMinMatches is the minimum match count of a trustworthy alias.
	TrustworthyMinMatches = 3
)

// CanonicalMerchant is the authoritative merchant a family of raw strings resolves to.
type CanonicalMerchant struct {
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Name           string
	NormalizedName string
	ID             int
	UsageCount     int
}

// MerchantAlias maps one observed raw merchant string to a canonical merchant.
type MerchantAlias struct {
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastSeenAt          *time.Time
	RawName             string
	NormalizedName      string
	ID                  int
	CanonicalMerchantID int
	MatchCount          int
	Confidence          float64
}

// Trustworthy reports whether the alias has both high confidence and repeated use.
func (a *MerchantAlias) Trustworthy() bool {
	return a.Confidence >= HighConfidenceThreshold && a.MatchCount >= TrustworthyMinMatches
}

// RecordMatch registers one reuse of the alias at the given time.
func (a *MerchantAlias) RecordMatch(now time.Time) {
	a.MatchCount++
	seen := now
	a.LastSeenAt = &seen
	if a.MatchCount > AliasEstablishedMatches && a.Confidence < AliasConfidenceCap {
		a.Confidence = min(a.Confidence+AliasConfidenceStep, AliasConfidenceCap)
	}
	a.MustBeConsistent()
}

// Absorb folds other's history into a. Callers must check that both aliases
// belong to the same canonical merchant.
func (a *MerchantAlias) Absorb(other *MerchantAlias) {
	a.MatchCount += other.MatchCount
	a.Confidence = max(a.Confidence, other.Confidence)
	a.LastSeenAt = LaterOf(a.LastSeenAt, other.LastSeenAt)
	a.MustBeConsistent()
}

// MustBeConsistent panics if the alias holds out-of-range values.
func (a *MerchantAlias) MustBeConsistent() {
	if a.Confidence < 0 || a.Confidence > 1 {
		panic(fmt.Sprintf("alias %d: confidence %.4f outside [0,1]", a.ID, a.Confidence))
	}
	if a.MatchCount < 0 {
		panic(fmt.Sprintf("alias %d: negative match count %d", a.ID, a.MatchCount))
	}
}

// LaterOf returns the more recent of two optional timestamps.
func LaterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}

// AliasMerge records that the alias SourceRawName was folded into TargetAliasID.
type AliasMerge struct {
	MergedAt            time.Time
	ID                  string
	SourceRawName       string
	TargetRawName       string
	TargetAliasID       int
	CanonicalMerchantID int
}
