package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMerchantAlias_Trustworthy(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		matches    int
		want       bool
	}{
		{name: "high confidence single observation", confidence: 0.95, matches: 1, want: false},
		{name: "many low confidence observations", confidence: 0.6, matches: 100, want: false},
		{name: "established and confident", confidence: 0.85, matches: 5, want: true},
		{name: "exactly at thresholds", confidence: 0.8, matches: 3, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := MerchantAlias{Confidence: tt.confidence, MatchCount: tt.matches}
			assert.Equal(t, tt.want, a.Trustworthy())
		})
	}
}

func TestMerchantAlias_RecordMatch(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("confidence untouched while establishing", func(t *testing.T) {
		a := &MerchantAlias{Confidence: 0.7, MatchCount: 9}
		a.RecordMatch(now)
		assert.Equal(t, 10, a.MatchCount)
		assert.InDelta(t, 0.7, a.Confidence, 1e-9)
		assert.Equal(t, now, *a.LastSeenAt)
	})

	t.Run("confidence rises once established", func(t *testing.T) {
		a := &MerchantAlias{Confidence: 0.7, MatchCount: 10}
		a.RecordMatch(now)
		assert.Equal(t, 11, a.MatchCount)
		assert.InDelta(t, 0.74, a.Confidence, 1e-9)
	})

	t.Run("confidence capped", func(t *testing.T) {
		a := &MerchantAlias{Confidence: 0.93, MatchCount: 20}
		a.RecordMatch(now)
		assert.InDelta(t, AliasConfidenceCap, a.Confidence, 1e-9)
	})

	t.Run("confidence above cap is not lowered", func(t *testing.T) {
		a := &MerchantAlias{Confidence: 1.0, MatchCount: 20}
		a.RecordMatch(now)
		assert.InDelta(t, 1.0, a.Confidence, 1e-9)
	})
}

func TestMerchantAlias_Absorb(t *testing.T) {
	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(48 * time.Hour)

	keep := &MerchantAlias{MatchCount: 10, Confidence: 0.8, LastSeenAt: &earlier}
	other := &MerchantAlias{MatchCount: 5, Confidence: 0.9, LastSeenAt: &later}
	keep.Absorb(other)

	assert.Equal(t, 15, keep.MatchCount)
	assert.InDelta(t, 0.9, keep.Confidence, 1e-9)
	assert.Equal(t, later, *keep.LastSeenAt)
}

func TestLaterOf(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(time.Hour)

	assert.Nil(t, LaterOf(nil, nil))
	assert.Equal(t, &a, LaterOf(&a, nil))
	assert.Equal(t, &b, LaterOf(nil, &b))
	assert.Equal(t, &b, LaterOf(&a, &b))
	assert.Equal(t, &b, LaterOf(&b, &a))
}

func TestMerchantAlias_MustBeConsistentPanics(t *testing.T) {
	assert.Panics(t, func() {
		a := &MerchantAlias{Confidence: 1.2}
		a.MustBeConsistent()
	})
	assert.Panics(t, func() {
		a := &MerchantAlias{Confidence: 0.5, MatchCount: -1}
		a.MustBeConsistent()
	})
}
