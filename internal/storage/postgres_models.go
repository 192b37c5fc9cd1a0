package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/esoto/expense-tracker/internal/model"
)

// Row types for the Postgres backend. Booleans carry no default tag: gorm
// skips zero values for defaulted columns, which would turn false into true.

type categoryRow struct {
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null"`
	Name        string    `gorm:"column:name;type:text;uniqueIndex:uk_categories_name;not null"`
	Description string    `gorm:"column:description;type:text;not null"`
	ID          int       `gorm:"column:id;primaryKey;autoIncrement"`
	IsActive    bool      `gorm:"column:is_active;not null"`
}

type patternRow struct {
	CreatedAt        time.Time      `gorm:"column:created_at;type:timestamptz;not null"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;type:timestamptz;not null"`
	Category         *categoryRow   `gorm:"foreignKey:CategoryID;constraint:OnDelete:RESTRICT"`
	Type             string         `gorm:"column:pattern_type;type:text;uniqueIndex:uk_patterns_key,priority:2;not null;check:chk_patterns_type,pattern_type IN ('merchant','keyword','description','amount_range','regex','time')"`
	Value            string         `gorm:"column:pattern_value;type:text;uniqueIndex:uk_patterns_key,priority:3;not null"`
	Metadata         datatypes.JSON `gorm:"column:metadata;type:jsonb;not null"`
	ID               int            `gorm:"column:id;primaryKey;autoIncrement"`
	CategoryID       int            `gorm:"column:category_id;uniqueIndex:uk_patterns_key,priority:1;not null"`
	ConfidenceWeight float64        `gorm:"column:confidence_weight;type:double precision;not null;check:chk_patterns_weight,confidence_weight >= 0.1 AND confidence_weight <= 5.0"`
	SuccessRate      float64        `gorm:"column:success_rate;type:double precision;not null"`
	UsageCount       int            `gorm:"column:usage_count;not null;check:chk_patterns_usage,usage_count >= 0"`
	SuccessCount     int            `gorm:"column:success_count;not null;check:chk_patterns_success,success_count >= 0 AND success_count <= usage_count"`
	Active           bool           `gorm:"column:active;not null;index:idx_patterns_active"`
	UserCreated      bool           `gorm:"column:user_created;not null"`
}

type merchantRow struct {
	CreatedAt      time.Time `gorm:"column:created_at;type:timestamptz;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;type:timestamptz;not null"`
	Name           string    `gorm:"column:name;type:text;uniqueIndex:uk_canonical_merchants_name;not null"`
	NormalizedName string    `gorm:"column:normalized_name;type:text;index:idx_canonical_merchants_normalized;not null"`
	ID             int       `gorm:"column:id;primaryKey;autoIncrement"`
	UsageCount     int       `gorm:"column:usage_count;not null"`
}

type aliasRow struct {
	CreatedAt           time.Time    `gorm:"column:created_at;type:timestamptz;not null"`
	UpdatedAt           time.Time    `gorm:"column:updated_at;type:timestamptz;not null"`
	LastSeenAt          *time.Time   `gorm:"column:last_seen_at;type:timestamptz"`
	Merchant            *merchantRow `gorm:"foreignKey:CanonicalMerchantID;constraint:OnDelete:CASCADE"`
	RawName             string       `gorm:"column:raw_name;type:text;uniqueIndex:uk_merchant_aliases_raw,priority:1;not null"`
	NormalizedName      string       `gorm:"column:normalized_name;type:text;index:idx_merchant_aliases_normalized;not null"`
	ID                  int          `gorm:"column:id;primaryKey;autoIncrement"`
	CanonicalMerchantID int          `gorm:"column:canonical_merchant_id;uniqueIndex:uk_merchant_aliases_raw,priority:2;index:idx_merchant_aliases_merchant;not null"`
	MatchCount          int          `gorm:"column:match_count;not null;check:chk_merchant_aliases_matches,match_count >= 0"`
	Confidence          float64      `gorm:"column:confidence;type:double precision;not null;check:chk_merchant_aliases_confidence,confidence >= 0 AND confidence <= 1"`
}

type aliasMergeRow struct {
	MergedAt            time.Time    `gorm:"column:merged_at;type:timestamptz;not null"`
	Merchant            *merchantRow `gorm:"foreignKey:CanonicalMerchantID;constraint:OnDelete:CASCADE"`
	ID                  string       `gorm:"column:id;type:text;primaryKey"`
	SourceRawName       string       `gorm:"column:source_raw_name;type:text;not null"`
	TargetRawName       string       `gorm:"column:target_raw_name;type:text;not null"`
	TargetAliasID       int          `gorm:"column:target_alias_id;not null"`
	CanonicalMerchantID int          `gorm:"column:canonical_merchant_id;index:idx_alias_merges_merchant;not null"`
}

// scoredAliasRow is an alias with the similarity score of a fuzzy query.
type scoredAliasRow struct {
	aliasRow
	Score float64 `gorm:"column:score"`
}

func (categoryRow) TableName() string   { return "categories" }
func (patternRow) TableName() string    { return "patterns" }
func (merchantRow) TableName() string   { return "canonical_merchants" }
func (aliasRow) TableName() string      { return "merchant_aliases" }
func (aliasMergeRow) TableName() string { return "alias_merges" }

func (r *categoryRow) toModel() *model.Category {
	return &model.Category{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
		IsActive:    r.IsActive,
	}
}

func newPatternRow(p *model.Pattern) (*patternRow, error) {
	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return nil, err
	}
	return &patternRow{
		ID:               p.ID,
		CategoryID:       p.CategoryID,
		Type:             string(p.Type),
		Value:            p.Value,
		ConfidenceWeight: p.ConfidenceWeight,
		UsageCount:       p.UsageCount,
		SuccessCount:     p.SuccessCount,
		SuccessRate:      p.SuccessRate,
		Active:           p.Active,
		UserCreated:      p.UserCreated,
		Metadata:         datatypes.JSON(metadata),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}, nil
}

func (r *patternRow) toModel() (*model.Pattern, error) {
	p := &model.Pattern{
		ID:               r.ID,
		CategoryID:       r.CategoryID,
		Type:             model.PatternType(r.Type),
		Value:            r.Value,
		ConfidenceWeight: r.ConfidenceWeight,
		UsageCount:       r.UsageCount,
		SuccessCount:     r.SuccessCount,
		SuccessRate:      r.SuccessRate,
		Active:           r.Active,
		UserCreated:      r.UserCreated,
		Metadata:         map[string]string{},
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("pattern %d has corrupt metadata: %w", r.ID, err)
		}
	}
	return p, nil
}

func (r *merchantRow) toModel() *model.CanonicalMerchant {
	return &model.CanonicalMerchant{
		ID:             r.ID,
		Name:           r.Name,
		NormalizedName: r.NormalizedName,
		UsageCount:     r.UsageCount,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func newAliasRow(a *model.MerchantAlias) *aliasRow {
	return &aliasRow{
		ID:                  a.ID,
		RawName:             a.RawName,
		NormalizedName:      a.NormalizedName,
		CanonicalMerchantID: a.CanonicalMerchantID,
		Confidence:          a.Confidence,
		MatchCount:          a.MatchCount,
		LastSeenAt:          a.LastSeenAt,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

func (r *aliasRow) toModel() *model.MerchantAlias {
	return &model.MerchantAlias{
		ID:                  r.ID,
		RawName:             r.RawName,
		NormalizedName:      r.NormalizedName,
		CanonicalMerchantID: r.CanonicalMerchantID,
		Confidence:          r.Confidence,
		MatchCount:          r.MatchCount,
		LastSeenAt:          r.LastSeenAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func (r *aliasMergeRow) toModel() model.AliasMerge {
	return model.AliasMerge{
		ID:                  r.ID,
		SourceRawName:       r.SourceRawName,
		TargetRawName:       r.TargetRawName,
		TargetAliasID:       r.TargetAliasID,
		CanonicalMerchantID: r.CanonicalMerchantID,
		MergedAt:            r.MergedAt,
	}
}
