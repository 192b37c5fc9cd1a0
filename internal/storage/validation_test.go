package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/esoto/expense-tracker/internal/model"
)

func TestValidateContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	if err := validateContext(nil); !errors.Is(err, ErrNilContext) {
		t.Errorf("validateContext(nil) = %v, want ErrNilContext", err)
	}
	if err := validateContext(context.Background()); err != nil {
		t.Errorf("validateContext(Background) = %v, want nil", err)
	}
}

func TestValidatePattern(t *testing.T) {
	valid := func() *model.Pattern {
		return &model.Pattern{
			CategoryID:       1,
			Type:             model.PatternMerchant,
			Value:            "costco",
			ConfidenceWeight: 1.0,
		}
	}

	tests := []struct {
		mutate  func(*model.Pattern)
		wantErr error
		name    string
	}{
		{name: "valid", mutate: func(*model.Pattern) {}},
		{name: "missing category", mutate: func(p *model.Pattern) { p.CategoryID = 0 }, wantErr: ErrInvalidPattern},
		{name: "unknown type", mutate: func(p *model.Pattern) { p.Type = "vendor" }, wantErr: model.ErrUnknownPatternType},
		{name: "blank value", mutate: func(p *model.Pattern) { p.Value = " " }, wantErr: ErrInvalidPattern},
		{name: "weight too low", mutate: func(p *model.Pattern) { p.ConfidenceWeight = 0 }, wantErr: ErrInvalidPattern},
		{name: "success exceeds usage", mutate: func(p *model.Pattern) { p.SuccessCount = 1 }, wantErr: ErrInvalidPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := validatePattern(p)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("validatePattern() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePattern() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := validatePattern(nil); !errors.Is(err, ErrNilParameter) {
		t.Errorf("validatePattern(nil) = %v, want ErrNilParameter", err)
	}
}

func TestValidateAlias(t *testing.T) {
	tests := []struct {
		alias   *model.MerchantAlias
		wantErr error
		name    string
	}{
		{name: "valid", alias: &model.MerchantAlias{RawName: "SBUX", CanonicalMerchantID: 1, Confidence: 1}},
		{name: "nil", alias: nil, wantErr: ErrNilParameter},
		{name: "blank raw name", alias: &model.MerchantAlias{RawName: " ", CanonicalMerchantID: 1}, wantErr: ErrInvalidAlias},
		{name: "no merchant", alias: &model.MerchantAlias{RawName: "SBUX"}, wantErr: ErrInvalidAlias},
		{name: "negative confidence", alias: &model.MerchantAlias{RawName: "SBUX", CanonicalMerchantID: 1, Confidence: -0.1}, wantErr: ErrInvalidAlias},
		{name: "negative matches", alias: &model.MerchantAlias{RawName: "SBUX", CanonicalMerchantID: 1, MatchCount: -1}, wantErr: ErrInvalidAlias},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAlias(tt.alias)
			if tt.wantErr == nil && err != nil {
				t.Errorf("validateAlias() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("validateAlias() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
