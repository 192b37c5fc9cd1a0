package merchant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "whitespace only", in: "  \t\n ", want: ""},
		{name: "lowercases", in: "STARBUCKS", want: "starbucks"},
		{name: "strips punctuation", in: "McDonald's", want: "mcdonalds"},
		{name: "keeps digits", in: "7-Eleven #1234", want: "7eleven 1234"},
		{name: "collapses whitespace", in: "  Whole   Foods\tMarket  ", want: "whole foods market"},
		{name: "folds diacritics", in: "Café Crème", want: "cafe creme"},
		{name: "processor noise", in: "SQ *BLUE BOTTLE COFFEE", want: "sq blue bottle coffee"},
		{name: "punctuation only", in: "***", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"AMZN Mktp US*2K4",
		"Café  Crème",
		"Ünïcödé   STORE!!",
		"PAYPAL *NETFLIX.COM 408-5551234",
		"東京 ストア",
		"   leading and trailing   ",
	}

	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}
