package pattern

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field names understood by Fields.
const (
	FieldMerchantName    = "merchant_name"
	FieldDescription     = "description"
	FieldAmount          = "amount"
	FieldTransactionDate = "transaction_date"
)

// Text is a bare string candidate. Its text serves as both merchant and description.
type Text string

// MerchantText implements Candidate.
func (t Text) MerchantText() (string, bool) { return nonBlank(string(t)) }

// DescriptionText implements Candidate.
func (t Text) DescriptionText() (string, bool) { return nonBlank(string(t)) }

// AmountValue implements Candidate.
func (Text) AmountValue() (decimal.Decimal, bool) { return decimal.Zero, false }

// Timestamp implements Candidate.
func (Text) Timestamp() (time.Time, bool) { return time.Time{}, false }

// Number is a bare numeric candidate, compared directly by amount_range patterns.
type Number decimal.Decimal

// MerchantText implements Candidate.
func (Number) MerchantText() (string, bool) { return "", false }

// DescriptionText implements Candidate.
func (Number) DescriptionText() (string, bool) { return "", false }

// AmountValue implements Candidate.
func (n Number) AmountValue() (decimal.Decimal, bool) { return decimal.Decimal(n), true }

// Timestamp implements Candidate.
func (Number) Timestamp() (time.Time, bool) { return time.Time{}, false }

// Fields is a map candidate keyed by merchant_name, description, amount and transaction_date.
type Fields map[string]any

// MerchantText implements Candidate.
func (f Fields) MerchantText() (string, bool) { return f.text(FieldMerchantName) }

// DescriptionText implements Candidate.
func (f Fields) DescriptionText() (string, bool) { return f.text(FieldDescription) }

// AmountValue implements Candidate.
func (f Fields) AmountValue() (decimal.Decimal, bool) {
	v, ok := f[FieldAmount]
	if !ok {
		return decimal.Zero, false
	}
	return toDecimal(v)
}

// Timestamp implements Candidate.
func (f Fields) Timestamp() (time.Time, bool) {
	switch v := f[FieldTransactionDate].(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, !v.IsZero()
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04", "2006-01-02"} {
			if ts, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

func (f Fields) text(key string) (string, bool) {
	switch v := f[key].(type) {
	case string:
		return nonBlank(v)
	case *string:
		if v == nil {
			return "", false
		}
		return nonBlank(*v)
	}
	return "", false
}

// AsCandidate adapts common Go values to Candidate: strings, numbers,
// decimals, maps, and anything already implementing Candidate.
func AsCandidate(v any) (Candidate, bool) {
	switch c := v.(type) {
	case nil:
		return nil, false
	case Candidate:
		return c, true
	case string:
		return Text(c), true
	case map[string]any:
		return Fields(c), true
	case map[string]string:
		f := make(Fields, len(c))
		for k, s := range c {
			f[k] = s
		}
		return f, true
	}

	if d, ok := toDecimal(v); ok {
		return Number(d), true
	}
	return nil, false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero, false
		}
		return *n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case int32:
		return decimal.NewFromInt32(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	}
	return decimal.Zero, false
}

func nonBlank(s string) (string, bool) {
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}
