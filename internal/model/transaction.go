package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents a single financial transaction from any source.
type Transaction struct {
	Date         time.Time
	Amount       decimal.Decimal
	ID           string
	Name         string // Raw transaction description
	MerchantName string // Cleaned merchant name
	Description  string // Memo or free-text description
	AccountID    string
	Hash         string
	Type         string // Transaction type (e.g., DEBIT, CHECK, PAYMENT, ATM)
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount.StringFixed(2),
		t.MerchantName,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// MerchantText returns the merchant name, falling back to the raw name.
func (t Transaction) MerchantText() (string, bool) {
	if s := strings.TrimSpace(t.MerchantName); s != "" {
		return t.MerchantName, true
	}
	if s := strings.TrimSpace(t.Name); s != "" {
		return t.Name, true
	}
	return "", false
}

// DescriptionText returns the description, falling back to the raw name.
func (t Transaction) DescriptionText() (string, bool) {
	if s := strings.TrimSpace(t.Description); s != "" {
		return t.Description, true
	}
	if s := strings.TrimSpace(t.Name); s != "" {
		return t.Name, true
	}
	return "", false
}

// AmountValue returns the transaction amount.
func (t Transaction) AmountValue() (decimal.Decimal, bool) {
	return t.Amount, true
}

// Timestamp returns the transaction date when it is set.
func (t Transaction) Timestamp() (time.Time, bool) {
	return t.Date, !t.Date.IsZero()
}
