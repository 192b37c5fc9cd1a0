// Package ofx reads OFX/QFX statements into transactions that can be
// classified against stored patterns.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/esoto/expense-tracker/internal/model"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening tags left without a closing bracket at the end of a line.
	openTagRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	datePrefix   = regexp.MustCompile(`^\d{2}/\d{2}\s+`)
)

var merchantPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

var genericNames = map[string]bool{
	"DEBIT":           true,
	"CREDIT":          true,
	"PURCHASE":        true,
	"PAYMENT":         true,
	"POS TRANSACTION": true,
	"CARD PURCHASE":   true,
}

// Parser converts OFX bank and credit card statements.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

// preprocess repairs formatting that real bank exports get wrong.
func (p *Parser) preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return openTagRegex.ReplaceAllString(content, "$1>")
}

// Parse reads every bank and credit card transaction in the statement.
func (p *Parser) Parse(ctx context.Context, reader io.Reader) ([]model.Transaction, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var transactions []model.Transaction
	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		transactions = append(transactions, p.convertAll(stmt.BankTranList.Transactions, string(stmt.BankAcctFrom.AcctID))...)
	}
	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		transactions = append(transactions, p.convertAll(stmt.BankTranList.Transactions, string(stmt.CCAcctFrom.AcctID))...)
	}

	slog.Debug("parsed OFX file", "transactions", len(transactions))
	return transactions, nil
}

func (p *Parser) convertAll(txns []ofxgo.Transaction, accountID string) []model.Transaction {
	out := make([]model.Transaction, 0, len(txns))
	for _, t := range txns {
		out = append(out, p.convert(t, accountID))
	}
	return out
}

// convert maps one OFX transaction. Amounts are stored unsigned; OFX marks
// debits negative.
func (p *Parser) convert(t ofxgo.Transaction, accountID string) model.Transaction {
	tx := model.Transaction{
		ID:           string(t.FiTID),
		Date:         t.DtPosted.Time,
		Name:         string(t.Name),
		MerchantName: p.extractMerchantName(t),
		Description:  strings.TrimSpace(string(t.Memo)),
		Amount:       amountOf(t.TrnAmt),
		AccountID:    accountID,
		Type:         t.TrnType.String(),
	}
	tx.Hash = tx.GenerateHash()
	return tx
}

// amountOf converts the exact OFX amount, rounded to cents.
func amountOf(a ofxgo.Amount) decimal.Decimal {
	d, err := decimal.NewFromString(a.Rat.FloatString(2))
	if err != nil {
		return decimal.Zero
	}
	return d.Abs()
}

// extractMerchantName prefers PAYEE, then NAME with card-network prefixes
// removed, then MEMO when NAME says nothing useful.
func (p *Parser) extractMerchantName(t ofxgo.Transaction) string {
	if t.Payee != nil && t.Payee.Name != "" {
		return strings.TrimSpace(string(t.Payee.Name))
	}

	name := string(t.Name)
	if t.Memo != "" && genericNames[strings.ToUpper(strings.TrimSpace(name))] {
		name = string(t.Memo)
	}
	name = strings.TrimSpace(name)

	upper := strings.ToUpper(name)
	for _, prefix := range merchantPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	return strings.TrimSpace(datePrefix.ReplaceAllString(name, ""))
}
