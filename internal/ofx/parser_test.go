package ofx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Sample OFX data for testing.
const sampleBankOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>1234567890
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-25.50
<FITID>2024011501
<NAME>STARBUCKS STORE #1234
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240120120000[0:GMT]
<TRNAMT>-125.00
<FITID>2024012001
<NAME>DEBIT
<MEMO>WHOLE FOODS MARKET 10234
</STMTTRN>
<STMTTRN>
<TRNTYPE>CHECK
<DTPOSTED>20240125120000[0:GMT]
<TRNAMT>-500.00
<FITID>2024012501
<CHECKNUM>1234
<NAME>CHECK #1234
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

const sampleCreditCardOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>USD
<CCACCTFROM>
<ACCTID>4111111111111111
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240110120000[0:GMT]
<TRNAMT>-45.99
<FITID>CC2024011001
<NAME>AMAZON.COM*RT4Y7HG2
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-15.00
<FITID>CC2024011501
<NAME>NETFLIX.COM
<MEMO>Monthly subscription
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-500.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`

func TestParse(t *testing.T) {
	tests := []struct {
		name          string
		ofxData       string
		expectedCount int
		expectedError bool
	}{
		{name: "bank statement", ofxData: sampleBankOFX, expectedCount: 3},
		{name: "credit card statement", ofxData: sampleCreditCardOFX, expectedCount: 2},
		{name: "invalid OFX data", ofxData: "not valid OFX", expectedError: true},
		{name: "empty OFX", ofxData: "", expectedError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transactions, err := NewParser().Parse(context.Background(), strings.NewReader(tt.ofxData))
			if tt.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, transactions, tt.expectedCount)
		})
	}
}

func TestParseBankTransactions(t *testing.T) {
	transactions, err := NewParser().Parse(context.Background(), strings.NewReader(sampleBankOFX))
	require.NoError(t, err)
	require.Len(t, transactions, 3)

	coffee := transactions[0]
	assert.Equal(t, "2024011501", coffee.ID)
	assert.Equal(t, "STARBUCKS STORE #1234", coffee.MerchantName)
	assert.True(t, decimal.RequireFromString("25.50").Equal(coffee.Amount), coffee.Amount.String())
	assert.Equal(t, "1234567890", coffee.AccountID)
	assert.Equal(t, "DEBIT", coffee.Type)
	assert.Equal(t, 2024, coffee.Date.Year())
	assert.Equal(t, time.January, coffee.Date.Month())
	assert.Equal(t, 15, coffee.Date.Day())
	assert.NotEmpty(t, coffee.Hash)

	groceries := transactions[1]
	assert.Equal(t, "DEBIT", groceries.Name)
	assert.Equal(t, "WHOLE FOODS MARKET 10234", groceries.MerchantName)
	assert.Equal(t, "WHOLE FOODS MARKET 10234", groceries.Description)
	assert.True(t, decimal.NewFromInt(125).Equal(groceries.Amount))

	check := transactions[2]
	assert.Equal(t, "CHECK #1234", check.Name)
	assert.True(t, decimal.NewFromInt(500).Equal(check.Amount))
}

func TestParseCreditCardTransactions(t *testing.T) {
	transactions, err := NewParser().Parse(context.Background(), strings.NewReader(sampleCreditCardOFX))
	require.NoError(t, err)
	require.Len(t, transactions, 2)

	assert.Equal(t, "AMAZON.COM*RT4Y7HG2", transactions[0].MerchantName)
	assert.Equal(t, "4111111111111111", transactions[0].AccountID)
	assert.True(t, decimal.RequireFromString("45.99").Equal(transactions[0].Amount))

	desc, ok := transactions[1].DescriptionText()
	assert.True(t, ok)
	assert.Equal(t, "Monthly subscription", desc)
}

func TestParseCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewParser().Parse(ctx, strings.NewReader(sampleBankOFX))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPreprocessRepairsTags(t *testing.T) {
	in := "\n\n<OFX>\n<SEVERITY>Info</SEVERITY>\n<CODE\n"
	out := NewParser().preprocess(in)
	assert.True(t, strings.HasPrefix(out, "<OFX>"))
	assert.Contains(t, out, "<SEVERITY>INFO</SEVERITY>")
	assert.Contains(t, out, "<CODE>")
}

func TestExtractMerchantName(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name     string
		tx       ofxgo.Transaction
		expected string
	}{
		{"remove POS prefix", ofxgo.Transaction{Name: "POS PURCHASE STARBUCKS"}, "STARBUCKS"},
		{"remove DEBIT CARD prefix", ofxgo.Transaction{Name: "DEBIT CARD PURCHASE WHOLE FOODS"}, "WHOLE FOODS"},
		{"keep clean name", ofxgo.Transaction{Name: "NETFLIX.COM"}, "NETFLIX.COM"},
		{"trim whitespace", ofxgo.Transaction{Name: "  AMAZON.COM  "}, "AMAZON.COM"},
		{"strip leading date", ofxgo.Transaction{Name: "PURCHASE AUTHORIZED ON 01/15 SHELL OIL"}, "SHELL OIL"},
		{"generic name uses memo", ofxgo.Transaction{Name: "PAYMENT", Memo: "CITY WATER DEPT"}, "CITY WATER DEPT"},
		{"payee wins", ofxgo.Transaction{Name: "POS 123", Payee: &ofxgo.Payee{Name: "Corner Bakery"}}, "Corner Bakery"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parser.extractMerchantName(tt.tx))
		})
	}
}
