package pattern

// DefaultRules is the built-in starter rule set. Its patterns are system
// patterns: they retire themselves if they keep suggesting the wrong category.
func DefaultRules() *RuleFile {
	return &RuleFile{Categories: []RuleCategory{
		{
			Name:        "Income",
			Description: "Salary, interest, refunds and other money coming in",
			Patterns: []RuleSpec{
				{Type: "regex", Value: `\b(DIRECTDEP|DIRECT\s*DEP|DIR\s*DEP|PAYROLL|SALARY|WAGES)\b`, Weight: 2.0},
				{Type: "regex", Value: `\b(INTEREST|INT\s*EARNED|DIVIDEND)\b`, Weight: 1.5},
				{Type: "regex", Value: `\b(TAX\s*REF|IRS\s*TREAS|STATE\s*TAX\s*REF)\b`, Weight: 2.0},
				{Type: "regex", Value: `\b(SOC\s*SEC|SOCIAL\s*SECURITY|SSA\s*TREAS)\b`, Weight: 2.0},
				{Type: "regex", Value: `\b(PENSION|ANNUITY)\b`, Weight: 1.5},
				{Type: "regex", Value: `\b(REFUND|REIMB|REIMBURSEMENT|CASH\s*BACK)\b`, Weight: 1.2},
			},
		},
		{
			Name:        "Transfers",
			Description: "Money moved between your own accounts",
			Patterns: []RuleSpec{
				{Type: "regex", Value: `\b(TRANSFER|XFER|TFR|ACCOUNT\s*TO\s*ACCOUNT)\b`, Weight: 1.5},
				{Type: "regex", Value: `\bWIRE\s*(IN|OUT|TRANSFER|XFER)\b`, Weight: 1.8},
				{Type: "regex", Value: `\b(TO|FROM)\s*SAVINGS\b`, Weight: 1.2},
				{Type: "regex", Value: `\b(CC\s*PAYMENT|CREDIT\s*CARD\s*PAY|CARD\s*PAYMENT)\b`, Weight: 1.2},
				{Type: "regex", Value: `\b(401K|IRA|ROTH|BROKERAGE)\s*(CONTRIBUTION|TRANSFER|ROLLOVER)\b`, Weight: 1.5},
			},
		},
		{
			Name:        "Cash",
			Description: "ATM withdrawals",
			Patterns: []RuleSpec{
				{Type: "regex", Value: `\b(ATM|CASH\s*WITHDRAWAL)\b`, Weight: 1.5},
			},
		},
		{
			Name:        "Fees",
			Description: "Bank fees and penalties",
			Patterns: []RuleSpec{
				{Type: "regex", Value: `\b(FEE|SERVICE\s*CHG|OVERDRAFT|PENALTY)\b`, Weight: 1.2},
			},
		},
		{
			Name:        "Bills",
			Description: "Recurring bills and subscriptions",
			Patterns: []RuleSpec{
				{Type: "regex", Value: `\b(BILL\s*PAY|AUTOPAY|SUBSCRIPTION)\b`, Weight: 1.0},
				{Type: "regex", Value: `\b(LOAN\s*PMT|MORTGAGE\s*PMT|STUDENT\s*LOAN)\b`, Weight: 1.2},
			},
		},
	}}
}
