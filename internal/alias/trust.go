package alias

import "github.com/esoto/expense-tracker/internal/model"

// Trustworthy reports whether alias can be relied on without review: it needs
// both high confidence and repeated matches.
func Trustworthy(alias *model.MerchantAlias) bool {
	return alias != nil && alias.Trustworthy()
}
