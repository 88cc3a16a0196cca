// Package banking holds the linked-account domain entities mirrored from the
// aggregation backend.
package banking

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankAccount represents one account under a linked item.
type BankAccount struct {
	AccountID        string              `json:"account_id"`
	ItemID           string              `json:"item_id"`
	InstitutionID    string              `json:"institution_id"`
	InstitutionName  string              `json:"institution_name"`
	Name             string              `json:"name"`
	OfficialName     string              `json:"official_name,omitempty"`
	Type             string              `json:"type"`
	Subtype          string              `json:"subtype"`
	Mask             string              `json:"mask"` // last 4 digits
	CurrencyCode     string              `json:"iso_currency_code"`
	CurrentBalance   decimal.NullDecimal `json:"current_balance"`
	AvailableBalance decimal.NullDecimal `json:"available_balance"`
	CreatedAt        *time.Time          `json:"created_at,omitempty"`
	UpdatedAt        *time.Time          `json:"updated_at,omitempty"`
}

// Balance returns the current balance, treating a missing value as zero.
func (a BankAccount) Balance() decimal.Decimal {
	if !a.CurrentBalance.Valid {
		return decimal.Zero
	}
	return a.CurrentBalance.Decimal
}

// Transaction is one ledger entry reported for a linked account. The sign of
// Amount follows the provider convention and is never flipped locally.
type Transaction struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Date          string          `json:"date"` // YYYY-MM-DD as reported by the provider
	Name          string          `json:"name"`
	MerchantName  string          `json:"merchant_name,omitempty"`
	Category      string          `json:"category,omitempty"`
	Pending       bool            `json:"pending"`
	CreatedAt     *time.Time      `json:"created_at,omitempty"`
	UpdatedAt     *time.Time      `json:"updated_at,omitempty"`
}

// TotalBalance sums the current balances of accounts. Missing balances count as zero.
func TotalBalance(accounts []BankAccount) decimal.Decimal {
	total := decimal.Zero
	for _, acc := range accounts {
		total = total.Add(acc.Balance())
	}
	return total
}

// WithoutAccount returns the accounts and transactions that do not belong to accountID.
// The inputs are not modified.
func WithoutAccount(accounts []BankAccount, transactions []Transaction, accountID string) ([]BankAccount, []Transaction) {
	keptAccounts := make([]BankAccount, 0, len(accounts))
	for _, acc := range accounts {
		if acc.AccountID != accountID {
			keptAccounts = append(keptAccounts, acc)
		}
	}

	keptTransactions := make([]Transaction, 0, len(transactions))
	for _, tx := range transactions {
		if tx.AccountID != accountID {
			keptTransactions = append(keptTransactions, tx)
		}
	}

	return keptAccounts, keptTransactions
}

// Reorder maps orderedIDs onto accounts. Unknown ids are dropped, accounts
// missing from orderedIDs are left out.
func Reorder(accounts []BankAccount, orderedIDs []string) []BankAccount {
	byID := make(map[string]BankAccount, len(accounts))
	for _, acc := range accounts {
		byID[acc.AccountID] = acc
	}

	ordered := make([]BankAccount, 0, len(orderedIDs))
	seen := make(map[string]struct{}, len(orderedIDs))
	for _, id := range orderedIDs {
		acc, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, acc)
	}
	return ordered
}
