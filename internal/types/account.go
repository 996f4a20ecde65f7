package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType represents the normalized type of a bank account
type AccountType string

const (
	AccountTypeChecking AccountType = "checking"
	AccountTypeSavings  AccountType = "savings"
	AccountTypeCredit   AccountType = "credit"
	AccountTypeDeposit  AccountType = "deposit"
)

// AccountStatus represents the normalized status of a bank account
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
	AccountStatusBlocked  AccountStatus = "blocked"
)

// Account represents a bank account normalized across providers, independent
// of each provider's wire format
type Account struct {
	ExternalID       string          `json:"external_id"`
	AccountNumber    string          `json:"account_number"`
	IBAN             string          `json:"iban"`
	Name             string          `json:"name"`
	Type             AccountType     `json:"type"`
	Currency         string          `json:"currency"`
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	BlockedAmount    decimal.Decimal `json:"blocked_amount,omitempty"`
	BranchCode       string          `json:"branch_code,omitempty"`
	BranchName       string          `json:"branch_name,omitempty"`
	Status           AccountStatus   `json:"status"`
	OpenedAt         *time.Time      `json:"opened_at,omitempty"`
	LastTransaction  *time.Time      `json:"last_transaction_at,omitempty"`
}
