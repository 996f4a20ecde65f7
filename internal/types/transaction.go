package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction indicates whether a transaction moves money out of or into an
// account. The amount itself is always non-negative; sign lives here.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Transaction represents a single bank transaction normalized across providers
type Transaction struct {
	ExternalID         string          `json:"external_id"`
	AccountExternalID  string          `json:"account_external_id"`
	Date               time.Time       `json:"date"`
	ValueDate          time.Time       `json:"value_date"`
	Description        string          `json:"description"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Direction          Direction       `json:"direction"`
	Category           string          `json:"category,omitempty"`
	Reference          string          `json:"reference,omitempty"`
	RunningBalance     decimal.Decimal `json:"running_balance,omitempty"`
	CounterpartyName   string          `json:"counterparty_name,omitempty"`
	CounterpartyNumber string          `json:"counterparty_number,omitempty"`
	CounterpartyIBAN   string          `json:"counterparty_iban,omitempty"`
	Channel            string          `json:"channel,omitempty"`
}

// TransactionQuery describes a transaction history request: an inclusive date
// window plus optional filters and pagination
type TransactionQuery struct {
	AccountExternalID string
	StartDate         time.Time
	EndDate           time.Time
	MinAmount         *decimal.Decimal
	MaxAmount         *decimal.Decimal
	Direction         Direction // empty means both directions
	Page              int
	Limit             int
}

// TransactionPage is one page of transaction history
type TransactionPage struct {
	Items      []Transaction `json:"items"`
	TotalCount int           `json:"total_count"`
	Page       int           `json:"page"`
	TotalPages int           `json:"total_pages"`
}
