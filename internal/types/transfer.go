package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferType selects the domestic payment rail used for a transfer
type TransferType string

const (
	TransferTypeEFT     TransferType = "eft"
	TransferTypeWire    TransferType = "wire"
	TransferTypeInstant TransferType = "instant"
)

// TransferRequest is a request to move money out of one of our accounts.
// Either ToAccount or ToIBAN must be set; when ToIBAN is present it is
// checksum-validated before the provider call is issued.
type TransferRequest struct {
	FromAccount     string          `json:"from_account"`
	ToAccount       string          `json:"to_account,omitempty"`
	ToIBAN          string          `json:"to_iban,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
	Type            TransferType    `json:"type"`
	BeneficiaryName string          `json:"beneficiary_name,omitempty"`
}

// TransferResult is the normalized outcome of a transfer call. A failed
// transfer carries the provider's error code and message untranslated.
type TransferResult struct {
	Success      bool            `json:"success"`
	TransferID   string          `json:"transfer_id,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	ExecutedAt   *time.Time      `json:"executed_at,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}
