package types

import "time"

// SyncResult summarizes one sync invocation for a single provider. Success is
// true iff no per-record or whole-call errors were recorded.
type SyncResult struct {
	BankCode           string        `json:"bank_code"`
	AccountsSynced     int           `json:"accounts_synced"`
	TransactionsSynced int           `json:"transactions_synced"`
	Errors             []string      `json:"errors"`
	Duration           time.Duration `json:"duration"`
	Success            bool          `json:"success"`
}
