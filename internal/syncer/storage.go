package syncer

import (
	"context"
	"time"

	"github.com/umityaman/canary-bank-sync/internal/types"
)

// LocalAccount is the stored row a remote account reconciles into
type LocalAccount struct {
	ID            int64
	CompanyID     int64
	BankCode      string
	AccountNumber string
	IBAN          string
	Active        bool
}

// Storage is the persistence collaborator the engine reconciles into. Upserts
// are expected to be atomic on their natural keys (IBAN for accounts,
// external transaction id per local account for transactions) so concurrent
// syncs converge instead of duplicating.
type Storage interface {
	// UpsertAccountByIBAN inserts or updates the account row keyed by IBAN
	// and returns its local id
	UpsertAccountByIBAN(ctx context.Context, account types.Account, bankCode string, companyID int64) (int64, error)

	// FindAccountByExternalNumber resolves the local row for a provider
	// account number, or nil if it was never synced
	FindAccountByExternalNumber(ctx context.Context, accountNumber string, companyID int64) (*LocalAccount, error)

	// ListActiveAccounts returns all active local accounts for a company
	ListActiveAccounts(ctx context.Context, companyID int64) ([]LocalAccount, error)

	// TransactionExists reports whether a transaction with this external id
	// is already recorded for the local account
	TransactionExists(ctx context.Context, localAccountID int64, externalID string) (bool, error)

	// InsertTransaction records a new transaction for the local account
	InsertTransaction(ctx context.Context, localAccountID int64, tx types.Transaction) error

	// TouchCompanySync stamps the company's last successful scheduled sync
	TouchCompanySync(ctx context.Context, companyID int64, at time.Time) error
}
