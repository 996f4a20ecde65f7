// Package db is the SQLite implementation of the sync engine's storage
// contract. Natural-key uniqueness (IBAN for accounts, external transaction
// id per account for transactions) is enforced by the schema, so upserts are
// atomic under concurrent writers.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/umityaman/canary-bank-sync/internal/syncer"
	"github.com/umityaman/canary-bank-sync/internal/types"
)

// initialTransactionStatus is the fixed status every freshly synced
// transaction is recorded with
const initialTransactionStatus = "completed"

// DB represents a SQLite database connection
type DB struct {
	db     *sql.DB
	logger *log.Logger
}

// New creates a new database connection, creating the data directory and
// schema when missing
func New(dataDir string, logger *log.Logger) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(dataDir, "bank-sync.db")
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if _, err := conn.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("failed to set database pragmas: %v", err)
	}

	d := &DB{db: conn, logger: logger}
	if err := createTables(conn); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}
	if err := ApplyMigrations(context.Background(), conn, func(msg string, args ...interface{}) {
		logger.Info(fmt.Sprintf(msg, args...))
	}); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %v", err)
	}
	return d, nil
}

// createTables creates the necessary tables in the database
func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS companies (
			id INTEGER PRIMARY KEY,
			last_synced_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS bank_accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			company_id INTEGER NOT NULL,
			bank_code TEXT NOT NULL,
			external_id TEXT NOT NULL,
			account_number TEXT NOT NULL,
			iban TEXT NOT NULL UNIQUE,
			name TEXT,
			account_type TEXT NOT NULL,
			currency TEXT NOT NULL,
			balance DECIMAL(15,2) NOT NULL,
			available_balance DECIMAL(15,2) NOT NULL,
			blocked_amount DECIMAL(15,2),
			branch_code TEXT,
			branch_name TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			opened_at DATETIME,
			last_transaction_at DATETIME,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bank_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL REFERENCES bank_accounts(id),
			transaction_number TEXT NOT NULL,
			date DATETIME NOT NULL,
			value_date DATETIME,
			description TEXT,
			amount DECIMAL(15,2) NOT NULL,
			currency TEXT,
			direction TEXT NOT NULL,
			category TEXT,
			reference TEXT,
			running_balance DECIMAL(15,2),
			counterparty_name TEXT,
			counterparty_number TEXT,
			counterparty_iban TEXT,
			channel TEXT,
			status TEXT NOT NULL,
			is_reconciled INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			UNIQUE(account_id, transaction_number)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_bank_accounts_company ON bank_accounts(company_id)",
		"CREATE INDEX IF NOT EXISTS idx_bank_accounts_number ON bank_accounts(account_number)",
		"CREATE INDEX IF NOT EXISTS idx_bank_transactions_account ON bank_transactions(account_id)",
		"CREATE INDEX IF NOT EXISTS idx_bank_transactions_date ON bank_transactions(date)",
		"CREATE INDEX IF NOT EXISTS idx_bank_transactions_direction ON bank_transactions(direction)",
	}
	for _, index := range indexes {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %v", err)
		}
	}
	return nil
}

// UpsertAccountByIBAN inserts or updates an account row keyed by IBAN and
// returns its local id
func (d *DB) UpsertAccountByIBAN(ctx context.Context, account types.Account, bankCode string, companyID int64) (int64, error) {
	d.logger.Debug("Upserting account", "iban", account.IBAN, "bank", bankCode, "company_id", companyID)

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO bank_accounts (
			company_id, bank_code, external_id, account_number, iban, name,
			account_type, currency, balance, available_balance, blocked_amount,
			branch_code, branch_name, is_active, opened_at, last_transaction_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(iban) DO UPDATE SET
			external_id = excluded.external_id,
			account_number = excluded.account_number,
			name = excluded.name,
			account_type = excluded.account_type,
			currency = excluded.currency,
			balance = excluded.balance,
			available_balance = excluded.available_balance,
			blocked_amount = excluded.blocked_amount,
			branch_code = excluded.branch_code,
			branch_name = excluded.branch_name,
			is_active = excluded.is_active,
			last_transaction_at = excluded.last_transaction_at,
			updated_at = excluded.updated_at
	`,
		companyID, bankCode, account.ExternalID, account.AccountNumber, account.IBAN, account.Name,
		string(account.Type), account.Currency, account.Balance.String(), account.AvailableBalance.String(), account.BlockedAmount.String(),
		account.BranchCode, account.BranchName, account.Status == types.AccountStatusActive,
		nullTime(account.OpenedAt), nullTime(account.LastTransaction), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert account: %v", err)
	}

	var id int64
	if err := d.db.QueryRowContext(ctx, "SELECT id FROM bank_accounts WHERE iban = ?", account.IBAN).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get account id after upsert: %v", err)
	}
	return id, nil
}

// FindAccountByExternalNumber resolves the local row for a provider account
// number, or nil if it was never synced
func (d *DB) FindAccountByExternalNumber(ctx context.Context, accountNumber string, companyID int64) (*syncer.LocalAccount, error) {
	var account syncer.LocalAccount
	err := d.db.QueryRowContext(ctx, `
		SELECT id, company_id, bank_code, account_number, iban, is_active
		FROM bank_accounts WHERE account_number = ? AND company_id = ?
	`, accountNumber, companyID).Scan(
		&account.ID, &account.CompanyID, &account.BankCode, &account.AccountNumber, &account.IBAN, &account.Active,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find account: %v", err)
	}
	return &account, nil
}

// ListActiveAccounts returns all active local accounts for a company
func (d *DB) ListActiveAccounts(ctx context.Context, companyID int64) ([]syncer.LocalAccount, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, company_id, bank_code, account_number, iban, is_active
		FROM bank_accounts WHERE company_id = ? AND is_active = 1
		ORDER BY id
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %v", err)
	}
	defer rows.Close()

	var accounts []syncer.LocalAccount
	for rows.Next() {
		var account syncer.LocalAccount
		if err := rows.Scan(&account.ID, &account.CompanyID, &account.BankCode, &account.AccountNumber, &account.IBAN, &account.Active); err != nil {
			return nil, fmt.Errorf("failed to scan account: %v", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// TransactionExists reports whether a transaction with this external id is
// already recorded for the local account
func (d *DB) TransactionExists(ctx context.Context, localAccountID int64, externalID string) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx, `
		SELECT 1 FROM bank_transactions WHERE account_id = ? AND transaction_number = ?
	`, localAccountID, externalID).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check transaction: %v", err)
	}
	return true, nil
}

// InsertTransaction records a new transaction for the local account with the
// fixed initial status. Rows are never updated or deleted afterwards.
func (d *DB) InsertTransaction(ctx context.Context, localAccountID int64, tx types.Transaction) error {
	d.logger.Debug("Inserting transaction", "transaction", tx.ExternalID, "account_id", localAccountID)

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO bank_transactions (
			account_id, transaction_number, date, value_date, description,
			amount, currency, direction, category, reference, running_balance,
			counterparty_name, counterparty_number, counterparty_iban, channel,
			status, is_reconciled, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`,
		localAccountID, tx.ExternalID, tx.Date, tx.ValueDate, tx.Description,
		tx.Amount.String(), tx.Currency, string(tx.Direction), tx.Category, tx.Reference, tx.RunningBalance.String(),
		tx.CounterpartyName, tx.CounterpartyNumber, tx.CounterpartyIBAN, tx.Channel,
		initialTransactionStatus, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %v", err)
	}
	return nil
}

// TouchCompanySync stamps the company's last successful scheduled sync
func (d *DB) TouchCompanySync(ctx context.Context, companyID int64, at time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO companies (id, last_synced_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET last_synced_at = excluded.last_synced_at
	`, companyID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to update company sync timestamp: %v", err)
	}
	return nil
}

// CountTransactions returns the number of recorded transactions for a local
// account
func (d *DB) CountTransactions(ctx context.Context, localAccountID int64) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bank_transactions WHERE account_id = ?
	`, localAccountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %v", err)
	}
	return count, nil
}

// AccountBalance returns the stored balance for an IBAN
func (d *DB) AccountBalance(ctx context.Context, ibanNumber string) (decimal.Decimal, error) {
	var raw string
	err := d.db.QueryRowContext(ctx, "SELECT balance FROM bank_accounts WHERE iban = ?", ibanNumber).Scan(&raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %v", err)
	}
	return decimal.NewFromString(raw)
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// Ensure DB implements the storage contract
var _ syncer.Storage = (*DB)(nil)
