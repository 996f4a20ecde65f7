// Package syncer reconciles remote bank state into local storage. Syncs are
// idempotent and append-only: re-running a sync over an overlapping window
// never duplicates, deletes or mutates transactions already recorded, because
// bank-side corrections arrive as new offsetting transactions rather than as
// edits to history.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/umityaman/canary-bank-sync/internal/bank"
	"github.com/umityaman/canary-bank-sync/internal/iban"
	"github.com/umityaman/canary-bank-sync/internal/types"
)

const (
	// MaxPageSize caps the per-page transaction limit requested from providers
	MaxPageSize = 1000

	// DefaultSyncDays is the transaction window used by scheduled syncs
	DefaultSyncDays = 7

	// maxConcurrentBanks bounds the provider fan-out in SyncAllBanks
	maxConcurrentBanks = 4
)

// Engine orchestrates pull-and-reconcile syncs across registered providers
type Engine struct {
	registry *bank.Registry
	storage  Storage
	logger   *log.Logger
	clock    bank.Clock
}

// New creates a sync engine
func New(registry *bank.Registry, storage Storage, logger *log.Logger, clock bank.Clock) *Engine {
	return &Engine{
		registry: registry,
		storage:  storage,
		logger:   logger,
		clock:    clock,
	}
}

// SyncAccounts pulls all accounts from one provider and upserts them into
// storage keyed by IBAN. A record that fails validation or upsert is reported
// in the result's error list without aborting the rest of the batch.
func (e *Engine) SyncAccounts(ctx context.Context, bankCode string, companyID int64) types.SyncResult {
	start := e.clock.Now()
	result := types.SyncResult{BankCode: bankCode, Errors: []string{}}

	e.logger.Info("Starting account sync", "bank", bankCode, "company_id", companyID)

	adapter, err := e.registry.Get(bankCode)
	if err != nil {
		return e.failed(result, start, err)
	}

	accounts, err := adapter.ListAccounts(ctx)
	if err != nil {
		return e.failed(result, start, fmt.Errorf("failed to fetch accounts: %w", err))
	}

	for _, account := range accounts {
		if err := e.syncAccount(ctx, account, bankCode, companyID); err != nil {
			e.logger.Error("Failed to sync account", "bank", bankCode, "account", account.AccountNumber, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("account %s: %v", account.AccountNumber, err))
			continue
		}
		result.AccountsSynced++
	}

	result.Duration = e.clock.Now().Sub(start)
	result.Success = len(result.Errors) == 0

	e.logger.Info("Account sync completed",
		"bank", bankCode,
		"accounts_synced", result.AccountsSynced,
		"errors", len(result.Errors),
		"duration", result.Duration)
	return result
}

// syncAccount validates and upserts a single remote account. The IBAN is the
// natural external identity: two pulls of the same account converge to one
// stored row.
func (e *Engine) syncAccount(ctx context.Context, account types.Account, bankCode string, companyID int64) error {
	if account.IBAN == "" {
		return &bank.Error{Kind: bank.KindInvalidFormat, Bank: bankCode, Message: "account has no IBAN"}
	}
	if !iban.Validate(account.IBAN) {
		return &bank.Error{Kind: bank.KindInvalidFormat, Bank: bankCode, Message: fmt.Sprintf("invalid IBAN %q", account.IBAN)}
	}
	_, err := e.storage.UpsertAccountByIBAN(ctx, account, bankCode, companyID)
	return err
}

// SyncTransactions pulls the transaction history for one account over an
// inclusive date window and inserts records not yet known locally. Pages are
// fetched and reconciled strictly in page order.
func (e *Engine) SyncTransactions(ctx context.Context, bankCode, accountExternalID string, startDate, endDate time.Time, companyID int64) types.SyncResult {
	start := e.clock.Now()
	result := types.SyncResult{BankCode: bankCode, Errors: []string{}}

	e.logger.Info("Starting transaction sync",
		"bank", bankCode,
		"account", accountExternalID,
		"start_date", startDate.Format("2006-01-02"),
		"end_date", endDate.Format("2006-01-02"))

	adapter, err := e.registry.Get(bankCode)
	if err != nil {
		return e.failed(result, start, err)
	}

	local, err := e.storage.FindAccountByExternalNumber(ctx, accountExternalID, companyID)
	if err != nil {
		return e.failed(result, start, fmt.Errorf("failed to resolve local account: %w", err))
	}
	if local == nil {
		return e.failed(result, start, &bank.Error{
			Kind:    bank.KindAccountNotFound,
			Bank:    bankCode,
			Message: fmt.Sprintf("account %s has not been synced yet", accountExternalID),
		})
	}

	page := 1
	for {
		history, err := adapter.ListTransactions(ctx, types.TransactionQuery{
			AccountExternalID: accountExternalID,
			StartDate:         startDate,
			EndDate:           endDate,
			Page:              page,
			Limit:             MaxPageSize,
		})
		if err != nil {
			return e.failed(result, start, fmt.Errorf("failed to fetch transactions page %d: %w", page, err))
		}

		for _, tx := range history.Items {
			inserted, err := e.syncTransaction(ctx, local.ID, tx)
			if err != nil {
				e.logger.Error("Failed to sync transaction", "bank", bankCode, "transaction", tx.ExternalID, "error", err)
				result.Errors = append(result.Errors, fmt.Sprintf("transaction %s: %v", tx.ExternalID, err))
				continue
			}
			if inserted {
				result.TransactionsSynced++
			}
		}

		if page >= history.TotalPages || len(history.Items) == 0 {
			break
		}
		page++
	}

	result.Duration = e.clock.Now().Sub(start)
	result.Success = len(result.Errors) == 0

	e.logger.Info("Transaction sync completed",
		"bank", bankCode,
		"account", accountExternalID,
		"transactions_synced", result.TransactionsSynced,
		"errors", len(result.Errors),
		"duration", result.Duration)
	return result
}

// syncTransaction inserts a transaction unless a row with the same external
// id already exists for this local account. Returns whether a row was
// inserted.
func (e *Engine) syncTransaction(ctx context.Context, localAccountID int64, tx types.Transaction) (bool, error) {
	exists, err := e.storage.TransactionExists(ctx, localAccountID, tx.ExternalID)
	if err != nil {
		return false, err
	}
	if exists {
		e.logger.Debug("Transaction already recorded", "transaction", tx.ExternalID, "account_id", localAccountID)
		return false, nil
	}
	if err := e.storage.InsertTransaction(ctx, localAccountID, tx); err != nil {
		return false, err
	}
	return true, nil
}

// SyncAllBanks syncs accounts for every registered provider concurrently.
// Each provider's failure is isolated into its own SyncResult.
func (e *Engine) SyncAllBanks(ctx context.Context, companyID int64) []types.SyncResult {
	codes := e.registry.List()
	results := make([]types.SyncResult, len(codes))

	e.logger.Info("Starting sync for all banks", "banks", codes, "company_id", companyID)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBanks)
	for idx, code := range codes {
		g.Go(func() error {
			results[idx] = e.SyncAccounts(gCtx, code, companyID)
			return nil
		})
	}
	// workers never return errors; failures live in their SyncResult
	_ = g.Wait()

	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	e.logger.Info("All banks sync completed", "total_banks", len(codes), "successful", successful)
	return results
}

// SyncAllTransactions syncs the last N days of transactions for every active
// local account, tagging each result with that account's provider
func (e *Engine) SyncAllTransactions(ctx context.Context, companyID int64, days int) []types.SyncResult {
	if days <= 0 {
		days = DefaultSyncDays
	}
	endDate := e.clock.Now()
	startDate := endDate.AddDate(0, 0, -days)

	accounts, err := e.storage.ListActiveAccounts(ctx, companyID)
	if err != nil {
		e.logger.Error("Failed to list active accounts", "company_id", companyID, "error", err)
		return []types.SyncResult{{
			BankCode: "",
			Errors:   []string{fmt.Sprintf("failed to list active accounts: %v", err)},
		}}
	}

	e.logger.Info("Starting transaction sync for all accounts",
		"company_id", companyID,
		"accounts", len(accounts),
		"days", days)

	results := make([]types.SyncResult, 0, len(accounts))
	for _, account := range accounts {
		results = append(results, e.SyncTransactions(ctx, account.BankCode, account.AccountNumber, startDate, endDate, companyID))
	}

	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	e.logger.Info("All transactions sync completed", "total_accounts", len(accounts), "successful", successful)
	return results
}

// ScheduledSync runs a full account-then-transaction sync for a company and
// stamps the company's last-synced timestamp. Intended to be invoked by an
// external scheduler.
func (e *Engine) ScheduledSync(ctx context.Context, companyID int64) error {
	e.logger.Info("Running scheduled sync", "company_id", companyID)

	accountResults := e.SyncAllBanks(ctx, companyID)
	transactionResults := e.SyncAllTransactions(ctx, companyID, DefaultSyncDays)

	var accountsSynced, transactionsSynced, errorCount int
	for _, r := range accountResults {
		accountsSynced += r.AccountsSynced
		errorCount += len(r.Errors)
	}
	for _, r := range transactionResults {
		transactionsSynced += r.TransactionsSynced
		errorCount += len(r.Errors)
	}

	e.logger.Info("Scheduled sync completed",
		"company_id", companyID,
		"accounts_synced", accountsSynced,
		"transactions_synced", transactionsSynced,
		"errors", errorCount)

	if err := e.storage.TouchCompanySync(ctx, companyID, e.clock.Now()); err != nil {
		return fmt.Errorf("failed to update company sync timestamp: %w", err)
	}
	return nil
}

// failed finalizes a result for a whole-call failure: success=false and a
// single aggregate error
func (e *Engine) failed(result types.SyncResult, start time.Time, err error) types.SyncResult {
	e.logger.Error("Sync failed", "bank", result.BankCode, "error", err)
	result.Errors = append(result.Errors, err.Error())
	result.Duration = e.clock.Now().Sub(start)
	result.Success = false
	return result
}
