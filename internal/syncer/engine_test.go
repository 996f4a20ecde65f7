package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umityaman/canary-bank-sync/internal/bank"
	"github.com/umityaman/canary-bank-sync/internal/types"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// memoryStorage is an in-memory Storage used to observe what the engine
// persists without a database.
type memoryStorage struct {
	mu           sync.Mutex
	nextID       int64
	accounts     map[string]*LocalAccount // keyed by IBAN
	transactions map[int64]map[string]types.Transaction
	lastSync     map[int64]time.Time

	upsertErr error
	insertErr error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{
		nextID:       1,
		accounts:     make(map[string]*LocalAccount),
		transactions: make(map[int64]map[string]types.Transaction),
		lastSync:     make(map[int64]time.Time),
	}
}

func (m *memoryStorage) UpsertAccountByIBAN(ctx context.Context, account types.Account, bankCode string, companyID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	if existing, ok := m.accounts[account.IBAN]; ok {
		existing.AccountNumber = account.AccountNumber
		return existing.ID, nil
	}
	id := m.nextID
	m.nextID++
	m.accounts[account.IBAN] = &LocalAccount{
		ID:            id,
		CompanyID:     companyID,
		BankCode:      bankCode,
		AccountNumber: account.AccountNumber,
		IBAN:          account.IBAN,
		Active:        true,
	}
	return id, nil
}

func (m *memoryStorage) FindAccountByExternalNumber(ctx context.Context, accountNumber string, companyID int64) (*LocalAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.AccountNumber == accountNumber && account.CompanyID == companyID {
			copied := *account
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memoryStorage) ListActiveAccounts(ctx context.Context, companyID int64) ([]LocalAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LocalAccount
	for _, account := range m.accounts {
		if account.Active && account.CompanyID == companyID {
			out = append(out, *account)
		}
	}
	return out, nil
}

func (m *memoryStorage) TransactionExists(ctx context.Context, localAccountID int64, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.transactions[localAccountID][externalID]
	return ok, nil
}

func (m *memoryStorage) InsertTransaction(ctx context.Context, localAccountID int64, tx types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if m.transactions[localAccountID] == nil {
		m.transactions[localAccountID] = make(map[string]types.Transaction)
	}
	m.transactions[localAccountID][tx.ExternalID] = tx
	return nil
}

func (m *memoryStorage) TouchCompanySync(ctx context.Context, companyID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSync[companyID] = at
	return nil
}

// fakeAdapter serves canned accounts and pre-paginated transaction history
type fakeAdapter struct {
	name         string
	accounts     []types.Account
	accountsErr  error
	pages        []types.TransactionPage
	requested    []int // page numbers in request order
	transfersErr error
}

func (a *fakeAdapter) Name() string                       { return a.name }
func (a *fakeAdapter) Authenticate(context.Context) error { return nil }

func (a *fakeAdapter) ListAccounts(context.Context) ([]types.Account, error) {
	return a.accounts, a.accountsErr
}

func (a *fakeAdapter) GetAccountDetails(context.Context, string) (*types.Account, error) {
	return nil, nil
}

func (a *fakeAdapter) ListTransactions(ctx context.Context, q types.TransactionQuery) (*types.TransactionPage, error) {
	a.requested = append(a.requested, q.Page)
	if q.Page < 1 || q.Page > len(a.pages) {
		return &types.TransactionPage{Page: q.Page, TotalPages: len(a.pages)}, nil
	}
	page := a.pages[q.Page-1]
	return &page, nil
}

func (a *fakeAdapter) Transfer(context.Context, types.TransferRequest) (*types.TransferResult, error) {
	return nil, a.transfersErr
}

func newTestEngine(t *testing.T, adapters map[string]*fakeAdapter) (*Engine, *memoryStorage) {
	factories := make(map[string]bank.Factory, len(adapters))
	for code, adapter := range adapters {
		factories[code] = func(creds types.Credentials, logger *log.Logger, clock bank.Clock) (bank.Adapter, error) {
			return adapter, nil
		}
	}

	logger := log.New(io.Discard)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	registry := bank.NewRegistry(logger, clock, factories)
	for code := range adapters {
		_, err := registry.Register(code, types.Credentials{})
		require.NoError(t, err)
	}

	storage := newMemoryStorage()
	return New(registry, storage, logger, clock), storage
}

func testAccount(number, ibanStr string) types.Account {
	return types.Account{
		ExternalID:    number,
		AccountNumber: number,
		IBAN:          ibanStr,
		Name:          "Account " + number,
		Type:          types.AccountTypeChecking,
		Currency:      "TRY",
		Balance:       decimal.NewFromInt(1000),
		Status:        types.AccountStatusActive,
	}
}

func testTransaction(id string) types.Transaction {
	return types.Transaction{
		ExternalID:        id,
		AccountExternalID: "100",
		Date:              time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC),
		ValueDate:         time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC),
		Description:       "tx " + id,
		Amount:            decimal.NewFromInt(50),
		Currency:          "TRY",
		Direction:         types.DirectionDebit,
	}
}

func TestSyncAccountsPartialFailure(t *testing.T) {
	adapter := &fakeAdapter{
		name: "TESTBANK",
		accounts: []types.Account{
			testAccount("100", "TR330006100519786457841326"),
			testAccount("200", "TR00INVALIDIBAN"),
			testAccount("300", "TR200012009345218765432100"),
		},
	}
	engine, storage := newTestEngine(t, map[string]*fakeAdapter{"TESTBANK": adapter})

	result := engine.SyncAccounts(context.Background(), "TESTBANK", 1)

	// The invalid IBAN is reported without aborting the other two accounts
	assert.Equal(t, 2, result.AccountsSynced)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "account 200")
	assert.False(t, result.Success)
	assert.Len(t, storage.accounts, 2)
}

func TestSyncAccountsUpsertConverges(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "TESTBANK",
		accounts: []types.Account{testAccount("100", "TR330006100519786457841326")},
	}
	engine, storage := newTestEngine(t, map[string]*fakeAdapter{"TESTBANK": adapter})

	first := engine.SyncAccounts(context.Background(), "TESTBANK", 1)
	second := engine.SyncAccounts(context.Background(), "TESTBANK", 1)

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	assert.Len(t, storage.accounts, 1)
}

func TestSyncAccountsMissingIBAN(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "TESTBANK",
		accounts: []types.Account{testAccount("100", "")},
	}
	engine, _ := newTestEngine(t, map[string]*fakeAdapter{"TESTBANK": adapter})

	result := engine.SyncAccounts(context.Background(), "TESTBANK", 1)
	assert.Equal(t, 0, result.AccountsSynced)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "no IBAN")
}

func TestSyncAccountsUnregisteredProvider(t *testing.T) {
	engine, _ := newTestEngine(t, map[string]*fakeAdapter{})

	result := engine.SyncAccounts(context.Background(), "GHOSTBANK", 1)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "not registered")
}

func TestSyncAccountsProviderFailure(t *testing.T) {
	adapter := &fakeAdapter{
		name:        "TESTBANK",
		accountsErr: bank.Errorf(bank.KindTransient, "TESTBANK", "gateway timeout"),
	}
	engine, _ := newTestEngine(t, map[string]*fakeAdapter{"TESTBANK": adapter})

	result := engine.SyncAccounts(context.Background(), "TESTBANK", 1)
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.AccountsSynced)
	require.Len(t, result.Errors, 1)
}

func syncTestWindow() (time.Time, time.Time) {
	return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)
}

func TestSyncTransactionsIsIdempotent(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "TESTBANK",
		accounts: []types.Account{testAccount("100", "TR330006100519786457841326")},
		pages: []types.TransactionPage{{
			Items:      []types.Transaction{testTransaction("t-1"), testTransaction("t-2")},
			TotalCount: 2,
			Page:       1,
			TotalPages: 1,
		}},
	}
	engine, storage := newTestEngine(t, map[string]*fakeAdapter{"TESTBANK": adapter})
	require.True(t, engine.SyncAccounts(context.Background(), "TESTBANK", 1).Success)

	startDate, endDate := syncTestWindow()

	first := engine.SyncTransactions(context.Background(), "TESTBANK", "100", startDate, endDate, 1)
	assert.True(t, first.Success)
	assert.Equal(t, 2, first.TransactionsSynced)

	// Re-running the same window inserts nothing new
	second := engine.SyncTransactions(context.Background(), "TESTBANK", "100", startDate, endDate, 1)
	assert.True(t, second.Success)
	assert.Equal(t, 0, second.TransactionsSynced)
	assert.Len(t, storage.transactions[1], 2)
}

func TestSyncTransactionsPaginatesInOrder(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "TESTBANK",
		accounts: []types.Account{testAccount("100", "TR330006100519786457841326")},
		pages: []types.TransactionPage{
			{Items: []types.Transaction{testTransaction("t-1")}, TotalCount: 3, Page: 1, TotalPages: 3},
			{Items: []types.Transaction{testTransaction("t-2")}, TotalCount: 3, Page: 2, TotalPages: 3},
			{Items: []types.Transaction{testTransaction("t-3")}, TotalCount: 3, Page: 3, TotalPages: 3},
		},
	}
	engine, storage := newTestEngine(t, map[string]*fakeAdapter{"TESTBANK": adapter})
	require.True(t, engine.SyncAccounts(context.Background(), "TESTBANK", 1).Success)

	startDate, endDate := syncTestWindow()
	result := engine.SyncTransactions(context.Background(), "TESTBANK", "100", startDate, endDate, 1)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.TransactionsSynced)
	assert.Equal(t, []int{1, 2, 3}, adapter.requested)
	assert.Len(t, storage.transactions[1], 3)
}

func TestSyncTransactionsUnknownAccount(t *testing.T) {
	adapter := &fakeAdapter{name: "TESTBANK"}
	engine, _ := newTestEngine(t, map[string]*fakeAdapter{"TESTBANK": adapter})

	startDate, endDate := syncTestWindow()
	result := engine.SyncTransactions(context.Background(), "TESTBANK", "999", startDate, endDate, 1)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "has not been synced yet")
	// The provider is never queried for an unknown account
	assert.Empty(t, adapter.requested)
}

func TestSyncTransactionsStorageFailureIsPerRecord(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "TESTBANK",
		accounts: []types.Account{testAccount("100", "TR330006100519786457841326")},
		pages: []types.TransactionPage{{
			Items:      []types.Transaction{testTransaction("t-1"), testTransaction("t-2")},
			TotalCount: 2,
			Page:       1,
			TotalPages: 1,
		}},
	}
	engine, storage := newTestEngine(t, map[string]*fakeAdapter{"TESTBANK": adapter})
	require.True(t, engine.SyncAccounts(context.Background(), "TESTBANK", 1).Success)

	storage.insertErr = errors.New("disk full")

	startDate, endDate := syncTestWindow()
	result := engine.SyncTransactions(context.Background(), "TESTBANK", "100", startDate, endDate, 1)

	assert.False(t, result.Success)
	assert.Equal(t, 0, result.TransactionsSynced)
	assert.Len(t, result.Errors, 2)
}

func TestSyncAllBanksIsolatesFailures(t *testing.T) {
	adapters := map[string]*fakeAdapter{
		"ALFA": {name: "ALFA", accounts: []types.Account{testAccount("100", "TR330006100519786457841326")}},
		"BETA": {name: "BETA", accountsErr: bank.Errorf(bank.KindAuthFailed, "BETA", "invalid credentials")},
		"GAMA": {name: "GAMA", accounts: []types.Account{testAccount("300", "TR200012009345218765432100")}},
	}
	engine, storage := newTestEngine(t, adapters)

	results := engine.SyncAllBanks(context.Background(), 1)
	require.Len(t, results, 3)

	// Results follow the sorted provider order
	byBank := make(map[string]types.SyncResult, len(results))
	for i, code := range []string{"ALFA", "BETA", "GAMA"} {
		assert.Equal(t, code, results[i].BankCode)
		byBank[code] = results[i]
	}

	assert.True(t, byBank["ALFA"].Success)
	assert.False(t, byBank["BETA"].Success)
	assert.True(t, byBank["GAMA"].Success)
	assert.Len(t, storage.accounts, 2)
}

func TestSyncAllTransactions(t *testing.T) {
	adapter := &fakeAdapter{
		name: "TESTBANK",
		accounts: []types.Account{
			testAccount("100", "TR330006100519786457841326"),
			testAccount("200", "TR200012009345218765432100"),
		},
		pages: []types.TransactionPage{{
			Items:      []types.Transaction{testTransaction("t-1")},
			TotalCount: 1,
			Page:       1,
			TotalPages: 1,
		}},
	}
	engine, _ := newTestEngine(t, map[string]*fakeAdapter{"TESTBANK": adapter})
	require.True(t, engine.SyncAccounts(context.Background(), "TESTBANK", 1).Success)

	results := engine.SyncAllTransactions(context.Background(), 1, 7)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "TESTBANK", r.BankCode)
		assert.True(t, r.Success)
	}
}

func TestScheduledSyncTouchesCompany(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "TESTBANK",
		accounts: []types.Account{testAccount("100", "TR330006100519786457841326")},
		pages: []types.TransactionPage{{
			Items:      []types.Transaction{testTransaction("t-1")},
			TotalCount: 1,
			Page:       1,
			TotalPages: 1,
		}},
	}
	engine, storage := newTestEngine(t, map[string]*fakeAdapter{"TESTBANK": adapter})

	require.NoError(t, engine.ScheduledSync(context.Background(), 1))

	stamped, ok := storage.lastSync[1]
	require.True(t, ok)
	assert.False(t, stamped.IsZero())
	assert.Len(t, storage.transactions[1], 1)
}

func TestSyncAccountsErrorMessagesNameTheAccount(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "TESTBANK",
		accounts: []types.Account{testAccount("100", "TR330006100519786457841326")},
	}
	engine, storage := newTestEngine(t, map[string]*fakeAdapter{"TESTBANK": adapter})

	storage.upsertErr = fmt.Errorf("constraint violation")

	result := engine.SyncAccounts(context.Background(), "TESTBANK", 1)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "account 100")
	assert.Contains(t, result.Errors[0], "constraint violation")
}
