package db

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umityaman/canary-bank-sync/internal/types"
)

func setupTestDB(t *testing.T) *DB {
	tempDir, err := os.MkdirTemp("", "bank-sync-test-*")
	require.NoError(t, err)

	database, err := New(tempDir, log.New(io.Discard))
	require.NoError(t, err)

	t.Cleanup(func() {
		database.Close()
		os.RemoveAll(tempDir)
	})
	return database
}

func testAccount(number, ibanStr string) types.Account {
	opened := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)
	return types.Account{
		ExternalID:       number,
		AccountNumber:    number,
		IBAN:             ibanStr,
		Name:             "Account " + number,
		Type:             types.AccountTypeChecking,
		Currency:         "TRY",
		Balance:          decimal.RequireFromString("1500.50"),
		AvailableBalance: decimal.RequireFromString("1400.50"),
		BlockedAmount:    decimal.NewFromInt(100),
		BranchCode:       "0412",
		Status:           types.AccountStatusActive,
		OpenedAt:         &opened,
	}
}

func testTransaction(id string) types.Transaction {
	return types.Transaction{
		ExternalID:        id,
		AccountExternalID: "100",
		Date:              time.Date(2025, 5, 10, 9, 30, 0, 0, time.UTC),
		ValueDate:         time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC),
		Description:       "tx " + id,
		Amount:            decimal.RequireFromString("250.75"),
		Currency:          "TRY",
		Direction:         types.DirectionDebit,
		Category:          "rent",
		Reference:         "REF-" + id,
		RunningBalance:    decimal.RequireFromString("1249.75"),
		CounterpartyName:  "Landlord",
		CounterpartyIBAN:  "TR200012009345218765432100",
		Channel:           "mobile",
	}
}

func TestUpsertAccountByIBANConverges(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	account := testAccount("100", "TR330006100519786457841326")

	id1, err := database.UpsertAccountByIBAN(ctx, account, "AKBANK", 1)
	require.NoError(t, err)

	// Same IBAN with updated balance resolves to the same row
	account.Balance = decimal.RequireFromString("2000.00")
	id2, err := database.UpsertAccountByIBAN(ctx, account, "AKBANK", 1)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	balance, err := database.AccountBalance(ctx, "TR330006100519786457841326")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("2000.00")), "got %s", balance)

	accounts, err := database.ListActiveAccounts(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestFindAccountByExternalNumber(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	_, err := database.UpsertAccountByIBAN(ctx, testAccount("100", "TR330006100519786457841326"), "AKBANK", 1)
	require.NoError(t, err)

	found, err := database.FindAccountByExternalNumber(ctx, "100", 1)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "AKBANK", found.BankCode)
	assert.Equal(t, "TR330006100519786457841326", found.IBAN)
	assert.True(t, found.Active)

	// Unknown account number resolves to nil without an error
	missing, err := database.FindAccountByExternalNumber(ctx, "999", 1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Accounts are scoped to their company
	otherCompany, err := database.FindAccountByExternalNumber(ctx, "100", 2)
	require.NoError(t, err)
	assert.Nil(t, otherCompany)
}

func TestTransactionDeduplication(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	accountID, err := database.UpsertAccountByIBAN(ctx, testAccount("100", "TR330006100519786457841326"), "AKBANK", 1)
	require.NoError(t, err)

	tx := testTransaction("t-1")
	require.NoError(t, database.InsertTransaction(ctx, accountID, tx))

	exists, err := database.TransactionExists(ctx, accountID, "t-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = database.TransactionExists(ctx, accountID, "t-2")
	require.NoError(t, err)
	assert.False(t, exists)

	// The same external id under a different account is a distinct record
	otherID, err := database.UpsertAccountByIBAN(ctx, testAccount("200", "TR200012009345218765432100"), "GARANTI", 1)
	require.NoError(t, err)
	exists, err = database.TransactionExists(ctx, otherID, "t-1")
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, database.InsertTransaction(ctx, otherID, tx))

	count, err := database.CountTransactions(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInsertTransactionUniqueConstraint(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	accountID, err := database.UpsertAccountByIBAN(ctx, testAccount("100", "TR330006100519786457841326"), "AKBANK", 1)
	require.NoError(t, err)

	tx := testTransaction("t-1")
	require.NoError(t, database.InsertTransaction(ctx, accountID, tx))

	// A second insert of the same external id is rejected by the schema
	err = database.InsertTransaction(ctx, accountID, tx)
	require.Error(t, err)

	count, err := database.CountTransactions(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListActiveAccountsScopedToCompany(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	_, err := database.UpsertAccountByIBAN(ctx, testAccount("100", "TR330006100519786457841326"), "AKBANK", 1)
	require.NoError(t, err)
	_, err = database.UpsertAccountByIBAN(ctx, testAccount("200", "TR200012009345218765432100"), "ISBANK", 2)
	require.NoError(t, err)

	accounts, err := database.ListActiveAccounts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "AKBANK", accounts[0].BankCode)
}

func TestTouchCompanySync(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, database.TouchCompanySync(ctx, 1, at))

	// Touching again updates the existing row instead of failing
	require.NoError(t, database.TouchCompanySync(ctx, 1, at.Add(time.Hour)))
}
