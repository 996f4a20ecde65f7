// Package garanti implements the Garanti BBVA provider adapter. Garanti
// authenticates with an API key plus an HMAC signature over a timestamp and
// uses English field names on the wire with a success/error envelope.
package garanti

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/umityaman/canary-bank-sync/internal/bank"
	"github.com/umityaman/canary-bank-sync/internal/iban"
	"github.com/umityaman/canary-bank-sync/internal/types"
)

// Code is the provider code this adapter registers under
const Code = "GARANTI"

const (
	testBaseURL = "https://apitest.garantibbva.com.tr"
	prodBaseURL = "https://api.garantibbva.com.tr"

	// MaxPageSize is the provider's maximum transaction page size
	MaxPageSize = 1000
)

// Garanti is the live adapter instance for one credential set
type Garanti struct {
	creds   types.Credentials
	client  *bank.Client
	guard   *bank.TokenGuard
	retryer bank.Retryer
	logger  *log.Logger
	clock   bank.Clock
}

// New creates a Garanti adapter, selecting the endpoint from the credential
// environment unless an explicit base URL override is set
func New(creds types.Credentials, logger *log.Logger, clock bank.Clock) *Garanti {
	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = testBaseURL
		if creds.Environment == types.EnvironmentProduction {
			baseURL = prodBaseURL
		}
	}
	return &Garanti{
		creds:   creds,
		client:  bank.NewClient(Code, baseURL, logger),
		guard:   bank.NewTokenGuard(clock),
		retryer: bank.NewRetryer(Code, logger),
		logger:  logger,
		clock:   clock,
	}
}

// Factory adapts New to the registry's constructor signature
func Factory(creds types.Credentials, logger *log.Logger, clock bank.Clock) (bank.Adapter, error) {
	return New(creds, logger, clock), nil
}

// Name returns the provider code
func (g *Garanti) Name() string {
	return Code
}

// Authenticate forces a fresh token exchange
func (g *Garanti) Authenticate(ctx context.Context) error {
	g.guard.Invalidate()
	_, err := g.guard.Token(ctx, g.refreshToken)
	return err
}

func (g *Garanti) token(ctx context.Context) (string, error) {
	return g.guard.Token(ctx, g.refreshToken)
}

func (g *Garanti) refreshToken(ctx context.Context) (string, time.Time, error) {
	g.logger.Info("Authenticating with Garanti BBVA", "environment", g.creds.Environment)

	// The signature covers the API key and request timestamp
	timestamp := g.clock.Now().UTC().Format(time.RFC3339)
	signature := bank.Sign(g.creds.APIKey+timestamp, g.creds.APISecret)

	payload := map[string]string{
		"apiKey":    g.creds.APIKey,
		"timestamp": timestamp,
		"signature": signature,
		"username":  g.creds.Username,
		"password":  g.creds.Password,
	}

	var resp struct {
		Success     bool   `json:"success"`
		AccessToken string `json:"accessToken"`
		ExpiresIn   int64  `json:"expiresIn"`
	}
	err := g.retryer.Do(ctx, "authenticate", func() error {
		return g.client.Do(ctx, bank.Request{Method: "POST", Path: "/v1/auth/token", Body: payload}, &resp)
	})
	if err != nil {
		return "", time.Time{}, err
	}
	if !resp.Success || resp.AccessToken == "" {
		return "", time.Time{}, bank.Errorf(bank.KindAuthFailed, Code, "token endpoint rejected credentials")
	}
	return resp.AccessToken, g.clock.Now().Add(time.Duration(resp.ExpiresIn) * time.Second), nil
}

func (g *Garanti) headers() map[string]string {
	return map[string]string{"X-Api-Key": g.creds.APIKey}
}

type wireAccount struct {
	AccountNumber       string      `json:"accountNumber"`
	IBAN                string      `json:"iban"`
	AccountName         string      `json:"accountName"`
	AccountType         string      `json:"accountType"`
	Currency            string      `json:"currency"`
	Balance             json.Number `json:"balance"`
	AvailableBalance    json.Number `json:"availableBalance"`
	BlockedAmount       json.Number `json:"blockedAmount"`
	BranchCode          string      `json:"branchCode"`
	BranchName          string      `json:"branchName"`
	Status              string      `json:"status"`
	OpenDate            string      `json:"openDate"`
	LastTransactionDate string      `json:"lastTransactionDate"`
}

type wireCounterparty struct {
	Name    string `json:"name"`
	Account string `json:"account"`
	IBAN    string `json:"iban"`
}

type wireTransaction struct {
	TransactionID   string            `json:"transactionId"`
	AccountNumber   string            `json:"accountNumber"`
	TransactionDate string            `json:"transactionDate"`
	ValueDate       string            `json:"valueDate"`
	Description     string            `json:"description"`
	Amount          json.Number       `json:"amount"`
	Currency        string            `json:"currency"`
	Type            string            `json:"type"`
	Category        string            `json:"category"`
	Reference       string            `json:"reference"`
	Balance         json.Number       `json:"balance"`
	Counterparty    *wireCounterparty `json:"counterparty"`
	Channel         string            `json:"channel"`
}

// ListAccounts fetches all accounts for the configured customer id
func (g *Garanti) ListAccounts(ctx context.Context) ([]types.Account, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("customerId", g.creds.CustomerID)

	var resp struct {
		Success  bool          `json:"success"`
		Accounts []wireAccount `json:"accounts"`
	}
	err = g.retryer.Do(ctx, "list_accounts", func() error {
		return g.client.Do(ctx, bank.Request{
			Method:  "GET",
			Path:    "/v1/accounts",
			Query:   query,
			Token:   token,
			Headers: g.headers(),
		}, &resp)
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, bank.Errorf(bank.KindProviderRejected, Code, "account listing rejected by provider")
	}

	accounts := make([]types.Account, 0, len(resp.Accounts))
	for _, wa := range resp.Accounts {
		account, err := mapAccount(wa)
		if err != nil {
			g.logger.Warn("Skipping unmappable account", "bank", Code, "account", wa.AccountNumber, "error", err)
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// GetAccountDetails fetches a single account, returning nil when the provider
// does not know the id
func (g *Garanti) GetAccountDetails(ctx context.Context, accountID string) (*types.Account, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Success bool        `json:"success"`
		Account wireAccount `json:"account"`
	}
	err = g.retryer.Do(ctx, "get_account", func() error {
		return g.client.Do(ctx, bank.Request{
			Method:  "GET",
			Path:    "/v1/accounts/" + accountID,
			Token:   token,
			Headers: g.headers(),
		}, &resp)
	})
	if err != nil {
		if bank.KindOf(err) == bank.KindProviderRejected {
			return nil, nil
		}
		return nil, err
	}
	if !resp.Success {
		return nil, nil
	}

	account, err := mapAccount(resp.Account)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListTransactions fetches one page of transaction history. Garanti takes the
// filter as a JSON body rather than query parameters.
func (g *Garanti) ListTransactions(ctx context.Context, q types.TransactionQuery) (*types.TransactionPage, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}

	payload := map[string]any{
		"startDate": q.StartDate.Format("2006-01-02"),
		"endDate":   q.EndDate.Format("2006-01-02"),
		"page":      page,
		"limit":     limit,
	}
	if q.MinAmount != nil {
		payload["minAmount"] = *q.MinAmount
	}
	if q.MaxAmount != nil {
		payload["maxAmount"] = *q.MaxAmount
	}
	switch q.Direction {
	case types.DirectionDebit:
		payload["transactionType"] = "DEBIT"
	case types.DirectionCredit:
		payload["transactionType"] = "CREDIT"
	}

	var resp struct {
		Success      bool              `json:"success"`
		Transactions []wireTransaction `json:"transactions"`
		TotalCount   int               `json:"totalCount"`
		Page         int               `json:"page"`
		TotalPages   int               `json:"totalPages"`
	}
	err = g.retryer.Do(ctx, "list_transactions", func() error {
		return g.client.Do(ctx, bank.Request{
			Method:  "POST",
			Path:    "/v1/accounts/" + q.AccountExternalID + "/transactions",
			Body:    payload,
			Token:   token,
			Headers: g.headers(),
		}, &resp)
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, bank.Errorf(bank.KindProviderRejected, Code, "transaction listing rejected by provider")
	}

	items := make([]types.Transaction, 0, len(resp.Transactions))
	for _, wt := range resp.Transactions {
		tx, err := mapTransaction(wt)
		if err != nil {
			g.logger.Warn("Skipping unmappable transaction", "bank", Code, "transaction", wt.TransactionID, "error", err)
			continue
		}
		items = append(items, tx)
	}

	return &types.TransactionPage{
		Items:      items,
		TotalCount: resp.TotalCount,
		Page:       resp.Page,
		TotalPages: resp.TotalPages,
	}, nil
}

// Transfer issues a money transfer exactly once, outside the retry executor
func (g *Garanti) Transfer(ctx context.Context, req types.TransferRequest) (*types.TransferResult, error) {
	if req.ToIBAN != "" && !iban.Validate(req.ToIBAN) {
		return nil, bank.Errorf(bank.KindInvalidFormat, Code, "invalid destination IBAN %q", req.ToIBAN)
	}

	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"fromAccount":     req.FromAccount,
		"toAccount":       req.ToAccount,
		"amount":          req.Amount,
		"currency":        req.Currency,
		"description":     req.Description,
		"transferType":    mapTransferType(req.Type),
		"beneficiaryName": req.BeneficiaryName,
	}
	if req.ToIBAN != "" {
		payload["toIban"] = iban.Normalize(req.ToIBAN)
	}

	var resp struct {
		Success         bool        `json:"success"`
		TransferID      string      `json:"transferId"`
		ReferenceNumber string      `json:"referenceNumber"`
		TransactionDate string      `json:"transactionDate"`
		Amount          json.Number `json:"amount"`
		Fee             json.Number `json:"fee"`
		Error           *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := g.client.Do(ctx, bank.Request{
		Method:  "POST",
		Path:    "/v1/transfers",
		Body:    payload,
		Token:   token,
		Headers: g.headers(),
	}, &resp); err != nil {
		return nil, err
	}

	if !resp.Success {
		result := &types.TransferResult{Success: false, Amount: req.Amount}
		if resp.Error != nil {
			result.ErrorCode = resp.Error.Code
			result.ErrorMessage = resp.Error.Message
		}
		return result, nil
	}

	result := &types.TransferResult{
		Success:    true,
		TransferID: resp.TransferID,
		Reference:  resp.ReferenceNumber,
		Amount:     req.Amount,
	}
	if amount, err := parseNumber(resp.Amount); err == nil && !amount.IsZero() {
		result.Amount = amount
	}
	if fee, err := parseNumber(resp.Fee); err == nil {
		result.Fee = fee
	}
	if executed, err := parseDate(resp.TransactionDate); err == nil {
		result.ExecutedAt = &executed
	}

	g.logger.Info("Transfer completed", "bank", Code, "transfer_id", result.TransferID, "reference", result.Reference)
	return result, nil
}

func mapAccount(wa wireAccount) (types.Account, error) {
	balance, err := parseNumber(wa.Balance)
	if err != nil {
		return types.Account{}, fmt.Errorf("balance: %w", err)
	}
	available, err := parseNumber(wa.AvailableBalance)
	if err != nil {
		return types.Account{}, fmt.Errorf("available balance: %w", err)
	}
	blocked, _ := parseNumber(wa.BlockedAmount)

	status := types.AccountStatusInactive
	switch wa.Status {
	case "ACTIVE":
		status = types.AccountStatusActive
	case "BLOCKED":
		status = types.AccountStatusBlocked
	}

	account := types.Account{
		ExternalID:       wa.AccountNumber,
		AccountNumber:    wa.AccountNumber,
		IBAN:             iban.Normalize(wa.IBAN),
		Name:             wa.AccountName,
		Type:             mapAccountType(wa.AccountType),
		Currency:         wa.Currency,
		Balance:          balance,
		AvailableBalance: available,
		BlockedAmount:    blocked,
		BranchCode:       wa.BranchCode,
		BranchName:       wa.BranchName,
		Status:           status,
	}
	if t, err := parseDate(wa.OpenDate); err == nil {
		account.OpenedAt = &t
	}
	if t, err := parseDate(wa.LastTransactionDate); err == nil {
		account.LastTransaction = &t
	}
	return account, nil
}

func mapTransaction(wt wireTransaction) (types.Transaction, error) {
	amount, err := parseNumber(wt.Amount)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("amount: %w", err)
	}
	date, err := parseDate(wt.TransactionDate)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("transaction date: %w", err)
	}
	valueDate, err := parseDate(wt.ValueDate)
	if err != nil {
		valueDate = date
	}

	// Garanti sends an explicit type field; fall back to the amount sign
	direction := types.DirectionCredit
	if wt.Type == "DEBIT" || amount.IsNegative() {
		direction = types.DirectionDebit
	}
	runningBalance, _ := parseNumber(wt.Balance)

	tx := types.Transaction{
		ExternalID:        wt.TransactionID,
		AccountExternalID: wt.AccountNumber,
		Date:              date,
		ValueDate:         valueDate,
		Description:       wt.Description,
		Amount:            amount.Abs(),
		Currency:          wt.Currency,
		Direction:         direction,
		Category:          wt.Category,
		Reference:         wt.Reference,
		RunningBalance:    runningBalance,
		Channel:           wt.Channel,
	}
	if wt.Counterparty != nil {
		tx.CounterpartyName = wt.Counterparty.Name
		tx.CounterpartyNumber = wt.Counterparty.Account
		tx.CounterpartyIBAN = iban.Normalize(wt.Counterparty.IBAN)
	}
	return tx, nil
}

func mapAccountType(t string) types.AccountType {
	switch t {
	case "CHECKING", "CURRENT":
		return types.AccountTypeChecking
	case "SAVINGS":
		return types.AccountTypeSavings
	case "CREDIT":
		return types.AccountTypeCredit
	case "DEPOSIT", "TIME_DEPOSIT":
		return types.AccountTypeDeposit
	default:
		return types.AccountTypeChecking
	}
}

func mapTransferType(t types.TransferType) string {
	switch t {
	case types.TransferTypeWire:
		return "HAVALE"
	case types.TransferTypeInstant:
		return "FAST"
	default:
		return "EFT"
	}
}

func parseNumber(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String())
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Ensure Garanti implements the Adapter interface
var _ bank.Adapter = (*Garanti)(nil)
