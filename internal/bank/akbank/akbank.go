// Package akbank implements the Akbank provider adapter. Akbank uses OAuth2
// client-credentials authentication and Turkish field names on the wire.
package akbank

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
const Code = "AKBANK"

const (
	testBaseURL = "https://api-test.akbank.com"
	prodBaseURL = "https://api.akbank.com"

	// MaxPageSize is the provider's maximum transaction page size
	MaxPageSize = 1000
)

// Akbank is the live adapter instance for one credential set. Safe for
// concurrent use; the token guard serializes refreshes.
type Akbank struct {
	creds   types.Credentials
	client  *bank.Client
	guard   *bank.TokenGuard
	retryer bank.Retryer
	logger  *log.Logger
	clock   bank.Clock
}

// New creates an Akbank adapter, selecting the endpoint from the credential
// environment unless an explicit base URL override is set
func New(creds types.Credentials, logger *log.Logger, clock bank.Clock) *Akbank {
	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = testBaseURL
		if creds.Environment == types.EnvironmentProduction {
			baseURL = prodBaseURL
		}
	}
	return &Akbank{
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
func (a *Akbank) Name() string {
	return Code
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Authenticate forces a fresh OAuth2 client-credentials exchange
func (a *Akbank) Authenticate(ctx context.Context) error {
	a.guard.Invalidate()
	_, err := a.guard.Token(ctx, a.refreshToken)
	return err
}

func (a *Akbank) token(ctx context.Context) (string, error) {
	return a.guard.Token(ctx, a.refreshToken)
}

func (a *Akbank) refreshToken(ctx context.Context) (token string, expiry time.Time, err error) {
	a.logger.Info("Authenticating with Akbank", "environment", a.creds.Environment)

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", a.creds.ClientID)
	form.Set("client_secret", a.creds.APISecret)
	form.Set("scope", "accounts transactions payments")

	var resp authResponse
	err = a.retryer.Do(ctx, "authenticate", func() error {
		return a.client.Do(ctx, bank.Request{Method: "POST", Path: "/oauth/token", Form: form}, &resp)
	})
	if err != nil {
		return "", time.Time{}, err
	}
	if resp.AccessToken == "" {
		return "", time.Time{}, bank.Errorf(bank.KindAuthFailed, Code, "token endpoint returned no access token")
	}
	return resp.AccessToken, a.clock.Now().Add(time.Duration(resp.ExpiresIn) * time.Second), nil
}

type wireAccount struct {
	HesapNo              string      `json:"hesapNo"`
	IbanNo               string      `json:"ibanNo"`
	HesapAdi             string      `json:"hesapAdi"`
	HesapTipi            string      `json:"hesapTipi"`
	ParaBirimi           string      `json:"paraBirimi"`
	Bakiye               json.Number `json:"bakiye"`
	KullanilabilirBakiye json.Number `json:"kullanilabilirBakiye"`
	BlokeMiktari         json.Number `json:"blokeMiktari"`
	SubeKodu             string      `json:"subeKodu"`
	SubeAdi              string      `json:"subeAdi"`
	Durum                string      `json:"durum"`
	AcilisTarihi         string      `json:"acilisTarihi"`
	SonIslemTarihi       string      `json:"sonIslemTarihi"`
}

type wireTransaction struct {
	IslemID      string      `json:"islemId"`
	HesapNo      string      `json:"hesapNo"`
	IslemTarihi  string      `json:"islemTarihi"`
	ValorTarihi  string      `json:"valorTarihi"`
	Aciklama     string      `json:"aciklama"`
	Tutar        json.Number `json:"tutar"`
	ParaBirimi   string      `json:"paraBirimi"`
	IslemTipi    string      `json:"islemTipi"`
	Kategori     string      `json:"kategori"`
	Referans     string      `json:"referans"`
	Bakiye       json.Number `json:"bakiye"`
	KarsiHesapAd string      `json:"karsiHesapAdi"`
	KarsiHesapNo string      `json:"karsiHesapNo"`
	KarsiIban    string      `json:"karsiIban"`
	Kanal        string      `json:"kanal"`
}

// ListAccounts fetches all accounts for the configured customer number
func (a *Akbank) ListAccounts(ctx context.Context) ([]types.Account, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("musteriNo", a.creds.CustomerID)

	var resp struct {
		Hesaplar []wireAccount `json:"hesaplar"`
	}
	err = a.retryer.Do(ctx, "list_accounts", func() error {
		return a.client.Do(ctx, bank.Request{Method: "GET", Path: "/v1/hesaplar", Query: query, Token: token}, &resp)
	})
	if err != nil {
		return nil, err
	}

	accounts := make([]types.Account, 0, len(resp.Hesaplar))
	for _, wa := range resp.Hesaplar {
		account, err := mapAccount(wa)
		if err != nil {
			a.logger.Warn("Skipping unmappable account", "bank", Code, "account", wa.HesapNo, "error", err)
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// GetAccountDetails fetches a single account, returning nil when the provider
// does not know the id
func (a *Akbank) GetAccountDetails(ctx context.Context, accountID string) (*types.Account, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	var wa wireAccount
	err = a.retryer.Do(ctx, "get_account", func() error {
		return a.client.Do(ctx, bank.Request{Method: "GET", Path: "/v1/hesaplar/" + accountID, Token: token}, &wa)
	})
	if err != nil {
		if bank.KindOf(err) == bank.KindProviderRejected {
			return nil, nil
		}
		return nil, err
	}

	account, err := mapAccount(wa)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListTransactions fetches one page of transaction history
func (a *Akbank) ListTransactions(ctx context.Context, q types.TransactionQuery) (*types.TransactionPage, error) {
	token, err := a.token(ctx)
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

	query := url.Values{}
	query.Set("baslangicTarihi", q.StartDate.Format("2006-01-02"))
	query.Set("bitisTarihi", q.EndDate.Format("2006-01-02"))
	query.Set("sayfa", fmt.Sprintf("%d", page))
	query.Set("limit", fmt.Sprintf("%d", limit))
	if q.MinAmount != nil {
		query.Set("minTutar", q.MinAmount.String())
	}
	if q.MaxAmount != nil {
		query.Set("maxTutar", q.MaxAmount.String())
	}
	switch q.Direction {
	case types.DirectionDebit:
		query.Set("islemTipi", "BORC")
	case types.DirectionCredit:
		query.Set("islemTipi", "ALACAK")
	}

	var resp struct {
		Islemler []wireTransaction `json:"islemler"`
		Toplam   int               `json:"toplam"`
	}
	err = a.retryer.Do(ctx, "list_transactions", func() error {
		return a.client.Do(ctx, bank.Request{
			Method: "GET",
			Path:   "/v1/hesaplar/" + q.AccountExternalID + "/islemler",
			Query:  query,
			Token:  token,
		}, &resp)
	})
	if err != nil {
		return nil, err
	}

	items := make([]types.Transaction, 0, len(resp.Islemler))
	for _, wt := range resp.Islemler {
		tx, err := mapTransaction(wt)
		if err != nil {
			a.logger.Warn("Skipping unmappable transaction", "bank", Code, "transaction", wt.IslemID, "error", err)
			continue
		}
		items = append(items, tx)
	}

	totalPages := (resp.Toplam + limit - 1) / limit
	return &types.TransactionPage{
		Items:      items,
		TotalCount: resp.Toplam,
		Page:       page,
		TotalPages: totalPages,
	}, nil
}

type wireTransferResponse struct {
	Basarili    bool        `json:"basarili"`
	HavaleID    string      `json:"havaleId"`
	ReferansNo  string      `json:"referansNo"`
	IslemTarihi string      `json:"islemTarihi"`
	Tutar       json.Number `json:"tutar"`
	Komisyon    json.Number `json:"komisyon"`
	Hata        *struct {
		Kod   string `json:"kod"`
		Mesaj string `json:"mesaj"`
	} `json:"hata"`
}

// Transfer issues a money transfer. The call is sent exactly once: a transfer
// is not idempotent, so it stays outside the retry executor.
func (a *Akbank) Transfer(ctx context.Context, req types.TransferRequest) (*types.TransferResult, error) {
	if req.ToIBAN != "" && !iban.Validate(req.ToIBAN) {
		return nil, bank.Errorf(bank.KindInvalidFormat, Code, "invalid destination IBAN %q", req.ToIBAN)
	}

	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"gonderenHesap": req.FromAccount,
		"aliciHesap":    req.ToAccount,
		"tutar":         req.Amount,
		"paraBirimi":    req.Currency,
		"aciklama":      req.Description,
		"havaleTipi":    mapTransferType(req.Type),
		"aliciAdi":      req.BeneficiaryName,
	}
	if req.ToIBAN != "" {
		payload["aliciIban"] = iban.Normalize(req.ToIBAN)
	}

	var resp wireTransferResponse
	if err := a.client.Do(ctx, bank.Request{Method: "POST", Path: "/v1/havaleler", Body: payload, Token: token}, &resp); err != nil {
		return nil, err
	}

	if !resp.Basarili {
		result := &types.TransferResult{Success: false, Amount: req.Amount}
		if resp.Hata != nil {
			result.ErrorCode = resp.Hata.Kod
			result.ErrorMessage = resp.Hata.Mesaj
		}
		return result, nil
	}

	result := &types.TransferResult{
		Success:    true,
		TransferID: resp.HavaleID,
		Reference:  resp.ReferansNo,
		Amount:     req.Amount,
	}
	if amount, err := parseNumber(resp.Tutar); err == nil && !amount.IsZero() {
		result.Amount = amount
	}
	if fee, err := parseNumber(resp.Komisyon); err == nil {
		result.Fee = fee
	}
	if executed, err := parseDate(resp.IslemTarihi); err == nil {
		result.ExecutedAt = &executed
	}

	a.logger.Info("Transfer completed", "bank", Code, "transfer_id", result.TransferID, "reference", result.Reference)
	return result, nil
}

func mapAccount(wa wireAccount) (types.Account, error) {
	balance, err := parseNumber(wa.Bakiye)
	if err != nil {
		return types.Account{}, fmt.Errorf("balance: %w", err)
	}
	available, err := parseNumber(wa.KullanilabilirBakiye)
	if err != nil {
		return types.Account{}, fmt.Errorf("available balance: %w", err)
	}
	blocked, _ := parseNumber(wa.BlokeMiktari)

	account := types.Account{
		ExternalID:       wa.HesapNo,
		AccountNumber:    wa.HesapNo,
		IBAN:             iban.Normalize(wa.IbanNo),
		Name:             wa.HesapAdi,
		Type:             mapAccountType(wa.HesapTipi),
		Currency:         wa.ParaBirimi,
		Balance:          balance,
		AvailableBalance: available,
		BlockedAmount:    blocked,
		BranchCode:       wa.SubeKodu,
		BranchName:       wa.SubeAdi,
		Status:           mapAccountStatus(wa.Durum),
	}
	if t, err := parseDate(wa.AcilisTarihi); err == nil {
		account.OpenedAt = &t
	}
	if t, err := parseDate(wa.SonIslemTarihi); err == nil {
		account.LastTransaction = &t
	}
	return account, nil
}

func mapTransaction(wt wireTransaction) (types.Transaction, error) {
	amount, err := parseNumber(wt.Tutar)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("amount: %w", err)
	}
	date, err := parseDate(wt.IslemTarihi)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("transaction date: %w", err)
	}
	valueDate, err := parseDate(wt.ValorTarihi)
	if err != nil {
		valueDate = date
	}

	// Akbank carries direction in the amount sign
	direction := types.DirectionCredit
	if amount.IsNegative() {
		direction = types.DirectionDebit
	}
	runningBalance, _ := parseNumber(wt.Bakiye)

	return types.Transaction{
		ExternalID:         wt.IslemID,
		AccountExternalID:  wt.HesapNo,
		Date:               date,
		ValueDate:          valueDate,
		Description:        wt.Aciklama,
		Amount:             amount.Abs(),
		Currency:           wt.ParaBirimi,
		Direction:          direction,
		Category:           wt.Kategori,
		Reference:          wt.Referans,
		RunningBalance:     runningBalance,
		CounterpartyName:   wt.KarsiHesapAd,
		CounterpartyNumber: wt.KarsiHesapNo,
		CounterpartyIBAN:   iban.Normalize(wt.KarsiIban),
		Channel:            wt.Kanal,
	}, nil
}

func mapAccountType(t string) types.AccountType {
	switch t {
	case "VADESIZ":
		return types.AccountTypeChecking
	case "TASARRUF":
		return types.AccountTypeSavings
	case "KREDI":
		return types.AccountTypeCredit
	case "VADELI":
		return types.AccountTypeDeposit
	default:
		return types.AccountTypeChecking
	}
}

func mapAccountStatus(s string) types.AccountStatus {
	switch s {
	case "AKTIF":
		return types.AccountStatusActive
	case "BLOKE":
		return types.AccountStatusBlocked
	default:
		return types.AccountStatusInactive
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

// Ensure Akbank implements the Adapter interface
var _ bank.Adapter = (*Akbank)(nil)
