// Package isbank implements the İş Bankası provider adapter. İş Bankası
// authenticates with a client id, a random nonce and an HMAC signature, sends
// amounts as tr-TR formatted strings, and wraps every response in a
// durum/BASARILI envelope.
package isbank

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/umityaman/canary-bank-sync/internal/bank"
	"github.com/umityaman/canary-bank-sync/internal/iban"
	"github.com/umityaman/canary-bank-sync/internal/types"
)

// Code is the provider code this adapter registers under
const Code = "ISBANK"

const (
	testBaseURL = "https://apitest.isbank.com.tr"
	prodBaseURL = "https://api.isbank.com.tr"

	statusOK = "BASARILI"

	// MaxPageSize is the provider's maximum transaction page size
	MaxPageSize = 1000
)

// Isbank is the live adapter instance for one credential set
type Isbank struct {
	creds   types.Credentials
	client  *bank.Client
	guard   *bank.TokenGuard
	retryer bank.Retryer
	logger  *log.Logger
	clock   bank.Clock
}

// New creates an İş Bankası adapter, selecting the endpoint from the
// credential environment unless an explicit base URL override is set
func New(creds types.Credentials, logger *log.Logger, clock bank.Clock) *Isbank {
	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = testBaseURL
		if creds.Environment == types.EnvironmentProduction {
			baseURL = prodBaseURL
		}
	}
	return &Isbank{
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
func (i *Isbank) Name() string {
	return Code
}

// Authenticate forces a fresh token exchange
func (i *Isbank) Authenticate(ctx context.Context) error {
	i.guard.Invalidate()
	_, err := i.guard.Token(ctx, i.refreshToken)
	return err
}

func (i *Isbank) token(ctx context.Context) (string, error) {
	return i.guard.Token(ctx, i.refreshToken)
}

func (i *Isbank) refreshToken(ctx context.Context) (string, time.Time, error) {
	i.logger.Info("Authenticating with İş Bankası", "environment", i.creds.Environment)

	// The signature covers client id, timestamp and a single-use nonce
	timestamp := strconv.FormatInt(i.clock.Now().UnixMilli(), 10)
	nonce := uuid.NewString()
	signature := bank.Sign(i.creds.ClientID+timestamp+nonce, i.creds.APISecret)

	payload := map[string]string{
		"istemciKimlik": i.creds.ClientID,
		"kullaniciAdi":  i.creds.Username,
		"sifre":         i.creds.Password,
		"zamanDamgasi":  timestamp,
		"nonce":         nonce,
		"imza":          signature,
	}

	var resp struct {
		Durum            string `json:"durum"`
		ErisimBelirteci  string `json:"erisimBelirteci"`
		GecerlilikSuresi int64  `json:"gecerlilikSuresi"`
	}
	err := i.retryer.Do(ctx, "authenticate", func() error {
		return i.client.Do(ctx, bank.Request{Method: "POST", Path: "/api/v1/auth/token", Body: payload}, &resp)
	})
	if err != nil {
		return "", time.Time{}, err
	}
	if resp.Durum != statusOK || resp.ErisimBelirteci == "" {
		return "", time.Time{}, bank.Errorf(bank.KindAuthFailed, Code, "token endpoint rejected credentials (durum=%s)", resp.Durum)
	}
	return resp.ErisimBelirteci, i.clock.Now().Add(time.Duration(resp.GecerlilikSuresi) * time.Second), nil
}

func (i *Isbank) headers() map[string]string {
	return map[string]string{"X-Client-Id": i.creds.ClientID}
}

type wireAccount struct {
	HesapNumarasi        string `json:"hesapNumarasi"`
	IBAN                 string `json:"iban"`
	HesapIsmi            string `json:"hesapIsmi"`
	HesapCinsi           string `json:"hesapCinsi"`
	DovizCinsi           string `json:"dovizCinsi"`
	Bakiye               string `json:"bakiye"`
	KullanilabilirBakiye string `json:"kullanilabilirBakiye"`
	BlokeMiktar          string `json:"blokeMiktar"`
	SubeKod              string `json:"subeKod"`
	SubeIsim             string `json:"subeIsim"`
	Durum                string `json:"durum"`
	AcilisTarih          string `json:"acilisTarih"`
	SonIslemTarih        string `json:"sonIslemTarih"`
}

type wireCounterparty struct {
	Adi     string `json:"adi"`
	HesapNo string `json:"hesapNo"`
	IBAN    string `json:"iban"`
}

type wireTransaction struct {
	IslemNo      string            `json:"islemNo"`
	HesapNo      string            `json:"hesapNo"`
	IslemTarih   string            `json:"islemTarih"`
	ValorTarih   string            `json:"valorTarih"`
	IslemAciklam string            `json:"islemAciklama"`
	IslemTutar   string            `json:"islemTutar"`
	DovizCinsi   string            `json:"dovizCinsi"`
	BorcAlacak   string            `json:"borcAlacak"`
	Kategori     string            `json:"kategori"`
	ReferansNo   string            `json:"referansNo"`
	KalanBakiye  string            `json:"kalanBakiye"`
	KarsiTaraf   *wireCounterparty `json:"karsiTaraf"`
	Kanal        string            `json:"kanal"`
}

// ListAccounts fetches all accounts for the configured customer number
func (i *Isbank) ListAccounts(ctx context.Context) ([]types.Account, error) {
	token, err := i.token(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("musteriNo", i.creds.CustomerID)

	var resp struct {
		Durum    string        `json:"durum"`
		Hesaplar []wireAccount `json:"hesaplar"`
	}
	err = i.retryer.Do(ctx, "list_accounts", func() error {
		return i.client.Do(ctx, bank.Request{
			Method:  "GET",
			Path:    "/api/v1/hesaplar",
			Query:   query,
			Token:   token,
			Headers: i.headers(),
		}, &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.Durum != statusOK {
		return nil, bank.Errorf(bank.KindProviderRejected, Code, "account listing rejected (durum=%s)", resp.Durum)
	}

	accounts := make([]types.Account, 0, len(resp.Hesaplar))
	for _, wa := range resp.Hesaplar {
		account, err := mapAccount(wa)
		if err != nil {
			i.logger.Warn("Skipping unmappable account", "bank", Code, "account", wa.HesapNumarasi, "error", err)
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// GetAccountDetails fetches a single account, returning nil when the provider
// does not know the id
func (i *Isbank) GetAccountDetails(ctx context.Context, accountID string) (*types.Account, error) {
	token, err := i.token(ctx)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Durum string      `json:"durum"`
		Hesap wireAccount `json:"hesap"`
	}
	err = i.retryer.Do(ctx, "get_account", func() error {
		return i.client.Do(ctx, bank.Request{
			Method:  "GET",
			Path:    "/api/v1/hesaplar/" + accountID,
			Token:   token,
			Headers: i.headers(),
		}, &resp)
	})
	if err != nil {
		if bank.KindOf(err) == bank.KindProviderRejected {
			return nil, nil
		}
		return nil, err
	}
	if resp.Durum != statusOK {
		return nil, nil
	}

	account, err := mapAccount(resp.Hesap)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListTransactions fetches one page of transaction history
func (i *Isbank) ListTransactions(ctx context.Context, q types.TransactionQuery) (*types.TransactionPage, error) {
	token, err := i.token(ctx)
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
		"baslangicTarih": q.StartDate.Format("2006-01-02"),
		"bitisTarih":     q.EndDate.Format("2006-01-02"),
		"sayfa":          page,
		"limit":          limit,
	}
	if q.MinAmount != nil {
		payload["minTutar"] = *q.MinAmount
	}
	if q.MaxAmount != nil {
		payload["maxTutar"] = *q.MaxAmount
	}
	switch q.Direction {
	case types.DirectionDebit:
		payload["islemTip"] = "BORC"
	case types.DirectionCredit:
		payload["islemTip"] = "ALACAK"
	}

	var resp struct {
		Durum       string            `json:"durum"`
		Islemler    []wireTransaction `json:"islemler"`
		ToplamKayit int               `json:"toplamKayit"`
		Sayfa       int               `json:"sayfa"`
		ToplamSayfa int               `json:"toplamSayfa"`
	}
	err = i.retryer.Do(ctx, "list_transactions", func() error {
		return i.client.Do(ctx, bank.Request{
			Method:  "POST",
			Path:    "/api/v1/hesaplar/" + q.AccountExternalID + "/hareketler",
			Body:    payload,
			Token:   token,
			Headers: i.headers(),
		}, &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.Durum != statusOK {
		return nil, bank.Errorf(bank.KindProviderRejected, Code, "transaction listing rejected (durum=%s)", resp.Durum)
	}

	items := make([]types.Transaction, 0, len(resp.Islemler))
	for _, wt := range resp.Islemler {
		tx, err := mapTransaction(wt)
		if err != nil {
			i.logger.Warn("Skipping unmappable transaction", "bank", Code, "transaction", wt.IslemNo, "error", err)
			continue
		}
		items = append(items, tx)
	}

	return &types.TransactionPage{
		Items:      items,
		TotalCount: resp.ToplamKayit,
		Page:       resp.Sayfa,
		TotalPages: resp.ToplamSayfa,
	}, nil
}

// Transfer issues a money transfer exactly once, outside the retry executor
func (i *Isbank) Transfer(ctx context.Context, req types.TransferRequest) (*types.TransferResult, error) {
	if req.ToIBAN != "" && !iban.Validate(req.ToIBAN) {
		return nil, bank.Errorf(bank.KindInvalidFormat, Code, "invalid destination IBAN %q", req.ToIBAN)
	}

	token, err := i.token(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"gonderenHesap": req.FromAccount,
		"aliciHesap":    req.ToAccount,
		"tutar":         iban.FormatAmount(req.Amount),
		"dovizCinsi":    req.Currency,
		"aciklama":      req.Description,
		"havaleTip":     mapTransferType(req.Type),
		"aliciAd":       req.BeneficiaryName,
	}
	if req.ToIBAN != "" {
		payload["aliciIban"] = iban.Normalize(req.ToIBAN)
	}

	var resp struct {
		Durum      string `json:"durum"`
		HavaleNo   string `json:"havaleNo"`
		ReferansNo string `json:"referansNo"`
		IslemTarih string `json:"islemTarih"`
		Tutar      string `json:"tutar"`
		Komisyon   string `json:"komisyon"`
		Hata       *struct {
			Kod   string `json:"kod"`
			Mesaj string `json:"mesaj"`
		} `json:"hata"`
	}
	if err := i.client.Do(ctx, bank.Request{
		Method:  "POST",
		Path:    "/api/v1/havaleler",
		Body:    payload,
		Token:   token,
		Headers: i.headers(),
	}, &resp); err != nil {
		return nil, err
	}

	if resp.Durum != statusOK {
		result := &types.TransferResult{Success: false, Amount: req.Amount}
		if resp.Hata != nil {
			result.ErrorCode = resp.Hata.Kod
			result.ErrorMessage = resp.Hata.Mesaj
		}
		return result, nil
	}

	result := &types.TransferResult{
		Success:    true,
		TransferID: resp.HavaleNo,
		Reference:  resp.ReferansNo,
		Amount:     req.Amount,
	}
	if amount, err := iban.ParseAmount(resp.Tutar); err == nil && !amount.IsZero() {
		result.Amount = amount
	}
	if fee, err := iban.ParseAmount(resp.Komisyon); err == nil {
		result.Fee = fee
	}
	if executed, err := parseDate(resp.IslemTarih); err == nil {
		result.ExecutedAt = &executed
	}

	i.logger.Info("Transfer completed", "bank", Code, "transfer_id", result.TransferID, "reference", result.Reference)
	return result, nil
}

func mapAccount(wa wireAccount) (types.Account, error) {
	balance, err := iban.ParseAmount(wa.Bakiye)
	if err != nil {
		return types.Account{}, fmt.Errorf("balance: %w", err)
	}
	available, err := iban.ParseAmount(wa.KullanilabilirBakiye)
	if err != nil {
		return types.Account{}, fmt.Errorf("available balance: %w", err)
	}
	blocked := decimal.Zero
	if wa.BlokeMiktar != "" {
		if blocked, err = iban.ParseAmount(wa.BlokeMiktar); err != nil {
			return types.Account{}, fmt.Errorf("blocked amount: %w", err)
		}
	}

	status := types.AccountStatusInactive
	switch wa.Durum {
	case "AKTIF":
		status = types.AccountStatusActive
	case "BLOKE":
		status = types.AccountStatusBlocked
	}

	account := types.Account{
		ExternalID:       wa.HesapNumarasi,
		AccountNumber:    wa.HesapNumarasi,
		IBAN:             iban.Normalize(wa.IBAN),
		Name:             wa.HesapIsmi,
		Type:             mapAccountType(wa.HesapCinsi),
		Currency:         wa.DovizCinsi,
		Balance:          balance,
		AvailableBalance: available,
		BlockedAmount:    blocked,
		BranchCode:       wa.SubeKod,
		BranchName:       wa.SubeIsim,
		Status:           status,
	}
	if t, err := parseDate(wa.AcilisTarih); err == nil {
		account.OpenedAt = &t
	}
	if t, err := parseDate(wa.SonIslemTarih); err == nil {
		account.LastTransaction = &t
	}
	return account, nil
}

func mapTransaction(wt wireTransaction) (types.Transaction, error) {
	amount, err := iban.ParseAmount(wt.IslemTutar)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("amount: %w", err)
	}
	date, err := parseDate(wt.IslemTarih)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("transaction date: %w", err)
	}
	valueDate, err := parseDate(wt.ValorTarih)
	if err != nil {
		valueDate = date
	}

	// İş Bankası sends an explicit debit/credit marker
	direction := types.DirectionCredit
	if wt.BorcAlacak == "BORC" {
		direction = types.DirectionDebit
	}

	runningBalance := decimal.Zero
	if wt.KalanBakiye != "" {
		runningBalance, _ = iban.ParseAmount(wt.KalanBakiye)
	}

	tx := types.Transaction{
		ExternalID:        wt.IslemNo,
		AccountExternalID: wt.HesapNo,
		Date:              date,
		ValueDate:         valueDate,
		Description:       wt.IslemAciklam,
		Amount:            amount.Abs(),
		Currency:          wt.DovizCinsi,
		Direction:         direction,
		Category:          wt.Kategori,
		Reference:         wt.ReferansNo,
		RunningBalance:    runningBalance,
		Channel:           wt.Kanal,
	}
	if wt.KarsiTaraf != nil {
		tx.CounterpartyName = wt.KarsiTaraf.Adi
		tx.CounterpartyNumber = wt.KarsiTaraf.HesapNo
		tx.CounterpartyIBAN = iban.Normalize(wt.KarsiTaraf.IBAN)
	}
	return tx, nil
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

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "02.01.2006 15:04:05", "02.01.2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Ensure Isbank implements the Adapter interface
var _ bank.Adapter = (*Isbank)(nil)
