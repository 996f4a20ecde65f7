package bank

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/umityaman/canary-bank-sync/internal/types"
)

// Adapter is the contract every provider integration implements. All
// implementations attach a cached bearer token transparently, refreshing it
// when expired, and wrap network reads in the shared retry executor.
type Adapter interface {
	// Name returns the provider code, e.g. "AKBANK"
	Name() string

	// Authenticate exchanges the configured credentials for a fresh access
	// token, replacing any cached one
	Authenticate(ctx context.Context) error

	// ListAccounts returns all accounts visible to the configured customer
	ListAccounts(ctx context.Context) ([]types.Account, error)

	// GetAccountDetails returns a single account, or nil if the provider
	// does not know the id
	GetAccountDetails(ctx context.Context, accountID string) (*types.Account, error)

	// ListTransactions returns one page of transaction history for the
	// query's date window
	ListTransactions(ctx context.Context, query types.TransactionQuery) (*types.TransactionPage, error)

	// Transfer issues a money transfer. Transfers are sent exactly once and
	// never retried; a failed result carries the provider's error envelope.
	Transfer(ctx context.Context, req types.TransferRequest) (*types.TransferResult, error)
}

// Clock abstracts wall-clock reads so token expiry and sync windows are
// testable
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real clock used outside tests
var SystemClock Clock = systemClock{}

// Factory constructs a concrete adapter from credentials
type Factory func(creds types.Credentials, logger *log.Logger, clock Clock) (Adapter, error)

// CredentialSource supplies provider credentials from configuration. A nil
// return means the provider is not configured, which is not an error.
type CredentialSource interface {
	ProviderCredentials(code string) *types.Credentials
}

// Registry holds the live adapter instance for each registered provider.
// One instance per provider is shared by all concurrent callers, so lookup
// and registration are safe under concurrent access.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	factories map[string]Factory
	logger    *log.Logger
	clock     Clock
}

// NewRegistry creates a registry that can construct the given provider set
func NewRegistry(logger *log.Logger, clock Clock, factories map[string]Factory) *Registry {
	return &Registry{
		adapters:  make(map[string]Adapter),
		factories: factories,
		logger:    logger,
		clock:     clock,
	}
}

// Register constructs the adapter for a provider code and stores it as the
// live instance for that code, replacing any previous one
func (r *Registry) Register(code string, creds types.Credentials) (Adapter, error) {
	factory, ok := r.factories[code]
	if !ok {
		return nil, Errorf(KindNotImplemented, code, "no adapter implemented for provider %q", code)
	}

	adapter, err := factory(creds, r.logger, r.clock)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.adapters[code] = adapter
	r.mu.Unlock()

	r.logger.Info("Registered bank adapter", "bank", code, "environment", creds.Environment)
	return adapter, nil
}

// Get returns the live adapter for a provider code. Callers must register a
// provider before use; there is no lazy registration.
func (r *Registry) Get(code string) (Adapter, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[code]
	r.mu.RUnlock()
	if !ok {
		return nil, Errorf(KindNotRegistered, code, "provider %q is not registered", code)
	}
	return adapter, nil
}

// IsRegistered reports whether a provider has a live adapter
func (r *Registry) IsRegistered(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[code]
	return ok
}

// List returns the registered provider codes in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	codes := maps.Keys(r.adapters)
	r.mu.RUnlock()
	slices.Sort(codes)
	return codes
}

// Unregister removes a provider's live adapter
func (r *Registry) Unregister(code string) {
	r.mu.Lock()
	delete(r.adapters, code)
	r.mu.Unlock()
}

// Clear removes all live adapters
func (r *Registry) Clear() {
	r.mu.Lock()
	r.adapters = make(map[string]Adapter)
	r.mu.Unlock()
}

// AutoRegisterFromConfig registers every supported provider for which the
// source has credentials. A failure for one provider is logged and does not
// prevent the others from registering. Returns the codes registered.
func (r *Registry) AutoRegisterFromConfig(src CredentialSource) []string {
	codes := maps.Keys(r.factories)
	slices.Sort(codes)

	var registered []string
	for _, code := range codes {
		creds := src.ProviderCredentials(code)
		if creds == nil {
			r.logger.Debug("No credentials configured, skipping provider", "bank", code)
			continue
		}
		if _, err := r.Register(code, *creds); err != nil {
			r.logger.Error("Failed to register bank adapter", "bank", code, "error", err)
			continue
		}
		registered = append(registered, code)
	}
	return registered
}
