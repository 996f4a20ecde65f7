package bank

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umityaman/canary-bank-sync/internal/types"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type stubAdapter struct {
	name string
}

func (a *stubAdapter) Name() string                        { return a.name }
func (a *stubAdapter) Authenticate(context.Context) error  { return nil }
func (a *stubAdapter) ListAccounts(context.Context) ([]types.Account, error) {
	return nil, nil
}
func (a *stubAdapter) GetAccountDetails(context.Context, string) (*types.Account, error) {
	return nil, nil
}
func (a *stubAdapter) ListTransactions(context.Context, types.TransactionQuery) (*types.TransactionPage, error) {
	return nil, nil
}
func (a *stubAdapter) Transfer(context.Context, types.TransferRequest) (*types.TransferResult, error) {
	return nil, nil
}

func stubFactory(code string) Factory {
	return func(creds types.Credentials, logger *log.Logger, clock Clock) (Adapter, error) {
		return &stubAdapter{name: code}, nil
	}
}

func newTestRegistry(factories map[string]Factory) *Registry {
	return NewRegistry(log.New(io.Discard), &fakeClock{now: time.Now()}, factories)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := newTestRegistry(map[string]Factory{
		"TESTBANK": stubFactory("TESTBANK"),
	})

	adapter, err := registry.Register("TESTBANK", types.Credentials{Environment: types.EnvironmentTest})
	require.NoError(t, err)
	assert.Equal(t, "TESTBANK", adapter.Name())

	got, err := registry.Get("TESTBANK")
	require.NoError(t, err)
	assert.Same(t, adapter, got)
	assert.True(t, registry.IsRegistered("TESTBANK"))
}

func TestRegistryUnknownProvider(t *testing.T) {
	registry := newTestRegistry(map[string]Factory{})

	_, err := registry.Register("NOPE", types.Credentials{})
	require.Error(t, err)
	assert.Equal(t, KindNotImplemented, KindOf(err))
}

func TestRegistryGetUnregistered(t *testing.T) {
	registry := newTestRegistry(map[string]Factory{
		"TESTBANK": stubFactory("TESTBANK"),
	})

	_, err := registry.Get("TESTBANK")
	require.Error(t, err)
	assert.Equal(t, KindNotRegistered, KindOf(err))
	assert.False(t, registry.IsRegistered("TESTBANK"))
}

func TestRegistryListAndUnregister(t *testing.T) {
	registry := newTestRegistry(map[string]Factory{
		"B": stubFactory("B"),
		"A": stubFactory("A"),
		"C": stubFactory("C"),
	})

	for _, code := range []string{"C", "A", "B"} {
		_, err := registry.Register(code, types.Credentials{})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"A", "B", "C"}, registry.List())

	registry.Unregister("B")
	assert.Equal(t, []string{"A", "C"}, registry.List())

	registry.Clear()
	assert.Empty(t, registry.List())
}

func TestRegistryReplacesExistingAdapter(t *testing.T) {
	registry := newTestRegistry(map[string]Factory{
		"TESTBANK": stubFactory("TESTBANK"),
	})

	first, err := registry.Register("TESTBANK", types.Credentials{})
	require.NoError(t, err)
	second, err := registry.Register("TESTBANK", types.Credentials{})
	require.NoError(t, err)

	got, err := registry.Get("TESTBANK")
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.NotSame(t, first, got)
}

type mapCredentialSource map[string]*types.Credentials

func (m mapCredentialSource) ProviderCredentials(code string) *types.Credentials {
	return m[code]
}

func TestAutoRegisterFromConfig(t *testing.T) {
	failing := func(creds types.Credentials, logger *log.Logger, clock Clock) (Adapter, error) {
		return nil, errors.New("broken factory")
	}

	registry := newTestRegistry(map[string]Factory{
		"GOOD":   stubFactory("GOOD"),
		"BROKEN": failing,
		"UNSET":  stubFactory("UNSET"),
	})

	registered := registry.AutoRegisterFromConfig(mapCredentialSource{
		"GOOD":   {Environment: types.EnvironmentTest, APIKey: "k"},
		"BROKEN": {Environment: types.EnvironmentTest, APIKey: "k"},
	})

	// The broken factory must not prevent the good provider from registering
	assert.Equal(t, []string{"GOOD"}, registered)
	assert.True(t, registry.IsRegistered("GOOD"))
	assert.False(t, registry.IsRegistered("BROKEN"))
	assert.False(t, registry.IsRegistered("UNSET"))
}
