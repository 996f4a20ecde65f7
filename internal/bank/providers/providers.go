// Package providers wires the concrete adapter factories into a registry
// without creating an import cycle between the bank package and the adapters.
package providers

import (
	"github.com/umityaman/canary-bank-sync/internal/bank"
	"github.com/umityaman/canary-bank-sync/internal/bank/akbank"
	"github.com/umityaman/canary-bank-sync/internal/bank/garanti"
	"github.com/umityaman/canary-bank-sync/internal/bank/isbank"
)

// Factories returns the factory for every supported provider, keyed by
// provider code
func Factories() map[string]bank.Factory {
	return map[string]bank.Factory{
		akbank.Code:  akbank.Factory,
		garanti.Code: garanti.Factory,
		isbank.Code:  isbank.Factory,
	}
}
