package commands

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/umityaman/canary-bank-sync/internal/bank"
	"github.com/umityaman/canary-bank-sync/internal/bank/providers"
	"github.com/umityaman/canary-bank-sync/internal/config"
)

// SetupLogger creates the process logger at the configured level
func SetupLogger(level string) (*log.Logger, error) {
	logger := log.New(os.Stderr)
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(parsed)
	return logger, nil
}

// SetupRegistry loads configuration and registers every provider with
// credentials present. Returns the registry, the loaded config and the codes
// that were registered.
func SetupRegistry(envDir string, logger *log.Logger) (*bank.Registry, config.Config, []string, error) {
	cfg, err := config.Load(envDir)
	if err != nil {
		return nil, config.Config{}, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	registry := bank.NewRegistry(logger, bank.SystemClock, providers.Factories())
	registered := registry.AutoRegisterFromConfig(cfg)
	return registry, cfg, registered, nil
}
