// Package config loads application settings and provider credentials from
// environment variables, with an optional .env file for local development.
// A provider whose secrets are absent is simply not configured; that is not
// an error.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/umityaman/canary-bank-sync/internal/types"
)

// Config holds all settings for the sync service. Values are loaded from
// environment variables; secret material is never logged in full.
type Config struct {
	DataDir         string `mapstructure:"DATA_DIR"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	BankEnvironment string `mapstructure:"BANK_ENVIRONMENT"`

	AkbankAPIKey     string `mapstructure:"AKBANK_API_KEY"`
	AkbankAPISecret  string `mapstructure:"AKBANK_API_SECRET"`
	AkbankClientID   string `mapstructure:"AKBANK_CLIENT_ID"`
	AkbankCustomerID string `mapstructure:"AKBANK_CUSTOMER_ID"`
	AkbankBaseURL    string `mapstructure:"AKBANK_BASE_URL"`

	GarantiAPIKey     string `mapstructure:"GARANTI_API_KEY"`
	GarantiAPISecret  string `mapstructure:"GARANTI_API_SECRET"`
	GarantiUsername   string `mapstructure:"GARANTI_USERNAME"`
	GarantiPassword   string `mapstructure:"GARANTI_PASSWORD"`
	GarantiCustomerID string `mapstructure:"GARANTI_CUSTOMER_ID"`
	GarantiBaseURL    string `mapstructure:"GARANTI_BASE_URL"`

	IsbankAPISecret  string `mapstructure:"ISBANK_API_SECRET"`
	IsbankClientID   string `mapstructure:"ISBANK_CLIENT_ID"`
	IsbankUsername   string `mapstructure:"ISBANK_USERNAME"`
	IsbankPassword   string `mapstructure:"ISBANK_PASSWORD"`
	IsbankCustomerID string `mapstructure:"ISBANK_CUSTOMER_ID"`
	IsbankBaseURL    string `mapstructure:"ISBANK_BASE_URL"`
}

// Load reads configuration from environment variables and an optional .env
// file in the given path
func Load(path string) (Config, error) {
	v := viper.New()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BANK_ENVIRONMENT", "test")

	// Bind explicitly so env-only values survive Unmarshal
	for _, key := range []string{
		"DATA_DIR", "LOG_LEVEL", "BANK_ENVIRONMENT",
		"AKBANK_API_KEY", "AKBANK_API_SECRET", "AKBANK_CLIENT_ID", "AKBANK_CUSTOMER_ID", "AKBANK_BASE_URL",
		"GARANTI_API_KEY", "GARANTI_API_SECRET", "GARANTI_USERNAME", "GARANTI_PASSWORD", "GARANTI_CUSTOMER_ID", "GARANTI_BASE_URL",
		"ISBANK_API_SECRET", "ISBANK_CLIENT_ID", "ISBANK_USERNAME", "ISBANK_PASSWORD", "ISBANK_CUSTOMER_ID", "ISBANK_BASE_URL",
	} {
		_ = v.BindEnv(key)
	}

	// Missing .env is fine; the environment is the source of truth
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) environment() types.Environment {
	if strings.EqualFold(c.BankEnvironment, "production") {
		return types.EnvironmentProduction
	}
	return types.EnvironmentTest
}

// ProviderCredentials returns the credential set for a provider code, or nil
// when the provider's required secrets are not configured
func (c Config) ProviderCredentials(code string) *types.Credentials {
	switch code {
	case "AKBANK":
		if c.AkbankClientID == "" || c.AkbankAPISecret == "" {
			return nil
		}
		return &types.Credentials{
			Environment: c.environment(),
			APIKey:      c.AkbankAPIKey,
			APISecret:   c.AkbankAPISecret,
			ClientID:    c.AkbankClientID,
			CustomerID:  c.AkbankCustomerID,
			BaseURL:     c.AkbankBaseURL,
		}
	case "GARANTI":
		if c.GarantiAPIKey == "" || c.GarantiAPISecret == "" {
			return nil
		}
		return &types.Credentials{
			Environment: c.environment(),
			APIKey:      c.GarantiAPIKey,
			APISecret:   c.GarantiAPISecret,
			Username:    c.GarantiUsername,
			Password:    c.GarantiPassword,
			CustomerID:  c.GarantiCustomerID,
			BaseURL:     c.GarantiBaseURL,
		}
	case "ISBANK":
		if c.IsbankClientID == "" || c.IsbankAPISecret == "" {
			return nil
		}
		return &types.Credentials{
			Environment: c.environment(),
			APISecret:   c.IsbankAPISecret,
			ClientID:    c.IsbankClientID,
			Username:    c.IsbankUsername,
			Password:    c.IsbankPassword,
			CustomerID:  c.IsbankCustomerID,
			BaseURL:     c.IsbankBaseURL,
		}
	}
	return nil
}
