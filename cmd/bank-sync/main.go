package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/schollz/progressbar/v3"

	"github.com/umityaman/canary-bank-sync/internal/bank"
	"github.com/umityaman/canary-bank-sync/internal/commands"
	"github.com/umityaman/canary-bank-sync/internal/db"
	"github.com/umityaman/canary-bank-sync/internal/syncer"
	"github.com/umityaman/canary-bank-sync/internal/types"
)

type CLI struct {
	commands.CommonConfig

	CompanyID        int64  `help:"Company to sync" required:""`
	Bank             string `help:"Sync a single provider (default: all registered)"`
	Days             int    `help:"Transaction window in days" default:"7"`
	AccountsOnly     bool   `help:"Sync accounts only" default:"false"`
	TransactionsOnly bool   `help:"Sync transactions only" default:"false"`
	Scheduled        bool   `help:"Run the full scheduled sync (accounts then transactions)" default:"false"`
	NoProgress       bool   `help:"Disable progress bar" default:"false"`
}

func (c *CLI) Run() error {
	logger, err := commands.SetupLogger(c.LogLevel)
	if err != nil {
		return err
	}

	registry, _, registered, err := commands.SetupRegistry(c.EnvDir, logger)
	if err != nil {
		logger.Fatal("Failed to set up bank registry", "error", err)
	}
	if len(registered) == 0 {
		logger.Fatal("No bank providers configured")
	}
	logger.Info("Providers registered", "banks", registered)

	database, err := db.New(c.DataDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", "error", err)
	}
	defer database.Close()

	engine := syncer.New(registry, database, logger, bank.SystemClock)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if c.Scheduled {
		if err := engine.ScheduledSync(ctx, c.CompanyID); err != nil {
			logger.Fatal("Scheduled sync failed", "error", err)
		}
		return nil
	}

	var results []types.SyncResult

	if !c.TransactionsOnly {
		if c.Bank != "" {
			results = append(results, engine.SyncAccounts(ctx, c.Bank, c.CompanyID))
		} else {
			results = append(results, engine.SyncAllBanks(ctx, c.CompanyID)...)
		}
	}

	if !c.AccountsOnly {
		transactionResults, err := c.syncTransactions(ctx, engine, database)
		if err != nil {
			logger.Fatal("Transaction sync failed", "error", err)
		}
		results = append(results, transactionResults...)
	}

	return printResults(results)
}

// syncTransactions walks every active account with a progress bar, syncing
// the requested window per account
func (c *CLI) syncTransactions(ctx context.Context, engine *syncer.Engine, database *db.DB) ([]types.SyncResult, error) {
	accounts, err := database.ListActiveAccounts(ctx, c.CompanyID)
	if err != nil {
		return nil, err
	}

	var bar *progressbar.ProgressBar
	if !c.NoProgress {
		bar = progressbar.NewOptions(len(accounts),
			progressbar.OptionSetDescription("Syncing transactions"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
	}

	endDate := time.Now()
	startDate := endDate.AddDate(0, 0, -c.Days)

	var results []types.SyncResult
	for _, account := range accounts {
		if c.Bank != "" && account.BankCode != c.Bank {
			continue
		}
		results = append(results, engine.SyncTransactions(ctx, account.BankCode, account.AccountNumber, startDate, endDate, c.CompanyID))
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		fmt.Fprint(os.Stderr, "\r\033[K")
	}
	return results, nil
}

func printResults(results []types.SyncResult) error {
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	fmt.Println(string(b))
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("bank-sync"),
		kong.Description("Sync bank accounts and transactions into local storage"),
		kong.UsageOnError(),
	)

	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
