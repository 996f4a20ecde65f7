package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/shopspring/decimal"

	"github.com/umityaman/canary-bank-sync/internal/commands"
	"github.com/umityaman/canary-bank-sync/internal/iban"
	"github.com/umityaman/canary-bank-sync/internal/types"
)

type CLI struct {
	commands.CommonConfig

	Bank        string `help:"Bank code to send the transfer through" required:""`
	FromAccount string `help:"Source account number" required:""`
	ToIBAN      string `help:"Destination IBAN" name:"to-iban"`
	ToAccount   string `help:"Destination account number (intra-bank transfers)"`
	Amount      string `help:"Transfer amount, e.g. 1250.50" required:""`
	Currency    string `help:"Currency code" default:"TRY"`
	Description string `help:"Transfer description"`
	Type        string `help:"Transfer type" enum:"eft,wire,instant" default:"eft"`
	Beneficiary string `help:"Beneficiary name"`
}

func (c *CLI) Run() error {
	logger, err := commands.SetupLogger(c.LogLevel)
	if err != nil {
		return err
	}

	registry, _, registered, err := commands.SetupRegistry(c.EnvDir, logger)
	if err != nil {
		return err
	}
	if len(registered) == 0 {
		return fmt.Errorf("no bank providers configured")
	}

	adapter, err := registry.Get(c.Bank)
	if err != nil {
		return err
	}

	amount, err := decimal.NewFromString(c.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", c.Amount, err)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount)
	}

	if c.ToIBAN == "" && c.ToAccount == "" {
		return fmt.Errorf("either --to-iban or --to-account is required")
	}
	if c.ToIBAN != "" {
		normalized := iban.Normalize(c.ToIBAN)
		if !iban.Validate(normalized) {
			return fmt.Errorf("invalid destination IBAN %q", c.ToIBAN)
		}
		c.ToIBAN = normalized
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := adapter.Authenticate(ctx); err != nil {
		return err
	}

	result, err := adapter.Transfer(ctx, types.TransferRequest{
		FromAccount:     c.FromAccount,
		ToAccount:       c.ToAccount,
		ToIBAN:          c.ToIBAN,
		Amount:          amount,
		Currency:        c.Currency,
		Description:     c.Description,
		Type:            types.TransferType(c.Type),
		BeneficiaryName: c.Beneficiary,
	})
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(b))

	if !result.Success {
		return fmt.Errorf("transfer rejected: %s (%s)", result.ErrorMessage, result.ErrorCode)
	}
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("bank-transfer"),
		kong.Description("Send a single money transfer through a configured bank provider"),
		kong.UsageOnError(),
	)

	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
