package bank

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/charmbracelet/log"
)

const (
	// DefaultRetryAttempts is the total number of attempts, not the number
	// of retries after the first failure
	DefaultRetryAttempts = 3
	// DefaultRetryBaseDelay is doubled after each failed attempt
	DefaultRetryBaseDelay = time.Second
)

// Retryer executes provider calls with exponential backoff. Only transient
// failures are retried; authentication rejections and provider business
// errors surface immediately. There is deliberately no jitter and no
// per-error-kind tuning beyond that split.
type Retryer struct {
	Attempts  uint
	BaseDelay time.Duration
	Bank      string
	Logger    *log.Logger
}

// NewRetryer returns a Retryer with the default attempt cap and base delay
func NewRetryer(bankName string, logger *log.Logger) Retryer {
	return Retryer{
		Attempts:  DefaultRetryAttempts,
		BaseDelay: DefaultRetryBaseDelay,
		Bank:      bankName,
		Logger:    logger,
	}
}

// Do runs op, retrying on transient failure until the attempt cap is reached,
// then returns the last error unchanged
func (r Retryer) Do(ctx context.Context, operation string, op func() error) error {
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(r.Attempts),
		retry.Delay(r.BaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			r.Logger.Warn("Retrying bank request",
				"bank", r.Bank,
				"operation", operation,
				"attempt", n+1,
				"max_attempts", r.Attempts,
				"error", err)
		}),
	)
}
