// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"time"

	retry "github.com/avast/retry-go"
)

// RetryPolicy configures the per-call retry ladder. Only transport
// errors re-enter the ladder; credentials and domain errors surface on
// the first occurrence.
type RetryPolicy struct {
	MaxAttempts uint
	BaseDelay   time.Duration
	Exponential bool
}

// DefaultRetryPolicy matches the production ladder: 3 attempts with a
// linear 1 s, 2 s progression.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// RechargeWithRetry runs one recharge through the ladder.
func RechargeWithRetry(ctx context.Context, c Client, pol RetryPolicy, sim, code string, amount float64) (*CallResult, error) {
	var res *CallResult
	err := retry.Do(
		func() error {
			var callErr error
			res, callErr = c.Recharge(ctx, sim, code, amount)
			return callErr
		},
		retryOptions(ctx, pol)...,
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// BalanceWithRetry runs one balance probe through the ladder.
func BalanceWithRetry(ctx context.Context, c Client, pol RetryPolicy) (float64, error) {
	var bal float64
	err := retry.Do(
		func() error {
			var callErr error
			bal, callErr = c.GetBalance(ctx)
			return callErr
		},
		retryOptions(ctx, pol)...,
	)
	if err != nil {
		return 0, err
	}
	return bal, nil
}

func retryOptions(ctx context.Context, pol RetryPolicy) []retry.Option {
	attempts := pol.MaxAttempts
	if attempts == 0 {
		attempts = 3
	}
	base := pol.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	delayType := linearDelay
	if pol.Exponential {
		delayType = retry.BackOffDelay
	}

	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(base),
		retry.DelayType(delayType),
		retry.RetryIf(Retryable),
		retry.LastErrorOnly(true),
	}
}

// linearDelay yields base, 2*base, 3*base between attempts.
func linearDelay(n uint, _ error, config *retry.Config) time.Duration {
	return retry.FixedDelay(n, nil, config) * time.Duration(n+1)
}
