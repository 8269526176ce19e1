// SPDX-License-Identifier: MIT

// Package provider defines the common surface of the external recharge
// webservices (TAECEL, MST) and the balance-based provider selection.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Provider names as recorded on ledger rows and queue items.
const (
	NameTaecel = "TAECEL"
	NameMST    = "MST"
)

// Sentinel errors for errors.Is checks at the pipeline boundary.
var (
	// ErrTransport marks retryable failures: timeouts, connection
	// resets, HTTP >= 500.
	ErrTransport = errors.New("provider: transport failure")
	// ErrCredentials marks HTTP 403 responses. Terminal.
	ErrCredentials = errors.New("provider: credentials rejected")
	// ErrDomain marks provider-side rejections carried in an otherwise
	// healthy response (MST <Error> payload, TAECEL success=false). No
	// money was charged. Terminal.
	ErrDomain = errors.New("provider: domain error")
	// ErrBadResponse marks responses whose shape cannot be parsed.
	ErrBadResponse = errors.New("provider: invalid response format")
)

// CallError wraps a sentinel with the operation and provider context.
type CallError struct {
	Sentinel error
	Provider string
	Op       string
	Status   int
	Detail   string
	Err      error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Sentinel }

// Retryable reports whether the error is worth another attempt on the
// same provider.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

// CallResult is the normalized outcome of a successful recharge call,
// shared by both providers.
type CallResult struct {
	Success      bool
	Provider     string
	TransID      string
	Folio        string
	Amount       float64
	Carrier      string
	DateStr      string
	FinalBalance string
	TimeoutMs    string
	IP           string
	Note         string
	RawResponse  string
}

// Balance is one provider's probed balance.
type Balance struct {
	Name      string
	Balance   float64
	Available bool
}

// Client is the per-provider webservice surface consumed by the
// pipeline.
type Client interface {
	Name() string
	// GetBalance probes the airtime purse.
	GetBalance(ctx context.Context) (float64, error)
	// Recharge tops up the SIM with the product identified by code (a
	// TAECEL product code or an MST PSL package code). amount is the
	// charge in pesos.
	Recharge(ctx context.Context, sim, code string, amount float64) (*CallResult, error)
}
