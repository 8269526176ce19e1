// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	name     string
	balance  float64
	balErr   error
	rechErr  error
	folio    string
	rechErrs []error // per-call errors; nil entry means success
	calls    atomic.Int32
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) GetBalance(context.Context) (float64, error) {
	if s.balErr != nil {
		return 0, s.balErr
	}
	return s.balance, nil
}

func (s *stubClient) Recharge(_ context.Context, sim, code string, amount float64) (*CallResult, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.rechErrs) {
		if err := s.rechErrs[n]; err != nil {
			return nil, err
		}
	} else if s.rechErr != nil {
		return nil, s.rechErr
	}
	folio := s.folio
	if folio == "" {
		folio = "F-1"
	}
	return &CallResult{Success: true, Provider: s.name, Folio: folio, Amount: amount}, nil
}

func TestSelectOrdersByBalanceDescending(t *testing.T) {
	sel := NewSelector(
		&stubClient{name: NameTaecel, balance: 80},
		&stubClient{name: NameMST, balance: 300},
	)

	got, err := sel.Select(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, NameMST, got[0].Name)
	assert.Equal(t, NameTaecel, got[1].Name)
}

func TestSelectFiltersBelowThreshold(t *testing.T) {
	sel := NewSelector(
		&stubClient{name: NameTaecel, balance: 49.99},
		&stubClient{name: NameMST, balance: 60},
	)

	got, err := sel.Select(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, NameMST, got[0].Name)
}

func TestSelectAllBelowThresholdReturnsProbes(t *testing.T) {
	sel := NewSelector(
		&stubClient{name: NameTaecel, balErr: &CallError{Sentinel: ErrCredentials, Provider: NameTaecel, Op: "getBalance"}},
		&stubClient{name: NameMST, balance: 20},
	)

	_, err := sel.Select(context.Background(), 50)
	var npe *NoProviderError
	require.True(t, errors.As(err, &npe))
	require.Len(t, npe.Probed, 2)
	assert.False(t, npe.Probed[0].Available)
	assert.True(t, npe.Probed[1].Available)
	assert.Equal(t, float64(20), npe.Probed[1].Balance)
}

func TestByName(t *testing.T) {
	mst := &stubClient{name: NameMST}
	sel := NewSelector(&stubClient{name: NameTaecel}, mst)

	got, ok := sel.ByName(NameMST)
	require.True(t, ok)
	assert.Same(t, Client(mst), got)

	_, ok = sel.ByName("OTHER")
	assert.False(t, ok)
}

func TestRechargeWithRetryRetriesTransportOnly(t *testing.T) {
	transport := &CallError{Sentinel: ErrTransport, Provider: NameTaecel, Op: "RequestTXN"}
	c := &stubClient{name: NameTaecel, rechErrs: []error{transport, transport, nil}, folio: "F-9"}

	pol := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	res, err := RechargeWithRetry(context.Background(), c, pol, "667", "TEL010", 10)
	require.NoError(t, err)
	assert.Equal(t, "F-9", res.Folio)
	assert.Equal(t, int32(3), c.calls.Load())
}

func TestRechargeWithRetryStopsOnDomainError(t *testing.T) {
	domain := &CallError{Sentinel: ErrDomain, Provider: NameMST, Op: "RecargaEWS", Detail: "rejected"}
	c := &stubClient{name: NameMST, rechErr: domain}

	pol := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	_, err := RechargeWithRetry(context.Background(), c, pol, "667", "TEL010", 10)
	require.ErrorIs(t, err, ErrDomain)
	assert.Equal(t, int32(1), c.calls.Load())
}

func TestRechargeWithRetryExhaustsLadder(t *testing.T) {
	transport := &CallError{Sentinel: ErrTransport, Provider: NameTaecel, Op: "StatusTXN"}
	c := &stubClient{name: NameTaecel, rechErr: transport}

	pol := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	_, err := RechargeWithRetry(context.Background(), c, pol, "667", "TEL010", 10)
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, int32(3), c.calls.Load())
}
