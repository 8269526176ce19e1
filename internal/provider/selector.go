// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mextic/recargas/internal/log"
	"github.com/mextic/recargas/internal/metrics"
)

// NoProviderError reports that no provider balance cleared the
// threshold. It carries every probed balance for diagnostics.
type NoProviderError struct {
	MinBalance float64
	Probed     []Balance
}

func (e *NoProviderError) Error() string {
	return fmt.Sprintf("no provider with balance above %.2f (probed %d)", e.MinBalance, len(e.Probed))
}

// Selector probes provider balances and orders the usable ones.
type Selector struct {
	clients []Client
}

// NewSelector creates a selector over the given clients.
func NewSelector(clients ...Client) *Selector {
	return &Selector{clients: clients}
}

// Select queries all balances in parallel, keeps providers strictly
// above minBalance and returns them ordered by balance descending. An
// unreachable provider is recorded as unavailable, not fatal; only an
// empty survivor set is an error.
func (s *Selector) Select(ctx context.Context, minBalance float64) ([]Balance, error) {
	logger := log.WithComponent("provider.selector")

	probed := make([]Balance, len(s.clients))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range s.clients {
		i, c := i, c
		g.Go(func() error {
			bal, err := c.GetBalance(gctx)
			entry := Balance{Name: c.Name()}
			if err != nil {
				logger.Warn().Err(err).
					Str("provider", c.Name()).
					Str("event", "provider.balance_probe_failed").
					Msg("balance probe failed")
				metrics.WebserviceErrors.WithLabelValues(c.Name(), errKind(err)).Inc()
			} else {
				entry.Balance = bal
				entry.Available = true
				metrics.ProviderBalance.WithLabelValues(c.Name()).Set(bal)
			}
			mu.Lock()
			probed[i] = entry
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	usable := make([]Balance, 0, len(probed))
	for _, b := range probed {
		if b.Available && b.Balance > minBalance {
			usable = append(usable, b)
		}
	}
	sort.Slice(usable, func(i, j int) bool { return usable[i].Balance > usable[j].Balance })

	if len(usable) == 0 {
		return nil, &NoProviderError{MinBalance: minBalance, Probed: probed}
	}

	logger.Info().
		Str("best", usable[0].Name).
		Float64("balance", usable[0].Balance).
		Int("usable", len(usable)).
		Msg("providers selected")
	return usable, nil
}

// ByName returns the client with the given provider name.
func (s *Selector) ByName(name string) (Client, bool) {
	for _, c := range s.clients {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

func errKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrCredentials):
		return "credentials"
	case errors.Is(err, ErrDomain):
		return "domain"
	default:
		return "bad_response"
	}
}
