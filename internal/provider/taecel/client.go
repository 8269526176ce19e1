// SPDX-License-Identifier: MIT

// Package taecel implements the TAECEL REST recharge webservice. A
// recharge is a two-step conversation: RequestTXN reserves the
// transaction and returns a transID, StatusTXN confirms it and returns
// the folio and final balance.
package taecel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mextic/recargas/internal/provider"
)

// Client talks to one TAECEL account.
type Client struct {
	base string
	key  string
	nip  string
	http *http.Client
}

// New creates a TAECEL client. timeout applies per HTTP call; zero
// selects the 30 s default.
func New(base, key, nip string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		key:  key,
		nip:  nip,
		http: &http.Client{Timeout: timeout},
	}
}

// Name implements provider.Client.
func (c *Client) Name() string { return provider.NameTaecel }

// envelope is the common TAECEL response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// post sends one form-encoded call and decodes the envelope. key and
// nip ride in the body on every call.
func (c *Client) post(ctx context.Context, op string, form url.Values) (*envelope, string, error) {
	form.Set("key", c.key)
	form.Set("nip", c.nip)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+op, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", &provider.CallError{Sentinel: provider.ErrTransport, Provider: provider.NameTaecel, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, "", &provider.CallError{Sentinel: provider.ErrTransport, Provider: provider.NameTaecel, Op: op, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, "", &provider.CallError{Sentinel: provider.ErrTransport, Provider: provider.NameTaecel, Op: op, Err: err}
	}
	raw := string(body)

	switch {
	case res.StatusCode == http.StatusForbidden:
		return nil, raw, &provider.CallError{Sentinel: provider.ErrCredentials, Provider: provider.NameTaecel, Op: op, Status: res.StatusCode}
	case res.StatusCode >= 500:
		return nil, raw, &provider.CallError{Sentinel: provider.ErrTransport, Provider: provider.NameTaecel, Op: op, Status: res.StatusCode}
	case res.StatusCode != http.StatusOK:
		return nil, raw, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameTaecel, Op: op, Status: res.StatusCode}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, raw, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameTaecel, Op: op, Err: err}
	}
	if !env.Success {
		return nil, raw, &provider.CallError{Sentinel: provider.ErrDomain, Provider: provider.NameTaecel, Op: op, Detail: env.Message}
	}
	return &env, raw, nil
}

// GetBalance returns the airtime purse ("Tiempo Aire") balance.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	env, _, err := c.post(ctx, "getBalance", url.Values{})
	if err != nil {
		return 0, err
	}

	var purses []struct {
		Bolsa string `json:"Bolsa"`
		Saldo string `json:"Saldo"`
	}
	if err := json.Unmarshal(env.Data, &purses); err != nil {
		return 0, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameTaecel, Op: "getBalance", Err: err}
	}
	for _, p := range purses {
		if p.Bolsa == "Tiempo Aire" {
			bal, err := parseAmount(p.Saldo)
			if err != nil {
				return 0, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameTaecel, Op: "getBalance", Detail: p.Saldo, Err: err}
			}
			return bal, nil
		}
	}
	return 0, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameTaecel, Op: "getBalance", Detail: "no Tiempo Aire purse in response"}
}

// Recharge performs RequestTXN followed by StatusTXN and normalizes the
// confirmed payload.
func (c *Client) Recharge(ctx context.Context, sim, code string, amount float64) (*provider.CallResult, error) {
	transID, err := c.requestTXN(ctx, sim, code)
	if err != nil {
		return nil, err
	}
	return c.statusTXN(ctx, transID, amount)
}

func (c *Client) requestTXN(ctx context.Context, sim, code string) (string, error) {
	form := url.Values{}
	form.Set("producto", code)
	form.Set("referencia", sim)

	env, _, err := c.post(ctx, "RequestTXN", form)
	if err != nil {
		return "", err
	}

	var data struct {
		TransID string `json:"transID"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.TransID == "" {
		return "", &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameTaecel, Op: "RequestTXN", Detail: "missing transID", Err: err}
	}
	return data.TransID, nil
}

func (c *Client) statusTXN(ctx context.Context, transID string, amount float64) (*provider.CallResult, error) {
	form := url.Values{}
	form.Set("transID", transID)

	env, raw, err := c.post(ctx, "StatusTXN", form)
	if err != nil {
		return nil, err
	}

	var data struct {
		TransID    string `json:"TransID"`
		Folio      string `json:"Folio"`
		Monto      string `json:"Monto"`
		Carrier    string `json:"Carrier"`
		Fecha      string `json:"Fecha"`
		SaldoFinal string `json:"Saldo Final"`
		Nota       string `json:"Nota"`
		Timeout    string `json:"Timeout"`
		IP         string `json:"IP"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameTaecel, Op: "StatusTXN", Err: err}
	}
	if data.Folio == "" {
		return nil, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameTaecel, Op: "StatusTXN", Detail: "missing folio"}
	}

	monto := amount
	if data.Monto != "" {
		if parsed, err := parseAmount(data.Monto); err == nil {
			monto = parsed
		}
	}

	return &provider.CallResult{
		Success:      true,
		Provider:     provider.NameTaecel,
		TransID:      data.TransID,
		Folio:        data.Folio,
		Amount:       monto,
		Carrier:      data.Carrier,
		DateStr:      data.Fecha,
		FinalBalance: data.SaldoFinal,
		TimeoutMs:    data.Timeout,
		IP:           data.IP,
		Note:         data.Nota,
		RawResponse:  raw,
	}, nil
}

// parseAmount handles TAECEL money strings like "$1,234.56".
func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	return strconv.ParseFloat(s, 64)
}
