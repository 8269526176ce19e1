// SPDX-License-Identifier: MIT

package mst

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mextic/recargas/internal/provider"
)

func soapBody(op, innerXML string) string {
	var esc strings.Builder
	_ = xml.EscapeText(&esc, []byte(innerXML))
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <%[1]sResponse xmlns="http://tempuri.org/">
      <%[1]sResult>%[2]s</%[1]sResult>
    </%[1]sResponse>
  </soap:Body>
</soap:Envelope>`, op, esc.String())
}

func TestGetBalanceParsesSaldo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, r.Header.Get("SOAPAction"), "ObtenSaldo")
		// Credentials travel inside the templated <Recarga> payload.
		assert.Contains(t, string(body), "Usuario")
		fmt.Fprint(w, soapBody("ObtenSaldo", `<RespuestaSaldo><Saldo>512.30</Saldo></RespuestaSaldo>`))
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", 0)
	bal, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 512.30, bal)
}

func TestRechargeEWSSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("SOAPAction"), "RecargaEWS")
		fmt.Fprint(w, soapBody("RecargaEWS",
			`<RespuestaRecarga><Folio>MST-900</Folio><Cantidad>10.00</Cantidad><Fecha>2024-03-15</Fecha></RespuestaRecarga>`))
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", 0)
	res, err := c.Recharge(context.Background(), "6671234567", "TEL010", 10)
	require.NoError(t, err)
	assert.Equal(t, provider.NameMST, res.Provider)
	assert.Equal(t, "MST-900", res.Folio)
	assert.Equal(t, float64(10), res.Amount)
}

func TestRechargePackageUsesPaquetesOperation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, r.Header.Get("SOAPAction"), "Paquetes")
		assert.Contains(t, string(body), "PSL150")
		fmt.Fprint(w, soapBody("Paquetes",
			`<RespuestaRecarga><Folio>MST-901</Folio><Cantidad>150.00</Cantidad></RespuestaRecarga>`))
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", 0)
	res, err := c.Recharge(context.Background(), "6671234567", "PSL150", 150)
	require.NoError(t, err)
	assert.Equal(t, "MST-901", res.Folio)
	assert.Equal(t, float64(150), res.Amount)
}

func TestErrorPayloadIsDomainNotTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, soapBody("RecargaEWS", `<RespuestaRecarga><Error>Telefono invalido</Error></RespuestaRecarga>`))
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", 0)
	_, err := c.Recharge(context.Background(), "000", "TEL010", 10)
	require.ErrorIs(t, err, provider.ErrDomain)
	assert.False(t, provider.Retryable(err))
	assert.Contains(t, err.Error(), "Telefono invalido")
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", 0)
	_, err := c.GetBalance(context.Background())
	require.ErrorIs(t, err, provider.ErrTransport)
	assert.True(t, provider.Retryable(err))
}

func TestMissingFolioIsBadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, soapBody("RecargaEWS", `<RespuestaRecarga><Cantidad>10.00</Cantidad></RespuestaRecarga>`))
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "pass", 0)
	_, err := c.Recharge(context.Background(), "667", "TEL010", 10)
	require.ErrorIs(t, err, provider.ErrBadResponse)
}
