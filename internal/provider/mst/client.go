// SPDX-License-Identifier: MIT

// Package mst implements the MST SOAP recharge webservice. Requests
// are templated envelopes carrying an inner <Recarga> XML payload;
// responses nest the result XML as an escaped string inside the SOAP
// body, so parsing happens in two passes.
package mst

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mextic/recargas/internal/provider"
)

// Client talks to one MST account.
type Client struct {
	wsdlURL  string
	usuario  string
	password string
	http     *http.Client
}

// New creates an MST client. timeout applies per HTTP call; zero
// selects the 30 s default.
func New(wsdlURL, usuario, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		wsdlURL:  wsdlURL,
		usuario:  usuario,
		password: password,
		http:     &http.Client{Timeout: timeout},
	}
}

// Name implements provider.Client.
func (c *Client) Name() string { return provider.NameMST }

const soapTemplate = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <%[1]s xmlns="http://tempuri.org/">
      <xml>%[2]s</xml>
    </%[1]s>
  </soap:Body>
</soap:Envelope>`

// buildPayload renders the inner <Recarga> document. Fields are XML
// escaped individually; the whole document is escaped again when it is
// embedded in the envelope.
func (c *Client) buildPayload(fields map[string]string) string {
	var b strings.Builder
	b.WriteString("<Recarga>")
	writeField(&b, "Usuario", c.usuario)
	writeField(&b, "Password", c.password)
	for _, k := range []string{"Telefono", "Cantidad", "Paquete"} {
		if v, ok := fields[k]; ok {
			writeField(&b, k, v)
		}
	}
	b.WriteString("</Recarga>")
	return b.String()
}

func writeField(b *strings.Builder, name, value string) {
	b.WriteString("<" + name + ">")
	_ = xml.EscapeText(b, []byte(value))
	b.WriteString("</" + name + ">")
}

func escapeXML(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// soapResponse matches the generic MST response shape:
// Body > <Op>Response > <Op>Result, where the Result element carries
// the inner XML as escaped character data.
type soapResponse struct {
	XMLName xml.Name
	Body    struct {
		Response struct {
			Result struct {
				Text string `xml:",chardata"`
			} `xml:",any"`
		} `xml:",any"`
	} `xml:"Body"`
}

func (c *Client) call(ctx context.Context, op string, payload string) (string, string, error) {
	envelope := fmt.Sprintf(soapTemplate, op, escapeXML(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.wsdlURL, strings.NewReader(envelope))
	if err != nil {
		return "", "", &provider.CallError{Sentinel: provider.ErrTransport, Provider: provider.NameMST, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://tempuri.org/"+op)

	res, err := c.http.Do(req)
	if err != nil {
		return "", "", &provider.CallError{Sentinel: provider.ErrTransport, Provider: provider.NameMST, Op: op, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", "", &provider.CallError{Sentinel: provider.ErrTransport, Provider: provider.NameMST, Op: op, Err: err}
	}
	raw := string(body)

	switch {
	case res.StatusCode == http.StatusForbidden:
		return "", raw, &provider.CallError{Sentinel: provider.ErrCredentials, Provider: provider.NameMST, Op: op, Status: res.StatusCode}
	case res.StatusCode >= 500:
		return "", raw, &provider.CallError{Sentinel: provider.ErrTransport, Provider: provider.NameMST, Op: op, Status: res.StatusCode}
	case res.StatusCode != http.StatusOK:
		return "", raw, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameMST, Op: op, Status: res.StatusCode}
	}

	var env soapResponse
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&env); err != nil {
		return "", raw, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameMST, Op: op, Err: err}
	}
	inner := strings.TrimSpace(env.Body.Response.Result.Text)
	if inner == "" {
		return "", raw, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameMST, Op: op, Detail: "empty SOAP result"}
	}
	return inner, raw, nil
}

// GetBalance calls ObtenSaldo and parses the inner <Saldo> figure.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	inner, _, err := c.call(ctx, "ObtenSaldo", c.buildPayload(nil))
	if err != nil {
		return 0, err
	}

	var parsed struct {
		Saldo string `xml:"Saldo"`
		Error string `xml:"Error"`
	}
	if err := xml.Unmarshal([]byte(wrapDoc(inner)), &parsed); err != nil {
		return 0, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameMST, Op: "ObtenSaldo", Err: err}
	}
	if parsed.Error != "" {
		return 0, &provider.CallError{Sentinel: provider.ErrDomain, Provider: provider.NameMST, Op: "ObtenSaldo", Detail: parsed.Error}
	}
	bal, err := strconv.ParseFloat(strings.TrimSpace(parsed.Saldo), 64)
	if err != nil {
		return 0, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameMST, Op: "ObtenSaldo", Detail: parsed.Saldo, Err: err}
	}
	return bal, nil
}

// Recharge calls RecargaEWS for airtime amounts, or Paquetes when code
// names a PSL package (VOZ). A payload with <Error> is a domain error:
// no money was charged.
func (c *Client) Recharge(ctx context.Context, sim, code string, amount float64) (*provider.CallResult, error) {
	op := "RecargaEWS"
	fields := map[string]string{
		"Telefono": sim,
		"Cantidad": strconv.FormatFloat(amount, 'f', 2, 64),
	}
	if strings.HasPrefix(strings.ToUpper(code), "PSL") {
		op = "Paquetes"
		fields["Paquete"] = code
	}

	inner, raw, err := c.call(ctx, op, c.buildPayload(fields))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Folio    string `xml:"Folio"`
		Cantidad string `xml:"Cantidad"`
		Fecha    string `xml:"Fecha"`
		Carrier  string `xml:"Carrier"`
		Nota     string `xml:"Nota"`
		Error    string `xml:"Error"`
	}
	if err := xml.Unmarshal([]byte(wrapDoc(inner)), &parsed); err != nil {
		return nil, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameMST, Op: op, Err: err}
	}
	if parsed.Error != "" {
		return nil, &provider.CallError{Sentinel: provider.ErrDomain, Provider: provider.NameMST, Op: op, Detail: parsed.Error}
	}
	if parsed.Folio == "" {
		return nil, &provider.CallError{Sentinel: provider.ErrBadResponse, Provider: provider.NameMST, Op: op, Detail: "missing folio"}
	}

	monto := amount
	if parsed.Cantidad != "" {
		if v, err := strconv.ParseFloat(strings.TrimSpace(parsed.Cantidad), 64); err == nil {
			monto = v
		}
	}

	return &provider.CallResult{
		Success:     true,
		Provider:    provider.NameMST,
		Folio:       parsed.Folio,
		Amount:      monto,
		Carrier:     parsed.Carrier,
		DateStr:     parsed.Fecha,
		Note:        parsed.Nota,
		RawResponse: raw,
	}, nil
}

// wrapDoc makes the inner fragment a well-formed single-root document
// regardless of which response element MST used.
func wrapDoc(inner string) string {
	return "<doc>" + stripXMLHeader(inner) + "</doc>"
}

func stripXMLHeader(s string) string {
	if strings.HasPrefix(s, "<?xml") {
		if i := strings.Index(s, "?>"); i >= 0 {
			return s[i+2:]
		}
	}
	return s
}
