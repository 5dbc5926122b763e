// Package catalog is the client for the pharmacy's drug read API. The
// endpoints are consumed as opaque JSON: everything returned here is an
// advisory mirror of server state, re-validated authoritatively on submit.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNotFound means the scanned barcode matches no drug. It is an expected
// outcome, not a failure.
var ErrNotFound = errors.New("no drug matches the scanned barcode")

// LookupError is a failed call to the drug API: the request never
// completed, the response was non-2xx, or the payload did not decode.
type LookupError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *LookupError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// ApplicationError is a 2xx barcode response whose payload flags failure.
// Message is supplied by the server and shown to the user as-is.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string { return e.Message }

// DrugInfo is the price/stock pair for a single drug.
type DrugInfo struct {
	Price          decimal.Decimal
	AvailableStock int64
}

// BarcodeMatch is a drug resolved from a barcode scan. It carries enough
// to populate a sale row without a second fetch.
type BarcodeMatch struct {
	ID             string
	Name           string
	Price          decimal.Decimal
	AvailableStock int64
}

// Client calls the drug read endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a catalog client. A nil httpClient falls back to
// http.DefaultClient; no client-side timeout is imposed — a hung request
// simply leaves the row's price/stock unknown, which downstream logic
// already treats as a valid state.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// DrugInfo fetches the current price and stock for a drug.
// GET {base}/api/drugs/{id}/info/
func (c *Client) DrugInfo(ctx context.Context, drugID string) (DrugInfo, error) {
	const op = "drug info"

	u := fmt.Sprintf("%s/api/drugs/%s/info/", c.baseURL, url.PathEscape(drugID))
	resp, err := c.get(ctx, u)
	if err != nil {
		return DrugInfo{}, &LookupError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DrugInfo{}, &LookupError{Op: op, StatusCode: resp.StatusCode}
	}

	var body struct {
		Price          json.Number `json:"price"`
		AvailableStock int64       `json:"available_stock"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return DrugInfo{}, &LookupError{Op: op, Err: err}
	}

	price, err := decimal.NewFromString(body.Price.String())
	if err != nil {
		return DrugInfo{}, &LookupError{Op: op, Err: fmt.Errorf("invalid price %q: %w", body.Price, err)}
	}

	return DrugInfo{Price: price, AvailableStock: body.AvailableStock}, nil
}

// DrugByBarcode resolves a scanned barcode.
// GET {base}/api/drugs/barcode/?barcode={code}
//
// A 404 yields ErrNotFound; a 2xx payload with success=false yields an
// ApplicationError carrying the server's message; other non-2xx statuses
// yield a LookupError.
func (c *Client) DrugByBarcode(ctx context.Context, code string) (BarcodeMatch, error) {
	const op = "barcode lookup"

	u := fmt.Sprintf("%s/api/drugs/barcode/?barcode=%s", c.baseURL, url.QueryEscape(code))
	resp, err := c.get(ctx, u)
	if err != nil {
		return BarcodeMatch{}, &LookupError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return BarcodeMatch{}, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return BarcodeMatch{}, &LookupError{Op: op, StatusCode: resp.StatusCode}
	}

	var body struct {
		Success        bool        `json:"success"`
		Error          string      `json:"error"`
		ID             json.Number `json:"id"`
		Name           string      `json:"name"`
		Price          json.Number `json:"price"`
		AvailableStock int64       `json:"available_stock"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return BarcodeMatch{}, &LookupError{Op: op, Err: err}
	}

	if !body.Success {
		msg := body.Error
		if msg == "" {
			msg = "Error processing barcode"
		}
		return BarcodeMatch{}, &ApplicationError{Message: msg}
	}

	price, err := decimal.NewFromString(body.Price.String())
	if err != nil {
		return BarcodeMatch{}, &LookupError{Op: op, Err: fmt.Errorf("invalid price %q: %w", body.Price, err)}
	}

	return BarcodeMatch{
		ID:             body.ID.String(),
		Name:           body.Name,
		Price:          price,
		AvailableStock: body.AvailableStock,
	}, nil
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.http.Do(req)
}

func decodeJSON(resp *http.Response, v any) error {
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(v)
}
