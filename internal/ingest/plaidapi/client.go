// Package plaidapi implements ingest.Source against a Plaid-style HTTP
// feed: GET /accounts and GET /transactions with offset/limit paging
// and a {"data": [...], "total_count": N} response envelope.
package plaidapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dvloznov/spendgraph/internal/ingest"
)

// DefaultTimeout bounds one page request.
const DefaultTimeout = 30 * time.Second

// Client fetches account and transaction records over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the given base URL. A nil httpClient
// gets a default with DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type envelope struct {
	Data       json.RawMessage `json:"data"`
	TotalCount int             `json:"total_count"`
}

// Accounts returns one page of account records plus the feed's total.
func (c *Client) Accounts(ctx context.Context, offset, limit int) ([]ingest.AccountRecord, int, error) {
	env, err := c.getPage(ctx, "/accounts", offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("Accounts: %w", err)
	}
	var records []ingest.AccountRecord
	if err := decodeData(env.Data, &records); err != nil {
		return nil, 0, fmt.Errorf("Accounts: decode page: %w", err)
	}
	return records, env.TotalCount, nil
}

// Transactions returns one page of transaction records plus the feed's
// total.
func (c *Client) Transactions(ctx context.Context, offset, limit int) ([]ingest.TransactionRecord, int, error) {
	env, err := c.getPage(ctx, "/transactions", offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("Transactions: %w", err)
	}
	var records []ingest.TransactionRecord
	if err := decodeData(env.Data, &records); err != nil {
		return nil, 0, fmt.Errorf("Transactions: decode page: %w", err)
	}
	return records, env.TotalCount, nil
}

func (c *Client) getPage(ctx context.Context, path string, offset, limit int) (*envelope, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("build URL: %w", err)
	}
	q := u.Query()
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &env, nil
}

// decodeData unmarshals the envelope's data array with UseNumber so
// amounts survive as json.Number instead of float64.
func decodeData(data json.RawMessage, out interface{}) error {
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}
