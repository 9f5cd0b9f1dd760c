package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marbledao/market-layer/internal/app/domain/asset"
)

// HTTPClient delivers intent batches to an external asset custodian over
// HTTP. The custodian is expected to apply a batch atomically and answer
// 2xx only when every transfer took effect.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

var (
	_ Deliverer     = (*HTTPClient)(nil)
	_ BalanceReader = (*HTTPClient)(nil)
)

// NewHTTPClient builds a gateway client for the given base endpoint.
func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Deliver posts the batch to the custodian's /batches endpoint.
func (c *HTTPClient) Deliver(ctx context.Context, batch Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/batches", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver batch %s: %w", batch.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver batch %s: custodian returned %s", batch.ID, resp.Status)
	}
	return nil
}

// Balance queries the custodian for an account balance.
func (c *HTTPClient) Balance(ctx context.Context, holder string, denom asset.Denom) (uint64, error) {
	u := fmt.Sprintf("%s/balances/%s?kind=%s&value=%s",
		c.endpoint, url.PathEscape(holder), url.QueryEscape(string(denom.Kind)), url.QueryEscape(denom.Value))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("query balance: custodian returned %s", resp.Status)
	}

	var payload struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	return payload.Amount, nil
}
