// Package client talks to the wallet API and to the payment sync endpoint on
// behalf of one signed-in user.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

type Transaction struct {
	ID                    string  `json:"id"`
	UserID                string  `json:"user_id"`
	Amount                float64 `json:"amount"`
	Status                string  `json:"status"`
	StatusDetail          string  `json:"status_detail,omitempty"`
	ProviderTransactionID string  `json:"provider_transaction_id,omitempty"`
	CreatedAt             string  `json:"created_at,omitempty"`
}

type Profile struct {
	UserID             string  `json:"user_id"`
	Balance            float64 `json:"balance"`
	SubscriptionActive bool    `json:"subscription_active"`
}

// HTTPError is a non-2xx answer.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type base struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newBase(baseURL, token string) base {
	return base{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (b base) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// errorMessage extracts {"error": ...} when present, else a body snippet.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 512))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

// WalletClient reads the user's wallet state.
type WalletClient struct {
	base
}

func NewWalletClient(baseURL, token string) *WalletClient {
	return &WalletClient{base: newBase(baseURL, token)}
}

func (c *WalletClient) ListTransactions(ctx context.Context) ([]Transaction, error) {
	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, "/transactions", &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

func (c *WalletClient) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/profile", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SyncClient calls the manual payment sync endpoint of the webhook service.
type SyncClient struct {
	base
}

func NewSyncClient(baseURL, token string) *SyncClient {
	return &SyncClient{base: newBase(baseURL, token)}
}

type SyncResult struct {
	PaymentID    string `json:"payment_id"`
	Success      bool   `json:"success"`
	MappedStatus string `json:"mapped_status"`
}

// SyncPayment returns the mapped status of paymentID after reconciliation.
func (c *SyncClient) SyncPayment(ctx context.Context, paymentID string) (string, error) {
	var out SyncResult
	if err := c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/sync", &out); err != nil {
		return "", err
	}
	if !out.Success {
		return out.MappedStatus, fmt.Errorf("sync of payment %s was not successful", paymentID)
	}
	return out.MappedStatus, nil
}
