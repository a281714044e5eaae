package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yashrajoria/payment-sync/services/webhook-service/models"
)

// Reconciler fetches authoritative payment status from the provider and
// applies the wallet mutation. It must be idempotent per payment id.
type Reconciler interface {
	Reconcile(ctx context.Context, paymentID string) (*models.ReconcileResult, error)
}

// ReconcileClient calls the reconciliation procedure over HTTP.
type ReconcileClient struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewReconcileClient creates a client for the procedure at url. token, when
// set, is sent as a bearer credential.
func NewReconcileClient(url, token string, timeout time.Duration) *ReconcileClient {
	return &ReconcileClient{
		url:   url,
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type reconcileRequest struct {
	PaymentID string `json:"payment_id"`
}

// Reconcile posts {payment_id} and decodes the result. Non-2xx answers are
// errors; a 2xx answer with success=false is returned as a result.
func (c *ReconcileClient) Reconcile(ctx context.Context, paymentID string) (*models.ReconcileResult, error) {
	body, err := json.Marshal(reconcileRequest{PaymentID: paymentID})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reconcile request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("reconcile returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var result models.ReconcileResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode reconcile response: %w", err)
	}
	return &result, nil
}
