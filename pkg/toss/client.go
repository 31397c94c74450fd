// Package toss wraps the Toss Payments billing-key APIs used for recurring
// subscription charges.
package toss

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/mirae-labs/sajuflow-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.tosspayments.com/v1"
	requestBodyReadLimit  int64 = 4096
	maxChargeAttempts           = 3
	statusDone                  = "DONE"
)

// Client talks to the Toss Payments v1 API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authHeader string
	sleep      func(time.Duration)
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the Toss client given the merchant secret key.
func NewClient(secretKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(secretKey)
	if trimmedKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "toss secret key is required")
	}

	client := &Client{
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(trimmedKey+":")),
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sleep:      time.Sleep,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// IssueBillingKeyRequest exchanges the checkout auth key for a reusable
// billing key bound to the customer.
type IssueBillingKeyRequest struct {
	AuthKey     string `json:"authKey"`
	CustomerKey string `json:"customerKey"`
}

// BillingKey is the reusable payment credential returned by Toss.
type BillingKey struct {
	BillingKey  string
	CustomerKey string
	CardCompany string
	CardNumber  string
}

// ChargeRequest describes a recurring charge against a stored billing key.
type ChargeRequest struct {
	BillingKey  string
	CustomerKey string
	OrderID     string
	OrderName   string
	Amount      int64
}

// Payment is the normalized charge result.
type Payment struct {
	PaymentKey  string
	OrderID     string
	Status      string
	TotalAmount int64
	ApprovedAt  string
}

// Approved reports whether the charge finished successfully.
func (p *Payment) Approved() bool {
	return p != nil && p.Status == statusDone
}

// IssueBillingKey exchanges an auth key obtained at checkout for a billing key.
func (c *Client) IssueBillingKey(ctx context.Context, req IssueBillingKeyRequest) (*BillingKey, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "toss client not configured")
	}
	if strings.TrimSpace(req.AuthKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "auth key is required")
	}
	if strings.TrimSpace(req.CustomerKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer key is required")
	}

	var apiResp struct {
		BillingKey  string `json:"billingKey"`
		CustomerKey string `json:"customerKey"`
		CardCompany string `json:"cardCompany"`
		CardNumber  string `json:"cardNumber"`
	}
	if err := c.postJSON(ctx, c.buildURL("billing/authorizations/issue"), req, &apiResp); err != nil {
		return nil, err
	}
	// Everything downstream stores and charges against these two fields.
	if strings.TrimSpace(apiResp.BillingKey) == "" || strings.TrimSpace(apiResp.CustomerKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "toss response missing billing credentials")
	}

	return &BillingKey{
		BillingKey:  apiResp.BillingKey,
		CustomerKey: apiResp.CustomerKey,
		CardCompany: apiResp.CardCompany,
		CardNumber:  apiResp.CardNumber,
	}, nil
}

// ChargeBillingKey runs a recurring charge. Rate-limited and transient network
// failures are retried up to maxChargeAttempts; the deterministic order ID
// makes a retried charge idempotent on the Toss side.
func (c *Client) ChargeBillingKey(ctx context.Context, req ChargeRequest) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "toss client not configured")
	}
	if strings.TrimSpace(req.BillingKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "billing key is required")
	}
	if strings.TrimSpace(req.CustomerKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer key is required")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if req.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	payload := map[string]any{
		"amount":      req.Amount,
		"customerKey": req.CustomerKey,
		"orderId":     req.OrderID,
		"orderName":   req.OrderName,
	}
	endpoint := c.buildURL("billing/" + url.PathEscape(req.BillingKey))

	var lastErr error
	for attempt := 0; attempt < maxChargeAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "charge cancelled")
		}

		payment, failure, err := c.chargeOnce(ctx, endpoint, payload)
		if err == nil {
			return payment, nil
		}
		lastErr = err
		if failure == failPermanent {
			return nil, err
		}
		if attempt < maxChargeAttempts-1 {
			c.sleep(chargeBackoff(failure, attempt))
		}
	}

	return nil, lastErr
}

// DeleteBillingKey revokes a stored billing authorization. Deleting an
// already-revoked key is a provider-side no-op, so retries are safe.
func (c *Client) DeleteBillingKey(ctx context.Context, billingKey, customerKey string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "toss client not configured")
	}
	if strings.TrimSpace(billingKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "billing key is required")
	}
	if strings.TrimSpace(customerKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer key is required")
	}

	endpoint := c.buildURL("billing/authorizations/" + url.PathEscape(billingKey))
	payload := map[string]any{"customerKey": customerKey}

	var lastErr error
	for attempt := 0; attempt < maxChargeAttempts; attempt++ {
		if ctx.Err() != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "delete cancelled")
		}

		failure, err := c.deleteOnce(ctx, endpoint, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if failure == failPermanent {
			return err
		}
		if attempt < maxChargeAttempts-1 {
			c.sleep(chargeBackoff(failure, attempt))
		}
	}

	return lastErr
}

func (c *Client) deleteOnce(ctx context.Context, endpoint string, payload map[string]any) (failureKind, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return failPermanent, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal delete request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(body))
	if err != nil {
		return failPermanent, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build delete request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.authHeader)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return failNetwork, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute delete request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return failRateLimited, pkgerrors.Wrap(pkgerrors.CodeRateLimit,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "toss rate limited")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return failPermanent, pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "delete request failed")
	}
	return 0, nil
}

type failureKind int

const (
	failPermanent failureKind = iota
	failRateLimited
	failNetwork
)

// chargeBackoff spaces retries: rate limits back off linearly, network
// failures exponentially.
func chargeBackoff(kind failureKind, attempt int) time.Duration {
	if kind == failRateLimited {
		return time.Duration(attempt+1) * time.Second
	}
	return time.Duration(1<<attempt) * time.Second
}

func (c *Client) chargeOnce(ctx context.Context, endpoint string, payload map[string]any) (*Payment, failureKind, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, failPermanent, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal charge request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, failPermanent, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build charge request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.authHeader)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, failNetwork, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute charge request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return nil, failRateLimited, pkgerrors.Wrap(pkgerrors.CodeRateLimit,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "toss rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return nil, failPermanent, pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "charge request failed")
	}

	var apiResp struct {
		PaymentKey  string `json:"paymentKey"`
		OrderID     string `json:"orderId"`
		Status      string `json:"status"`
		TotalAmount int64  `json:"totalAmount"`
		ApprovedAt  string `json:"approvedAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, failPermanent, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode charge response")
	}

	payment := &Payment{
		PaymentKey:  apiResp.PaymentKey,
		OrderID:     apiResp.OrderID,
		Status:      apiResp.Status,
		TotalAmount: apiResp.TotalAmount,
		ApprovedAt:  apiResp.ApprovedAt,
	}
	if !payment.Approved() {
		return nil, failPermanent, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("charge not approved: status %s", payment.Status))
	}
	return payment, 0, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, reqBody any, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal toss request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build toss request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.authHeader)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute toss request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "toss request failed")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode toss response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
