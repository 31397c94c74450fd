// Package clerk wraps the Clerk management API calls used to keep the
// identity provider's user metadata in sync with subscription state.
package clerk

import (
	"bytes"
	"context"
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
	defaultBaseURL             = "https://api.clerk.com/v1"
	requestBodyReadLimit int64 = 4096
	maxRequestAttempts         = 3
)

// Client talks to the Clerk backend API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
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

// NewClient builds the Clerk client given the instance secret key.
func NewClient(secretKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(secretKey)
	if trimmedKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "clerk secret key is required")
	}

	client := &Client{
		secretKey:  trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		sleep:      time.Sleep,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// User is the normalized Clerk user payload.
type User struct {
	ID             string
	Email          string
	FirstName      *string
	LastName       *string
	ImageURL       *string
	PublicMetadata map[string]any
}

// GetUser fetches a user by Clerk ID. A missing user returns (nil, nil) so
// callers can treat deletion races as a skip rather than a failure.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "clerk client not configured")
	}
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	endpoint := c.buildURL("users/" + url.PathEscape(trimmed))
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "get user request failed")
	}

	var apiResp clerkUserPayload
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode get user response")
	}

	return apiResp.toUser(), nil
}

// UpdateSubscriptionMetadata patches public_metadata.subscription so session
// tokens minted by Clerk carry the user's current plan.
func (c *Client) UpdateSubscriptionMetadata(ctx context.Context, userID, plan string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "clerk client not configured")
	}
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	payload := map[string]any{
		"public_metadata": map[string]any{
			"subscription": plan,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal metadata request")
	}

	endpoint := c.buildURL("users/" + url.PathEscape(trimmed))
	resp, err := c.do(ctx, http.MethodPatch, endpoint, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "metadata request failed")
	}

	return nil
}

type failureKind int

const (
	failRateLimited failureKind = iota
	failNetwork
)

// requestBackoff spaces retries: rate limits back off linearly, network
// failures exponentially.
func requestBackoff(kind failureKind, attempt int) time.Duration {
	if kind == failRateLimited {
		return time.Duration(attempt+1) * time.Second
	}
	return time.Duration(1<<attempt) * time.Second
}

// do executes a Clerk API request, retrying rate-limited and transient network
// failures up to maxRequestAttempts. Any other response is returned to the
// caller with its body open.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxRequestAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "clerk request cancelled")
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build clerk request")
		}
		if body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute clerk request")
			if attempt < maxRequestAttempts-1 {
				c.sleep(requestBackoff(failNetwork, attempt))
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
			_ = resp.Body.Close()
			lastErr = pkgerrors.Wrap(pkgerrors.CodeRateLimit,
				fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "clerk rate limited")
			if attempt < maxRequestAttempts-1 {
				c.sleep(requestBackoff(failRateLimited, attempt))
			}
			continue
		}

		return resp, nil
	}
	return nil, lastErr
}

type clerkUserPayload struct {
	ID             string         `json:"id"`
	FirstName      *string        `json:"first_name"`
	LastName       *string        `json:"last_name"`
	ImageURL       *string        `json:"image_url"`
	PublicMetadata map[string]any `json:"public_metadata"`
	EmailAddresses []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
}

func (p clerkUserPayload) toUser() *User {
	user := &User{
		ID:             p.ID,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		ImageURL:       p.ImageURL,
		PublicMetadata: p.PublicMetadata,
	}
	for _, addr := range p.EmailAddresses {
		if addr.ID == p.PrimaryEmailAddressID {
			user.Email = addr.EmailAddress
			break
		}
	}
	if user.Email == "" && len(p.EmailAddresses) > 0 {
		user.Email = p.EmailAddresses[0].EmailAddress
	}
	return user
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
