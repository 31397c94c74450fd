package toss

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	pkgerrors "github.com/mirae-labs/sajuflow-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient("sk_test_secret",
		WithBaseURL("http://toss.test/v1"),
		WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.sleep = func(time.Duration) {}
	return client
}

func TestChargeBillingKeySendsBasicAuthAndPayload(t *testing.T) {
	const expectedURL = "http://toss.test/v1/billing/bkey_1"
	respBody := `{"paymentKey":"pay_1","orderId":"subscription_user_1_2025-03-11","status":"DONE","totalAmount":3900,"approvedAt":"2025-03-11T00:00:05+09:00"}`

	var capturedURL string
	var capturedAuth string
	var capturedPayload map[string]any

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedAuth = req.Header.Get("Authorization")
		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		if err := json.Unmarshal(bodyBytes, &capturedPayload); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		return jsonResponse(http.StatusOK, respBody), nil
	})

	client := newTestClient(t, rt)
	payment, err := client.ChargeBillingKey(context.Background(), ChargeRequest{
		BillingKey:  "bkey_1",
		CustomerKey: "user_1",
		OrderID:     "subscription_user_1_2025-03-11",
		OrderName:   "Pro 구독",
		Amount:      3900,
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if capturedURL != expectedURL {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("sk_test_secret:"))
	if capturedAuth != wantAuth {
		t.Fatalf("unexpected auth header %q", capturedAuth)
	}
	if capturedPayload["orderId"] != "subscription_user_1_2025-03-11" {
		t.Fatalf("unexpected order id %v", capturedPayload["orderId"])
	}
	if capturedPayload["amount"] != float64(3900) {
		t.Fatalf("unexpected amount %v", capturedPayload["amount"])
	}
	if !payment.Approved() || payment.PaymentKey != "pay_1" {
		t.Fatalf("unexpected payment %+v", payment)
	}
}

func TestChargeBillingKeyRetriesRateLimit(t *testing.T) {
	respBody := `{"paymentKey":"pay_2","orderId":"o","status":"DONE","totalAmount":3900}`

	calls := 0
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return jsonResponse(http.StatusTooManyRequests, `{"code":"RATE_LIMIT"}`), nil
		}
		return jsonResponse(http.StatusOK, respBody), nil
	})

	client := newTestClient(t, rt)
	var slept []time.Duration
	client.sleep = func(d time.Duration) { slept = append(slept, d) }

	payment, err := client.ChargeBillingKey(context.Background(), ChargeRequest{
		BillingKey:  "bkey_1",
		CustomerKey: "user_1",
		OrderID:     "o",
		Amount:      3900,
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts got %d", calls)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("unexpected backoff %v", slept)
	}
	if !payment.Approved() {
		t.Fatalf("expected approved payment")
	}
}

func TestChargeBillingKeyNetworkErrorBacksOffExponentially(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset")
	})

	client := newTestClient(t, rt)
	var slept []time.Duration
	client.sleep = func(d time.Duration) { slept = append(slept, d) }

	_, err := client.ChargeBillingKey(context.Background(), ChargeRequest{
		BillingKey:  "bkey_1",
		CustomerKey: "user_1",
		OrderID:     "o",
		Amount:      3900,
	})
	if err == nil {
		t.Fatalf("expected error after exhausted retries")
	}
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Fatalf("unexpected backoffs %v", slept)
	}
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestChargeBillingKeyDoesNotRetryClientError(t *testing.T) {
	calls := 0
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusBadRequest, `{"code":"INVALID_CARD"}`), nil
	})

	client := newTestClient(t, rt)
	_, err := client.ChargeBillingKey(context.Background(), ChargeRequest{
		BillingKey:  "bkey_1",
		CustomerKey: "user_1",
		OrderID:     "o",
		Amount:      3900,
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt got %d", calls)
	}
}

func TestChargeBillingKeyRejectsNonDoneStatus(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"paymentKey":"pay_3","orderId":"o","status":"CANCELED"}`), nil
	})

	client := newTestClient(t, rt)
	_, err := client.ChargeBillingKey(context.Background(), ChargeRequest{
		BillingKey:  "bkey_1",
		CustomerKey: "user_1",
		OrderID:     "o",
		Amount:      3900,
	})
	if err == nil || !strings.Contains(err.Error(), "CANCELED") {
		t.Fatalf("expected non-DONE rejection, got %v", err)
	}
}

func TestIssueBillingKey(t *testing.T) {
	const expectedURL = "http://toss.test/v1/billing/authorizations/issue"

	var capturedURL string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		return jsonResponse(http.StatusOK, `{"billingKey":"bkey_9","customerKey":"user_9","cardCompany":"신한","cardNumber":"433012******1234"}`), nil
	})

	client := newTestClient(t, rt)
	key, err := client.IssueBillingKey(context.Background(), IssueBillingKeyRequest{
		AuthKey:     "auth_abc",
		CustomerKey: "user_9",
	})
	if err != nil {
		t.Fatalf("issue billing key: %v", err)
	}
	if capturedURL != expectedURL {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if key.BillingKey != "bkey_9" || key.CustomerKey != "user_9" {
		t.Fatalf("unexpected key %+v", key)
	}
}

func TestIssueBillingKeyRejectsMissingCredentials(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{}`), nil
	})

	client := newTestClient(t, rt)
	key, err := client.IssueBillingKey(context.Background(), IssueBillingKeyRequest{
		AuthKey:     "auth_abc",
		CustomerKey: "user_9",
	})
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("a 200 without billing credentials must fail, got %v", err)
	}
	if key != nil {
		t.Fatalf("expected nil key, got %+v", key)
	}
}

func TestNewClientRequiresSecret(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}
