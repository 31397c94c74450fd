package webhooks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	clerkwebhook "github.com/mirae-labs/sajuflow-backend/internal/webhooks/clerk"
	"github.com/mirae-labs/sajuflow-backend/pkg/config"
)

type fakeWebhookService struct {
	events []string
	err    error
}

func (f *fakeWebhookService) HandleEvent(ctx context.Context, eventID string, event *clerkwebhook.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, eventID+":"+event.Type)
	return nil
}

type fakeVerifier struct {
	err error
}

func (f fakeVerifier) Verify(payload []byte, header http.Header) error {
	return f.err
}

func postEvent(handler http.HandlerFunc, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/clerk", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestClerkWebhookProcessesVerifiedEvent(t *testing.T) {
	svc := &fakeWebhookService{}
	handler := ClerkWebhook(svc, fakeVerifier{}, nil)

	resp := postEvent(handler, `{"type":"user.created","data":{"id":"user_1"}}`, map[string]string{"svix-id": "msg_1"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(svc.events) != 1 || svc.events[0] != "msg_1:user.created" {
		t.Fatalf("unexpected events %v", svc.events)
	}
}

func TestClerkWebhookRejectsBadSignature(t *testing.T) {
	svc := &fakeWebhookService{}
	handler := ClerkWebhook(svc, fakeVerifier{err: errors.New("bad signature")}, nil)

	resp := postEvent(handler, `{"type":"user.created","data":{"id":"user_1"}}`, map[string]string{"svix-id": "msg_1"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if len(svc.events) != 0 {
		t.Fatalf("service should not have been called")
	}
}

func TestClerkWebhookRequiresEventID(t *testing.T) {
	handler := ClerkWebhook(&fakeWebhookService{}, nil, nil)

	resp := postEvent(handler, `{"type":"user.created","data":{"id":"user_1"}}`, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestClerkWebhookSkipsVerificationWithNilVerifier(t *testing.T) {
	svc := &fakeWebhookService{}
	handler := ClerkWebhook(svc, nil, nil)

	resp := postEvent(handler, `{"type":"user.deleted","data":{"id":"user_1"}}`, map[string]string{"svix-id": "msg_2"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if len(svc.events) != 1 {
		t.Fatalf("expected one handled event")
	}
}

func TestNewClerkVerifierRefusesSkipInProd(t *testing.T) {
	_, err := NewClerkVerifier(
		config.ClerkConfig{WebhookSkipVerify: true},
		config.AppConfig{Env: config.AppEnvProd},
	)
	if err == nil {
		t.Fatal("expected error when skipping verification in prod")
	}
}

func TestNewClerkVerifierAllowsSkipInDev(t *testing.T) {
	verifier, err := NewClerkVerifier(
		config.ClerkConfig{WebhookSkipVerify: true},
		config.AppConfig{Env: config.AppEnvDev},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verifier != nil {
		t.Fatal("expected nil verifier when verification is skipped")
	}
}
