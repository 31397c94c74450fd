package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	svix "github.com/svix/svix-webhooks/go"

	"github.com/mirae-labs/sajuflow-backend/api/responses"
	clerkwebhook "github.com/mirae-labs/sajuflow-backend/internal/webhooks/clerk"
	"github.com/mirae-labs/sajuflow-backend/pkg/config"
	pkgerrors "github.com/mirae-labs/sajuflow-backend/pkg/errors"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type ClerkWebhookService interface {
	HandleEvent(ctx context.Context, eventID string, event *clerkwebhook.Event) error
}

// SignatureVerifier checks the webhook payload against the svix headers.
type SignatureVerifier interface {
	Verify(payload []byte, header http.Header) error
}

type svixVerifier struct {
	wh *svix.Webhook
}

func (v svixVerifier) Verify(payload []byte, header http.Header) error {
	return v.wh.Verify(payload, header)
}

// NewClerkVerifier builds the production signature verifier. Returns nil when
// verification is disabled, which only dev environments may do.
func NewClerkVerifier(cfg config.ClerkConfig, appEnv config.AppConfig) (SignatureVerifier, error) {
	if cfg.WebhookSkipVerify {
		if appEnv.IsProd() {
			return nil, fmt.Errorf("webhook verification cannot be disabled in prod")
		}
		return nil, nil
	}
	if cfg.WebhookSigningSecret == "" {
		return nil, fmt.Errorf("clerk webhook signing secret is required")
	}
	wh, err := svix.NewWebhook(cfg.WebhookSigningSecret)
	if err != nil {
		return nil, fmt.Errorf("building svix verifier: %w", err)
	}
	return svixVerifier{wh: wh}, nil
}

// ClerkWebhook handles identity provider lifecycle events. A nil verifier
// skips signature checks.
func ClerkWebhook(svc ClerkWebhookService, verifier SignatureVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if verifier != nil {
			if err := verifier.Verify(payload, r.Header); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid webhook signature"))
				return
			}
		}

		eventID := r.Header.Get("svix-id")
		if eventID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "missing svix-id header"))
			return
		}

		var event clerkwebhook.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload"))
			return
		}

		if err := svc.HandleEvent(ctx, eventID, &event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("clerk event %s processed", eventID))
		}
		responses.WriteSuccess(w, nil)
	}
}
