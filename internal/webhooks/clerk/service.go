// Package clerkwebhook ingests Clerk user lifecycle events and keeps the
// local mirror and quota ledger provisioned.
package clerkwebhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mirae-labs/sajuflow-backend/internal/users"
	"github.com/mirae-labs/sajuflow-backend/pkg/db/models"
	pkgerrors "github.com/mirae-labs/sajuflow-backend/pkg/errors"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
)

const (
	idempotencyScope = "clerk-webhook"
	idempotencyTTL   = 24 * time.Hour
)

type userStore interface {
	Upsert(ctx context.Context, dto users.SyncUserDTO) (*models.User, error)
	Delete(ctx context.Context, id string) error
}

type quotaSeeder interface {
	GetOrCreate(ctx context.Context, userID string) (*models.Subscription, error)
}

type replayGuard interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

type planSyncer interface {
	UpdateSubscriptionMetadata(ctx context.Context, userID, plan string) error
}

// ServiceParams groups dependencies for the webhook service.
type ServiceParams struct {
	Logger   *logger.Logger
	Users    userStore
	Ledger   quotaSeeder
	Replay   replayGuard
	Identity planSyncer
}

// Service applies verified Clerk events.
type Service struct {
	logg     *logger.Logger
	users    userStore
	ledger   quotaSeeder
	replay   replayGuard
	identity planSyncer
}

// NewService builds the webhook service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "users store required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscriptions ledger required")
	}
	if params.Replay == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "replay guard required")
	}
	if params.Identity == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "identity client required")
	}
	return &Service{
		logg:     params.Logger,
		users:    params.Users,
		ledger:   params.Ledger,
		replay:   params.Replay,
		identity: params.Identity,
	}, nil
}

// Event is the verified Clerk webhook envelope.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type userPayload struct {
	ID                    string  `json:"id"`
	FirstName             *string `json:"first_name"`
	LastName              *string `json:"last_name"`
	ImageURL              *string `json:"image_url"`
	PrimaryEmailAddressID string  `json:"primary_email_address_id"`
	EmailAddresses        []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

func (p userPayload) email() string {
	for _, addr := range p.EmailAddresses {
		if addr.ID == p.PrimaryEmailAddressID {
			return addr.EmailAddress
		}
	}
	if len(p.EmailAddresses) > 0 {
		return p.EmailAddresses[0].EmailAddress
	}
	return ""
}

// HandleEvent applies one event. Redeliveries of an already-applied event ID
// are acknowledged without reprocessing; a failed apply releases the guard so
// the provider's retry can land.
func (s *Service) HandleEvent(ctx context.Context, eventID string, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}
	if strings.TrimSpace(eventID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}

	key := s.replay.IdempotencyKey(idempotencyScope, eventID)
	fresh, err := s.replay.SetNX(ctx, key, "1", idempotencyTTL)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook replay guard")
	}
	if !fresh {
		s.logg.Info(s.logg.WithField(ctx, "event_id", eventID), "duplicate webhook delivery ignored")
		return nil
	}

	if err := s.apply(ctx, event); err != nil {
		if delErr := s.replay.Del(ctx, key); delErr != nil {
			s.logg.Error(ctx, "failed to release webhook replay guard", delErr)
		}
		return err
	}
	return nil
}

func (s *Service) apply(ctx context.Context, event *Event) error {
	switch event.Type {
	case "user.created":
		return s.provisionUser(ctx, event.Data, true)
	case "user.updated":
		return s.provisionUser(ctx, event.Data, false)
	case "user.deleted":
		return s.removeUser(ctx, event.Data)
	default:
		// Unrecognized event types are acknowledged so Clerk stops retrying.
		s.logg.Info(s.logg.WithField(ctx, "event_type", event.Type), "ignoring unhandled webhook event")
		return nil
	}
}

func (s *Service) provisionUser(ctx context.Context, data json.RawMessage, seedLedger bool) error {
	var payload userPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode user payload")
	}
	if strings.TrimSpace(payload.ID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id missing in payload")
	}

	user, err := s.users.Upsert(ctx, users.SyncUserDTO{
		ID:        payload.ID,
		Email:     payload.email(),
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		ImageURL:  payload.ImageURL,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "upsert user")
	}

	if seedLedger {
		sub, err := s.ledger.GetOrCreate(ctx, user.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "seed subscription")
		}
		// Plan metadata sync is best effort; the ledger is the source of
		// truth and the webhook must still acknowledge.
		if err := s.identity.UpdateSubscriptionMetadata(ctx, user.ID, sub.PlanType.String()); err != nil {
			s.logg.Warn(s.logg.WithUserID(ctx, user.ID), "failed to sync plan to identity provider")
		}
	}

	s.logg.Info(s.logg.WithUserID(ctx, user.ID), "user provisioned from webhook")
	return nil
}

func (s *Service) removeUser(ctx context.Context, data json.RawMessage) error {
	var payload struct {
		ID      string `json:"id"`
		Deleted bool   `json:"deleted"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode deletion payload")
	}
	if strings.TrimSpace(payload.ID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id missing in payload")
	}
	if err := s.users.Delete(ctx, payload.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "delete user")
	}
	s.logg.Info(s.logg.WithUserID(ctx, payload.ID), "user removed from webhook")
	return nil
}
