package clerkwebhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mirae-labs/sajuflow-backend/internal/users"
	"github.com/mirae-labs/sajuflow-backend/pkg/db/models"
	"github.com/mirae-labs/sajuflow-backend/pkg/enums"
	pkgerrors "github.com/mirae-labs/sajuflow-backend/pkg/errors"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
)

type fakeUserStore struct {
	upserts   []users.SyncUserDTO
	upsertErr error
	deletes   []string
}

func (f *fakeUserStore) Upsert(_ context.Context, dto users.SyncUserDTO) (*models.User, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserts = append(f.upserts, dto)
	return &models.User{ID: dto.ID, Email: dto.Email}, nil
}

func (f *fakeUserStore) Delete(_ context.Context, id string) error {
	f.deletes = append(f.deletes, id)
	return nil
}

type fakeSeeder struct {
	seeded []string
}

func (f *fakeSeeder) GetOrCreate(_ context.Context, userID string) (*models.Subscription, error) {
	f.seeded = append(f.seeded, userID)
	return &models.Subscription{UserID: userID, PlanType: enums.PlanFree}, nil
}

type fakeIdentity struct {
	calls []string
	err   error
}

func (f *fakeIdentity) UpdateSubscriptionMetadata(_ context.Context, userID, plan string) error {
	f.calls = append(f.calls, userID+":"+plan)
	return f.err
}

type fakeReplay struct {
	seen map[string]bool
	dels []string
}

func newFakeReplay() *fakeReplay {
	return &fakeReplay{seen: map[string]bool{}}
}

func (f *fakeReplay) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func (f *fakeReplay) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.seen, key)
		f.dels = append(f.dels, key)
	}
	return nil
}

func (f *fakeReplay) IdempotencyKey(scope, id string) string {
	return "sj:idempotency:" + scope + ":" + id
}

func newTestService(t *testing.T, store *fakeUserStore, seeder *fakeSeeder, replay *fakeReplay) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Users:    store,
		Ledger:   seeder,
		Replay:   replay,
		Identity: &fakeIdentity{},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func createdEvent() *Event {
	data := `{
		"id": "user_1",
		"first_name": "Jiyoon",
		"primary_email_address_id": "em_1",
		"email_addresses": [{"id": "em_1", "email_address": "jiyoon@example.com"}]
	}`
	return &Event{Type: "user.created", Data: json.RawMessage(data)}
}

func TestHandleEventProvisionsUserAndLedger(t *testing.T) {
	store := &fakeUserStore{}
	seeder := &fakeSeeder{}
	svc := newTestService(t, store, seeder, newFakeReplay())

	if err := svc.HandleEvent(context.Background(), "msg_1", createdEvent()); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(store.upserts) != 1 || store.upserts[0].ID != "user_1" {
		t.Fatalf("unexpected upserts %+v", store.upserts)
	}
	if store.upserts[0].Email != "jiyoon@example.com" {
		t.Fatalf("expected primary email, got %q", store.upserts[0].Email)
	}
	if len(seeder.seeded) != 1 || seeder.seeded[0] != "user_1" {
		t.Fatalf("expected ledger seed, got %v", seeder.seeded)
	}
}

func TestHandleEventSyncsPlanToIdentityProvider(t *testing.T) {
	identity := &fakeIdentity{}
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Users:    &fakeUserStore{},
		Ledger:   &fakeSeeder{},
		Replay:   newFakeReplay(),
		Identity: identity,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := svc.HandleEvent(context.Background(), "msg_1", createdEvent()); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(identity.calls) != 1 || identity.calls[0] != "user_1:Free" {
		t.Fatalf("expected plan sync for the seeded tier, got %v", identity.calls)
	}
}

func TestHandleEventSurvivesIdentitySyncFailure(t *testing.T) {
	store := &fakeUserStore{}
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Users:    store,
		Ledger:   &fakeSeeder{},
		Replay:   newFakeReplay(),
		Identity: &fakeIdentity{err: errors.New("clerk down")},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := svc.HandleEvent(context.Background(), "msg_1", createdEvent()); err != nil {
		t.Fatalf("metadata sync is best effort, webhook must still be acknowledged: %v", err)
	}
	if len(store.upserts) != 1 {
		t.Fatalf("expected upsert despite identity failure")
	}
}

func TestHandleEventIgnoresDuplicateDelivery(t *testing.T) {
	store := &fakeUserStore{}
	seeder := &fakeSeeder{}
	svc := newTestService(t, store, seeder, newFakeReplay())

	if err := svc.HandleEvent(context.Background(), "msg_1", createdEvent()); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.HandleEvent(context.Background(), "msg_1", createdEvent()); err != nil {
		t.Fatalf("redelivery must be acknowledged: %v", err)
	}
	if len(store.upserts) != 1 {
		t.Fatalf("redelivery must not reprocess, got %d upserts", len(store.upserts))
	}
}

func TestHandleEventReleasesGuardOnFailure(t *testing.T) {
	store := &fakeUserStore{upsertErr: errors.New("db down")}
	replay := newFakeReplay()
	svc := newTestService(t, store, &fakeSeeder{}, replay)

	if err := svc.HandleEvent(context.Background(), "msg_1", createdEvent()); err == nil {
		t.Fatalf("expected error")
	}
	if len(replay.dels) != 1 {
		t.Fatalf("guard must be released so the retry can land")
	}

	// Retry after the transient failure succeeds.
	store.upsertErr = nil
	if err := svc.HandleEvent(context.Background(), "msg_1", createdEvent()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(store.upserts) != 1 {
		t.Fatalf("expected retried upsert")
	}
}

func TestHandleEventUpdatedDoesNotReseedLedger(t *testing.T) {
	store := &fakeUserStore{}
	seeder := &fakeSeeder{}
	svc := newTestService(t, store, seeder, newFakeReplay())

	event := createdEvent()
	event.Type = "user.updated"
	if err := svc.HandleEvent(context.Background(), "msg_2", event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(seeder.seeded) != 0 {
		t.Fatalf("update must not seed the ledger")
	}
}

func TestHandleEventDeletesUser(t *testing.T) {
	store := &fakeUserStore{}
	svc := newTestService(t, store, &fakeSeeder{}, newFakeReplay())

	event := &Event{Type: "user.deleted", Data: json.RawMessage(`{"id":"user_1","deleted":true}`)}
	if err := svc.HandleEvent(context.Background(), "msg_3", event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(store.deletes) != 1 || store.deletes[0] != "user_1" {
		t.Fatalf("unexpected deletes %v", store.deletes)
	}
}

func TestHandleEventAcknowledgesUnknownTypes(t *testing.T) {
	svc := newTestService(t, &fakeUserStore{}, &fakeSeeder{}, newFakeReplay())

	event := &Event{Type: "session.created", Data: json.RawMessage(`{}`)}
	if err := svc.HandleEvent(context.Background(), "msg_4", event); err != nil {
		t.Fatalf("unknown types must be acknowledged: %v", err)
	}
}

func TestHandleEventRejectsMalformedPayload(t *testing.T) {
	svc := newTestService(t, &fakeUserStore{}, &fakeSeeder{}, newFakeReplay())

	event := &Event{Type: "user.created", Data: json.RawMessage(`{"id":""}`)}
	err := svc.HandleEvent(context.Background(), "msg_5", event)
	if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
