package analyses

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/mirae-labs/sajuflow-backend/internal/subscriptions"
	"github.com/mirae-labs/sajuflow-backend/pkg/db/models"
	"github.com/mirae-labs/sajuflow-backend/pkg/enums"
	pkgerrors "github.com/mirae-labs/sajuflow-backend/pkg/errors"
	"github.com/mirae-labs/sajuflow-backend/pkg/gemini"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
)

type fakeRepo struct {
	created   []*models.Analysis
	deleted   []uuid.UUID
	createErr error
	rows      []models.Analysis
}

func (f *fakeRepo) Create(_ context.Context, analysis *models.Analysis) error {
	if f.createErr != nil {
		return f.createErr
	}
	analysis.ID = uuid.New()
	f.created = append(f.created, analysis)
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRepo) ListByUserID(_ context.Context, userID string, limit, offset int) ([]models.Analysis, error) {
	var out []models.Analysis
	for _, row := range f.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Analysis, error) {
	for i := range f.rows {
		if f.rows[i].ID == id {
			return &f.rows[i], nil
		}
	}
	return nil, nil
}

type fakeQuota struct {
	remaining   int
	statusErr   error
	deductErr   error
	deductCalls int
}

func (f *fakeQuota) Status(_ context.Context, userID string) (*subscriptions.Status, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &subscriptions.Status{Plan: enums.PlanFree, RemainingTries: f.remaining}, nil
}

func (f *fakeQuota) Deduct(_ context.Context, userID string) (int, error) {
	f.deductCalls++
	if f.deductErr != nil {
		return 0, f.deductErr
	}
	if f.remaining <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeQuotaExceeded, "no remaining tries")
	}
	f.remaining--
	return f.remaining, nil
}

type fakeGenerator struct {
	detail string
	err    error
	calls  int
}

func (f *fakeGenerator) Generate(_ context.Context, req gemini.Request) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.detail != "" {
		return f.detail, nil
	}
	return "풀이 결과", nil
}

type fakeUsers struct {
	err   error
	calls int
}

func (f *fakeUsers) EnsureExists(_ context.Context, userID string) error {
	f.calls++
	return f.err
}

func newTestService(t *testing.T, repo *fakeRepo, quota *fakeQuota, gen *fakeGenerator) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Repo:      repo,
		Quota:     quota,
		Generator: gen,
		Users:     &fakeUsers{},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func validInput() CreateInput {
	return CreateInput{
		Name:      "김지윤",
		BirthDate: "1993-04-12",
		IsLunar:   false,
		ModelType: enums.ModelFlash,
	}
}

func TestCreateGeneratesThenDeducts(t *testing.T) {
	repo := &fakeRepo{}
	quota := &fakeQuota{remaining: 3}
	gen := &fakeGenerator{}
	svc := newTestService(t, repo, quota, gen)

	result, err := svc.Create(context.Background(), "user_1", validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gen.calls != 1 || quota.deductCalls != 1 {
		t.Fatalf("expected one generation and one deduct")
	}
	if result.RemainingTries != 2 {
		t.Fatalf("expected remaining 2, got %d", result.RemainingTries)
	}
	if result.Detail != "풀이 결과" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
	if len(repo.created) != 1 || len(repo.deleted) != 0 {
		t.Fatalf("expected one persisted analysis and no rollback")
	}
}

func TestCreateQuotaExhaustedSkipsGenerator(t *testing.T) {
	repo := &fakeRepo{}
	quota := &fakeQuota{remaining: 0}
	gen := &fakeGenerator{}
	svc := newTestService(t, repo, quota, gen)

	_, err := svc.Create(context.Background(), "user_1", validInput())
	if !pkgerrors.Is(err, pkgerrors.CodeQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator must not run without quota")
	}
	if len(repo.created) != 0 || quota.deductCalls != 0 {
		t.Fatalf("no side effects expected for an exhausted user")
	}
}

func TestCreateGenerationFailureWritesNothing(t *testing.T) {
	repo := &fakeRepo{}
	quota := &fakeQuota{remaining: 3}
	gen := &fakeGenerator{err: pkgerrors.New(pkgerrors.CodeDependency, "gemini call timed out")}
	svc := newTestService(t, repo, quota, gen)

	_, err := svc.Create(context.Background(), "user_1", validInput())
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(repo.created) != 0 || quota.deductCalls != 0 {
		t.Fatalf("a failed generation must leave no row and no charge")
	}
}

func TestCreateWriteFailureDoesNotDeduct(t *testing.T) {
	repo := &fakeRepo{createErr: pkgerrors.New(pkgerrors.CodeDatabase, "insert failed")}
	quota := &fakeQuota{remaining: 3}
	svc := newTestService(t, repo, quota, &fakeGenerator{})

	_, err := svc.Create(context.Background(), "user_1", validInput())
	if !pkgerrors.Is(err, pkgerrors.CodeDatabase) {
		t.Fatalf("expected database error, got %v", err)
	}
	if quota.deductCalls != 0 {
		t.Fatalf("no deduction expected when the row was never stored")
	}
}

func TestCreateDeductFailureRollsBackRow(t *testing.T) {
	repo := &fakeRepo{}
	// Remaining looks positive at the pre-check, but the conditional
	// decrement loses the race and rejects.
	quota := &fakeQuota{remaining: 1, deductErr: pkgerrors.New(pkgerrors.CodeQuotaExceeded, "no remaining tries")}
	svc := newTestService(t, repo, quota, &fakeGenerator{})

	_, err := svc.Create(context.Background(), "user_1", validInput())
	if !pkgerrors.Is(err, pkgerrors.CodeQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected the row to have been written before the deduct")
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != repo.created[0].ID {
		t.Fatalf("expected the stored analysis to be rolled back, got %v", repo.deleted)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakeQuota{remaining: 3}, &fakeGenerator{})

	cases := []struct {
		name  string
		input CreateInput
	}{
		{"missing name", CreateInput{BirthDate: "1993-04-12", ModelType: enums.ModelFlash}},
		{"bad date format", CreateInput{Name: "a", BirthDate: "12-04-1993", ModelType: enums.ModelFlash}},
		{"impossible date", CreateInput{Name: "a", BirthDate: "1993-02-30", ModelType: enums.ModelFlash}},
		{"bad model", CreateInput{Name: "a", BirthDate: "1993-04-12", ModelType: enums.ModelType("ultra")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), "user_1", tc.input)
			if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	badTime := "25:00"
	input := validInput()
	input.BirthTime = &badTime
	if _, err := svc.Create(context.Background(), "user_1", input); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for bad birth time, got %v", err)
	}
}

func TestGetScopesToOwner(t *testing.T) {
	id := uuid.New()
	repo := &fakeRepo{rows: []models.Analysis{{ID: id, UserID: "user_1", Name: "김지윤", Detail: "d"}}}
	svc := newTestService(t, repo, &fakeQuota{remaining: 3}, &fakeGenerator{})

	if _, err := svc.Get(context.Background(), "user_1", id); err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
	_, err := svc.Get(context.Background(), "user_2", id)
	if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		t.Fatalf("cross-user read must look like a missing row, got %v", err)
	}
}

func TestCreateFailsForUnknownUser(t *testing.T) {
	repo := &fakeRepo{}
	quota := &fakeQuota{remaining: 3}
	gen := &fakeGenerator{}
	users := &fakeUsers{err: pkgerrors.New(pkgerrors.CodeNotFound, "user not found")}

	svc, err := NewService(ServiceParams{
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Repo:      repo,
		Quota:     quota,
		Generator: gen,
		Users:     users,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.Create(context.Background(), "user_missing", validInput())
	if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if quota.deductCalls != 0 || gen.calls != 0 {
		t.Fatalf("no deduction or generation expected for unknown user")
	}
}
