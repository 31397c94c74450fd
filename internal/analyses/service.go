package analyses

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mirae-labs/sajuflow-backend/internal/subscriptions"
	"github.com/mirae-labs/sajuflow-backend/pkg/db/models"
	"github.com/mirae-labs/sajuflow-backend/pkg/enums"
	pkgerrors "github.com/mirae-labs/sajuflow-backend/pkg/errors"
	"github.com/mirae-labs/sajuflow-backend/pkg/gemini"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
)

var (
	birthDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	birthTimeRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
)

type analysisRepo interface {
	Create(ctx context.Context, analysis *models.Analysis) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]models.Analysis, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
}

type quotaLedger interface {
	Status(ctx context.Context, userID string) (*subscriptions.Status, error)
	Deduct(ctx context.Context, userID string) (int, error)
}

type readingGenerator interface {
	Generate(ctx context.Context, req gemini.Request) (string, error)
}

type userDirectory interface {
	EnsureExists(ctx context.Context, userID string) error
}

// CreateInput captures the birth details submitted for a reading.
type CreateInput struct {
	Name      string          `json:"name" validate:"required,max=50"`
	BirthDate string          `json:"birth_date" validate:"required"`
	BirthTime *string         `json:"birth_time,omitempty"`
	IsLunar   bool            `json:"is_lunar"`
	ModelType enums.ModelType `json:"model_type" validate:"required"`
}

// Result is the client-facing view of a completed analysis.
type Result struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	BirthDate      string          `json:"birth_date"`
	BirthTime      *string         `json:"birth_time,omitempty"`
	IsLunar        bool            `json:"is_lunar"`
	ModelType      enums.ModelType `json:"model_type"`
	Detail         string          `json:"detail"`
	RemainingTries int             `json:"remaining_tries"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Service orchestrates quota, generation and persistence for readings.
type Service interface {
	Create(ctx context.Context, userID string, input CreateInput) (*Result, error)
	List(ctx context.Context, userID string, limit, offset int) ([]Result, error)
	Get(ctx context.Context, userID string, id uuid.UUID) (*Result, error)
}

// ServiceParams groups dependencies for the analyses service.
type ServiceParams struct {
	Logger    *logger.Logger
	Repo      analysisRepo
	Quota     quotaLedger
	Generator readingGenerator
	Users     userDirectory
}

type service struct {
	logg      *logger.Logger
	repo      analysisRepo
	quota     quotaLedger
	generator readingGenerator
	users     userDirectory
}

// NewService builds the analyses service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("analyses repo required")
	}
	if params.Quota == nil {
		return nil, fmt.Errorf("quota ledger required")
	}
	if params.Generator == nil {
		return nil, fmt.Errorf("reading generator required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user directory required")
	}
	return &service{
		logg:      params.Logger,
		repo:      params.Repo,
		quota:     params.Quota,
		generator: params.Generator,
		users:     params.Users,
	}, nil
}

// Create runs the metered pipeline. Nothing is written before the model call
// succeeds; the insert and the deduction are made all-or-nothing by deleting
// the row when the conditional deduction comes back empty.
func (s *service) Create(ctx context.Context, userID string, input CreateInput) (*Result, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	// The webhook normally mirrors accounts; this covers the one it missed.
	if err := s.users.EnsureExists(ctx, userID); err != nil {
		return nil, err
	}

	// Seeds the Free ledger on first contact and gates exhausted users
	// before the generator is ever invoked. The check is advisory; the
	// deduction below is the authoritative guard.
	status, err := s.quota.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	if status.RemainingTries <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeQuotaExceeded, "no remaining tries")
	}

	detail, err := s.generator.Generate(ctx, gemini.Request{
		Name:      input.Name,
		BirthDate: input.BirthDate,
		BirthTime: input.BirthTime,
		IsLunar:   input.IsLunar,
		Model:     input.ModelType,
	})
	if err != nil {
		return nil, err
	}

	analysis := &models.Analysis{
		UserID:    userID,
		Name:      strings.TrimSpace(input.Name),
		BirthDate: input.BirthDate,
		BirthTime: input.BirthTime,
		IsLunar:   input.IsLunar,
		ModelType: input.ModelType,
		Detail:    detail,
	}
	if err := s.repo.Create(ctx, analysis); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "save analysis")
	}

	remaining, err := s.quota.Deduct(ctx, userID)
	if err != nil {
		// The user must never hold a stored reading whose try was not
		// charged. Racing requests on the last try land here.
		s.rollback(ctx, analysis.ID, userID)
		return nil, err
	}

	result := toResult(analysis)
	result.RemainingTries = remaining
	return result, nil
}

// List returns the user's reading history, newest first.
func (s *service) List(ctx context.Context, userID string, limit, offset int) ([]Result, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.repo.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "list analyses")
	}
	results := make([]Result, 0, len(rows))
	for i := range rows {
		results = append(results, *toResult(&rows[i]))
	}
	return results, nil
}

// Get loads a single analysis, scoped to its owner.
func (s *service) Get(ctx context.Context, userID string, id uuid.UUID) (*Result, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load analysis")
	}
	if row == nil || row.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "analysis not found")
	}
	return toResult(row), nil
}

// rollback deletes an analysis persisted ahead of a failed deduction. Its own
// failure strands an uncharged row, so it is logged loudly for manual
// reconciliation instead of masking the original error.
func (s *service) rollback(ctx context.Context, id uuid.UUID, userID string) {
	if err := s.repo.Delete(ctx, id); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"user_id": userID, "analysis_id": id.String()})
		s.logg.Error(logCtx, "analysis rollback failed", err)
	}
}

func validateInput(input CreateInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if !birthDateRe.MatchString(input.BirthDate) {
		return pkgerrors.New(pkgerrors.CodeValidation, "birth_date must be YYYY-MM-DD")
	}
	if _, err := time.Parse("2006-01-02", input.BirthDate); err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "birth_date is not a valid date")
	}
	if input.BirthTime != nil && !birthTimeRe.MatchString(*input.BirthTime) {
		return pkgerrors.New(pkgerrors.CodeValidation, "birth_time must be HH:MM")
	}
	if !input.ModelType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "model_type must be flash or pro")
	}
	return nil
}

func toResult(analysis *models.Analysis) *Result {
	return &Result{
		ID:        analysis.ID,
		Name:      analysis.Name,
		BirthDate: analysis.BirthDate,
		BirthTime: analysis.BirthTime,
		IsLunar:   analysis.IsLunar,
		ModelType: analysis.ModelType,
		Detail:    analysis.Detail,
		CreatedAt: analysis.CreatedAt,
	}
}
