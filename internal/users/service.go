package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/mirae-labs/sajuflow-backend/pkg/clerk"
	"github.com/mirae-labs/sajuflow-backend/pkg/db/models"
	pkgerrors "github.com/mirae-labs/sajuflow-backend/pkg/errors"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
)

type userRepo interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	Upsert(ctx context.Context, dto SyncUserDTO) (*models.User, error)
}

type identityReader interface {
	GetUser(ctx context.Context, userID string) (*clerk.User, error)
}

// ServiceParams groups dependencies for the users service.
type ServiceParams struct {
	Logger   *logger.Logger
	Repo     userRepo
	Identity identityReader
}

// Service keeps the local user mirror in sync with the identity provider.
type Service struct {
	logg     *logger.Logger
	repo     userRepo
	identity identityReader
}

// NewService builds the users service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("users repo required")
	}
	if params.Identity == nil {
		return nil, fmt.Errorf("identity client required")
	}
	return &Service{
		logg:     params.Logger,
		repo:     params.Repo,
		identity: params.Identity,
	}, nil
}

// EnsureExists resolves the user locally, backfilling from the identity
// provider when the webhook that should have mirrored the account was missed.
func (s *Service) EnsureExists(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	local, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load user")
	}
	if local != nil {
		return nil
	}

	remote, err := s.identity.GetUser(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch user from identity provider")
	}
	if remote == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	if _, err := s.repo.Upsert(ctx, SyncUserDTO{
		ID:        remote.ID,
		Email:     remote.Email,
		FirstName: remote.FirstName,
		LastName:  remote.LastName,
		ImageURL:  remote.ImageURL,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "mirror user")
	}

	s.logg.Info(s.logg.WithUserID(ctx, userID), "user backfilled from identity provider")
	return nil
}
