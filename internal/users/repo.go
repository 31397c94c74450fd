package users

import (
	"context"
	"errors"

	"github.com/mirae-labs/sajuflow-backend/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository exposes user-related persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Upsert inserts or refreshes the locally mirrored profile.
func (r *Repository) Upsert(ctx context.Context, dto SyncUserDTO) (*models.User, error) {
	user := dto.ToModel()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "first_name", "last_name", "image_url", "updated_at"}),
		}).
		Create(user).Error
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID loads a user by their identity-provider ID.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// Delete removes the user row; subscriptions and analyses cascade.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&models.User{}, "id = ?", id).Error
}
