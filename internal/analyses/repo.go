package analyses

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mirae-labs/sajuflow-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository exposes analysis persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an analyses repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a completed analysis.
func (r *Repository) Create(ctx context.Context, analysis *models.Analysis) error {
	return r.db.WithContext(ctx).Create(analysis).Error
}

// Delete removes an analysis. Used to roll back an insert whose quota
// deduction did not go through.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.Analysis{}, "id = ?", id).Error
}

// ListByUserID returns the user's analyses, newest first.
func (r *Repository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]models.Analysis, error) {
	var rows []models.Analysis
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindByID loads a single analysis, or nil when it does not exist.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	var row models.Analysis
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
