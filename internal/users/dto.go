package users

import "github.com/mirae-labs/sajuflow-backend/pkg/db/models"

// SyncUserDTO carries the identity-provider profile fields mirrored locally.
type SyncUserDTO struct {
	ID        string
	Email     string
	FirstName *string
	LastName  *string
	ImageURL  *string
}

// ToModel converts the DTO into a persistable user model.
func (dto SyncUserDTO) ToModel() *models.User {
	return &models.User{
		ID:        dto.ID,
		Email:     dto.Email,
		FirstName: dto.FirstName,
		LastName:  dto.LastName,
		ImageURL:  dto.ImageURL,
	}
}
