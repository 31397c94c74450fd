package models

import "time"

// User mirrors the identity-provider account locally. The provider owns the
// id; rows are created by the account webhook or lazily on first use.
type User struct {
	ID        string    `gorm:"primaryKey"`
	Email     string    `gorm:"type:text;not null"`
	FirstName *string   `gorm:"column:first_name"`
	LastName  *string   `gorm:"column:last_name"`
	ImageURL  *string   `gorm:"column:image_url"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
