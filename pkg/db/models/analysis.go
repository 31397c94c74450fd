package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mirae-labs/sajuflow-backend/pkg/enums"
)

// Analysis is one generated reading. A row exists only when both the
// generation and the quota deduction succeeded.
type Analysis struct {
	ID        uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    string          `gorm:"column:user_id;not null;index"`
	Name      string          `gorm:"column:name;not null"`
	BirthDate string          `gorm:"column:birth_date;not null"` // YYYY-MM-DD as entered
	BirthTime *string         `gorm:"column:birth_time"`          // HH:MM, nil when unknown
	IsLunar   bool            `gorm:"column:is_lunar;not null;default:false"`
	ModelType enums.ModelType `gorm:"column:model_type;not null"`
	Detail    string          `gorm:"column:detail;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}
