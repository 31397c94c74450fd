package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mirae-labs/sajuflow-backend/pkg/enums"
)

// Subscription is the per-user quota ledger row. Exactly one exists per user
// (unique user_id); mutation goes through the subscriptions repository only so
// the conditional-decrement and uniqueness guarantees hold on every path.
type Subscription struct {
	ID                    uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                string         `gorm:"column:user_id;not null;uniqueIndex:subscriptions_user_id_key"`
	PlanType              enums.PlanType `gorm:"column:plan_type;not null;default:'Free'"`
	RemainingTries        int            `gorm:"column:remaining_tries;not null;default:0"`
	BillingKey            *string        `gorm:"column:billing_key"`
	CustomerKey           *string        `gorm:"column:customer_key"`
	NextPaymentDate       *time.Time     `gorm:"column:next_payment_date;type:date"`
	SubscribedAt          *time.Time     `gorm:"column:subscribed_at"`
	CancellationScheduled bool           `gorm:"column:cancellation_scheduled;not null;default:false"`
	CreatedAt             time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
