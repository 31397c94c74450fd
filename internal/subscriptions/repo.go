package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/mirae-labs/sajuflow-backend/pkg/db"
	"github.com/mirae-labs/sajuflow-backend/pkg/db/models"
	"github.com/mirae-labs/sajuflow-backend/pkg/enums"
	"github.com/mirae-labs/sajuflow-backend/pkg/plans"
	"gorm.io/gorm"
)

// ErrNoQuota signals a conditional decrement that matched no row: either the
// user has no tries left or the subscription row is missing.
var ErrNoQuota = errors.New("no remaining tries")

// Repository owns all reads and writes of the subscriptions ledger.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a subscriptions repo bound to the provided GORM DB.
func NewRepository(gormDB *gorm.DB) *Repository {
	return &Repository{db: gormDB}
}

// FindByUserID returns the user's ledger row, or nil when none exists.
func (r *Repository) FindByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// GetOrCreate returns the ledger row, seeding a Free-tier row when the user
// has none. Concurrent seeds race on the unique user_id constraint; the loser
// re-reads the winner's row.
func (r *Repository) GetOrCreate(ctx context.Context, userID string) (*models.Subscription, error) {
	existing, err := r.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	seed := &models.Subscription{
		UserID:         userID,
		PlanType:       enums.PlanFree,
		RemainingTries: plans.Free.MonthlyQuota,
	}
	if err := r.db.WithContext(ctx).Create(seed).Error; err != nil {
		if db.IsUniqueViolation(err, "subscriptions_user_id_key") {
			return r.FindByUserID(ctx, userID)
		}
		return nil, err
	}
	return seed, nil
}

// Deduct atomically consumes one try and returns the new balance. The WHERE
// guard makes overdraw impossible under concurrency: two racing requests for
// a user with one try left resolve to one success and one ErrNoQuota.
func (r *Repository) Deduct(ctx context.Context, userID string) (int, error) {
	var remaining int
	res := r.db.WithContext(ctx).Raw(
		`UPDATE subscriptions
		    SET remaining_tries = remaining_tries - 1, updated_at = CURRENT_TIMESTAMP
		  WHERE user_id = ? AND remaining_tries > 0
		RETURNING remaining_tries`,
		userID,
	).Scan(&remaining)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNoQuota
	}
	return remaining, nil
}

// Upgrade flips the ledger to the Pro tier with a fresh quota and stores the
// recurring-payment credentials.
func (r *Repository) Upgrade(ctx context.Context, userID string, billingKey, customerKey string, subscribedAt, nextPaymentDate time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"plan_type":              enums.PlanPro,
			"remaining_tries":        plans.Pro.MonthlyQuota,
			"billing_key":            billingKey,
			"customer_key":           customerKey,
			"subscribed_at":          subscribedAt,
			"next_payment_date":      nextPaymentDate,
			"cancellation_scheduled": false,
		}).Error
}

// RenewCycle resets the quota and advances the billing anchor after a
// successful recurring charge.
func (r *Repository) RenewCycle(ctx context.Context, userID string, nextPaymentDate time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"remaining_tries":   plans.Pro.MonthlyQuota,
			"next_payment_date": nextPaymentDate,
		}).Error
}

// DowngradeToFree drops the ledger back to the Free tier and clears all
// recurring-payment state. Remaining tries go to zero: the Free seed quota is
// for new accounts only, not for lapsed Pro ones.
func (r *Repository) DowngradeToFree(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"plan_type":              enums.PlanFree,
			"remaining_tries":        0,
			"billing_key":            nil,
			"customer_key":           nil,
			"next_payment_date":      nil,
			"subscribed_at":          nil,
			"cancellation_scheduled": false,
		}).Error
}

// SetCancellationScheduled marks (or unmarks) an end-of-cycle cancellation.
func (r *Repository) SetCancellationScheduled(ctx context.Context, userID string, scheduled bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Update("cancellation_scheduled", scheduled).Error
}

// ListDueForCharge returns Pro subscriptions whose billing date has arrived
// and that are not scheduled for cancellation.
func (r *Repository) ListDueForCharge(ctx context.Context, today time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("plan_type = ?", enums.PlanPro).
		Where("cancellation_scheduled = ?", false).
		Where("next_payment_date IS NOT NULL AND next_payment_date <= ?", today).
		Order("user_id").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// ListDueForCancellation returns Pro subscriptions whose paid period has
// ended with a cancellation pending.
func (r *Repository) ListDueForCancellation(ctx context.Context, today time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("plan_type = ?", enums.PlanPro).
		Where("cancellation_scheduled = ?", true).
		Where("next_payment_date IS NOT NULL AND next_payment_date <= ?", today).
		Order("user_id").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}
