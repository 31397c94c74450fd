package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mirae-labs/sajuflow-backend/pkg/dates"
	"github.com/mirae-labs/sajuflow-backend/pkg/db/models"
	"github.com/mirae-labs/sajuflow-backend/pkg/enums"
	pkgerrors "github.com/mirae-labs/sajuflow-backend/pkg/errors"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
	"github.com/mirae-labs/sajuflow-backend/pkg/plans"
	"github.com/mirae-labs/sajuflow-backend/pkg/toss"
)

type ledgerRepo interface {
	FindByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	GetOrCreate(ctx context.Context, userID string) (*models.Subscription, error)
	Deduct(ctx context.Context, userID string) (int, error)
	Upgrade(ctx context.Context, userID string, billingKey, customerKey string, subscribedAt, nextPaymentDate time.Time) error
	SetCancellationScheduled(ctx context.Context, userID string, scheduled bool) error
}

type billingClient interface {
	IssueBillingKey(ctx context.Context, req toss.IssueBillingKeyRequest) (*toss.BillingKey, error)
	ChargeBillingKey(ctx context.Context, req toss.ChargeRequest) (*toss.Payment, error)
}

type identityClient interface {
	UpdateSubscriptionMetadata(ctx context.Context, userID, plan string) error
}

// Service defines the subscription lifecycle and quota surface.
type Service interface {
	Status(ctx context.Context, userID string) (*Status, error)
	Activate(ctx context.Context, userID, authKey string) (*Status, error)
	Cancel(ctx context.Context, userID string) (*Status, error)
	Deduct(ctx context.Context, userID string) (int, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Logger   *logger.Logger
	Repo     ledgerRepo
	Billing  billingClient
	Identity identityClient
}

// Status is the client-facing view of a user's subscription.
type Status struct {
	Plan                  enums.PlanType `json:"plan"`
	PlanDisplayName       string         `json:"plan_display_name"`
	RemainingTries        int            `json:"remaining_tries"`
	MonthlyQuota          int            `json:"monthly_quota"`
	MonthlyPrice          int64          `json:"monthly_price"`
	SubscribedAt          *time.Time     `json:"subscribed_at,omitempty"`
	NextPaymentDate       *string        `json:"next_payment_date,omitempty"`
	CancellationScheduled bool           `json:"cancellation_scheduled"`
}

type service struct {
	logg     *logger.Logger
	repo     ledgerRepo
	billing  billingClient
	identity identityClient
	now      func() time.Time
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("subscriptions repo required")
	}
	if params.Billing == nil {
		return nil, fmt.Errorf("billing client required")
	}
	if params.Identity == nil {
		return nil, fmt.Errorf("identity client required")
	}
	return &service{
		logg:     params.Logger,
		repo:     params.Repo,
		billing:  params.Billing,
		identity: params.Identity,
		now:      time.Now,
	}, nil
}

// Status returns the user's ledger, seeding the Free tier on first contact.
func (s *service) Status(ctx context.Context, userID string) (*Status, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	sub, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load subscription")
	}
	return toStatus(sub), nil
}

// Activate exchanges the checkout auth key for a billing key, takes the first
// charge and flips the ledger to Pro. A Pro user with a pending cancellation
// is resumed without a new charge.
func (s *service) Activate(ctx context.Context, userID, authKey string) (*Status, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(authKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "auth key is required")
	}

	sub, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load subscription")
	}

	if sub.PlanType == enums.PlanPro {
		if !sub.CancellationScheduled {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "subscription already active")
		}
		if err := s.repo.SetCancellationScheduled(ctx, userID, false); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "resume subscription")
		}
		sub.CancellationScheduled = false
		return toStatus(sub), nil
	}

	key, err := s.billing.IssueBillingKey(ctx, toss.IssueBillingKeyRequest{
		AuthKey:     authKey,
		CustomerKey: userID,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	orderID := fmt.Sprintf("sub-%s-%d", userID, now.Unix())
	payment, err := s.billing.ChargeBillingKey(ctx, toss.ChargeRequest{
		BillingKey:  key.BillingKey,
		CustomerKey: key.CustomerKey,
		OrderID:     orderID,
		OrderName:   fmt.Sprintf("%s 구독", plans.Pro.DisplayName),
		Amount:      plans.Pro.MonthlyPrice,
	})
	if err != nil {
		return nil, err
	}

	nextPayment := dates.AddOneMonth(dates.TodayKST(now))
	if err := s.repo.Upgrade(ctx, userID, key.BillingKey, key.CustomerKey, now, nextPayment); err != nil {
		// The charge went through but the ledger write failed; surface the
		// error so the client retries and support can reconcile the payment.
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id":     userID,
			"order_id":    orderID,
			"payment_key": payment.PaymentKey,
		})
		s.logg.Error(logCtx, "charge succeeded but upgrade write failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record subscription upgrade")
	}

	s.syncIdentityPlan(ctx, userID, enums.PlanPro)

	refreshed, err := s.repo.FindByUserID(ctx, userID)
	if err != nil || refreshed == nil {
		// Upgrade already committed; fall back to a synthesized view.
		nextStr := dates.FormatYMD(nextPayment)
		return &Status{
			Plan:            enums.PlanPro,
			PlanDisplayName: plans.Pro.DisplayName,
			RemainingTries:  plans.Pro.MonthlyQuota,
			MonthlyQuota:    plans.Pro.MonthlyQuota,
			MonthlyPrice:    plans.Pro.MonthlyPrice,
			SubscribedAt:    &now,
			NextPaymentDate: &nextStr,
		}, nil
	}
	return toStatus(refreshed), nil
}

// Cancel schedules an end-of-cycle cancellation; access continues until the
// next payment date.
func (s *service) Cancel(ctx context.Context, userID string) (*Status, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	sub, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load subscription")
	}
	if sub == nil || sub.PlanType != enums.PlanPro {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "no active subscription to cancel")
	}
	if !sub.CancellationScheduled {
		if err := s.repo.SetCancellationScheduled(ctx, userID, true); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "schedule cancellation")
		}
		sub.CancellationScheduled = true
	}
	return toStatus(sub), nil
}

// Deduct consumes one try, seeding the Free ledger for first-time users.
func (s *service) Deduct(ctx context.Context, userID string) (int, error) {
	if _, err := s.repo.GetOrCreate(ctx, userID); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load subscription")
	}
	remaining, err := s.repo.Deduct(ctx, userID)
	if err != nil {
		if err == ErrNoQuota {
			return 0, pkgerrors.New(pkgerrors.CodeQuotaExceeded, "no remaining tries")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "deduct try")
	}
	return remaining, nil
}

// syncIdentityPlan pushes the plan into the identity provider's user metadata.
// Failures are logged, not fatal: the local ledger is the source of truth.
func (s *service) syncIdentityPlan(ctx context.Context, userID string, plan enums.PlanType) {
	if err := s.identity.UpdateSubscriptionMetadata(ctx, userID, plan.String()); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"user_id": userID, "plan": plan.String()})
		s.logg.Warn(logCtx, "failed to sync plan to identity provider")
	}
}

func toStatus(sub *models.Subscription) *Status {
	plan := plans.ForType(sub.PlanType)
	status := &Status{
		Plan:                  sub.PlanType,
		PlanDisplayName:       plan.DisplayName,
		RemainingTries:        sub.RemainingTries,
		MonthlyQuota:          plan.MonthlyQuota,
		MonthlyPrice:          plan.MonthlyPrice,
		SubscribedAt:          sub.SubscribedAt,
		CancellationScheduled: sub.CancellationScheduled,
	}
	if sub.NextPaymentDate != nil {
		formatted := dates.FormatYMD(*sub.NextPaymentDate)
		status.NextPaymentDate = &formatted
	}
	return status
}
