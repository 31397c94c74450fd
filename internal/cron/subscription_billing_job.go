package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/mirae-labs/sajuflow-backend/pkg/dates"
	"github.com/mirae-labs/sajuflow-backend/pkg/db/models"
	"github.com/mirae-labs/sajuflow-backend/pkg/enums"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
	"github.com/mirae-labs/sajuflow-backend/pkg/metrics"
	"github.com/mirae-labs/sajuflow-backend/pkg/plans"
	"github.com/mirae-labs/sajuflow-backend/pkg/toss"
)

type billingLedger interface {
	ListDueForCharge(ctx context.Context, today time.Time) ([]models.Subscription, error)
	ListDueForCancellation(ctx context.Context, today time.Time) ([]models.Subscription, error)
	RenewCycle(ctx context.Context, userID string, nextPaymentDate time.Time) error
	DowngradeToFree(ctx context.Context, userID string) error
}

type recurringCharger interface {
	ChargeBillingKey(ctx context.Context, req toss.ChargeRequest) (*toss.Payment, error)
	DeleteBillingKey(ctx context.Context, billingKey, customerKey string) error
}

type planSyncer interface {
	UpdateSubscriptionMetadata(ctx context.Context, userID, plan string) error
}

// SubscriptionBillingJobParams configure the daily billing job.
type SubscriptionBillingJobParams struct {
	Logger   *logger.Logger
	Ledger   billingLedger
	Charger  recurringCharger
	Identity planSyncer
	Metrics  *metrics.CronJobMetrics
}

// Failure records one thing that went wrong during a billing cycle.
type Failure struct {
	UserID  string `json:"user_id,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const (
	failurePayment  = "payment_failure"
	failureDatabase = "database_error"
	failureSystem   = "system_error"
)

// RunResult summarizes one billing cycle.
type RunResult struct {
	TotalProcessed         int       `json:"total_processed"`
	RegularPayments        int       `json:"regular_payments"`
	ScheduledCancellations int       `json:"scheduled_cancellations"`
	ChargeFailed           int       `json:"charge_failed"`
	Skipped                int       `json:"skipped"`
	Errors                 int       `json:"error_count"`
	Failures               []Failure `json:"errors,omitempty"`
}

func (r *RunResult) addFailure(userID, kind, message string) {
	r.Failures = append(r.Failures, Failure{UserID: userID, Kind: kind, Message: message})
}

// SubscriptionBillingJob renews due Pro subscriptions and applies scheduled
// cancellations, one billing day at a time in KST.
type SubscriptionBillingJob struct {
	logg     *logger.Logger
	ledger   billingLedger
	charger  recurringCharger
	identity planSyncer
	metrics  *metrics.CronJobMetrics
	now      func() time.Time
}

// NewSubscriptionBillingJob builds the billing job.
func NewSubscriptionBillingJob(params SubscriptionBillingJobParams) (*SubscriptionBillingJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("subscriptions ledger required")
	}
	if params.Charger == nil {
		return nil, fmt.Errorf("billing charger required")
	}
	if params.Identity == nil {
		return nil, fmt.Errorf("identity client required")
	}
	return &SubscriptionBillingJob{
		logg:     params.Logger,
		ledger:   params.Ledger,
		charger:  params.Charger,
		identity: params.Identity,
		metrics:  params.Metrics,
		now:      time.Now,
	}, nil
}

func (j *SubscriptionBillingJob) Name() string { return "process-subscriptions" }

// Run satisfies the Job interface.
func (j *SubscriptionBillingJob) Run(ctx context.Context) error {
	_, err := j.Process(ctx)
	return err
}

// Process runs both passes and returns the cycle summary. A failure on one
// subscription never blocks the rest of the batch, and a failed pass query is
// folded into the summary so the caller always gets a structured result.
func (j *SubscriptionBillingJob) Process(ctx context.Context) (*RunResult, error) {
	today := dates.TodayKST(j.now())
	result := &RunResult{}
	var fatal error

	due, err := j.ledger.ListDueForCharge(ctx, today)
	if err != nil {
		err = fmt.Errorf("list due subscriptions: %w", err)
		result.Errors++
		result.addFailure("", failureSystem, err.Error())
		fatal = multierr.Append(fatal, err)
	}
	for i := range due {
		j.chargeOne(ctx, &due[i], today, result)
	}

	cancellations, err := j.ledger.ListDueForCancellation(ctx, today)
	if err != nil {
		err = fmt.Errorf("list scheduled cancellations: %w", err)
		result.Errors++
		result.addFailure("", failureSystem, err.Error())
		fatal = multierr.Append(fatal, err)
	}
	for i := range cancellations {
		j.cancelOne(ctx, &cancellations[i], result)
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"billing_date":  dates.FormatYMD(today),
		"payments":      result.RegularPayments,
		"charge_failed": result.ChargeFailed,
		"skipped":       result.Skipped,
		"cancellations": result.ScheduledCancellations,
		"errors":        result.Errors,
	})
	j.logg.Info(logCtx, "subscription billing cycle complete")
	return result, fatal
}

func (j *SubscriptionBillingJob) chargeOne(ctx context.Context, sub *models.Subscription, today time.Time, result *RunResult) {
	logCtx := j.logg.WithUserID(ctx, sub.UserID)

	if sub.BillingKey == nil || sub.CustomerKey == nil {
		// Data-integrity problem, not a declined card. Skip without
		// downgrading so a fixable record is not destroyed.
		j.logg.Warn(logCtx, "due subscription has no billing credentials; skipping")
		j.metrics.IncPaymentOutcome("skipped")
		result.Skipped++
		result.addFailure(sub.UserID, failurePayment, "missing billing credentials")
		return
	}

	// The order ID is derived from user and billing date, so a crashed run
	// that re-charges the same day hits the provider's duplicate-order guard
	// instead of double-billing.
	orderID := fmt.Sprintf("subscription_%s_%s", sub.UserID, dates.FormatYMD(today))
	payment, err := j.charger.ChargeBillingKey(ctx, toss.ChargeRequest{
		BillingKey:  *sub.BillingKey,
		CustomerKey: *sub.CustomerKey,
		OrderID:     orderID,
		OrderName:   fmt.Sprintf("%s 구독 갱신", plans.Pro.DisplayName),
		Amount:      plans.Pro.MonthlyPrice,
	})
	if err != nil {
		j.logg.Error(j.logg.WithField(logCtx, "order_id", orderID), "recurring charge failed; downgrading", err)
		j.metrics.IncPaymentOutcome("failure")
		result.ChargeFailed++
		result.addFailure(sub.UserID, failurePayment, err.Error())
		j.downgrade(ctx, sub.UserID, result)
		return
	}

	next := dates.AddOneMonth(today)
	if err := j.ledger.RenewCycle(ctx, sub.UserID, next); err != nil {
		j.logg.Error(j.logg.WithField(logCtx, "payment_key", payment.PaymentKey), "charge succeeded but renewal write failed", err)
		result.Errors++
		result.addFailure(sub.UserID, failureDatabase, err.Error())
		return
	}
	j.metrics.IncPaymentOutcome("success")
	result.RegularPayments++
	result.TotalProcessed++
}

func (j *SubscriptionBillingJob) cancelOne(ctx context.Context, sub *models.Subscription, result *RunResult) {
	logCtx := j.logg.WithUserID(ctx, sub.UserID)

	// Release the stored authorization first; the provider treats a missing
	// key as already revoked, so a failure here never blocks the downgrade.
	if sub.BillingKey != nil && sub.CustomerKey != nil {
		if err := j.charger.DeleteBillingKey(ctx, *sub.BillingKey, *sub.CustomerKey); err != nil {
			j.logg.Warn(logCtx, "failed to revoke billing authorization")
		}
	}

	if !j.downgrade(ctx, sub.UserID, result) {
		return
	}
	result.ScheduledCancellations++
	result.TotalProcessed++
	j.logg.Info(logCtx, "scheduled cancellation applied")
}

func (j *SubscriptionBillingJob) downgrade(ctx context.Context, userID string, result *RunResult) bool {
	if err := j.ledger.DowngradeToFree(ctx, userID); err != nil {
		j.logg.Error(j.logg.WithUserID(ctx, userID), "downgrade write failed", err)
		result.Errors++
		result.addFailure(userID, failureDatabase, err.Error())
		return false
	}
	if err := j.identity.UpdateSubscriptionMetadata(ctx, userID, enums.PlanFree.String()); err != nil {
		j.logg.Warn(j.logg.WithUserID(ctx, userID), "failed to sync downgrade to identity provider")
	}
	return true
}
