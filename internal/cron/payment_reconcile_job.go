package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type PaymentReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler staleReconciler
}

type staleReconciler interface {
	ReconcileStale(ctx context.Context) (payments.ReconcileReport, error)
}

// NewPaymentReconcileJob builds the job that resolves card charges left in
// processing and QR sources still awaiting payment.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("payment reconciler required")
	}
	return &paymentReconcileJob{logg: params.Logger, reconciler: params.Reconciler}, nil
}

type paymentReconcileJob struct {
	logg       *logger.Logger
	reconciler staleReconciler
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	report, err := j.reconciler.ReconcileStale(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"checked": report.Checked,
		"settled": report.Settled,
		"failed":  report.Failed,
		"expired": report.Expired,
		"pending": report.Pending,
		"skipped": report.Skipped,
	})
	if err != nil {
		return fmt.Errorf("payment reconcile: %w", err)
	}
	if report.Checked > 0 {
		j.logg.Info(logCtx, "payment reconcile complete")
	}
	return nil
}
