package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/blockwearhq/blockwear-backend/internal/payments"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

const expirySweepBatch = 200

type expiredPaymentLister interface {
	ListExpired(ctx context.Context, asOf time.Time, limit int) ([]payments.OpenPayment, error)
}

type observationApplier interface {
	ApplyObservation(ctx context.Context, obs payments.Observation) error
}

// PaymentExpirySweepParams configure the expiry sweep job.
type PaymentExpirySweepParams struct {
	Logger    *logger.Logger
	Payments  expiredPaymentLister
	Lifecycle observationApplier
	BatchSize int
	Now       func() time.Time
}

// NewPaymentExpirySweepJob builds the job that closes payment windows the
// monitors missed. It routes a synthesized expired observation through the
// same lifecycle path live monitors use, so a payment that confirmed
// between selection and processing is left alone.
func NewPaymentExpirySweepJob(params PaymentExpirySweepParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Lifecycle == nil {
		return nil, fmt.Errorf("payment lifecycle required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = expirySweepBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &paymentExpirySweepJob{
		logg:      params.Logger,
		payments:  params.Payments,
		lifecycle: params.Lifecycle,
		batch:     batch,
		now:       now,
	}, nil
}

type paymentExpirySweepJob struct {
	logg      *logger.Logger
	payments  expiredPaymentLister
	lifecycle observationApplier
	batch     int
	now       func() time.Time
}

func (j *paymentExpirySweepJob) Name() string { return "payment-expiry-sweep" }

func (j *paymentExpirySweepJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	rows, err := j.payments.ListExpired(ctx, asOf, j.batch)
	if err != nil {
		return fmt.Errorf("query expired payments: %w", err)
	}

	var errs []error
	swept := 0
	for _, row := range rows {
		obs := payments.Observation{
			OrderRef: row.OrderRef,
			Status:   enums.ObservationExpired,
			Source:   enums.SourceSweep,
		}
		if err := j.lifecycle.ApplyObservation(ctx, obs); err != nil {
			errs = append(errs, fmt.Errorf("expire %s: %w", row.OrderRef, err))
			continue
		}
		swept++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(rows),
		"swept":      swept,
	})
	j.logg.Info(logCtx, "payment expiry sweep complete")
	return multierr.Combine(errs...)
}
