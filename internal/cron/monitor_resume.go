package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/blockwearhq/blockwear-backend/internal/monitor"
	"github.com/blockwearhq/blockwear-backend/internal/payments"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

const monitorResumeBatch = 500

type openPaymentLister interface {
	ListOpenForWatch(ctx context.Context, currencies []enums.Currency, asOf time.Time, limit int) ([]payments.OpenPayment, error)
}

type watchRegistry interface {
	Watching(orderRef string) bool
	Watch(target monitor.WatchTarget) error
}

// MonitorResumeParams configure the monitor resume job.
type MonitorResumeParams struct {
	Logger    *logger.Logger
	Payments  openPaymentLister
	Monitors  watchRegistry
	BatchSize int
	Now       func() time.Time
}

// NewMonitorResumeJob builds the job that re-arms polling monitors after a
// restart. Orders already being watched are skipped; Watch would cancel and
// replace the live poller otherwise.
func NewMonitorResumeJob(params MonitorResumeParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Monitors == nil {
		return nil, fmt.Errorf("monitor registry required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = monitorResumeBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &monitorResumeJob{
		logg:     params.Logger,
		payments: params.Payments,
		monitors: params.Monitors,
		batch:    batch,
		now:      now,
	}, nil
}

type monitorResumeJob struct {
	logg     *logger.Logger
	payments openPaymentLister
	monitors watchRegistry
	batch    int
	now      func() time.Time
}

func (j *monitorResumeJob) Name() string { return "monitor-resume" }

func (j *monitorResumeJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	rows, err := j.payments.ListOpenForWatch(ctx, enums.WalletRPCCurrencies(), asOf, j.batch)
	if err != nil {
		return fmt.Errorf("query open payments: %w", err)
	}

	var errs []error
	resumed := 0
	for _, row := range rows {
		if j.monitors.Watching(row.OrderRef) {
			continue
		}
		target := monitor.WatchTarget{
			OrderRef:  row.OrderRef,
			Currency:  row.Currency,
			Address:   row.Address,
			ExpiresAt: row.ExpiresAt,
		}
		if err := j.monitors.Watch(target); err != nil {
			errs = append(errs, fmt.Errorf("watch %s: %w", row.OrderRef, err))
			continue
		}
		resumed++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"open":    len(rows),
		"resumed": resumed,
	})
	j.logg.Info(logCtx, "monitor resume complete")
	return multierr.Combine(errs...)
}
