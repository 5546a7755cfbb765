package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/blockwearhq/blockwear-backend/internal/payments"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

func TestPaymentExpirySweepAppliesExpiredObservations(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	lister := &fakeExpiredPaymentLister{rows: []payments.OpenPayment{
		{PaymentID: uuid.New(), OrderRef: "BW-2026-000101", Currency: enums.CurrencyDCR},
		{PaymentID: uuid.New(), OrderRef: "BW-2026-000102", Currency: enums.CurrencyLTC},
	}}
	applier := &fakeObservationApplier{}
	job := newExpirySweepJob(t, lister, applier, now)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !lister.asOf.Equal(now) {
		t.Fatalf("expected asOf %s, got %s", now, lister.asOf)
	}
	if lister.limit != expirySweepBatch {
		t.Fatalf("expected batch %d, got %d", expirySweepBatch, lister.limit)
	}
	if len(applier.applied) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(applier.applied))
	}
	for i, ref := range []string{"BW-2026-000101", "BW-2026-000102"} {
		obs := applier.applied[i]
		if obs.OrderRef != ref {
			t.Fatalf("expected order ref %s, got %s", ref, obs.OrderRef)
		}
		if obs.Status != enums.ObservationExpired {
			t.Fatalf("expected expired status, got %s", obs.Status)
		}
		if obs.Source != enums.SourceSweep {
			t.Fatalf("expected sweep source, got %s", obs.Source)
		}
	}
}

func TestPaymentExpirySweepContinuesPastFailures(t *testing.T) {
	lister := &fakeExpiredPaymentLister{rows: []payments.OpenPayment{
		{OrderRef: "BW-2026-000103"},
		{OrderRef: "BW-2026-000104"},
	}}
	applier := &fakeObservationApplier{failRefs: map[string]error{
		"BW-2026-000103": errors.New("row locked"),
	}}
	job := newExpirySweepJob(t, lister, applier, time.Now())

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected combined error")
	}
	if len(applier.applied) != 1 {
		t.Fatalf("expected the second row to still be swept, got %d", len(applier.applied))
	}
	if applier.applied[0].OrderRef != "BW-2026-000104" {
		t.Fatalf("unexpected swept ref %s", applier.applied[0].OrderRef)
	}
}

func TestPaymentExpirySweepPropagatesListError(t *testing.T) {
	lister := &fakeExpiredPaymentLister{err: errors.New("db down")}
	applier := &fakeObservationApplier{}
	job := newExpirySweepJob(t, lister, applier, time.Now())

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(applier.applied) != 0 {
		t.Fatalf("expected no observations, got %d", len(applier.applied))
	}
}

func TestPaymentExpirySweepNoCandidates(t *testing.T) {
	lister := &fakeExpiredPaymentLister{}
	applier := &fakeObservationApplier{}
	job := newExpirySweepJob(t, lister, applier, time.Now())

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(applier.applied) != 0 {
		t.Fatalf("expected no observations, got %d", len(applier.applied))
	}
}

func newExpirySweepJob(t *testing.T, lister *fakeExpiredPaymentLister, applier *fakeObservationApplier, now time.Time) Job {
	t.Helper()
	job, err := NewPaymentExpirySweepJob(PaymentExpirySweepParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Payments:  lister,
		Lifecycle: applier,
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewPaymentExpirySweepJob: %v", err)
	}
	return job
}

type fakeExpiredPaymentLister struct {
	rows  []payments.OpenPayment
	err   error
	asOf  time.Time
	limit int
}

func (f *fakeExpiredPaymentLister) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]payments.OpenPayment, error) {
	f.asOf = asOf
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

type fakeObservationApplier struct {
	applied  []payments.Observation
	failRefs map[string]error
}

func (f *fakeObservationApplier) ApplyObservation(ctx context.Context, obs payments.Observation) error {
	if err, ok := f.failRefs[obs.OrderRef]; ok {
		return err
	}
	f.applied = append(f.applied, obs)
	return nil
}
