package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blockwearhq/blockwear-backend/internal/monitor"
	"github.com/blockwearhq/blockwear-backend/internal/payments"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

func TestMonitorResumeWatchesOpenPayments(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)
	lister := &fakeOpenPaymentLister{rows: []payments.OpenPayment{
		{OrderRef: "BW-2026-000111", Currency: enums.CurrencyDCR, Address: "DsExample111", ExpiresAt: expiry},
		{OrderRef: "BW-2026-000112", Currency: enums.CurrencyLTC, Address: "ltc1qexample112", ExpiresAt: expiry},
	}}
	registry := &fakeWatchRegistry{}
	job := newMonitorResumeJob(t, lister, registry, now)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !lister.asOf.Equal(now) {
		t.Fatalf("expected asOf %s, got %s", now, lister.asOf)
	}
	if len(lister.currencies) != len(enums.WalletRPCCurrencies()) {
		t.Fatalf("expected wallet RPC currencies, got %v", lister.currencies)
	}
	if len(registry.watched) != 2 {
		t.Fatalf("expected 2 watch calls, got %d", len(registry.watched))
	}
	first := registry.watched[0]
	if first.OrderRef != "BW-2026-000111" || first.Currency != enums.CurrencyDCR {
		t.Fatalf("unexpected target %+v", first)
	}
	if first.Address != "DsExample111" || !first.ExpiresAt.Equal(expiry) {
		t.Fatalf("unexpected target %+v", first)
	}
}

func TestMonitorResumeSkipsWatchedOrders(t *testing.T) {
	lister := &fakeOpenPaymentLister{rows: []payments.OpenPayment{
		{OrderRef: "BW-2026-000113", Currency: enums.CurrencyDCR},
		{OrderRef: "BW-2026-000114", Currency: enums.CurrencyLTC},
	}}
	registry := &fakeWatchRegistry{watching: map[string]bool{"BW-2026-000113": true}}
	job := newMonitorResumeJob(t, lister, registry, time.Now())

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(registry.watched) != 1 {
		t.Fatalf("expected 1 watch call, got %d", len(registry.watched))
	}
	if registry.watched[0].OrderRef != "BW-2026-000114" {
		t.Fatalf("unexpected target %+v", registry.watched[0])
	}
}

func TestMonitorResumeCollectsWatchErrors(t *testing.T) {
	lister := &fakeOpenPaymentLister{rows: []payments.OpenPayment{
		{OrderRef: "BW-2026-000115", Currency: enums.CurrencyDCR},
		{OrderRef: "BW-2026-000116", Currency: enums.CurrencyLTC},
	}}
	registry := &fakeWatchRegistry{failRefs: map[string]error{
		"BW-2026-000115": errors.New("node unreachable"),
	}}
	job := newMonitorResumeJob(t, lister, registry, time.Now())

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected combined error")
	}
	if len(registry.watched) != 1 {
		t.Fatalf("expected the second row to still be watched, got %d", len(registry.watched))
	}
}

func TestMonitorResumePropagatesListError(t *testing.T) {
	lister := &fakeOpenPaymentLister{err: errors.New("db down")}
	registry := &fakeWatchRegistry{}
	job := newMonitorResumeJob(t, lister, registry, time.Now())

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(registry.watched) != 0 {
		t.Fatalf("expected no watch calls, got %d", len(registry.watched))
	}
}

func newMonitorResumeJob(t *testing.T, lister *fakeOpenPaymentLister, registry *fakeWatchRegistry, now time.Time) Job {
	t.Helper()
	job, err := NewMonitorResumeJob(MonitorResumeParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Payments: lister,
		Monitors: registry,
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewMonitorResumeJob: %v", err)
	}
	return job
}

type fakeOpenPaymentLister struct {
	rows       []payments.OpenPayment
	err        error
	asOf       time.Time
	currencies []enums.Currency
}

func (f *fakeOpenPaymentLister) ListOpenForWatch(ctx context.Context, currencies []enums.Currency, asOf time.Time, limit int) ([]payments.OpenPayment, error) {
	f.currencies = currencies
	f.asOf = asOf
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

type fakeWatchRegistry struct {
	watching map[string]bool
	failRefs map[string]error
	watched  []monitor.WatchTarget
}

func (f *fakeWatchRegistry) Watching(orderRef string) bool {
	return f.watching[orderRef]
}

func (f *fakeWatchRegistry) Watch(target monitor.WatchTarget) error {
	if err, ok := f.failRefs[target.OrderRef]; ok {
		return err
	}
	f.watched = append(f.watched, target)
	return nil
}
