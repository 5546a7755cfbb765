package monitor

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/internal/payments"
	"github.com/blockwearhq/blockwear-backend/pkg/config"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
	"github.com/blockwearhq/blockwear-backend/pkg/walletrpc"
)

type fakeWalletClient struct {
	receivedFn func(address string, minConf int) (decimal.Decimal, error)
}

func (f *fakeWalletClient) NewAddress(ctx context.Context) (string, error) {
	panic("not implemented")
}

func (f *fakeWalletClient) Received(ctx context.Context, address string, minConf int) (decimal.Decimal, error) {
	return f.receivedFn(address, minConf)
}

type fakeWalletSource struct {
	client walletrpc.Client
	err    error
}

func (s *fakeWalletSource) ForCurrency(currency enums.Currency) (walletrpc.Client, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.client, nil
}

type recordingSink struct {
	mu     sync.Mutex
	all    []payments.Observation
	notify chan payments.Observation
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan payments.Observation, 32)}
}

func (s *recordingSink) Submit(ctx context.Context, obs payments.Observation) {
	s.mu.Lock()
	s.all = append(s.all, obs)
	s.mu.Unlock()
	select {
	case s.notify <- obs:
	default:
	}
}

func (s *recordingSink) wait(t *testing.T, timeout time.Duration) payments.Observation {
	t.Helper()
	select {
	case obs := <-s.notify:
		return obs
	case <-time.After(timeout):
		t.Fatal("timed out waiting for observation")
		return payments.Observation{}
	}
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.all)
}

func testRegistry(t *testing.T, source WalletSource, sink Receiver, cfg config.PaymentsConfig) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryParams{
		Wallets: source,
		Sink:    sink,
		Logger:  logger.New(logger.Options{ServiceName: "monitor-test", Output: io.Discard}),
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestWatchEmitsConfirmedObservation(t *testing.T) {
	client := &fakeWalletClient{
		receivedFn: func(address string, minConf int) (decimal.Decimal, error) {
			if address != "DsmcYVbP1Nmag2H4AS17UTvmWXmGeA7nLDx" {
				t.Errorf("unexpected address %s", address)
			}
			return decimal.RequireFromString("5.0"), nil
		},
	}
	sink := newRecordingSink()
	r := testRegistry(t, &fakeWalletSource{client: client}, sink, config.PaymentsConfig{
		PollInterval:     5 * time.Millisecond,
		MinConfirmations: 2,
	})
	defer r.Close()

	err := r.Watch(WatchTarget{
		OrderRef:  "BW-2026-000123",
		Currency:  enums.CurrencyDCR,
		Address:   "DsmcYVbP1Nmag2H4AS17UTvmWXmGeA7nLDx",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	obs := sink.wait(t, time.Second)
	if obs.Status != enums.ObservationConfirmed {
		t.Fatalf("expected confirmed, got %s", obs.Status)
	}
	if obs.OrderRef != "BW-2026-000123" || obs.Source != enums.SourcePoll {
		t.Fatalf("unexpected observation %+v", obs)
	}
	if obs.AmountReceived == nil || !obs.AmountReceived.Equal(decimal.RequireFromString("5.0")) {
		t.Fatalf("unexpected amount %v", obs.AmountReceived)
	}
	if obs.Confirmations == nil || *obs.Confirmations != 2 {
		t.Fatalf("unexpected confirmations %v", obs.Confirmations)
	}
}

func TestWatchReportsConfirmingBelowDepth(t *testing.T) {
	client := &fakeWalletClient{
		receivedFn: func(address string, minConf int) (decimal.Decimal, error) {
			if minConf > 0 {
				return decimal.Zero, nil
			}
			return decimal.RequireFromString("2.5"), nil
		},
	}
	sink := newRecordingSink()
	r := testRegistry(t, &fakeWalletSource{client: client}, sink, config.PaymentsConfig{
		PollInterval:     5 * time.Millisecond,
		MinConfirmations: 2,
	})
	defer r.Close()

	if err := r.Watch(WatchTarget{
		OrderRef:  "BW-2026-000124",
		Currency:  enums.CurrencyLTC,
		Address:   "ltc1qsh2fnza3z2v9e4jcl5wjpcrzpxjmh7rg6ayu9q",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	obs := sink.wait(t, time.Second)
	if obs.Status != enums.ObservationConfirming {
		t.Fatalf("expected confirming, got %s", obs.Status)
	}
	if obs.Confirmations != nil {
		t.Fatalf("confirming observations carry no depth, got %v", *obs.Confirmations)
	}
	if obs.AmountReceived == nil || !obs.AmountReceived.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("unexpected amount %v", obs.AmountReceived)
	}
}

func TestDeadlineEmitsExpiredExactlyOnce(t *testing.T) {
	client := &fakeWalletClient{
		receivedFn: func(address string, minConf int) (decimal.Decimal, error) {
			return decimal.Zero, nil
		},
	}
	sink := newRecordingSink()
	r := testRegistry(t, &fakeWalletSource{client: client}, sink, config.PaymentsConfig{
		PollInterval:     time.Hour,
		MinConfirmations: 2,
	})
	defer r.Close()

	if err := r.Watch(WatchTarget{
		OrderRef:  "BW-2026-000125",
		Currency:  enums.CurrencyDCR,
		Address:   "DsmcYVbP1Nmag2H4AS17UTvmWXmGeA7nLDx",
		ExpiresAt: time.Now().Add(-time.Second),
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	obs := sink.wait(t, time.Second)
	if obs.Status != enums.ObservationExpired {
		t.Fatalf("expected expired, got %s", obs.Status)
	}

	// The poller exits after the expired emission and unregisters itself.
	deadline := time.Now().Add(time.Second)
	for r.Watching("BW-2026-000125") {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not exit after expiry")
		}
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := sink.count(); got != 1 {
		t.Fatalf("expected exactly one observation, got %d", got)
	}
}

func TestTransientErrorsRetryNextTick(t *testing.T) {
	var calls atomic.Int64
	client := &fakeWalletClient{
		receivedFn: func(address string, minConf int) (decimal.Decimal, error) {
			if calls.Add(1) <= 2 {
				return decimal.Zero, errors.New("connection refused")
			}
			return decimal.RequireFromString("5.0"), nil
		},
	}
	sink := newRecordingSink()
	r := testRegistry(t, &fakeWalletSource{client: client}, sink, config.PaymentsConfig{
		PollInterval:     5 * time.Millisecond,
		MinConfirmations: 2,
	})
	defer r.Close()

	if err := r.Watch(WatchTarget{
		OrderRef:  "BW-2026-000126",
		Currency:  enums.CurrencyDCR,
		Address:   "DsmcYVbP1Nmag2H4AS17UTvmWXmGeA7nLDx",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	obs := sink.wait(t, time.Second)
	if obs.Status != enums.ObservationConfirmed {
		t.Fatalf("expected confirmed after retries, got %s", obs.Status)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 wallet calls, got %d", calls.Load())
	}
}

func TestWatchReplacesExistingWatcher(t *testing.T) {
	client := &fakeWalletClient{
		receivedFn: func(address string, minConf int) (decimal.Decimal, error) {
			return decimal.Zero, nil
		},
	}
	sink := newRecordingSink()
	r := testRegistry(t, &fakeWalletSource{client: client}, sink, config.PaymentsConfig{
		PollInterval:     time.Hour,
		MinConfirmations: 2,
	})
	defer r.Close()

	target := WatchTarget{
		OrderRef:  "BW-2026-000127",
		Currency:  enums.CurrencyDCR,
		Address:   "DsmcYVbP1Nmag2H4AS17UTvmWXmGeA7nLDx",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := r.Watch(target); err != nil {
		t.Fatalf("first Watch: %v", err)
	}
	if err := r.Watch(target); err != nil {
		t.Fatalf("second Watch: %v", err)
	}
	if got := r.Active(); got != 1 {
		t.Fatalf("expected a single watcher after restart, got %d", got)
	}

	r.Stop(target.OrderRef)
	if r.Watching(target.OrderRef) {
		t.Fatal("expected watcher gone after Stop")
	}
	// Stopping an unknown order is a no-op.
	r.Stop("BW-2026-999999")
}

func TestWatchRejectsHostedRails(t *testing.T) {
	sink := newRecordingSink()
	r := testRegistry(t, &fakeWalletSource{client: &fakeWalletClient{}}, sink, config.PaymentsConfig{
		PollInterval:     time.Hour,
		MinConfirmations: 2,
	})
	defer r.Close()

	err := r.Watch(WatchTarget{
		OrderRef:  "BW-2026-000128",
		Currency:  enums.CurrencyBTC,
		Address:   "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err == nil {
		t.Fatal("expected error for hosted rail")
	}

	if err := r.Watch(WatchTarget{Currency: enums.CurrencyDCR}); err == nil {
		t.Fatal("expected error for missing order ref")
	}
}

func TestWatchSurfacesMissingWallet(t *testing.T) {
	sink := newRecordingSink()
	r := testRegistry(t, &fakeWalletSource{err: errors.New("no wallet for DCR")}, sink, config.PaymentsConfig{
		PollInterval:     time.Hour,
		MinConfirmations: 2,
	})
	defer r.Close()

	err := r.Watch(WatchTarget{
		OrderRef:  "BW-2026-000129",
		Currency:  enums.CurrencyDCR,
		Address:   "DsmcYVbP1Nmag2H4AS17UTvmWXmGeA7nLDx",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err == nil {
		t.Fatal("expected error when wallet source fails")
	}
	if r.Active() != 0 {
		t.Fatalf("expected no watchers, got %d", r.Active())
	}
}
