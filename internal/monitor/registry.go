package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blockwearhq/blockwear-backend/internal/payments"
	"github.com/blockwearhq/blockwear-backend/pkg/config"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
	"github.com/blockwearhq/blockwear-backend/pkg/metrics"
	"github.com/blockwearhq/blockwear-backend/pkg/walletrpc"
)

// WalletSource resolves the wallet RPC client for a currency.
type WalletSource interface {
	ForCurrency(currency enums.Currency) (walletrpc.Client, error)
}

// Receiver accepts the observations the pollers produce. The dispatcher
// implements it; pollers never call the lifecycle manager directly.
type Receiver interface {
	Submit(ctx context.Context, obs payments.Observation)
}

// WatchTarget identifies one address to poll and the deadline after which a
// single expired observation is emitted.
type WatchTarget struct {
	OrderRef  string
	Currency  enums.Currency
	Address   string
	ExpiresAt time.Time
}

type watcher struct {
	cancel context.CancelFunc
}

// Registry keeps at most one polling goroutine per order. Watch on an order
// that already has a watcher cancels the old one before starting the new
// one; Stop cancels and forgets. Watchers outlive the request that started
// them and are torn down together by Close.
type Registry struct {
	wallets WalletSource
	sink    Receiver
	logg    *logger.Logger
	metrics *metrics.PaymentMetrics
	cfg     config.PaymentsConfig
	now     func() time.Time

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu       sync.Mutex
	watchers map[string]*watcher
	wg       sync.WaitGroup
}

// RegistryParams wires the monitor registry. Now is optional and defaults to
// time.Now.
type RegistryParams struct {
	Wallets WalletSource
	Sink    Receiver
	Logger  *logger.Logger
	Metrics *metrics.PaymentMetrics
	Config  config.PaymentsConfig
	Now     func() time.Time
}

// NewRegistry builds the registry with the required dependencies.
func NewRegistry(params RegistryParams) (*Registry, error) {
	if params.Wallets == nil {
		return nil, fmt.Errorf("wallet source required")
	}
	if params.Sink == nil {
		return nil, fmt.Errorf("observation receiver required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	baseCtx, cancelAll := context.WithCancel(context.Background())
	return &Registry{
		wallets:   params.Wallets,
		sink:      params.Sink,
		logg:      params.Logger,
		metrics:   params.Metrics,
		cfg:       params.Config,
		now:       now,
		baseCtx:   baseCtx,
		cancelAll: cancelAll,
		watchers:  make(map[string]*watcher),
	}, nil
}

// Watch starts polling the target's address. Only wallet RPC currencies are
// pollable; hosted invoice rails report through webhooks instead.
func (r *Registry) Watch(target WatchTarget) error {
	if target.OrderRef == "" {
		return fmt.Errorf("order ref required")
	}
	if target.Currency.Rail() != enums.RailWalletRPC {
		return fmt.Errorf("currency %s is not polled; its provider reports via webhook", target.Currency)
	}
	client, err := r.wallets.ForCurrency(target.Currency)
	if err != nil {
		return err
	}

	pollCtx, cancel := context.WithCancel(r.baseCtx)
	w := &watcher{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.watchers[target.OrderRef]; ok {
		prev.cancel()
	}
	r.watchers[target.OrderRef] = w
	count := len(r.watchers)
	r.mu.Unlock()
	r.metrics.SetActiveMonitors(count)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.forget(target.OrderRef, w)
		r.poll(pollCtx, client, target)
	}()
	return nil
}

// Stop cancels the watcher for an order, if any. Safe to call for orders
// that were never watched or already stopped.
func (r *Registry) Stop(orderRef string) {
	r.mu.Lock()
	w, ok := r.watchers[orderRef]
	if ok {
		w.cancel()
		delete(r.watchers, orderRef)
	}
	count := len(r.watchers)
	r.mu.Unlock()
	if ok {
		r.metrics.SetActiveMonitors(count)
	}
}

// Active reports the number of running watchers.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

// Watching reports whether an order currently has a watcher.
func (r *Registry) Watching(orderRef string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watchers[orderRef]
	return ok
}

// Close cancels every watcher and waits for the polling goroutines to exit.
func (r *Registry) Close() {
	r.cancelAll()
	r.wg.Wait()
}

// forget removes the registry entry when the poller exits on its own, unless
// a replacement watcher already took the slot.
func (r *Registry) forget(orderRef string, w *watcher) {
	r.mu.Lock()
	if current, ok := r.watchers[orderRef]; ok && current == w {
		delete(r.watchers, orderRef)
	}
	count := len(r.watchers)
	r.mu.Unlock()
	r.metrics.SetActiveMonitors(count)
}

// poll drives one address watch: query on a fixed interval, emit exactly one
// expired observation when the deadline passes. The poller never decides
// when it is finished on success; the lifecycle manager stops it once the
// payment settles.
func (r *Registry) poll(ctx context.Context, client walletrpc.Client, target WatchTarget) {
	logCtx := r.logg.WithOrderRef(context.Background(), target.OrderRef)
	logCtx = r.logg.WithSource(logCtx, enums.SourcePoll.String())

	deadline := time.NewTimer(target.ExpiresAt.Sub(r.now()))
	defer deadline.Stop()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logg.Info(logCtx, fmt.Sprintf("watching %s address %s", target.Currency, target.Address))
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			r.sink.Submit(ctx, payments.Observation{
				OrderRef: target.OrderRef,
				Status:   enums.ObservationExpired,
				Source:   enums.SourcePoll,
			})
			return
		case <-ticker.C:
			obs, ok := r.check(ctx, logCtx, client, target)
			if !ok {
				continue
			}
			r.sink.Submit(ctx, obs)
		}
	}
}

// check queries the wallet twice: once at the required confirmation depth,
// once at depth zero. Transient RPC failures are logged and retried on the
// next tick; they never turn into an expired signal.
func (r *Registry) check(ctx context.Context, logCtx context.Context, client walletrpc.Client, target WatchTarget) (payments.Observation, bool) {
	confirmed, err := client.Received(ctx, target.Address, r.cfg.MinConfirmations)
	if err != nil {
		r.logg.Warn(logCtx, fmt.Sprintf("wallet query failed, retrying next tick: %v", err))
		return payments.Observation{}, false
	}
	if confirmed.IsPositive() {
		minConf := r.cfg.MinConfirmations
		return payments.Observation{
			OrderRef:       target.OrderRef,
			Status:         enums.ObservationConfirmed,
			AmountReceived: &confirmed,
			Confirmations:  &minConf,
			Source:         enums.SourcePoll,
		}, true
	}

	total, err := client.Received(ctx, target.Address, 0)
	if err != nil {
		r.logg.Warn(logCtx, fmt.Sprintf("wallet query failed, retrying next tick: %v", err))
		return payments.Observation{}, false
	}
	if !total.IsPositive() {
		return payments.Observation{}, false
	}
	return payments.Observation{
		OrderRef:       target.OrderRef,
		Status:         enums.ObservationConfirming,
		AmountReceived: &total,
		Source:         enums.SourcePoll,
	}, true
}
