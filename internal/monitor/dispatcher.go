package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/blockwearhq/blockwear-backend/internal/payments"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

const (
	defaultBuffer  = 256
	defaultWorkers = 4
)

// Dispatcher owns the observation channel between the pollers and the
// lifecycle manager. Pollers produce into the buffer; a small worker pool
// consumes and applies. Keeping the channel here means no poller ever holds
// a reference into the lifecycle.
type Dispatcher struct {
	ch        chan payments.Observation
	lifecycle payments.Service
	logg      *logger.Logger
	workers   int
}

// NewDispatcher builds a dispatcher. Non-positive buffer or workers fall
// back to the defaults.
func NewDispatcher(lifecycle payments.Service, logg *logger.Logger, buffer, workers int) (*Dispatcher, error) {
	if lifecycle == nil {
		return nil, fmt.Errorf("lifecycle service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Dispatcher{
		ch:        make(chan payments.Observation, buffer),
		lifecycle: lifecycle,
		logg:      logg,
		workers:   workers,
	}, nil
}

// Submit queues an observation for application. It blocks while the buffer
// is full and gives up when the caller's context ends.
func (d *Dispatcher) Submit(ctx context.Context, obs payments.Observation) {
	select {
	case d.ch <- obs:
	case <-ctx.Done():
		d.logg.Warn(ctx, fmt.Sprintf("observation for %s dropped on shutdown", obs.OrderRef))
	}
}

// Run consumes observations until the context ends. Application errors are
// logged and swallowed; the next observation or the expiry sweep repairs
// whatever a failed application left behind.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case obs := <-d.ch:
					if err := d.lifecycle.ApplyObservation(ctx, obs); err != nil {
						d.logg.Error(ctx, "apply observation failed", err)
					}
				}
			}
		}()
	}
	wg.Wait()
}
