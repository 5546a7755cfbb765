package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/blockwearhq/blockwear-backend/pkg/db/models"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

type providerClient interface {
	SubmitOrder(ctx context.Context, order models.Order) (string, error)
	CancelOrder(ctx context.Context, externalID string) error
}

// ServiceParams wires the fulfillment service.
type ServiceParams struct {
	Client     providerClient
	MaxRetries uint64
	Backoff    time.Duration
	Logger     *logger.Logger
}

// Service submits production orders with backoff on transient provider
// failures. The provider dedupes on order ref, so retries are safe.
type Service struct {
	client     providerClient
	maxRetries uint64
	backoff    time.Duration
	logg       *logger.Logger
}

// NewService validates the wiring.
func NewService(params ServiceParams) (*Service, error) {
	if params.Client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment client required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment logger required")
	}
	maxRetries := params.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	backoff := params.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Service{
		client:     params.Client,
		maxRetries: maxRetries,
		backoff:    backoff,
		logg:       params.Logger,
	}, nil
}

// CreateOrder submits the production order, retrying transient failures.
// Permanent provider rejections (validation, auth) surface immediately.
func (s *Service) CreateOrder(ctx context.Context, order models.Order) (string, error) {
	var ref string
	b := retry.WithMaxRetries(s.maxRetries, retry.NewFibonacci(s.backoff))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		got, err := s.client.SubmitOrder(ctx, order)
		if err != nil {
			if isTransient(err) {
				s.logg.Warn(ctx, fmt.Sprintf("fulfillment submit for %s failed, retrying: %v", order.OrderRef, err))
				return retry.RetryableError(err)
			}
			return err
		}
		ref = got
		return nil
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

// CancelOrder cancels a submitted production order. A single attempt:
// callers treat cancellation as best effort.
func (s *Service) CancelOrder(ctx context.Context, fulfillmentRef string) error {
	return s.client.CancelOrder(ctx, fulfillmentRef)
}

func isTransient(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	return typed.Code() == pkgerrors.CodeDependency
}
