package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

const cacheScope = "rates"

type cacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CacheKey(scope, id string) string
}

// ServiceParams wires the cached rate service.
type ServiceParams struct {
	Provider Provider
	Cache    cacheStore
	CacheTTL time.Duration
	Logger   *logger.Logger
}

// Service serves USD prices through a short-lived Redis cache so a burst of
// order creations does not hammer the public ticker API.
type Service struct {
	provider Provider
	cache    cacheStore
	ttl      time.Duration
	logg     *logger.Logger
}

// NewService validates the wiring.
func NewService(params ServiceParams) (*Service, error) {
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "rates provider required")
	}
	if params.Cache == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "rates cache required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "rates logger required")
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Service{
		provider: params.Provider,
		cache:    params.Cache,
		ttl:      ttl,
		logg:     params.Logger,
	}, nil
}

// GetCurrentPrice returns the cached USD price, falling back to the provider
// on a miss. Cache failures degrade to live quotes rather than erroring.
func (s *Service) GetCurrentPrice(ctx context.Context, currency enums.Currency) (decimal.Decimal, error) {
	key := s.cache.CacheKey(cacheScope, currency.String())

	cached, err := s.cache.Get(ctx, key)
	if err == nil {
		price, parseErr := decimal.NewFromString(cached)
		if parseErr == nil && price.IsPositive() {
			return price, nil
		}
		s.logg.Warn(ctx, fmt.Sprintf("discarding bad cached rate %q for %s", cached, currency))
	} else if !errors.Is(err, goredis.Nil) {
		s.logg.Warn(ctx, fmt.Sprintf("rate cache read failed for %s: %v", currency, err))
	}

	price, err := s.provider.GetCurrentPrice(ctx, currency)
	if err != nil {
		return decimal.Zero, err
	}

	if err := s.cache.Set(ctx, key, price.String(), s.ttl); err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("rate cache write failed for %s: %v", currency, err))
	}
	return price, nil
}
