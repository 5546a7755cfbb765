package coinbasewebhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/blockwearhq/blockwear-backend/internal/payments"
	"github.com/blockwearhq/blockwear-backend/pkg/coinbase"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

type chargeFetcher interface {
	GetCharge(ctx context.Context, code string) (*coinbase.Charge, error)
}

type lifecycleService interface {
	ApplyObservation(ctx context.Context, obs payments.Observation) error
}

// ServiceParams wires the Coinbase Commerce webhook processor.
type ServiceParams struct {
	Charges   chargeFetcher
	Lifecycle lifecycleService
	Logger    *logger.Logger
}

// Service turns Commerce charge events into payment observations, fetching
// the authoritative charge before applying anything.
type Service struct {
	charges   chargeFetcher
	lifecycle lifecycleService
	logg      *logger.Logger
}

// NewService validates the wiring.
func NewService(params ServiceParams) (*Service, error) {
	if params.Charges == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "charge fetcher required")
	}
	if params.Lifecycle == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lifecycle service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		charges:   params.Charges,
		lifecycle: params.Lifecycle,
		logg:      params.Logger,
	}, nil
}

// Envelope is the Commerce webhook delivery body.
type Envelope struct {
	ID    int64 `json:"id"`
	Event Event `json:"event"`
}

// Event is the charge event inside a delivery.
type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data coinbase.Charge `json:"data"`
}

// HandleEvent processes one Commerce charge event.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "coinbase event required")
	}

	switch strings.ToLower(event.Type) {
	case "charge:created":
		return nil
	case "charge:pending", "charge:confirmed", "charge:failed", "charge:delayed", "charge:resolved":
		if event.Data.Code == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "charge code missing")
		}
		return s.applyCharge(ctx, event.Data.Code)
	default:
		return nil
	}
}

// applyCharge fetches the charge and maps its current timeline entry onto an
// observation. Amounts come from the payments array, not the event payload.
func (s *Service) applyCharge(ctx context.Context, code string) error {
	charge, err := s.charges.GetCharge(ctx, code)
	if err != nil {
		return err
	}

	orderRef := charge.Metadata["orderRef"]
	if orderRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("charge %s carries no order ref", code))
	}
	ctx = s.logg.WithOrderRef(ctx, orderRef)

	obs := payments.Observation{
		OrderRef: orderRef,
		Source:   enums.SourceCoinbase,
	}
	status, reason := charge.CurrentStatus()
	switch status {
	case coinbase.ChargeNew:
		return nil
	case coinbase.ChargePending:
		obs.Status = enums.ObservationConfirming
	case coinbase.ChargeCompleted, coinbase.ChargeResolved:
		obs.Status = enums.ObservationConfirmed
	case coinbase.ChargeUnresolved:
		// Underpaid, overpaid, or delayed: the chain amounts are final, the
		// reconciler's tolerance band decides what they mean.
		obs.Status = enums.ObservationConfirmed
		s.logg.Info(ctx, fmt.Sprintf("charge %s unresolved (%s), applying settled amounts", code, reason))
	case coinbase.ChargeExpired, coinbase.ChargeCanceled:
		obs.Status = enums.ObservationExpired
	default:
		s.logg.Warn(ctx, fmt.Sprintf("unknown coinbase charge status %q", status))
		return nil
	}

	if obs.Status != enums.ObservationExpired {
		// This rail settles ETH charges; the payments array can also carry
		// unrelated test currencies which must not pollute the total.
		paid := charge.PaidTotal(enums.CurrencyETH.String())
		if paid.IsPositive() {
			obs.AmountReceived = &paid
		}
		obs.TxHash = charge.LatestTransactionID()
		if depth := charge.MaxConfirmations(); depth > 0 {
			obs.Confirmations = &depth
		}
		if obs.Status == enums.ObservationConfirming && obs.AmountReceived == nil {
			return nil
		}
	}

	return s.lifecycle.ApplyObservation(ctx, obs)
}
