package fulfillmentwebhook

import (
	"context"
	"strings"

	"github.com/blockwearhq/blockwear-backend/internal/payments"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

type lifecycleService interface {
	RecordShipment(ctx context.Context, fulfillmentRef string, shipment payments.Shipment) error
	RecordFulfillmentFailure(ctx context.Context, fulfillmentRef, reason string) error
}

// ServiceParams wires the fulfillment webhook processor.
type ServiceParams struct {
	Lifecycle lifecycleService
	Logger    *logger.Logger
}

// Service maps print-on-demand provider events onto order transitions.
// Unlike the payment webhooks there is nothing to fetch back: the event
// carries the tracking data, and the lifecycle manager's state gates make
// redeliveries harmless.
type Service struct {
	lifecycle lifecycleService
	logg      *logger.Logger
}

// NewService validates the wiring.
func NewService(params ServiceParams) (*Service, error) {
	if params.Lifecycle == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lifecycle service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{lifecycle: params.Lifecycle, logg: params.Logger}, nil
}

// Event is the provider's webhook delivery body. OrderID is the provider's
// production order id, our fulfillment ref.
type Event struct {
	EventID        string `json:"event_id"`
	Type           string `json:"type"`
	OrderID        string `json:"order_id"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// HandleEvent processes one provider event.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "fulfillment event required")
	}
	if strings.TrimSpace(event.OrderID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "fulfillment order id missing")
	}

	switch strings.ToLower(event.Type) {
	case "order.shipped":
		shipment := payments.Shipment{TrackingNumber: strings.TrimSpace(event.TrackingNumber)}
		if url := strings.TrimSpace(event.TrackingURL); url != "" {
			shipment.TrackingURL = &url
		}
		if carrier := strings.TrimSpace(event.Carrier); carrier != "" {
			shipment.Carrier = &carrier
		}
		return s.lifecycle.RecordShipment(ctx, event.OrderID, shipment)
	case "order.failed", "order.canceled", "order.cancelled":
		reason := strings.TrimSpace(event.Reason)
		if reason == "" {
			reason = "cancelled by fulfillment provider"
		}
		return s.lifecycle.RecordFulfillmentFailure(ctx, event.OrderID, reason)
	default:
		return nil
	}
}
