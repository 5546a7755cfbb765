package btcpaywebhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/blockwearhq/blockwear-backend/internal/payments"
	"github.com/blockwearhq/blockwear-backend/pkg/btcpay"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

type invoiceFetcher interface {
	GetInvoice(ctx context.Context, invoiceID string) (*btcpay.Invoice, error)
	GetPaymentMethods(ctx context.Context, invoiceID string) ([]btcpay.PaymentMethod, error)
}

type lifecycleService interface {
	ApplyObservation(ctx context.Context, obs payments.Observation) error
}

// ServiceParams wires the BTCPay webhook processor.
type ServiceParams struct {
	Invoices  invoiceFetcher
	Lifecycle lifecycleService
	Logger    *logger.Logger
}

// Service turns BTCPay invoice events into payment observations. The inbound
// payload only names the invoice; the authoritative status and amounts are
// fetched back from the provider before anything is applied.
type Service struct {
	invoices  invoiceFetcher
	lifecycle lifecycleService
	logg      *logger.Logger
}

// NewService validates the wiring.
func NewService(params ServiceParams) (*Service, error) {
	if params.Invoices == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "invoice fetcher required")
	}
	if params.Lifecycle == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lifecycle service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		invoices:  params.Invoices,
		lifecycle: params.Lifecycle,
		logg:      params.Logger,
	}, nil
}

// Event is the BTCPay webhook delivery body.
type Event struct {
	DeliveryID string `json:"deliveryId"`
	WebhookID  string `json:"webhookId"`
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`
	StoreID    string `json:"storeId"`
	InvoiceID  string `json:"invoiceId"`
}

// HandleEvent processes one BTCPay invoice event.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "btcpay event required")
	}

	switch strings.ToLower(event.Type) {
	case "invoicecreated":
		// Nothing observed yet; the customer just opened the checkout.
		return nil
	case "invoicereceivedpayment",
		"invoiceprocessing",
		"invoicepaymentsettled",
		"invoicesettled",
		"invoiceexpired",
		"invoiceinvalid":
		if event.InvoiceID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "invoice id missing")
		}
		return s.applyInvoice(ctx, event.InvoiceID)
	default:
		return nil
	}
}

// applyInvoice fetches the invoice and maps its status onto an observation.
// The event type is deliberately ignored beyond routing: redeliveries and
// out-of-order deliveries all converge on the invoice's current state.
func (s *Service) applyInvoice(ctx context.Context, invoiceID string) error {
	invoice, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}

	orderRef := invoice.Metadata["orderRef"]
	if orderRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("invoice %s carries no order ref", invoiceID))
	}
	ctx = s.logg.WithOrderRef(ctx, orderRef)

	obs := payments.Observation{
		OrderRef: orderRef,
		Source:   enums.SourceBTCPay,
	}
	switch invoice.Status {
	case btcpay.InvoiceNew:
		// Awaiting first payment; a receivedPayment event on a New invoice
		// still reports the partial below if anything landed.
		obs.Status = enums.ObservationConfirming
	case btcpay.InvoiceProcessing:
		obs.Status = enums.ObservationConfirming
	case btcpay.InvoiceSettled:
		obs.Status = enums.ObservationConfirmed
	case btcpay.InvoiceExpired, btcpay.InvoiceInvalid:
		obs.Status = enums.ObservationExpired
	default:
		s.logg.Warn(ctx, fmt.Sprintf("unknown btcpay invoice status %q", invoice.Status))
		return nil
	}

	if obs.Status != enums.ObservationExpired {
		s.attachAmounts(ctx, invoiceID, &obs)
		if obs.Status == enums.ObservationConfirming && obs.AmountReceived == nil {
			// New invoice with nothing received: nothing to observe.
			return nil
		}
	}

	return s.lifecycle.ApplyObservation(ctx, obs)
}

// attachAmounts decorates the observation with the paid total and the latest
// payment id. A failed breakdown fetch degrades to an amountless
// observation; a settled invoice is trusted as sufficient either way.
func (s *Service) attachAmounts(ctx context.Context, invoiceID string, obs *payments.Observation) {
	methods, err := s.invoices.GetPaymentMethods(ctx, invoiceID)
	if err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("payment breakdown unavailable for invoice %s: %v", invoiceID, err))
		return
	}
	received := btcpay.TotalReceived(methods)
	if received.IsPositive() {
		obs.AmountReceived = &received
	}
	if latest := btcpay.LatestPayment(methods); latest != nil && latest.ID != "" {
		id := latest.ID
		obs.TxHash = &id
	}
}
