package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/blockwearhq/blockwear-backend/internal/monitor"
	"github.com/blockwearhq/blockwear-backend/pkg/btcpay"
	"github.com/blockwearhq/blockwear-backend/pkg/coinbase"
	"github.com/blockwearhq/blockwear-backend/pkg/config"
	"github.com/blockwearhq/blockwear-backend/pkg/db"
	"github.com/blockwearhq/blockwear-backend/pkg/db/models"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
	"github.com/blockwearhq/blockwear-backend/pkg/outbox"
	"github.com/blockwearhq/blockwear-backend/pkg/outbox/payloads"
	"github.com/blockwearhq/blockwear-backend/pkg/pagination"
	"github.com/blockwearhq/blockwear-backend/pkg/wallet"
	"github.com/blockwearhq/blockwear-backend/pkg/walletrpc"
)

// cryptoScale is the stored precision of crypto amounts, matching the
// numeric(20,8) columns.
const cryptoScale = 8

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type rateSource interface {
	GetCurrentPrice(ctx context.Context, currency enums.Currency) (decimal.Decimal, error)
}

type walletSource interface {
	ForCurrency(currency enums.Currency) (walletrpc.Client, error)
}

type invoiceClient interface {
	CreateInvoice(ctx context.Context, params btcpay.CreateInvoiceParams) (*btcpay.Invoice, error)
}

type chargeClient interface {
	CreateCharge(ctx context.Context, params coinbase.CreateChargeParams) (*coinbase.Charge, error)
}

type monitorStarter interface {
	Watch(target monitor.WatchTarget) error
}

// Service is the order intake and read surface. Lifecycle transitions after
// creation belong to the payments service; nothing here mutates an existing
// order.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*OrderSnapshot, error)
	GetByRef(ctx context.Context, orderRef string) (*OrderSnapshot, error)
	List(ctx context.Context, params pagination.Params, filters OrderFilters) (*OrderList, error)
}

// ServiceParams wires the order service. Wallets, BTCPay and Coinbase are
// each optional so a deployment can run a subset of rails; creating an order
// for an unconfigured rail fails with a dependency error. Now and NewRef
// default to the real clock and the random reference generator.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Outbox   outboxPublisher
	Rates    rateSource
	Wallets  walletSource
	BTCPay   invoiceClient
	Coinbase chargeClient
	Monitors monitorStarter
	Payments config.PaymentsConfig
	Logger   *logger.Logger
	Now      func() time.Time
	NewRef   func(time.Time) (string, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	rates    rateSource
	wallets  walletSource
	btcpay   invoiceClient
	coinbase chargeClient
	monitors monitorStarter
	cfg      config.PaymentsConfig
	logg     *logger.Logger
	now      func() time.Time
	newRef   func(time.Time) (string, error)
}

// NewService validates the wiring and applies defaults.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Rates == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "rates service required")
	}
	if params.Monitors == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "monitor registry required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	newRef := params.NewRef
	if newRef == nil {
		newRef = newOrderRef
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		outbox:   params.Outbox,
		rates:    params.Rates,
		wallets:  params.Wallets,
		btcpay:   params.BTCPay,
		coinbase: params.Coinbase,
		monitors: params.Monitors,
		cfg:      params.Payments,
		logg:     params.Logger,
		now:      now,
		newRef:   newRef,
	}, nil
}

// paymentInstrument is what rail provisioning hands back: where the customer
// pays, and the provider-side reference for rails that have one.
type paymentInstrument struct {
	Address    string
	InvoiceRef *string
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*OrderSnapshot, error) {
	currency, err := enums.ParseCurrency(input.Currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency")
	}
	items, totalUSD, err := buildLineItems(input.Items)
	if err != nil {
		return nil, err
	}

	price, err := s.rates.GetCurrentPrice(ctx, currency)
	if err != nil {
		return nil, err
	}
	cryptoAmount := totalUSD.DivRound(price, cryptoScale)
	if !cryptoAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("order total %s USD is below the smallest payable %s amount", totalUSD.String(), currency))
	}

	// The order ref travels into hosted invoice metadata, so each insert
	// attempt provisions against a fresh candidate. A collision orphans at
	// most one provider invoice, which expires on its own.
	var order *models.Order
	for attempt := 0; attempt < refAttempts; attempt++ {
		now := s.now()
		ref, err := s.newRef(now)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order ref")
		}

		instrument, err := s.provision(ctx, currency, ref, cryptoAmount)
		if err != nil {
			return nil, err
		}

		order, err = s.persist(ctx, input, currency, ref, cryptoAmount, totalUSD, items, instrument, now)
		if err == nil {
			break
		}
		if db.IsUniqueViolation(err, "ux_orders_order_ref") {
			s.logg.Warn(ctx, fmt.Sprintf("order ref %s collided, retrying", ref))
			order = nil
			continue
		}
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "could not allocate a unique order ref")
	}

	if currency.Rail() == enums.RailWalletRPC {
		if err := s.monitors.Watch(monitor.WatchTarget{
			OrderRef:  order.OrderRef,
			Currency:  currency,
			Address:   order.PaymentAddress,
			ExpiresAt: order.Payment.ExpiresAt,
		}); err != nil {
			// The resume job picks up open payments without a watcher, so
			// a failed start degrades to delayed detection.
			s.logg.Warn(ctx, fmt.Sprintf("start monitor for %s: %v", order.OrderRef, err))
		}
	}

	ctx = s.logg.WithOrderRef(ctx, order.OrderRef)
	s.logg.Info(ctx, fmt.Sprintf("order created, awaiting %s %s", order.CryptoAmount.String(), currency))
	return buildSnapshot(order), nil
}

// provision obtains the payment instrument for the chosen rail: a fresh
// deposit address for wallet-backed currencies, or a hosted checkout for the
// invoice providers.
func (s *service) provision(ctx context.Context, currency enums.Currency, orderRef string, amount decimal.Decimal) (paymentInstrument, error) {
	switch currency.Rail() {
	case enums.RailWalletRPC:
		if s.wallets == nil {
			return paymentInstrument{}, pkgerrors.New(pkgerrors.CodeDependency, "no wallet backend configured")
		}
		client, err := s.wallets.ForCurrency(currency)
		if err != nil {
			return paymentInstrument{}, err
		}
		address, err := client.NewAddress(ctx)
		if err != nil {
			return paymentInstrument{}, err
		}
		if err := wallet.ValidateAddress(currency, address); err != nil {
			return paymentInstrument{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err,
				fmt.Sprintf("wallet returned an unusable %s address", currency))
		}
		return paymentInstrument{Address: address}, nil
	case enums.RailBTCPay:
		if s.btcpay == nil {
			return paymentInstrument{}, pkgerrors.New(pkgerrors.CodeDependency, "btcpay client not configured")
		}
		invoice, err := s.btcpay.CreateInvoice(ctx, btcpay.CreateInvoiceParams{
			OrderRef:          orderRef,
			Amount:            amount,
			Currency:          currency.String(),
			ExpirationMinutes: int(s.cfg.Window.Minutes()),
		})
		if err != nil {
			return paymentInstrument{}, err
		}
		invoiceRef := invoice.ID
		return paymentInstrument{Address: invoice.CheckoutLink, InvoiceRef: &invoiceRef}, nil
	case enums.RailCoinbase:
		if s.coinbase == nil {
			return paymentInstrument{}, pkgerrors.New(pkgerrors.CodeDependency, "coinbase client not configured")
		}
		charge, err := s.coinbase.CreateCharge(ctx, coinbase.CreateChargeParams{
			Name:        "Blockwear order " + orderRef,
			Description: fmt.Sprintf("%s %s for order %s", amount.String(), currency, orderRef),
			OrderRef:    orderRef,
			Amount:      amount,
			Currency:    currency.String(),
		})
		if err != nil {
			return paymentInstrument{}, err
		}
		chargeCode := charge.Code
		return paymentInstrument{Address: charge.HostedURL, InvoiceRef: &chargeCode}, nil
	default:
		return paymentInstrument{}, pkgerrors.New(pkgerrors.CodeInternal,
			fmt.Sprintf("no payment rail for currency %s", currency))
	}
}

// persist writes the order, its payment record and the pending notification
// in one transaction, then reloads the full row.
func (s *service) persist(
	ctx context.Context,
	input CreateOrderInput,
	currency enums.Currency,
	ref string,
	cryptoAmount, totalUSD decimal.Decimal,
	items []models.OrderLineItem,
	instrument paymentInstrument,
	now time.Time,
) (*models.Order, error) {
	expiresAt := now.Add(s.cfg.Window)

	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order := &models.Order{
			OrderRef:       ref,
			CustomerName:   input.CustomerName,
			CustomerEmail:  input.CustomerEmail,
			ShipLine1:      input.Shipping.Line1,
			ShipLine2:      input.Shipping.Line2,
			ShipCity:       input.Shipping.City,
			ShipRegion:     input.Shipping.Region,
			ShipPostalCode: input.Shipping.PostalCode,
			ShipCountry:    input.Shipping.Country,
			TotalUSD:       totalUSD,
			Currency:       currency,
			CryptoAmount:   cryptoAmount,
			PaymentAddress: instrument.Address,
			PaymentStatus:  enums.PaymentStatusPending,
			OrderStatus:    enums.OrderStatusPendingPayment,
			Items:          items,
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			return err
		}

		payment := &models.Payment{
			OrderID:        order.ID,
			Currency:       currency,
			Address:        instrument.Address,
			AmountExpected: cryptoAmount,
			InvoiceRef:     instrument.InvoiceRef,
			ExpiresAt:      expiresAt,
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return err
		}
		order.Payment = payment

		event := outbox.DomainEvent{
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateNotification,
			AggregateID:   payloads.NotificationAggregateID(order.ID, enums.NotificationPaymentPending),
			Version:       1,
			Data: payloads.NotificationRequestedEvent{
				OrderID:  order.ID,
				OrderRef: order.OrderRef,
				Kind:     enums.NotificationPaymentPending,
				Email:    order.CustomerEmail,
				Data: map[string]any{
					"currency":        currency.String(),
					"amount_expected": cryptoAmount.String(),
					"payment_address": instrument.Address,
					"expires_at":      expiresAt,
				},
			},
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment pending notification")
		}

		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) GetByRef(ctx context.Context, orderRef string) (*OrderSnapshot, error) {
	if orderRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order ref required")
	}
	order, err := s.repo.FindByRef(ctx, orderRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return buildSnapshot(order), nil
}

func (s *service) List(ctx context.Context, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, next, err := s.repo.List(ctx, listOrdersParams{
		Limit:   params.Limit,
		Cursor:  cursor,
		Filters: filters,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	list := &OrderList{Orders: make([]AdminOrderSummary, 0, len(rows))}
	for _, row := range rows {
		list.Orders = append(list.Orders, buildSummary(row))
	}
	if next != nil {
		list.NextCursor = pagination.EncodeCursor(*next)
	}
	return list, nil
}

// buildLineItems validates the submitted items and snapshots them as order
// rows, returning the order total.
func buildLineItems(inputs []LineItemInput) ([]models.OrderLineItem, decimal.Decimal, error) {
	if len(inputs) == 0 {
		return nil, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}

	items := make([]models.OrderLineItem, 0, len(inputs))
	total := decimal.Zero
	for i, input := range inputs {
		if input.ProductRef == "" {
			return nil, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: product ref required", i))
		}
		if input.Name == "" {
			return nil, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: name required", i))
		}
		if input.Qty < 1 {
			return nil, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: quantity must be at least 1", i))
		}
		if !input.UnitPriceUSD.IsPositive() {
			return nil, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: unit price must be positive", i))
		}
		lineTotal := input.UnitPriceUSD.Mul(decimal.NewFromInt(int64(input.Qty)))
		items = append(items, models.OrderLineItem{
			ProductRef:   input.ProductRef,
			VariantRef:   input.VariantRef,
			Name:         input.Name,
			Qty:          input.Qty,
			UnitPriceUSD: input.UnitPriceUSD,
			TotalUSD:     lineTotal,
		})
		total = total.Add(lineTotal)
	}
	if !total.IsPositive() {
		return nil, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}
	return items, total, nil
}
