package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/blockwearhq/blockwear-backend/pkg/db/models"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
	"github.com/blockwearhq/blockwear-backend/pkg/metrics"
	"github.com/blockwearhq/blockwear-backend/pkg/outbox"
	"github.com/blockwearhq/blockwear-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// MonitorStopper halts the address watcher for an order once its payment
// reaches a state the watcher can no longer change.
type MonitorStopper interface {
	Stop(orderRef string)
}

// FulfillmentClient submits and cancels production orders with the
// print-on-demand provider.
type FulfillmentClient interface {
	CreateOrder(ctx context.Context, order models.Order) (string, error)
	CancelOrder(ctx context.Context, fulfillmentRef string) error
}

// Shipment carries the tracking fields from a provider shipped event.
type Shipment struct {
	TrackingNumber string
	TrackingURL    *string
	Carrier        *string
}

// Service drives every payment and order state change. All writes for one
// order are serialized through a keyed mutex and committed with conditional
// updates, so replayed observations and racing writers degrade to logged
// no-ops. The mutex is never held across provider calls.
type Service interface {
	ApplyObservation(ctx context.Context, obs Observation) error
	CancelOrder(ctx context.Context, orderRef, reason string, actor *outbox.ActorRef) error
	VerifyPayment(ctx context.Context, orderRef string, actor *outbox.ActorRef) error
	RetryFulfillment(ctx context.Context, orderRef string) error
	MarkDelivered(ctx context.Context, orderRef string) error
	RecordShipment(ctx context.Context, fulfillmentRef string, shipment Shipment) error
	RecordFulfillmentFailure(ctx context.Context, fulfillmentRef, reason string) error
}

// ServiceParams wires the lifecycle manager. Now is optional and defaults to
// time.Now.
type ServiceParams struct {
	Repo        Repository
	Tx          txRunner
	Outbox      outboxEmitter
	Monitors    MonitorStopper
	Fulfillment FulfillmentClient
	Logger      *logger.Logger
	Metrics     *metrics.PaymentMetrics
	Policy      Policy
	Now         func() time.Time
}

type service struct {
	repo        Repository
	tx          txRunner
	outbox      outboxEmitter
	monitors    MonitorStopper
	fulfillment FulfillmentClient
	logg        *logger.Logger
	metrics     *metrics.PaymentMetrics
	policy      Policy
	locks       *keyedMutex
	now         func() time.Time
}

// NewService builds the lifecycle manager with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Monitors == nil {
		return nil, fmt.Errorf("monitor registry required")
	}
	if params.Fulfillment == nil {
		return nil, fmt.Errorf("fulfillment client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:        params.Repo,
		tx:          params.Tx,
		outbox:      params.Outbox,
		monitors:    params.Monitors,
		fulfillment: params.Fulfillment,
		logg:        params.Logger,
		metrics:     params.Metrics,
		policy:      params.Policy,
		locks:       newKeyedMutex(),
		now:         now,
	}, nil
}

// ApplyObservation runs one observation through the reconciler and persists
// whatever it decides. Every payment backend funnels through here.
func (s *service) ApplyObservation(ctx context.Context, obs Observation) error {
	if obs.OrderRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order ref required")
	}
	if !obs.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid observation status %q", obs.Status))
	}

	ctx = s.logg.WithOrderRef(ctx, obs.OrderRef)
	ctx = s.logg.WithSource(ctx, obs.Source.String())

	unlock := s.locks.Lock(obs.OrderRef)
	order, applied, err := s.applyLocked(ctx, obs)
	unlock()
	if err != nil {
		return err
	}
	if applied.Apply {
		s.runEffects(ctx, order, applied)
	}
	return nil
}

// applyLocked is the read-decide-write sequence. It holds the order lock for
// the duration of the transaction and nothing else.
func (s *service) applyLocked(ctx context.Context, obs Observation) (models.Order, Transition, error) {
	var (
		order   models.Order
		applied Transition
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, payment, err := s.load(ctx, repo, obs.OrderRef)
		if err != nil {
			return err
		}
		order = *current

		t := Reconcile(*payment, *current, obs, s.policy)
		if !t.Apply {
			s.logg.Info(ctx, fmt.Sprintf("observation discarded: %s", t.NoopReason))
			s.metrics.IncObservation(obs.Source.String(), "discarded")
			applied = t
			return nil
		}

		won, err := s.persist(ctx, repo, *current, *payment, t)
		if err != nil {
			return err
		}
		if !won {
			s.logg.Warn(ctx, "payment changed underneath observation; discarding")
			s.metrics.IncObservation(obs.Source.String(), "lost_race")
			applied = noop("lost conditional update")
			return nil
		}

		if err := s.emitTransitionEvents(ctx, tx, *current, *payment, t, obs, nil); err != nil {
			return err
		}
		s.metrics.IncObservation(obs.Source.String(), "applied")
		s.metrics.IncTransition(current.PaymentStatus.String(), t.PaymentStatus.String())
		applied = t
		return nil
	})
	return order, applied, err
}

func (s *service) load(ctx context.Context, repo Repository, orderRef string) (*models.Order, *models.Payment, error) {
	order, err := repo.FindOrderByRef(ctx, orderRef)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	payment, err := repo.FindPaymentByOrderID(ctx, order.ID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return order, payment, nil
}

// persist writes the transition. The order row carries both status columns,
// so one conditional update on the prior payment_status settles the race;
// the payment row only ever changes after that update is won.
func (s *service) persist(ctx context.Context, repo Repository, order models.Order, payment models.Payment, t Transition) (bool, error) {
	now := s.now()

	orderUpdates := map[string]any{
		"payment_status": t.PaymentStatus,
		"order_status":   t.OrderStatus,
	}
	if t.OrderStatus != order.OrderStatus {
		switch t.OrderStatus {
		case enums.OrderStatusPaid:
			orderUpdates["paid_at"] = now
			if order.CancelledAt != nil {
				orderUpdates["cancelled_at"] = nil
			}
		case enums.OrderStatusCancelled:
			orderUpdates["cancelled_at"] = now
		}
	}
	won, err := repo.UpdateOrderIfPaymentStatus(ctx, order.ID, order.PaymentStatus, orderUpdates)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order statuses")
	}
	if !won {
		return false, nil
	}

	paymentUpdates := map[string]any{}
	if t.AmountReceived != nil {
		paymentUpdates["amount_received"] = *t.AmountReceived
	}
	if t.TxHash != nil {
		paymentUpdates["tx_hash"] = *t.TxHash
	}
	if t.Confirmations != nil {
		paymentUpdates["confirmations"] = *t.Confirmations
	}
	if t.MarkDetected && payment.DetectedAt == nil {
		paymentUpdates["detected_at"] = now
	}
	if t.MarkConfirmed && payment.ConfirmedAt == nil {
		paymentUpdates["confirmed_at"] = now
	}
	if len(paymentUpdates) > 0 {
		if err := repo.UpdatePayment(ctx, payment.ID, paymentUpdates); err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment")
		}
	}
	return true, nil
}

// emitTransitionEvents queues the outbox rows the transition asks for, inside
// the same transaction as the state change. EmitIfNotExists keys on event
// type and aggregate id, so replays of once-only events collapse.
func (s *service) emitTransitionEvents(ctx context.Context, tx *gorm.DB, order models.Order, payment models.Payment, t Transition, obs Observation, actor *outbox.ActorRef) error {
	received := payment.AmountReceived
	if t.AmountReceived != nil {
		received = t.AmountReceived
	}
	txHash := payment.TxHash
	if t.TxHash != nil {
		txHash = t.TxHash
	}
	confirmations := payment.Confirmations
	if t.Confirmations != nil {
		confirmations = *t.Confirmations
	}

	for _, effect := range t.Effects {
		switch effect {
		case EffectNotifyConfirmed:
			event := outbox.DomainEvent{
				EventType:     enums.EventPaymentConfirmed,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Actor:         actor,
				Data: payloads.PaymentConfirmedEvent{
					OrderID:        order.ID,
					OrderRef:       order.OrderRef,
					Currency:       payment.Currency,
					AmountExpected: payment.AmountExpected,
					AmountReceived: received,
					TxHash:         txHash,
					Confirmations:  confirmations,
					Status:         t.PaymentStatus,
					Source:         obs.Source,
				},
			}
			if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment confirmed")
			}
			data := map[string]any{"currency": payment.Currency.String()}
			if t.PaymentStatus == enums.PaymentStatusOverpaid {
				data["overpaid"] = true
			}
			if err := s.emitNotification(ctx, tx, order, enums.NotificationPaymentConfirmed, data, actor); err != nil {
				return err
			}
		case EffectNotifyExpired:
			event := outbox.DomainEvent{
				EventType:     enums.EventPaymentExpired,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Actor:         actor,
				Data: payloads.PaymentExpiredEvent{
					OrderID:        order.ID,
					OrderRef:       order.OrderRef,
					Currency:       payment.Currency,
					AmountExpected: payment.AmountExpected,
					AmountReceived: received,
					LastStatus:     order.PaymentStatus,
					ExpiredAt:      s.now(),
				},
			}
			if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment expired")
			}
			data := map[string]any{"currency": payment.Currency.String()}
			if received != nil {
				data["partial_amount"] = received.String()
			}
			if err := s.emitNotification(ctx, tx, order, enums.NotificationPaymentExpired, data, actor); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *service) emitNotification(ctx context.Context, tx *gorm.DB, order models.Order, kind enums.NotificationKind, data map[string]any, actor *outbox.ActorRef) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateNotification,
		AggregateID:   payloads.NotificationAggregateID(order.ID, kind),
		Version:       1,
		Actor:         actor,
		Data: payloads.NotificationRequestedEvent{
			OrderID:  order.ID,
			OrderRef: order.OrderRef,
			Kind:     kind,
			Email:    order.CustomerEmail,
			Data:     data,
		},
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("emit %s notification", kind))
	}
	return nil
}

// runEffects executes the non-notification side effects after the transaction
// commits and the order lock is released. Notify effects were already queued
// in-tx through the outbox.
func (s *service) runEffects(ctx context.Context, order models.Order, t Transition) {
	for _, effect := range t.Effects {
		switch effect {
		case EffectStopMonitor:
			s.monitors.Stop(order.OrderRef)
		case EffectCreateFulfillment:
			if err := s.createFulfillment(ctx, order.ID); err != nil {
				// The payment is already committed. The order stays paid
				// until a retry or the admin endpoint re-drives creation.
				s.logg.Error(ctx, "fulfillment creation failed", err)
			}
		}
	}
}

// createFulfillment submits the production order exactly once. It re-reads
// the order so crash recovery and replays gate on persisted state, and the
// NULL-guarded claim settles concurrent attempts.
func (s *service) createFulfillment(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order for fulfillment")
	}
	if order.FulfillmentRef != nil {
		return nil
	}
	if order.OrderStatus != enums.OrderStatusPaid {
		s.logg.Warn(ctx, fmt.Sprintf("skipping fulfillment for order in %s", order.OrderStatus))
		return nil
	}

	ref, err := s.fulfillment.CreateOrder(ctx, *order)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create fulfillment order")
	}

	claimed, err := s.repo.ClaimFulfillment(ctx, order.ID, ref)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim fulfillment")
	}
	if !claimed {
		s.logg.Warn(ctx, fmt.Sprintf("fulfillment %s already claimed for %s", ref, order.OrderRef))
	}
	return nil
}

// CancelOrder is the admin cancellation: permitted only before payment.
func (s *service) CancelOrder(ctx context.Context, orderRef, reason string, actor *outbox.ActorRef) error {
	if orderRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order ref required")
	}
	ctx = s.logg.WithOrderRef(ctx, orderRef)
	ctx = s.logg.WithSource(ctx, enums.SourceAdmin.String())

	unlock := s.locks.Lock(orderRef)
	defer unlock()

	var cancelled bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, _, err := s.load(ctx, repo, orderRef)
		if err != nil {
			return err
		}
		if order.OrderStatus == enums.OrderStatusCancelled {
			return nil
		}
		if order.OrderStatus != enums.OrderStatusPendingPayment {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only unpaid orders can be cancelled")
		}

		updates := map[string]any{
			"payment_status": enums.PaymentStatusExpired,
			"order_status":   enums.OrderStatusCancelled,
			"cancelled_at":   s.now(),
		}
		won, err := repo.UpdateOrderIfPaymentStatus(ctx, order.ID, order.PaymentStatus, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment changed underneath cancellation")
		}

		data := map[string]any{}
		if reason != "" {
			data["reason"] = reason
		}
		if err := s.emitNotification(ctx, tx, *order, enums.NotificationOrderCancelled, data, actor); err != nil {
			return err
		}
		s.metrics.IncTransition(order.PaymentStatus.String(), enums.PaymentStatusExpired.String())
		cancelled = true
		return nil
	})
	if err != nil {
		return err
	}
	if cancelled {
		s.monitors.Stop(orderRef)
	}
	return nil
}

// VerifyPayment is the manual override: the admin attests the funds arrived.
// It is the only path that moves an expired payment forward, and it drives
// the same confirmed side effects as an automatic confirmation, still gated
// to run once.
func (s *service) VerifyPayment(ctx context.Context, orderRef string, actor *outbox.ActorRef) error {
	if orderRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order ref required")
	}
	ctx = s.logg.WithOrderRef(ctx, orderRef)
	ctx = s.logg.WithSource(ctx, enums.SourceAdmin.String())

	unlock := s.locks.Lock(orderRef)
	var (
		order   models.Order
		applied Transition
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, payment, err := s.load(ctx, repo, orderRef)
		if err != nil {
			return err
		}
		order = *current

		switch current.PaymentStatus {
		case enums.PaymentStatusConfirmed, enums.PaymentStatusOverpaid:
			return nil
		case enums.PaymentStatusRefunded:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already refunded")
		}
		switch current.OrderStatus {
		case enums.OrderStatusDelivered, enums.OrderStatusRefunded:
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order already %s", current.OrderStatus))
		}

		t := Transition{
			Apply:         true,
			PaymentStatus: enums.PaymentStatusConfirmed,
			OrderStatus:   enums.OrderStatusPaid,
			MarkDetected:  true,
			MarkConfirmed: true,
			Effects:       []Effect{EffectStopMonitor, EffectCreateFulfillment, EffectNotifyConfirmed},
		}
		won, err := s.persist(ctx, repo, *current, *payment, t)
		if err != nil {
			return err
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment changed underneath verification")
		}
		obs := Observation{OrderRef: orderRef, Status: enums.ObservationConfirmed, Source: enums.SourceAdmin}
		if err := s.emitTransitionEvents(ctx, tx, *current, *payment, t, obs, actor); err != nil {
			return err
		}
		s.metrics.IncObservation(enums.SourceAdmin.String(), "applied")
		s.metrics.IncTransition(current.PaymentStatus.String(), t.PaymentStatus.String())
		applied = t
		return nil
	})
	unlock()
	if err != nil {
		return err
	}
	if applied.Apply {
		s.runEffects(ctx, order, applied)
	}
	return nil
}

// RetryFulfillment re-drives fulfillment creation for a paid order that has
// no fulfillment reference yet.
func (s *service) RetryFulfillment(ctx context.Context, orderRef string) error {
	if orderRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order ref required")
	}
	ctx = s.logg.WithOrderRef(ctx, orderRef)

	order, err := s.repo.FindOrderByRef(ctx, orderRef)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.FulfillmentRef != nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "fulfillment already created")
	}
	if order.OrderStatus != enums.OrderStatusPaid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting fulfillment")
	}
	return s.createFulfillment(ctx, order.ID)
}

// MarkDelivered closes out a shipped order.
func (s *service) MarkDelivered(ctx context.Context, orderRef string) error {
	if orderRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order ref required")
	}
	ctx = s.logg.WithOrderRef(ctx, orderRef)

	unlock := s.locks.Lock(orderRef)
	defer unlock()

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, _, err := s.load(ctx, repo, orderRef)
		if err != nil {
			return err
		}
		if order.OrderStatus == enums.OrderStatusDelivered {
			return nil
		}
		if order.OrderStatus != enums.OrderStatusShipped {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only shipped orders can be marked delivered")
		}
		won, err := repo.UpdateOrderIfOrderStatus(ctx, order.ID, order.OrderStatus, map[string]any{
			"order_status": enums.OrderStatusDelivered,
			"delivered_at": s.now(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark delivered")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed underneath delivery confirmation")
		}
		return nil
	})
}

// RecordShipment applies a provider shipped event: tracking fields land on
// the order and the customer is notified. Replays and events for already
// closed orders are discarded.
func (s *service) RecordShipment(ctx context.Context, fulfillmentRef string, shipment Shipment) error {
	if fulfillmentRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "fulfillment ref required")
	}
	if shipment.TrackingNumber == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "tracking number required")
	}

	order, err := s.findByFulfillmentRef(ctx, fulfillmentRef)
	if err != nil {
		return err
	}
	ctx = s.logg.WithOrderRef(ctx, order.OrderRef)

	unlock := s.locks.Lock(order.OrderRef)
	defer unlock()

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindOrderByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		switch current.OrderStatus {
		case enums.OrderStatusShipped, enums.OrderStatusDelivered:
			return nil
		case enums.OrderStatusCancelled, enums.OrderStatusRefunded:
			s.logg.Warn(ctx, fmt.Sprintf("shipment event for %s order discarded", current.OrderStatus))
			return nil
		}

		updates := map[string]any{
			"order_status":    enums.OrderStatusShipped,
			"shipped_at":      s.now(),
			"tracking_number": shipment.TrackingNumber,
			"tracking_url":    shipment.TrackingURL,
			"carrier":         shipment.Carrier,
		}
		won, err := repo.UpdateOrderIfOrderStatus(ctx, current.ID, current.OrderStatus, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record shipment")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed underneath shipment")
		}

		data := map[string]any{"tracking_number": shipment.TrackingNumber}
		if shipment.TrackingURL != nil {
			data["tracking_url"] = *shipment.TrackingURL
		}
		if shipment.Carrier != nil {
			data["carrier"] = *shipment.Carrier
		}
		return s.emitNotification(ctx, tx, *current, enums.NotificationOrderShipped, data, nil)
	})
}

// RecordFulfillmentFailure applies a provider failed or canceled event: the
// order is cancelled and a best-effort cancel is sent back so nothing hangs
// on the provider side. Payment state is untouched; settled funds stay
// flagged for manual refund review.
func (s *service) RecordFulfillmentFailure(ctx context.Context, fulfillmentRef, reason string) error {
	if fulfillmentRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "fulfillment ref required")
	}

	order, err := s.findByFulfillmentRef(ctx, fulfillmentRef)
	if err != nil {
		return err
	}
	ctx = s.logg.WithOrderRef(ctx, order.OrderRef)

	unlock := s.locks.Lock(order.OrderRef)
	var cancelled bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindOrderByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		if current.OrderStatus.IsTerminal() {
			return nil
		}

		won, err := repo.UpdateOrderIfOrderStatus(ctx, current.ID, current.OrderStatus, map[string]any{
			"order_status": enums.OrderStatusCancelled,
			"cancelled_at": s.now(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel failed order")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed underneath fulfillment failure")
		}

		s.logg.Error(ctx, "fulfillment failed; order cancelled", fmt.Errorf("provider reason: %s", reason))
		data := map[string]any{}
		if reason != "" {
			data["reason"] = reason
		}
		if err := s.emitNotification(ctx, tx, *current, enums.NotificationOrderCancelled, data, nil); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	unlock()
	if err != nil {
		return err
	}
	if cancelled {
		// The provider may still hold the order open on failed events.
		if err := s.fulfillment.CancelOrder(ctx, fulfillmentRef); err != nil {
			s.logg.Warn(ctx, fmt.Sprintf("provider cancel for %s failed: %v", fulfillmentRef, err))
		}
	}
	return nil
}

func (s *service) findByFulfillmentRef(ctx context.Context, fulfillmentRef string) (*models.Order, error) {
	order, err := s.repo.FindOrderByFulfillmentRef(ctx, fulfillmentRef)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown fulfillment reference")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by fulfillment ref")
	}
	return order, nil
}
