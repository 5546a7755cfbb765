package payments

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/pkg/config"
	"github.com/blockwearhq/blockwear-backend/pkg/db/models"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
)

// Effect names a side effect the lifecycle manager runs after a transition
// commits. Effects are requested by the reconciler but never executed by it.
type Effect string

const (
	EffectStopMonitor       Effect = "stop_monitor"
	EffectCreateFulfillment Effect = "create_fulfillment"
	EffectNotifyConfirmed   Effect = "notify_confirmed"
	EffectNotifyExpired     Effect = "notify_expired"
)

// Policy carries the reconciliation tunables.
type Policy struct {
	// Tolerance is the fractional band around the expected amount inside
	// which a payment counts as exact: received >= expected*(1-Tolerance)
	// confirms, received > expected*(1+Tolerance) flags an overpayment.
	Tolerance decimal.Decimal
}

func PolicyFromConfig(cfg config.PaymentsConfig) Policy {
	return Policy{
		Tolerance: decimal.NewFromFloat(cfg.TolerancePercent).Div(decimal.NewFromInt(100)),
	}
}

// Transition is the reconciler's decision for a single observation: the
// statuses to persist, the payment fields to refresh and the effects to run
// once the write commits. Apply=false means the observation is discarded and
// NoopReason says why.
type Transition struct {
	Apply      bool
	NoopReason string

	PaymentStatus enums.PaymentStatus
	OrderStatus   enums.OrderStatus

	AmountReceived *decimal.Decimal
	TxHash         *string
	Confirmations  *int
	MarkDetected   bool
	MarkConfirmed  bool

	Effects []Effect
}

func noop(reason string) Transition {
	return Transition{NoopReason: reason}
}

// Reconcile decides the next payment and order state for one observation.
// It is a pure function and therefore idempotent: replayed or stale
// observations fall out as no-ops. Callers persist the result under
// per-order serialization; Reconcile itself never touches storage.
func Reconcile(payment models.Payment, order models.Order, obs Observation, policy Policy) Transition {
	if !obs.Status.IsValid() {
		return noop(fmt.Sprintf("unknown observation status %q", obs.Status))
	}

	switch order.PaymentStatus {
	case enums.PaymentStatusConfirmed, enums.PaymentStatusOverpaid:
		// Confirmation is monotonic. The only thing a settled payment still
		// accepts is a higher confirmation count from the same chain.
		if obs.Status == enums.ObservationConfirmed && obs.Confirmations != nil && *obs.Confirmations > payment.Confirmations {
			return Transition{
				Apply:         true,
				PaymentStatus: order.PaymentStatus,
				OrderStatus:   order.OrderStatus,
				Confirmations: obs.Confirmations,
			}
		}
		return noop("payment already settled")
	case enums.PaymentStatusExpired:
		return noop("payment expired; only admin verification revives it")
	case enums.PaymentStatusRefunded:
		return noop("payment refunded")
	}

	if order.OrderStatus.IsTerminal() {
		return noop(fmt.Sprintf("order already %s", order.OrderStatus))
	}

	switch obs.Status {
	case enums.ObservationExpired:
		return expire()
	case enums.ObservationConfirming:
		return confirming(payment, order, obs)
	default:
		return confirmed(payment, order, obs, policy)
	}
}

// expire closes the window: the payment goes expired and the order is
// cancelled. Funds seen so far stay on record for the admin to inspect.
func expire() Transition {
	return Transition{
		Apply:         true,
		PaymentStatus: enums.PaymentStatusExpired,
		OrderStatus:   enums.OrderStatusCancelled,
		Effects:       []Effect{EffectStopMonitor, EffectNotifyExpired},
	}
}

// confirming records chain activity without settling anything. An underpaid
// payment stays underpaid while the shortfall is topped up; everything else
// moves to (or stays in) confirming.
func confirming(payment models.Payment, order models.Order, obs Observation) Transition {
	next := enums.PaymentStatusConfirming
	if order.PaymentStatus == enums.PaymentStatusUnderpaid {
		next = enums.PaymentStatusUnderpaid
	}
	return Transition{
		Apply:          true,
		PaymentStatus:  next,
		OrderStatus:    order.OrderStatus,
		AmountReceived: obs.AmountReceived,
		TxHash:         obs.TxHash,
		Confirmations:  monotonicConfirmations(payment, obs),
		MarkDetected:   true,
	}
}

// confirmed settles the payment once the backend reports the required
// confirmation depth. The received amount is classified against the
// tolerance band: short of it the payment parks in underpaid and the order
// does not move; inside or above it the order is paid and fulfillment starts,
// with overpayments flagged for refund review.
func confirmed(payment models.Payment, order models.Order, obs Observation, policy Policy) Transition {
	status := classifyAmount(payment.AmountExpected, obs.AmountReceived, policy.Tolerance)
	if status == enums.PaymentStatusUnderpaid {
		return Transition{
			Apply:          true,
			PaymentStatus:  status,
			OrderStatus:    order.OrderStatus,
			AmountReceived: obs.AmountReceived,
			TxHash:         obs.TxHash,
			Confirmations:  monotonicConfirmations(payment, obs),
			MarkDetected:   true,
		}
	}
	return Transition{
		Apply:          true,
		PaymentStatus:  status,
		OrderStatus:    enums.OrderStatusPaid,
		AmountReceived: obs.AmountReceived,
		TxHash:         obs.TxHash,
		Confirmations:  monotonicConfirmations(payment, obs),
		MarkDetected:   true,
		MarkConfirmed:  true,
		Effects:        []Effect{EffectStopMonitor, EffectCreateFulfillment, EffectNotifyConfirmed},
	}
}

// classifyAmount maps the received amount onto the tolerance band. Backends
// that do not report amounts (hosted invoices settle exactly) classify as
// confirmed.
func classifyAmount(expected decimal.Decimal, received *decimal.Decimal, tolerance decimal.Decimal) enums.PaymentStatus {
	if received == nil {
		return enums.PaymentStatusConfirmed
	}
	one := decimal.NewFromInt(1)
	switch {
	case received.LessThan(expected.Mul(one.Sub(tolerance))):
		return enums.PaymentStatusUnderpaid
	case received.GreaterThan(expected.Mul(one.Add(tolerance))):
		return enums.PaymentStatusOverpaid
	default:
		return enums.PaymentStatusConfirmed
	}
}

// monotonicConfirmations never lets a laggy backend lower the recorded
// confirmation count.
func monotonicConfirmations(payment models.Payment, obs Observation) *int {
	if obs.Confirmations == nil || *obs.Confirmations <= payment.Confirmations {
		return nil
	}
	return obs.Confirmations
}
