package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/pkg/enums"
)

// PaymentConfirmedEvent is emitted once a payment settles, whether through a
// monitor, a provider webhook or an admin override.
type PaymentConfirmedEvent struct {
	OrderID        uuid.UUID               `json:"order_id"`
	OrderRef       string                  `json:"order_ref"`
	Currency       enums.Currency          `json:"currency"`
	AmountExpected decimal.Decimal         `json:"amount_expected"`
	AmountReceived *decimal.Decimal        `json:"amount_received,omitempty"`
	TxHash         *string                 `json:"tx_hash,omitempty"`
	Confirmations  int                     `json:"confirmations"`
	Status         enums.PaymentStatus     `json:"status"`
	Source         enums.ObservationSource `json:"source"`
}

// PaymentExpiredEvent reports a payment window that closed without full
// funds. AmountReceived carries whatever partial amount was seen.
type PaymentExpiredEvent struct {
	OrderID        uuid.UUID           `json:"order_id"`
	OrderRef       string              `json:"order_ref"`
	Currency       enums.Currency      `json:"currency"`
	AmountExpected decimal.Decimal     `json:"amount_expected"`
	AmountReceived *decimal.Decimal    `json:"amount_received,omitempty"`
	LastStatus     enums.PaymentStatus `json:"last_status"`
	ExpiredAt      time.Time           `json:"expired_at"`
}

// NotificationRequestedEvent asks the notification worker to record and send
// a customer notification. Shipped and cancelled transitions only change
// local state, so this is the only event they produce; transition context
// (tracking fields, cancellation reason) travels in Data.
type NotificationRequestedEvent struct {
	OrderID  uuid.UUID              `json:"order_id"`
	OrderRef string                 `json:"order_ref"`
	Kind     enums.NotificationKind `json:"kind"`
	Email    string                 `json:"email"`
	Data     map[string]any         `json:"data,omitempty"`
}

// NotificationAggregateID derives a stable aggregate id for one order and
// kind, so the outbox uniqueness guard dedupes replayed notification
// requests without collapsing different kinds for the same order.
func NotificationAggregateID(orderID uuid.UUID, kind enums.NotificationKind) uuid.UUID {
	return uuid.NewSHA1(orderID, []byte(kind))
}
