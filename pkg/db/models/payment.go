package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/pkg/enums"
)

// Payment tracks one crypto payment attempt for an order. The expiry
// deadline is fixed at creation and never extended.
type Payment struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID        `gorm:"column:order_id;type:uuid;not null"`
	Currency       enums.Currency   `gorm:"column:currency;type:text;not null"`
	Address        string           `gorm:"column:address;index;not null"`
	AmountExpected decimal.Decimal  `gorm:"column:amount_expected;type:numeric(20,8);not null"`
	AmountReceived *decimal.Decimal `gorm:"column:amount_received;type:numeric(20,8)"`
	TxHash         *string          `gorm:"column:tx_hash"`
	Confirmations  int              `gorm:"column:confirmations;not null;default:0"`
	InvoiceRef     *string          `gorm:"column:invoice_ref;index"`
	ExpiresAt      time.Time        `gorm:"column:expires_at;index;not null"`
	DetectedAt     *time.Time       `gorm:"column:detected_at"`
	ConfirmedAt    *time.Time       `gorm:"column:confirmed_at"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
