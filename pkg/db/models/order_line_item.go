package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderLineItem captures the snapshot of each item within an order.
type OrderLineItem struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID      uuid.UUID       `gorm:"column:order_id;type:uuid;not null"`
	ProductRef   string          `gorm:"column:product_ref;not null"`
	Name         string          `gorm:"column:name;not null"`
	VariantRef   *string         `gorm:"column:variant_ref"`
	Qty          int             `gorm:"column:qty;not null"`
	UnitPriceUSD decimal.Decimal `gorm:"column:unit_price_usd;type:numeric(12,2);not null"`
	TotalUSD     decimal.Decimal `gorm:"column:total_usd;type:numeric(12,2);not null"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
