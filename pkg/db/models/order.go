package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/pkg/enums"
)

// Order represents one purchase transaction. Payment progress and
// fulfillment progress are tracked in two independent status columns.
type Order struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderRef       string              `gorm:"column:order_ref;uniqueIndex;not null"`
	CustomerName   string              `gorm:"column:customer_name;not null"`
	CustomerEmail  string              `gorm:"column:customer_email;not null"`
	ShipLine1      string              `gorm:"column:ship_line1;not null"`
	ShipLine2      *string             `gorm:"column:ship_line2"`
	ShipCity       string              `gorm:"column:ship_city;not null"`
	ShipRegion     *string             `gorm:"column:ship_region"`
	ShipPostalCode string              `gorm:"column:ship_postal_code;not null"`
	ShipCountry    string              `gorm:"column:ship_country;not null"`
	TotalUSD       decimal.Decimal     `gorm:"column:total_usd;type:numeric(12,2);not null"`
	Currency       enums.Currency      `gorm:"column:currency;type:text;not null"`
	CryptoAmount   decimal.Decimal     `gorm:"column:crypto_amount;type:numeric(20,8);not null"`
	PaymentAddress string              `gorm:"column:payment_address;not null"`
	PaymentStatus  enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	OrderStatus    enums.OrderStatus   `gorm:"column:order_status;type:order_status;not null;default:'pending_payment'"`
	FulfillmentRef *string             `gorm:"column:fulfillment_ref"`
	TrackingNumber *string             `gorm:"column:tracking_number"`
	TrackingURL    *string             `gorm:"column:tracking_url"`
	Carrier        *string             `gorm:"column:carrier"`
	PaidAt         *time.Time          `gorm:"column:paid_at"`
	ShippedAt      *time.Time          `gorm:"column:shipped_at"`
	DeliveredAt    *time.Time          `gorm:"column:delivered_at"`
	CancelledAt    *time.Time          `gorm:"column:cancelled_at"`
	Items          []OrderLineItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment        *Payment            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
