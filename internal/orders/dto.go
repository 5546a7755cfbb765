package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/pkg/db/models"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
)

// CreateOrderInput carries everything the storefront submits for a new
// order. Structural validation happens at the controller; the service
// re-checks the semantics it depends on (positive amounts, known currency).
type CreateOrderInput struct {
	CustomerName  string
	CustomerEmail string
	Shipping      ShippingInput
	Currency      string
	Items         []LineItemInput
}

// ShippingInput is the destination snapshot stored on the order.
type ShippingInput struct {
	Line1      string
	Line2      *string
	City       string
	Region     *string
	PostalCode string
	Country    string
}

// LineItemInput describes one catalog item in the submission.
type LineItemInput struct {
	ProductRef   string
	VariantRef   *string
	Name         string
	Qty          int
	UnitPriceUSD decimal.Decimal
}

// OrderFilters describe the inputs supported by the admin orders list.
type OrderFilters struct {
	PaymentStatus *enums.PaymentStatus
	OrderStatus   *enums.OrderStatus
	Currency      *enums.Currency
	DateFrom      *time.Time
	DateTo        *time.Time
	Query         string
}

// LineItemSnapshot is the serialized view of one order line.
type LineItemSnapshot struct {
	ProductRef   string          `json:"product_ref"`
	VariantRef   *string         `json:"variant_ref,omitempty"`
	Name         string          `json:"name"`
	Qty          int             `json:"qty"`
	UnitPriceUSD decimal.Decimal `json:"unit_price_usd"`
	TotalUSD     decimal.Decimal `json:"total_usd"`
}

// ShippingSnapshot mirrors ShippingInput on the way back out.
type ShippingSnapshot struct {
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	Region     *string `json:"region,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
}

// PaymentSnapshot exposes payment progress to the storefront poller.
type PaymentSnapshot struct {
	Currency       enums.Currency   `json:"currency"`
	Address        string           `json:"address"`
	AmountExpected decimal.Decimal  `json:"amount_expected"`
	AmountReceived *decimal.Decimal `json:"amount_received,omitempty"`
	TxHash         *string          `json:"tx_hash,omitempty"`
	Confirmations  int              `json:"confirmations"`
	ExpiresAt      time.Time        `json:"expires_at"`
	DetectedAt     *time.Time       `json:"detected_at,omitempty"`
	ConfirmedAt    *time.Time       `json:"confirmed_at,omitempty"`
}

// OrderSnapshot is the full order view returned by create and get. The
// order ref in the URL is the only credential the storefront holds, so this
// is also everything the confirmation page can render.
type OrderSnapshot struct {
	OrderRef       string              `json:"order_ref"`
	CreatedAt      time.Time           `json:"created_at"`
	CustomerName   string              `json:"customer_name"`
	CustomerEmail  string              `json:"customer_email"`
	Shipping       ShippingSnapshot    `json:"shipping"`
	Items          []LineItemSnapshot  `json:"items"`
	TotalUSD       decimal.Decimal     `json:"total_usd"`
	Currency       enums.Currency      `json:"currency"`
	CryptoAmount   decimal.Decimal     `json:"crypto_amount"`
	PaymentAddress string              `json:"payment_address"`
	PaymentStatus  enums.PaymentStatus `json:"payment_status"`
	OrderStatus    enums.OrderStatus   `json:"order_status"`
	Payment        *PaymentSnapshot    `json:"payment,omitempty"`
	TrackingNumber *string             `json:"tracking_number,omitempty"`
	TrackingURL    *string             `json:"tracking_url,omitempty"`
	Carrier        *string             `json:"carrier,omitempty"`
	PaidAt         *time.Time          `json:"paid_at,omitempty"`
	ShippedAt      *time.Time          `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time          `json:"delivered_at,omitempty"`
	CancelledAt    *time.Time          `json:"cancelled_at,omitempty"`
}

// AdminOrderSummary is one row in the admin orders list.
type AdminOrderSummary struct {
	OrderRef      string              `json:"order_ref"`
	CreatedAt     time.Time           `json:"created_at"`
	CustomerEmail string              `json:"customer_email"`
	TotalUSD      decimal.Decimal     `json:"total_usd"`
	Currency      enums.Currency      `json:"currency"`
	CryptoAmount  decimal.Decimal     `json:"crypto_amount"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	OrderStatus   enums.OrderStatus   `json:"order_status"`
	ItemCount     int                 `json:"item_count"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
}

// OrderList wraps the paginated admin rows plus the next page cursor.
type OrderList struct {
	Orders     []AdminOrderSummary `json:"orders"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

func buildSnapshot(order *models.Order) *OrderSnapshot {
	snapshot := &OrderSnapshot{
		OrderRef:      order.OrderRef,
		CreatedAt:     order.CreatedAt,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		Shipping: ShippingSnapshot{
			Line1:      order.ShipLine1,
			Line2:      order.ShipLine2,
			City:       order.ShipCity,
			Region:     order.ShipRegion,
			PostalCode: order.ShipPostalCode,
			Country:    order.ShipCountry,
		},
		TotalUSD:       order.TotalUSD,
		Currency:       order.Currency,
		CryptoAmount:   order.CryptoAmount,
		PaymentAddress: order.PaymentAddress,
		PaymentStatus:  order.PaymentStatus,
		OrderStatus:    order.OrderStatus,
		TrackingNumber: order.TrackingNumber,
		TrackingURL:    order.TrackingURL,
		Carrier:        order.Carrier,
		PaidAt:         order.PaidAt,
		ShippedAt:      order.ShippedAt,
		DeliveredAt:    order.DeliveredAt,
		CancelledAt:    order.CancelledAt,
	}
	snapshot.Items = make([]LineItemSnapshot, 0, len(order.Items))
	for _, item := range order.Items {
		snapshot.Items = append(snapshot.Items, LineItemSnapshot{
			ProductRef:   item.ProductRef,
			VariantRef:   item.VariantRef,
			Name:         item.Name,
			Qty:          item.Qty,
			UnitPriceUSD: item.UnitPriceUSD,
			TotalUSD:     item.TotalUSD,
		})
	}
	if order.Payment != nil {
		snapshot.Payment = &PaymentSnapshot{
			Currency:       order.Payment.Currency,
			Address:        order.Payment.Address,
			AmountExpected: order.Payment.AmountExpected,
			AmountReceived: order.Payment.AmountReceived,
			TxHash:         order.Payment.TxHash,
			Confirmations:  order.Payment.Confirmations,
			ExpiresAt:      order.Payment.ExpiresAt,
			DetectedAt:     order.Payment.DetectedAt,
			ConfirmedAt:    order.Payment.ConfirmedAt,
		}
	}
	return snapshot
}

func buildSummary(order models.Order) AdminOrderSummary {
	summary := AdminOrderSummary{
		OrderRef:      order.OrderRef,
		CreatedAt:     order.CreatedAt,
		CustomerEmail: order.CustomerEmail,
		TotalUSD:      order.TotalUSD,
		Currency:      order.Currency,
		CryptoAmount:  order.CryptoAmount,
		PaymentStatus: order.PaymentStatus,
		OrderStatus:   order.OrderStatus,
		ItemCount:     len(order.Items),
	}
	if order.Payment != nil {
		expires := order.Payment.ExpiresAt
		summary.ExpiresAt = &expires
	}
	return summary
}
