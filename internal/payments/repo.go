package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/blockwearhq/blockwear-backend/pkg/db/models"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
)

// openStatuses are the payment states the sweep and the monitors care about:
// anything that can still settle or expire.
var openStatuses = []enums.PaymentStatus{
	enums.PaymentStatusPending,
	enums.PaymentStatusDetected,
	enums.PaymentStatusConfirming,
	enums.PaymentStatusUnderpaid,
}

// OpenPayment is the join of a live payment with the order fields the sweep
// and the monitor resume job need.
type OpenPayment struct {
	PaymentID      uuid.UUID
	OrderID        uuid.UUID
	OrderRef       string
	Currency       enums.Currency
	Address        string
	AmountExpected decimal.Decimal
	PaymentStatus  enums.PaymentStatus
	ExpiresAt      time.Time
}

// Repository is the storage surface of the payment lifecycle. The status
// columns live on the orders row, so every transition is one conditional
// update comparing the payment status the caller read; concurrent writers
// lose cleanly instead of clobbering each other.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrderByRef(ctx context.Context, orderRef string) (*models.Order, error)
	FindOrderByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrderByFulfillmentRef(ctx context.Context, fulfillmentRef string) (*models.Order, error)
	FindPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindPaymentByInvoiceRef(ctx context.Context, invoiceRef string) (*models.Payment, error)
	UpdateOrderIfPaymentStatus(ctx context.Context, orderID uuid.UUID, from enums.PaymentStatus, updates map[string]any) (bool, error)
	UpdateOrderIfOrderStatus(ctx context.Context, orderID uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error)
	UpdatePayment(ctx context.Context, paymentID uuid.UUID, updates map[string]any) error
	ClaimFulfillment(ctx context.Context, orderID uuid.UUID, fulfillmentRef string) (bool, error)
	ListExpired(ctx context.Context, asOf time.Time, limit int) ([]OpenPayment, error)
	ListOpenForWatch(ctx context.Context, currencies []enums.Currency, asOf time.Time, limit int) ([]OpenPayment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrderByRef(ctx context.Context, orderRef string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_ref = ?", orderRef).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderByFulfillmentRef(ctx context.Context, fulfillmentRef string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("fulfillment_ref = ?", fulfillmentRef).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindPaymentByInvoiceRef(ctx context.Context, invoiceRef string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("invoice_ref = ?", invoiceRef).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdateOrderIfPaymentStatus applies updates only while the order still holds
// the payment status the caller read. A false return means another writer got
// there first.
func (r *repository) UpdateOrderIfPaymentStatus(ctx context.Context, orderID uuid.UUID, from enums.PaymentStatus, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateOrderIfOrderStatus is the fulfillment-side counterpart of
// UpdateOrderIfPaymentStatus.
func (r *repository) UpdateOrderIfOrderStatus(ctx context.Context, orderID uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND order_status = ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdatePayment refreshes chain-tracking fields. Callers only invoke it after
// winning the status update on the order, inside the same transaction.
func (r *repository) UpdatePayment(ctx context.Context, paymentID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Updates(updates).Error
}

// ClaimFulfillment records the fulfillment order exactly once. The NULL guard
// makes retries and concurrent confirmations collapse to a single claim.
func (r *repository) ClaimFulfillment(ctx context.Context, orderID uuid.UUID, fulfillmentRef string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND fulfillment_ref IS NULL", orderID).
		Updates(map[string]any{
			"fulfillment_ref": fulfillmentRef,
			"order_status":    enums.OrderStatusProduction,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]OpenPayment, error) {
	return r.listOpen(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("payments.expires_at <= ?", asOf)
	}, limit)
}

func (r *repository) ListOpenForWatch(ctx context.Context, currencies []enums.Currency, asOf time.Time, limit int) ([]OpenPayment, error) {
	return r.listOpen(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("payments.currency IN ? AND payments.expires_at > ?", currencies, asOf)
	}, limit)
}

func (r *repository) listOpen(ctx context.Context, scope func(*gorm.DB) *gorm.DB, limit int) ([]OpenPayment, error) {
	var rows []OpenPayment
	q := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("payments.id AS payment_id, payments.order_id, orders.order_ref, payments.currency, payments.address, payments.amount_expected, orders.payment_status, payments.expires_at").
		Joins("JOIN orders ON orders.id = payments.order_id").
		Where("orders.payment_status IN ?", openStatuses).
		Order("payments.expires_at ASC").
		Limit(limit)
	if err := scope(q).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
