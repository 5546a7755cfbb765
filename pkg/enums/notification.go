package enums

import "fmt"

// NotificationKind maps to the notification_kind enum in Postgres.
type NotificationKind string

const (
	NotificationPaymentPending   NotificationKind = "payment_pending"
	NotificationPaymentConfirmed NotificationKind = "payment_confirmed"
	NotificationPaymentExpired   NotificationKind = "payment_expired"
	NotificationOrderShipped     NotificationKind = "order_shipped"
	NotificationOrderCancelled   NotificationKind = "order_cancelled"
)

var validNotificationKinds = []NotificationKind{
	NotificationPaymentPending,
	NotificationPaymentConfirmed,
	NotificationPaymentExpired,
	NotificationOrderShipped,
	NotificationOrderCancelled,
}

// String implements fmt.Stringer.
func (n NotificationKind) String() string {
	return string(n)
}

// IsValid checks whether the given kind matches the canonical enum.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw strings into NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}
