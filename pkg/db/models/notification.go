package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/blockwearhq/blockwear-backend/pkg/enums"
)

// Notification records a customer-facing message produced from domain
// events. Delivery itself happens downstream; this is the audit row.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderRef  string                 `gorm:"column:order_ref;index;not null"`
	Kind      enums.NotificationKind `gorm:"column:kind;type:notification_kind;not null"`
	Channels  pq.StringArray         `gorm:"column:channels;type:text[]"`
	Payload   json.RawMessage        `gorm:"column:payload;type:jsonb"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
