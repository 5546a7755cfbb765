package notifications

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/blockwearhq/blockwear-backend/pkg/db/models"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
)

func setupNotificationsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  order_ref TEXT NOT NULL,
  kind TEXT NOT NULL,
  channels TEXT,
  payload TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func TestRepositoryCreatePersistsNotification(t *testing.T) {
	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	notification := &models.Notification{
		ID:       uuid.New(),
		OrderRef: "BW-2026-000101",
		Kind:     enums.NotificationPaymentPending,
		Channels: pq.StringArray{"email"},
		Payload:  json.RawMessage(`{"currency":"DCR","amount_expected":"5"}`),
	}
	require.NoError(t, repo.Create(ctx, notification))

	var stored models.Notification
	require.NoError(t, db.First(&stored, "id = ?", notification.ID).Error)
	assert.Equal(t, "BW-2026-000101", stored.OrderRef)
	assert.Equal(t, enums.NotificationPaymentPending, stored.Kind)
	require.Len(t, stored.Channels, 1)
	assert.Equal(t, "email", stored.Channels[0])
	assert.False(t, stored.CreatedAt.IsZero())

	var snapshot map[string]any
	require.NoError(t, json.Unmarshal(stored.Payload, &snapshot))
	assert.Equal(t, "DCR", snapshot["currency"])
}

func TestRepositoryCreateAllowsRepeatKindsPerOrder(t *testing.T) {
	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	for _, kind := range []enums.NotificationKind{
		enums.NotificationPaymentPending,
		enums.NotificationPaymentConfirmed,
	} {
		require.NoError(t, repo.Create(ctx, &models.Notification{
			ID:       uuid.New(),
			OrderRef: "BW-2026-000102",
			Kind:     kind,
			Channels: pq.StringArray{},
			Payload:  json.RawMessage(`{}`),
		}))
	}

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Where("order_ref = ?", "BW-2026-000102").Count(&count).Error)
	assert.EqualValues(t, 2, count)
}
