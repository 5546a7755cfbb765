package payments

import (
	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/pkg/enums"
)

// Observation is the normalized signal every payment backend hands to the
// reconciler: polling wallet RPC, hosted invoice webhooks, the expiry sweep
// and admin overrides all reduce to this shape before any state is touched.
type Observation struct {
	OrderRef       string
	Status         enums.ObservationStatus
	AmountReceived *decimal.Decimal
	TxHash         *string
	Confirmations  *int
	Source         enums.ObservationSource
}
