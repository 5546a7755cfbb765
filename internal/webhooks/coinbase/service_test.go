package coinbasewebhook

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/internal/payments"
	"github.com/blockwearhq/blockwear-backend/pkg/coinbase"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

type stubCharges struct {
	charge *coinbase.Charge
	err    error
	calls  int
}

func (s *stubCharges) GetCharge(ctx context.Context, code string) (*coinbase.Charge, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.charge, nil
}

type stubLifecycle struct {
	applied []payments.Observation
	err     error
}

func (s *stubLifecycle) ApplyObservation(ctx context.Context, obs payments.Observation) error {
	s.applied = append(s.applied, obs)
	return s.err
}

func newTestService(t *testing.T, charges *stubCharges, lifecycle *stubLifecycle) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Charges:   charges,
		Lifecycle: lifecycle,
		Logger:    logger.New(logger.Options{ServiceName: "coinbase-webhook-test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func chargeWith(status coinbase.ChargeStatus, reason string, paid string, confirmations int) *coinbase.Charge {
	c := &coinbase.Charge{
		Code:     "CHARGE1",
		Metadata: map[string]string{"orderRef": "BW-2026-000123"},
		Timeline: []coinbase.TimelineEntry{
			{Time: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), Status: coinbase.ChargeNew},
			{Time: time.Date(2026, 3, 14, 10, 20, 0, 0, time.UTC), Status: status, Context: reason},
		},
	}
	if paid != "" {
		p := coinbase.Payment{Network: "ethereum", TransactionID: "0xabc123", Status: "CONFIRMED"}
		p.Value.Crypto = coinbase.Money{Amount: decimal.RequireFromString(paid), Currency: "ETH"}
		p.Block.ConfirmationsAccumulated = confirmations
		c.Payments = []coinbase.Payment{p}
	}
	return c
}

func TestService_CompletedChargeConfirms(t *testing.T) {
	charges := &stubCharges{charge: chargeWith(coinbase.ChargeCompleted, "", "0.0300", 12)}
	lifecycle := &stubLifecycle{}
	svc := newTestService(t, charges, lifecycle)

	err := svc.HandleEvent(context.Background(), &Event{
		Type: "charge:confirmed",
		Data: coinbase.Charge{Code: "CHARGE1"},
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(lifecycle.applied) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(lifecycle.applied))
	}
	obs := lifecycle.applied[0]
	if obs.Status != enums.ObservationConfirmed || obs.Source != enums.SourceCoinbase {
		t.Fatalf("unexpected observation %+v", obs)
	}
	if obs.AmountReceived == nil || !obs.AmountReceived.Equal(decimal.RequireFromString("0.03")) {
		t.Fatalf("unexpected amount %v", obs.AmountReceived)
	}
	if obs.TxHash == nil || *obs.TxHash != "0xabc123" {
		t.Fatalf("unexpected tx hash %v", obs.TxHash)
	}
	if obs.Confirmations == nil || *obs.Confirmations != 12 {
		t.Fatalf("unexpected confirmations %v", obs.Confirmations)
	}
}

func TestService_PendingReportsConfirming(t *testing.T) {
	charges := &stubCharges{charge: chargeWith(coinbase.ChargePending, "", "0.0300", 0)}
	lifecycle := &stubLifecycle{}
	svc := newTestService(t, charges, lifecycle)

	if err := svc.HandleEvent(context.Background(), &Event{Type: "charge:pending", Data: coinbase.Charge{Code: "CHARGE1"}}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(lifecycle.applied) != 1 || lifecycle.applied[0].Status != enums.ObservationConfirming {
		t.Fatalf("unexpected observations %+v", lifecycle.applied)
	}
	if lifecycle.applied[0].Confirmations != nil {
		t.Fatalf("zero-depth payments should not report confirmations")
	}
}

func TestService_UnresolvedUnderpaidAppliesAmounts(t *testing.T) {
	charges := &stubCharges{charge: chargeWith(coinbase.ChargeUnresolved, coinbase.ContextUnderpaid, "0.0200", 12)}
	lifecycle := &stubLifecycle{}
	svc := newTestService(t, charges, lifecycle)

	if err := svc.HandleEvent(context.Background(), &Event{Type: "charge:failed", Data: coinbase.Charge{Code: "CHARGE1"}}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(lifecycle.applied) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(lifecycle.applied))
	}
	obs := lifecycle.applied[0]
	if obs.Status != enums.ObservationConfirmed {
		t.Fatalf("unresolved charges report their settled amounts, got %s", obs.Status)
	}
	if obs.AmountReceived == nil || !obs.AmountReceived.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("unexpected amount %v", obs.AmountReceived)
	}
}

func TestService_ExpiredChargeExpires(t *testing.T) {
	charges := &stubCharges{charge: chargeWith(coinbase.ChargeExpired, "", "", 0)}
	lifecycle := &stubLifecycle{}
	svc := newTestService(t, charges, lifecycle)

	if err := svc.HandleEvent(context.Background(), &Event{Type: "charge:failed", Data: coinbase.Charge{Code: "CHARGE1"}}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(lifecycle.applied) != 1 || lifecycle.applied[0].Status != enums.ObservationExpired {
		t.Fatalf("unexpected observations %+v", lifecycle.applied)
	}
}

func TestService_CreatedEventIgnored(t *testing.T) {
	charges := &stubCharges{}
	svc := newTestService(t, charges, &stubLifecycle{})

	if err := svc.HandleEvent(context.Background(), &Event{Type: "charge:created", Data: coinbase.Charge{Code: "CHARGE1"}}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if charges.calls != 0 {
		t.Fatal("created events must not fetch")
	}
}

func TestService_MissingOrderRefRejected(t *testing.T) {
	charge := chargeWith(coinbase.ChargeCompleted, "", "0.0300", 12)
	charge.Metadata = nil
	svc := newTestService(t, &stubCharges{charge: charge}, &stubLifecycle{})

	err := svc.HandleEvent(context.Background(), &Event{Type: "charge:confirmed", Data: coinbase.Charge{Code: "CHARGE1"}})
	if err == nil {
		t.Fatal("expected error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_ValidationGuards(t *testing.T) {
	svc := newTestService(t, &stubCharges{}, &stubLifecycle{})

	if err := svc.HandleEvent(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil event")
	}
	if err := svc.HandleEvent(context.Background(), &Event{Type: "charge:confirmed"}); err == nil {
		t.Fatal("expected error for missing charge code")
	}
	if err := svc.HandleEvent(context.Background(), &Event{Type: "wallet:created"}); err != nil {
		t.Fatalf("unknown types are ignored, got %v", err)
	}
}
