package coinbase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/pkg/config"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "coinbase-test", Output: io.Discard})
}

func testConfig(baseURL string) config.CoinbaseConfig {
	return config.CoinbaseConfig{
		BaseURL:       baseURL,
		APIKey:        "cc-key-123",
		WebhookSecret: "whsec",
	}
}

func TestNewClientValidation(t *testing.T) {
	ctx := context.Background()

	if _, err := NewClient(ctx, config.CoinbaseConfig{APIKey: "k", WebhookSecret: "s"}, testLogger()); err == nil {
		t.Fatal("expected error for missing base url")
	}
	if _, err := NewClient(ctx, config.CoinbaseConfig{BaseURL: "https://x", WebhookSecret: "s"}, testLogger()); err == nil {
		t.Fatal("expected error for missing api key")
	}
	if _, err := NewClient(ctx, config.CoinbaseConfig{BaseURL: "https://x", APIKey: "k"}, testLogger()); err == nil {
		t.Fatal("expected error for missing webhook secret")
	}
	if _, err := NewClient(ctx, testConfig("https://x"), nil); err == nil {
		t.Fatal("expected error for nil logger")
	}

	c, err := NewClient(ctx, testConfig("https://x"), testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.SigningSecret() != "whsec" {
		t.Fatalf("unexpected signing secret %q", c.SigningSecret())
	}
}

func TestGetCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-CC-Api-Key"); got != "cc-key-123" {
			t.Errorf("unexpected api key header %q", got)
		}
		if got := r.Header.Get("X-CC-Version"); got != apiVersion {
			t.Errorf("unexpected version header %q", got)
		}
		if r.URL.Path != "/charges/CHARGE1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data": {
			"code": "CHARGE1",
			"hosted_url": "https://commerce.coinbase.com/charges/CHARGE1",
			"timeline": [
				{"time": "2026-03-14T10:00:00Z", "status": "NEW"},
				{"time": "2026-03-14T10:05:00Z", "status": "PENDING"},
				{"time": "2026-03-14T10:20:00Z", "status": "UNRESOLVED", "context": "UNDERPAID"}
			],
			"metadata": {"orderRef": "BW-2026-000123"},
			"payments": [
				{
					"network": "ethereum",
					"transaction_id": "0xabc123",
					"status": "CONFIRMED",
					"value": {"crypto": {"amount": "0.0300", "currency": "ETH"}},
					"block": {"confirmations_accumulated": 12, "confirmations_required": 12}
				}
			],
			"addresses": {"ethereum": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}
		}}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), testConfig(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	charge, err := c.GetCharge(context.Background(), "CHARGE1")
	if err != nil {
		t.Fatalf("GetCharge: %v", err)
	}

	status, reason := charge.CurrentStatus()
	if status != ChargeUnresolved || reason != ContextUnderpaid {
		t.Fatalf("unexpected status %s/%s", status, reason)
	}
	if got := charge.PaidTotal("ETH"); !got.Equal(decimal.RequireFromString("0.03")) {
		t.Fatalf("unexpected paid total %s", got)
	}
	if got := charge.PaidTotal("BTC"); !got.IsZero() {
		t.Fatalf("expected zero BTC total, got %s", got)
	}
	if charge.MaxConfirmations() != 12 {
		t.Fatalf("unexpected confirmations %d", charge.MaxConfirmations())
	}
	tx := charge.LatestTransactionID()
	if tx == nil || *tx != "0xabc123" {
		t.Fatalf("unexpected transaction id %v", tx)
	}
}

func TestCreateChargeBody(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/charges" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"data": {"code": "CHARGE2", "hosted_url": "https://commerce.coinbase.com/charges/CHARGE2", "timeline": [{"time": "2026-03-14T10:00:00Z", "status": "NEW"}]}}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), testConfig(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	charge, err := c.CreateCharge(context.Background(), CreateChargeParams{
		Name:        "Blockwear order BW-2026-000123",
		Description: "2 items",
		OrderRef:    "BW-2026-000123",
		Amount:      decimal.RequireFromString("89.00"),
		Currency:    "USD",
	})
	if err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	if charge.Code != "CHARGE2" {
		t.Fatalf("unexpected charge %+v", charge)
	}
	if captured["pricing_type"] != "fixed_price" {
		t.Fatalf("unexpected pricing type %v", captured["pricing_type"])
	}
	local, _ := captured["local_price"].(map[string]any)
	if local["amount"] != "89" || local["currency"] != "USD" {
		t.Fatalf("unexpected local price %+v", local)
	}
	meta, _ := captured["metadata"].(map[string]any)
	if meta["orderRef"] != "BW-2026-000123" {
		t.Fatalf("order ref not forwarded: %+v", captured)
	}
}

func TestGetChargeNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"type": "not_found"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), testConfig(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.GetCharge(context.Background(), "MISSING")
	if err == nil {
		t.Fatal("expected error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCurrentStatusEmptyTimeline(t *testing.T) {
	charge := &Charge{}
	status, reason := charge.CurrentStatus()
	if status != ChargeNew || reason != "" {
		t.Fatalf("unexpected status %s/%s", status, reason)
	}
}
