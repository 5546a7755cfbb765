package btcpay

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
	return logger.New(logger.Options{ServiceName: "btcpay-test", Output: io.Discard})
}

func testConfig(baseURL string) config.BTCPayConfig {
	return config.BTCPayConfig{
		BaseURL:       baseURL,
		APIKey:        "api-key-123",
		StoreID:       "store-abc",
		WebhookSecret: "whsec",
	}
}

func TestNewClientValidation(t *testing.T) {
	ctx := context.Background()
	base := testConfig("https://pay.blockwear.io")

	cases := []struct {
		name   string
		mutate func(*config.BTCPayConfig)
	}{
		{"missing base url", func(c *config.BTCPayConfig) { c.BaseURL = "" }},
		{"missing api key", func(c *config.BTCPayConfig) { c.APIKey = " " }},
		{"missing store id", func(c *config.BTCPayConfig) { c.StoreID = "" }},
		{"missing webhook secret", func(c *config.BTCPayConfig) { c.WebhookSecret = "" }},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		if _, err := NewClient(ctx, cfg, testLogger()); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	if _, err := NewClient(ctx, base, nil); err == nil {
		t.Fatal("expected error for nil logger")
	}

	c, err := NewClient(ctx, base, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.SigningSecret() != "whsec" {
		t.Fatalf("unexpected signing secret %q", c.SigningSecret())
	}
	if c.StoreID() != "store-abc" {
		t.Fatalf("unexpected store id %q", c.StoreID())
	}
}

func TestGetInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token api-key-123" {
			t.Errorf("unexpected auth header %q", got)
		}
		if r.URL.Path != "/api/v1/stores/store-abc/invoices/inv_42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"id": "inv_42",
			"storeId": "store-abc",
			"status": "Settled",
			"additionalStatus": "None",
			"amount": "0.00210000",
			"currency": "BTC",
			"checkoutLink": "https://pay.blockwear.io/i/inv_42",
			"metadata": {"orderRef": "BW-2026-000123"}
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), testConfig(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	invoice, err := c.GetInvoice(context.Background(), "inv_42")
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if invoice.Status != InvoiceSettled {
		t.Fatalf("expected Settled, got %s", invoice.Status)
	}
	if !invoice.Amount.Equal(decimal.RequireFromString("0.0021")) {
		t.Fatalf("unexpected amount %s", invoice.Amount)
	}
	if invoice.Metadata["orderRef"] != "BW-2026-000123" {
		t.Fatalf("metadata order ref missing: %+v", invoice.Metadata)
	}
}

func TestCreateInvoiceSendsOrderRef(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"id": "inv_43", "status": "New", "checkoutLink": "https://pay.blockwear.io/i/inv_43", "amount": "0.0021", "currency": "BTC"}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), testConfig(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	invoice, err := c.CreateInvoice(context.Background(), CreateInvoiceParams{
		OrderRef:          "BW-2026-000123",
		Amount:            decimal.RequireFromString("0.0021"),
		Currency:          "BTC",
		ExpirationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if invoice.ID != "inv_43" || invoice.Status != InvoiceNew {
		t.Fatalf("unexpected invoice %+v", invoice)
	}
	if captured["amount"] != "0.0021" || captured["currency"] != "BTC" {
		t.Fatalf("unexpected body %+v", captured)
	}
	meta, _ := captured["metadata"].(map[string]any)
	if meta["orderRef"] != "BW-2026-000123" {
		t.Fatalf("order ref not forwarded: %+v", captured)
	}
}

func TestGetInvoiceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code": "invoice-not-found"}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), testConfig(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.GetInvoice(context.Background(), "inv_missing")
	if err == nil {
		t.Fatal("expected error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDomainCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusUnauthorized, pkgerrors.CodeUnauthorized},
		{http.StatusForbidden, pkgerrors.CodeForbidden},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusConflict, pkgerrors.CodeConflict},
		{http.StatusBadRequest, pkgerrors.CodeValidation},
		{http.StatusUnprocessableEntity, pkgerrors.CodeStateConflict},
		{http.StatusInternalServerError, pkgerrors.CodeDependency},
		{http.StatusTooManyRequests, pkgerrors.CodeDependency},
	}
	for _, tt := range tests {
		if got := domainCodeForStatus(tt.status); got != tt.code {
			t.Fatalf("status %d expected %s got %s", tt.status, tt.code, got)
		}
	}
}

func TestTotalReceived(t *testing.T) {
	methods := []PaymentMethod{
		{TotalPaid: decimal.RequireFromString("0.001")},
		{TotalPaid: decimal.RequireFromString("0.0005")},
	}
	if got := TotalReceived(methods); !got.Equal(decimal.RequireFromString("0.0015")) {
		t.Fatalf("expected 0.0015, got %s", got)
	}
	if got := TotalReceived(nil); !got.IsZero() {
		t.Fatalf("expected zero for no methods, got %s", got)
	}
}

func TestLatestPayment(t *testing.T) {
	methods := []PaymentMethod{
		{Payments: []PaymentDetail{
			{ID: "tx1-0", ReceivedDate: 100},
			{ID: "tx2-0", ReceivedDate: 300},
		}},
		{Payments: []PaymentDetail{
			{ID: "tx3-0", ReceivedDate: 200},
		}},
	}
	latest := LatestPayment(methods)
	if latest == nil || latest.ID != "tx2-0" {
		t.Fatalf("unexpected latest payment %+v", latest)
	}
	if LatestPayment(nil) != nil {
		t.Fatal("expected nil for no payments")
	}
}

func TestRedact(t *testing.T) {
	if got := redact("webhook_secret", "abc"); got != "[REDACTED]" {
		t.Fatalf("expected redacted value, got %v", got)
	}
	if got := redact("invoice_id", "inv_42"); got != "inv_42" {
		t.Fatalf("unexpected redaction for safe key: %v", got)
	}
}
