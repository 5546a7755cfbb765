package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/blockwearhq/blockwear-backend/internal/orders"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
	"github.com/blockwearhq/blockwear-backend/pkg/pagination"
)

type stubOrdersService struct {
	createInput *orders.CreateOrderInput
	createErr   error
	snapshot    *orders.OrderSnapshot
	getErr      error
	listFilters orders.OrderFilters
	listParams  pagination.Params
	listCalls   int
}

func (s *stubOrdersService) Create(ctx context.Context, input orders.CreateOrderInput) (*orders.OrderSnapshot, error) {
	s.createInput = &input
	if s.createErr != nil {
		return nil, s.createErr
	}
	if s.snapshot != nil {
		return s.snapshot, nil
	}
	return &orders.OrderSnapshot{OrderRef: "BW-2026-000001"}, nil
}

func (s *stubOrdersService) GetByRef(ctx context.Context, orderRef string) (*orders.OrderSnapshot, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &orders.OrderSnapshot{OrderRef: orderRef}, nil
}

func (s *stubOrdersService) List(ctx context.Context, params pagination.Params, filters orders.OrderFilters) (*orders.OrderList, error) {
	s.listCalls++
	s.listParams = params
	s.listFilters = filters
	return &orders.OrderList{}, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "controllers-test"})
}

const validCreateBody = `{
	"customer_name": "Ada Lovelace",
	"customer_email": "ADA@Example.COM",
	"currency": "btc",
	"shipping": {
		"line1": "1 Analytical Way",
		"city": "London",
		"postal_code": "EC1A 1BB",
		"country": "gb"
	},
	"items": [
		{"product_ref": "tee-classic", "name": "Classic Tee", "qty": 2, "unit_price_usd": "25.00"}
	]
}`

func TestCreateOrderNormalizesInput(t *testing.T) {
	svc := &stubOrdersService{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(validCreateBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	CreateOrder(svc, testLogger())(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.createInput == nil {
		t.Fatal("service was not called")
	}
	if svc.createInput.CustomerEmail != "ada@example.com" {
		t.Fatalf("email not lowercased: %q", svc.createInput.CustomerEmail)
	}
	if svc.createInput.Currency != "BTC" {
		t.Fatalf("currency not uppercased: %q", svc.createInput.Currency)
	}
	if svc.createInput.Shipping.Country != "GB" {
		t.Fatalf("country not uppercased: %q", svc.createInput.Shipping.Country)
	}
	if len(svc.createInput.Items) != 1 || svc.createInput.Items[0].Qty != 2 {
		t.Fatalf("unexpected items: %+v", svc.createInput.Items)
	}
}

func TestCreateOrderRejectsInvalidBody(t *testing.T) {
	cases := map[string]string{
		"empty object":  `{}`,
		"not json":      `not-json`,
		"missing items": `{"customer_name":"A","customer_email":"a@b.co","currency":"BTC","shipping":{"line1":"x","city":"y","postal_code":"1","country":"US"},"items":[]}`,
		"bad email":     `{"customer_name":"A","customer_email":"nope","currency":"BTC","shipping":{"line1":"x","city":"y","postal_code":"1","country":"US"},"items":[{"product_ref":"p","name":"n","qty":1,"unit_price_usd":"1"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubOrdersService{}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			CreateOrder(svc, testLogger())(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if svc.createInput != nil {
				t.Fatal("service must not be called for invalid input")
			}
		})
	}
}

func withOrderRef(req *http.Request, orderRef string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderRef", orderRef)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestGetOrderMapsNotFound(t *testing.T) {
	svc := &stubOrdersService{getErr: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	req := withOrderRef(httptest.NewRequest(http.MethodGet, "/api/v1/orders/BW-2026-000404", nil), "BW-2026-000404")
	rec := httptest.NewRecorder()

	GetOrder(svc, testLogger())(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetOrderRequiresRef(t *testing.T) {
	svc := &stubOrdersService{}
	req := withOrderRef(httptest.NewRequest(http.MethodGet, "/api/v1/orders/%20", nil), "  ")
	rec := httptest.NewRecorder()

	GetOrder(svc, testLogger())(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
