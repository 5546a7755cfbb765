package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/api/responses"
	"github.com/blockwearhq/blockwear-backend/api/validators"
	"github.com/blockwearhq/blockwear-backend/internal/orders"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

type createOrderRequest struct {
	CustomerName  string                `json:"customer_name" validate:"required,max=200"`
	CustomerEmail string                `json:"customer_email" validate:"required,email,max=320"`
	Shipping      createShippingRequest `json:"shipping" validate:"required"`
	Currency      string                `json:"currency" validate:"required,max=10"`
	Items         []createLineItemInput `json:"items" validate:"required,min=1,max=50,dive"`
}

type createShippingRequest struct {
	Line1      string  `json:"line1" validate:"required,max=200"`
	Line2      *string `json:"line2" validate:"omitempty,max=200"`
	City       string  `json:"city" validate:"required,max=100"`
	Region     *string `json:"region" validate:"omitempty,max=100"`
	PostalCode string  `json:"postal_code" validate:"required,max=20"`
	Country    string  `json:"country" validate:"required,len=2"`
}

type createLineItemInput struct {
	ProductRef   string          `json:"product_ref" validate:"required,max=100"`
	VariantRef   *string         `json:"variant_ref" validate:"omitempty,max=100"`
	Name         string          `json:"name" validate:"required,max=200"`
	Qty          int             `json:"qty" validate:"required,min=1,max=100"`
	UnitPriceUSD decimal.Decimal `json:"unit_price_usd" validate:"required"`
}

// CreateOrder is the storefront submission endpoint: it validates the body,
// quotes the crypto amount, provisions the payment instrument, persists the
// order and returns the snapshot the confirmation page renders.
func CreateOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var body createOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := orders.CreateOrderInput{
			CustomerName:  validators.SanitizeString(body.CustomerName, 200),
			CustomerEmail: strings.ToLower(validators.SanitizeString(body.CustomerEmail, 320)),
			Currency:      strings.ToUpper(validators.SanitizeString(body.Currency, 10)),
			Shipping: orders.ShippingInput{
				Line1:      validators.SanitizeString(body.Shipping.Line1, 200),
				Line2:      body.Shipping.Line2,
				City:       validators.SanitizeString(body.Shipping.City, 100),
				Region:     body.Shipping.Region,
				PostalCode: validators.SanitizeString(body.Shipping.PostalCode, 20),
				Country:    strings.ToUpper(validators.SanitizeString(body.Shipping.Country, 2)),
			},
		}
		for _, item := range body.Items {
			input.Items = append(input.Items, orders.LineItemInput{
				ProductRef:   validators.SanitizeString(item.ProductRef, 100),
				VariantRef:   item.VariantRef,
				Name:         validators.SanitizeString(item.Name, 200),
				Qty:          item.Qty,
				UnitPriceUSD: item.UnitPriceUSD,
			})
		}

		snapshot, err := svc.Create(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, snapshot)
	}
}

// GetOrder is the storefront status poller: the order ref in the URL is the
// only credential the customer holds.
func GetOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderRef := strings.TrimSpace(chi.URLParam(r, "orderRef"))
		if orderRef == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order ref required"))
			return
		}

		snapshot, err := svc.GetByRef(ctx, orderRef)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}
