package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/blockwearhq/blockwear-backend/pkg/config"
	"github.com/blockwearhq/blockwear-backend/pkg/db/models"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

var (
	errBaseURLRequired = errors.New("fulfillment base url is required")
	errAPIKeyRequired  = errors.New("fulfillment api key is required")
	errLoggerRequired  = errors.New("fulfillment logger is required")
)

type customerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type shippingInfo struct {
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	Region     *string `json:"region,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
}

type submitItem struct {
	ProductRef string  `json:"product_ref"`
	VariantRef *string `json:"variant_ref,omitempty"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
}

// submitRequest is the provider's order shape. external_ref doubles as the
// provider-side idempotency key, so a retried submit after a timeout lands
// on the same production order.
type submitRequest struct {
	ExternalRef string       `json:"external_ref"`
	Customer    customerInfo `json:"customer"`
	ShipTo      shippingInfo `json:"ship_to"`
	Items       []submitItem `json:"items"`
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Client talks to the print-on-demand provider's order API.
type Client struct {
	baseURL    string
	apiKey     string
	webhookKey string
	http       *http.Client
	logger     *logger.Logger
}

// NewClient initializes the provider wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.FulfillmentConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		webhookKey: strings.TrimSpace(cfg.WebhookKey),
		http:       &http.Client{Timeout: timeout},
		logger:     logg,
	}

	logg.Info(ctx, "fulfillment client initialized")
	return c, nil
}

// WebhookKey returns the shared secret for inbound provider webhooks.
func (c *Client) WebhookKey() string {
	if c == nil {
		return ""
	}
	return c.webhookKey
}

// SubmitOrder creates a production order and returns the provider's id.
func (c *Client) SubmitOrder(ctx context.Context, order models.Order) (string, error) {
	if len(order.Items) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order has no line items")
	}

	req := submitRequest{
		ExternalRef: order.OrderRef,
		Customer:    customerInfo{Name: order.CustomerName, Email: order.CustomerEmail},
		ShipTo: shippingInfo{
			Line1:      order.ShipLine1,
			Line2:      order.ShipLine2,
			City:       order.ShipCity,
			Region:     order.ShipRegion,
			PostalCode: order.ShipPostalCode,
			Country:    order.ShipCountry,
		},
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, submitItem{
			ProductRef: item.ProductRef,
			VariantRef: item.VariantRef,
			Name:       item.Name,
			Quantity:   item.Qty,
		})
	}

	c.log(ctx, "request", "submit_order", map[string]any{
		"order_ref": order.OrderRef,
		"items":     len(req.Items),
	})

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &resp); err != nil {
		c.log(ctx, "error", "submit_order", map[string]any{"error": err.Error()})
		return "", err
	}
	if resp.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "provider returned no order id")
	}

	c.log(ctx, "response", "submit_order", map[string]any{
		"order_ref":       order.OrderRef,
		"fulfillment_ref": resp.ID,
		"status":          resp.Status,
	})
	return resp.ID, nil
}

// CancelOrder cancels a submitted production order.
func (c *Client) CancelOrder(ctx context.Context, externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "fulfillment ref is required")
	}

	c.log(ctx, "request", "cancel_order", map[string]any{"fulfillment_ref": externalID})
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/orders/%s/cancel", externalID), nil, nil); err != nil {
		c.log(ctx, "error", "cancel_order", map[string]any{"error": err.Error()})
		return err
	}
	c.log(ctx, "response", "cancel_order", map[string]any{"fulfillment_ref": externalID})
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode fulfillment request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build fulfillment request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fulfillment request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read fulfillment response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return pkgerrors.New(domainCodeForStatus(resp.StatusCode),
			fmt.Sprintf("fulfillment provider returned status %d: %s", resp.StatusCode, truncate(raw, 256)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode fulfillment response")
		}
	}
	return nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("fulfillment %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("fulfillment %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"secret", "token", "key", "email"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func truncate(raw []byte, limit int) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	default:
		return pkgerrors.CodeDependency
	}
}
