package btcpay

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

	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/pkg/config"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

var (
	errBaseURLRequired       = errors.New("btcpay base url is required")
	errAPIKeyRequired        = errors.New("btcpay api key is required")
	errStoreIDRequired       = errors.New("btcpay store id is required")
	errWebhookSecretRequired = errors.New("btcpay webhook secret is required")
	errLoggerRequired        = errors.New("btcpay logger is required")
)

// InvoiceStatus is the BTCPay Greenfield invoice status vocabulary.
type InvoiceStatus string

const (
	InvoiceNew        InvoiceStatus = "New"
	InvoiceProcessing InvoiceStatus = "Processing"
	InvoiceSettled    InvoiceStatus = "Settled"
	InvoiceExpired    InvoiceStatus = "Expired"
	InvoiceInvalid    InvoiceStatus = "Invalid"
)

// Invoice is the slice of the Greenfield invoice object the backend reads.
// BTCPay serializes amounts as JSON strings; decimal handles both forms.
type Invoice struct {
	ID               string            `json:"id"`
	StoreID          string            `json:"storeId"`
	Status           InvoiceStatus     `json:"status"`
	AdditionalStatus string            `json:"additionalStatus"`
	Amount           decimal.Decimal   `json:"amount"`
	Currency         string            `json:"currency"`
	CheckoutLink     string            `json:"checkoutLink"`
	CreatedTime      int64             `json:"createdTime"`
	ExpirationTime   int64             `json:"expirationTime"`
	Metadata         map[string]string `json:"metadata"`
}

// PaymentMethod is one settlement rail on an invoice, with its payments.
type PaymentMethod struct {
	PaymentMethod string          `json:"paymentMethod"`
	Destination   string          `json:"destination"`
	Amount        decimal.Decimal `json:"amount"`
	Due           decimal.Decimal `json:"due"`
	TotalPaid     decimal.Decimal `json:"totalPaid"`
	Payments      []PaymentDetail `json:"payments"`
}

// PaymentDetail is a single on-chain payment towards an invoice.
type PaymentDetail struct {
	ID           string          `json:"id"`
	ReceivedDate int64           `json:"receivedDate"`
	Value        decimal.Decimal `json:"value"`
	Status       string          `json:"status"`
	Destination  string          `json:"destination"`
}

// TotalReceived sums the paid totals across every payment method.
func TotalReceived(methods []PaymentMethod) decimal.Decimal {
	total := decimal.Zero
	for _, m := range methods {
		total = total.Add(m.TotalPaid)
	}
	return total
}

// LatestPayment returns the most recently received payment, or nil when
// nothing has been paid yet.
func LatestPayment(methods []PaymentMethod) *PaymentDetail {
	var latest *PaymentDetail
	for i := range methods {
		for j := range methods[i].Payments {
			p := &methods[i].Payments[j]
			if latest == nil || p.ReceivedDate > latest.ReceivedDate {
				latest = p
			}
		}
	}
	return latest
}

// CreateInvoiceParams describes a hosted invoice for one order.
type CreateInvoiceParams struct {
	OrderRef          string
	Amount            decimal.Decimal
	Currency          string
	ExpirationMinutes int
}

// Client wraps the BTCPay Greenfield API with auth, logging, and error mapping.
type Client struct {
	baseURL       string
	apiKey        string
	storeID       string
	webhookSecret string
	http          *http.Client
	logger        *logger.Logger
}

// NewClient initializes the BTCPay wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.BTCPayConfig, logg *logger.Logger) (*Client, error) {
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
	storeID := strings.TrimSpace(cfg.StoreID)
	if storeID == "" {
		return nil, errStoreIDRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	c := &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		storeID:       storeID,
		webhookSecret: webhookSecret,
		http:          &http.Client{Timeout: 30 * time.Second},
		logger:        logg,
	}

	logg.Info(ctx, "btcpay client initialized")
	return c, nil
}

// SigningSecret returns the webhook HMAC secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// StoreID returns the configured BTCPay store.
func (c *Client) StoreID() string {
	if c == nil {
		return ""
	}
	return c.storeID
}

// CreateInvoice creates a hosted invoice for an order.
func (c *Client) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error) {
	c.log(ctx, "request", "create_invoice", map[string]any{
		"order_ref": params.OrderRef,
		"amount":    params.Amount.String(),
		"currency":  params.Currency,
	})

	body := map[string]any{
		"amount":   params.Amount.String(),
		"currency": params.Currency,
		"metadata": map[string]string{"orderRef": params.OrderRef},
	}
	if params.ExpirationMinutes > 0 {
		body["checkout"] = map[string]any{"expirationMinutes": params.ExpirationMinutes}
	}

	var invoice Invoice
	path := fmt.Sprintf("/api/v1/stores/%s/invoices", c.storeID)
	if err := c.do(ctx, http.MethodPost, path, body, &invoice); err != nil {
		c.log(ctx, "error", "create_invoice", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "create_invoice", map[string]any{
		"invoice_id": invoice.ID,
		"status":     string(invoice.Status),
	})
	return &invoice, nil
}

// GetInvoice fetches the authoritative invoice state.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	c.log(ctx, "request", "get_invoice", map[string]any{"invoice_id": invoiceID})

	var invoice Invoice
	path := fmt.Sprintf("/api/v1/stores/%s/invoices/%s", c.storeID, invoiceID)
	if err := c.do(ctx, http.MethodGet, path, nil, &invoice); err != nil {
		c.log(ctx, "error", "get_invoice", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "get_invoice", map[string]any{
		"invoice_id": invoice.ID,
		"status":     string(invoice.Status),
	})
	return &invoice, nil
}

// GetPaymentMethods fetches the per-rail payment breakdown of an invoice.
func (c *Client) GetPaymentMethods(ctx context.Context, invoiceID string) ([]PaymentMethod, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	c.log(ctx, "request", "get_payment_methods", map[string]any{"invoice_id": invoiceID})

	var methods []PaymentMethod
	path := fmt.Sprintf("/api/v1/stores/%s/invoices/%s/payment-methods", c.storeID, invoiceID)
	if err := c.do(ctx, http.MethodGet, path, nil, &methods); err != nil {
		c.log(ctx, "error", "get_payment_methods", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "get_payment_methods", map[string]any{
		"invoice_id": invoiceID,
		"methods":    len(methods),
	})
	return methods, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode btcpay request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build btcpay request")
	}
	req.Header.Set("Authorization", "token "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "btcpay request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read btcpay response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return pkgerrors.New(domainCodeForStatus(resp.StatusCode),
			fmt.Sprintf("btcpay returned status %d: %s", resp.StatusCode, truncate(raw, 256)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode btcpay response")
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
		c.logger.Error(ctx, fmt.Sprintf("btcpay %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("btcpay %s", phase))
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
