package coinbase

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

const apiVersion = "2018-03-22"

var (
	errBaseURLRequired       = errors.New("coinbase base url is required")
	errAPIKeyRequired        = errors.New("coinbase api key is required")
	errWebhookSecretRequired = errors.New("coinbase webhook secret is required")
	errLoggerRequired        = errors.New("coinbase logger is required")
)

// ChargeStatus is the Commerce charge timeline vocabulary.
type ChargeStatus string

const (
	ChargeNew        ChargeStatus = "NEW"
	ChargePending    ChargeStatus = "PENDING"
	ChargeCompleted  ChargeStatus = "COMPLETED"
	ChargeExpired    ChargeStatus = "EXPIRED"
	ChargeUnresolved ChargeStatus = "UNRESOLVED"
	ChargeResolved   ChargeStatus = "RESOLVED"
	ChargeCanceled   ChargeStatus = "CANCELED"
)

// Unresolved contexts reported alongside ChargeUnresolved.
const (
	ContextUnderpaid = "UNDERPAID"
	ContextOverpaid  = "OVERPAID"
	ContextDelayed   = "DELAYED"
)

// Money is an amount in one currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// TimelineEntry is one status change on a charge. Commerce appends entries
// in order, so the last entry is the current state.
type TimelineEntry struct {
	Time    time.Time    `json:"time"`
	Status  ChargeStatus `json:"status"`
	Context string       `json:"context,omitempty"`
}

// Payment is one on-chain payment towards a charge.
type Payment struct {
	Network       string `json:"network"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Value         struct {
		Crypto Money `json:"crypto"`
	} `json:"value"`
	Block struct {
		Height                   int    `json:"height"`
		Hash                     string `json:"hash"`
		ConfirmationsAccumulated int    `json:"confirmations_accumulated"`
		ConfirmationsRequired    int    `json:"confirmations_required"`
	} `json:"block"`
}

// Charge is the slice of the Commerce charge object the backend reads.
type Charge struct {
	Code      string            `json:"code"`
	Name      string            `json:"name"`
	HostedURL string            `json:"hosted_url"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	Timeline  []TimelineEntry   `json:"timeline"`
	Metadata  map[string]string `json:"metadata"`
	Pricing   map[string]Money  `json:"pricing"`
	Payments  []Payment         `json:"payments"`
	Addresses map[string]string `json:"addresses"`
}

// CurrentStatus returns the latest timeline status and its context.
func (c *Charge) CurrentStatus() (ChargeStatus, string) {
	if c == nil || len(c.Timeline) == 0 {
		return ChargeNew, ""
	}
	last := c.Timeline[len(c.Timeline)-1]
	return last.Status, last.Context
}

// PaidTotal sums the crypto value of all payments in the given currency.
func (c *Charge) PaidTotal(currency string) decimal.Decimal {
	total := decimal.Zero
	if c == nil {
		return total
	}
	for _, p := range c.Payments {
		if strings.EqualFold(p.Value.Crypto.Currency, currency) {
			total = total.Add(p.Value.Crypto.Amount)
		}
	}
	return total
}

// MaxConfirmations returns the deepest confirmation count across payments.
func (c *Charge) MaxConfirmations() int {
	depth := 0
	if c == nil {
		return depth
	}
	for _, p := range c.Payments {
		if p.Block.ConfirmationsAccumulated > depth {
			depth = p.Block.ConfirmationsAccumulated
		}
	}
	return depth
}

// LatestTransactionID returns the most recent payment's transaction id,
// or nil when no payment has been seen.
func (c *Charge) LatestTransactionID() *string {
	if c == nil || len(c.Payments) == 0 {
		return nil
	}
	tx := c.Payments[len(c.Payments)-1].TransactionID
	if tx == "" {
		return nil
	}
	return &tx
}

// CreateChargeParams describes a hosted charge for one order.
type CreateChargeParams struct {
	Name        string
	Description string
	OrderRef    string
	Amount      decimal.Decimal
	Currency    string
}

// Client wraps the Coinbase Commerce API with auth, logging, and error mapping.
type Client struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	http          *http.Client
	logger        *logger.Logger
}

// NewClient initializes the Commerce wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.CoinbaseConfig, logg *logger.Logger) (*Client, error) {
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
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	c := &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		http:          &http.Client{Timeout: 30 * time.Second},
		logger:        logg,
	}

	logg.Info(ctx, "coinbase client initialized")
	return c, nil
}

// SigningSecret returns the webhook HMAC secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// CreateCharge creates a hosted charge priced in the local currency.
func (c *Client) CreateCharge(ctx context.Context, params CreateChargeParams) (*Charge, error) {
	c.log(ctx, "request", "create_charge", map[string]any{
		"order_ref": params.OrderRef,
		"amount":    params.Amount.String(),
		"currency":  params.Currency,
	})

	body := map[string]any{
		"name":         params.Name,
		"description":  params.Description,
		"pricing_type": "fixed_price",
		"local_price": map[string]string{
			"amount":   params.Amount.String(),
			"currency": params.Currency,
		},
		"metadata": map[string]string{"orderRef": params.OrderRef},
	}

	var envelope struct {
		Data Charge `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/charges", body, &envelope); err != nil {
		c.log(ctx, "error", "create_charge", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "create_charge", map[string]any{"charge_code": envelope.Data.Code})
	return &envelope.Data, nil
}

// GetCharge fetches the authoritative charge state.
func (c *Client) GetCharge(ctx context.Context, code string) (*Charge, error) {
	if strings.TrimSpace(code) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge code is required")
	}
	c.log(ctx, "request", "get_charge", map[string]any{"charge_code": code})

	var envelope struct {
		Data Charge `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/charges/"+code, nil, &envelope); err != nil {
		c.log(ctx, "error", "get_charge", map[string]any{"error": err.Error()})
		return nil, err
	}

	status, _ := envelope.Data.CurrentStatus()
	c.log(ctx, "response", "get_charge", map[string]any{
		"charge_code": envelope.Data.Code,
		"status":      string(status),
	})
	return &envelope.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode coinbase request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build coinbase request")
	}
	req.Header.Set("X-CC-Api-Key", c.apiKey)
	req.Header.Set("X-CC-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "coinbase request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read coinbase response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return pkgerrors.New(domainCodeForStatus(resp.StatusCode),
			fmt.Sprintf("coinbase returned status %d: %s", resp.StatusCode, truncate(raw, 256)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode coinbase response")
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
		c.logger.Error(ctx, fmt.Sprintf("coinbase %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("coinbase %s", phase))
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
