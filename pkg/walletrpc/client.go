package walletrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/pkg/config"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

var (
	errEndpointRequired = errors.New("wallet rpc endpoint is required")
	errLoggerRequired   = errors.New("wallet rpc logger is required")
)

// Client is the slice of a coin wallet's JSON-RPC surface the backend needs:
// fresh deposit addresses and received-by-address queries at a confirmation
// depth. dcrwallet, bitcoind and litecoind all speak this dialect.
type Client interface {
	NewAddress(ctx context.Context) (string, error)
	Received(ctx context.Context, address string, minConf int) (decimal.Decimal, error)
}

type client struct {
	endpoint string
	user     string
	password string
	http     *http.Client
	logg     *logger.Logger
	nextID   atomic.Int64
}

// NewClient builds a JSON-RPC client for one wallet endpoint.
func NewClient(endpoint, user, password string, timeout time.Duration, logg *logger.Logger) (Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errEndpointRequired
	}
	if logg == nil {
		return nil, errLoggerRequired
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &client{
		endpoint: endpoint,
		user:     user,
		password: password,
		http:     &http.Client{Timeout: timeout},
		logg:     logg,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int64           `json:"id"`
}

func (c *client) NewAddress(ctx context.Context) (string, error) {
	var address string
	if err := c.call(ctx, "getnewaddress", nil, &address); err != nil {
		return "", err
	}
	if address == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "wallet returned an empty address")
	}
	return address, nil
}

func (c *client) Received(ctx context.Context, address string, minConf int) (decimal.Decimal, error) {
	if minConf < 0 {
		minConf = 0
	}
	var amount json.Number
	if err := c.call(ctx, "getreceivedbyaddress", []any{address, minConf}, &amount); err != nil {
		return decimal.Zero, err
	}
	received, err := decimal.NewFromString(amount.String())
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse received amount")
	}
	return received, nil
}

func (c *client) call(ctx context.Context, method string, params []any, result any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build rpc request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("wallet %s", method))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read rpc response")
	}
	if resp.StatusCode != http.StatusOK {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("wallet %s returned status %d", method, resp.StatusCode))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode rpc response")
	}
	if rpcResp.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, rpcResp.Error, fmt.Sprintf("wallet %s", method))
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode rpc result")
		}
	}
	return nil
}

// Pool holds one wallet client per configured currency.
type Pool struct {
	clients map[enums.Currency]Client
}

// NewPool builds clients for every endpoint in the config. Currencies whose
// rail is not wallet RPC are rejected up front; a typo there should fail the
// boot, not the first order.
func NewPool(cfg config.WalletRPCConfig, logg *logger.Logger) (*Pool, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	clients := make(map[enums.Currency]Client, len(cfg.Endpoints))
	for raw, endpoint := range cfg.Endpoints {
		currency, err := enums.ParseCurrency(strings.ToUpper(strings.TrimSpace(raw)))
		if err != nil {
			return nil, fmt.Errorf("wallet rpc endpoints: %w", err)
		}
		if currency.Rail() != enums.RailWalletRPC {
			return nil, fmt.Errorf("currency %s is served by %s, not wallet rpc", currency, currency.Rail())
		}
		c, err := NewClient(endpoint, cfg.User, cfg.Password, cfg.Timeout, logg)
		if err != nil {
			return nil, fmt.Errorf("wallet rpc %s: %w", currency, err)
		}
		clients[currency] = c
	}
	return &Pool{clients: clients}, nil
}

// ForCurrency resolves the client for a currency.
func (p *Pool) ForCurrency(currency enums.Currency) (Client, error) {
	c, ok := p.clients[currency]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("no wallet endpoint configured for %s", currency))
	}
	return c, nil
}

// Currencies lists the configured wallet currencies.
func (p *Pool) Currencies() []enums.Currency {
	out := make([]enums.Currency, 0, len(p.clients))
	for currency := range p.clients {
		out = append(out, currency)
	}
	return out
}
