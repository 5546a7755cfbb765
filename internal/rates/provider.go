package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blockwearhq/blockwear-backend/pkg/config"
	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

var (
	errBaseURLRequired = errors.New("rates base url is required")
	errLoggerRequired  = errors.New("rates logger is required")
)

// Provider quotes the current USD price of one payment currency.
type Provider interface {
	GetCurrentPrice(ctx context.Context, currency enums.Currency) (decimal.Decimal, error)
}

// tickerIDs maps our currencies onto the public ticker API's asset ids.
var tickerIDs = map[enums.Currency]string{
	enums.CurrencyBTC: "bitcoin",
	enums.CurrencyETH: "ethereum",
	enums.CurrencyDCR: "decred",
	enums.CurrencyLTC: "litecoin",
}

// HTTPProvider quotes prices from a CoinGecko-compatible simple price API.
type HTTPProvider struct {
	baseURL string
	http    *http.Client
	logg    *logger.Logger
}

// NewHTTPProvider builds the ticker-backed provider.
func NewHTTPProvider(cfg config.RatesConfig, logg *logger.Logger) (*HTTPProvider, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logg:    logg,
	}, nil
}

// GetCurrentPrice fetches the spot USD price for one currency.
func (p *HTTPProvider) GetCurrentPrice(ctx context.Context, currency enums.Currency) (decimal.Decimal, error) {
	id, ok := tickerIDs[currency]
	if !ok {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("no ticker id for currency %q", currency))
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", p.baseURL, url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build rates request")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rates request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read rates response")
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("rates provider returned status %d", resp.StatusCode))
	}

	var payload map[string]map[string]json.Number
	if err := json.Unmarshal(raw, &payload); err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode rates response")
	}
	quote, ok := payload[id]["usd"]
	if !ok {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("rates provider returned no usd quote for %s", id))
	}

	price, err := decimal.NewFromString(quote.String())
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse usd quote")
	}
	if !price.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("rates provider quoted %s for %s", price, currency))
	}
	return price, nil
}
