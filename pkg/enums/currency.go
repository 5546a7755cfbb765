package enums

import "fmt"

// Currency represents the cryptocurrencies an order can be paid in.
// Order totals are always priced in USD; Currency picks the payment rail.
type Currency string

const (
	CurrencyBTC Currency = "BTC"
	CurrencyETH Currency = "ETH"
	CurrencyDCR Currency = "DCR"
	CurrencyLTC Currency = "LTC"
)

var validCurrencies = []Currency{
	CurrencyBTC,
	CurrencyETH,
	CurrencyDCR,
	CurrencyLTC,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCurrency converts a raw string into a Currency.
func ParseCurrency(value string) (Currency, error) {
	for _, candidate := range validCurrencies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}

// PaymentRail identifies which backend watches payments for a currency.
type PaymentRail string

const (
	RailWalletRPC PaymentRail = "wallet_rpc"
	RailBTCPay    PaymentRail = "btcpay"
	RailCoinbase  PaymentRail = "coinbase"
)

// Rail returns the payment backend responsible for the currency.
// DCR and LTC are watched by polling the house wallet RPC; BTC invoices
// are hosted on BTCPay; ETH charges are hosted on Coinbase Commerce.
func (c Currency) Rail() PaymentRail {
	switch c {
	case CurrencyBTC:
		return RailBTCPay
	case CurrencyETH:
		return RailCoinbase
	default:
		return RailWalletRPC
	}
}

// WalletRPCCurrencies lists the currencies settled by polling the house
// wallets rather than a hosted invoice provider.
func WalletRPCCurrencies() []Currency {
	var out []Currency
	for _, candidate := range validCurrencies {
		if candidate.Rail() == RailWalletRPC {
			out = append(out, candidate)
		}
	}
	return out
}
