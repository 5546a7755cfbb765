// Package wallet validates payment addresses before they are persisted or
// shown to a customer. Addresses come from our own wallets and invoice
// providers, so validation guards against configuration mistakes and
// corrupted responses rather than hostile input.
package wallet

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/blockwearhq/blockwear-backend/pkg/enums"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
)

const (
	base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	bech32Alphabet = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

// ValidateAddress checks that an address is plausible for the currency.
// Failures return CodeValidation.
func ValidateAddress(currency enums.Currency, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment address is required")
	}

	var err error
	switch currency {
	case enums.CurrencyBTC:
		err = validateBTC(address)
	case enums.CurrencyETH:
		err = validateETH(address)
	case enums.CurrencyDCR:
		err = validateDCR(address)
	case enums.CurrencyLTC:
		err = validateLTC(address)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", currency))
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid %s address", currency))
	}
	return nil
}

func validateBTC(address string) error {
	if strings.HasPrefix(address, "bc1") {
		return checkBech32Body(address[3:])
	}
	if strings.HasPrefix(address, "1") || strings.HasPrefix(address, "3") {
		return checkBase58(address, 26, 35)
	}
	return fmt.Errorf("unrecognized prefix")
}

func validateLTC(address string) error {
	if strings.HasPrefix(address, "ltc1") {
		return checkBech32Body(address[4:])
	}
	if strings.HasPrefix(address, "L") || strings.HasPrefix(address, "M") {
		return checkBase58(address, 26, 35)
	}
	return fmt.Errorf("unrecognized prefix")
}

func validateDCR(address string) error {
	if !strings.HasPrefix(address, "Ds") && !strings.HasPrefix(address, "Dc") {
		return fmt.Errorf("unrecognized prefix")
	}
	return checkBase58(address, 35, 36)
}

// validateETH enforces EIP-55: a mixed-case address must match its keccak
// checksum form. Single-case addresses carry no checksum and pass on the
// hex shape alone.
func validateETH(address string) error {
	if !strings.HasPrefix(address, "0x") {
		return fmt.Errorf("missing 0x prefix")
	}
	body := address[2:]
	if len(body) != 40 {
		return fmt.Errorf("expected 40 hex characters, got %d", len(body))
	}
	for i := 0; i < len(body); i++ {
		if !isHexChar(body[i]) {
			return fmt.Errorf("non-hex character %q", body[i])
		}
	}

	lower := strings.ToLower(body)
	if body == lower || body == strings.ToUpper(body) {
		return nil
	}
	if checksumHex(lower) != body {
		return fmt.Errorf("checksum mismatch")
	}
	return nil
}

// checksumHex computes the EIP-55 mixed-case form of a lowercase hex body.
func checksumHex(lower string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := make([]byte, len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' {
			nibble := digest[i/2]
			if i%2 == 0 {
				nibble >>= 4
			} else {
				nibble &= 0x0f
			}
			if nibble >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out[i] = c
	}
	return string(out)
}

func checkBase58(address string, minLen, maxLen int) error {
	if len(address) < minLen || len(address) > maxLen {
		return fmt.Errorf("length %d outside [%d, %d]", len(address), minLen, maxLen)
	}
	for i := 0; i < len(address); i++ {
		if !strings.ContainsRune(base58Alphabet, rune(address[i])) {
			return fmt.Errorf("non-base58 character %q", address[i])
		}
	}
	return nil
}

func checkBech32Body(body string) error {
	if len(body) < 6 {
		return fmt.Errorf("bech32 body too short")
	}
	for i := 0; i < len(body); i++ {
		if !strings.ContainsRune(bech32Alphabet, rune(body[i])) {
			return fmt.Errorf("non-bech32 character %q", body[i])
		}
	}
	return nil
}

func isHexChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'f':
		return true
	case c >= 'A' && c <= 'F':
		return true
	}
	return false
}
