package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnknownToken = errors.New("payment token not in mapping")

// Payment token resolved from the static address mapping.
type TokenInfo struct {
	Symbol   string
	Decimals int32
}

// TokenTable maps a lowercased payment-token address to its symbol and
// decimal scale. Unmapped tokens make a record unpriceable.
type TokenTable map[string]TokenInfo

func (t TokenTable) Resolve(addr string) (TokenInfo, error) {
	info, ok := t[strings.ToLower(addr)]
	if !ok {
		return TokenInfo{}, ErrUnknownToken
	}
	return info, nil
}

// FormatAmount renders a raw integer amount as "<amount> <symbol>": an
// integer when the scaled value is exact, otherwise up to 10 decimal
// places with trailing zeros stripped.
func FormatAmount(raw string, tok TokenInfo) (string, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return "", err
	}

	amt := v.Shift(-tok.Decimals)

	var s string
	if amt.IsInteger() {
		s = amt.Truncate(0).String()
	} else {
		s = strings.TrimRight(strings.TrimRight(amt.StringFixed(10), "0"), ".")
	}

	return s + " " + tok.Symbol, nil
}
