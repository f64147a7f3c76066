package table

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoAmount is returned when a cell holds no parsable amount.
var ErrNoAmount = errors.New("no amount in cell")

// ParseBRL parses a Brazilian formatted amount such as "R$ 19.542,51",
// "-1.000,00" or "350". Dots group thousands and the comma separates cents.
func ParseBRL(s string) (decimal.Decimal, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
	clean = strings.TrimPrefix(clean, "R$")
	clean = strings.TrimPrefix(clean, "-R$")

	negative := strings.HasPrefix(strings.TrimSpace(s), "-")
	clean = strings.TrimPrefix(clean, "-")
	if clean == "" {
		return decimal.Zero, ErrNoAmount
	}

	clean = strings.ReplaceAll(clean, ".", "")
	clean = strings.Replace(clean, ",", ".", 1)

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNoAmount, s)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}
