package sale

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Totals is the derived summary of a sale. It is recomputed after every
// mutation and never stored.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Totals derives the sale summary. Subtotal sums quantity x unit price
// over non-removed rows whose price is known; rows still awaiting a lookup
// contribute nothing. Tax is the override when it parses as a number, else
// subtotal x defaultTaxRate. Discount is the override or zero. Total is
// subtotal + tax - discount, deliberately not clamped: a discount larger
// than subtotal+tax surfaces as a negative total.
func (s *Sale) Totals(defaultTaxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, row := range s.rows {
		if row.MarkedForRemoval || !row.PriceKnown {
			continue
		}
		subtotal = subtotal.Add(row.Subtotal())
	}

	tax, ok := parseAmount(s.taxOverride)
	if !ok {
		tax = subtotal.Mul(defaultTaxRate)
	}

	discount, ok := parseAmount(s.discountOverride)
	if !ok {
		discount = decimal.Zero
	}

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Discount: discount,
		Total:    subtotal.Add(tax).Sub(discount),
	}
}

func parseAmount(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
