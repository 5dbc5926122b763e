package sale

import (
	"strings"

	"github.com/shopspring/decimal"
)

// LineItem is one row of an in-progress sale: a selected drug, the
// requested quantity, and the price/stock pair last fetched for that drug.
type LineItem struct {
	// Index is the row's stable ordinal. Ordinals are assigned once and
	// never reused within a session, even after the row is removed.
	Index int

	DrugID   string
	DrugName string

	// Quantity is always a non-negative integer; raw input is sanitized
	// before it lands here.
	Quantity int64

	// UnitPrice and AvailableStock are defined only while PriceKnown /
	// StockKnown are set. They hold the last successful lookup for the
	// current DrugID; changing the drug invalidates both.
	UnitPrice      decimal.Decimal
	PriceKnown     bool
	AvailableStock int64
	StockKnown     bool

	// Persisted marks rows that mirror an already-saved sale item on the
	// server. Removing a persisted row is a soft delete: the row stays in
	// the collection flagged MarkedForRemoval so the server can process
	// the deletion on submit. New rows are deleted outright.
	Persisted        bool
	MarkedForRemoval bool

	// generation guards against out-of-order lookup responses: a fetched
	// price/stock pair is applied only if no newer drug selection has
	// happened on this row in the meantime.
	generation uint64
}

// Subtotal is quantity x unit price, or zero while the price is unknown.
func (li *LineItem) Subtotal() decimal.Decimal {
	if !li.PriceKnown {
		return decimal.Zero
	}
	return li.UnitPrice.Mul(decimal.NewFromInt(li.Quantity))
}

// ExceedsStock reports whether the requested quantity is strictly above
// the last-known stock. Unknown stock never flags the row.
func (li *LineItem) ExceedsStock() bool {
	return li.StockKnown && li.Quantity > li.AvailableStock
}

// ParseQuantity coerces raw user input to a non-negative integer quantity.
// Everything except digits and the first decimal separator is stripped,
// repeated separators collapse to the first occurrence, and the integer
// part is kept. Non-numeric input becomes 0.
func ParseQuantity(raw string) int64 {
	var b strings.Builder
	seenSep := false
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case (r == '.' || r == ',') && !seenSep:
			b.WriteRune('.')
			seenSep = true
		}
	}
	s := b.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return 0
	}
	var n int64
	for i := 0; i < len(s); i++ {
		n = n*10 + int64(s[i]-'0')
		if n < 0 {
			// overflow; clamp to a value no stock check will ever pass
			return 1<<63 - 1
		}
	}
	return n
}
