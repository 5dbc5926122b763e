package sale

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Errors returned by sale operations.
var (
	ErrRowNotFound = errors.New("line item not found")
	ErrRowRemoved  = errors.New("line item is marked for removal")
)

// Sale is one in-progress sale: an ordered line-item collection plus the
// tax/discount overrides and customer fields of the summary form. It is the
// single source of truth the UI renders from; Sale itself does no I/O and
// is not safe for concurrent use — callers serialize access per sale.
type Sale struct {
	rows      []*LineItem
	byIndex   map[int]*LineItem
	nextIndex int

	// Raw override field contents. Parsed (or ignored as non-numeric) at
	// totals time, mirroring how the summary form treats them.
	taxOverride      string
	discountOverride string

	patientID string
	walkIn    bool
}

// New creates an empty sale.
func New() *Sale {
	return &Sale{byIndex: make(map[int]*LineItem)}
}

// SeedItem is a persisted line item of an already-saved sale being edited.
// Seeded rows take the soft-delete path on removal.
type SeedItem struct {
	DrugID   string
	DrugName string
	Quantity int64
}

// NewFromPersisted creates a sale pre-populated with persisted items.
// Price and stock start unknown until lookups complete, as with any row.
func NewFromPersisted(items []SeedItem) *Sale {
	s := New()
	for _, it := range items {
		row := s.AddRow()
		row.DrugID = it.DrugID
		row.DrugName = it.DrugName
		row.Quantity = it.Quantity
		row.Persisted = true
	}
	return s
}

// AddRow appends a new empty line item and returns it for immediate
// population (the barcode flow fills it in directly). The ordinal counter
// only ever moves forward.
func (s *Sale) AddRow() *LineItem {
	row := &LineItem{Index: s.nextIndex}
	s.nextIndex++
	s.rows = append(s.rows, row)
	s.byIndex[row.Index] = row
	return row
}

// Row returns the line item with the given ordinal, removed or not.
func (s *Sale) Row(index int) (*LineItem, bool) {
	row, ok := s.byIndex[index]
	return row, ok
}

// Rows returns the line items in insertion order, including rows marked
// for removal (the renderer hides those itself).
func (s *Sale) Rows() []*LineItem {
	return s.rows
}

// RowCount is the total number of ordinals ever assigned. It mirrors the
// formset management-form counter the server-rendered page tracks.
func (s *Sale) RowCount() int {
	return s.nextIndex
}

// RemoveRow removes a line item: persisted rows are soft-deleted (flagged
// and kept for the submitted form data), new rows are dropped outright.
// Removing an unknown or already-removed row is a no-op. Reports whether
// the sale changed.
func (s *Sale) RemoveRow(index int) bool {
	row, ok := s.byIndex[index]
	if !ok || row.MarkedForRemoval {
		return false
	}
	if row.Persisted {
		row.MarkedForRemoval = true
		return true
	}
	delete(s.byIndex, index)
	for i, r := range s.rows {
		if r.Index == index {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			break
		}
	}
	return true
}

// SelectDrug changes a row's drug. Any cached price/stock becomes invalid
// immediately; the returned generation must accompany the eventual
// ApplyLookup so stale responses from an older selection are dropped.
// An empty drugID clears the selection and no lookup should be issued.
func (s *Sale) SelectDrug(index int, drugID string) (uint64, error) {
	row, ok := s.byIndex[index]
	if !ok {
		return 0, ErrRowNotFound
	}
	if row.MarkedForRemoval {
		return 0, ErrRowRemoved
	}
	row.generation++
	row.DrugID = drugID
	row.DrugName = ""
	row.PriceKnown = false
	row.StockKnown = false
	return row.generation, nil
}

// ApplyLookup stores a fetched price/stock pair on a row. The pair is
// applied only if generation still matches the row's current drug
// selection; a stale response is silently discarded. Reports whether the
// lookup was applied.
func (s *Sale) ApplyLookup(index int, generation uint64, price decimal.Decimal, stock int64) bool {
	row, ok := s.byIndex[index]
	if !ok || row.MarkedForRemoval || row.generation != generation {
		return false
	}
	row.UnitPrice = price
	row.PriceKnown = true
	row.AvailableStock = stock
	row.StockKnown = true
	return true
}

// SetQuantity updates a row's quantity from raw user input, sanitized to a
// non-negative integer.
func (s *Sale) SetQuantity(index int, raw string) error {
	row, ok := s.byIndex[index]
	if !ok {
		return ErrRowNotFound
	}
	if row.MarkedForRemoval {
		return ErrRowRemoved
	}
	row.Quantity = ParseQuantity(raw)
	return nil
}

// ApplyScan folds a resolved barcode into the sale. A non-removed row
// already holding the drug gets its quantity incremented by one and its
// price/stock refreshed (a merge, not a duplicate row); otherwise a new
// row is created and populated directly from the lookup payload, avoiding
// a redundant second fetch. Returns the affected row and whether the scan
// merged into an existing one.
func (s *Sale) ApplyScan(drugID, name string, price decimal.Decimal, stock int64) (*LineItem, bool) {
	for _, row := range s.rows {
		if row.MarkedForRemoval || row.DrugID != drugID {
			continue
		}
		row.Quantity++
		row.DrugName = name
		row.generation++
		row.UnitPrice = price
		row.PriceKnown = true
		row.AvailableStock = stock
		row.StockKnown = true
		return row, true
	}
	row := s.AddRow()
	row.DrugID = drugID
	row.DrugName = name
	row.Quantity = 1
	row.UnitPrice = price
	row.PriceKnown = true
	row.AvailableStock = stock
	row.StockKnown = true
	return row, false
}

// SetTaxOverride stores the tax field's raw contents. Non-numeric input is
// treated as absent at totals time (the default rate applies).
func (s *Sale) SetTaxOverride(raw string) {
	s.taxOverride = raw
}

// SetDiscount stores the discount field's raw contents. Non-numeric input
// counts as zero.
func (s *Sale) SetDiscount(raw string) {
	s.discountOverride = raw
}

// SetPatient records the selected patient identifier; empty clears it.
func (s *Sale) SetPatient(id string) {
	s.patientID = id
}

// SetWalkIn records the walk-in customer flag.
func (s *Sale) SetWalkIn(v bool) {
	s.walkIn = v
}

// PatientID returns the selected patient identifier, if any.
func (s *Sale) PatientID() string { return s.patientID }

// WalkIn reports whether the walk-in customer flag is set.
func (s *Sale) WalkIn() bool { return s.walkIn }
