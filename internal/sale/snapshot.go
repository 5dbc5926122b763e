package sale

import "github.com/shopspring/decimal"

// RowView is the JSON shape of one line item as the UI renders it.
// Monetary fields are fixed to 2 decimal places; unknown price/stock are
// null rather than zero so the renderer can tell "not yet fetched" apart
// from a real value.
type RowView struct {
	Index            int     `json:"index"`
	DrugID           string  `json:"drug_id"`
	DrugName         string  `json:"drug_name,omitempty"`
	Quantity         int64   `json:"quantity"`
	UnitPrice        *string `json:"unit_price"`
	AvailableStock   *int64  `json:"available_stock"`
	Subtotal         string  `json:"subtotal"`
	Persisted        bool    `json:"persisted"`
	MarkedForRemoval bool    `json:"marked_for_removal"`
	ExceedsStock     bool    `json:"exceeds_stock"`
}

// TotalsView is the JSON shape of the sale summary.
type TotalsView struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Discount string `json:"discount"`
	Total    string `json:"total"`
}

// Snapshot is the full renderable state of a sale. The UI is a pure
// renderer of snapshots; it holds no sale state of its own.
type Snapshot struct {
	Rows      []RowView  `json:"rows"`
	Totals    TotalsView `json:"totals"`
	RowCount  int        `json:"row_count"`
	PatientID string     `json:"patient_id,omitempty"`
	WalkIn    bool       `json:"walk_in"`
}

// Snapshot renders the sale's current state, totals included.
func (s *Sale) Snapshot(defaultTaxRate decimal.Decimal) Snapshot {
	snap := Snapshot{
		Rows:      make([]RowView, 0, len(s.rows)),
		RowCount:  s.nextIndex,
		PatientID: s.patientID,
		WalkIn:    s.walkIn,
	}
	for _, row := range s.rows {
		v := RowView{
			Index:            row.Index,
			DrugID:           row.DrugID,
			DrugName:         row.DrugName,
			Quantity:         row.Quantity,
			Subtotal:         row.Subtotal().StringFixed(2),
			Persisted:        row.Persisted,
			MarkedForRemoval: row.MarkedForRemoval,
			ExceedsStock:     row.ExceedsStock(),
		}
		if row.PriceKnown {
			p := row.UnitPrice.StringFixed(2)
			v.UnitPrice = &p
		}
		if row.StockKnown {
			st := row.AvailableStock
			v.AvailableStock = &st
		}
		snap.Rows = append(snap.Rows, v)
	}

	t := s.Totals(defaultTaxRate)
	snap.Totals = TotalsView{
		Subtotal: t.Subtotal.StringFixed(2),
		Tax:      t.Tax.StringFixed(2),
		Discount: t.Discount.StringFixed(2),
		Total:    t.Total.StringFixed(2),
	}
	return snap
}
