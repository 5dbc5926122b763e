package sale

import (
	"fmt"
	"log"
)

// ValidationResult is the outcome of the pre-submit check. Errors holds the
// user-facing messages to aggregate into one notification; InvalidRows the
// ordinals whose quantity fields should be marked invalid.
type ValidationResult struct {
	OK          bool
	Errors      []string
	InvalidRows []int
}

// Validate is the submission guard, run once at submit time over the whole
// line-item collection. Rows marked for removal are skipped. A valid item
// has a selected drug and quantity > 0. Submission is blocked when no
// valid item exists, when any valid item's quantity exceeds its last-known
// stock (unknown stock never blocks), or when neither a patient nor the
// walk-in flag is set.
//
// A panic during validation is recovered and logged, and submission is
// allowed to proceed: the server re-validates authoritatively, so a local
// validation bug must never wedge the form.
func (s *Sale) Validate() (res ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: sale validation panic, allowing submit: %v", r)
			res = ValidationResult{OK: true}
		}
	}()

	hasItems := false
	for _, row := range s.rows {
		if row.MarkedForRemoval {
			continue
		}
		if row.DrugID == "" || row.Quantity <= 0 {
			continue
		}
		hasItems = true
		if row.ExceedsStock() {
			res.InvalidRows = append(res.InvalidRows, row.Index)
			res.Errors = append(res.Errors, fmt.Sprintf(
				"Not enough stock for %s. Available: %d", rowLabel(row), row.AvailableStock))
		}
	}

	if !hasItems {
		res.Errors = append(res.Errors, "Please add at least one item to the sale")
	}

	if s.patientID == "" && !s.walkIn {
		res.Errors = append(res.Errors, "Please select a patient or check Walk-In Customer")
	}

	res.OK = len(res.Errors) == 0
	return res
}

func rowLabel(row *LineItem) string {
	if row.DrugName != "" {
		return row.DrugName
	}
	return "the selected drug"
}
