package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmapos/terminal/internal/catalog"
	"github.com/pharmapos/terminal/internal/handler"
	"github.com/pharmapos/terminal/internal/session"
	"github.com/pharmapos/terminal/internal/ws"
)

// --- Stub catalog ---

// stubCatalog serves a fixed set of drugs, keyed by id and barcode.
type stubCatalog struct {
	drugs    map[string]catalog.DrugInfo
	barcodes map[string]catalog.BarcodeMatch
	infoErr  error
}

func (s *stubCatalog) DrugInfo(_ context.Context, drugID string) (catalog.DrugInfo, error) {
	if s.infoErr != nil {
		return catalog.DrugInfo{}, s.infoErr
	}
	info, ok := s.drugs[drugID]
	if !ok {
		return catalog.DrugInfo{}, &catalog.LookupError{Op: "drug info", StatusCode: http.StatusNotFound}
	}
	return info, nil
}

func (s *stubCatalog) DrugByBarcode(_ context.Context, code string) (catalog.BarcodeMatch, error) {
	match, ok := s.barcodes[code]
	if !ok {
		return catalog.BarcodeMatch{}, catalog.ErrNotFound
	}
	return match, nil
}

// nopHub satisfies session.Broadcaster; handler tests assert over HTTP
// responses, the event stream is covered by the ws and session tests.
type nopHub struct{}

func (nopHub) BroadcastToSession(uuid.UUID, ws.Event) {}

// --- Helpers ---

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func defaultCatalog() *stubCatalog {
	return &stubCatalog{
		drugs: map[string]catalog.DrugInfo{
			"7": {Price: dec("500"), AvailableStock: 10},
			"9": {Price: dec("300"), AvailableStock: 5},
		},
		barcodes: map[string]catalog.BarcodeMatch{
			"629104001234": {ID: "7", Name: "Paracetamol", Price: dec("500"), AvailableStock: 10},
		},
	}
}

func setupSaleRouter(cat *stubCatalog) *chi.Mux {
	mgr := session.NewManager(cat, nopHub{}, dec("0.1"), time.Hour)
	h := handler.NewSaleHandler(mgr)
	r := chi.NewRouter()
	r.Route("/sales", h.RegisterRoutes)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createSession(t *testing.T, r http.Handler) string {
	t.Helper()
	rr := doJSON(t, r, http.MethodPost, "/sales", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session: status %d: %s", rr.Code, rr.Body)
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, rr, &resp)
	return resp.SessionID
}

func addItem(t *testing.T, r http.Handler, sid string) int {
	t.Helper()
	rr := doJSON(t, r, http.MethodPost, "/sales/"+sid+"/items", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add item: status %d: %s", rr.Code, rr.Body)
	}
	var resp struct {
		Index int `json:"index"`
	}
	decodeBody(t, rr, &resp)
	return resp.Index
}

type snapshotResponse struct {
	Rows []struct {
		Index            int     `json:"index"`
		DrugID           string  `json:"drug_id"`
		Quantity         int64   `json:"quantity"`
		UnitPrice        *string `json:"unit_price"`
		AvailableStock   *int64  `json:"available_stock"`
		Subtotal         string  `json:"subtotal"`
		MarkedForRemoval bool    `json:"marked_for_removal"`
		ExceedsStock     bool    `json:"exceeds_stock"`
	} `json:"rows"`
	Totals struct {
		Subtotal string `json:"subtotal"`
		Tax      string `json:"tax"`
		Discount string `json:"discount"`
		Total    string `json:"total"`
	} `json:"totals"`
	RowCount int  `json:"row_count"`
	WalkIn   bool `json:"walk_in"`
}

// getSnapshot polls until the row's price is known (drug lookups complete
// in the background) or the deadline passes.
func getSnapshot(t *testing.T, r http.Handler, sid string, waitForPrice bool) snapshotResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr := doJSON(t, r, http.MethodGet, "/sales/"+sid, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("get snapshot: status %d: %s", rr.Code, rr.Body)
		}
		var snap snapshotResponse
		decodeBody(t, rr, &snap)
		if !waitForPrice {
			return snap
		}
		ready := len(snap.Rows) > 0
		for _, row := range snap.Rows {
			if row.DrugID != "" && row.UnitPrice == nil {
				ready = false
			}
		}
		if ready {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("lookup never completed: %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// --- Tests ---

// The reference scenario end to end: drug A at 500 with stock 10,
// quantity 3, default 10% tax.
func TestSaleFlow_TotalsScenario(t *testing.T) {
	r := setupSaleRouter(defaultCatalog())
	sid := createSession(t, r)
	index := addItem(t, r, sid)

	rr := doJSON(t, r, http.MethodPut, fmt.Sprintf("/sales/%s/items/%d/drug", sid, index),
		map[string]string{"drug_id": "7"})
	if rr.Code != http.StatusOK {
		t.Fatalf("select drug: status %d: %s", rr.Code, rr.Body)
	}

	getSnapshot(t, r, sid, true)

	rr = doJSON(t, r, http.MethodPut, fmt.Sprintf("/sales/%s/items/%d/quantity", sid, index),
		map[string]string{"quantity": "3"})
	if rr.Code != http.StatusOK {
		t.Fatalf("set quantity: status %d: %s", rr.Code, rr.Body)
	}

	snap := getSnapshot(t, r, sid, false)
	if snap.Totals.Subtotal != "1500.00" || snap.Totals.Tax != "150.00" ||
		snap.Totals.Discount != "0.00" || snap.Totals.Total != "1650.00" {
		t.Fatalf("totals = %+v", snap.Totals)
	}
	if snap.Rows[0].Subtotal != "1500.00" {
		t.Fatalf("row subtotal = %s", snap.Rows[0].Subtotal)
	}
}

func TestSaleFlow_TaxAndDiscountOverrides(t *testing.T) {
	r := setupSaleRouter(defaultCatalog())
	sid := createSession(t, r)
	index := addItem(t, r, sid)
	doJSON(t, r, http.MethodPut, fmt.Sprintf("/sales/%s/items/%d/drug", sid, index),
		map[string]string{"drug_id": "7"})
	getSnapshot(t, r, sid, true)
	doJSON(t, r, http.MethodPut, fmt.Sprintf("/sales/%s/items/%d/quantity", sid, index),
		map[string]string{"quantity": "3"})

	doJSON(t, r, http.MethodPut, "/sales/"+sid+"/tax", map[string]string{"value": "100"})
	rr := doJSON(t, r, http.MethodPut, "/sales/"+sid+"/discount", map[string]string{"value": "250"})
	if rr.Code != http.StatusOK {
		t.Fatalf("set discount: status %d", rr.Code)
	}

	snap := getSnapshot(t, r, sid, false)
	if snap.Totals.Tax != "100.00" || snap.Totals.Discount != "250.00" || snap.Totals.Total != "1350.00" {
		t.Fatalf("totals = %+v", snap.Totals)
	}
}

func TestRemoveItem_Idempotent(t *testing.T) {
	r := setupSaleRouter(defaultCatalog())
	sid := createSession(t, r)
	index := addItem(t, r, sid)

	rr := doJSON(t, r, http.MethodDelete, fmt.Sprintf("/sales/%s/items/%d", sid, index), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("remove: status %d", rr.Code)
	}
	// Removing again is a no-op, not an error.
	rr = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/sales/%s/items/%d", sid, index), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("re-remove: status %d", rr.Code)
	}

	snap := getSnapshot(t, r, sid, false)
	if len(snap.Rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(snap.Rows))
	}
	// Ordinal counter does not rewind.
	if next := addItem(t, r, sid); next != index+1 {
		t.Fatalf("next ordinal = %d, want %d", next, index+1)
	}
}

func TestCheckout_BlockedWithoutItems(t *testing.T) {
	r := setupSaleRouter(defaultCatalog())
	sid := createSession(t, r)
	doJSON(t, r, http.MethodPut, "/sales/"+sid+"/customer",
		map[string]any{"walk_in": true})

	rr := doJSON(t, r, http.MethodPost, "/sales/"+sid+"/checkout", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	var res struct {
		OK     bool     `json:"ok"`
		Errors []string `json:"errors"`
	}
	decodeBody(t, rr, &res)
	if res.OK || len(res.Errors) == 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestCheckout_StockViolationBlocks(t *testing.T) {
	r := setupSaleRouter(defaultCatalog())
	sid := createSession(t, r)
	index := addItem(t, r, sid)
	doJSON(t, r, http.MethodPut, fmt.Sprintf("/sales/%s/items/%d/drug", sid, index),
		map[string]string{"drug_id": "7"})
	getSnapshot(t, r, sid, true)
	doJSON(t, r, http.MethodPut, fmt.Sprintf("/sales/%s/items/%d/quantity", sid, index),
		map[string]string{"quantity": "15"})
	doJSON(t, r, http.MethodPut, "/sales/"+sid+"/customer", map[string]any{"walk_in": true})

	rr := doJSON(t, r, http.MethodPost, "/sales/"+sid+"/checkout", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	var res struct {
		InvalidRows []int `json:"invalid_rows"`
	}
	decodeBody(t, rr, &res)
	if len(res.InvalidRows) != 1 || res.InvalidRows[0] != index {
		t.Fatalf("invalid_rows = %v, want [%d]", res.InvalidRows, index)
	}
}

func TestCheckout_Passes(t *testing.T) {
	r := setupSaleRouter(defaultCatalog())
	sid := createSession(t, r)
	index := addItem(t, r, sid)
	doJSON(t, r, http.MethodPut, fmt.Sprintf("/sales/%s/items/%d/drug", sid, index),
		map[string]string{"drug_id": "7"})
	getSnapshot(t, r, sid, true)
	doJSON(t, r, http.MethodPut, fmt.Sprintf("/sales/%s/items/%d/quantity", sid, index),
		map[string]string{"quantity": "3"})
	doJSON(t, r, http.MethodPut, "/sales/"+sid+"/customer",
		map[string]any{"patient_id": "42"})

	rr := doJSON(t, r, http.MethodPost, "/sales/"+sid+"/checkout", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
}

func TestScan_CreatesRowThenMerges(t *testing.T) {
	r := setupSaleRouter(defaultCatalog())
	sid := createSession(t, r)

	rr := doJSON(t, r, http.MethodPost, "/sales/"+sid+"/scan",
		map[string]string{"barcode": "629104001234"})
	if rr.Code != http.StatusOK {
		t.Fatalf("scan: status %d: %s", rr.Code, rr.Body)
	}
	var out struct {
		Merged   bool  `json:"merged"`
		RowIndex int   `json:"row_index"`
		Quantity int64 `json:"quantity"`
	}
	decodeBody(t, rr, &out)
	if out.Merged || out.Quantity != 1 {
		t.Fatalf("first scan = %+v", out)
	}

	rr = doJSON(t, r, http.MethodPost, "/sales/"+sid+"/scan",
		map[string]string{"barcode": "629104001234"})
	decodeBody(t, rr, &out)
	if !out.Merged || out.Quantity != 2 {
		t.Fatalf("second scan = %+v", out)
	}

	snap := getSnapshot(t, r, sid, false)
	if len(snap.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(snap.Rows))
	}
	if snap.Totals.Subtotal != "1000.00" {
		t.Fatalf("subtotal = %s, want 1000.00", snap.Totals.Subtotal)
	}
}

func TestScan_UnknownBarcode(t *testing.T) {
	r := setupSaleRouter(defaultCatalog())
	sid := createSession(t, r)

	rr := doJSON(t, r, http.MethodPost, "/sales/"+sid+"/scan",
		map[string]string{"barcode": "000000000000"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}

	snap := getSnapshot(t, r, sid, false)
	if len(snap.Rows) != 0 {
		t.Fatal("not-found scan must not create rows")
	}
}

func TestScan_MissingBarcode(t *testing.T) {
	r := setupSaleRouter(defaultCatalog())
	sid := createSession(t, r)

	rr := doJSON(t, r, http.MethodPost, "/sales/"+sid+"/scan", map[string]string{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	r := setupSaleRouter(defaultCatalog())
	sid := uuid.NewString()

	rr := doJSON(t, r, http.MethodGet, "/sales/"+sid, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestInvalidSessionIDReturns400(t *testing.T) {
	r := setupSaleRouter(defaultCatalog())

	rr := doJSON(t, r, http.MethodGet, "/sales/not-a-uuid", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestUnknownItemReturns404(t *testing.T) {
	r := setupSaleRouter(defaultCatalog())
	sid := createSession(t, r)

	rr := doJSON(t, r, http.MethodPut, "/sales/"+sid+"/items/99/quantity",
		map[string]string{"quantity": "3"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestCreateSeededSession(t *testing.T) {
	r := setupSaleRouter(defaultCatalog())

	rr := doJSON(t, r, http.MethodPost, "/sales", map[string]any{
		"items": []map[string]any{
			{"drug_id": "7", "drug_name": "Paracetamol", "quantity": 2},
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, rr, &resp)

	// Seeded rows soft-delete: the row stays, flagged for removal.
	del := doJSON(t, r, http.MethodDelete, "/sales/"+resp.SessionID+"/items/0", nil)
	if del.Code != http.StatusOK {
		t.Fatalf("remove seeded: status %d", del.Code)
	}
	snap := getSnapshot(t, r, resp.SessionID, false)
	if len(snap.Rows) != 1 || !snap.Rows[0].MarkedForRemoval {
		t.Fatalf("seeded row not soft-deleted: %+v", snap.Rows)
	}
	if snap.Totals.Subtotal != "0.00" {
		t.Fatalf("removed row contributes to subtotal: %s", snap.Totals.Subtotal)
	}
}
