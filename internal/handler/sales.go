package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pharmapos/terminal/internal/catalog"
	"github.com/pharmapos/terminal/internal/sale"
	"github.com/pharmapos/terminal/internal/session"
)

// SaleManager defines the session-manager methods the sale handlers need.
// Satisfied by *session.Manager; narrow interface for testability.
type SaleManager interface {
	Create(seed []sale.SeedItem) (uuid.UUID, sale.Snapshot)
	Snapshot(id uuid.UUID) (sale.Snapshot, error)
	AddRow(id uuid.UUID) (sale.Snapshot, int, error)
	RemoveRow(id uuid.UUID, index int) (sale.Snapshot, error)
	SelectDrug(id uuid.UUID, index int, drugID string) (sale.Snapshot, error)
	SetQuantity(id uuid.UUID, index int, raw string) (sale.Snapshot, error)
	SetTax(id uuid.UUID, raw string) (sale.Snapshot, error)
	SetDiscount(id uuid.UUID, raw string) (sale.Snapshot, error)
	SetCustomer(id uuid.UUID, patientID string, walkIn bool) (sale.Snapshot, error)
	Scan(ctx context.Context, id uuid.UUID, code string) (session.ScanOutcome, error)
	Checkout(id uuid.UUID) (session.CheckoutResult, error)
}

// SaleHandler exposes the sale-session operations over HTTP.
type SaleHandler struct {
	sessions SaleManager
}

// NewSaleHandler creates a new SaleHandler.
func NewSaleHandler(sessions SaleManager) *SaleHandler {
	return &SaleHandler{sessions: sessions}
}

// RegisterRoutes registers the sale-session endpoints on the given Chi
// router. Expected to be mounted at /sales.
func (h *SaleHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/{sid}", h.Get)
	r.Post("/{sid}/items", h.AddItem)
	r.Delete("/{sid}/items/{index}", h.RemoveItem)
	r.Put("/{sid}/items/{index}/drug", h.SelectDrug)
	r.Put("/{sid}/items/{index}/quantity", h.SetQuantity)
	r.Put("/{sid}/tax", h.SetTax)
	r.Put("/{sid}/discount", h.SetDiscount)
	r.Put("/{sid}/customer", h.SetCustomer)
	r.Post("/{sid}/scan", h.Scan)
	r.Post("/{sid}/checkout", h.Checkout)
}

// --- Request / Response types ---

type createSaleRequest struct {
	Items []seedItemRequest `json:"items"`
}

type seedItemRequest struct {
	DrugID   string `json:"drug_id"`
	DrugName string `json:"drug_name"`
	Quantity int64  `json:"quantity"`
}

type createSaleResponse struct {
	SessionID uuid.UUID     `json:"session_id"`
	Snapshot  sale.Snapshot `json:"snapshot"`
}

type addItemResponse struct {
	Index    int           `json:"index"`
	Snapshot sale.Snapshot `json:"snapshot"`
}

type selectDrugRequest struct {
	DrugID string `json:"drug_id"`
}

type setQuantityRequest struct {
	Quantity string `json:"quantity"`
}

type setAmountRequest struct {
	Value string `json:"value"`
}

type setCustomerRequest struct {
	PatientID string `json:"patient_id"`
	WalkIn    bool   `json:"walk_in"`
}

type scanRequest struct {
	Barcode string `json:"barcode"`
}

// --- Handlers ---

// Create opens a new sale session, optionally seeded with the persisted
// items of a sale being edited.
func (h *SaleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSaleRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	seed := make([]sale.SeedItem, 0, len(req.Items))
	for _, it := range req.Items {
		if it.DrugID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "seed item drug_id is required"})
			return
		}
		seed = append(seed, sale.SeedItem{
			DrugID:   it.DrugID,
			DrugName: it.DrugName,
			Quantity: it.Quantity,
		})
	}

	id, snap := h.sessions.Create(seed)
	writeJSON(w, http.StatusCreated, createSaleResponse{SessionID: id, Snapshot: snap})
}

// Get returns the session's current renderable state.
func (h *SaleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	snap, err := h.sessions.Snapshot(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// AddItem appends a new empty line item.
func (h *SaleHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	snap, index, err := h.sessions.AddRow(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, addItemResponse{Index: index, Snapshot: snap})
}

// RemoveItem removes or soft-deletes a line item. Idempotent.
func (h *SaleHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	index, ok := rowIndex(w, r)
	if !ok {
		return
	}
	snap, err := h.sessions.RemoveRow(id, index)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SelectDrug changes a row's drug and starts the background price/stock
// lookup; the response reflects the selection, the lookup result arrives
// over the session's event stream.
func (h *SaleHandler) SelectDrug(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	index, ok := rowIndex(w, r)
	if !ok {
		return
	}
	var req selectDrugRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	snap, err := h.sessions.SelectDrug(id, index, req.DrugID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SetQuantity updates a row's quantity from the raw field contents.
func (h *SaleHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	index, ok := rowIndex(w, r)
	if !ok {
		return
	}
	var req setQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	snap, err := h.sessions.SetQuantity(id, index, req.Quantity)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SetTax stores the tax override field.
func (h *SaleHandler) SetTax(w http.ResponseWriter, r *http.Request) {
	h.setAmount(w, r, h.sessions.SetTax)
}

// SetDiscount stores the discount field.
func (h *SaleHandler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	h.setAmount(w, r, h.sessions.SetDiscount)
}

func (h *SaleHandler) setAmount(w http.ResponseWriter, r *http.Request, set func(uuid.UUID, string) (sale.Snapshot, error)) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req setAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	snap, err := set(id, req.Value)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SetCustomer records the patient selection and walk-in flag.
func (h *SaleHandler) SetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req setCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	snap, err := h.sessions.SetCustomer(id, req.PatientID, req.WalkIn)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Scan resolves a barcode and folds the match into the sale.
func (h *SaleHandler) Scan(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Barcode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "barcode is required"})
		return
	}

	out, err := h.sessions.Scan(r.Context(), id, req.Barcode)
	if err != nil {
		var appErr *catalog.ApplicationError
		var lookupErr *catalog.LookupError
		switch {
		case errors.Is(err, session.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "sale session not found"})
		case errors.Is(err, catalog.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "No drug found with this barcode"})
		case errors.As(err, &appErr):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": appErr.Message})
		case errors.As(err, &lookupErr):
			log.Printf("ERROR: barcode scan: %v", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Error fetching drug by barcode"})
		default:
			log.Printf("ERROR: barcode scan: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Checkout runs the pre-submit validation gate. 200 when the sale may be
// submitted, 422 with the aggregated errors when it is blocked.
func (h *SaleHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	res, err := h.sessions.Checkout(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if !res.OK {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Helpers ---

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return uuid.Nil, false
	}
	return id, true
}

func rowIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item index"})
		return 0, false
	}
	return index, true
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "sale session not found"})
	case errors.Is(err, sale.ErrRowNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "line item not found"})
	case errors.Is(err, sale.ErrRowRemoved):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "line item is marked for removal"})
	default:
		log.Printf("ERROR: sale session operation: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}
