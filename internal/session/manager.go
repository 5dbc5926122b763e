// Package session holds the in-memory sale state for each open terminal
// screen. One session mirrors one sale form; everything in it is a
// client-side cache of server state, kept only for UX responsiveness.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmapos/terminal/internal/catalog"
	"github.com/pharmapos/terminal/internal/sale"
	"github.com/pharmapos/terminal/internal/ws"
)

// ErrNotFound is returned for operations on an unknown or expired session.
var ErrNotFound = errors.New("sale session not found")

// Catalog is the slice of the drug API client the manager needs.
// Satisfied by *catalog.Client.
type Catalog interface {
	DrugInfo(ctx context.Context, drugID string) (catalog.DrugInfo, error)
	DrugByBarcode(ctx context.Context, code string) (catalog.BarcodeMatch, error)
}

// Broadcaster pushes events to the UI clients watching a session.
// Satisfied by *ws.Hub.
type Broadcaster interface {
	BroadcastToSession(sessionID uuid.UUID, event ws.Event)
}

// session pairs a sale with the mutex that serializes its mutations. All
// state changes for one sale happen under this lock, preserving the
// one-logical-thread-per-sale discipline; different sessions never
// interfere.
type session struct {
	id   uuid.UUID
	mu   sync.Mutex
	sale *sale.Sale

	// lastUsed is guarded by mu; the janitor takes it briefly per session.
	lastUsed time.Time
}

// Manager owns all live sale sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*session

	catalog Catalog
	hub     Broadcaster
	taxRate decimal.Decimal
	ttl     time.Duration
}

// NewManager creates a session manager. taxRate is the fallback applied
// when the tax field holds no numeric override; ttl bounds how long an
// untouched session survives.
func NewManager(cat Catalog, hub Broadcaster, taxRate decimal.Decimal, ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[uuid.UUID]*session),
		catalog:  cat,
		hub:      hub,
		taxRate:  taxRate,
		ttl:      ttl,
	}
}

// Create opens a new sale session, optionally pre-seeded with the
// persisted items of an existing sale being edited. Price/stock lookups
// for seeded rows are kicked off immediately, fire-and-forget.
func (m *Manager) Create(seed []sale.SeedItem) (uuid.UUID, sale.Snapshot) {
	s := &session{
		id:       uuid.New(),
		sale:     sale.NewFromPersisted(seed),
		lastUsed: time.Now(),
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	s.mu.Lock()
	snap := s.sale.Snapshot(m.taxRate)
	rows := s.sale.Rows()
	for _, row := range rows {
		if row.DrugID != "" {
			// Seeded rows start at generation zero; a later manual
			// selection bumps past it and these responses are dropped.
			go m.completeLookup(s.id, row.Index, row.DrugID, 0)
		}
	}
	s.mu.Unlock()

	return s.id, snap
}

// Exists reports whether a session is live. Used by the WebSocket
// subscribe path.
func (m *Manager) Exists(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// Snapshot returns the session's current renderable state.
func (m *Manager) Snapshot(id uuid.UUID) (sale.Snapshot, error) {
	s, ok := m.get(id)
	if !ok {
		return sale.Snapshot{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
	return s.sale.Snapshot(m.taxRate), nil
}

// AddRow appends an empty line item and returns its ordinal.
func (m *Manager) AddRow(id uuid.UUID) (sale.Snapshot, int, error) {
	index := -1
	snap, err := m.mutate(id, func(sl *sale.Sale) error {
		index = sl.AddRow().Index
		return nil
	})
	return snap, index, err
}

// RemoveRow removes or soft-deletes a line item. Removing an unknown or
// already-removed row is a no-op, not an error.
func (m *Manager) RemoveRow(id uuid.UUID, index int) (sale.Snapshot, error) {
	return m.mutate(id, func(sl *sale.Sale) error {
		sl.RemoveRow(index)
		return nil
	})
}

// SelectDrug changes a row's drug and, for a non-empty selection, starts
// the price/stock lookup in the background. The call returns as soon as
// the row state is updated; the lookup result arrives later as a
// sale_updated event, guarded against out-of-order completion.
func (m *Manager) SelectDrug(id uuid.UUID, index int, drugID string) (sale.Snapshot, error) {
	var gen uint64
	snap, err := m.mutate(id, func(sl *sale.Sale) error {
		g, err := sl.SelectDrug(index, drugID)
		gen = g
		return err
	})
	if err != nil {
		return sale.Snapshot{}, err
	}
	if drugID != "" {
		go m.completeLookup(id, index, drugID, gen)
	}
	return snap, nil
}

// SetQuantity updates a row's quantity from raw input. If the new quantity
// exceeds the row's last-known stock, a warning notification is pushed —
// advisory only, submission is where it blocks.
func (m *Manager) SetQuantity(id uuid.UUID, index int, raw string) (sale.Snapshot, error) {
	var warn string
	snap, err := m.mutate(id, func(sl *sale.Sale) error {
		if err := sl.SetQuantity(index, raw); err != nil {
			return err
		}
		if row, ok := sl.Row(index); ok && row.DrugID != "" && row.ExceedsStock() {
			warn = fmt.Sprintf("Not enough stock. Available: %d", row.AvailableStock)
		}
		return nil
	})
	if err == nil && warn != "" {
		m.hub.BroadcastToSession(id, ws.NotificationEvent("error", warn))
	}
	return snap, err
}

// SetTax stores the tax override field's raw contents.
func (m *Manager) SetTax(id uuid.UUID, raw string) (sale.Snapshot, error) {
	return m.mutate(id, func(sl *sale.Sale) error {
		sl.SetTaxOverride(raw)
		return nil
	})
}

// SetDiscount stores the discount field's raw contents.
func (m *Manager) SetDiscount(id uuid.UUID, raw string) (sale.Snapshot, error) {
	return m.mutate(id, func(sl *sale.Sale) error {
		sl.SetDiscount(raw)
		return nil
	})
}

// SetCustomer records the patient selection and walk-in flag.
func (m *Manager) SetCustomer(id uuid.UUID, patientID string, walkIn bool) (sale.Snapshot, error) {
	return m.mutate(id, func(sl *sale.Sale) error {
		sl.SetPatient(patientID)
		sl.SetWalkIn(walkIn)
		return nil
	})
}

// ScanOutcome is the result of a resolved barcode scan.
type ScanOutcome struct {
	Merged   bool          `json:"merged"`
	RowIndex int           `json:"row_index"`
	DrugName string        `json:"drug_name"`
	Quantity int64         `json:"quantity"`
	Snapshot sale.Snapshot `json:"snapshot"`
}

// Scan resolves a barcode against the catalog and folds the match into the
// sale: an existing row for the drug gets +1 quantity, otherwise a new row
// is created from the payload. Lookup failures are pushed as notifications
// and returned; the sale is left untouched by any failure.
func (m *Manager) Scan(ctx context.Context, id uuid.UUID, code string) (ScanOutcome, error) {
	if !m.Exists(id) {
		return ScanOutcome{}, ErrNotFound
	}

	m.hub.BroadcastToSession(id, ws.NotificationEvent("info", fmt.Sprintf("Scanning barcode: %s...", code)))

	match, err := m.catalog.DrugByBarcode(ctx, code)
	if err != nil {
		var appErr *catalog.ApplicationError
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			m.hub.BroadcastToSession(id, ws.NotificationEvent("error", "No drug found with this barcode"))
		case errors.As(err, &appErr):
			m.hub.BroadcastToSession(id, ws.NotificationEvent("error", appErr.Message))
		default:
			log.Printf("ERROR: barcode lookup: %v", err)
			m.hub.BroadcastToSession(id, ws.NotificationEvent("error", "Error fetching drug by barcode"))
		}
		return ScanOutcome{}, err
	}

	s, ok := m.get(id)
	if !ok {
		return ScanOutcome{}, ErrNotFound
	}
	s.mu.Lock()
	s.lastUsed = time.Now()
	row, merged := s.sale.ApplyScan(match.ID, match.Name, match.Price, match.AvailableStock)
	outcome := ScanOutcome{
		Merged:   merged,
		RowIndex: row.Index,
		DrugName: row.DrugName,
		Quantity: row.Quantity,
		Snapshot: s.sale.Snapshot(m.taxRate),
	}
	s.mu.Unlock()

	m.hub.BroadcastToSession(id, ws.SaleUpdatedEvent(outcome.Snapshot))
	if merged {
		m.hub.BroadcastToSession(id, ws.NotificationEvent("success",
			fmt.Sprintf("Added %s (now %d)", match.Name, outcome.Quantity)))
	} else {
		m.hub.BroadcastToSession(id, ws.NotificationEvent("success",
			fmt.Sprintf("Found drug: %s", match.Name)))
	}
	return outcome, nil
}

// CheckoutResult is the submission guard's verdict.
type CheckoutResult struct {
	OK          bool          `json:"ok"`
	Errors      []string      `json:"errors,omitempty"`
	InvalidRows []int         `json:"invalid_rows,omitempty"`
	Snapshot    sale.Snapshot `json:"snapshot"`
}

// Checkout runs the pre-submit validation over the whole sale. A failed
// check is pushed as one aggregated notification; it never mutates the
// sale and is always locally recoverable.
func (m *Manager) Checkout(id uuid.UUID) (CheckoutResult, error) {
	s, ok := m.get(id)
	if !ok {
		return CheckoutResult{}, ErrNotFound
	}
	s.mu.Lock()
	s.lastUsed = time.Now()
	res := s.sale.Validate()
	snap := s.sale.Snapshot(m.taxRate)
	s.mu.Unlock()

	if !res.OK {
		m.hub.BroadcastToSession(id, ws.NotificationEvent("error", strings.Join(res.Errors, " ")))
	}
	return CheckoutResult{
		OK:          res.OK,
		Errors:      res.Errors,
		InvalidRows: res.InvalidRows,
		Snapshot:    snap,
	}, nil
}

// Run evicts idle sessions until ctx is cancelled. Call as a goroutine.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastUsed.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			log.Printf("evicted idle sale session %s", id)
		}
	}
}

func (m *Manager) get(id uuid.UUID) (*session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// mutate runs fn on the session's sale under its lock, then broadcasts the
// fresh snapshot so every watching UI re-renders.
func (m *Manager) mutate(id uuid.UUID, fn func(*sale.Sale) error) (sale.Snapshot, error) {
	s, ok := m.get(id)
	if !ok {
		return sale.Snapshot{}, ErrNotFound
	}

	s.mu.Lock()
	s.lastUsed = time.Now()
	err := fn(s.sale)
	var snap sale.Snapshot
	if err == nil {
		snap = s.sale.Snapshot(m.taxRate)
	}
	s.mu.Unlock()

	if err != nil {
		return sale.Snapshot{}, err
	}
	m.hub.BroadcastToSession(id, ws.SaleUpdatedEvent(snap))
	return snap, nil
}

// completeLookup finishes an asynchronous drug-info fetch. The result is
// applied only if the row's drug selection has not changed since the fetch
// started; a stale response is dropped on the floor. Uses a background
// context: no client-side timeout is imposed, a hung request just leaves
// the row's price/stock unknown.
func (m *Manager) completeLookup(id uuid.UUID, index int, drugID string, gen uint64) {
	info, err := m.catalog.DrugInfo(context.Background(), drugID)
	if err != nil {
		log.Printf("ERROR: drug info lookup for drug %s: %v", drugID, err)
		m.hub.BroadcastToSession(id, ws.NotificationEvent("error", "Error fetching drug information"))
		return
	}

	s, ok := m.get(id)
	if !ok {
		return
	}
	s.mu.Lock()
	applied := s.sale.ApplyLookup(index, gen, info.Price, info.AvailableStock)
	var snap sale.Snapshot
	exceeds := false
	if applied {
		snap = s.sale.Snapshot(m.taxRate)
		if row, ok := s.sale.Row(index); ok {
			exceeds = row.ExceedsStock()
		}
	}
	s.mu.Unlock()

	if !applied {
		return
	}
	m.hub.BroadcastToSession(id, ws.SaleUpdatedEvent(snap))
	if exceeds {
		m.hub.BroadcastToSession(id, ws.NotificationEvent("error",
			fmt.Sprintf("Not enough stock. Available: %d", info.AvailableStock)))
	}
}
