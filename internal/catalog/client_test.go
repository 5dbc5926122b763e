package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDrugInfo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/drugs/7/info/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price": 500.50, "available_stock": 10}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	info, err := c.DrugInfo(context.Background(), "7")
	if err != nil {
		t.Fatalf("DrugInfo: %v", err)
	}
	if info.Price.StringFixed(2) != "500.50" {
		t.Errorf("price = %s, want 500.50", info.Price)
	}
	if info.AvailableStock != 10 {
		t.Errorf("stock = %d, want 10", info.AvailableStock)
	}
}

func TestDrugInfo_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	_, err := c.DrugInfo(context.Background(), "7")

	var le *LookupError
	if !errors.As(err, &le) {
		t.Fatalf("expected LookupError, got %T: %v", err, err)
	}
	if le.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", le.StatusCode)
	}
}

func TestDrugInfo_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL, nil)
	_, err := c.DrugInfo(context.Background(), "7")

	var le *LookupError
	if !errors.As(err, &le) {
		t.Fatalf("expected LookupError, got %T: %v", err, err)
	}
	if le.StatusCode != 0 {
		t.Errorf("transport failures carry no status, got %d", le.StatusCode)
	}
}

func TestDrugInfo_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price": "abc"`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	if _, err := c.DrugInfo(context.Background(), "7"); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestDrugByBarcode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/drugs/barcode/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("barcode"); got != "629104001234" {
			t.Errorf("barcode param = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true, "id": 7, "name": "Paracetamol 500mg", "price": 500, "available_stock": 10}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	match, err := c.DrugByBarcode(context.Background(), "629104001234")
	if err != nil {
		t.Fatalf("DrugByBarcode: %v", err)
	}
	if match.ID != "7" || match.Name != "Paracetamol 500mg" {
		t.Errorf("match = %+v", match)
	}
	if match.Price.StringFixed(2) != "500.00" || match.AvailableStock != 10 {
		t.Errorf("price/stock = %s/%d", match.Price, match.AvailableStock)
	}
}

func TestDrugByBarcode_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	_, err := c.DrugByBarcode(context.Background(), "000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestDrugByBarcode_ApplicationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "error": "Drug is discontinued"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	_, err := c.DrugByBarcode(context.Background(), "629104001234")

	var ae *ApplicationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected ApplicationError, got %T: %v", err, err)
	}
	if ae.Message != "Drug is discontinued" {
		t.Errorf("message = %q", ae.Message)
	}
}

func TestDrugByBarcode_ApplicationFailureWithoutMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	var ae *ApplicationError
	_, err := c.DrugByBarcode(context.Background(), "629104001234")
	if !errors.As(err, &ae) {
		t.Fatalf("expected ApplicationError, got: %v", err)
	}
	if ae.Message == "" {
		t.Error("fallback message missing")
	}
}

func TestDrugByBarcode_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	_, err := c.DrugByBarcode(context.Background(), "629104001234")

	var le *LookupError
	if !errors.As(err, &le) {
		t.Fatalf("expected LookupError, got: %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("non-404 failure must not read as not-found")
	}
}
