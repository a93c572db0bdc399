package terminology

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/extraction/internal/domain/mapping"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	svc, _ := newTestService()
	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return NewHandler(svc), echo.New()
}

func TestHandler_SearchICD10(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/terminology/icd10?q=hypertension", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.search(mapping.CodeSetICD10)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var results []*Code
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 1 || results[0].Code != "I10" {
		t.Errorf("expected I10, got %+v", results)
	}
}

func TestHandler_SearchMedications_NoMatchReturnsEmptyList(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/terminology/medications?q=warfarin", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.search(mapping.CodeSetMedication)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("expected empty list, got %q", body)
	}
}

func TestHandler_Search_MissingQuery(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/terminology/icd10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.search(mapping.CodeSetICD10)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Resolve(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/terminology/resolve?code_set=medication&term=Glucophage&fuzzy=true", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Resolve(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["matched"] != true || resp["code"] != "860975" {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestHandler_Resolve_BadCodeSet(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/terminology/resolve?code_set=loinc&term=x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Resolve(c); err == nil {
		t.Error("expected error for unknown code set")
	}
}

func TestHandler_Reload(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminology/reload", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Reload(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var counts map[string]int
	json.Unmarshal(rec.Body.Bytes(), &counts)
	if counts["icd10"] != 3 {
		t.Errorf("expected 3 icd10 codes, got %v", counts)
	}
}
