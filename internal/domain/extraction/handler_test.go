package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/extraction/internal/platform/auth"
)

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(content)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func newDocumentContext(t *testing.T, fields map[string]string, filename string, content []byte) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	body, ct := multipartBody(t, fields, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/extraction/documents", body)
	req.Header.Set(echo.HeaderContentType, ct)
	req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, "nurse-1"))
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func TestHandler_ProcessDocument(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.proc, f.records)

	c, rec := newDocumentContext(t, map[string]string{
		"workspace_id": uuid.NewString(),
		"patient_id":   uuid.NewString(),
	}, "card.txt", []byte("scan"))

	if err := h.ProcessDocument(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var out Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Record == nil || out.Record.CreatedBy != "nurse-1" {
		t.Errorf("unexpected outcome %+v", out.Record)
	}
}

func TestHandler_ProcessDocument_BadRequests(t *testing.T) {
	ws := uuid.NewString()
	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		content  []byte
		wantCode int
	}{
		{"no file", map[string]string{"workspace_id": ws}, "", nil, http.StatusBadRequest},
		{"no workspace", map[string]string{}, "a.txt", []byte("x"), http.StatusBadRequest},
		{"bad patient id", map[string]string{"workspace_id": ws, "patient_id": "123"}, "a.txt", []byte("x"), http.StatusBadRequest},
		{"empty file", map[string]string{"workspace_id": ws}, "a.txt", []byte{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			h := NewHandler(f.proc, f.records)
			c, _ := newDocumentContext(t, tt.fields, tt.filename, tt.content)

			err := h.ProcessDocument(c)
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != tt.wantCode {
				t.Errorf("expected HTTP %d, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestHandler_ProcessDocument_ExtractorFailureIsBadGateway(t *testing.T) {
	f := newFixture()
	f.ext.err = errors.New("timeout")
	h := NewHandler(f.proc, f.records)
	c, _ := newDocumentContext(t, map[string]string{"workspace_id": uuid.NewString()}, "a.txt", []byte("x"))

	err := h.ProcessDocument(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %v", err)
	}
}

func TestHandler_GetRecord(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.proc, f.records)
	out, err := f.proc.Process(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	e := echo.New()
	for _, tc := range []struct {
		id   string
		code int
	}{
		{out.Record.ID.String(), http.StatusOK},
		{uuid.NewString(), http.StatusNotFound},
		{"nope", http.StatusBadRequest},
	} {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		c.SetParamNames("id")
		c.SetParamValues(tc.id)
		err := h.GetRecord(c)
		code := rec.Code
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}
		if code != tc.code {
			t.Errorf("id %s: expected %d, got %d", tc.id, tc.code, code)
		}
	}
}
