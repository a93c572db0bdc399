package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractTenantID(t *testing.T) {
	tests := []struct {
		name   string
		jwt    string
		header string
		query  string
		want   string
	}{
		{"jwt wins", "jwt", "header", "query", "jwt"},
		{"header over query", "", "header", "query", "header"},
		{"query only", "", "", "clinic_xyz", "clinic_xyz"},
		{"fallback to default", "", "", "", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			target := "/"
			if tt.query != "" {
				target = "/?tenant_id=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("X-Tenant-ID", tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			c.Set("jwt_tenant_id", tt.jwt)

			if got := extractTenantID(c, "default"); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestTenantIDPattern(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"abc", true},
		{"hospital_1", true},
		{"A1B2C3", true},
		{"a-b", false},
		{"a.b", false},
		{"a b", false},
		{"", false},
		{"'; DROP TABLE", false},
	}
	for _, tt := range tests {
		if got := tenantIDPattern.MatchString(tt.input); got != tt.valid {
			t.Errorf("tenantIDPattern.MatchString(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestTenantMiddleware_RejectsInvalidTenant(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "bad-tenant")
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	h := TenantMiddleware(nil, "default")(func(c echo.Context) error {
		called = true
		return nil
	})
	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if called {
		t.Error("next handler must not run for an invalid tenant")
	}
}

func TestTenantScope_RejectsInvalidTenant(t *testing.T) {
	scope := TenantScope(nil)
	err := scope(context.Background(), "drop;table", func(ctx context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})
	if err == nil {
		t.Error("expected error for invalid tenant")
	}
}

func TestContextAccessors(t *testing.T) {
	if ConnFromContext(context.Background()) != nil {
		t.Error("expected nil conn from empty context")
	}
	if ConnFromContext(context.WithValue(context.Background(), DBConnKey, "not-a-conn")) != nil {
		t.Error("expected nil when context value is wrong type")
	}
	if got := TenantFromContext(context.WithValue(context.Background(), TenantIDKey, "acme")); got != "acme" {
		t.Errorf("expected acme, got %s", got)
	}
	if got := TenantFromContext(context.WithValue(context.Background(), TenantIDKey, 42)); got != "" {
		t.Errorf("expected empty tenant for wrong type, got %q", got)
	}
}

func TestSchemaFor(t *testing.T) {
	if got := SchemaFor("acme"); got != "tenant_acme" {
		t.Errorf("expected tenant_acme, got %s", got)
	}
}

func TestCreateTenantSchema_InvalidIDs(t *testing.T) {
	for _, id := range []string{"invalid-id!", "tenant.with.dot", "ten ant", ""} {
		if err := CreateTenantSchema(context.Background(), nil, id, ""); err == nil {
			t.Errorf("expected error for invalid tenant ID %q", id)
		}
	}
}
