package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SchemaFor returns the Postgres schema that holds a tenant's tables.
func SchemaFor(tenantID string) string {
	return "tenant_" + tenantID
}

func setSearchPath(ctx context.Context, conn *pgxpool.Conn, tenantID string) error {
	ident := pgx.Identifier{SchemaFor(tenantID)}.Sanitize()
	_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", ident))
	return err
}

// TenantMiddleware pins one pooled connection per request to the caller's
// tenant schema and exposes it through ConnFromContext.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)
			if !tenantIDPattern.MatchString(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if err := setSearchPath(ctx, conn, tenantID); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}

			ctx = context.WithValue(ctx, TenantIDKey, tenantID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)

			return next(c)
		}
	}
}

func extractTenantID(c echo.Context, defaultTenant string) string {
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}
	return defaultTenant
}

// TenantScope returns a function that runs fn on a freshly acquired
// connection bound to tenantID's schema. Work that outlives the request
// (batch processing) uses it because the request connection is released
// when the handler returns.
func TenantScope(pool *pgxpool.Pool) func(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	return func(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
		if !tenantIDPattern.MatchString(tenantID) {
			return fmt.Errorf("invalid tenant identifier: %q", tenantID)
		}
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire connection: %w", err)
		}
		defer conn.Release()

		if err := setSearchPath(ctx, conn, tenantID); err != nil {
			return fmt.Errorf("set search_path for %s: %w", tenantID, err)
		}
		ctx = context.WithValue(ctx, TenantIDKey, tenantID)
		ctx = context.WithValue(ctx, DBConnKey, conn)
		return fn(ctx)
	}
}

// ConnFromContext retrieves the tenant-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// QuerierFrom prefers the tenant-scoped connection and falls back to pool.
func QuerierFrom(ctx context.Context, pool *pgxpool.Pool) Querier {
	if c := ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// BeginFrom starts a transaction on the tenant-scoped connection, or on the
// pool when there is none.
func BeginFrom(ctx context.Context, pool *pgxpool.Pool) (pgx.Tx, error) {
	if c := ConnFromContext(ctx); c != nil {
		return c.Begin(ctx)
	}
	return pool.Begin(ctx)
}

// CreateTenantSchema creates the tenant's schema and migrates it. Migrations
// are skipped when migrationsDir is empty.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, migrationsDir string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}
	schema := SchemaFor(tenantID)

	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if migrationsDir == "" {
		return nil
	}
	if _, err := NewMigrator(pool, migrationsDir).Up(ctx, schema); err != nil {
		return fmt.Errorf("run migrations for %s: %w", schema, err)
	}
	return nil
}
