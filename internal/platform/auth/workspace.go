package auth

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var ErrWorkspaceRequired = errors.New("workspace_id is required")

// ResolveWorkspace returns the workspace a request acts in. An explicit
// workspace_id query or form value wins over the token's workspace claim.
func ResolveWorkspace(c echo.Context) (uuid.UUID, error) {
	raw := c.QueryParam("workspace_id")
	if raw == "" {
		raw = c.FormValue("workspace_id")
	}
	if raw == "" {
		raw = WorkspaceIDFromContext(c.Request().Context())
	}
	if raw == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, ErrWorkspaceRequired.Error())
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid workspace_id")
	}
	return id, nil
}
