package template

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/extraction/internal/domain/mapping"
	"github.com/ehr/extraction/internal/platform/auth"
	"github.com/ehr/extraction/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/extraction/templates")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.POST("/:id/deactivate", h.Deactivate)
	g.POST("/:id/supersede", h.Supersede)
}

func errStatus(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoDefault):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInactive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidTemplate), errors.Is(err, mapping.ErrInvalidMapping):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var t Template
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if t.WorkspaceID == uuid.Nil {
		ws, err := auth.ResolveWorkspace(c)
		if err != nil {
			return err
		}
		t.WorkspaceID = ws
	}
	t.CreatedBy = auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.Create(c.Request().Context(), &t); err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusCreated, &t)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, t)
}

// List handles GET /extraction/templates?workspace_id=&document_type=&active=true
func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		DocumentType: c.QueryParam("document_type"),
		ActiveOnly:   c.QueryParam("active") == "true",
	}
	if ws := c.QueryParam("workspace_id"); ws != "" {
		id, err := uuid.Parse(ws)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid workspace_id")
		}
		f.WorkspaceID = id
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Template{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Deactivate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Deactivate(c.Request().Context(), id); err != nil {
		return errStatus(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Supersede(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var next Template
	if err := c.Bind(&next); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	next.CreatedBy = auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.Supersede(c.Request().Context(), id, &next); err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusCreated, &next)
}
