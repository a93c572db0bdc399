package validation

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/extraction/internal/domain/extraction"
	"github.com/ehr/extraction/internal/platform/auth"
	"github.com/ehr/extraction/pkg/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc         *Service
	maxPageSize int
}

func NewHandler(svc *Service, maxPageSize int) *Handler {
	return &Handler{svc: svc, maxPageSize: maxPageSize}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/validation")
	g.GET("/queue", h.Queue)
	g.GET("/records/:id", h.GetRecord)
	g.POST("/approve", h.Approve)
	g.POST("/reject", h.Reject)
	g.GET("/stats", h.Stats)
	g.GET("/history", h.History)
	g.GET("/history/export", h.ExportHistory)
}

func errStatus(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, extraction.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "extraction record not found")
	case errors.Is(err, ErrAlreadyValidated):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidDecision):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// Queue handles GET /api/v1/validation/queue?workspace_id=&status=pending|all
func (h *Handler) Queue(c echo.Context) error {
	ws, err := auth.ResolveWorkspace(c)
	if err != nil {
		return err
	}
	pg := pagination.WithMax(c, h.maxPageSize)
	items, total, err := h.svc.Queue(c.Request().Context(), ws, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return errStatus(err)
	}
	if items == nil {
		items = []*extraction.Record{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.Detail(c.Request().Context(), id)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, d)
}

// validatedBy falls back to the authenticated caller when the body omits it.
func validatedBy(c echo.Context, given string) string {
	if given != "" {
		return given
	}
	return auth.UserIDFromContext(c.Request().Context())
}

func (h *Handler) Approve(c echo.Context) error {
	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.ValidatedBy = validatedBy(c, req.ValidatedBy)
	rec, err := h.svc.Approve(c.Request().Context(), req)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Reject(c echo.Context) error {
	var req RejectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.ValidatedBy = validatedBy(c, req.ValidatedBy)
	rec, err := h.svc.Reject(c.Request().Context(), req)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Stats(c echo.Context) error {
	ws, err := auth.ResolveWorkspace(c)
	if err != nil {
		return err
	}
	s, err := h.svc.Stats(c.Request().Context(), ws)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) History(c echo.Context) error {
	ws, err := auth.ResolveWorkspace(c)
	if err != nil {
		return err
	}
	pg := pagination.WithMax(c, h.maxPageSize)
	items, total, err := h.svc.History(c.Request().Context(), ws, pg.Limit, pg.Offset)
	if err != nil {
		return errStatus(err)
	}
	if items == nil {
		items = []*extraction.Record{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ExportHistory(c echo.Context) error {
	ws, err := auth.ResolveWorkspace(c)
	if err != nil {
		return err
	}
	data, err := h.svc.ExportHistory(c.Request().Context(), ws)
	if err != nil {
		return errStatus(err)
	}
	name := fmt.Sprintf("validation-history-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, xlsxContentType, data)
}
