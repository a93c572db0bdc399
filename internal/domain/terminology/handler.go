package terminology

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/extraction/internal/domain/mapping"
	"github.com/ehr/extraction/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/terminology")
	g.GET("/icd10", h.search(mapping.CodeSetICD10))
	g.GET("/medications", h.search(mapping.CodeSetMedication))
	g.GET("/resolve", h.Resolve)
	g.POST("/reload", h.Reload)
}

// search handles GET /api/v1/terminology/{icd10|medications}?q=...
func (h *Handler) search(codeSet string) echo.HandlerFunc {
	return func(c echo.Context) error {
		query := c.QueryParam("q")
		if query == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
		}
		results, err := h.svc.Search(c.Request().Context(), codeSet, query, pagination.FromContext(c).Limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if results == nil {
			results = []*Code{}
		}
		return c.JSON(http.StatusOK, results)
	}
}

// Resolve handles GET /api/v1/terminology/resolve?code_set=&term=&fuzzy=true
func (h *Handler) Resolve(c echo.Context) error {
	term := c.QueryParam("term")
	if term == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'term' is required")
	}
	set := c.QueryParam("code_set")
	if set == "" {
		set = mapping.CodeSetICD10
	}
	if set != mapping.CodeSetICD10 && set != mapping.CodeSetMedication {
		return echo.NewHTTPError(http.StatusBadRequest, "code_set must be icd10 or medication")
	}

	code, ok := h.svc.Resolve(set, term, c.QueryParam("fuzzy") == "true")
	resp := map[string]any{"code_set": set, "term": term, "matched": ok}
	if ok {
		resp["code"] = code
	}
	return c.JSON(http.StatusOK, resp)
}

// Reload handles POST /api/v1/terminology/reload
func (h *Handler) Reload(c echo.Context) error {
	counts, err := h.svc.Load(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, counts)
}
