package batch

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/extraction/internal/domain/extraction"
	"github.com/ehr/extraction/internal/platform/auth"
	"github.com/ehr/extraction/internal/platform/db"
	"github.com/ehr/extraction/pkg/pagination"
)

type Handler struct {
	orch *Orchestrator
}

func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/extraction/batches")
	g.POST("", h.Submit)
	g.GET("", h.List)
	g.GET("/:batch_id", h.Get)
}

type submitResponse struct {
	BatchID     uuid.UUID `json:"batch_id"`
	TotalFiles  int       `json:"total_files"`
	Status      JobStatus `json:"status"`
	TrackingURL string    `json:"tracking_url"`
}

// Submit handles POST /api/v1/extraction/batches (multipart, repeated
// "files" parts). File limits are checked before any file is read.
func (h *Handler) Submit(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form expected")
	}
	files := form.File["files"]
	if err := h.orch.CheckFileCount(len(files)); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ws, err := auth.ResolveWorkspace(c)
	if err != nil {
		return err
	}
	req := SubmitRequest{
		TenantID:    db.TenantFromContext(c.Request().Context()),
		WorkspaceID: ws,
		CreatedBy:   auth.UserIDFromContext(c.Request().Context()),
		Files:       make([]Upload, 0, len(files)),
	}
	for name, dst := range map[string]**uuid.UUID{
		"patient_id":   &req.PatientID,
		"encounter_id": &req.EncounterID,
		"template_id":  &req.TemplateID,
	} {
		if *dst, err = extraction.FormUUID(c, name); err != nil {
			return err
		}
	}

	for _, fh := range files {
		data, err := extraction.ReadUpload(fh)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable file: "+fh.Filename)
		}
		req.Files = append(req.Files, Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	job, err := h.orch.Submit(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoFiles), errors.Is(err, ErrTooManyFiles):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrShuttingDown):
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, submitResponse{
		BatchID:     job.ID,
		TotalFiles:  job.TotalFiles,
		Status:      job.Status,
		TrackingURL: "/api/v1/extraction/batches/" + job.ID.String(),
	})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("batch_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid batch_id")
	}
	job, err := h.orch.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "batch not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, job)
}

// List handles GET /api/v1/extraction/batches?workspace_id=&limit=
func (h *Handler) List(c echo.Context) error {
	ws, err := auth.ResolveWorkspace(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	jobs, err := h.orch.List(c.Request().Context(), ws, pg.Limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, jobs)
}
