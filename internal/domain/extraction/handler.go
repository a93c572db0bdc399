package extraction

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/extraction/internal/platform/auth"
	"github.com/ehr/extraction/internal/platform/extractor"
)

type Handler struct {
	processor *Processor
	records   RecordRepository
}

func NewHandler(processor *Processor, records RecordRepository) *Handler {
	return &Handler{processor: processor, records: records}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/extraction")
	g.POST("/documents", h.ProcessDocument)
	g.GET("/records/:id", h.GetRecord)
}

// FormUUID reads an optional UUID form field. An absent field is nil; a
// malformed one is a 400.
func FormUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.FormValue(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
	}
	return &id, nil
}

// ReadUpload loads one multipart file part into memory.
func ReadUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ProcessDocument handles POST /api/v1/extraction/documents. The document
// is processed synchronously; use the batch endpoint for several files.
func (h *Handler) ProcessDocument(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	ws, err := auth.ResolveWorkspace(c)
	if err != nil {
		return err
	}

	req := ProcessRequest{
		WorkspaceID:  ws,
		UploadedBy:   auth.UserIDFromContext(c.Request().Context()),
		DocumentType: c.FormValue("document_type"),
		Filename:     fh.Filename,
		ContentType:  fh.Header.Get("Content-Type"),
	}
	for name, dst := range map[string]**uuid.UUID{
		"patient_id":   &req.PatientID,
		"encounter_id": &req.EncounterID,
		"template_id":  &req.TemplateID,
	} {
		if *dst, err = FormUUID(c, name); err != nil {
			return err
		}
	}

	if req.Data, err = ReadUpload(fh); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable file")
	}

	out, err := h.processor.Process(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, extractor.ErrEmptyDocument):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrExtractionFailed):
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.records.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "extraction record not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}
