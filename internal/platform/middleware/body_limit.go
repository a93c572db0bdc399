package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// UploadLimit caps request bodies on multipart endpoints at maxBytes and
// leaves JSON endpoints at jsonBytes. Oversized requests get 413 before the
// handler parses the form.
func UploadLimit(maxBytes, jsonBytes int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := jsonBytes
			if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
				limit = maxBytes
			}
			if req.ContentLength > limit {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
			}

			req.Body = http.MaxBytesReader(c.Response(), req.Body, limit)
			return next(c)
		}
	}
}
