package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/config-generator/pkg/audit"
	"github.com/yourorg/config-generator/pkg/backup"
	"github.com/yourorg/config-generator/pkg/batch"
	"github.com/yourorg/config-generator/pkg/catalog"
	"github.com/yourorg/config-generator/pkg/ingest"
	"github.com/yourorg/config-generator/pkg/render"
	"github.com/yourorg/config-generator/pkg/template"
	"github.com/yourorg/config-generator/pkg/variables"
)

// errBadRequest marks malformed request input
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusFor maps a core error to an HTTP status
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, audit.ErrSearchUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, template.ErrTemplateNotFound),
		errors.Is(err, template.ErrVersionNotFound),
		errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, template.ErrDuplicateCombination),
		errors.Is(err, template.ErrActiveVersionDeletion),
		errors.Is(err, template.ErrLastVersionDeletion),
		errors.Is(err, catalog.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, template.ErrInvalidInput),
		errors.Is(err, catalog.ErrInvalidName),
		errors.Is(err, catalog.ErrUnknownKind),
		errors.Is(err, backup.ErrInvalidSnapshot),
		errors.Is(err, batch.ErrNoRows),
		errors.Is(err, ingest.ErrNoHeader),
		errors.Is(err, ingest.ErrSheetNotFound),
		errors.Is(err, variables.ErrNotMapping),
		render.Kind(err) != "":
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondError writes the error envelope. Render errors also carry their
// kind.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)

	body := gin.H{"error": err.Error()}
	if kind := render.Kind(err); kind != "" {
		body["error_kind"] = kind
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, body)
}

func parseID(c *gin.Context) (uint, error) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, badRequest("invalid template id %q", raw)
	}
	return uint(id), nil
}

func parseVersion(c *gin.Context) (int, error) {
	raw := c.Param("version")
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, badRequest("invalid version %q", raw)
	}
	return v, nil
}

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	val := c.Query(key)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}

// errorCode is the machine readable counterpart of statusFor
func errorCode(err error) string {
	if kind := render.Kind(err); kind != "" {
		return kind
	}
	switch statusFor(err) {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusGatewayTimeout:
		return "timeout"
	}
	return "internal"
}
