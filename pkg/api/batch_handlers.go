package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/config-generator/pkg/batch"
	"github.com/yourorg/config-generator/pkg/ingest"
)

type generateRequest struct {
	Rows []batch.Row `json:"rows"`
}

func (h *Handlers) limitBody(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
}

// readUpload reads the rows of the xlsx file in the "file" form field
func (h *Handlers) readUpload(c *gin.Context) ([]batch.Row, error) {
	h.limitBody(c)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("upload exceeds %d bytes: %w", h.maxUploadBytes, err)
		}
		return nil, badRequest("file is required: %v", err)
	}
	if ext := strings.ToLower(filepath.Ext(fh.Filename)); ext != ".xlsx" {
		return nil, badRequest("unsupported file type %q, expected .xlsx", ext)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	return ingest.ReadSheet(f, c.Query("sheet"))
}

// readRows takes rows from an xlsx upload or a {"rows": [...]} body
func (h *Handlers) readRows(c *gin.Context) ([]batch.Row, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return h.readUpload(c)
	}

	h.limitBody(c)
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, badRequest("%v", err)
	}
	return req.Rows, nil
}

// Upload parses a spreadsheet into rows without rendering anything
func (h *Handlers) Upload(c *gin.Context) {
	rows, err := h.readUpload(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var columns []string
	if len(rows) > 0 {
		columns = rows[0].Keys()
	}
	c.JSON(http.StatusOK, gin.H{
		"rows":      rows,
		"row_count": len(rows),
		"columns":   columns,
	})
}

func (h *Handlers) generate(c *gin.Context) (*batch.Result, bool) {
	rows, err := h.readRows(c)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}

	result, err := h.generator.Generate(c.Request.Context(), rows)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return result, true
}

// Generate renders one configuration per template group
func (h *Handlers) Generate(c *gin.Context) {
	result, ok := h.generate(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, result)
}

// GenerateBundle renders a batch and returns the successful configurations
// as one text document.
func (h *Handlers) GenerateBundle(c *gin.Context) {
	result, ok := h.generate(c)
	if !ok {
		return
	}

	text, err := batch.Bundle(result.Results)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if text == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "no configuration was generated",
			"result": result,
		})
		return
	}

	c.Header("X-Batch-ID", result.BatchID)
	c.Header("X-Success-Count", strconv.Itoa(result.SuccessCount))
	c.Header("X-Failed-Count", strconv.Itoa(result.FailedCount))
	c.Header("X-Skipped-Count", strconv.Itoa(result.SkippedCount))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="configs-%s.txt"`, result.BatchID))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}
