package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/config-generator/pkg/audit"
	"github.com/yourorg/config-generator/pkg/backup"
)

func contentTypeFor(format backup.Format) string {
	if format == backup.FormatYAML {
		return "application/x-yaml"
	}
	return "application/json"
}

// ExportBackup downloads the whole state as JSON or, with format=yaml, YAML
func (h *Handlers) ExportBackup(c *gin.Context) {
	ctx := c.Request.Context()

	format, err := backup.ParseFormat(c.Query("format"))
	if err != nil {
		h.respondError(c, badRequest("%v", err))
		return
	}

	snap, err := h.backup.Export(ctx)
	b := h.event(audit.EventTypeBackup, audit.ActionExport, "backup", "")
	if snap != nil {
		b.WithMetadata("templates", len(snap.Templates))
	}
	h.record(ctx, b, err)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := backup.Encode(&buf, snap, format); err != nil {
		h.respondError(c, err)
		return
	}

	filename := fmt.Sprintf("config-generator-%s.%s", snap.ExportedAt.Format("20060102-150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, contentTypeFor(format), buf.Bytes())
}

// ImportBackup restores a snapshot. replace=true clears the store first.
func (h *Handlers) ImportBackup(c *gin.Context) {
	ctx := c.Request.Context()

	format := backup.FormatJSON
	if q := c.Query("format"); q != "" {
		f, err := backup.ParseFormat(q)
		if err != nil {
			h.respondError(c, badRequest("%v", err))
			return
		}
		format = f
	} else if strings.Contains(c.ContentType(), "yaml") {
		format = backup.FormatYAML
	}

	replace := false
	if q := c.Query("replace"); q != "" {
		v, err := strconv.ParseBool(q)
		if err != nil {
			h.respondError(c, badRequest("invalid replace flag %q", q))
			return
		}
		replace = v
	}

	h.limitBody(c)
	snap, err := backup.Decode(c.Request.Body, format)
	if err != nil {
		h.respondError(c, err)
		return
	}

	stats, err := h.backup.Import(ctx, snap, backup.Options{Replace: replace})
	b := h.event(audit.EventTypeBackup, audit.ActionImport, "backup", "").
		WithMetadata("replace", replace)
	if stats != nil {
		b.WithMetadata("templates", stats.Templates).WithMetadata("versions", stats.Versions)
	}
	h.record(ctx, b, err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "backup imported",
		"stats":   stats,
	})
}

// SearchAudit queries the audit index
func (h *Handlers) SearchAudit(c *gin.Context) {
	query := &audit.SearchQuery{
		Query:        c.Query("q"),
		Outcome:      audit.EventOutcome(c.Query("outcome")),
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
		MaxHits:      getIntParam(c, "limit", 50),
		StartOffset:  getIntParam(c, "offset", 0),
	}
	if types := c.Query("event_type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				query.EventTypes = append(query.EventTypes, audit.EventType(t))
			}
		}
	}

	result, err := h.auditLogger.Search(c.Request.Context(), query)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
