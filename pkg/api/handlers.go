package api

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/config-generator/internal/version"
	"github.com/yourorg/config-generator/pkg/audit"
	"github.com/yourorg/config-generator/pkg/backup"
	"github.com/yourorg/config-generator/pkg/batch"
	"github.com/yourorg/config-generator/pkg/catalog"
	"github.com/yourorg/config-generator/pkg/ingest"
	"github.com/yourorg/config-generator/pkg/metrics"
	"github.com/yourorg/config-generator/pkg/render"
	"github.com/yourorg/config-generator/pkg/template"
)

// Handlers contains all API handlers
type Handlers struct {
	db             *gorm.DB
	logger         *zap.Logger
	templates      *template.Manager
	catalogs       *catalog.Manager
	engine         *render.Engine
	generator      *batch.Generator
	backup         *backup.Service
	auditLogger    *audit.Logger
	metrics        *metrics.Metrics
	maxUploadBytes int64
}

// NewHandlers creates new API handlers
func NewHandlers(deps *Dependencies, maxUploadBytes int64) *Handlers {
	return &Handlers{
		db:             deps.DB,
		logger:         deps.Logger,
		templates:      deps.TemplateManager,
		catalogs:       deps.CatalogManager,
		engine:         deps.Engine,
		generator:      deps.Generator,
		backup:         deps.Backup,
		auditLogger:    deps.AuditLogger,
		metrics:        deps.Metrics,
		maxUploadBytes: maxUploadBytes,
	}
}

// record writes the audit event and the store metric for a mutation
func (h *Handlers) record(ctx context.Context, b *audit.EventBuilder, err error) {
	event := b.Event()
	if err != nil {
		b.WithError(errorCode(err), err)
	}
	if h.metrics != nil {
		h.metrics.RecordStoreOperation(string(event.EventType), string(event.Action), err)
	}
	h.logAudit(ctx, b)
}

func (h *Handlers) logAudit(ctx context.Context, b *audit.EventBuilder) {
	if err := b.Log(ctx); err != nil {
		h.logger.Warn("failed to record audit event", zap.Error(err))
	}
}

func (h *Handlers) event(eventType audit.EventType, action audit.EventAction, resourceType, resourceID string) *audit.EventBuilder {
	return h.auditLogger.NewEventBuilder(eventType, action).WithResource(resourceType, resourceID)
}

func templateRef(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Health check handlers

// HealthCheck returns the health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": version.Version,
	})
}

// Readiness pings the database
func (h *Handlers) Readiness(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ready": true,
	})
}

// Version returns the build information
func (h *Handlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.GetInfo())
}

// Template handlers

// ListTemplates lists templates, optionally filtered by the identity triple
func (h *Handlers) ListTemplates(c *gin.Context) {
	var req template.ListTemplatesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.respondError(c, badRequest("%v", err))
		return
	}

	templates, err := h.templates.List(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"templates": templates,
		"total":     len(templates),
	})
}

// CreateTemplate creates a template with its first version
func (h *Handlers) CreateTemplate(c *gin.Context) {
	ctx := c.Request.Context()

	var req template.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, badRequest("%v", err))
		return
	}

	tpl, err := h.templates.Create(ctx, &req)
	b := h.event(audit.EventTypeTemplate, audit.ActionCreate, "template", req.Name)
	if tpl != nil {
		b.WithResource("template", templateRef(tpl.ID)).WithDescription(tpl.Name)
	}
	h.record(ctx, b, err)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tpl)
}

// GetTemplate gets a template with its active content
func (h *Handlers) GetTemplate(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	detail, err := h.templates.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// GetTemplateByName looks a template up by name, ignoring case
func (h *Handlers) GetTemplateByName(c *gin.Context) {
	detail, err := h.templates.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// UpdateTemplate updates template metadata
func (h *Handlers) UpdateTemplate(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := parseID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req template.UpdateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, badRequest("%v", err))
		return
	}

	tpl, err := h.templates.UpdateMetadata(ctx, id, &req)
	h.record(ctx, h.event(audit.EventTypeTemplate, audit.ActionUpdate, "template", templateRef(id)), err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// DeleteTemplate deletes a template with its versions and fields
func (h *Handlers) DeleteTemplate(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := parseID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	err = h.templates.Delete(ctx, id)
	h.record(ctx, h.event(audit.EventTypeTemplate, audit.ActionDelete, "template", templateRef(id)), err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "template deleted"})
}

// Version handlers

// ListVersions lists all versions of a template
func (h *Handlers) ListVersions(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	versions, err := h.templates.ListVersions(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// CreateVersion adds an inactive version
func (h *Handlers) CreateVersion(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := parseID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req template.CreateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, badRequest("%v", err))
		return
	}

	number, err := h.templates.CreateVersion(ctx, id, &req)
	b := h.event(audit.EventTypeVersion, audit.ActionCreate, "template", templateRef(id)).
		WithMetadata("version", number)
	h.record(ctx, b, err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"template_id": id,
		"version":     number,
	})
}

// GetVersion gets one version
func (h *Handlers) GetVersion(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	number, err := parseVersion(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	v, err := h.templates.GetVersion(c.Request.Context(), id, number)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// UpdateVersion edits a version in place
func (h *Handlers) UpdateVersion(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := parseID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	number, err := parseVersion(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req template.UpdateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, badRequest("%v", err))
		return
	}

	v, err := h.templates.UpdateVersion(ctx, id, number, &req)
	h.record(ctx, h.event(audit.EventTypeVersion, audit.ActionUpdate, "template", templateRef(id)).
		WithMetadata("version", number), err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// DeleteVersion removes an inactive version
func (h *Handlers) DeleteVersion(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := parseID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	number, err := parseVersion(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	err = h.templates.DeleteVersion(ctx, id, number)
	h.record(ctx, h.event(audit.EventTypeVersion, audit.ActionDelete, "template", templateRef(id)).
		WithMetadata("version", number), err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "version deleted"})
}

// ActivateVersion makes a version the active one
func (h *Handlers) ActivateVersion(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := parseID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	number, err := parseVersion(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	err = h.templates.SetActiveVersion(ctx, id, number)
	h.record(ctx, h.event(audit.EventTypeVersion, audit.ActionActivate, "template", templateRef(id)).
		WithMetadata("version", number), err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "version activated",
		"active_version": number,
	})
}

// Field handlers

// GetFields lists a template's field definitions
func (h *Handlers) GetFields(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	fields, err := h.templates.GetFields(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fields": fields})
}

type replaceFieldsRequest struct {
	Fields []template.FieldDefinition `json:"fields"`
}

// ReplaceFields replaces all field definitions of a template
func (h *Handlers) ReplaceFields(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := parseID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req replaceFieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, badRequest("%v", err))
		return
	}

	fields, err := h.templates.ReplaceFields(ctx, id, req.Fields)
	h.record(ctx, h.event(audit.EventTypeField, audit.ActionUpdate, "template", templateRef(id)).
		WithMetadata("fields", len(req.Fields)), err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fields": fields})
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// DownloadWorkbook serves the xlsx input workbook for a template
func (h *Handlers) DownloadWorkbook(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := parseID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	detail, err := h.templates.Get(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	fields, err := h.templates.GetFields(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	buf, err := ingest.BuildWorkbook(detail.Name, fields, h.generator.Options())
	if err != nil {
		h.respondError(c, err)
		return
	}

	filename := unsafeFilename.ReplaceAllString(detail.Name, "_") + ".xlsx"
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
