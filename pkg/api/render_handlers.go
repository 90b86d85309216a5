package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/config-generator/pkg/audit"
	"github.com/yourorg/config-generator/pkg/render"
	"github.com/yourorg/config-generator/pkg/variables"
)

// kindInvalidVariables is reported when the variables text is not a mapping
const kindInvalidVariables = "invalid_variables"

// renderRequest is the sandbox payload. Variables may be a JSON object or
// a string holding JSON, YAML or key=value lines.
type renderRequest struct {
	Template  string          `json:"template"`
	Variables json.RawMessage `json:"variables"`
}

func parseVariables(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, badRequest("variables: %v", err)
		}
		return variables.Parse(text)
	}
	return variables.Parse(string(raw))
}

// sandboxMessage prefixes the message with the failure class
func sandboxMessage(err error) string {
	switch render.Kind(err) {
	case render.KindSyntax:
		return "Template Syntax Error: " + render.Message(err)
	case render.KindUndefined:
		return "Undefined Variable: " + render.Message(err)
	}
	return "Error: " + render.Message(err)
}

func sandboxFailure(c *gin.Context, err error, kind string) {
	body := gin.H{
		"success": false,
		"error":   sandboxMessage(err),
	}
	if kind != "" {
		body["error_kind"] = kind
	}
	c.JSON(http.StatusBadRequest, body)
}

// RenderSandbox renders a template source against ad hoc variables. Nothing
// is stored.
func (h *Handlers) RenderSandbox(c *gin.Context) {
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sandboxFailure(c, err, "")
		return
	}

	vars, err := parseVariables(req.Variables)
	if err != nil {
		sandboxFailure(c, err, kindInvalidVariables)
		return
	}

	started := time.Now()
	res, err := h.engine.RenderResult(c.Request.Context(), req.Template, vars)
	if h.metrics != nil {
		h.metrics.RecordRender(render.Kind(err), time.Since(started).Seconds())
	}
	if err != nil {
		sandboxFailure(c, err, render.Kind(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"output":    res.Output,
		"variables": res.Variables,
	})
}

type validateRequest struct {
	Template string `json:"template"`
}

// ValidateTemplate compiles a template source without rendering it
func (h *Handlers) ValidateTemplate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, badRequest("%v", err))
		return
	}

	names, err := h.engine.Variables(req.Template)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"valid":      false,
			"error":      err.Error(),
			"error_kind": render.Kind(err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":     true,
		"variables": names,
	})
}

type renderTemplateRequest struct {
	Version   int             `json:"version"`
	Variables json.RawMessage `json:"variables"`
}

// RenderTemplate renders a stored template, the active version unless a
// version is given.
func (h *Handlers) RenderTemplate(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := parseID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req renderTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, badRequest("%v", err))
		return
	}
	vars, err := parseVariables(req.Variables)
	if err != nil {
		h.respondError(c, err)
		return
	}

	number := req.Version
	var source string
	if number > 0 {
		v, err := h.templates.GetVersion(ctx, id, number)
		if err != nil {
			h.respondError(c, err)
			return
		}
		source = v.TemplateContent
	} else {
		detail, err := h.templates.Get(ctx, id)
		if err != nil {
			h.respondError(c, err)
			return
		}
		number = detail.ActiveVersion
		source = detail.TemplateContent
	}

	started := time.Now()
	out, err := h.engine.Render(ctx, source, vars)
	elapsed := time.Since(started)
	if h.metrics != nil {
		h.metrics.RecordRender(render.Kind(err), elapsed.Seconds())
	}

	b := h.auditLogger.NewEventBuilder(audit.EventTypeRender, audit.ActionRender).
		WithResource("template", templateRef(id)).
		WithMetadata("version", number).
		WithDuration(elapsed).
		WithError(errorCode(err), err)
	h.logAudit(ctx, b)

	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"template_id": id,
		"version":     number,
		"output":      out,
	})
}
