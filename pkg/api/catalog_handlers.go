package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/config-generator/pkg/audit"
	"github.com/yourorg/config-generator/pkg/catalog"
)

type catalogEntryRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// ListCatalog lists the entries of one catalog sorted by name
func (h *Handlers) ListCatalog(kind catalog.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := h.catalogs.List(c.Request.Context(), kind)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": entries})
	}
}

// AddCatalogEntry adds one entry to a catalog
func (h *Handlers) AddCatalogEntry(kind catalog.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req catalogEntryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.respondError(c, badRequest("%v", err))
			return
		}

		entry, err := h.catalogs.Add(ctx, kind, req.Name, req.Description)
		h.record(ctx, h.event(audit.EventTypeCatalog, audit.ActionCreate, string(kind), req.Name), err)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, entry)
	}
}

// RemoveCatalogEntry removes an entry by name
func (h *Handlers) RemoveCatalogEntry(kind catalog.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		name := c.Param("name")

		err := h.catalogs.Remove(ctx, kind, name)
		h.record(ctx, h.event(audit.EventTypeCatalog, audit.ActionDelete, string(kind), name), err)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "entry removed"})
	}
}
