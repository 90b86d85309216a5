// Package api exposes the template store, the renderer and batch
// generation over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/config-generator/pkg/audit"
	"github.com/yourorg/config-generator/pkg/backup"
	"github.com/yourorg/config-generator/pkg/batch"
	"github.com/yourorg/config-generator/pkg/catalog"
	"github.com/yourorg/config-generator/pkg/config"
	"github.com/yourorg/config-generator/pkg/metrics"
	"github.com/yourorg/config-generator/pkg/render"
	"github.com/yourorg/config-generator/pkg/template"
)

// Server represents the HTTP server
type Server struct {
	config   *config.Config
	logger   *zap.Logger
	router   *gin.Engine
	server   *http.Server
	handlers *Handlers
}

// Dependencies contains all dependencies needed by the server. Metrics
// and AuditLogger may be nil.
type Dependencies struct {
	DB              *gorm.DB
	Logger          *zap.Logger
	TemplateManager *template.Manager
	CatalogManager  *catalog.Manager
	Engine          *render.Engine
	Generator       *batch.Generator
	Backup          *backup.Service
	AuditLogger     *audit.Logger
	Metrics         *metrics.Metrics
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, deps *Dependencies) *Server {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger(deps.Logger))
	router.Use(CORS(cfg.Server.CORSOrigins))
	if deps.Metrics != nil {
		router.Use(Metrics(deps.Metrics))
	}
	if cfg.RateLimit.Enabled {
		router.Use(RateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	}

	s := &Server{
		config:   cfg,
		logger:   deps.Logger,
		router:   router,
		handlers: NewHandlers(deps, cfg.Server.MaxUploadBytes),
	}
	s.setupRoutes(deps)
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(deps *Dependencies) {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)
	s.router.GET("/ready", h.Readiness)
	if deps.Metrics != nil && s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Path, gin.WrapH(deps.Metrics.Handler(deps.DB)))
	}

	// stateless sandbox
	s.router.POST("/render", h.RenderSandbox)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/version", h.Version)
		v1.POST("/render", h.RenderSandbox)
		v1.POST("/render/validate", h.ValidateTemplate)

		templates := v1.Group("/templates")
		{
			templates.GET("", h.ListTemplates)
			templates.POST("", h.CreateTemplate)
			templates.GET("/by-name/:name", h.GetTemplateByName)
			templates.GET("/:id", h.GetTemplate)
			templates.PUT("/:id", h.UpdateTemplate)
			templates.DELETE("/:id", h.DeleteTemplate)
			templates.POST("/:id/render", h.RenderTemplate)

			templates.GET("/:id/versions", h.ListVersions)
			templates.POST("/:id/versions", h.CreateVersion)
			templates.GET("/:id/versions/:version", h.GetVersion)
			templates.PUT("/:id/versions/:version", h.UpdateVersion)
			templates.DELETE("/:id/versions/:version", h.DeleteVersion)
			templates.POST("/:id/versions/:version/activate", h.ActivateVersion)

			templates.GET("/:id/fields", h.GetFields)
			templates.PUT("/:id/fields", h.ReplaceFields)
			templates.GET("/:id/workbook", h.DownloadWorkbook)
		}

		for _, kind := range catalog.Kinds() {
			group := v1.Group("/" + string(kind))
			group.GET("", h.ListCatalog(kind))
			group.POST("", h.AddCatalogEntry(kind))
			group.DELETE("/:name", h.RemoveCatalogEntry(kind))
		}

		v1.POST("/upload", h.Upload)
		v1.POST("/generate", h.Generate)
		v1.POST("/generate/bundle", h.GenerateBundle)

		v1.GET("/backup", h.ExportBackup)
		v1.POST("/backup", h.ImportBackup)

		v1.GET("/audit", h.SearchAudit)
	}
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	addr := s.config.Server.Addr()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.Info("starting HTTP server", zap.String("address", addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
