// Package main provides the config generator entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/config-generator/internal/version"
	"github.com/yourorg/config-generator/pkg/api"
	"github.com/yourorg/config-generator/pkg/audit"
	"github.com/yourorg/config-generator/pkg/backup"
	"github.com/yourorg/config-generator/pkg/batch"
	"github.com/yourorg/config-generator/pkg/catalog"
	"github.com/yourorg/config-generator/pkg/config"
	"github.com/yourorg/config-generator/pkg/db"
	"github.com/yourorg/config-generator/pkg/metrics"
	"github.com/yourorg/config-generator/pkg/render"
	"github.com/yourorg/config-generator/pkg/template"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:          "config-generator",
		Short:        "Network configuration generator",
		Long:         `Stores versioned switch configuration templates and renders them from variables or spreadsheets.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetInfo().String())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what every subcommand needs
type app struct {
	loader *config.Loader
	cfg    *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel
	conn   *db.Connection
}

// loadConfig loads and validates the configuration and builds the logger
func loadConfig() (*app, error) {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader.SetConfigPath(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, err
	}

	logger, level, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &app{
		loader: loader,
		cfg:    cfg,
		logger: logger,
		level:  level,
	}, nil
}

// open is loadConfig plus a database connection without migrations
func open() (*app, error) {
	a, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a.conn, err = db.NewConnection(&a.cfg.Database, a.logger)
	if err != nil {
		a.logger.Sync()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return a, nil
}

// bootstrap opens the database and applies pending migrations
func bootstrap(ctx context.Context) (*app, error) {
	a, err := open()
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, a.conn, a.logger); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return a, nil
}

func (a *app) close() {
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
	}
	a.logger.Sync()
}

func (a *app) engine() *render.Engine {
	return render.NewEngine(a.cfg.Render)
}

func (a *app) templates() *template.Manager {
	return template.NewManager(a.conn.DB(), a.logger)
}

// newAuditLogger returns nil when auditing is disabled. Without a Quickwit
// URL events only reach the application log.
func (a *app) newAuditLogger(ctx context.Context) *audit.Logger {
	if !a.cfg.Audit.Enabled {
		return nil
	}

	quickwitConfig := audit.DefaultQuickwitConfig()
	if a.cfg.Audit.IndexID != "" {
		quickwitConfig.IndexID = a.cfg.Audit.IndexID
	}
	if a.cfg.Audit.BatchSize > 0 {
		quickwitConfig.BatchSize = a.cfg.Audit.BatchSize
	}
	if a.cfg.Audit.FlushInterval > 0 {
		quickwitConfig.FlushInterval = a.cfg.Audit.FlushInterval
	}

	var client *audit.QuickwitClient
	if a.cfg.Audit.QuickwitURL != "" {
		quickwitConfig.BaseURL = a.cfg.Audit.QuickwitURL
		client = audit.NewQuickwitClient(quickwitConfig, a.logger)
	}
	auditLogger := audit.NewLogger(client, quickwitConfig, a.logger)

	if client != nil {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := auditLogger.EnsureIndex(ctx); err != nil {
			a.logger.Warn("failed to ensure audit index", zap.Error(err))
		}
		cancel()
	}
	return auditLogger
}

func runServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	logger := a.logger
	cfg := a.cfg

	logger.Info("starting config generator",
		zap.String("version", version.Version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("database", cfg.Database.Driver))

	a.loader.Watch(func(updated *config.Config, err error) {
		if err != nil {
			logger.Warn("failed to reload config", zap.Error(err))
			return
		}
		a.level.SetLevel(updated.Logging.Level)
		logger.Info("config reloaded", zap.Stringer("log_level", updated.Logging.Level))
	})

	auditLogger := a.newAuditLogger(ctx)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	var observers batch.Observers
	if auditLogger != nil {
		observers = append(observers, auditLogger)
	}
	if m != nil {
		observers = append(observers, m)
	}

	database := a.conn.DB()
	engine := a.engine()
	templateManager := a.templates()

	server := api.NewServer(cfg, &api.Dependencies{
		DB:              database,
		Logger:          logger,
		TemplateManager: templateManager,
		CatalogManager:  catalog.NewManager(database, logger),
		Engine:          engine,
		Generator:       batch.NewGenerator(templateManager, engine, observers, cfg.Batch, logger),
		Backup:          backup.NewService(database, logger),
		AuditLogger:     auditLogger,
		Metrics:         m,
	})

	if err := auditLogger.LogSystemEvent(ctx, audit.ActionStart, "server started", map[string]interface{}{
		"version": version.Version,
		"addr":    cfg.Server.Addr(),
	}); err != nil {
		logger.Warn("failed to record audit event", zap.Error(err))
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", zap.Error(err))
	}

	if err := auditLogger.LogSystemEvent(shutdownCtx, audit.ActionStop, "server stopped", nil); err != nil {
		logger.Warn("failed to record audit event", zap.Error(err))
	}
	if err := auditLogger.Close(shutdownCtx); err != nil {
		logger.Error("failed to close audit logger", zap.Error(err))
	}
	return nil
}
