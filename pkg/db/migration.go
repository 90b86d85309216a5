package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migration represents a database migration
type Migration struct {
	Version string
	Name    string
	Up      func(tx *gorm.DB) error
	Down    func(tx *gorm.DB) error
}

// MigrationRunner runs database migrations
type MigrationRunner struct {
	db         *gorm.DB
	logger     *zap.Logger
	migrations []Migration
}

// NewMigrationRunner creates a new migration runner over the given migrations.
// When none are given the built-in schema migrations are used.
func NewMigrationRunner(db *gorm.DB, logger *zap.Logger, migrations ...Migration) *MigrationRunner {
	if len(migrations) == 0 {
		migrations = SchemaMigrations()
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})

	return &MigrationRunner{
		db:         db,
		logger:     logger,
		migrations: sorted,
	}
}

// MigrationRecord tracks an applied migration
type MigrationRecord struct {
	Version   string    `gorm:"primaryKey;size:64" json:"version"`
	Name      string    `gorm:"size:255" json:"name"`
	AppliedAt time.Time `gorm:"not null" json:"applied_at"`
}

// TableName returns the table name for MigrationRecord
func (MigrationRecord) TableName() string {
	return "schema_migrations"
}

// Run executes all pending migrations
func (r *MigrationRunner) Run(ctx context.Context) error {
	db := r.db.WithContext(ctx)

	// Ensure migrations table exists
	if err := db.AutoMigrate(&MigrationRecord{}); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := r.getAppliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range r.migrations {
		if applied[migration.Version] {
			continue
		}

		r.logger.Info("applying migration",
			zap.String("version", migration.Version),
			zap.String("name", migration.Name))

		if err := r.applyMigration(db, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		r.logger.Info("migration applied successfully",
			zap.String("version", migration.Version))
	}

	return nil
}

// getAppliedMigrations returns a map of applied migration versions
func (r *MigrationRunner) getAppliedMigrations(db *gorm.DB) (map[string]bool, error) {
	var history []MigrationRecord
	if err := db.Find(&history).Error; err != nil {
		return nil, err
	}

	applied := make(map[string]bool)
	for _, h := range history {
		applied[h.Version] = true
	}

	return applied, nil
}

// applyMigration applies a single migration
func (r *MigrationRunner) applyMigration(db *gorm.DB, migration Migration) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if migration.Up != nil {
			if err := migration.Up(tx); err != nil {
				return err
			}
		}

		record := MigrationRecord{
			Version:   migration.Version,
			Name:      migration.Name,
			AppliedAt: time.Now().UTC(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}

		return nil
	})
}

// Rollback rolls back the last n migrations
func (r *MigrationRunner) Rollback(ctx context.Context, n int) error {
	db := r.db.WithContext(ctx)

	var history []MigrationRecord
	if err := db.Order("version DESC").Limit(n).Find(&history).Error; err != nil {
		return fmt.Errorf("failed to get migration history: %w", err)
	}

	byVersion := make(map[string]Migration, len(r.migrations))
	for _, m := range r.migrations {
		byVersion[m.Version] = m
	}

	for _, h := range history {
		r.logger.Info("rolling back migration",
			zap.String("version", h.Version))

		migration := byVersion[h.Version]
		err := db.Transaction(func(tx *gorm.DB) error {
			if migration.Down != nil {
				if err := migration.Down(tx); err != nil {
					return err
				}
			}
			return tx.Delete(&MigrationRecord{}, "version = ?", h.Version).Error
		})
		if err != nil {
			return fmt.Errorf("failed to roll back migration %s: %w", h.Version, err)
		}
	}

	return nil
}

// MigrationStatus pairs a known migration with its applied time, if any
type MigrationStatus struct {
	Version   string     `json:"version"`
	Name      string     `json:"name"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// Status returns the current migration status
func (r *MigrationRunner) Status(ctx context.Context) ([]MigrationStatus, error) {
	db := r.db.WithContext(ctx)

	if err := db.AutoMigrate(&MigrationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var history []MigrationRecord
	if err := db.Order("version ASC").Find(&history).Error; err != nil {
		return nil, err
	}

	appliedAt := make(map[string]time.Time, len(history))
	for _, h := range history {
		appliedAt[h.Version] = h.AppliedAt
	}

	status := make([]MigrationStatus, 0, len(r.migrations))
	for _, m := range r.migrations {
		s := MigrationStatus{Version: m.Version, Name: m.Name}
		if t, ok := appliedAt[m.Version]; ok {
			t := t
			s.AppliedAt = &t
		}
		status = append(status, s)
	}
	return status, nil
}

// RunMigrations applies the built-in schema migrations to conn
func RunMigrations(ctx context.Context, conn *Connection, logger *zap.Logger) error {
	return NewMigrationRunner(conn.DB(), logger).Run(ctx)
}
