// Package backup exports and imports the complete persisted state: the
// catalogs and every template with its versions and fields.
package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourorg/config-generator/pkg/db"
	"github.com/yourorg/config-generator/pkg/db/models"
	"github.com/yourorg/config-generator/pkg/template"
)

// FormatVersion is the snapshot layout written by Export
const FormatVersion = 1

// ErrInvalidSnapshot is returned when a snapshot breaks a store invariant
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Snapshot is the whole persisted state
type Snapshot struct {
	FormatVersion int                `json:"format_version" yaml:"format_version"`
	ExportedAt    time.Time          `json:"exported_at" yaml:"exported_at"`
	HostTypes     []HostType         `json:"host_types" yaml:"host_types"`
	PortTypes     []string           `json:"port_types" yaml:"port_types"`
	SwitchOSTypes []string           `json:"switch_os_types" yaml:"switch_os_types"`
	Templates     []TemplateSnapshot `json:"templates" yaml:"templates"`
}

// HostType is a host type catalog entry
type HostType struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// TemplateSnapshot is one template with its history
type TemplateSnapshot struct {
	Name          string            `json:"name" yaml:"name"`
	HostType      string            `json:"host_type" yaml:"host_type"`
	PortType      string            `json:"port_type" yaml:"port_type"`
	SwitchOS      string            `json:"switch_os" yaml:"switch_os"`
	ActiveVersion int               `json:"active_version" yaml:"active_version"`
	LastVersion   int               `json:"last_version,omitempty" yaml:"last_version,omitempty"`
	Versions      []VersionSnapshot `json:"versions" yaml:"versions"`
	Fields        []FieldSnapshot   `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// VersionSnapshot is one template version
type VersionSnapshot struct {
	Version            int       `json:"version" yaml:"version"`
	VersionName        string    `json:"version_name" yaml:"version_name"`
	VersionDescription string    `json:"version_description,omitempty" yaml:"version_description,omitempty"`
	TemplateContent    string    `json:"template_content" yaml:"template_content"`
	CreatedAt          time.Time `json:"created_at" yaml:"created_at"`
}

// FieldSnapshot is one template field definition
type FieldSnapshot struct {
	FieldName    string           `json:"field_name" yaml:"field_name"`
	FieldType    models.FieldType `json:"field_type" yaml:"field_type"`
	Required     bool             `json:"required" yaml:"required"`
	DefaultValue string           `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	Position     int              `json:"position" yaml:"position"`
}

// Options controls Import
type Options struct {
	// Replace deletes all existing templates and catalog entries first.
	// Without it, imported templates are added and a template whose triple
	// already exists fails the whole import.
	Replace bool
}

// Stats summarizes an import
type Stats struct {
	Templates    int `json:"templates"`
	Versions     int `json:"versions"`
	Fields       int `json:"fields"`
	CatalogAdded int `json:"catalog_added"`
}

// Service exports and imports snapshots
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a new backup service
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

// Export reads the whole state in one transaction
func (s *Service) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		FormatVersion: FormatVersion,
		ExportedAt:    time.Now().UTC(),
		HostTypes:     []HostType{},
		PortTypes:     []string{},
		SwitchOSTypes: []string{},
		Templates:     []TemplateSnapshot{},
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var hostTypes []models.HostType
		if err := tx.Order("name").Find(&hostTypes).Error; err != nil {
			return err
		}
		if err := copier.Copy(&snap.HostTypes, &hostTypes); err != nil {
			return err
		}
		if err := tx.Model(&models.PortType{}).Order("name").Pluck("name", &snap.PortTypes).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.SwitchOSType{}).Order("name").Pluck("name", &snap.SwitchOSTypes).Error; err != nil {
			return err
		}

		var templates []models.Template
		err := tx.
			Preload("Versions", func(q *gorm.DB) *gorm.DB { return q.Order("version") }).
			Preload("Fields", func(q *gorm.DB) *gorm.DB { return q.Order("position, id") }).
			Order("id").
			Find(&templates).Error
		if err != nil {
			return err
		}
		return copier.Copy(&snap.Templates, &templates)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}

	s.logger.Info("state exported", zap.Int("templates", len(snap.Templates)))
	return snap, nil
}

// Import writes snap in one transaction. Template IDs are assigned anew;
// version numbers and the active version are kept.
func (s *Service) Import(ctx context.Context, snap *Snapshot, opts Options) (*Stats, error) {
	if err := Validate(snap); err != nil {
		return nil, err
	}

	stats := &Stats{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if opts.Replace {
			if err := deleteAll(tx); err != nil {
				return err
			}
		}

		added, err := importCatalogs(tx, snap)
		if err != nil {
			return err
		}
		stats.CatalogAdded = added

		for i := range snap.Templates {
			if err := importTemplate(tx, &snap.Templates[i], stats); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var dup *template.DuplicateCombinationError
		if errors.As(err, &dup) || errors.Is(err, ErrInvalidSnapshot) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to import: %w", err)
	}

	s.logger.Info("state imported",
		zap.Bool("replace", opts.Replace),
		zap.Int("templates", stats.Templates),
		zap.Int("versions", stats.Versions),
		zap.Int("catalog_added", stats.CatalogAdded))
	return stats, nil
}

// Validate checks that every template in snap has at least one version,
// unique version numbers and exactly one active version that exists.
func Validate(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: empty document", ErrInvalidSnapshot)
	}
	if snap.FormatVersion > FormatVersion {
		return fmt.Errorf("%w: format version %d is newer than %d", ErrInvalidSnapshot, snap.FormatVersion, FormatVersion)
	}
	for i, t := range snap.Templates {
		if t.Name == "" || t.HostType == "" || t.PortType == "" || t.SwitchOS == "" {
			return fmt.Errorf("%w: template %d: name, host_type, port_type and switch_os are required", ErrInvalidSnapshot, i+1)
		}
		if len(t.Versions) == 0 {
			return fmt.Errorf("%w: template %q has no versions", ErrInvalidSnapshot, t.Name)
		}
		seen := make(map[int]bool, len(t.Versions))
		for _, v := range t.Versions {
			if v.Version < 1 || seen[v.Version] {
				return fmt.Errorf("%w: template %q has invalid or repeated version %d", ErrInvalidSnapshot, t.Name, v.Version)
			}
			seen[v.Version] = true
		}
		if !seen[t.ActiveVersion] {
			return fmt.Errorf("%w: template %q: active version %d does not exist", ErrInvalidSnapshot, t.Name, t.ActiveVersion)
		}
	}
	return nil
}

func deleteAll(tx *gorm.DB) error {
	all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, model := range []interface{}{
		&models.TemplateField{},
		&models.TemplateVersion{},
		&models.Template{},
		&models.HostType{},
		&models.PortType{},
		&models.SwitchOSType{},
	} {
		if err := all.Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}

func importCatalogs(tx *gorm.DB, snap *Snapshot) (int, error) {
	var rows []interface{}
	for _, h := range snap.HostTypes {
		rows = append(rows, &models.HostType{Name: h.Name, Description: h.Description})
	}
	for _, name := range snap.PortTypes {
		rows = append(rows, &models.PortType{Name: name})
	}
	for _, name := range snap.SwitchOSTypes {
		rows = append(rows, &models.SwitchOSType{Name: name})
	}

	added := 0
	for _, row := range rows {
		// a fresh statement per row; a shared one keeps the first model's schema
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).Create(row)
		if res.Error != nil {
			return 0, res.Error
		}
		added += int(res.RowsAffected)
	}
	return added, nil
}

func importTemplate(tx *gorm.DB, ts *TemplateSnapshot, stats *Stats) error {
	last := ts.LastVersion
	for _, v := range ts.Versions {
		if v.Version > last {
			last = v.Version
		}
	}

	tpl := &models.Template{
		Name:          ts.Name,
		HostType:      ts.HostType,
		PortType:      ts.PortType,
		SwitchOS:      ts.SwitchOS,
		ActiveVersion: ts.ActiveVersion,
		LastVersion:   last,
	}
	if err := tx.Omit(clause.Associations).Create(tpl).Error; err != nil {
		if db.IsDuplicateKey(err) {
			return &template.DuplicateCombinationError{HostType: ts.HostType, PortType: ts.PortType, SwitchOS: ts.SwitchOS}
		}
		return err
	}

	var versions []models.TemplateVersion
	if err := copier.Copy(&versions, &ts.Versions); err != nil {
		return err
	}
	for i := range versions {
		versions[i].TemplateID = tpl.ID
		versions[i].IsActive = versions[i].Version == ts.ActiveVersion
	}
	if err := tx.Create(&versions).Error; err != nil {
		return err
	}

	if len(ts.Fields) > 0 {
		var fields []models.TemplateField
		if err := copier.Copy(&fields, &ts.Fields); err != nil {
			return err
		}
		for i := range fields {
			fields[i].TemplateID = tpl.ID
		}
		if err := tx.Create(&fields).Error; err != nil {
			return err
		}
	}

	stats.Templates++
	stats.Versions += len(versions)
	stats.Fields += len(ts.Fields)
	return nil
}
