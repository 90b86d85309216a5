package db

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourorg/config-generator/pkg/db/models"
)

// SchemaMigrations returns the built-in migrations in version order. The
// first two upgrade databases written by earlier releases, which stored
// vendor/os columns and vendors/os_types catalog tables.
func SchemaMigrations() []Migration {
	return []Migration{
		{
			Version: "001",
			Name:    "rename_legacy_catalog_tables",
			Up:      renameLegacyCatalogTables,
		},
		{
			Version: "002",
			Name:    "rename_legacy_template_columns",
			Up:      renameLegacyTemplateColumns,
		},
		{
			Version: "003",
			Name:    "schema",
			Up: func(tx *gorm.DB) error {
				return tx.AutoMigrate(models.All()...)
			},
			Down: func(tx *gorm.DB) error {
				all := models.All()
				for i := len(all) - 1; i >= 0; i-- {
					if err := tx.Migrator().DropTable(all[i]); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Version: "004",
			Name:    "move_legacy_content_to_versions",
			Up:      moveLegacyContentToVersions,
		},
	}
}

func renameLegacyCatalogTables(tx *gorm.DB) error {
	m := tx.Migrator()
	renames := [][2]string{
		{"vendors", "port_types"},
		{"os_types", "switch_os_types"},
	}
	for _, r := range renames {
		if m.HasTable(r[0]) && !m.HasTable(r[1]) {
			if err := m.RenameTable(r[0], r[1]); err != nil {
				return fmt.Errorf("failed to rename table %s: %w", r[0], err)
			}
		}
	}
	return nil
}

func renameLegacyTemplateColumns(tx *gorm.DB) error {
	m := tx.Migrator()
	if !m.HasTable("templates") {
		return nil
	}
	columns, err := columnSet(tx, "templates")
	if err != nil {
		return err
	}
	renames := [][2]string{
		{"vendor", "port_type"},
		{"os", "switch_os"},
	}
	for _, r := range renames {
		if columns[r[0]] && !columns[r[1]] {
			if err := m.RenameColumn("templates", r[0], r[1]); err != nil {
				return fmt.Errorf("failed to rename column templates.%s: %w", r[0], err)
			}
		}
	}
	return nil
}

// legacyTemplate is the content-bearing shape of a pre-versioning template row
type legacyTemplate struct {
	ID              uint
	TemplateContent string
	Description     *string
	Version         *int
}

func moveLegacyContentToVersions(tx *gorm.DB) error {
	existing, err := columnSet(tx, "templates")
	if err != nil {
		return err
	}
	if !existing["template_content"] {
		return nil
	}

	columns := []string{"id", "template_content"}
	hasDescription := existing["description"]
	hasVersion := existing["version"]
	if hasDescription {
		columns = append(columns, "description")
	}
	if hasVersion {
		columns = append(columns, "version")
	}

	var rows []legacyTemplate
	if err := tx.Table("templates").Select(columns).Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to read legacy templates: %w", err)
	}

	for _, row := range rows {
		version := 1
		if row.Version != nil && *row.Version > 0 {
			version = *row.Version
		}
		description := ""
		if row.Description != nil {
			description = *row.Description
		}

		var count int64
		if err := tx.Model(&models.TemplateVersion{}).
			Where("template_id = ? AND version = ?", row.ID, version).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			tv := models.TemplateVersion{
				TemplateID:         row.ID,
				Version:            version,
				VersionName:        fmt.Sprintf("v%d", version),
				VersionDescription: description,
				TemplateContent:    row.TemplateContent,
				IsActive:           true,
			}
			if err := tx.Create(&tv).Error; err != nil {
				return fmt.Errorf("failed to create version for template %d: %w", row.ID, err)
			}
		}

		if err := tx.Table("templates").Where("id = ?", row.ID).
			Updates(map[string]interface{}{"active_version": version, "last_version": version}).Error; err != nil {
			return err
		}
	}

	drop := []string{"template_content"}
	if hasDescription {
		drop = append(drop, "description")
	}
	if hasVersion {
		drop = append(drop, "version")
	}
	// Migrator.DropColumn on sqlite rebuilds the table from a parsed model,
	// which a legacy table name alone cannot provide. Plain DROP COLUMN is
	// supported by every driver here (sqlite 3.35+).
	for _, column := range drop {
		if err := tx.Exec("ALTER TABLE ? DROP COLUMN ?", clause.Table{Name: "templates"}, clause.Column{Name: column}).Error; err != nil {
			return fmt.Errorf("failed to drop column templates.%s: %w", column, err)
		}
	}

	return tx.AutoMigrate(&models.Template{})
}

// columnSet returns the exact column names of table. Migrator.HasColumn is
// avoided because the sqlite implementation matches by substring.
func columnSet(tx *gorm.DB, table string) (map[string]bool, error) {
	types, err := tx.Migrator().ColumnTypes(table)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	set := make(map[string]bool, len(types))
	for _, ct := range types {
		set[ct.Name()] = true
	}
	return set, nil
}
