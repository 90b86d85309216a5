// Package models contains database models for the configuration generator.
package models

import (
	"time"
)

// Template is a named configuration template. The (host_type, port_type,
// switch_os) triple identifies it; at most one template exists per triple.
// LastVersion is the highest version number ever issued, so numbers of
// deleted versions are not handed out again.
type Template struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string    `gorm:"size:255;not null;index" json:"name"`
	HostType      string    `gorm:"column:host_type;size:128;not null;uniqueIndex:idx_templates_combination,priority:1" json:"host_type"`
	PortType      string    `gorm:"column:port_type;size:128;not null;uniqueIndex:idx_templates_combination,priority:2" json:"port_type"`
	SwitchOS      string    `gorm:"column:switch_os;size:128;not null;uniqueIndex:idx_templates_combination,priority:3" json:"switch_os"`
	ActiveVersion int       `gorm:"not null;default:1" json:"active_version"`
	LastVersion   int       `gorm:"not null;default:1" json:"last_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Relationships
	Versions []TemplateVersion `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE" json:"versions,omitempty"`
	Fields   []TemplateField   `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE" json:"fields,omitempty"`
}

// TableName returns the table name for Template
func (Template) TableName() string {
	return "templates"
}

// TemplateVersion is one immutable-numbered content revision of a template.
// IsActive mirrors Template.ActiveVersion.
type TemplateVersion struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TemplateID         uint      `gorm:"not null;uniqueIndex:idx_template_versions_template_version,priority:1" json:"template_id"`
	Version            int       `gorm:"not null;uniqueIndex:idx_template_versions_template_version,priority:2" json:"version"`
	VersionName        string    `gorm:"size:255;not null" json:"version_name"`
	VersionDescription string    `gorm:"type:text" json:"version_description"`
	TemplateContent    string    `gorm:"type:text;not null" json:"template_content"`
	IsActive           bool      `gorm:"not null" json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName returns the table name for TemplateVersion
func (TemplateVersion) TableName() string {
	return "template_versions"
}

// FieldType is the declared type of a template input column
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeInteger FieldType = "integer"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeIP      FieldType = "ip"
	FieldTypeList    FieldType = "list"
)

// Valid reports whether t is a known field type
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeString, FieldTypeInteger, FieldTypeBoolean, FieldTypeIP, FieldTypeList:
		return true
	}
	return false
}

// TemplateField describes one spreadsheet column a template expects.
type TemplateField struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TemplateID   uint      `gorm:"not null;index" json:"template_id"`
	FieldName    string    `gorm:"size:128;not null" json:"field_name"`
	FieldType    FieldType `gorm:"size:32;not null" json:"field_type"`
	Required     bool      `gorm:"not null" json:"required"`
	DefaultValue string    `gorm:"size:255" json:"default_value,omitempty"`
	Position     int       `gorm:"not null;default:0" json:"position"`
}

// TableName returns the table name for TemplateField
func (TemplateField) TableName() string {
	return "template_fields"
}
