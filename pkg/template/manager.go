// Package template provides the template store: identity, version history,
// the active version and field definitions.
package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/config-generator/pkg/db"
	"github.com/yourorg/config-generator/pkg/db/models"
)

// Manager manages templates
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager creates a new template manager
func NewManager(db *gorm.DB, logger *zap.Logger) *Manager {
	return &Manager{
		db:     db,
		logger: logger,
	}
}

// Detail is a template together with its active version's content
type Detail struct {
	models.Template
	VersionName        string `json:"version_name"`
	VersionDescription string `json:"version_description"`
	TemplateContent    string `json:"template_content"`
}

// CreateTemplateRequest represents a request to create a template
type CreateTemplateRequest struct {
	Name               string            `json:"name" yaml:"name" binding:"required"`
	HostType           string            `json:"host_type" yaml:"host_type" binding:"required"`
	PortType           string            `json:"port_type" yaml:"port_type" binding:"required"`
	SwitchOS           string            `json:"switch_os" yaml:"switch_os" binding:"required"`
	TemplateContent    string            `json:"template_content" yaml:"template_content"`
	VersionDescription string            `json:"version_description" yaml:"version_description"`
	Fields             []FieldDefinition `json:"fields,omitempty" yaml:"fields,omitempty"`
}

func (r *CreateTemplateRequest) normalize() error {
	r.Name = strings.TrimSpace(r.Name)
	r.HostType = strings.TrimSpace(r.HostType)
	r.PortType = strings.TrimSpace(r.PortType)
	r.SwitchOS = strings.TrimSpace(r.SwitchOS)

	switch {
	case r.Name == "":
		return invalidInput("name is required")
	case r.HostType == "":
		return invalidInput("host_type is required")
	case r.PortType == "":
		return invalidInput("port_type is required")
	case r.SwitchOS == "":
		return invalidInput("switch_os is required")
	}
	return nil
}

// Create creates a template with its first version (version 1, active) and
// optional field definitions in a single transaction.
func (m *Manager) Create(ctx context.Context, req *CreateTemplateRequest) (*models.Template, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	fields, err := buildFields(req.Fields)
	if err != nil {
		return nil, err
	}

	template := &models.Template{
		Name:          req.Name,
		HostType:      req.HostType,
		PortType:      req.PortType,
		SwitchOS:      req.SwitchOS,
		ActiveVersion: 1,
		LastVersion:   1,
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(template).Error; err != nil {
			return err
		}

		version := &models.TemplateVersion{
			TemplateID:         template.ID,
			Version:            1,
			VersionName:        "v1",
			VersionDescription: req.VersionDescription,
			TemplateContent:    req.TemplateContent,
			IsActive:           true,
		}
		if err := tx.Create(version).Error; err != nil {
			return err
		}

		if len(fields) > 0 {
			for i := range fields {
				fields[i].TemplateID = template.ID
			}
			if err := tx.Create(&fields).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if db.IsDuplicateKey(err) {
			return nil, &DuplicateCombinationError{HostType: req.HostType, PortType: req.PortType, SwitchOS: req.SwitchOS}
		}
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	m.logger.Info("template created",
		zap.Uint("template_id", template.ID),
		zap.String("name", template.Name),
		zap.String("host_type", template.HostType),
		zap.String("port_type", template.PortType),
		zap.String("switch_os", template.SwitchOS))

	return template, nil
}

// Get retrieves a template by ID with its active version content
func (m *Manager) Get(ctx context.Context, id uint) (*Detail, error) {
	var detail *Detail
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var template models.Template
		if err := tx.First(&template, id).Error; err != nil {
			return templateLookupError(err, id)
		}
		var err error
		detail, err = withActiveVersion(tx, &template)
		return err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// GetByName retrieves a template by case-insensitive name. When several
// templates share a name the oldest one wins.
func (m *Manager) GetByName(ctx context.Context, name string) (*Detail, error) {
	name = strings.TrimSpace(name)
	var detail *Detail
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var template models.Template
		if err := tx.Where("LOWER(name) = LOWER(?)", name).Order("id").First(&template).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
			}
			return fmt.Errorf("failed to get template: %w", err)
		}
		var err error
		detail, err = withActiveVersion(tx, &template)
		return err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func withActiveVersion(tx *gorm.DB, template *models.Template) (*Detail, error) {
	detail := &Detail{Template: *template}

	var version models.TemplateVersion
	err := tx.Where("template_id = ? AND version = ?", template.ID, template.ActiveVersion).
		First(&version).Error
	switch {
	case err == nil:
		detail.VersionName = version.VersionName
		detail.VersionDescription = version.VersionDescription
		detail.TemplateContent = version.TemplateContent
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("failed to get active version: %w", err)
	}
	return detail, nil
}

// ListTemplatesRequest represents a request to list templates
type ListTemplatesRequest struct {
	HostType string `form:"host_type"`
	PortType string `form:"port_type"`
	SwitchOS string `form:"switch_os"`
}

// List lists templates ordered by host type, port type, switch OS and name
func (m *Manager) List(ctx context.Context, req *ListTemplatesRequest) ([]models.Template, error) {
	query := m.db.WithContext(ctx).Model(&models.Template{})

	if req != nil {
		if req.HostType != "" {
			query = query.Where("host_type = ?", req.HostType)
		}
		if req.PortType != "" {
			query = query.Where("port_type = ?", req.PortType)
		}
		if req.SwitchOS != "" {
			query = query.Where("switch_os = ?", req.SwitchOS)
		}
	}

	var templates []models.Template
	if err := query.Order("host_type, port_type, switch_os, name, id").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

// UpdateTemplateRequest represents a request to update template metadata.
// Content changes go through versions.
type UpdateTemplateRequest struct {
	Name     *string `json:"name"`
	HostType *string `json:"host_type"`
	PortType *string `json:"port_type"`
	SwitchOS *string `json:"switch_os"`
}

// UpdateMetadata updates the name and identity triple of a template
func (m *Manager) UpdateMetadata(ctx context.Context, id uint, req *UpdateTemplateRequest) (*models.Template, error) {
	updates := make(map[string]interface{})
	set := func(column string, value *string) error {
		if value == nil {
			return nil
		}
		v := strings.TrimSpace(*value)
		if v == "" {
			return invalidInput("%s must not be blank", column)
		}
		updates[column] = v
		return nil
	}
	for column, value := range map[string]*string{
		"name":      req.Name,
		"host_type": req.HostType,
		"port_type": req.PortType,
		"switch_os": req.SwitchOS,
	} {
		if err := set(column, value); err != nil {
			return nil, err
		}
	}

	var template models.Template
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&template, id).Error; err != nil {
			return templateLookupError(err, id)
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&template).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&template, id).Error
	})
	if err != nil {
		if db.IsDuplicateKey(err) {
			dup := &DuplicateCombinationError{HostType: template.HostType, PortType: template.PortType, SwitchOS: template.SwitchOS}
			if v, ok := updates["host_type"].(string); ok {
				dup.HostType = v
			}
			if v, ok := updates["port_type"].(string); ok {
				dup.PortType = v
			}
			if v, ok := updates["switch_os"].(string); ok {
				dup.SwitchOS = v
			}
			return nil, dup
		}
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update template: %w", err)
	}

	m.logger.Info("template updated", zap.Uint("template_id", id))
	return &template, nil
}

// Delete removes a template with all of its versions and field definitions
func (m *Manager) Delete(ctx context.Context, id uint) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var template models.Template
		if err := tx.First(&template, id).Error; err != nil {
			return templateLookupError(err, id)
		}
		if err := tx.Where("template_id = ?", id).Delete(&models.TemplateField{}).Error; err != nil {
			return err
		}
		if err := tx.Where("template_id = ?", id).Delete(&models.TemplateVersion{}).Error; err != nil {
			return err
		}
		return tx.Delete(&template).Error
	})
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete template: %w", err)
	}

	m.logger.Info("template deleted", zap.Uint("template_id", id))
	return nil
}

// templateLookupError maps a lookup failure to ErrTemplateNotFound when the
// row is absent.
func templateLookupError(err error, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: id %d", ErrTemplateNotFound, id)
	}
	return fmt.Errorf("failed to get template: %w", err)
}
