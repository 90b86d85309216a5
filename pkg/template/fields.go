package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/config-generator/pkg/db/models"
)

// FieldDefinition declares one input column a template expects
type FieldDefinition struct {
	FieldName    string           `json:"field_name" yaml:"field_name"`
	FieldType    models.FieldType `json:"field_type" yaml:"field_type"`
	Required     *bool            `json:"required,omitempty" yaml:"required,omitempty"`
	DefaultValue string           `json:"default_value,omitempty" yaml:"default_value,omitempty"`
}

func buildFields(defs []FieldDefinition) ([]models.TemplateField, error) {
	fields := make([]models.TemplateField, 0, len(defs))
	seen := make(map[string]struct{}, len(defs))

	for i, def := range defs {
		name := strings.TrimSpace(def.FieldName)
		if name == "" {
			return nil, invalidInput("field %d: field_name is required", i+1)
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return nil, invalidInput("field %q is defined more than once", name)
		}
		seen[key] = struct{}{}

		fieldType := def.FieldType
		if fieldType == "" {
			fieldType = models.FieldTypeString
		}
		if !fieldType.Valid() {
			return nil, invalidInput("field %q: unknown field_type %q", name, fieldType)
		}

		required := true
		if def.Required != nil {
			required = *def.Required
		}

		fields = append(fields, models.TemplateField{
			FieldName:    name,
			FieldType:    fieldType,
			Required:     required,
			DefaultValue: def.DefaultValue,
			Position:     i,
		})
	}
	return fields, nil
}

// GetFields returns the field definitions of a template in declaration order
func (m *Manager) GetFields(ctx context.Context, id uint) ([]models.TemplateField, error) {
	var fields []models.TemplateField
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var template models.Template
		if err := tx.First(&template, id).Error; err != nil {
			return templateLookupError(err, id)
		}
		return tx.Where("template_id = ?", id).Order("position, id").Find(&fields).Error
	})
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get template fields: %w", err)
	}
	return fields, nil
}

// ReplaceFields swaps the whole field list of a template
func (m *Manager) ReplaceFields(ctx context.Context, id uint, defs []FieldDefinition) ([]models.TemplateField, error) {
	fields, err := buildFields(defs)
	if err != nil {
		return nil, err
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var template models.Template
		if err := tx.First(&template, id).Error; err != nil {
			return templateLookupError(err, id)
		}
		if err := tx.Where("template_id = ?", id).Delete(&models.TemplateField{}).Error; err != nil {
			return err
		}
		if len(fields) == 0 {
			return nil
		}
		for i := range fields {
			fields[i].TemplateID = id
		}
		return tx.Create(&fields).Error
	})
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to replace template fields: %w", err)
	}

	m.logger.Info("template fields replaced",
		zap.Uint("template_id", id),
		zap.Int("count", len(fields)))
	return fields, nil
}
