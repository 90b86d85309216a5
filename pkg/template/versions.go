package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourorg/config-generator/pkg/db"
	"github.com/yourorg/config-generator/pkg/db/models"
)

// ListVersions returns all versions of a template, oldest first
func (m *Manager) ListVersions(ctx context.Context, id uint) ([]models.TemplateVersion, error) {
	var versions []models.TemplateVersion
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockTemplate(tx, id); err != nil {
			return err
		}
		return tx.Where("template_id = ?", id).Order("version ASC").Find(&versions).Error
	})
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to list template versions: %w", err)
	}
	return versions, nil
}

// GetVersion retrieves a specific version of a template
func (m *Manager) GetVersion(ctx context.Context, id uint, version int) (*models.TemplateVersion, error) {
	var tv *models.TemplateVersion
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockTemplate(tx, id); err != nil {
			return err
		}
		var err error
		tv, err = findVersion(tx, id, version)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tv, nil
}

// CreateVersionRequest represents a request to add a version
type CreateVersionRequest struct {
	TemplateContent    string `json:"template_content"`
	VersionName        string `json:"version_name"`
	VersionDescription string `json:"version_description"`
}

// CreateVersion adds a new inactive version numbered one above the highest
// version ever issued for the template. The active version is unchanged.
func (m *Manager) CreateVersion(ctx context.Context, id uint, req *CreateVersionRequest) (int, error) {
	var next int
	var err error
	// a concurrent writer can take the same number; the unique index
	// rejects one of them and a single retry picks the next number
	for attempt := 0; attempt < 2; attempt++ {
		next, err = m.createVersion(ctx, id, req)
		if err == nil || !db.IsDuplicateKey(err) {
			break
		}
		m.logger.Warn("version number collision, retrying",
			zap.Uint("template_id", id),
			zap.Int("version", next))
	}
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to create template version: %w", err)
	}

	m.logger.Info("template version created",
		zap.Uint("template_id", id),
		zap.Int("version", next))
	return next, nil
}

func (m *Manager) createVersion(ctx context.Context, id uint, req *CreateVersionRequest) (int, error) {
	var next int
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		template, err := lockTemplate(tx, id)
		if err != nil {
			return err
		}

		var maxVersion int
		if err := tx.Model(&models.TemplateVersion{}).
			Where("template_id = ?", id).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}

		next = template.LastVersion
		if maxVersion > next {
			next = maxVersion
		}
		next++

		name := strings.TrimSpace(req.VersionName)
		if name == "" {
			name = fmt.Sprintf("v%d", next)
		}

		version := &models.TemplateVersion{
			TemplateID:         id,
			Version:            next,
			VersionName:        name,
			VersionDescription: req.VersionDescription,
			TemplateContent:    req.TemplateContent,
			IsActive:           false,
		}
		if err := tx.Create(version).Error; err != nil {
			return err
		}
		return tx.Model(&models.Template{}).Where("id = ?", id).Update("last_version", next).Error
	})
	return next, err
}

// UpdateVersionRequest represents a request to edit a version in place
type UpdateVersionRequest struct {
	TemplateContent    *string `json:"template_content"`
	VersionName        *string `json:"version_name"`
	VersionDescription *string `json:"version_description"`
}

// UpdateVersion edits the content, name or description of a version. It
// never changes which version is active.
func (m *Manager) UpdateVersion(ctx context.Context, id uint, version int, req *UpdateVersionRequest) (*models.TemplateVersion, error) {
	updates := make(map[string]interface{})
	if req.TemplateContent != nil {
		updates["template_content"] = *req.TemplateContent
	}
	if req.VersionName != nil {
		name := strings.TrimSpace(*req.VersionName)
		if name == "" {
			return nil, invalidInput("version_name must not be blank")
		}
		updates["version_name"] = name
	}
	if req.VersionDescription != nil {
		updates["version_description"] = *req.VersionDescription
	}

	var tv *models.TemplateVersion
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockTemplate(tx, id); err != nil {
			return err
		}
		var err error
		if tv, err = findVersion(tx, id, version); err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(tv).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update template version: %w", err)
		}
		tv, err = findVersion(tx, id, version)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("template version updated",
		zap.Uint("template_id", id),
		zap.Int("version", version))
	return tv, nil
}

// DeleteVersion removes a version. The active version and the only version
// of a template cannot be deleted.
func (m *Manager) DeleteVersion(ctx context.Context, id uint, version int) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		template, err := lockTemplate(tx, id)
		if err != nil {
			return err
		}
		tv, err := findVersion(tx, id, version)
		if err != nil {
			return err
		}
		if template.ActiveVersion == version || tv.IsActive {
			return ErrActiveVersionDeletion
		}

		var count int64
		if err := tx.Model(&models.TemplateVersion{}).Where("template_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count <= 1 {
			return ErrLastVersionDeletion
		}

		return tx.Delete(tv).Error
	})
	if err != nil {
		return err
	}

	m.logger.Info("template version deleted",
		zap.Uint("template_id", id),
		zap.Int("version", version))
	return nil
}

// SetActiveVersion makes version the active version of a template. The
// template pointer and every is_active flag change in one transaction.
func (m *Manager) SetActiveVersion(ctx context.Context, id uint, version int) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockTemplate(tx, id); err != nil {
			return err
		}
		if _, err := findVersion(tx, id, version); err != nil {
			return err
		}

		if err := tx.Model(&models.Template{}).Where("id = ?", id).
			Update("active_version", version).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.TemplateVersion{}).Where("template_id = ?", id).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.TemplateVersion{}).Where("template_id = ? AND version = ?", id, version).
			Update("is_active", true).Error
	})
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) || errors.Is(err, ErrVersionNotFound) {
			return err
		}
		return fmt.Errorf("failed to set active version: %w", err)
	}

	m.logger.Info("active version changed",
		zap.Uint("template_id", id),
		zap.Int("version", version))
	return nil
}

// lockTemplate loads a template inside tx. On databases with row locks the
// row stays locked until tx ends, which serialises version changes.
func lockTemplate(tx *gorm.DB, id uint) (*models.Template, error) {
	var template models.Template
	query := tx
	if tx.Dialector.Name() != db.DriverSQLite {
		query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.First(&template, id).Error; err != nil {
		return nil, templateLookupError(err, id)
	}
	return &template, nil
}

func findVersion(tx *gorm.DB, id uint, version int) (*models.TemplateVersion, error) {
	var tv models.TemplateVersion
	err := tx.Where("template_id = ? AND version = ?", id, version).First(&tv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &VersionNotFoundError{TemplateID: id, Version: version}
		}
		return nil, fmt.Errorf("failed to get template version: %w", err)
	}
	return &tv, nil
}
