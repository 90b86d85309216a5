// Package catalog manages the host type, port type and switch OS catalogs
// that templates are classified by.
package catalog

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

// Catalog errors
var (
	ErrDuplicateName = errors.New("catalog entry already exists")
	ErrNotFound      = errors.New("catalog entry not found")
	ErrUnknownKind   = errors.New("unknown catalog")
	ErrInvalidName   = errors.New("catalog entry name is required")
)

// Kind identifies one of the catalogs
type Kind string

const (
	HostTypes     Kind = "host-types"
	PortTypes     Kind = "port-types"
	SwitchOSTypes Kind = "switch-os-types"
)

// Kinds lists every catalog
func Kinds() []Kind {
	return []Kind{HostTypes, PortTypes, SwitchOSTypes}
}

// ParseKind maps a path segment or table name to a Kind
func ParseKind(s string) (Kind, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case string(HostTypes):
		return HostTypes, nil
	case string(PortTypes):
		return PortTypes, nil
	case string(SwitchOSTypes):
		return SwitchOSTypes, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Entry is one catalog row. Description is only stored for host types.
type Entry struct {
	ID          uint   `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// table binds a catalog to its model. Each catalog has its own columns, so
// rows are always scanned into the concrete model and mapped to Entry.
type table struct {
	model  func() interface{}
	create func(tx *gorm.DB, name, description string) (*Entry, error)
	list   func(tx *gorm.DB) ([]Entry, error)
}

var tables = map[Kind]table{
	HostTypes: {
		model: func() interface{} { return &models.HostType{} },
		create: func(tx *gorm.DB, name, description string) (*Entry, error) {
			return createRow(tx, &models.HostType{Name: name, Description: description}, hostTypeEntry)
		},
		list: func(tx *gorm.DB) ([]Entry, error) { return listRows(tx, hostTypeEntry) },
	},
	PortTypes: {
		model: func() interface{} { return &models.PortType{} },
		create: func(tx *gorm.DB, name, _ string) (*Entry, error) {
			return createRow(tx, &models.PortType{Name: name}, portTypeEntry)
		},
		list: func(tx *gorm.DB) ([]Entry, error) { return listRows(tx, portTypeEntry) },
	},
	SwitchOSTypes: {
		model: func() interface{} { return &models.SwitchOSType{} },
		create: func(tx *gorm.DB, name, _ string) (*Entry, error) {
			return createRow(tx, &models.SwitchOSType{Name: name}, switchOSEntry)
		},
		list: func(tx *gorm.DB) ([]Entry, error) { return listRows(tx, switchOSEntry) },
	},
}

func hostTypeEntry(h models.HostType) Entry {
	return Entry{ID: h.ID, Name: h.Name, Description: h.Description}
}

func portTypeEntry(p models.PortType) Entry {
	return Entry{ID: p.ID, Name: p.Name}
}

func switchOSEntry(s models.SwitchOSType) Entry {
	return Entry{ID: s.ID, Name: s.Name}
}

func createRow[T any](tx *gorm.DB, row *T, toEntry func(T) Entry) (*Entry, error) {
	if err := tx.Create(row).Error; err != nil {
		return nil, err
	}
	entry := toEntry(*row)
	return &entry, nil
}

func listRows[T any](tx *gorm.DB, toEntry func(T) Entry) ([]Entry, error) {
	var rows []T
	if err := tx.Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]Entry, len(rows))
	for i, row := range rows {
		entries[i] = toEntry(row)
	}
	return entries, nil
}

func tableFor(kind Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return t, nil
}

// Manager manages the catalogs
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager creates a new catalog manager
func NewManager(db *gorm.DB, logger *zap.Logger) *Manager {
	return &Manager{
		db:     db,
		logger: logger,
	}
}

// List returns the entries of a catalog sorted by name
func (m *Manager) List(ctx context.Context, kind Kind) ([]Entry, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	entries, err := t.list(m.db.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	return entries, nil
}

// Names returns the entry names of a catalog sorted by name
func (m *Manager) Names(ctx context.Context, kind Kind) ([]string, error) {
	entries, err := m.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// Add inserts an entry. Names are unique within a catalog.
func (m *Manager) Add(ctx context.Context, kind Kind, name, description string) (*Entry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	entry, err := t.create(m.db.WithContext(ctx), name, description)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return nil, fmt.Errorf("%w: %s %q", ErrDuplicateName, kind, name)
		}
		return nil, fmt.Errorf("failed to add to %s: %w", kind, err)
	}

	m.logger.Info("catalog entry added",
		zap.String("catalog", string(kind)),
		zap.String("name", name))

	return entry, nil
}

// Remove deletes an entry by name. Templates that reference the name are
// left untouched.
func (m *Manager) Remove(ctx context.Context, kind Kind, name string) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}

	result := m.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).Delete(t.model())
	if result.Error != nil {
		return fmt.Errorf("failed to remove from %s: %w", kind, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %q", ErrNotFound, kind, name)
	}

	m.logger.Info("catalog entry removed",
		zap.String("catalog", string(kind)),
		zap.String("name", name))
	return nil
}
