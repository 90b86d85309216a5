package template

import (
	"errors"
	"fmt"
)

// Store errors, matched with errors.Is
var (
	ErrTemplateNotFound      = errors.New("template not found")
	ErrVersionNotFound       = errors.New("template version not found")
	ErrDuplicateCombination  = errors.New("duplicate template combination")
	ErrActiveVersionDeletion = errors.New("cannot delete the active version; set another version as active first")
	ErrLastVersionDeletion   = errors.New("cannot delete the only version; templates must have at least one version")
	ErrInvalidInput          = errors.New("invalid input")
)

// DuplicateCombinationError names the (host type, port type, switch OS)
// triple that is already taken.
type DuplicateCombinationError struct {
	HostType string
	PortType string
	SwitchOS string
}

func (e *DuplicateCombinationError) Error() string {
	return fmt.Sprintf("a template already exists for %s/%s/%s; only one template is allowed per combination",
		e.HostType, e.PortType, e.SwitchOS)
}

// Is makes errors.Is(err, ErrDuplicateCombination) succeed.
func (e *DuplicateCombinationError) Is(target error) bool {
	return target == ErrDuplicateCombination
}

// VersionNotFoundError identifies the missing version.
type VersionNotFoundError struct {
	TemplateID uint
	Version    int
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("version %d not found for template %d", e.Version, e.TemplateID)
}

// Is makes errors.Is(err, ErrVersionNotFound) succeed.
func (e *VersionNotFoundError) Is(target error) bool {
	return target == ErrVersionNotFound
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
