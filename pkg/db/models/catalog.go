package models

// HostType is a catalog entry for the host_type dimension of a template
type HostType struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string `gorm:"size:128;not null;uniqueIndex" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`
}

// TableName returns the table name for HostType
func (HostType) TableName() string {
	return "host_types"
}

// PortType is a catalog entry for the port_type dimension of a template
type PortType struct {
	ID   uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"size:128;not null;uniqueIndex" json:"name"`
}

// TableName returns the table name for PortType
func (PortType) TableName() string {
	return "port_types"
}

// SwitchOSType is a catalog entry for the switch_os dimension of a template
type SwitchOSType struct {
	ID   uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"size:128;not null;uniqueIndex" json:"name"`
}

// TableName returns the table name for SwitchOSType
func (SwitchOSType) TableName() string {
	return "switch_os_types"
}

// All returns every model managed by the schema migrations, parents first.
func All() []interface{} {
	return []interface{}{
		&Template{},
		&TemplateVersion{},
		&TemplateField{},
		&HostType{},
		&PortType{},
		&SwitchOSType{},
	}
}
