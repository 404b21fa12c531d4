package model

import "gorm.io/gorm"

// Property is one flattened key/value row of an entity's property groups.
// The declared value kind is recorded as-is; no schema validation happens
// here. The full set for an entity is replaced wholesale on re-ingestion.
type Property struct {
	gorm.Model
	ID        string `gorm:"primaryKey;uuid;not null"`
	EntityID  string `gorm:"uuid;not null;index"`
	GroupName string `gorm:"not null"`
	Name      string `gorm:"not null"`
	Value     string
	ValueKind string
}
