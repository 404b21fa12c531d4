package model

import "gorm.io/gorm"

// ChangeKind classifies how one GUID changed between two versions.
type ChangeKind string

const (
	ChangeAdded           ChangeKind = "added"
	ChangeRemoved         ChangeKind = "removed"
	ChangeModified        ChangeKind = "modified"
	ChangeGeometryChanged ChangeKind = "geometry_changed"
	ChangePropertyChanged ChangeKind = "property_changed"
)

// VersionDiff is one entry of the stable-identity diff between a version and
// its prior version. Entries are written once per ingestion and never
// mutated; unchanged GUIDs produce no entry.
type VersionDiff struct {
	gorm.Model
	ID             string     `gorm:"primaryKey;uuid;not null"`
	ModelVersionID string     `gorm:"uuid;not null;index"`
	PriorVersionID string     `gorm:"uuid;not null"`
	GUID           string     `gorm:"column:guid;not null;index"`
	ChangeKind     ChangeKind `gorm:"not null"`
	Detail         string     // json, field-level diff
}
