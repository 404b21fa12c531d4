package model

import "gorm.io/gorm"

// Relationship kinds used by the normalizer for the spatial hierarchy; the
// column is an open string so source-specific kinds pass through untouched.
const (
	RelContains = "contains" // spatial containment (site > building > storey > element)
	RelTypeOf   = "type_of"
	RelMaterial = "material_of"
	RelSystem   = "system_membership"
	RelVoids    = "voids"
	RelFills    = "fills"
)

// Relationship is a directed edge between two elements of one model version,
// keyed by GUID. Multiple edges between the same pair are allowed as long as
// the kinds differ.
type Relationship struct {
	gorm.Model
	ID             string `gorm:"primaryKey;uuid;not null"`
	ModelVersionID string `gorm:"uuid;not null;index"`
	SourceGUID     string `gorm:"column:source_guid;not null;index"`
	TargetGUID     string `gorm:"column:target_guid;not null;index"`
	Kind           string `gorm:"not null;index"`
	Attributes     string // json, optional
}
