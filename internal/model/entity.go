package model

import (
	"encoding/json"

	"gorm.io/gorm"
)

// GeometryState tracks the per-entity extraction lifecycle, independent of
// the version-level geometry layer status.
type GeometryState string

const (
	GeometryPending          GeometryState = "pending"
	GeometryProcessing       GeometryState = "processing"
	GeometryCompleted        GeometryState = "completed"
	GeometryFailed           GeometryState = "failed"
	GeometryNoRepresentation GeometryState = "no_representation"
)

// Terminal reports whether the state will not change without an explicit re-run.
func (s GeometryState) Terminal() bool {
	return s == GeometryCompleted || s == GeometryFailed || s == GeometryNoRepresentation
}

// Entity is one normalized building element of a model version. GUIDs come
// from the source file, are opaque and case-sensitive, and are the only
// cross-version join key; they are never generated or rewritten here.
type Entity struct {
	gorm.Model
	ID             string `gorm:"primaryKey;uuid;not null"`
	ModelVersionID string `gorm:"uuid;not null;uniqueIndex:idx_version_guid;index"`
	GUID           string `gorm:"column:guid;not null;uniqueIndex:idx_version_guid"`
	Kind           string `gorm:"not null;index"`
	Subtype        string
	Name           string
	StoreyGUID     string        `gorm:"column:storey_guid;index"`
	IsRemoved      bool          `gorm:"default:false"`
	GeometryState  GeometryState `gorm:"default:pending"`
	GeometryError  string

	// Owned by the enrichment/verification workflows, never written by ingestion.
	Enriched bool `gorm:"default:false"`
	Verified bool `gorm:"default:false"`
}

// FileSourcedColumns lists the columns the upsert engine is allowed to write
// on an existing entity. Everything else belongs to other subsystems.
func FileSourcedColumns() []string {
	return []string{"kind", "subtype", "name", "storey_guid", "is_removed"}
}

func (e *Entity) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}
