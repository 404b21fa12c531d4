package model

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// LayerStatus tracks one of the three independent processing layers
// (parsing, geometry, validation) of a model version.
type LayerStatus string

const (
	LayerPending   LayerStatus = "pending"
	LayerRunning   LayerStatus = "running"
	LayerCompleted LayerStatus = "completed"
	LayerFailed    LayerStatus = "failed"
)

// Layer names used when addressing a single layer status column.
type Layer string

const (
	LayerParsing    Layer = "parsing"
	LayerGeometry   Layer = "geometry"
	LayerValidation Layer = "validation"
)

// OverallStatus is the derived display status of a version.
type OverallStatus string

const (
	OverallUploading  OverallStatus = "uploading"
	OverallProcessing OverallStatus = "processing"
	OverallReady      OverallStatus = "ready"
	OverallError      OverallStatus = "error"
)

// ModelVersion is one ingested revision of a named model within a project.
// Versions of the same name form a chain through ParentVersionID.
type ModelVersion struct {
	gorm.Model
	ID               string `gorm:"primaryKey;uuid;not null"`
	ProjectID        string `gorm:"uuid;not null;index"`
	Name             string `gorm:"not null;index"`
	VersionNumber    int64  `gorm:"not null"`
	ParentVersionID  *string
	ParsingStatus    LayerStatus `gorm:"default:pending"`
	GeometryStatus   LayerStatus `gorm:"default:pending"`
	ValidationStatus LayerStatus `gorm:"default:pending"`
	IsPublished      bool        `gorm:"default:false;index"`
	SourceTimestamp  *time.Time
	ElementCount     int64
	SkippedCount     int64
	ErrorCount       int64
	DiffSummary      string // json, written once by the diff engine
}

// Overall derives the display status from the layer statuses. Parsing is the
// gating layer; geometry and validation never block ready.
func (v *ModelVersion) Overall() OverallStatus {
	switch v.ParsingStatus {
	case LayerFailed:
		return OverallError
	case LayerCompleted:
		return OverallReady
	case LayerRunning:
		return OverallProcessing
	}
	if v.GeometryStatus == LayerRunning || v.ValidationStatus == LayerRunning {
		return OverallProcessing
	}
	return OverallUploading
}

// LayerOf returns the status of the named layer.
func (v *ModelVersion) LayerOf(layer Layer) LayerStatus {
	switch layer {
	case LayerGeometry:
		return v.GeometryStatus
	case LayerValidation:
		return v.ValidationStatus
	default:
		return v.ParsingStatus
	}
}

// DiffSummaryCounts is the structured diff summary stored on the version row.
type DiffSummaryCounts struct {
	Added           int `json:"added"`
	Removed         int `json:"removed"`
	Modified        int `json:"modified"`
	GeometryChanged int `json:"geometry_changed"`
	PropertyChanged int `json:"property_changed"`
}

func (v *ModelVersion) SetDiffSummary(counts DiffSummaryCounts) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	v.DiffSummary = string(data)
	return nil
}

func (v *ModelVersion) MarshalBinary() ([]byte, error) {
	return json.Marshal(v)
}
