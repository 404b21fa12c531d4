package model

import (
	"encoding/json"
	"time"
)

// ReportStatus is the overall outcome of a validation run.
type ReportStatus string

const (
	ReportPass    ReportStatus = "pass"
	ReportWarning ReportStatus = "warning"
	ReportFail    ReportStatus = "fail"
)

// ValidationReport is the one-to-one quality snapshot of a model version.
// It is immutable once written; a re-run replaces the row wholesale.
type ValidationReport struct {
	ModelVersionID string `gorm:"primaryKey;uuid;not null"`
	CreatedAt      time.Time
	OverallStatus  ReportStatus `gorm:"not null"`
	Issues         string       // json list of typed issues
	SchemaIssues   int
	GUIDIssues     int `gorm:"column:guid_issues"`
	GeometryIssues int
	PropertyIssues int
	MaturityIssues int
	InternalIssues int
}

func (r *ValidationReport) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}
