package store

import (
	"github.com/EdvardGK/sprucelab-sub000/internal/model"
)

// GeometrySignature is the cheap comparison key of one entity's geometry.
// Buffers are never compared across versions, only counts and bounds.
type GeometrySignature struct {
	VertexCount   int
	TriangleCount int
	Min           [3]float64
	Max           [3]float64
}

// VersionSnapshot is the in-memory read model of one version, keyed by GUID.
// The validation and diff engines both consume it read-only, so one snapshot
// may be shared by concurrent readers.
type VersionSnapshot struct {
	VersionID     string
	Entities      map[string]*model.Entity
	Properties    map[string][]*model.Property
	Relationships []*model.Relationship
	Geometry      map[string]GeometrySignature

	// DuplicateGUIDs lists GUIDs that appeared on more than one entity row.
	// The unique index makes this impossible for rows written here, but
	// imported legacy data is still checked by the validation engine.
	DuplicateGUIDs []string
}

// Live returns the entities not flagged removed.
func (s *VersionSnapshot) Live() map[string]*model.Entity {
	live := make(map[string]*model.Entity, len(s.Entities))
	for guid, e := range s.Entities {
		if !e.IsRemoved {
			live[guid] = e
		}
	}
	return live
}

// PropertyCount returns the number of property rows of one GUID.
func (s *VersionSnapshot) PropertyCount(guid string) int {
	return len(s.Properties[guid])
}

// HasGroup reports whether the GUID carries at least one property of the group.
func (s *VersionSnapshot) HasGroup(guid, group string) bool {
	for _, p := range s.Properties[guid] {
		if p.GroupName == group {
			return true
		}
	}
	return false
}
