package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/EdvardGK/sprucelab-sub000/internal/model"
)

type Store interface {
	ModelVersionStore
	EntityStore
	GeometryStore
	ReportStore
	Transaction(ctx context.Context, f func(tx Store) error) error
	Migrate() error
}

// EntityFilter narrows entity list reads for the query surface. Zero values
// mean "no filter". System filtering follows system-membership edges.
type EntityFilter struct {
	Kind           string
	StoreyGUID     string
	SystemGUID     string
	IncludeRemoved bool
}

type ModelVersionStore interface {
	// CreateModelVersion creates a new model version row.
	CreateModelVersion(ctx context.Context, v *model.ModelVersion) error
	// GetModelVersion retrieves a model version by ID.
	GetModelVersion(ctx context.Context, id uuid.UUID) (*model.ModelVersion, error)
	// GetLatestModelVersion retrieves the newest version of a named model.
	GetLatestModelVersion(ctx context.Context, projectID uuid.UUID, name string) (*model.ModelVersion, error)
	// GetPublishedModelVersion retrieves the published version of a named model.
	GetPublishedModelVersion(ctx context.Context, projectID uuid.UUID, name string) (*model.ModelVersion, error)
	// ListModelVersions retrieves all versions of a named model, newest first.
	ListModelVersions(ctx context.Context, projectID uuid.UUID, name string) ([]*model.ModelVersion, error)
	// ListChildModelVersions retrieves versions whose parent pointer is id.
	ListChildModelVersions(ctx context.Context, id uuid.UUID) ([]*model.ModelVersion, error)
	// SetLayerStatus writes one layer status column.
	SetLayerStatus(ctx context.Context, id uuid.UUID, layer model.Layer, status model.LayerStatus) error
	// SetVersionCounts writes the element/skipped/error counters.
	SetVersionCounts(ctx context.Context, id uuid.UUID, elements, skipped, errors int64) error
	// SetDiffSummary writes the structured diff summary json.
	SetDiffSummary(ctx context.Context, id uuid.UUID, summary string) error
	// SetSourceTimestamp records the timestamp declared in the source file.
	SetSourceTimestamp(ctx context.Context, id uuid.UUID, ts time.Time) error
	// PublishModelVersion marks id published and unpublishes every sibling
	// sharing (project, name). Must run inside a transaction.
	PublishModelVersion(ctx context.Context, id uuid.UUID, projectID uuid.UUID, name string) error
	// UnpublishModelVersion clears the published flag, siblings untouched.
	UnpublishModelVersion(ctx context.Context, id uuid.UUID) error
	// DeleteModelVersion deletes a version and all rows hanging off it.
	// Child versions are the caller's concern (recursive cascade).
	DeleteModelVersion(ctx context.Context, id uuid.UUID) error
	// ListGeometryRetryCandidates retrieves versions that finished parsing
	// and still carry entities with failed geometry extraction.
	ListGeometryRetryCandidates(ctx context.Context) ([]*model.ModelVersion, error)
}

type EntityStore interface {
	// CreateEntities inserts a batch of new entities.
	CreateEntities(ctx context.Context, entities []*model.Entity) error
	// UpdateEntitiesFromFile updates the file-sourced columns of a batch of
	// existing entities. Columns owned by other subsystems are not touched.
	UpdateEntitiesFromFile(ctx context.Context, entities []*model.Entity) error
	// MapEntitiesByGUID loads the full GUID→entity map of one version.
	MapEntitiesByGUID(ctx context.Context, versionID uuid.UUID) (map[string]*model.Entity, error)
	// ListEntities retrieves entities of one version, filtered.
	ListEntities(ctx context.Context, versionID uuid.UUID, filter EntityFilter) ([]*model.Entity, error)
	// ListEntitiesByGeometryState retrieves entities in any of the given states.
	ListEntitiesByGeometryState(ctx context.Context, versionID uuid.UUID, states ...model.GeometryState) ([]*model.Entity, error)
	// SetEntityGeometryState atomically writes one entity's extraction state.
	SetEntityGeometryState(ctx context.Context, entityID string, state model.GeometryState, extractErr string) error
	// ReplaceProperties drops and rewrites the property rows of one entity.
	ReplaceProperties(ctx context.Context, entityID string, props []*model.Property) error
	// ListEntityProperties retrieves the property rows of one entity.
	ListEntityProperties(ctx context.Context, entityID string) ([]*model.Property, error)
	// CreateRelationships inserts a batch of relationship edges.
	CreateRelationships(ctx context.Context, rels []*model.Relationship) error
	// ListRelationships retrieves edges of one version, optionally by kind.
	ListRelationships(ctx context.Context, versionID uuid.UUID, kind string) ([]*model.Relationship, error)
}

type GeometryStore interface {
	// SaveGeometry creates or replaces the geometry row of one entity.
	SaveGeometry(ctx context.Context, geom *model.Geometry) error
	// GetGeometry retrieves the geometry row of one entity.
	GetGeometry(ctx context.Context, entityID string) (*model.Geometry, error)
}

type ReportStore interface {
	// SaveValidationReport replaces the report of one version wholesale.
	SaveValidationReport(ctx context.Context, report *model.ValidationReport) error
	// GetValidationReport retrieves the report of one version.
	GetValidationReport(ctx context.Context, versionID uuid.UUID) (*model.ValidationReport, error)
	// CreateVersionDiffs inserts the diff entries of one ingestion.
	CreateVersionDiffs(ctx context.Context, diffs []*model.VersionDiff) error
	// ListVersionDiffs retrieves the diff entries of one version.
	ListVersionDiffs(ctx context.Context, versionID uuid.UUID) ([]*model.VersionDiff, error)
	// LoadSnapshot loads the entity/property/geometry snapshot of one version
	// used by the validation and diff engines. Read-only after load.
	LoadSnapshot(ctx context.Context, versionID uuid.UUID) (*VersionSnapshot, error)
}
