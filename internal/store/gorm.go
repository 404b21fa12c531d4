package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/EdvardGK/sprucelab-sub000/internal/model"
)

const writeBatchSize = 500

var ErrNotFound = errors.New("record not found")

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db: db,
	}
}

var _ Store = (*GormStore)(nil)

type GormStore struct {
	db *gorm.DB
}

func (g *GormStore) CreateModelVersion(ctx context.Context, v *model.ModelVersion) error {
	return g.db.WithContext(ctx).Create(v).Error
}

func (g *GormStore) GetModelVersion(ctx context.Context, id uuid.UUID) (*model.ModelVersion, error) {
	var v model.ModelVersion
	err := g.db.WithContext(ctx).Where("id = ?", id.String()).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &v, err
}

func (g *GormStore) GetLatestModelVersion(ctx context.Context, projectID uuid.UUID, name string) (*model.ModelVersion, error) {
	var v model.ModelVersion
	err := g.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID.String(), name).
		Order("version_number desc").
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &v, err
}

func (g *GormStore) GetPublishedModelVersion(ctx context.Context, projectID uuid.UUID, name string) (*model.ModelVersion, error) {
	var v model.ModelVersion
	err := g.db.WithContext(ctx).
		Where("project_id = ? AND name = ? AND is_published = ?", projectID.String(), name, true).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &v, err
}

func (g *GormStore) ListModelVersions(ctx context.Context, projectID uuid.UUID, name string) ([]*model.ModelVersion, error) {
	var versions []*model.ModelVersion
	err := g.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID.String(), name).
		Order("version_number desc").
		Find(&versions).Error
	return versions, err
}

func (g *GormStore) ListChildModelVersions(ctx context.Context, id uuid.UUID) ([]*model.ModelVersion, error) {
	var versions []*model.ModelVersion
	err := g.db.WithContext(ctx).Where("parent_version_id = ?", id.String()).Find(&versions).Error
	return versions, err
}

func (g *GormStore) SetLayerStatus(ctx context.Context, id uuid.UUID, layer model.Layer, status model.LayerStatus) error {
	column := "parsing_status"
	switch layer {
	case model.LayerGeometry:
		column = "geometry_status"
	case model.LayerValidation:
		column = "validation_status"
	}
	return g.db.WithContext(ctx).Model(&model.ModelVersion{}).
		Where("id = ?", id.String()).
		Update(column, status).Error
}

func (g *GormStore) SetVersionCounts(ctx context.Context, id uuid.UUID, elements, skipped, errorCount int64) error {
	return g.db.WithContext(ctx).Model(&model.ModelVersion{}).
		Where("id = ?", id.String()).
		Updates(map[string]interface{}{
			"element_count": elements,
			"skipped_count": skipped,
			"error_count":   errorCount,
		}).Error
}

func (g *GormStore) SetSourceTimestamp(ctx context.Context, id uuid.UUID, ts time.Time) error {
	return g.db.WithContext(ctx).Model(&model.ModelVersion{}).
		Where("id = ?", id.String()).
		Update("source_timestamp", ts).Error
}

func (g *GormStore) SetDiffSummary(ctx context.Context, id uuid.UUID, summary string) error {
	return g.db.WithContext(ctx).Model(&model.ModelVersion{}).
		Where("id = ?", id.String()).
		Update("diff_summary", summary).Error
}

// PublishModelVersion flips the published flag to this version.
// NOTE: should run in a transaction.
func (g *GormStore) PublishModelVersion(ctx context.Context, id uuid.UUID, projectID uuid.UUID, name string) error {
	logrus.Infof("publishing model version %s for model %s", id, name)

	err := g.db.WithContext(ctx).Model(&model.ModelVersion{}).
		Where("project_id = ? AND name = ? AND id <> ?", projectID.String(), name, id.String()).
		Update("is_published", false).Error
	if err != nil {
		return err
	}

	return g.db.WithContext(ctx).Model(&model.ModelVersion{}).
		Where("id = ?", id.String()).
		Update("is_published", true).Error
}

func (g *GormStore) UnpublishModelVersion(ctx context.Context, id uuid.UUID) error {
	return g.db.WithContext(ctx).Model(&model.ModelVersion{}).
		Where("id = ?", id.String()).
		Update("is_published", false).Error
}

// DeleteModelVersion physically removes the version and every dependent row.
func (g *GormStore) DeleteModelVersion(ctx context.Context, id uuid.UUID) error {
	db := g.db.WithContext(ctx)
	entityIDs := db.Model(&model.Entity{}).Select("id").Where("model_version_id = ?", id.String())

	if err := db.Unscoped().Where("entity_id IN (?)", entityIDs).Delete(&model.Property{}).Error; err != nil {
		return err
	}
	if err := db.Unscoped().Where("entity_id IN (?)", entityIDs).Delete(&model.Geometry{}).Error; err != nil {
		return err
	}
	if err := db.Unscoped().Where("model_version_id = ?", id.String()).Delete(&model.Relationship{}).Error; err != nil {
		return err
	}
	if err := db.Unscoped().Where("model_version_id = ?", id.String()).Delete(&model.ValidationReport{}).Error; err != nil {
		return err
	}
	if err := db.Unscoped().Where("model_version_id = ?", id.String()).Delete(&model.VersionDiff{}).Error; err != nil {
		return err
	}
	if err := db.Unscoped().Where("model_version_id = ?", id.String()).Delete(&model.Entity{}).Error; err != nil {
		return err
	}

	return db.Unscoped().Where("id = ?", id.String()).Delete(&model.ModelVersion{}).Error
}

func (g *GormStore) ListGeometryRetryCandidates(ctx context.Context) ([]*model.ModelVersion, error) {
	backlog := g.db.Model(&model.Entity{}).Select("DISTINCT model_version_id").
		Where("geometry_state = ?", model.GeometryFailed)

	var versions []*model.ModelVersion
	err := g.db.WithContext(ctx).
		Where("parsing_status = ? AND geometry_status IN (?) AND id IN (?)",
			model.LayerCompleted,
			[]model.LayerStatus{model.LayerCompleted, model.LayerFailed},
			backlog).
		Find(&versions).Error
	return versions, err
}

func (g *GormStore) CreateEntities(ctx context.Context, entities []*model.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).CreateInBatches(entities, writeBatchSize).Error
}

func (g *GormStore) UpdateEntitiesFromFile(ctx context.Context, entities []*model.Entity) error {
	for _, e := range entities {
		err := g.db.WithContext(ctx).Model(&model.Entity{}).
			Where("id = ?", e.ID).
			Select(model.FileSourcedColumns()).
			Updates(e).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *GormStore) MapEntitiesByGUID(ctx context.Context, versionID uuid.UUID) (map[string]*model.Entity, error) {
	var entities []*model.Entity
	err := g.db.WithContext(ctx).Where("model_version_id = ?", versionID.String()).Find(&entities).Error
	if err != nil {
		return nil, err
	}

	byGUID := make(map[string]*model.Entity, len(entities))
	for _, e := range entities {
		byGUID[e.GUID] = e
	}
	return byGUID, nil
}

func (g *GormStore) ListEntities(ctx context.Context, versionID uuid.UUID, filter EntityFilter) ([]*model.Entity, error) {
	q := g.db.WithContext(ctx).Where("model_version_id = ?", versionID.String())
	if !filter.IncludeRemoved {
		q = q.Where("is_removed = ?", false)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	if filter.StoreyGUID != "" {
		q = q.Where("storey_guid = ?", filter.StoreyGUID)
	}
	if filter.SystemGUID != "" {
		members := g.db.Model(&model.Relationship{}).Select("source_guid").
			Where("model_version_id = ? AND kind = ? AND target_guid = ?",
				versionID.String(), model.RelSystem, filter.SystemGUID)
		q = q.Where("guid IN (?)", members)
	}

	var entities []*model.Entity
	err := q.Find(&entities).Error
	return entities, err
}

func (g *GormStore) ListEntitiesByGeometryState(ctx context.Context, versionID uuid.UUID, states ...model.GeometryState) ([]*model.Entity, error) {
	var entities []*model.Entity
	err := g.db.WithContext(ctx).
		Where("model_version_id = ? AND geometry_state IN (?)", versionID.String(), states).
		Find(&entities).Error
	return entities, err
}

func (g *GormStore) SetEntityGeometryState(ctx context.Context, entityID string, state model.GeometryState, extractErr string) error {
	return g.db.WithContext(ctx).Model(&model.Entity{}).
		Where("id = ?", entityID).
		Updates(map[string]interface{}{
			"geometry_state": state,
			"geometry_error": extractErr,
		}).Error
}

func (g *GormStore) ReplaceProperties(ctx context.Context, entityID string, props []*model.Property) error {
	err := g.db.WithContext(ctx).Unscoped().Where("entity_id = ?", entityID).Delete(&model.Property{}).Error
	if err != nil {
		return err
	}
	if len(props) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).CreateInBatches(props, writeBatchSize).Error
}

func (g *GormStore) ListEntityProperties(ctx context.Context, entityID string) ([]*model.Property, error) {
	var props []*model.Property
	err := g.db.WithContext(ctx).Where("entity_id = ?", entityID).Find(&props).Error
	return props, err
}

func (g *GormStore) CreateRelationships(ctx context.Context, rels []*model.Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).CreateInBatches(rels, writeBatchSize).Error
}

func (g *GormStore) ListRelationships(ctx context.Context, versionID uuid.UUID, kind string) ([]*model.Relationship, error) {
	q := g.db.WithContext(ctx).Where("model_version_id = ?", versionID.String())
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var rels []*model.Relationship
	err := q.Find(&rels).Error
	return rels, err
}

func (g *GormStore) SaveGeometry(ctx context.Context, geom *model.Geometry) error {
	err := g.db.WithContext(ctx).Unscoped().Where("entity_id = ?", geom.EntityID).Delete(&model.Geometry{}).Error
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Create(geom).Error
}

func (g *GormStore) GetGeometry(ctx context.Context, entityID string) (*model.Geometry, error) {
	var geom model.Geometry
	err := g.db.WithContext(ctx).Where("entity_id = ?", entityID).First(&geom).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &geom, err
}

func (g *GormStore) SaveValidationReport(ctx context.Context, report *model.ValidationReport) error {
	err := g.db.WithContext(ctx).Unscoped().
		Where("model_version_id = ?", report.ModelVersionID).
		Delete(&model.ValidationReport{}).Error
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Create(report).Error
}

func (g *GormStore) GetValidationReport(ctx context.Context, versionID uuid.UUID) (*model.ValidationReport, error) {
	var report model.ValidationReport
	err := g.db.WithContext(ctx).Where("model_version_id = ?", versionID.String()).First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &report, err
}

func (g *GormStore) CreateVersionDiffs(ctx context.Context, diffs []*model.VersionDiff) error {
	if len(diffs) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).CreateInBatches(diffs, writeBatchSize).Error
}

func (g *GormStore) ListVersionDiffs(ctx context.Context, versionID uuid.UUID) ([]*model.VersionDiff, error) {
	var diffs []*model.VersionDiff
	err := g.db.WithContext(ctx).Where("model_version_id = ?", versionID.String()).Find(&diffs).Error
	return diffs, err
}

func (g *GormStore) LoadSnapshot(ctx context.Context, versionID uuid.UUID) (*VersionSnapshot, error) {
	snapshot := &VersionSnapshot{
		VersionID:  versionID.String(),
		Entities:   make(map[string]*model.Entity),
		Properties: make(map[string][]*model.Property),
		Geometry:   make(map[string]GeometrySignature),
	}

	var entities []*model.Entity
	err := g.db.WithContext(ctx).Where("model_version_id = ?", versionID.String()).Find(&entities).Error
	if err != nil {
		return nil, err
	}

	byID := make(map[string]string, len(entities)) // entity id → guid
	for _, e := range entities {
		if _, seen := snapshot.Entities[e.GUID]; seen {
			snapshot.DuplicateGUIDs = append(snapshot.DuplicateGUIDs, e.GUID)
		}
		snapshot.Entities[e.GUID] = e
		byID[e.ID] = e.GUID
	}

	var props []*model.Property
	entityIDs := g.db.Model(&model.Entity{}).Select("id").Where("model_version_id = ?", versionID.String())
	if err := g.db.WithContext(ctx).Where("entity_id IN (?)", entityIDs).Find(&props).Error; err != nil {
		return nil, err
	}
	for _, p := range props {
		guid, ok := byID[p.EntityID]
		if !ok {
			continue
		}
		snapshot.Properties[guid] = append(snapshot.Properties[guid], p)
	}

	if err := g.db.WithContext(ctx).Where("model_version_id = ?", versionID.String()).Find(&snapshot.Relationships).Error; err != nil {
		return nil, err
	}

	var geoms []*model.Geometry
	if err := g.db.WithContext(ctx).Where("entity_id IN (?)", entityIDs).Find(&geoms).Error; err != nil {
		return nil, err
	}
	for _, geom := range geoms {
		guid, ok := byID[geom.EntityID]
		if !ok {
			continue
		}
		snapshot.Geometry[guid] = GeometrySignature{
			VertexCount:   geom.VertexCount,
			TriangleCount: geom.TriangleCount,
			Min:           [3]float64{geom.MinX, geom.MinY, geom.MinZ},
			Max:           [3]float64{geom.MaxX, geom.MaxY, geom.MaxZ},
		}
	}

	return snapshot, nil
}

func (g *GormStore) Migrate() error {
	return model.Migrate(g.db)
}

func (g *GormStore) Transaction(ctx context.Context, f func(tx Store) error) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		return f(&GormStore{db: tx})
	})
}
