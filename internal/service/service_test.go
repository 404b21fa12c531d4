package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/EdvardGK/sprucelab-sub000/internal/compress"
	"github.com/EdvardGK/sprucelab-sub000/internal/geometry"
	"github.com/EdvardGK/sprucelab-sub000/internal/model"
	"github.com/EdvardGK/sprucelab-sub000/internal/reader"
	"github.com/EdvardGK/sprucelab-sub000/internal/store"
	"github.com/EdvardGK/sprucelab-sub000/internal/tester"
	"github.com/EdvardGK/sprucelab-sub000/internal/validation"
)

func newTestService() (*Service, store.Store) {
	st := store.NewGormStore(tester.TestDB())
	geo := geometry.NewManager(st, compress.NewNop(), 2)
	return NewService(st, tester.Cache(), geo, 100), st
}

func wallElement(guid, name string) reader.Element {
	return reader.Element{
		GUID: guid,
		Name: name,
		PropertyGroups: map[string]map[string]reader.Value{
			"Pset_WallCommon": {
				"FireRating":  {Kind: "string", Data: "REI60"},
				"LoadBearing": {Kind: "boolean", Data: "true"},
				"IsExternal":  {Kind: "boolean", Data: "false"},
			},
		},
	}
}

func ingestVersion(t *testing.T, svc *Service, projectID uuid.UUID, name string, r reader.ModelReader, ex geometry.Extractor) (*model.ModelVersion, *IngestResult) {
	t.Helper()

	version, err := svc.CreateVersion(context.TODO(), projectID, name)
	assert.NoError(t, err)

	result, err := svc.Ingest(context.TODO(), &IngestRequest{
		VersionID: uuid.MustParse(version.ID),
		Reader:    r,
		Extractor: ex,
	})
	assert.NoError(t, err)

	return version, result
}

func TestService_IngestSingleVersion(t *testing.T) {
	svc, st := newTestService()
	projectID := uuid.New()

	src := reader.NewMemory()
	src.AddElement("IfcWall", wallElement("2O2Fr$t4X7Zf8NOew3FLOH", "Wall-A"))
	src.AddElement("IfcDoor", reader.Element{GUID: "1kTvXnbbzCWw8lcMd1dR4o", Name: "Door-A"})
	src.AddRelationship(reader.Relationship{
		Kind:       model.RelContains,
		SourceGUID: "0pTvXnbbzCWw8lcMd1dR4o",
		TargetGUID: "2O2Fr$t4X7Zf8NOew3FLOH",
	})

	ctx := context.TODO()
	version, result := ingestVersion(t, svc, projectID, "arch", src, nil)

	assert.Equal(t, int64(2), result.Elements)
	assert.Equal(t, int64(0), result.Skipped)
	assert.Equal(t, int64(2), result.Upsert.Created)

	status, err := svc.GetStatus(ctx, uuid.MustParse(version.ID))
	assert.NoError(t, err)
	assert.Equal(t, model.LayerCompleted, status.ParsingStatus)
	assert.Equal(t, model.LayerPending, status.GeometryStatus) // deferred, no extractor
	assert.Equal(t, model.LayerCompleted, status.ValidationStatus)
	assert.Equal(t, model.OverallReady, status.Overall)
	assert.Equal(t, int64(2), status.ElementCount)

	entities, err := st.ListEntities(ctx, uuid.MustParse(version.ID), store.EntityFilter{Kind: "IfcWall"})
	assert.NoError(t, err)
	assert.Len(t, entities, 1)
	assert.Equal(t, "Wall-A", entities[0].Name)
}

func TestService_IngestRejectsSecondUpload(t *testing.T) {
	svc, _ := newTestService()
	projectID := uuid.New()

	src := reader.NewMemory()
	src.AddElement("IfcWall", wallElement("2O2Fr$t4X7Zf8NOew3FLOH", "Wall-A"))

	version, _ := ingestVersion(t, svc, projectID, "arch", src, nil)

	_, err := svc.Ingest(context.TODO(), &IngestRequest{
		VersionID: uuid.MustParse(version.ID),
		Reader:    src,
	})
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestService_FatalSourceError(t *testing.T) {
	svc, st := newTestService()
	projectID := uuid.New()

	src := reader.NewMemory()
	src.AddElement("IfcWall", wallElement("2O2Fr$t4X7Zf8NOew3FLOH", "Wall-A"))
	src.Err = errors.New("corrupt step file")

	version, err := svc.CreateVersion(context.TODO(), projectID, "arch")
	assert.NoError(t, err)

	_, err = svc.Ingest(context.TODO(), &IngestRequest{
		VersionID: uuid.MustParse(version.ID),
		Reader:    src,
	})
	assert.ErrorIs(t, err, ErrSourceUnreadable)

	status, err := svc.GetStatus(context.TODO(), uuid.MustParse(version.ID))
	assert.NoError(t, err)
	assert.Equal(t, model.LayerFailed, status.ParsingStatus)
	assert.Equal(t, model.OverallError, status.Overall)

	// The transaction rolled back: no entities were written.
	entities, err := st.ListEntities(context.TODO(), uuid.MustParse(version.ID), store.EntityFilter{IncludeRemoved: true})
	assert.NoError(t, err)
	assert.Empty(t, entities)
}

func TestService_DuplicateGUIDUpdatesInPlace(t *testing.T) {
	svc, st := newTestService()
	projectID := uuid.New()

	src := reader.NewMemory()
	src.AddElement("IfcWall", wallElement("2O2Fr$t4X7Zf8NOew3FLOH", "Wall-A"))
	src.AddElement("IfcWall", wallElement("2O2Fr$t4X7Zf8NOew3FLOH", "Wall-A-Reexported"))

	version, _ := ingestVersion(t, svc, projectID, "arch", src, nil)

	entities, err := st.ListEntities(context.TODO(), uuid.MustParse(version.ID), store.EntityFilter{IncludeRemoved: true})
	assert.NoError(t, err)
	assert.Len(t, entities, 1)
	assert.Equal(t, "Wall-A-Reexported", entities[0].Name)
}

// Scenario: v1 has {G1 Wall, G2 Door}, v2 renames G1 and replaces G2 with G3.
func TestService_VersionDiffScenario(t *testing.T) {
	svc, st := newTestService()
	projectID := uuid.New()
	ctx := context.TODO()

	g1 := "2O2Fr$t4X7Zf8NOew3FLOH"
	g2 := "1kTvXnbbzCWw8lcMd1dR4o"
	g3 := "3WUmnjbbzCWw8lcMd1dR4o"

	v1src := reader.NewMemory()
	v1src.AddElement("IfcWall", wallElement(g1, "Wall"))
	v1src.AddElement("IfcDoor", reader.Element{GUID: g2, Name: "Door"})
	v1, _ := ingestVersion(t, svc, projectID, "arch", v1src, nil)

	v2src := reader.NewMemory()
	v2src.AddElement("IfcWall", wallElement(g1, "Wall-East"))
	v2src.AddElement("IfcWindow", reader.Element{GUID: g3, Name: "Window"})
	v2, result := ingestVersion(t, svc, projectID, "arch", v2src, nil)

	assert.Equal(t, 1, result.DiffSummary.Added)
	assert.Equal(t, 1, result.DiffSummary.Removed)
	assert.Equal(t, 1, result.DiffSummary.Modified)

	diffs, err := svc.ListVersionDiffs(ctx, uuid.MustParse(v2.ID))
	assert.NoError(t, err)
	assert.Len(t, diffs, 3)

	byGUID := make(map[string]model.ChangeKind)
	for _, d := range diffs {
		byGUID[d.GUID] = d.ChangeKind
		assert.Equal(t, v1.ID, d.PriorVersionID)
	}
	assert.Equal(t, model.ChangeModified, byGUID[g1])
	assert.Equal(t, model.ChangeRemoved, byGUID[g2])
	assert.Equal(t, model.ChangeAdded, byGUID[g3])

	// G2 is soft-deleted in v2, physically present, and untouched in v1.
	v2entities, err := st.MapEntitiesByGUID(ctx, uuid.MustParse(v2.ID))
	assert.NoError(t, err)
	assert.True(t, v2entities[g2].IsRemoved)
	assert.Equal(t, "Door", v2entities[g2].Name)
	assert.Equal(t, model.GeometryNoRepresentation, v2entities[g2].GeometryState)

	v1entities, err := st.MapEntitiesByGUID(ctx, uuid.MustParse(v1.ID))
	assert.NoError(t, err)
	assert.False(t, v1entities[g2].IsRemoved)
}

// A carried-over soft-deleted row owns no geometry of its own; the mesh stays
// readable on the parent row.
func TestService_RemovedCarryOverOwnsNoGeometry(t *testing.T) {
	svc, st := newTestService()
	projectID := uuid.New()
	ctx := context.TODO()

	g1 := "2O2Fr$t4X7Zf8NOew3FLOH"
	g2 := "1kTvXnbbzCWw8lcMd1dR4o"

	v1src := reader.NewMemory()
	v1src.AddElement("IfcWall", wallElement(g1, "Wall"))
	v1src.AddElement("IfcDoor", reader.Element{GUID: g2, Name: "Door"})

	ex := geometry.NewStaticExtractor()
	ex.Meshes[g2] = &geometry.Mesh{
		Vertices: []float32{0, 0, 0, 1, 0, 0, 1, 1, 0},
		Indices:  []uint32{0, 1, 2},
	}

	v1, _ := ingestVersion(t, svc, projectID, "arch", v1src, ex)

	v2src := reader.NewMemory()
	v2src.AddElement("IfcWall", wallElement(g1, "Wall"))
	v2, _ := ingestVersion(t, svc, projectID, "arch", v2src, nil)

	v1entities, err := st.MapEntitiesByGUID(ctx, uuid.MustParse(v1.ID))
	assert.NoError(t, err)
	v2entities, err := st.MapEntitiesByGUID(ctx, uuid.MustParse(v2.ID))
	assert.NoError(t, err)

	assert.Equal(t, model.GeometryCompleted, v1entities[g2].GeometryState)
	assert.True(t, v2entities[g2].IsRemoved)
	assert.Equal(t, model.GeometryNoRepresentation, v2entities[g2].GeometryState)

	_, err = st.GetGeometry(ctx, v2entities[g2].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetGeometry(ctx, v1entities[g2].ID)
	assert.NoError(t, err)
}

func TestService_NoOpReuploadProducesEmptyDiff(t *testing.T) {
	svc, _ := newTestService()
	projectID := uuid.New()

	build := func() *reader.Memory {
		src := reader.NewMemory()
		src.AddElement("IfcWall", wallElement("2O2Fr$t4X7Zf8NOew3FLOH", "Wall"))
		src.AddElement("IfcDoor", reader.Element{GUID: "1kTvXnbbzCWw8lcMd1dR4o", Name: "Door"})
		return src
	}

	ingestVersion(t, svc, projectID, "arch", build(), nil)
	v2, result := ingestVersion(t, svc, projectID, "arch", build(), nil)

	assert.Equal(t, model.DiffSummaryCounts{}, result.DiffSummary)

	diffs, err := svc.ListVersionDiffs(context.TODO(), uuid.MustParse(v2.ID))
	assert.NoError(t, err)
	assert.Empty(t, diffs)
}

// Re-uploading an unchanged source with the geometry layer deferred must not
// report the parent's extracted geometry as a change.
func TestService_NoOpReuploadWithDeferredGeometry(t *testing.T) {
	svc, _ := newTestService()
	projectID := uuid.New()
	g1 := "2O2Fr$t4X7Zf8NOew3FLOH"

	build := func() *reader.Memory {
		src := reader.NewMemory()
		src.AddElement("IfcWall", wallElement(g1, "Wall"))
		return src
	}

	ex := geometry.NewStaticExtractor()
	ex.Meshes[g1] = &geometry.Mesh{
		Vertices: []float32{0, 0, 0, 1, 0, 0, 1, 1, 0},
		Indices:  []uint32{0, 1, 2},
	}

	ingestVersion(t, svc, projectID, "arch", build(), ex)
	v2, result := ingestVersion(t, svc, projectID, "arch", build(), nil)

	assert.Equal(t, model.DiffSummaryCounts{}, result.DiffSummary)

	diffs, err := svc.ListVersionDiffs(context.TODO(), uuid.MustParse(v2.ID))
	assert.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestService_EnrichmentFieldsSurviveReingestion(t *testing.T) {
	svc, st := newTestService()
	projectID := uuid.New()
	ctx := context.TODO()
	g1 := "2O2Fr$t4X7Zf8NOew3FLOH"

	src := reader.NewMemory()
	src.AddElement("IfcWall", wallElement(g1, "Wall"))
	v1, _ := ingestVersion(t, svc, projectID, "arch", src, nil)

	// An enrichment workflow flags the entity between uploads.
	v1entities, err := st.MapEntitiesByGUID(ctx, uuid.MustParse(v1.ID))
	assert.NoError(t, err)
	err = tester.TestDB().Model(v1entities[g1]).Update("enriched", true).Error
	assert.NoError(t, err)

	src2 := reader.NewMemory()
	src2.AddElement("IfcWall", wallElement(g1, "Wall-Renamed"))
	v2, _ := ingestVersion(t, svc, projectID, "arch", src2, nil)

	v2entities, err := st.MapEntitiesByGUID(ctx, uuid.MustParse(v2.ID))
	assert.NoError(t, err)
	assert.True(t, v2entities[g1].Enriched)
	assert.Equal(t, "Wall-Renamed", v2entities[g1].Name)
}

func TestService_GeometryFailuresDoNotBlockLayers(t *testing.T) {
	svc, st := newTestService()
	projectID := uuid.New()
	ctx := context.TODO()

	g1 := "2O2Fr$t4X7Zf8NOew3FLOH"
	g2 := "1kTvXnbbzCWw8lcMd1dR4o"

	src := reader.NewMemory()
	src.AddElement("IfcWall", wallElement(g1, "Wall"))
	src.AddElement("IfcDoor", reader.Element{GUID: g2, Name: "Door"})

	ex := geometry.NewStaticExtractor()
	ex.Errs[g1] = errors.New("boolean op failed")
	ex.Errs[g2] = errors.New("boolean op failed")

	version, result := ingestVersion(t, svc, projectID, "arch", src, ex)
	assert.Equal(t, int64(2), result.Geometry.Failed)

	status, err := svc.GetStatus(ctx, uuid.MustParse(version.ID))
	assert.NoError(t, err)
	assert.Equal(t, model.LayerCompleted, status.ParsingStatus)
	assert.Equal(t, model.LayerCompleted, status.GeometryStatus)
	assert.Equal(t, int64(2), status.ErrorCount)

	// The version stays fully queryable.
	entities, err := st.ListEntities(ctx, uuid.MustParse(version.ID), store.EntityFilter{})
	assert.NoError(t, err)
	assert.Len(t, entities, 2)
	for _, e := range entities {
		assert.Equal(t, model.GeometryFailed, e.GeometryState)
		assert.NotEmpty(t, e.GeometryError)
	}
}

func TestService_GeometryExtractionAndRerun(t *testing.T) {
	svc, st := newTestService()
	projectID := uuid.New()
	ctx := context.TODO()

	g1 := "2O2Fr$t4X7Zf8NOew3FLOH"
	g2 := "1kTvXnbbzCWw8lcMd1dR4o"
	g3 := "3WUmnjbbzCWw8lcMd1dR4o"

	src := reader.NewMemory()
	src.AddElement("IfcWall", wallElement(g1, "Wall"))
	src.AddElement("IfcDoor", reader.Element{GUID: g2, Name: "Door"})
	src.AddElement("IfcGroup", reader.Element{GUID: g3, Name: "Zone"})

	mesh := &geometry.Mesh{
		Vertices: []float32{0, 0, 0, 1, 0, 0, 1, 1, 2},
		Indices:  []uint32{0, 1, 2},
	}

	ex := geometry.NewStaticExtractor()
	ex.Meshes[g1] = mesh
	ex.Errs[g2] = errors.New("mesher crashed")
	// g3 has no representation at all.

	version, result := ingestVersion(t, svc, projectID, "arch", src, ex)
	assert.Equal(t, int64(1), result.Geometry.Completed)
	assert.Equal(t, int64(1), result.Geometry.Failed)
	assert.Equal(t, int64(1), result.Geometry.NoRepresentation)

	entities, err := st.MapEntitiesByGUID(ctx, uuid.MustParse(version.ID))
	assert.NoError(t, err)
	assert.Equal(t, model.GeometryCompleted, entities[g1].GeometryState)
	assert.Equal(t, model.GeometryFailed, entities[g2].GeometryState)
	assert.Equal(t, model.GeometryNoRepresentation, entities[g3].GeometryState)

	geom, err := st.GetGeometry(ctx, entities[g1].ID)
	assert.NoError(t, err)
	assert.Equal(t, 3, geom.VertexCount)
	assert.Equal(t, 1, geom.TriangleCount)
	assert.Equal(t, 2.0, geom.MaxZ)

	loaded, err := geometry.NewManager(st, compress.NewNop(), 2).LoadMesh(ctx, entities[g1].ID)
	assert.NoError(t, err)
	assert.Equal(t, mesh.Vertices, loaded.Vertices)
	assert.Equal(t, mesh.Indices, loaded.Indices)

	// Retry only re-drives the failed entity.
	retry := geometry.NewStaticExtractor()
	retry.Meshes[g2] = mesh
	stats, err := svc.RerunGeometry(ctx, uuid.MustParse(version.ID), retry)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)

	entities, err = st.MapEntitiesByGUID(ctx, uuid.MustParse(version.ID))
	assert.NoError(t, err)
	assert.Equal(t, model.GeometryCompleted, entities[g2].GeometryState)
	assert.Equal(t, model.GeometryNoRepresentation, entities[g3].GeometryState)
}

func TestService_SystemicGeometryErrorFailsLayer(t *testing.T) {
	svc, _ := newTestService()
	projectID := uuid.New()

	src := reader.NewMemory()
	src.AddElement("IfcWall", wallElement("2O2Fr$t4X7Zf8NOew3FLOH", "Wall"))

	ex := geometry.NewStaticExtractor()
	ex.OpenErr = errors.New("cannot open geometry source")

	version, _ := ingestVersion(t, svc, projectID, "arch", src, ex)

	status, err := svc.GetStatus(context.TODO(), uuid.MustParse(version.ID))
	assert.NoError(t, err)
	assert.Equal(t, model.LayerFailed, status.GeometryStatus)
	// Parsing already completed, so the version is still ready.
	assert.Equal(t, model.OverallReady, status.Overall)
}

func TestService_PublishFlipsSiblings(t *testing.T) {
	svc, st := newTestService()
	projectID := uuid.New()
	ctx := context.TODO()

	src := func() *reader.Memory {
		m := reader.NewMemory()
		m.AddElement("IfcWall", wallElement("2O2Fr$t4X7Zf8NOew3FLOH", "Wall"))
		return m
	}

	v1, _ := ingestVersion(t, svc, projectID, "arch", src(), nil)
	v2, _ := ingestVersion(t, svc, projectID, "arch", src(), nil)

	assert.NoError(t, svc.Publish(ctx, uuid.MustParse(v1.ID)))
	assert.NoError(t, svc.Publish(ctx, uuid.MustParse(v2.ID)))

	versions, err := st.ListModelVersions(ctx, projectID, "arch")
	assert.NoError(t, err)

	published := 0
	for _, v := range versions {
		if v.IsPublished {
			published++
			assert.Equal(t, v2.ID, v.ID)
		}
	}
	assert.Equal(t, 1, published)

	assert.NoError(t, svc.Unpublish(ctx, uuid.MustParse(v2.ID)))
	current, err := st.GetPublishedModelVersion(ctx, projectID, "arch")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Nil(t, current)
}

func TestService_PublishRequiresCompletedParsing(t *testing.T) {
	svc, _ := newTestService()
	projectID := uuid.New()

	version, err := svc.CreateVersion(context.TODO(), projectID, "arch")
	assert.NoError(t, err)

	err = svc.Publish(context.TODO(), uuid.MustParse(version.ID))
	assert.ErrorIs(t, err, ErrVersionNotReady)
}

func TestService_ValidationReportThroughPipeline(t *testing.T) {
	svc, _ := newTestService()
	projectID := uuid.New()

	src := reader.NewMemory()
	src.AddElement("IfcWall", reader.Element{GUID: "2O2Fr$t4X7Zf8NOew3FLOH", Name: "Wall"})

	version, err := svc.CreateVersion(context.TODO(), projectID, "arch")
	assert.NoError(t, err)

	_, err = svc.Ingest(context.TODO(), &IngestRequest{
		VersionID: uuid.MustParse(version.ID),
		Reader:    src,
		Rules: &validation.RuleSet{
			RequiredGroups: map[string][]string{"IfcWall": {"Pset_WallCommon"}},
		},
	})
	assert.NoError(t, err)

	report, err := svc.GetValidationReport(context.TODO(), uuid.MustParse(version.ID))
	assert.NoError(t, err)
	assert.Equal(t, model.ReportFail, report.OverallStatus)
	assert.Equal(t, 1, report.PropertyIssues)
}

func TestService_DeleteVersionCascadesToChildren(t *testing.T) {
	svc, st := newTestService()
	projectID := uuid.New()
	ctx := context.TODO()

	src := func() *reader.Memory {
		m := reader.NewMemory()
		m.AddElement("IfcWall", wallElement("2O2Fr$t4X7Zf8NOew3FLOH", "Wall"))
		return m
	}

	v1, _ := ingestVersion(t, svc, projectID, "arch", src(), nil)
	v2, _ := ingestVersion(t, svc, projectID, "arch", src(), nil)

	assert.NoError(t, svc.DeleteVersion(ctx, uuid.MustParse(v1.ID)))

	_, err := st.GetModelVersion(ctx, uuid.MustParse(v1.ID))
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetModelVersion(ctx, uuid.MustParse(v2.ID))
	assert.ErrorIs(t, err, store.ErrNotFound)
}
