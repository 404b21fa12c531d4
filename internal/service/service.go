// Package service hosts the ingestion pipeline orchestrator: it sequences
// normalization, entity upsert, geometry extraction, validation and version
// diffing for one model version, and is the only writer of version statuses.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/EdvardGK/sprucelab-sub000/internal/cache"
	"github.com/EdvardGK/sprucelab-sub000/internal/diff"
	"github.com/EdvardGK/sprucelab-sub000/internal/geometry"
	"github.com/EdvardGK/sprucelab-sub000/internal/model"
	"github.com/EdvardGK/sprucelab-sub000/internal/reader"
	"github.com/EdvardGK/sprucelab-sub000/internal/store"
	"github.com/EdvardGK/sprucelab-sub000/internal/validation"
)

// NewService creates the pipeline orchestrator.
func NewService(st store.Store, kv cache.KV, geo *geometry.Manager, batchSize int) *Service {
	if kv == nil {
		kv = cache.NewMemory()
	}

	return &Service{
		store:     st,
		cache:     kv,
		geometry:  geo,
		differ:    diff.NewEngine(),
		batchSize: batchSize,
		inflight:  mapset.NewSet[string](),
	}
}

// Service is the pipeline orchestrator / status state machine.
type Service struct {
	store     store.Store
	cache     cache.KV
	geometry  *geometry.Manager
	differ    *diff.Engine
	batchSize int

	// inflight holds version ids with a running ingestion or geometry
	// re-run. At most one pipeline runs per version at a time.
	mu       sync.Mutex
	inflight mapset.Set[string]
}

// IngestRequest is one upload of one model version.
type IngestRequest struct {
	VersionID uuid.UUID
	Reader    reader.ModelReader
	// Extractor produces meshes for this version's entities. nil defers the
	// geometry layer; it stays pending until an explicit re-run.
	Extractor geometry.Extractor
	// Rules is the project-scoped rule set. nil degrades validation.
	Rules *validation.RuleSet
}

// IngestResult summarizes one completed ingestion.
type IngestResult struct {
	Elements      int64
	Relationships int64
	Skipped       int64
	Upsert        *UpsertResult
	Geometry      *geometry.Stats
	DiffSummary   model.DiffSummaryCounts
	// OlderSource flags that the uploaded file declares a timestamp older
	// than the parent version's. Advisory only, never blocking.
	OlderSource bool
}

// CreateVersion registers a new version of a named model. The previous
// latest version, if any, becomes the parent.
func (s *Service) CreateVersion(ctx context.Context, projectID uuid.UUID, name string) (*model.ModelVersion, error) {
	version := &model.ModelVersion{
		ID:               uuid.New().String(),
		ProjectID:        projectID.String(),
		Name:             name,
		VersionNumber:    1,
		ParsingStatus:    model.LayerPending,
		GeometryStatus:   model.LayerPending,
		ValidationStatus: model.LayerPending,
	}

	latest, err := s.store.GetLatestModelVersion(ctx, projectID, name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if latest != nil {
		version.VersionNumber = latest.VersionNumber + 1
		parentID := latest.ID
		version.ParentVersionID = &parentID
	}

	if err := s.store.CreateModelVersion(ctx, version); err != nil {
		return nil, err
	}

	return version, nil
}

// Ingest runs the full pipeline for one version. A second call for the same
// version id while one is running is rejected with ErrIngestionInFlight.
// Fatal source errors are returned to the caller; per-record and per-entity
// errors are aggregated into counters and the status read path.
func (s *Service) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	id := req.VersionID.String()

	s.mu.Lock()
	if s.inflight.Contains(id) {
		s.mu.Unlock()
		return nil, ErrIngestionInFlight
	}
	s.inflight.Add(id)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight.Remove(id)
		s.mu.Unlock()
	}()

	version, err := s.store.GetModelVersion(ctx, req.VersionID)
	if err != nil {
		return nil, err
	}
	if version.ParsingStatus != model.LayerPending {
		return nil, fmt.Errorf("%w: version %s already ingested", ErrIllegalTransition, id)
	}

	var parentID *uuid.UUID
	if version.ParentVersionID != nil {
		parsed, err := uuid.Parse(*version.ParentVersionID)
		if err != nil {
			return nil, fmt.Errorf("corrupt parent version id: %w", err)
		}
		parentID = &parsed
	}

	result := &IngestResult{}

	if err := s.setLayer(ctx, version, model.LayerParsing, model.LayerRunning, false); err != nil {
		return nil, err
	}

	upsert, stats, err := s.runParsing(ctx, version, parentID, req)
	if err != nil {
		// The transaction rolled back: a failed parsing layer leaves no
		// entities behind, and the version never reaches ready.
		s.failLayer(version, model.LayerParsing)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	result.Elements = stats.Elements
	result.Relationships = stats.Relationships
	result.Skipped = stats.Skipped
	result.Upsert = upsert

	if err := s.setLayer(ctx, version, model.LayerParsing, model.LayerCompleted, false); err != nil {
		return nil, err
	}

	result.OlderSource = s.checkOlderSource(ctx, version, parentID, stats)

	if req.Extractor != nil {
		result.Geometry = s.runGeometry(ctx, version, req.Extractor, false)
	}

	s.runAnalysis(ctx, version, parentID, req.Rules, upsert, result)

	s.invalidateStatus(version.ID)
	return result, nil
}

// runParsing executes normalization and upsert in one transaction: a fatal
// reader error rolls the whole pass back, so a failed parsing layer leaves
// no entities behind.
func (s *Service) runParsing(ctx context.Context, version *model.ModelVersion, parentID *uuid.UUID, req *IngestRequest) (*UpsertResult, *NormalizeStats, error) {
	var (
		upsertResult *UpsertResult
		stats        *NormalizeStats
	)

	err := s.store.Transaction(ctx, func(tx store.Store) error {
		engine, err := newUpsertEngine(ctx, tx, req.VersionID, parentID)
		if err != nil {
			return err
		}

		normalizer := NewNormalizer(s.batchSize)
		stats, err = normalizer.Run(ctx, req.Reader,
			func(ctx context.Context, batch []EntityRecord) error {
				return engine.Apply(ctx, batch)
			},
			func(ctx context.Context, batch []RelationshipRecord) error {
				rows := make([]*model.Relationship, 0, len(batch))
				for _, record := range batch {
					rows = append(rows, &model.Relationship{
						ID:             uuid.New().String(),
						ModelVersionID: req.VersionID.String(),
						SourceGUID:     record.SourceGUID,
						TargetGUID:     record.TargetGUID,
						Kind:           record.Kind,
						Attributes:     attributesJSON(record.Attributes),
					})
				}
				return tx.CreateRelationships(ctx, rows)
			},
		)
		if err != nil {
			return err
		}

		upsertResult, err = engine.Finish(ctx)
		if err != nil {
			return err
		}

		if err := tx.SetVersionCounts(ctx, req.VersionID, stats.Elements, stats.Skipped, 0); err != nil {
			return err
		}
		version.ElementCount = stats.Elements
		version.SkippedCount = stats.Skipped

		if stats.SourceTimestamp != nil {
			if err := tx.SetSourceTimestamp(ctx, req.VersionID, *stats.SourceTimestamp); err != nil {
				return err
			}
			version.SourceTimestamp = stats.SourceTimestamp
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return upsertResult, stats, nil
}

// runGeometry drives the geometry layer to a terminal status. Only a
// systemic extractor error fails the layer; per-entity failures land on the
// entity rows and the layer still completes.
func (s *Service) runGeometry(ctx context.Context, version *model.ModelVersion, ex geometry.Extractor, rerun bool) *geometry.Stats {
	if err := s.setLayer(ctx, version, model.LayerGeometry, model.LayerRunning, rerun); err != nil {
		logrus.Errorf("starting geometry layer for %s: %v", version.ID, err)
		return nil
	}

	states := []model.GeometryState{model.GeometryPending}
	if rerun {
		states = append(states, model.GeometryFailed)
	}

	stats, err := s.geometry.Run(ctx, uuid.MustParse(version.ID), ex, states...)
	if err != nil {
		logrus.Errorf("geometry layer failed for %s: %v", version.ID, err)
		s.failLayer(version, model.LayerGeometry)
		return stats
	}

	if stats.Failed > 0 {
		err := s.store.SetVersionCounts(context.Background(), uuid.MustParse(version.ID),
			version.ElementCount, version.SkippedCount, stats.Failed)
		if err != nil {
			logrus.Errorf("writing error count for %s: %v", version.ID, err)
		}
		version.ErrorCount = stats.Failed
	}

	if err := s.setLayer(ctx, version, model.LayerGeometry, model.LayerCompleted, false); err != nil {
		logrus.Errorf("completing geometry layer for %s: %v", version.ID, err)
	}

	return stats
}

// runAnalysis runs validation and diff concurrently. Both read the same
// immutable snapshot; neither mutates entity state, and neither failure
// aborts the ingestion.
func (s *Service) runAnalysis(ctx context.Context, version *model.ModelVersion, parentID *uuid.UUID, rules *validation.RuleSet, upsert *UpsertResult, result *IngestResult) {
	snapshot, err := s.store.LoadSnapshot(ctx, uuid.MustParse(version.ID))
	if err != nil {
		logrus.Errorf("loading snapshot for %s: %v", version.ID, err)
		s.failLayer(version, model.LayerValidation)
		return
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runValidation(ctx, version, rules, snapshot)
	}()

	if parentID != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.DiffSummary = s.runDiff(ctx, version, *parentID, snapshot, upsert)
		}()
	}

	wg.Wait()
}

func (s *Service) runValidation(ctx context.Context, version *model.ModelVersion, rules *validation.RuleSet, snapshot *store.VersionSnapshot) {
	if err := s.setLayer(ctx, version, model.LayerValidation, model.LayerRunning, false); err != nil {
		logrus.Errorf("starting validation layer for %s: %v", version.ID, err)
		return
	}

	report := validation.NewEngine(rules).Run(snapshot)
	row, err := report.ToModel(version.ID)
	if err == nil {
		err = s.store.SaveValidationReport(ctx, row)
	}
	if err != nil {
		logrus.Errorf("saving validation report for %s: %v", version.ID, err)
		s.failLayer(version, model.LayerValidation)
		return
	}

	if err := s.setLayer(ctx, version, model.LayerValidation, model.LayerCompleted, false); err != nil {
		logrus.Errorf("completing validation layer for %s: %v", version.ID, err)
	}
}

func (s *Service) runDiff(ctx context.Context, version *model.ModelVersion, parentID uuid.UUID, snapshot *store.VersionSnapshot, upsert *UpsertResult) model.DiffSummaryCounts {
	var counts model.DiffSummaryCounts

	parentSnapshot, err := s.store.LoadSnapshot(ctx, parentID)
	if err != nil {
		logrus.Errorf("loading parent snapshot for %s: %v", version.ID, err)
		return counts
	}

	var added, removed mapset.Set[string]
	if upsert != nil {
		added, removed = upsert.Added, upsert.Removed
	}

	entries, counts, err := s.differ.Compare(uuid.MustParse(version.ID), parentID, snapshot, parentSnapshot, added, removed)
	if err != nil {
		logrus.Errorf("computing diff for %s: %v", version.ID, err)
		return counts
	}

	if err := s.store.CreateVersionDiffs(ctx, entries); err != nil {
		logrus.Errorf("writing diff entries for %s: %v", version.ID, err)
		return counts
	}

	summary := &model.ModelVersion{}
	if err := summary.SetDiffSummary(counts); err == nil {
		if err := s.store.SetDiffSummary(ctx, uuid.MustParse(version.ID), summary.DiffSummary); err != nil {
			logrus.Errorf("writing diff summary for %s: %v", version.ID, err)
		}
	}

	return counts
}

func (s *Service) checkOlderSource(ctx context.Context, version *model.ModelVersion, parentID *uuid.UUID, stats *NormalizeStats) bool {
	if parentID == nil || stats.SourceTimestamp == nil {
		return false
	}

	parent, err := s.store.GetModelVersion(ctx, *parentID)
	if err != nil || parent.SourceTimestamp == nil {
		return false
	}
	if stats.SourceTimestamp.Before(*parent.SourceTimestamp) {
		logrus.Warnf("version %s: uploaded file is older than the previous version's source", version.ID)
		return true
	}
	return false
}

// RerunGeometry re-drives extraction for entities still pending or failed.
// Entities already completed are never touched.
func (s *Service) RerunGeometry(ctx context.Context, versionID uuid.UUID, ex geometry.Extractor) (*geometry.Stats, error) {
	id := versionID.String()

	s.mu.Lock()
	if s.inflight.Contains(id) {
		s.mu.Unlock()
		return nil, ErrIngestionInFlight
	}
	s.inflight.Add(id)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight.Remove(id)
		s.mu.Unlock()
	}()

	version, err := s.store.GetModelVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	return s.runGeometry(ctx, version, ex, true), nil
}

// Publish marks the version published and atomically unpublishes every other
// version of the same (project, name). Illegal before parsing completes.
func (s *Service) Publish(ctx context.Context, versionID uuid.UUID) error {
	version, err := s.store.GetModelVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if version.ParsingStatus != model.LayerCompleted {
		return ErrVersionNotReady
	}

	projectID, err := uuid.Parse(version.ProjectID)
	if err != nil {
		return err
	}

	err = s.store.Transaction(ctx, func(tx store.Store) error {
		return tx.PublishModelVersion(ctx, versionID, projectID, version.Name)
	})
	if err != nil {
		return err
	}

	s.invalidateSiblings(ctx, projectID, version.Name)
	return nil
}

// Unpublish clears the published flag with no side effect on siblings.
func (s *Service) Unpublish(ctx context.Context, versionID uuid.UUID) error {
	if err := s.store.UnpublishModelVersion(ctx, versionID); err != nil {
		return err
	}
	s.invalidateStatus(versionID.String())
	return nil
}

// DeleteVersion removes a version, its data, and recursively every child
// version whose parent pointer leads here. The recursion is bounded by the
// lineage depth because parent pointers form a chain, never a cycle.
func (s *Service) DeleteVersion(ctx context.Context, versionID uuid.UUID) error {
	children, err := s.store.ListChildModelVersions(ctx, versionID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.DeleteVersion(ctx, uuid.MustParse(child.ID)); err != nil {
			return err
		}
	}

	if err := s.store.DeleteModelVersion(ctx, versionID); err != nil {
		return err
	}
	s.invalidateStatus(versionID.String())
	return nil
}

func (s *Service) invalidateSiblings(ctx context.Context, projectID uuid.UUID, name string) {
	versions, err := s.store.ListModelVersions(ctx, projectID, name)
	if err != nil {
		logrus.Warnf("listing versions for cache invalidation: %v", err)
		return
	}
	for _, v := range versions {
		s.invalidateStatus(v.ID)
	}
}

// QueryEntities is the read-only query surface used by presentation layers
// and analysis scripts.
func (s *Service) QueryEntities(ctx context.Context, versionID uuid.UUID, filter store.EntityFilter) ([]*model.Entity, error) {
	return s.store.ListEntities(ctx, versionID, filter)
}

// GetValidationReport returns the stored report of one version.
func (s *Service) GetValidationReport(ctx context.Context, versionID uuid.UUID) (*model.ValidationReport, error) {
	return s.store.GetValidationReport(ctx, versionID)
}

// ListVersionDiffs returns the stored diff entries of one version.
func (s *Service) ListVersionDiffs(ctx context.Context, versionID uuid.UUID) ([]*model.VersionDiff, error) {
	return s.store.ListVersionDiffs(ctx, versionID)
}
