package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/EdvardGK/sprucelab-sub000/internal/model"
)

// statusCacheTTL bounds the staleness of the polled status read. Callers
// poll at short intervals, so a couple of seconds is enough to keep the
// database out of the hot path.
const statusCacheTTL = 2 * time.Second

// VersionStatus is the poll read returned by GetStatus.
type VersionStatus struct {
	VersionID        string              `json:"version_id"`
	Overall          model.OverallStatus `json:"overall"`
	ParsingStatus    model.LayerStatus   `json:"parsing_status"`
	GeometryStatus   model.LayerStatus   `json:"geometry_status"`
	ValidationStatus model.LayerStatus   `json:"validation_status"`
	IsPublished      bool                `json:"is_published"`
	ElementCount     int64               `json:"element_count"`
	SkippedCount     int64               `json:"skipped_count"`
	ErrorCount       int64               `json:"error_count"`
	DiffSummary      string              `json:"diff_summary,omitempty"`
}

// canTransition enforces the forward-only layer lifecycle. Moving a
// completed or failed layer back to running requires rerun.
func canTransition(from, to model.LayerStatus, rerun bool) bool {
	switch from {
	case model.LayerPending:
		return to == model.LayerRunning || to == model.LayerFailed
	case model.LayerRunning:
		return to == model.LayerCompleted || to == model.LayerFailed
	case model.LayerCompleted, model.LayerFailed:
		return rerun && to == model.LayerRunning
	}
	return false
}

func statusKey(versionID string) string {
	return "version:status:" + versionID
}

// GetStatus returns the three layer statuses, counters and derived overall
// status of one version. Reads go through the short-TTL cache; every status
// write invalidates the key.
func (s *Service) GetStatus(ctx context.Context, versionID uuid.UUID) (*VersionStatus, error) {
	key := statusKey(versionID.String())
	if data, err := s.cache.Get(ctx, key); err == nil {
		var status VersionStatus
		if err := json.Unmarshal(data, &status); err == nil {
			return &status, nil
		}
	}

	version, err := s.store.GetModelVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	status := &VersionStatus{
		VersionID:        version.ID,
		Overall:          version.Overall(),
		ParsingStatus:    version.ParsingStatus,
		GeometryStatus:   version.GeometryStatus,
		ValidationStatus: version.ValidationStatus,
		IsPublished:      version.IsPublished,
		ElementCount:     version.ElementCount,
		SkippedCount:     version.SkippedCount,
		ErrorCount:       version.ErrorCount,
		DiffSummary:      version.DiffSummary,
	}

	if data, err := json.Marshal(status); err == nil {
		if err := s.cache.Set(ctx, key, data, statusCacheTTL); err != nil {
			logrus.Warnf("caching status for %s: %v", version.ID, err)
		}
	}

	return status, nil
}

// setLayer is the single path through which layer statuses change. The
// version struct is updated in place so later derivations see the write.
func (s *Service) setLayer(ctx context.Context, version *model.ModelVersion, layer model.Layer, to model.LayerStatus, rerun bool) error {
	from := version.LayerOf(layer)
	if from == to {
		return nil
	}
	if !canTransition(from, to, rerun) {
		return ErrIllegalTransition
	}

	id := uuid.MustParse(version.ID)
	if err := s.store.SetLayerStatus(ctx, id, layer, to); err != nil {
		return err
	}

	switch layer {
	case model.LayerParsing:
		version.ParsingStatus = to
	case model.LayerGeometry:
		version.GeometryStatus = to
	case model.LayerValidation:
		version.ValidationStatus = to
	}

	s.invalidateStatus(version.ID)
	return nil
}

// failLayer forces a layer into failed from whatever non-terminal state it
// is in. The write uses a fresh context so a cancelled ingestion can still
// record the failure.
func (s *Service) failLayer(version *model.ModelVersion, layer model.Layer) {
	if version.LayerOf(layer) != model.LayerRunning && version.LayerOf(layer) != model.LayerPending {
		return
	}
	if err := s.setLayer(context.Background(), version, layer, model.LayerFailed, false); err != nil {
		logrus.Errorf("failing %s layer of version %s: %v", layer, version.ID, err)
	}
}

func (s *Service) invalidateStatus(versionID string) {
	if err := s.cache.Delete(context.Background(), statusKey(versionID)); err != nil {
		logrus.Warnf("invalidating status cache for %s: %v", versionID, err)
	}
}
