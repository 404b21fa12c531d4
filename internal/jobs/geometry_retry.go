package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/EdvardGK/sprucelab-sub000/internal/geometry"
	"github.com/EdvardGK/sprucelab-sub000/internal/service"
	"github.com/EdvardGK/sprucelab-sub000/internal/store"
)

// ExtractorProvider reopens the geometry source of one version for a retry
// pass. Sources live outside this core, so the provider is injected.
type ExtractorProvider func(ctx context.Context, versionID uuid.UUID) (geometry.Extractor, error)

// GeometryRetry re-drives mesh extraction for versions that still carry
// failed entities. Entities already completed are never touched.
type GeometryRetry struct {
	service   *service.Service
	store     store.Store
	extractor ExtractorProvider
	cron      string
}

func NewGeometryRetry(interval string, svc *service.Service, st store.Store, provider ExtractorProvider) *GeometryRetry {
	return &GeometryRetry{
		service:   svc,
		store:     st,
		extractor: provider,
		cron:      interval,
	}
}

func (g *GeometryRetry) Schedule() string {
	return g.cron
}

func (g *GeometryRetry) Run() {
	ctx := context.Background()

	versions, err := g.store.ListGeometryRetryCandidates(ctx)
	if err != nil {
		logrus.Errorf("listing geometry retry candidates: %v", err)
		return
	}

	for _, version := range versions {
		id := uuid.MustParse(version.ID)

		ex, err := g.extractor(ctx, id)
		if err != nil {
			logrus.Warnf("no geometry source for version %s: %v", version.ID, err)
			continue
		}

		stats, err := g.service.RerunGeometry(ctx, id, ex)
		if errors.Is(err, service.ErrIngestionInFlight) {
			continue
		}
		if err != nil || stats == nil {
			logrus.Errorf("geometry retry for version %s: %v", version.ID, err)
			continue
		}

		logrus.Infof("geometry retry for version %s: %d completed, %d failed",
			version.ID, stats.Completed, stats.Failed)
	}
}
