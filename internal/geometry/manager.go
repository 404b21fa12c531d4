// Package geometry runs the independently retryable mesh-extraction layer.
// Extraction is fanned out per entity across a bounded worker pool; one
// entity failing never affects its siblings.
package geometry

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/EdvardGK/sprucelab-sub000/internal/compress"
	"github.com/EdvardGK/sprucelab-sub000/internal/model"
	"github.com/EdvardGK/sprucelab-sub000/internal/store"
)

// Stats summarizes one extraction pass.
type Stats struct {
	Completed        int64
	Failed           int64
	NoRepresentation int64
}

type Manager struct {
	store   store.Store
	codec   compress.Compress
	workers int
}

// NewManager creates a geometry layer manager. workers <= 0 picks a small
// multiple of the available cores.
func NewManager(st store.Store, codec compress.Compress, workers int) *Manager {
	if workers <= 0 {
		workers = 2 * runtime.NumCPU()
	}
	if codec == nil {
		codec = compress.NewNop()
	}

	return &Manager{
		store:   st,
		codec:   codec,
		workers: workers,
	}
}

// Run extracts geometry for every entity of the version still in one of the
// given states (default: pending). It returns an error only on a systemic
// failure; per-entity errors land on the entity rows.
func (m *Manager) Run(ctx context.Context, versionID uuid.UUID, ex Extractor, states ...model.GeometryState) (*Stats, error) {
	if len(states) == 0 {
		states = []model.GeometryState{model.GeometryPending}
	}

	if err := ex.Open(ctx); err != nil {
		return nil, fmt.Errorf("opening geometry source: %w", err)
	}
	defer func() {
		if err := ex.Close(); err != nil {
			logrus.Errorf("closing geometry source: %v", err)
		}
	}()

	entities, err := m.store.ListEntitiesByGeometryState(ctx, versionID, states...)
	if err != nil {
		return nil, fmt.Errorf("listing entities for extraction: %w", err)
	}

	stats := &Stats{}
	var mu sync.Mutex

	queue := make(chan *model.Entity)
	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entity := range queue {
				result := m.extractOne(ctx, entity, ex)
				mu.Lock()
				switch result {
				case model.GeometryCompleted:
					stats.Completed++
				case model.GeometryNoRepresentation:
					stats.NoRepresentation++
				case model.GeometryFailed:
					stats.Failed++
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, entity := range entities {
		select {
		case <-ctx.Done():
			break dispatch
		case queue <- entity:
		}
	}
	close(queue)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	return stats, nil
}

// extractOne drives one entity to a terminal state and returns it. The state
// write is a single-row update, so workers never contend across entities.
func (m *Manager) extractOne(ctx context.Context, entity *model.Entity, ex Extractor) model.GeometryState {
	if err := m.store.SetEntityGeometryState(ctx, entity.ID, model.GeometryProcessing, ""); err != nil {
		logrus.Errorf("marking entity %s processing: %v", entity.GUID, err)
	}

	mesh, err := ex.Extract(ctx, entity.GUID)
	if errors.Is(err, ErrNoRepresentation) {
		m.finish(ctx, entity, model.GeometryNoRepresentation, "")
		return model.GeometryNoRepresentation
	}
	if err != nil {
		logrus.Warnf("geometry extraction failed for %s: %v", entity.GUID, err)
		m.finish(ctx, entity, model.GeometryFailed, err.Error())
		return model.GeometryFailed
	}

	if err := m.save(ctx, entity, mesh); err != nil {
		logrus.Warnf("storing geometry for %s: %v", entity.GUID, err)
		m.finish(ctx, entity, model.GeometryFailed, err.Error())
		return model.GeometryFailed
	}

	m.finish(ctx, entity, model.GeometryCompleted, "")
	return model.GeometryCompleted
}

func (m *Manager) save(ctx context.Context, entity *model.Entity, mesh *Mesh) error {
	vertexData, err := mesh.EncodeVertices()
	if err != nil {
		return err
	}
	indexData, err := mesh.EncodeIndices()
	if err != nil {
		return err
	}

	vertexData, err = m.codec.Encode(vertexData)
	if err != nil {
		return err
	}
	indexData, err = m.codec.Encode(indexData)
	if err != nil {
		return err
	}

	min, max := mesh.Bounds()
	return m.store.SaveGeometry(ctx, &model.Geometry{
		EntityID:      entity.ID,
		VertexCount:   mesh.VertexCount(),
		TriangleCount: mesh.TriangleCount(),
		MinX:          min[0],
		MinY:          min[1],
		MinZ:          min[2],
		MaxX:          max[0],
		MaxY:          max[1],
		MaxZ:          max[2],
		VertexData:    vertexData,
		IndexData:     indexData,
		Compression:   compress.Name(m.codec),
		ExtractedAt:   time.Now(),
	})
}

func (m *Manager) finish(ctx context.Context, entity *model.Entity, state model.GeometryState, extractErr string) {
	// Status writes survive a cancelled ingestion context so retried
	// entities are observable.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := m.store.SetEntityGeometryState(ctx, entity.ID, state, extractErr); err != nil {
		logrus.Errorf("writing geometry state for %s: %v", entity.GUID, err)
	}
}

// LoadMesh reads one entity's stored geometry back into a mesh.
func (m *Manager) LoadMesh(ctx context.Context, entityID string) (*Mesh, error) {
	geom, err := m.store.GetGeometry(ctx, entityID)
	if err != nil {
		return nil, err
	}

	codec, err := compress.FromName(geom.Compression)
	if err != nil {
		return nil, err
	}
	vertexData, err := codec.Decode(geom.VertexData)
	if err != nil {
		return nil, err
	}
	indexData, err := codec.Decode(geom.IndexData)
	if err != nil {
		return nil, err
	}

	return DecodeMesh(vertexData, indexData)
}
