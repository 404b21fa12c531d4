package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/EdvardGK/sprucelab-sub000/internal/geometry"
	"github.com/EdvardGK/sprucelab-sub000/internal/model"
	"github.com/EdvardGK/sprucelab-sub000/internal/reader"
	"github.com/EdvardGK/sprucelab-sub000/internal/store"
)

// blockingExtractor parks every extraction on the caller's context and
// signals once the first one has entered.
type blockingExtractor struct {
	entered chan struct{}
	once    sync.Once
}

func newBlockingExtractor() *blockingExtractor {
	return &blockingExtractor{entered: make(chan struct{})}
}

func (b *blockingExtractor) Open(ctx context.Context) error { return nil }

func (b *blockingExtractor) Extract(ctx context.Context, guid string) (*geometry.Mesh, error) {
	b.once.Do(func() { close(b.entered) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingExtractor) Close() error { return nil }

// Cancelling an ingestion mid-read must land the parsing layer in failed,
// never leave it stuck in running, and roll back every write.
func TestService_CancelledIngestionFailsParsingLayer(t *testing.T) {
	svc, st := newTestService()
	projectID := uuid.New()

	src := reader.NewMemory()
	src.AddElement("IfcWall", wallElement("2O2Fr$t4X7Zf8NOew3FLOH", "Wall"))
	gated := newGatedReader(src)

	version, err := svc.CreateVersion(context.TODO(), projectID, "arch")
	assert.NoError(t, err)
	versionID := uuid.MustParse(version.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Ingest(ctx, &IngestRequest{
			VersionID: versionID,
			Reader:    gated,
		})
		done <- err
	}()

	select {
	case <-gated.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("ingestion never started reading")
	}

	cancel()
	close(gated.release)
	assert.ErrorIs(t, <-done, context.Canceled)

	status, err := svc.GetStatus(context.TODO(), versionID)
	assert.NoError(t, err)
	assert.Equal(t, model.LayerFailed, status.ParsingStatus)
	assert.Equal(t, model.OverallError, status.Overall)

	entities, err := st.ListEntities(context.TODO(), versionID, store.EntityFilter{IncludeRemoved: true})
	assert.NoError(t, err)
	assert.Empty(t, entities)
}

// Cancelling a geometry re-run must fail the layer and leave every entity in
// a settled state, never processing.
func TestService_CancelledGeometryRunLeavesNoEntityProcessing(t *testing.T) {
	svc, st := newTestService()
	projectID := uuid.New()

	src := reader.NewMemory()
	src.AddElement("IfcWall", wallElement("2O2Fr$t4X7Zf8NOew3FLOH", "Wall"))
	src.AddElement("IfcDoor", reader.Element{GUID: "1kTvXnbbzCWw8lcMd1dR4o", Name: "Door"})
	src.AddElement("IfcWindow", reader.Element{GUID: "3WUmnjbbzCWw8lcMd1dR4o", Name: "Window"})

	version, _ := ingestVersion(t, svc, projectID, "arch", src, nil)
	versionID := uuid.MustParse(version.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blocking := newBlockingExtractor()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := svc.RerunGeometry(ctx, versionID, blocking)
		assert.NoError(t, err)
	}()

	select {
	case <-blocking.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("extraction never started")
	}

	cancel()
	<-done

	status, err := svc.GetStatus(context.TODO(), versionID)
	assert.NoError(t, err)
	assert.Equal(t, model.LayerFailed, status.GeometryStatus)

	entities, err := st.ListEntities(context.TODO(), versionID, store.EntityFilter{})
	assert.NoError(t, err)
	assert.Len(t, entities, 3)
	for _, e := range entities {
		assert.NotEqual(t, model.GeometryProcessing, e.GeometryState)
	}
}
