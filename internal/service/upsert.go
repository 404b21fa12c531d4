package service

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/EdvardGK/sprucelab-sub000/internal/model"
	"github.com/EdvardGK/sprucelab-sub000/internal/store"
)

// UpsertResult carries the structural classification of one ingestion pass,
// reused by the diff engine for its added/removed halves.
type UpsertResult struct {
	Added   mapset.Set[string]
	Removed mapset.Set[string]
	Carried mapset.Set[string]
	Created int64
	Updated int64
}

// upsertEngine reconciles the incoming normalized stream against the parent
// version's entities by GUID. It is the sole writer of this version's entity
// rows for the duration of the ingestion.
type upsertEngine struct {
	store     store.Store
	versionID uuid.UUID

	// prior is the parent version's GUID→entity map, loaded once and
	// read-only afterwards.
	prior map[string]*model.Entity

	// written maps GUIDs already created in this pass to their row ids, so a
	// duplicate GUID in the source updates instead of duplicating.
	written map[string]string

	seen mapset.Set[string]

	created int64
	updated int64
}

func newUpsertEngine(ctx context.Context, st store.Store, versionID uuid.UUID, parentID *uuid.UUID) (*upsertEngine, error) {
	engine := &upsertEngine{
		store:     st,
		versionID: versionID,
		prior:     make(map[string]*model.Entity),
		written:   make(map[string]string),
		seen:      mapset.NewSet[string](),
	}

	if parentID != nil {
		prior, err := st.MapEntitiesByGUID(ctx, *parentID)
		if err != nil {
			return nil, fmt.Errorf("loading parent entities: %w", err)
		}
		engine.prior = prior
	}

	return engine, nil
}

// Apply upserts one normalized batch. New GUIDs become fresh rows; GUIDs
// known from the parent version carry over the columns owned by downstream
// workflows; GUIDs repeated within this ingestion update the row in place.
func (u *upsertEngine) Apply(ctx context.Context, batch []EntityRecord) error {
	creates := make([]*model.Entity, 0, len(batch))
	updates := make([]*model.Entity, 0)
	properties := make(map[string][]PropertyRecord, len(batch)) // entity id → records

	for _, record := range batch {
		if id, ok := u.written[record.GUID]; ok {
			// Duplicate GUID within one source file: update, never duplicate.
			logrus.Warnf("duplicate guid %s in source, updating in place", record.GUID)
			updates = append(updates, &model.Entity{
				ID:         id,
				Kind:       record.Kind,
				Subtype:    record.Subtype,
				Name:       record.Name,
				StoreyGUID: record.StoreyGUID,
			})
			properties[id] = record.Properties
			u.updated++
			continue
		}

		entity := &model.Entity{
			ID:             uuid.New().String(),
			ModelVersionID: u.versionID.String(),
			GUID:           record.GUID,
			Kind:           record.Kind,
			Subtype:        record.Subtype,
			Name:           record.Name,
			StoreyGUID:     record.StoreyGUID,
			GeometryState:  model.GeometryPending,
		}
		if previous, ok := u.prior[record.GUID]; ok {
			entity.Enriched = previous.Enriched
			entity.Verified = previous.Verified
		}

		creates = append(creates, entity)
		properties[entity.ID] = record.Properties
		u.written[record.GUID] = entity.ID
		u.seen.Add(record.GUID)
		u.created++
	}

	if err := u.store.CreateEntities(ctx, creates); err != nil {
		return fmt.Errorf("creating entity batch: %w", err)
	}
	if err := u.store.UpdateEntitiesFromFile(ctx, updates); err != nil {
		return fmt.Errorf("updating entity batch: %w", err)
	}

	// Property rows are replaced wholesale, never merged, so stale values
	// cannot leak from an earlier occurrence of the same entity.
	for entityID, records := range properties {
		props := make([]*model.Property, 0, len(records))
		for _, record := range records {
			props = append(props, &model.Property{
				ID:        uuid.New().String(),
				EntityID:  entityID,
				GroupName: record.Group,
				Name:      record.Name,
				Value:     record.Value,
				ValueKind: record.ValueKind,
			})
		}
		if err := u.store.ReplaceProperties(ctx, entityID, props); err != nil {
			return fmt.Errorf("replacing properties: %w", err)
		}
	}

	return nil
}

// Finish carries the parent GUIDs absent from this source into the new
// version as soft-deleted rows and returns the classification sets.
func (u *upsertEngine) Finish(ctx context.Context) (*UpsertResult, error) {
	result := &UpsertResult{
		Added:   mapset.NewSet[string](),
		Removed: mapset.NewSet[string](),
		Carried: mapset.NewSet[string](),
		Created: u.created,
		Updated: u.updated,
	}

	removedRows := make([]*model.Entity, 0)
	for guid, previous := range u.prior {
		if u.seen.Contains(guid) {
			// Re-appearance after removal in the parent counts as an
			// addition below, not as a carried entity.
			if !previous.IsRemoved {
				result.Carried.Add(guid)
			}
			continue
		}
		if previous.IsRemoved {
			// Already gone in the parent; no diff entry, no carried row.
			continue
		}

		result.Removed.Add(guid)
		removedRows = append(removedRows, &model.Entity{
			ID:             uuid.New().String(),
			ModelVersionID: u.versionID.String(),
			GUID:           guid,
			Kind:           previous.Kind,
			Subtype:        previous.Subtype,
			Name:           previous.Name,
			StoreyGUID:     previous.StoreyGUID,
			IsRemoved:      true,
			// The fresh row owns no geometry; the parent's mesh stays
			// readable on the parent row.
			GeometryState: model.GeometryNoRepresentation,
			Enriched:      previous.Enriched,
			Verified:      previous.Verified,
		})
	}

	for _, guid := range u.seen.ToSlice() {
		if previous, ok := u.prior[guid]; !ok || previous.IsRemoved {
			result.Added.Add(guid)
		}
	}

	if err := u.store.CreateEntities(ctx, removedRows); err != nil {
		return nil, fmt.Errorf("writing soft-deleted entities: %w", err)
	}

	return result, nil
}
