package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/EdvardGK/sprucelab-sub000/internal/model"
	"github.com/EdvardGK/sprucelab-sub000/internal/reader"
)

// EntityRecord is one normalized element ready for the upsert engine.
type EntityRecord struct {
	GUID       string
	Kind       string
	Subtype    string
	Name       string
	StoreyGUID string
	Properties []PropertyRecord
}

// PropertyRecord is one flattened property value.
type PropertyRecord struct {
	Group     string
	Name      string
	Value     string
	ValueKind string
}

// RelationshipRecord is one normalized directed edge.
type RelationshipRecord struct {
	Kind       string
	SourceGUID string
	TargetGUID string
	Attributes map[string]string
}

// NormalizeStats counts one normalization pass.
type NormalizeStats struct {
	Elements        int64
	Relationships   int64
	Skipped         int64
	SourceTimestamp *time.Time
}

// relationshipKinds maps source-schema relationship kinds to normalized edge
// kinds. Unknown kinds pass through untouched.
var relationshipKinds = map[string]string{
	"IfcRelContainedInSpatialStructure": model.RelContains,
	"IfcRelAggregates":                  model.RelContains,
	"IfcRelDefinesByType":               model.RelTypeOf,
	"IfcRelAssociatesMaterial":          model.RelMaterial,
	"IfcRelAssignsToGroup":              model.RelSystem,
	"IfcRelVoidsElement":                model.RelVoids,
	"IfcRelFillsElement":                model.RelFills,
}

// storeyKind is the spatial node kind that anchors per-entity storey
// references.
const storeyKind = "IfcBuildingStorey"

// Normalizer turns the low-level reader's enumeration surface into bounded
// batches of entity, property and relationship records. A malformed element
// is logged and skipped; a reader-level error aborts the pass.
type Normalizer struct {
	batchSize int
}

func NewNormalizer(batchSize int) *Normalizer {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Normalizer{batchSize: batchSize}
}

// Run streams the file contents through the two sinks. The relationship set
// and the spatial containment tree are read first so element batches carry a
// resolved storey reference; element batches are bounded by batchSize so the
// full element set never sits in memory at once.
func (n *Normalizer) Run(
	ctx context.Context,
	r reader.ModelReader,
	onEntities func(ctx context.Context, batch []EntityRecord) error,
	onRelationships func(ctx context.Context, batch []RelationshipRecord) error,
) (*NormalizeStats, error) {
	stats := &NormalizeStats{}
	if ts, ok := r.SourceTimestamp(); ok {
		stats.SourceTimestamp = &ts
	}

	containerOf, err := n.emitRelationships(ctx, r, stats, onRelationships)
	if err != nil {
		return stats, err
	}

	storeys, err := n.collectStoreys(r)
	if err != nil {
		return stats, err
	}

	kinds, err := r.ElementKinds()
	if err != nil {
		return stats, err
	}

	batch := make([]EntityRecord, 0, n.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := onEntities(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, kind := range kinds {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		err := r.EachElement(kind, func(el reader.Element) error {
			record, ok := n.normalizeElement(kind, el, containerOf, storeys)
			if !ok {
				stats.Skipped++
				return nil
			}
			stats.Elements++
			batch = append(batch, record)
			if len(batch) >= n.batchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}

	return stats, nil
}

// emitRelationships streams all edges to the sink and returns the
// containment parent map (contained GUID → container GUID).
func (n *Normalizer) emitRelationships(
	ctx context.Context,
	r reader.ModelReader,
	stats *NormalizeStats,
	sink func(ctx context.Context, batch []RelationshipRecord) error,
) (map[string]string, error) {
	containerOf := make(map[string]string)

	kinds, err := r.RelationshipKinds()
	if err != nil {
		return nil, err
	}

	batch := make([]RelationshipRecord, 0, n.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, kind := range kinds {
		normalized := kind
		if mapped, ok := relationshipKinds[kind]; ok {
			normalized = mapped
		}

		err := r.EachRelationship(kind, func(rel reader.Relationship) error {
			if rel.SourceGUID == "" || rel.TargetGUID == "" {
				logrus.Warnf("skipping %s relationship with missing endpoint", kind)
				stats.Skipped++
				return nil
			}

			if normalized == model.RelContains {
				containerOf[rel.TargetGUID] = rel.SourceGUID
			}

			stats.Relationships++
			batch = append(batch, RelationshipRecord{
				Kind:       normalized,
				SourceGUID: rel.SourceGUID,
				TargetGUID: rel.TargetGUID,
				Attributes: rel.Attributes,
			})
			if len(batch) >= n.batchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}

	return containerOf, nil
}

// collectStoreys enumerates only the spatial node kinds and returns the set
// of storey GUIDs. Spatial nodes are a tiny fraction of any model.
func (n *Normalizer) collectStoreys(r reader.ModelReader) (map[string]bool, error) {
	storeys := make(map[string]bool)
	err := r.EachElement(storeyKind, func(el reader.Element) error {
		if el.GUID != "" {
			storeys[el.GUID] = true
		}
		return nil
	})
	return storeys, err
}

func (n *Normalizer) normalizeElement(kind string, el reader.Element, containerOf map[string]string, storeys map[string]bool) (EntityRecord, bool) {
	if el.GUID == "" {
		logrus.Warnf("skipping %s element without guid", kind)
		return EntityRecord{}, false
	}

	record := EntityRecord{
		GUID:       el.GUID,
		Kind:       kind,
		Subtype:    el.Subtype,
		Name:       el.Name,
		StoreyGUID: resolveStorey(el.GUID, containerOf, storeys),
	}

	for group, values := range el.PropertyGroups {
		for name, value := range values {
			record.Properties = append(record.Properties, PropertyRecord{
				Group:     group,
				Name:      name,
				Value:     value.Data,
				ValueKind: value.Kind,
			})
		}
	}

	return record, true
}

// resolveStorey walks the containment chain upwards until a storey is found.
// The walk is bounded so a malformed cyclic containment graph cannot hang
// the normalizer.
func resolveStorey(guid string, containerOf map[string]string, storeys map[string]bool) string {
	const maxDepth = 64

	current := guid
	for i := 0; i < maxDepth; i++ {
		parent, ok := containerOf[current]
		if !ok {
			return ""
		}
		if storeys[parent] {
			return parent
		}
		current = parent
	}
	return ""
}

func attributesJSON(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return ""
	}
	return string(data)
}
