// Package diff computes the stable-identity diff between two versions of the
// same logical model. GUIDs are the only join key; row ids never cross
// versions.
package diff

import (
	"encoding/json"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/EdvardGK/sprucelab-sub000/internal/model"
	"github.com/EdvardGK/sprucelab-sub000/internal/store"
)

// PropertyChange is one field-level property difference.
type PropertyChange struct {
	Group string `json:"group"`
	Name  string `json:"name"`
	Old   string `json:"old,omitempty"`
	New   string `json:"new,omitempty"`
}

// GeometryChange captures the cheap signature delta of one entity's geometry.
type GeometryChange struct {
	OldVertexCount int        `json:"old_vertex_count"`
	NewVertexCount int        `json:"new_vertex_count"`
	OldBounds      [6]float64 `json:"old_bounds"`
	NewBounds      [6]float64 `json:"new_bounds"`
}

// Detail is the change-detail payload of one diff entry.
type Detail struct {
	OldKind    string           `json:"old_kind,omitempty"`
	NewKind    string           `json:"new_kind,omitempty"`
	OldName    string           `json:"old_name,omitempty"`
	NewName    string           `json:"new_name,omitempty"`
	Properties []PropertyChange `json:"properties,omitempty"`
	Geometry   *GeometryChange  `json:"geometry,omitempty"`
}

type Engine struct {
}

func NewEngine() *Engine {
	return &Engine{}
}

// Compare classifies every GUID across the two snapshots. Unchanged GUIDs
// emit no entry. When identity fields changed, or properties and geometry
// both changed, a single modified entry carries all diffs. Entities whose
// extraction has not reached a terminal state on both sides produce no
// geometry delta.
//
// added and removed may carry the sets already classified by the upsert
// engine; when nil they are recomputed from the snapshots.
func (e *Engine) Compare(versionID, priorID uuid.UUID, current, prior *store.VersionSnapshot, added, removed mapset.Set[string]) ([]*model.VersionDiff, model.DiffSummaryCounts, error) {
	var (
		entries []*model.VersionDiff
		counts  model.DiffSummaryCounts
	)

	currentGUIDs := liveSet(current)
	priorGUIDs := liveSet(prior)

	if added == nil {
		added = currentGUIDs.Difference(priorGUIDs)
	}
	if removed == nil {
		removed = priorGUIDs.Difference(currentGUIDs)
	}
	carried := currentGUIDs.Intersect(priorGUIDs)

	for _, guid := range sorted(added) {
		entries = append(entries, entry(versionID, priorID, guid, model.ChangeAdded, nil))
		counts.Added++
	}
	for _, guid := range sorted(removed) {
		entries = append(entries, entry(versionID, priorID, guid, model.ChangeRemoved, nil))
		counts.Removed++
	}

	for _, guid := range sorted(carried) {
		kind, detail := e.classify(guid, current, prior)
		if kind == "" {
			continue
		}
		entries = append(entries, entry(versionID, priorID, guid, kind, detail))
		switch kind {
		case model.ChangeModified:
			counts.Modified++
		case model.ChangeGeometryChanged:
			counts.GeometryChanged++
		case model.ChangePropertyChanged:
			counts.PropertyChanged++
		}
	}

	return entries, counts, nil
}

func (e *Engine) classify(guid string, current, prior *store.VersionSnapshot) (model.ChangeKind, *Detail) {
	curEntity := current.Entities[guid]
	oldEntity := prior.Entities[guid]

	identityChanged := curEntity.Kind != oldEntity.Kind || curEntity.Name != oldEntity.Name
	propChanges := compareProperties(prior.Properties[guid], current.Properties[guid])

	// Geometry halves are compared only once both sides reached a terminal
	// extraction state. A deferred or still-running extraction is
	// incomparable, not an absence.
	var geomChange *GeometryChange
	if curEntity.GeometryState.Terminal() && oldEntity.GeometryState.Terminal() {
		geomChange = compareGeometry(prior.Geometry, current.Geometry, guid)
	}

	if !identityChanged && len(propChanges) == 0 && geomChange == nil {
		return "", nil
	}

	detail := &Detail{
		Properties: propChanges,
		Geometry:   geomChange,
	}
	if identityChanged {
		detail.OldKind = oldEntity.Kind
		detail.NewKind = curEntity.Kind
		detail.OldName = oldEntity.Name
		detail.NewName = curEntity.Name
	}

	switch {
	case identityChanged:
		return model.ChangeModified, detail
	case len(propChanges) > 0 && geomChange != nil:
		// Both halves changed: one modified entry carrying both diffs.
		return model.ChangeModified, detail
	case geomChange != nil:
		return model.ChangeGeometryChanged, detail
	default:
		return model.ChangePropertyChanged, detail
	}
}

func compareProperties(old, current []*model.Property) []PropertyChange {
	type key struct{ group, name string }

	oldValues := make(map[key]string, len(old))
	for _, p := range old {
		oldValues[key{p.GroupName, p.Name}] = p.Value
	}
	curValues := make(map[key]string, len(current))
	for _, p := range current {
		curValues[key{p.GroupName, p.Name}] = p.Value
	}

	var changes []PropertyChange
	for k, oldValue := range oldValues {
		newValue, ok := curValues[k]
		if !ok {
			changes = append(changes, PropertyChange{Group: k.group, Name: k.name, Old: oldValue})
			continue
		}
		if newValue != oldValue {
			changes = append(changes, PropertyChange{Group: k.group, Name: k.name, Old: oldValue, New: newValue})
		}
	}
	for k, newValue := range curValues {
		if _, ok := oldValues[k]; !ok {
			changes = append(changes, PropertyChange{Group: k.group, Name: k.name, New: newValue})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Group != changes[j].Group {
			return changes[i].Group < changes[j].Group
		}
		return changes[i].Name < changes[j].Name
	})

	return changes
}

func compareGeometry(old, current map[string]store.GeometrySignature, guid string) *GeometryChange {
	oldSig, hadGeom := old[guid]
	curSig, hasGeom := current[guid]

	if !hadGeom && !hasGeom {
		return nil
	}
	if hadGeom && hasGeom && oldSig == curSig {
		return nil
	}

	return &GeometryChange{
		OldVertexCount: oldSig.VertexCount,
		NewVertexCount: curSig.VertexCount,
		OldBounds:      bounds(oldSig),
		NewBounds:      bounds(curSig),
	}
}

func bounds(sig store.GeometrySignature) [6]float64 {
	return [6]float64{sig.Min[0], sig.Min[1], sig.Min[2], sig.Max[0], sig.Max[1], sig.Max[2]}
}

func liveSet(snapshot *store.VersionSnapshot) mapset.Set[string] {
	guids := mapset.NewSet[string]()
	for guid := range snapshot.Live() {
		guids.Add(guid)
	}
	return guids
}

func sorted(s mapset.Set[string]) []string {
	guids := s.ToSlice()
	sort.Strings(guids)
	return guids
}

func entry(versionID, priorID uuid.UUID, guid string, kind model.ChangeKind, detail *Detail) *model.VersionDiff {
	row := &model.VersionDiff{
		ID:             uuid.New().String(),
		ModelVersionID: versionID.String(),
		PriorVersionID: priorID.String(),
		GUID:           guid,
		ChangeKind:     kind,
	}
	if detail != nil {
		data, err := json.Marshal(detail)
		if err != nil {
			row.Detail = fmt.Sprintf(`{"error":%q}`, err.Error())
		} else {
			row.Detail = string(data)
		}
	}
	return row
}
