package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/EdvardGK/sprucelab-sub000/internal/model"
	"github.com/EdvardGK/sprucelab-sub000/internal/store"
)

const (
	wallGUID   = "2O2Fr$t4X7Zf8NOew3FLOH"
	storeyGUID = "0pTvXnbbzCWw8lcMd1dR4o"
)

func snapshotWithWall(props []*model.Property, withGeometry bool) *store.VersionSnapshot {
	snapshot := &store.VersionSnapshot{
		Entities: map[string]*model.Entity{
			wallGUID: {GUID: wallGUID, Kind: "IfcWall", Name: "Wall", StoreyGUID: storeyGUID},
		},
		Properties: map[string][]*model.Property{wallGUID: props},
		Geometry:   map[string]store.GeometrySignature{},
	}
	if withGeometry {
		snapshot.Geometry[wallGUID] = store.GeometrySignature{VertexCount: 8}
	}
	return snapshot
}

func props(group string, names ...string) []*model.Property {
	var out []*model.Property
	for _, name := range names {
		out = append(out, &model.Property{GroupName: group, Name: name, Value: "x"})
	}
	return out
}

// A wall missing its required property group fails the report with one
// property issue referencing the wall's guid.
func TestEngine_MissingRequiredGroupFails(t *testing.T) {
	rules := &RuleSet{
		RequiredGroups: map[string][]string{"IfcWall": {"Pset_WallCommon"}},
	}

	report := NewEngine(rules).Run(snapshotWithWall(nil, true))

	assert.Equal(t, model.ReportFail, report.OverallStatus)

	var propertyIssues []Issue
	for _, issue := range report.Issues {
		if issue.Kind == IssueProperty {
			propertyIssues = append(propertyIssues, issue)
		}
	}
	assert.Len(t, propertyIssues, 1)
	assert.Equal(t, wallGUID, propertyIssues[0].GUID)
}

// An entity with geometry but only two properties reaches L1, not L2.
func TestEngine_MaturityStopsAtFirstFailedLevel(t *testing.T) {
	rules := &RuleSet{
		MaturityScale: []MaturityLevel{
			{Name: "L1", RequireGeometry: false, MinProperties: 0},
			{Name: "L2", RequireGeometry: true, MinProperties: 3},
		},
	}

	snapshot := snapshotWithWall(props("Pset_WallCommon", "FireRating", "LoadBearing"), true)
	report := NewEngine(rules).Run(snapshot)

	assert.Equal(t, "L1", report.EntityMaturity[wallGUID])
}

func TestEngine_MaturityRequiresGeometry(t *testing.T) {
	rules := &RuleSet{
		MaturityScale: []MaturityLevel{
			{Name: "L1", RequireGeometry: true},
		},
	}

	report := NewEngine(rules).Run(snapshotWithWall(nil, false))

	assert.Empty(t, report.EntityMaturity[wallGUID])

	found := false
	for _, issue := range report.Issues {
		if issue.Kind == IssueMaturity && issue.GUID == wallGUID {
			found = true
		}
	}
	assert.True(t, found, "entity below the lowest level should be reported")
}

func TestEngine_NoRuleSetDegradesGracefully(t *testing.T) {
	report := NewEngine(nil).Run(snapshotWithWall(nil, true))

	assert.Equal(t, model.ReportPass, report.OverallStatus)

	explained := 0
	for _, issue := range report.Issues {
		if issue.Severity == SeverityInfo {
			explained++
		}
	}
	assert.NotZero(t, explained, "missing rule set should be explained in the report")
}

func TestEngine_GUIDRules(t *testing.T) {
	snapshot := &store.VersionSnapshot{
		Entities: map[string]*model.Entity{
			"short": {GUID: "short", Kind: "IfcWall", StoreyGUID: storeyGUID},
		},
		Properties:     map[string][]*model.Property{},
		Geometry:       map[string]store.GeometrySignature{},
		DuplicateGUIDs: []string{wallGUID},
	}

	report := NewEngine(nil).Run(snapshot)

	assert.Equal(t, model.ReportFail, report.OverallStatus)

	kinds := make(map[IssueKind]int)
	for _, issue := range report.Issues {
		kinds[issue.Kind]++
	}
	assert.Equal(t, 2, kinds[IssueGUID]) // one duplicate, one malformed
}

func TestEngine_ContainmentWarning(t *testing.T) {
	snapshot := &store.VersionSnapshot{
		Entities: map[string]*model.Entity{
			wallGUID: {GUID: wallGUID, Kind: "IfcWall", Name: "Wall"},
		},
		Properties: map[string][]*model.Property{},
		Geometry:   map[string]store.GeometrySignature{},
	}

	report := NewEngine(nil).Run(snapshot)

	assert.Equal(t, model.ReportWarning, report.OverallStatus)

	found := false
	for _, issue := range report.Issues {
		if issue.Kind == IssueSchema && issue.GUID == wallGUID {
			found = true
		}
	}
	assert.True(t, found, "uncontained entity should be reported")
}

func TestEngine_RemovedEntitiesAreNotValidated(t *testing.T) {
	rules := &RuleSet{
		RequiredGroups: map[string][]string{"IfcWall": {"Pset_WallCommon"}},
	}

	snapshot := &store.VersionSnapshot{
		Entities: map[string]*model.Entity{
			wallGUID: {GUID: wallGUID, Kind: "IfcWall", StoreyGUID: storeyGUID, IsRemoved: true},
		},
		Properties: map[string][]*model.Property{},
		Geometry:   map[string]store.GeometrySignature{},
	}

	report := NewEngine(rules).Run(snapshot)
	assert.Equal(t, model.ReportPass, report.OverallStatus)
}

func TestEngine_NamingPattern(t *testing.T) {
	rules := &RuleSet{
		NamingPatterns: map[string]string{"IfcWall": `^W-\d+$`},
	}

	snapshot := snapshotWithWall(nil, true)
	report := NewEngine(rules).Run(snapshot)

	assert.Equal(t, model.ReportWarning, report.OverallStatus)
}
