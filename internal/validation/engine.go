// Package validation scores the normalized data of one model version against
// a project-scoped rule set. Validation never blocks ingestion: the engine
// returns a best-effort report even when individual rules blow up.
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/EdvardGK/sprucelab-sub000/internal/model"
	"github.com/EdvardGK/sprucelab-sub000/internal/store"
)

type IssueKind string

const (
	IssueSchema   IssueKind = "schema"
	IssueGUID     IssueKind = "guid"
	IssueGeometry IssueKind = "geometry"
	IssueProperty IssueKind = "property"
	IssueMaturity IssueKind = "maturity"
	IssueInternal IssueKind = "internal"
)

type Severity string

const (
	// SeverityError marks a hard rule: any occurrence fails the report.
	SeverityError Severity = "error"
	// SeverityWarning marks a soft rule: occurrences downgrade pass to warning.
	SeverityWarning Severity = "warning"
	// SeverityInfo is advisory only and never affects the overall status.
	SeverityInfo Severity = "info"
)

type Issue struct {
	Kind     IssueKind `json:"kind"`
	Severity Severity  `json:"severity"`
	GUID     string    `json:"guid,omitempty"`
	Message  string    `json:"message"`
}

// Report is the in-memory validation result before persistence.
type Report struct {
	OverallStatus  model.ReportStatus
	Issues         []Issue
	EntityMaturity map[string]string // GUID → highest satisfied level name
}

// ToModel flattens the report into a ValidationReport row.
func (r *Report) ToModel(versionID string) (*model.ValidationReport, error) {
	data, err := json.Marshal(r.Issues)
	if err != nil {
		return nil, err
	}

	row := &model.ValidationReport{
		ModelVersionID: versionID,
		OverallStatus:  r.OverallStatus,
		Issues:         string(data),
	}
	for _, issue := range r.Issues {
		switch issue.Kind {
		case IssueSchema:
			row.SchemaIssues++
		case IssueGUID:
			row.GUIDIssues++
		case IssueGeometry:
			row.GeometryIssues++
		case IssueProperty:
			row.PropertyIssues++
		case IssueMaturity:
			row.MaturityIssues++
		case IssueInternal:
			row.InternalIssues++
		}
	}
	return row, nil
}

// guidLength is the fixed length of exchange-file GUIDs.
const guidLength = 22

type Engine struct {
	rules *RuleSet
}

// NewEngine creates a validation engine. A nil rule set is legal; rule-set
// driven checks are then skipped with an explanatory issue.
func NewEngine(rules *RuleSet) *Engine {
	return &Engine{rules: rules}
}

type rule struct {
	name string
	run  func(snapshot *store.VersionSnapshot, report *Report)
}

// Run evaluates all rules against one version snapshot. It never returns an
// error: internal rule failures become issues of kind internal.
func (e *Engine) Run(snapshot *store.VersionSnapshot) *Report {
	report := &Report{
		EntityMaturity: make(map[string]string),
	}

	rules := []rule{
		{"guid", e.checkGUIDs},
		{"containment", e.checkContainment},
		{"required-groups", e.checkRequiredGroups},
		{"naming", e.checkNaming},
		{"maturity", e.checkMaturity},
	}

	for _, r := range rules {
		e.runRecovered(r, snapshot, report)
	}

	report.OverallStatus = overall(report.Issues)
	return report
}

func (e *Engine) runRecovered(r rule, snapshot *store.VersionSnapshot, report *Report) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logrus.Errorf("validation rule %s panicked: %v", r.name, recovered)
			report.Issues = append(report.Issues, Issue{
				Kind:     IssueInternal,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("rule %s failed internally: %v", r.name, recovered),
			})
		}
	}()

	r.run(snapshot, report)
}

func overall(issues []Issue) model.ReportStatus {
	status := model.ReportPass
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityError:
			return model.ReportFail
		case SeverityWarning:
			status = model.ReportWarning
		}
	}
	return status
}

func (e *Engine) checkGUIDs(snapshot *store.VersionSnapshot, report *Report) {
	for _, guid := range snapshot.DuplicateGUIDs {
		report.Issues = append(report.Issues, Issue{
			Kind:     IssueGUID,
			Severity: SeverityError,
			GUID:     guid,
			Message:  "guid appears on more than one entity",
		})
	}

	for guid := range snapshot.Entities {
		if len(guid) != guidLength {
			report.Issues = append(report.Issues, Issue{
				Kind:     IssueGUID,
				Severity: SeverityError,
				GUID:     guid,
				Message:  fmt.Sprintf("guid is not %d characters", guidLength),
			})
		}
	}
}

// spatialKinds are the containment-tree node kinds that need no container
// themselves (apart from the site root).
var spatialKinds = map[string]bool{
	"IfcProject":        true,
	"IfcSite":           true,
	"IfcBuilding":       true,
	"IfcBuildingStorey": true,
	"IfcSpace":          true,
}

func (e *Engine) checkContainment(snapshot *store.VersionSnapshot, report *Report) {
	contained := make(map[string]bool)
	for _, rel := range snapshot.Relationships {
		if rel.Kind == model.RelContains {
			contained[rel.TargetGUID] = true
		}
	}

	for guid, entity := range snapshot.Live() {
		if spatialKinds[entity.Kind] {
			continue
		}
		if entity.StoreyGUID == "" && !contained[guid] {
			report.Issues = append(report.Issues, Issue{
				Kind:     IssueSchema,
				Severity: SeverityWarning,
				GUID:     guid,
				Message:  "entity has no spatial containment path",
			})
		}
	}
}

func (e *Engine) checkRequiredGroups(snapshot *store.VersionSnapshot, report *Report) {
	if e.rules == nil {
		report.Issues = append(report.Issues, Issue{
			Kind:     IssueInternal,
			Severity: SeverityInfo,
			Message:  "no rule set configured, required property groups not checked",
		})
		return
	}

	for guid, entity := range snapshot.Live() {
		for _, group := range e.rules.RequiredGroups[entity.Kind] {
			if !snapshot.HasGroup(guid, group) {
				report.Issues = append(report.Issues, Issue{
					Kind:     IssueProperty,
					Severity: SeverityError,
					GUID:     guid,
					Message:  fmt.Sprintf("missing required property group %q for kind %s", group, entity.Kind),
				})
			}
		}
	}
}

func (e *Engine) checkNaming(snapshot *store.VersionSnapshot, report *Report) {
	if e.rules == nil || len(e.rules.NamingPatterns) == 0 {
		return
	}

	patterns := make(map[string]*regexp.Regexp, len(e.rules.NamingPatterns))
	for kind, expr := range e.rules.NamingPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			report.Issues = append(report.Issues, Issue{
				Kind:     IssueInternal,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("invalid naming pattern for kind %s: %v", kind, err),
			})
			continue
		}
		patterns[kind] = re
	}

	for guid, entity := range snapshot.Live() {
		re, ok := patterns[entity.Kind]
		if !ok {
			continue
		}
		if !re.MatchString(entity.Name) {
			report.Issues = append(report.Issues, Issue{
				Kind:     IssueSchema,
				Severity: SeverityWarning,
				GUID:     guid,
				Message:  fmt.Sprintf("name %q does not match the %s naming pattern", entity.Name, entity.Kind),
			})
		}
	}
}

// checkMaturity scores each live entity against the ordered level scale.
// An entity's level is the highest level whose thresholds it satisfies,
// evaluated lowest to highest, stopping at the first failure.
func (e *Engine) checkMaturity(snapshot *store.VersionSnapshot, report *Report) {
	if e.rules == nil || len(e.rules.MaturityScale) == 0 {
		report.Issues = append(report.Issues, Issue{
			Kind:     IssueMaturity,
			Severity: SeverityInfo,
			Message:  "no maturity scale configured, maturity scoring skipped",
		})
		return
	}

	// Deterministic issue order for a stable persisted report.
	guids := make([]string, 0, len(snapshot.Entities))
	for guid, entity := range snapshot.Live() {
		if spatialKinds[entity.Kind] {
			continue
		}
		guids = append(guids, guid)
	}
	sort.Strings(guids)

	for _, guid := range guids {
		level := e.maturityOf(snapshot, guid)
		if level == "" {
			report.Issues = append(report.Issues, Issue{
				Kind:     IssueMaturity,
				Severity: SeverityWarning,
				GUID:     guid,
				Message:  fmt.Sprintf("entity does not reach maturity level %q", e.rules.MaturityScale[0].Name),
			})
			continue
		}
		report.EntityMaturity[guid] = level
	}
}

func (e *Engine) maturityOf(snapshot *store.VersionSnapshot, guid string) string {
	_, hasGeometry := snapshot.Geometry[guid]

	reached := ""
	for _, level := range e.rules.MaturityScale {
		if level.RequireGeometry && !hasGeometry {
			break
		}
		if snapshot.PropertyCount(guid) < level.MinProperties {
			break
		}
		missing := false
		for _, group := range level.RequiredGroups {
			if !snapshot.HasGroup(guid, group) {
				missing = true
				break
			}
		}
		if missing {
			break
		}
		reached = level.Name
	}

	return reached
}
