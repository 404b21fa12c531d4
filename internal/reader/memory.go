package reader

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

var _ ModelReader = (*Memory)(nil)

// Memory is a ModelReader over pre-parsed records. It backs tests and the
// CLI's json ingestion path; production deployments plug in the real
// exchange-file reader instead.
type Memory struct {
	Timestamp     *time.Time
	Elements      map[string][]Element      // by kind
	Relationships map[string][]Relationship // by kind

	// Err, when set, is returned by every enumeration method. It simulates an
	// unreadable source in tests.
	Err error
}

func NewMemory() *Memory {
	return &Memory{
		Elements:      make(map[string][]Element),
		Relationships: make(map[string][]Relationship),
	}
}

// AddElement appends one element under the given kind.
func (m *Memory) AddElement(kind string, el Element) {
	m.Elements[kind] = append(m.Elements[kind], el)
}

// AddRelationship appends one relationship edge.
func (m *Memory) AddRelationship(rel Relationship) {
	m.Relationships[rel.Kind] = append(m.Relationships[rel.Kind], rel)
}

func (m *Memory) SourceTimestamp() (time.Time, bool) {
	if m.Timestamp == nil {
		return time.Time{}, false
	}
	return *m.Timestamp, true
}

func (m *Memory) ElementKinds() ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	kinds := make([]string, 0, len(m.Elements))
	for kind := range m.Elements {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds, nil
}

func (m *Memory) EachElement(kind string, fn func(el Element) error) error {
	if m.Err != nil {
		return m.Err
	}
	for _, el := range m.Elements[kind] {
		if err := fn(el); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) RelationshipKinds() ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	kinds := make([]string, 0, len(m.Relationships))
	for kind := range m.Relationships {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds, nil
}

func (m *Memory) EachRelationship(kind string, fn func(rel Relationship) error) error {
	if m.Err != nil {
		return m.Err
	}
	for _, rel := range m.Relationships[kind] {
		if err := fn(rel); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

type jsonDump struct {
	Timestamp     *time.Time                `json:"timestamp,omitempty"`
	Elements      map[string][]Element      `json:"elements"`
	Relationships map[string][]Relationship `json:"relationships"`
}

// FromJSONFile loads a pre-parsed model dump produced by the external reader
// tooling. Used by the CLI's development ingestion path.
func FromJSONFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model dump: %w", err)
	}

	var dump jsonDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("decoding model dump: %w", err)
	}

	m := NewMemory()
	m.Timestamp = dump.Timestamp
	if dump.Elements != nil {
		m.Elements = dump.Elements
	}
	for _, rels := range dump.Relationships {
		for _, rel := range rels {
			m.AddRelationship(rel)
		}
	}
	return m, nil
}
