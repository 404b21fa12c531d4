package geometry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNoRepresentation is returned by an extractor when an element carries no
// 3D representation at all. It is a terminal state, not a failure.
var ErrNoRepresentation = errors.New("element has no geometric representation")

// Extractor produces meshes from the geometry source of one model version.
// The real extractor wraps the external exchange-file geometry kernel.
type Extractor interface {
	// Open prepares the geometry source. An error here is systemic and fails
	// the whole geometry layer.
	Open(ctx context.Context) error
	// Extract produces the mesh of one element. ErrNoRepresentation marks
	// elements without 3D data; any other error is a per-entity failure.
	Extract(ctx context.Context, guid string) (*Mesh, error)
	// Close releases the geometry source.
	Close() error
}

var _ Extractor = (*StaticExtractor)(nil)

// StaticExtractor serves pre-computed meshes by GUID. It backs tests and the
// CLI's json ingestion path.
type StaticExtractor struct {
	Meshes map[string]*Mesh
	// Errs injects per-entity extraction failures by GUID.
	Errs map[string]error
	// OpenErr simulates an unreadable geometry source.
	OpenErr error
}

func NewStaticExtractor() *StaticExtractor {
	return &StaticExtractor{
		Meshes: make(map[string]*Mesh),
		Errs:   make(map[string]error),
	}
}

func (s *StaticExtractor) Open(ctx context.Context) error {
	return s.OpenErr
}

func (s *StaticExtractor) Extract(ctx context.Context, guid string) (*Mesh, error) {
	if err := s.Errs[guid]; err != nil {
		return nil, err
	}
	mesh, ok := s.Meshes[guid]
	if !ok {
		return nil, ErrNoRepresentation
	}
	return mesh, nil
}

func (s *StaticExtractor) Close() error {
	return nil
}

type meshFile struct {
	Vertices []float32 `json:"vertices"`
	Indices  []uint32  `json:"indices"`
}

// FromJSONFile loads pre-computed meshes keyed by GUID from a json dump.
func FromJSONFile(path string) (*StaticExtractor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mesh dump: %w", err)
	}

	var meshes map[string]meshFile
	if err := json.Unmarshal(data, &meshes); err != nil {
		return nil, fmt.Errorf("parsing mesh dump: %w", err)
	}

	ex := NewStaticExtractor()
	for guid, m := range meshes {
		ex.Meshes[guid] = &Mesh{Vertices: m.Vertices, Indices: m.Indices}
	}
	return ex, nil
}
