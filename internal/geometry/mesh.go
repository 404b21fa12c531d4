package geometry

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Mesh is one entity's triangulated representation as produced by the
// extractor. Vertices are xyz triples; indices address vertices.
type Mesh struct {
	Vertices []float32
	Indices  []uint32
}

// VertexCount returns the number of xyz vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

// TriangleCount returns the number of index triples.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Bounds computes the axis-aligned bounding box of the mesh.
func (m *Mesh) Bounds() (min, max [3]float64) {
	if m.VertexCount() == 0 {
		return min, max
	}

	for i := 0; i < 3; i++ {
		min[i] = math.Inf(1)
		max[i] = math.Inf(-1)
	}
	for i := 0; i+2 < len(m.Vertices); i += 3 {
		for axis := 0; axis < 3; axis++ {
			v := float64(m.Vertices[i+axis])
			if v < min[axis] {
				min[axis] = v
			}
			if v > max[axis] {
				max[axis] = v
			}
		}
	}
	return min, max
}

// EncodeVertices serializes the vertex buffer little-endian.
func (m *Mesh) EncodeVertices() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, m.Vertices); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeIndices serializes the index buffer little-endian.
func (m *Mesh) EncodeIndices() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, m.Indices); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMesh rebuilds a mesh from serialized buffers.
func DecodeMesh(vertexData, indexData []byte) (*Mesh, error) {
	mesh := &Mesh{
		Vertices: make([]float32, len(vertexData)/4),
		Indices:  make([]uint32, len(indexData)/4),
	}
	if err := binary.Read(bytes.NewReader(vertexData), binary.LittleEndian, &mesh.Vertices); err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(indexData), binary.LittleEndian, &mesh.Indices); err != nil {
		return nil, err
	}
	return mesh, nil
}
