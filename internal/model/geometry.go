package model

import "time"

// Geometry is the extracted mesh of one entity. The row is one-to-one with
// Entity and fully optional: deleting or never producing one does not affect
// the entity itself. Vertex and index buffers are stored compressed; the
// codec name is recorded so readers can pick the right decoder.
type Geometry struct {
	EntityID      string `gorm:"primaryKey;uuid;not null"`
	VertexCount   int
	TriangleCount int
	MinX          float64
	MinY          float64
	MinZ          float64
	MaxX          float64
	MaxY          float64
	MaxZ          float64
	VertexData    []byte `gorm:"type:blob"`
	IndexData     []byte `gorm:"type:blob"`
	Compression   string
	ExtractedAt   time.Time
}
