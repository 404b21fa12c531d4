package compress

import (
	"bytes"

	"github.com/andybalholm/brotli"
)

// Brotli trades encode time for the smallest stored mesh buffers. Best for
// published versions that are written once and read many times.
type Brotli struct{}

func NewBrotli() Brotli {
	return Brotli{}
}

func (b Brotli) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b Brotli) Decode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(brotli.NewReader(bytes.NewReader(data))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
