package compress

import "fmt"

// Compress encodes and decodes opaque byte buffers. Geometry vertex/index
// buffers are stored through one of these codecs; the codec name is recorded
// next to the data so the matching decoder can be picked on read.
type Compress interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

const (
	NameNop    = "none"
	NameGZip   = "gzip"
	NameBrotli = "brotli"
	NameLZ4    = "lz4"
)

// FromName returns the codec registered under name.
func FromName(name string) (Compress, error) {
	switch name {
	case NameNop, "":
		return NewNop(), nil
	case NameGZip:
		return NewGZip(), nil
	case NameBrotli:
		return NewBrotli(), nil
	case NameLZ4:
		return NewLZ4(), nil
	}
	return nil, fmt.Errorf("unknown compression codec: %q", name)
}

// Name returns the registered name of a codec.
func Name(c Compress) string {
	switch c.(type) {
	case GZip:
		return NameGZip
	case Brotli:
		return NameBrotli
	case LZ4:
		return NameLZ4
	default:
		return NameNop
	}
}
