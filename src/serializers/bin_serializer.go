package serializers

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"market-streamer/src/interfaces"
)

// -----------------------------------------------------------------------------

// BinSerializer encodes objects with encoding/gob. Buffers are pooled
// between calls; the returned slice is always a fresh copy.
type BinSerializer struct {
	pool sync.Pool
}

// -----------------------------------------------------------------------------

// NewBinSerializer creates a new instance of the Gob serializer.
func NewBinSerializer() interfaces.ISerializer {
	return &BinSerializer{
		pool: sync.Pool{New: func() any { return new(bytes.Buffer) }},
	}
}

// -----------------------------------------------------------------------------

// Marshal converts the object into a gob byte array.
func (g *BinSerializer) Marshal(obj interface{}) ([]byte, error) {
	buf := g.pool.Get().(*bytes.Buffer)
	buf.Reset()
	defer g.pool.Put(buf)

	if err := gob.NewEncoder(buf).Encode(obj); err != nil {
		return nil, fmt.Errorf("gob marshal error: %w", err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// -----------------------------------------------------------------------------

// Unmarshal converts a Gob byte array back into the target object.
func (g *BinSerializer) Unmarshal(data []byte, obj interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(obj); err != nil {
		return fmt.Errorf("gob unmarshal error: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// ContentType returns the MIME type of the encoding
func (g *BinSerializer) ContentType() string {
	return "application/x-gob"
}
