package serializers

import (
	"fmt"

	"market-streamer/src/interfaces"
)

// -----------------------------------------------------------------------------

// New returns the serializer for an encoding name (json, gob, proto)
func New(encoding string) (interfaces.ISerializer, error) {
	switch encoding {
	case "", "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewBinSerializer(), nil
	case "proto":
		return NewProtoSerializer(), nil
	default:
		return nil, fmt.Errorf("unsupported encoding '%s'", encoding)
	}
}
