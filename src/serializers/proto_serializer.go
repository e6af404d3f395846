package serializers

import (
	"encoding/json"
	"fmt"

	"market-streamer/src/interfaces"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// -----------------------------------------------------------------------------

// ProtoSerializer encodes objects as a google.protobuf.Struct. Any value that
// round-trips through JSON can be carried, which lets consumers in other
// languages decode it with the stock well-known types.
type ProtoSerializer struct{}

// -----------------------------------------------------------------------------

// NewProtoSerializer creates a new instance of the protobuf serializer.
func NewProtoSerializer() interfaces.ISerializer {
	return &ProtoSerializer{}
}

// -----------------------------------------------------------------------------

// Marshal converts the object to protobuf wire bytes.
func (p *ProtoSerializer) Marshal(obj any) ([]byte, error) {
	fields, err := toMap(obj)
	if err != nil {
		return nil, fmt.Errorf("proto marshal error: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("proto marshal error: %w", err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("proto marshal error: %w", err)
	}
	return data, nil
}

// -----------------------------------------------------------------------------

// Unmarshal decodes protobuf wire bytes into the target object.
func (p *ProtoSerializer) Unmarshal(data []byte, obj any) error {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("proto unmarshal error: %w", err)
	}
	raw, err := json.Marshal(st.AsMap())
	if err != nil {
		return fmt.Errorf("proto unmarshal error: %w", err)
	}
	if err := json.Unmarshal(raw, obj); err != nil {
		return fmt.Errorf("proto unmarshal error: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// ContentType returns the MIME type of the encoding
func (p *ProtoSerializer) ContentType() string {
	return "application/x-protobuf"
}

// -----------------------------------------------------------------------------

func toMap(obj any) (map[string]any, error) {
	if m, ok := obj.(map[string]any); ok {
		return m, nil
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("object is not a JSON object: %w", err)
	}
	return m, nil
}
