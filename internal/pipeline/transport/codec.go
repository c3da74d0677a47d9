// Package transport provides a gRPC front end for C3's event pipeline, for
// deployments where the producer (gateway) and the partition consumer
// (writer) run as separate processes. It is deliberately schema-light: a
// hand-rolled JSON encoding.Codec stands in for protoc-generated message
// types, following grpc-go's documented codec extension point
// (encoding.Codec / grpc.ForceServerCodec / grpc.ForceCodec) rather than
// checked-in generated stubs.
package transport

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// jsonCodec implements google.golang.org/grpc/encoding.Codec. Any message
// that happens to be a proto.Message is marshaled with protojson (so a
// future switch to generated types is a drop-in change); everything else —
// including every type actually used in this package today — goes through
// plain encoding/json.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		b, err := protojson.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("transport: protojson marshal: %w", err)
		}
		return b, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("transport: json marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if m, ok := v.(proto.Message); ok {
		if err := protojson.Unmarshal(data, m); err != nil {
			return fmt.Errorf("transport: protojson unmarshal: %w", err)
		}
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("transport: json unmarshal: %w", err)
	}
	return nil
}

// Codec is the shared codec instance registered by both server and client.
var Codec jsonCodec
