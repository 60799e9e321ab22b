package grpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets this service exchange the same plain request/response
// structs messages.go defines over the wire as JSON instead of requiring a
// protoc-generated message set, while still running on top of
// google.golang.org/grpc's connection, auth, and streaming machinery.
// Registered globally under the codec name "json"; the server forces
// it with grpc.ForceServerCodec so no client-side negotiation is
// needed for this single-purpose control plane.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("grpc: json marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("grpc: json unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
