// Package transport wires protocol.ClientProtocol and protocol.ServerProtocol
// onto grpc without a protoc-generated stub: a custom JSON codec registered
// through grpc's content-subtype mechanism carries the already-defined
// protocol request/response structs directly, and a hand-built
// grpc.ServiceDesc dispatches the six client-facing RPCs plus the
// server-to-client event stream.
package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "raftsession-json"

// jsonCodec lets grpc carry plain Go structs without a .proto file. Every
// call in this package selects it explicitly via grpc.CallContentSubtype /
// the server's transport.ServiceDesc, so it never needs to be the process
// default.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
