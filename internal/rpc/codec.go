// Package rpc wires the two RPC surfaces spec.md §6 describes — Manager↔CLI
// and Manager↔Remote — onto google.golang.org/grpc. Neither surface has a
// .proto schema or generated stub anywhere in scope (the wire-format code
// generator is explicitly out of scope per spec.md §1), so messages are
// plain Go structs carried by a hand-written JSON codec and dispatched
// through hand-declared grpc.ServiceDesc values instead of generated ones.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec by marshaling
// whatever struct pointer grpc hands it through encoding/json, the same way
// a generated protobuf codec would marshal a generated message type — but
// without requiring one to exist.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }
