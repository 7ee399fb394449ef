package ledgerrpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "sentinel-canonical"

// Codec implements grpc/encoding.Codec over this module's canonical binary
// format, the same format every checkpoint and registry record is hashed
// and signed with. Every request/response type in this package implements
// message (MarshalBinary/UnmarshalBinary) rather than relying on
// reflection or protobuf code generation.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(message)
	if !ok {
		return nil, fmt.Errorf("ledgerrpc codec: %T does not implement message", v)
	}
	return m.MarshalBinary()
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(message)
	if !ok {
		return fmt.Errorf("ledgerrpc codec: %T does not implement message", v)
	}
	return m.UnmarshalBinary(data)
}

func (Codec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
