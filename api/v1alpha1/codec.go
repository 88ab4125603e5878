package v1alpha1

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/mem"
)

// CodecName is the gRPC content-subtype used by the agent protocol.
const CodecName = "cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding: the same message always produces the
	// same bytes, which keeps captures comparable.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("v1alpha1: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("v1alpha1: CBOR decoder initialization failed: " + err.Error())
	}
	encoding.RegisterCodecV2(Codec{})
}

// Codec marshals agent messages as CBOR on the gRPC wire.
type Codec struct{}

var _ encoding.CodecV2 = Codec{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) (mem.BufferSlice, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling %T: %w", v, err)
	}
	return mem.BufferSlice{mem.SliceBuffer(b)}, nil
}

func (Codec) Unmarshal(data mem.BufferSlice, v any) error {
	if err := decMode.Unmarshal(data.Materialize(), v); err != nil {
		return fmt.Errorf("unmarshaling %T: %w", v, err)
	}
	return nil
}
