package pubsub

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/KevinKickass/OpenRVCore/internal/types"
)

const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// FrameCodec serializes decoded frames for publication.
type FrameCodec interface {
	Encode(frame *types.DecodedFrame) ([]byte, error)
	Name() string
}

func NewFrameCodec(encoding string) (FrameCodec, error) {
	switch encoding {
	case EncodingJSON, "":
		return jsonCodec{}, nil
	case EncodingCBOR:
		return newCBORCodec()
	}
	return nil, fmt.Errorf("pubsub: unknown encoding %q", encoding)
}

type jsonCodec struct{}

// Encode keeps the frame's field order.
func (jsonCodec) Encode(frame *types.DecodedFrame) ([]byte, error) {
	return json.Marshal(frame)
}

func (jsonCodec) Name() string { return EncodingJSON }

type cborCodec struct {
	mode cbor.EncMode
}

func newCBORCodec() (cborCodec, error) {
	opts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	mode, err := opts.EncMode()
	if err != nil {
		return cborCodec{}, fmt.Errorf("cbor encoder mode: %w", err)
	}
	return cborCodec{mode: mode}, nil
}

// Encode writes the frame as a canonical CBOR map.
func (c cborCodec) Encode(frame *types.DecodedFrame) ([]byte, error) {
	return c.mode.Marshal(frame.Map())
}

func (cborCodec) Name() string { return EncodingCBOR }
