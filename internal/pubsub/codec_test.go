package pubsub

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevinKickass/OpenRVCore/internal/types"
)

func sampleFrame() *types.DecodedFrame {
	f := types.NewDecodedFrame("1FEDA", "01FFC8FC00FF05FF", "DC_DIMMER_STATUS_3")
	f.Set("instance", int64(1))
	f.Set("operating status (brightness)", 100.0)
	return f
}

func TestJSONCodec(t *testing.T) {
	c, err := NewFrameCodec("")
	require.NoError(t, err)
	assert.Equal(t, EncodingJSON, c.Name())

	b, err := c.Encode(sampleFrame())
	require.NoError(t, err)
	assert.Equal(t, `{"dgn":"1FEDA","data":"01FFC8FC00FF05FF","name":"DC_DIMMER_STATUS_3","instance":1,"operating status (brightness)":100}`, string(b))
}

func TestCBORCodec(t *testing.T) {
	c, err := NewFrameCodec(EncodingCBOR)
	require.NoError(t, err)
	assert.Equal(t, EncodingCBOR, c.Name())

	b, err := c.Encode(sampleFrame())
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, cbor.Unmarshal(b, &out))
	assert.Equal(t, "1FEDA", out["dgn"])
	assert.Equal(t, "DC_DIMMER_STATUS_3", out["name"])
	assert.EqualValues(t, 1, out["instance"])
	assert.EqualValues(t, 100.0, out["operating status (brightness)"])

	_, err = NewFrameCodec("xml")
	assert.Error(t, err)
}
