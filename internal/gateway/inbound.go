package gateway

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/can"
	"github.com/KevinKickass/OpenRVCore/internal/decoder"
	"github.com/KevinKickass/OpenRVCore/internal/discovery"
	"github.com/KevinKickass/OpenRVCore/internal/encoder"
	"github.com/KevinKickass/OpenRVCore/internal/entities"
	"github.com/KevinKickass/OpenRVCore/internal/metrics"
	"github.com/KevinKickass/OpenRVCore/internal/pubsub"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

const timeOfLastLayout = "2006-01-02 15:04:05"

// FrameListener receives every decoded frame after it has been published.
type FrameListener func(*types.DecodedFrame)

// Inbound decodes bus frames and publishes them.
type Inbound struct {
	decoder     *decoder.Decoder
	broker      pubsub.Broker
	codec       pubsub.FrameCodec
	outputTopic string
	retain      bool
	discovery   *discovery.Publisher
	climate     *entities.ClimateState
	latest      *LatestCache
	metrics     *metrics.Metrics
	logger      *zap.Logger
	debugFrames bool
	now         func() time.Time

	listeners []FrameListener
}

// InboundConfig wires an Inbound. Discovery, Climate and Metrics may be
// nil.
type InboundConfig struct {
	Decoder     *decoder.Decoder
	Broker      pubsub.Broker
	Codec       pubsub.FrameCodec
	OutputTopic string
	Retain      bool
	Discovery   *discovery.Publisher
	Climate     *entities.ClimateState
	Latest      *LatestCache
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	DebugFrames bool
}

func NewInbound(cfg InboundConfig) *Inbound {
	latest := cfg.Latest
	if latest == nil {
		latest = NewLatestCache()
	}
	return &Inbound{
		decoder:     cfg.Decoder,
		broker:      cfg.Broker,
		codec:       cfg.Codec,
		outputTopic: strings.TrimSuffix(cfg.OutputTopic, "/"),
		retain:      cfg.Retain,
		discovery:   cfg.Discovery,
		climate:     cfg.Climate,
		latest:      latest,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		debugFrames: cfg.DebugFrames,
		now:         time.Now,
	}
}

// OnFrame registers a listener. Not safe to call once frames are flowing.
func (in *Inbound) OnFrame(l FrameListener) {
	in.listeners = append(in.listeners, l)
}

func (in *Inbound) Latest() *LatestCache { return in.latest }

// Decode turns a bus frame into a DecodedFrame. Standard-id and remote
// frames are not RV-C and yield false.
func (in *Inbound) Decode(f can.Frame) (*types.DecodedFrame, bool) {
	if !f.Extended || f.RTR {
		return nil, false
	}
	h := encoder.ParseArbitrationID(f.ID)
	return in.decoder.DecodeBytes(h.DGN, f.Payload()), true
}

// HandleFrame runs the whole inbound path for one frame.
func (in *Inbound) HandleFrame(ctx context.Context, f can.Frame) {
	decoded, ok := in.Decode(f)
	if !ok {
		return
	}

	if in.debugFrames {
		in.logger.Debug("CAN RX",
			zap.String("frame", f.String()),
			zap.String("name", decoded.Name))
	}

	in.metrics.FrameDecoded(decoded.Name, decoded.Pending(), strings.HasPrefix(decoded.Name, "UNKNOWN-"))

	if err := in.publish(ctx, decoded); err != nil {
		in.logger.Debug("frame publish failed", zap.String("name", decoded.Name), zap.Error(err))
	}

	if in.climate != nil {
		in.climate.Observe(decoded)
	}
	if in.discovery != nil {
		if _, err := in.discovery.PublishState(ctx, decoded); err != nil {
			in.logger.Debug("state publish failed", zap.String("name", decoded.Name), zap.Error(err))
		}
	}

	in.latest.Put(decoded, in.now())
	for _, l := range in.listeners {
		l(decoded)
	}
}

// Topic is where a decoded frame is published.
func (in *Inbound) Topic(f *types.DecodedFrame) string {
	if inst, ok := f.Get(types.FieldInstance); ok {
		return fmt.Sprintf("%s/%s/%v", in.outputTopic, f.Name, inst)
	}
	return in.outputTopic + "/" + f.Name
}

func (in *Inbound) publish(ctx context.Context, f *types.DecodedFrame) error {
	payload, err := in.codec.Encode(f)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.Name, err)
	}
	if err := in.broker.Publish(ctx, in.Topic(f), payload, in.retain); err != nil {
		return err
	}
	stamp := in.now().Format(timeOfLastLayout)
	return in.broker.Publish(ctx, in.outputTopic+"/time_of_last", []byte(stamp), in.retain)
}

// FrameFromHex builds an extended frame from a DGN, source and payload, for
// tools that inject frames by hand.
func FrameFromHex(dgn uint32, source int, dataHex string) (can.Frame, error) {
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return can.Frame{}, fmt.Errorf("data: %w", err)
	}
	if len(data) > 8 {
		return can.Frame{}, fmt.Errorf("data: %d bytes, max 8", len(data))
	}
	id, err := encoder.BuildArbitrationID(encoder.DefaultPriority, dgn, source)
	if err != nil {
		return can.Frame{}, err
	}
	f := can.Frame{ID: id, Extended: true, Len: uint8(len(data))}
	copy(f.Data[:], data)
	return f, nil
}
