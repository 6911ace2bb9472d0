package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/KevinKickass/OpenRVCore/internal/command"
	"github.com/KevinKickass/OpenRVCore/internal/gateway"
)

// Commander runs a JSON command request. *gateway.Gateway implements it.
type Commander interface {
	Execute(ctx context.Context, source command.Source, body []byte) gateway.Result
}

type GatewayService struct {
	commands Commander
	streamer *FrameStreamer
	logger   *zap.Logger
}

var _ GatewayServer = (*GatewayService)(nil)

func NewGatewayService(commands Commander, streamer *FrameStreamer, logger *zap.Logger) *GatewayService {
	return &GatewayService{
		commands: commands,
		streamer: streamer,
		logger:   logger,
	}
}

// SendCommand takes the same fields as the REST command body. The reply is
// the command result; rejected commands are results too, not RPC errors.
func (s *GatewayService) SendCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	body, err := protojson.Marshal(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}

	result := s.commands.Execute(ctx, command.SourceGRPC, body)
	out, err := toStruct(result)
	if err != nil {
		s.logger.Error("Failed to encode command result", zap.String("command_id", result.CommandID), zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to encode result")
	}
	return out, nil
}

// StreamFrames sends every decoded frame until the client goes away. An
// optional "names" list in the request narrows the stream.
func (s *GatewayService) StreamFrames(req *structpb.Struct, stream FrameStream) error {
	var names []string
	if v, ok := req.GetFields()["names"]; ok {
		for _, item := range v.GetListValue().GetValues() {
			if n := item.GetStringValue(); n != "" {
				names = append(names, n)
			}
		}
	}

	ch := s.streamer.Subscribe(names)
	defer s.streamer.Unsubscribe(ch)
	s.logger.Info("gRPC frame stream opened", zap.Strings("names", names))

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := structpb.NewStruct(frame.Map())
			if err != nil {
				s.logger.Warn("Skipping frame", zap.String("dgn", frame.DGN), zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}

		case <-stream.Context().Done():
			s.logger.Info("gRPC frame stream closed")
			return nil
		}
	}
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("not an object: %w", err)
	}
	return structpb.NewStruct(m)
}
