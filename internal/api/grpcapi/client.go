package grpcapi

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the Gateway service over an existing connection.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

func (c *Client) withToken(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

func (c *Client) SendCommand(ctx context.Context, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.withToken(ctx), SendCommandMethod, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// StreamFrames calls fn for every frame until ctx ends, the server closes
// the stream or fn returns an error.
func (c *Client) StreamFrames(ctx context.Context, names []string, fn func(map[string]any) error) error {
	desc := &ServiceDesc.Streams[0]
	stream, err := c.cc.NewStream(c.withToken(ctx), desc, StreamFramesMethod)
	if err != nil {
		return err
	}

	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	req, err := structpb.NewStruct(map[string]any{"names": list})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := fn(msg.AsMap()); err != nil {
			return err
		}
	}
}
