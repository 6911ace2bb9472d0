package cli

import (
	"encoding/json"
	"errors"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/KevinKickass/OpenRVCore/internal/api/grpcapi"
)

func watchCmd() *cobra.Command {
	var addr, token string
	var names []string

	c := &cobra.Command{
		Use:   "watch",
		Short: "Stream decoded frames from a running gateway over gRPC",
		Long:  "Prints one JSON object per decoded frame until interrupted. The token needs the read permission.",
		Example: `  rvctool watch --token $ORV_TOKEN --name DC_DIMMER_STATUS_3 --name TANK_STATUS`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv("ORV_TOKEN")
			}
			if token == "" {
				return errors.New("a token is required (--token or ORV_TOKEN)")
			}

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			err = grpcapi.NewClient(conn, token).StreamFrames(ctx, names, func(frame map[string]any) error {
				return enc.Encode(frame)
			})
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		},
	}

	c.Flags().StringVar(&addr, "addr", "localhost:50051", "gateway gRPC address")
	c.Flags().StringVar(&token, "token", "", "API token (default $ORV_TOKEN)")
	c.Flags().StringArrayVar(&names, "name", nil, "only frames with this message name (repeatable)")
	return c
}
