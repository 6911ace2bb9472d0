package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KevinKickass/OpenRVCore/internal/audit"
	"github.com/KevinKickass/OpenRVCore/internal/command"
	"github.com/KevinKickass/OpenRVCore/internal/encoder"
	"github.com/KevinKickass/OpenRVCore/internal/entities"
	"github.com/KevinKickass/OpenRVCore/internal/gateway"
	"github.com/KevinKickass/OpenRVCore/internal/pubsub"
	"github.com/KevinKickass/OpenRVCore/internal/types"
	"github.com/KevinKickass/OpenRVCore/internal/validator"
)

// dryRun accepts frames without a bus.
type dryRun struct{}

func (dryRun) Transmit(context.Context, []types.CanFrame) error { return nil }

func encodeCmd(opts *rootOptions) *cobra.Command {
	var mapping string

	c := &cobra.Command{
		Use:   "encode <topic> <payload>",
		Short: "Validate and encode a command without transmitting it",
		Example: `  rvctool encode rv/light/light_ceiling/brightness/set 40
  rvctool encode rv/climate/front_ac/temperature/set 72 --mapping ./mappings/default.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}

			path := cfg.Entities.MappingFile
			if mapping != "" {
				path = mapping
			}
			dir, err := entities.LoadDirectory(path)
			if err != nil {
				return err
			}

			vcfg := cfg.Validator
			vcfg.RateLimit.Enabled = false

			handler := gateway.NewCommandHandler(gateway.HandlerConfig{
				Validator:   validator.New(vcfg, dir),
				Targets:     dir,
				Encoder:     encoder.New(cfg.Encoder),
				Transmitter: dryRun{},
				Audit:       audit.New(logger),
				Namespace:   cfg.PubSub.Namespace,
				Logger:      logger,
			})

			res := handler.HandleMessage(cmd.Context(), command.SourceCLI, pubsub.Message{
				Topic:   args[0],
				Payload: []byte(args[1]),
			})
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("%s: %s", res.ErrorCode, res.ErrorMessage)
			}
			return nil
		},
	}

	c.Flags().StringVar(&mapping, "mapping", "", "entity mapping file (default: entities.mapping_file from config)")
	return c
}
