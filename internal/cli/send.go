package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/command"
	"github.com/KevinKickass/OpenRVCore/internal/pubsub"
)

func sendCmd(opts *rootOptions) *cobra.Command {
	var wait time.Duration

	c := &cobra.Command{
		Use:   "send <topic> <payload>",
		Short: "Publish a command to the broker",
		Long: `Publishes payload on a command topic, the same way a home-automation
client would. With --wait the gateway's acknowledgement for the entity is
printed.`,
		Example: `  rvctool send rv/switch/water_pump/set ON --wait 5s`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}

			ns := cfg.PubSub.Namespace
			topic, err := command.ParseTopic(ns, args[0])
			if err != nil {
				return err
			}

			cfg.PubSub.ClientID = fmt.Sprintf("%s-rvctool-%s", cfg.PubSub.ClientID, uuid.NewString()[:8])
			broker, err := pubsub.New(cfg.PubSub, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.PubSub.ConnectTimeout+wait)
			defer cancel()
			if err := broker.Connect(ctx); err != nil {
				return fmt.Errorf("connect %s: %w", cfg.PubSub.URL, err)
			}
			defer broker.Close()

			acks := make(chan pubsub.Message, 1)
			if wait > 0 {
				onAck := func(_ context.Context, msg pubsub.Message) {
					var ack struct {
						EntityID string `json:"entity_id"`
					}
					if json.Unmarshal(msg.Payload, &ack) != nil || ack.EntityID != topic.EntityID {
						return
					}
					select {
					case acks <- msg:
					default:
					}
				}
				for _, t := range []string{ns + "/command/status", ns + "/command/error"} {
					if err := broker.Subscribe(ctx, t, onAck); err != nil {
						return err
					}
				}
			}

			if err := broker.Publish(ctx, args[0], []byte(args[1]), false); err != nil {
				return err
			}
			logger.Debug("published", zap.String("topic", args[0]))
			fmt.Fprintf(cmd.OutOrStdout(), "published %s %s\n", args[0], args[1])

			if wait <= 0 {
				return nil
			}
			select {
			case msg := <-acks:
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", msg.Topic, msg.Payload)
				return nil
			case <-time.After(wait):
				return fmt.Errorf("no acknowledgement for %s within %s", topic.EntityID, wait)
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	c.Flags().DurationVar(&wait, "wait", 0, "wait this long for the gateway's acknowledgement")
	return c
}
