// Package gateway joins the CAN bus to the pub/sub broker: decoded frames
// flow out, validated commands flow in.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KevinKickass/OpenRVCore/internal/can"
	"github.com/KevinKickass/OpenRVCore/internal/command"
	"github.com/KevinKickass/OpenRVCore/internal/config"
	"github.com/KevinKickass/OpenRVCore/internal/decoder"
	"github.com/KevinKickass/OpenRVCore/internal/discovery"
	"github.com/KevinKickass/OpenRVCore/internal/encoder"
	"github.com/KevinKickass/OpenRVCore/internal/entities"
	"github.com/KevinKickass/OpenRVCore/internal/metrics"
	"github.com/KevinKickass/OpenRVCore/internal/pubsub"
	"github.com/KevinKickass/OpenRVCore/internal/types"
	"github.com/KevinKickass/OpenRVCore/internal/validator"
)

const (
	commandQueueSize = 64
	shutdownTimeout  = 5 * time.Second
)

// Deps are the collaborators a Gateway is built from. Metrics may be nil.
type Deps struct {
	Config    *config.Config
	Catalog   types.Catalog
	Directory *entities.Directory
	Broker    pubsub.Broker
	Dialer    can.Dialer
	Audit     Auditor
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Gateway struct {
	cfg       *config.Config
	logger    *zap.Logger
	catalog   types.Catalog
	directory *entities.Directory
	broker    pubsub.Broker
	metrics   *metrics.Metrics

	decoder     *decoder.Decoder
	validator   *validator.Validator
	manager     *can.Manager
	transmitter *can.Transmitter
	inbound     *Inbound
	commands    *CommandHandler
	discovery   *discovery.Publisher

	source command.Source
	queue  chan pubsub.Message
	runCtx context.Context
	ready  chan struct{}
}

func New(d Deps) (*Gateway, error) {
	if d.Config == nil || d.Directory == nil || d.Broker == nil || d.Dialer == nil || d.Audit == nil {
		return nil, errors.New("gateway: config, directory, broker, dialer and audit are required")
	}
	cfg := d.Config

	codec, err := pubsub.NewFrameCodec(cfg.PubSub.Encoding)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:       cfg,
		logger:    d.Logger,
		catalog:   d.Catalog,
		directory: d.Directory,
		broker:    d.Broker,
		metrics:   d.Metrics,
		decoder:   decoder.New(d.Catalog, decoder.Options{ParameterizedNames: cfg.Decoder.ParameterizedNames}),
		validator: validator.New(cfg.Validator, d.Directory),
		source:    command.SourceMQTT,
		queue:     make(chan pubsub.Message, commandQueueSize),
		runCtx:    context.Background(),
		ready:     make(chan struct{}),
	}
	if cfg.PubSub.Backend == pubsub.BackendNATS {
		g.source = command.SourceNATS
	}

	if cfg.Discovery.Enabled {
		g.discovery, err = discovery.New(d.Directory, d.Broker, cfg.Discovery, cfg.PubSub.Retain, d.Logger)
		if err != nil {
			return nil, err
		}
	}

	g.inbound = NewInbound(InboundConfig{
		Decoder:     g.decoder,
		Broker:      d.Broker,
		Codec:       codec,
		OutputTopic: cfg.PubSub.OutputTopic,
		Retain:      cfg.PubSub.Retain,
		Discovery:   g.discovery,
		Climate:     d.Directory.Climate(),
		Metrics:     d.Metrics,
		Logger:      d.Logger,
		DebugFrames: cfg.Log.DebugFrames,
	})

	g.manager = can.NewManager(d.Dialer, cfg.CAN,
		func(f can.Frame) { g.inbound.HandleFrame(g.runCtx, f) },
		d.Logger,
		can.WithStateHook(d.Metrics.TransportState))

	var txOpts []can.TxOption
	if d.Metrics != nil {
		txOpts = append(txOpts, can.WithObserver(d.Metrics))
	}
	g.transmitter = can.NewTransmitter(g.manager, cfg.CAN.TxRetries, cfg.CAN.TxRetryDelay, d.Logger, txOpts...)

	g.commands = NewCommandHandler(HandlerConfig{
		Validator:   g.validator,
		Targets:     d.Directory,
		Encoder:     encoder.New(cfg.Encoder),
		Transmitter: g.transmitter,
		Audit:       d.Audit,
		Broker:      d.Broker,
		Namespace:   cfg.PubSub.Namespace,
		Metrics:     d.Metrics,
		Logger:      d.Logger,
	})

	return g, nil
}

// Run blocks until ctx is done. The CAN receiver, the broker session and
// the command worker run side by side; on return the gateway has marked
// itself offline and closed the broker.
func (g *Gateway) Run(ctx context.Context) error {
	g.runCtx = ctx
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error { return g.manager.Run(gctx) })
	group.Go(func() error { return g.runPubSub(gctx) })
	group.Go(func() error { return g.commandWorker(gctx) })

	err := group.Wait()
	g.shutdown()
	return err
}

func (g *Gateway) runPubSub(ctx context.Context) error {
	if err := g.connect(ctx); err != nil {
		return nil
	}
	g.metrics.PubSubState(true)

	if g.discovery != nil {
		if err := g.discovery.PublishDiscovery(ctx); err != nil {
			g.logger.Error("discovery publish failed", zap.Error(err))
		}
	}

	for _, pattern := range g.commands.SubscriptionPatterns() {
		if err := g.broker.Subscribe(ctx, pattern, g.enqueue); err != nil {
			return fmt.Errorf("subscribe %s: %w", pattern, err)
		}
	}
	g.logger.Info("listening for commands", zap.Strings("topics", g.commands.SubscriptionPatterns()))
	close(g.ready)
	return nil
}

// connect retries until the broker accepts the session or ctx ends.
func (g *Gateway) connect(ctx context.Context) error {
	delay := g.cfg.CAN.ReconnectDelay
	if delay <= 0 || delay > 10*time.Second {
		delay = 5 * time.Second
	}
	for {
		err := g.broker.Connect(ctx)
		if err == nil {
			g.logger.Info("pub/sub connected",
				zap.String("backend", g.cfg.PubSub.Backend),
				zap.String("url", g.cfg.PubSub.URL))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.logger.Error("pub/sub connect failed", zap.Duration("retry_in", delay), zap.Error(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (g *Gateway) enqueue(ctx context.Context, msg pubsub.Message) {
	select {
	case g.queue <- msg:
	case <-ctx.Done():
	}
}

// commandWorker handles broker commands one at a time, in arrival order.
func (g *Gateway) commandWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-g.queue:
			g.commands.HandleMessage(ctx, g.source, msg)
		}
	}
}

func (g *Gateway) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if g.discovery != nil && g.broker.Connected() {
		if err := g.discovery.PublishOffline(ctx); err != nil {
			g.logger.Warn("offline publish failed", zap.Error(err))
		}
	}
	if err := g.broker.Close(); err != nil {
		g.logger.Warn("broker close failed", zap.Error(err))
	}
	g.metrics.PubSubState(false)
	g.logger.Info("gateway stopped")
}

// Ready is closed once the broker session is up and command topics are
// subscribed.
func (g *Gateway) Ready() <-chan struct{} { return g.ready }

// Execute runs a command submitted over REST or gRPC.
func (g *Gateway) Execute(ctx context.Context, source command.Source, body []byte) Result {
	return g.commands.HandleJSON(ctx, source, body)
}

func (g *Gateway) Commands() *CommandHandler        { return g.commands }
func (g *Gateway) Inbound() *Inbound                { return g.inbound }
func (g *Gateway) Directory() *entities.Directory   { return g.directory }
func (g *Gateway) Catalog() types.Catalog           { return g.catalog }
func (g *Gateway) Decoder() *decoder.Decoder        { return g.decoder }
func (g *Gateway) Discovery() *discovery.Publisher  { return g.discovery }
func (g *Gateway) TransportConnected() bool         { return g.manager.Connected() }
func (g *Gateway) BrokerConnected() bool            { return g.broker.Connected() }
func (g *Gateway) TxStats() can.TxStats             { return g.transmitter.Stats() }
func (g *Gateway) ValidatorStats() validator.Stats  { return g.validator.Stats() }
func (g *Gateway) OnFrame(l FrameListener)          { g.inbound.OnFrame(l) }
func (g *Gateway) OnCommandResult(l ResultListener) { g.commands.OnResult(l) }
