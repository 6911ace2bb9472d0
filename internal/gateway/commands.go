package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/can"
	"github.com/KevinKickass/OpenRVCore/internal/command"
	"github.com/KevinKickass/OpenRVCore/internal/encoder"
	"github.com/KevinKickass/OpenRVCore/internal/metrics"
	"github.com/KevinKickass/OpenRVCore/internal/pubsub"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type Validator interface {
	Validate(req *command.Request) (bool, *types.ValidationError)
}

type Encoder interface {
	Encode(cmd command.Command, t encoder.Target) ([]types.CanFrame, error)
}

type Transmitter interface {
	Transmit(ctx context.Context, frames []types.CanFrame) error
}

// Targets resolves an entity id to its bus addressing.
type Targets interface {
	Target(entityID string) (encoder.Target, error)
}

type Auditor interface {
	CommandAttempt(ctx context.Context, req *command.Request)
	ValidationFailure(ctx context.Context, req *command.Request, verr *types.ValidationError)
	CommandSuccess(ctx context.Context, req *command.Request, frames []types.CanFrame, latency time.Duration)
	TransmissionFailure(ctx context.Context, req *command.Request, code string, err error, attempted []types.CanFrame)
}

// Result is the outcome of one command, as acknowledged to the caller.
type Result struct {
	CommandID    string    `json:"command_id"`
	EntityID     string    `json:"entity_id"`
	CommandType  string    `json:"command_type"`
	Action       string    `json:"action,omitempty"`
	Value        any       `json:"value,omitempty"`
	Status       string    `json:"status"`
	LatencyMS    float64   `json:"latency_ms,omitempty"`
	FrameCount   int       `json:"frame_count,omitempty"`
	Frames       []string  `json:"can_frames,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Field        string    `json:"field,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (r Result) OK() bool { return r.Status == StatusSuccess }

type HandlerStats struct {
	TotalCommands        uint64  `json:"total_commands"`
	SuccessfulCommands   uint64  `json:"successful_commands"`
	ValidationFailures   uint64  `json:"validation_failures"`
	EncodingFailures     uint64  `json:"encoding_failures"`
	TransmissionFailures uint64  `json:"transmission_failures"`
	ParseFailures        uint64  `json:"parse_failures"`
	SuccessRate          float64 `json:"success_rate"`
}

// ResultListener is told about every finished command.
type ResultListener func(Result)

// CommandHandler runs a command through audit, validation, encoding and
// transmission, then acknowledges it.
type CommandHandler struct {
	validator   Validator
	targets     Targets
	encoder     Encoder
	transmitter Transmitter
	audit       Auditor
	broker      pubsub.Broker
	namespace   string
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time

	listeners []ResultListener

	mu    sync.Mutex
	stats HandlerStats
}

type HandlerConfig struct {
	Validator   Validator
	Targets     Targets
	Encoder     Encoder
	Transmitter Transmitter
	Audit       Auditor
	// Broker receives acks; nil disables them.
	Broker    pubsub.Broker
	Namespace string
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

func NewCommandHandler(cfg HandlerConfig) *CommandHandler {
	return &CommandHandler{
		validator:   cfg.Validator,
		targets:     cfg.Targets,
		encoder:     cfg.Encoder,
		transmitter: cfg.Transmitter,
		audit:       cfg.Audit,
		broker:      cfg.Broker,
		namespace:   cfg.Namespace,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// OnResult registers a listener. Not safe to call once commands flow.
func (h *CommandHandler) OnResult(l ResultListener) {
	h.listeners = append(h.listeners, l)
}

func (h *CommandHandler) StatusTopic() string { return h.namespace + "/command/status" }
func (h *CommandHandler) ErrorTopic() string  { return h.namespace + "/command/error" }

// SubscriptionPatterns are the command topics, with and without an action
// segment.
func (h *CommandHandler) SubscriptionPatterns() []string {
	return []string{h.namespace + "/+/+/set", h.namespace + "/+/+/+/set"}
}

// HandleMessage parses a pub/sub command and handles it. Unparseable
// topics and payloads are acknowledged with E102 and never audited.
func (h *CommandHandler) HandleMessage(ctx context.Context, source command.Source, msg pubsub.Message) Result {
	req, err := command.FromMessage(source, h.namespace, msg.Topic, msg.Payload)
	if err != nil {
		return h.reject(ctx, msg.Topic, err)
	}
	return h.Handle(ctx, req)
}

// HandleJSON parses a JSON command body, as sent to REST and gRPC.
func (h *CommandHandler) HandleJSON(ctx context.Context, source command.Source, body []byte) Result {
	req, err := command.DecodeJSON(source, body)
	if err != nil {
		return h.reject(ctx, "", err)
	}
	return h.Handle(ctx, req)
}

func (h *CommandHandler) reject(ctx context.Context, topic string, err error) Result {
	h.mu.Lock()
	h.stats.ParseFailures++
	h.mu.Unlock()

	h.logger.Warn("unparseable command", zap.String("topic", topic), zap.Error(err))
	res := Result{
		CommandID:    uuid.NewString(),
		EntityID:     "unknown",
		Status:       StatusError,
		ErrorCode:    types.CodeUnparseableRequest,
		ErrorMessage: err.Error(),
		Timestamp:    h.now(),
	}
	h.finish(ctx, res)
	return res
}

// Handle runs the full command sequence for req.
func (h *CommandHandler) Handle(ctx context.Context, req *command.Request) Result {
	start := h.now()

	h.mu.Lock()
	h.stats.TotalCommands++
	h.mu.Unlock()

	h.audit.CommandAttempt(ctx, req)

	if ok, verr := h.validator.Validate(req); !ok {
		h.count(func(s *HandlerStats) { s.ValidationFailures++ })
		h.audit.ValidationFailure(ctx, req, verr)
		h.metrics.ValidationFailed(verr.Code)
		h.metrics.CommandHandled(req.TypeName(), metrics.OutcomeValidation, 0)
		h.logger.Info("command rejected",
			zap.String("command_id", req.ID),
			zap.String("entity_id", req.Entity()),
			zap.String("code", verr.Code),
			zap.String("reason", verr.Message))
		return h.fail(ctx, req, verr.Code, verr.Message, verr.Field)
	}

	frames, err := h.encode(req)
	if err != nil {
		h.count(func(s *HandlerStats) { s.EncodingFailures++ })
		h.audit.TransmissionFailure(ctx, req, types.CodeEncodingFailed, err, nil)
		h.metrics.CommandHandled(req.TypeName(), metrics.OutcomeEncoding, 0)
		h.logger.Error("command encoding failed",
			zap.String("command_id", req.ID),
			zap.String("entity_id", req.Entity()),
			zap.Error(err))
		return h.fail(ctx, req, types.CodeEncodingFailed, fmt.Sprintf("Encoding error: %v", err), "")
	}

	if err := h.transmitter.Transmit(ctx, frames); err != nil {
		var attempted []types.CanFrame
		var txErr *can.TransmitError
		if errors.As(err, &txErr) {
			attempted = txErr.Frames
		}
		h.count(func(s *HandlerStats) { s.TransmissionFailures++ })
		h.audit.TransmissionFailure(ctx, req, types.CodeTransmissionFailed, err, attempted)
		h.metrics.CommandHandled(req.TypeName(), metrics.OutcomeTransmission, 0)
		return h.fail(ctx, req, types.CodeTransmissionFailed, err.Error(), "")
	}

	latency := h.now().Sub(start)
	h.count(func(s *HandlerStats) { s.SuccessfulCommands++ })
	h.audit.CommandSuccess(ctx, req, frames, latency)
	h.metrics.CommandHandled(req.TypeName(), metrics.OutcomeSuccess, latency)

	res := h.result(req, StatusSuccess)
	res.LatencyMS = math.Round(float64(latency.Microseconds())/10) / 100
	res.FrameCount = len(frames)
	res.Frames = types.FormatFrames(frames)

	h.logger.Info("command sent",
		zap.String("command_id", req.ID),
		zap.String("entity_id", req.Entity()),
		zap.Int("frames", len(frames)),
		zap.Float64("latency_ms", res.LatencyMS))
	h.finish(ctx, res)
	return res
}

func (h *CommandHandler) encode(req *command.Request) ([]types.CanFrame, error) {
	target, err := h.targets.Target(req.Entity())
	if err != nil {
		return nil, err
	}
	cmd, err := command.FromRequest(req)
	if err != nil {
		return nil, err
	}
	frames, err := h.encoder.Encode(cmd, target)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, errors.New("no frames produced")
	}
	return frames, nil
}

func (h *CommandHandler) result(req *command.Request, status string) Result {
	return Result{
		CommandID:   req.ID,
		EntityID:    req.Entity(),
		CommandType: req.TypeName(),
		Action:      req.ActionName(),
		Value:       req.Value,
		Status:      status,
		Timestamp:   h.now(),
	}
}

func (h *CommandHandler) fail(ctx context.Context, req *command.Request, code, message, field string) Result {
	res := h.result(req, StatusError)
	res.ErrorCode = code
	res.ErrorMessage = message
	res.Field = field
	h.finish(ctx, res)
	return res
}

func (h *CommandHandler) finish(ctx context.Context, res Result) {
	h.ack(ctx, res)
	for _, l := range h.listeners {
		l(res)
	}
}

type statusAck struct {
	CommandID   string  `json:"command_id"`
	EntityID    string  `json:"entity_id"`
	CommandType string  `json:"command_type"`
	Action      string  `json:"action"`
	Value       any     `json:"value"`
	Status      string  `json:"status"`
	LatencyMS   float64 `json:"latency_ms"`
	FrameCount  int     `json:"frame_count"`
	Timestamp   string  `json:"timestamp"`
}

type errorAck struct {
	CommandID    string `json:"command_id"`
	EntityID     string `json:"entity_id"`
	CommandType  string `json:"command_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Field        string `json:"field,omitempty"`
	Timestamp    string `json:"timestamp"`
}

func (h *CommandHandler) ack(ctx context.Context, res Result) {
	if h.broker == nil {
		return
	}

	ts := res.Timestamp.Format(time.RFC3339Nano)
	var topic string
	var body any
	if res.OK() {
		topic = h.StatusTopic()
		body = statusAck{
			CommandID:   res.CommandID,
			EntityID:    res.EntityID,
			CommandType: res.CommandType,
			Action:      res.Action,
			Value:       res.Value,
			Status:      res.Status,
			LatencyMS:   res.LatencyMS,
			FrameCount:  res.FrameCount,
			Timestamp:   ts,
		}
	} else {
		topic = h.ErrorTopic()
		body = errorAck{
			CommandID:    res.CommandID,
			EntityID:     res.EntityID,
			CommandType:  res.CommandType,
			ErrorCode:    res.ErrorCode,
			ErrorMessage: res.ErrorMessage,
			Field:        res.Field,
			Timestamp:    ts,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("ack marshal failed", zap.Error(err))
		return
	}
	if err := h.broker.Publish(ctx, topic, payload, false); err != nil {
		h.logger.Warn("ack publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (h *CommandHandler) count(fn func(*HandlerStats)) {
	h.mu.Lock()
	fn(&h.stats)
	h.mu.Unlock()
}

// Stats returns counters and the success rate in percent.
func (h *CommandHandler) Stats() HandlerStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	if s.TotalCommands > 0 {
		s.SuccessRate = math.Round(float64(s.SuccessfulCommands)/float64(s.TotalCommands)*10000) / 100
	}
	return s
}

func (h *CommandHandler) ResetStats() {
	h.mu.Lock()
	h.stats = HandlerStats{}
	h.mu.Unlock()
}
