// Package audit keeps the trail of every outbound command: the attempt, the
// outcome and the frames that went onto the bus.
package audit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/command"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

type Event string

const (
	EventAttempt             Event = "command_attempt"
	EventValidationFailure   Event = "validation_failure"
	EventSuccess             Event = "command_success"
	EventTransmissionFailure Event = "transmission_failure"
)

// Record is one audit line.
type Record struct {
	Timestamp       time.Time      `json:"timestamp"`
	Event           Event          `json:"event"`
	CommandID       string         `json:"command_id,omitempty"`
	Source          string         `json:"source,omitempty"`
	EntityID        string         `json:"entity_id,omitempty"`
	CommandType     string         `json:"command_type,omitempty"`
	Action          string         `json:"action,omitempty"`
	Value           any            `json:"value,omitempty"`
	ErrorCode       string         `json:"error_code,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Field           string         `json:"field,omitempty"`
	CANFrames       []string       `json:"can_frames,omitempty"`
	FrameCount      int            `json:"frame_count,omitempty"`
	LatencyMS       *float64       `json:"latency_ms,omitempty"`
	FramesAttempted []string       `json:"can_frames_attempted,omitempty"`
	Message         string         `json:"message,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// Sink persists records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

type Stats struct {
	TotalCommands        uint64  `json:"total_commands"`
	SuccessfulCommands   uint64  `json:"successful_commands"`
	FailedCommands       uint64  `json:"failed_commands"`
	ValidationFailures   uint64  `json:"validation_failures"`
	TransmissionFailures uint64  `json:"transmission_failures"`
	AvgLatencyMS         float64 `json:"avg_latency_ms"`
	SuccessRate          float64 `json:"success_rate"`
}

// Logger fans records out to every sink and keeps running counts. A sink
// that fails is logged and does not stop the others.
type Logger struct {
	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	stats        Stats
	totalLatency float64
}

func New(logger *zap.Logger, sinks ...Sink) *Logger {
	return &Logger{sinks: sinks, logger: logger, now: time.Now}
}

func (l *Logger) base(event Event, req *command.Request) Record {
	return Record{
		Timestamp:   l.now(),
		Event:       event,
		CommandID:   req.ID,
		Source:      string(req.Source),
		EntityID:    req.Entity(),
		CommandType: req.TypeName(),
		Action:      req.ActionName(),
		Value:       req.Value,
	}
}

func (l *Logger) CommandAttempt(ctx context.Context, req *command.Request) {
	l.mu.Lock()
	l.stats.TotalCommands++
	l.mu.Unlock()

	l.write(ctx, l.base(EventAttempt, req))
}

func (l *Logger) ValidationFailure(ctx context.Context, req *command.Request, verr *types.ValidationError) {
	l.mu.Lock()
	l.stats.ValidationFailures++
	l.stats.FailedCommands++
	l.mu.Unlock()

	rec := l.base(EventValidationFailure, req)
	rec.ErrorCode = verr.Code
	rec.ErrorMessage = verr.Message
	rec.Field = verr.Field
	l.write(ctx, rec)
}

func (l *Logger) CommandSuccess(ctx context.Context, req *command.Request, frames []types.CanFrame, latency time.Duration) {
	ms := math.Round(float64(latency.Microseconds())/10) / 100

	l.mu.Lock()
	l.stats.SuccessfulCommands++
	l.totalLatency += ms
	l.mu.Unlock()

	rec := l.base(EventSuccess, req)
	rec.CANFrames = types.FormatFrames(frames)
	rec.FrameCount = len(frames)
	rec.LatencyMS = &ms
	l.write(ctx, rec)
}

// TransmissionFailure records a command that passed validation but never
// made it onto the bus. Encoding errors land here too, with code E100 and
// no attempted frames.
func (l *Logger) TransmissionFailure(ctx context.Context, req *command.Request, code string, err error, attempted []types.CanFrame) {
	l.mu.Lock()
	l.stats.TransmissionFailures++
	l.stats.FailedCommands++
	l.mu.Unlock()

	rec := l.base(EventTransmissionFailure, req)
	rec.ErrorCode = code
	rec.ErrorMessage = err.Error()
	rec.FramesAttempted = types.FormatFrames(attempted)
	l.write(ctx, rec)
}

// SystemEvent records startup, shutdown and similar gateway events.
func (l *Logger) SystemEvent(ctx context.Context, event, message string, details map[string]any) {
	l.write(ctx, Record{
		Timestamp: l.now(),
		Event:     Event(event),
		Message:   message,
		Details:   details,
	})
}

func (l *Logger) write(ctx context.Context, rec Record) {
	for _, s := range l.sinks {
		if err := s.Write(ctx, rec); err != nil {
			l.logger.Error("audit write failed",
				zap.String("event", string(rec.Event)),
				zap.String("command_id", rec.CommandID),
				zap.Error(err))
		}
	}
}

// Stats returns the counters with derived average latency and success
// rate (percent), both rounded to two places.
func (l *Logger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stats
	if s.SuccessfulCommands > 0 {
		s.AvgLatencyMS = round2(l.totalLatency / float64(s.SuccessfulCommands))
	}
	if s.TotalCommands > 0 {
		s.SuccessRate = round2(float64(s.SuccessfulCommands) / float64(s.TotalCommands) * 100)
	}
	return s
}

func (l *Logger) ResetStats() {
	l.mu.Lock()
	l.stats = Stats{}
	l.totalLatency = 0
	l.mu.Unlock()
}

func (l *Logger) Close() error {
	var errs []error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
