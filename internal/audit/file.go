package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileSink appends records as JSON lines through a dedicated zap core.
type FileSink struct {
	logger *zap.Logger
	file   *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	encCfg := zapcore.EncoderConfig{
		LevelKey:       "level",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.DebugLevel)

	return &FileSink{logger: zap.New(core), file: f}, nil
}

func (s *FileSink) Write(_ context.Context, rec Record) error {
	fields := []zap.Field{zap.Time("timestamp", rec.Timestamp)}
	add := func(key, value string) {
		if value != "" {
			fields = append(fields, zap.String(key, value))
		}
	}
	add("command_id", rec.CommandID)
	add("source", rec.Source)
	add("entity_id", rec.EntityID)
	add("command_type", rec.CommandType)
	add("action", rec.Action)
	if rec.Value != nil {
		fields = append(fields, zap.Any("value", rec.Value))
	}
	add("error_code", rec.ErrorCode)
	add("error_message", rec.ErrorMessage)
	add("field", rec.Field)
	if len(rec.CANFrames) > 0 {
		fields = append(fields, zap.Strings("can_frames", rec.CANFrames), zap.Int("frame_count", rec.FrameCount))
	}
	if rec.LatencyMS != nil {
		fields = append(fields, zap.Float64("latency_ms", *rec.LatencyMS))
	}
	if rec.FramesAttempted != nil {
		fields = append(fields, zap.Strings("can_frames_attempted", rec.FramesAttempted))
	}
	add("message", rec.Message)
	if len(rec.Details) > 0 {
		fields = append(fields, zap.Any("details", rec.Details))
	}

	switch rec.Event {
	case EventValidationFailure:
		s.logger.Warn(string(rec.Event), fields...)
	case EventTransmissionFailure:
		s.logger.Error(string(rec.Event), fields...)
	default:
		s.logger.Info(string(rec.Event), fields...)
	}
	return nil
}

func (s *FileSink) Close() error {
	_ = s.logger.Sync()
	return s.file.Close()
}
