package can

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/types"
)

const (
	DefaultTxRetries    = 3
	DefaultTxRetryDelay = 100 * time.Millisecond
)

// Sender is the part of a bus the transmitter writes to.
type Sender interface {
	Send(ctx context.Context, frame Frame) error
}

// TxObserver is notified about every send attempt.
type TxObserver interface {
	FrameSent()
	FrameFailed()
	Retried()
}

// TransmitError reports the frame that could not be sent and every frame
// attempted up to and including it.
type TransmitError struct {
	FrameIndex int
	Attempts   int
	Frames     []types.CanFrame
	Err        error
}

func (e *TransmitError) Error() string {
	return fmt.Sprintf("frame %d/%d failed after %d attempts: %v", e.FrameIndex+1, len(e.Frames), e.Attempts, e.Err)
}

func (e *TransmitError) Unwrap() error { return e.Err }

type TxStats struct {
	FramesSent   uint64    `json:"frames_sent"`
	FramesFailed uint64    `json:"frames_failed"`
	Retries      uint64    `json:"retries"`
	LastError    string    `json:"last_error,omitempty"`
	LastTxTime   time.Time `json:"last_tx_time,omitempty"`
}

// Transmitter sends frame sequences in order. Sequences never interleave.
type Transmitter struct {
	sender     Sender
	retries    int
	retryDelay time.Duration
	logger     *zap.Logger
	observer   TxObserver
	sleep      func(time.Duration)

	seqMu   sync.Mutex
	statsMu sync.Mutex
	stats   TxStats
}

type TxOption func(*Transmitter)

func WithObserver(o TxObserver) TxOption {
	return func(t *Transmitter) { t.observer = o }
}

// WithSleep replaces time.Sleep for retry backoff and inter-frame delays.
func WithSleep(sleep func(time.Duration)) TxOption {
	return func(t *Transmitter) { t.sleep = sleep }
}

func NewTransmitter(sender Sender, retries int, retryDelay time.Duration, logger *zap.Logger, opts ...TxOption) *Transmitter {
	if retries < 1 {
		retries = 1
	}
	t := &Transmitter{
		sender:     sender,
		retries:    retries,
		retryDelay: retryDelay,
		logger:     logger,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transmit sends frames in order, waiting each frame's delay before the
// next one. ctx is only checked before the first frame: once a sequence
// has started it runs to completion or to the first frame that exhausts
// its retries.
func (t *Transmitter) Transmit(ctx context.Context, frames []types.CanFrame) error {
	if len(frames) == 0 {
		return errors.New("no frames to send")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.seqMu.Lock()
	defer t.seqMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	for i, cf := range frames {
		attempts, err := t.sendWithRetry(ctx, FromCanFrame(cf))
		if err != nil {
			t.record(false, err)
			t.logger.Error("CAN transmit failed",
				zap.String("frame", cf.String()),
				zap.Int("index", i),
				zap.Int("attempts", attempts),
				zap.Error(err))
			return &TransmitError{
				FrameIndex: i,
				Attempts:   attempts,
				Frames:     append([]types.CanFrame(nil), frames[:i+1]...),
				Err:        err,
			}
		}
		t.record(true, nil)
		t.logger.Debug("CAN TX", zap.String("frame", cf.String()))

		if cf.Delay > 0 && i < len(frames)-1 {
			t.sleep(cf.Delay)
		}
	}

	t.logger.Debug("CAN sequence sent",
		zap.Int("frames", len(frames)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (t *Transmitter) sendWithRetry(ctx context.Context, f Frame) (int, error) {
	var err error
	for attempt := 1; attempt <= t.retries; attempt++ {
		if err = t.sender.Send(ctx, f); err == nil {
			return attempt, nil
		}
		if attempt < t.retries {
			t.statsMu.Lock()
			t.stats.Retries++
			t.statsMu.Unlock()
			if t.observer != nil {
				t.observer.Retried()
			}
			t.logger.Warn("CAN send failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", t.retries),
				zap.Error(err))
			t.sleep(t.retryDelay)
		}
	}
	return t.retries, err
}

func (t *Transmitter) record(ok bool, err error) {
	t.statsMu.Lock()
	if ok {
		t.stats.FramesSent++
		t.stats.LastTxTime = time.Now()
	} else {
		t.stats.FramesFailed++
		t.stats.LastError = err.Error()
	}
	t.statsMu.Unlock()

	if t.observer == nil {
		return
	}
	if ok {
		t.observer.FrameSent()
	} else {
		t.observer.FrameFailed()
	}
}

func (t *Transmitter) Stats() TxStats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.stats
}
