// Package can carries RV-C frames to and from the physical bus: SLCAN over
// TCP, Linux SocketCAN, and an in-memory loopback for tests.
package can

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenRVCore/internal/types"
)

var (
	ErrClosed       = errors.New("can: closed")
	ErrNotConnected = errors.New("can: not connected")
	ErrInvalidID    = errors.New("can: invalid identifier")
	ErrInvalidLen   = errors.New("can: invalid data length")
)

const (
	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF
)

// Frame is a classical CAN 2.0 frame.
type Frame struct {
	ID       uint32
	Extended bool
	RTR      bool
	Len      uint8
	Data     [8]byte
}

func (f Frame) Validate() error {
	if f.Len > 8 {
		return ErrInvalidLen
	}
	if (f.Extended && f.ID > maxExtID) || (!f.Extended && f.ID > maxStdID) {
		return ErrInvalidID
	}
	return nil
}

// Payload returns the used data bytes.
func (f Frame) Payload() []byte {
	return f.Data[:min(int(f.Len), 8)]
}

func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X#", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X#", f.ID)
	}
	for _, d := range f.Payload() {
		fmt.Fprintf(&b, "%02X", d)
	}
	return b.String()
}

// FromCanFrame wraps an encoder frame as an extended data frame.
func FromCanFrame(cf types.CanFrame) Frame {
	return Frame{ID: cf.ID, Extended: true, Len: 8, Data: cf.Data}
}

// Bus is a connection to a CAN bus. Implementations are safe for one
// sender and one receiver running concurrently.
type Bus interface {
	Send(ctx context.Context, frame Frame) error
	Receive(ctx context.Context) (Frame, error)
	Close() error
}

// Dialer opens a new bus connection.
type Dialer func(ctx context.Context) (Bus, error)

type Config struct {
	Transport      string        `mapstructure:"transport"`
	Address        string        `mapstructure:"address"`
	Interface      string        `mapstructure:"interface"`
	Bitrate        int           `mapstructure:"bitrate"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	TxRetries      int           `mapstructure:"tx_retries"`
	TxRetryDelay   time.Duration `mapstructure:"tx_retry_delay"`
}

const (
	TransportSLCAN     = "slcan"
	TransportSocketCAN = "socketcan"
	TransportLoopback  = "loopback"
)

// NewDialer picks the transport named in cfg. The loopback bus is only
// used for the loopback transport and may be nil otherwise.
func NewDialer(cfg Config, loop *LoopbackBus) (Dialer, error) {
	switch cfg.Transport {
	case TransportSLCAN, "":
		addr := strings.TrimPrefix(cfg.Address, "socket://")
		if addr == "" {
			return nil, fmt.Errorf("can: slcan transport needs an address")
		}
		return func(ctx context.Context) (Bus, error) {
			return DialSLCAN(ctx, addr, cfg.Bitrate, cfg.DialTimeout)
		}, nil
	case TransportSocketCAN:
		iface := cfg.Interface
		if iface == "" {
			iface = "can0"
		}
		return func(ctx context.Context) (Bus, error) {
			return DialSocketCAN(iface)
		}, nil
	case TransportLoopback:
		if loop == nil {
			loop = NewLoopbackBus()
		}
		return func(ctx context.Context) (Bus, error) {
			return loop.Open(), nil
		}, nil
	}
	return nil, fmt.Errorf("can: unknown transport %q", cfg.Transport)
}
