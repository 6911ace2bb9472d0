//go:build linux

package can

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	canFrameSize = 16
	pollMillis   = 250
)

// socketCAN implements Bus over a raw AF_CAN socket.
type socketCAN struct {
	fd        int
	closeOnce sync.Once
	closed    chan struct{}
}

// DialSocketCAN binds a raw CAN socket to iface, e.g. "can0".
func DialSocketCAN(iface string) (Bus, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan: %w", err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan: bind %s: %w", iface, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan: nonblock: %w", err)
	}
	return &socketCAN{fd: fd, closed: make(chan struct{})}, nil
}

// MarshalBinary encodes the Linux struct can_frame layout.
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	id := f.ID
	if f.Extended {
		id |= unix.CAN_EFF_FLAG
	}
	if f.RTR {
		id |= unix.CAN_RTR_FLAG
	}
	buf := make([]byte, canFrameSize)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	return buf, nil
}

func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < canFrameSize {
		return fmt.Errorf("socketcan: need %d bytes, got %d", canFrameSize, len(data))
	}
	id := binary.LittleEndian.Uint32(data[0:4])
	f.Extended = id&unix.CAN_EFF_FLAG != 0
	f.RTR = id&unix.CAN_RTR_FLAG != 0
	if f.Extended {
		f.ID = id & unix.CAN_EFF_MASK
	} else {
		f.ID = id & unix.CAN_SFF_MASK
	}
	f.Len = data[4]
	copy(f.Data[:], data[8:16])
	return f.Validate()
}

// wait polls fd for events until ready, ctx is done or the socket closes.
func (s *socketCAN) wait(ctx context.Context, events int16) error {
	for {
		select {
		case <-s.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
		n, err := unix.Poll(fds, pollMillis)
		if err != nil && !errors.Is(err, unix.EINTR) {
			return err
		}
		if n > 0 {
			return nil
		}
	}
}

func (s *socketCAN) Send(ctx context.Context, frame Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	for {
		n, err := unix.Write(s.fd, buf)
		switch {
		case err == nil && n != len(buf):
			return errors.New("socketcan: short write")
		case err == nil:
			return nil
		case errors.Is(err, unix.EAGAIN):
			if err := s.wait(ctx, unix.POLLOUT); err != nil {
				return err
			}
		default:
			return fmt.Errorf("socketcan: write: %w", err)
		}
	}
}

func (s *socketCAN) Receive(ctx context.Context) (Frame, error) {
	buf := make([]byte, canFrameSize)
	for {
		n, err := unix.Read(s.fd, buf)
		switch {
		case err == nil && n != len(buf):
			return Frame{}, errors.New("socketcan: short read")
		case err == nil:
			var f Frame
			if err := f.UnmarshalBinary(buf); err != nil {
				return Frame{}, err
			}
			return f, nil
		case errors.Is(err, unix.EAGAIN):
			if err := s.wait(ctx, unix.POLLIN); err != nil {
				return Frame{}, err
			}
		default:
			return Frame{}, fmt.Errorf("socketcan: read: %w", err)
		}
	}
}

func (s *socketCAN) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = unix.Close(s.fd)
	})
	return err
}
