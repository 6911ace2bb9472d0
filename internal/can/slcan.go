package can

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// slcanBitrates maps bus speeds to the SLCAN "S" setup codes.
var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

const slcanPollInterval = 250 * time.Millisecond

var errNotFrame = errors.New("slcan: not a frame line")

// EncodeSLCAN renders a frame as an SLCAN ASCII command, e.g.
// "T19FEDB63801FFC802FF00FFFF\r".
func EncodeSLCAN(f Frame) string {
	var b strings.Builder
	switch {
	case f.RTR && f.Extended:
		b.WriteByte('R')
	case f.RTR:
		b.WriteByte('r')
	case f.Extended:
		b.WriteByte('T')
	default:
		b.WriteByte('t')
	}
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID&maxExtID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID&maxStdID)
	}
	b.WriteByte('0' + f.Len&0x0F)
	if !f.RTR {
		for _, d := range f.Payload() {
			fmt.Fprintf(&b, "%02X", d)
		}
	}
	b.WriteByte('\r')
	return b.String()
}

// ParseSLCAN decodes one received line without its terminator. Lines that
// are not frames (acks, status replies) return errNotFrame.
func ParseSLCAN(line string) (Frame, error) {
	line = strings.TrimLeft(line, "\a\r\n")
	if line == "" {
		return Frame{}, errNotFrame
	}

	var f Frame
	idLen := 0
	switch line[0] {
	case 'T':
		f.Extended, idLen = true, 8
	case 't':
		idLen = 3
	case 'R':
		f.Extended, f.RTR, idLen = true, true, 8
	case 'r':
		f.RTR, idLen = true, 3
	default:
		return Frame{}, errNotFrame
	}

	if len(line) < 1+idLen+1 {
		return Frame{}, fmt.Errorf("slcan: short frame %q", line)
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("slcan: bad id in %q: %w", line, err)
	}
	f.ID = uint32(id)

	dlc := line[1+idLen]
	if dlc < '0' || dlc > '8' {
		return Frame{}, fmt.Errorf("slcan: bad length in %q: %w", line, ErrInvalidLen)
	}
	f.Len = dlc - '0'

	if !f.RTR {
		data := line[2+idLen:]
		// a trailing timestamp (4 hex digits) may follow the data
		if len(data) < int(f.Len)*2 {
			return Frame{}, fmt.Errorf("slcan: short data in %q", line)
		}
		for i := 0; i < int(f.Len); i++ {
			v, err := strconv.ParseUint(data[i*2:i*2+2], 16, 8)
			if err != nil {
				return Frame{}, fmt.Errorf("slcan: bad data in %q: %w", line, err)
			}
			f.Data[i] = byte(v)
		}
	}
	return f, f.Validate()
}

// SLCANBus speaks SLCAN to a serial-over-TCP adapter.
type SLCANBus struct {
	address string
	conn    net.Conn
	reader  *bufio.Reader

	writeMu sync.Mutex
	readMu  sync.Mutex
	partial strings.Builder

	closeOnce sync.Once
	closed    chan struct{}
}

// DialSLCAN connects to address (host:port), closes any open channel,
// sets the bitrate and opens the channel.
func DialSLCAN(ctx context.Context, address string, bitrate int, timeout time.Duration) (*SLCANBus, error) {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		if bitrate != 0 {
			return nil, fmt.Errorf("slcan: unsupported bitrate %d", bitrate)
		}
		code = slcanBitrates[250000]
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	b := &SLCANBus{
		address: address,
		conn:    conn,
		reader:  bufio.NewReader(conn),
		closed:  make(chan struct{}),
	}

	for _, cmd := range []string{"C\r", "S" + string(code) + "\r", "O\r"} {
		if err := b.write(cmd, timeout); err != nil {
			conn.Close()
			return nil, fmt.Errorf("slcan setup %q: %w", strings.TrimSpace(cmd), err)
		}
	}
	return b, nil
}

func (b *SLCANBus) Address() string { return b.address }

func (b *SLCANBus) write(s string, timeout time.Duration) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if timeout > 0 {
		b.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := b.conn.Write([]byte(s)); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

func (b *SLCANBus) Send(ctx context.Context, frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	timeout := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return b.write(EncodeSLCAN(frame), timeout)
}

// Receive blocks until a frame line arrives, ctx is done or the bus is
// closed. Non-frame lines are skipped.
func (b *SLCANBus) Receive(ctx context.Context) (Frame, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		select {
		case <-b.closed:
			return Frame{}, ErrClosed
		default:
		}

		b.conn.SetReadDeadline(time.Now().Add(slcanPollInterval))
		chunk, err := b.reader.ReadString('\r')
		b.partial.WriteString(chunk)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			select {
			case <-b.closed:
				return Frame{}, ErrClosed
			default:
			}
			return Frame{}, fmt.Errorf("read failed: %w", err)
		}

		line := strings.TrimSuffix(b.partial.String(), "\r")
		b.partial.Reset()

		f, err := ParseSLCAN(line)
		if err != nil {
			// acks, status replies and garbled lines
			continue
		}
		return f, nil
	}
}

func (b *SLCANBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		// best effort: close the channel on the adapter
		b.write("C\r", 100*time.Millisecond)
		err = b.conn.Close()
	})
	return err
}
