package can

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSLCAN(t *testing.T) {
	f := Frame{ID: 0x19FEDB63, Extended: true, Len: 8, Data: [8]byte{0x01, 0xFF, 0xC8, 0x02, 0xFF, 0x00, 0xFF, 0xFF}}
	assert.Equal(t, "T19FEDB63801FFC802FF00FFFF\r", EncodeSLCAN(f))

	assert.Equal(t, "t1232ABCD\r", EncodeSLCAN(Frame{ID: 0x123, Len: 2, Data: [8]byte{0xAB, 0xCD}}))
	assert.Equal(t, "R19FEDB630\r", EncodeSLCAN(Frame{ID: 0x19FEDB63, Extended: true, RTR: true}))
}

func TestParseSLCAN(t *testing.T) {
	f, err := ParseSLCAN("T19FEDA63801FFC8FC00FF05FF")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x19FEDA63), f.ID)
	assert.True(t, f.Extended)
	assert.Equal(t, uint8(8), f.Len)
	assert.Equal(t, []byte{0x01, 0xFF, 0xC8, 0xFC, 0x00, 0xFF, 0x05, 0xFF}, f.Payload())

	// leading bell from a previous nack and a trailing timestamp
	f, err = ParseSLCAN("\aT19FFE263301020312AB")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, f.Payload())

	f, err = ParseSLCAN("t7FF0")
	require.NoError(t, err)
	assert.False(t, f.Extended)
	assert.Equal(t, uint32(0x7FF), f.ID)
	assert.Empty(t, f.Payload())
}

func TestParseSLCANRejects(t *testing.T) {
	for _, line := range []string{"", "z", "Z", "V1013", "\a"} {
		_, err := ParseSLCAN(line)
		assert.ErrorIs(t, err, errNotFrame, "%q", line)
	}
	for _, line := range []string{"T19FE", "T19FEDB639", "T19FEDB63801FF", "TXXFEDB63100", "t8001FF"} {
		_, err := ParseSLCAN(line)
		assert.Error(t, err, "%q", line)
		assert.NotErrorIs(t, err, errNotFrame, "%q", line)
	}
}

func TestSLCANRoundTrip(t *testing.T) {
	for _, f := range []Frame{
		{ID: 0x19FEDB63, Extended: true, Len: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{ID: 0x100, Len: 3, Data: [8]byte{9, 8, 7}},
		{ID: 0x18EEFF00, Extended: true, Len: 0},
	} {
		line := strings.TrimSuffix(EncodeSLCAN(f), "\r")
		got, err := ParseSLCAN(line)
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

// fakeAdapter listens for a single SLCAN client connection.
func fakeAdapter(t *testing.T) (addr string, conns <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		ch <- c
	}()
	return ln.Addr().String(), ch
}

func TestSLCANBus(t *testing.T) {
	addr, conns := fakeAdapter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus, err := DialSLCAN(ctx, addr, 250000, time.Second)
	require.NoError(t, err)
	defer bus.Close()

	var server net.Conn
	select {
	case server = <-conns:
	case <-ctx.Done():
		t.Fatal("adapter never accepted")
	}
	defer server.Close()

	r := bufio.NewReader(server)
	for _, want := range []string{"C\r", "S5\r", "O\r"} {
		got, err := r.ReadString('\r')
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// adapter ack, status noise and a split frame line
	_, err = server.Write([]byte("\rz\rT19FEDA63"))
	require.NoError(t, err)
	go func() {
		time.Sleep(50 * time.Millisecond)
		server.Write([]byte("30100C8\r"))
	}()

	f, err := bus.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "19FEDA63#0100C8", f.String())

	require.NoError(t, bus.Send(ctx, Frame{ID: 0x19FEDB63, Extended: true, Len: 8, Data: [8]byte{0x01, 0xFF, 0xC8, 0x02, 0xFF, 0x00, 0xFF, 0xFF}}))
	got, err := r.ReadString('\r')
	require.NoError(t, err)
	assert.Equal(t, "T19FEDB63801FFC802FF00FFFF\r", got)
}

func TestSLCANReceiveHonorsContext(t *testing.T) {
	addr, conns := fakeAdapter(t)
	bus, err := DialSLCAN(context.Background(), addr, 0, time.Second)
	require.NoError(t, err)
	defer bus.Close()
	server := <-conns
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = bus.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialSLCANRejectsBitrate(t *testing.T) {
	_, err := DialSLCAN(context.Background(), "127.0.0.1:1", 12345, time.Second)
	assert.ErrorContains(t, err, "unsupported bitrate")
}
