package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/auth"
	"github.com/KevinKickass/OpenRVCore/internal/gateway"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

type staticTokens map[string][]auth.Permission

func (s staticTokens) ValidateToken(_ context.Context, token, _, _ string) ([]auth.Permission, error) {
	perms, ok := s[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return perms, nil
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop(), staticTokens{
		"good":  {auth.PermRead},
		"empty": {},
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType MessageType, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: msgType, Data: raw}))
}

type received struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

func next(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func authenticated(t *testing.T, hub *Hub, url string) *websocket.Conn {
	t.Helper()
	conn := dial(t, url)
	send(t, conn, MessageTypeAuth, AuthData{Token: "good"})
	msg := next(t, conn)
	require.Equal(t, MessageTypeAuthSuccess, msg.Type)
	require.Eventually(t, func() bool { return hub.GetClientCount() > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestHubStreamsFramesAfterAuth(t *testing.T) {
	hub, url := startHub(t)
	conn := authenticated(t, hub, url)

	frame := types.NewDecodedFrame("1FEDA", "0100C8", "DC_DIMMER_STATUS_3")
	frame.Set("instance", int64(1))
	hub.Broadcast(NewFrameMessage(frame))

	msg := next(t, conn)
	assert.Equal(t, MessageTypeFrame, msg.Type)
	assert.Contains(t, string(msg.Data), `"name":"DC_DIMMER_STATUS_3"`)
	assert.Contains(t, string(msg.Data), `"instance":1`)

	hub.Broadcast(NewCommandResultMessage(gateway.Result{EntityID: "water_pump", Status: "success"}))
	msg = next(t, conn)
	assert.Equal(t, MessageTypeCommandResult, msg.Type)
	assert.Contains(t, string(msg.Data), `"entity_id":"water_pump"`)
}

func TestHubRejectsUnauthenticated(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
		reason  string
	}{
		{"not auth first", MessageTypeSubscribe, SubscribeData{}, "first message must be authentication"},
		{"missing token", MessageTypeAuth, AuthData{}, "missing token in auth message"},
		{"bad token", MessageTypeAuth, AuthData{Token: "nope"}, "invalid or expired token"},
		{"no read permission", MessageTypeAuth, AuthData{Token: "empty"}, "read permission required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, url := startHub(t)
			conn := dial(t, url)
			send(t, conn, tt.msgType, tt.data)

			msg := next(t, conn)
			assert.Equal(t, MessageTypeAuthFailed, msg.Type)
			var data ErrorData
			require.NoError(t, json.Unmarshal(msg.Data, &data))
			assert.Equal(t, tt.reason, data.Reason)

			// the server closes the connection afterwards
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			_, _, err := conn.ReadMessage()
			assert.Error(t, err)
			assert.Equal(t, 0, hub.GetClientCount())
		})
	}
}

func TestHubSubscriptionFiltersFrames(t *testing.T) {
	hub, url := startHub(t)
	conn := authenticated(t, hub, url)

	send(t, conn, MessageTypeSubscribe, SubscribeData{Names: []string{"TANK_STATUS"}})
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			c.mu.RLock()
			ok := c.names["TANK_STATUS"]
			c.mu.RUnlock()
			if ok {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	hub.Broadcast(NewFrameMessage(types.NewDecodedFrame("1FEDA", "01", "DC_DIMMER_STATUS_3")))
	hub.Broadcast(NewFrameMessage(types.NewDecodedFrame("1FFB7", "00", "TANK_STATUS")))

	msg := next(t, conn)
	assert.Equal(t, MessageTypeFrame, msg.Type)
	assert.Contains(t, string(msg.Data), `"name":"TANK_STATUS"`)
}

func TestHubDropsClientsOnStop(t *testing.T) {
	hub := NewHub(zap.NewNop(), staticTokens{"good": {auth.PermRead}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	defer srv.Close()

	conn := authenticated(t, hub, "ws"+strings.TrimPrefix(srv.URL, "http"))
	cancel()
	<-stopped

	assert.Equal(t, 0, hub.GetClientCount())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
