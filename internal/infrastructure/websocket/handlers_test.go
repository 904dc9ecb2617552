package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"socket-service/internal/domain"
	"socket-service/internal/services"
	"socket-service/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	srv     *httptest.Server
	manager *ConnectionManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.NewNop()
	manager := NewConnectionManager(log)

	first := func(_ context.Context, args []interface{}) (interface{}, error) { return args[0], nil }
	registry := services.NewRegistry()
	require.NoError(t, registry.Register(services.Service{
		ClassName: "Room",
		Namespace: "/room",
		Bindings: []services.Binding{
			{
				Method: "Echo",
				Arity:  1,
				Metadata: domain.SocketHandlerMetadata{
					EventName:       "echo",
					MethodClassName: "Room",
					Parameters:      map[int]domain.ParamMetadata{0: domain.Arg(0)},
					Returns:         &domain.ReturnsMetadata{EventName: "echoed", Type: domain.ReturnsEmit},
				},
				Handler: first,
			},
			{
				Method: "Count",
				Arity:  1,
				Metadata: domain.SocketHandlerMetadata{
					EventName:       "count",
					MethodClassName: "Room",
					Parameters:      map[int]domain.ParamMetadata{0: domain.Args()},
				},
				Handler: func(_ context.Context, args []interface{}) (interface{}, error) {
					return len(args[0].([]interface{})), nil
				},
			},
			{
				Method: "Shout",
				Arity:  1,
				Metadata: domain.SocketHandlerMetadata{
					EventName:       "shout",
					MethodClassName: "Room",
					Parameters:      map[int]domain.ParamMetadata{0: domain.Arg(0)},
					Returns:         &domain.ReturnsMetadata{EventName: "shouted", Type: domain.ReturnsBroadcastOthers},
				},
				Handler: first,
			},
			{
				Method: "Fail",
				Metadata: domain.SocketHandlerMetadata{
					EventName:       "fail",
					MethodClassName: "Room",
				},
				Handler: func(context.Context, []interface{}) (interface{}, error) {
					return nil, errors.New("db down")
				},
			},
		},
	}))
	require.NoError(t, registry.Register(services.Service{
		ClassName: "Gate",
		Namespace: "/gate",
		OnConnection: func(context.Context, domain.Socket) error {
			return errors.New("closed")
		},
	}))

	dispatcher := services.NewDispatcher(registry, manager, log)
	handler := NewWebSocketHandler(dispatcher, manager, Options{
		PingInterval: time.Second,
		WriteTimeout: time.Second,
		ReadLimit:    1 << 16,
	}, nil, log)

	srv := httptest.NewServer(handler.Router("/socket"))
	t.Cleanup(func() {
		manager.CloseAll()
		srv.Close()
	})
	return &testServer{srv: srv, manager: manager}
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func readPacket(t *testing.T, conn *websocket.Conn) Packet {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var p Packet
	require.NoError(t, conn.ReadJSON(&p))
	return p
}

func TestHandleConnection_UnknownNamespace(t *testing.T) {
	s := newTestServer(t)
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/socket/nowhere"

	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleConnection_ReturnsEmit(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "/socket/room")

	send(t, conn, map[string]interface{}{"type": "event", "event": "echo", "args": []interface{}{"hello"}})

	p := readPacket(t, conn)
	assert.Equal(t, PacketEvent, p.Type)
	assert.Equal(t, "echoed", p.Event)
	require.Len(t, p.Args, 1)
	assert.JSONEq(t, `"hello"`, string(p.Args[0]))
}

func TestHandleConnection_AckCarriesResult(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "/socket/room")

	send(t, conn, map[string]interface{}{"type": "event", "event": "count", "args": []interface{}{1, 2, 3}, "id": 7})

	p := readPacket(t, conn)
	assert.Equal(t, PacketAck, p.Type)
	require.NotNil(t, p.ID)
	assert.Equal(t, int64(7), *p.ID)
	require.Len(t, p.Args, 1)
	assert.JSONEq(t, `3`, string(p.Args[0]))
}

func TestHandleConnection_Errors(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "/socket/room")

	// unknown event without ack id is dropped; the pong proves the loop moved on
	send(t, conn, map[string]interface{}{"type": "event", "event": "missing"})
	send(t, conn, map[string]interface{}{"type": "ping"})
	assert.Equal(t, PacketPong, readPacket(t, conn).Type)

	send(t, conn, map[string]interface{}{"type": "event", "event": "missing", "id": 1})
	p := readPacket(t, conn)
	assert.Equal(t, PacketError, p.Type)
	assert.Equal(t, "missing", p.Event)
	assert.Equal(t, domain.ErrUnknownEvent.Error(), p.Message)

	send(t, conn, map[string]interface{}{"type": "event", "event": "fail"})
	p = readPacket(t, conn)
	assert.Equal(t, PacketError, p.Type)
	assert.Equal(t, "internal error", p.Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	p = readPacket(t, conn)
	assert.Equal(t, PacketError, p.Type)
	assert.Contains(t, p.Message, domain.ErrInvalidPacket.Error())
}

func TestHandleConnection_BroadcastOthers(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial(t, "/socket/room")
	bob := s.dial(t, "/socket/room")
	require.Eventually(t, func() bool { return s.manager.Stats()["/room"] == 2 }, 2*time.Second, 10*time.Millisecond)

	send(t, alice, map[string]interface{}{"type": "event", "event": "shout", "args": []interface{}{"hey"}})

	p := readPacket(t, bob)
	assert.Equal(t, "shouted", p.Event)
	assert.JSONEq(t, `"hey"`, string(p.Args[0]))

	// alice only sees her own pong, not the broadcast
	send(t, alice, map[string]interface{}{"type": "ping"})
	assert.Equal(t, PacketPong, readPacket(t, alice).Type)
}

func TestHandleConnection_RefusedByService(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "/socket/gate")

	p := readPacket(t, conn)
	assert.Equal(t, PacketError, p.Type)
	assert.Equal(t, "connection refused", p.Message)
	assert.Equal(t, 0, s.manager.Count())
}

func TestHandleConnection_DisconnectUnregisters(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "/socket/room")
	require.Eventually(t, func() bool { return s.manager.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return s.manager.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestConnectionManager_PingAll(t *testing.T) {
	s := newTestServer(t)
	s.dial(t, "/socket/room")
	require.Eventually(t, func() bool { return s.manager.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, s.manager.PingAll(context.Background()))

	s.manager.CloseAll()
	assert.Equal(t, 0, s.manager.Count())
}

func TestConnectionManager_PingAllSkipsClosed(t *testing.T) {
	s := newTestServer(t)
	s.dial(t, "/socket/room")
	require.Eventually(t, func() bool { return s.manager.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	conns := s.manager.snapshot("")
	require.Len(t, conns, 1)
	require.NoError(t, conns[0].Close())

	assert.Equal(t, 0, s.manager.PingAll(context.Background()))
	assert.Eventually(t, func() bool { return s.manager.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/socket", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	open := checkOrigin(nil)
	assert.True(t, open(req("https://evil.example")))

	restricted := checkOrigin([]string{"https://app.example.com/"})
	assert.True(t, restricted(req("https://APP.example.com")))
	assert.True(t, restricted(req("")))
	assert.False(t, restricted(req("https://evil.example")))

	assert.True(t, checkOrigin([]string{"https://a", "*"})(req("https://b")))
}

func TestDecodePacket(t *testing.T) {
	p, err := DecodePacket([]byte(`{"type":"event","event":"message","args":[{"a":1},2],"id":3}`))
	require.NoError(t, err)
	assert.Equal(t, "message", p.Event)
	require.Len(t, p.Args, 2)
	assert.JSONEq(t, `{"a":1}`, string(p.Args[0]))
	assert.Equal(t, int64(3), *p.ID)

	for _, raw := range []string{`[]`, `{"type":"event"}`, `{"type":"ack","id":1}`, `{"type":"shout"}`} {
		_, err := DecodePacket([]byte(raw))
		assert.ErrorIs(t, err, domain.ErrInvalidPacket, raw)
	}
}

func TestAckOnlyOnce(t *testing.T) {
	s := newTestServer(t)
	s.dial(t, "/socket/room")
	require.Eventually(t, func() bool { return s.manager.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	conns := s.manager.snapshot("/room")
	require.Len(t, conns, 1)
	conn, ok := s.manager.Get("/room", conns[0].ID())
	require.True(t, ok)

	ack := conn.ack(1)
	require.NoError(t, ack("first"))
	assert.ErrorIs(t, ack("second"), domain.ErrAckAlreadySent)

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Emit("late"), domain.ErrConnectionClosed)
	assert.ErrorIs(t, conn.Close(), domain.ErrConnectionClosed)
}
