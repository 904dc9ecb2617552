package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"socket-service/internal/domain"
	"socket-service/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Dispatcher is what the socket handler needs from the handler registry.
type Dispatcher interface {
	HasNamespace(namespace string) bool
	Connected(ctx context.Context, socket domain.Socket) error
	Disconnected(ctx context.Context, socket domain.Socket, reason string)
	Dispatch(ctx context.Context, socket domain.Socket, event string, args []json.RawMessage, ack domain.AckFunc) error
}

const (
	ReasonClientDisconnect = "client disconnect"
	ReasonServerDisconnect = "server disconnect"
	ReasonTransportError   = "transport error"
)

type WebSocketHandler struct {
	dispatcher  Dispatcher
	connManager *ConnectionManager
	upgrader    websocket.Upgrader
	opts        Options
	log         logger.Logger
}

func NewWebSocketHandler(dispatcher Dispatcher, connManager *ConnectionManager, opts Options,
	allowedOrigins []string, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		dispatcher:  dispatcher,
		connManager: connManager,
		upgrader:    websocket.Upgrader{CheckOrigin: checkOrigin(allowedOrigins)},
		opts:        opts,
		log:         log,
	}
}

// checkOrigin allows every origin when the list is empty or contains "*".
func checkOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// Router serves the default namespace on path and named namespaces on
// path/{namespace}.
func (h *WebSocketHandler) Router(path string) *mux.Router {
	path = "/" + strings.Trim(path, "/")
	r := mux.NewRouter()
	r.HandleFunc(path, h.HandleConnection).Methods(http.MethodGet)
	r.HandleFunc(path+"/{namespace:.+}", h.HandleConnection).Methods(http.MethodGet)
	return r
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	namespace := "/" + strings.Trim(mux.Vars(r)["namespace"], "/")

	if !h.dispatcher.HasNamespace(namespace) {
		h.log.Info("Rejected connection - unknown namespace", "namespace", namespace)
		http.Error(w, domain.ErrNamespaceNotFound.Error(), http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewConnection(conn, namespace, h.opts, h.log)

	if err := h.dispatcher.Connected(r.Context(), wsConn); err != nil {
		_ = wsConn.send(errorPacket("", nil, "connection refused"))
		_ = wsConn.Close()
		return
	}

	h.connManager.Register(wsConn)

	go h.handleMessages(wsConn)
}

func (h *WebSocketHandler) handleMessages(conn *Connection) {
	ctx, cancel := context.WithCancel(context.Background())
	reason := ReasonServerDisconnect

	defer func() {
		cancel()
		h.connManager.Unregister(conn)
		_ = conn.Close()
		h.dispatcher.Disconnected(context.Background(), conn, reason)
	}()

	if h.opts.ReadLimit > 0 {
		conn.conn.SetReadLimit(h.opts.ReadLimit)
	}
	extend := func() {
		if h.opts.PingInterval > 0 {
			_ = conn.conn.SetReadDeadline(time.Now().Add(2 * h.opts.PingInterval))
		}
	}
	extend()
	conn.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			reason = disconnectReason(conn, err)
			if reason == ReasonTransportError {
				h.log.Warn("Failed to read message", "socket_id", conn.ID(), "error", err)
			}
			return
		}
		extend()

		packet, err := DecodePacket(data)
		if err != nil {
			_ = conn.send(errorPacket("", nil, err.Error()))
			continue
		}

		switch packet.Type {
		case PacketPing:
			_ = conn.send(outPacket{Type: PacketPong})
		case PacketPong:
		case PacketEvent:
			h.handleEvent(ctx, conn, packet)
		}
	}
}

func (h *WebSocketHandler) handleEvent(ctx context.Context, conn *Connection, packet *Packet) {
	var ack domain.AckFunc
	if packet.ID != nil {
		ack = conn.ack(*packet.ID)
	}

	err := h.dispatcher.Dispatch(ctx, conn, packet.Event, packet.Args, ack)
	if err == nil {
		return
	}

	if errors.Is(err, domain.ErrUnknownEvent) && packet.ID == nil {
		return
	}

	h.log.Warn("Event failed", "socket_id", conn.ID(), "namespace", conn.Namespace(),
		"event", packet.Event, "error", err)
	if sendErr := conn.send(errorPacket(packet.Event, packet.ID, publicMessage(err))); sendErr != nil {
		h.log.Debug("Failed to send error packet", "socket_id", conn.ID(), "error", sendErr)
	}
}

// publicMessage hides internal failures from clients.
func publicMessage(err error) string {
	for _, known := range []error{domain.ErrUnknownEvent, domain.ErrInvalidArgument, domain.ErrInvalidPacket} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}

func disconnectReason(conn *Connection, err error) string {
	select {
	case <-conn.Done():
		return ReasonServerDisconnect
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ReasonClientDisconnect
	}
	return ReasonTransportError
}
