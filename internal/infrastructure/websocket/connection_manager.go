package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"socket-service/internal/domain"
	"socket-service/pkg/logger"

	"github.com/gorilla/websocket"
)

type ConnectionManager struct {
	connections map[string]map[string]*Connection // namespace -> socket id -> connection
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[string]*Connection),
		log:         log,
	}
}

func (cm *ConnectionManager) Register(conn *Connection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.connections[conn.Namespace()] == nil {
		cm.connections[conn.Namespace()] = make(map[string]*Connection)
	}
	cm.connections[conn.Namespace()][conn.ID()] = conn

	cm.log.Info("Connection registered", "socket_id", conn.ID(), "namespace", conn.Namespace())
}

func (cm *ConnectionManager) Unregister(conn *Connection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if nsConns, exists := cm.connections[conn.Namespace()]; exists {
		delete(nsConns, conn.ID())
		if len(nsConns) == 0 {
			delete(cm.connections, conn.Namespace())
		}
	}

	cm.log.Info("Connection unregistered", "socket_id", conn.ID(), "namespace", conn.Namespace())
}

func (cm *ConnectionManager) Get(namespace, id string) (*Connection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	conn, ok := cm.connections[namespace][id]
	return conn, ok
}

func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	n := 0
	for _, nsConns := range cm.connections {
		n += len(nsConns)
	}
	return n
}

// Stats returns the number of open sockets per namespace.
func (cm *ConnectionManager) Stats() map[string]int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	out := make(map[string]int, len(cm.connections))
	for ns, nsConns := range cm.connections {
		out[ns] = len(nsConns)
	}
	return out
}

func (cm *ConnectionManager) snapshot(namespace string) []*Connection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var out []*Connection
	if namespace == "" {
		for _, nsConns := range cm.connections {
			for _, conn := range nsConns {
				out = append(out, conn)
			}
		}
	} else {
		for _, conn := range cm.connections[namespace] {
			out = append(out, conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Broadcast writes an event to every local socket of the namespace except the
// one with id except. Failed writes are logged and skipped.
func (cm *ConnectionManager) Broadcast(_ context.Context, namespace, event string, args []interface{}, except string) error {
	connections := cm.snapshot(namespace)
	if len(connections) == 0 {
		return nil
	}

	data, err := json.Marshal(eventPacket(event, args))
	if err != nil {
		return err
	}
	msg, err := websocket.NewPreparedMessage(websocket.TextMessage, data)
	if err != nil {
		return err
	}

	for _, conn := range connections {
		if conn.ID() == except {
			continue
		}
		if err := conn.writePrepared(msg); err != nil {
			cm.log.Error("Failed to send message", "socket_id", conn.ID(), "namespace", namespace,
				"event", event, "error", err)
		}
	}
	return nil
}

// PingAll pings every socket, closing and dropping the ones that fail. It
// returns the number of dropped sockets.
func (cm *ConnectionManager) PingAll(ctx context.Context) int {
	dropped := 0
	for _, conn := range cm.snapshot("") {
		if ctx.Err() != nil {
			break
		}
		err := conn.Ping()
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrConnectionClosed):
			// already closed by its read loop
			cm.Unregister(conn)
		default:
			cm.log.Warn("Ping failed, dropping connection", "socket_id", conn.ID(), "error", err)
			_ = conn.Close()
			cm.Unregister(conn)
			dropped++
		}
	}
	return dropped
}

func (cm *ConnectionManager) CloseAll() {
	for _, conn := range cm.snapshot("") {
		if err := conn.Close(); err != nil && !errors.Is(err, domain.ErrConnectionClosed) {
			cm.log.Error("Failed to close connection", "socket_id", conn.ID(), "error", err)
		}
		cm.Unregister(conn)
	}
	cm.log.Info("All connections closed")
}
