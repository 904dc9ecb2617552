package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"socket-service/internal/domain"
	"socket-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Options struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
}

// Connection is one client socket attached to a namespace. Writes are
// serialized; reads belong to the handler's read loop.
type Connection struct {
	id           string
	namespace    string
	conn         *websocket.Conn
	session      *domain.Session
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	done         chan struct{}
	log          logger.Logger
}

const defaultWriteTimeout = 10 * time.Second

func NewConnection(conn *websocket.Conn, namespace string, opts Options, log logger.Logger) *Connection {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	id := uuid.NewString()
	return &Connection{
		id:           id,
		namespace:    namespace,
		conn:         conn,
		session:      domain.NewSession(),
		writeTimeout: opts.WriteTimeout,
		done:         make(chan struct{}),
		log:          log.With("socket_id", id, "namespace", namespace),
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Namespace() string {
	return c.namespace
}

func (c *Connection) Session() *domain.Session {
	return c.session
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) Emit(event string, args ...interface{}) error {
	return c.send(eventPacket(event, args))
}

func (c *Connection) send(p outPacket) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s packet: %w", p.Type, err)
	}
	return c.write(func(conn *websocket.Conn) error {
		return conn.WriteMessage(websocket.TextMessage, data)
	})
}

func (c *Connection) writePrepared(msg *websocket.PreparedMessage) error {
	return c.write(func(conn *websocket.Conn) error {
		return conn.WritePreparedMessage(msg)
	})
}

func (c *Connection) write(fn func(*websocket.Conn) error) error {
	select {
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return fn(c.conn)
}

// Ping sends a ping control frame. The pong handler installed by the read
// loop extends the read deadline.
func (c *Connection) Ping() error {
	return c.write(func(conn *websocket.Conn) error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
	})
}

// ack returns a callback that answers the packet with the given id. Only the
// first call is sent.
func (c *Connection) ack(id int64) domain.AckFunc {
	var sent atomic.Bool
	return func(args ...interface{}) error {
		if !sent.CompareAndSwap(false, true) {
			return domain.ErrAckAlreadySent
		}
		return c.send(ackPacket(id, args))
	}
}

func (c *Connection) Close() error {
	err := domain.ErrConnectionClosed
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		close(c.done)
		err = c.conn.Close()
		c.log.Debug("Connection closed")
	})
	return err
}
