package domain

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

// ParamKind tells the dispatcher where a handler argument comes from.
type ParamKind string

const (
	ParamArgs      ParamKind = "args"
	ParamSocket    ParamKind = "socket"
	ParamNamespace ParamKind = "nsp"
	ParamSession   ParamKind = "session"
	ParamAck       ParamKind = "ack"
	ParamEventName ParamKind = "event"
)

func (k ParamKind) Valid() bool {
	switch k {
	case ParamArgs, ParamSocket, ParamNamespace, ParamSession, ParamAck, ParamEventName:
		return true
	default:
		return false
	}
}

// Converter decodes one raw payload element into the value handed to the handler.
type Converter func(raw json.RawMessage) (interface{}, error)

// ConvertTo decodes the payload element as JSON into a T.
func ConvertTo[T any]() Converter {
	return func(raw json.RawMessage) (interface{}, error) {
		var v T
		if len(raw) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

type ParamMetadata struct {
	Kind ParamKind
	// MapIndex selects a single payload element for ParamArgs. Nil means the
	// whole payload.
	MapIndex  *int
	Converter Converter
}

func Args() ParamMetadata { return ParamMetadata{Kind: ParamArgs} }

func Arg(index int) ParamMetadata {
	return ParamMetadata{Kind: ParamArgs, MapIndex: &index}
}

func SocketParam() ParamMetadata    { return ParamMetadata{Kind: ParamSocket} }
func NamespaceParam() ParamMetadata { return ParamMetadata{Kind: ParamNamespace} }
func SessionParam() ParamMetadata   { return ParamMetadata{Kind: ParamSession} }
func AckParam() ParamMetadata       { return ParamMetadata{Kind: ParamAck} }
func EventNameParam() ParamMetadata { return ParamMetadata{Kind: ParamEventName} }

func (p ParamMetadata) As(c Converter) ParamMetadata {
	p.Converter = c
	return p
}

type ReturnsType string

const (
	ReturnsEmit            ReturnsType = "emit"
	ReturnsBroadcast       ReturnsType = "broadcast"
	ReturnsBroadcastOthers ReturnsType = "broadcastOthers"
)

func (t ReturnsType) Valid() bool {
	switch t {
	case ReturnsEmit, ReturnsBroadcast, ReturnsBroadcastOthers:
		return true
	default:
		return false
	}
}

// ReturnsMetadata publishes a handler result as EventName using Type.
type ReturnsMetadata struct {
	EventName string
	Type      ReturnsType
}

// SocketHandlerMetadata binds one service method to an inbound socket event.
type SocketHandlerMetadata struct {
	// EventName defaults to the method name when empty.
	EventName       string
	MethodClassName string
	UseBefore       []Hook
	UseAfter        []Hook
	Parameters      map[int]ParamMetadata
	Returns         *ReturnsMetadata
}

func (m SocketHandlerMetadata) Parameter(pos int) (ParamMetadata, bool) {
	p, ok := m.Parameters[pos]
	return p, ok
}

// Positions lists the described parameter positions in ascending order.
func (m SocketHandlerMetadata) Positions() []int {
	out := make([]int, 0, len(m.Parameters))
	for pos := range m.Parameters {
		out = append(out, pos)
	}
	sort.Ints(out)
	return out
}

func (m SocketHandlerMetadata) Clone() SocketHandlerMetadata {
	c := m
	c.UseBefore = append([]Hook(nil), m.UseBefore...)
	c.UseAfter = append([]Hook(nil), m.UseAfter...)
	c.Parameters = make(map[int]ParamMetadata, len(m.Parameters))
	for pos, p := range m.Parameters {
		if p.MapIndex != nil {
			idx := *p.MapIndex
			p.MapIndex = &idx
		}
		c.Parameters[pos] = p
	}
	if m.Returns != nil {
		r := *m.Returns
		c.Returns = &r
	}
	return c
}

// Hook runs before or after a handler. Returning ErrStopPropagation ends the
// chain quietly; any other error aborts it.
type Hook interface {
	Use(ctx context.Context, scope *Scope) error
}

type HookFunc func(ctx context.Context, scope *Scope) error

func (f HookFunc) Use(ctx context.Context, scope *Scope) error {
	return f(ctx, scope)
}

func IsStopPropagation(err error) bool {
	return errors.Is(err, ErrStopPropagation)
}

type AckFunc func(args ...interface{}) error

// Scope is the per-event state shared by hooks and the handler.
type Scope struct {
	Socket    Socket
	Namespace Namespace
	EventName string
	Args      []json.RawMessage
	Ack       AckFunc
	// Result is set once the handler returned and is visible to after hooks.
	Result interface{}
}

func (s *Scope) Session() *Session {
	if s.Socket == nil {
		return nil
	}
	return s.Socket.Session()
}

// Session is per-socket key/value storage that lives as long as the socket.
type Session struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

func NewSession() *Session {
	return &Session{values: make(map[string]interface{})}
}

func (s *Session) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}
