package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"socket-service/internal/domain"

	"github.com/stretchr/testify/require"
)

type emitted struct {
	Event string
	Args  []interface{}
}

type fakeSocket struct {
	mu        sync.Mutex
	id        string
	namespace string
	session   *domain.Session
	emits     []emitted
	closed    bool
}

func newFakeSocket(id, namespace string) *fakeSocket {
	return &fakeSocket{id: id, namespace: namespace, session: domain.NewSession()}
}

func (s *fakeSocket) ID() string               { return s.id }
func (s *fakeSocket) Namespace() string        { return s.namespace }
func (s *fakeSocket) Session() *domain.Session { return s.session }

func (s *fakeSocket) Emit(event string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emits = append(s.emits, emitted{Event: event, Args: args})
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) Emits() []emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emitted(nil), s.emits...)
}

type broadcast struct {
	Namespace string
	Event     string
	Args      []interface{}
	Except    string
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcast
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, namespace, event string, args []interface{}, except string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcast{Namespace: namespace, Event: event, Args: args, Except: except})
	return nil
}

func (b *fakeBroadcaster) Calls() []broadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcast(nil), b.calls...)
}

func rawArgs(t *testing.T, values ...interface{}) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func echoHandler(_ context.Context, args []interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}
