package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"socket-service/internal/domain"
	"socket-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryMessages struct {
	mu      sync.Mutex
	saved   []*domain.ChatMessage
	saveErr error
}

func (m *memoryMessages) SaveMessage(_ context.Context, msg *domain.ChatMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return "", m.saveErr
	}
	cp := *msg
	m.saved = append(m.saved, &cp)
	return fmt.Sprintf("id-%d", len(m.saved)), nil
}

func (m *memoryMessages) RecentMessages(_ context.Context, room string, limit int64) ([]*domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ChatMessage
	for _, msg := range m.saved {
		if msg.Room == room {
			out = append(out, msg)
		}
	}
	if int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newChatHarness(t *testing.T, repo domain.MessageRepository) (*Dispatcher, *fakeBroadcaster) {
	t.Helper()
	chat := NewChatService(repo, logger.NewNop())
	chat.now = func() time.Time { return fixedNow }
	return newTestDispatcher(t, chat.Service())
}

func joinRoom(t *testing.T, d *Dispatcher, socket *fakeSocket, room, author string) {
	t.Helper()
	require.NoError(t, d.Connected(context.Background(), socket))
	require.NoError(t, d.Dispatch(context.Background(), socket, "join",
		rawArgs(t, JoinRequest{Room: room, Author: author}), nil))
}

func TestChat_JoinAcks(t *testing.T) {
	d, _ := newChatHarness(t, nil)
	socket := newFakeSocket("s1", ChatNamespace)
	var acked []interface{}

	err := d.Dispatch(context.Background(), socket, "join",
		rawArgs(t, JoinRequest{Room: " lobby ", Author: "ada"}),
		func(args ...interface{}) error { acked = args; return nil })
	require.NoError(t, err)

	assert.Equal(t, []interface{}{map[string]string{"room": "lobby"}}, acked)
	room, ok := socket.Session().Get(sessionRoom)
	require.True(t, ok)
	assert.Equal(t, "lobby", room)
}

func TestChat_JoinValidation(t *testing.T) {
	d, _ := newChatHarness(t, nil)
	err := d.Dispatch(context.Background(), newFakeSocket("s1", ChatNamespace), "join",
		rawArgs(t, JoinRequest{Room: "lobby"}), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestChat_MessageRequiresJoin(t *testing.T) {
	repo := &memoryMessages{}
	d, broadcaster := newChatHarness(t, repo)
	socket := newFakeSocket("s1", ChatNamespace)

	require.NoError(t, d.Dispatch(context.Background(), socket, "message", rawArgs(t, IncomingMessage{Text: "hi"}), nil))

	assert.Empty(t, repo.saved)
	assert.Empty(t, broadcaster.Calls())
	emits := socket.Emits()
	require.Len(t, emits, 1)
	assert.Equal(t, "chat:error", emits[0].Event)
}

func TestChat_MessageStoresAndBroadcasts(t *testing.T) {
	repo := &memoryMessages{}
	d, broadcaster := newChatHarness(t, repo)
	socket := newFakeSocket("s1", ChatNamespace)
	joinRoom(t, d, socket, "lobby", "ada")

	require.NoError(t, d.Dispatch(context.Background(), socket, "message", rawArgs(t, IncomingMessage{Text: " hello "}), nil))

	require.Len(t, repo.saved, 1)
	assert.Equal(t, "hello", repo.saved[0].Text)
	assert.Equal(t, "lobby", repo.saved[0].Room)
	assert.Equal(t, "ada", repo.saved[0].Author)

	calls := broadcaster.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ChatNamespace, calls[0].Namespace)
	assert.Equal(t, "message", calls[0].Event)
	assert.Empty(t, calls[0].Except)
	msg := calls[0].Args[0].(*domain.ChatMessage)
	assert.Equal(t, "id-1", msg.ID)
	assert.Equal(t, fixedNow, msg.CreatedAt)
}

func TestChat_MessageSaveFailure(t *testing.T) {
	repo := &memoryMessages{saveErr: errors.New("not primary")}
	d, broadcaster := newChatHarness(t, repo)
	socket := newFakeSocket("s1", ChatNamespace)
	joinRoom(t, d, socket, "lobby", "ada")

	err := d.Dispatch(context.Background(), socket, "message", rawArgs(t, IncomingMessage{Text: "hi"}), nil)
	assert.ErrorIs(t, err, repo.saveErr)
	assert.Empty(t, broadcaster.Calls())
}

func TestChat_HistoryEmitsToCaller(t *testing.T) {
	repo := &memoryMessages{}
	d, _ := newChatHarness(t, repo)
	socket := newFakeSocket("s1", ChatNamespace)
	joinRoom(t, d, socket, "lobby", "ada")
	require.NoError(t, d.Dispatch(context.Background(), socket, "message", rawArgs(t, IncomingMessage{Text: "one"}), nil))

	require.NoError(t, d.Dispatch(context.Background(), socket, "history", nil, nil))

	emits := socket.Emits()
	require.Len(t, emits, 1)
	assert.Equal(t, "history", emits[0].Event)
	history := emits[0].Args[0].([]*domain.ChatMessage)
	require.Len(t, history, 1)
	assert.Equal(t, "one", history[0].Text)
}

func TestChat_HistoryWithoutStorage(t *testing.T) {
	d, _ := newChatHarness(t, nil)
	socket := newFakeSocket("s1", ChatNamespace)
	joinRoom(t, d, socket, "lobby", "ada")

	require.NoError(t, d.Dispatch(context.Background(), socket, "history", nil, nil))
	emits := socket.Emits()
	require.Len(t, emits, 1)
	assert.Equal(t, []interface{}{[]*domain.ChatMessage{}}, emits[0].Args)
}

func TestChat_SayBroadcastsToOthers(t *testing.T) {
	d, broadcaster := newChatHarness(t, nil)
	socket := newFakeSocket("s1", ChatNamespace)
	joinRoom(t, d, socket, "lobby", "ada")

	require.NoError(t, d.Dispatch(context.Background(), socket, "say", rawArgs(t, IncomingMessage{Text: "psst"}), nil))

	calls := broadcaster.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "message", calls[0].Event)
	assert.Equal(t, "s1", calls[0].Except)
	assert.Equal(t, "psst", calls[0].Args[0].(*domain.ChatMessage).Text)
}

func TestChat_PingEmitsAck(t *testing.T) {
	d, _ := newChatHarness(t, nil)
	socket := newFakeSocket("s1", ChatNamespace)

	require.NoError(t, d.Dispatch(context.Background(), socket, "ping", rawArgs(t, "x"), nil))

	emits := socket.Emits()
	require.Len(t, emits, 1)
	assert.Equal(t, "ack", emits[0].Event)
	assert.Equal(t, Pong{Payload: "x", Time: fixedNow}, emits[0].Args[0])
}

func TestChat_ConnectionStampsSession(t *testing.T) {
	d, _ := newChatHarness(t, nil)
	socket := newFakeSocket("s1", ChatNamespace)
	require.NoError(t, d.Connected(context.Background(), socket))

	since, ok := socket.Session().Get(sessionSince)
	require.True(t, ok)
	assert.Equal(t, fixedNow, since)
}
