package domain

import (
	"context"
	"time"
)

// Socket interfaces
type Socket interface {
	ID() string
	Namespace() string
	Emit(event string, args ...interface{}) error
	Session() *Session
	Close() error
}

type Namespace interface {
	Name() string
	Emit(ctx context.Context, event string, args ...interface{}) error
}

// Broadcaster delivers an event to every socket of a namespace except the one
// with id except (empty means nobody is skipped).
type Broadcaster interface {
	Broadcast(ctx context.Context, namespace, event string, args []interface{}, except string) error
}

// Chat storage
type ChatMessage struct {
	ID        string    `json:"id,omitempty" bson:"_id,omitempty"`
	Namespace string    `json:"namespace" bson:"namespace"`
	Room      string    `json:"room,omitempty" bson:"room"`
	SocketID  string    `json:"socket_id" bson:"socket_id"`
	Author    string    `json:"author,omitempty" bson:"author,omitempty"`
	Text      string    `json:"text" bson:"text"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *ChatMessage) (string, error)
	RecentMessages(ctx context.Context, room string, limit int64) ([]*ChatMessage, error)
}
