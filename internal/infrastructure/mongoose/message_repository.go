package mongoose

import (
	"context"
	"errors"
	"fmt"
	"time"

	"socket-service/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const MessagesCollection = "messages"

var (
	ErrMissingMessage  = errors.New("message is required")
	ErrDecodeObjectID  = errors.New("error decoding inserted id")
	defaultRecentLimit = int64(50)
)

type MessageRepository struct {
	coll *mongo.Collection
}

func NewMessageRepository(conn *Connection) *MessageRepository {
	return &MessageRepository{coll: conn.Database().Collection(MessagesCollection)}
}

// EnsureIndexes creates the room/time index used by RecentMessages.
func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes on collection %q: %w", MessagesCollection, err)
	}
	return nil
}

func (r *MessageRepository) SaveMessage(ctx context.Context, msg *domain.ChatMessage) (string, error) {
	if msg == nil {
		return "", ErrMissingMessage
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	res, err := r.coll.InsertOne(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("error inserting message into collection %s: %w", MessagesCollection, err)
	}

	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", ErrDecodeObjectID
	}
	msg.ID = id.Hex()
	return msg.ID, nil
}

// RecentMessages returns the newest messages of a room, oldest first.
func (r *MessageRepository) RecentMessages(ctx context.Context, room string, limit int64) ([]*domain.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.coll.Find(ctx, bson.M{"room": room}, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding messages for room %q: %w", room, err)
	}
	defer cursor.Close(ctx)

	var msgs []*domain.ChatMessage
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("error decoding messages for room %q: %w", room, err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
