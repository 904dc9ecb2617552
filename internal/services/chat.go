package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"socket-service/internal/domain"
	"socket-service/pkg/logger"

	"github.com/go-playground/validator/v10"
)

const (
	ChatClassName = "Chat"
	ChatNamespace = "/chat"

	sessionRoom   = "room"
	sessionAuthor = "author"
	sessionSince  = "connected_at"

	defaultHistoryLimit = 50
)

type JoinRequest struct {
	Room   string `json:"room" validate:"required,max=64"`
	Author string `json:"author" validate:"required,max=64"`
}

type IncomingMessage struct {
	Text string `json:"text" validate:"required,max=2000"`
}

type Pong struct {
	Payload interface{} `json:"payload,omitempty"`
	Time    time.Time   `json:"time"`
}

// ChatService is a room chat exposed on the /chat namespace.
type ChatService struct {
	repo         domain.MessageRepository
	validate     *validator.Validate
	historyLimit int64
	now          func() time.Time
	log          logger.Logger
}

// NewChatService creates the chat service. repo may be nil, in which case
// messages are relayed but not stored.
func NewChatService(repo domain.MessageRepository, log logger.Logger) *ChatService {
	return &ChatService{
		repo:         repo,
		validate:     validator.New(),
		historyLimit: defaultHistoryLimit,
		now:          time.Now,
		log:          log,
	}
}

func (c *ChatService) Service() Service {
	joined := domain.HookFunc(c.requireJoined)

	return Service{
		ClassName:    ChatClassName,
		Namespace:    ChatNamespace,
		OnConnection: c.onConnection,
		OnDisconnect: c.onDisconnect,
		Bindings: []Binding{
			{
				Method: "Join",
				Arity:  3,
				Metadata: domain.SocketHandlerMetadata{
					EventName:       "join",
					MethodClassName: ChatClassName,
					Parameters: map[int]domain.ParamMetadata{
						0: domain.Arg(0).As(domain.ConvertTo[JoinRequest]()),
						1: domain.SessionParam(),
						2: domain.AckParam(),
					},
				},
				Handler: c.join,
			},
			{
				Method: "Message",
				Arity:  3,
				Metadata: domain.SocketHandlerMetadata{
					EventName:       "message",
					MethodClassName: ChatClassName,
					UseBefore:       []domain.Hook{joined},
					Parameters: map[int]domain.ParamMetadata{
						0: domain.Arg(0).As(domain.ConvertTo[IncomingMessage]()),
						1: domain.SocketParam(),
						2: domain.NamespaceParam(),
					},
				},
				Handler: c.message,
			},
			{
				Method: "History",
				Arity:  1,
				Metadata: domain.SocketHandlerMetadata{
					EventName:       "history",
					MethodClassName: ChatClassName,
					UseBefore:       []domain.Hook{joined},
					Parameters:      map[int]domain.ParamMetadata{0: domain.SessionParam()},
					Returns:         &domain.ReturnsMetadata{EventName: "history", Type: domain.ReturnsEmit},
				},
				Handler: c.history,
			},
			{
				Method: "Say",
				Arity:  2,
				Metadata: domain.SocketHandlerMetadata{
					EventName:       "say",
					MethodClassName: ChatClassName,
					UseBefore:       []domain.Hook{joined},
					Parameters: map[int]domain.ParamMetadata{
						0: domain.Arg(0).As(domain.ConvertTo[IncomingMessage]()),
						1: domain.SocketParam(),
					},
					Returns: &domain.ReturnsMetadata{EventName: "message", Type: domain.ReturnsBroadcastOthers},
				},
				Handler: c.say,
			},
			{
				Method: "Ping",
				Arity:  1,
				Metadata: domain.SocketHandlerMetadata{
					EventName:       "ping",
					MethodClassName: ChatClassName,
					Parameters:      map[int]domain.ParamMetadata{0: domain.Arg(0)},
					Returns:         &domain.ReturnsMetadata{EventName: "ack", Type: domain.ReturnsEmit},
				},
				Handler: c.ping,
			},
		},
	}
}

func (c *ChatService) onConnection(_ context.Context, socket domain.Socket) error {
	socket.Session().Set(sessionSince, c.now())
	c.log.Debug("Chat socket connected", "socket_id", socket.ID())
	return nil
}

func (c *ChatService) onDisconnect(_ context.Context, socket domain.Socket, reason string) {
	room, _ := socket.Session().Get(sessionRoom)
	c.log.Debug("Chat socket disconnected", "socket_id", socket.ID(), "room", room, "reason", reason)
}

// requireJoined stops events from sockets that have not joined a room yet.
func (c *ChatService) requireJoined(_ context.Context, scope *domain.Scope) error {
	if _, ok := roomOf(scope.Session()); ok {
		return nil
	}
	if err := scope.Socket.Emit("chat:error", fmt.Sprintf("join a room before %q", scope.EventName)); err != nil {
		return err
	}
	return domain.ErrStopPropagation
}

func (c *ChatService) join(_ context.Context, args []interface{}) (interface{}, error) {
	req := args[0].(JoinRequest)
	session := args[1].(*domain.Session)

	req.Room = strings.TrimSpace(req.Room)
	req.Author = strings.TrimSpace(req.Author)
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: join: %v", domain.ErrInvalidArgument, err)
	}

	session.Set(sessionRoom, req.Room)
	session.Set(sessionAuthor, req.Author)

	if ack, ok := args[2].(domain.AckFunc); ok {
		if err := ack(map[string]string{"room": req.Room}); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (c *ChatService) message(ctx context.Context, args []interface{}) (interface{}, error) {
	in := args[0].(IncomingMessage)
	socket := args[1].(domain.Socket)
	ns := args[2].(domain.Namespace)

	msg, err := c.newMessage(in, socket)
	if err != nil {
		return nil, err
	}

	if c.repo != nil {
		id, err := c.repo.SaveMessage(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("save message: %w", err)
		}
		msg.ID = id
	}

	return nil, ns.Emit(ctx, "message", msg)
}

func (c *ChatService) history(ctx context.Context, args []interface{}) (interface{}, error) {
	room, _ := roomOf(args[0].(*domain.Session))
	if c.repo == nil {
		return []*domain.ChatMessage{}, nil
	}

	msgs, err := c.repo.RecentMessages(ctx, room, c.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if msgs == nil {
		msgs = []*domain.ChatMessage{}
	}
	return msgs, nil
}

func (c *ChatService) say(_ context.Context, args []interface{}) (interface{}, error) {
	return c.newMessage(args[0].(IncomingMessage), args[1].(domain.Socket))
}

func (c *ChatService) ping(_ context.Context, args []interface{}) (interface{}, error) {
	return Pong{Payload: args[0], Time: c.now().UTC()}, nil
}

func (c *ChatService) newMessage(in IncomingMessage, socket domain.Socket) (*domain.ChatMessage, error) {
	in.Text = strings.TrimSpace(in.Text)
	if err := c.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: message: %v", domain.ErrInvalidArgument, err)
	}

	session := socket.Session()
	room, _ := roomOf(session)
	author, _ := session.Get(sessionAuthor)
	name, _ := author.(string)

	return &domain.ChatMessage{
		Namespace: socket.Namespace(),
		Room:      room,
		SocketID:  socket.ID(),
		Author:    name,
		Text:      in.Text,
		CreatedAt: c.now().UTC(),
	}, nil
}

func roomOf(session *domain.Session) (string, bool) {
	if session == nil {
		return "", false
	}
	v, ok := session.Get(sessionRoom)
	if !ok {
		return "", false
	}
	room, ok := v.(string)
	return room, ok && room != ""
}
