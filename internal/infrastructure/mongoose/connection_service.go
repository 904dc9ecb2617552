package mongoose

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"socket-service/internal/domain"
	"socket-service/pkg/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Client is the part of *mongo.Client the service relies on.
type Client interface {
	Database(name string, opts ...*options.DatabaseOptions) *mongo.Database
	Ping(ctx context.Context, rp *readpref.ReadPref) error
	Disconnect(ctx context.Context) error
}

type Connector interface {
	Connect(ctx context.Context, opts *options.ClientOptions) (Client, error)
}

// DriverConnector dials MongoDB with the official driver and pings once.
type DriverConnector struct{}

func (DriverConnector) Connect(ctx context.Context, opts *options.ClientOptions) (Client, error) {
	cl, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := cl.Ping(ctx, nil); err != nil {
		if disconnectErr := cl.Disconnect(ctx); disconnectErr != nil {
			return nil, errors.Join(err, disconnectErr)
		}
		return nil, err
	}
	return cl, nil
}

type Connection struct {
	name   string
	target domain.ConnectionTarget
	dbName string
	client Client
}

func (c *Connection) Name() string { return c.name }

func (c *Connection) URL() string { return c.target.URL }

func (c *Connection) DatabaseName() string { return c.dbName }

func (c *Connection) Client() Client { return c.client }

func (c *Connection) Database() *mongo.Database {
	return c.client.Database(c.dbName)
}

// ConnectionService owns every MongoDB connection declared in the mongoose
// settings, addressed by connection name.
type ConnectionService struct {
	connector   Connector
	connectMu   sync.Mutex
	mu          sync.RWMutex
	connections map[string]*Connection
	log         logger.Logger
}

func NewConnectionService(connector Connector, log logger.Logger) *ConnectionService {
	if connector == nil {
		connector = DriverConnector{}
	}
	return &ConnectionService{
		connector:   connector,
		connections: make(map[string]*Connection),
		log:         log,
	}
}

// Open connects every target of the plan.
func (s *ConnectionService) Open(ctx context.Context, plan domain.ConnectionPlan) error {
	switch p := plan.(type) {
	case domain.NoConnection:
		s.log.Info("No mongoose connection configured")
		return nil
	case domain.SingleConnection:
		_, err := s.Connect(ctx, p.Name, p.Target)
		return err
	case domain.NamedConnections:
		for _, t := range p.Targets() {
			if _, err := s.Connect(ctx, t.Name, t.Target); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported connection plan %T", domain.ErrInvalidConnection, plan)
	}
}

// Connect opens the named connection. An already open connection with the
// same url is returned as is; a different url is an error.
func (s *ConnectionService) Connect(ctx context.Context, name string, target domain.ConnectionTarget) (*Connection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty connection name", domain.ErrInvalidConnection)
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if existing, err := s.Get(name); err == nil {
		if existing.URL() != target.URL {
			return nil, fmt.Errorf("%w: %q", domain.ErrConnectionExists, name)
		}
		return existing, nil
	}

	opts, dbName, err := buildClientOptions(target)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}

	s.log.Info("Connecting to MongoDB", "connection", name, "database", dbName)
	client, err := s.connector.Connect(ctx, opts)
	if err != nil {
		s.log.Error("Failed to connect to MongoDB", "connection", name, "error", err)
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}

	conn := &Connection{
		name:   name,
		target: target,
		dbName: dbName,
		client: client,
	}

	s.mu.Lock()
	s.connections[strings.ToLower(name)] = conn
	s.mu.Unlock()

	s.log.Info("Connected to MongoDB", "connection", name)
	return conn, nil
}

// Get returns the named connection; an empty name means the default one.
func (s *ConnectionService) Get(name string) (*Connection, error) {
	if name == "" {
		name = domain.DefaultConnectionName
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrConnectionNotFound, name)
	}
	return conn, nil
}

func (s *ConnectionService) Has(name string) bool {
	_, err := s.Get(name)
	return err == nil
}

func (s *ConnectionService) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.connections))
	for _, conn := range s.connections {
		names = append(names, conn.name)
	}
	sort.Strings(names)
	return names
}

func (s *ConnectionService) snapshot() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := make([]*Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		conns = append(conns, conn)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].name < conns[j].name })
	return conns
}

// Ping checks every connection and joins the failures.
func (s *ConnectionService) Ping(ctx context.Context) error {
	var errs []error
	for _, conn := range s.snapshot() {
		if err := conn.client.Ping(ctx, nil); err != nil {
			errs = append(errs, fmt.Errorf("connection %q: %w", conn.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close disconnects everything and forgets the connections.
func (s *ConnectionService) Close(ctx context.Context) error {
	conns := s.snapshot()

	s.mu.Lock()
	s.connections = make(map[string]*Connection)
	s.mu.Unlock()

	var errs []error
	for _, conn := range conns {
		if err := conn.client.Disconnect(ctx); err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
			s.log.Error("Failed to disconnect from MongoDB", "connection", conn.name, "error", err)
			errs = append(errs, fmt.Errorf("connection %q: %w", conn.name, err))
			continue
		}
		s.log.Info("Disconnected from MongoDB", "connection", conn.name)
	}
	return errors.Join(errs...)
}
