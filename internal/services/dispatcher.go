package services

import (
	"context"
	"encoding/json"
	"fmt"

	"socket-service/internal/domain"
	"socket-service/pkg/logger"
)

// Dispatcher executes registered handler metadata for incoming socket events.
type Dispatcher struct {
	registry    *Registry
	broadcaster domain.Broadcaster
	log         logger.Logger
}

func NewDispatcher(registry *Registry, broadcaster domain.Broadcaster, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		broadcaster: broadcaster,
		log:         log,
	}
}

func (d *Dispatcher) HasNamespace(namespace string) bool {
	return d.registry.HasNamespace(namespace)
}

// Connected runs the OnConnection callbacks of every service on the socket's
// namespace, in registration order. An error rejects the socket.
func (d *Dispatcher) Connected(ctx context.Context, socket domain.Socket) error {
	for _, svc := range d.registry.servicesFor(socket.Namespace()) {
		if svc.onConnection == nil {
			continue
		}
		if err := svc.onConnection(ctx, socket); err != nil {
			d.log.Warn("Connection rejected", "class", svc.className, "socket_id", socket.ID(), "error", err)
			return fmt.Errorf("%s: %w", svc.className, err)
		}
	}
	return nil
}

func (d *Dispatcher) Disconnected(ctx context.Context, socket domain.Socket, reason string) {
	for _, svc := range d.registry.servicesFor(socket.Namespace()) {
		if svc.onDisconnect != nil {
			svc.onDisconnect(ctx, socket, reason)
		}
	}
}

// Dispatch routes one event to its handler: class and method before hooks,
// handler, returns publication, then method and class after hooks. Hooks run
// one after another in list order.
func (d *Dispatcher) Dispatch(ctx context.Context, socket domain.Socket, event string, args []json.RawMessage, ack domain.AckFunc) error {
	entry, ok := d.registry.lookup(socket.Namespace(), event)
	if !ok {
		d.log.Debug("No handler for event", "namespace", socket.Namespace(), "event", event, "socket_id", socket.ID())
		return fmt.Errorf("%w: %q", domain.ErrUnknownEvent, event)
	}

	scope := &domain.Scope{
		Socket:    socket,
		Namespace: newNamespaceEmitter(entry.namespace, d.broadcaster),
		EventName: event,
		Args:      args,
		Ack:       ack,
	}
	id := entry.key.ClassName + "." + entry.key.Method

	stopped, err := runHooks(ctx, scope, entry.service.useBefore, entry.metadata.UseBefore)
	if err != nil {
		return fmt.Errorf("%s before hook: %w", id, err)
	}
	if stopped {
		d.log.Debug("Event stopped by before hook", "handler", id, "socket_id", socket.ID())
		return nil
	}

	callArgs, err := d.buildArguments(entry, scope)
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}

	result, err := entry.handler(ctx, callArgs)
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	scope.Result = result

	if result != nil {
		if err := d.respond(ctx, entry, scope, result); err != nil {
			return fmt.Errorf("%s returns: %w", id, err)
		}
	}

	if _, err := runHooks(ctx, scope, entry.metadata.UseAfter, entry.service.useAfter); err != nil {
		return fmt.Errorf("%s after hook: %w", id, err)
	}
	return nil
}

func runHooks(ctx context.Context, scope *domain.Scope, lists ...[]domain.Hook) (bool, error) {
	for _, hooks := range lists {
		for _, h := range hooks {
			if err := h.Use(ctx, scope); err != nil {
				if domain.IsStopPropagation(err) {
					return true, nil
				}
				return false, err
			}
		}
	}
	return false, nil
}

// respond applies the returns descriptor. Without one, a requested ack carries
// the result unless the handler takes the ack itself.
func (d *Dispatcher) respond(ctx context.Context, entry *handlerEntry, scope *domain.Scope, result interface{}) error {
	ret := entry.metadata.Returns
	if ret == nil {
		if scope.Ack != nil && !takesAck(entry) {
			return scope.Ack(result)
		}
		return nil
	}

	switch ret.Type {
	case domain.ReturnsEmit:
		return scope.Socket.Emit(ret.EventName, result)
	case domain.ReturnsBroadcast:
		return d.broadcaster.Broadcast(ctx, entry.namespace, ret.EventName, []interface{}{result}, "")
	case domain.ReturnsBroadcastOthers:
		return d.broadcaster.Broadcast(ctx, entry.namespace, ret.EventName, []interface{}{result}, scope.Socket.ID())
	default:
		return fmt.Errorf("%w: returns type %q", domain.ErrInvalidMetadata, ret.Type)
	}
}

func takesAck(entry *handlerEntry) bool {
	for _, p := range entry.metadata.Parameters {
		if p.Kind == domain.ParamAck {
			return true
		}
	}
	return false
}

func (d *Dispatcher) buildArguments(entry *handlerEntry, scope *domain.Scope) ([]interface{}, error) {
	out := make([]interface{}, entry.arity)
	for pos := 0; pos < entry.arity; pos++ {
		p, ok := entry.metadata.Parameter(pos)
		if !ok {
			return nil, fmt.Errorf("%w: position %d", domain.ErrMissingParameter, pos)
		}
		v, err := resolveParameter(p, scope)
		if err != nil {
			return nil, fmt.Errorf("%w: position %d: %v", domain.ErrInvalidArgument, pos, err)
		}
		out[pos] = v
	}
	return out, nil
}

func resolveParameter(p domain.ParamMetadata, scope *domain.Scope) (interface{}, error) {
	switch p.Kind {
	case domain.ParamArgs:
		if p.MapIndex != nil {
			var raw json.RawMessage
			if *p.MapIndex < len(scope.Args) {
				raw = scope.Args[*p.MapIndex]
			}
			return convert(p.Converter, raw)
		}
		if p.Converter != nil {
			raw, err := json.Marshal(nonNilArgs(scope.Args))
			if err != nil {
				return nil, err
			}
			return p.Converter(raw)
		}
		all := make([]interface{}, len(scope.Args))
		for i, raw := range scope.Args {
			v, err := convert(nil, raw)
			if err != nil {
				return nil, err
			}
			all[i] = v
		}
		return all, nil
	case domain.ParamSocket:
		return scope.Socket, nil
	case domain.ParamNamespace:
		return scope.Namespace, nil
	case domain.ParamSession:
		return scope.Session(), nil
	case domain.ParamAck:
		if scope.Ack == nil {
			return nil, nil
		}
		return scope.Ack, nil
	case domain.ParamEventName:
		return scope.EventName, nil
	default:
		return nil, fmt.Errorf("unknown parameter kind %q", p.Kind)
	}
}

// convert decodes one payload element; a missing element is nil.
func convert(c domain.Converter, raw json.RawMessage) (interface{}, error) {
	if c != nil {
		return c(raw)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func nonNilArgs(args []json.RawMessage) []json.RawMessage {
	if args == nil {
		return []json.RawMessage{}
	}
	return args
}
