package services

import (
	"context"

	"socket-service/internal/domain"
)

// namespaceEmitter is the handle handed to hooks and handlers for
// namespace-wide emits.
type namespaceEmitter struct {
	name        string
	broadcaster domain.Broadcaster
}

func newNamespaceEmitter(name string, broadcaster domain.Broadcaster) *namespaceEmitter {
	return &namespaceEmitter{name: name, broadcaster: broadcaster}
}

func (n *namespaceEmitter) Name() string {
	return n.name
}

func (n *namespaceEmitter) Emit(ctx context.Context, event string, args ...interface{}) error {
	return n.broadcaster.Broadcast(ctx, n.name, event, args, "")
}
