package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Start subscribes to the broadcast channel and relays broadcasts from other
// instances to local sockets until ctx is cancelled. It returns once the
// subscription is confirmed.
func (b *ClusterBroadcaster) Start(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	b.log.Info("Subscribed to broadcast channel", "channel", b.channel, "node", b.node)
	go b.consume(ctx, pubsub)
	return nil
}

func (b *ClusterBroadcaster) consume(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.relay(ctx, msg.Payload)

		case <-ctx.Done():
			b.log.Info("Broadcast subscriber stopped", "channel", b.channel)
			return
		}
	}
}

func (b *ClusterBroadcaster) relay(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.Error("Failed to parse broadcast", "payload", payload, "error", err)
		return
	}
	if env.Node == b.node {
		return
	}

	args := make([]interface{}, len(env.Args))
	for i, raw := range env.Args {
		args[i] = raw
	}
	if err := b.local.Broadcast(ctx, env.Namespace, env.Event, args, env.Except); err != nil {
		b.log.Error("Failed to relay broadcast", "node", env.Node, "namespace", env.Namespace,
			"event", env.Event, "error", err)
	}
}
