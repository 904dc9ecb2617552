package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"socket-service/internal/domain"
	"socket-service/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// envelope is a broadcast as it travels between instances.
type envelope struct {
	Node      string            `json:"node"`
	Namespace string            `json:"namespace"`
	Event     string            `json:"event"`
	Args      []json.RawMessage `json:"args,omitempty"`
	Except    string            `json:"except,omitempty"`
}

// ClusterBroadcaster delivers broadcasts to local sockets and publishes them
// for the other instances sharing the channel.
type ClusterBroadcaster struct {
	client  *redis.Client
	local   domain.Broadcaster
	channel string
	node    string
	log     logger.Logger
}

func NewClusterBroadcaster(client *redis.Client, local domain.Broadcaster, channel, node string,
	log logger.Logger) *ClusterBroadcaster {
	return &ClusterBroadcaster{
		client:  client,
		local:   local,
		channel: channel,
		node:    node,
		log:     log,
	}
}

func (b *ClusterBroadcaster) Broadcast(ctx context.Context, namespace, event string, args []interface{}, except string) error {
	if err := b.local.Broadcast(ctx, namespace, event, args, except); err != nil {
		return err
	}

	env := envelope{
		Node:      b.node,
		Namespace: namespace,
		Event:     event,
		Except:    except,
	}
	for _, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return fmt.Errorf("encode broadcast argument: %w", err)
		}
		env.Args = append(env.Args, raw)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}
