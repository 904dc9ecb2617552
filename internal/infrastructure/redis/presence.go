package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const nodeKeyPrefix = "socket:node:"

// PresenceStore records which instances are alive and how many sockets each
// one holds. Entries expire unless refreshed.
type PresenceStore struct {
	client *redis.Client
	node   string
	ttl    time.Duration
	count  func() int
}

func NewPresenceStore(client *redis.Client, node string, ttl time.Duration, count func() int) *PresenceStore {
	return &PresenceStore{client: client, node: node, ttl: ttl, count: count}
}

func (p *PresenceStore) Announce(ctx context.Context) error {
	key := nodeKeyPrefix + p.node
	return p.client.Set(ctx, key, p.count(), p.ttl).Err()
}

func (p *PresenceStore) Withdraw(ctx context.Context) error {
	return p.client.Del(ctx, nodeKeyPrefix+p.node).Err()
}

// Nodes returns the socket count of every live instance.
func (p *PresenceStore) Nodes(ctx context.Context) (map[string]int, error) {
	nodes := make(map[string]int)
	iter := p.client.Scan(ctx, 0, nodeKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		result, err := p.client.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}

		n, err := strconv.Atoi(result)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", key, err)
		}
		nodes[strings.TrimPrefix(key, nodeKeyPrefix)] = n
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nodes, nil
}
