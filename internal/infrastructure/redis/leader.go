package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const leaderKey = "socket:leader"

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// LeaderElection picks one instance of the cluster for cluster-wide chores.
type LeaderElection struct {
	client *redis.Client
	node   string
	ttl    time.Duration
}

func NewLeaderElection(client *redis.Client, node string, ttl time.Duration) *LeaderElection {
	return &LeaderElection{
		client: client,
		node:   node,
		ttl:    ttl,
	}
}

// Campaign takes the leadership if it is free, renews it if this node holds
// it, and reports whether this node leads afterwards.
func (l *LeaderElection) Campaign(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, leaderKey, l.node, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if acquired {
		return true, nil
	}

	renewed, err := renewScript.Run(ctx, l.client, []string{leaderKey}, l.node, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return renewed == 1, nil
}

func (l *LeaderElection) Leader(ctx context.Context) (string, error) {
	leader, err := l.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return leader, nil
}

// Resign releases the leadership if this node holds it.
func (l *LeaderElection) Resign(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{leaderKey}, l.node).Err()
}
