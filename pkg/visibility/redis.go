package visibility

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisGenKey    = "visibility:gen"
	redisNetPrefix = "visibility:net"
)

// Redis is a Cache backed by a shared Redis instance, for deployments
// running more than one process against the same store. Networks are
// memoized as sets keyed by (generation, identity); bumping the generation
// abandons every cached set, and abandoned sets expire on their own.
type Redis struct {
	edges  EdgeStore
	client redis.UniversalClient
	depth  int
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis builds a Redis-backed cache. A depth of 0 selects DefaultDepth;
// a ttl of 0 selects one hour.
func NewRedis(edges EdgeStore, client redis.UniversalClient, depth int, ttl time.Duration) *Redis {
	if depth <= 0 {
		depth = DefaultDepth
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{
		edges:  edges,
		client: client,
		depth:  depth,
		ttl:    ttl,
		logger: slog.Default().With("component", "visibility.redis"),
	}
}

// AddCanSee records that seer may see seen.
func (c *Redis) AddCanSee(ctx context.Context, seen, seer string) error {
	return c.edges.AddSeesEdge(ctx, seer, seen)
}

// Network returns the visible set for id, recomputing and re-memoizing it
// when no set exists for the current generation.
func (c *Redis) Network(ctx context.Context, id string) ([]string, error) {
	gen, err := c.client.Get(ctx, redisGenKey).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("visibility: read generation: %w", err)
	}
	key := fmt.Sprintf("%s:%d:%s", redisNetPrefix, gen, id)

	members, err := c.client.SMembers(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("visibility: read network: %w", err)
	}
	if len(members) > 0 {
		network := make([]string, len(members))
		copy(network, members)
		sort.Strings(network)
		return network, nil
	}

	network, err := traverse(ctx, c.edges, id, c.depth)
	if err != nil {
		return nil, err
	}

	pipe := c.client.Pipeline()
	pipe.SAdd(ctx, key, toAnySlice(network)...)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		// Memoization is an optimization; the computed set is still good.
		c.logger.Warn("memoize network failed", "identity", id, "err", err)
	}
	return network, nil
}

// Invalidate bumps the shared generation counter.
func (c *Redis) Invalidate(ctx context.Context) {
	if err := c.client.Incr(ctx, redisGenKey).Err(); err != nil {
		c.logger.Warn("bump generation failed", "err", err)
	}
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
