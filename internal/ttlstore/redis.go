package ttlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is an opt-in Store backing TTL affinity with a Redis server, so
// multiple vproxy processes behind the same load balancer can share
// session/TTL affinity. It is not engaged unless a caller explicitly
// constructs one (via --ttl-store redis with --redis-address in the CLI) — the default
// deployment uses Memory and persists nothing, per spec §6.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

var _ Store = (*Redis)(nil)

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	Options   redis.Options
	KeyPrefix string
}

// NewRedis returns a Redis-backed TTL store.
func NewRedis(opt RedisOptions) *Redis {
	prefix := opt.KeyPrefix
	if prefix == "" {
		prefix = "vproxy:ttl:"
	}
	return &Redis{client: redis.NewClient(&opt.Options), keyPrefix: prefix}
}

type redisEntry struct {
	IP             string    `json:"ip"`
	RemainingHits  uint32    `json:"remaining_hits"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

func (r *Redis) redisKey(key Key) string {
	return fmt.Sprintf("%s%s:%d", r.keyPrefix, key.Identity, key.TTLMax)
}

func (r *Redis) Get(key Key) (Entry, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var re redisEntry
	if err := json.Unmarshal(raw, &re); err != nil {
		return Entry{}, false, err
	}
	return Entry{
		IP:             parseStoredIP(re.IP),
		RemainingHits:  re.RemainingHits,
		LastAccessedAt: re.LastAccessedAt,
	}, true, nil
}

func (r *Redis) Put(key Key, entry Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	re := redisEntry{
		IP:             entry.IP.String(),
		RemainingHits:  entry.RemainingHits,
		LastAccessedAt: entry.LastAccessedAt,
	}
	raw, err := json.Marshal(re)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.redisKey(key), raw, 0).Err()
}

// EvictIdleSince is a no-op for the Redis backend: entries are shared
// across processes, and bounding their lifetime is the operator's
// responsibility via Redis TTLs/maxmemory policy rather than a sweep
// any single vproxy process would own.
func (r *Redis) EvictIdleSince(time.Time) error {
	return nil
}

func parseStoredIP(s string) (ip net.IP) {
	return net.ParseIP(s)
}
