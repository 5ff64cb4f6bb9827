package ttlstore

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// These only exercise the pure helpers: Get/Put need a live Redis server,
// which isn't available in this environment.

func TestRedisKeyDefaultPrefix(t *testing.T) {
	r := NewRedis(RedisOptions{})
	key := Key{Identity: "alice", TTLMax: 5}
	require.Equal(t, "vproxy:ttl:alice:5", r.redisKey(key))
}

func TestRedisKeyCustomPrefix(t *testing.T) {
	r := NewRedis(RedisOptions{KeyPrefix: "myapp:"})
	key := Key{Identity: "bob", TTLMax: 0}
	require.Equal(t, "myapp:bob:0", r.redisKey(key))
}

func TestParseStoredIP(t *testing.T) {
	ip := parseStoredIP("198.51.100.1")
	require.NotNil(t, ip)
	require.Equal(t, "198.51.100.1", ip.String())

	require.Nil(t, parseStoredIP("not-an-ip"))
}

func TestNewRedisUsesGivenOptions(t *testing.T) {
	r := NewRedis(RedisOptions{Options: redis.Options{Addr: "127.0.0.1:6379"}})
	require.NotNil(t, r.client)
}
