// ABOUTME: Tests for the Redis-backed dedup claimer
// ABOUTME: Uses miniredis to verify SET NX EX semantics and error propagation

package dedupe

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestKey(t *testing.T) {
	assert.Equal(t, "dedup:abc-123", Key("abc-123"))
}

func TestRedisClaimer_FirstWins(t *testing.T) {
	mr, client := newTestRedis(t)
	claimer := NewRedisClaimer(client)

	ok, err := claimer.Claim(t.Context(), Key("n1"), DefaultTTL)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = claimer.Claim(t.Context(), Key("n1"), DefaultTTL)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, DefaultTTL, mr.TTL("dedup:n1"))
}

func TestRedisClaimer_ExpiresAfterTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	claimer := NewRedisClaimer(client)

	ok, err := claimer.Claim(t.Context(), "dedup:n2", 0)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)

	ok, err = claimer.Claim(t.Context(), "dedup:n2", 0)
	require.NoError(t, err)
	assert.True(t, ok, "claim should be free after the TTL")
}

func TestRedisClaimer_Error(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	claimer := NewRedisClaimer(client)
	mr.Close()

	ok, err := claimer.Claim(t.Context(), "dedup:n3", time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
}
