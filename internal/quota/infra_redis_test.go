package quota

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCodec(t *testing.T) {
	start := time.Date(2026, 10, 15, 15, 0, 0, 0, time.UTC)

	_, found, err := decodeRedis("x", map[string]string{})
	require.NoError(t, err)
	assert.False(t, found)

	rec, found, err := decodeRedis("x", map[string]string{"period_start": "1792076400", "count": "2", "unlimited": "1"})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, rec.Count)
	assert.True(t, rec.Unlimited)

	_, _, err = decodeRedis("x", map[string]string{"period_start": "soon", "count": "1"})
	assert.Error(t, err)

	enc := encodeRedis(Record{Identity: "x", PeriodStart: start, Count: 1})
	assert.Equal(t, start.Unix(), enc["period_start"])
	assert.Equal(t, 0, enc["unlimited"])
}

// Needs a running Redis; set REDIS_ADDR to run it.
func TestRedisStore_WithGate(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	prefix := "test:quota:" + uuid.NewString() + ":"
	s := NewRedisStoreWithClient(client, prefix)
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
	})

	ctx := context.Background()
	g, _ := newTestGate(t, s, 2)

	consume(t, g, "id", 2)
	adm, err := g.CheckAndReserve(ctx, "id", 1)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)

	rec, found, err := s.Get(ctx, "id")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, rec.Count)
}
