package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamSink_UnreachableFails(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	s := NewStreamSink(client, "", 0)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Record(ctx, makeDecision("d1", "a", true, base))
	assert.ErrorContains(t, err, "xadd "+DefaultStream)
}

func TestStreamSink_Live(t *testing.T) {
	addr := os.Getenv("TRUSTGATE_TEST_REDIS")
	if addr == "" {
		t.Skip("TRUSTGATE_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	stream := "trustgate:test:" + time.Now().Format("150405.000000")
	s := NewStreamSink(client, stream, 100)
	defer s.Close()
	ctx := context.Background()
	defer client.Del(ctx, stream)

	require.NoError(t, s.Record(ctx, makeDecision("d1", "agent-1", true, base)))

	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "d1", msgs[0].Values["decision_id"])
	assert.Equal(t, "agent-1", msgs[0].Values["actor_id"])
}
