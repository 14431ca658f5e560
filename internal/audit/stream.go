package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/danielpatrickdp/trustgate/internal/gate"
)

// DefaultStream is the Redis stream key decisions are published to.
const DefaultStream = "trustgate:decisions"

// StreamSink publishes decisions to a Redis stream with XADD.
type StreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamSink publishes to stream on client. maxLen caps the stream
// length approximately; zero leaves it unbounded.
func NewStreamSink(client *redis.Client, stream string, maxLen int64) *StreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Record appends d to the stream.
func (s *StreamSink) Record(ctx context.Context, d gate.EmitDecision) error {
	record, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"decision_id": d.ID,
			"actor_id":    d.ActorID,
			"allowed":     boolToInt(d.Allowed),
			"record":      string(record),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *StreamSink) Close() error {
	return s.client.Close()
}
