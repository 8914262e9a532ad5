// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package streaming publishes session progress events to Redis streams so
// that other processes can follow a session while it runs.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/pkg/types"
)

const (
	// DefaultPrefix is the stream key prefix when none is configured.
	DefaultPrefix = "deep-research:events"

	streamMaxLen = 256
	streamTTL    = 24 * time.Hour
)

// RedisSink appends every event to the stream <prefix>:<session id>.
type RedisSink struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisSink connects to addr and verifies the connection.
func NewRedisSink(ctx context.Context, cfg types.StreamingConfig, logger *zap.Logger) (*RedisSink, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("streaming: redis_addr is not configured")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("streaming: connecting to %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisSinkWithClient(client, cfg.StreamPrefix, logger), nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisSink {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{client: client, prefix: prefix, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (s *RedisSink) Name() string { return "redis" }

// StreamKey returns the stream key for a session.
func (s *RedisSink) StreamKey(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// Publish XADDs ev to the session stream, trimming it to about 256 entries.
// The stream expires a day after the last event.
func (s *RedisSink) Publish(ctx context.Context, ev types.ProgressEvent) error {
	key := s.StreamKey(ev.SessionID)
	pipe := s.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"session_id": ev.SessionID,
			"seq":        strconv.Itoa(ev.Seq),
			"state":      string(ev.State),
			"progress":   strconv.FormatFloat(ev.Progress, 'f', -1, 64),
			"detail":     ev.Detail,
			"ts_nano":    strconv.FormatInt(ev.Timestamp.UnixNano(), 10),
		},
	})
	pipe.Expire(ctx, key, streamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publishing event %d to %s: %w", ev.Seq, key, err)
	}
	s.logger.Debug("Published progress event",
		zap.String("stream", key),
		zap.Int("seq", ev.Seq),
		zap.String("state", string(ev.State)),
	)
	return nil
}

// Events reads back the events of a session in stream order.
func (s *RedisSink) Events(ctx context.Context, sessionID string) ([]types.ProgressEvent, error) {
	msgs, err := s.client.XRange(ctx, s.StreamKey(sessionID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.StreamKey(sessionID), err)
	}
	events := make([]types.ProgressEvent, 0, len(msgs))
	for _, m := range msgs {
		ev, err := decode(m.Values)
		if err != nil {
			s.logger.Warn("Skipping malformed stream entry", zap.String("id", m.ID), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Follow sends the session's events to out, starting from the first, until
// a terminal event has been sent or ctx is done. It closes out on return.
func (s *RedisSink) Follow(ctx context.Context, sessionID string, out chan<- types.ProgressEvent) error {
	defer close(out)
	key := s.StreamKey(sessionID)
	lastID := "0"
	for {
		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Count:   64,
			Block:   time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading %s: %w", key, err)
		}
		for _, st := range streams {
			for _, m := range st.Messages {
				lastID = m.ID
				ev, err := decode(m.Values)
				if err != nil {
					s.logger.Warn("Skipping malformed stream entry", zap.String("id", m.ID), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
				if ev.State.Terminal() {
					return nil
				}
			}
		}
	}
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func decode(values map[string]interface{}) (types.ProgressEvent, error) {
	str := func(k string) string {
		v, _ := values[k].(string)
		return v
	}
	seq, err := strconv.Atoi(str("seq"))
	if err != nil {
		return types.ProgressEvent{}, fmt.Errorf("seq: %w", err)
	}
	nanos, err := strconv.ParseInt(str("ts_nano"), 10, 64)
	if err != nil {
		return types.ProgressEvent{}, fmt.Errorf("ts_nano: %w", err)
	}
	// Streams written before progress was recorded decode with 0.
	progress, _ := strconv.ParseFloat(str("progress"), 64)
	return types.ProgressEvent{
		SessionID: str("session_id"),
		Seq:       seq,
		State:     types.State(str("state")),
		Progress:  progress,
		Timestamp: time.Unix(0, nanos).UTC(),
		Detail:    str("detail"),
	}, nil
}
