package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher is the subset of the Redis client the sink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) (int64, error)
}

// RedisSink publishes messages as JSON on a Pub/Sub channel.
type RedisSink struct {
	pub     Publisher
	channel string
}

func NewRedisSink(pub Publisher, channel string) *RedisSink {
	return &RedisSink{pub: pub, channel: channel}
}

func (s *RedisSink) Notify(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if _, err := s.pub.Publish(ctx, s.channel, payload); err != nil {
		return err
	}
	return nil
}
