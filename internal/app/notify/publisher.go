// Package notify delivers committed engine events to downstream systems:
// evolution notices to the notification service and balance credits to the
// wallet ledger.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/rewards_layer/pkg/logger"
)

// Channel names used by RedisPublisher.
const (
	ChannelEvolutionCompleted = "rewards.evolution.completed"
	ChannelBalanceCredit      = "rewards.balance.credit"
)

// Event kinds, also used as metric labels.
const (
	KindEvolution = "evolution"
	KindCredit    = "credit"
)

// Message is one outbound event.
type Message struct {
	Kind    string
	Key     string
	Payload any
}

// Publisher pushes a message to its transport.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// RedisPublisher publishes JSON payloads on Redis pub/sub channels.
type RedisPublisher struct {
	client   redis.UniversalClient
	channels map[string]string
}

// NewRedisPublisher uses the default channel names.
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		channels: map[string]string{
			KindEvolution: ChannelEvolutionCompleted,
			KindCredit:    ChannelBalanceCredit,
		},
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	channel, ok := p.channels[msg.Kind]
	if !ok {
		return fmt.Errorf("no channel for event kind %q", msg.Kind)
	}
	body, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", msg.Kind, err)
	}
	if err := p.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	log *logger.Logger
}

func NewLogPublisher(log *logger.Logger) *LogPublisher {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.log.WithField("kind", msg.Kind).
		WithField("key", msg.Key).
		WithField("payload", msg.Payload).
		Info("event published")
	return nil
}
