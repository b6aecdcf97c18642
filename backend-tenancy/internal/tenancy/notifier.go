package tenancy

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prohmpiriya/restaurant-ops/pkg/logger"
)

// DefaultReloadChannel is the pub/sub channel carrying registry change notices
const DefaultReloadChannel = "tenancy:registry:reload"

// Notifier tells other instances that the tenant registry changed
type Notifier interface {
	Publish(ctx context.Context, tenantID string) error
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, string) error { return nil }

// RedisNotifier broadcasts registry changes over Redis pub/sub.
// Messages are "<instance>:<tenant id>"; an instance ignores its own messages.
type RedisNotifier struct {
	client   *redis.Client
	channel  string
	instance string
	log      *logger.Logger
}

// NewRedisNotifier creates a notifier for this instance
func NewRedisNotifier(client *redis.Client, channel, instance string, log *logger.Logger) *RedisNotifier {
	if channel == "" {
		channel = DefaultReloadChannel
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisNotifier{client: client, channel: channel, instance: instance, log: log.Named("notifier")}
}

// Publish announces that tenantID was added or changed
func (n *RedisNotifier) Publish(ctx context.Context, tenantID string) error {
	if err := n.client.Publish(ctx, n.channel, n.instance+":"+tenantID).Err(); err != nil {
		return fmt.Errorf("publish registry change: %w", err)
	}
	return nil
}

// Subscription delivers change notices from other instances
type Subscription struct {
	pubsub   *redis.PubSub
	instance string
	log      *logger.Logger
}

// Subscribe joins the channel and waits for the server to confirm
func (n *RedisNotifier) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := n.client.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", n.channel, err)
	}
	return &Subscription{pubsub: pubsub, instance: n.instance, log: n.log}, nil
}

// Run calls onChange for every notice until ctx is done or the subscription is closed
func (s *Subscription) Run(ctx context.Context, onChange func(ctx context.Context, tenantID string)) {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			origin, tenantID, found := strings.Cut(msg.Payload, ":")
			if !found {
				s.log.Warn("ignoring malformed registry notice", zap.String("payload", msg.Payload))
				continue
			}
			if origin == s.instance {
				continue
			}
			onChange(ctx, tenantID)
		}
	}
}

// Close leaves the channel
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
