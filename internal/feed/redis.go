package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultChannelPrefix = "bitnest:account"

// RedisBroker publishes account documents on a per-account Redis channel so every
// service replica can serve subscriptions for any account.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

func NewRedisBroker(client *redis.Client, keyPrefix string) *RedisBroker {
	prefix := strings.Trim(strings.TrimSpace(keyPrefix), ":")
	if prefix == "" {
		prefix = defaultChannelPrefix
	} else {
		prefix += ":account"
	}
	return &RedisBroker{client: client, prefix: prefix}
}

func (b *RedisBroker) channel(accountID string) string {
	return fmt.Sprintf("%s:%s", b.prefix, accountID)
}

func (b *RedisBroker) Publish(ctx context.Context, account domain.Account) error {
	blob, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(account.ID), blob).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, accountID string, fn func(domain.Account)) (func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel(accountID))
	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to account feed: %w", err)
	}

	gate := &versionGate{fn: fn}
	subCtx, stop := context.WithCancel(ctx)
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var account domain.Account
				if err := json.Unmarshal([]byte(msg.Payload), &account); err != nil {
					log.Printf("level=warn component=feed msg=\"dropping malformed account push\" channel=%s err=%v", msg.Channel, err)
					continue
				}
				gate.deliver(account)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			_ = pubsub.Close()
		})
	}, nil
}
