package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/bitnest/ledger-service/internal/store"
	"github.com/bitnest/ledger-service/pkg/rabbitmq"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
)

// OutboxStore is the outbox slice of the document store.
type OutboxStore interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]store.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

// OutboxRecorder observes delivery outcomes.
type OutboxRecorder interface {
	RecordOutboxMessage(result string)
}

// DialFunc opens a publisher. A nil DialFunc means no broker is configured.
type DialFunc func() (rabbitmq.Publisher, error)

type OutboxDispatcher struct {
	repo                OutboxStore
	dial                DialFunc
	local               CommissionApplier
	recorder            OutboxRecorder
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	producer            rabbitmq.Publisher
}

// NewOutboxDispatcher delivers outbox rows through dial, or applies commission
// intents in-process through local when no broker is reachable.
func NewOutboxDispatcher(repo OutboxStore, dial DialFunc, local CommissionApplier, batchSize int, pollInterval time.Duration) *OutboxDispatcher {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &OutboxDispatcher{
		repo:                repo,
		dial:                dial,
		local:               local,
		batchSize:           batchSize,
		pollInterval:        pollInterval,
		staleProcessingTime: defaultStaleProcessing,
	}
}

func (d *OutboxDispatcher) SetRecorder(r OutboxRecorder) {
	d.recorder = r
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer d.closeProducer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.flushOnce(ctx); err != nil {
				log.Printf("level=warn component=outbox msg=\"flush failed\" err=%v", err)
			}
		}
	}
}

func (d *OutboxDispatcher) flushOnce(ctx context.Context) error {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	for _, message := range messages {
		if err := d.deliver(ctx, message); err != nil {
			retryAfter := retryDelaySeconds(message.Attempts)
			log.Printf("level=warn component=outbox msg=\"delivery failed\" id=%d routing_key=%s attempts=%d retry_after=%d err=%v", message.ID, message.RoutingKey, message.Attempts, retryAfter, err)
			_ = d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error())
			d.record("failed")
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			log.Printf("level=error component=outbox msg=\"failed to mark published\" id=%d err=%v", message.ID, err)
			continue
		}
		d.record("published")
	}
	return nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, message store.OutboxMessage) error {
	err := d.publishMessage(ctx, message)
	if err == nil {
		return nil
	}
	if message.RoutingKey == domain.RoutingKeyCommissionIntent && d.local != nil {
		if d.dial != nil {
			log.Printf("level=warn component=outbox msg=\"broker unavailable; applying commission in-process\" id=%d err=%v", message.ID, err)
		}
		return d.applyLocally(ctx, message)
	}
	return err
}

var errNoBroker = errors.New("no message broker configured")

func (d *OutboxDispatcher) publishMessage(ctx context.Context, message store.OutboxMessage) error {
	if d.dial == nil {
		if message.RoutingKey != domain.RoutingKeyCommissionIntent {
			// Nothing subscribes to ledger events without a broker.
			log.Printf("level=info component=outbox mode=local msg=\"event recorded\" routing_key=%s payload=%s", message.RoutingKey, message.Payload)
			return nil
		}
		return errNoBroker
	}
	if d.producer == nil {
		producer, err := d.dial()
		if err != nil {
			return err
		}
		d.producer = producer
	}

	if err := d.producer.Publish(ctx, message.Exchange, message.RoutingKey, json.RawMessage(message.Payload)); err != nil {
		d.closeProducer()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) applyLocally(ctx context.Context, message store.OutboxMessage) error {
	var intent domain.CommissionIntent
	if err := json.Unmarshal(message.Payload, &intent); err != nil {
		log.Printf("level=error component=outbox msg=\"undecodable commission intent; dropping\" id=%d err=%v", message.ID, err)
		return nil
	}
	_, err := d.local.ApplyCommissionIntent(ctx, intent)
	return err
}

func (d *OutboxDispatcher) record(result string) {
	if d.recorder != nil {
		d.recorder.RecordOutboxMessage(result)
	}
}

func (d *OutboxDispatcher) closeProducer() {
	if d.producer != nil {
		d.producer.Close()
		d.producer = nil
	}
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << minInt(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
