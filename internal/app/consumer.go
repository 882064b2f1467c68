package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
)

const commissionMessageTimeout = 15 * time.Second

// CommissionApplier applies a commission intent idempotently.
type CommissionApplier interface {
	ApplyCommissionIntent(ctx context.Context, intent domain.CommissionIntent) (int, error)
}

// CommissionConsumer handles commission intents delivered by RabbitMQ.
type CommissionConsumer struct {
	applier CommissionApplier
}

func NewCommissionConsumer(applier CommissionApplier) *CommissionConsumer {
	return &CommissionConsumer{applier: applier}
}

// HandleMessage returns false to have the broker redeliver the intent.
func (c *CommissionConsumer) HandleMessage(body []byte) bool {
	var intent domain.CommissionIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		log.Printf("level=error component=commission_consumer msg=\"failed to unmarshal intent\" err=%v", err)
		return true
	}
	if intent.IntentID == "" {
		log.Printf("level=warn component=commission_consumer msg=\"intent without id; dropping\"")
		return true
	}
	if _, err := domain.ParseCommissionTrigger(string(intent.Trigger)); err != nil {
		log.Printf("level=warn component=commission_consumer msg=\"unknown trigger; dropping\" intent_id=%s err=%v", intent.IntentID, err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), commissionMessageTimeout)
	defer cancel()

	if _, err := c.applier.ApplyCommissionIntent(ctx, intent); err != nil {
		log.Printf("level=warn component=commission_consumer msg=\"processing error\" intent_id=%s err=%v", intent.IntentID, err)
		return false
	}
	return true
}
