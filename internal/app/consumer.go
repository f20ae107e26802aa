/**
 * @description
 * This file contains the consumer that applies provider transfer state
 * changes to the payout ledger. Events arrive on the payout events exchange
 * (published by the webhook intake) and are mapped onto the record's terminal
 * status. Duplicate and out-of-order deliveries are absorbed: a record that
 * already reached a terminal status is never regressed.
 *
 * Handler return value semantics follow the consumer contract: true acks the
 * message, false nacks with requeue. Unknown transfers and stale transitions
 * ack (redelivery cannot help); transient database errors nack.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/crescendo/payout-service/internal/domain"
	"github.com/crescendo/payout-service/internal/store"
	"github.com/crescendo/payout-service/pkg/rabbitmq"
	"github.com/crescendo/payout-service/pkg/wiseclient"
)

// TransferStatusConsumer applies transfer status events to payout records.
type TransferStatusConsumer struct {
	repo     store.Repository
	producer rabbitmq.Publisher
}

// NewTransferStatusConsumer creates a consumer bound to the given repository.
func NewTransferStatusConsumer(repo store.Repository, producer rabbitmq.Publisher) *TransferStatusConsumer {
	return &TransferStatusConsumer{repo: repo, producer: producer}
}

// HandleMessage is the AMQP delivery handler for transfer.status.* events.
func (c *TransferStatusConsumer) HandleMessage(body []byte) bool {
	var event domain.TransferStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=status_consumer msg=\"failed to unmarshal transfer status event\" err=%v", err)
		return true // malformed payloads never become valid on redelivery
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return c.processEvent(ctx, event)
}

func (c *TransferStatusConsumer) processEvent(ctx context.Context, event domain.TransferStatusEvent) bool {
	if event.WiseTransferID == "" {
		log.Printf("level=warn component=status_consumer msg=\"event missing transfer id; dropping\" state=%s", event.State)
		return true
	}

	record, err := c.repo.FindPayoutByWiseTransferID(ctx, event.WiseTransferID)
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			log.Printf("level=warn component=status_consumer msg=\"no payout for transfer; dropping event\" wise_transfer_id=%s state=%s", event.WiseTransferID, event.State)
			return true
		}
		log.Printf("level=error component=status_consumer msg=\"payout lookup failed\" wise_transfer_id=%s err=%v", event.WiseTransferID, err)
		return false
	}

	status, ok := statusForTransferState(event.State)
	if !ok {
		// Intermediate provider states (processing, funds_converted, ...) are
		// informational; the record stays in `processing` until a terminal one.
		log.Printf("level=info component=status_consumer msg=\"non-terminal transfer state; no ledger change\" wise_transfer_id=%s state=%s", event.WiseTransferID, event.State)
		return true
	}

	var reason *string
	if event.Reason != "" {
		reason = &event.Reason
	}

	if err := c.repo.ApplyTerminalStatus(ctx, record.ID, status, reason); err != nil {
		if errors.Is(err, store.ErrStaleStatusTransition) {
			log.Printf("level=info component=status_consumer msg=\"payout already terminal; ignoring replay\" payout_id=%s state=%s", record.ID, event.State)
			return true
		}
		log.Printf("level=error component=status_consumer msg=\"failed to apply terminal status\" payout_id=%s status=%s err=%v", record.ID, status, err)
		return false
	}

	log.Printf("level=info component=status_consumer msg=\"payout reached terminal status\" payout_id=%s reference=%s status=%s", record.ID, record.Reference, status)

	if c.producer != nil {
		record.Status = status
		lifecycle := domain.PayoutLifecycleEvent{
			PayoutID:       record.ID,
			Reference:      record.Reference,
			CreatorID:      record.CreatorID,
			Status:         status,
			Amount:         record.Amount,
			Currency:       record.Currency,
			WiseTransferID: record.WiseTransferID,
			Timestamp:      time.Now().UTC(),
		}
		routingKey := "payout." + status
		if err := c.producer.Publish(ctx, rabbitmq.PayoutEventsExchange, routingKey, lifecycle); err != nil {
			log.Printf("level=warn component=status_consumer msg=\"lifecycle event publish failed\" routing_key=%s err=%v", routingKey, err)
		}
	}
	return true
}

// statusForTransferState maps a provider transfer state to a terminal payout
// status. Non-terminal states return ok=false.
func statusForTransferState(state string) (string, bool) {
	isComplete, isFailed := wiseclient.ClassifyTransferState(state)
	switch {
	case isComplete:
		return domain.PayoutStatusCompleted, true
	case !isFailed:
		return "", false
	case state == "cancelled":
		return domain.PayoutStatusCancelled, true
	case state == "bounced_back" || state == "funds_refunded" || state == "charged_back":
		return domain.PayoutStatusRefunded, true
	default:
		return domain.PayoutStatusFailed, true
	}
}
