/**
 * @description
 * This file contains the reconciliation poller. Webhooks are the primary
 * signal for terminal transfer states but they can be lost; the poller sweeps
 * in-flight payouts on a cron schedule, asks the provider for each transfer's
 * current state, and applies any terminal transition the webhook missed.
 *
 * The poller and the webhook consumer share the same guarded transition in the
 * store, so racing deliveries converge on a single terminal status.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/crescendo/payout-service/internal/domain"
	"github.com/crescendo/payout-service/internal/store"
	"github.com/crescendo/payout-service/pkg/rabbitmq"
)

const defaultPollBatchSize = 100

// StatusPoller reconciles in-flight payouts against the provider.
type StatusPoller struct {
	repo      store.Repository
	provider  ProviderClient
	producer  rabbitmq.Publisher
	batchSize int
}

// NewStatusPoller creates a poller that sweeps up to batchSize in-flight
// payouts per run. batchSize <= 0 uses the default.
func NewStatusPoller(repo store.Repository, provider ProviderClient, producer rabbitmq.Publisher, batchSize int) *StatusPoller {
	if batchSize <= 0 {
		batchSize = defaultPollBatchSize
	}
	return &StatusPoller{
		repo:      repo,
		provider:  provider,
		producer:  producer,
		batchSize: batchSize,
	}
}

// Poll runs one reconciliation sweep. Wired as a cron job entry.
func (p *StatusPoller) Poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	payouts, err := p.repo.FindProcessingPayouts(ctx, p.batchSize)
	if err != nil {
		log.Printf("level=error component=status_poller msg=\"failed to load in-flight payouts\" err=%v", err)
		return
	}
	if len(payouts) == 0 {
		return
	}
	log.Printf("level=info component=status_poller msg=\"sweeping in-flight payouts\" count=%d", len(payouts))

	var applied int
	for _, payout := range payouts {
		if payout.WiseTransferID == nil {
			continue
		}
		transfer, err := p.provider.GetTransferStatus(ctx, *payout.WiseTransferID)
		if err != nil {
			log.Printf("level=warn component=status_poller msg=\"transfer status check failed\" payout_id=%s wise_transfer_id=%s err=%v", payout.ID, *payout.WiseTransferID, err)
			continue
		}

		status, ok := statusForTransferState(transfer.Status)
		if !ok {
			continue
		}
		if err := p.repo.ApplyTerminalStatus(ctx, payout.ID, status, nil); err != nil {
			if errors.Is(err, store.ErrStaleStatusTransition) {
				continue // a webhook beat us to it
			}
			log.Printf("level=error component=status_poller msg=\"failed to apply terminal status\" payout_id=%s status=%s err=%v", payout.ID, status, err)
			continue
		}
		applied++
		log.Printf("level=info component=status_poller msg=\"reconciled payout from provider state\" payout_id=%s reference=%s status=%s", payout.ID, payout.Reference, status)
		p.publishReconciled(ctx, payout, status)
	}

	if applied > 0 {
		log.Printf("level=info component=status_poller msg=\"sweep complete\" applied=%d", applied)
	}
}

func (p *StatusPoller) publishReconciled(ctx context.Context, payout domain.PayoutRecord, status string) {
	if p.producer == nil {
		return
	}
	event := domain.PayoutLifecycleEvent{
		PayoutID:       payout.ID,
		Reference:      payout.Reference,
		CreatorID:      payout.CreatorID,
		Status:         status,
		Amount:         payout.Amount,
		Currency:       payout.Currency,
		WiseTransferID: payout.WiseTransferID,
		Timestamp:      time.Now().UTC(),
	}
	if err := p.producer.Publish(ctx, rabbitmq.PayoutEventsExchange, "payout."+status, event); err != nil {
		log.Printf("level=warn component=status_poller msg=\"lifecycle event publish failed\" payout_id=%s err=%v", payout.ID, err)
	}
}
