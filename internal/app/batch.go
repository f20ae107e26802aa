/**
 * @description
 * This file implements batch payout processing on top of the single-payout
 * orchestrator. Batches run either sequentially (with optional stop-on-error)
 * or in parallel under a bounded worker pool. Results preserve input order and
 * each failure carries the full original item so callers can resubmit the
 * retryable subset without re-deriving bank details.
 *
 * Key behaviors:
 * - One item's failure never aborts a parallel batch; partial success is the
 *   expected outcome for bulk disbursement runs.
 * - Concurrency is capped by a fixed pool of workers draining a job channel,
 *   so goroutine count never exceeds the configured ceiling either.
 * - The summary aggregates counts and per-currency amounts for both outcomes.
 */

package app

import (
	"context"
	"log"
	"sync"

	"github.com/crescendo/payout-service/internal/domain"
)

const defaultBatchConcurrency = 5

// batchJob pairs a request with its input position so workers can write
// results into the caller-visible slot regardless of completion order.
type batchJob struct {
	idx int
	req domain.PayoutRequest
}

// ConfigureBatchConcurrency overrides the default parallel-batch ceiling used
// when a request does not name its own. Values <= 0 keep the default.
func (s *Service) ConfigureBatchConcurrency(maxConcurrent int) {
	if maxConcurrent > 0 {
		s.batchConcurrency = maxConcurrent
	}
}

// BatchPayout processes a slice of payout requests and returns the successes,
// failures, and an aggregate summary. The zero-value options run the batch in
// parallel with the default concurrency cap.
func (s *Service) BatchPayout(ctx context.Context, items []domain.PayoutRequest, opts domain.BatchPayoutOptions) *domain.BatchPayoutResult {
	results := make([]domain.PayoutResult, len(items))

	if opts.Sequential {
		for i, item := range items {
			results[i] = s.PayoutToCreator(ctx, item)
			if !results[i].Success && opts.StopOnError {
				log.Printf("level=warn component=batch_payout msg=\"stopping batch on first failure\" index=%d code=%s", i, results[i].Code)
				results = results[:i+1]
				items = items[:i+1]
				break
			}
		}
	} else {
		maxConcurrent := opts.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = s.batchConcurrency
		}
		if maxConcurrent <= 0 {
			maxConcurrent = defaultBatchConcurrency
		}
		if maxConcurrent > len(items) {
			maxConcurrent = len(items)
		}
		jobs := make(chan batchJob)
		var wg sync.WaitGroup
		for w := 0; w < maxConcurrent; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for job := range jobs {
					results[job.idx] = s.PayoutToCreator(ctx, job.req)
				}
			}()
		}
		for i, item := range items {
			jobs <- batchJob{idx: i, req: item}
		}
		close(jobs)
		wg.Wait()
	}

	return assembleBatchResult(items, results)
}

// RetryFailedPayouts resubmits the retryable subset of a previous batch's
// failures. Non-retryable failures pass through unchanged so the caller's
// view of the batch stays complete. References are cleared on resubmission:
// each attempt gets a fresh reference rather than colliding with the failed
// record already on the ledger.
func (s *Service) RetryFailedPayouts(ctx context.Context, failed []domain.BatchPayoutFailure, opts domain.BatchPayoutOptions) *domain.BatchPayoutResult {
	retryable := make([]domain.PayoutRequest, 0, len(failed))
	passthrough := make([]domain.BatchPayoutFailure, 0)
	for _, f := range failed {
		if !f.Retryable {
			passthrough = append(passthrough, f)
			continue
		}
		item := f.Item
		item.Reference = ""
		retryable = append(retryable, item)
	}

	log.Printf("level=info component=batch_payout msg=\"retrying failed payouts\" retryable=%d skipped=%d", len(retryable), len(passthrough))

	result := s.BatchPayout(ctx, retryable, opts)
	for _, f := range passthrough {
		result.Failed = append(result.Failed, f)
		result.Summary.Total++
		result.Summary.Failed++
		tallyAmount(result.Summary.Amounts, f.Item.Currency, f.Item.Amount, false)
	}
	return result
}

func assembleBatchResult(items []domain.PayoutRequest, results []domain.PayoutResult) *domain.BatchPayoutResult {
	out := &domain.BatchPayoutResult{
		Successful: make([]*domain.PayoutRecord, 0, len(results)),
		Failed:     make([]domain.BatchPayoutFailure, 0),
		Summary: domain.BatchPayoutSummary{
			Total:   len(results),
			Amounts: make(map[string]domain.CurrencyTotals),
		},
	}
	for i, res := range results {
		if res.Success {
			out.Successful = append(out.Successful, res.Payout)
			out.Summary.Succeeded++
			tallyAmount(out.Summary.Amounts, items[i].Currency, items[i].Amount, true)
			continue
		}
		out.Failed = append(out.Failed, domain.BatchPayoutFailure{
			Item:      items[i],
			Error:     res.Error,
			Code:      res.Code,
			Retryable: res.Retryable,
		})
		out.Summary.Failed++
		tallyAmount(out.Summary.Amounts, items[i].Currency, items[i].Amount, false)
	}
	return out
}

func tallyAmount(amounts map[string]domain.CurrencyTotals, currency string, amount int64, succeeded bool) {
	totals := amounts[currency]
	totals.Total += amount
	if succeeded {
		totals.Succeeded += amount
	} else {
		totals.Failed += amount
	}
	amounts[currency] = totals
}
