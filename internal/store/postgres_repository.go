/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the `payouts` and
 * `payout_status_history` tables, which together form the durable payout ledger.
 *
 * Key behaviors:
 * - Every status mutation appends a row to `payout_status_history` inside the
 *   same transaction, so the audit trail can never diverge from the record.
 * - Status transitions are guarded in SQL: a terminal record matches no UPDATE,
 *   which makes regressions impossible even under concurrent webhook/poller writes.
 * - A unique-constraint violation on `reference` surfaces as ErrDuplicateReference.
 *
 * @dependencies
 * - context, encoding/json, errors, fmt, strings: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/crescendo/payout-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrCreatorNotFound       = errors.New("creator not found")
	ErrPayoutNotFound        = errors.New("payout not found")
	ErrDuplicateReference    = errors.New("payout reference already exists")
	ErrStaleStatusTransition = errors.New("payout already in a terminal status")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const payoutColumns = `
	id, reference, customer_transaction_id, creator_id, amount, currency,
	bank_account_number, account_holder_name, bank_code, bank_name,
	wise_recipient_id, wise_quote_id, wise_transfer_id,
	exchange_rate, source_amount, source_currency, provider_fee,
	status, error_message, error_code, metadata,
	created_at, updated_at, completed_at, failed_at, deleted_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayout(row rowScanner) (*domain.PayoutRecord, error) {
	var p domain.PayoutRecord
	var metadataRaw []byte
	err := row.Scan(
		&p.ID, &p.Reference, &p.CustomerTransactionID, &p.CreatorID, &p.Amount, &p.Currency,
		&p.BankAccountNumber, &p.AccountHolderName, &p.BankCode, &p.BankName,
		&p.WiseRecipientID, &p.WiseQuoteID, &p.WiseTransferID,
		&p.ExchangeRate, &p.SourceAmount, &p.SourceCurrency, &p.ProviderFee,
		&p.Status, &p.ErrorMessage, &p.ErrorCode, &metadataRaw,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt, &p.FailedAt, &p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode payout metadata: %w", err)
		}
	}
	return &p, nil
}

// CreatorExists reports whether a creator row exists for the given id.
func (r *PostgresRepository) CreatorExists(ctx context.Context, creatorID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM creators WHERE id = $1)`, creatorID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// CreatePayout inserts a new payout record in `pending` status and writes the
// opening status-history row in the same transaction.
func (r *PostgresRepository) CreatePayout(ctx context.Context, payout *domain.PayoutRecord) error {
	metadataJSON, err := json.Marshal(payout.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode payout metadata: %w", err)
	}
	if payout.Metadata == nil {
		metadataJSON = []byte("{}")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO payouts (
			id, reference, customer_transaction_id, creator_id, amount, currency,
			bank_account_number, account_holder_name, bank_code, bank_name,
			status, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		payout.ID, payout.Reference, payout.CustomerTransactionID, payout.CreatorID,
		payout.Amount, payout.Currency, payout.BankAccountNumber, payout.AccountHolderName,
		payout.BankCode, payout.BankName, domain.PayoutStatusPending, metadataJSON,
	).Scan(&payout.CreatedAt, &payout.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return err
	}
	payout.Status = domain.PayoutStatusPending

	if err := appendStatusHistory(ctx, tx, payout.ID, domain.PayoutStatusPending, nil, nil); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkPayoutProcessing stores the provider-quoted financials and moves a
// pending payout to `processing`.
func (r *PostgresRepository) MarkPayoutProcessing(ctx context.Context, payoutID uuid.UUID, details ProcessingDetails) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE payouts
		SET status = $2,
			wise_quote_id = $3,
			wise_transfer_id = $4,
			exchange_rate = $5,
			source_amount = $6,
			source_currency = $7,
			provider_fee = $8,
			updated_at = NOW()
		WHERE id = $1 AND status = $9 AND deleted_at IS NULL
		RETURNING id
	`
	var updatedID uuid.UUID
	err = tx.QueryRow(ctx, query,
		payoutID, domain.PayoutStatusProcessing,
		details.WiseQuoteID, details.WiseTransferID, details.ExchangeRate,
		details.SourceAmount, details.SourceCurrency, details.ProviderFee,
		domain.PayoutStatusPending,
	).Scan(&updatedID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return r.classifyMissedTransition(ctx, payoutID)
		}
		return err
	}

	prior := domain.PayoutStatusPending
	if err := appendStatusHistory(ctx, tx, payoutID, domain.PayoutStatusProcessing, &prior, nil); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkPayoutFailed moves a non-terminal payout to `failed`, recording the
// machine-readable code and human-readable message.
func (r *PostgresRepository) MarkPayoutFailed(ctx context.Context, payoutID uuid.UUID, errorCode, errorMessage string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var prior string
	err = tx.QueryRow(ctx,
		`SELECT status FROM payouts WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		payoutID,
	).Scan(&prior)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrPayoutNotFound
		}
		return err
	}
	if domain.IsTerminalPayoutStatus(prior) {
		return ErrStaleStatusTransition
	}

	query := `
		UPDATE payouts
		SET status = $2,
			error_code = $3,
			error_message = $4,
			failed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, payoutID, domain.PayoutStatusFailed, errorCode, errorMessage); err != nil {
		return err
	}

	if err := appendStatusHistory(ctx, tx, payoutID, domain.PayoutStatusFailed, &prior, &errorMessage); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SetPayoutRecipient records the provider recipient id once it is known.
func (r *PostgresRepository) SetPayoutRecipient(ctx context.Context, payoutID uuid.UUID, wiseRecipientID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payouts SET wise_recipient_id = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		payoutID, wiseRecipientID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPayoutNotFound
	}
	return nil
}

// ApplyTerminalStatus moves a payout from a non-terminal status to the given
// terminal one. Already-terminal records are left untouched and reported via
// ErrStaleStatusTransition so callers can acknowledge replays without acting.
func (r *PostgresRepository) ApplyTerminalStatus(ctx context.Context, payoutID uuid.UUID, status string, reason *string) error {
	if !domain.IsTerminalPayoutStatus(status) {
		return fmt.Errorf("status %q is not terminal", status)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var prior string
	err = tx.QueryRow(ctx,
		`SELECT status FROM payouts WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		payoutID,
	).Scan(&prior)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrPayoutNotFound
		}
		return err
	}
	if domain.IsTerminalPayoutStatus(prior) {
		return ErrStaleStatusTransition
	}

	query := `
		UPDATE payouts
		SET status = $2,
			completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE completed_at END,
			failed_at = CASE WHEN $2 = 'failed' THEN NOW() ELSE failed_at END,
			error_message = CASE WHEN $2 = 'failed' THEN COALESCE($3, error_message) ELSE error_message END,
			updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, payoutID, status, reason); err != nil {
		return err
	}

	if err := appendStatusHistory(ctx, tx, payoutID, status, &prior, reason); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// classifyMissedTransition decides why a guarded UPDATE matched nothing.
func (r *PostgresRepository) classifyMissedTransition(ctx context.Context, payoutID uuid.UUID) error {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM payouts WHERE id = $1 AND deleted_at IS NULL`, payoutID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrPayoutNotFound
		}
		return err
	}
	if domain.IsTerminalPayoutStatus(status) {
		return ErrStaleStatusTransition
	}
	return fmt.Errorf("payout %s in unexpected status %q", payoutID, status)
}

func appendStatusHistory(ctx context.Context, tx pgx.Tx, payoutID uuid.UUID, status string, prior *string, errorMessage *string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payout_status_history (id, payout_id, status, prior_status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New(), payoutID, status, prior, errorMessage)
	return err
}

// FindPayoutByID retrieves a payout by its internal id.
func (r *PostgresRepository) FindPayoutByID(ctx context.Context, payoutID uuid.UUID) (*domain.PayoutRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = $1 AND deleted_at IS NULL`, payoutID)
	payout, err := scanPayout(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return payout, nil
}

// FindPayoutByReference retrieves a payout by its unique reference.
func (r *PostgresRepository) FindPayoutByReference(ctx context.Context, reference string) (*domain.PayoutRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE reference = $1 AND deleted_at IS NULL`, reference)
	payout, err := scanPayout(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return payout, nil
}

// FindPayoutByWiseTransferID retrieves a payout by the provider transfer id.
func (r *PostgresRepository) FindPayoutByWiseTransferID(ctx context.Context, wiseTransferID string) (*domain.PayoutRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE wise_transfer_id = $1 AND deleted_at IS NULL`, wiseTransferID)
	payout, err := scanPayout(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return payout, nil
}

// ListPayoutsByCreator returns a creator's payouts with optional status,
// currency and date-range filters, newest first.
func (r *PostgresRepository) ListPayoutsByCreator(ctx context.Context, creatorID uuid.UUID, opts domain.PayoutListOptions) ([]domain.PayoutRecord, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + payoutColumns + ` FROM payouts WHERE creator_id = $1 AND deleted_at IS NULL`)
	args := []any{creatorID}

	if opts.Status != "" {
		args = append(args, opts.Status)
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if opts.Currency != "" {
		args = append(args, opts.Currency)
		fmt.Fprintf(&sb, " AND currency = $%d", len(args))
	}
	if opts.From != nil {
		args = append(args, *opts.From)
		fmt.Fprintf(&sb, " AND created_at >= $%d", len(args))
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		fmt.Fprintf(&sb, " AND created_at < $%d", len(args))
	}

	sb.WriteString(" ORDER BY created_at DESC")

	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPayouts(rows)
}

// FindProcessingPayouts lists in-flight payouts for the status poller, oldest first.
func (r *PostgresRepository) FindProcessingPayouts(ctx context.Context, limit int) ([]domain.PayoutRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE status = $1 AND wise_transfer_id IS NOT NULL AND deleted_at IS NULL
		ORDER BY updated_at ASC
		LIMIT $2
	`, domain.PayoutStatusProcessing, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPayouts(rows)
}

// PendingSummaryByCurrency returns the operational rollup of pending payouts.
func (r *PostgresRepository) PendingSummaryByCurrency(ctx context.Context) ([]domain.PendingCurrencySummary, error) {
	rows, err := r.db.Query(ctx, `
		SELECT currency, COUNT(*), COALESCE(SUM(amount), 0)
		FROM payouts
		WHERE status = $1 AND deleted_at IS NULL
		GROUP BY currency
		ORDER BY currency
	`, domain.PayoutStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []domain.PendingCurrencySummary
	for rows.Next() {
		var s domain.PendingCurrencySummary
		if err := rows.Scan(&s.Currency, &s.Count, &s.Amount); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// FindLatestRecipientID looks up the most recent provider recipient id used
// for this creator/account/currency tuple. Best-effort cache, not a lock.
func (r *PostgresRepository) FindLatestRecipientID(ctx context.Context, creatorID uuid.UUID, accountNumber, currency string) (string, error) {
	var recipientID string
	err := r.db.QueryRow(ctx, `
		SELECT wise_recipient_id
		FROM payouts
		WHERE creator_id = $1
		  AND bank_account_number = $2
		  AND currency = $3
		  AND wise_recipient_id IS NOT NULL
		  AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, creatorID, accountNumber, currency).Scan(&recipientID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return recipientID, nil
}

// ListStatusHistory returns the append-only status trail for a payout, oldest first.
func (r *PostgresRepository) ListStatusHistory(ctx context.Context, payoutID uuid.UUID) ([]domain.PayoutStatusHistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, payout_id, status, prior_status, error_message, created_at
		FROM payout_status_history
		WHERE payout_id = $1
		ORDER BY created_at ASC
	`, payoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.PayoutStatusHistoryEntry
	for rows.Next() {
		var e domain.PayoutStatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.PayoutID, &e.Status, &e.PriorStatus, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SoftDeletePayout stamps deleted_at; the row remains queryable for audit via
// the history table but drops out of all default queries.
func (r *PostgresRepository) SoftDeletePayout(ctx context.Context, payoutID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payouts SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		payoutID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func collectPayouts(rows pgx.Rows) ([]domain.PayoutRecord, error) {
	var payouts []domain.PayoutRecord
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payouts, nil
}
