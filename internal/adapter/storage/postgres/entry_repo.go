package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meterpay/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerEntryRepo implements ports.LedgerEntryRepository.
type LedgerEntryRepo struct {
	pool Pool
}

// NewLedgerEntryRepo creates a new LedgerEntryRepo.
func NewLedgerEntryRepo(pool Pool) *LedgerEntryRepo {
	return &LedgerEntryRepo{pool: pool}
}

// Create inserts a ledger entry within a database transaction.
func (r *LedgerEntryRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (id, account_id, transaction_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query,
		e.ID, e.AccountID, e.TransactionID, e.Amount, e.Status, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// GetByID fetches a ledger entry by UUID (without locking).
func (r *LedgerEntryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	query := `SELECT id, account_id, transaction_id, amount, status, created_at, updated_at
		FROM ledger_entries WHERE id = $1`

	return scanEntry(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a ledger entry with pessimistic locking.
// This MUST be called within a transaction.
func (r *LedgerEntryRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.LedgerEntry, error) {
	query := `SELECT id, account_id, transaction_id, amount, status, created_at, updated_at
		FROM ledger_entries WHERE id = $1 FOR UPDATE`

	return scanEntry(tx.QueryRow(ctx, query, id))
}

// UpdateStatus updates a ledger entry's status within a transaction.
func (r *LedgerEntryRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.EntryStatus) error {
	query := `UPDATE ledger_entries SET status = $1, updated_at = $2 WHERE id = $3`

	tag, err := tx.Exec(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update ledger entry status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry not found: %s", id)
	}
	return nil
}

// UpdateAmount sets a ledger entry's held amount within a transaction.
func (r *LedgerEntryRepo) UpdateAmount(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	query := `UPDATE ledger_entries SET amount = $1, updated_at = $2 WHERE id = $3`

	tag, err := tx.Exec(ctx, query, amount, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update ledger entry amount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry not found: %s", id)
	}
	return nil
}

// ListByTransaction fetches all entries tied to a transaction.
func (r *LedgerEntryRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	query := `SELECT id, account_id, transaction_id, amount, status, created_at, updated_at
		FROM ledger_entries WHERE transaction_id = $1 ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e := domain.LedgerEntry{}
		err := rows.Scan(&e.ID, &e.AccountID, &e.TransactionID, &e.Amount, &e.Status, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entry rows: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	err := row.Scan(&e.ID, &e.AccountID, &e.TransactionID, &e.Amount, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	return e, nil
}
