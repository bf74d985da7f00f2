package postgres

import (
	"context"
	"errors"
	"fmt"

	"meterpay/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DebtRepo implements ports.DebtRepository.
type DebtRepo struct {
	pool Pool
}

// NewDebtRepo creates a new DebtRepo.
func NewDebtRepo(pool Pool) *DebtRepo {
	return &DebtRepo{pool: pool}
}

// Create inserts a new debt.
func (r *DebtRepo) Create(ctx context.Context, d *domain.Debt) error {
	query := `INSERT INTO debts (id, account_id, meter_id, reference, principal, remaining, created_at, updated_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.AccountID, d.MeterID, d.Reference, d.Principal, d.Remaining,
		d.CreatedAt, d.UpdatedAt, d.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("insert debt: %w", err)
	}
	return nil
}

// GetByID fetches a debt by UUID (without locking).
func (r *DebtRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Debt, error) {
	query := `SELECT id, account_id, meter_id, reference, principal, remaining, created_at, updated_at, closed_at
		FROM debts WHERE id = $1`

	return scanDebt(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a debt by ID with pessimistic locking.
// This MUST be called within a transaction.
func (r *DebtRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Debt, error) {
	query := `SELECT id, account_id, meter_id, reference, principal, remaining, created_at, updated_at, closed_at
		FROM debts WHERE id = $1 FOR UPDATE`

	return scanDebt(tx.QueryRow(ctx, query, id))
}

// ListOpenForUpdate locks and returns all open debts for an account,
// oldest first. This MUST be called within a transaction.
func (r *DebtRepo) ListOpenForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) ([]domain.Debt, error) {
	query := `SELECT id, account_id, meter_id, reference, principal, remaining, created_at, updated_at, closed_at
		FROM debts WHERE account_id = $1 AND remaining > 0 ORDER BY created_at ASC FOR UPDATE`

	rows, err := tx.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("list open debts for update: %w", err)
	}
	defer rows.Close()

	return collectDebts(rows)
}

// ListByAccount fetches debts for an account, optionally only open ones.
func (r *DebtRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, openOnly bool) ([]domain.Debt, error) {
	query := `SELECT id, account_id, meter_id, reference, principal, remaining, created_at, updated_at, closed_at
		FROM debts WHERE account_id = $1`
	if openOnly {
		query += ` AND remaining > 0`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("list debts: %w", err)
	}
	defer rows.Close()

	return collectDebts(rows)
}

// ApplyPayment persists the post-allocation state of a debt within a
// transaction.
func (r *DebtRepo) ApplyPayment(ctx context.Context, tx pgx.Tx, d *domain.Debt) error {
	query := `UPDATE debts SET remaining = $1, updated_at = $2, closed_at = $3 WHERE id = $4`

	tag, err := tx.Exec(ctx, query, d.Remaining, d.UpdatedAt, d.ClosedAt, d.ID)
	if err != nil {
		return fmt.Errorf("apply debt payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debt not found: %s", d.ID)
	}
	return nil
}

func collectDebts(rows pgx.Rows) ([]domain.Debt, error) {
	var debts []domain.Debt
	for rows.Next() {
		d := domain.Debt{}
		err := rows.Scan(&d.ID, &d.AccountID, &d.MeterID, &d.Reference, &d.Principal,
			&d.Remaining, &d.CreatedAt, &d.UpdatedAt, &d.ClosedAt)
		if err != nil {
			return nil, fmt.Errorf("scan debt row: %w", err)
		}
		debts = append(debts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate debt rows: %w", err)
	}
	return debts, nil
}

func scanDebt(row pgx.Row) (*domain.Debt, error) {
	d := &domain.Debt{}
	err := row.Scan(&d.ID, &d.AccountID, &d.MeterID, &d.Reference, &d.Principal,
		&d.Remaining, &d.CreatedAt, &d.UpdatedAt, &d.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan debt: %w", err)
	}
	return d, nil
}
