package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meterpay/internal/core/domain"
	"meterpay/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const transactionColumns = `id, account_id, meter_id, meter_number, debt_id, kind, status,
		amount, fee, idempotency_key, payment_method, failure_reason, failure_detail,
		encrypted_token, created_at, updated_at, completed_at`

// Create inserts a new transaction within a database transaction.
// The submitted target (meter_number / debt_id) is stored verbatim so
// idempotent retries can be checked against it. The
// (account_id, idempotency_key) pair carries a unique constraint;
// a violation surfaces as a pgconn error with SQLSTATE 23505 and marks
// the loser of a concurrent duplicate submission.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.AccountID, t.MeterID, t.MeterNumber, t.DebtID, t.Kind, t.Status,
		t.Amount, t.Fee, t.IdempotencyKey, t.PaymentMethod,
		nullableString(string(t.FailureReason)), t.FailureDetail, t.EncryptedToken,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey fetches a transaction by account ID and idempotency key.
func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE account_id = $1 AND idempotency_key = $2`

	return scanTransaction(r.pool.QueryRow(ctx, query, accountID, key))
}

// UpdateStatus updates a transaction's status within a database transaction.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) error {
	query := `UPDATE transactions SET status = $1, updated_at = $2 WHERE id = $3`

	tag, err := tx.Exec(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", id)
	}
	return nil
}

// Finalize writes a transaction's terminal status and outcome fields,
// including the meter resolved during the recharge effect.
func (r *TransactionRepo) Finalize(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `UPDATE transactions
		SET status = $1, meter_id = $2, failure_reason = $3, failure_detail = $4,
			encrypted_token = $5, updated_at = $6, completed_at = $7
		WHERE id = $8`

	tag, err := tx.Exec(ctx, query,
		t.Status, t.MeterID, nullableString(string(t.FailureReason)), t.FailureDetail,
		t.EncryptedToken, t.UpdatedAt, t.CompletedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("finalize transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", t.ID)
	}
	return nil
}

// List fetches transactions with filtering and pagination.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("account_id = $%d", argIdx))
	args = append(args, params.AccountID)
	argIdx++

	if params.MeterID != nil {
		conditions = append(conditions, fmt.Sprintf("meter_id = $%d", argIdx))
		args = append(args, *params.MeterID)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, *params.Kind)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= to_timestamp($%d)", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= to_timestamp($%d)", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT `+transactionColumns+`
		FROM transactions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := collectTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, total, nil
}

// GetStats retrieves aggregated transaction statistics for an account.
func (r *TransactionRepo) GetStats(ctx context.Context, accountID uuid.UUID, periodStart *int64) (*ports.TransactionStats, error) {
	var args []any
	argIdx := 1

	condition := fmt.Sprintf("account_id = $%d", argIdx)
	args = append(args, accountID)
	argIdx++

	if periodStart != nil {
		condition += fmt.Sprintf(" AND created_at >= to_timestamp($%d)", argIdx)
		args = append(args, *periodStart)
	}

	query := fmt.Sprintf(`SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'SUCCEEDED') AS succeeded,
		COUNT(*) FILTER (WHERE status = 'FAILED') AS failed,
		COALESCE(SUM(amount) FILTER (WHERE kind = 'RECHARGE' AND status = 'SUCCEEDED'), 0) AS recharged,
		COALESCE(SUM(amount) FILTER (WHERE kind = 'DEBT_PAYMENT' AND status = 'SUCCEEDED'), 0) AS debt_settled,
		COALESCE(SUM(fee) FILTER (WHERE status = 'SUCCEEDED'), 0) AS fees
		FROM transactions WHERE %s`, condition)

	stats := &ports.TransactionStats{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&stats.TotalTransactions, &stats.Succeeded, &stats.Failed,
		&stats.TotalRecharged, &stats.TotalDebtSettled, &stats.TotalFees,
	)
	if err != nil {
		return nil, fmt.Errorf("get transaction stats: %w", err)
	}
	return stats, nil
}

func collectTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var reason *string
	err := row.Scan(
		&t.ID, &t.AccountID, &t.MeterID, &t.MeterNumber, &t.DebtID, &t.Kind, &t.Status,
		&t.Amount, &t.Fee, &t.IdempotencyKey, &t.PaymentMethod, &reason, &t.FailureDetail,
		&t.EncryptedToken, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		t.FailureReason = domain.FailureReason(*reason)
	}
	return t, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t, err := collectTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}

// nullableString maps "" to NULL for columns with CHECK constraints.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
