package postgres

import (
	"context"
	"errors"
	"fmt"

	"meterpay/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MeterRepo implements ports.MeterRepository.
type MeterRepo struct {
	pool Pool
}

// NewMeterRepo creates a new MeterRepo.
func NewMeterRepo(pool Pool) *MeterRepo {
	return &MeterRepo{pool: pool}
}

// Create inserts a new meter. The meter_number column carries a unique
// constraint; callers translate the violation into a duplicate error.
func (r *MeterRepo) Create(ctx context.Context, m *domain.Meter) error {
	query := `INSERT INTO meters (id, account_id, meter_number, label, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		m.ID, m.AccountID, m.MeterNumber, m.Label, m.Status, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert meter: %w", err)
	}
	return nil
}

// GetByID fetches a meter by UUID.
func (r *MeterRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Meter, error) {
	query := `SELECT id, account_id, meter_number, label, status, created_at, updated_at
		FROM meters WHERE id = $1`

	return scanMeter(r.pool.QueryRow(ctx, query, id))
}

// GetByNumber fetches a meter by its unique meter number.
func (r *MeterRepo) GetByNumber(ctx context.Context, meterNumber string) (*domain.Meter, error) {
	query := `SELECT id, account_id, meter_number, label, status, created_at, updated_at
		FROM meters WHERE meter_number = $1`

	return scanMeter(r.pool.QueryRow(ctx, query, meterNumber))
}

// ListByAccount fetches all meters registered to an account.
func (r *MeterRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Meter, error) {
	query := `SELECT id, account_id, meter_number, label, status, created_at, updated_at
		FROM meters WHERE account_id = $1 ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("list meters: %w", err)
	}
	defer rows.Close()

	var meters []domain.Meter
	for rows.Next() {
		m := domain.Meter{}
		err := rows.Scan(&m.ID, &m.AccountID, &m.MeterNumber, &m.Label, &m.Status, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan meter row: %w", err)
		}
		meters = append(meters, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meter rows: %w", err)
	}
	return meters, nil
}

// UpdateStatus updates a meter's lifecycle status.
func (r *MeterRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MeterStatus) error {
	query := `UPDATE meters SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update meter status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("meter not found: %s", id)
	}
	return nil
}

func scanMeter(row pgx.Row) (*domain.Meter, error) {
	m := &domain.Meter{}
	err := row.Scan(&m.ID, &m.AccountID, &m.MeterNumber, &m.Label, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan meter: %w", err)
	}
	return m, nil
}
