package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"meterpay/internal/core/domain"
	"meterpay/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// --- In-Memory Account Repo ---

type inMemoryAccountRepo struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*domain.Account
}

func newInMemoryAccountRepo() *inMemoryAccountRepo {
	return &inMemoryAccountRepo{accounts: make(map[uuid.UUID]*domain.Account)}
}

func (r *inMemoryAccountRepo) Create(ctx context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.Username == a.Username {
			return uniqueViolation("accounts_username_key")
		}
	}
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

func (r *inMemoryAccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *inMemoryAccountRepo) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryAccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Account, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryAccountRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, balance int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return fmt.Errorf("account not found")
	}
	a.Balance = balance
	return nil
}

// --- In-Memory Meter Repo ---

type inMemoryMeterRepo struct {
	mu     sync.RWMutex
	meters map[uuid.UUID]*domain.Meter
}

func newInMemoryMeterRepo() *inMemoryMeterRepo {
	return &inMemoryMeterRepo{meters: make(map[uuid.UUID]*domain.Meter)}
}

func (r *inMemoryMeterRepo) Create(ctx context.Context, m *domain.Meter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.meters {
		if existing.MeterNumber == m.MeterNumber {
			return uniqueViolation("meters_meter_number_key")
		}
	}
	cp := *m
	r.meters[m.ID] = &cp
	return nil
}

func (r *inMemoryMeterRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Meter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meters[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *inMemoryMeterRepo) GetByNumber(ctx context.Context, meterNumber string) (*domain.Meter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.meters {
		if m.MeterNumber == meterNumber {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryMeterRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Meter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Meter
	for _, m := range r.meters {
		if m.AccountID == accountID {
			result = append(result, *m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *inMemoryMeterRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MeterStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meters[id]
	if !ok {
		return fmt.Errorf("meter not found")
	}
	m.Status = status
	return nil
}

// --- In-Memory Debt Repo ---

type inMemoryDebtRepo struct {
	mu    sync.RWMutex
	debts map[uuid.UUID]*domain.Debt
}

func newInMemoryDebtRepo() *inMemoryDebtRepo {
	return &inMemoryDebtRepo{debts: make(map[uuid.UUID]*domain.Debt)}
}

func (r *inMemoryDebtRepo) Create(ctx context.Context, d *domain.Debt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.debts[d.ID] = &cp
	return nil
}

func (r *inMemoryDebtRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Debt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.debts[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *inMemoryDebtRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Debt, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryDebtRepo) ListOpenForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) ([]domain.Debt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Debt
	for _, d := range r.debts {
		if d.AccountID == accountID && d.Remaining > 0 {
			result = append(result, *d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *inMemoryDebtRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, openOnly bool) ([]domain.Debt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Debt
	for _, d := range r.debts {
		if d.AccountID != accountID {
			continue
		}
		if openOnly && d.Remaining <= 0 {
			continue
		}
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *inMemoryDebtRepo) ApplyPayment(ctx context.Context, tx pgx.Tx, d *domain.Debt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.debts[d.ID]; !ok {
		return fmt.Errorf("debt not found")
	}
	cp := *d
	r.debts[d.ID] = &cp
	return nil
}

// --- In-Memory Transaction Repo ---

type inMemoryTransactionRepo struct {
	mu           sync.RWMutex
	transactions map[uuid.UUID]*domain.Transaction
	byIdemKey    map[string]uuid.UUID // "account_id:key" -> transaction ID
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{
		transactions: make(map[uuid.UUID]*domain.Transaction),
		byIdemKey:    make(map[string]uuid.UUID),
	}
}

func (r *inMemoryTransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := domain.BuildIdempotencyKey(t.AccountID, t.IdempotencyKey)
	if _, exists := r.byIdemKey[key]; exists {
		return uniqueViolation("transactions_account_idem_key")
	}
	cp := *t
	r.transactions[t.ID] = &cp
	r.byIdemKey[key] = t.ID
	return nil
}

func (r *inMemoryTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transactions[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryTransactionRepo) GetByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdemKey[domain.BuildIdempotencyKey(accountID, key)]
	if !ok {
		return nil, nil
	}
	cp := *r.transactions[id]
	return &cp, nil
}

func (r *inMemoryTransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[id]
	if !ok {
		return fmt.Errorf("transaction not found")
	}
	t.Status = status
	return nil
}

func (r *inMemoryTransactionRepo) Finalize(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transactions[t.ID]; !ok {
		return fmt.Errorf("transaction not found")
	}
	cp := *t
	r.transactions[t.ID] = &cp
	return nil
}

func (r *inMemoryTransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Transaction
	for _, t := range r.transactions {
		if t.AccountID != params.AccountID {
			continue
		}
		if params.Status != nil && t.Status != *params.Status {
			continue
		}
		if params.Kind != nil && t.Kind != *params.Kind {
			continue
		}
		if params.MeterID != nil && (t.MeterID == nil || *t.MeterID != *params.MeterID) {
			continue
		}
		if params.From != nil && t.CreatedAt.Unix() < *params.From {
			continue
		}
		if params.To != nil && t.CreatedAt.Unix() > *params.To {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	total := int64(len(result))

	// Simple pagination
	start := (params.Page - 1) * params.PageSize
	if start >= len(result) {
		return []domain.Transaction{}, total, nil
	}
	end := start + params.PageSize
	if end > len(result) {
		end = len(result)
	}
	return result[start:end], total, nil
}

func (r *inMemoryTransactionRepo) GetStats(ctx context.Context, accountID uuid.UUID, periodStart *int64) (*ports.TransactionStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &ports.TransactionStats{}
	for _, t := range r.transactions {
		if t.AccountID != accountID {
			continue
		}
		if periodStart != nil && t.CreatedAt.Unix() < *periodStart {
			continue
		}
		stats.TotalTransactions++
		switch t.Status {
		case domain.StatusSucceeded:
			stats.Succeeded++
		case domain.StatusFailed:
			stats.Failed++
		}
		if t.Status == domain.StatusSucceeded {
			switch t.Kind {
			case domain.KindRecharge:
				stats.TotalRecharged += t.Amount
			case domain.KindDebtPayment:
				stats.TotalDebtSettled += t.Amount
			}
			stats.TotalFees += t.Fee
		}
	}
	return stats, nil
}

// --- In-Memory Ledger Entry Repo ---

type inMemoryLedgerEntryRepo struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*domain.LedgerEntry
}

func newInMemoryLedgerEntryRepo() *inMemoryLedgerEntryRepo {
	return &inMemoryLedgerEntryRepo{entries: make(map[uuid.UUID]*domain.LedgerEntry)}
}

func (r *inMemoryLedgerEntryRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.entries[e.ID] = &cp
	return nil
}

func (r *inMemoryLedgerEntryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *inMemoryLedgerEntryRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.LedgerEntry, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryLedgerEntryRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.EntryStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("ledger entry not found")
	}
	e.Status = status
	return nil
}

func (r *inMemoryLedgerEntryRepo) UpdateAmount(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("ledger entry not found")
	}
	e.Amount = amount
	return nil
}

func (r *inMemoryLedgerEntryRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.LedgerEntry
	for _, e := range r.entries {
		if e.TransactionID == transactionID {
			result = append(result, *e)
		}
	}
	return result, nil
}

// --- In-Memory Idempotency Repo ---

type inMemoryIdempotencyRepo struct {
	mu   sync.RWMutex
	logs map[string]*domain.IdempotencyLog
}

func newInMemoryIdempotencyRepo() *inMemoryIdempotencyRepo {
	return &inMemoryIdempotencyRepo{logs: make(map[string]*domain.IdempotencyLog)}
}

func (r *inMemoryIdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs[log.Key] = log
	return nil
}

func (r *inMemoryIdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.logs[key]
	if !ok {
		return nil, nil
	}
	return l, nil
}

// --- In-Memory Transactor ---

// lockingTransactor serializes database transactions behind a single
// mutex, standing in for row-level locks. Each Begin blocks until the
// previous transaction commits or rolls back, so balance checks and
// updates inside one transaction block are atomic as they would be
// under SELECT FOR UPDATE.
type lockingTransactor struct {
	mu sync.Mutex
}

func newLockingTransactor() *lockingTransactor {
	return &lockingTransactor{}
}

func (t *lockingTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	t.mu.Lock()
	return &memTx{mu: &t.mu}, nil
}

// memTx is a pgx.Tx that releases the transactor lock on commit or
// rollback. Data changes are applied immediately by the repos; rollback
// does not undo them, which matches how the services use transactions
// (explicit compensation on business failures).
type memTx struct {
	mu   *sync.Mutex
	once sync.Once
}

func (t *memTx) release() {
	t.once.Do(t.mu.Unlock)
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *memTx) Commit(ctx context.Context) error          { t.release(); return nil }
func (t *memTx) Rollback(ctx context.Context) error        { t.release(); return nil }
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *memTx) Conn() *pgx.Conn { return nil }
