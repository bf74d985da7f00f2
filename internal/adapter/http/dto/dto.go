package dto

// RegisterRequest is the request body for account registration.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50,safe_id"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// LoginRequest is the request body for account login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterResponse is the response body for successful registration.
type RegisterResponse struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// TransactionRequest is the request body for submitting a recharge or
// debt payment.
type TransactionRequest struct {
	Kind           string  `json:"kind" binding:"required"`
	MeterNumber    string  `json:"meter_number,omitempty" binding:"omitempty,safe_id,max=32"`
	DebtID         *string `json:"debt_id,omitempty" binding:"omitempty,uuid"`
	Amount         int64   `json:"amount" binding:"required,gt=0"`
	IdempotencyKey string  `json:"idempotency_key" binding:"required,safe_id,max=100"`
	PaymentMethod  string  `json:"payment_method,omitempty" binding:"omitempty,safe_id,max=32"`
}

// TopupRequest is the request body for wallet topup.
type TopupRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// MeterRegisterRequest is the request body for registering a meter.
type MeterRegisterRequest struct {
	MeterNumber string `json:"meter_number" binding:"required,safe_id,min=6,max=32"`
	Label       string `json:"label,omitempty" binding:"max=100"`
}

// DebtRecordRequest is the request body for recording a debt.
type DebtRecordRequest struct {
	MeterID   *string `json:"meter_id,omitempty" binding:"omitempty,uuid"`
	Reference string  `json:"reference" binding:"required,safe_id,max=100"`
	Principal int64   `json:"principal" binding:"required,gt=0"`
}

// AllocationResponse reports one debt touched by a payment.
type AllocationResponse struct {
	DebtID  string `json:"debt_id"`
	Applied int64  `json:"applied"`
}

// TransactionResponse is the response body for transaction results.
// Token is only present on succeeded recharges fetched by the owner;
// Allocations and Remainder only on succeeded debt payments.
type TransactionResponse struct {
	ID             string               `json:"id"`
	Kind           string               `json:"kind"`
	Status         string               `json:"status"`
	Amount         int64                `json:"amount"`
	Fee            int64                `json:"fee"`
	MeterID        *string              `json:"meter_id,omitempty"`
	MeterNumber    string               `json:"meter_number,omitempty"`
	DebtID         *string              `json:"debt_id,omitempty"`
	IdempotencyKey string               `json:"idempotency_key"`
	PaymentMethod  string               `json:"payment_method,omitempty"`
	Token          string               `json:"token,omitempty"`
	Allocations    []AllocationResponse `json:"allocations,omitempty"`
	Remainder      int64                `json:"remainder,omitempty"`
	FailureReason  string               `json:"failure_reason,omitempty"`
	FailureDetail  string               `json:"failure_detail,omitempty"`
	CreatedAt      string               `json:"created_at"`
	CompletedAt    *string              `json:"completed_at,omitempty"`
}

// BalanceResponse is the response for balance queries and topups.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// MeterResponse is the response body for a registered meter.
type MeterResponse struct {
	ID          string `json:"id"`
	MeterNumber string `json:"meter_number"`
	Label       string `json:"label,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// DebtResponse is the response body for a recorded debt.
type DebtResponse struct {
	ID        string  `json:"id"`
	MeterID   *string `json:"meter_id,omitempty"`
	Reference string  `json:"reference"`
	Principal int64   `json:"principal"`
	Remaining int64   `json:"remaining"`
	CreatedAt string  `json:"created_at"`
	ClosedAt  *string `json:"closed_at,omitempty"`
}

// DashboardStatsResponse is the response for dashboard statistics.
type DashboardStatsResponse struct {
	TotalTransactions int64 `json:"total_transactions"`
	Succeeded         int64 `json:"succeeded"`
	Failed            int64 `json:"failed"`
	TotalRecharged    int64 `json:"total_recharged"`
	TotalDebtSettled  int64 `json:"total_debt_settled"`
	TotalFees         int64 `json:"total_fees"`
}

// TransactionListResponse wraps a paginated transaction list.
type TransactionListResponse struct {
	Items      []TransactionResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// MeterListResponse wraps the account's meters.
type MeterListResponse struct {
	Items []MeterResponse `json:"items"`
}

// DebtListResponse wraps the account's debts.
type DebtListResponse struct {
	Items []DebtResponse `json:"items"`
}
