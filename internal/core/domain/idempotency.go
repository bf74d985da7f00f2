package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog represents a cached transaction result to prevent double-processing.
type IdempotencyLog struct {
	Key           string    `json:"key"` // Format: "account_id:idempotency_key"
	TransactionID uuid.UUID `json:"transaction_id"`
	ResponseJSON  []byte    `json:"response_json"` // Cached response to return
	CreatedAt     time.Time `json:"created_at"`
}

// BuildIdempotencyKey constructs the standard cache key format.
func BuildIdempotencyKey(accountID uuid.UUID, idempotencyKey string) string {
	return accountID.String() + ":" + idempotencyKey
}
