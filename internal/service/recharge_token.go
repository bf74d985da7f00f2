package service

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	tokenDigits    = 20
	tokenGroupSize = 4
)

// HashedRechargeTokenGenerator implements ports.RechargeTokenGenerator.
// Tokens are 20 decimal digits in 4-digit groups, derived from a
// SHA-256 digest over the transaction ID, meter number, a nanosecond
// timestamp and 16 random bytes. Two generations for the same
// transaction never collide in practice because of the random salt.
type HashedRechargeTokenGenerator struct{}

// NewRechargeTokenGenerator creates a new token generator.
func NewRechargeTokenGenerator() *HashedRechargeTokenGenerator {
	return &HashedRechargeTokenGenerator{}
}

// Generate produces a recharge token for the given transaction and meter.
func (g *HashedRechargeTokenGenerator) Generate(transactionID uuid.UUID, meterNumber string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating token salt: %w", err)
	}

	h := sha256.New()
	h.Write(transactionID[:])
	h.Write([]byte(meterNumber))
	h.Write([]byte(fmt.Sprintf("%d", time.Now().UnixNano())))
	h.Write(salt)
	digest := h.Sum(nil)

	var b strings.Builder
	for i := 0; i < tokenDigits; i++ {
		if i > 0 && i%tokenGroupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte('0' + digest[i]%10)
	}
	return b.String(), nil
}
