package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"meterpay/internal/core/ports"

	"github.com/rs/zerolog"
)

// SimulatedAuthorizer implements ports.PaymentAuthorizer without a real
// gateway. It approves everything except the configured decline list
// and can add artificial latency to mimic issuer round-trips.
type SimulatedAuthorizer struct {
	latency        time.Duration
	declineMethods map[string]struct{}
	log            zerolog.Logger
}

// NewSimulatedAuthorizer creates a new simulated payment authorizer.
func NewSimulatedAuthorizer(latency time.Duration, declineMethods []string, log zerolog.Logger) *SimulatedAuthorizer {
	declined := make(map[string]struct{}, len(declineMethods))
	for _, m := range declineMethods {
		declined[strings.ToUpper(m)] = struct{}{}
	}
	return &SimulatedAuthorizer{
		latency:        latency,
		declineMethods: declined,
		log:            log,
	}
}

// Authorize simulates a payment-method authorization call.
func (a *SimulatedAuthorizer) Authorize(ctx context.Context, req ports.AuthorizeRequest) (*ports.AuthorizeResult, error) {
	if a.latency > 0 {
		select {
		case <-time.After(a.latency):
		case <-ctx.Done():
			return nil, fmt.Errorf("authorization canceled: %w", ctx.Err())
		}
	}

	if _, declined := a.declineMethods[strings.ToUpper(req.PaymentMethod)]; declined {
		a.log.Info().
			Str("account_id", req.AccountID.String()).
			Str("payment_method", req.PaymentMethod).
			Msg("payment method declined")
		return &ports.AuthorizeResult{
			Approved: false,
			Detail:   "payment method declined by issuer",
		}, nil
	}

	ref := make([]byte, 8)
	if _, err := rand.Read(ref); err != nil {
		return nil, fmt.Errorf("generating authorization reference: %w", err)
	}

	return &ports.AuthorizeResult{
		Approved:  true,
		Reference: "AUTH-" + hex.EncodeToString(ref),
	}, nil
}
