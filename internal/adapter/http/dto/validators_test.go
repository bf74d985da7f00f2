package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := RegisterRequest{
		Username: "  alice  ",
		Password: "  pass1234  ",
	}
	SanitizeStruct(&req)

	assert.Equal(t, "alice", req.Username)
	assert.Equal(t, "pass1234", req.Password)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := MeterRegisterRequest{
		MeterNumber: "MTR-100200",
		Label:       "kitchen <script>alert('x')</script> meter",
	}
	SanitizeStruct(&req)

	assert.Contains(t, req.Label, "&lt;script&gt;")
	assert.NotContains(t, req.Label, "<script>")
}

func TestSanitizeStruct_HandlesPointerString(t *testing.T) {
	debtID := "  0b81a0de-8a9f-4dbb-b5a9-6f6f0891f0aa  "
	req := TransactionRequest{
		Kind:           "DEBT_PAYMENT",
		DebtID:         &debtID,
		Amount:         30000,
		IdempotencyKey: "key-1",
	}
	SanitizeStruct(&req)

	assert.Equal(t, "0b81a0de-8a9f-4dbb-b5a9-6f6f0891f0aa", *req.DebtID)
}

func TestSanitizeStruct_NilPointerIsNoOp(t *testing.T) {
	req := TransactionRequest{
		Kind:           "RECHARGE",
		MeterNumber:    "MTR-100200",
		Amount:         40000,
		IdempotencyKey: "key-1",
		DebtID:         nil,
	}
	SanitizeStruct(&req)
	assert.Nil(t, req.DebtID)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Custom Validator tests ---

func TestSafeID_Valid(t *testing.T) {
	cases := []string{
		"key-001",
		"MTR_002",
		"a.b.c",
		"simple123",
		"ABC-def_GHI.123",
	}
	for _, tc := range cases {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}
}

func TestSafeID_Invalid(t *testing.T) {
	cases := []string{
		"key 001",     // space
		"key<001>",    // angle brackets
		"key;DROP",    // semicolon
		"",            // empty
		"hello world", // space
		"key\n001",    // newline
	}
	for _, tc := range cases {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %s", tc)
	}
}

func TestSanitizeStruct_DebtRecordRequest(t *testing.T) {
	meterID := "  7c0f9efc-3c39-41b0-a2ae-26426bd5f651  "
	req := DebtRecordRequest{
		MeterID:   &meterID,
		Reference: "  BILL-2024-07  ",
		Principal: 50000,
	}
	SanitizeStruct(&req)

	assert.Equal(t, "BILL-2024-07", req.Reference)
	assert.Equal(t, "7c0f9efc-3c39-41b0-a2ae-26426bd5f651", *req.MeterID)
}
