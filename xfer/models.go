// Package xfer defines the peer-to-peer transfer entity.
package xfer

import (
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

// Status is the transfer lifecycle state: pending -> completed|rejected,
// with no further transitions.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// Rejection reason codes recorded on a rejected Transfer.
const (
	ReasonProvenanceFailed    = "provenance_failed"
	ReasonBudgetExceeded      = "budget_exceeded"
	ReasonInsufficientBalance = "insufficient_balance"
)

// GovernanceLimitReason formats the rejection reason for a governance
// cap violation on the named field.
func GovernanceLimitReason(field string) string {
	return "governance_limit_exceeded:" + field
}

// Transfer is a peer-to-peer movement of credit between two accounts.
type Transfer struct {
	types.Entity
	ID               id.TransferID  `json:"id"`
	IdempotencyKey   string         `json:"idempotency_key"`
	FromAccountID    id.AccountID   `json:"from_account_id"`
	ToAccountID      id.AccountID   `json:"to_account_id"`
	AmountMicro      types.MicroUSD `json:"amount_micro"`
	Status           Status         `json:"status"`
	RejectionReason  string         `json:"rejection_reason,omitempty"`
}

// New constructs a new pending Transfer.
func New(from, to id.AccountID, amount types.MicroUSD, idemKey string) *Transfer {
	return &Transfer{
		Entity:         types.NewEntity(),
		ID:             id.NewTransferID(),
		IdempotencyKey: idemKey,
		FromAccountID:  from,
		ToAccountID:    to,
		AmountMicro:    amount,
		Status:         StatusPending,
	}
}

// Reject marks the transfer rejected with the given reason. Rejection is
// a valid terminal state, not an exception.
func (t *Transfer) Reject(reason string) {
	t.Status = StatusRejected
	t.RejectionReason = reason
	t.Touch()
}

// Complete marks the transfer completed.
func (t *Transfer) Complete() {
	t.Status = StatusCompleted
	t.Touch()
}
