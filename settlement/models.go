// Package settlement turns time-gated earnings (e.g. referral rewards)
// into authoritative ledger entries, and handles clawback of earnings
// that were never, or only partially, recoverable from the paying
// account's current balance.
package settlement

import (
	"time"

	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

// ReceivableStatus is the lifecycle state of a clawback receivable.
type ReceivableStatus string

const (
	ReceivableOpen     ReceivableStatus = "open"
	ReceivableResolved ReceivableStatus = "resolved"
)

// Receivable tracks the unrecovered remainder of a clawback that
// exceeded the account's settled balance at the time it was applied.
// Subsequent earnings drip-recover against it until it reaches zero.
type Receivable struct {
	ID                id.ReceivableID  `json:"id"`
	AccountID         id.AccountID     `json:"account_id"`
	OriginalMicro     types.MicroUSD   `json:"original_micro"`
	BalanceMicro      types.MicroUSD   `json:"balance_micro"`
	SourceClawbackID  string           `json:"source_clawback_id"`
	Status            ReceivableStatus `json:"status"`
	CreatedAt         time.Time        `json:"created_at"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty"`
}

// NewReceivable constructs an open Receivable for a clawback that
// exceeded the account's settled balance. original is the full
// clawback amount; remainder is the portion left unrecovered after
// the available balance was applied, and becomes the starting balance.
func NewReceivable(accountID id.AccountID, original, remainder types.MicroUSD, sourceClawbackID string) *Receivable {
	return &Receivable{
		ID:               id.NewReceivableID(),
		AccountID:        accountID,
		OriginalMicro:    original,
		BalanceMicro:     remainder,
		SourceClawbackID: sourceClawbackID,
		Status:           ReceivableOpen,
		CreatedAt:        time.Now().UTC(),
	}
}

// ApplyRecovery reduces the receivable's balance by amount, marking it
// resolved once the balance reaches zero. amount must not exceed the
// current balance.
func (r *Receivable) ApplyRecovery(amount types.MicroUSD) {
	remaining, err := r.BalanceMicro.Sub(amount)
	if err != nil {
		remaining = 0
	}
	r.BalanceMicro = remaining
	if r.BalanceMicro.IsZero() {
		r.Status = ReceivableResolved
		now := time.Now().UTC()
		r.ResolvedAt = &now
	}
}

// Earning is the external, time-gated earning record settlement reads
// and marks (e.g. a referral reward accrued by an agent). Earnings are
// owned outside the core — the settlement package only consumes them
// through the EarningsSource interface in settlement.go — but the shape
// is declared here since every settlement operation takes one as input.
type Earning struct {
	ID          string
	AccountID   id.AccountID
	AmountMicro types.MicroUSD
	CreatedAt   time.Time
	SettleAfter *time.Time
	SettledAt   *time.Time
}
