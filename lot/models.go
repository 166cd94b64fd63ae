// Package lot defines credit lots, the unit of value an account holds.
package lot

import (
	"time"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

// SourceType records how a lot came into existence.
type SourceType string

const (
	SourceDeposit    SourceType = "deposit"
	SourceGrant      SourceType = "grant"
	SourceTransferIn SourceType = "transfer_in"
	SourceTBADeposit SourceType = "tba_deposit"
	SourcePurchase   SourceType = "purchase"
)

// Lot is a quantity of credit minted to an account at a point in time and
// consumed FIFO. Invariant: Available + Reserved + Consumed == Original,
// at every committed state. A lot is never physically deleted; its three
// buckets only move among each other via reserve/finalize/release, except
// for peer transfer, which additionally reduces Original and Available in
// lockstep (see the transfer package).
type Lot struct {
	types.Entity
	ID             id.LotID       `json:"id"`
	AccountID      id.AccountID   `json:"account_id"`
	Pool           account.Pool   `json:"pool"`
	SourceType     SourceType     `json:"source_type"`
	SourceID       string         `json:"source_id,omitempty"`
	OriginalMicro  types.MicroUSD `json:"original_micro"`
	AvailableMicro types.MicroUSD `json:"available_micro"`
	ReservedMicro  types.MicroUSD `json:"reserved_micro"`
	ConsumedMicro  types.MicroUSD `json:"consumed_micro"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
}

// Conserved reports whether the lot's three buckets still sum to its
// original amount, the invariant that must hold at every committed state.
func (l *Lot) Conserved() bool {
	return l.AvailableMicro.Int64()+l.ReservedMicro.Int64()+l.ConsumedMicro.Int64() == l.OriginalMicro.Int64()
}

// Expired reports whether the lot has a finite expiry that has passed as
// of asOf.
func (l *Lot) Expired(asOf time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(asOf)
}

// New constructs a new Lot with Available seeded to the full amount.
func New(accountID id.AccountID, pool account.Pool, amount types.MicroUSD, sourceType SourceType, sourceID string, expiresAt *time.Time) *Lot {
	return &Lot{
		Entity:         types.NewEntity(),
		ID:             id.NewLotID(),
		AccountID:      accountID,
		Pool:           account.Normalize(pool),
		SourceType:     sourceType,
		SourceID:       sourceID,
		OriginalMicro:  amount,
		AvailableMicro: amount,
		ExpiresAt:      expiresAt,
	}
}
