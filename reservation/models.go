// Package reservation defines reservations held against lots while the
// actual cost of a unit of work is still uncertain.
package reservation

import (
	"time"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

// Status is the reservation lifecycle state. Every reservation is
// created pending and makes exactly one terminal transition.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFinalized Status = "finalized"
	StatusReleased  Status = "released"
	StatusExpired   Status = "expired"
)

// Terminal reports whether s is one of the reservation's terminal states.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusReleased || s == StatusExpired
}

// BillingMode governs how Finalize treats an actual cost that exceeds
// the reserved amount.
type BillingMode string

const (
	// BillingShadow logs overruns without applying them; the reservation
	// caps at the reserved amount.
	BillingShadow BillingMode = "shadow"
	// BillingSoft applies overruns beyond the reserved amount.
	BillingSoft BillingMode = "soft"
	// BillingLive clamps consumption to the reserved amount; overrun is
	// treated as zero.
	BillingLive BillingMode = "live"
)

// DefaultBillingMode is used when the caller does not specify one.
const DefaultBillingMode = BillingLive

// DefaultTTL is used when the caller does not specify a reservation TTL.
const DefaultTTL = 300 * time.Second

// Reservation holds funds against lots without yet committing a balance
// change, pending the caller reporting the actual cost of the work it
// was reserved for.
type Reservation struct {
	types.Entity
	ID                 id.ReservationID `json:"id"`
	AccountID          id.AccountID     `json:"account_id"`
	Pool               account.Pool     `json:"pool"`
	TotalReservedMicro types.MicroUSD   `json:"total_reserved_micro"`
	Status             Status           `json:"status"`
	BillingMode        BillingMode      `json:"billing_mode"`
	ExpiresAt          time.Time        `json:"expires_at"`
	IdempotencyKey     string           `json:"idempotency_key,omitempty"`

	// ActualCostMicro is set once, by Finalize, and used to detect a
	// duplicate finalize call with a mismatched actual_cost (Conflict)
	// versus an idempotent replay (same cost, same result).
	ActualCostMicro *types.MicroUSD `json:"actual_cost_micro,omitempty"`
	OverrunMicro    *types.MicroUSD `json:"overrun_micro,omitempty"`
}

// Lot records the amount taken from a single lot to back a reservation.
// Co-created with the reservation and co-terminated with it.
type Lot struct {
	ReservationID id.ReservationID `json:"reservation_id"`
	LotID         id.LotID         `json:"lot_id"`
	ReservedMicro types.MicroUSD   `json:"reserved_micro"`
	// AllocSeq is the order this lot was taken in during FIFO selection,
	// so finalize can walk allocations in the same order reserve did.
	AllocSeq int `json:"alloc_seq"`
}

// New constructs a new pending Reservation expiring ttl from now.
func New(accountID id.AccountID, pool account.Pool, total types.MicroUSD, mode BillingMode, ttl time.Duration, idemKey string) *Reservation {
	if mode == "" {
		mode = DefaultBillingMode
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Reservation{
		Entity:             types.NewEntity(),
		ID:                 id.NewReservationID(),
		AccountID:          accountID,
		Pool:               account.Normalize(pool),
		TotalReservedMicro: total,
		Status:             StatusPending,
		BillingMode:        mode,
		ExpiresAt:          time.Now().UTC().Add(ttl),
		IdempotencyKey:     idemKey,
	}
}

// MarkFinalized transitions a pending reservation to finalized, recording
// the actual cost and overrun it was finalized with.
func (r *Reservation) MarkFinalized(actualCost, overrun types.MicroUSD) {
	r.Status = StatusFinalized
	r.ActualCostMicro = &actualCost
	r.OverrunMicro = &overrun
	r.Touch()
}

// MarkReleased transitions a pending reservation to released.
func (r *Reservation) MarkReleased() {
	r.Status = StatusReleased
	r.Touch()
}

// MarkExpired transitions a pending reservation to expired, as driven by
// the sweeper rather than a caller-initiated release.
func (r *Reservation) MarkExpired() {
	r.Status = StatusExpired
	r.Touch()
}
