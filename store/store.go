// Package store defines the storage contract the ledger engine, peer
// transfer, settlement, governance, and sweeper packages all write
// through. A single flat interface declares every method explicitly
// (rather than embedding per-entity sub-interfaces) to avoid naming
// conflicts between entities that share verbs like Create/Get/Update.
package store

import (
	"context"
	"time"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/discount"
	"github.com/xraph/creditledger/entry"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/settlement"
	"github.com/xraph/creditledger/types"
	"github.com/xraph/creditledger/xfer"
)

// BusyRetrySchedule is the delay sequence used by WithTx when the
// underlying store reports BUSY/locked, per the Store Facade contract.
var BusyRetrySchedule = []time.Duration{10 * time.Millisecond, 50 * time.Millisecond, 200 * time.Millisecond}

// Tx is the set of storage operations available inside a single
// serializable transaction. It is implemented by every entity's
// mutating methods so that account, lot, reservation, transfer, and
// governance state can be changed atomically in one commit.
type Tx interface {
	// Accounts
	GetOrCreateAccount(ctx context.Context, entityType account.EntityType, entityID string) (acct *account.Account, created bool, err error)
	GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error)

	// Lots
	CreateLot(ctx context.Context, l *lot.Lot) error
	GetLot(ctx context.Context, lotID id.LotID) (*lot.Lot, error)
	UpdateLot(ctx context.Context, l *lot.Lot) error
	SelectCandidateLots(ctx context.Context, accountID id.AccountID, pool account.Pool, asOf time.Time) ([]*lot.Lot, error)

	// Reservations
	CreateReservation(ctx context.Context, r *reservation.Reservation) error
	GetReservation(ctx context.Context, reservationID id.ReservationID) (*reservation.Reservation, error)
	GetReservationByIdempotencyKey(ctx context.Context, key string) (*reservation.Reservation, error)
	UpdateReservation(ctx context.Context, r *reservation.Reservation) error
	CreateReservationLots(ctx context.Context, rls []*reservation.Lot) error
	ListReservationLots(ctx context.Context, reservationID id.ReservationID) ([]*reservation.Lot, error)
	ListExpiredReservations(ctx context.Context, asOf time.Time, limit int) ([]*reservation.Reservation, error)

	// Ledger entries
	NextEntrySeq(ctx context.Context, accountID id.AccountID, pool account.Pool) (uint64, error)
	CreateLedgerEntry(ctx context.Context, e *entry.Entry) error
	GetEntryByIdempotencyKey(ctx context.Context, key string) (*entry.Entry, error)
	GetBalanceProjection(ctx context.Context, accountID id.AccountID, pool account.Pool) (available, reserved types.MicroUSD, err error)
	ListLedgerEntries(ctx context.Context, accountID id.AccountID, pool account.Pool, limit, offset int) ([]*entry.Entry, error)

	// Transfers
	CreateTransfer(ctx context.Context, t *xfer.Transfer) error
	GetTransferByIdempotencyKey(ctx context.Context, key string) (*xfer.Transfer, error)
	UpdateTransfer(ctx context.Context, t *xfer.Transfer) error
	SumCompletedTransfersSince(ctx context.Context, fromAccountID id.AccountID, since time.Time) (types.MicroUSD, error)

	// Idempotency
	GetIdempotentResponse(ctx context.Context, scope, key string) (hash string, expiresAt time.Time, found bool, err error)
	PutIdempotentResponse(ctx context.Context, scope, key, hash string, expiresAt time.Time) error

	// Governance
	GetActiveGovernanceConfig(ctx context.Context, paramKey string, entityType *account.EntityType) (*governance.Config, error)
	GetGovernanceConfig(ctx context.Context, configID id.GovernanceConfigID) (*governance.Config, error)
	CreateGovernanceConfig(ctx context.Context, cfg *governance.Config) error
	UpdateGovernanceConfig(ctx context.Context, cfg *governance.Config) error
	ListCoolingDownConfigs(ctx context.Context, asOf time.Time) ([]*governance.Config, error)

	// Settlement / receivables
	CreateReceivable(ctx context.Context, r *settlement.Receivable) error
	GetOldestOpenReceivable(ctx context.Context, accountID id.AccountID) (*settlement.Receivable, error)
	UpdateReceivable(ctx context.Context, r *settlement.Receivable) error

	// Outbox
	InsertOutboxEvent(ctx context.Context, evt *outbox.Event) error

	// Discounts
	ListExpiredDiscounts(ctx context.Context, asOf time.Time, limit int) ([]*discount.Discount, error)
	UpdateDiscount(ctx context.Context, d *discount.Discount) error
}

// Store is the top-level storage handle: everything Tx offers, run
// outside a transaction where that is safe, plus transaction
// management, outbox draining, migration, and lifecycle.
type Store interface {
	Tx

	// WithTx begins a serializable transaction (BEGIN IMMEDIATE on
	// SQLite-class stores), runs fn, and commits on success. On a
	// BUSY/locked error it retries per BusyRetrySchedule before
	// surfacing ledger.ErrConflict.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ListUndeliveredOutboxEvents / MarkOutboxEventDelivered back the
	// outbox drainer; they run outside the state-changing transaction.
	ListUndeliveredOutboxEvents(ctx context.Context, limit int) ([]*outbox.Event, error)
	MarkOutboxEventDelivered(ctx context.Context, eventID id.OutboxEventID, deliveredAt time.Time) error

	Migrate(ctx context.Context) error
	SelfTest(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
