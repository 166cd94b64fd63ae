package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/entry"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/plugin"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/settlement"
	"github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/types"
)

// Engine satisfies settlement.EntryPoster: settlement and clawback post
// through the same PostEntry/GetBalance path every other caller uses.
var _ settlement.EntryPoster = (*Engine)(nil)

// idempotencyTTL is how long a (scope, key) response hash is honored
// before a reused key is treated as a fresh request, per the 24h
// idempotency contract.
const idempotencyTTL = 24 * time.Hour

// Engine is the credit ledger's transactional core: accounts, lots,
// reservations, and the append-only entry log all mutate through it.
type Engine struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	resolver *governance.Resolver
}

// New constructs an Engine bound to the given storage handle.
func New(s store.Store, opts ...Option) *Engine {
	eng := &Engine{
		store:   s,
		plugins: plugin.NewRegistry(),
		logger:  slog.Default(),
	}
	eng.resolver = governance.NewResolver(s)

	for _, opt := range opts {
		opt(eng)
	}
	return eng
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and its plugin registry.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = logger
		eng.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin at construction time.
func WithPlugin(p plugin.Plugin) Option {
	return func(eng *Engine) {
		_ = eng.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// Plugins returns the engine's plugin registry, for callers (such as the
// sweeper and transfer packages) that need to emit through the same
// dispatch the engine uses.
func (eng *Engine) Plugins() *plugin.Registry { return eng.plugins }

// Store returns the underlying storage handle, for callers (the
// transfer and settlement wiring) that need direct access.
func (eng *Engine) Store() store.Store { return eng.store }

// Resolver returns the governance parameter resolver the engine reads
// through, for callers that need the same 3-tier lookup.
func (eng *Engine) Resolver() *governance.Resolver { return eng.resolver }

// Start runs migrations, self-checks the resulting schema, and notifies
// OnInit plugins. It does not start any background worker itself; the
// sweeper package owns its own lifecycle, constructed separately and
// started alongside the engine by the caller.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Migrate(ctx); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	if err := eng.store.SelfTest(ctx); err != nil {
		return fmt.Errorf("ledger: schema self-test: %w", err)
	}

	eng.plugins.EmitInit(ctx, eng)
	eng.logger.Info("ledger engine started")
	return nil
}

// Stop notifies OnShutdown plugins and closes the store.
func (eng *Engine) Stop() error {
	ctx := context.Background()
	eng.plugins.EmitShutdown(ctx)
	return eng.store.Close()
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

// GetOrCreateAccount resolves the account for (entityType, entityID),
// creating it on first use. OnAccountCreated fires exactly once, the
// first time the pair resolves to a new account.
func (eng *Engine) GetOrCreateAccount(ctx context.Context, entityType account.EntityType, entityID string) (*account.Account, error) {
	if entityID == "" {
		return nil, newErr(KindInvalid, "GetOrCreateAccount", "entity_id must not be empty", nil)
	}

	acct, created, err := eng.store.GetOrCreateAccount(ctx, entityType, entityID)
	if err != nil {
		return nil, newErr(KindInternal, "GetOrCreateAccount", "store failure", err)
	}
	if created {
		eng.plugins.EmitAccountCreated(ctx, acct)
	}
	return acct, nil
}

// ──────────────────────────────────────────────────
// Lots
// ──────────────────────────────────────────────────

// MintOptions customizes MintLot. A nil *MintOptions uses all defaults.
type MintOptions struct {
	SourceType     lot.SourceType // defaults to lot.SourceDeposit
	SourceID       string
	ExpiresAt      *time.Time
	IdempotencyKey string
}

// MintLot creates a new lot of amount credit for (accountID, pool),
// fully available, and appends the deposit/grant ledger entry that
// records it.
func (eng *Engine) MintLot(ctx context.Context, accountID id.AccountID, pool account.Pool, amount types.MicroUSD, opts *MintOptions) (*lot.Lot, error) {
	const op = "MintLot"
	if !amount.IsPositive() {
		return nil, newErr(KindInvalid, op, "amount must be positive", nil)
	}
	if opts == nil {
		opts = &MintOptions{}
	}
	sourceType := opts.SourceType
	if sourceType == "" {
		sourceType = lot.SourceDeposit
	}
	pool = account.Normalize(pool)

	if opts.IdempotencyKey != "" {
		if existing, err := eng.store.GetEntryByIdempotencyKey(ctx, opts.IdempotencyKey); err != nil {
			return nil, newErr(KindInternal, op, "idempotency lookup failed", err)
		} else if existing != nil {
			if existing.AmountMicro != amount.Int64() {
				return nil, newErr(KindConflict, op, "idempotency key reused with a different amount", nil)
			}
			if existing.LotID.IsNil() {
				return nil, newErr(KindInternal, op, "replayed deposit entry has no lot", nil)
			}
			return eng.store.GetLot(ctx, existing.LotID)
		}
	}

	entryType := entry.TypeDeposit
	if sourceType == lot.SourceGrant {
		entryType = entry.TypeGrant
	}

	var minted *lot.Lot
	err := eng.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acctCheck, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}

		if err := checkIdempotentShape(ctx, tx, op, opts.IdempotencyKey, string(pool), amount.String()); err != nil {
			return err
		}

		l := lot.New(acctCheck.ID, pool, amount, sourceType, opts.SourceID, opts.ExpiresAt)
		if err := tx.CreateLot(ctx, l); err != nil {
			return err
		}

		if _, err := eng.appendEntry(ctx, tx, acctCheck.ID, pool, entryType, amount.Int64(), opts.IdempotencyKey, &l.ID, nil); err != nil {
			return err
		}

		if err := recordIdempotentShape(ctx, tx, op, opts.IdempotencyKey, string(pool), amount.String()); err != nil {
			return err
		}

		evt := outbox.New(
			"ledger."+string(entryType), "Lot", l.ID.String(), "",
			map[string]any{"account_id": acctCheck.ID.String(), "pool": string(pool), "amount_micro": amount.Int64()},
		)
		evt.IdempotencyKey = opts.IdempotencyKey
		outbox.Append(ctx, tx, eng.logger, evt)

		minted = l
		return nil
	})
	if err != nil {
		return nil, wrapTxErr(op, err)
	}

	eng.plugins.EmitLotMinted(ctx, minted)
	return minted, nil
}

// ──────────────────────────────────────────────────
// Reservations
// ──────────────────────────────────────────────────

// ReserveOption customizes Reserve.
type ReserveOption func(*reserveConfig)

type reserveConfig struct {
	billingMode reservation.BillingMode
	ttl         time.Duration
}

// WithBillingMode overrides the default billing mode (live).
func WithBillingMode(mode reservation.BillingMode) ReserveOption {
	return func(c *reserveConfig) { c.billingMode = mode }
}

// WithReservationTTL overrides the default reservation TTL (300s).
func WithReservationTTL(ttl time.Duration) ReserveOption {
	return func(c *reserveConfig) { c.ttl = ttl }
}

// Reserve holds amount against (accountID, pool)'s available lots in
// FIFO order, without committing a balance change. A duplicate
// idemKey returns the existing reservation rather than reserving twice.
func (eng *Engine) Reserve(ctx context.Context, accountID id.AccountID, pool account.Pool, amount types.MicroUSD, idemKey string, opts ...ReserveOption) (*reservation.Reservation, error) {
	const op = "Reserve"
	if !amount.IsPositive() {
		return nil, newErr(KindInvalid, op, "amount must be positive", nil)
	}
	pool = account.Normalize(pool)

	cfg := &reserveConfig{billingMode: reservation.DefaultBillingMode, ttl: reservation.DefaultTTL}
	for _, o := range opts {
		o(cfg)
	}

	if idemKey != "" {
		existing, err := eng.store.GetReservationByIdempotencyKey(ctx, idemKey)
		if err != nil {
			return nil, newErr(KindInternal, op, "idempotency lookup failed", err)
		}
		if existing != nil {
			if existing.TotalReservedMicro.Int64() != amount.Int64() {
				return nil, newErr(KindConflict, op, "idempotency key reused with a different amount", nil)
			}
			return existing, nil
		}
	}

	var created *reservation.Reservation
	err := eng.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := checkIdempotentShape(ctx, tx, op, idemKey, string(pool), amount.String()); err != nil {
			return err
		}

		allocations, err := selectAndReserveFIFO(ctx, tx, accountID, pool, amount)
		if err != nil {
			return err
		}

		r := reservation.New(accountID, pool, amount, cfg.billingMode, cfg.ttl, idemKey)
		for i, a := range allocations {
			a.ReservationID = r.ID
			a.AllocSeq = i
		}
		if err := tx.CreateReservation(ctx, r); err != nil {
			return err
		}
		if err := tx.CreateReservationLots(ctx, allocations); err != nil {
			return err
		}

		if _, err := eng.appendEntry(ctx, tx, accountID, pool, entry.TypeReserve, -amount.Int64(), "", nil, &r.ID); err != nil {
			return err
		}

		if err := recordIdempotentShape(ctx, tx, op, idemKey, string(pool), amount.String()); err != nil {
			return err
		}

		evt := outbox.New(
			"ledger.reservation_created", "Reservation", r.ID.String(), "",
			map[string]any{"account_id": accountID.String(), "pool": string(pool), "amount_micro": amount.Int64()},
		)
		evt.IdempotencyKey = idemKey
		outbox.Append(ctx, tx, eng.logger, evt)

		created = r
		return nil
	})
	if err != nil {
		return nil, wrapTxErr(op, err)
	}

	eng.plugins.EmitReservationCreated(ctx, created)
	return created, nil
}

// selectAndReserveFIFO walks (accountID, pool)'s candidate lots in FIFO
// order, moving need from available to reserved on each until it is
// satisfied, per the reserve algorithm's lot-selection rules.
func selectAndReserveFIFO(ctx context.Context, tx store.Tx, accountID id.AccountID, pool account.Pool, need types.MicroUSD) ([]*reservation.Lot, error) {
	candidates, err := tx.SelectCandidateLots(ctx, accountID, pool, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	var allocations []*reservation.Lot
	remaining := need
	for _, l := range candidates {
		if remaining.IsZero() {
			break
		}
		take := remaining.Min(l.AvailableMicro)
		if !take.IsPositive() {
			continue
		}

		avail, err := l.AvailableMicro.Sub(take)
		if err != nil {
			return nil, err
		}
		l.AvailableMicro = avail
		l.ReservedMicro = l.ReservedMicro.Add(take)
		if err := tx.UpdateLot(ctx, l); err != nil {
			return nil, err
		}

		allocations = append(allocations, &reservation.Lot{LotID: l.ID, ReservedMicro: take})
		remaining, err = remaining.Sub(take)
		if err != nil {
			return nil, err
		}
	}

	if remaining.IsPositive() {
		return nil, newErr(KindInsufficientBalance, "Reserve",
			fmt.Sprintf("short by %s", remaining), ErrInsufficientBalance)
	}
	return allocations, nil
}

// FinalizeResult reports the outcome of a Finalize call.
type FinalizeResult struct {
	Entry           *entry.Entry
	ActualCost      types.MicroUSD
	SurplusReleased types.MicroUSD
	Overrun         types.MicroUSD
}

// Finalize reports the actual cost of a pending reservation's work,
// releasing any unused surplus and, depending on billing mode,
// recording or applying an overrun beyond the original reservation.
// Calling Finalize again with the same actual cost on an
// already-finalized reservation replays the prior result; a different
// actual cost fails with Conflict.
func (eng *Engine) Finalize(ctx context.Context, reservationID id.ReservationID, actualCost types.MicroUSD) (*FinalizeResult, error) {
	const op = "Finalize"
	if actualCost.Int64() < 0 {
		return nil, newErr(KindInvalid, op, "actual cost must not be negative", nil)
	}

	r, err := eng.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, newErr(KindNotFound, op, "reservation not found", err)
	}

	if r.Status == reservation.StatusFinalized {
		if r.ActualCostMicro == nil || r.ActualCostMicro.Int64() != actualCost.Int64() {
			return nil, newErr(KindConflict, op, "reservation already finalized with a different actual cost", nil)
		}
		_, surplus, _ := computeFinalize(r.TotalReservedMicro, actualCost, r.BillingMode)
		return &FinalizeResult{ActualCost: actualCost, SurplusReleased: surplus, Overrun: deref(r.OverrunMicro)}, nil
	}
	if r.Status != reservation.StatusPending {
		return nil, newErr(KindInvalidState, op, fmt.Sprintf("reservation is %s, not pending", r.Status), nil)
	}

	var result *FinalizeResult
	err = eng.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		allocations, err := tx.ListReservationLots(ctx, r.ID)
		if err != nil {
			return err
		}

		effectiveCost, surplus, overrun := computeFinalize(r.TotalReservedMicro, actualCost, r.BillingMode)

		remaining := effectiveCost
		for _, a := range allocations {
			l, err := tx.GetLot(ctx, a.LotID)
			if err != nil {
				return err
			}
			consume := remaining.Min(a.ReservedMicro)
			release, err := a.ReservedMicro.Sub(consume)
			if err != nil {
				return err
			}

			newReserved, err := l.ReservedMicro.Sub(a.ReservedMicro)
			if err != nil {
				return err
			}
			l.ReservedMicro = newReserved
			l.ConsumedMicro = l.ConsumedMicro.Add(consume)
			l.AvailableMicro = l.AvailableMicro.Add(release)
			if err := tx.UpdateLot(ctx, l); err != nil {
				return err
			}

			remaining, err = remaining.Sub(consume)
			if err != nil {
				return err
			}
		}

		// Soft billing mode can produce an effective cost above the
		// reservation's total: the reserved buckets above only ever sum to
		// TotalReservedMicro, so any remainder here is the overrun portion,
		// drawn directly from whatever available balance the account still
		// has. A shortfall is absorbed rather than failing finalize — the
		// account simply cannot be billed past zero.
		if remaining.IsPositive() {
			if err := consumeFIFO(ctx, tx, r.AccountID, r.Pool, remaining); err != nil && !IsInsufficientBalance(err) {
				return err
			}
		}

		r.MarkFinalized(actualCost, overrun)
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}

		// effectiveCost was already debited from available at Reserve time;
		// Finalize only moves available again by releasing unused surplus
		// back to it and, in soft mode, drawing the overrun from it.
		availableDelta := surplus.Int64() - overrun.Int64()
		e, err := eng.appendEntry(ctx, tx, r.AccountID, r.Pool, entry.TypeFinalize, availableDelta, "", nil, &r.ID)
		if err != nil {
			return err
		}

		outbox.Append(ctx, tx, eng.logger, outbox.New(
			"ledger.reservation_finalized", "Reservation", r.ID.String(), "",
			map[string]any{"actual_cost_micro": actualCost.Int64(), "overrun_micro": overrun.Int64()},
		))

		result = &FinalizeResult{Entry: e, ActualCost: actualCost, SurplusReleased: surplus, Overrun: overrun}
		return nil
	})
	if err != nil {
		return nil, wrapTxErr(op, err)
	}

	eng.plugins.EmitReservationFinalized(ctx, r, result.Overrun.Int64())
	return result, nil
}

// computeFinalize applies the billing-mode table to a reservation's
// total reserved amount R and actual cost A, returning the amount
// actually consumed (effectiveCost), the surplus released back to
// available, and the overrun reported (which billing modes other than
// soft do not apply to the balance).
func computeFinalize(reserved, actual types.MicroUSD, mode reservation.BillingMode) (effectiveCost, surplusReleased, overrun types.MicroUSD) {
	if actual.Int64() <= reserved.Int64() {
		surplus, _ := reserved.Sub(actual)
		return actual, surplus, types.ZeroMicroUSD
	}

	over, _ := actual.Sub(reserved)
	switch mode {
	case reservation.BillingSoft:
		return actual, types.ZeroMicroUSD, over
	case reservation.BillingShadow:
		return reserved, types.ZeroMicroUSD, over
	default: // BillingLive: clamp, overrun is not a breach
		return reserved, types.ZeroMicroUSD, types.ZeroMicroUSD
	}
}

// ReleaseResult reports the outcome of a Release call.
type ReleaseResult struct {
	Released types.MicroUSD
}

// Release returns a pending reservation's full amount to available,
// without any cost having been incurred.
func (eng *Engine) Release(ctx context.Context, reservationID id.ReservationID) (*ReleaseResult, error) {
	const op = "Release"

	r, err := eng.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, newErr(KindNotFound, op, "reservation not found", err)
	}
	if r.Status != reservation.StatusPending {
		return nil, newErr(KindInvalidState, op, fmt.Sprintf("reservation is %s, not pending", r.Status), nil)
	}

	err = eng.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		allocations, err := tx.ListReservationLots(ctx, r.ID)
		if err != nil {
			return err
		}
		for _, a := range allocations {
			l, err := tx.GetLot(ctx, a.LotID)
			if err != nil {
				return err
			}
			newReserved, err := l.ReservedMicro.Sub(a.ReservedMicro)
			if err != nil {
				return err
			}
			l.ReservedMicro = newReserved
			l.AvailableMicro = l.AvailableMicro.Add(a.ReservedMicro)
			if err := tx.UpdateLot(ctx, l); err != nil {
				return err
			}
		}

		r.MarkReleased()
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}

		if _, err := eng.appendEntry(ctx, tx, r.AccountID, r.Pool, entry.TypeRelease, r.TotalReservedMicro.Int64(), "", nil, &r.ID); err != nil {
			return err
		}

		outbox.Append(ctx, tx, eng.logger, outbox.New(
			"ledger.reservation_released", "Reservation", r.ID.String(), "",
			map[string]any{"released_micro": r.TotalReservedMicro.Int64()},
		))
		return nil
	})
	if err != nil {
		return nil, wrapTxErr(op, err)
	}

	eng.plugins.EmitReservationReleased(ctx, r)
	return &ReleaseResult{Released: r.TotalReservedMicro}, nil
}

// ──────────────────────────────────────────────────
// Balance & history
// ──────────────────────────────────────────────────

// GetBalance returns (accountID, pool)'s current available and reserved
// balance, derived from its live lots. It also satisfies
// settlement.EntryPoster.
func (eng *Engine) GetBalance(ctx context.Context, accountID id.AccountID, pool account.Pool) (available, reserved types.MicroUSD, err error) {
	available, reserved, err = eng.store.GetBalanceProjection(ctx, accountID, account.Normalize(pool))
	if err != nil {
		return 0, 0, newErr(KindInternal, "GetBalance", "store failure", err)
	}
	return available, reserved, nil
}

// GetHistory returns (accountID, pool)'s ledger entries, most recent
// first, optionally filtered to a single entry type.
func (eng *Engine) GetHistory(ctx context.Context, accountID id.AccountID, pool account.Pool, entryType entry.Type, limit, offset int) ([]*entry.Entry, error) {
	entries, err := eng.store.ListLedgerEntries(ctx, accountID, account.Normalize(pool), limit, offset)
	if err != nil {
		return nil, newErr(KindInternal, "GetHistory", "store failure", err)
	}
	if entryType == "" {
		return entries, nil
	}
	filtered := entries[:0]
	for _, e := range entries {
		if e.EntryType == entryType {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// ──────────────────────────────────────────────────
// Generic entry posting (settlement, clawback, drip)
// ──────────────────────────────────────────────────

// PostEntry appends a ledger entry outside the reserve/finalize/release
// lifecycle, consuming or minting lots as needed so GetBalance always
// derives from the same lot projection regardless of which operation
// moved the balance. It satisfies settlement.EntryPoster: settlement,
// clawback, and drip recovery are specialized callers of this single
// posting path, not a parallel accounting system.
func (eng *Engine) PostEntry(ctx context.Context, accountID id.AccountID, pool account.Pool, entryType entry.Type, amountMicro int64, idempotencyKey string) (*entry.Entry, error) {
	const op = "PostEntry"
	pool = account.Normalize(pool)

	if idempotencyKey != "" {
		existing, err := eng.store.GetEntryByIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return nil, newErr(KindInternal, op, "idempotency lookup failed", err)
		}
		if existing != nil {
			if existing.AmountMicro != amountMicro {
				return nil, newErr(KindConflict, op, "idempotency key reused with a different amount", nil)
			}
			return existing, nil
		}
	}

	var posted *entry.Entry
	err := eng.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := checkIdempotentShape(ctx, tx, op, idempotencyKey, string(pool), string(entryType), fmt.Sprintf("%d", amountMicro)); err != nil {
			return err
		}

		switch {
		case amountMicro > 0:
			l := lot.New(accountID, pool, types.MustMicroUSD(amountMicro), lot.SourceGrant, idempotencyKey, nil)
			if err := tx.CreateLot(ctx, l); err != nil {
				return err
			}
			e, err := eng.appendEntry(ctx, tx, accountID, pool, entryType, amountMicro, idempotencyKey, &l.ID, nil)
			if err != nil {
				return err
			}
			posted = e
		case amountMicro < 0:
			if err := consumeFIFO(ctx, tx, accountID, pool, types.MustMicroUSD(-amountMicro)); err != nil {
				return err
			}
			e, err := eng.appendEntry(ctx, tx, accountID, pool, entryType, amountMicro, idempotencyKey, nil, nil)
			if err != nil {
				return err
			}
			posted = e
		default:
			e, err := eng.appendEntry(ctx, tx, accountID, pool, entryType, 0, idempotencyKey, nil, nil)
			if err != nil {
				return err
			}
			posted = e
		}

		evt := outbox.New(
			"ledger."+string(entryType), "Entry", posted.ID.String(), "",
			map[string]any{"account_id": accountID.String(), "pool": string(pool), "amount_micro": amountMicro},
		)
		evt.IdempotencyKey = idempotencyKey
		outbox.Append(ctx, tx, eng.logger, evt)

		return recordIdempotentShape(ctx, tx, op, idempotencyKey, string(pool), string(entryType), fmt.Sprintf("%d", amountMicro))
	})
	if err != nil {
		return nil, wrapTxErr(op, err)
	}

	eng.emitSettlementHook(ctx, entryType, idempotencyKey, amountMicro)
	return posted, nil
}

// consumeFIFO reduces available balance across (accountID, pool)'s lots
// in FIFO order by amount, moving it directly to consumed without ever
// passing through a reservation. Used for clawback and drip recovery,
// where the debit is immediate rather than a committed estimate.
func consumeFIFO(ctx context.Context, tx store.Tx, accountID id.AccountID, pool account.Pool, amount types.MicroUSD) error {
	candidates, err := tx.SelectCandidateLots(ctx, accountID, pool, time.Now().UTC())
	if err != nil {
		return err
	}

	remaining := amount
	for _, l := range candidates {
		if remaining.IsZero() {
			break
		}
		take := remaining.Min(l.AvailableMicro)
		if !take.IsPositive() {
			continue
		}

		avail, err := l.AvailableMicro.Sub(take)
		if err != nil {
			return err
		}
		l.AvailableMicro = avail
		l.ConsumedMicro = l.ConsumedMicro.Add(take)
		if err := tx.UpdateLot(ctx, l); err != nil {
			return err
		}

		remaining, err = remaining.Sub(take)
		if err != nil {
			return err
		}
	}

	if remaining.IsPositive() {
		return newErr(KindInsufficientBalance, "PostEntry", fmt.Sprintf("short by %s", remaining), ErrInsufficientBalance)
	}
	return nil
}

// emitSettlementHook fires the settlement-family plugin hooks for
// entries posted via PostEntry. The earning/receivable identifiers are
// not passed explicitly (PostEntry's signature is settlement.EntryPoster,
// shared with drip and clawback), so they are recovered from the
// idempotency key's well-known "settlement:<id>" and "clawback:<id>"
// shapes. Drip entries fire no hook, and a key that doesn't match is a
// caller outside those conventions and simply skips hook emission.
func (eng *Engine) emitSettlementHook(ctx context.Context, entryType entry.Type, idemKey string, amountMicro int64) {
	switch entryType {
	case entry.TypeSettlement:
		if _, earningID, ok := strings.Cut(idemKey, "settlement:"); ok {
			eng.plugins.EmitEarningSettled(ctx, earningID, amountMicro)
		}
	case entry.TypeClawback:
		if _, earningID, ok := strings.Cut(idemKey, "clawback:"); ok {
			eng.plugins.EmitClawbackApplied(ctx, earningID, -amountMicro, 0)
		}
	}
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// appendEntry allocates the next entry sequence for (accountID, pool),
// snapshots its pre/post balance after the caller's lot mutations, and
// inserts the ledger entry row.
func (eng *Engine) appendEntry(ctx context.Context, tx store.Tx, accountID id.AccountID, pool account.Pool, entryType entry.Type, amountMicro int64, idemKey string, lotID, reservationID *id.ID) (*entry.Entry, error) {
	seq, err := tx.NextEntrySeq(ctx, accountID, pool)
	if err != nil {
		return nil, err
	}

	available, _, err := tx.GetBalanceProjection(ctx, accountID, pool)
	if err != nil {
		return nil, err
	}
	pre, post := computeSigned(available, amountMicro)

	e := entry.New(accountID, pool, entryType, amountMicro)
	e.EntrySeq = seq
	e.IdempotencyKey = idemKey
	e.PreBalance = pre
	e.PostBalance = post
	if lotID != nil {
		e.LotID = *lotID
	}
	if reservationID != nil {
		e.ReservationID = *reservationID
	}

	if err := tx.CreateLedgerEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// computeSigned derives an entry's pre/post available-balance snapshot
// from the account's current post-mutation available balance and the
// signed delta amountMicro that produced it. The reserved bucket never
// participates in pre/post: those snapshot what a caller can actually
// spend, not the account's total committed value, and pre + amountMicro
// must equal post exactly for every entry.
func computeSigned(available types.MicroUSD, amountMicro int64) (pre, post types.MicroUSD) {
	post = available
	pre = types.MustMicroUSD(post.Int64() - amountMicro)
	return pre, post
}

func deref(v *types.MicroUSD) types.MicroUSD {
	if v == nil {
		return types.ZeroMicroUSD
	}
	return *v
}

// sha256Hex hashes parts into a single hex digest, joined by a NUL
// separator so no ambiguity between e.g. ("ab", "c") and ("a", "bc").
func sha256Hex(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// checkIdempotentShape is the secondary idempotency guard: it compares
// a hash of the current call's shape against the hash recorded the
// last time (scope, key) was used. The entity-natural lookups
// (GetReservationByIdempotencyKey and friends) remain the primary
// mechanism for replaying a prior result; this catches the narrower
// case of a key reused with a different request before any row with
// that key exists yet, such as a Reserve retried with a changed amount
// after the first attempt failed before committing.
func checkIdempotentShape(ctx context.Context, tx store.Tx, scope, key string, shapeParts ...string) error {
	if key == "" {
		return nil
	}
	want := sha256Hex(shapeParts...)
	got, _, found, err := tx.GetIdempotentResponse(ctx, scope, key)
	if err != nil {
		return err
	}
	if found && got != want {
		return newErr(KindConflict, scope, "idempotency key reused with a different request", nil)
	}
	return nil
}

// recordIdempotentShape persists the current call's shape hash for
// (scope, key) so a later call with the same key and a different
// shape is caught by checkIdempotentShape.
func recordIdempotentShape(ctx context.Context, tx store.Tx, scope, key string, shapeParts ...string) error {
	if key == "" {
		return nil
	}
	hash := sha256Hex(shapeParts...)
	return tx.PutIdempotentResponse(ctx, scope, key, hash, time.Now().UTC().Add(idempotencyTTL))
}

// wrapTxErr classifies an error surfaced from store.WithTx: a *Error
// produced by this package passes through unchanged; anything else is
// an internal failure (the BUSY-retry-exhaustion path already wraps
// ErrConflict, which IsConflict/IsRetryable recognize through errors.Is).
func wrapTxErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	return newErr(KindInternal, op, "transaction failed", err)
}
