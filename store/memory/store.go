// Package memory implements store.Store in a single mutex-guarded
// process, for fast unit tests that don't need SQLite's durability or
// its BUSY/locked retry behavior.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	ledger "github.com/xraph/creditledger"
	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/discount"
	"github.com/xraph/creditledger/entry"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/settlement"
	ledgerstore "github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/types"
	"github.com/xraph/creditledger/xfer"
)

var _ ledgerstore.Store = (*Store)(nil)

type Store struct {
	mu sync.Mutex

	accounts            map[string]*account.Account
	accountsByEntity    map[string]*account.Account // entityType|entityID -> account
	lots                map[string]*lot.Lot
	reservations        map[string]*reservation.Reservation
	reservationsByIdemK map[string]*reservation.Reservation
	reservationLots     map[string][]*reservation.Lot // reservationID -> lots
	entries             map[string]*entry.Entry
	entriesByIdemK      map[string]*entry.Entry
	seqCounters         map[string]uint64 // accountID|pool -> next seq
	transfers           map[string]*xfer.Transfer
	transfersByIdemK    map[string]*xfer.Transfer
	governanceConfigs   map[string]*governance.Config
	receivables         map[string]*settlement.Receivable
	outboxEvents        map[string]*outbox.Event
	discounts           map[string]*discount.Discount
	idempotencyKeys     map[string]idemEntry
}

type idemEntry struct {
	hash      string
	expiresAt time.Time
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		accounts:            make(map[string]*account.Account),
		accountsByEntity:    make(map[string]*account.Account),
		lots:                make(map[string]*lot.Lot),
		reservations:        make(map[string]*reservation.Reservation),
		reservationsByIdemK: make(map[string]*reservation.Reservation),
		reservationLots:     make(map[string][]*reservation.Lot),
		entries:           make(map[string]*entry.Entry),
		entriesByIdemK:    make(map[string]*entry.Entry),
		seqCounters:       make(map[string]uint64),
		transfers:         make(map[string]*xfer.Transfer),
		transfersByIdemK:  make(map[string]*xfer.Transfer),
		governanceConfigs: make(map[string]*governance.Config),
		receivables:       make(map[string]*settlement.Receivable),
		outboxEvents:      make(map[string]*outbox.Event),
		discounts:         make(map[string]*discount.Discount),
		idempotencyKeys:   make(map[string]idemEntry),
	}
}

func entityKey(entityType account.EntityType, entityID string) string {
	return string(entityType) + "|" + entityID
}

func poolKey(accountID id.AccountID, pool account.Pool) string {
	return accountID.String() + "|" + string(pool)
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

func (s *Store) GetOrCreateAccount(_ context.Context, entityType account.EntityType, entityID string) (*account.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey(entityType, entityID)
	if a, ok := s.accountsByEntity[key]; ok {
		return a, false, nil
	}
	a := account.New(entityType, entityID)
	s.accounts[a.ID.String()] = a
	s.accountsByEntity[key] = a
	return a, true, nil
}

func (s *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[accountID.String()]; ok {
		return a, nil
	}
	return nil, ledger.ErrNotFound
}

// ──────────────────────────────────────────────────
// Lots
// ──────────────────────────────────────────────────

func (s *Store) CreateLot(_ context.Context, l *lot.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lots[l.ID.String()] = l
	return nil
}

func (s *Store) GetLot(_ context.Context, lotID id.LotID) (*lot.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.lots[lotID.String()]; ok {
		return l, nil
	}
	return nil, ledger.ErrNotFound
}

func (s *Store) UpdateLot(_ context.Context, l *lot.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lots[l.ID.String()]; !ok {
		return ledger.ErrNotFound
	}
	l.Touch()
	s.lots[l.ID.String()] = l
	return nil
}

// SelectCandidateLots returns unexpired lots with available balance for
// (accountID, pool), ordered FIFO: lots in the requested pool before
// default-pool fallback lots, then lots with no expiry last, soonest
// expiry first, ties broken by creation order. A non-default pool's
// candidates include the default pool so a draw against a restricted
// pool can still fall back to general credit.
func (s *Store) SelectCandidateLots(_ context.Context, accountID id.AccountID, pool account.Pool, asOf time.Time) ([]*lot.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := account.Normalize(pool)
	var out []*lot.Lot
	for _, l := range s.lots {
		if l.AccountID != accountID {
			continue
		}
		if l.Pool != normalized && !(normalized != account.DefaultPool && l.Pool == account.DefaultPool) {
			continue
		}
		if l.AvailableMicro.Int64() <= 0 {
			continue
		}
		if l.ExpiresAt != nil && !l.ExpiresAt.After(asOf) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i], out[j]
		if (li.Pool == normalized) != (lj.Pool == normalized) {
			return li.Pool == normalized // requested pool sorts before default-pool fallback
		}
		if (li.ExpiresAt == nil) != (lj.ExpiresAt == nil) {
			return lj.ExpiresAt == nil // non-nil expiry sorts before nil
		}
		if li.ExpiresAt != nil && lj.ExpiresAt != nil && !li.ExpiresAt.Equal(*lj.ExpiresAt) {
			return li.ExpiresAt.Before(*lj.ExpiresAt)
		}
		return li.CreatedAt.Before(lj.CreatedAt)
	})
	return out, nil
}

// ──────────────────────────────────────────────────
// Reservations
// ──────────────────────────────────────────────────

func (s *Store) CreateReservation(_ context.Context, r *reservation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reservations[r.ID.String()] = r
	if r.IdempotencyKey != "" {
		s.reservationsByIdemK[r.IdempotencyKey] = r
	}
	return nil
}

func (s *Store) GetReservation(_ context.Context, reservationID id.ReservationID) (*reservation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.reservations[reservationID.String()]; ok {
		return r, nil
	}
	return nil, ledger.ErrNotFound
}

func (s *Store) GetReservationByIdempotencyKey(_ context.Context, key string) (*reservation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.reservationsByIdemK[key]; ok {
		return r, nil
	}
	return nil, nil //nolint:nilnil // absence of a prior reservation is not an error
}

func (s *Store) UpdateReservation(_ context.Context, r *reservation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[r.ID.String()]; !ok {
		return ledger.ErrNotFound
	}
	r.Touch()
	s.reservations[r.ID.String()] = r
	if r.IdempotencyKey != "" {
		s.reservationsByIdemK[r.IdempotencyKey] = r
	}
	return nil
}

func (s *Store) CreateReservationLots(_ context.Context, rls []*reservation.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rl := range rls {
		key := rl.ReservationID.String()
		s.reservationLots[key] = append(s.reservationLots[key], rl)
	}
	return nil
}

func (s *Store) ListReservationLots(_ context.Context, reservationID id.ReservationID) ([]*reservation.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]*reservation.Lot(nil), s.reservationLots[reservationID.String()]...)
	sort.Slice(out, func(i, j int) bool { return out[i].AllocSeq < out[j].AllocSeq })
	return out, nil
}

func (s *Store) ListExpiredReservations(_ context.Context, asOf time.Time, limit int) ([]*reservation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*reservation.Reservation
	for _, r := range s.reservations {
		if r.Status == reservation.StatusPending && !r.ExpiresAt.After(asOf) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Ledger entries
// ──────────────────────────────────────────────────

func (s *Store) NextEntrySeq(_ context.Context, accountID id.AccountID, pool account.Pool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := poolKey(accountID, pool)
	next := s.seqCounters[key] + 1
	s.seqCounters[key] = next
	return next, nil
}

func (s *Store) CreateLedgerEntry(_ context.Context, e *entry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[e.ID.String()] = e
	if e.IdempotencyKey != "" {
		s.entriesByIdemK[e.IdempotencyKey] = e
	}
	return nil
}

func (s *Store) GetEntryByIdempotencyKey(_ context.Context, key string) (*entry.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entriesByIdemK[key]; ok {
		return e, nil
	}
	return nil, nil //nolint:nilnil // absence of a prior entry is not an error
}

// GetBalanceProjection derives available/reserved balances by summing
// live lot buckets for (accountID, pool), the same source of truth the
// SQLite store reads from.
func (s *Store) GetBalanceProjection(_ context.Context, accountID id.AccountID, pool account.Pool) (types.MicroUSD, types.MicroUSD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var available, reserved int64
	for _, l := range s.lots {
		if l.AccountID != accountID || l.Pool != pool {
			continue
		}
		available += l.AvailableMicro.Int64()
		reserved += l.ReservedMicro.Int64()
	}
	return types.MustMicroUSD(available), types.MustMicroUSD(reserved), nil
}

func (s *Store) ListLedgerEntries(_ context.Context, accountID id.AccountID, pool account.Pool, limit, offset int) ([]*entry.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entry.Entry
	for _, e := range s.entries {
		if e.AccountID == accountID && e.Pool == pool {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntrySeq > out[j].EntrySeq })

	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Transfers
// ──────────────────────────────────────────────────

func (s *Store) CreateTransfer(_ context.Context, t *xfer.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transfers[t.ID.String()] = t
	if t.IdempotencyKey != "" {
		s.transfersByIdemK[t.IdempotencyKey] = t
	}
	return nil
}

func (s *Store) GetTransferByIdempotencyKey(_ context.Context, key string) (*xfer.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.transfersByIdemK[key]; ok {
		return t, nil
	}
	return nil, nil //nolint:nilnil // absence of a prior transfer is not an error
}

func (s *Store) UpdateTransfer(_ context.Context, t *xfer.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transfers[t.ID.String()]; !ok {
		return ledger.ErrNotFound
	}
	s.transfers[t.ID.String()] = t
	if t.IdempotencyKey != "" {
		s.transfersByIdemK[t.IdempotencyKey] = t
	}
	return nil
}

func (s *Store) SumCompletedTransfersSince(_ context.Context, fromAccountID id.AccountID, since time.Time) (types.MicroUSD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum int64
	for _, t := range s.transfers {
		if t.FromAccountID == fromAccountID && t.Status == xfer.StatusCompleted && t.CreatedAt.After(since) {
			sum += t.AmountMicro.Int64()
		}
	}
	return types.MustMicroUSD(sum), nil
}

// ──────────────────────────────────────────────────
// Idempotency
// ──────────────────────────────────────────────────

func (s *Store) GetIdempotentResponse(_ context.Context, scope, key string) (string, time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.idempotencyKeys[scope+"|"+key]
	if !ok {
		return "", time.Time{}, false, nil
	}
	return e.hash, e.expiresAt, true, nil
}

func (s *Store) PutIdempotentResponse(_ context.Context, scope, key, hash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idempotencyKeys[scope+"|"+key] = idemEntry{hash: hash, expiresAt: expiresAt}
	return nil
}

// ──────────────────────────────────────────────────
// Governance
// ──────────────────────────────────────────────────

func (s *Store) GetActiveGovernanceConfig(_ context.Context, paramKey string, entityType *account.EntityType) (*governance.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *governance.Config
	for _, c := range s.governanceConfigs {
		if c.ParamKey != paramKey || c.Status != governance.StatusActive {
			continue
		}
		if !sameScope(c.EntityType, entityType) {
			continue
		}
		if best == nil || c.Version > best.Version {
			best = c
		}
	}
	return best, nil
}

func sameScope(a, b *account.EntityType) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Store) GetGovernanceConfig(_ context.Context, configID id.GovernanceConfigID) (*governance.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.governanceConfigs[configID.String()]; ok {
		return c, nil
	}
	return nil, ledger.ErrNotFound
}

func (s *Store) CreateGovernanceConfig(_ context.Context, cfg *governance.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.governanceConfigs[cfg.ID.String()] = cfg
	return nil
}

func (s *Store) UpdateGovernanceConfig(_ context.Context, cfg *governance.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.governanceConfigs[cfg.ID.String()]; !ok {
		return ledger.ErrNotFound
	}
	cfg.UpdatedAt = time.Now().UTC()
	s.governanceConfigs[cfg.ID.String()] = cfg
	return nil
}

func (s *Store) ListCoolingDownConfigs(_ context.Context, asOf time.Time) ([]*governance.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*governance.Config
	for _, c := range s.governanceConfigs {
		if c.Status == governance.StatusCoolingDown && c.CooldownEndsAt != nil && !c.CooldownEndsAt.After(asOf) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Settlement / receivables
// ──────────────────────────────────────────────────

func (s *Store) CreateReceivable(_ context.Context, r *settlement.Receivable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receivables[r.ID.String()] = r
	return nil
}

func (s *Store) GetOldestOpenReceivable(_ context.Context, accountID id.AccountID) (*settlement.Receivable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *settlement.Receivable
	for _, r := range s.receivables {
		if r.AccountID != accountID || r.Status != settlement.ReceivableOpen {
			continue
		}
		if best == nil || r.CreatedAt.Before(best.CreatedAt) {
			best = r
		}
	}
	return best, nil
}

func (s *Store) UpdateReceivable(_ context.Context, r *settlement.Receivable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.receivables[r.ID.String()]; !ok {
		return ledger.ErrNotFound
	}
	s.receivables[r.ID.String()] = r
	return nil
}

// ──────────────────────────────────────────────────
// Outbox
// ──────────────────────────────────────────────────

func (s *Store) InsertOutboxEvent(_ context.Context, evt *outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outboxEvents[evt.ID.String()] = evt
	return nil
}

func (s *Store) ListUndeliveredOutboxEvents(_ context.Context, limit int) ([]*outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*outbox.Event
	for _, e := range s.outboxEvents {
		if e.DeliveredAt == nil {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkOutboxEventDelivered(_ context.Context, eventID id.OutboxEventID, deliveredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.outboxEvents[eventID.String()]; ok {
		e.DeliveredAt = &deliveredAt
	}
	return nil
}

// ──────────────────────────────────────────────────
// Discounts
// ──────────────────────────────────────────────────

func (s *Store) ListExpiredDiscounts(_ context.Context, asOf time.Time, limit int) ([]*discount.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*discount.Discount
	for _, d := range s.discounts {
		if d.Status == discount.StatusActive && d.Expired(asOf) {
			out = append(out, d)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateDiscount(_ context.Context, d *discount.Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.discounts[d.ID.String()]; !ok {
		return ledger.ErrNotFound
	}
	s.discounts[d.ID.String()] = d
	return nil
}

// ──────────────────────────────────────────────────
// Transaction / lifecycle
// ──────────────────────────────────────────────────

// WithTx runs fn against the same store under the single process mutex;
// there is no partial-commit rollback, so on fn's error the caller's
// mutations up to that point remain applied, matching this store's role
// as a test double rather than a durability guarantee.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledgerstore.Tx) error) error {
	return fn(ctx, s)
}

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) SelfTest(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }
