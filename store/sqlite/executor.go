package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/discount"
	"github.com/xraph/creditledger/entry"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/lot"
	ledgerstore "github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/settlement"
	"github.com/xraph/creditledger/types"
	"github.com/xraph/creditledger/xfer"
)

func now() time.Time { return time.Now().UTC() }

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

// executor implements store.Tx against a single *sqlitedriver.SqliteDB
// handle. The same implementation backs both the non-transactional Store
// (sdb bound to the database) and every WithTx call (sdb bound to that
// call's transaction), so account/lot/reservation/entry logic is written
// exactly once regardless of which handle it runs against.
type executor struct {
	sdb *sqlitedriver.SqliteDB
}

var _ ledgerstore.Tx = (*executor)(nil)

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

func (e *executor) GetOrCreateAccount(ctx context.Context, entityType account.EntityType, entityID string) (*account.Account, bool, error) {
	m := new(accountModel)
	err := e.sdb.NewSelect(m).
		Where("entity_type = ?", string(entityType)).
		Where("entity_id = ?", entityID).
		Scan(ctx)
	if err == nil {
		a, err := fromAccountModel(m)
		return a, false, err
	}
	if !isNoRows(err) {
		return nil, false, err
	}

	a := account.New(entityType, entityID)
	row := toAccountModel(a)
	_, err = e.sdb.NewInsert(row).
		OnConflict("(entity_type, entity_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, err
	}

	// A concurrent GetOrCreateAccount may have won the race; re-read and
	// compare identity to tell which of us actually created the row.
	m = new(accountModel)
	if err := e.sdb.NewSelect(m).
		Where("entity_type = ?", string(entityType)).
		Where("entity_id = ?", entityID).
		Scan(ctx); err != nil {
		return nil, false, err
	}
	won := m.ID == a.ID.String()
	got, err := fromAccountModel(m)
	return got, won, err
}

func (e *executor) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	m := new(accountModel)
	err := e.sdb.NewSelect(m).Where("id = ?", accountID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("sqlite: account %s: %w", accountID, sql.ErrNoRows)
		}
		return nil, err
	}
	return fromAccountModel(m)
}

// ──────────────────────────────────────────────────
// Lots
// ──────────────────────────────────────────────────

func (e *executor) CreateLot(ctx context.Context, l *lot.Lot) error {
	_, err := e.sdb.NewInsert(toLotModel(l)).Exec(ctx)
	return err
}

func (e *executor) GetLot(ctx context.Context, lotID id.LotID) (*lot.Lot, error) {
	m := new(lotModel)
	err := e.sdb.NewSelect(m).Where("id = ?", lotID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("sqlite: lot %s: %w", lotID, sql.ErrNoRows)
		}
		return nil, err
	}
	return fromLotModel(m)
}

func (e *executor) UpdateLot(ctx context.Context, l *lot.Lot) error {
	l.Touch()
	m := toLotModel(l)
	_, err := e.sdb.NewUpdate(m).WherePK().Exec(ctx)
	return err
}

// SelectCandidateLots returns unexpired lots with remaining available
// balance for (accountID, pool), ordered so the caller can apply FIFO:
// (1) lots in the requested pool before default-pool fallback lots, (2)
// finite expiry before none, (3) earliest expiry, (4) earliest creation.
// A non-default pool's candidates include the default pool so a draw
// against a restricted pool can still fall back to general credit.
func (e *executor) SelectCandidateLots(ctx context.Context, accountID id.AccountID, pool account.Pool, asOf time.Time) ([]*lot.Lot, error) {
	normalized := account.Normalize(pool)
	var models []lotModel
	q := e.sdb.NewSelect(&models).
		Where("account_id = ?", accountID.String()).
		Where("available_micro > 0").
		Where("expires_at IS NULL OR expires_at > ?", asOf)

	if normalized == account.DefaultPool {
		q = q.Where("pool = ?", string(normalized))
	} else {
		q = q.Where("pool = ? OR pool = ?", string(normalized), string(account.DefaultPool)).
			OrderExpr("CASE WHEN pool = ? THEN 0 ELSE 1 END ASC", string(normalized))
	}

	err := q.OrderExpr("(expires_at IS NULL) ASC, expires_at ASC, created_at ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromLotModels(models)
}

func fromLotModels(models []lotModel) ([]*lot.Lot, error) {
	out := make([]*lot.Lot, len(models))
	for i := range models {
		l, err := fromLotModel(&models[i])
		if err != nil {
			return nil, err
		}
		out[i] = l
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Reservations
// ──────────────────────────────────────────────────

func (e *executor) CreateReservation(ctx context.Context, r *reservation.Reservation) error {
	_, err := e.sdb.NewInsert(toReservationModel(r)).Exec(ctx)
	return err
}

func (e *executor) GetReservation(ctx context.Context, reservationID id.ReservationID) (*reservation.Reservation, error) {
	m := new(reservationModel)
	err := e.sdb.NewSelect(m).Where("id = ?", reservationID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("sqlite: reservation %s: %w", reservationID, sql.ErrNoRows)
		}
		return nil, err
	}
	return fromReservationModel(m)
}

func (e *executor) UpdateReservation(ctx context.Context, r *reservation.Reservation) error {
	r.Touch()
	_, err := e.sdb.NewUpdate(toReservationModel(r)).WherePK().Exec(ctx)
	return err
}

func (e *executor) GetReservationByIdempotencyKey(ctx context.Context, key string) (*reservation.Reservation, error) {
	if key == "" {
		return nil, nil //nolint:nilnil // no key supplied is not an error
	}
	m := new(reservationModel)
	err := e.sdb.NewSelect(m).Where("idempotency_key = ?", key).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // no prior reservation for this key
		}
		return nil, err
	}
	return fromReservationModel(m)
}

func (e *executor) CreateReservationLots(ctx context.Context, rls []*reservation.Lot) error {
	if len(rls) == 0 {
		return nil
	}
	models := make([]*reservationLotModel, len(rls))
	for i, rl := range rls {
		models[i] = toReservationLotModel(rl)
	}
	_, err := e.sdb.NewInsert(&models).Exec(ctx)
	return err
}

func (e *executor) ListReservationLots(ctx context.Context, reservationID id.ReservationID) ([]*reservation.Lot, error) {
	var models []reservationLotModel
	err := e.sdb.NewSelect(&models).
		Where("reservation_id = ?", reservationID.String()).
		OrderExpr("alloc_seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*reservation.Lot, len(models))
	for i := range models {
		rl, err := fromReservationLotModel(&models[i])
		if err != nil {
			return nil, err
		}
		out[i] = rl
	}
	return out, nil
}

func (e *executor) ListExpiredReservations(ctx context.Context, asOf time.Time, limit int) ([]*reservation.Reservation, error) {
	var models []reservationModel
	err := e.sdb.NewSelect(&models).
		Where("status = ?", string(reservation.StatusPending)).
		Where("expires_at <= ?", asOf).
		OrderExpr("expires_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*reservation.Reservation, len(models))
	for i := range models {
		r, err := fromReservationModel(&models[i])
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Ledger entries
// ──────────────────────────────────────────────────

// NextEntrySeq allocates the next monotonic sequence number for
// (accountID, pool) by incrementing a row-level counter, relying on the
// surrounding serializable transaction to prevent concurrent allocation
// of the same value.
func (e *executor) NextEntrySeq(ctx context.Context, accountID id.AccountID, pool account.Pool) (uint64, error) {
	_, err := e.sdb.NewInsert(&seqCounterModel{AccountID: accountID.String(), Pool: string(pool), NextSeq: 1}).
		OnConflict("(account_id, pool) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	var dest struct {
		NextSeq int64
	}
	if err := e.sdb.NewRaw(
		`UPDATE ledger_seq_counters SET next_seq = next_seq + 1 WHERE account_id = ? AND pool = ? RETURNING (next_seq - 1) AS next_seq`,
		accountID.String(), string(pool),
	).Scan(ctx, &dest); err != nil {
		return 0, err
	}
	return uint64(dest.NextSeq), nil
}

func (e *executor) CreateLedgerEntry(ctx context.Context, le *entry.Entry) error {
	_, err := e.sdb.NewInsert(toLedgerEntryModel(le)).Exec(ctx)
	return err
}

func (e *executor) GetEntryByIdempotencyKey(ctx context.Context, key string) (*entry.Entry, error) {
	if key == "" {
		return nil, nil //nolint:nilnil // no key supplied is not an error
	}
	m := new(ledgerEntryModel)
	err := e.sdb.NewSelect(m).Where("idempotency_key = ?", key).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // no prior entry for this key
		}
		return nil, err
	}
	return fromLedgerEntryModel(m)
}

// GetBalanceProjection sums the three lot buckets directly: the account's
// available and reserved balance is always a function of its live lots,
// never a separately maintained running total, so it can never drift
// from the lots it is derived from.
func (e *executor) GetBalanceProjection(ctx context.Context, accountID id.AccountID, pool account.Pool) (available, reserved types.MicroUSD, err error) {
	var dest struct {
		Available int64
		Reserved  int64
	}
	err = e.sdb.NewRaw(
		`SELECT COALESCE(SUM(available_micro),0) AS available, COALESCE(SUM(reserved_micro),0) AS reserved
		 FROM ledger_lots WHERE account_id = ? AND pool = ?`,
		accountID.String(), string(pool),
	).Scan(ctx, &dest)
	if err != nil {
		return 0, 0, err
	}
	return types.MicroUSD(dest.Available), types.MicroUSD(dest.Reserved), nil
}

func (e *executor) ListLedgerEntries(ctx context.Context, accountID id.AccountID, pool account.Pool, limit, offset int) ([]*entry.Entry, error) {
	var models []ledgerEntryModel
	q := e.sdb.NewSelect(&models).
		Where("account_id = ?", accountID.String()).
		Where("pool = ?", string(pool)).
		OrderExpr("entry_seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*entry.Entry, len(models))
	for i := range models {
		en, err := fromLedgerEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		out[i] = en
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Transfers
// ──────────────────────────────────────────────────

func (e *executor) CreateTransfer(ctx context.Context, t *xfer.Transfer) error {
	_, err := e.sdb.NewInsert(toTransferModel(t)).Exec(ctx)
	return err
}

func (e *executor) GetTransferByIdempotencyKey(ctx context.Context, key string) (*xfer.Transfer, error) {
	m := new(transferModel)
	err := e.sdb.NewSelect(m).Where("idempotency_key = ?", key).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // caller treats nil,nil as "no prior transfer"
		}
		return nil, err
	}
	return fromTransferModel(m)
}

func (e *executor) UpdateTransfer(ctx context.Context, t *xfer.Transfer) error {
	_, err := e.sdb.NewUpdate(toTransferModel(t)).WherePK().Exec(ctx)
	return err
}

func (e *executor) SumCompletedTransfersSince(ctx context.Context, fromAccountID id.AccountID, since time.Time) (types.MicroUSD, error) {
	var dest struct {
		Total int64
	}
	err := e.sdb.NewRaw(
		`SELECT COALESCE(SUM(amount_micro),0) AS total FROM ledger_transfers
		 WHERE from_account_id = ? AND status = ? AND created_at >= ?`,
		fromAccountID.String(), string(xfer.StatusCompleted), since,
	).Scan(ctx, &dest)
	if err != nil {
		return 0, err
	}
	return types.MicroUSD(dest.Total), nil
}

// ──────────────────────────────────────────────────
// Idempotency
// ──────────────────────────────────────────────────

func (e *executor) GetIdempotentResponse(ctx context.Context, scope, key string) (hash string, expiresAt time.Time, found bool, err error) {
	m := new(idempotencyKeyModel)
	err = e.sdb.NewSelect(m).Where("scope = ?", scope).Where(`"key" = ?`, key).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, err
	}
	return m.ResponseHash, m.ExpiresAt, true, nil
}

func (e *executor) PutIdempotentResponse(ctx context.Context, scope, key, hash string, expiresAt time.Time) error {
	m := &idempotencyKeyModel{Scope: scope, Key: key, ResponseHash: hash, ExpiresAt: expiresAt}
	_, err := e.sdb.NewInsert(m).
		OnConflict(`(scope, "key") DO UPDATE`).
		Set("response_hash = EXCLUDED.response_hash").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	return err
}

// ──────────────────────────────────────────────────
// Governance
// ──────────────────────────────────────────────────

func (e *executor) GetActiveGovernanceConfig(ctx context.Context, paramKey string, entityType *account.EntityType) (*governance.Config, error) {
	m := new(governanceConfigModel)
	q := e.sdb.NewSelect(m).
		Where("param_key = ?", paramKey).
		Where("status = ?", string(governance.StatusActive))
	if entityType != nil {
		q = q.Where("entity_type = ?", string(*entityType))
	} else {
		q = q.Where("entity_type IS NULL")
	}
	err := q.OrderExpr("version DESC").Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // caller falls back to the next resolution tier
		}
		return nil, err
	}
	return fromGovernanceConfigModel(m)
}

func (e *executor) GetGovernanceConfig(ctx context.Context, configID id.GovernanceConfigID) (*governance.Config, error) {
	m := new(governanceConfigModel)
	err := e.sdb.NewSelect(m).Where("id = ?", configID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("sqlite: governance config %s: %w", configID, sql.ErrNoRows)
		}
		return nil, err
	}
	return fromGovernanceConfigModel(m)
}

func (e *executor) CreateGovernanceConfig(ctx context.Context, cfg *governance.Config) error {
	_, err := e.sdb.NewInsert(toGovernanceConfigModel(cfg)).Exec(ctx)
	return err
}

func (e *executor) UpdateGovernanceConfig(ctx context.Context, cfg *governance.Config) error {
	cfg.UpdatedAt = now()
	_, err := e.sdb.NewUpdate(toGovernanceConfigModel(cfg)).WherePK().Exec(ctx)
	return err
}

func (e *executor) ListCoolingDownConfigs(ctx context.Context, asOf time.Time) ([]*governance.Config, error) {
	var models []governanceConfigModel
	err := e.sdb.NewSelect(&models).
		Where("status = ?", string(governance.StatusCoolingDown)).
		Where("cooldown_ends_at <= ?", asOf).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*governance.Config, len(models))
	for i := range models {
		cfg, err := fromGovernanceConfigModel(&models[i])
		if err != nil {
			return nil, err
		}
		out[i] = cfg
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Settlement / receivables
// ──────────────────────────────────────────────────

func (e *executor) CreateReceivable(ctx context.Context, r *settlement.Receivable) error {
	_, err := e.sdb.NewInsert(toReceivableModel(r)).Exec(ctx)
	return err
}

func (e *executor) GetOldestOpenReceivable(ctx context.Context, accountID id.AccountID) (*settlement.Receivable, error) {
	m := new(receivableModel)
	err := e.sdb.NewSelect(m).
		Where("account_id = ?", accountID.String()).
		Where("status = ?", string(settlement.ReceivableOpen)).
		OrderExpr("created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // no open receivable is a valid, common state
		}
		return nil, err
	}
	return fromReceivableModel(m)
}

func (e *executor) UpdateReceivable(ctx context.Context, r *settlement.Receivable) error {
	_, err := e.sdb.NewUpdate(toReceivableModel(r)).WherePK().Exec(ctx)
	return err
}

// ──────────────────────────────────────────────────
// Outbox
// ──────────────────────────────────────────────────

func (e *executor) InsertOutboxEvent(ctx context.Context, evt *outbox.Event) error {
	m, err := toOutboxEventModel(evt)
	if err != nil {
		return err
	}
	_, err = e.sdb.NewInsert(m).Exec(ctx)
	return err
}

// ──────────────────────────────────────────────────
// Discounts
// ──────────────────────────────────────────────────

func (e *executor) ListExpiredDiscounts(ctx context.Context, asOf time.Time, limit int) ([]*discount.Discount, error) {
	var models []discountModel
	err := e.sdb.NewSelect(&models).
		Where("status = ?", string(discount.StatusActive)).
		Where("expires_at IS NOT NULL AND expires_at <= ?", asOf).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*discount.Discount, len(models))
	for i := range models {
		d, err := fromDiscountModel(&models[i])
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func (e *executor) UpdateDiscount(ctx context.Context, d *discount.Discount) error {
	_, err := e.sdb.NewUpdate(toDiscountModel(d)).WherePK().Exec(ctx)
	return err
}
