package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	ledger "github.com/xraph/creditledger"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/outbox"
	ledgerstore "github.com/xraph/creditledger/store"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM. All
// entity-level methods are inherited from an embedded *executor bound to
// the non-transactional handle; WithTx constructs a second executor bound
// to the transaction for the duration of the caller's function.
type Store struct {
	*executor
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	sdb := sqlitedriver.Unwrap(db)
	return &Store{
		executor: &executor{sdb: sdb},
		db:       db,
		sdb:      sdb,
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("creditledger/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// busyErrSubstrings matches SQLite's BUSY/locked error text across
// driver wrappers, which don't all expose a typed sentinel.
var busyErrSubstrings = []string{"database is locked", "SQLITE_BUSY", "database table is locked"}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range busyErrSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// WithTx begins a serializable (BEGIN IMMEDIATE) transaction and runs fn
// against a Tx bound to it, retrying per store.BusyRetrySchedule on a
// BUSY/locked error before surfacing ledger.ErrConflict.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledgerstore.Tx) error) error {
	attempt := func() error {
		return s.db.RunInTx(ctx, func(ctx context.Context, tx *grove.DB) error {
			ex := &executor{sdb: sqlitedriver.Unwrap(tx)}
			return fn(ctx, ex)
		})
	}

	err := attempt()
	if err == nil || !isBusyErr(err) {
		return err
	}

	for _, delay := range ledgerstore.BusyRetrySchedule {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		err = attempt()
		if err == nil {
			return nil
		}
		if !isBusyErr(err) {
			return err
		}
	}
	return fmt.Errorf("creditledger/sqlite: transaction retries exhausted: %w: %w", ledger.ErrConflict, err)
}

// ──────────────────────────────────────────────────
// Outbox drain (runs outside the state-changing transaction)
// ──────────────────────────────────────────────────

func (s *Store) ListUndeliveredOutboxEvents(ctx context.Context, limit int) ([]*outbox.Event, error) {
	var models []outboxEventModel
	err := s.sdb.NewSelect(&models).
		Where("delivered_at IS NULL").
		OrderExpr("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*outbox.Event, len(models))
	for i := range models {
		evt, err := fromOutboxEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		out[i] = evt
	}
	return out, nil
}

func (s *Store) MarkOutboxEventDelivered(ctx context.Context, eventID id.OutboxEventID, deliveredAt time.Time) error {
	_, err := s.sdb.NewUpdate((*outboxEventModel)(nil)).
		Set("delivered_at = ?", deliveredAt).
		Where("id = ?", eventID.String()).
		Exec(ctx)
	return err
}
