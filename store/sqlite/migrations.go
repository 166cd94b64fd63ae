package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the ledger store (SQLite).
var Migrations = migrate.NewGroup("ledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_ledger_accounts",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_accounts (
    id          TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL CHECK (entity_type IN ('person','agent','community','platform')),
    entity_id   TEXT NOT NULL,
    version     INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_accounts_entity ON ledger_accounts (entity_type, entity_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_lots",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_lots (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL REFERENCES ledger_accounts(id),
    pool            TEXT NOT NULL DEFAULT 'general',
    source_type     TEXT NOT NULL CHECK (source_type IN ('deposit','grant','transfer_in','tba_deposit','purchase')),
    source_id       TEXT NOT NULL DEFAULT '',
    original_micro  INTEGER NOT NULL CHECK (original_micro >= 0),
    available_micro INTEGER NOT NULL CHECK (available_micro >= 0),
    reserved_micro  INTEGER NOT NULL CHECK (reserved_micro >= 0),
    consumed_micro  INTEGER NOT NULL CHECK (consumed_micro >= 0),
    expires_at      TEXT,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),
    CHECK (available_micro + reserved_micro + consumed_micro = original_micro)
);

CREATE INDEX IF NOT EXISTS idx_ledger_lots_account_pool ON ledger_lots (account_id, pool);
CREATE INDEX IF NOT EXISTS idx_ledger_lots_fifo ON ledger_lots (account_id, pool, expires_at, created_at);
CREATE INDEX IF NOT EXISTS idx_ledger_lots_expires ON ledger_lots (expires_at) WHERE expires_at IS NOT NULL;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_lots`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_reservations",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_reservations (
    id                   TEXT PRIMARY KEY,
    account_id           TEXT NOT NULL REFERENCES ledger_accounts(id),
    pool                 TEXT NOT NULL DEFAULT 'general',
    total_reserved_micro INTEGER NOT NULL CHECK (total_reserved_micro >= 0),
    status               TEXT NOT NULL CHECK (status IN ('pending','finalized','released','expired')),
    billing_mode         TEXT NOT NULL CHECK (billing_mode IN ('shadow','soft','live')),
    expires_at           TEXT NOT NULL,
    idempotency_key      TEXT NOT NULL DEFAULT '',
    actual_cost_micro    INTEGER,
    overrun_micro        INTEGER,
    created_at           TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at           TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_ledger_reservations_account ON ledger_reservations (account_id, pool);
CREATE INDEX IF NOT EXISTS idx_ledger_reservations_expiry ON ledger_reservations (status, expires_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_reservations_idempotency ON ledger_reservations (idempotency_key) WHERE idempotency_key != '';

CREATE TABLE IF NOT EXISTS ledger_reservation_lots (
    reservation_id TEXT NOT NULL REFERENCES ledger_reservations(id),
    lot_id         TEXT NOT NULL REFERENCES ledger_lots(id),
    reserved_micro INTEGER NOT NULL CHECK (reserved_micro >= 0),
    alloc_seq      INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (reservation_id, lot_id)
);

CREATE INDEX IF NOT EXISTS idx_ledger_reservation_lots_lot ON ledger_reservation_lots (lot_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_reservation_lots; DROP TABLE IF EXISTS ledger_reservations`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_entries",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id                 TEXT PRIMARY KEY,
    account_id         TEXT NOT NULL REFERENCES ledger_accounts(id),
    pool               TEXT NOT NULL DEFAULT 'general',
    lot_id             TEXT REFERENCES ledger_lots(id),
    reservation_id     TEXT REFERENCES ledger_reservations(id),
    entry_seq          INTEGER NOT NULL,
    entry_type         TEXT NOT NULL CHECK (entry_type IN
        ('deposit','grant','reserve','finalize','release','transfer_out','transfer_in','settlement','clawback','drip')),
    amount_micro       INTEGER NOT NULL,
    idempotency_key    TEXT NOT NULL DEFAULT '',
    pre_balance_micro  INTEGER NOT NULL,
    post_balance_micro INTEGER NOT NULL,
    created_at         TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_seq ON ledger_entries (account_id, pool, entry_seq);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_history ON ledger_entries (account_id, pool, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_idempotency ON ledger_entries (idempotency_key) WHERE idempotency_key != '';

CREATE TABLE IF NOT EXISTS ledger_seq_counters (
    account_id TEXT NOT NULL,
    pool       TEXT NOT NULL,
    next_seq   INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (account_id, pool)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_seq_counters; DROP TABLE IF EXISTS ledger_entries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_transfers",
			Version: "20250101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_transfers (
    id               TEXT PRIMARY KEY,
    idempotency_key  TEXT NOT NULL,
    from_account_id  TEXT NOT NULL REFERENCES ledger_accounts(id),
    to_account_id    TEXT NOT NULL REFERENCES ledger_accounts(id),
    amount_micro     INTEGER NOT NULL CHECK (amount_micro > 0),
    status           TEXT NOT NULL CHECK (status IN ('pending','completed','rejected')),
    rejection_reason TEXT NOT NULL DEFAULT '',
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_transfers_idempotency ON ledger_transfers (idempotency_key);
CREATE INDEX IF NOT EXISTS idx_ledger_transfers_from_daily ON ledger_transfers (from_account_id, status, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_transfers`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_governance_configs",
			Version: "20250101000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_governance_configs (
    id                 TEXT PRIMARY KEY,
    param_key          TEXT NOT NULL,
    value              TEXT NOT NULL,
    entity_type        TEXT,
    version            INTEGER NOT NULL DEFAULT 1,
    status             TEXT NOT NULL CHECK (status IN
        ('draft','pending_approval','cooling_down','active','rejected','superseded')),
    required_approvals INTEGER NOT NULL DEFAULT 2,
    approval_count     INTEGER NOT NULL DEFAULT 0,
    approvers_csv      TEXT NOT NULL DEFAULT '',
    proposed_by        TEXT NOT NULL DEFAULT '',
    cooldown_ends_at   TEXT,
    created_at         TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_ledger_gov_active_lookup ON ledger_governance_configs (param_key, entity_type, status);
CREATE INDEX IF NOT EXISTS idx_ledger_gov_cooling_down ON ledger_governance_configs (status, cooldown_ends_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_governance_configs`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_receivables",
			Version: "20250101000007",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_receivables (
    id                 TEXT PRIMARY KEY,
    account_id         TEXT NOT NULL REFERENCES ledger_accounts(id),
    original_micro     INTEGER NOT NULL CHECK (original_micro >= 0),
    balance_micro      INTEGER NOT NULL CHECK (balance_micro >= 0),
    source_clawback_id TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL CHECK (status IN ('open','resolved')),
    created_at         TEXT NOT NULL DEFAULT (datetime('now')),
    resolved_at        TEXT
);

CREATE INDEX IF NOT EXISTS idx_ledger_receivables_open ON ledger_receivables (account_id, status, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_receivables`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_outbox_events",
			Version: "20250101000008",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_outbox_events (
    id              TEXT PRIMARY KEY,
    event_type      TEXT NOT NULL,
    aggregate_type  TEXT NOT NULL,
    aggregate_id    TEXT NOT NULL,
    correlation_id  TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT NOT NULL DEFAULT '',
    payload_json    TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    delivered_at    TEXT
);

CREATE INDEX IF NOT EXISTS idx_ledger_outbox_undelivered ON ledger_outbox_events (delivered_at, created_at) WHERE delivered_at IS NULL;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_outbox_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_discounts",
			Version: "20250101000009",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_discounts (
    id              TEXT PRIMARY KEY,
    code            TEXT NOT NULL,
    type            TEXT NOT NULL CHECK (type IN ('percentage','amount')),
    amount_micro    INTEGER NOT NULL DEFAULT 0,
    percentage_bps  INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL CHECK (status IN ('active','expired')),
    max_redemptions INTEGER NOT NULL DEFAULT 0,
    times_redeemed  INTEGER NOT NULL DEFAULT 0,
    valid_from      TEXT,
    expires_at      TEXT,
    created_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_discounts_code ON ledger_discounts (code);
CREATE INDEX IF NOT EXISTS idx_ledger_discounts_expiry ON ledger_discounts (status, expires_at) WHERE expires_at IS NOT NULL;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_discounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_idempotency_keys",
			Version: "20250101000010",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_idempotency_keys (
    scope         TEXT NOT NULL,
    key           TEXT NOT NULL,
    response_hash TEXT NOT NULL,
    expires_at    TEXT NOT NULL,
    PRIMARY KEY (scope, key)
);

CREATE INDEX IF NOT EXISTS idx_ledger_idempotency_expiry ON ledger_idempotency_keys (expires_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_idempotency_keys`)
				return err
			},
		},
	)
}
