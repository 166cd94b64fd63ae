package sqlite

import (
	"context"
	"fmt"

	"github.com/xraph/creditledger/discount"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/xfer"
)

// enumCheck names a column and the full set of values its CHECK
// constraint should permit, mirrored from the Go-level enum so the two
// never silently drift apart across a schema rebuild.
type enumCheck struct {
	table  string
	column string
	values []string
}

var enumChecks = []enumCheck{
	{"ledger_lots", "source_type", []string{
		string(lot.SourceDeposit), string(lot.SourceGrant), string(lot.SourceTransferIn),
		string(lot.SourceTBADeposit), string(lot.SourcePurchase),
	}},
	{"ledger_reservations", "status", []string{
		string(reservation.StatusPending), string(reservation.StatusFinalized),
		string(reservation.StatusReleased), string(reservation.StatusExpired),
	}},
	{"ledger_reservations", "billing_mode", []string{
		string(reservation.BillingShadow), string(reservation.BillingSoft), string(reservation.BillingLive),
	}},
	{"ledger_transfers", "status", []string{
		string(xfer.StatusPending), string(xfer.StatusCompleted), string(xfer.StatusRejected),
	}},
	{"ledger_governance_configs", "status", []string{
		string(governance.StatusDraft), string(governance.StatusPendingApproval), string(governance.StatusCoolingDown),
		string(governance.StatusActive), string(governance.StatusRejected), string(governance.StatusSuperseded),
	}},
	{"ledger_discounts", "status", []string{
		string(discount.StatusActive), string(discount.StatusExpired),
	}},
}

var requiredIndexes = []string{
	"idx_ledger_accounts_entity",
	"idx_ledger_lots_account_pool",
	"idx_ledger_lots_fifo",
	"idx_ledger_reservations_expiry",
	"idx_ledger_entries_seq",
	"idx_ledger_entries_idempotency",
	"idx_ledger_transfers_idempotency",
	"idx_ledger_gov_active_lookup",
	"idx_ledger_outbox_undelivered",
}

// SelfTest runs the post-migration integrity checks a schema rebuild
// (CREATE -> COPY -> SWAP -> DROP) must pass before the swapped-in table
// is trusted: referential integrity, enum completeness, and index
// presence. It never mutates state.
func (s *Store) SelfTest(ctx context.Context) error {
	if err := s.checkForeignKeys(ctx); err != nil {
		return err
	}
	if err := s.checkEnums(ctx); err != nil {
		return err
	}
	if err := s.checkIndexes(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Store) checkForeignKeys(ctx context.Context) error {
	var violations []struct {
		Table string
		RowID int64
	}
	if err := s.sdb.NewRaw(`PRAGMA foreign_key_check`).Scan(ctx, &violations); err != nil {
		return fmt.Errorf("creditledger/sqlite: foreign_key_check: %w", err)
	}
	if len(violations) > 0 {
		return fmt.Errorf("creditledger/sqlite: %d foreign key violation(s), first in table %q row %d",
			len(violations), violations[0].Table, violations[0].RowID)
	}
	return nil
}

// checkEnums verifies that each enum column's table DDL still mentions,
// quoted, every value the Go-level enum expects, and fails on the first
// one missing. The search covers the whole table's DDL rather than the
// single column's CHECK clause, and values the constraint accepts beyond
// the Go-level enum are not detected.
func (s *Store) checkEnums(ctx context.Context) error {
	for _, chk := range enumChecks {
		var ddl struct {
			SQL string
		}
		if err := s.sdb.NewRaw(
			`SELECT sql FROM sqlite_master WHERE type='table' AND name = ?`, chk.table,
		).Scan(ctx, &ddl); err != nil {
			return fmt.Errorf("creditledger/sqlite: read schema for %s: %w", chk.table, err)
		}
		for _, v := range chk.values {
			if !containsQuoted(ddl.SQL, v) {
				return fmt.Errorf(
					"creditledger/sqlite: table %s column %s CHECK constraint is missing expected value %q",
					chk.table, chk.column, v)
			}
		}
	}
	return nil
}

func containsQuoted(ddl, value string) bool {
	return contains(ddl, "'"+value+"'")
}

func contains(haystack, needle string) bool {
	return len(needle) > 0 && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

func (s *Store) checkIndexes(ctx context.Context) error {
	var rows []struct {
		Name string
	}
	if err := s.sdb.NewRaw(
		`SELECT name FROM sqlite_master WHERE type = 'index'`,
	).Scan(ctx, &rows); err != nil {
		return fmt.Errorf("creditledger/sqlite: list indexes: %w", err)
	}
	present := make(map[string]bool, len(rows))
	for _, r := range rows {
		present[r.Name] = true
	}
	for _, want := range requiredIndexes {
		if !present[want] {
			return fmt.Errorf("creditledger/sqlite: required index %q missing after rebuild", want)
		}
	}
	return nil
}
