// Package plugin provides an extensible hook system for the ledger
// engine. Plugins observe lifecycle events; they never gate or mutate
// the operation that triggered them.
package plugin

import "context"

// Plugin is the base interface every plugin must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called once when the engine starts, after migration.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Account / lot hooks
// ──────────────────────────────────────────────────

// OnAccountCreated fires the first time an (entity_type, entity_id)
// pair resolves to a new account.
type OnAccountCreated interface {
	Plugin
	OnAccountCreated(ctx context.Context, acct interface{}) error
}

// OnLotMinted fires after a lot is created and its deposit/grant ledger
// entry committed.
type OnLotMinted interface {
	Plugin
	OnLotMinted(ctx context.Context, lot interface{}) error
}

// ──────────────────────────────────────────────────
// Reservation hooks
// ──────────────────────────────────────────────────

// OnReservationCreated fires after a pending reservation commits.
type OnReservationCreated interface {
	Plugin
	OnReservationCreated(ctx context.Context, rsv interface{}) error
}

// OnReservationFinalized fires after Finalize commits, reporting the
// overrun recorded (zero for live clamps; in shadow mode, the overrun
// that is reported but not applied to the balance).
type OnReservationFinalized interface {
	Plugin
	OnReservationFinalized(ctx context.Context, rsv interface{}, overrunMicro int64) error
}

// OnReservationReleased fires after Release commits.
type OnReservationReleased interface {
	Plugin
	OnReservationReleased(ctx context.Context, rsv interface{}) error
}

// OnReservationExpired fires when the sweeper transitions a pending
// reservation to expired.
type OnReservationExpired interface {
	Plugin
	OnReservationExpired(ctx context.Context, rsv interface{}) error
}

// ──────────────────────────────────────────────────
// Transfer hooks
// ──────────────────────────────────────────────────

// OnTransferInitiated fires once a transfer's policy pre-checks pass and
// the in-transaction phase begins.
type OnTransferInitiated interface {
	Plugin
	OnTransferInitiated(ctx context.Context, xfer interface{}) error
}

// OnTransferCompleted fires after a transfer commits as completed.
type OnTransferCompleted interface {
	Plugin
	OnTransferCompleted(ctx context.Context, xfer interface{}) error
}

// OnTransferRejected fires after a transfer is persisted rejected, for
// any of the provenance/budget/governance/balance reasons.
type OnTransferRejected interface {
	Plugin
	OnTransferRejected(ctx context.Context, xfer interface{}, reason string) error
}

// ──────────────────────────────────────────────────
// Governance hooks
// ──────────────────────────────────────────────────

// OnGovernanceProposed fires when a new config enters the draft state.
type OnGovernanceProposed interface {
	Plugin
	OnGovernanceProposed(ctx context.Context, cfg interface{}) error
}

// OnGovernanceActivated fires when the sweeper activates a config whose
// cooldown has expired. An emergency override does not fire it.
type OnGovernanceActivated interface {
	Plugin
	OnGovernanceActivated(ctx context.Context, cfg interface{}) error
}

// ──────────────────────────────────────────────────
// Settlement / clawback hooks
// ──────────────────────────────────────────────────

// OnEarningSettled fires after a single earning's settlement entry commits.
type OnEarningSettled interface {
	Plugin
	OnEarningSettled(ctx context.Context, earningID string, amountMicro int64) error
}

// OnClawbackApplied fires after a clawback entry posted through the
// engine's PostEntry commits. As fired by the engine, receivableMicro is
// always zero: a receivable that settlement.AgentClawback opens for an
// unrecovered remainder is not reported through this hook.
type OnClawbackApplied interface {
	Plugin
	OnClawbackApplied(ctx context.Context, earningID string, appliedMicro, receivableMicro int64) error
}

// ──────────────────────────────────────────────────
// External capability providers
// ──────────────────────────────────────────────────

// ProvenanceProviderPlugin supplies the Provenance capability the
// transfer package consults before an agent-initiated transfer.
type ProvenanceProviderPlugin interface {
	Plugin
	Provenance() interface{} // returns transfer.Provenance
}

// BudgetProviderPlugin supplies the Budget capability the transfer
// package consults for an agent's daily spend cap.
type BudgetProviderPlugin interface {
	Plugin
	Budget() interface{} // returns transfer.Budget
}
