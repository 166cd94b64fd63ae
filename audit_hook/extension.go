// Package audithook bridges ledger lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not import
// any particular audit backend directly. Callers inject a RecorderFunc
// adapter that bridges to their backend of choice at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/plugin"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/xfer"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnAccountCreated      = (*Extension)(nil)
	_ plugin.OnLotMinted           = (*Extension)(nil)
	_ plugin.OnReservationCreated  = (*Extension)(nil)
	_ plugin.OnReservationFinalized = (*Extension)(nil)
	_ plugin.OnReservationReleased = (*Extension)(nil)
	_ plugin.OnReservationExpired  = (*Extension)(nil)
	_ plugin.OnTransferInitiated   = (*Extension)(nil)
	_ plugin.OnTransferCompleted   = (*Extension)(nil)
	_ plugin.OnTransferRejected    = (*Extension)(nil)
	_ plugin.OnGovernanceProposed  = (*Extension)(nil)
	_ plugin.OnGovernanceActivated = (*Extension)(nil)
	_ plugin.OnEarningSettled      = (*Extension)(nil)
	_ plugin.OnClawbackApplied     = (*Extension)(nil)
)

// Recorder is the interface audit backends must implement. It is
// defined locally so this package has no dependency on the concrete
// backend; callers inject it at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event, independent
// of any particular backend's wire format.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges ledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Account / lot hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (e *Extension) OnAccountCreated(ctx context.Context, v interface{}) error {
	acctID, entityType := "", ""
	if acct, ok := v.(*account.Account); ok {
		acctID = acct.ID.String()
		entityType = string(acct.EntityType)
	}
	return e.record(ctx, ActionAccountCreated, SeverityInfo, OutcomeSuccess,
		ResourceAccount, acctID, CategoryLedger, nil,
		"entity_type", entityType,
	)
}

// OnLotMinted implements plugin.OnLotMinted.
func (e *Extension) OnLotMinted(ctx context.Context, v interface{}) error {
	lotID, amount := "", int64(0)
	if l, ok := v.(*lot.Lot); ok {
		lotID = l.ID.String()
		amount = l.OriginalMicro.Int64()
	}
	return e.record(ctx, ActionLotMinted, SeverityInfo, OutcomeSuccess,
		ResourceLot, lotID, CategoryLedger, nil,
		"amount_micro", amount,
	)
}

// ──────────────────────────────────────────────────
// Reservation hooks
// ──────────────────────────────────────────────────

// OnReservationCreated implements plugin.OnReservationCreated.
func (e *Extension) OnReservationCreated(ctx context.Context, v interface{}) error {
	id, amount := reservationFields(v)
	return e.record(ctx, ActionReservationCreated, SeverityInfo, OutcomeSuccess,
		ResourceReservation, id, CategoryLedger, nil,
		"reserved_micro", amount,
	)
}

// OnReservationFinalized implements plugin.OnReservationFinalized.
func (e *Extension) OnReservationFinalized(ctx context.Context, v interface{}, overrunMicro int64) error {
	id, amount := reservationFields(v)
	severity := SeverityInfo
	if overrunMicro > 0 {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionReservationFinalized, severity, OutcomeSuccess,
		ResourceReservation, id, CategoryLedger, nil,
		"reserved_micro", amount,
		"overrun_micro", overrunMicro,
	)
}

// OnReservationReleased implements plugin.OnReservationReleased.
func (e *Extension) OnReservationReleased(ctx context.Context, v interface{}) error {
	id, amount := reservationFields(v)
	return e.record(ctx, ActionReservationReleased, SeverityInfo, OutcomeSuccess,
		ResourceReservation, id, CategoryLedger, nil,
		"released_micro", amount,
	)
}

// OnReservationExpired implements plugin.OnReservationExpired.
func (e *Extension) OnReservationExpired(ctx context.Context, v interface{}) error {
	id, amount := reservationFields(v)
	return e.record(ctx, ActionReservationExpired, SeverityWarning, OutcomeSuccess,
		ResourceReservation, id, CategoryLedger, nil,
		"released_micro", amount,
	)
}

func reservationFields(v interface{}) (id string, amountMicro int64) {
	if r, ok := v.(*reservation.Reservation); ok {
		return r.ID.String(), r.TotalReservedMicro.Int64()
	}
	return "", 0
}

// ──────────────────────────────────────────────────
// Transfer hooks
// ──────────────────────────────────────────────────

// OnTransferInitiated implements plugin.OnTransferInitiated.
func (e *Extension) OnTransferInitiated(ctx context.Context, v interface{}) error {
	id, from, to, amount := transferFields(v)
	return e.record(ctx, ActionTransferInitiated, SeverityInfo, OutcomeSuccess,
		ResourceTransfer, id, CategoryTransfer, nil,
		"from_account_id", from,
		"to_account_id", to,
		"amount_micro", amount,
	)
}

// OnTransferCompleted implements plugin.OnTransferCompleted.
func (e *Extension) OnTransferCompleted(ctx context.Context, v interface{}) error {
	id, from, to, amount := transferFields(v)
	return e.record(ctx, ActionTransferCompleted, SeverityInfo, OutcomeSuccess,
		ResourceTransfer, id, CategoryTransfer, nil,
		"from_account_id", from,
		"to_account_id", to,
		"amount_micro", amount,
	)
}

// OnTransferRejected implements plugin.OnTransferRejected.
func (e *Extension) OnTransferRejected(ctx context.Context, v interface{}, reason string) error {
	id, from, to, amount := transferFields(v)
	return e.record(ctx, ActionTransferRejected, SeverityWarning, OutcomeFailure,
		ResourceTransfer, id, CategoryTransfer, fmt.Errorf("%s", reason),
		"from_account_id", from,
		"to_account_id", to,
		"amount_micro", amount,
	)
}

func transferFields(v interface{}) (id, from, to string, amountMicro int64) {
	if t, ok := v.(*xfer.Transfer); ok {
		return t.ID.String(), t.FromAccountID.String(), t.ToAccountID.String(), t.AmountMicro.Int64()
	}
	return "", "", "", 0
}

// ──────────────────────────────────────────────────
// Governance hooks
// ──────────────────────────────────────────────────

// OnGovernanceProposed implements plugin.OnGovernanceProposed.
func (e *Extension) OnGovernanceProposed(ctx context.Context, v interface{}) error {
	id, key := governanceFields(v)
	return e.record(ctx, ActionGovernanceProposed, SeverityInfo, OutcomeSuccess,
		ResourceGovernance, id, CategoryGovernance, nil,
		"param_key", key,
	)
}

// OnGovernanceActivated implements plugin.OnGovernanceActivated.
func (e *Extension) OnGovernanceActivated(ctx context.Context, v interface{}) error {
	id, key := governanceFields(v)
	return e.record(ctx, ActionGovernanceActivated, SeverityWarning, OutcomeSuccess,
		ResourceGovernance, id, CategoryGovernance, nil,
		"param_key", key,
	)
}

func governanceFields(v interface{}) (id, paramKey string) {
	if cfg, ok := v.(*governance.Config); ok {
		return cfg.ID.String(), cfg.ParamKey
	}
	return "", ""
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnEarningSettled implements plugin.OnEarningSettled.
func (e *Extension) OnEarningSettled(ctx context.Context, earningID string, amountMicro int64) error {
	return e.record(ctx, ActionEarningSettled, SeverityInfo, OutcomeSuccess,
		ResourceSettlement, earningID, CategorySettlement, nil,
		"amount_micro", amountMicro,
	)
}

// OnClawbackApplied implements plugin.OnClawbackApplied.
func (e *Extension) OnClawbackApplied(ctx context.Context, earningID string, appliedMicro, receivableMicro int64) error {
	outcome := OutcomeSuccess
	if receivableMicro > 0 {
		outcome = OutcomePartial
	}
	return e.record(ctx, ActionClawbackApplied, SeverityWarning, outcome,
		ResourceSettlement, earningID, CategorySettlement, nil,
		"applied_micro", appliedMicro,
		"receivable_micro", receivableMicro,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
