// Package observability provides a metrics extension for the ledger
// engine that records lifecycle event counts and magnitudes via a
// generic MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/plugin"
	"github.com/xraph/creditledger/xfer"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnAccountCreated       = (*MetricsExtension)(nil)
	_ plugin.OnLotMinted            = (*MetricsExtension)(nil)
	_ plugin.OnReservationCreated   = (*MetricsExtension)(nil)
	_ plugin.OnReservationFinalized = (*MetricsExtension)(nil)
	_ plugin.OnReservationReleased  = (*MetricsExtension)(nil)
	_ plugin.OnReservationExpired   = (*MetricsExtension)(nil)
	_ plugin.OnTransferInitiated    = (*MetricsExtension)(nil)
	_ plugin.OnTransferCompleted    = (*MetricsExtension)(nil)
	_ plugin.OnTransferRejected     = (*MetricsExtension)(nil)
	_ plugin.OnGovernanceProposed   = (*MetricsExtension)(nil)
	_ plugin.OnGovernanceActivated  = (*MetricsExtension)(nil)
	_ plugin.OnEarningSettled       = (*MetricsExtension)(nil)
	_ plugin.OnClawbackApplied      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics. Register it
// as a ledger plugin to automatically track balance-affecting events.
type MetricsExtension struct {
	factory MetricFactory

	// Account / lot metrics
	AccountsCreated Counter
	LotsMinted      Counter
	LotAmount       Histogram

	// Reservation metrics
	ReservationsCreated   Counter
	ReservationsFinalized Counter
	ReservationsReleased  Counter
	ReservationsExpired   Counter
	ReservationOverrun    Histogram

	// Transfer metrics
	TransfersInitiated Counter
	TransfersCompleted Counter
	TransfersRejected  Counter
	TransferAmount     Histogram

	// Governance metrics
	GovernanceProposed  Counter
	GovernanceActivated Counter

	// Settlement metrics
	EarningsSettled    Counter
	ClawbacksApplied   Counter
	ReceivablesCreated Counter

	// Error metrics
	StoreErrors  Counter
	PluginErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		AccountsCreated: factory.Counter("ledger.account.created"),
		LotsMinted:      factory.Counter("ledger.lot.minted"),
		LotAmount:       factory.Histogram("ledger.lot.amount_micro"),

		ReservationsCreated:   factory.Counter("ledger.reservation.created"),
		ReservationsFinalized: factory.Counter("ledger.reservation.finalized"),
		ReservationsReleased:  factory.Counter("ledger.reservation.released"),
		ReservationsExpired:   factory.Counter("ledger.reservation.expired"),
		ReservationOverrun:    factory.Histogram("ledger.reservation.overrun_micro"),

		TransfersInitiated: factory.Counter("ledger.transfer.initiated"),
		TransfersCompleted: factory.Counter("ledger.transfer.completed"),
		TransfersRejected:  factory.Counter("ledger.transfer.rejected"),
		TransferAmount:     factory.Histogram("ledger.transfer.amount_micro"),

		GovernanceProposed:  factory.Counter("ledger.governance.proposed"),
		GovernanceActivated: factory.Counter("ledger.governance.activated"),

		EarningsSettled:    factory.Counter("ledger.settlement.earnings_settled"),
		ClawbacksApplied:   factory.Counter("ledger.settlement.clawbacks_applied"),
		ReceivablesCreated: factory.Counter("ledger.settlement.receivables_created"),

		StoreErrors:  factory.Counter("ledger.store.errors"),
		PluginErrors: factory.Counter("ledger.plugin.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Account / lot hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (m *MetricsExtension) OnAccountCreated(_ context.Context, _ interface{}) error {
	m.AccountsCreated.Inc()
	return nil
}

// OnLotMinted implements plugin.OnLotMinted.
func (m *MetricsExtension) OnLotMinted(_ context.Context, v interface{}) error {
	m.LotsMinted.Inc()
	if l, ok := v.(*lot.Lot); ok {
		m.LotAmount.Observe(float64(l.OriginalMicro.Int64()))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Reservation hooks
// ──────────────────────────────────────────────────

// OnReservationCreated implements plugin.OnReservationCreated.
func (m *MetricsExtension) OnReservationCreated(_ context.Context, _ interface{}) error {
	m.ReservationsCreated.Inc()
	return nil
}

// OnReservationFinalized implements plugin.OnReservationFinalized.
func (m *MetricsExtension) OnReservationFinalized(_ context.Context, _ interface{}, overrunMicro int64) error {
	m.ReservationsFinalized.Inc()
	m.ReservationOverrun.Observe(float64(overrunMicro))
	return nil
}

// OnReservationReleased implements plugin.OnReservationReleased.
func (m *MetricsExtension) OnReservationReleased(_ context.Context, _ interface{}) error {
	m.ReservationsReleased.Inc()
	return nil
}

// OnReservationExpired implements plugin.OnReservationExpired.
func (m *MetricsExtension) OnReservationExpired(_ context.Context, _ interface{}) error {
	m.ReservationsExpired.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Transfer hooks
// ──────────────────────────────────────────────────

// OnTransferInitiated implements plugin.OnTransferInitiated.
func (m *MetricsExtension) OnTransferInitiated(_ context.Context, _ interface{}) error {
	m.TransfersInitiated.Inc()
	return nil
}

// OnTransferCompleted implements plugin.OnTransferCompleted.
func (m *MetricsExtension) OnTransferCompleted(_ context.Context, v interface{}) error {
	m.TransfersCompleted.Inc()
	if t, ok := v.(*xfer.Transfer); ok {
		m.TransferAmount.Observe(float64(t.AmountMicro.Int64()))
	}
	return nil
}

// OnTransferRejected implements plugin.OnTransferRejected.
func (m *MetricsExtension) OnTransferRejected(_ context.Context, _ interface{}, _ string) error {
	m.TransfersRejected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Governance hooks
// ──────────────────────────────────────────────────

// OnGovernanceProposed implements plugin.OnGovernanceProposed.
func (m *MetricsExtension) OnGovernanceProposed(_ context.Context, _ interface{}) error {
	m.GovernanceProposed.Inc()
	return nil
}

// OnGovernanceActivated implements plugin.OnGovernanceActivated.
func (m *MetricsExtension) OnGovernanceActivated(_ context.Context, _ interface{}) error {
	m.GovernanceActivated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnEarningSettled implements plugin.OnEarningSettled.
func (m *MetricsExtension) OnEarningSettled(_ context.Context, _ string, _ int64) error {
	m.EarningsSettled.Inc()
	return nil
}

// OnClawbackApplied implements plugin.OnClawbackApplied.
func (m *MetricsExtension) OnClawbackApplied(_ context.Context, _ string, _, receivableMicro int64) error {
	m.ClawbacksApplied.Inc()
	if receivableMicro > 0 {
		m.ReceivablesCreated.Inc()
	}
	return nil
}
