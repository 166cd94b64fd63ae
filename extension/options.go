package extension

import (
	"time"

	ledger "github.com/xraph/creditledger"
	"github.com/xraph/creditledger/plugin"
	"github.com/xraph/creditledger/store"
)

// Option configures the Ledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a ledger.Option through to the underlying engine.
func WithLedgerOption(opt ledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, ledger.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableSweeper prevents the background sweeper from starting. Set
// this on every replica but one when several instances share a store.
func WithDisableSweeper() Option {
	return func(e *Extension) { e.config.DisableSweeper = true }
}

// WithBasePath sets the URL prefix for ledger routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithReservationSweep overrides the reservation-expiry cadence and batch size.
func WithReservationSweep(interval time.Duration, batch int) Option {
	return func(e *Extension) {
		e.config.ReservationSweepInterval = interval
		e.config.ReservationSweepBatch = batch
	}
}

// WithGovernanceSweepInterval overrides the governance-activation cadence.
func WithGovernanceSweepInterval(interval time.Duration) Option {
	return func(e *Extension) { e.config.GovernanceSweepInterval = interval }
}

// WithDiscountSweep overrides the discount-expiry cadence and batch size.
func WithDiscountSweep(interval time.Duration, batch int) Option {
	return func(e *Extension) {
		e.config.DiscountSweepInterval = interval
		e.config.DiscountSweepBatch = batch
	}
}

// WithGroveDatabase records the name of a grove.DB the caller has already
// wrapped via store/sqlite.New and supplied through WithStore. Register
// fails fast if useGrove is set but no store was provided, rather than
// silently falling back to the in-memory store.
func WithGroveDatabase(name string) Option {
	return func(e *Extension) {
		e.config.GroveDatabase = name
		e.useGrove = true
	}
}
