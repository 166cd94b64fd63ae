package extension

import (
	"time"

	"github.com/xraph/creditledger/sweeper"
)

// Config holds the Ledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.ledger" or "ledger" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableSweeper prevents the background reservation/governance/discount
	// sweeper from starting alongside the engine. Set this on every instance
	// but one when running multiple replicas against the same store.
	DisableSweeper bool `json:"disable_sweeper" mapstructure:"disable_sweeper" yaml:"disable_sweeper"`

	// BasePath is the URL prefix for ledger routes (default: "/ledger").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// ReservationSweepInterval is how often expired reservations are swept
	// (default: sweeper.DefaultReservationInterval).
	ReservationSweepInterval time.Duration `json:"reservation_sweep_interval" mapstructure:"reservation_sweep_interval" yaml:"reservation_sweep_interval"`

	// ReservationSweepBatch caps how many expired reservations are processed
	// per tick (default: sweeper.DefaultReservationBatch).
	ReservationSweepBatch int `json:"reservation_sweep_batch" mapstructure:"reservation_sweep_batch" yaml:"reservation_sweep_batch"`

	// GovernanceSweepInterval is how often cooling-down governance configs
	// are checked for activation (default: sweeper.DefaultGovernanceInterval).
	GovernanceSweepInterval time.Duration `json:"governance_sweep_interval" mapstructure:"governance_sweep_interval" yaml:"governance_sweep_interval"`

	// DiscountSweepInterval is how often expired discounts are swept
	// (default: sweeper.DefaultDiscountInterval).
	DiscountSweepInterval time.Duration `json:"discount_sweep_interval" mapstructure:"discount_sweep_interval" yaml:"discount_sweep_interval"`

	// DiscountSweepBatch caps how many expired discounts are processed per
	// tick (default: sweeper.DefaultDiscountBatch).
	DiscountSweepBatch int `json:"discount_sweep_batch" mapstructure:"discount_sweep_batch" yaml:"discount_sweep_batch"`

	// GroveDatabase is the name of a grove.DB registered in the DI container
	// that the caller has already wrapped via store/sqlite.New and passed
	// through WithStore. It is recorded here so WithGroveDatabase can be
	// distinguished from the in-memory default, and Register names it in
	// the error it returns when no store was supplied.
	GroveDatabase string `json:"grove_database" mapstructure:"grove_database" yaml:"grove_database"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReservationSweepInterval: sweeper.DefaultReservationInterval,
		ReservationSweepBatch:    sweeper.DefaultReservationBatch,
		GovernanceSweepInterval:  sweeper.DefaultGovernanceInterval,
		DiscountSweepInterval:    sweeper.DefaultDiscountInterval,
		DiscountSweepBatch:       sweeper.DefaultDiscountBatch,
	}
}
