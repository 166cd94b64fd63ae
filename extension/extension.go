// Package extension provides the Forge extension adapter for the credit
// ledger.
//
// It implements the forge.Extension interface to integrate the ledger
// engine into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.ledger" or "ledger" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	ledger "github.com/xraph/creditledger"
	"github.com/xraph/creditledger/plugin"
	"github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/store/memory"
	"github.com/xraph/creditledger/sweeper"
	"github.com/xraph/creditledger/transfer"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "ledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Lot-based credit ledger with reservations, peer transfer, and governance"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the ledger engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *ledger.Engine
	store      store.Store
	ledgerOpts []ledger.Option
	sweeper    *sweeper.Sweeper
	transfer   *transfer.Service

	// useGrove records that WithGroveDatabase was called. Register treats
	// a nil store as a configuration error rather than silently falling
	// back to memory, since the caller has committed to a Grove-backed
	// deployment.
	useGrove bool
}

// New creates a new ledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying ledger Engine.
// This is nil until Register is called.
func (e *Extension) Engine() *ledger.Engine { return e.engine }

// Transfer returns the peer-transfer service, wired from whichever
// registered plugins supply the Provenance/Budget capabilities. Nil
// until Register is called, and nil thereafter if no plugin supplies
// both capabilities.
func (e *Extension) Transfer() *transfer.Service { return e.transfer }

// Register implements [forge.Extension]. It loads configuration,
// initializes the ledger engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		if e.useGrove {
			return fmt.Errorf("ledger: grove database %q configured but no store was provided; "+
				"resolve the grove.DB and pass WithStore(sqlite.New(db))", e.config.GroveDatabase)
		}
		e.store = memory.New()
	}

	opts := e.buildLedgerOpts()
	eng := ledger.New(e.store, opts...)
	e.engine = eng

	if !e.config.DisableSweeper {
		e.sweeper = sweeper.New(e.store, eng.Plugins(),
			sweeper.WithReservationSweep(e.config.ReservationSweepInterval, e.config.ReservationSweepBatch),
			sweeper.WithGovernanceInterval(e.config.GovernanceSweepInterval),
			sweeper.WithDiscountSweep(e.config.DiscountSweepInterval, e.config.DiscountSweepBatch),
		)
	}

	if prov, budget, ok := resolveTransferCapabilities(eng.Plugins()); ok {
		e.transfer = transfer.NewService(e.store, eng.Plugins(), eng.Resolver(), prov, budget, nil)
	}

	if err := vessel.Provide(fapp.Container(), func() (*ledger.Engine, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}
	if e.transfer != nil {
		return vessel.Provide(fapp.Container(), func() (*transfer.Service, error) {
			return e.transfer, nil
		})
	}
	return nil
}

// resolveTransferCapabilities looks for the first registered plugin that
// supplies each of the Provenance/Budget capabilities transfer.Service
// needs. Both must be present for peer transfer to be wired; a deployment
// with neither simply runs without the transfer service.
func resolveTransferCapabilities(plugins *plugin.Registry) (transfer.Provenance, transfer.Budget, bool) {
	var prov transfer.Provenance
	var budget transfer.Budget

	for _, p := range plugins.ProvenanceProviders() {
		if v, ok := p.Provenance().(transfer.Provenance); ok {
			prov = v
			break
		}
	}
	for _, p := range plugins.BudgetProviders() {
		if v, ok := p.Budget().(transfer.Budget); ok {
			budget = v
			break
		}
	}
	return prov, budget, prov != nil && budget != nil
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("ledger: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	if e.sweeper != nil {
		e.sweeper.Start(ctx)
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("ledger: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildLedgerOpts constructs ledger.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []ledger.Option {
	opts := make([]ledger.Option, 0, len(e.ledgerOpts))
	opts = append(opts, e.ledgerOpts...)
	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("ledger: configuration is required but not found in config files; " +
				"ensure 'extensions.ledger' or 'ledger' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("ledger: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_sweeper", e.config.DisableSweeper),
		forge.F("base_path", e.config.BasePath),
		forge.F("reservation_sweep_interval", e.config.ReservationSweepInterval),
		forge.F("governance_sweep_interval", e.config.GovernanceSweepInterval),
		forge.F("discount_sweep_interval", e.config.DiscountSweepInterval),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.ledger" first (namespaced pattern).
	if cm.IsSet("extensions.ledger") {
		if err := cm.Bind("extensions.ledger", &cfg); err == nil {
			e.Logger().Debug("ledger: loaded config from file",
				forge.F("key", "extensions.ledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("ledger: failed to bind extensions.ledger config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "ledger" key.
	if cm.IsSet("ledger") {
		if err := cm.Bind("ledger", &cfg); err == nil {
			e.Logger().Debug("ledger: loaded config from file",
				forge.F("key", "ledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("ledger: failed to bind ledger config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.ReservationSweepInterval == 0 {
		cfg.ReservationSweepInterval = defaults.ReservationSweepInterval
	}
	if cfg.ReservationSweepBatch == 0 {
		cfg.ReservationSweepBatch = defaults.ReservationSweepBatch
	}
	if cfg.GovernanceSweepInterval == 0 {
		cfg.GovernanceSweepInterval = defaults.GovernanceSweepInterval
	}
	if cfg.DiscountSweepInterval == 0 {
		cfg.DiscountSweepInterval = defaults.DiscountSweepInterval
	}
	if cfg.DiscountSweepBatch == 0 {
		cfg.DiscountSweepBatch = defaults.DiscountSweepBatch
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableSweeper {
		yamlConfig.DisableSweeper = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.GroveDatabase == "" && programmaticConfig.GroveDatabase != "" {
		yamlConfig.GroveDatabase = programmaticConfig.GroveDatabase
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.ReservationSweepInterval == 0 && programmaticConfig.ReservationSweepInterval != 0 {
		yamlConfig.ReservationSweepInterval = programmaticConfig.ReservationSweepInterval
	}
	if yamlConfig.ReservationSweepBatch == 0 && programmaticConfig.ReservationSweepBatch != 0 {
		yamlConfig.ReservationSweepBatch = programmaticConfig.ReservationSweepBatch
	}
	if yamlConfig.GovernanceSweepInterval == 0 && programmaticConfig.GovernanceSweepInterval != 0 {
		yamlConfig.GovernanceSweepInterval = programmaticConfig.GovernanceSweepInterval
	}
	if yamlConfig.DiscountSweepInterval == 0 && programmaticConfig.DiscountSweepInterval != 0 {
		yamlConfig.DiscountSweepInterval = programmaticConfig.DiscountSweepInterval
	}
	if yamlConfig.DiscountSweepBatch == 0 && programmaticConfig.DiscountSweepBatch != 0 {
		yamlConfig.DiscountSweepBatch = programmaticConfig.DiscountSweepBatch
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
