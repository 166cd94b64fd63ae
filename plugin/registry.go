package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so Emit* calls don't re-scan every
// plugin's interface set on every ledger operation.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	onInit                  []OnInit
	onShutdown              []OnShutdown
	onAccountCreated        []OnAccountCreated
	onLotMinted             []OnLotMinted
	onReservationCreated    []OnReservationCreated
	onReservationFinalized  []OnReservationFinalized
	onReservationReleased   []OnReservationReleased
	onReservationExpired    []OnReservationExpired
	onTransferInitiated     []OnTransferInitiated
	onTransferCompleted     []OnTransferCompleted
	onTransferRejected      []OnTransferRejected
	onGovernanceProposed    []OnGovernanceProposed
	onGovernanceActivated   []OnGovernanceActivated
	onEarningSettled        []OnEarningSettled
	onClawbackApplied       []OnClawbackApplied
	provenanceProviders     []ProvenanceProviderPlugin
	budgetProviders         []BudgetProviderPlugin
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnAccountCreated); ok {
		r.onAccountCreated = append(r.onAccountCreated, v)
	}
	if v, ok := p.(OnLotMinted); ok {
		r.onLotMinted = append(r.onLotMinted, v)
	}
	if v, ok := p.(OnReservationCreated); ok {
		r.onReservationCreated = append(r.onReservationCreated, v)
	}
	if v, ok := p.(OnReservationFinalized); ok {
		r.onReservationFinalized = append(r.onReservationFinalized, v)
	}
	if v, ok := p.(OnReservationReleased); ok {
		r.onReservationReleased = append(r.onReservationReleased, v)
	}
	if v, ok := p.(OnReservationExpired); ok {
		r.onReservationExpired = append(r.onReservationExpired, v)
	}
	if v, ok := p.(OnTransferInitiated); ok {
		r.onTransferInitiated = append(r.onTransferInitiated, v)
	}
	if v, ok := p.(OnTransferCompleted); ok {
		r.onTransferCompleted = append(r.onTransferCompleted, v)
	}
	if v, ok := p.(OnTransferRejected); ok {
		r.onTransferRejected = append(r.onTransferRejected, v)
	}
	if v, ok := p.(OnGovernanceProposed); ok {
		r.onGovernanceProposed = append(r.onGovernanceProposed, v)
	}
	if v, ok := p.(OnGovernanceActivated); ok {
		r.onGovernanceActivated = append(r.onGovernanceActivated, v)
	}
	if v, ok := p.(OnEarningSettled); ok {
		r.onEarningSettled = append(r.onEarningSettled, v)
	}
	if v, ok := p.(OnClawbackApplied); ok {
		r.onClawbackApplied = append(r.onClawbackApplied, v)
	}
	if v, ok := p.(ProvenanceProviderPlugin); ok {
		r.provenanceProviders = append(r.provenanceProviders, v)
	}
	if v, ok := p.(BudgetProviderPlugin); ok {
		r.budgetProviders = append(r.budgetProviders, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns the names of the hook interfaces p implements.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnAccountCreated)(nil)).Elem(), "OnAccountCreated")
	checkInterface(reflect.TypeOf((*OnLotMinted)(nil)).Elem(), "OnLotMinted")
	checkInterface(reflect.TypeOf((*OnReservationCreated)(nil)).Elem(), "OnReservationCreated")
	checkInterface(reflect.TypeOf((*OnReservationFinalized)(nil)).Elem(), "OnReservationFinalized")
	checkInterface(reflect.TypeOf((*OnReservationReleased)(nil)).Elem(), "OnReservationReleased")
	checkInterface(reflect.TypeOf((*OnReservationExpired)(nil)).Elem(), "OnReservationExpired")
	checkInterface(reflect.TypeOf((*OnTransferInitiated)(nil)).Elem(), "OnTransferInitiated")
	checkInterface(reflect.TypeOf((*OnTransferCompleted)(nil)).Elem(), "OnTransferCompleted")
	checkInterface(reflect.TypeOf((*OnTransferRejected)(nil)).Elem(), "OnTransferRejected")
	checkInterface(reflect.TypeOf((*OnGovernanceProposed)(nil)).Elem(), "OnGovernanceProposed")
	checkInterface(reflect.TypeOf((*OnGovernanceActivated)(nil)).Elem(), "OnGovernanceActivated")
	checkInterface(reflect.TypeOf((*OnEarningSettled)(nil)).Elem(), "OnEarningSettled")
	checkInterface(reflect.TypeOf((*OnClawbackApplied)(nil)).Elem(), "OnClawbackApplied")
	checkInterface(reflect.TypeOf((*ProvenanceProviderPlugin)(nil)).Elem(), "ProvenanceProvider")
	checkInterface(reflect.TypeOf((*BudgetProviderPlugin)(nil)).Elem(), "BudgetProvider")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitAccountCreated(ctx context.Context, acct interface{}) {
	r.mu.RLock()
	plugins := r.onAccountCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnAccountCreated(ctx, acct)
		}); err != nil {
			r.logger.Warn("plugin OnAccountCreated failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitLotMinted(ctx context.Context, l interface{}) {
	r.mu.RLock()
	plugins := r.onLotMinted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnLotMinted(ctx, l)
		}); err != nil {
			r.logger.Warn("plugin OnLotMinted failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitReservationCreated(ctx context.Context, rsv interface{}) {
	r.mu.RLock()
	plugins := r.onReservationCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReservationCreated(ctx, rsv)
		}); err != nil {
			r.logger.Warn("plugin OnReservationCreated failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitReservationFinalized(ctx context.Context, rsv interface{}, overrunMicro int64) {
	r.mu.RLock()
	plugins := r.onReservationFinalized
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReservationFinalized(ctx, rsv, overrunMicro)
		}); err != nil {
			r.logger.Warn("plugin OnReservationFinalized failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitReservationReleased(ctx context.Context, rsv interface{}) {
	r.mu.RLock()
	plugins := r.onReservationReleased
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReservationReleased(ctx, rsv)
		}); err != nil {
			r.logger.Warn("plugin OnReservationReleased failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitReservationExpired(ctx context.Context, rsv interface{}) {
	r.mu.RLock()
	plugins := r.onReservationExpired
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReservationExpired(ctx, rsv)
		}); err != nil {
			r.logger.Warn("plugin OnReservationExpired failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitTransferInitiated(ctx context.Context, xfer interface{}) {
	r.mu.RLock()
	plugins := r.onTransferInitiated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTransferInitiated(ctx, xfer)
		}); err != nil {
			r.logger.Warn("plugin OnTransferInitiated failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitTransferCompleted(ctx context.Context, xfer interface{}) {
	r.mu.RLock()
	plugins := r.onTransferCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTransferCompleted(ctx, xfer)
		}); err != nil {
			r.logger.Warn("plugin OnTransferCompleted failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitTransferRejected(ctx context.Context, xfer interface{}, reason string) {
	r.mu.RLock()
	plugins := r.onTransferRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTransferRejected(ctx, xfer, reason)
		}); err != nil {
			r.logger.Warn("plugin OnTransferRejected failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitGovernanceProposed(ctx context.Context, cfg interface{}) {
	r.mu.RLock()
	plugins := r.onGovernanceProposed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnGovernanceProposed(ctx, cfg)
		}); err != nil {
			r.logger.Warn("plugin OnGovernanceProposed failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitGovernanceActivated(ctx context.Context, cfg interface{}) {
	r.mu.RLock()
	plugins := r.onGovernanceActivated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnGovernanceActivated(ctx, cfg)
		}); err != nil {
			r.logger.Warn("plugin OnGovernanceActivated failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitEarningSettled(ctx context.Context, earningID string, amountMicro int64) {
	r.mu.RLock()
	plugins := r.onEarningSettled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEarningSettled(ctx, earningID, amountMicro)
		}); err != nil {
			r.logger.Warn("plugin OnEarningSettled failed", "plugin", p.Name(), "error", err)
		}
	}
}

func (r *Registry) EmitClawbackApplied(ctx context.Context, earningID string, appliedMicro, receivableMicro int64) {
	r.mu.RLock()
	plugins := r.onClawbackApplied
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnClawbackApplied(ctx, earningID, appliedMicro, receivableMicro)
		}); err != nil {
			r.logger.Warn("plugin OnClawbackApplied failed", "plugin", p.Name(), "error", err)
		}
	}
}

// ProvenanceProviders returns all registered provenance capability providers.
func (r *Registry) ProvenanceProviders() []ProvenanceProviderPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ProvenanceProviderPlugin, len(r.provenanceProviders))
	copy(result, r.provenanceProviders)
	return result
}

// BudgetProviders returns all registered budget capability providers.
func (r *Registry) BudgetProviders() []BudgetProviderPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]BudgetProviderPlugin, len(r.budgetProviders))
	copy(result, r.budgetProviders)
	return result
}

// callWithTimeout calls a plugin function with a timeout. Plugins must
// never block the money path.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
