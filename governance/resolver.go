package governance

import (
	"context"
	"fmt"
	"strconv"

	"github.com/xraph/creditledger/account"
)

// Store is the subset of storage capability the resolver needs. It is
// satisfied structurally by both store.Store (outside a transaction)
// and store.Tx (inside one), so the resolver never imports the store
// package — the same "interface the core depends on, concrete adapter
// wired in" shape used throughout this module for external capabilities.
type Store interface {
	GetActiveGovernanceConfig(ctx context.Context, paramKey string, entityType *account.EntityType) (*Config, error)
}

// Resolver resolves named parameters through the three-tier lookup:
// entity-scoped active config, then global active config, then the
// compile-time fallback table.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver bound to the given storage handle.
// Pass a store.Store for reads outside a transaction, or a store.Tx
// when the resolved value must be stable for the duration of a
// money-path transaction.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the raw string value for paramKey, checked in order:
// an active config scoped to entityType, an active global config, then
// the compile-time default. Returns an error only if paramKey has no
// compile-time default and no active config was found — a programming
// error, since every parameter the core reads must be registered in
// Defaults.
func (r *Resolver) Resolve(ctx context.Context, paramKey string, entityType *account.EntityType) (string, error) {
	if entityType != nil {
		if cfg, err := r.store.GetActiveGovernanceConfig(ctx, paramKey, entityType); err == nil && cfg != nil {
			return cfg.Value, nil
		}
	}
	if cfg, err := r.store.GetActiveGovernanceConfig(ctx, paramKey, nil); err == nil && cfg != nil {
		return cfg.Value, nil
	}
	if v, ok := Defaults[paramKey]; ok {
		return v, nil
	}
	return "", fmt.Errorf("governance: no active config or compile-time fallback for %q", paramKey)
}

// ResolveInt64 resolves paramKey and parses it as a base-10 int64.
func (r *Resolver) ResolveInt64(ctx context.Context, paramKey string, entityType *account.EntityType) (int64, error) {
	v, err := r.Resolve(ctx, paramKey, entityType)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("governance: param %q value %q is not an integer: %w", paramKey, v, err)
	}
	return n, nil
}
