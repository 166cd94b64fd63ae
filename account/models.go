// Package account defines the tenant account entity and the pool
// namespace that every lot, reservation, and ledger entry is scoped to.
package account

import (
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

// EntityType classifies the owner of an account.
type EntityType string

const (
	EntityTypePerson    EntityType = "person"
	EntityTypeAgent     EntityType = "agent"
	EntityTypeCommunity EntityType = "community"
	EntityTypePlatform  EntityType = "platform"
)

// Pool is a string namespace scoping lots, reservations, and ledger
// entries within an account (e.g. "general", "referral:signup",
// "campaign:autumn"). DefaultPool is used whenever the caller supplies
// an empty pool.
type Pool string

// DefaultPool is the pool used when no pool is specified.
const DefaultPool Pool = "general"

// Normalize treats "" and DefaultPool as aliases for DefaultPool so
// callers never need to special-case the zero value.
func Normalize(p Pool) Pool {
	if p == "" {
		return DefaultPool
	}
	return p
}

// Account is the top-level owner of lots within a pool namespace. It is
// created idempotently on first use, keyed by (EntityType, EntityID),
// and is never deleted.
type Account struct {
	types.Entity
	ID         id.AccountID `json:"id"`
	EntityType EntityType   `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Version    int64        `json:"version"`
}

// New constructs a new Account with a fresh ID and version 1.
func New(entityType EntityType, entityID string) *Account {
	return &Account{
		Entity:     types.NewEntity(),
		ID:         id.NewAccountID(),
		EntityType: entityType,
		EntityID:   entityID,
		Version:    1,
	}
}
