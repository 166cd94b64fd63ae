package ledger

import (
	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/types"
)

// Re-export common types for convenience so callers don't have to import
// the types package directly.

// Pool is re-exported from the account package.
type Pool = account.Pool

// PoolGeneral is the default pool used when a caller has no pool
// namespace of its own.
const PoolGeneral = account.DefaultPool

// EntityType is re-exported from the account package.
type EntityType = account.EntityType

// Re-export entity type constants.
const (
	EntityTypePerson    = account.EntityTypePerson
	EntityTypeAgent     = account.EntityTypeAgent
	EntityTypeCommunity = account.EntityTypeCommunity
	EntityTypePlatform  = account.EntityTypePlatform
)

// MicroUSD is re-exported from the types package.
type MicroUSD = types.MicroUSD

// BasisPoints is re-exported from the types package.
type BasisPoints = types.BasisPoints

// Entity is re-exported from the types package.
type Entity = types.Entity

// Re-export MicroUSD/BasisPoints constructors.
var (
	NewMicroUSD     = types.NewMicroUSD
	MustMicroUSD    = types.MustMicroUSD
	NewBasisPoints  = types.NewBasisPoints
	MustBasisPoints = types.MustBasisPoints
	BpsShare        = types.BpsShare
	AssertBpsSum    = types.AssertBpsSum
)

// ZeroMicroUSD is the additive identity, re-exported for convenience.
const ZeroMicroUSD = types.ZeroMicroUSD

// Re-export Entity constructor.
var NewEntity = types.NewEntity
