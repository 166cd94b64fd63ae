// Package id defines TypeID-based identity types for all Ledger entities.
//
// Every entity in Ledger uses a single ID struct with a prefix that identifies
// the entity type. IDs are K-sortable (UUIDv7-based), globally unique,
// and URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all ledger entity types.
const (
	PrefixAccount        Prefix = "acct" // Tenant/agent/community account
	PrefixLot            Prefix = "lot"  // Credit lot
	PrefixReservation    Prefix = "rsv"  // Reservation against one or more lots
	PrefixLedgerEntry    Prefix = "entr" // Append-only ledger entry
	PrefixTransfer       Prefix = "xfer" // Peer-to-peer transfer
	PrefixGovernance     Prefix = "gov"  // Governance parameter configuration
	PrefixReceivable     Prefix = "recv" // Clawback receivable
	PrefixOutboxEvent    Prefix = "obx"  // Outbox event row
	PrefixDiscount       Prefix = "disc" // Marketing discount code
	PrefixCorrelation    Prefix = "corr" // Correlation id for cross-system tracing
)

// ID is the primary identifier type for all Ledger entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "plan_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// MustParseWithPrefix is like ParseWithPrefix but panics on error.
func MustParseWithPrefix(s string, expected Prefix) ID {
	parsed, err := ParseWithPrefix(s, expected)
	if err != nil {
		panic(fmt.Sprintf("id: must parse with prefix %q: %v", expected, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases, one per entity in the data model
// ──────────────────────────────────────────────────

// AccountID is a type-safe identifier for accounts (prefix: "acct").
type AccountID = ID

// LotID is a type-safe identifier for credit lots (prefix: "lot").
type LotID = ID

// ReservationID is a type-safe identifier for reservations (prefix: "rsv").
type ReservationID = ID

// LedgerEntryID is a type-safe identifier for ledger entries (prefix: "entr").
type LedgerEntryID = ID

// TransferID is a type-safe identifier for peer transfers (prefix: "xfer").
type TransferID = ID

// GovernanceConfigID is a type-safe identifier for governance configs (prefix: "gov").
type GovernanceConfigID = ID

// ReceivableID is a type-safe identifier for clawback receivables (prefix: "recv").
type ReceivableID = ID

// OutboxEventID is a type-safe identifier for outbox events (prefix: "obx").
type OutboxEventID = ID

// DiscountID is a type-safe identifier for marketing discounts (prefix: "disc").
type DiscountID = ID

// AnyID is a type alias that accepts any valid prefix.
type AnyID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewAccountID generates a new unique account ID.
func NewAccountID() ID { return New(PrefixAccount) }

// NewLotID generates a new unique lot ID.
func NewLotID() ID { return New(PrefixLot) }

// NewReservationID generates a new unique reservation ID.
func NewReservationID() ID { return New(PrefixReservation) }

// NewLedgerEntryID generates a new unique ledger entry ID.
func NewLedgerEntryID() ID { return New(PrefixLedgerEntry) }

// NewTransferID generates a new unique transfer ID.
func NewTransferID() ID { return New(PrefixTransfer) }

// NewGovernanceConfigID generates a new unique governance config ID.
func NewGovernanceConfigID() ID { return New(PrefixGovernance) }

// NewReceivableID generates a new unique receivable ID.
func NewReceivableID() ID { return New(PrefixReceivable) }

// NewOutboxEventID generates a new unique outbox event ID.
func NewOutboxEventID() ID { return New(PrefixOutboxEvent) }

// NewDiscountID generates a new unique discount ID.
func NewDiscountID() ID { return New(PrefixDiscount) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

// ParseAccountID parses a string and validates the "acct" prefix.
func ParseAccountID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAccount) }

// ParseLotID parses a string and validates the "lot" prefix.
func ParseLotID(s string) (ID, error) { return ParseWithPrefix(s, PrefixLot) }

// ParseReservationID parses a string and validates the "rsv" prefix.
func ParseReservationID(s string) (ID, error) { return ParseWithPrefix(s, PrefixReservation) }

// ParseLedgerEntryID parses a string and validates the "entr" prefix.
func ParseLedgerEntryID(s string) (ID, error) { return ParseWithPrefix(s, PrefixLedgerEntry) }

// ParseTransferID parses a string and validates the "xfer" prefix.
func ParseTransferID(s string) (ID, error) { return ParseWithPrefix(s, PrefixTransfer) }

// ParseGovernanceConfigID parses a string and validates the "gov" prefix.
func ParseGovernanceConfigID(s string) (ID, error) { return ParseWithPrefix(s, PrefixGovernance) }

// ParseReceivableID parses a string and validates the "recv" prefix.
func ParseReceivableID(s string) (ID, error) { return ParseWithPrefix(s, PrefixReceivable) }

// ParseOutboxEventID parses a string and validates the "obx" prefix.
func ParseOutboxEventID(s string) (ID, error) { return ParseWithPrefix(s, PrefixOutboxEvent) }

// ParseDiscountID parses a string and validates the "disc" prefix.
func ParseDiscountID(s string) (ID, error) { return ParseWithPrefix(s, PrefixDiscount) }

// ParseAny parses a string into an ID without type checking the prefix.
func ParseAny(s string) (ID, error) { return Parse(s) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
