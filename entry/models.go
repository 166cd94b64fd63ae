// Package entry defines the append-only ledger entry, the single source
// of truth for every balance change in the system.
package entry

import (
	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

// Type classifies what caused a ledger entry.
type Type string

const (
	TypeDeposit     Type = "deposit"
	TypeGrant       Type = "grant"
	TypeReserve     Type = "reserve"
	TypeFinalize    Type = "finalize"
	TypeRelease     Type = "release"
	TypeTransferOut Type = "transfer_out"
	TypeTransferIn  Type = "transfer_in"
	TypeSettlement  Type = "settlement"
	TypeClawback    Type = "clawback"
	TypeDrip        Type = "drip"
)

// Entry is a single, append-only record of a balance change against an
// (account, pool) projection. Entries are never updated or deleted.
type Entry struct {
	types.Entity
	ID             id.LedgerEntryID     `json:"id"`
	AccountID      id.AccountID         `json:"account_id"`
	Pool           account.Pool         `json:"pool"`
	LotID          id.LotID             `json:"lot_id,omitempty"`
	ReservationID  id.ReservationID     `json:"reservation_id,omitempty"`
	EntrySeq       uint64               `json:"entry_seq"`
	EntryType      Type                 `json:"entry_type"`
	AmountMicro    int64                `json:"amount_micro"` // signed: negative debits the account
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
	PreBalance     types.MicroUSD       `json:"pre_balance_micro"`
	PostBalance    types.MicroUSD       `json:"post_balance_micro"`
}

// New constructs an Entry. Seq, PreBalance and PostBalance are filled in
// by the caller once it knows the (account, pool) projection inside the
// transaction; they cannot be computed from the entry alone.
func New(accountID id.AccountID, pool account.Pool, entryType Type, amountMicro int64) *Entry {
	return &Entry{
		Entity:      types.NewEntity(),
		ID:          id.NewLedgerEntryID(),
		AccountID:   accountID,
		Pool:        account.Normalize(pool),
		EntryType:   entryType,
		AmountMicro: amountMicro,
	}
}
