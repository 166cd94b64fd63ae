package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/entry"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

// MaxBatchSize bounds a single SettleBatch call, per spec.
const MaxBatchSize = 50

// EarningsSource is the external capability settlement reads earnings
// through and marks them settled or clawed back on. It is owned outside
// this module's core.
type EarningsSource interface {
	ListSettleDue(ctx context.Context, asOf time.Time, limit int) ([]*Earning, error)
	MarkSettled(ctx context.Context, earningID string, settledAt time.Time) error
	MarkClawedBack(ctx context.Context, earningID string, reason string) error
	Get(ctx context.Context, earningID string) (*Earning, error)
}

// Store is the receivable-persistence capability settlement needs,
// satisfied structurally by store.Tx.
type Store interface {
	CreateReceivable(ctx context.Context, r *Receivable) error
	GetOldestOpenReceivable(ctx context.Context, accountID id.AccountID) (*Receivable, error)
	UpdateReceivable(ctx context.Context, r *Receivable) error
}

// EntryPoster is the ledger-posting capability settlement needs. It is
// satisfied by the root ledger Engine, which owns entry-sequence
// allocation and idempotency; settlement and clawback are specialized
// clients of the engine, not a parallel posting path.
type EntryPoster interface {
	PostEntry(ctx context.Context, accountID id.AccountID, pool account.Pool, entryType entry.Type, amountMicro int64, idempotencyKey string) (*entry.Entry, error)
	GetBalance(ctx context.Context, accountID id.AccountID, pool account.Pool) (types.MicroUSD, types.MicroUSD, error)
}

// Service processes earnings into ledger entries and handles clawback.
type Service struct {
	earnings EarningsSource
	store    Store
	ledger   EntryPoster
	resolver *governance.Resolver
}

// NewService constructs a settlement Service.
func NewService(earnings EarningsSource, store Store, ledger EntryPoster, resolver *governance.Resolver) *Service {
	return &Service{earnings: earnings, store: store, ledger: ledger, resolver: resolver}
}

// SettlementPool is the pool settlement ledger entries are posted to.
const SettlementPool account.Pool = "settlement"

// SettleBatch settles up to MaxBatchSize due earnings as of asOf, in
// creation order, each as its own idempotent ledger entry. Which
// earnings are due is decided entirely by EarningsSource.ListSettleDue;
// SettleBatch does not resolve settlement.hold_seconds through
// governance.
func (s *Service) SettleBatch(ctx context.Context, asOf time.Time) (int, error) {
	due, err := s.earnings.ListSettleDue(ctx, asOf, MaxBatchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, e := range due {
		idemKey := fmt.Sprintf("settlement:%s", e.ID)
		if _, err := s.ledger.PostEntry(ctx, e.AccountID, SettlementPool, entry.TypeSettlement, e.AmountMicro.Int64(), idemKey); err != nil {
			return settled, err
		}
		if err := s.earnings.MarkSettled(ctx, e.ID, asOf); err != nil {
			return settled, err
		}
		settled++
	}
	return settled, nil
}

// Clawback compensates a pending (not-yet-settled) earning with a
// negative ledger entry. If the earning is already settled, Clawback
// fails — settled earnings are only recoverable via AgentClawback, which
// may fall back to a receivable.
func (s *Service) Clawback(ctx context.Context, earningID, reason string) error {
	e, err := s.earnings.Get(ctx, earningID)
	if err != nil {
		return err
	}
	if e.SettledAt != nil {
		return fmt.Errorf("settlement: earning %s already settled, use AgentClawback", earningID)
	}

	idemKey := fmt.Sprintf("clawback:%s", earningID)
	if _, err := s.ledger.PostEntry(ctx, e.AccountID, SettlementPool, entry.TypeClawback, -e.AmountMicro.Int64(), idemKey); err != nil {
		return err
	}
	return s.earnings.MarkClawedBack(ctx, earningID, reason)
}

// AgentClawback compensates a settled earning against the account's
// current settlement-pool balance. When the compensating amount exceeds
// what is available, it applies the available balance and opens a
// Receivable for the remainder so the shortfall can be drip-recovered
// from the account's future earnings. Conservation law: applied +
// receivable == originalAmount.
func (s *Service) AgentClawback(ctx context.Context, earningID, reason string) (applied types.MicroUSD, receivable *Receivable, err error) {
	e, getErr := s.earnings.Get(ctx, earningID)
	if getErr != nil {
		return 0, nil, getErr
	}

	available, _, balErr := s.ledger.GetBalance(ctx, e.AccountID, SettlementPool)
	if balErr != nil {
		return 0, nil, balErr
	}

	applied = e.AmountMicro.Min(available)
	idemKey := fmt.Sprintf("clawback:%s", earningID)
	if applied.IsPositive() {
		if _, postErr := s.ledger.PostEntry(ctx, e.AccountID, SettlementPool, entry.TypeClawback, -applied.Int64(), idemKey); postErr != nil {
			return 0, nil, postErr
		}
	}

	remainder, subErr := e.AmountMicro.Sub(applied)
	if subErr == nil && remainder.IsPositive() {
		receivable = NewReceivable(e.AccountID, e.AmountMicro, remainder, earningID)
		if createErr := s.store.CreateReceivable(ctx, receivable); createErr != nil {
			return applied, nil, createErr
		}
		// Emitting AgentClawbackPartial and AgentClawbackReceivableCreated
		// is the caller's responsibility via the outbox, once it has a
		// transaction handle to append within.
	}

	if markErr := s.earnings.MarkClawedBack(ctx, earningID, reason); markErr != nil {
		return applied, receivable, markErr
	}
	return applied, receivable, nil
}

// ApplyDrip deducts agent.drip_recovery_pct of a newly granted earning
// and applies it to the account's oldest open receivable before the
// earning is otherwise credited. Returns the amount diverted to the
// receivable (0 if none is open).
func (s *Service) ApplyDrip(ctx context.Context, accountID id.AccountID, grossEarning types.MicroUSD, earningID string) (types.MicroUSD, error) {
	receivable, err := s.store.GetOldestOpenReceivable(ctx, accountID)
	if err != nil || receivable == nil {
		return 0, nil //nolint:nilerr // no open receivable is not an error
	}

	agentType := account.EntityTypeAgent
	pct, err := s.resolver.ResolveInt64(ctx, governance.ParamAgentDripRecoveryPct, &agentType)
	if err != nil {
		return 0, err
	}
	bps, err := types.NewBasisPoints(int32(pct) * 100)
	if err != nil {
		return 0, fmt.Errorf("settlement: invalid drip recovery percent %d: %w", pct, err)
	}

	share := types.BpsShare(grossEarning, bps)
	recovered := share.Min(receivable.BalanceMicro)
	if recovered.IsZero() {
		return 0, nil
	}

	idemKey := fmt.Sprintf("drip:%s:%s", earningID, receivable.ID.String())
	if _, err := s.ledger.PostEntry(ctx, accountID, SettlementPool, entry.TypeDrip, -recovered.Int64(), idemKey); err != nil {
		return 0, err
	}

	receivable.ApplyRecovery(recovered)
	if err := s.store.UpdateReceivable(ctx, receivable); err != nil {
		return 0, err
	}
	return recovered, nil
}
