// Package transfer moves credit directly between two accounts, subject
// to governance limits and policy pre-checks external to the core
// ledger. It is a specialized caller of the same lot machinery as
// reservations, with one addition: a peer transfer reduces a lot's
// Original and Available in lockstep rather than only moving between
// buckets, since credit is leaving the source lot for good.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/cache"
	"github.com/xraph/creditledger/entry"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/plugin"
	"github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/types"
	"github.com/xraph/creditledger/xfer"
)

// dailyWindow is the rolling window SumCompletedTransfersSince enforces
// transfer.daily_limit_micro over.
const dailyWindow = 24 * time.Hour

const (
	provenanceCacheTTL = 30 * time.Second
	budgetCacheTTL     = 10 * time.Second
)

// Provenance verifies that an agent account's delegation chain is
// currently valid before it is allowed to move funds to a peer. A
// NOT_FOUND result from the underlying verifier is treated as
// unverified, not as an error.
type Provenance interface {
	VerifyProvenance(ctx context.Context, accountID id.AccountID) (verified bool, err error)
}

// Budget enforces a spending budget external to governance limits. It
// is consulted before a transfer's money-moving transaction begins, and
// records the committed amount from inside that same transaction once
// the transfer is known to succeed.
type Budget interface {
	CheckBudget(ctx context.Context, accountID id.AccountID, amountMicro int64) (allowed bool, reason string, err error)
	RecordFinalizationInTransaction(ctx context.Context, tx store.Tx, accountID id.AccountID, transferID string, amountMicro int64) error
}

type budgetResult struct {
	allowed bool
	reason  string
}

// Service executes peer-to-peer transfers.
type Service struct {
	store      store.Store
	plugins    *plugin.Registry
	resolver   *governance.Resolver
	provenance Provenance
	budget     Budget
	logger     *slog.Logger

	provenanceCache *cache.TTL[id.AccountID, bool]
	budgetCache     *cache.TTL[id.AccountID, budgetResult]
}

// NewService constructs a transfer Service. provenance and budget may be
// nil, in which case their respective pre-checks are skipped entirely
// (useful for deployments with no agent accounts or no external budget
// service configured).
func NewService(s store.Store, plugins *plugin.Registry, resolver *governance.Resolver, provenance Provenance, budget Budget, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:           s,
		plugins:         plugins,
		resolver:        resolver,
		provenance:      provenance,
		budget:          budget,
		logger:          logger,
		provenanceCache: cache.NewTTL[id.AccountID, bool](),
		budgetCache:     cache.NewTTL[id.AccountID, budgetResult](),
	}
}

// Transfer moves amount from fromAccountID to toAccountID in the
// default pool. A rejection (insufficient balance, governance limit,
// failed provenance or budget check) is a valid terminal result, not an
// error: the returned Transfer's Status and RejectionReason record it.
// Calling Transfer again with the same idempotency key replays the
// prior Transfer unchanged; a different amount or account pair fails.
func (s *Service) Transfer(ctx context.Context, fromAccountID, toAccountID id.AccountID, amount types.MicroUSD, idemKey string) (*xfer.Transfer, error) {
	if !amount.IsPositive() {
		return nil, errors.New("transfer: amount must be positive")
	}
	if fromAccountID == toAccountID {
		return nil, errors.New("transfer: cannot transfer to the same account")
	}

	if idemKey != "" {
		existing, err := s.store.GetTransferByIdempotencyKey(ctx, idemKey)
		if err != nil {
			return nil, fmt.Errorf("transfer: idempotency lookup failed: %w", err)
		}
		if existing != nil {
			if existing.AmountMicro.Int64() != amount.Int64() || existing.FromAccountID != fromAccountID || existing.ToAccountID != toAccountID {
				return nil, fmt.Errorf("transfer: idempotency key %q reused with a different request", idemKey)
			}
			return existing, nil
		}
	}

	from, err := s.store.GetAccount(ctx, fromAccountID)
	if err != nil {
		return nil, fmt.Errorf("transfer: sender lookup failed: %w", err)
	}

	t := xfer.New(fromAccountID, toAccountID, amount, idemKey)

	// Policy pre-checks run ahead of the money-moving transaction and
	// are cache-backed: a cached verdict skips the external call, and a
	// miss consults the verifier or budget service. An error from either
	// aborts the transfer with an error and records no Transfer row; a
	// negative verdict persists a rejected Transfer. Only agent-owned
	// sender accounts are subject to provenance; every account is
	// subject to budget.
	if from.EntityType == account.EntityTypeAgent && s.provenance != nil {
		verified, err := s.checkProvenance(ctx, fromAccountID)
		if err != nil {
			return nil, fmt.Errorf("transfer: provenance check failed: %w", err)
		}
		if !verified {
			return s.rejectPreTx(ctx, t, xfer.ReasonProvenanceFailed)
		}
	}

	if s.budget != nil {
		res, err := s.checkBudget(ctx, fromAccountID, amount.Int64())
		if err != nil {
			return nil, fmt.Errorf("transfer: budget check failed: %w", err)
		}
		if !res.allowed {
			return s.rejectPreTx(ctx, t, xfer.ReasonBudgetExceeded)
		}
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateTransfer(ctx, t); err != nil {
			return err
		}

		if rejected, err := s.enforceGovernanceLimits(ctx, tx, t, from.EntityType); rejected || err != nil {
			return err
		}

		s.emitInitiated(ctx, tx, t)

		pool := account.DefaultPool
		allocations, total, err := selectSenderLots(ctx, tx, fromAccountID, pool, amount)
		if err != nil {
			return err
		}
		if total.Int64() < amount.Int64() {
			t.Reject(xfer.ReasonInsufficientBalance)
			return tx.UpdateTransfer(ctx, t)
		}

		recipient := lot.New(toAccountID, pool, amount, lot.SourceTransferIn, t.ID.String(), nil)
		if err := tx.CreateLot(ctx, recipient); err != nil {
			return err
		}

		if err := s.postTransferEntries(ctx, tx, t, pool, allocations[0], recipient.ID); err != nil {
			return err
		}

		if s.budget != nil {
			if err := s.budget.RecordFinalizationInTransaction(ctx, tx, fromAccountID, t.ID.String(), amount.Int64()); err != nil {
				return err
			}
		}

		t.Complete()
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}

		evt := outbox.New(
			"ledger.peer_transfer_completed", "Transfer", t.ID.String(), "",
			map[string]any{
				"from_account_id": fromAccountID.String(),
				"to_account_id":   toAccountID.String(),
				"amount_micro":    amount.Int64(),
			},
		)
		evt.IdempotencyKey = idemKey
		outbox.Append(ctx, tx, s.logger, evt)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}

	if t.Status == xfer.StatusCompleted {
		s.plugins.EmitTransferCompleted(ctx, t)
		s.invalidateBudget(fromAccountID)
	} else {
		s.plugins.EmitTransferRejected(ctx, t, t.RejectionReason)
	}
	return t, nil
}

// rejectPreTx persists a transfer that never reached the money-moving
// transaction: the row and the rejection happen together, outside
// WithTx, since no lot has been touched yet.
func (s *Service) rejectPreTx(ctx context.Context, t *xfer.Transfer, reason string) (*xfer.Transfer, error) {
	t.Reject(reason)
	if err := s.store.CreateTransfer(ctx, t); err != nil {
		return nil, fmt.Errorf("transfer: failed to record rejected transfer: %w", err)
	}
	s.plugins.EmitTransferRejected(ctx, t, reason)
	return t, nil
}

// enforceGovernanceLimits checks the per-transfer cap and the rolling
// daily sum of the sender's completed transfers. On a violation it
// rejects and persists t itself, signaling the caller to stop without
// treating the rejection as an error.
func (s *Service) enforceGovernanceLimits(ctx context.Context, tx store.Tx, t *xfer.Transfer, senderType account.EntityType) (rejected bool, err error) {
	maxSingle, err := s.resolver.ResolveInt64(ctx, governance.ParamTransferMaxSingleMicro, &senderType)
	if err != nil {
		return false, err
	}
	if t.AmountMicro.Int64() > maxSingle {
		t.Reject(xfer.GovernanceLimitReason("transfer.max_single_micro"))
		return true, tx.UpdateTransfer(ctx, t)
	}

	dailyLimit, err := s.resolver.ResolveInt64(ctx, governance.ParamTransferDailyLimitMicro, &senderType)
	if err != nil {
		return false, err
	}
	since := time.Now().UTC().Add(-dailyWindow)
	soFar, err := tx.SumCompletedTransfersSince(ctx, t.FromAccountID, since)
	if err != nil {
		return false, err
	}
	if soFar.Int64()+t.AmountMicro.Int64() > dailyLimit {
		t.Reject(xfer.GovernanceLimitReason("transfer.daily_limit_micro"))
		return true, tx.UpdateTransfer(ctx, t)
	}

	return false, nil
}

func (s *Service) emitInitiated(ctx context.Context, tx store.Tx, t *xfer.Transfer) {
	evt := outbox.New(
		"ledger.peer_transfer_initiated", "Transfer", t.ID.String(), "",
		map[string]any{
			"from_account_id": t.FromAccountID.String(),
			"to_account_id":   t.ToAccountID.String(),
			"amount_micro":    t.AmountMicro.Int64(),
		},
	)
	evt.IdempotencyKey = t.IdempotencyKey
	outbox.Append(ctx, tx, s.logger, evt)
	s.plugins.EmitTransferInitiated(ctx, t)
}

// senderAllocation is one sender lot's contribution to a transfer, used
// only to drive the paired ledger entry's LotID reference; the split
// mutation itself has already been applied to the lot by the time this
// is returned.
type senderAllocation struct {
	lotID id.LotID
	taken types.MicroUSD
}

// selectSenderLots walks the sender's candidate lots in FIFO order,
// splitting off up to need from each by reducing both Original and
// Available together. Unlike a reservation, the credit taken here never
// returns to this account: it is leaving the lot for good, so Reserved
// is never touched and the split amount is simply gone from the source
// lot's accounting entirely, to reappear in the recipient's new lot.
func selectSenderLots(ctx context.Context, tx store.Tx, accountID id.AccountID, pool account.Pool, need types.MicroUSD) ([]senderAllocation, types.MicroUSD, error) {
	candidates, err := tx.SelectCandidateLots(ctx, accountID, pool, time.Now().UTC())
	if err != nil {
		return nil, types.ZeroMicroUSD, err
	}

	// Sum first, so an insufficient balance touches no lot.
	available := types.ZeroMicroUSD
	for _, l := range candidates {
		available = available.Add(l.AvailableMicro)
	}
	if available.Int64() < need.Int64() {
		return nil, available, nil
	}

	var allocations []senderAllocation
	total := types.ZeroMicroUSD
	remaining := need
	for _, l := range candidates {
		if remaining.IsZero() {
			break
		}
		take := remaining.Min(l.AvailableMicro)
		if !take.IsPositive() {
			continue
		}

		orig, err := l.OriginalMicro.Sub(take)
		if err != nil {
			return nil, types.ZeroMicroUSD, err
		}
		avail, err := l.AvailableMicro.Sub(take)
		if err != nil {
			return nil, types.ZeroMicroUSD, err
		}
		l.OriginalMicro = orig
		l.AvailableMicro = avail
		if err := tx.UpdateLot(ctx, l); err != nil {
			return nil, types.ZeroMicroUSD, err
		}

		allocations = append(allocations, senderAllocation{lotID: l.ID, taken: take})
		total = total.Add(take)
		remaining, err = remaining.Sub(take)
		if err != nil {
			return nil, types.ZeroMicroUSD, err
		}
	}

	return allocations, total, nil
}

// postTransferEntries writes the paired debit/credit ledger entries for
// a completed transfer. first is the sender's earliest-consumed
// allocation, referenced on the debit entry for traceability; the debit
// amount is the transfer total regardless of how many sender lots it
// was split across.
func (s *Service) postTransferEntries(ctx context.Context, tx store.Tx, t *xfer.Transfer, pool account.Pool, first senderAllocation, recipientLotID id.LotID) error {
	debitKey := t.IdempotencyKey
	if debitKey != "" {
		debitKey += ":out"
	}
	if _, err := appendTransferEntry(ctx, tx, t.FromAccountID, pool, entry.TypeTransferOut, -t.AmountMicro.Int64(), debitKey, &first.lotID); err != nil {
		return err
	}

	creditKey := t.IdempotencyKey
	if creditKey != "" {
		creditKey += ":in"
	}
	_, err := appendTransferEntry(ctx, tx, t.ToAccountID, pool, entry.TypeTransferIn, t.AmountMicro.Int64(), creditKey, &recipientLotID)
	return err
}

// appendTransferEntry mirrors the core engine's entry-posting sequence
// (next seq, pre/post balance snapshot, insert) for an account this
// package does not otherwise own a write path into.
func appendTransferEntry(ctx context.Context, tx store.Tx, accountID id.AccountID, pool account.Pool, entryType entry.Type, amountMicro int64, idemKey string, lotID *id.LotID) (*entry.Entry, error) {
	seq, err := tx.NextEntrySeq(ctx, accountID, pool)
	if err != nil {
		return nil, err
	}

	available, _, err := tx.GetBalanceProjection(ctx, accountID, pool)
	if err != nil {
		return nil, err
	}
	post := available
	pre := types.MustMicroUSD(post.Int64() - amountMicro)

	e := entry.New(accountID, pool, entryType, amountMicro)
	e.EntrySeq = seq
	e.IdempotencyKey = idemKey
	e.PreBalance = pre
	e.PostBalance = post
	if lotID != nil {
		e.LotID = *lotID
	}

	if err := tx.CreateLedgerEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// checkProvenance consults the cache before falling back to the
// configured verifier. A verifier error is not cached, so the next
// transfer retries it.
func (s *Service) checkProvenance(ctx context.Context, accountID id.AccountID) (bool, error) {
	if v, ok := s.provenanceCache.Get(accountID); ok {
		return v, nil
	}
	verified, err := s.provenance.VerifyProvenance(ctx, accountID)
	if err != nil {
		return false, err
	}
	s.provenanceCache.Set(accountID, verified, provenanceCacheTTL)
	return verified, nil
}

// checkBudget consults the cache before falling back to the configured
// budget service.
func (s *Service) checkBudget(ctx context.Context, accountID id.AccountID, amountMicro int64) (budgetResult, error) {
	if v, ok := s.budgetCache.Get(accountID); ok {
		return v, nil
	}
	allowed, reason, err := s.budget.CheckBudget(ctx, accountID, amountMicro)
	if err != nil {
		return budgetResult{}, err
	}
	res := budgetResult{allowed: allowed, reason: reason}
	s.budgetCache.Set(accountID, res, budgetCacheTTL)
	return res, nil
}

// invalidateBudget drops any cached budget verdict for accountID after
// a completed transfer, since the account's committed spend just
// changed.
func (s *Service) invalidateBudget(accountID id.AccountID) {
	s.budgetCache.Invalidate(accountID)
}
