package settlement_test

import (
	"context"
	"testing"
	"time"

	ledger "github.com/xraph/creditledger"
	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/settlement"
	"github.com/xraph/creditledger/store/memory"
	"github.com/xraph/creditledger/types"
)

// fakeEarnings is a minimal EarningsSource backing a single earning, for
// exercising clawback against a ledger that already holds a settled
// balance.
type fakeEarnings struct {
	earning *settlement.Earning
	reason  string
}

func (f *fakeEarnings) ListSettleDue(context.Context, time.Time, int) ([]*settlement.Earning, error) {
	return nil, nil
}

func (f *fakeEarnings) MarkSettled(context.Context, string, time.Time) error { return nil }

func (f *fakeEarnings) MarkClawedBack(_ context.Context, earningID, reason string) error {
	f.reason = reason
	return nil
}

func (f *fakeEarnings) Get(_ context.Context, earningID string) (*settlement.Earning, error) {
	return f.earning, nil
}

// TestAgentClawbackCreatesReceivable pins the conservation law behind a
// clawback that exceeds the account's settled balance: applied +
// receivable == originalAmount, with the receivable recording the full
// clawback amount separately from the unrecovered remainder.
func TestAgentClawbackCreatesReceivable(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	eng := ledger.New(store)
	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer eng.Stop()

	acct, err := eng.GetOrCreateAccount(ctx, account.EntityTypeAgent, "agent_referrer")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.MintLot(ctx, acct.ID, settlement.SettlementPool, types.MustMicroUSD(400_000), nil); err != nil {
		t.Fatal(err)
	}

	settledAt := time.Now().UTC()
	earnings := &fakeEarnings{earning: &settlement.Earning{
		ID:          "earn-1",
		AccountID:   acct.ID,
		AmountMicro: types.MustMicroUSD(1_000_000),
		SettledAt:   &settledAt,
	}}

	svc := settlement.NewService(earnings, store, eng, nil)

	applied, receivable, err := svc.AgentClawback(ctx, "earn-1", "fraud")
	if err != nil {
		t.Fatal(err)
	}
	if applied != types.MustMicroUSD(400_000) {
		t.Fatalf("applied = %v, want 400000", applied)
	}
	if receivable == nil {
		t.Fatal("expected a receivable for the unrecovered remainder")
	}
	if receivable.OriginalMicro != types.MustMicroUSD(1_000_000) {
		t.Fatalf("receivable.OriginalMicro = %v, want 1000000", receivable.OriginalMicro)
	}
	if receivable.BalanceMicro != types.MustMicroUSD(600_000) {
		t.Fatalf("receivable.BalanceMicro = %v, want 600000", receivable.BalanceMicro)
	}
	if earnings.reason != "fraud" {
		t.Fatalf("clawback reason = %q, want %q", earnings.reason, "fraud")
	}

	available, _, err := eng.GetBalance(ctx, acct.ID, settlement.SettlementPool)
	if err != nil {
		t.Fatal(err)
	}
	if !available.IsZero() {
		t.Fatalf("available after clawback = %v, want 0", available)
	}
}
