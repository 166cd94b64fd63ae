package ledger_test

import (
	"context"
	"testing"

	ledger "github.com/xraph/creditledger"
	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/store/memory"
	"github.com/xraph/creditledger/types"
)

// TestReserveFinalizeSnapshots pins the ledger-entry pre/post invariant
// (pre + amount = post) through a mint, reserve, and finalize, with the
// exact numbers from a basic reserve/finalize trace.
func TestReserveFinalizeSnapshots(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	eng := ledger.New(store)
	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer eng.Stop()

	acct, err := eng.GetOrCreateAccount(ctx, account.EntityTypeAgent, "agent_scenario_1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.MintLot(ctx, acct.ID, account.DefaultPool, types.MustMicroUSD(1_000_000), nil); err != nil {
		t.Fatal(err)
	}

	res, err := eng.Reserve(ctx, acct.ID, account.DefaultPool, types.MustMicroUSD(500_000), "reserve-1")
	if err != nil {
		t.Fatal(err)
	}

	available, reserved, err := eng.GetBalance(ctx, acct.ID, account.DefaultPool)
	if err != nil {
		t.Fatal(err)
	}
	if available != types.MustMicroUSD(500_000) || reserved != types.MustMicroUSD(500_000) {
		t.Fatalf("after reserve: available=%v reserved=%v, want 500000/500000", available, reserved)
	}

	result, err := eng.Finalize(ctx, res.ID, types.MustMicroUSD(300_000))
	if err != nil {
		t.Fatal(err)
	}
	if result.SurplusReleased != types.MustMicroUSD(200_000) {
		t.Fatalf("surplus released = %v, want 200000", result.SurplusReleased)
	}
	if result.Entry.PreBalance != types.MustMicroUSD(500_000) || result.Entry.PostBalance != types.MustMicroUSD(700_000) {
		t.Fatalf("finalize entry pre/post = (%v, %v), want (500000, 700000)", result.Entry.PreBalance, result.Entry.PostBalance)
	}

	available, reserved, err = eng.GetBalance(ctx, acct.ID, account.DefaultPool)
	if err != nil {
		t.Fatal(err)
	}
	if available != types.MustMicroUSD(700_000) || reserved != types.ZeroMicroUSD {
		t.Fatalf("after finalize: available=%v reserved=%v, want 700000/0", available, reserved)
	}
}

// TestReserveEntrySnapshot pins the reserve entry's own pre/post values,
// which the same snapshot bug that affected finalize also corrupted.
func TestReserveEntrySnapshot(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	eng := ledger.New(store)
	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer eng.Stop()

	acct, err := eng.GetOrCreateAccount(ctx, account.EntityTypeAgent, "agent_scenario_1b")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.MintLot(ctx, acct.ID, account.DefaultPool, types.MustMicroUSD(1_000_000), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Reserve(ctx, acct.ID, account.DefaultPool, types.MustMicroUSD(500_000), "reserve-1b"); err != nil {
		t.Fatal(err)
	}

	history, err := eng.GetHistory(ctx, acct.ID, account.DefaultPool, "reserve", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("got %d reserve entries, want 1", len(history))
	}
	if history[0].PreBalance != types.MustMicroUSD(1_000_000) || history[0].PostBalance != types.MustMicroUSD(500_000) {
		t.Fatalf("reserve entry pre/post = (%v, %v), want (1000000, 500000)", history[0].PreBalance, history[0].PostBalance)
	}
}
