package ledger_test

import (
	"context"
	"log"
	"log/slog"
	"testing"

	ledger "github.com/xraph/creditledger"
	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/store/memory"
	"github.com/xraph/creditledger/types"
)

// TestDocumentationExamples verifies that all examples in the documentation compile.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use the sqlite store in production).
		store := memory.New()

		// Initialize the engine.
		eng := ledger.New(store, ledger.WithLogger(slog.Default()))

		ctx := context.Background()
		if err := eng.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer eng.Stop()

		// Create an account for an agent entity.
		acct, err := eng.GetOrCreateAccount(ctx, account.EntityTypeAgent, "agent_123")
		if err != nil {
			t.Fatal(err)
		}

		// Mint a lot of credit into the default pool.
		if _, err := eng.MintLot(ctx, acct.ID, account.DefaultPool, types.MustMicroUSD(10_000_000), nil); err != nil {
			t.Fatal(err)
		}

		// Reserve against it ahead of doing metered work.
		res, err := eng.Reserve(ctx, acct.ID, account.DefaultPool, types.MustMicroUSD(500_000), "reserve-demo-1")
		if err != nil {
			t.Fatal(err)
		}

		// Finalize at actual cost once the work completes.
		result, err := eng.Finalize(ctx, res.ID, types.MustMicroUSD(420_000))
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("finalized reservation, released surplus %s", result.SurplusReleased.String())

		available, reserved, err := eng.GetBalance(ctx, acct.ID, account.DefaultPool)
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("balance: available=%s reserved=%s", available.String(), reserved.String())
	})

	// Test money type examples.
	t.Run("MoneyExamples", func(t *testing.T) {
		// Constructors
		_ = types.MustMicroUSD(4_900_000) // $4.90
		_ = types.MustMicroUSD(0)         // $0.00

		// Arithmetic
		m1 := types.MustMicroUSD(100)
		m2 := types.MustMicroUSD(200)
		_ = m1.Add(m2) // micro-dollar addition is exact, never float

		// Comparison
		if m1.LessThan(m2) {
			// m1 is less than m2
		}

		// Formatting
		_ = m1.String()
	})
}
