// Package ledger provides a transactional, double-entry, lot-based credit
// ledger for tenants (persons, agents, or communities) that consume
// fiat-denominated usage credits.
//
// Ledger is designed as a library, not a service. Import it directly into
// your Go application for maximum performance and flexibility. It provides:
//
//   - FIFO lot-based balance tracking with exact integer arithmetic
//   - A reservation lifecycle (pending -> finalized/released/expired) that
//     never oversells available balance
//   - Shadow/soft/live billing modes governing how overruns are handled
//   - Peer-to-peer transfers with governance limits and policy pre-checks
//   - Settlement and clawback with receivable-backed partial recovery
//   - A durable event outbox for at-least-once downstream delivery
//   - Time-driven sweeping for reservation expiry and governance activation
//
// # Quick Start
//
// Create a ledger instance with your preferred store:
//
//	import (
//	    "github.com/xraph/creditledger"
//	    "github.com/xraph/creditledger/store/sqlite"
//	)
//
//	// Initialize store (db is an open *grove.DB)
//	s := sqlite.New(db)
//
//	// Create the engine
//	eng := ledger.New(s)
//
//	// Start the engine (runs migrations and the schema self-test; the
//	// sweeper package runs background jobs separately)
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Core Concepts
//
// Accounts hold one or more lots of credit, minted at a known rate and
// consumed FIFO:
//
//	acct, err := eng.GetOrCreateAccount(ctx, ledger.EntityTypePerson, ownerID)
//	lot, err := eng.MintLot(ctx, acct.ID, ledger.PoolGeneral, amount, nil)
//
// Reservations hold funds against future, uncertain-cost usage without
// committing a balance change:
//
//	res, err := eng.Reserve(ctx, acct.ID, ledger.PoolGeneral, estimate, idemKey)
//	result, err := eng.Finalize(ctx, res.ID, actualCost)
//
// Peer transfers move credit between accounts subject to governance limits
// and provenance/budget pre-checks:
//
//	result, err := transferSvc.Transfer(ctx, fromAcct, toAcct, amount, idemKey)
//
// # Arithmetic
//
// All monetary calculations use exact integer arithmetic on MicroUSD
// (1 USD = 1,000,000 MicroUSD); there is no floating point anywhere on the
// money path, and no currency conversion inside the core.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe, K-sortable
// identifiers:
//
//	acct_01h2xcejqtf2nbrexx3vqjhp41  // Account ID
//	lot_01h2xcejqtf2nbrexx3vqjhp41   // Lot ID
//	rsv_01h455vb4pex5vsknk084sn02q   // Reservation ID
//	xfer_01h455vb4pex5vsknk084sn02q  // Transfer ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package ledger
