// Package credits provides a double-entry style credit ledger for prepaid
// micro-USD balances with reserve-then-finalize spending and continuous
// conservation auditing.
//
// Credits is designed as a library, not a service. Import it directly into
// your Go application, or run the creditsd binary for an HTTP front end. It
// provides:
//
//   - Credit lots minted from deposits, transfers, on-chain bridges and grants
//   - An append-only journal with a strictly increasing sequence per pool
//   - Oldest-first, all-or-nothing reservations with idempotent finalization
//   - A per-account daily budget circuit breaker
//   - Six alert-only reconciliation checks on a cron schedule
//   - Plugin hooks for metrics, audit and event sinks
//
// # Quick Start
//
// Create a ledger instance with your preferred store:
//
//	import (
//	    "github.com/xraph/credits"
//	    "github.com/xraph/credits/store/postgres"
//	)
//
//	s, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	l := credits.New(s, credits.WithReconcileSchedule("@every 15m", time.Minute))
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop(ctx)
//
// # Core Concepts
//
// A lot is one discrete credit grant. Its amount is split into available,
// reserved and consumed portions that always sum to the original amount:
//
//	lt, err := l.MintLot(ctx, accountID, credits.MustParseMicro("1.00"),
//	    lot.SourceDeposit, credits.MintOpts{IdempotencyKey: "deposit:stripe:pi_123"})
//
// Spending is two-phase. Reserve holds funds drawn from the oldest lots
// first; Finalize settles the actual cost and releases the surplus:
//
//	rsv, err := l.Reserve(ctx, accountID, requestID, credits.MustParseMicro("0.40"), credits.ReserveOpts{})
//	fin, err := l.Finalize(ctx, rsv.ID, credits.MustParseMicro("0.25"))
//
// Finalize never fails because a budget ran out. When the settlement would
// exceed the daily cap it is clamped to the remaining headroom and the
// finalization records OutcomeClamped.
//
// # Amounts
//
// All amounts are integer micro-USD (1 USD = 1,000,000). Arithmetic is
// overflow checked and never touches floating point.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	lot_01h2xcejqtf2nbrexx3vqjhp41   // Lot ID
//	rsv_01h2xcejqtf2nbrexx3vqjhp41   // Reservation ID
//	rcn_01h455vb4pex5vsknk084sn02q   // Reconciliation run ID
package credits
