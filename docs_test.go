package credits_test

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/store/memory"
)

// TestDocumentationExamples verifies that the package documentation examples run.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		l := credits.New(store,
			credits.WithLogger(slog.Default()),
			credits.WithReconcileSchedule("@every 15m", time.Minute),
		)

		ctx := context.Background()
		if err := l.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer l.Stop(ctx) //nolint:errcheck // test teardown

		accountID := newAccount()
		if _, err := l.MintLot(ctx, accountID, credits.MustParseMicro("1.00"),
			lot.SourceDeposit, credits.MintOpts{IdempotencyKey: "deposit:stripe:pi_123"}); err != nil {
			t.Fatal(err)
		}

		rsv, err := l.Reserve(ctx, accountID, "req-1", credits.MustParseMicro("0.40"), credits.ReserveOpts{})
		if err != nil {
			t.Fatal(err)
		}
		fin, err := l.Finalize(ctx, rsv.ID, credits.MustParseMicro("0.25"))
		if err != nil {
			t.Fatal(err)
		}
		if fin.Released != credits.MustParseMicro("0.15") {
			t.Errorf("released: got %s, want 0.150000", fin.Released)
		}
	})

	t.Run("AmountsExample", func(t *testing.T) {
		m, err := credits.ParseMicro("$1.25")
		if err != nil {
			t.Fatal(err)
		}
		if m != 1_250_000 {
			t.Errorf("ParseMicro: got %d, want 1250000", m)
		}
		if got := m.FormatUSD(); got != "$1.25" {
			t.Errorf("FormatUSD: got %q", got)
		}
		usd, err := credits.USD(3)
		if err != nil {
			t.Fatal(err)
		}
		if usd != 3*credits.MicroPerUSD {
			t.Errorf("USD: got %d", usd)
		}
	})
}

func ExampleLedger_Finalize() {
	ctx := context.Background()
	l := credits.New(memory.New(), credits.WithLogger(slog.New(slog.DiscardHandler)))

	accountID := newAccount()
	if _, err := l.MintLot(ctx, accountID, 1_000_000, lot.SourceDeposit, credits.MintOpts{}); err != nil {
		log.Fatal(err)
	}
	rsv, err := l.Reserve(ctx, accountID, "req-1", 400_000, credits.ReserveOpts{})
	if err != nil {
		log.Fatal(err)
	}
	fin, err := l.Finalize(ctx, rsv.ID, 250_000)
	if err != nil {
		log.Fatal(err)
	}
	bal, err := l.Balance(ctx, accountID, "")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(fin.Outcome, fin.Settled, fin.Released)
	fmt.Println(bal.Available, bal.Reserved, bal.Consumed)
	// Output:
	// settled 0.250000 0.150000
	// 0.750000 0.000000 0.250000
}
