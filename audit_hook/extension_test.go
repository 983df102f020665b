package audithook

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/reservation"
)

type memRecorder struct {
	events []*AuditEvent
	err    error
}

func (m *memRecorder) Record(_ context.Context, e *AuditEvent) error {
	m.events = append(m.events, e)
	return m.err
}

func TestExtensionRecordsEvents(t *testing.T) {
	ctx := context.Background()
	rec := &memRecorder{}
	ext := New(rec)

	l := &lot.Lot{ID: id.NewLotID(), AccountID: id.NewAccountID(), SourceType: lot.SourceDeposit, Original: 1_000_000}
	if err := ext.OnLotMinted(ctx, l); err != nil {
		t.Fatalf("OnLotMinted: %v", err)
	}
	fin := &reservation.Finalization{
		ReservationID: id.NewReservationID(),
		Requested:     500,
		Settled:       150,
		Released:      350,
		Outcome:       reservation.OutcomeClamped,
		Reason:        "daily cap reached",
	}
	if err := ext.OnFinalized(ctx, fin); err != nil {
		t.Fatalf("OnFinalized: %v", err)
	}
	if err := ext.OnReconciliationDivergence(ctx, &reconcile.Run{ID: id.NewRunID(), Divergences: []string{"x"}}); err != nil {
		t.Fatalf("OnReconciliationDivergence: %v", err)
	}

	tests := []struct {
		action   string
		resource string
		severity string
		outcome  string
	}{
		{ActionLotMinted, ResourceLot, SeverityInfo, OutcomeSuccess},
		{ActionReservationClamped, ResourceReservation, SeverityWarning, OutcomePartial},
		{ActionReconciliationDiverged, ResourceReconciliation, SeverityCritical, OutcomeFailure},
	}
	if len(rec.events) != len(tests) {
		t.Fatalf("events: got %d, want %d", len(rec.events), len(tests))
	}
	for i, tt := range tests {
		e := rec.events[i]
		if e.Action != tt.action || e.Resource != tt.resource || e.Severity != tt.severity || e.Outcome != tt.outcome {
			t.Errorf("event %d: got %s/%s/%s/%s, want %s/%s/%s/%s", i,
				e.Action, e.Resource, e.Severity, e.Outcome,
				tt.action, tt.resource, tt.severity, tt.outcome)
		}
	}
	if got := rec.events[0].Metadata["amount_micro"]; got != int64(1_000_000) {
		t.Errorf("amount metadata: got %v, want 1000000", got)
	}
	if rec.events[1].Reason != "daily cap reached" {
		t.Errorf("clamp reason: got %q", rec.events[1].Reason)
	}
}

func TestExtensionFiltersActions(t *testing.T) {
	ctx := context.Background()
	rec := &memRecorder{}
	ext := New(rec, WithDisabledActions(ActionLotMinted))

	_ = ext.OnLotMinted(ctx, &lot.Lot{ID: id.NewLotID()})
	_ = ext.OnReconciliationCompleted(ctx, &reconcile.Run{ID: id.NewRunID()})
	if len(rec.events) != 1 || rec.events[0].Action != ActionReconciliationPassed {
		t.Errorf("events: got %d, want only %s", len(rec.events), ActionReconciliationPassed)
	}

	rec = &memRecorder{}
	ext = New(rec, WithEnabledActions(ActionLotMinted))
	_ = ext.OnLotMinted(ctx, &lot.Lot{ID: id.NewLotID()})
	_ = ext.OnReconciliationCompleted(ctx, &reconcile.Run{ID: id.NewRunID()})
	if len(rec.events) != 1 || rec.events[0].Action != ActionLotMinted {
		t.Errorf("events: got %d, want only %s", len(rec.events), ActionLotMinted)
	}
}

func TestExtensionSwallowsRecorderErrors(t *testing.T) {
	rec := &memRecorder{err: errors.New("backend down")}
	ext := New(rec, WithLogger(slog.New(slog.DiscardHandler)))
	if err := ext.OnLotMinted(context.Background(), &lot.Lot{ID: id.NewLotID()}); err != nil {
		t.Errorf("OnLotMinted: got %v, want nil", err)
	}
}
