package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/credits/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"AccountID", id.NewAccountID, "acct_"},
		{"LotID", id.NewLotID, "lot_"},
		{"EntryID", id.NewEntryID, "le_"},
		{"ReservationID", id.NewReservationID, "rsv_"},
		{"FinalizationID", id.NewFinalizationID, "fin_"},
		{"RunID", id.NewRunID, "rcn_"},
		{"TransferID", id.NewTransferID, "xfer_"},
		{"DepositID", id.NewDepositID, "dep_"},
		{"ReceivableID", id.NewReceivableID, "rcv_"},
		{"BonusID", id.NewBonusID, "bns_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestNew(t *testing.T) {
	i := id.New(id.PrefixLot)
	if i.IsNil() {
		t.Fatal("expected non-nil ID")
	}
	if i.Prefix() != id.PrefixLot {
		t.Errorf("expected prefix %q, got %q", id.PrefixLot, i.Prefix())
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"AccountID", id.NewAccountID, id.ParseAccountID},
		{"LotID", id.NewLotID, id.ParseLotID},
		{"EntryID", id.NewEntryID, id.ParseEntryID},
		{"ReservationID", id.NewReservationID, id.ParseReservationID},
		{"FinalizationID", id.NewFinalizationID, id.ParseFinalizationID},
		{"RunID", id.NewRunID, id.ParseRunID},
		{"TransferID", id.NewTransferID, id.ParseTransferID},
		{"DepositID", id.NewDepositID, id.ParseDepositID},
		{"ReceivableID", id.NewReceivableID, id.ParseReceivableID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseAccountID rejects lot_", id.NewLotID().String(), id.ParseAccountID},
		{"ParseLotID rejects le_", id.NewEntryID().String(), id.ParseLotID},
		{"ParseEntryID rejects rsv_", id.NewReservationID().String(), id.ParseEntryID},
		{"ParseReservationID rejects fin_", id.NewFinalizationID().String(), id.ParseReservationID},
		{"ParseFinalizationID rejects rcn_", id.NewRunID().String(), id.ParseFinalizationID},
		{"ParseRunID rejects xfer_", id.NewTransferID().String(), id.ParseRunID},
		{"ParseTransferID rejects dep_", id.NewDepositID().String(), id.ParseTransferID},
		{"ParseDepositID rejects rcv_", id.NewReceivableID().String(), id.ParseDepositID},
		{"ParseReceivableID rejects bns_", id.NewBonusID().String(), id.ParseReceivableID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.parseFn(tt.input)
			if err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestParseAcceptsAnyPrefix(t *testing.T) {
	for _, i := range []id.ID{id.NewAccountID(), id.NewLotID(), id.NewBonusID()} {
		t.Run(string(i.Prefix()), func(t *testing.T) {
			parsed, err := id.Parse(i.String())
			if err != nil {
				t.Fatalf("Parse(%q): %v", i.String(), err)
			}
			if parsed.String() != i.String() {
				t.Errorf("round-trip: got %q, want %q", parsed.String(), i.String())
			}
		})
	}
}

func TestPrefixMismatchMessage(t *testing.T) {
	lotID := id.NewLotID()
	_, err := id.ParseAccountID(lotID.String())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), `want "acct"`) {
		t.Errorf("error: got %q, want it to name the expected prefix", err)
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := id.Parse("")
	if err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewLotID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if unmarshalErr := restored.UnmarshalText(data); unmarshalErr != nil {
		t.Fatalf("UnmarshalText failed: %v", unmarshalErr)
	}
	if restored.String() != original.String() {
		t.Errorf("mismatch: %q != %q", restored.String(), original.String())
	}

	// Nil round-trip.
	var nilID id.ID
	data, err = nilID.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText(nil) failed: %v", err)
	}
	var restored2 id.ID
	if err := restored2.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !restored2.IsNil() {
		t.Error("expected nil after round-trip of nil ID")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewLotID()
	b := id.NewLotID()
	if a.String() == b.String() {
		t.Errorf("two consecutive NewLotID() calls returned the same ID: %q", a.String())
	}
}
