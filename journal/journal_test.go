package journal

import "testing"

func TestEntryConsistent(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  bool
	}{
		{"deposit", Entry{Type: EntryDeposit, Amount: 100, PreBalance: 0, PostBalance: 100}, true},
		{"reserve", Entry{Type: EntryReserve, Amount: -40, PreBalance: 100, PostBalance: 60}, true},
		{"finalize leaves available", Entry{Type: EntryFinalize, Amount: -25, PreBalance: 60, PostBalance: 60}, true},
		{"finalize moving available", Entry{Type: EntryFinalize, Amount: -25, PreBalance: 60, PostBalance: 35}, false},
		{"release mismatch", Entry{Type: EntryRelease, Amount: 15, PreBalance: 60, PostBalance: 70}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Consistent(); got != tt.want {
				t.Errorf("Consistent: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntryTypeValid(t *testing.T) {
	for _, et := range []EntryType{EntryDeposit, EntryReserve, EntryFinalize, EntryRelease, EntryGrant, EntryTransferOut, EntryTransferIn, EntryClawback} {
		if !et.Valid() {
			t.Errorf("%s should be valid", et)
		}
	}
	if EntryType("refund").Valid() {
		t.Error("unknown entry type should be invalid")
	}
}
