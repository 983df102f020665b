// Package id holds the identifiers of every credits record. An ID is a
// TypeID: a short entity prefix, an underscore and a UUIDv7 suffix, so IDs
// sort by creation time and are safe in URLs.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix is the entity tag in front of the underscore.
type Prefix string

const (
	PrefixAccount      Prefix = "acct"
	PrefixLot          Prefix = "lot"
	PrefixEntry        Prefix = "le"
	PrefixReservation  Prefix = "rsv"
	PrefixFinalization Prefix = "fin"
	PrefixRun          Prefix = "rcn"
	PrefixTransfer     Prefix = "xfer"
	PrefixDeposit      Prefix = "dep"
	PrefixReceivable   Prefix = "rcv"
	PrefixBonus        Prefix = "bns"
)

// ID is a prefixed TypeID. The zero value is Nil and renders as "".
//
//nolint:recvcheck // UnmarshalText needs a pointer receiver.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the absent ID.
var Nil ID

// New mints an ID under prefix. An invalid prefix is a programming error
// and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse accepts any well-formed TypeID regardless of prefix.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

func parseAs(s string, want Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q is a %q id, want %q", s, got, want)
	}
	return parsed, nil
}

// The aliases below document which entity a field refers to. They are all
// the same type, so the prefix check happens at parse time.
type (
	AccountID      = ID
	LotID          = ID
	EntryID        = ID
	ReservationID  = ID
	FinalizationID = ID
	RunID          = ID
	TransferID     = ID
	DepositID      = ID
	ReceivableID   = ID
	BonusID        = ID
)

func NewAccountID() ID      { return New(PrefixAccount) }
func NewLotID() ID          { return New(PrefixLot) }
func NewEntryID() ID        { return New(PrefixEntry) }
func NewReservationID() ID  { return New(PrefixReservation) }
func NewFinalizationID() ID { return New(PrefixFinalization) }
func NewRunID() ID          { return New(PrefixRun) }
func NewTransferID() ID     { return New(PrefixTransfer) }
func NewDepositID() ID      { return New(PrefixDeposit) }
func NewReceivableID() ID   { return New(PrefixReceivable) }
func NewBonusID() ID        { return New(PrefixBonus) }

// ParseAccountID parses s and requires the "acct" prefix. The other
// Parse*ID functions do the same for their entity.
func ParseAccountID(s string) (ID, error)      { return parseAs(s, PrefixAccount) }
func ParseLotID(s string) (ID, error)          { return parseAs(s, PrefixLot) }
func ParseEntryID(s string) (ID, error)        { return parseAs(s, PrefixEntry) }
func ParseReservationID(s string) (ID, error)  { return parseAs(s, PrefixReservation) }
func ParseFinalizationID(s string) (ID, error) { return parseAs(s, PrefixFinalization) }
func ParseRunID(s string) (ID, error)          { return parseAs(s, PrefixRun) }
func ParseTransferID(s string) (ID, error)     { return parseAs(s, PrefixTransfer) }
func ParseDepositID(s string) (ID, error)      { return parseAs(s, PrefixDeposit) }
func ParseReceivableID(s string) (ID, error)   { return parseAs(s, PrefixReceivable) }

func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix is "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

func (i ID) IsNil() bool { return !i.valid }

// MarshalText writes Nil as an empty string so omitzero JSON fields drop it.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText reads "" back as Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
