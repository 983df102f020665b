package reservation

import (
	"context"

	"github.com/xraph/credits/id"
)

// Store defines read access to reservations and their finalizations.
type Store interface {
	GetReservation(ctx context.Context, reservationID id.ReservationID) (*Reservation, error)
	GetFinalization(ctx context.Context, accountID id.AccountID, reservationID id.ReservationID) (*Finalization, error)
}
