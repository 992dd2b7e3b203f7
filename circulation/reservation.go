package circulation

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus is the lifecycle state of a reservation. Expiry is a
// time-triggered transition performed by the sweep, never a deletion.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation holds a provisional claim of one copy of a catalog item for a
// user ahead of pickup. It counts against the reservation quota but does not
// decrement available copies.
type Reservation struct {
	ID        uuid.UUID
	ItemID    uuid.UUID
	UserID    uuid.UUID
	Status    ReservationStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// BuildReservation creates a new pending reservation with the given TTL.
func BuildReservation(itemID uuid.UUID, userID uuid.UUID, createdAt time.Time, ttl time.Duration) Reservation {
	return Reservation{
		ID:        uuid.New(),
		ItemID:    itemID,
		UserID:    userID,
		Status:    ReservationPending,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(ttl),
	}
}

// IsPending reports whether the reservation can still be fulfilled or cancelled.
func (r Reservation) IsPending() bool {
	return r.Status == ReservationPending
}

// HasLapsed reports whether a pending reservation is past its expiry instant,
// whether or not the sweep has transitioned it yet.
func (r Reservation) HasLapsed(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
