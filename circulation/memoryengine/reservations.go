package memoryengine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
)

// ReservationByID returns a reservation or ErrNotFound.
func (s *Store) ReservationByID(_ context.Context, id uuid.UUID) (circulation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservation, ok := s.reservations[id]
	if !ok {
		return circulation.Reservation{}, circulation.ErrNotFound
	}

	return reservation, nil
}

// ReservationHoldsFor counts the item's reservations in the given statuses.
func (s *Store) ReservationHoldsFor(_ context.Context, itemID uuid.UUID, statuses ...circulation.ReservationStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.holdsLocked(itemID, statuses...), nil
}

func (s *Store) holdsLocked(itemID uuid.UUID, statuses ...circulation.ReservationStatus) int {
	count := 0
	for _, reservation := range s.reservations {
		if reservation.ItemID != itemID {
			continue
		}
		for _, status := range statuses {
			if reservation.Status == status {
				count++
				break
			}
		}
	}

	return count
}

// HasPendingReservation reports whether the user holds a pending reservation
// on the item.
func (s *Store) HasPendingReservation(_ context.Context, userID uuid.UUID, itemID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hasPendingLocked(userID, itemID), nil
}

func (s *Store) hasPendingLocked(userID uuid.UUID, itemID uuid.UUID) bool {
	for _, reservation := range s.reservations {
		if reservation.UserID == userID && reservation.ItemID == itemID && reservation.Status == circulation.ReservationPending {
			return true
		}
	}

	return false
}

// ReservationsFor returns all reservations for a user, newest first.
func (s *Store) ReservationsFor(_ context.Context, userID uuid.UUID) ([]circulation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservations := make([]circulation.Reservation, 0)
	for i := len(s.reservationOrder) - 1; i >= 0; i-- {
		if r := s.reservations[s.reservationOrder[i]]; r.UserID == userID {
			reservations = append(reservations, r)
		}
	}

	return reservations, nil
}

// ReservationsForItem returns all reservations for an item, newest first.
func (s *Store) ReservationsForItem(_ context.Context, itemID uuid.UUID) ([]circulation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservations := make([]circulation.Reservation, 0)
	for i := len(s.reservationOrder) - 1; i >= 0; i-- {
		if r := s.reservations[s.reservationOrder[i]]; r.ItemID == itemID {
			reservations = append(reservations, r)
		}
	}

	return reservations, nil
}

// InsertReservationClaimingQuota re-validates the quota and duplicate guards
// at write time, atomically with respect to every other store operation. A
// claim that no longer holds surfaces ErrConcurrencyConflict so the caller
// re-reads and reports the stable business error.
func (s *Store) InsertReservationClaimingQuota(_ context.Context, reservation circulation.Reservation, countFulfilled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[reservation.ItemID]
	if !ok || !item.Active {
		return circulation.ErrNotFound
	}

	statuses := []circulation.ReservationStatus{circulation.ReservationPending}
	if countFulfilled {
		statuses = append(statuses, circulation.ReservationFulfilled)
	}

	if item.AvailableCopies-s.holdsLocked(reservation.ItemID, statuses...) <= 0 {
		return circulation.ErrConcurrencyConflict
	}

	if s.hasPendingLocked(reservation.UserID, reservation.ItemID) {
		return circulation.ErrConcurrencyConflict
	}

	s.reservations[reservation.ID] = reservation
	s.reservationOrder = append(s.reservationOrder, reservation.ID)

	return nil
}

// TransitionReservation moves a reservation between statuses, guarded by the
// stored current status.
func (s *Store) TransitionReservation(_ context.Context, id uuid.UUID, from circulation.ReservationStatus, to circulation.ReservationStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, ok := s.reservations[id]
	if !ok {
		return false, circulation.ErrNotFound
	}
	if reservation.Status != from {
		return false, nil
	}

	reservation.Status = to
	s.reservations[id] = reservation

	return true, nil
}

// ExpirePendingReservations transitions pending reservations past their
// expiry to expired. Re-running is a no-op for already-expired rows.
func (s *Store) ExpirePendingReservations(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched int64
	for id, reservation := range s.reservations {
		if reservation.Status == circulation.ReservationPending && reservation.ExpiresAt.Before(now) {
			reservation.Status = circulation.ReservationExpired
			s.reservations[id] = reservation
			touched++
		}
	}

	return touched, nil
}

// PendingReservationsExpiringWithin returns pending reservations expiring in
// (from, until].
func (s *Store) PendingReservationsExpiringWithin(_ context.Context, from time.Time, until time.Time) ([]circulation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservations := make([]circulation.Reservation, 0)
	for _, id := range s.reservationOrder {
		r := s.reservations[id]
		if r.Status == circulation.ReservationPending && r.ExpiresAt.After(from) && !r.ExpiresAt.After(until) {
			reservations = append(reservations, r)
		}
	}

	return reservations, nil
}
