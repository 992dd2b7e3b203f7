package memoryengine

import (
	"context"

	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
)

// ItemHasReferences reports whether any loan or reservation row, in any
// status, references the item.
func (s *Store) ItemHasReferences(_ context.Context, itemID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, loan := range s.loans {
		if loan.ItemID == itemID {
			return true, nil
		}
	}
	for _, reservation := range s.reservations {
		if reservation.ItemID == itemID {
			return true, nil
		}
	}

	return false, nil
}

// UserHasReferences reports whether any loan, reservation or sanction row
// references the user as borrower or operator.
func (s *Store) UserHasReferences(_ context.Context, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, loan := range s.loans {
		if loan.UserID == userID || loan.OperatorID == userID {
			return true, nil
		}
	}
	for _, reservation := range s.reservations {
		if reservation.UserID == userID {
			return true, nil
		}
	}
	for _, sanction := range s.sanctions {
		if sanction.UserID == userID {
			return true, nil
		}
	}

	return false, nil
}

// OperatesForOthers reports whether the user is operator on loans belonging
// to other borrowers.
func (s *Store) OperatesForOthers(_ context.Context, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, loan := range s.loans {
		if loan.OperatorID == userID && loan.UserID != userID {
			return true, nil
		}
	}

	return false, nil
}

// DeleteCatalogItem removes an item row. Callers must have consulted the
// guard first.
func (s *Store) DeleteCatalogItem(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return circulation.ErrNotFound
	}

	delete(s.items, id)

	return nil
}

// DeleteCatalogItemCascade removes the item with its loans and reservations,
// detaching sanction references so the sanction history survives.
func (s *Store) DeleteCatalogItemCascade(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return circulation.ErrNotFound
	}

	for loanID, loan := range s.loans {
		if loan.ItemID != id {
			continue
		}
		for sanctionID, sanction := range s.sanctions {
			if sanction.LoanID.Valid && sanction.LoanID.UUID == loanID {
				sanction.LoanID = uuid.NullUUID{}
				s.sanctions[sanctionID] = sanction
			}
		}
		delete(s.loans, loanID)
		s.loanOrder = removeID(s.loanOrder, loanID)
	}

	for reservationID, reservation := range s.reservations {
		if reservation.ItemID == id {
			delete(s.reservations, reservationID)
			s.reservationOrder = removeID(s.reservationOrder, reservationID)
		}
	}

	delete(s.items, id)

	return nil
}

// DeleteUser removes a user row. Callers must have consulted the guard first.
func (s *Store) DeleteUser(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return circulation.ErrNotFound
	}

	delete(s.users, id)

	return nil
}

// DeleteUserCascade removes the user with their loans, reservations and
// sanctions.
func (s *Store) DeleteUserCascade(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return circulation.ErrNotFound
	}

	for loanID, loan := range s.loans {
		if loan.UserID == id {
			delete(s.loans, loanID)
			s.loanOrder = removeID(s.loanOrder, loanID)
		}
	}
	for reservationID, reservation := range s.reservations {
		if reservation.UserID == id {
			delete(s.reservations, reservationID)
			s.reservationOrder = removeID(s.reservationOrder, reservationID)
		}
	}
	for sanctionID, sanction := range s.sanctions {
		if sanction.UserID == id {
			delete(s.sanctions, sanctionID)
			s.sanctionOrder = removeID(s.sanctionOrder, sanctionID)
		}
	}

	delete(s.users, id)

	return nil
}

func removeID(order []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for i, candidate := range order {
		if candidate == id {
			return append(order[:i], order[i+1:]...)
		}
	}

	return order
}
