package memoryengine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
)

// LoanByID returns a loan or ErrNotFound.
func (s *Store) LoanByID(_ context.Context, id uuid.UUID) (circulation.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loan, ok := s.loans[id]
	if !ok {
		return circulation.Loan{}, circulation.ErrNotFound
	}

	return loan, nil
}

// ActiveLoanCountFor counts the user's currently active loans.
func (s *Store) ActiveLoanCountFor(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeLoanCountLocked(userID), nil
}

// HasActiveLoan reports whether the user holds an active loan on the item.
func (s *Store) HasActiveLoan(_ context.Context, userID uuid.UUID, itemID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, loan := range s.loans {
		if loan.UserID == userID && loan.ItemID == itemID && loan.Status == circulation.LoanActive {
			return true, nil
		}
	}

	return false, nil
}

// LoansFor returns all loans for a user, newest first.
func (s *Store) LoansFor(_ context.Context, userID uuid.UUID) ([]circulation.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loans := make([]circulation.Loan, 0)
	for i := len(s.loanOrder) - 1; i >= 0; i-- {
		if loan := s.loans[s.loanOrder[i]]; loan.UserID == userID {
			loans = append(loans, loan)
		}
	}

	return loans, nil
}

// LoansForItem returns all loans for an item, newest first.
func (s *Store) LoansForItem(_ context.Context, itemID uuid.UUID) ([]circulation.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loans := make([]circulation.Loan, 0)
	for i := len(s.loanOrder) - 1; i >= 0; i-- {
		if loan := s.loans[s.loanOrder[i]]; loan.ItemID == itemID {
			loans = append(loans, loan)
		}
	}

	return loans, nil
}

// InsertLoanCommittingStock persists the debited counters under the version
// check, re-validates the borrower's active-loan count against maxActive and
// inserts the loan, atomically with respect to every other store operation.
// A lost limit slot surfaces ErrConcurrencyConflict so the caller re-reads
// and reports the stable business error.
func (s *Store) InsertLoanCommittingStock(_ context.Context, loan circulation.Loan, item circulation.CatalogItem, maxActive int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeLoanCountLocked(loan.UserID) >= maxActive {
		return circulation.ErrConcurrencyConflict
	}

	if err := s.persistItemLocked(item); err != nil {
		return err
	}

	s.loans[loan.ID] = loan
	s.loanOrder = append(s.loanOrder, loan.ID)

	return nil
}

func (s *Store) activeLoanCountLocked(userID uuid.UUID) int {
	count := 0
	for _, loan := range s.loans {
		if loan.UserID == userID && loan.Status == circulation.LoanActive {
			count++
		}
	}

	return count
}

// CloseLoanRestoringStock transitions the loan out of active, guarded by its
// stored status, persists the credited counters under the version check and
// appends the sanctions earned by the close. All of it happens under one
// lock hold: a failed guard inserts nothing.
func (s *Store) CloseLoanRestoringStock(_ context.Context, loan circulation.Loan, item circulation.CatalogItem, sanctions []circulation.Sanction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.loans[loan.ID]
	if !ok {
		return circulation.ErrNotFound
	}
	if current.Status != circulation.LoanActive {
		return circulation.ErrLoanNotActive
	}

	if err := s.persistItemLocked(item); err != nil {
		return err
	}

	s.loans[loan.ID] = loan

	for _, sanction := range sanctions {
		s.sanctions[sanction.ID] = sanction
		s.sanctionOrder = append(s.sanctionOrder, sanction.ID)
	}

	return nil
}

// ActiveLoansDueWithin returns active loans whose due instant lies in
// (from, until].
func (s *Store) ActiveLoansDueWithin(_ context.Context, from time.Time, until time.Time) ([]circulation.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loans := make([]circulation.Loan, 0)
	for _, id := range s.loanOrder {
		loan := s.loans[id]
		if loan.Status == circulation.LoanActive && loan.DueAt.After(from) && !loan.DueAt.After(until) {
			loans = append(loans, loan)
		}
	}

	return loans, nil
}

// ActiveLoansOverdue returns active loans already past due at asOf.
func (s *Store) ActiveLoansOverdue(_ context.Context, asOf time.Time) ([]circulation.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loans := make([]circulation.Loan, 0)
	for _, id := range s.loanOrder {
		loan := s.loans[id]
		if loan.Status == circulation.LoanActive && asOf.After(loan.DueAt) {
			loans = append(loans, loan)
		}
	}

	return loans, nil
}
