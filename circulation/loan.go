package circulation

import (
	"time"

	"github.com/google/uuid"
)

// LoanStatus is the lifecycle state of a loan. A loan is mutated only by the
// return and annulment operations and is never deleted once closed.
type LoanStatus string

const (
	LoanActive   LoanStatus = "active"
	LoanReturned LoanStatus = "returned"
	LoanDamaged  LoanStatus = "damaged"
	LoanLost     LoanStatus = "lost"
	// LoanAnnulled marks an operator-error loan that was undone without ever
	// being returned. Kept distinct from LoanReturned so history stays auditable.
	LoanAnnulled LoanStatus = "annulled"
)

// IsReturnOutcome reports whether s is a valid outcome for the return operation.
func (s LoanStatus) IsReturnOutcome() bool {
	return s == LoanReturned || s == LoanDamaged || s == LoanLost
}

// Loan records copies of one catalog item lent to one user by one operator.
type Loan struct {
	ID           uuid.UUID
	ItemID       uuid.UUID
	UserID       uuid.UUID
	OperatorID   uuid.UUID
	Quantity     int
	Status       LoanStatus
	CreatedAt    time.Time
	DueAt        time.Time
	ReturnedAt   *time.Time
	Observations string
}

// BuildLoan creates a new active loan.
func BuildLoan(itemID uuid.UUID, userID uuid.UUID, operatorID uuid.UUID, quantity int, createdAt time.Time, dueAt time.Time) Loan {
	return Loan{
		ID:         uuid.New(),
		ItemID:     itemID,
		UserID:     userID,
		OperatorID: operatorID,
		Quantity:   quantity,
		Status:     LoanActive,
		CreatedAt:  createdAt,
		DueAt:      dueAt,
	}
}

// IsActive reports whether the loan is still open.
func (l Loan) IsActive() bool {
	return l.Status == LoanActive
}

// DaysLate returns the number of whole days the loan is past due at the given
// instant, zero if it is not overdue.
func (l Loan) DaysLate(now time.Time) int {
	if !now.After(l.DueAt) {
		return 0
	}

	return int(now.Sub(l.DueAt) / (24 * time.Hour))
}
