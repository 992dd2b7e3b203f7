package circulation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SanctionStatus is the lifecycle state of a sanction. Condoning and expiry are
// terminal transitions, never deletions.
type SanctionStatus string

const (
	SanctionActive   SanctionStatus = "active"
	SanctionCondoned SanctionStatus = "condoned"
	SanctionExpired  SanctionStatus = "expired"
)

// Sanction is a time-bounded penalty blocking a user from new loans and
// reservations. EndsAt is zero for indefinite sanctions.
type Sanction struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	LoanID    uuid.NullUUID
	Days      int
	Amount    decimal.Decimal
	Reason    string
	Status    SanctionStatus
	CreatedAt time.Time
	EndsAt    time.Time
}

// BuildSanction creates a new active sanction. days == 0 makes it indefinite.
func BuildSanction(userID uuid.UUID, loanID uuid.NullUUID, days int, amount decimal.Decimal, reason string, createdAt time.Time) Sanction {
	s := Sanction{
		ID:        uuid.New(),
		UserID:    userID,
		LoanID:    loanID,
		Days:      days,
		Amount:    amount,
		Reason:    reason,
		Status:    SanctionActive,
		CreatedAt: createdAt,
	}

	if days > 0 {
		s.EndsAt = createdAt.Add(time.Duration(days) * 24 * time.Hour)
	}

	return s
}

// IsBlocking reports whether the sanction blocks the user at the given instant:
// it is active and either indefinite or not yet past its end.
func (s Sanction) IsBlocking(now time.Time) bool {
	if s.Status != SanctionActive {
		return false
	}

	return s.EndsAt.IsZero() || s.EndsAt.After(now)
}
