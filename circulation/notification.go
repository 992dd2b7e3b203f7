package circulation

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies an alert condition the scanner can notify about.
type EventKind string

const (
	LoanDueSoon         EventKind = "loan_due_soon"
	LoanOverdue         EventKind = "loan_overdue"
	ReservationExpiring EventKind = "reservation_expiring"
)

// NotificationEntry is one row of the append-only notification log. The key
// (user, event kind, civil date) enforces at-most-once-per-day on the dedup
// side; it is a durable log, not an in-memory flag, so it survives process
// restarts and concurrent schedulers.
type NotificationEntry struct {
	UserID uuid.UUID
	Kind   EventKind
	Day    string // civil date, formatted 2006-01-02 in the configured zone
	SentAt time.Time
}

// DayKey formats an instant as the civil-date component of the dedup key.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	return t.In(loc).Format("2006-01-02")
}
