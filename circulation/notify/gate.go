// Package notify owns the notification side of the consistency contract: the
// dedup gate guarantees at most one notification per user, event kind and day,
// while the scanner produces the due-soon, overdue and expiring facts that the
// external sender consumes through the gate.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
)

// GateStorage is the persistence interface for the notification log.
type GateStorage interface {
	NotificationSentOn(ctx context.Context, userID uuid.UUID, kind circulation.EventKind, day string) (bool, error)

	// InsertNotification appends one log entry. Inserting a key that already
	// exists must be a no-op, so concurrent schedulers cannot double-mark.
	InsertNotification(ctx context.Context, entry circulation.NotificationEntry) error
}

// Gate is the process-wide "already notified today" record. The scanning job
// calls ShouldNotify before sending and MarkNotified only after a successful
// send - a failed send stays unmarked so the next sweep retries it.
type Gate struct {
	store    GateStorage
	location *time.Location
}

// NewGate creates a dedup gate keyed on civil dates in the given zone.
func NewGate(store GateStorage, loc *time.Location) *Gate {
	return &Gate{store: store, location: loc}
}

// ShouldNotify reports whether no notification for this exact
// (user, kind, date) key has been recorded yet.
func (g *Gate) ShouldNotify(ctx context.Context, userID uuid.UUID, kind circulation.EventKind, at time.Time) (bool, error) {
	sent, err := g.store.NotificationSentOn(ctx, userID, kind, circulation.DayKey(at, g.location))
	if err != nil {
		return false, err
	}

	return !sent, nil
}

// MarkNotified records that the notification for this key was sent.
func (g *Gate) MarkNotified(ctx context.Context, userID uuid.UUID, kind circulation.EventKind, at time.Time) error {
	entry := circulation.NotificationEntry{
		UserID: userID,
		Kind:   kind,
		Day:    circulation.DayKey(at, g.location),
		SentAt: at,
	}

	return g.store.InsertNotification(ctx, entry)
}
