package memoryengine

import (
	"context"

	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
)

// NotificationSentOn reports whether a log entry exists for the exact
// (user, kind, day) key.
func (s *Store) NotificationSentOn(_ context.Context, userID uuid.UUID, kind circulation.EventKind, day string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.notifications[notificationKey{userID: userID, kind: kind, day: day}]

	return ok, nil
}

// InsertNotification appends a log entry. Inserting an existing key is a
// no-op so concurrent schedulers cannot double-mark.
func (s *Store) InsertNotification(_ context.Context, entry circulation.NotificationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := notificationKey{userID: entry.UserID, kind: entry.Kind, day: entry.Day}
	if _, ok := s.notifications[key]; ok {
		return nil
	}

	s.notifications[key] = entry

	return nil
}
