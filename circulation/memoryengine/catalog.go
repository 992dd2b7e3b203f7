package memoryengine

import (
	"context"

	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
)

// CatalogItemByID returns an active catalog item or ErrNotFound.
func (s *Store) CatalogItemByID(_ context.Context, id uuid.UUID) (circulation.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok || !item.Active {
		return circulation.CatalogItem{}, circulation.ErrNotFound
	}

	return item, nil
}

// UserByID returns a user or ErrNotFound.
func (s *Store) UserByID(_ context.Context, id uuid.UUID) (circulation.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return circulation.User{}, circulation.ErrNotFound
	}

	return user, nil
}

// persistItemLocked stores the updated counters if the stored version still
// matches, emulating the Postgres version-guarded UPDATE. Callers hold mu.
func (s *Store) persistItemLocked(item circulation.CatalogItem) error {
	current, ok := s.items[item.ID]
	if !ok {
		return circulation.ErrNotFound
	}

	if current.Version != item.Version {
		return circulation.ErrConcurrencyConflict
	}

	item.Version++
	s.items[item.ID] = item

	return nil
}
