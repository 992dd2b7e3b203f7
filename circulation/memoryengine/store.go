// Package memoryengine provides an in-memory storage engine with the same
// transactional guarantees as the Postgres engine: guarded writes under a
// store-wide mutex, optimistic version checks on catalog items, and
// status-guarded transitions. Intended for tests and demos.
package memoryengine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
)

// Store holds every entity in process memory.
type Store struct {
	mu sync.RWMutex

	items         map[uuid.UUID]circulation.CatalogItem
	users         map[uuid.UUID]circulation.User
	loans         map[uuid.UUID]circulation.Loan
	reservations  map[uuid.UUID]circulation.Reservation
	sanctions     map[uuid.UUID]circulation.Sanction
	notifications map[notificationKey]circulation.NotificationEntry

	// insertion order for stable listings
	loanOrder        []uuid.UUID
	reservationOrder []uuid.UUID
	sanctionOrder    []uuid.UUID
}

type notificationKey struct {
	userID uuid.UUID
	kind   circulation.EventKind
	day    string
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		items:         make(map[uuid.UUID]circulation.CatalogItem),
		users:         make(map[uuid.UUID]circulation.User),
		loans:         make(map[uuid.UUID]circulation.Loan),
		reservations:  make(map[uuid.UUID]circulation.Reservation),
		sanctions:     make(map[uuid.UUID]circulation.Sanction),
		notifications: make(map[notificationKey]circulation.NotificationEntry),
	}
}

// PutCatalogItem inserts or replaces a catalog item. Seeding helper.
func (s *Store) PutCatalogItem(item circulation.CatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ID] = item
}

// PutUser inserts or replaces a user. Seeding helper.
func (s *Store) PutUser(user circulation.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = user
}
