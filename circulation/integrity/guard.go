// Package integrity implements referential-delete protection. Catalog items
// and users with circulation links are never deleted on the default path, even
// when the links are pure history, so the ledger stays auditable. The rare
// legitimate purge goes through the explicit cascading operations, which are
// privileged actions authorized outside this engine.
package integrity

import (
	"context"

	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
)

// Storage is the narrow persistence interface the guard consumes.
type Storage interface {
	CatalogItemByID(ctx context.Context, id uuid.UUID) (circulation.CatalogItem, error)
	UserByID(ctx context.Context, id uuid.UUID) (circulation.User, error)

	// ItemHasReferences reports whether any loan or reservation row, in any
	// status, references the item.
	ItemHasReferences(ctx context.Context, itemID uuid.UUID) (bool, error)

	// UserHasReferences reports whether any loan, reservation or sanction row,
	// in any status, references the user as borrower or operator.
	UserHasReferences(ctx context.Context, userID uuid.UUID) (bool, error)

	// OperatesForOthers reports whether the user is recorded as operator on
	// loans belonging to other users.
	OperatesForOthers(ctx context.Context, userID uuid.UUID) (bool, error)

	DeleteCatalogItem(ctx context.Context, id uuid.UUID) error

	// DeleteCatalogItemCascade removes the item with its loans and
	// reservations in one transaction, detaching sanction references so the
	// sanction history survives the purge.
	DeleteCatalogItemCascade(ctx context.Context, id uuid.UUID) error

	DeleteUser(ctx context.Context, id uuid.UUID) error

	// DeleteUserCascade removes the user with their loans, reservations and
	// sanctions in one transaction.
	DeleteUserCascade(ctx context.Context, id uuid.UUID) error
}

// Guard is consulted before any deletion of a referenced entity.
type Guard struct {
	store Storage
}

// NewGuard creates an integrity guard.
func NewGuard(store Storage) *Guard {
	return &Guard{store: store}
}

// CanDeleteCatalogItem reports whether the item can be deleted on the default
// path: only when no loan or reservation references it at all.
func (g *Guard) CanDeleteCatalogItem(ctx context.Context, itemID uuid.UUID) (bool, error) {
	referenced, err := g.store.ItemHasReferences(ctx, itemID)
	if err != nil {
		return false, err
	}

	return !referenced, nil
}

// DeleteCatalogItem deletes an unreferenced item. Fails with
// ErrDeleteBlockedByReferences while any loan or reservation row exists.
func (g *Guard) DeleteCatalogItem(ctx context.Context, itemID uuid.UUID) error {
	if _, err := g.store.CatalogItemByID(ctx, itemID); err != nil {
		return err
	}

	ok, err := g.CanDeleteCatalogItem(ctx, itemID)
	if err != nil {
		return err
	}
	if !ok {
		return circulation.ErrDeleteBlockedByReferences
	}

	return g.store.DeleteCatalogItem(ctx, itemID)
}

// DeleteCatalogItemAndHistory is the privileged purge: it removes the item
// together with its loan and reservation history. Sanctions survive with
// their loan reference detached.
func (g *Guard) DeleteCatalogItemAndHistory(ctx context.Context, itemID uuid.UUID) error {
	if _, err := g.store.CatalogItemByID(ctx, itemID); err != nil {
		return err
	}

	return g.store.DeleteCatalogItemCascade(ctx, itemID)
}

// CanDeleteUser reports whether the user can be deleted on the default path:
// only when no loan, reservation or sanction references them.
func (g *Guard) CanDeleteUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	referenced, err := g.store.UserHasReferences(ctx, userID)
	if err != nil {
		return false, err
	}

	return !referenced, nil
}

// DeleteUser deletes an unreferenced user. Fails with
// ErrDeleteBlockedByReferences while any circulation row references them.
func (g *Guard) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := g.store.UserByID(ctx, userID); err != nil {
		return err
	}

	ok, err := g.CanDeleteUser(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return circulation.ErrDeleteBlockedByReferences
	}

	return g.store.DeleteUser(ctx, userID)
}

// DeleteUserAndHistory is the privileged purge for a user. Loans the user
// operated for other borrowers still block it: that history belongs to the
// other borrowers' ledgers.
func (g *Guard) DeleteUserAndHistory(ctx context.Context, userID uuid.UUID) error {
	if _, err := g.store.UserByID(ctx, userID); err != nil {
		return err
	}

	operates, err := g.store.OperatesForOthers(ctx, userID)
	if err != nil {
		return err
	}
	if operates {
		return circulation.ErrDeleteBlockedByReferences
	}

	return g.store.DeleteUserCascade(ctx, userID)
}
