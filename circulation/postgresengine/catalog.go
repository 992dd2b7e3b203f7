package postgresengine

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
	"github.com/libcirc/circulation-engine-go/circulation/postgresengine/internal/adapters"
)

// CatalogItemByID loads the stock-bearing view of one catalog item.
func (s *Store) CatalogItemByID(ctx context.Context, id uuid.UUID) (circulation.CatalogItem, error) {
	query, _, err := dialect.
		From(s.tables.catalogItems).
		Select(colItemID, colISBN, colTitle, colAuthorID, colCategoryID,
			colTotalCopies, colAvailableCopies, colActive, colVersion).
		Where(goqu.C(colItemID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return circulation.CatalogItem{}, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	rows, err := s.query(ctx, query)
	if err != nil {
		return circulation.CatalogItem{}, err
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return circulation.CatalogItem{}, circulation.ErrNotFound
	}

	return scanCatalogItem(rows)
}

// UserByID loads the engine's read-only view of one account.
func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (circulation.User, error) {
	query, _, err := dialect.
		From(s.tables.users).
		Select(colUserID, colFullName, colEmail, colRole, colActive, colValidated).
		Where(goqu.C(colUserID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return circulation.User{}, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	rows, err := s.query(ctx, query)
	if err != nil {
		return circulation.User{}, err
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return circulation.User{}, circulation.ErrNotFound
	}

	var user circulation.User
	var role string

	if err = rows.Scan(&user.ID, &user.FullName, &user.Email, &role, &user.Active, &user.Validated); err != nil {
		return circulation.User{}, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	user.Role = circulation.Role(role)

	return user, nil
}

// buildStockUpdateQuery renders the optimistic stock write: the counters the
// caller computed are persisted only while the item still carries the version
// it was read at, and the version moves on.
func (s *Store) buildStockUpdateQuery(item circulation.CatalogItem) (string, error) {
	query, _, err := dialect.
		Update(s.tables.catalogItems).
		Set(goqu.Record{
			colTotalCopies:     item.TotalCopies,
			colAvailableCopies: item.AvailableCopies,
			colVersion:         item.Version + 1,
		}).
		Where(
			goqu.C(colItemID).Eq(item.ID.String()),
			goqu.C(colVersion).Eq(item.Version),
		).
		ToSQL()
	if err != nil {
		return "", errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return query, nil
}

// applyStockUpdate runs the guarded stock write inside tx and maps a lost
// version race to circulation.ErrConcurrencyConflict.
func (s *Store) applyStockUpdate(ctx context.Context, tx adapters.DBTx, item circulation.CatalogItem) error {
	query, err := s.buildStockUpdateQuery(item)
	if err != nil {
		return err
	}

	affected, err := s.exec(ctx, tx, query)
	if err != nil {
		return err
	}

	if affected == 0 {
		return circulation.ErrConcurrencyConflict
	}

	return nil
}

func scanCatalogItem(rows adapters.DBRows) (circulation.CatalogItem, error) {
	var item circulation.CatalogItem

	err := rows.Scan(&item.ID, &item.ISBN, &item.Title, &item.AuthorID, &item.CategoryID,
		&item.TotalCopies, &item.AvailableCopies, &item.Active, &item.Version)
	if err != nil {
		return circulation.CatalogItem{}, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return item, nil
}
