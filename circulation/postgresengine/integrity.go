package postgresengine

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
	"github.com/libcirc/circulation-engine-go/circulation/postgresengine/internal/adapters"
)

// ItemHasReferences reports whether any loan or reservation row, in any
// status, references the item.
func (s *Store) ItemHasReferences(ctx context.Context, itemID uuid.UUID) (bool, error) {
	loanQuery, _, err := dialect.
		From(s.tables.loans).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C(colItemID).Eq(itemID.String())).
		ToSQL()
	if err != nil {
		return false, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	loanCount, err := s.queryCount(ctx, loanQuery)
	if err != nil {
		return false, err
	}

	if loanCount > 0 {
		return true, nil
	}

	reservationQuery, _, err := dialect.
		From(s.tables.reservations).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C(colItemID).Eq(itemID.String())).
		ToSQL()
	if err != nil {
		return false, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	reservationCount, err := s.queryCount(ctx, reservationQuery)
	if err != nil {
		return false, err
	}

	return reservationCount > 0, nil
}

// UserHasReferences reports whether any loan, reservation or sanction row
// references the user as borrower or operator.
func (s *Store) UserHasReferences(ctx context.Context, userID uuid.UUID) (bool, error) {
	loanQuery, _, err := dialect.
		From(s.tables.loans).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.Or(
			goqu.C(colUserID).Eq(userID.String()),
			goqu.C(colOperatorID).Eq(userID.String()),
		)).
		ToSQL()
	if err != nil {
		return false, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	loanCount, err := s.queryCount(ctx, loanQuery)
	if err != nil {
		return false, err
	}

	if loanCount > 0 {
		return true, nil
	}

	for _, table := range []string{s.tables.reservations, s.tables.sanctions} {
		query, _, buildErr := dialect.
			From(table).
			Select(goqu.COUNT(goqu.Star())).
			Where(goqu.C(colUserID).Eq(userID.String())).
			ToSQL()
		if buildErr != nil {
			return false, errors.Join(circulation.ErrStorageUnavailable, buildErr)
		}

		count, countErr := s.queryCount(ctx, query)
		if countErr != nil {
			return false, countErr
		}

		if count > 0 {
			return true, nil
		}
	}

	return false, nil
}

// OperatesForOthers reports whether the user is operator on loans belonging
// to other borrowers.
func (s *Store) OperatesForOthers(ctx context.Context, userID uuid.UUID) (bool, error) {
	query, _, err := dialect.
		From(s.tables.loans).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.C(colOperatorID).Eq(userID.String()),
			goqu.C(colUserID).Neq(userID.String()),
		).
		ToSQL()
	if err != nil {
		return false, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	count, err := s.queryCount(ctx, query)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// DeleteCatalogItem removes an item row. Callers must have consulted the
// guard first.
func (s *Store) DeleteCatalogItem(ctx context.Context, id uuid.UUID) error {
	query, _, err := dialect.
		Delete(s.tables.catalogItems).
		Where(goqu.C(colItemID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	affected, err := s.exec(ctx, s.db, query)
	if err != nil {
		return err
	}

	if affected == 0 {
		return circulation.ErrNotFound
	}

	return nil
}

// DeleteCatalogItemCascade removes the item with its loans and reservations
// in one transaction, detaching sanction references first so the sanction
// history survives the purge.
func (s *Store) DeleteCatalogItemCascade(ctx context.Context, id uuid.UUID) error {
	detachQuery, _, err := dialect.
		Update(s.tables.sanctions).
		Set(goqu.Record{colLoanID: nil}).
		Where(goqu.C(colLoanID).In(
			dialect.
				From(s.tables.loans).
				Select(colLoanID).
				Where(goqu.C(colItemID).Eq(id.String())),
		)).
		ToSQL()
	if err != nil {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	deleteReservationsQuery, _, err := dialect.
		Delete(s.tables.reservations).
		Where(goqu.C(colItemID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	deleteLoansQuery, _, err := dialect.
		Delete(s.tables.loans).
		Where(goqu.C(colItemID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	deleteItemQuery, _, err := dialect.
		Delete(s.tables.catalogItems).
		Where(goqu.C(colItemID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.withTx(ctx, func(tx adapters.DBTx) error {
		for _, statement := range []string{detachQuery, deleteReservationsQuery, deleteLoansQuery} {
			if _, txErr := s.exec(ctx, tx, statement); txErr != nil {
				return txErr
			}
		}

		affected, txErr := s.exec(ctx, tx, deleteItemQuery)
		if txErr != nil {
			return txErr
		}

		if affected == 0 {
			return circulation.ErrNotFound
		}

		return nil
	})
}

// DeleteUser removes a user row. Callers must have consulted the guard first.
func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	query, _, err := dialect.
		Delete(s.tables.users).
		Where(goqu.C(colUserID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	affected, err := s.exec(ctx, s.db, query)
	if err != nil {
		return err
	}

	if affected == 0 {
		return circulation.ErrNotFound
	}

	return nil
}

// DeleteUserCascade removes the user with their loans, reservations and
// sanctions in one transaction.
func (s *Store) DeleteUserCascade(ctx context.Context, id uuid.UUID) error {
	statements := make([]string, 0, 3)

	for _, table := range []string{s.tables.sanctions, s.tables.reservations, s.tables.loans} {
		query, _, err := dialect.
			Delete(table).
			Where(goqu.C(colUserID).Eq(id.String())).
			ToSQL()
		if err != nil {
			return errors.Join(circulation.ErrStorageUnavailable, err)
		}

		statements = append(statements, query)
	}

	deleteUserQuery, _, err := dialect.
		Delete(s.tables.users).
		Where(goqu.C(colUserID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.withTx(ctx, func(tx adapters.DBTx) error {
		for _, statement := range statements {
			if _, txErr := s.exec(ctx, tx, statement); txErr != nil {
				return txErr
			}
		}

		affected, txErr := s.exec(ctx, tx, deleteUserQuery)
		if txErr != nil {
			return txErr
		}

		if affected == 0 {
			return circulation.ErrNotFound
		}

		return nil
	})
}
