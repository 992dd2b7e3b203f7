package postgresengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
	"github.com/libcirc/circulation-engine-go/circulation/postgresengine/internal/adapters"
)

// ReservationByID loads one reservation.
func (s *Store) ReservationByID(ctx context.Context, id uuid.UUID) (circulation.Reservation, error) {
	query, _, err := s.selectReservations().
		Where(goqu.C(colReservationID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return circulation.Reservation{}, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	rows, err := s.query(ctx, query)
	if err != nil {
		return circulation.Reservation{}, err
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return circulation.Reservation{}, circulation.ErrNotFound
	}

	return scanReservation(rows)
}

// ReservationHoldsFor counts the reservations of one item in the given statuses.
func (s *Store) ReservationHoldsFor(ctx context.Context, itemID uuid.UUID, statuses ...circulation.ReservationStatus) (int, error) {
	query, _, err := dialect.
		From(s.tables.reservations).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.C(colItemID).Eq(itemID.String()),
			goqu.C(colStatus).In(statusStrings(statuses)),
		).
		ToSQL()
	if err != nil {
		return 0, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.queryCount(ctx, query)
}

// HasPendingReservation reports whether the user already holds a pending
// reservation of the item.
func (s *Store) HasPendingReservation(ctx context.Context, userID uuid.UUID, itemID uuid.UUID) (bool, error) {
	query, _, err := dialect.
		From(s.tables.reservations).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.C(colUserID).Eq(userID.String()),
			goqu.C(colItemID).Eq(itemID.String()),
			goqu.C(colStatus).Eq(string(circulation.ReservationPending)),
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

// ReservationsFor lists the reservations of one user, newest first.
func (s *Store) ReservationsFor(ctx context.Context, userID uuid.UUID) ([]circulation.Reservation, error) {
	query, _, err := s.selectReservations().
		Where(goqu.C(colUserID).Eq(userID.String())).
		Order(goqu.C(colCreatedAt).Desc()).
		ToSQL()
	if err != nil {
		return nil, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.queryReservations(ctx, query)
}

// ReservationsForItem lists the reservations of one catalog item, newest first.
func (s *Store) ReservationsForItem(ctx context.Context, itemID uuid.UUID) ([]circulation.Reservation, error) {
	query, _, err := s.selectReservations().
		Where(goqu.C(colItemID).Eq(itemID.String())).
		Order(goqu.C(colCreatedAt).Desc()).
		ToSQL()
	if err != nil {
		return nil, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.queryReservations(ctx, query)
}

// InsertReservationClaimingQuota inserts the reservation through a conditional
// INSERT ... SELECT: the row lands only while the quota check and the
// no-duplicate check still hold at write time. Two concurrent requests for the
// last quota slot resolve to one insert and one
// circulation.ErrConcurrencyConflict.
func (s *Store) InsertReservationClaimingQuota(ctx context.Context, reservation circulation.Reservation, countFulfilled bool) error {
	heldStatuses := []string{string(circulation.ReservationPending)}
	if countFulfilled {
		heldStatuses = append(heldStatuses, string(circulation.ReservationFulfilled))
	}

	availableSub := dialect.
		From(s.tables.catalogItems).
		Select(colAvailableCopies).
		Where(goqu.C(colItemID).Eq(reservation.ItemID.String()))

	holdsSub := dialect.
		From(s.tables.reservations).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.C(colItemID).Eq(reservation.ItemID.String()),
			goqu.C(colStatus).In(heldStatuses),
		)

	duplicateSub := dialect.
		From(s.tables.reservations).
		Select(goqu.L("1")).
		Where(
			goqu.C(colUserID).Eq(reservation.UserID.String()),
			goqu.C(colItemID).Eq(reservation.ItemID.String()),
			goqu.C(colStatus).Eq(string(circulation.ReservationPending)),
		)

	query, _, err := dialect.
		Insert(s.tables.reservations).
		Cols(colReservationID, colItemID, colUserID, colStatus, colCreatedAt, colExpiresAt).
		FromQuery(
			dialect.
				Select(
					goqu.V(reservation.ID.String()),
					goqu.V(reservation.ItemID.String()),
					goqu.V(reservation.UserID.String()),
					goqu.V(string(reservation.Status)),
					goqu.V(reservation.CreatedAt),
					goqu.V(reservation.ExpiresAt),
				).
				Where(
					goqu.L("(?) - (?) > 0", availableSub, holdsSub),
					goqu.L("NOT EXISTS (?)", duplicateSub),
				),
		).
		ToSQL()
	if err != nil {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	affected, err := s.exec(ctx, s.db, query)
	if err != nil {
		return err
	}

	if affected == 0 {
		return circulation.ErrConcurrencyConflict
	}

	return nil
}

// TransitionReservation moves a reservation from one status to another,
// guarded by the current status. It reports false without error when the
// reservation is not in the expected status.
func (s *Store) TransitionReservation(ctx context.Context, id uuid.UUID, from circulation.ReservationStatus, to circulation.ReservationStatus) (bool, error) {
	query, _, err := dialect.
		Update(s.tables.reservations).
		Set(goqu.Record{colStatus: string(to)}).
		Where(
			goqu.C(colReservationID).Eq(id.String()),
			goqu.C(colStatus).Eq(string(from)),
		).
		ToSQL()
	if err != nil {
		return false, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	affected, err := s.exec(ctx, s.db, query)
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// ExpirePendingReservations transitions every pending reservation whose
// expiry lies before now to expired, in one statement, and returns how many
// rows it touched. Re-running the sweep is a no-op.
func (s *Store) ExpirePendingReservations(ctx context.Context, now time.Time) (int64, error) {
	query, _, err := dialect.
		Update(s.tables.reservations).
		Set(goqu.Record{colStatus: string(circulation.ReservationExpired)}).
		Where(
			goqu.C(colStatus).Eq(string(circulation.ReservationPending)),
			goqu.C(colExpiresAt).Lt(now),
		).
		ToSQL()
	if err != nil {
		return 0, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.exec(ctx, s.db, query)
}

// PendingReservationsExpiringWithin lists pending reservations whose expiry
// lies in (from, until].
func (s *Store) PendingReservationsExpiringWithin(ctx context.Context, from time.Time, until time.Time) ([]circulation.Reservation, error) {
	query, _, err := s.selectReservations().
		Where(
			goqu.C(colStatus).Eq(string(circulation.ReservationPending)),
			goqu.C(colExpiresAt).Gt(from),
			goqu.C(colExpiresAt).Lte(until),
		).
		Order(goqu.C(colExpiresAt).Asc()).
		ToSQL()
	if err != nil {
		return nil, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.queryReservations(ctx, query)
}

func (s *Store) selectReservations() *goqu.SelectDataset {
	return dialect.
		From(s.tables.reservations).
		Select(colReservationID, colItemID, colUserID, colStatus, colCreatedAt, colExpiresAt)
}

func (s *Store) queryReservations(ctx context.Context, query string) ([]circulation.Reservation, error) {
	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows)

	var reservations []circulation.Reservation

	for rows.Next() {
		reservation, scanErr := scanReservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		reservations = append(reservations, reservation)
	}

	return reservations, nil
}

func scanReservation(rows adapters.DBRows) (circulation.Reservation, error) {
	var reservation circulation.Reservation
	var status string

	err := rows.Scan(&reservation.ID, &reservation.ItemID, &reservation.UserID,
		&status, &reservation.CreatedAt, &reservation.ExpiresAt)
	if err != nil {
		return circulation.Reservation{}, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	reservation.Status = circulation.ReservationStatus(status)

	return reservation, nil
}

func statusStrings(statuses []circulation.ReservationStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}

	return out
}
