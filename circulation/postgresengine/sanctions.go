package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
	"github.com/libcirc/circulation-engine-go/circulation/postgresengine/internal/adapters"
)

// SanctionByID loads one sanction.
func (s *Store) SanctionByID(ctx context.Context, id uuid.UUID) (circulation.Sanction, error) {
	query, _, err := s.selectSanctions().
		Where(goqu.C(colSanctionID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return circulation.Sanction{}, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	rows, err := s.query(ctx, query)
	if err != nil {
		return circulation.Sanction{}, err
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return circulation.Sanction{}, circulation.ErrNotFound
	}

	return scanSanction(rows)
}

func (s *Store) buildSanctionInsertQuery(sanction circulation.Sanction) (string, error) {
	query, _, err := dialect.
		Insert(s.tables.sanctions).
		Rows(goqu.Record{
			colSanctionID: sanction.ID.String(),
			colUserID:     sanction.UserID.String(),
			colLoanID:     nullableUUID(sanction.LoanID),
			colDays:       sanction.Days,
			colAmount:     sanction.Amount.String(),
			colReason:     sanction.Reason,
			colStatus:     string(sanction.Status),
			colCreatedAt:  sanction.CreatedAt,
			colEndsAt:     nullableInstant(sanction.EndsAt),
		}).
		ToSQL()
	if err != nil {
		return "", errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return query, nil
}

// InsertSanction appends one sanction row.
func (s *Store) InsertSanction(ctx context.Context, sanction circulation.Sanction) error {
	query, err := s.buildSanctionInsertQuery(sanction)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, s.db, query)

	return err
}

// CondoneSanction transitions a sanction from active to condoned with the
// given end instant. It reports false without error when the sanction is
// already terminal, so replays stay no-ops.
func (s *Store) CondoneSanction(ctx context.Context, id uuid.UUID, endsAt time.Time) (bool, error) {
	query, _, err := dialect.
		Update(s.tables.sanctions).
		Set(goqu.Record{
			colStatus: string(circulation.SanctionCondoned),
			colEndsAt: endsAt,
		}).
		Where(
			goqu.C(colSanctionID).Eq(id.String()),
			goqu.C(colStatus).Eq(string(circulation.SanctionActive)),
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

// ActiveSanctionsFor lists the active sanctions of one user, newest first.
func (s *Store) ActiveSanctionsFor(ctx context.Context, userID uuid.UUID) ([]circulation.Sanction, error) {
	query, _, err := s.selectSanctions().
		Where(
			goqu.C(colUserID).Eq(userID.String()),
			goqu.C(colStatus).Eq(string(circulation.SanctionActive)),
		).
		Order(goqu.C(colCreatedAt).Desc()).
		ToSQL()
	if err != nil {
		return nil, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.querySanctions(ctx, query)
}

// ExpireLapsedSanctions transitions active sanctions whose end date lies
// before now to expired. Indefinite sanctions (NULL end date) never lapse.
// A single guarded statement, so re-running and concurrent runs stay no-ops.
func (s *Store) ExpireLapsedSanctions(ctx context.Context, now time.Time) (int64, error) {
	query, _, err := dialect.
		Update(s.tables.sanctions).
		Set(goqu.Record{colStatus: string(circulation.SanctionExpired)}).
		Where(
			goqu.C(colStatus).Eq(string(circulation.SanctionActive)),
			goqu.C(colEndsAt).IsNotNull(),
			goqu.C(colEndsAt).Lt(now),
		).
		ToSQL()
	if err != nil {
		return 0, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.exec(ctx, s.db, query)
}

// SanctionsFor lists the full sanction history of one user, newest first.
func (s *Store) SanctionsFor(ctx context.Context, userID uuid.UUID) ([]circulation.Sanction, error) {
	query, _, err := s.selectSanctions().
		Where(goqu.C(colUserID).Eq(userID.String())).
		Order(goqu.C(colCreatedAt).Desc()).
		ToSQL()
	if err != nil {
		return nil, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.querySanctions(ctx, query)
}

func (s *Store) selectSanctions() *goqu.SelectDataset {
	return dialect.
		From(s.tables.sanctions).
		Select(colSanctionID, colUserID, colLoanID, colDays, colAmount,
			colReason, colStatus, colCreatedAt, colEndsAt)
}

func (s *Store) querySanctions(ctx context.Context, query string) ([]circulation.Sanction, error) {
	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows)

	var sanctions []circulation.Sanction

	for rows.Next() {
		sanction, scanErr := scanSanction(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		sanctions = append(sanctions, sanction)
	}

	return sanctions, nil
}

func scanSanction(rows adapters.DBRows) (circulation.Sanction, error) {
	var sanction circulation.Sanction
	var status string
	var endsAt sql.NullTime

	err := rows.Scan(&sanction.ID, &sanction.UserID, &sanction.LoanID, &sanction.Days,
		&sanction.Amount, &sanction.Reason, &status, &sanction.CreatedAt, &endsAt)
	if err != nil {
		return circulation.Sanction{}, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	sanction.Status = circulation.SanctionStatus(status)

	if endsAt.Valid {
		sanction.EndsAt = endsAt.Time
	}

	return sanction, nil
}

// nullableUUID renders a uuid.NullUUID as a value or SQL NULL.
func nullableUUID(id uuid.NullUUID) any {
	if !id.Valid {
		return nil
	}

	return id.UUID.String()
}

// nullableInstant renders a zero time.Time as SQL NULL; the sanction rows use
// the zero value for "indefinite".
func nullableInstant(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t
}
