package postgresengine

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
)

// NotificationSentOn reports whether a notification with this exact
// (user, kind, civil date) key is already recorded.
func (s *Store) NotificationSentOn(ctx context.Context, userID uuid.UUID, kind circulation.EventKind, day string) (bool, error) {
	query, _, err := dialect.
		From(s.tables.notifications).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.C(colUserID).Eq(userID.String()),
			goqu.C(colEventKind).Eq(string(kind)),
			goqu.C(colSentOn).Eq(day),
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

// InsertNotification appends one log entry. The primary key covers
// (user, kind, civil date) and the insert carries ON CONFLICT DO NOTHING, so
// concurrent schedulers cannot double-mark.
func (s *Store) InsertNotification(ctx context.Context, entry circulation.NotificationEntry) error {
	query, _, err := dialect.
		Insert(s.tables.notifications).
		Rows(goqu.Record{
			colUserID:    entry.UserID.String(),
			colEventKind: string(entry.Kind),
			colSentOn:    entry.Day,
			colSentAt:    entry.SentAt,
		}).
		OnConflict(goqu.DoNothing()).
		ToSQL()
	if err != nil {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	_, err = s.exec(ctx, s.db, query)

	return err
}
