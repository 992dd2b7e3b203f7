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

// LoanByID loads one loan.
func (s *Store) LoanByID(ctx context.Context, id uuid.UUID) (circulation.Loan, error) {
	query, _, err := s.selectLoans().
		Where(goqu.C(colLoanID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return circulation.Loan{}, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	rows, err := s.query(ctx, query)
	if err != nil {
		return circulation.Loan{}, err
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return circulation.Loan{}, circulation.ErrNotFound
	}

	return scanLoan(rows)
}

// ActiveLoanCountFor counts the open loans of one user.
func (s *Store) ActiveLoanCountFor(ctx context.Context, userID uuid.UUID) (int, error) {
	query, _, err := dialect.
		From(s.tables.loans).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.C(colUserID).Eq(userID.String()),
			goqu.C(colStatus).Eq(string(circulation.LoanActive)),
		).
		ToSQL()
	if err != nil {
		return 0, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.queryCount(ctx, query)
}

// HasActiveLoan reports whether the user already holds an open loan of the item.
func (s *Store) HasActiveLoan(ctx context.Context, userID uuid.UUID, itemID uuid.UUID) (bool, error) {
	query, _, err := dialect.
		From(s.tables.loans).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.C(colUserID).Eq(userID.String()),
			goqu.C(colItemID).Eq(itemID.String()),
			goqu.C(colStatus).Eq(string(circulation.LoanActive)),
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

// LoansFor lists the loans of one user, newest first.
func (s *Store) LoansFor(ctx context.Context, userID uuid.UUID) ([]circulation.Loan, error) {
	query, _, err := s.selectLoans().
		Where(goqu.C(colUserID).Eq(userID.String())).
		Order(goqu.C(colCreatedAt).Desc()).
		ToSQL()
	if err != nil {
		return nil, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.queryLoans(ctx, query)
}

// LoansForItem lists the loans referencing one catalog item, newest first.
func (s *Store) LoansForItem(ctx context.Context, itemID uuid.UUID) ([]circulation.Loan, error) {
	query, _, err := s.selectLoans().
		Where(goqu.C(colItemID).Eq(itemID.String())).
		Order(goqu.C(colCreatedAt).Desc()).
		ToSQL()
	if err != nil {
		return nil, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.queryLoans(ctx, query)
}

// buildLoanInsertQuery renders the guarded loan insert: the row lands only
// while the borrower's active-loan count is still below maxActive, so two
// concurrent creates for the same user cannot both take the last slot.
func (s *Store) buildLoanInsertQuery(loan circulation.Loan, maxActive int) (string, error) {
	activeCount := dialect.
		From(s.tables.loans).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.C(colUserID).Eq(loan.UserID.String()),
			goqu.C(colStatus).Eq(string(circulation.LoanActive)),
		)

	query, _, err := dialect.
		Insert(s.tables.loans).
		Cols(colLoanID, colItemID, colUserID, colOperatorID, colQuantity,
			colStatus, colCreatedAt, colDueAt, colReturnedAt, colObservations).
		FromQuery(dialect.
			Select(
				goqu.V(loan.ID.String()),
				goqu.V(loan.ItemID.String()),
				goqu.V(loan.UserID.String()),
				goqu.V(loan.OperatorID.String()),
				goqu.V(loan.Quantity),
				goqu.V(string(loan.Status)),
				goqu.V(loan.CreatedAt),
				goqu.V(loan.DueAt),
				goqu.V(nullableTime(loan.ReturnedAt)),
				goqu.V(loan.Observations),
			).
			Where(goqu.L("(?) < ?", activeCount, maxActive))).
		ToSQL()
	if err != nil {
		return "", errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return query, nil
}

// InsertLoanCommittingStock persists the debited stock counters under the
// item's version check and inserts the loan, guarded by the borrower's
// active-loan count staying below maxActive, in one transaction. A lost
// version race or a lost limit slot rolls everything back and surfaces
// circulation.ErrConcurrencyConflict.
func (s *Store) InsertLoanCommittingStock(ctx context.Context, loan circulation.Loan, item circulation.CatalogItem, maxActive int) error {
	insertQuery, err := s.buildLoanInsertQuery(loan, maxActive)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx adapters.DBTx) error {
		if txErr := s.applyStockUpdate(ctx, tx, item); txErr != nil {
			return txErr
		}

		affected, txErr := s.exec(ctx, tx, insertQuery)
		if txErr != nil {
			return txErr
		}

		if affected == 0 {
			return circulation.ErrConcurrencyConflict
		}

		return nil
	})
}

// CloseLoanRestoringStock transitions the loan out of active, persists the
// credited stock counters and inserts the sanctions the close has earned, in
// one transaction. The loan update is guarded by status = active, so closing
// an already closed loan surfaces circulation.ErrLoanNotActive and inserts
// nothing; the stock update is guarded by the item's version.
func (s *Store) CloseLoanRestoringStock(ctx context.Context, loan circulation.Loan, item circulation.CatalogItem, sanctions []circulation.Sanction) error {
	closeQuery, _, err := dialect.
		Update(s.tables.loans).
		Set(goqu.Record{
			colStatus:       string(loan.Status),
			colReturnedAt:   nullableTime(loan.ReturnedAt),
			colObservations: loan.Observations,
		}).
		Where(
			goqu.C(colLoanID).Eq(loan.ID.String()),
			goqu.C(colStatus).Eq(string(circulation.LoanActive)),
		).
		ToSQL()
	if err != nil {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	sanctionQueries := make([]string, 0, len(sanctions))
	for _, sanction := range sanctions {
		sanctionQuery, buildErr := s.buildSanctionInsertQuery(sanction)
		if buildErr != nil {
			return buildErr
		}

		sanctionQueries = append(sanctionQueries, sanctionQuery)
	}

	return s.withTx(ctx, func(tx adapters.DBTx) error {
		affected, txErr := s.exec(ctx, tx, closeQuery)
		if txErr != nil {
			return txErr
		}

		if affected == 0 {
			return circulation.ErrLoanNotActive
		}

		if txErr := s.applyStockUpdate(ctx, tx, item); txErr != nil {
			return txErr
		}

		for _, sanctionQuery := range sanctionQueries {
			if _, txErr := s.exec(ctx, tx, sanctionQuery); txErr != nil {
				return txErr
			}
		}

		return nil
	})
}

// ActiveLoansDueWithin lists open loans whose due instant lies in (from, until].
func (s *Store) ActiveLoansDueWithin(ctx context.Context, from time.Time, until time.Time) ([]circulation.Loan, error) {
	query, _, err := s.selectLoans().
		Where(
			goqu.C(colStatus).Eq(string(circulation.LoanActive)),
			goqu.C(colDueAt).Gt(from),
			goqu.C(colDueAt).Lte(until),
		).
		Order(goqu.C(colDueAt).Asc()).
		ToSQL()
	if err != nil {
		return nil, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.queryLoans(ctx, query)
}

// ActiveLoansOverdue lists open loans already past due at the given instant.
func (s *Store) ActiveLoansOverdue(ctx context.Context, asOf time.Time) ([]circulation.Loan, error) {
	query, _, err := s.selectLoans().
		Where(
			goqu.C(colStatus).Eq(string(circulation.LoanActive)),
			goqu.C(colDueAt).Lt(asOf),
		).
		Order(goqu.C(colDueAt).Asc()).
		ToSQL()
	if err != nil {
		return nil, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return s.queryLoans(ctx, query)
}

func (s *Store) selectLoans() *goqu.SelectDataset {
	return dialect.
		From(s.tables.loans).
		Select(colLoanID, colItemID, colUserID, colOperatorID, colQuantity,
			colStatus, colCreatedAt, colDueAt, colReturnedAt, colObservations)
}

func (s *Store) queryLoans(ctx context.Context, query string) ([]circulation.Loan, error) {
	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows)

	var loans []circulation.Loan

	for rows.Next() {
		loan, scanErr := scanLoan(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		loans = append(loans, loan)
	}

	return loans, nil
}

func scanLoan(rows adapters.DBRows) (circulation.Loan, error) {
	var loan circulation.Loan
	var status string
	var returnedAt sql.NullTime

	err := rows.Scan(&loan.ID, &loan.ItemID, &loan.UserID, &loan.OperatorID, &loan.Quantity,
		&status, &loan.CreatedAt, &loan.DueAt, &returnedAt, &loan.Observations)
	if err != nil {
		return circulation.Loan{}, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	loan.Status = circulation.LoanStatus(status)

	if returnedAt.Valid {
		t := returnedAt.Time
		loan.ReturnedAt = &t
	}

	return loan, nil
}

// nullableTime renders a *time.Time as a value or SQL NULL.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return *t
}
