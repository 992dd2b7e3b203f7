// Package loans implements the loan manager: creation of loans (directly or
// from a reservation), returns with outcome-driven sanctions, and annulment of
// operator-error loans. Every stock mutation funnels through the stock ledger
// and is persisted under an optimistic version check; conflicting operator
// sessions are resolved by retrying the whole read-decide-persist sequence, so
// callers only ever observe the final business-rule outcome.
package loans

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
	"github.com/libcirc/circulation-engine-go/circulation/stock"
)

// Storage is the narrow persistence interface the loan manager consumes.
// Implementations must make each write method a single short transaction.
type Storage interface {
	CatalogItemByID(ctx context.Context, id uuid.UUID) (circulation.CatalogItem, error)
	UserByID(ctx context.Context, id uuid.UUID) (circulation.User, error)
	LoanByID(ctx context.Context, id uuid.UUID) (circulation.Loan, error)
	ActiveLoanCountFor(ctx context.Context, userID uuid.UUID) (int, error)
	HasActiveLoan(ctx context.Context, userID uuid.UUID, itemID uuid.UUID) (bool, error)
	LoansFor(ctx context.Context, userID uuid.UUID) ([]circulation.Loan, error)
	LoansForItem(ctx context.Context, itemID uuid.UUID) ([]circulation.Loan, error)

	// InsertLoanCommittingStock atomically persists the debited stock counters
	// under the item's version check and inserts the loan. The insert is
	// additionally guarded at write time by the borrower's active-loan count
	// staying below maxActive, so two concurrent creates for the same user on
	// different items cannot both take the last slot. A lost version race or a
	// lost limit slot surfaces circulation.ErrConcurrencyConflict.
	InsertLoanCommittingStock(ctx context.Context, loan circulation.Loan, item circulation.CatalogItem, maxActive int) error

	// CloseLoanRestoringStock atomically transitions the loan out of active
	// (guarded by status = active, so a replay surfaces
	// circulation.ErrLoanNotActive), persists the credited stock counters
	// under the item's version check, and inserts the sanctions the close has
	// earned - all in the same write, so a failed close never loses or
	// duplicates a sanction.
	CloseLoanRestoringStock(ctx context.Context, loan circulation.Loan, item circulation.CatalogItem, sanctions []circulation.Sanction) error
}

// Blocker answers whether a user is blocked by an active sanction.
type Blocker interface {
	IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error)
}

// SanctionAssessor computes the sanctions a closed loan has earned. The
// assessment is pure; persistence happens inside the close write so sanctions
// land atomically with the loan transition.
type SanctionAssessor interface {
	AssessReturn(loan circulation.Loan, outcome circulation.LoanStatus, now time.Time) []circulation.Sanction
}

// Service is the loan manager.
type Service struct {
	store        Storage
	blocker      Blocker
	assessor     SanctionAssessor
	ledger       stock.Ledger
	policy       circulation.Policy
	clock        circulation.Clock
	retryOptions []circulation.RetryOption
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for window checks and timestamps.
func WithClock(clock circulation.Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithRetryOptions sets a custom retry configuration for conflict handling.
func WithRetryOptions(opts ...circulation.RetryOption) Option {
	return func(s *Service) {
		s.retryOptions = opts
	}
}

// NewService creates a loan manager with optional configuration.
func NewService(store Storage, blocker Blocker, assessor SanctionAssessor, policy circulation.Policy, opts ...Option) *Service {
	s := &Service{
		store:    store,
		blocker:  blocker,
		assessor: assessor,
		ledger:   stock.Ledger{LostReducesTotal: policy.LostReducesTotal},
		policy:   policy,
		clock:    circulation.SystemClock(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Create registers a new loan of qty copies of an item to a user, performed by
// an operator. The read-check-write sequence runs under retry so that two
// sessions racing for an item's last copy resolve to exactly one success and
// one ErrInsufficientStock.
func (s *Service) Create(ctx context.Context, itemID uuid.UUID, userID uuid.UUID, operatorID uuid.UUID, qty int) (circulation.Loan, error) {
	if qty <= 0 {
		return circulation.Loan{}, circulation.ErrInvalidQuantity
	}

	var loan circulation.Loan

	err := circulation.RetryWithExponentialBackoff(ctx, func(retryCtx context.Context) error {
		var execErr error
		loan, execErr = s.executeCreate(retryCtx, itemID, userID, operatorID, qty)

		return execErr
	}, s.retryOptions...)

	return loan, mapConflict(err)
}

func (s *Service) executeCreate(ctx context.Context, itemID uuid.UUID, userID uuid.UUID, operatorID uuid.UUID, qty int) (circulation.Loan, error) {
	var none circulation.Loan
	now := s.clock.Now()

	if !s.policy.Window.IsOpen(now) {
		return none, circulation.ErrOutsideBusinessHours
	}

	user, operator, err := s.validateParties(ctx, userID, operatorID)
	if err != nil {
		return none, err
	}

	blocked, err := s.blocker.IsBlocked(ctx, userID)
	if err != nil {
		return none, err
	}
	if blocked {
		return none, circulation.ErrUserBlocked
	}

	rule := s.policy.LoanRuleFor(user.Role)

	activeCount, err := s.store.ActiveLoanCountFor(ctx, userID)
	if err != nil {
		return none, err
	}
	if activeCount >= rule.MaxActive {
		return none, circulation.ErrLoanLimitReached
	}

	duplicate, err := s.store.HasActiveLoan(ctx, userID, itemID)
	if err != nil {
		return none, err
	}
	if duplicate {
		return none, circulation.ErrDuplicateLoan
	}

	item, err := s.store.CatalogItemByID(ctx, itemID)
	if err != nil {
		return none, err
	}

	debited, err := s.ledger.CommitLoan(item, qty)
	if err != nil {
		return none, err
	}

	loan := circulation.BuildLoan(itemID, userID, operator.ID, qty, now, s.policy.DueAt(now, user.Role))

	if err := s.store.InsertLoanCommittingStock(ctx, loan, debited, rule.MaxActive); err != nil {
		return none, err
	}

	return loan, nil
}

// CreateFromReservation converts a reservation into a loan of one copy. The
// quota and duplicate checks are skipped - the reservation already reflects
// that intent - but blocking and stock are re-validated because stock may have
// shrunk since the reservation was made. Insufficient stock is reported as
// ErrStockNoLongerAvailable and leaves the reservation untouched for manual
// resolution.
func (s *Service) CreateFromReservation(ctx context.Context, reservation circulation.Reservation, operatorID uuid.UUID) (circulation.Loan, error) {
	var loan circulation.Loan

	err := circulation.RetryWithExponentialBackoff(ctx, func(retryCtx context.Context) error {
		var execErr error
		loan, execErr = s.executeCreateFromReservation(retryCtx, reservation, operatorID)

		return execErr
	}, s.retryOptions...)

	return loan, mapConflict(err)
}

func (s *Service) executeCreateFromReservation(ctx context.Context, reservation circulation.Reservation, operatorID uuid.UUID) (circulation.Loan, error) {
	var none circulation.Loan
	now := s.clock.Now()

	if !s.policy.Window.IsOpen(now) {
		return none, circulation.ErrOutsideBusinessHours
	}

	user, operator, err := s.validateParties(ctx, reservation.UserID, operatorID)
	if err != nil {
		return none, err
	}

	blocked, err := s.blocker.IsBlocked(ctx, reservation.UserID)
	if err != nil {
		return none, err
	}
	if blocked {
		return none, circulation.ErrUserBlocked
	}

	rule := s.policy.LoanRuleFor(user.Role)

	activeCount, err := s.store.ActiveLoanCountFor(ctx, reservation.UserID)
	if err != nil {
		return none, err
	}
	if activeCount >= rule.MaxActive {
		return none, circulation.ErrLoanLimitReached
	}

	item, err := s.store.CatalogItemByID(ctx, reservation.ItemID)
	if err != nil {
		return none, err
	}

	debited, err := s.ledger.CommitLoan(item, 1)
	if err != nil {
		if errors.Is(err, circulation.ErrInsufficientStock) {
			return none, circulation.ErrStockNoLongerAvailable
		}

		return none, err
	}

	loan := circulation.BuildLoan(reservation.ItemID, reservation.UserID, operator.ID, 1, now, s.policy.DueAt(now, user.Role))

	if err := s.store.InsertLoanCommittingStock(ctx, loan, debited, rule.MaxActive); err != nil {
		return none, err
	}

	return loan, nil
}

// Return closes an active loan with the given outcome and restores exactly the
// quantity committed at creation. A damaged or lost outcome additionally
// raises a sanction per the severity table, and any late return raises an
// overdue sanction; the sanctions land in the same write as the close, so a
// failed close never loses an earned sanction. Returning an already-closed
// loan fails with ErrLoanNotActive instead of double-restoring stock or
// double-sanctioning. Returns are permitted at any time of day.
func (s *Service) Return(ctx context.Context, loanID uuid.UUID, outcome circulation.LoanStatus, observations string) (circulation.Loan, error) {
	if !outcome.IsReturnOutcome() {
		return circulation.Loan{}, circulation.ErrInvalidReturnOutcome
	}

	return s.closeLoan(ctx, loanID, outcome, observations)
}

// Annul undoes an active loan that should never have existed, e.g. operator
// error. Stock is restored through the same path as a return, no sanction is
// created, and the loan ends in the distinct annulled state so history remains
// auditable. Permitted at any time of day.
func (s *Service) Annul(ctx context.Context, loanID uuid.UUID) (circulation.Loan, error) {
	return s.closeLoan(ctx, loanID, circulation.LoanAnnulled, "")
}

func (s *Service) closeLoan(ctx context.Context, loanID uuid.UUID, outcome circulation.LoanStatus, observations string) (circulation.Loan, error) {
	var loan circulation.Loan

	err := circulation.RetryWithExponentialBackoff(ctx, func(retryCtx context.Context) error {
		var execErr error
		loan, execErr = s.executeClose(retryCtx, loanID, outcome, observations)

		return execErr
	}, s.retryOptions...)

	return loan, mapConflict(err)
}

func (s *Service) executeClose(ctx context.Context, loanID uuid.UUID, outcome circulation.LoanStatus, observations string) (circulation.Loan, error) {
	var none circulation.Loan

	loan, err := s.store.LoanByID(ctx, loanID)
	if err != nil {
		return none, err
	}
	if !loan.IsActive() {
		return none, circulation.ErrLoanNotActive
	}

	item, err := s.store.CatalogItemByID(ctx, loan.ItemID)
	if err != nil {
		return none, err
	}

	credited, err := s.ledger.Restore(item, outcome, loan.Quantity)
	if err != nil {
		return none, err
	}

	now := s.clock.Now()

	var sanctions []circulation.Sanction
	if outcome.IsReturnOutcome() {
		sanctions = s.assessor.AssessReturn(loan, outcome, now)
	}

	loan.Status = outcome
	loan.ReturnedAt = &now
	loan.Observations = observations

	if err := s.store.CloseLoanRestoringStock(ctx, loan, credited, sanctions); err != nil {
		return none, err
	}

	return loan, nil
}

// ListByUser returns all loans ever recorded for a user, newest first.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]circulation.Loan, error) {
	return s.store.LoansFor(ctx, userID)
}

// ListByItem returns all loans ever recorded for an item, newest first.
func (s *Service) ListByItem(ctx context.Context, itemID uuid.UUID) ([]circulation.Loan, error) {
	return s.store.LoansForItem(ctx, itemID)
}

func (s *Service) validateParties(ctx context.Context, userID uuid.UUID, operatorID uuid.UUID) (circulation.User, circulation.User, error) {
	var noUser circulation.User

	if operatorID == userID {
		return noUser, noUser, circulation.ErrInvalidOperator
	}

	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return noUser, noUser, err
	}
	if !user.CanBorrow() {
		return noUser, noUser, circulation.ErrIneligibleBorrower
	}

	operator, err := s.store.UserByID(ctx, operatorID)
	if err != nil {
		return noUser, noUser, err
	}
	if !operator.CanOperate() {
		return noUser, noUser, circulation.ErrInvalidOperator
	}

	return user, operator, nil
}

// mapConflict hides exhausted optimistic retries from callers: they see the
// storage-unavailable kind, never a raw concurrency error.
func mapConflict(err error) error {
	if errors.Is(err, circulation.ErrConcurrencyConflict) {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return err
}
