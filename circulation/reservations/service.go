// Package reservations implements the reservation manager: provisional claims
// on stock ahead of pickup. A reservation never decrements available copies -
// regular loans are not starved - but it consumes quota, computed as available
// copies minus the currently counted holds. Fulfillment converts the claim
// into a loan; expiry is a time-triggered transition owned by the sweep.
package reservations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/libcirc/circulation-engine-go/circulation"
	"github.com/libcirc/circulation-engine-go/circulation/stock"
)

// Storage is the narrow persistence interface the reservation manager consumes.
type Storage interface {
	CatalogItemByID(ctx context.Context, id uuid.UUID) (circulation.CatalogItem, error)
	UserByID(ctx context.Context, id uuid.UUID) (circulation.User, error)
	ReservationByID(ctx context.Context, id uuid.UUID) (circulation.Reservation, error)
	ReservationHoldsFor(ctx context.Context, itemID uuid.UUID, statuses ...circulation.ReservationStatus) (int, error)
	HasPendingReservation(ctx context.Context, userID uuid.UUID, itemID uuid.UUID) (bool, error)
	HasActiveLoan(ctx context.Context, userID uuid.UUID, itemID uuid.UUID) (bool, error)
	ReservationsFor(ctx context.Context, userID uuid.UUID) ([]circulation.Reservation, error)
	ReservationsForItem(ctx context.Context, itemID uuid.UUID) ([]circulation.Reservation, error)

	// InsertReservationClaimingQuota persists the reservation only while the
	// quota check still holds at write time, so two concurrent requests for
	// the last quota slot resolve to one insert and one
	// circulation.ErrConcurrencyConflict.
	InsertReservationClaimingQuota(ctx context.Context, reservation circulation.Reservation, countFulfilled bool) error

	// TransitionReservation moves a reservation from one status to another,
	// guarded by the current status. It reports false without error when the
	// reservation is not in the expected status.
	TransitionReservation(ctx context.Context, id uuid.UUID, from circulation.ReservationStatus, to circulation.ReservationStatus) (bool, error)

	// ExpirePendingReservations transitions every pending reservation whose
	// expiry lies before now to expired and returns how many it touched.
	ExpirePendingReservations(ctx context.Context, now time.Time) (int64, error)
}

// Blocker answers whether a user is blocked by an active sanction.
type Blocker interface {
	IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error)
}

// LoanCreator converts a reservation into a loan.
type LoanCreator interface {
	CreateFromReservation(ctx context.Context, reservation circulation.Reservation, operatorID uuid.UUID) (circulation.Loan, error)
}

// Service is the reservation manager.
type Service struct {
	store        Storage
	blocker      Blocker
	loans        LoanCreator
	ledger       stock.Ledger
	policy       circulation.Policy
	clock        circulation.Clock
	retryOptions []circulation.RetryOption
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for window checks, TTLs and the sweep.
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

// NewService creates a reservation manager with optional configuration.
func NewService(store Storage, blocker Blocker, loanCreator LoanCreator, policy circulation.Policy, opts ...Option) *Service {
	s := &Service{
		store:   store,
		blocker: blocker,
		loans:   loanCreator,
		ledger:  stock.Ledger{LostReducesTotal: policy.LostReducesTotal},
		policy:  policy,
		clock:   circulation.SystemClock(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Create registers a pending reservation for a user on an item. Quota rule:
// a reservation is admitted only while available copies minus the currently
// counted holds is positive.
func (s *Service) Create(ctx context.Context, itemID uuid.UUID, userID uuid.UUID) (circulation.Reservation, error) {
	var reservation circulation.Reservation

	err := circulation.RetryWithExponentialBackoff(ctx, func(retryCtx context.Context) error {
		var execErr error
		reservation, execErr = s.executeCreate(retryCtx, itemID, userID)

		return execErr
	}, s.retryOptions...)

	return reservation, mapConflict(err)
}

func (s *Service) executeCreate(ctx context.Context, itemID uuid.UUID, userID uuid.UUID) (circulation.Reservation, error) {
	var none circulation.Reservation

	blocked, err := s.blocker.IsBlocked(ctx, userID)
	if err != nil {
		return none, err
	}
	if blocked {
		return none, circulation.ErrUserBlocked
	}

	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return none, err
	}
	if !user.CanBorrow() {
		return none, circulation.ErrIneligibleBorrower
	}

	item, err := s.store.CatalogItemByID(ctx, itemID)
	if err != nil {
		return none, err
	}

	holds, err := s.store.ReservationHoldsFor(ctx, itemID, s.countedStatuses()...)
	if err != nil {
		return none, err
	}

	if err := s.ledger.Reserve(item, holds); err != nil {
		return none, err
	}

	duplicate, err := s.store.HasPendingReservation(ctx, userID, itemID)
	if err != nil {
		return none, err
	}
	if duplicate {
		return none, circulation.ErrDuplicateReservation
	}

	onLoan, err := s.store.HasActiveLoan(ctx, userID, itemID)
	if err != nil {
		return none, err
	}
	if onLoan {
		return none, circulation.ErrDuplicateLoan
	}

	reservation := circulation.BuildReservation(itemID, userID, s.clock.Now(), s.policy.ReservationTTL)

	if err := s.store.InsertReservationClaimingQuota(ctx, reservation, s.policy.QuotaCountsFulfilled); err != nil {
		return none, err
	}

	return reservation, nil
}

// Fulfill converts a pending reservation into a loan performed by the
// operator and marks it fulfilled. A reservation that has lapsed past its
// expiry - whether or not the sweep has transitioned it yet - is not
// fulfillable. Fails with ErrOutsideBusinessHours when the window is closed.
// Insufficient stock surfaces as ErrStockNoLongerAvailable and the reservation
// remains pending for manual resolution.
//
// The pending-to-fulfilled transition is claimed before the loan exists, so
// two sessions fulfilling the same reservation resolve to exactly one loan:
// the loser of the status-guarded transition never reaches loan creation.
// When loan creation fails after a successful claim, the claim is rolled back
// to pending.
func (s *Service) Fulfill(ctx context.Context, reservationID uuid.UUID, operatorID uuid.UUID) (circulation.Loan, error) {
	var none circulation.Loan

	reservation, err := s.store.ReservationByID(ctx, reservationID)
	if err != nil {
		return none, err
	}

	now := s.clock.Now()
	if !reservation.IsPending() || reservation.HasLapsed(now) {
		return none, circulation.ErrReservationNotPending
	}

	if !s.policy.Window.IsOpen(now) {
		return none, circulation.ErrOutsideBusinessHours
	}

	moved, err := s.store.TransitionReservation(ctx, reservationID, circulation.ReservationPending, circulation.ReservationFulfilled)
	if err != nil {
		return none, err
	}
	if !moved {
		return none, circulation.ErrReservationNotPending
	}

	loan, err := s.loans.CreateFromReservation(ctx, reservation, operatorID)
	if err != nil {
		if _, revertErr := s.store.TransitionReservation(ctx, reservationID, circulation.ReservationFulfilled, circulation.ReservationPending); revertErr != nil {
			return none, errors.Join(err, revertErr)
		}

		return none, err
	}

	return loan, nil
}

// Cancel withdraws a pending reservation. Permitted at any time of day;
// cancelling a non-pending reservation fails with ErrReservationNotPending.
func (s *Service) Cancel(ctx context.Context, reservationID uuid.UUID) error {
	if _, err := s.store.ReservationByID(ctx, reservationID); err != nil {
		return err
	}

	moved, err := s.store.TransitionReservation(ctx, reservationID, circulation.ReservationPending, circulation.ReservationCancelled)
	if err != nil {
		return err
	}
	if !moved {
		return circulation.ErrReservationNotPending
	}

	return nil
}

// ExpireSweep transitions every pending reservation past its expiry to
// expired and returns how many were touched. The sweep is the sole writer of
// the expired status and is safe to re-run: re-expiring is a no-op.
func (s *Service) ExpireSweep(ctx context.Context) (int64, error) {
	return s.store.ExpirePendingReservations(ctx, s.clock.Now())
}

// ListByUser returns all reservations ever recorded for a user, newest first.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]circulation.Reservation, error) {
	return s.store.ReservationsFor(ctx, userID)
}

// ListByItem returns all reservations ever recorded for an item, newest first.
func (s *Service) ListByItem(ctx context.Context, itemID uuid.UUID) ([]circulation.Reservation, error) {
	return s.store.ReservationsForItem(ctx, itemID)
}

func (s *Service) countedStatuses() []circulation.ReservationStatus {
	if s.policy.QuotaCountsFulfilled {
		return []circulation.ReservationStatus{circulation.ReservationPending, circulation.ReservationFulfilled}
	}

	return []circulation.ReservationStatus{circulation.ReservationPending}
}

func mapConflict(err error) error {
	if errors.Is(err, circulation.ErrConcurrencyConflict) {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return err
}
