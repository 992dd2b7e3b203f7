package reservations_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libcirc/circulation-engine-go/circulation"
	"github.com/libcirc/circulation-engine-go/circulation/loans"
	"github.com/libcirc/circulation-engine-go/circulation/memoryengine"
	"github.com/libcirc/circulation-engine-go/circulation/reservations"
	"github.com/libcirc/circulation-engine-go/circulation/sanctions"
)

// Monday 2026-03-02 10:00 UTC, inside the default business window.
var openInstant = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func givenItem(store *memoryengine.Store, totalCopies int) circulation.CatalogItem {
	item := circulation.BuildCatalogItem(uuid.New(), "978-0-7356-1967-0", "Code Complete", uuid.New(), uuid.New(), totalCopies)
	store.PutCatalogItem(item)

	return item
}

func givenBorrower(store *memoryengine.Store) circulation.User {
	user := circulation.User{
		ID:       uuid.New(),
		FullName: "Rosa Huaman",
		Email:    "rosa.huaman@example.edu",
		Role:     circulation.RoleStudent,
		Active:   true,
	}
	store.PutUser(user)

	return user
}

func givenOperator(store *memoryengine.Store) circulation.User {
	operator := circulation.User{
		ID:        uuid.New(),
		FullName:  "Luis Mendoza",
		Email:     "luis.mendoza@example.edu",
		Role:      circulation.RoleLibrarian,
		Active:    true,
		Validated: true,
	}
	store.PutUser(operator)

	return operator
}

func newService(store *memoryengine.Store, at time.Time) *reservations.Service {
	return newServiceWithPolicy(store, at, circulation.DefaultPolicy(time.UTC))
}

func newServiceWithPolicy(store *memoryengine.Store, at time.Time, policy circulation.Policy) *reservations.Service {
	clock := circulation.FixedClock(at)
	registry := sanctions.NewRegistry(store, policy, sanctions.WithClock(clock))
	loanService := loans.NewService(store, registry, registry, policy, loans.WithClock(clock))

	return reservations.NewService(store, registry, loanService, policy, reservations.WithClock(clock))
}

func Test_Service_Create_Succeeds(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 3)
	borrower := givenBorrower(store)
	service := newService(store, openInstant)

	// act
	reservation, err := service.Create(ctx, item.ID, borrower.ID)

	// assert
	require.NoError(t, err)
	assert.Equal(t, circulation.ReservationPending, reservation.Status)
	assert.Equal(t, openInstant.Add(48*time.Hour), reservation.ExpiresAt, "TTL is 2 days")

	// reservations never decrement available copies
	stocked, err := store.CatalogItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stocked.AvailableCopies)
}

func Test_Service_Create_QuotaExhausted(t *testing.T) {
	// arrange: one available copy, one pending hold already claims the quota
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 1)
	first := givenBorrower(store)
	second := givenBorrower(store)
	service := newService(store, openInstant)

	_, err := service.Create(ctx, item.ID, first.ID)
	require.NoError(t, err)

	// act
	_, err = service.Create(ctx, item.ID, second.ID)

	// assert
	assert.ErrorIs(t, err, circulation.ErrInsufficientStock)
}

func Test_Service_Create_FailsOnDuplicatePendingReservation(t *testing.T) {
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 3)
	borrower := givenBorrower(store)
	service := newService(store, openInstant)

	_, err := service.Create(ctx, item.ID, borrower.ID)
	require.NoError(t, err)

	_, err = service.Create(ctx, item.ID, borrower.ID)

	assert.ErrorIs(t, err, circulation.ErrDuplicateReservation)
}

func Test_Service_Create_FailsWhenUserHoldsActiveLoanOnItem(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 3)
	borrower := givenBorrower(store)
	operator := givenOperator(store)

	policy := circulation.DefaultPolicy(time.UTC)
	clock := circulation.FixedClock(openInstant)
	registry := sanctions.NewRegistry(store, policy, sanctions.WithClock(clock))
	loanService := loans.NewService(store, registry, registry, policy, loans.WithClock(clock))
	service := reservations.NewService(store, registry, loanService, policy, reservations.WithClock(clock))

	_, err := loanService.Create(ctx, item.ID, borrower.ID, operator.ID, 1)
	require.NoError(t, err)

	// act
	_, err = service.Create(ctx, item.ID, borrower.ID)

	// assert
	assert.ErrorIs(t, err, circulation.ErrDuplicateLoan)
}

func Test_Service_Create_FailsForBlockedUser(t *testing.T) {
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 3)
	borrower := givenBorrower(store)

	policy := circulation.DefaultPolicy(time.UTC)
	clock := circulation.FixedClock(openInstant)
	registry := sanctions.NewRegistry(store, policy, sanctions.WithClock(clock))
	loanService := loans.NewService(store, registry, registry, policy, loans.WithClock(clock))
	service := reservations.NewService(store, registry, loanService, policy, reservations.WithClock(clock))

	_, err := registry.Create(ctx, borrower.ID, 10, decimal.Zero, "damaged atlas")
	require.NoError(t, err)

	_, err = service.Create(ctx, item.ID, borrower.ID)

	assert.ErrorIs(t, err, circulation.ErrUserBlocked)
}

func Test_Service_Create_QuotaCountsFulfilledWhenConfigured(t *testing.T) {
	// arrange: two copies; after one fulfilled reservation the default quota
	// would still admit a claim, the widened quota does not
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 2)
	first := givenBorrower(store)
	second := givenBorrower(store)
	operator := givenOperator(store)

	policy := circulation.DefaultPolicy(time.UTC)
	policy.QuotaCountsFulfilled = true
	service := newServiceWithPolicy(store, openInstant, policy)

	reservation, err := service.Create(ctx, item.ID, first.ID)
	require.NoError(t, err)

	_, err = service.Fulfill(ctx, reservation.ID, operator.ID)
	require.NoError(t, err)

	// act: the fulfilled reservation still claims the quota
	_, err = service.Create(ctx, item.ID, second.ID)

	// assert
	assert.ErrorIs(t, err, circulation.ErrInsufficientStock)
}

func Test_Service_Fulfill_ConvertsReservationIntoLoan(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 3)
	borrower := givenBorrower(store)
	operator := givenOperator(store)
	service := newService(store, openInstant)

	reservation, err := service.Create(ctx, item.ID, borrower.ID)
	require.NoError(t, err)

	// act
	loan, err := service.Fulfill(ctx, reservation.ID, operator.ID)

	// assert
	require.NoError(t, err)
	assert.Equal(t, circulation.LoanActive, loan.Status)
	assert.Equal(t, 1, loan.Quantity, "a reservation always converts into one copy")
	assert.Equal(t, borrower.ID, loan.UserID)

	fulfilled, err := store.ReservationByID(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.ReservationFulfilled, fulfilled.Status)

	stocked, err := store.CatalogItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stocked.AvailableCopies)
}

func Test_Service_Fulfill_ConcurrentSessionsCreateExactlyOneLoan(t *testing.T) {
	// arrange: two operator sessions pick up the same pending reservation
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 3)
	borrower := givenBorrower(store)
	operator := givenOperator(store)
	service := newService(store, openInstant)

	reservation, err := service.Create(ctx, item.ID, borrower.ID)
	require.NoError(t, err)

	// act: both sessions read the reservation as pending before either claims it
	start := make(chan struct{})
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			_, fulfillErr := service.Fulfill(ctx, reservation.ID, operator.ID)
			errs <- fulfillErr
		}()
	}
	close(start)

	// assert: one session wins the claim, the loser never reaches loan creation
	results := []error{<-errs, <-errs}
	if results[0] == nil {
		assert.ErrorIs(t, results[1], circulation.ErrReservationNotPending)
	} else {
		assert.ErrorIs(t, results[0], circulation.ErrReservationNotPending)
		assert.NoError(t, results[1])
	}

	held, err := store.LoansFor(ctx, borrower.ID)
	require.NoError(t, err)
	assert.Len(t, held, 1)

	stocked, err := store.CatalogItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stocked.AvailableCopies, "stock is debited exactly once")
}

func Test_Service_Fulfill_FailsOutsideBusinessHours(t *testing.T) {
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 3)
	borrower := givenBorrower(store)
	operator := givenOperator(store)

	service := newService(store, openInstant)
	reservation, err := service.Create(ctx, item.ID, borrower.ID)
	require.NoError(t, err)

	evening := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	eveningService := newService(store, evening)

	_, err = eveningService.Fulfill(ctx, reservation.ID, operator.ID)

	assert.ErrorIs(t, err, circulation.ErrOutsideBusinessHours)
}

func Test_Service_Fulfill_FailsWhenLapsed(t *testing.T) {
	// arrange: a pending reservation past its expiry is not fulfillable even
	// before the sweep transitions it
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 3)
	borrower := givenBorrower(store)
	operator := givenOperator(store)

	service := newService(store, openInstant)
	reservation, err := service.Create(ctx, item.ID, borrower.ID)
	require.NoError(t, err)

	// two days plus a minute later, still pending in storage
	afterExpiry := openInstant.Add(48*time.Hour + time.Minute)
	lateService := newService(store, afterExpiry)

	// act
	_, err = lateService.Fulfill(ctx, reservation.ID, operator.ID)

	// assert
	assert.ErrorIs(t, err, circulation.ErrReservationNotPending)
}

func Test_Service_Fulfill_StockGone_ReportsStockNoLongerAvailable(t *testing.T) {
	// arrange: the only copy is lent out between reservation and pickup
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 1)
	borrower := givenBorrower(store)
	other := givenBorrower(store)
	operator := givenOperator(store)

	policy := circulation.DefaultPolicy(time.UTC)
	clock := circulation.FixedClock(openInstant)
	registry := sanctions.NewRegistry(store, policy, sanctions.WithClock(clock))
	loanService := loans.NewService(store, registry, registry, policy, loans.WithClock(clock))
	service := reservations.NewService(store, registry, loanService, policy, reservations.WithClock(clock))

	reservation, err := service.Create(ctx, item.ID, borrower.ID)
	require.NoError(t, err)

	_, err = loanService.Create(ctx, item.ID, other.ID, operator.ID, 1)
	require.NoError(t, err)

	// act
	_, err = service.Fulfill(ctx, reservation.ID, operator.ID)

	// assert: distinct error kind, reservation stays pending for manual resolution
	assert.ErrorIs(t, err, circulation.ErrStockNoLongerAvailable)

	still, err := store.ReservationByID(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.ReservationPending, still.Status)
}

func Test_Service_Cancel_Succeeds(t *testing.T) {
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 3)
	borrower := givenBorrower(store)
	service := newService(store, openInstant)

	reservation, err := service.Create(ctx, item.ID, borrower.ID)
	require.NoError(t, err)

	err = service.Cancel(ctx, reservation.ID)

	require.NoError(t, err)

	cancelled, err := store.ReservationByID(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.ReservationCancelled, cancelled.Status)
}

func Test_Service_Cancel_FailsWhenNotPending(t *testing.T) {
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 3)
	borrower := givenBorrower(store)
	service := newService(store, openInstant)

	reservation, err := service.Create(ctx, item.ID, borrower.ID)
	require.NoError(t, err)

	require.NoError(t, service.Cancel(ctx, reservation.ID))

	err = service.Cancel(ctx, reservation.ID)

	assert.ErrorIs(t, err, circulation.ErrReservationNotPending)
}

func Test_Service_ExpireSweep_IsIdempotent(t *testing.T) {
	// arrange: two reservations, one already past its TTL at sweep time
	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 3)
	first := givenBorrower(store)
	second := givenBorrower(store)

	service := newService(store, openInstant)
	expired, err := service.Create(ctx, item.ID, first.ID)
	require.NoError(t, err)

	dayLater := newService(store, openInstant.Add(24*time.Hour))
	fresh, err := dayLater.Create(ctx, item.ID, second.ID)
	require.NoError(t, err)

	sweepInstant := openInstant.Add(48*time.Hour + time.Minute)
	sweeper := newService(store, sweepInstant)

	// act
	touched, err := sweeper.ExpireSweep(ctx)

	// assert
	require.NoError(t, err)
	assert.Equal(t, int64(1), touched)

	swept, err := store.ReservationByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.ReservationExpired, swept.Status)

	untouched, err := store.ReservationByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.ReservationPending, untouched.Status)

	// re-running the sweep touches nothing
	touched, err = sweeper.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, touched)
}

func Test_Service_ExpireSweep_ReservationMadeBeforeClosing_LapsesTwoDaysLater(t *testing.T) {
	// arrange: reserved Friday 14:40, five minutes before closing; the TTL runs
	// in absolute hours, so the claim lapses Sunday 14:40 regardless of the window
	lima := time.FixedZone("Lima", -5*60*60)
	fridayLate := time.Date(2026, 3, 6, 14, 40, 0, 0, lima)

	ctx := context.Background()
	store := memoryengine.NewStore()
	item := givenItem(store, 3)
	borrower := givenBorrower(store)

	policy := circulation.DefaultPolicy(lima)
	service := newServiceWithPolicy(store, fridayLate, policy)

	reservation, err := service.Create(ctx, item.ID, borrower.ID)
	require.NoError(t, err)
	assert.Equal(t, fridayLate.Add(48*time.Hour), reservation.ExpiresAt)

	// act: sweep on Sunday just after the lapse
	sweeper := newServiceWithPolicy(store, fridayLate.Add(48*time.Hour+time.Minute), policy)
	touched, err := sweeper.ExpireSweep(ctx)

	// assert
	require.NoError(t, err)
	assert.Equal(t, int64(1), touched)
}
