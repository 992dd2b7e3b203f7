package loans_test

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
	"github.com/libcirc/circulation-engine-go/circulation/sanctions"
)

// Monday 2026-03-02 10:00 UTC, well inside the default business window.
var openInstant = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func givenStore() *memoryengine.Store {
	return memoryengine.NewStore()
}

func givenItem(store *memoryengine.Store, totalCopies int) circulation.CatalogItem {
	item := circulation.BuildCatalogItem(uuid.New(), "978-0-13-468599-1", "The Go Programming Language", uuid.New(), uuid.New(), totalCopies)
	store.PutCatalogItem(item)

	return item
}

func givenBorrower(store *memoryengine.Store, role circulation.Role) circulation.User {
	user := circulation.User{
		ID:       uuid.New(),
		FullName: "Ada Quispe",
		Email:    "ada.quispe@example.edu",
		Role:     role,
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

func newServices(store *memoryengine.Store, at time.Time) (*loans.Service, *sanctions.Registry) {
	policy := circulation.DefaultPolicy(time.UTC)
	registry := sanctions.NewRegistry(store, policy, sanctions.WithClock(circulation.FixedClock(at)))
	service := loans.NewService(store, registry, registry, policy, loans.WithClock(circulation.FixedClock(at)))

	return service, registry
}

func Test_Service_Create_Succeeds(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 5)
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)
	service, _ := newServices(store, openInstant)

	// act
	loan, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 2)

	// assert
	require.NoError(t, err)
	assert.Equal(t, circulation.LoanActive, loan.Status)
	assert.Equal(t, 2, loan.Quantity)
	assert.Equal(t, operator.ID, loan.OperatorID)
	assert.Equal(t, time.Date(2026, 3, 9, 14, 45, 0, 0, time.UTC), loan.DueAt, "due instant is pinned to window close 7 days out")

	stocked, err := store.CatalogItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stocked.AvailableCopies)
	assert.Equal(t, 5, stocked.TotalCopies)
}

func Test_Service_Create_FacultyGetsLongerPeriod(t *testing.T) {
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 5)
	borrower := givenBorrower(store, circulation.RoleFaculty)
	operator := givenOperator(store)
	service, _ := newServices(store, openInstant)

	loan, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 1)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 16, 14, 45, 0, 0, time.UTC), loan.DueAt)
}

func Test_Service_Create_FailsOutsideBusinessHours(t *testing.T) {
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 5)
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)

	evening := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	service, _ := newServices(store, evening)

	_, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 1)

	assert.ErrorIs(t, err, circulation.ErrOutsideBusinessHours)
}

func Test_Service_Create_FailsForBlockedUser(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 5)
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)
	service, registry := newServices(store, openInstant)

	_, err := registry.Create(ctx, borrower.ID, 10, decimal.NewFromInt(5), "lost library card abuse")
	require.NoError(t, err)

	// act
	_, err = service.Create(ctx, item.ID, borrower.ID, operator.ID, 1)

	// assert
	assert.ErrorIs(t, err, circulation.ErrUserBlocked)
}

func Test_Service_Create_FailsWhenLoanLimitReached(t *testing.T) {
	// arrange: the student limit is 3 concurrent active loans
	ctx := context.Background()
	store := givenStore()
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)
	service, _ := newServices(store, openInstant)

	for i := 0; i < 3; i++ {
		item := givenItem(store, 2)
		_, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 1)
		require.NoError(t, err)
	}

	// act
	oneMore := givenItem(store, 2)
	_, err := service.Create(ctx, oneMore.ID, borrower.ID, operator.ID, 1)

	// assert
	assert.ErrorIs(t, err, circulation.ErrLoanLimitReached)
}

func Test_Service_Create_ConcurrentCreatesCannotExceedTheLimit(t *testing.T) {
	// arrange: two copies of the student's last permitted slot
	ctx := context.Background()
	store := givenStore()
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)
	service, _ := newServices(store, openInstant)

	for i := 0; i < 2; i++ {
		item := givenItem(store, 2)
		_, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 1)
		require.NoError(t, err)
	}

	first := givenItem(store, 2)
	second := givenItem(store, 2)

	// act: both sessions pass the pre-insert count check before either writes
	start := make(chan struct{})
	errs := make(chan error, 2)
	for _, itemID := range []uuid.UUID{first.ID, second.ID} {
		go func(itemID uuid.UUID) {
			<-start
			_, err := service.Create(ctx, itemID, borrower.ID, operator.ID, 1)
			errs <- err
		}(itemID)
	}
	close(start)

	// assert: exactly one session takes the slot
	results := []error{<-errs, <-errs}
	if results[0] == nil {
		assert.ErrorIs(t, results[1], circulation.ErrLoanLimitReached)
	} else {
		assert.ErrorIs(t, results[0], circulation.ErrLoanLimitReached)
		assert.NoError(t, results[1])
	}

	count, err := store.ActiveLoanCountFor(ctx, borrower.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func Test_Service_Create_FailsOnDuplicateActiveLoan(t *testing.T) {
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 5)
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)
	service, _ := newServices(store, openInstant)

	_, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 1)
	require.NoError(t, err)

	_, err = service.Create(ctx, item.ID, borrower.ID, operator.ID, 1)

	assert.ErrorIs(t, err, circulation.ErrDuplicateLoan)
}

func Test_Service_Create_FailsOnInsufficientStock(t *testing.T) {
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 1)
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)
	service, _ := newServices(store, openInstant)

	_, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 2)

	assert.ErrorIs(t, err, circulation.ErrInsufficientStock)
}

func Test_Service_Create_FailsOnInvalidQuantity(t *testing.T) {
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 5)
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)
	service, _ := newServices(store, openInstant)

	_, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 0)

	assert.ErrorIs(t, err, circulation.ErrInvalidQuantity)
}

func Test_Service_Create_PartyValidation(t *testing.T) {
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 5)
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)

	inactiveBorrower := circulation.User{ID: uuid.New(), Role: circulation.RoleStudent, Active: false}
	store.PutUser(inactiveBorrower)

	adminBorrower := circulation.User{ID: uuid.New(), Role: circulation.RoleAdmin, Active: true}
	store.PutUser(adminBorrower)

	studentOperator := givenBorrower(store, circulation.RoleStudent)

	unvalidatedLibrarian := circulation.User{ID: uuid.New(), Role: circulation.RoleLibrarian, Active: true, Validated: false}
	store.PutUser(unvalidatedLibrarian)

	service, _ := newServices(store, openInstant)

	tests := []struct {
		name       string
		userID     uuid.UUID
		operatorID uuid.UUID
		wantErr    error
	}{
		{name: "operator_cannot_lend_to_themselves", userID: operator.ID, operatorID: operator.ID, wantErr: circulation.ErrInvalidOperator},
		{name: "inactive_borrower_is_ineligible", userID: inactiveBorrower.ID, operatorID: operator.ID, wantErr: circulation.ErrIneligibleBorrower},
		{name: "admin_cannot_borrow", userID: adminBorrower.ID, operatorID: operator.ID, wantErr: circulation.ErrIneligibleBorrower},
		{name: "student_cannot_operate", userID: borrower.ID, operatorID: studentOperator.ID, wantErr: circulation.ErrInvalidOperator},
		{name: "unvalidated_librarian_cannot_operate", userID: borrower.ID, operatorID: unvalidatedLibrarian.ID, wantErr: circulation.ErrInvalidOperator},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.Create(ctx, item.ID, tc.userID, tc.operatorID, 1)

			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func Test_Service_Return_OnTime_RestoresStockWithoutSanction(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 5)
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)
	service, _ := newServices(store, openInstant)

	loan, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 2)
	require.NoError(t, err)

	// returns are exempt from the business window: 20:00 is after closing
	returnInstant := time.Date(2026, 3, 5, 20, 0, 0, 0, time.UTC)
	laterService, registry := newServices(store, returnInstant)

	// act
	returned, err := laterService.Return(ctx, loan.ID, circulation.LoanReturned, "")

	// assert
	require.NoError(t, err)
	assert.Equal(t, circulation.LoanReturned, returned.Status)
	require.NotNil(t, returned.ReturnedAt)
	assert.Equal(t, returnInstant, *returned.ReturnedAt)

	stocked, err := store.CatalogItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stocked.AvailableCopies)

	history, err := registry.ListHistory(ctx, borrower.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func Test_Service_Return_Late_RaisesOverdueSanction(t *testing.T) {
	// arrange: due 2026-03-09 14:45, returned 2026-03-12 10:00 = 2 whole days late
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 5)
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)
	service, _ := newServices(store, openInstant)

	loan, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 1)
	require.NoError(t, err)

	lateInstant := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	lateService, registry := newServices(store, lateInstant)

	// act
	_, err = lateService.Return(ctx, loan.ID, circulation.LoanReturned, "")

	// assert
	require.NoError(t, err)

	active, err := registry.ListActive(ctx, borrower.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	sanction := active[0]
	assert.True(t, sanction.Amount.Equal(decimal.NewFromFloat(5.00)), "fine is daily rate x days late, got %s", sanction.Amount)
	assert.Equal(t, 4, sanction.Days, "sanction length scales with days late")
	assert.Equal(t, loan.ID, sanction.LoanID.UUID)
	assert.Contains(t, sanction.Reason, "2 day(s) late")
}

func Test_Service_Return_Damaged_RaisesSeveritySanction(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 5)
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)
	service, registry := newServices(store, openInstant)

	loan, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 2)
	require.NoError(t, err)

	// act: damaged, returned the same day
	_, err = service.Return(ctx, loan.ID, circulation.LoanDamaged, "water damage on cover")

	// assert: availability restored and one severity sanction
	require.NoError(t, err)

	stocked, err := store.CatalogItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stocked.AvailableCopies)

	active, err := registry.ListActive(ctx, borrower.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 15, active[0].Days)
	assert.True(t, active[0].Amount.Equal(decimal.NewFromFloat(50.00)), "unit cost x quantity, got %s", active[0].Amount)
}

func Test_Service_Return_SecondAttemptFails(t *testing.T) {
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 5)
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)
	service, _ := newServices(store, openInstant)

	loan, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 2)
	require.NoError(t, err)

	_, err = service.Return(ctx, loan.ID, circulation.LoanReturned, "")
	require.NoError(t, err)

	// a replayed return must not double-restore stock or double-sanction
	_, err = service.Return(ctx, loan.ID, circulation.LoanReturned, "")
	assert.ErrorIs(t, err, circulation.ErrLoanNotActive)

	stocked, err := store.CatalogItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stocked.AvailableCopies)
}

func Test_Service_Return_RejectsInvalidOutcome(t *testing.T) {
	ctx := context.Background()
	store := givenStore()
	service, _ := newServices(store, openInstant)

	_, err := service.Return(ctx, uuid.New(), circulation.LoanAnnulled, "")
	assert.ErrorIs(t, err, circulation.ErrInvalidReturnOutcome)

	_, err = service.Return(ctx, uuid.New(), circulation.LoanActive, "")
	assert.ErrorIs(t, err, circulation.ErrInvalidReturnOutcome)
}

func Test_Service_Annul_RestoresStockWithoutSanction(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 5)
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)
	service, registry := newServices(store, openInstant)

	loan, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 2)
	require.NoError(t, err)

	// act
	annulled, err := service.Annul(ctx, loan.ID)

	// assert
	require.NoError(t, err)
	assert.Equal(t, circulation.LoanAnnulled, annulled.Status)

	stocked, err := store.CatalogItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stocked.AvailableCopies)

	history, err := registry.ListHistory(ctx, borrower.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func Test_Service_Return_LostWithReducedTotal(t *testing.T) {
	// arrange: a policy where lost copies leave the collection permanently
	ctx := context.Background()
	store := givenStore()
	item := givenItem(store, 5)
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)

	policy := circulation.DefaultPolicy(time.UTC)
	policy.LostReducesTotal = true
	registry := sanctions.NewRegistry(store, policy, sanctions.WithClock(circulation.FixedClock(openInstant)))
	service := loans.NewService(store, registry, registry, policy, loans.WithClock(circulation.FixedClock(openInstant)))

	loan, err := service.Create(ctx, item.ID, borrower.ID, operator.ID, 2)
	require.NoError(t, err)

	// act
	_, err = service.Return(ctx, loan.ID, circulation.LoanLost, "")

	// assert
	require.NoError(t, err)

	stocked, err := store.CatalogItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stocked.TotalCopies)
	assert.Equal(t, 3, stocked.AvailableCopies)
}

func Test_Service_ListByUser_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := givenStore()
	borrower := givenBorrower(store, circulation.RoleStudent)
	operator := givenOperator(store)
	service, _ := newServices(store, openInstant)

	first := givenItem(store, 2)
	second := givenItem(store, 2)

	firstLoan, err := service.Create(ctx, first.ID, borrower.ID, operator.ID, 1)
	require.NoError(t, err)
	secondLoan, err := service.Create(ctx, second.ID, borrower.ID, operator.ID, 1)
	require.NoError(t, err)

	listed, err := service.ListByUser(ctx, borrower.ID)

	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, secondLoan.ID, listed[0].ID)
	assert.Equal(t, firstLoan.ID, listed[1].ID)
}
