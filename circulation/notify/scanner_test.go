package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libcirc/circulation-engine-go/circulation"
	"github.com/libcirc/circulation-engine-go/circulation/memoryengine"
	"github.com/libcirc/circulation-engine-go/circulation/notify"
)

var sweepInstant = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func givenSeededStore(t *testing.T) (*memoryengine.Store, circulation.Loan, circulation.Loan, circulation.Reservation) {
	t.Helper()

	ctx := context.Background()
	store := memoryengine.NewStore()

	item := circulation.BuildCatalogItem(uuid.New(), "978-0-13-475759-9", "Refactoring", uuid.New(), uuid.New(), 10)
	store.PutCatalogItem(item)

	dueSoon := circulation.BuildLoan(item.ID, uuid.New(), uuid.New(), 1, sweepInstant.AddDate(0, 0, -6), sweepInstant.Add(24*time.Hour))
	require.NoError(t, store.InsertLoanCommittingStock(ctx, dueSoon, item, 10))

	item, err := store.CatalogItemByID(ctx, item.ID)
	require.NoError(t, err)
	overdue := circulation.BuildLoan(item.ID, uuid.New(), uuid.New(), 1, sweepInstant.AddDate(0, 0, -10), sweepInstant.Add(-72*time.Hour))
	require.NoError(t, store.InsertLoanCommittingStock(ctx, overdue, item, 10))

	item, err = store.CatalogItemByID(ctx, item.ID)
	require.NoError(t, err)
	farOff := circulation.BuildLoan(item.ID, uuid.New(), uuid.New(), 1, sweepInstant, sweepInstant.AddDate(0, 0, 10))
	require.NoError(t, store.InsertLoanCommittingStock(ctx, farOff, item, 10))

	expiring := circulation.BuildReservation(item.ID, uuid.New(), sweepInstant.Add(-42*time.Hour), 48*time.Hour)
	require.NoError(t, store.InsertReservationClaimingQuota(ctx, expiring, false))

	comfortable := circulation.BuildReservation(item.ID, uuid.New(), sweepInstant, 48*time.Hour)
	require.NoError(t, store.InsertReservationClaimingQuota(ctx, comfortable, false))

	return store, dueSoon, overdue, expiring
}

func newScanner(store *memoryengine.Store) (*notify.Scanner, *notify.Gate) {
	gate := notify.NewGate(store, time.UTC)
	scanner := notify.NewScanner(store, gate, notify.WithClock(circulation.FixedClock(sweepInstant)))

	return scanner, gate
}

func Test_Scanner_Scan_CollectsEachAlertKind(t *testing.T) {
	// arrange
	ctx := context.Background()
	store, dueSoon, overdue, expiring := givenSeededStore(t)
	scanner, _ := newScanner(store)

	// act
	facts, err := scanner.Scan(ctx)

	// assert
	require.NoError(t, err)
	require.Len(t, facts, 3)

	byKind := make(map[circulation.EventKind]notify.Fact, len(facts))
	for _, fact := range facts {
		byKind[fact.Kind] = fact
	}

	dueSoonFact := byKind[circulation.LoanDueSoon]
	require.NotNil(t, dueSoonFact.LoanID)
	assert.Equal(t, dueSoon.ID, *dueSoonFact.LoanID)
	assert.Equal(t, dueSoon.UserID, dueSoonFact.UserID)
	assert.Equal(t, 1, dueSoonFact.DaysRemaining)

	overdueFact := byKind[circulation.LoanOverdue]
	require.NotNil(t, overdueFact.LoanID)
	assert.Equal(t, overdue.ID, *overdueFact.LoanID)
	assert.Equal(t, 3, overdueFact.DaysOverdue)

	expiringFact := byKind[circulation.ReservationExpiring]
	require.NotNil(t, expiringFact.ReservationID)
	assert.Equal(t, expiring.ID, *expiringFact.ReservationID)
	assert.Equal(t, 6, expiringFact.HoursLeft)
}

func Test_Scanner_Run_SendsOncePerDay(t *testing.T) {
	// arrange
	ctx := context.Background()
	store, _, _, _ := givenSeededStore(t)
	scanner, _ := newScanner(store)

	var delivered []notify.Fact
	send := func(_ context.Context, fact notify.Fact) error {
		delivered = append(delivered, fact)
		return nil
	}

	// act
	first, err := scanner.Run(ctx, send)
	require.NoError(t, err)

	second, err := scanner.Run(ctx, send)
	require.NoError(t, err)

	// assert: the second sweep is fully deduplicated
	assert.Equal(t, 3, first)
	assert.Equal(t, 0, second)
	assert.Len(t, delivered, 3)
}

func Test_Scanner_Run_FailedSendStaysUnmarked(t *testing.T) {
	// arrange: the sender rejects overdue alerts on the first sweep
	ctx := context.Background()
	store, _, overdue, _ := givenSeededStore(t)
	scanner, _ := newScanner(store)

	failOverdue := func(_ context.Context, fact notify.Fact) error {
		if fact.Kind == circulation.LoanOverdue {
			return errors.New("smtp unavailable")
		}
		return nil
	}

	sent, err := scanner.Run(ctx, failOverdue)
	require.NoError(t, err)
	require.Equal(t, 2, sent)

	// act: the next sweep retries only the unmarked fact
	var retried []notify.Fact
	sent, err = scanner.Run(ctx, func(_ context.Context, fact notify.Fact) error {
		retried = append(retried, fact)
		return nil
	})

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, retried, 1)
	assert.Equal(t, circulation.LoanOverdue, retried[0].Kind)
	assert.Equal(t, overdue.UserID, retried[0].UserID)
}

func Test_Scanner_Run_GateSuppressesManualMarks(t *testing.T) {
	// arrange: one user was already notified today through another channel
	ctx := context.Background()
	store, dueSoon, _, _ := givenSeededStore(t)
	scanner, gate := newScanner(store)

	require.NoError(t, gate.MarkNotified(ctx, dueSoon.UserID, circulation.LoanDueSoon, sweepInstant))

	// act
	sent, err := scanner.Run(ctx, func(_ context.Context, _ notify.Fact) error { return nil })

	// assert
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
}

func Test_Fact_PayloadJSON_CarriesTheAlertFields(t *testing.T) {
	fact := notify.Fact{
		Kind:     circulation.LoanOverdue,
		UserID:   uuid.MustParse("0b06f4d0-2865-4a8c-b5a1-985f87fbbc9a"),
		ItemID:   uuid.New(),
		Deadline: sweepInstant.Add(-72 * time.Hour),
	}

	payload, err := fact.PayloadJSON()

	require.NoError(t, err)
	assert.Contains(t, string(payload), `"kind":"loan_overdue"`)
	assert.Contains(t, string(payload), `"user_id":"0b06f4d0-2865-4a8c-b5a1-985f87fbbc9a"`)
}

func Test_Fact_PayloadJSON_OmitsAbsentReferences(t *testing.T) {
	loanID := uuid.New()
	fact := notify.Fact{
		Kind:     circulation.LoanDueSoon,
		UserID:   uuid.New(),
		ItemID:   uuid.New(),
		LoanID:   &loanID,
		Deadline: sweepInstant.Add(24 * time.Hour),
	}

	payload, err := fact.PayloadJSON()

	require.NoError(t, err)
	assert.Contains(t, string(payload), `"loan_id":"`+loanID.String()+`"`)
	assert.NotContains(t, string(payload), `"reservation_id"`)
}
