package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/libcirc/circulation-engine-go/circulation"
)

const (
	dueSoonHorizon  = 48 * time.Hour
	expiringHorizon = 12 * time.Hour

	logMsgScanCompleted = "alert scan completed"
	logMsgSendFailed    = "notification send failed, left unmarked for retry"
	logAttrFactCount    = "fact_count"
	logAttrSentCount    = "sent_count"
	logAttrSkippedCount = "skipped_count"
	logAttrError        = "error"
	logAttrEventKind    = "event_kind"
	logAttrUserID       = "user_id"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Fact is one alert condition found by a sweep: a loan nearing its due date,
// a loan overdue, or a reservation nearing expiry. Each fact is consumed at
// most once per day through the dedup gate.
type Fact struct {
	Kind          circulation.EventKind `json:"kind"`
	UserID        uuid.UUID             `json:"user_id"`
	ItemID        uuid.UUID             `json:"item_id"`
	LoanID        *uuid.UUID            `json:"loan_id,omitempty"`
	ReservationID *uuid.UUID            `json:"reservation_id,omitempty"`
	Deadline      time.Time             `json:"deadline"`
	DaysRemaining int                   `json:"days_remaining,omitempty"`
	DaysOverdue   int                   `json:"days_overdue,omitempty"`
	HoursLeft     int                   `json:"hours_left,omitempty"`
}

// PayloadJSON renders the fact for the external sender.
func (f Fact) PayloadJSON() ([]byte, error) {
	return json.Marshal(f)
}

// ScanStorage is the read interface the scanner consumes.
type ScanStorage interface {
	ActiveLoansDueWithin(ctx context.Context, from time.Time, until time.Time) ([]circulation.Loan, error)
	ActiveLoansOverdue(ctx context.Context, asOf time.Time) ([]circulation.Loan, error)
	PendingReservationsExpiringWithin(ctx context.Context, from time.Time, until time.Time) ([]circulation.Reservation, error)
}

// Sender delivers one notification. The transport (email, etc.) lives outside
// the engine; a non-nil error keeps the fact unmarked so it is retried on the
// next sweep.
type Sender func(ctx context.Context, fact Fact) error

// Scanner produces alert facts and pushes them through the dedup gate. It is
// safe to run concurrently with live operator transactions and with itself.
type Scanner struct {
	store  ScanStorage
	gate   *Gate
	clock  circulation.Clock
	logger circulation.Logger
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithClock sets the clock the sweep uses.
func WithClock(clock circulation.Clock) ScannerOption {
	return func(s *Scanner) {
		s.clock = clock
	}
}

// WithLogger sets the logger for sweep outcomes and send failures.
func WithLogger(logger circulation.Logger) ScannerOption {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// NewScanner creates an alert scanner with optional configuration.
func NewScanner(store ScanStorage, gate *Gate, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		store: store,
		gate:  gate,
		clock: circulation.SystemClock(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Scan collects the current alert facts: loans due within 48 hours, loans
// already overdue, and pending reservations expiring within 12 hours.
func (s *Scanner) Scan(ctx context.Context) ([]Fact, error) {
	now := s.clock.Now()
	facts := make([]Fact, 0)

	dueSoon, err := s.store.ActiveLoansDueWithin(ctx, now, now.Add(dueSoonHorizon))
	if err != nil {
		return nil, err
	}
	for _, loan := range dueSoon {
		facts = append(facts, Fact{
			Kind:          circulation.LoanDueSoon,
			UserID:        loan.UserID,
			ItemID:        loan.ItemID,
			LoanID:        &loan.ID,
			Deadline:      loan.DueAt,
			DaysRemaining: int(loan.DueAt.Sub(now) / (24 * time.Hour)),
		})
	}

	overdue, err := s.store.ActiveLoansOverdue(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, loan := range overdue {
		facts = append(facts, Fact{
			Kind:        circulation.LoanOverdue,
			UserID:      loan.UserID,
			ItemID:      loan.ItemID,
			LoanID:      &loan.ID,
			Deadline:    loan.DueAt,
			DaysOverdue: loan.DaysLate(now),
		})
	}

	expiring, err := s.store.PendingReservationsExpiringWithin(ctx, now, now.Add(expiringHorizon))
	if err != nil {
		return nil, err
	}
	for _, reservation := range expiring {
		facts = append(facts, Fact{
			Kind:          circulation.ReservationExpiring,
			UserID:        reservation.UserID,
			ItemID:        reservation.ItemID,
			ReservationID: &reservation.ID,
			Deadline:      reservation.ExpiresAt,
			HoursLeft:     int(reservation.ExpiresAt.Sub(now) / time.Hour),
		})
	}

	return facts, nil
}

// Run performs one sweep: every fact that passes the gate is handed to the
// sender, and marked only after the send succeeded. Send failures are logged
// and skipped - the key stays unmarked, so the next sweep retries it.
func (s *Scanner) Run(ctx context.Context, send Sender) (int, error) {
	facts, err := s.Scan(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	sent := 0
	skipped := 0

	for _, fact := range facts {
		notify, gateErr := s.gate.ShouldNotify(ctx, fact.UserID, fact.Kind, now)
		if gateErr != nil {
			return sent, gateErr
		}
		if !notify {
			skipped++
			continue
		}

		if sendErr := send(ctx, fact); sendErr != nil {
			if s.logger != nil {
				s.logger.Warn(logMsgSendFailed,
					logAttrError, sendErr.Error(),
					logAttrEventKind, string(fact.Kind),
					logAttrUserID, fact.UserID.String())
			}
			continue
		}

		if markErr := s.gate.MarkNotified(ctx, fact.UserID, fact.Kind, now); markErr != nil {
			return sent, markErr
		}

		sent++
	}

	if s.logger != nil {
		s.logger.Info(logMsgScanCompleted,
			logAttrFactCount, len(facts),
			logAttrSentCount, sent,
			logAttrSkippedCount, skipped)
	}

	return sent, nil
}
