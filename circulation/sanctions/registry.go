// Package sanctions implements the sanction registry: the single source of
// truth for whether a user is blocked from new loans and reservations, and for
// the return-triggered penalties that create new sanctions.
package sanctions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/libcirc/circulation-engine-go/circulation"
)

// Storage is the narrow persistence interface the registry consumes.
type Storage interface {
	SanctionByID(ctx context.Context, id uuid.UUID) (circulation.Sanction, error)
	InsertSanction(ctx context.Context, sanction circulation.Sanction) error
	// CondoneSanction transitions a sanction from active to condoned with the
	// given end instant. It reports false without error when the sanction is
	// already terminal, so replays stay no-ops.
	CondoneSanction(ctx context.Context, id uuid.UUID, endsAt time.Time) (bool, error)
	ActiveSanctionsFor(ctx context.Context, userID uuid.UUID) ([]circulation.Sanction, error)
	SanctionsFor(ctx context.Context, userID uuid.UUID) ([]circulation.Sanction, error)
	// ExpireLapsedSanctions transitions every active sanction whose end date
	// lies before now to expired and returns how many it touched.
	ExpireLapsedSanctions(ctx context.Context, now time.Time) (int64, error)
}

// Registry answers eligibility checks and owns every sanction transition.
type Registry struct {
	store  Storage
	policy circulation.Policy
	clock  circulation.Clock
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used for blocking checks and end dates.
func WithClock(clock circulation.Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// NewRegistry creates a sanction registry with optional configuration.
func NewRegistry(store Storage, policy circulation.Policy, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		policy: policy,
		clock:  circulation.SystemClock(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// IsBlocked reports whether at least one sanction blocks the user right now:
// status active and an end date in the future, or no end date at all.
func (r *Registry) IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	active, err := r.store.ActiveSanctionsFor(ctx, userID)
	if err != nil {
		return false, err
	}

	now := r.clock.Now()
	for _, s := range active {
		if s.IsBlocking(now) {
			return true, nil
		}
	}

	return false, nil
}

// Create registers a manual sanction. Sanctioning an already-blocked user is
// allowed: sanctions accumulate and IsBlocked takes the furthest end date
// implicitly by scanning all of them.
func (r *Registry) Create(ctx context.Context, userID uuid.UUID, days int, amount decimal.Decimal, reason string) (circulation.Sanction, error) {
	sanction := circulation.BuildSanction(userID, uuid.NullUUID{}, days, amount, reason, r.clock.Now())

	if err := r.store.InsertSanction(ctx, sanction); err != nil {
		return circulation.Sanction{}, err
	}

	return sanction, nil
}

// Condone finishes a sanction: status condoned, end date now. Condoning a
// sanction that is already terminal is a no-op, not an error. Permitted at any
// time of day.
func (r *Registry) Condone(ctx context.Context, sanctionID uuid.UUID) error {
	if _, err := r.store.SanctionByID(ctx, sanctionID); err != nil {
		return err
	}

	_, err := r.store.CondoneSanction(ctx, sanctionID, r.clock.Now())

	return err
}

// ListActive returns the sanctions currently blocking the user. Sanctions the
// sweep has not expired yet but whose end date has passed are filtered out, so
// the listing never shows a stale block.
func (r *Registry) ListActive(ctx context.Context, userID uuid.UUID) ([]circulation.Sanction, error) {
	active, err := r.store.ActiveSanctionsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	blocking := make([]circulation.Sanction, 0, len(active))
	for _, s := range active {
		if s.IsBlocking(now) {
			blocking = append(blocking, s)
		}
	}

	return blocking, nil
}

// ExpireSweep transitions every active sanction past its end date to expired
// and returns how many were touched. Safe to re-run: re-expiring is a no-op.
func (r *Registry) ExpireSweep(ctx context.Context) (int64, error) {
	return r.store.ExpireLapsedSanctions(ctx, r.clock.Now())
}

// ListHistory returns all sanctions ever recorded for the user.
func (r *Registry) ListHistory(ctx context.Context, userID uuid.UUID) ([]circulation.Sanction, error) {
	return r.store.SanctionsFor(ctx, userID)
}

// AssessReturn computes the sanctions a closed loan has earned: an overdue
// sanction whose fine and length scale with the days late, and a severity
// sanction when the outcome is damaged or lost. The assessment is pure - the
// loan manager persists the result atomically with the loan close.
func (r *Registry) AssessReturn(loan circulation.Loan, outcome circulation.LoanStatus, now time.Time) []circulation.Sanction {
	var assessed []circulation.Sanction
	loanRef := uuid.NullUUID{UUID: loan.ID, Valid: true}

	if daysLate := loan.DaysLate(now); daysLate > 0 {
		fine := r.policy.DailyLateFine.Mul(decimal.NewFromInt(int64(daysLate)))
		days := r.policy.LateSanctionDays * daysLate
		reason := fmt.Sprintf("returned %d day(s) late", daysLate)

		assessed = append(assessed, circulation.BuildSanction(loan.UserID, loanRef, days, fine, reason, now))
	}

	if outcome == circulation.LoanDamaged || outcome == circulation.LoanLost {
		rule := r.policy.Severity[outcome]
		amount := rule.UnitCost.Mul(decimal.NewFromInt(int64(loan.Quantity)))
		reason := fmt.Sprintf("copy %s", outcome)

		assessed = append(assessed, circulation.BuildSanction(loan.UserID, loanRef, rule.Days, amount, reason, now))
	}

	return assessed
}

// RaiseForReturn assesses and immediately persists the sanctions for a return
// handled outside the loan manager, e.g. a retroactive correction.
func (r *Registry) RaiseForReturn(ctx context.Context, loan circulation.Loan, outcome circulation.LoanStatus, now time.Time) ([]circulation.Sanction, error) {
	var created []circulation.Sanction

	for _, sanction := range r.AssessReturn(loan, outcome, now) {
		if err := r.store.InsertSanction(ctx, sanction); err != nil {
			return created, err
		}

		created = append(created, sanction)
	}

	return created, nil
}
