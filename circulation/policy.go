package circulation

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanRule is the per-role lending policy.
type LoanRule struct {
	Days      int // loan period in days
	MaxActive int // max concurrent active loans
}

// SeverityRule is the sanction policy applied when a return outcome is
// damaged or lost.
type SeverityRule struct {
	Days     int             // fixed sanction length
	UnitCost decimal.Decimal // charged per lent copy
}

// Policy bundles every configured business rule the engine consumes. It is
// provided by the configuration collaborator and treated as immutable.
type Policy struct {
	Window         BusinessWindow
	LoanRules      map[Role]LoanRule
	ReservationTTL time.Duration

	// Overdue returns: fine accrues per late day, sanction length scales with
	// the number of late days.
	DailyLateFine    decimal.Decimal
	LateSanctionDays int // sanction days added per late day
	Severity         map[LoanStatus]SeverityRule

	// QuotaCountsFulfilled widens the reservation quota check to also count
	// fulfilled-but-recent reservations. Default counts pending only.
	QuotaCountsFulfilled bool

	// LostReducesTotal permanently removes lost copies from TotalCopies
	// instead of restoring their availability.
	LostReducesTotal bool
}

// DefaultPolicy returns the operational defaults in the given zone.
func DefaultPolicy(loc *time.Location) Policy {
	return Policy{
		Window: DefaultBusinessWindow(loc),
		LoanRules: map[Role]LoanRule{
			RoleStudent: {Days: 7, MaxActive: 3},
			RoleFaculty: {Days: 14, MaxActive: 5},
		},
		ReservationTTL:   2 * 24 * time.Hour,
		DailyLateFine:    decimal.NewFromFloat(2.50),
		LateSanctionDays: 2,
		Severity: map[LoanStatus]SeverityRule{
			LoanDamaged: {Days: 15, UnitCost: decimal.NewFromFloat(25.00)},
			LoanLost:    {Days: 30, UnitCost: decimal.NewFromFloat(60.00)},
		},
	}
}

// LoanRuleFor returns the lending rule for a role, falling back to the
// student rule for roles without an explicit entry.
func (p Policy) LoanRuleFor(role Role) LoanRule {
	if rule, ok := p.LoanRules[role]; ok {
		return rule
	}

	return p.LoanRules[RoleStudent]
}

// DueAt computes the due instant for a loan created at the given time: the
// business-window close on the day the period ends.
func (p Policy) DueAt(createdAt time.Time, role Role) time.Time {
	rule := p.LoanRuleFor(role)

	return p.Window.CloseOn(createdAt.AddDate(0, 0, rule.Days))
}
