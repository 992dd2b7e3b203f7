package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/libcirc/circulation-engine-go/circulation"
)

// Policy file errors.
var (
	ErrInvalidWallClock = errors.New("wall-clock values must be formatted HH:MM")
	ErrUnknownRole      = errors.New("unknown role in loan_rules")
	ErrUnknownSeverity  = errors.New("severity outcomes must be damaged or lost")
	ErrUnknownWeekday   = errors.New("unknown weekday in closed_weekdays")
)

// policyFile is the YAML schema of the policy file. Every field is optional;
// omitted fields keep the operational defaults.
type policyFile struct {
	Timezone       string `yaml:"timezone"`
	BusinessWindow struct {
		Opens          string   `yaml:"opens"`
		Closes         string   `yaml:"closes"`
		ClosedWeekdays []string `yaml:"closed_weekdays"`
	} `yaml:"business_window"`
	LoanRules map[string]struct {
		Days      int `yaml:"days"`
		MaxActive int `yaml:"max_active"`
	} `yaml:"loan_rules"`
	ReservationTTLHours int    `yaml:"reservation_ttl_hours"`
	DailyLateFine       string `yaml:"daily_late_fine"`
	LateSanctionDays    int    `yaml:"late_sanction_days"`
	Severity            map[string]struct {
		Days     int    `yaml:"days"`
		UnitCost string `yaml:"unit_cost"`
	} `yaml:"severity"`
	QuotaCountsFulfilled *bool `yaml:"quota_counts_fulfilled"`
	LostReducesTotal     *bool `yaml:"lost_reduces_total"`
}

// LoadPolicy reads a YAML policy file and returns the resulting policy.
func LoadPolicy(path string) (circulation.Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return circulation.Policy{}, fmt.Errorf("reading policy file: %w", err)
	}

	return ParsePolicy(data)
}

// ParsePolicy parses YAML policy bytes on top of the operational defaults.
func ParsePolicy(data []byte) (circulation.Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return circulation.Policy{}, fmt.Errorf("parsing policy file: %w", err)
	}

	loc := circulation.DefaultLocation()

	if file.Timezone != "" {
		parsed, err := time.LoadLocation(file.Timezone)
		if err != nil {
			return circulation.Policy{}, fmt.Errorf("loading timezone: %w", err)
		}

		loc = parsed
	}

	policy := circulation.DefaultPolicy(loc)

	if err := applyWindow(&policy, file); err != nil {
		return circulation.Policy{}, err
	}

	if err := applyLoanRules(&policy, file); err != nil {
		return circulation.Policy{}, err
	}

	if err := applySanctionRules(&policy, file); err != nil {
		return circulation.Policy{}, err
	}

	if file.ReservationTTLHours > 0 {
		policy.ReservationTTL = time.Duration(file.ReservationTTLHours) * time.Hour
	}

	if file.QuotaCountsFulfilled != nil {
		policy.QuotaCountsFulfilled = *file.QuotaCountsFulfilled
	}

	if file.LostReducesTotal != nil {
		policy.LostReducesTotal = *file.LostReducesTotal
	}

	return policy, nil
}

func applyWindow(policy *circulation.Policy, file policyFile) error {
	if file.BusinessWindow.Opens != "" {
		opens, err := parseWallClock(file.BusinessWindow.Opens)
		if err != nil {
			return err
		}

		policy.Window.Opens = opens
	}

	if file.BusinessWindow.Closes != "" {
		closes, err := parseWallClock(file.BusinessWindow.Closes)
		if err != nil {
			return err
		}

		policy.Window.Closes = closes
	}

	if len(file.BusinessWindow.ClosedWeekdays) > 0 {
		closed := make(map[time.Weekday]bool, len(file.BusinessWindow.ClosedWeekdays))

		for _, name := range file.BusinessWindow.ClosedWeekdays {
			weekday, err := parseWeekday(name)
			if err != nil {
				return err
			}

			closed[weekday] = true
		}

		policy.Window.ClosedWeekdays = closed
	}

	return nil
}

func applyLoanRules(policy *circulation.Policy, file policyFile) error {
	for name, rule := range file.LoanRules {
		role := circulation.Role(name)
		if role != circulation.RoleStudent && role != circulation.RoleFaculty {
			return fmt.Errorf("%w: %q", ErrUnknownRole, name)
		}

		policy.LoanRules[role] = circulation.LoanRule{
			Days:      rule.Days,
			MaxActive: rule.MaxActive,
		}
	}

	return nil
}

func applySanctionRules(policy *circulation.Policy, file policyFile) error {
	if file.DailyLateFine != "" {
		fine, err := decimal.NewFromString(file.DailyLateFine)
		if err != nil {
			return fmt.Errorf("parsing daily_late_fine: %w", err)
		}

		policy.DailyLateFine = fine
	}

	if file.LateSanctionDays > 0 {
		policy.LateSanctionDays = file.LateSanctionDays
	}

	for name, rule := range file.Severity {
		outcome := circulation.LoanStatus(name)
		if outcome != circulation.LoanDamaged && outcome != circulation.LoanLost {
			return fmt.Errorf("%w: %q", ErrUnknownSeverity, name)
		}

		unitCost, err := decimal.NewFromString(rule.UnitCost)
		if err != nil {
			return fmt.Errorf("parsing severity unit_cost: %w", err)
		}

		policy.Severity[outcome] = circulation.SeverityRule{
			Days:     rule.Days,
			UnitCost: unitCost,
		}
	}

	return nil
}

func parseWallClock(value string) (circulation.MinuteOfDay, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWallClock, value)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWallClock, value)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWallClock, value)
	}

	return circulation.Minute(hour, minute), nil
}

func parseWeekday(name string) (time.Weekday, error) {
	for weekday := time.Sunday; weekday <= time.Saturday; weekday++ {
		if strings.EqualFold(weekday.String(), name) {
			return weekday, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownWeekday, name)
}
