package domain

import "time"

// Credit bounds and thresholds.
const (
	MinCredit = 0
	MaxCredit = 100

	MinCreditToBorrow = 60
	MinCreditToExtend = 80
	MinCreditToQueue  = 90

	// Readers below HighTierCredit get LowTierLimit concurrent loans,
	// everyone else HighTierLimit.
	HighTierCredit = 70
	LowTierLimit   = 2
	HighTierLimit  = 5
)

// Penalties and recovery, in credit points.
const (
	LatePenalty        = -10
	MissedPickupCharge = -10
	MonthlyRecovery    = 10
)

// Durations.
const (
	LoanPeriod       = 30 * 24 * time.Hour
	QueueCeiling     = 60 * 24 * time.Hour
	HoldPickupWindow = 3 * 24 * time.Hour
)

// MaxExtensionDays caps a single extension request.
const MaxExtensionDays = 90

// Ledger reasons and the operator name used by batch jobs.
const (
	SystemOperator    = "system"
	ReasonMissedHold  = "missed reservation pickup"
	ReasonMonthly     = "monthly recovery"
	ReasonOverdueTmpl = "overdue return: %d day(s) late"
)

// BorrowLimit returns the maximum number of concurrent active loans for a
// reader with the given credit.
func BorrowLimit(credit int) int {
	if credit < HighTierCredit {
		return LowTierLimit
	}
	return HighTierLimit
}

// ClampCredit bounds v to [MinCredit, MaxCredit].
func ClampCredit(v int) int {
	switch {
	case v < MinCredit:
		return MinCredit
	case v > MaxCredit:
		return MaxCredit
	}
	return v
}

// OverdueDays returns the number of started days between due and now.
// It is 0 when now is not after due.
func OverdueDays(due, now time.Time) int {
	if !now.After(due) {
		return 0
	}
	d := now.Sub(due)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
