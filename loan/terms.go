package loan

import (
	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/money"
)

// =============================================================================
// LOAN TERMS - Product-level contract the schedule is generated from
// =============================================================================

type AmortizationType string

const (
	// AmortizationEqualInstallments keeps the total repayment per period
	// constant (annuity under declining interest).
	AmortizationEqualInstallments AmortizationType = "equal_installments"
	// AmortizationEqualPrincipal keeps the principal portion per period
	// constant; interest declines over time.
	AmortizationEqualPrincipal AmortizationType = "equal_principal"
)

type InterestType string

const (
	// InterestFlat charges a constant interest-per-period computed from the
	// original principal.
	InterestFlat InterestType = "flat"
	// InterestDeclining recomputes interest per period from the outstanding
	// principal after the previous period.
	InterestDeclining InterestType = "declining_balance"
)

type InterestCalcPeriod string

const (
	CalcPeriodDaily        InterestCalcPeriod = "daily"
	CalcPeriodSameAsRepaym InterestCalcPeriod = "same_as_repayment"
)

type PeriodFrequency string

const (
	FrequencyDays   PeriodFrequency = "days"
	FrequencyWeeks  PeriodFrequency = "weeks"
	FrequencyMonths PeriodFrequency = "months"
)

type DayCountConvention string

const (
	DayCountActual360    DayCountConvention = "actual/360"
	DayCountActual365    DayCountConvention = "actual/365"
	DayCount30_360       DayCountConvention = "30/360"
	DayCountActualActual DayCountConvention = "actual/actual"
)

// DaysInYear returns the convention's year denominator for the given year.
func (c DayCountConvention) DaysInYear(year int) decimal.Decimal {
	switch c {
	case DayCountActual360, DayCount30_360:
		return decimal.NewFromInt(360)
	case DayCountActualActual:
		if isLeapYear(year) {
			return decimal.NewFromInt(366)
		}
		return decimal.NewFromInt(365)
	default:
		return decimal.NewFromInt(365)
	}
}

// PeriodDays returns the day count of a period under the convention.
func (c DayCountConvention) PeriodDays(from, to Date) int {
	if c == DayCount30_360 {
		// 30/360 US: each whole month counts 30 days.
		d1, d2 := from.Day(), to.Day()
		if d1 == 31 {
			d1 = 30
		}
		if d2 == 31 && d1 == 30 {
			d2 = 30
		}
		months := (to.Year()-from.Year())*12 + int(to.Month()-from.Month())
		return months*30 + (d2 - d1)
	}
	return DaysBetween(from, to)
}

func isLeapYear(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// LoanTerms carries everything the schedule generator needs.
type LoanTerms struct {
	Principal          money.Money        `json:"principal"` // approved principal
	AnnualRate         decimal.Decimal    `json:"annual_rate"` // percent, e.g. 12 for 12%
	Installments       int                `json:"installments"`
	RepayEvery         int                `json:"repay_every"`
	Frequency          PeriodFrequency    `json:"frequency"`
	Amortization       AmortizationType   `json:"amortization"`
	Interest           InterestType       `json:"interest"`
	InterestCalcPeriod InterestCalcPeriod `json:"interest_calc_period"`
	DayCount           DayCountConvention `json:"day_count"`

	// FirstRepaymentDate overrides the derived first due date when set.
	FirstRepaymentDate Date `json:"first_repayment_date,omitempty"`

	// Multi-disbursement
	MultiDisbursement bool `json:"multi_disbursement"`
	MaxTranches       int  `json:"max_tranches"`

	// InstallmentMultiple snaps installment principal portions to whole
	// multiples (default 1).
	InstallmentMultiple int64 `json:"installment_multiple"`

	GraceOnArrearsAgeing  int  `json:"grace_on_arrears_ageing"`
	InterestRecalculation bool `json:"interest_recalculation"`
	AccrualAccounting     bool `json:"accrual_accounting"`

	// OverduePenaltyRate is the percentage of an installment's overdue total
	// charged as a penalty by the close-of-business pipeline, once per
	// overdue installment. Zero disables overdue penalties.
	OverduePenaltyRate decimal.Decimal `json:"overdue_penalty_rate"`
	// OverduePenaltyGraceDays delays the penalty after the due date.
	OverduePenaltyGraceDays int `json:"overdue_penalty_grace_days"`
}

// Validate rejects terms that can never produce a schedule.
func (t LoanTerms) Validate() error {
	if !t.Principal.IsPositive() {
		return &ValidationError{Field: "principal", Message: "must be positive"}
	}
	if t.Installments < 1 {
		return &ValidationError{Field: "installments", Message: "must be at least 1"}
	}
	if t.RepayEvery < 1 {
		return &ValidationError{Field: "repay_every", Message: "must be at least 1"}
	}
	if t.AnnualRate.IsNegative() {
		return &ValidationError{Field: "annual_rate", Message: "cannot be negative"}
	}
	switch t.Frequency {
	case FrequencyDays, FrequencyWeeks, FrequencyMonths:
	default:
		return &ValidationError{Field: "frequency", Message: "unknown repayment frequency"}
	}
	if t.MultiDisbursement && t.MaxTranches < 1 {
		return &ValidationError{Field: "max_tranches", Message: "required for multi-disbursement loans"}
	}
	return nil
}

// PeriodRate converts the annual percentage rate into the per-period factor
// for a concrete period, honoring the day-count convention. Flat loans with
// CalcPeriodSameAsRepaym use the nominal period fraction instead of actual
// days so every period carries identical interest.
func (t LoanTerms) PeriodRate(from, to Date) decimal.Decimal {
	rate := t.AnnualRate.Div(decimal.NewFromInt(100))
	if t.InterestCalcPeriod == CalcPeriodSameAsRepaym && t.Frequency == FrequencyMonths {
		months := decimal.NewFromInt(int64(t.RepayEvery))
		return rate.Mul(months).Div(decimal.NewFromInt(12))
	}
	days := decimal.NewFromInt(int64(t.DayCount.PeriodDays(from, to)))
	return rate.Mul(days).Div(t.DayCount.DaysInYear(from.Year()))
}

// DailyRate is the accrual engine's per-day factor.
func (t LoanTerms) DailyRate(year int) decimal.Decimal {
	return t.AnnualRate.Div(decimal.NewFromInt(100)).Div(t.DayCount.DaysInYear(year))
}

// =============================================================================
// CHARGES - Fees and penalties attached to the schedule by due date
// =============================================================================

type ChargeID string

// Charge is a fee or penalty that becomes due on a date. Charges live on the
// loan (not the ledger); replay re-applies them while rebuilding the
// schedule, so allocation against them is deterministic.
type Charge struct {
	ID      ChargeID    `json:"id"`
	Bucket  Bucket      `json:"bucket"` // BucketFee or BucketPenalty only
	Amount  money.Money `json:"amount"`
	DueDate Date        `json:"due_date"`
}

func (c Charge) Validate() error {
	if c.Bucket != BucketFee && c.Bucket != BucketPenalty {
		return &ValidationError{Field: "bucket", Message: "charge bucket must be fee or penalty"}
	}
	if !c.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "charge amount must be positive"}
	}
	if c.DueDate.IsZero() {
		return &ValidationError{Field: "due_date", Message: "charge due date is mandatory"}
	}
	return nil
}
