/*
cobsteps.go - Close-of-business step implementations

PURPOSE:
  Each nightly step is a named mutation the COB runner executes per loan in a
  strict, fixed order. Steps run against the cloned aggregate inside the
  engine's per-loan critical section, so a COB cycle for one loan is
  serialized with any inbound transaction on the same loan.

STEP ORDER (never reordered, never parallelized within one loan):
  apply-overdue-charges -> delinquency-classification -> check-due ->
  check-overdue -> update-arrears-ageing -> accrual -> accrual-activity ->
  interest-recalculation
*/
package loan

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STEP REGISTRY
// =============================================================================

type COBStep string

const (
	StepApplyOverdueCharges   COBStep = "apply-overdue-charges"
	StepDelinquency           COBStep = "delinquency-classification"
	StepCheckDue              COBStep = "check-due"
	StepCheckOverdue          COBStep = "check-overdue"
	StepUpdateArrearsAgeing   COBStep = "update-arrears-ageing"
	StepAccrual               COBStep = "accrual"
	StepAccrualActivity       COBStep = "accrual-activity"
	StepInterestRecalculation COBStep = "interest-recalculation"
)

// COBStepOrder is the canonical execution order.
var COBStepOrder = []COBStep{
	StepApplyOverdueCharges,
	StepDelinquency,
	StepCheckDue,
	StepCheckOverdue,
	StepUpdateArrearsAgeing,
	StepAccrual,
	StepAccrualActivity,
	StepInterestRecalculation,
}

// StepResult reports what a single step did to a single loan.
type StepResult struct {
	Step         COBStep
	Loan         *Loan
	Changed      bool
	Transactions []*Transaction
	// DueToday / OverdueSeqs carry installment sequence numbers for the two
	// check steps; they feed notifications, not balances.
	DueToday    []int
	OverdueSeqs []int
	Delinquency *DelinquencyState
}

// RunCOBStep executes one named step for one loan at a business date.
func (e *Engine) RunCOBStep(ctx context.Context, id LoanID, step COBStep, businessDate Date) (*StepResult, error) {
	if businessDate.IsZero() {
		return nil, &ValidationError{Field: "business_date", Message: "mandatory"}
	}
	res := &StepResult{Step: step}
	var delinquencyMoved bool
	l, err := e.withLoan(ctx, id, func(l *Loan) error {
		switch step {
		case StepApplyOverdueCharges:
			return e.stepApplyOverdueCharges(l, businessDate, res)
		case StepDelinquency:
			return e.stepDelinquency(l, businessDate, res, &delinquencyMoved)
		case StepCheckDue:
			return e.stepCheckDue(l, businessDate, res)
		case StepCheckOverdue:
			return e.stepCheckOverdue(l, businessDate, res)
		case StepUpdateArrearsAgeing:
			return e.stepUpdateArrearsAgeing(l, businessDate, res)
		case StepAccrual:
			return e.stepAccrual(l, businessDate, res)
		case StepAccrualActivity:
			return e.stepAccrualActivity(l, businessDate, res)
		case StepInterestRecalculation:
			return e.stepInterestRecalculation(l, businessDate, res)
		default:
			return &ValidationError{Field: "step", Message: "unknown COB step " + string(step)}
		}
	})
	if err != nil {
		return nil, err
	}
	res.Loan = l
	for _, tx := range res.Transactions {
		e.notify(ctx, l, tx)
	}
	if delinquencyMoved && e.events != nil && res.Delinquency != nil {
		e.events.DelinquencyChanged(ctx, l, *res.Delinquency)
	}
	return res, nil
}

// =============================================================================
// STEP IMPLEMENTATIONS
// =============================================================================

// stepApplyOverdueCharges adds a penalty charge per overdue installment that
// does not already carry one. The charge ID is derived from the installment
// sequence, which is what makes the step idempotent across COB re-runs.
func (e *Engine) stepApplyOverdueCharges(l *Loan, businessDate Date, res *StepResult) error {
	if !l.Status.Open() || l.Terms.OverduePenaltyRate.IsZero() {
		return nil
	}
	rate := l.Terms.OverduePenaltyRate.Div(decimal.NewFromInt(100))
	added := false
	for _, inst := range l.Schedule {
		if !inst.Overdue(businessDate) {
			continue
		}
		if DaysBetween(inst.DueDate, businessDate) < l.Terms.OverduePenaltyGraceDays {
			continue
		}
		chargeID := ChargeID("overdue-penalty-" + strconv.Itoa(inst.Seq))
		if l.chargeExists(chargeID) {
			continue
		}
		penalty := inst.TotalOutstanding().Mul(rate)
		if !penalty.IsPositive() {
			continue
		}
		l.Charges = append(l.Charges, Charge{
			ID:      chargeID,
			Bucket:  BucketPenalty,
			Amount:  penalty,
			DueDate: inst.DueDate,
		})
		added = true
	}
	if !added {
		return nil
	}
	res.Changed = true
	return Replay(l)
}

func (l *Loan) chargeExists(id ChargeID) bool {
	for _, c := range l.Charges {
		if c.ID == id {
			return true
		}
	}
	return false
}

// stepDelinquency reclassifies and stores the result on the loan. Movement
// is a change in classification; the first run on a never-delinquent loan
// stores the empty state without counting as one.
func (e *Engine) stepDelinquency(l *Loan, businessDate Date, res *StepResult, moved *bool) error {
	state := ClassifyDelinquency(l, businessDate, e.NextDueDateMode)
	prev := ""
	if l.Delinquency != nil {
		prev = l.Delinquency.Classification
	}
	*moved = prev != state.Classification
	res.Changed = *moved
	res.Delinquency = &state
	l.Delinquency = &state
	return nil
}

// stepCheckDue collects installments falling due exactly on the business
// date. Pure detection: balances never move.
func (e *Engine) stepCheckDue(l *Loan, businessDate Date, res *StepResult) error {
	for _, inst := range l.Schedule {
		if inst.DueDate.Equal(businessDate) && !inst.Complete() {
			res.DueToday = append(res.DueToday, inst.Seq)
		}
	}
	return nil
}

// stepCheckOverdue collects installments overdue at the business date.
func (e *Engine) stepCheckOverdue(l *Loan, businessDate Date, res *StepResult) error {
	for _, inst := range l.Schedule {
		if inst.Overdue(businessDate) {
			res.OverdueSeqs = append(res.OverdueSeqs, inst.Seq)
		}
	}
	return nil
}

// stepUpdateArrearsAgeing pins ArrearsSince to the oldest overdue due date,
// clearing it when the loan caught up.
func (e *Engine) stepUpdateArrearsAgeing(l *Loan, businessDate Date, res *StepResult) error {
	var oldest Date
	for _, inst := range l.Schedule {
		if inst.Overdue(businessDate) && (oldest.IsZero() || inst.DueDate.Before(oldest)) {
			oldest = inst.DueDate
		}
	}
	if !l.ArrearsSince.Equal(oldest) {
		l.ArrearsSince = oldest
		res.Changed = true
	}
	return nil
}

// stepAccrual posts the day's accrual. Idempotent by date: a prior accrual
// on the same business date is reversed first and the replacement carries a
// supersedes relation, so re-running a COB day never double-counts.
func (e *Engine) stepAccrual(l *Loan, businessDate Date, res *StepResult) error {
	if !l.Terms.AccrualAccounting || !l.Status.Open() {
		return nil
	}
	prior := FindAccrualOn(l, businessDate)
	if prior != nil {
		if err := ReverseTransaction(l, prior.ID); err != nil {
			return err
		}
	}
	tx := BuildAccrual(l, e.newID(), businessDate)
	if tx == nil {
		return nil
	}
	if prior != nil {
		tx.Relate(RelationSupersedes, prior.ID)
	}
	if err := Insert(l, tx); err != nil {
		return err
	}
	res.Changed = true
	res.Transactions = append(res.Transactions, tx)
	return nil
}

// stepAccrualActivity posts the per-period aggregation transactions for
// repayment periods that closed without one.
func (e *Engine) stepAccrualActivity(l *Loan, businessDate Date, res *StepResult) error {
	if !l.Terms.AccrualAccounting || !l.Status.Open() {
		return nil
	}
	for _, tx := range BuildAccrualActivities(l, businessDate, e.newID) {
		if err := Insert(l, tx); err != nil {
			return err
		}
		res.Changed = true
		res.Transactions = append(res.Transactions, tx)
	}
	return nil
}

// stepInterestRecalculation reprices future interest from the current
// outstanding principal on declining-balance loans with recalculation on.
func (e *Engine) stepInterestRecalculation(l *Loan, businessDate Date, res *StepResult) error {
	if !l.Status.Open() {
		return nil
	}
	res.Changed = RecalculateInterest(l, businessDate)
	return nil
}

// =============================================================================
// INTEREST RECALCULATION
// =============================================================================

// RecalculateInterest reprices the interest due on future installments from
// the principal actually still outstanding, so early principal repayments
// shrink future interest. Interest on an installment never drops below what
// was already paid or waived on it.
func RecalculateInterest(l *Loan, businessDate Date) bool {
	if !l.Terms.InterestRecalculation || l.Terms.Interest != InterestDeclining {
		return false
	}
	changed := false
	outstanding := l.PrincipalOutstanding()
	for _, inst := range l.Schedule {
		if !inst.DueDate.After(businessDate) {
			outstanding = outstanding.Sub(inst.Outstanding(BucketPrincipal))
			continue
		}
		repriced := outstanding.Mul(l.Terms.PeriodRate(inst.FromDate, inst.DueDate))
		floor := inst.Paid.Interest.Add(inst.Waived.Interest)
		repriced = repriced.Max(floor)
		if !repriced.Equal(inst.Due.Interest) {
			inst.Due = inst.Due.With(BucketInterest, repriced)
			changed = true
		}
		outstanding = outstanding.Sub(inst.Outstanding(BucketPrincipal))
	}
	return changed
}
