/*
schedule.go - Installments and the schedule generator

PURPOSE:
  Builds the ordered installment sequence from loan terms, and rebuilds the
  remaining future installments when a tranche is disbursed or undone.

INVARIANT (per bucket, for every installment, always):
  due = paid + waived + outstanding

  Outstanding is derived (due - paid - waived), so the identity holds by
  construction; what the engine actually enforces is that no bucket's
  outstanding ever goes negative.

DATE RULES:
  Monthly periods preserve the seed day of month: a schedule seeded on the
  31st falls due on the 28th/29th/30th in shorter months and returns to the
  31st afterwards.

CHARGES:
  A charge due on or before maturity lands in the earliest installment whose
  due date covers it. A charge due strictly after maturity creates one
  additional charge-only installment (N+1). Rescheduling the maturity past
  the charge's due date merges the charge back into the last regular
  installment.
*/
package loan

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/money"
)

// =============================================================================
// INSTALLMENT
// =============================================================================

type Installment struct {
	Seq      int      `json:"seq"`
	FromDate Date     `json:"from_date"`
	DueDate  Date     `json:"due_date"`
	Due      Portions `json:"due"`
	Paid     Portions `json:"paid"`
	Waived   Portions `json:"waived"`

	// Additional marks the N+1 charge-only installment appended after
	// maturity.
	Additional bool `json:"additional"`
}

// Outstanding is the derived remainder for one bucket.
func (i *Installment) Outstanding(b Bucket) money.Money {
	return i.Due.Get(b).Sub(i.Paid.Get(b)).Sub(i.Waived.Get(b))
}

func (i *Installment) OutstandingPortions() Portions {
	p := i.Due
	for _, b := range AllBuckets {
		p = p.With(b, i.Outstanding(b))
	}
	return p
}

func (i *Installment) TotalOutstanding() money.Money {
	return i.OutstandingPortions().Total()
}

// Complete reports whether every bucket is fully paid or waived.
func (i *Installment) Complete() bool {
	return i.TotalOutstanding().IsZero()
}

// Overdue reports outstanding amounts past their due date.
func (i *Installment) Overdue(businessDate Date) bool {
	return i.DueDate.Before(businessDate) && !i.Complete()
}

// pay consumes up to the bucket's outstanding from amount and returns the
// consumed portion.
func (i *Installment) pay(b Bucket, amount money.Money) money.Money {
	portion := amount.Min(i.Outstanding(b))
	if !portion.IsPositive() {
		return amount.Zero()
	}
	i.Paid = i.Paid.Add(b, portion)
	return portion
}

// waive mirrors pay into the waived bucket.
func (i *Installment) waive(b Bucket, amount money.Money) money.Money {
	portion := amount.Min(i.Outstanding(b))
	if !portion.IsPositive() {
		return amount.Zero()
	}
	i.Waived = i.Waived.Add(b, portion)
	return portion
}

// addDue restores amounts onto the installment (chargeback).
func (i *Installment) addDue(b Bucket, amount money.Money) {
	if amount.IsPositive() {
		i.Due = i.Due.Add(b, amount)
	}
}

func (i *Installment) clone() *Installment {
	cp := *i
	return &cp
}

func cloneSchedule(s []*Installment) []*Installment {
	out := make([]*Installment, len(s))
	for idx, inst := range s {
		out[idx] = inst.clone()
	}
	return out
}

// =============================================================================
// SCHEDULE GENERATION
// =============================================================================

// ScheduleSpec bundles the inputs a generation pass needs.
type ScheduleSpec struct {
	Terms    LoanTerms
	Currency string

	// Principal actually being amortized (total disbursed for active loans,
	// approved principal for previews).
	Principal money.Money

	// Start is the disbursement date; periods are anchored on it.
	Start Date

	Charges []Charge

	// MaturityOverride moves the last regular installment's due date
	// (reschedule). Zero means no override.
	MaturityOverride Date
}

// GenerateSchedule produces the full installment sequence.
func GenerateSchedule(spec ScheduleSpec) []*Installment {
	dueDates := repaymentDates(spec.Terms, spec.Start)
	if !spec.MaturityOverride.IsZero() {
		dueDates[len(dueDates)-1] = spec.MaturityOverride
	}

	principals := splitPrincipal(spec.Terms, spec.Principal, len(dueDates))
	interests := interestPerPeriod(spec.Terms, spec.Principal, principals, spec.Start, dueDates)

	zero := money.Zero(spec.Currency)
	installments := make([]*Installment, 0, len(dueDates)+1)
	from := spec.Start
	for idx, due := range dueDates {
		inst := &Installment{
			Seq:      idx + 1,
			FromDate: from,
			DueDate:  due,
			Due: Portions{
				Principal: principals[idx],
				Interest:  interests[idx],
				Fee:       zero,
				Penalty:   zero,
			},
			Paid:   ZeroPortions(spec.Currency),
			Waived: ZeroPortions(spec.Currency),
		}
		installments = append(installments, inst)
		from = due
	}

	return attachCharges(installments, spec.Charges, spec.Currency)
}

// repaymentDates derives the ordered due dates from the terms.
func repaymentDates(terms LoanTerms, start Date) []Date {
	dates := make([]Date, 0, terms.Installments)

	seedDay := start.Day()
	current := start
	if !terms.FirstRepaymentDate.IsZero() {
		current = terms.FirstRepaymentDate
		seedDay = current.Day()
		dates = append(dates, current)
	} else {
		current = advancePeriod(terms, current, seedDay)
		seedDay = maxInt(seedDay, current.Day())
		dates = append(dates, current)
	}

	for len(dates) < terms.Installments {
		current = advancePeriod(terms, current, seedDay)
		dates = append(dates, current)
	}
	return dates
}

func advancePeriod(terms LoanTerms, from Date, seedDay int) Date {
	switch terms.Frequency {
	case FrequencyMonths:
		return from.AddMonthsKeepSeed(terms.RepayEvery, seedDay)
	case FrequencyWeeks:
		return from.AddDays(7 * terms.RepayEvery)
	default:
		return from.AddDays(terms.RepayEvery)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// splitPrincipal distributes the principal across n installments. All but
// the last are snapped to the installment multiple; the last absorbs the
// remainder so the column sums exactly to the principal.
func splitPrincipal(terms LoanTerms, principal money.Money, n int) []money.Money {
	multiple := terms.InstallmentMultiple
	if multiple == 0 {
		multiple = 1
	}

	out := make([]money.Money, n)
	if n == 1 {
		out[0] = principal
		return out
	}

	if terms.Amortization == AmortizationEqualInstallments && terms.Interest == InterestDeclining && terms.AnnualRate.IsPositive() {
		return annuityPrincipals(terms, principal, n)
	}

	per := principal.Div(decimal.NewFromInt(int64(n))).SnapToMultiple(multiple)
	running := principal.Zero()
	for idx := 0; idx < n-1; idx++ {
		out[idx] = per
		running = running.Add(per)
	}
	out[n-1] = principal.Sub(running)
	return out
}

// annuityPrincipals sizes principal portions so the total payment per period
// stays constant under declining-balance interest.
func annuityPrincipals(terms LoanTerms, principal money.Money, n int) []money.Money {
	// Nominal per-period rate; annuity math needs a constant factor.
	r := nominalPeriodRate(terms)
	out := make([]money.Money, n)
	if r.IsZero() {
		per := principal.Div(decimal.NewFromInt(int64(n)))
		running := principal.Zero()
		for idx := 0; idx < n-1; idx++ {
			out[idx] = per
			running = running.Add(per)
		}
		out[n-1] = principal.Sub(running)
		return out
	}

	one := decimal.NewFromInt(1)
	compound := one.Add(r).Pow(decimal.NewFromInt(int64(n)))
	// payment = P * r * (1+r)^n / ((1+r)^n - 1)
	payment := principal.MulRaw(r).MulRaw(compound).Div(compound.Sub(one)).Round()

	outstanding := principal
	for idx := 0; idx < n-1; idx++ {
		interest := outstanding.Mul(r)
		out[idx] = payment.Sub(interest)
		outstanding = outstanding.Sub(out[idx])
	}
	out[n-1] = outstanding
	return out
}

func nominalPeriodRate(terms LoanTerms) decimal.Decimal {
	rate := terms.AnnualRate.Div(decimal.NewFromInt(100))
	every := decimal.NewFromInt(int64(terms.RepayEvery))
	switch terms.Frequency {
	case FrequencyMonths:
		return rate.Mul(every).Div(decimal.NewFromInt(12))
	case FrequencyWeeks:
		return rate.Mul(every.Mul(decimal.NewFromInt(7))).Div(decimal.NewFromInt(365))
	default:
		return rate.Mul(every).Div(decimal.NewFromInt(365))
	}
}

// interestPerPeriod computes the interest column.
func interestPerPeriod(terms LoanTerms, principal money.Money, principals []money.Money, start Date, dueDates []Date) []money.Money {
	out := make([]money.Money, len(dueDates))
	if terms.AnnualRate.IsZero() {
		for idx := range out {
			out[idx] = principal.Zero()
		}
		return out
	}

	from := start
	outstanding := principal
	for idx, due := range dueDates {
		rate := terms.PeriodRate(from, due)
		switch terms.Interest {
		case InterestFlat:
			// Constant per-period interest from the original principal.
			out[idx] = principal.Mul(rate)
		default:
			// Declining balance: interest on the principal outstanding after
			// the previous period.
			out[idx] = outstanding.Mul(rate)
		}
		outstanding = outstanding.Sub(principals[idx])
		from = due
	}
	return out
}

// attachCharges folds fee/penalty charges into the installments. Charges due
// after the last regular installment produce a single additional installment
// at the latest such due date.
func attachCharges(installments []*Installment, charges []Charge, currency string) []*Installment {
	if len(installments) == 0 {
		return installments
	}
	lastRegular := installments[len(installments)-1]

	var postMaturity []Charge
	for _, c := range charges {
		if c.DueDate.After(lastRegular.DueDate) {
			postMaturity = append(postMaturity, c)
			continue
		}
		target := lastRegular
		for _, inst := range installments {
			if c.DueDate.BeforeOrEqual(inst.DueDate) {
				target = inst
				break
			}
		}
		target.Due = target.Due.Add(c.Bucket, c.Amount)
	}

	if len(postMaturity) == 0 {
		return installments
	}

	extra := &Installment{
		Seq:        lastRegular.Seq + 1,
		FromDate:   lastRegular.DueDate,
		DueDate:    postMaturity[0].DueDate,
		Due:        ZeroPortions(currency),
		Paid:       ZeroPortions(currency),
		Waived:     ZeroPortions(currency),
		Additional: true,
	}
	for _, c := range postMaturity {
		if c.DueDate.After(extra.DueDate) {
			extra.DueDate = c.DueDate
		}
		extra.Due = extra.Due.Add(c.Bucket, c.Amount)
	}
	return append(installments, extra)
}

// =============================================================================
// TRANCHE REGENERATION
// =============================================================================

// RegenerateForPrincipal rebuilds the future portion of an existing schedule
// after a tranche is disbursed or undone. Installments due strictly before
// asOf keep their due amounts (and all paid/waived state) unchanged; the
// remaining principal is redistributed over the installments due on or after
// asOf, and declining interest is recomputed from the new outstanding path.
func RegenerateForPrincipal(sched []*Installment, spec ScheduleSpec, asOf Date) []*Installment {
	regenerated := GenerateSchedule(spec)

	// Index regenerated installments by sequence for the future part.
	bySeq := make(map[int]*Installment, len(regenerated))
	for _, inst := range regenerated {
		bySeq[inst.Seq] = inst
	}

	out := make([]*Installment, 0, len(regenerated))
	var pastPrincipal money.Money = spec.Principal.Zero()
	var futureSeqs []int
	for _, inst := range sched {
		if inst.DueDate.Before(asOf) && !inst.Additional {
			kept := inst.clone()
			out = append(out, kept)
			pastPrincipal = pastPrincipal.Add(inst.Due.Principal)
		} else {
			futureSeqs = append(futureSeqs, inst.Seq)
		}
	}

	if len(futureSeqs) == 0 {
		return out
	}

	// Redistribute the remaining principal across the kept future periods.
	remaining := spec.Principal.Sub(pastPrincipal)
	futureTerms := spec.Terms
	futureCount := 0
	for _, seq := range futureSeqs {
		if tmpl := bySeq[seq]; tmpl != nil && !tmpl.Additional {
			futureCount++
		}
	}
	if futureCount == 0 {
		futureCount = 1
	}
	principals := splitPrincipal(futureTerms, remaining, futureCount)

	idx := 0
	outstanding := remaining
	from := asOf
	if len(out) > 0 {
		from = out[len(out)-1].DueDate
	}
	for _, seq := range futureSeqs {
		tmpl := bySeq[seq]
		if tmpl == nil {
			continue
		}
		inst := tmpl.clone()
		// Preserve payment state already recorded on the old installment.
		for _, old := range sched {
			if old.Seq == seq {
				inst.Paid = old.Paid
				inst.Waived = old.Waived
				break
			}
		}
		if !inst.Additional {
			inst.Due = inst.Due.With(BucketPrincipal, principals[idx])
			if spec.Terms.Interest == InterestDeclining && spec.Terms.AnnualRate.IsPositive() {
				rate := spec.Terms.PeriodRate(from, inst.DueDate)
				inst.Due = inst.Due.With(BucketInterest, outstanding.Mul(rate))
			}
			outstanding = outstanding.Sub(principals[idx])
			from = inst.DueDate
			idx++
		}
		out = append(out, inst)
	}
	return out
}

// =============================================================================
// INVARIANT CHECK
// =============================================================================

// CheckScheduleInvariants verifies that no bucket's outstanding is negative.
// due = paid + waived + outstanding holds by derivation; a negative
// outstanding is the observable way the identity can break.
func CheckScheduleInvariants(sched []*Installment) error {
	for _, inst := range sched {
		for _, b := range AllBuckets {
			if inst.Outstanding(b).IsNegative() {
				return &ReplayError{
					Detail: "negative " + string(b) + " outstanding on installment " + strconv.Itoa(inst.Seq),
				}
			}
		}
	}
	return nil
}
