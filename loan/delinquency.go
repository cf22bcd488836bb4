/*
delinquency.go - Delinquency classifier

A DelinquencyBucket maps installment age-in-days to a severity label through
an ordered, non-overlapping set of day ranges. The classifier is a pure
read-consumer of schedule state: given a business date it derives the
per-installment and loan-level classification, never mutating the ledger.
*/
package loan

import (
	"sort"

	"github.com/warp/loan-engine/money"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// DelinquencyRange maps [MinAge, MaxAge] days overdue to a classification.
// A nil MaxAge means open-ended.
type DelinquencyRange struct {
	Classification string `json:"classification"`
	MinAge         int    `json:"min_age"`
	MaxAge         *int   `json:"max_age,omitempty"`
}

func (r DelinquencyRange) contains(age int) bool {
	if age < r.MinAge {
		return false
	}
	return r.MaxAge == nil || age <= *r.MaxAge
}

// DelinquencyBucket owns the ordered ranges. Bucket names are unique at the
// product-configuration level.
type DelinquencyBucket struct {
	Name   string             `json:"name"`
	Ranges []DelinquencyRange `json:"ranges"`
}

// Validate rejects overlapping ranges.
func (b DelinquencyBucket) Validate() error {
	ranges := append([]DelinquencyRange(nil), b.Ranges...)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].MinAge < ranges[j].MinAge })
	for i := 1; i < len(ranges); i++ {
		prev := ranges[i-1]
		if prev.MaxAge == nil || *prev.MaxAge >= ranges[i].MinAge {
			return &ValidationError{
				Field:   "ranges",
				Message: "delinquency ranges overlap: " + prev.Classification + " and " + ranges[i].Classification,
			}
		}
	}
	return nil
}

// Classify returns the label for an age, or "" when no range matches.
// Ranges are checked in ascending min-age order; first match wins.
func (b DelinquencyBucket) Classify(age int) string {
	ranges := append([]DelinquencyRange(nil), b.Ranges...)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].MinAge < ranges[j].MinAge })
	for _, r := range ranges {
		if r.contains(age) {
			return r.Classification
		}
	}
	return ""
}

// =============================================================================
// NEXT PAYMENT DUE DATE
// =============================================================================

// NextDueDateMode configures which installment counts as the next payment.
type NextDueDateMode string

const (
	// EarliestUnpaidDate: lowest due date with any outstanding.
	EarliestUnpaidDate NextDueDateMode = "earliest_unpaid_date"
	// NextUnpaidDueDate: skips installments already fully covered, honoring
	// an additional charge-only installment as the terminal case.
	NextUnpaidDueDate NextDueDateMode = "next_unpaid_due_date"
)

// =============================================================================
// CLASSIFIER
// =============================================================================

// DelinquencyState is the classifier's output, stored on the loan by COB.
type DelinquencyState struct {
	Classification     string      `json:"classification,omitempty"`
	OverdueDays        int         `json:"overdue_days"`
	DelinquentAmount   money.Money `json:"delinquent_amount"`
	OldestOverdueDate  Date        `json:"oldest_overdue_date,omitempty"`
	NextPaymentDueDate Date        `json:"next_payment_due_date,omitempty"`
}

// ClassifyDelinquency derives the loan-level delinquency state at a business
// date. Grace-on-arrears-ageing shifts the effective age; the loan level
// classification is the worst (highest age) across overdue installments.
func ClassifyDelinquency(l *Loan, businessDate Date, mode NextDueDateMode) DelinquencyState {
	state := DelinquencyState{DelinquentAmount: money.Zero(l.Currency)}

	worstAge := 0
	for _, inst := range l.Schedule {
		if !inst.Overdue(businessDate) {
			continue
		}
		age := DaysBetween(inst.DueDate, businessDate) - l.Terms.GraceOnArrearsAgeing
		if age < 0 {
			age = 0
		}
		state.DelinquentAmount = state.DelinquentAmount.Add(inst.TotalOutstanding())
		if state.OldestOverdueDate.IsZero() || inst.DueDate.Before(state.OldestOverdueDate) {
			state.OldestOverdueDate = inst.DueDate
		}
		if age > worstAge {
			worstAge = age
		}
	}

	if state.DelinquentAmount.IsPositive() && worstAge > 0 {
		state.OverdueDays = worstAge
		state.Classification = l.DelinquencyBucket.Classify(worstAge)
	}
	state.NextPaymentDueDate = nextPaymentDueDate(l, mode)
	return state
}

func nextPaymentDueDate(l *Loan, mode NextDueDateMode) Date {
	switch mode {
	case NextUnpaidDueDate:
		// Skip installments whose outstanding is already covered by the
		// loan's credit balance; the trailing charge-only installment is a
		// valid terminal answer.
		cover := l.Overpayment
		for _, inst := range l.Schedule {
			if inst.Complete() {
				continue
			}
			outstanding := inst.TotalOutstanding()
			if cover.GreaterThan(outstanding) || cover.Equal(outstanding) {
				cover = cover.Sub(outstanding)
				continue
			}
			return inst.DueDate
		}
		return Date{}
	default: // EarliestUnpaidDate
		var earliest Date
		for _, inst := range l.Schedule {
			if inst.TotalOutstanding().IsPositive() && (earliest.IsZero() || inst.DueDate.Before(earliest)) {
				earliest = inst.DueDate
			}
		}
		return earliest
	}
}
