/*
accrual.go - Accrual engine

PURPOSE:
  Computes interest/fee/penalty earned-but-not-yet-recognized and shapes the
  accrual transactions the COB pipeline posts. Accrual is idempotent by
  date: posting for a date that already carries an accrual reverses the
  prior entry first and records a supersedes relation, so re-running a COB
  day never double-counts.

RECOGNITION MODEL:
  Interest is earned linearly within each repayment period: once a period's
  due date passes its full interest is earned; mid-period the earned part is
  the elapsed-day fraction. Fees and penalties are earned in full when their
  installment falls due. The accrual transaction for a business date is the
  delta between earned-to-date and what previous accruals already
  recognized.

ACCRUAL ACTIVITY:
  A coarser posting created once per repayment period after it closes,
  aggregating that period's accruals into a single transaction for
  downstream journal-entry batching.
*/
package loan

import (
	"github.com/shopspring/decimal"
)

// AccruedToDate computes the earned portions at a business date.
func AccruedToDate(l *Loan, businessDate Date) Portions {
	earned := ZeroPortions(l.Currency)
	for _, inst := range l.Schedule {
		if businessDate.AfterOrEqual(inst.DueDate) {
			// Closed period: everything not waived is earned.
			earned = earned.Add(BucketInterest, inst.Due.Interest.Sub(inst.Waived.Interest))
			earned = earned.Add(BucketFee, inst.Due.Fee.Sub(inst.Waived.Fee))
			earned = earned.Add(BucketPenalty, inst.Due.Penalty.Sub(inst.Waived.Penalty))
			continue
		}
		if businessDate.After(inst.FromDate) {
			periodDays := DaysBetween(inst.FromDate, inst.DueDate)
			if periodDays <= 0 {
				continue
			}
			elapsed := DaysBetween(inst.FromDate, businessDate)
			fraction := decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(periodDays)))
			earned = earned.Add(BucketInterest, inst.Due.Interest.Sub(inst.Waived.Interest).Mul(fraction))
		}
	}
	return earned
}

// FindAccrualOn returns the active accrual transaction dated at the given
// business date, if any.
func FindAccrualOn(l *Loan, date Date) *Transaction {
	for _, tx := range l.Transactions {
		if tx.Type == TxAccrual && !tx.Reversed && tx.EffectiveDate.Equal(date) {
			return tx
		}
	}
	return nil
}

// BuildAccrual shapes the accrual transaction for a business date: the
// per-bucket delta between earned-to-date and already-recognized amounts.
// Returns nil when there is nothing left to accrue.
func BuildAccrual(l *Loan, id TransactionID, businessDate Date) *Transaction {
	earned := AccruedToDate(l, businessDate)
	delta := Portions{
		Principal: earned.Principal.Zero(),
		Interest:  earned.Interest.Sub(l.Summary.AccruedInterest),
		Fee:       earned.Fee.Sub(l.Summary.AccruedFee),
		Penalty:   earned.Penalty.Sub(l.Summary.AccruedPenalty),
	}
	// Negative deltas happen after waivers reduce earned amounts; they post
	// as negative accruals so recognized totals track earned totals.
	if delta.IsZero() {
		return nil
	}
	return &Transaction{
		ID:            id,
		LoanID:        l.ID,
		Type:          TxAccrual,
		EffectiveDate: businessDate,
		Amount:        delta.Total(),
		Portions:      delta,
	}
}

// =============================================================================
// ACCRUAL ACTIVITY POSTING
// =============================================================================

// hasAccrualActivityOn reports an active activity posting for a period end.
func hasAccrualActivityOn(l *Loan, date Date) bool {
	for _, tx := range l.Transactions {
		if tx.Type == TxAccrualActivity && !tx.Reversed && tx.EffectiveDate.Equal(date) {
			return true
		}
	}
	return false
}

// BuildAccrualActivities shapes one activity posting per repayment period
// that has closed by the business date and has none yet. Each aggregates the
// period's recognized interest/fee/penalty into a single transaction dated
// at the period's due date.
func BuildAccrualActivities(l *Loan, businessDate Date, newID func() TransactionID) []*Transaction {
	var out []*Transaction
	for _, inst := range l.Schedule {
		if inst.DueDate.After(businessDate) {
			break
		}
		if hasAccrualActivityOn(l, inst.DueDate) {
			continue
		}
		portions := ZeroPortions(l.Currency)
		portions = portions.Add(BucketInterest, inst.Due.Interest.Sub(inst.Waived.Interest))
		portions = portions.Add(BucketFee, inst.Due.Fee.Sub(inst.Waived.Fee))
		portions = portions.Add(BucketPenalty, inst.Due.Penalty.Sub(inst.Waived.Penalty))
		if portions.IsZero() {
			continue
		}
		out = append(out, &Transaction{
			ID:            newID(),
			LoanID:        l.ID,
			Type:          TxAccrualActivity,
			EffectiveDate: inst.DueDate,
			Amount:        portions.Total(),
			Portions:      portions,
		})
	}
	return out
}
