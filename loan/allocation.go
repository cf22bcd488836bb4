/*
allocation.go - Payment allocation engine

ALGORITHM:
  Resolve the policy rule for the transaction's type (DEFAULT fallback), then
  walk the rule's ordered slots. Past-due and due slots sweep installments
  oldest to newest, deducting from each installment's outstanding in that
  bucket until the amount is exhausted. The in-advance remainder honors the
  rule's future-installment allocation:

    next-installment:  nearest unpaid future installments, installment-major
    reamortization:    even split across all unpaid future installments
    last-installment:  everything onto the final installment

  Whatever survives the walk exceeds the loan's total outstanding and is
  returned as overpayment; the caller registers it on the loan, never on an
  installment.

CATEGORY PREDICATES:
  past-due:   installment due date <  transaction date
  due:        installment due date == transaction date
  in-advance: installment due date >  transaction date
*/
package loan

import (
	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/money"
)

// AllocationResult is the outcome of one allocation pass.
type AllocationResult struct {
	// Portions is the total allocated per bucket across all installments.
	Portions Portions
	// Overpayment is what exceeded every matching outstanding bucket.
	Overpayment money.Money
}

// AllocatePayment distributes amount across the schedule per the rule,
// mutating installment paid buckets. When waive is true the amounts land in
// the waived buckets instead (interest/fee waivers).
func AllocatePayment(sched []*Installment, rule AllocationRule, amount money.Money, txDate Date, waive bool, currency string) AllocationResult {
	remaining := amount
	total := ZeroPortions(currency)
	inAdvanceHandled := false

	for _, slot := range rule.Order {
		if !remaining.IsPositive() {
			break
		}
		switch slot.Category {
		case CategoryPastDue, CategoryDue:
			for _, inst := range sched {
				if !remaining.IsPositive() {
					break
				}
				if !categoryMatches(slot.Category, inst, txDate) {
					continue
				}
				consumed := settle(inst, slot.Bucket, remaining, waive)
				remaining = remaining.Sub(consumed)
				total = total.Add(slot.Bucket, consumed)
			}
		case CategoryInAdvance:
			if inAdvanceHandled {
				continue
			}
			inAdvanceHandled = true
			var consumed Portions
			consumed, remaining = allocateInAdvance(sched, rule, remaining, txDate, waive, currency)
			total = total.Plus(consumed)
		}
	}

	return AllocationResult{Portions: total, Overpayment: remaining}
}

func categoryMatches(cat AllocationCategory, inst *Installment, txDate Date) bool {
	switch cat {
	case CategoryPastDue:
		return inst.DueDate.Before(txDate)
	case CategoryDue:
		return inst.DueDate.Equal(txDate)
	default:
		return inst.DueDate.After(txDate)
	}
}

func settle(inst *Installment, b Bucket, amount money.Money, waive bool) money.Money {
	if waive {
		return inst.waive(b, amount)
	}
	return inst.pay(b, amount)
}

// inAdvanceBuckets extracts the in-advance bucket suborder from the rule.
func inAdvanceBuckets(rule AllocationRule) []Bucket {
	var order []Bucket
	for _, slot := range rule.Order {
		if slot.Category == CategoryInAdvance {
			order = append(order, slot.Bucket)
		}
	}
	return order
}

func allocateInAdvance(sched []*Installment, rule AllocationRule, amount money.Money, txDate Date, waive bool, currency string) (Portions, money.Money) {
	total := ZeroPortions(currency)
	remaining := amount
	suborder := inAdvanceBuckets(rule)
	if len(suborder) == 0 {
		return total, remaining
	}

	var future []*Installment
	for _, inst := range sched {
		if inst.DueDate.After(txDate) && !inst.Complete() {
			future = append(future, inst)
		}
	}
	if len(future) == 0 {
		return total, remaining
	}

	switch rule.Future {
	case FutureLastInstallment:
		last := future[len(future)-1]
		for _, b := range suborder {
			if !remaining.IsPositive() {
				break
			}
			consumed := settle(last, b, remaining, waive)
			remaining = remaining.Sub(consumed)
			total = total.Add(b, consumed)
		}

	case FutureReamortization:
		// Even split; each share is settled per the bucket suborder, and any
		// share a fully-covered installment cannot absorb flows onward.
		share := remaining.Div(decimal.NewFromInt(int64(len(future))))
		carry := remaining.Zero()
		for idx, inst := range future {
			portion := share
			if idx == len(future)-1 {
				portion = remaining // last takes the exact remainder
			}
			portion = portion.Add(carry).Min(remaining)
			carry = carry.Zero()
			for _, b := range suborder {
				if !portion.IsPositive() {
					break
				}
				consumed := settle(inst, b, portion, waive)
				portion = portion.Sub(consumed)
				remaining = remaining.Sub(consumed)
				total = total.Add(b, consumed)
			}
			carry = portion
		}

	default: // FutureNextInstallment
		for _, inst := range future {
			if !remaining.IsPositive() {
				break
			}
			for _, b := range suborder {
				if !remaining.IsPositive() {
					break
				}
				consumed := settle(inst, b, remaining, waive)
				remaining = remaining.Sub(consumed)
				total = total.Add(b, consumed)
			}
		}
	}

	return total, remaining
}

// =============================================================================
// CREDIT ALLOCATION - Chargebacks and charge adjustments
// =============================================================================

// AllocateCredit decomposes a restoring credit's amount over the original
// transaction's portions in the credit policy's bucket order. Any excess
// beyond the original allocation falls into principal.
func AllocateCredit(policy CreditAllocationPolicy, original Portions, amount money.Money, currency string) Portions {
	order := policy.Order
	if len(order) == 0 {
		order = DefaultCreditAllocation().Order
	}

	out := ZeroPortions(currency)
	remaining := amount
	for _, b := range order {
		if !remaining.IsPositive() {
			break
		}
		portion := remaining.Min(original.Get(b))
		if portion.IsPositive() {
			out = out.Add(b, portion)
			remaining = remaining.Sub(portion)
		}
	}
	if remaining.IsPositive() {
		out = out.Add(BucketPrincipal, remaining)
	}
	return out
}
