/*
replay.go - Reverse-replay coordinator

PURPOSE:
  Any out-of-order mutation (backdated transaction, reversal, undone
  disbursement) invalidates every balance derived after the affected date.
  Rather than patching balances incrementally, the coordinator rewinds the
  loan to its pre-ledger state and deterministically reapplies every still-
  active transaction in (effective date, insertion sequence) order.

DETERMINISM:
  Replay is a stable sort plus a pure fold over apply(). Submitting the same
  transactions in a different arrival order produces bit-identical final
  state as long as the relative insertion order of same-date entries is
  preserved - which it is, because Seq is assigned once and never reused.

FAILURE SEMANTICS:
  All-or-nothing per loan. The coordinator only ever runs against a clone of
  the aggregate; a broken invariant mid-replay surfaces as ReplayFailure and
  the persisted loan is untouched. There is no partial application and no
  internal retry.
*/
package loan

import (
	"github.com/warp/loan-engine/money"
)

// Replay rewinds the loan's derived state and reapplies the ledger.
// The caller is responsible for operating on a clone.
func Replay(l *Loan) error {
	resetDerivedState(l)

	ordered := append([]*Transaction(nil), l.Transactions...)
	sortLedger(ordered)

	for _, tx := range ordered {
		if tx.Reversed {
			// Reversed entries contribute nothing but stay in the ledger
			// for audit. Their recorded portions are preserved as applied
			// at original entry time.
			continue
		}
		if err := l.apply(tx); err != nil {
			if re, ok := err.(*ReplayError); ok {
				return re
			}
			return &ReplayError{Loan: l.ID, Transaction: tx.ID, Detail: err.Error()}
		}
	}
	return nil
}

// resetDerivedState rewinds everything apply() builds up. The schedule is
// regenerated from scratch by the first disbursement replayed; discarding
// the old installment versions is the whole rollback.
func resetDerivedState(l *Loan) {
	l.Schedule = nil
	l.DisbursedTotal = money.Zero(l.Currency)
	l.FirstDisbursement = Date{}
	l.Overpayment = money.Zero(l.Currency)
	l.Summary = zeroSummary(l.Currency)
	if l.ApprovalDate.IsZero() {
		l.Status = StatusPending
	} else {
		l.Status = StatusApproved
	}
}

// =============================================================================
// MUTATION ENTRY POINTS - used by the engine on a cloned aggregate
// =============================================================================

// Insert places a new transaction into the ledger. The fast path applies it
// directly when it lands on or after the ledger tail; a backdated entry
// triggers a full replay with the new entry slotted at its chronological
// position.
func Insert(l *Loan, tx *Transaction) error {
	tx.Seq = l.NextSeq
	l.NextSeq++

	backdated := tx.EffectiveDate.Before(l.LastEffectiveDate())
	l.Transactions = append(l.Transactions, tx)

	if !backdated {
		return l.apply(tx)
	}
	return Replay(l)
}

// ReverseTransaction flips the reversed flag and replays. Reversibility
// depends on the transaction type, the loan's current status, and the
// transaction's relations: repayment-like reversals require an open loan
// (a repayment on a written-off loan stays put), and a transaction with an
// active chargeback against it cannot be reversed - on replay the reversed
// entry would be skipped while the chargeback still restores dues from its
// recorded portions, minting receivables the loan never earned.
func ReverseTransaction(l *Loan, id TransactionID) error {
	tx := l.Transaction(id)
	if tx == nil {
		return ErrTransactionNotFound
	}
	if tx.Reversed {
		return ErrAlreadyReversed
	}
	if !tx.Type.Reversible() {
		return &IllegalTransitionError{Loan: l.ID, Status: l.Status, Operation: "reverse " + string(tx.Type)}
	}
	if tx.Type.IsRepaymentLike() && !l.Status.Open() {
		return &IllegalTransitionError{Loan: l.ID, Status: l.Status, Operation: "reverse " + string(tx.Type)}
	}
	if activeChargebackTotal(l, tx).IsPositive() {
		return &IllegalTransitionError{Loan: l.ID, Status: l.Status, Operation: "reverse charged-back " + string(tx.Type)}
	}
	tx.Reversed = true
	return Replay(l)
}

// UndoLastDisbursement reverses the latest tranche and replays, which
// regenerates the remaining schedule without it.
func UndoLastDisbursement(l *Loan) error {
	disbursements := l.Disbursements()
	if len(disbursements) == 0 {
		return &IllegalTransitionError{Loan: l.ID, Status: l.Status, Operation: "undo disbursement"}
	}
	last := disbursements[len(disbursements)-1]
	last.Reversed = true
	return Replay(l)
}

// InsertChargeback creates the credit transaction for a disputed original,
// links both sides, and applies it. Chargebacks are only legal against
// non-reversed transactions, and the disputed total across all active
// chargebacks of one original can never exceed what the original moved.
// A backdated chargeback replays like any other backdated entry.
func InsertChargeback(l *Loan, tx *Transaction, originalID TransactionID) error {
	original := l.Transaction(originalID)
	if original == nil {
		return ErrTransactionNotFound
	}
	if original.Reversed {
		return ErrAlreadyReversed
	}
	if tx.Amount.Add(activeChargebackTotal(l, original)).GreaterThan(original.Amount) {
		return &ValidationError{Field: "amount", Message: "chargeback exceeds original transaction amount"}
	}
	tx.Relate(RelationChargeback, original.ID)
	original.Relate(RelationChargeback, tx.ID)
	return Insert(l, tx)
}

// activeChargebackTotal sums the non-reversed chargebacks linked to tx.
func activeChargebackTotal(l *Loan, tx *Transaction) money.Money {
	total := money.Zero(l.Currency)
	for _, rel := range tx.Relations {
		if rel.Type != RelationChargeback {
			continue
		}
		if cb := l.Transaction(rel.To); cb != nil && cb.Type == TxChargeback && !cb.Reversed {
			total = total.Add(cb.Amount)
		}
	}
	return total
}
