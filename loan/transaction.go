/*
transaction.go - Ledger entries

A Transaction is immutable once created, with two exceptions that exist for
audit-preserving corrections:
  - the Reversed flag (a reversed transaction contributes zero to every
    balance but stays visible in the ledger)
  - the append-only Relations set (chargeback <-> original, accrual
    superseded by a same-date accrual, and so on)

Ledger order is the explicit key (EffectiveDate, Seq). Seq is assigned once
at insertion and never changes, so transactions sharing an effective date
always replay in their original insertion order regardless of how the ledger
is stored.
*/
package loan

import (
	"sort"

	"github.com/warp/loan-engine/money"
)

// =============================================================================
// TRANSACTION
// =============================================================================

type RelationType string

const (
	// RelationChargeback links a chargeback to the transaction it disputes,
	// and vice versa.
	RelationChargeback RelationType = "chargeback"
	// RelationSupersedes links a replacement accrual to the same-date accrual
	// it reversed.
	RelationSupersedes RelationType = "supersedes"
	// RelationAdjusts links a charge adjustment to the charge's loan
	// transaction context.
	RelationAdjusts RelationType = "adjusts"
)

type TransactionRelation struct {
	Type RelationType  `json:"type"`
	To   TransactionID `json:"to"`
}

type Transaction struct {
	ID         TransactionID   `json:"id"`
	LoanID     LoanID          `json:"loan_id"`
	Type       TransactionType `json:"type"`
	ExternalID string          `json:"external_id,omitempty"`

	// Ordering key. Seq is the per-loan insertion sequence tiebreaker.
	EffectiveDate Date  `json:"effective_date"`
	Seq           int64 `json:"seq"`

	Amount   money.Money `json:"amount"`
	Portions Portions    `json:"portions"` // filled during allocation

	// OutstandingAfter is the loan's total principal outstanding immediately
	// after this transaction was applied.
	OutstandingAfter money.Money `json:"outstanding_after"`

	// OverpaymentPortion is the part of Amount that exceeded total
	// outstanding and went to the loan-level overpayment balance.
	OverpaymentPortion money.Money `json:"overpayment_portion"`

	Reversed  bool                  `json:"reversed"`
	Relations []TransactionRelation `json:"relations,omitempty"`

	// ChargeID targets a specific charge for charge adjustments.
	ChargeID ChargeID `json:"charge_id,omitempty"`
}

// Relate appends a relation link. Relations are append-only.
func (t *Transaction) Relate(rel RelationType, to TransactionID) {
	t.Relations = append(t.Relations, TransactionRelation{Type: rel, To: to})
}

// RelatedTo reports whether a relation of the given type to the target exists.
func (t *Transaction) RelatedTo(rel RelationType, to TransactionID) bool {
	for _, r := range t.Relations {
		if r.Type == rel && r.To == to {
			return true
		}
	}
	return false
}

func (t *Transaction) clone() *Transaction {
	cp := *t
	cp.Relations = append([]TransactionRelation(nil), t.Relations...)
	return &cp
}

// =============================================================================
// LEDGER ORDERING
// =============================================================================

// sortLedger orders transactions by the explicit (effective date, insertion
// sequence) key. The sort is what makes replay deterministic: inputs arriving
// in any submission order produce the same replay order as long as the
// relative insertion order of same-date entries is preserved.
func sortLedger(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].EffectiveDate.Equal(txs[j].EffectiveDate) {
			return txs[i].EffectiveDate.Before(txs[j].EffectiveDate)
		}
		return txs[i].Seq < txs[j].Seq
	})
}
