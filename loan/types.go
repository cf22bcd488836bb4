/*
Package loan implements the loan accounting engine: schedule generation,
payment allocation, the per-loan transaction ledger, reverse-replay,
delinquency classification and accrual.

KEY CONCEPTS IN THIS FILE (types.go):
  - Bucket: the four monetary buckets every amount belongs to
    (principal, interest, fee, penalty)
  - Portions: a per-bucket money breakdown
  - TransactionType: closed enum of every ledger transaction kind
  - LoanStatus: lifecycle states of a loan

DESIGN PRINCIPLES:
  1. Precision: all amounts are money.Money (decimal), never floats
  2. Closed variants: transaction behavior is derived from exhaustive
     switches over TransactionType, never from boolean flags
  3. Explicit ordering: ledger order is (effective date, insertion sequence),
     never slice position

SEE ALSO:
  - schedule.go: Installment and schedule generation
  - transaction.go: the Transaction ledger entry
  - allocation.go: how Portions are produced from a payment
*/
package loan

import "github.com/warp/loan-engine/money"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LoanID string
type TransactionID string
type ProductID string

// =============================================================================
// BUCKETS - Every monetary amount lives in exactly one bucket
// =============================================================================

type Bucket string

const (
	BucketPrincipal Bucket = "principal"
	BucketInterest  Bucket = "interest"
	BucketFee       Bucket = "fee"
	BucketPenalty   Bucket = "penalty"
)

// AllBuckets in canonical order.
var AllBuckets = []Bucket{BucketPrincipal, BucketInterest, BucketFee, BucketPenalty}

// Portions is a per-bucket breakdown of an amount.
type Portions struct {
	Principal money.Money `json:"principal"`
	Interest  money.Money `json:"interest"`
	Fee       money.Money `json:"fee"`
	Penalty   money.Money `json:"penalty"`
}

func ZeroPortions(currency string) Portions {
	z := money.Zero(currency)
	return Portions{Principal: z, Interest: z, Fee: z, Penalty: z}
}

func (p Portions) Get(b Bucket) money.Money {
	switch b {
	case BucketPrincipal:
		return p.Principal
	case BucketInterest:
		return p.Interest
	case BucketFee:
		return p.Fee
	case BucketPenalty:
		return p.Penalty
	}
	return money.Money{}
}

func (p Portions) With(b Bucket, m money.Money) Portions {
	switch b {
	case BucketPrincipal:
		p.Principal = m
	case BucketInterest:
		p.Interest = m
	case BucketFee:
		p.Fee = m
	case BucketPenalty:
		p.Penalty = m
	}
	return p
}

func (p Portions) Add(b Bucket, m money.Money) Portions {
	return p.With(b, p.Get(b).Add(m))
}

func (p Portions) Plus(o Portions) Portions {
	return Portions{
		Principal: p.Principal.Add(o.Principal),
		Interest:  p.Interest.Add(o.Interest),
		Fee:       p.Fee.Add(o.Fee),
		Penalty:   p.Penalty.Add(o.Penalty),
	}
}

func (p Portions) Total() money.Money {
	return p.Principal.Add(p.Interest).Add(p.Fee).Add(p.Penalty)
}

func (p Portions) IsZero() bool {
	return p.Principal.IsZero() && p.Interest.IsZero() && p.Fee.IsZero() && p.Penalty.IsZero()
}

// =============================================================================
// TRANSACTION TYPES - Closed enum, matched exhaustively
// =============================================================================

type TransactionType string

const (
	TxDisbursement         TransactionType = "disbursement"
	TxRepayment            TransactionType = "repayment"
	TxWaiver               TransactionType = "waiver"
	TxAccrual              TransactionType = "accrual"
	TxAccrualActivity      TransactionType = "accrual_activity"
	TxGoodwillCredit       TransactionType = "goodwill_credit"
	TxMerchantIssuedRefund TransactionType = "merchant_issued_refund"
	TxPayoutRefund         TransactionType = "payout_refund"
	TxChargeback           TransactionType = "chargeback"
	TxCreditBalanceRefund  TransactionType = "credit_balance_refund"
	TxWriteOff             TransactionType = "write_off"
	TxChargeAdjustment     TransactionType = "charge_adjustment"
	TxInterestRefund       TransactionType = "interest_refund"
)

// IsRepaymentLike reports whether the transaction brings money in and is
// allocated against installment dues through the payment allocation engine.
func (t TransactionType) IsRepaymentLike() bool {
	switch t {
	case TxRepayment, TxGoodwillCredit, TxMerchantIssuedRefund, TxPayoutRefund:
		return true
	}
	return false
}

// IsCreditRestoring reports whether the transaction restores previously paid
// amounts back onto the schedule (allocated via the credit allocation policy
// against the original transaction's portions).
func (t TransactionType) IsCreditRestoring() bool {
	switch t {
	case TxChargeback, TxChargeAdjustment:
		return true
	}
	return false
}

// IsAccrualKind reports accrual bookkeeping transactions that never touch
// installment paid/waived buckets.
func (t TransactionType) IsAccrualKind() bool {
	return t == TxAccrual || t == TxAccrualActivity
}

// Reversible reports whether a transaction of this type may be reversed at
// all. Disbursements are undone through UndoLastDisbursement, accruals are
// superseded by the accrual engine, and both paths flow through here.
func (t TransactionType) Reversible() bool {
	switch t {
	case TxRepayment, TxWaiver, TxGoodwillCredit, TxMerchantIssuedRefund,
		TxPayoutRefund, TxChargeAdjustment, TxInterestRefund,
		TxDisbursement, TxAccrual:
		return true
	}
	return false
}

// =============================================================================
// LOAN STATUS
// =============================================================================

type LoanStatus string

const (
	StatusPending          LoanStatus = "pending"
	StatusApproved         LoanStatus = "approved"
	StatusActive           LoanStatus = "active"
	StatusClosedMet        LoanStatus = "closed_obligations_met"
	StatusClosedWrittenOff LoanStatus = "closed_written_off"
	StatusOverpaid         LoanStatus = "overpaid"
)

// Open reports whether the loan still accepts regular transactions.
func (s LoanStatus) Open() bool {
	return s == StatusActive || s == StatusOverpaid
}

func (s LoanStatus) Closed() bool {
	return s == StatusClosedMet || s == StatusClosedWrittenOff
}
