/*
loan.go - The Loan aggregate and transaction application

PURPOSE:
  A Loan owns exactly one schedule and one transaction ledger. This file
  holds the aggregate plus apply(), the single dispatch that turns a ledger
  entry into schedule/balance mutations. Both the append fast path and the
  reverse-replay coordinator funnel through apply(), which is what makes
  replay produce bit-identical state: the same entries in the same order
  always take the same code path.

LIFECYCLE:
  pending -> approved -> active -> closed_obligations_met
                                |-> closed_written_off
                                |-> overpaid (and back, via refund/chargeback)

SEE ALSO:
  - allocation.go: how repayment-like entries hit the buckets
  - replay.go: rewinding and reapplying out-of-order mutations
*/
package loan

import (
	"github.com/warp/loan-engine/money"
)

// =============================================================================
// AGGREGATE
// =============================================================================

type LoanSummary struct {
	TotalRepaid         money.Money `json:"total_repaid"`
	TotalWaived         money.Money `json:"total_waived"`
	TotalWrittenOff     money.Money `json:"total_written_off"`
	TotalInterestRefund money.Money `json:"total_interest_refund"`
	AccruedInterest     money.Money `json:"accrued_interest"`
	AccruedFee          money.Money `json:"accrued_fee"`
	AccruedPenalty      money.Money `json:"accrued_penalty"`
}

func zeroSummary(currency string) LoanSummary {
	z := money.Zero(currency)
	return LoanSummary{
		TotalRepaid: z, TotalWaived: z, TotalWrittenOff: z,
		TotalInterestRefund: z, AccruedInterest: z, AccruedFee: z, AccruedPenalty: z,
	}
}

type Loan struct {
	ID         LoanID    `json:"id"`
	ExternalID string    `json:"external_id,omitempty"`
	ProductID  ProductID `json:"product_id"`
	Currency   string    `json:"currency"`

	Status       LoanStatus `json:"status"`
	Terms        LoanTerms  `json:"terms"`
	ApprovalDate Date       `json:"approval_date,omitempty"`

	Charges []Charge `json:"charges,omitempty"`

	// MaturityOverride is set by a reschedule; the generator moves the last
	// regular installment's due date here.
	MaturityOverride Date `json:"maturity_override,omitempty"`

	Schedule     []*Installment `json:"schedule"`
	Transactions []*Transaction `json:"transactions"`
	NextSeq      int64          `json:"next_seq"`

	// Derived during application; rebuilt wholesale on replay.
	DisbursedTotal    money.Money `json:"disbursed_total"`
	FirstDisbursement Date        `json:"first_disbursement,omitempty"`
	Overpayment       money.Money `json:"overpayment"`
	Summary           LoanSummary `json:"summary"`
	ArrearsSince      Date        `json:"arrears_since,omitempty"`

	// Product configuration resolved at creation time.
	Policy            AllocationPolicy       `json:"policy"`
	CreditPolicy      CreditAllocationPolicy `json:"credit_policy"`
	DelinquencyBucket DelinquencyBucket      `json:"delinquency_bucket"`

	// Delinquency is computed by the classifier during COB.
	Delinquency *DelinquencyState `json:"delinquency,omitempty"`
}

// NewLoan creates a pending loan from validated terms.
func NewLoan(id LoanID, product ProductID, currency string, terms LoanTerms) (*Loan, error) {
	if err := terms.Validate(); err != nil {
		return nil, err
	}
	return &Loan{
		ID:             id,
		ProductID:      product,
		Currency:       currency,
		Status:         StatusPending,
		Terms:          terms,
		DisbursedTotal: money.Zero(currency),
		Overpayment:    money.Zero(currency),
		Summary:        zeroSummary(currency),
		Policy:         DefaultAllocationPolicy(),
		CreditPolicy:   DefaultCreditAllocation(),
	}, nil
}

// Approve moves a pending loan to approved. The approval date is mandatory
// and the approved amount may not exceed the proposed principal.
func (l *Loan) Approve(date Date, amount money.Money) error {
	if l.Status != StatusPending {
		return &IllegalTransitionError{Loan: l.ID, Status: l.Status, Operation: "approve"}
	}
	if date.IsZero() {
		return &ValidationError{Field: "approval_date", Message: "mandatory"}
	}
	if amount.GreaterThan(l.Terms.Principal) {
		return &ValidationError{Field: "approved_amount", Message: "exceeds proposed principal"}
	}
	if amount.IsPositive() {
		l.Terms.Principal = amount
	}
	l.ApprovalDate = date
	l.Status = StatusApproved
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (l *Loan) PrincipalOutstanding() money.Money {
	total := money.Zero(l.Currency)
	for _, inst := range l.Schedule {
		total = total.Add(inst.Outstanding(BucketPrincipal))
	}
	return total
}

func (l *Loan) TotalOutstanding() money.Money {
	total := money.Zero(l.Currency)
	for _, inst := range l.Schedule {
		total = total.Add(inst.TotalOutstanding())
	}
	return total
}

func (l *Loan) Transaction(id TransactionID) *Transaction {
	for _, tx := range l.Transactions {
		if tx.ID == id {
			return tx
		}
	}
	return nil
}

// LastEffectiveDate is the ledger tail used by the append fast path.
func (l *Loan) LastEffectiveDate() Date {
	var tail Date
	for _, tx := range l.Transactions {
		if tx.EffectiveDate.After(tail) {
			tail = tx.EffectiveDate
		}
	}
	return tail
}

// Disbursements returns the active disbursement transactions in ledger order.
func (l *Loan) Disbursements() []*Transaction {
	var out []*Transaction
	for _, tx := range l.Transactions {
		if tx.Type == TxDisbursement && !tx.Reversed {
			out = append(out, tx)
		}
	}
	sortLedger(out)
	return out
}

func (l *Loan) scheduleSpec() ScheduleSpec {
	return ScheduleSpec{
		Terms:            l.Terms,
		Currency:         l.Currency,
		Principal:        l.DisbursedTotal,
		Start:            l.FirstDisbursement,
		Charges:          l.Charges,
		MaturityOverride: l.MaturityOverride,
	}
}

// Clone deep-copies the aggregate. Replay operates on a clone and the engine
// swaps it in atomically on success.
func (l *Loan) Clone() *Loan {
	cp := *l
	cp.Schedule = cloneSchedule(l.Schedule)
	cp.Transactions = make([]*Transaction, len(l.Transactions))
	for i, tx := range l.Transactions {
		cp.Transactions[i] = tx.clone()
	}
	cp.Charges = append([]Charge(nil), l.Charges...)
	if l.Delinquency != nil {
		d := *l.Delinquency
		cp.Delinquency = &d
	}
	return &cp
}

// =============================================================================
// TRANSACTION APPLICATION - single dispatch for fast path and replay
// =============================================================================

func (l *Loan) apply(tx *Transaction) error {
	var err error
	switch tx.Type {
	case TxDisbursement:
		err = l.applyDisbursement(tx)
	case TxRepayment, TxGoodwillCredit, TxMerchantIssuedRefund, TxPayoutRefund:
		err = l.applyRepaymentLike(tx)
	case TxWaiver:
		err = l.applyWaiver(tx)
	case TxChargeback:
		err = l.applyChargeback(tx)
	case TxChargeAdjustment:
		err = l.applyChargeAdjustment(tx)
	case TxWriteOff:
		err = l.applyWriteOff(tx)
	case TxCreditBalanceRefund:
		err = l.applyCreditBalanceRefund(tx)
	case TxInterestRefund:
		err = l.applyInterestRefund(tx)
	case TxAccrual:
		err = l.applyAccrual(tx)
	case TxAccrualActivity:
		// Aggregation bookkeeping only; balances are untouched.
	default:
		err = &ValidationError{Field: "type", Message: "unknown transaction type " + string(tx.Type)}
	}
	if err != nil {
		return err
	}
	tx.OutstandingAfter = l.PrincipalOutstanding()
	if err := CheckScheduleInvariants(l.Schedule); err != nil {
		if re, ok := err.(*ReplayError); ok {
			re.Loan = l.ID
			re.Transaction = tx.ID
		}
		return err
	}
	return nil
}

func (l *Loan) applyDisbursement(tx *Transaction) error {
	if l.Status != StatusApproved && l.Status != StatusActive {
		return &IllegalTransitionError{Loan: l.ID, Status: l.Status, Operation: "disburse"}
	}
	first := l.DisbursedTotal.IsZero()
	l.DisbursedTotal = l.DisbursedTotal.Add(tx.Amount)
	tx.Portions = ZeroPortions(l.Currency).With(BucketPrincipal, tx.Amount)

	if first {
		l.FirstDisbursement = tx.EffectiveDate
		l.Schedule = GenerateSchedule(l.scheduleSpec())
	} else {
		l.Schedule = RegenerateForPrincipal(l.Schedule, l.scheduleSpec(), tx.EffectiveDate)
	}
	l.Status = StatusActive
	return nil
}

func (l *Loan) applyRepaymentLike(tx *Transaction) error {
	if !l.Status.Open() {
		return &IllegalTransitionError{Loan: l.ID, Status: l.Status, Operation: string(tx.Type)}
	}
	rule := l.Policy.Resolve(tx.Type)
	res := AllocatePayment(l.Schedule, rule, tx.Amount, tx.EffectiveDate, false, l.Currency)
	tx.Portions = res.Portions
	tx.OverpaymentPortion = res.Overpayment
	l.Overpayment = l.Overpayment.Add(res.Overpayment)
	l.Summary.TotalRepaid = l.Summary.TotalRepaid.Add(res.Portions.Total())
	l.refreshStatus()
	return nil
}

func (l *Loan) applyWaiver(tx *Transaction) error {
	if !l.Status.Open() {
		return &IllegalTransitionError{Loan: l.ID, Status: l.Status, Operation: "waive"}
	}
	rule := l.Policy.Resolve(TxWaiver)
	res := AllocatePayment(l.Schedule, rule, tx.Amount, tx.EffectiveDate, true, l.Currency)
	if res.Overpayment.IsPositive() {
		return &ValidationError{Field: "amount", Message: "waiver exceeds total outstanding"}
	}
	tx.Portions = res.Portions
	l.Summary.TotalWaived = l.Summary.TotalWaived.Add(res.Portions.Total())
	l.refreshStatus()
	return nil
}

// applyChargeback restores the disputed amounts onto the schedule. The
// decomposition follows the credit allocation policy against the original
// transaction's portions. If the loan carries an overpayment balance, it is
// consumed against the restored dues immediately.
func (l *Loan) applyChargeback(tx *Transaction) error {
	original := l.chargebackOriginal(tx)
	if original == nil {
		return &ValidationError{Field: "transaction", Message: "chargeback has no linked original transaction"}
	}
	portions := AllocateCredit(l.CreditPolicy, original.Portions, tx.Amount, l.Currency)
	tx.Portions = portions

	target := l.chargebackTarget(tx.EffectiveDate)
	if target == nil {
		return &ValidationError{Field: "schedule", Message: "no installment to restore chargeback onto"}
	}
	for _, b := range AllBuckets {
		target.addDue(b, portions.Get(b))
	}

	// An overpayment balance covers restored dues before the borrower owes
	// anything new.
	if l.Overpayment.IsPositive() {
		cover := l.Overpayment
		for _, b := range AllBuckets {
			if !cover.IsPositive() {
				break
			}
			consumed := target.pay(b, cover.Min(portions.Get(b)))
			cover = cover.Sub(consumed)
		}
		l.Overpayment = cover
	}
	l.refreshStatus()
	return nil
}

func (l *Loan) chargebackOriginal(tx *Transaction) *Transaction {
	for _, rel := range tx.Relations {
		if rel.Type == RelationChargeback {
			if orig := l.Transaction(rel.To); orig != nil {
				return orig
			}
		}
	}
	return nil
}

// chargebackTarget picks the installment that absorbs restored dues: the
// earliest installment due on or after the chargeback date, else the final
// installment. The backdated-chargeback-vs-merged-charge tie-break is policy;
// this implementation always falls back to the final installment.
func (l *Loan) chargebackTarget(date Date) *Installment {
	for _, inst := range l.Schedule {
		if inst.DueDate.AfterOrEqual(date) {
			return inst
		}
	}
	if len(l.Schedule) == 0 {
		return nil
	}
	return l.Schedule[len(l.Schedule)-1]
}

// applyChargeAdjustment waives part of a specific charge.
func (l *Loan) applyChargeAdjustment(tx *Transaction) error {
	var charge *Charge
	for i := range l.Charges {
		if l.Charges[i].ID == tx.ChargeID {
			charge = &l.Charges[i]
			break
		}
	}
	if charge == nil {
		return &ValidationError{Field: "charge_id", Message: "charge not found"}
	}
	remaining := tx.Amount
	portions := ZeroPortions(l.Currency)
	for _, inst := range l.Schedule {
		if !remaining.IsPositive() {
			break
		}
		consumed := inst.waive(charge.Bucket, remaining)
		remaining = remaining.Sub(consumed)
		portions = portions.Add(charge.Bucket, consumed)
	}
	if remaining.IsPositive() {
		return &ValidationError{Field: "amount", Message: "charge adjustment exceeds charge outstanding"}
	}
	tx.Portions = portions
	l.Summary.TotalWaived = l.Summary.TotalWaived.Add(portions.Total())
	l.refreshStatus()
	return nil
}

// applyWriteOff moves every remaining outstanding amount to waived and
// closes the loan.
func (l *Loan) applyWriteOff(tx *Transaction) error {
	if l.Status != StatusActive {
		return &IllegalTransitionError{Loan: l.ID, Status: l.Status, Operation: "write off"}
	}
	portions := ZeroPortions(l.Currency)
	for _, inst := range l.Schedule {
		for _, b := range AllBuckets {
			outstanding := inst.Outstanding(b)
			if outstanding.IsPositive() {
				inst.waive(b, outstanding)
				portions = portions.Add(b, outstanding)
			}
		}
	}
	tx.Amount = portions.Total()
	tx.Portions = portions
	l.Summary.TotalWrittenOff = l.Summary.TotalWrittenOff.Add(portions.Total())
	l.Status = StatusClosedWrittenOff
	return nil
}

func (l *Loan) applyCreditBalanceRefund(tx *Transaction) error {
	if l.Status != StatusOverpaid {
		return &IllegalTransitionError{Loan: l.ID, Status: l.Status, Operation: "refund credit balance"}
	}
	if tx.Amount.GreaterThan(l.Overpayment) {
		return &ValidationError{Field: "amount", Message: "exceeds overpayment balance"}
	}
	l.Overpayment = l.Overpayment.Sub(tx.Amount)
	tx.Portions = ZeroPortions(l.Currency)
	l.refreshStatus()
	return nil
}

// applyInterestRefund credits interest back to the borrower. Allowed even
// after charge-off; the GL layer routes those amounts to charge-off income.
func (l *Loan) applyInterestRefund(tx *Transaction) error {
	if !l.Status.Open() && l.Status != StatusClosedWrittenOff {
		return &IllegalTransitionError{Loan: l.ID, Status: l.Status, Operation: "refund interest"}
	}
	remaining := tx.Amount
	portions := ZeroPortions(l.Currency)
	for _, inst := range l.Schedule {
		if !remaining.IsPositive() {
			break
		}
		consumed := inst.pay(BucketInterest, remaining)
		remaining = remaining.Sub(consumed)
		portions = portions.Add(BucketInterest, consumed)
	}
	tx.Portions = portions
	tx.OverpaymentPortion = remaining
	l.Overpayment = l.Overpayment.Add(remaining)
	l.Summary.TotalInterestRefund = l.Summary.TotalInterestRefund.Add(tx.Amount)
	if l.Status != StatusClosedWrittenOff {
		l.refreshStatus()
	}
	return nil
}

func (l *Loan) applyAccrual(tx *Transaction) error {
	l.Summary.AccruedInterest = l.Summary.AccruedInterest.Add(tx.Portions.Interest)
	l.Summary.AccruedFee = l.Summary.AccruedFee.Add(tx.Portions.Fee)
	l.Summary.AccruedPenalty = l.Summary.AccruedPenalty.Add(tx.Portions.Penalty)
	return nil
}

// refreshStatus derives the status from balances. Written-off and
// pre-disbursement states are sticky and handled by their operations.
func (l *Loan) refreshStatus() {
	if l.Status == StatusClosedWrittenOff || l.Status == StatusPending || l.Status == StatusApproved {
		return
	}
	if l.Overpayment.IsPositive() {
		l.Status = StatusOverpaid
		return
	}
	if l.TotalOutstanding().IsZero() && l.DisbursedTotal.IsPositive() {
		l.Status = StatusClosedMet
		return
	}
	l.Status = StatusActive
}
