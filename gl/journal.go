/*
Package gl derives general-ledger journal deltas from loan transactions.

PURPOSE:
  Every applied loan transaction maps to a balanced set of debit/credit
  entries over the portfolio's account categories. The mapping is pure: it
  reads the transaction's bucket decomposition and never touches loan state.

ACCOUNT MODEL:
  Receivable accounts per bucket (principal/interest/fee/penalty), a cash
  account, income accounts per earning bucket, write-off expense, charge-off
  income, and an overpayment liability. Interest refunds on a written-off
  loan route to charge-off income instead of interest income.

SEE ALSO:
  - observer.go: the loan.LedgerObserver that feeds transactions in here
*/
package gl

import (
	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/money"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type Account string

const (
	AccountReceivablePrincipal Account = "receivable:principal"
	AccountReceivableInterest  Account = "receivable:interest"
	AccountReceivableFee       Account = "receivable:fee"
	AccountReceivablePenalty   Account = "receivable:penalty"

	AccountCash                 Account = "cash"
	AccountInterestIncome       Account = "income:interest"
	AccountFeeIncome            Account = "income:fee"
	AccountPenaltyIncome        Account = "income:penalty"
	AccountWriteOffExpense      Account = "expense:write-off"
	AccountChargeOffIncome      Account = "income:charge-off"
	AccountOverpaymentLiability Account = "liability:overpayment"
)

func receivableFor(b loan.Bucket) Account {
	switch b {
	case loan.BucketInterest:
		return AccountReceivableInterest
	case loan.BucketFee:
		return AccountReceivableFee
	case loan.BucketPenalty:
		return AccountReceivablePenalty
	default:
		return AccountReceivablePrincipal
	}
}

func incomeFor(b loan.Bucket) Account {
	switch b {
	case loan.BucketFee:
		return AccountFeeIncome
	case loan.BucketPenalty:
		return AccountPenaltyIncome
	default:
		return AccountInterestIncome
	}
}

// =============================================================================
// JOURNAL ENTRIES
// =============================================================================

type EntrySide string

const (
	Debit  EntrySide = "debit"
	Credit EntrySide = "credit"
)

type Entry struct {
	Account Account     `json:"account"`
	Side    EntrySide   `json:"side"`
	Amount  money.Money `json:"amount"`
}

// JournalDelta is the balanced entry set for one loan transaction.
type JournalDelta struct {
	Loan        loan.LoanID          `json:"loan"`
	Transaction loan.TransactionID   `json:"transaction"`
	Type        loan.TransactionType `json:"type"`
	Date        loan.Date            `json:"date"`
	Entries     []Entry              `json:"entries"`
}

func (d *JournalDelta) debit(a Account, m money.Money) {
	if m.IsPositive() {
		d.Entries = append(d.Entries, Entry{Account: a, Side: Debit, Amount: m})
	}
}

func (d *JournalDelta) credit(a Account, m money.Money) {
	if m.IsPositive() {
		d.Entries = append(d.Entries, Entry{Account: a, Side: Credit, Amount: m})
	}
}

// Balanced reports whether debits equal credits, the invariant every built
// delta satisfies.
func (d *JournalDelta) Balanced() bool {
	if len(d.Entries) == 0 {
		return true
	}
	debits := d.Entries[0].Amount.Zero()
	credits := debits
	for _, e := range d.Entries {
		if e.Side == Debit {
			debits = debits.Add(e.Amount)
		} else {
			credits = credits.Add(e.Amount)
		}
	}
	return debits.Equal(credits)
}

// =============================================================================
// DELTA CONSTRUCTION
// =============================================================================

// BuildDelta maps one applied transaction to its journal entries. Reversed
// entries are not replayed through here; a reversal posts the mirrored delta
// of the original via Mirror.
func BuildDelta(l *loan.Loan, tx *loan.Transaction) *JournalDelta {
	d := &JournalDelta{Loan: l.ID, Transaction: tx.ID, Type: tx.Type, Date: tx.EffectiveDate}

	switch tx.Type {
	case loan.TxDisbursement:
		d.debit(AccountReceivablePrincipal, tx.Amount)
		d.credit(AccountCash, tx.Amount)

	case loan.TxRepayment, loan.TxGoodwillCredit, loan.TxMerchantIssuedRefund, loan.TxPayoutRefund:
		d.debit(AccountCash, tx.Amount)
		for _, b := range loan.AllBuckets {
			d.credit(receivableFor(b), tx.Portions.Get(b))
		}
		d.credit(AccountOverpaymentLiability, tx.OverpaymentPortion)

	case loan.TxWaiver, loan.TxChargeAdjustment:
		// Waived amounts come out of the earning side, not cash.
		for _, b := range loan.AllBuckets {
			amt := tx.Portions.Get(b)
			if b == loan.BucketPrincipal {
				d.debit(AccountWriteOffExpense, amt)
			} else {
				d.debit(incomeFor(b), amt)
			}
			d.credit(receivableFor(b), amt)
		}

	case loan.TxWriteOff:
		d.debit(AccountWriteOffExpense, tx.Amount)
		for _, b := range loan.AllBuckets {
			d.credit(receivableFor(b), tx.Portions.Get(b))
		}

	case loan.TxChargeback:
		for _, b := range loan.AllBuckets {
			d.debit(receivableFor(b), tx.Portions.Get(b))
		}
		d.credit(AccountCash, tx.Amount)

	case loan.TxCreditBalanceRefund:
		d.debit(AccountOverpaymentLiability, tx.Amount)
		d.credit(AccountCash, tx.Amount)

	case loan.TxInterestRefund:
		// After charge-off the refund reduces charge-off income rather than
		// interest income.
		income := AccountInterestIncome
		if l.Status == loan.StatusClosedWrittenOff {
			income = AccountChargeOffIncome
		}
		d.debit(income, tx.Amount)
		d.credit(receivableFor(loan.BucketInterest), tx.Portions.Interest)
		d.credit(AccountOverpaymentLiability, tx.OverpaymentPortion)

	case loan.TxAccrual:
		// Delta accruals may be negative per bucket; post the mirrored pair.
		for _, b := range []loan.Bucket{loan.BucketInterest, loan.BucketFee, loan.BucketPenalty} {
			amt := tx.Portions.Get(b)
			if amt.IsNegative() {
				d.debit(incomeFor(b), amt.Neg())
				d.credit(receivableFor(b), amt.Neg())
			} else {
				d.debit(receivableFor(b), amt)
				d.credit(incomeFor(b), amt)
			}
		}

	case loan.TxAccrualActivity:
		// Aggregation marker; the underlying accruals already posted.
	}
	return d
}

// Mirror swaps every entry's side, producing the reversal delta.
func Mirror(d *JournalDelta) *JournalDelta {
	out := &JournalDelta{Loan: d.Loan, Transaction: d.Transaction, Type: d.Type, Date: d.Date}
	for _, e := range d.Entries {
		side := Debit
		if e.Side == Debit {
			side = Credit
		}
		out.Entries = append(out.Entries, Entry{Account: e.Account, Side: side, Amount: e.Amount})
	}
	return out
}
