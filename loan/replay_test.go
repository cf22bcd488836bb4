package loan_test

import (
	"errors"
	"testing"
	"time"

	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/money"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// activeLoan builds an approved-and-disbursed loan on the 1250/4x30d terms.
func activeLoan(t *testing.T) *loan.Loan {
	t.Helper()
	l, err := loan.NewLoan("loan-1", "prod-1", "USD", flatTerms("1250.00", 4, 30, loan.FrequencyDays))
	if err != nil {
		t.Fatalf("NewLoan: %v", err)
	}
	if err := l.Approve(date(2022, time.December, 20), usd("1250.00")); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := loan.Insert(l, &loan.Transaction{
		ID: "tx-disburse", LoanID: l.ID, Type: loan.TxDisbursement,
		EffectiveDate: date(2023, time.January, 1), Amount: usd("1250.00"),
	}); err != nil {
		t.Fatalf("disburse: %v", err)
	}
	return l
}

func repay(t *testing.T, l *loan.Loan, id loan.TransactionID, d loan.Date, amount money.Money) {
	t.Helper()
	if err := loan.Insert(l, &loan.Transaction{
		ID: id, LoanID: l.ID, Type: loan.TxRepayment, EffectiveDate: d, Amount: amount,
	}); err != nil {
		t.Fatalf("repay %s: %v", id, err)
	}
}

func outstandingByInstallment(l *loan.Loan) []money.Money {
	out := make([]money.Money, len(l.Schedule))
	for i, inst := range l.Schedule {
		out[i] = inst.TotalOutstanding()
	}
	return out
}

// =============================================================================
// BACKDATED INSERTION TESTS
// =============================================================================

func TestInsert_Backdated_ReplaysDeterministically(t *testing.T) {
	// GIVEN: Two loans receiving the same repayments in different arrival
	//        orders (one arrives backdated)
	// WHEN: Both ledgers settle
	// THEN: Final schedules and balances are identical

	chronological := activeLoan(t)
	repay(t, chronological, "tx-a", date(2023, time.January, 31), usd("312.00"))
	repay(t, chronological, "tx-b", date(2023, time.March, 2), usd("312.00"))

	backdated := activeLoan(t)
	repay(t, backdated, "tx-b", date(2023, time.March, 2), usd("312.00"))
	repay(t, backdated, "tx-a", date(2023, time.January, 31), usd("312.00")) // arrives late

	wantOutstanding := outstandingByInstallment(chronological)
	gotOutstanding := outstandingByInstallment(backdated)
	for i := range wantOutstanding {
		if !wantOutstanding[i].Equal(gotOutstanding[i]) {
			t.Errorf("installment %d: chronological %s != backdated %s",
				i+1, wantOutstanding[i], gotOutstanding[i])
		}
	}
	if chronological.Status != backdated.Status {
		t.Errorf("status diverged: %s vs %s", chronological.Status, backdated.Status)
	}
	if !chronological.TotalOutstanding().Equal(backdated.TotalOutstanding()) {
		t.Errorf("total outstanding diverged: %s vs %s",
			chronological.TotalOutstanding(), backdated.TotalOutstanding())
	}
}

func TestInsert_SameDate_InsertionOrderBreaksTie(t *testing.T) {
	// GIVEN: Two same-date transactions
	// WHEN: Replaying after a backdated third arrives
	// THEN: The original insertion order of the pair is preserved

	l := activeLoan(t)
	repay(t, l, "tx-1", date(2023, time.January, 31), usd("100.00"))
	repay(t, l, "tx-2", date(2023, time.January, 31), usd("100.00"))
	// Backdated entry forces a full replay.
	repay(t, l, "tx-0", date(2023, time.January, 15), usd("50.00"))

	tx1 := l.Transaction("tx-1")
	tx2 := l.Transaction("tx-2")
	if tx1.Seq >= tx2.Seq {
		t.Errorf("expected tx-1 seq (%d) before tx-2 seq (%d)", tx1.Seq, tx2.Seq)
	}
	// 250 total allocated, none lost in the replay.
	if !l.Summary.TotalRepaid.Equal(usd("250.00")) {
		t.Errorf("expected 250.00 repaid after replay, got %s", l.Summary.TotalRepaid)
	}
}

// =============================================================================
// REVERSAL TESTS
// =============================================================================

func TestReverse_ThenReapplyIdentical_EquivalentToNeverReversed(t *testing.T) {
	// GIVEN: A repayment that is reversed and an identical one re-applied
	// WHEN: Comparing against a loan where the repayment was never reversed
	// THEN: Schedules and summaries are equivalent

	control := activeLoan(t)
	repay(t, control, "tx-r", date(2023, time.January, 31), usd("313.00"))

	subject := activeLoan(t)
	repay(t, subject, "tx-r", date(2023, time.January, 31), usd("313.00"))
	if err := loan.ReverseTransaction(subject, "tx-r"); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	repay(t, subject, "tx-r2", date(2023, time.January, 31), usd("313.00"))

	wantOutstanding := outstandingByInstallment(control)
	gotOutstanding := outstandingByInstallment(subject)
	for i := range wantOutstanding {
		if !wantOutstanding[i].Equal(gotOutstanding[i]) {
			t.Errorf("installment %d: control %s != subject %s",
				i+1, wantOutstanding[i], gotOutstanding[i])
		}
	}
	if !control.Summary.TotalRepaid.Equal(subject.Summary.TotalRepaid) {
		t.Errorf("total repaid diverged: %s vs %s",
			control.Summary.TotalRepaid, subject.Summary.TotalRepaid)
	}
}

func TestReverse_RestoresOutstanding(t *testing.T) {
	// GIVEN: A fully paid first installment
	// WHEN: Reversing the repayment
	// THEN: The installment's outstanding is restored

	l := activeLoan(t)
	repay(t, l, "tx-r", date(2023, time.January, 31), usd("312.00"))
	if !l.Schedule[0].Complete() {
		t.Fatal("expected installment 1 complete before reversal")
	}

	if err := loan.ReverseTransaction(l, "tx-r"); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if !l.Schedule[0].TotalOutstanding().Equal(usd("312.00")) {
		t.Errorf("expected outstanding restored to 312.00, got %s", l.Schedule[0].TotalOutstanding())
	}
	if !l.Transaction("tx-r").Reversed {
		t.Error("expected transaction marked reversed")
	}
}

func TestReverse_AlreadyReversed_Rejected(t *testing.T) {
	l := activeLoan(t)
	repay(t, l, "tx-r", date(2023, time.January, 31), usd("100.00"))

	if err := loan.ReverseTransaction(l, "tx-r"); err != nil {
		t.Fatalf("first reverse: %v", err)
	}
	err := loan.ReverseTransaction(l, "tx-r")
	if !errors.Is(err, loan.ErrAlreadyReversed) {
		t.Errorf("expected ErrAlreadyReversed, got %v", err)
	}
}

func TestReverse_UnknownTransaction_NotFound(t *testing.T) {
	l := activeLoan(t)
	err := loan.ReverseTransaction(l, "missing")
	if !errors.Is(err, loan.ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestUndoLastDisbursement_RemovesTrancheFromSchedule(t *testing.T) {
	// GIVEN: A multi-disbursement loan with two tranches
	// WHEN: Undoing the last disbursement
	// THEN: The schedule re-amortizes over the first tranche only

	terms := flatTerms("1000.00", 4, 30, loan.FrequencyDays)
	terms.MultiDisbursement = true
	terms.MaxTranches = 3
	l, err := loan.NewLoan("loan-mt", "prod-1", "USD", terms)
	if err != nil {
		t.Fatalf("NewLoan: %v", err)
	}
	if err := l.Approve(date(2022, time.December, 20), usd("1000.00")); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := loan.Insert(l, &loan.Transaction{
		ID: "tr-1", LoanID: l.ID, Type: loan.TxDisbursement,
		EffectiveDate: date(2023, time.January, 1), Amount: usd("600.00"),
	}); err != nil {
		t.Fatalf("tranche 1: %v", err)
	}
	if err := loan.Insert(l, &loan.Transaction{
		ID: "tr-2", LoanID: l.ID, Type: loan.TxDisbursement,
		EffectiveDate: date(2023, time.February, 15), Amount: usd("400.00"),
	}); err != nil {
		t.Fatalf("tranche 2: %v", err)
	}
	if !l.DisbursedTotal.Equal(usd("1000.00")) {
		t.Fatalf("expected 1000.00 disbursed, got %s", l.DisbursedTotal)
	}

	if err := loan.UndoLastDisbursement(l); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !l.DisbursedTotal.Equal(usd("600.00")) {
		t.Errorf("expected 600.00 disbursed after undo, got %s", l.DisbursedTotal)
	}
	if !l.PrincipalOutstanding().Equal(usd("600.00")) {
		t.Errorf("expected 600.00 principal outstanding, got %s", l.PrincipalOutstanding())
	}
}

// =============================================================================
// CHARGEBACK TESTS
// =============================================================================

func TestInsertChargeback_RestoresOutstandingAndLinksBothSides(t *testing.T) {
	// GIVEN: A 1000 loan fully repaid
	// WHEN: Charging back 500 of the repayment
	// THEN: Outstanding goes 0 -> 500 and both transactions carry exactly one
	//       chargeback relation pointing at each other

	l, err := loan.NewLoan("loan-cb", "prod-1", "USD", flatTerms("1000.00", 4, 30, loan.FrequencyDays))
	if err != nil {
		t.Fatalf("NewLoan: %v", err)
	}
	if err := l.Approve(date(2022, time.December, 20), usd("1000.00")); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := loan.Insert(l, &loan.Transaction{
		ID: "tx-d", LoanID: l.ID, Type: loan.TxDisbursement,
		EffectiveDate: date(2023, time.January, 1), Amount: usd("1000.00"),
	}); err != nil {
		t.Fatalf("disburse: %v", err)
	}
	repay(t, l, "tx-pay", date(2023, time.January, 31), usd("1000.00"))
	if !l.TotalOutstanding().IsZero() {
		t.Fatalf("expected zero outstanding before chargeback, got %s", l.TotalOutstanding())
	}

	cb := &loan.Transaction{
		ID: "tx-cb", LoanID: l.ID, Type: loan.TxChargeback,
		EffectiveDate: date(2023, time.February, 10), Amount: usd("500.00"),
	}
	if err := loan.InsertChargeback(l, cb, "tx-pay"); err != nil {
		t.Fatalf("chargeback: %v", err)
	}

	if !l.TotalOutstanding().Equal(usd("500.00")) {
		t.Errorf("expected 500.00 outstanding restored, got %s", l.TotalOutstanding())
	}
	if len(cb.Relations) != 1 || cb.Relations[0].To != "tx-pay" {
		t.Errorf("expected exactly one relation on chargeback, got %+v", cb.Relations)
	}
	original := l.Transaction("tx-pay")
	if len(original.Relations) != 1 || original.Relations[0].To != "tx-cb" {
		t.Errorf("expected exactly one relation on original, got %+v", original.Relations)
	}
}

func TestReverse_ChargedBackTransaction_Rejected(t *testing.T) {
	// GIVEN: A fully repaid 1000 loan with 500 of the repayment charged back
	// WHEN: Reversing the charged-back repayment
	// THEN: The reversal is rejected and no dues are restored twice

	l, err := loan.NewLoan("loan-cb", "prod-1", "USD", flatTerms("1000.00", 4, 30, loan.FrequencyDays))
	if err != nil {
		t.Fatalf("NewLoan: %v", err)
	}
	if err := l.Approve(date(2022, time.December, 20), usd("1000.00")); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := loan.Insert(l, &loan.Transaction{
		ID: "tx-d", LoanID: l.ID, Type: loan.TxDisbursement,
		EffectiveDate: date(2023, time.January, 1), Amount: usd("1000.00"),
	}); err != nil {
		t.Fatalf("disburse: %v", err)
	}
	repay(t, l, "tx-pay", date(2023, time.January, 31), usd("1000.00"))

	cb := &loan.Transaction{
		ID: "tx-cb", LoanID: l.ID, Type: loan.TxChargeback,
		EffectiveDate: date(2023, time.February, 10), Amount: usd("500.00"),
	}
	if err := loan.InsertChargeback(l, cb, "tx-pay"); err != nil {
		t.Fatalf("chargeback: %v", err)
	}

	err = loan.ReverseTransaction(l, "tx-pay")
	if !errors.Is(err, loan.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition on charged-back repayment, got %v", err)
	}
	totalDue := usd("0.00")
	for _, inst := range l.Schedule {
		totalDue = totalDue.Add(inst.Due.Total())
	}
	if !totalDue.Equal(usd("1500.00")) {
		t.Errorf("expected 1500.00 total due (1000 original + 500 restored), got %s", totalDue)
	}
	if !l.TotalOutstanding().Equal(usd("500.00")) {
		t.Errorf("expected outstanding unchanged at 500.00, got %s", l.TotalOutstanding())
	}
	if l.Transaction("tx-pay").Reversed {
		t.Error("expected repayment left unreversed")
	}
}

func TestInsertChargeback_CumulativeDisputes_CappedAtOriginal(t *testing.T) {
	// GIVEN: A fully repaid 1000 loan already charged back for 600
	// WHEN: Disputing the same repayment again
	// THEN: Only the 400 still undisputed can be charged back

	l, err := loan.NewLoan("loan-cb", "prod-1", "USD", flatTerms("1000.00", 4, 30, loan.FrequencyDays))
	if err != nil {
		t.Fatalf("NewLoan: %v", err)
	}
	if err := l.Approve(date(2022, time.December, 20), usd("1000.00")); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := loan.Insert(l, &loan.Transaction{
		ID: "tx-d", LoanID: l.ID, Type: loan.TxDisbursement,
		EffectiveDate: date(2023, time.January, 1), Amount: usd("1000.00"),
	}); err != nil {
		t.Fatalf("disburse: %v", err)
	}
	repay(t, l, "tx-pay", date(2023, time.January, 31), usd("1000.00"))

	first := &loan.Transaction{
		ID: "tx-cb1", LoanID: l.ID, Type: loan.TxChargeback,
		EffectiveDate: date(2023, time.February, 10), Amount: usd("600.00"),
	}
	if err := loan.InsertChargeback(l, first, "tx-pay"); err != nil {
		t.Fatalf("first chargeback: %v", err)
	}

	second := &loan.Transaction{
		ID: "tx-cb2", LoanID: l.ID, Type: loan.TxChargeback,
		EffectiveDate: date(2023, time.February, 20), Amount: usd("600.00"),
	}
	if err := loan.InsertChargeback(l, second, "tx-pay"); !errors.Is(err, loan.ErrValidation) {
		t.Fatalf("expected cumulative chargeback rejected, got %v", err)
	}

	remainder := &loan.Transaction{
		ID: "tx-cb3", LoanID: l.ID, Type: loan.TxChargeback,
		EffectiveDate: date(2023, time.February, 20), Amount: usd("400.00"),
	}
	if err := loan.InsertChargeback(l, remainder, "tx-pay"); err != nil {
		t.Fatalf("remainder chargeback: %v", err)
	}
	if !l.TotalOutstanding().Equal(usd("1000.00")) {
		t.Errorf("expected 1000.00 outstanding after full dispute, got %s", l.TotalOutstanding())
	}
}

func TestInsertChargeback_ExceedingOriginal_Rejected(t *testing.T) {
	l := activeLoan(t)
	repay(t, l, "tx-pay", date(2023, time.January, 31), usd("100.00"))

	cb := &loan.Transaction{
		ID: "tx-cb", LoanID: l.ID, Type: loan.TxChargeback,
		EffectiveDate: date(2023, time.February, 1), Amount: usd("200.00"),
	}
	err := loan.InsertChargeback(l, cb, "tx-pay")
	if !errors.Is(err, loan.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
