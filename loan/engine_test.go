package loan_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/loan/store"
)

func newTestEngine(t *testing.T) (*loan.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	n := 0
	engine := loan.NewEngine(mem, loan.WithIDGenerator(func() loan.TransactionID {
		n++
		return loan.TransactionID("tx-" + strconv.Itoa(n))
	}))
	return engine, mem
}

func createActive(t *testing.T, engine *loan.Engine, id loan.LoanID, terms loan.LoanTerms) {
	t.Helper()
	ctx := context.Background()
	l, err := loan.NewLoan(id, "prod-1", "USD", terms)
	if err != nil {
		t.Fatalf("NewLoan: %v", err)
	}
	l.DelinquencyBucket = rangesBucket()
	if err := engine.CreateLoan(ctx, l); err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	if _, err := engine.ApproveLoan(ctx, id, date(2022, time.December, 20), terms.Principal); err != nil {
		t.Fatalf("ApproveLoan: %v", err)
	}
	if _, err := engine.Disburse(ctx, id, date(2023, time.January, 1), terms.Principal); err != nil {
		t.Fatalf("Disburse: %v", err)
	}
}

// =============================================================================
// END-TO-END LIFECYCLE TESTS
// =============================================================================

func TestEngine_RepaymentCoversInstallment_NoDelinquencyNextDay(t *testing.T) {
	// GIVEN: 1250 over 4x30d disbursed 01-Jan, 313.00 repaid on 31-Jan
	// WHEN: Running the delinquency step on 01-Feb
	// THEN: Installment 1 is complete, 1.00 sits on installment 2, and the
	//       classifier reports nothing

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	createActive(t, engine, "loan-1", flatTerms("1250.00", 4, 30, loan.FrequencyDays))

	res, err := engine.ApplyTransaction(ctx, "loan-1", loan.TransactionRequest{
		Type: loan.TxRepayment, Date: date(2023, time.January, 31), Amount: usd("313.00"),
	})
	if err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}
	if !res.Loan.Schedule[0].Complete() {
		t.Error("expected installment 1 complete")
	}
	if !res.Loan.Schedule[1].Paid.Principal.Equal(usd("1.00")) {
		t.Errorf("expected 1.00 on installment 2, got %s", res.Loan.Schedule[1].Paid.Principal)
	}

	step, err := engine.RunCOBStep(ctx, "loan-1", loan.StepDelinquency, date(2023, time.February, 1))
	if err != nil {
		t.Fatalf("RunCOBStep: %v", err)
	}
	if step.Delinquency.Classification != "" {
		t.Errorf("expected no delinquency, got %q", step.Delinquency.Classification)
	}
	if step.Changed {
		t.Error("expected no movement when a never-delinquent loan classifies empty")
	}

	// The classification is persisted on the aggregate.
	persisted, err := engine.GetLoan(ctx, "loan-1")
	if err != nil {
		t.Fatalf("GetLoan: %v", err)
	}
	if persisted.Delinquency == nil {
		t.Fatal("expected delinquency state stored by COB")
	}
	if !persisted.Delinquency.DelinquentAmount.IsZero() {
		t.Errorf("expected zero delinquent amount, got %s", persisted.Delinquency.DelinquentAmount)
	}
}

func TestEngine_FailedOperation_LeavesPersistedStateUntouched(t *testing.T) {
	// GIVEN: An active loan
	// WHEN: A waiver exceeding total outstanding is rejected
	// THEN: The persisted aggregate shows no trace of the attempt

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	createActive(t, engine, "loan-1", flatTerms("1250.00", 4, 30, loan.FrequencyDays))

	before, _ := engine.GetLoan(ctx, "loan-1")

	_, err := engine.ApplyTransaction(ctx, "loan-1", loan.TransactionRequest{
		Type: loan.TxWaiver, Date: date(2023, time.January, 31), Amount: usd("9999.00"),
	})
	if !errors.Is(err, loan.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	after, _ := engine.GetLoan(ctx, "loan-1")
	if len(after.Transactions) != len(before.Transactions) {
		t.Errorf("rejected operation leaked into the ledger: %d -> %d transactions",
			len(before.Transactions), len(after.Transactions))
	}
	if !after.TotalOutstanding().Equal(before.TotalOutstanding()) {
		t.Errorf("outstanding moved on a rejected operation: %s -> %s",
			before.TotalOutstanding(), after.TotalOutstanding())
	}
}

func TestEngine_WriteOff_ComputesAmountAndClosesLoan(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	createActive(t, engine, "loan-1", flatTerms("1250.00", 4, 30, loan.FrequencyDays))

	if _, err := engine.ApplyTransaction(ctx, "loan-1", loan.TransactionRequest{
		Type: loan.TxRepayment, Date: date(2023, time.January, 31), Amount: usd("250.00"),
	}); err != nil {
		t.Fatalf("repayment: %v", err)
	}

	res, err := engine.ApplyTransaction(ctx, "loan-1", loan.TransactionRequest{
		Type: loan.TxWriteOff, Date: date(2023, time.June, 1),
	})
	if err != nil {
		t.Fatalf("write off: %v", err)
	}
	if !res.Transaction.Amount.Equal(usd("1000.00")) {
		t.Errorf("expected written-off amount 1000.00, got %s", res.Transaction.Amount)
	}
	if res.Loan.Status != loan.StatusClosedWrittenOff {
		t.Errorf("expected closed_written_off, got %s", res.Loan.Status)
	}
	if !res.Loan.TotalOutstanding().IsZero() {
		t.Errorf("expected zero outstanding after write-off, got %s", res.Loan.TotalOutstanding())
	}
}

func TestEngine_Overpayment_ThenCreditBalanceRefund(t *testing.T) {
	// GIVEN: 1300 paid against a 1250 loan
	// WHEN: Refunding the 50.00 credit balance
	// THEN: The loan transitions overpaid -> closed_obligations_met

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	createActive(t, engine, "loan-1", flatTerms("1250.00", 4, 30, loan.FrequencyDays))

	res, err := engine.ApplyTransaction(ctx, "loan-1", loan.TransactionRequest{
		Type: loan.TxRepayment, Date: date(2023, time.January, 31), Amount: usd("1300.00"),
	})
	if err != nil {
		t.Fatalf("repayment: %v", err)
	}
	if res.Loan.Status != loan.StatusOverpaid {
		t.Fatalf("expected overpaid, got %s", res.Loan.Status)
	}
	if !res.Loan.Overpayment.Equal(usd("50.00")) {
		t.Fatalf("expected 50.00 overpayment, got %s", res.Loan.Overpayment)
	}

	// Refunding more than the balance is rejected.
	_, err = engine.ApplyTransaction(ctx, "loan-1", loan.TransactionRequest{
		Type: loan.TxCreditBalanceRefund, Date: date(2023, time.February, 1), Amount: usd("60.00"),
	})
	if !errors.Is(err, loan.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	res, err = engine.ApplyTransaction(ctx, "loan-1", loan.TransactionRequest{
		Type: loan.TxCreditBalanceRefund, Date: date(2023, time.February, 1), Amount: usd("50.00"),
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if res.Loan.Status != loan.StatusClosedMet {
		t.Errorf("expected closed_obligations_met, got %s", res.Loan.Status)
	}
}

// =============================================================================
// DISBURSEMENT VALIDATION TESTS
// =============================================================================

func TestEngine_Disburse_Validations(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	terms := flatTerms("1000.00", 4, 30, loan.FrequencyDays)
	l, _ := loan.NewLoan("loan-1", "prod-1", "USD", terms)
	if err := engine.CreateLoan(ctx, l); err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	if _, err := engine.ApproveLoan(ctx, "loan-1", date(2022, time.December, 20), usd("1000.00")); err != nil {
		t.Fatalf("ApproveLoan: %v", err)
	}

	// Missing date.
	if _, err := engine.Disburse(ctx, "loan-1", loan.Date{}, usd("1000.00")); !errors.Is(err, loan.ErrValidation) {
		t.Errorf("missing date: expected validation error, got %v", err)
	}
	// Exceeds approved principal.
	if _, err := engine.Disburse(ctx, "loan-1", date(2023, time.January, 1), usd("1001.00")); !errors.Is(err, loan.ErrValidation) {
		t.Errorf("over principal: expected validation error, got %v", err)
	}
	// First tranche succeeds; a second on a single-disbursement loan does not.
	if _, err := engine.Disburse(ctx, "loan-1", date(2023, time.January, 1), usd("500.00")); err != nil {
		t.Fatalf("first disbursement: %v", err)
	}
	if _, err := engine.Disburse(ctx, "loan-1", date(2023, time.February, 1), usd("500.00")); !errors.Is(err, loan.ErrIllegalTransition) {
		t.Errorf("second disbursement: expected illegal transition, got %v", err)
	}
}

func TestEngine_Disburse_TrancheRules(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	terms := flatTerms("1000.00", 4, 30, loan.FrequencyDays)
	terms.MultiDisbursement = true
	terms.MaxTranches = 2
	l, _ := loan.NewLoan("loan-1", "prod-1", "USD", terms)
	if err := engine.CreateLoan(ctx, l); err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	if _, err := engine.ApproveLoan(ctx, "loan-1", date(2022, time.December, 20), usd("1000.00")); err != nil {
		t.Fatalf("ApproveLoan: %v", err)
	}

	if _, err := engine.Disburse(ctx, "loan-1", date(2023, time.January, 1), usd("400.00")); err != nil {
		t.Fatalf("tranche 1: %v", err)
	}
	// Duplicate tranche date.
	if _, err := engine.Disburse(ctx, "loan-1", date(2023, time.January, 1), usd("100.00")); !errors.Is(err, loan.ErrValidation) {
		t.Errorf("duplicate date: expected validation error, got %v", err)
	}
	if _, err := engine.Disburse(ctx, "loan-1", date(2023, time.February, 1), usd("400.00")); err != nil {
		t.Fatalf("tranche 2: %v", err)
	}
	// Tranche cap.
	if _, err := engine.Disburse(ctx, "loan-1", date(2023, time.March, 1), usd("200.00")); !errors.Is(err, loan.ErrValidation) {
		t.Errorf("tranche cap: expected validation error, got %v", err)
	}
}

// =============================================================================
// SCHEDULE OPERATION TESTS
// =============================================================================

func TestEngine_AddCharge_DuplicateIDRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	createActive(t, engine, "loan-1", flatTerms("1250.00", 4, 30, loan.FrequencyDays))

	charge := loan.Charge{ID: "fee-1", Bucket: loan.BucketFee, Amount: usd("25.00"), DueDate: date(2023, time.February, 10)}
	if _, err := engine.AddCharge(ctx, "loan-1", charge); err != nil {
		t.Fatalf("AddCharge: %v", err)
	}
	if _, err := engine.AddCharge(ctx, "loan-1", charge); !errors.Is(err, loan.ErrValidation) {
		t.Errorf("expected duplicate charge id rejected, got %v", err)
	}

	sched, err := engine.GetSchedule(ctx, "loan-1")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if !sched[1].Due.Fee.Equal(usd("25.00")) {
		t.Errorf("expected fee 25.00 on installment 2, got %s", sched[1].Due.Fee)
	}
}

func TestEngine_Reschedule_RequiresOpenLoan(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	createActive(t, engine, "loan-1", flatTerms("1250.00", 4, 30, loan.FrequencyDays))

	if _, err := engine.ApplyTransaction(ctx, "loan-1", loan.TransactionRequest{
		Type: loan.TxWriteOff, Date: date(2023, time.June, 1),
	}); err != nil {
		t.Fatalf("write off: %v", err)
	}

	_, err := engine.Reschedule(ctx, "loan-1", date(2023, time.July, 1))
	if !errors.Is(err, loan.ErrIllegalTransition) {
		t.Errorf("expected illegal transition on written-off loan, got %v", err)
	}
}

func TestEngine_Reschedule_MaturityBeforePenultimateDue_Rejected(t *testing.T) {
	// GIVEN: Due dates 31-Jan, 02-Mar, 01-Apr, 01-May
	// WHEN: Moving maturity to a date not after 01-Apr
	// THEN: The request fails validation up front; a later date succeeds

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	createActive(t, engine, "loan-1", flatTerms("1250.00", 4, 30, loan.FrequencyDays))

	if _, err := engine.Reschedule(ctx, "loan-1", date(2023, time.February, 15)); !errors.Is(err, loan.ErrValidation) {
		t.Errorf("mid-schedule maturity: expected validation error, got %v", err)
	}
	if _, err := engine.Reschedule(ctx, "loan-1", date(2023, time.April, 1)); !errors.Is(err, loan.ErrValidation) {
		t.Errorf("maturity on penultimate due date: expected validation error, got %v", err)
	}

	l, err := engine.Reschedule(ctx, "loan-1", date(2023, time.June, 1))
	if err != nil {
		t.Fatalf("valid reschedule: %v", err)
	}
	if !l.Schedule[3].DueDate.Equal(date(2023, time.June, 1)) {
		t.Errorf("expected maturity moved to 2023-06-01, got %s", l.Schedule[3].DueDate)
	}
}

// =============================================================================
// COB STEP TESTS
// =============================================================================

func TestEngine_COBApplyOverdueCharges_IdempotentAcrossReruns(t *testing.T) {
	// GIVEN: A 5% overdue penalty and installment 1 overdue
	// WHEN: Running apply-overdue-charges twice for the same date
	// THEN: Exactly one penalty charge exists

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	terms := flatTerms("1250.00", 4, 30, loan.FrequencyDays)
	terms.OverduePenaltyRate = decimal.NewFromInt(5)
	createActive(t, engine, "loan-1", terms)

	at := date(2023, time.February, 10)
	first, err := engine.RunCOBStep(ctx, "loan-1", loan.StepApplyOverdueCharges, at)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !first.Changed {
		t.Fatal("expected first run to add a charge")
	}
	// 5% of the 312.00 overdue installment.
	if !first.Loan.Schedule[0].Due.Penalty.Equal(usd("15.60")) {
		t.Errorf("expected 15.60 penalty, got %s", first.Loan.Schedule[0].Due.Penalty)
	}

	second, err := engine.RunCOBStep(ctx, "loan-1", loan.StepApplyOverdueCharges, at)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Changed {
		t.Error("expected second run to be a no-op")
	}
	if len(second.Loan.Charges) != 1 {
		t.Errorf("expected exactly one charge, got %d", len(second.Loan.Charges))
	}
}

func TestEngine_COBCheckSteps_DetectWithoutMutating(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	createActive(t, engine, "loan-1", flatTerms("1250.00", 4, 30, loan.FrequencyDays))

	due, err := engine.RunCOBStep(ctx, "loan-1", loan.StepCheckDue, date(2023, time.January, 31))
	if err != nil {
		t.Fatalf("check-due: %v", err)
	}
	if len(due.DueToday) != 1 || due.DueToday[0] != 1 {
		t.Errorf("expected installment 1 due today, got %v", due.DueToday)
	}
	if due.Changed {
		t.Error("check-due must not mutate")
	}

	overdue, err := engine.RunCOBStep(ctx, "loan-1", loan.StepCheckOverdue, date(2023, time.March, 15))
	if err != nil {
		t.Fatalf("check-overdue: %v", err)
	}
	if len(overdue.OverdueSeqs) != 2 {
		t.Errorf("expected installments 1 and 2 overdue, got %v", overdue.OverdueSeqs)
	}
}

func TestEngine_COBArrearsAgeing_SetsAndClears(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	createActive(t, engine, "loan-1", flatTerms("1250.00", 4, 30, loan.FrequencyDays))

	res, err := engine.RunCOBStep(ctx, "loan-1", loan.StepUpdateArrearsAgeing, date(2023, time.February, 10))
	if err != nil {
		t.Fatalf("ageing: %v", err)
	}
	if !res.Loan.ArrearsSince.Equal(date(2023, time.January, 31)) {
		t.Errorf("expected arrears since 2023-01-31, got %s", res.Loan.ArrearsSince)
	}

	// Catching up clears it on the next run.
	if _, err := engine.ApplyTransaction(ctx, "loan-1", loan.TransactionRequest{
		Type: loan.TxRepayment, Date: date(2023, time.February, 11), Amount: usd("312.00"),
	}); err != nil {
		t.Fatalf("repayment: %v", err)
	}
	res, err = engine.RunCOBStep(ctx, "loan-1", loan.StepUpdateArrearsAgeing, date(2023, time.February, 12))
	if err != nil {
		t.Fatalf("ageing rerun: %v", err)
	}
	if !res.Loan.ArrearsSince.IsZero() {
		t.Errorf("expected arrears cleared, got %s", res.Loan.ArrearsSince)
	}
}

func TestEngine_COBAccrual_RerunSupersedesPriorPosting(t *testing.T) {
	// GIVEN: An accrual already posted for the business date
	// WHEN: Re-running the accrual step for the same date
	// THEN: The prior posting is reversed and the replacement links it

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	terms := flatTerms("1200.00", 4, 1, loan.FrequencyMonths)
	terms.AnnualRate = decimal.NewFromInt(12)
	terms.AccrualAccounting = true
	createActive(t, engine, "loan-1", terms)

	at := date(2023, time.February, 1)
	first, err := engine.RunCOBStep(ctx, "loan-1", loan.StepAccrual, at)
	if err != nil {
		t.Fatalf("first accrual: %v", err)
	}
	if len(first.Transactions) != 1 {
		t.Fatalf("expected one accrual posting, got %d", len(first.Transactions))
	}
	firstID := first.Transactions[0].ID

	second, err := engine.RunCOBStep(ctx, "loan-1", loan.StepAccrual, at)
	if err != nil {
		t.Fatalf("rerun accrual: %v", err)
	}
	if len(second.Transactions) != 1 {
		t.Fatalf("expected a replacement posting, got %d", len(second.Transactions))
	}
	replacement := second.Transactions[0]
	if !replacement.RelatedTo(loan.RelationSupersedes, firstID) {
		t.Errorf("expected supersedes relation to %s, got %+v", firstID, replacement.Relations)
	}
	if prior := second.Loan.Transaction(firstID); prior == nil || !prior.Reversed {
		t.Error("expected prior accrual reversed")
	}
	// Recognized interest still equals earned interest exactly once.
	if !second.Loan.Summary.AccruedInterest.Equal(usd("12.00")) {
		t.Errorf("expected 12.00 recognized, got %s", second.Loan.Summary.AccruedInterest)
	}
}

func TestEngine_COBInterestRecalculation_RepricesFutureInterest(t *testing.T) {
	// GIVEN: A declining-balance loan with recalculation on, prepaid early
	// WHEN: Running interest recalculation
	// THEN: Future interest shrinks to match the reduced outstanding

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	terms := flatTerms("1200.00", 4, 1, loan.FrequencyMonths)
	terms.AnnualRate = decimal.NewFromInt(12)
	terms.Interest = loan.InterestDeclining
	terms.InterestRecalculation = true
	createActive(t, engine, "loan-1", terms)

	before, _ := engine.GetSchedule(ctx, "loan-1")
	lastInterestBefore := before[3].Due.Interest

	// Large early repayment knocks out most of the principal.
	if _, err := engine.ApplyTransaction(ctx, "loan-1", loan.TransactionRequest{
		Type: loan.TxRepayment, Date: date(2023, time.January, 10), Amount: usd("900.00"),
	}); err != nil {
		t.Fatalf("repayment: %v", err)
	}

	res, err := engine.RunCOBStep(ctx, "loan-1", loan.StepInterestRecalculation, date(2023, time.January, 11))
	if err != nil {
		t.Fatalf("recalculation: %v", err)
	}
	if !res.Changed {
		t.Fatal("expected recalculation to reprice")
	}
	if !res.Loan.Schedule[3].Due.Interest.LessThan(lastInterestBefore) {
		t.Errorf("expected final-period interest below %s, got %s",
			lastInterestBefore, res.Loan.Schedule[3].Due.Interest)
	}
}
