package loan_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
)

// interestLoan builds an active monthly loan carrying 12.00 interest per
// period (1200 at 12% annual, flat).
func interestLoan(t *testing.T) *loan.Loan {
	t.Helper()
	terms := flatTerms("1200.00", 4, 1, loan.FrequencyMonths)
	terms.AnnualRate = decimal.NewFromInt(12)
	terms.AccrualAccounting = true

	l, err := loan.NewLoan("loan-acc", "prod-1", "USD", terms)
	if err != nil {
		t.Fatalf("NewLoan: %v", err)
	}
	if err := l.Approve(date(2022, time.December, 20), usd("1200.00")); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := loan.Insert(l, &loan.Transaction{
		ID: "tx-d", LoanID: l.ID, Type: loan.TxDisbursement,
		EffectiveDate: date(2023, time.January, 1), Amount: usd("1200.00"),
	}); err != nil {
		t.Fatalf("disburse: %v", err)
	}
	return l
}

// =============================================================================
// EARNED-TO-DATE TESTS
// =============================================================================

func TestAccruedToDate_ClosedPeriod_FullInterestEarned(t *testing.T) {
	// GIVEN: The first period closes on 01-Feb with 12.00 interest
	// WHEN: Computing earned amounts on the due date
	// THEN: Exactly the first period's interest is earned

	l := interestLoan(t)
	earned := loan.AccruedToDate(l, date(2023, time.February, 1))

	if !earned.Interest.Equal(usd("12.00")) {
		t.Errorf("expected 12.00 earned interest, got %s", earned.Interest)
	}
}

func TestAccruedToDate_MidPeriod_LinearFraction(t *testing.T) {
	// GIVEN: A business date halfway through the first period
	// WHEN: Computing earned amounts
	// THEN: A strict fraction of the period interest is earned

	l := interestLoan(t)
	earned := loan.AccruedToDate(l, date(2023, time.January, 16))

	if !earned.Interest.IsPositive() {
		t.Fatalf("expected positive mid-period accrual, got %s", earned.Interest)
	}
	if !earned.Interest.LessThan(usd("12.00")) {
		t.Errorf("expected less than full period interest, got %s", earned.Interest)
	}
}

func TestAccruedToDate_BeforeFirstPeriodStarts_Zero(t *testing.T) {
	l := interestLoan(t)
	earned := loan.AccruedToDate(l, date(2023, time.January, 1))
	if !earned.Interest.IsZero() {
		t.Errorf("expected nothing earned on the disbursement date, got %s", earned.Interest)
	}
}

// =============================================================================
// ACCRUAL DELTA TESTS
// =============================================================================

func TestBuildAccrual_DeltaAgainstRecognized(t *testing.T) {
	// GIVEN: 12.00 earned and nothing recognized yet
	// WHEN: Building and applying the accrual, then building again
	// THEN: The first delta is 12.00; the second is nil (idempotent)

	l := interestLoan(t)
	at := date(2023, time.February, 1)

	tx := loan.BuildAccrual(l, "acc-1", at)
	if tx == nil {
		t.Fatal("expected an accrual transaction")
	}
	if !tx.Portions.Interest.Equal(usd("12.00")) {
		t.Errorf("expected 12.00 interest delta, got %s", tx.Portions.Interest)
	}
	if err := loan.Insert(l, tx); err != nil {
		t.Fatalf("apply accrual: %v", err)
	}
	if !l.Summary.AccruedInterest.Equal(usd("12.00")) {
		t.Errorf("expected 12.00 recognized, got %s", l.Summary.AccruedInterest)
	}

	if again := loan.BuildAccrual(l, "acc-2", at); again != nil {
		t.Errorf("expected nil delta once recognized, got %+v", again.Portions)
	}
}

func TestBuildAccrual_AfterFeeWaiver_NegativeDelta(t *testing.T) {
	// GIVEN: A 25.00 fee recognized by a prior accrual, then 10.00 waived
	// WHEN: Building the next accrual
	// THEN: The fee delta is -10.00 so recognized tracks earned

	terms := flatTerms("1200.00", 4, 1, loan.FrequencyMonths)
	l, err := loan.NewLoan("loan-neg", "prod-1", "USD", terms)
	if err != nil {
		t.Fatalf("NewLoan: %v", err)
	}
	l.Charges = []loan.Charge{
		{ID: "fee-1", Bucket: loan.BucketFee, Amount: usd("25.00"), DueDate: date(2023, time.January, 15)},
	}
	if err := l.Approve(date(2022, time.December, 20), usd("1200.00")); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := loan.Insert(l, &loan.Transaction{
		ID: "tx-d", LoanID: l.ID, Type: loan.TxDisbursement,
		EffectiveDate: date(2023, time.January, 1), Amount: usd("1200.00"),
	}); err != nil {
		t.Fatalf("disburse: %v", err)
	}

	at := date(2023, time.February, 1)
	first := loan.BuildAccrual(l, "acc-1", at)
	if first == nil || !first.Portions.Fee.Equal(usd("25.00")) {
		t.Fatalf("expected 25.00 fee accrual, got %+v", first)
	}
	if err := loan.Insert(l, first); err != nil {
		t.Fatalf("apply accrual: %v", err)
	}

	if err := loan.Insert(l, &loan.Transaction{
		ID: "tx-adj", LoanID: l.ID, Type: loan.TxChargeAdjustment,
		EffectiveDate: date(2023, time.February, 1), Amount: usd("10.00"), ChargeID: "fee-1",
	}); err != nil {
		t.Fatalf("charge adjustment: %v", err)
	}

	second := loan.BuildAccrual(l, "acc-2", date(2023, time.February, 2))
	if second == nil {
		t.Fatal("expected a corrective accrual")
	}
	if !second.Portions.Fee.Equal(usd("-10.00")) {
		t.Errorf("expected -10.00 fee delta, got %s", second.Portions.Fee)
	}
}

func TestFindAccrualOn_SkipsReversedEntries(t *testing.T) {
	l := interestLoan(t)
	at := date(2023, time.February, 1)

	tx := loan.BuildAccrual(l, "acc-1", at)
	if err := loan.Insert(l, tx); err != nil {
		t.Fatalf("apply accrual: %v", err)
	}
	if found := loan.FindAccrualOn(l, at); found == nil || found.ID != "acc-1" {
		t.Fatalf("expected to find acc-1, got %+v", found)
	}

	if err := loan.ReverseTransaction(l, "acc-1"); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if found := loan.FindAccrualOn(l, at); found != nil {
		t.Errorf("expected reversed accrual to be invisible, got %+v", found)
	}
}

// =============================================================================
// ACCRUAL ACTIVITY TESTS
// =============================================================================

func TestBuildAccrualActivities_OnePerClosedPeriod(t *testing.T) {
	// GIVEN: Two periods closed by 02-Mar
	// WHEN: Building activity postings
	// THEN: One posting per closed period, dated at the period due date

	l := interestLoan(t)
	n := 0
	newID := func() loan.TransactionID {
		n++
		return loan.TransactionID("act-" + strconv.Itoa(n))
	}

	activities := loan.BuildAccrualActivities(l, date(2023, time.March, 2), newID)
	if len(activities) != 2 {
		t.Fatalf("expected 2 activity postings, got %d", len(activities))
	}
	wantDates := []loan.Date{date(2023, time.February, 1), date(2023, time.March, 1)}
	for i, act := range activities {
		if !act.EffectiveDate.Equal(wantDates[i]) {
			t.Errorf("posting %d: expected date %s, got %s", i, wantDates[i], act.EffectiveDate)
		}
		if !act.Portions.Interest.Equal(usd("12.00")) {
			t.Errorf("posting %d: expected 12.00 interest, got %s", i, act.Portions.Interest)
		}
	}

	// Applying them makes the builder idempotent for those periods.
	for _, act := range activities {
		if err := loan.Insert(l, act); err != nil {
			t.Fatalf("apply activity: %v", err)
		}
	}
	if again := loan.BuildAccrualActivities(l, date(2023, time.March, 2), newID); len(again) != 0 {
		t.Errorf("expected no duplicate postings, got %d", len(again))
	}
}

func TestBuildAccrualActivities_ZeroInterestLoan_None(t *testing.T) {
	l := activeLoan(t)
	newID := func() loan.TransactionID { return "act-x" }
	if out := loan.BuildAccrualActivities(l, date(2023, time.June, 1), newID); len(out) != 0 {
		t.Errorf("expected no activity postings on a zero-rate loan, got %d", len(out))
	}
}
