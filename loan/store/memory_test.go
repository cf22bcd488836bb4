package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/loan/store"
	"github.com/warp/loan-engine/money"
)

func pendingLoan(t *testing.T, id loan.LoanID) *loan.Loan {
	t.Helper()
	l, err := loan.NewLoan(id, "prod-1", "USD", loan.LoanTerms{
		Principal:           money.MustParse("1000.00", "USD"),
		AnnualRate:          decimal.Zero,
		Installments:        4,
		RepayEvery:          1,
		Frequency:           loan.FrequencyMonths,
		Amortization:        loan.AmortizationEqualInstallments,
		Interest:            loan.InterestFlat,
		InterestCalcPeriod:  loan.CalcPeriodSameAsRepaym,
		DayCount:            loan.DayCountActual365,
		InstallmentMultiple: 1,
	})
	if err != nil {
		t.Fatalf("NewLoan: %v", err)
	}
	return l
}

func TestMemory_GetReturnsIsolatedCopy(t *testing.T) {
	// GIVEN: A saved loan
	// WHEN: Mutating the copy returned by Get
	// THEN: The stored aggregate is unaffected until Save commits

	ctx := context.Background()
	mem := store.NewMemory()
	if err := mem.Save(ctx, pendingLoan(t, "loan-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	copy1, err := mem.Get(ctx, "loan-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	copy1.ExternalID = "mutated"

	copy2, err := mem.Get(ctx, "loan-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if copy2.ExternalID == "mutated" {
		t.Error("caller mutation leaked into the stored aggregate")
	}

	if err := mem.Save(ctx, copy1); err != nil {
		t.Fatalf("Save: %v", err)
	}
	committed, _ := mem.Get(ctx, "loan-1")
	if committed.ExternalID != "mutated" {
		t.Error("expected Save to commit the mutation")
	}
}

func TestMemory_SaveStoresCopy(t *testing.T) {
	// GIVEN: A loan saved to the store
	// WHEN: The caller keeps mutating the original pointer
	// THEN: The stored aggregate stays at the saved state

	ctx := context.Background()
	mem := store.NewMemory()
	l := pendingLoan(t, "loan-1")
	if err := mem.Save(ctx, l); err != nil {
		t.Fatalf("Save: %v", err)
	}
	l.Status = loan.StatusActive

	stored, _ := mem.Get(ctx, "loan-1")
	if stored.Status != loan.StatusPending {
		t.Errorf("expected stored status pending, got %s", stored.Status)
	}
}

func TestMemory_UnknownLoan(t *testing.T) {
	mem := store.NewMemory()
	_, err := mem.Get(context.Background(), "missing")
	if !errors.Is(err, loan.ErrLoanNotFound) {
		t.Errorf("expected ErrLoanNotFound, got %v", err)
	}
}

func TestMemory_ListByStatus(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	a := pendingLoan(t, "loan-a")
	b := pendingLoan(t, "loan-b")
	b.Status = loan.StatusActive
	c := pendingLoan(t, "loan-c")
	c.Status = loan.StatusActive
	for _, l := range []*loan.Loan{c, a, b} {
		if err := mem.Save(ctx, l); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	ids, err := mem.ListByStatus(ctx, loan.StatusActive)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(ids) != 2 || ids[0] != "loan-b" || ids[1] != "loan-c" {
		t.Errorf("expected sorted [loan-b loan-c], got %v", ids)
	}

	all, err := mem.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 loans, got %d", len(all))
	}
}
