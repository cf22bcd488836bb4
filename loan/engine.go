/*
engine.go - The engine facade

PURPOSE:
  The Engine is the only entry point collaborators use. It owns the per-loan
  exclusive locks, loads the aggregate, runs the mutation against a clone,
  and swaps the clone in atomically on success. Callers observe either the
  pre- or fully-post-replay state, never anything partial.

CONCURRENCY:
  Processing is per-loan serializable. Operations on different loans run in
  parallel; operations on one loan queue on its mutex. Replay is synchronous
  and blocking relative to the triggering request - there is no background
  catch-up window and no internal retry (a half-applied replay retried
  internally would double-apply side effects).
*/
package loan

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/loan-engine/money"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store    Store
	events   EventSink
	observer LedgerObserver

	// NextDueDateMode configures the delinquency classifier.
	NextDueDateMode NextDueDateMode

	locks sync.Map // LoanID -> *sync.Mutex

	// newID is injectable for deterministic tests.
	newID func() TransactionID
}

type Option func(*Engine)

func WithEventSink(s EventSink) Option { return func(e *Engine) { e.events = s } }

func WithLedgerObserver(o LedgerObserver) Option { return func(e *Engine) { e.observer = o } }

func WithIDGenerator(f func() TransactionID) Option { return func(e *Engine) { e.newID = f } }

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		NextDueDateMode: EarliestUnpaidDate,
		newID:           func() TransactionID { return TransactionID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lockFor(id LoanID) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// withLoan runs fn against a clone of the aggregate under the loan's lock
// and persists the clone when fn succeeds.
func (e *Engine) withLoan(ctx context.Context, id LoanID, fn func(*Loan) error) (*Loan, error) {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	current, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	if err := e.store.Save(ctx, working); err != nil {
		return nil, err
	}
	return working, nil
}

// =============================================================================
// RESULTS
// =============================================================================

type TransactionResult struct {
	Transaction *Transaction
	Loan        *Loan
}

type ReplayResult struct {
	Loan     *Loan
	Reversed TransactionID
}

// =============================================================================
// LIFECYCLE OPERATIONS
// =============================================================================

// CreateLoan registers a pending loan.
func (e *Engine) CreateLoan(ctx context.Context, l *Loan) error {
	mu := e.lockFor(l.ID)
	mu.Lock()
	defer mu.Unlock()
	return e.store.Save(ctx, l)
}

func (e *Engine) ApproveLoan(ctx context.Context, id LoanID, date Date, amount money.Money) (*Loan, error) {
	return e.withLoan(ctx, id, func(l *Loan) error {
		return l.Approve(date, amount)
	})
}

// Disburse releases a tranche. Validation: the disbursement date is
// mandatory, cumulative disbursements cannot exceed the approved principal,
// tranche count is capped by the product, and duplicate tranche dates are
// rejected.
func (e *Engine) Disburse(ctx context.Context, id LoanID, date Date, amount money.Money) (*TransactionResult, error) {
	var tx *Transaction
	l, err := e.withLoan(ctx, id, func(l *Loan) error {
		if date.IsZero() {
			return &ValidationError{Field: "disbursement_date", Message: "mandatory"}
		}
		if !amount.IsPositive() {
			return &ValidationError{Field: "amount", Message: "must be positive"}
		}
		if l.DisbursedTotal.Add(amount).GreaterThan(l.Terms.Principal) {
			return &ValidationError{Field: "amount", Message: "exceeds approved principal"}
		}
		existing := l.Disbursements()
		if !l.Terms.MultiDisbursement && len(existing) > 0 {
			return &IllegalTransitionError{Loan: l.ID, Status: l.Status, Operation: "disburse twice on single-disbursement loan"}
		}
		if l.Terms.MultiDisbursement {
			if len(existing) >= l.Terms.MaxTranches {
				return &ValidationError{Field: "tranches", Message: "tranche count exceeds product maximum"}
			}
			for _, d := range existing {
				if d.EffectiveDate.Equal(date) {
					return &ValidationError{Field: "disbursement_date", Message: "duplicate tranche disbursement date"}
				}
			}
		}
		tx = &Transaction{ID: e.newID(), LoanID: l.ID, Type: TxDisbursement, EffectiveDate: date, Amount: amount}
		return Insert(l, tx)
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, l, tx)
	return &TransactionResult{Transaction: tx, Loan: l}, nil
}

// UndoLastDisbursement reverses the latest tranche.
func (e *Engine) UndoLastDisbursement(ctx context.Context, id LoanID) (*ReplayResult, error) {
	var reversed TransactionID
	l, err := e.withLoan(ctx, id, func(l *Loan) error {
		disbursements := l.Disbursements()
		if len(disbursements) > 0 {
			reversed = disbursements[len(disbursements)-1].ID
		}
		return UndoLastDisbursement(l)
	})
	if err != nil {
		return nil, err
	}
	return &ReplayResult{Loan: l, Reversed: reversed}, nil
}

// =============================================================================
// TRANSACTION OPERATIONS
// =============================================================================

// TransactionRequest carries the caller-facing parameters of
// ApplyTransaction.
type TransactionRequest struct {
	Type       TransactionType
	Date       Date
	Amount     money.Money
	ExternalID string
	ChargeID   ChargeID // charge adjustments only
}

// ApplyTransaction validates and applies a financial transaction. Backdated
// effective dates trigger a reverse-replay transparently.
func (e *Engine) ApplyTransaction(ctx context.Context, id LoanID, req TransactionRequest) (*TransactionResult, error) {
	if req.Date.IsZero() {
		return nil, &ValidationError{Field: "date", Message: "mandatory"}
	}
	if req.Type == TxDisbursement {
		return e.Disburse(ctx, id, req.Date, req.Amount)
	}
	if !req.Amount.IsPositive() && req.Type != TxWriteOff {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}

	var tx *Transaction
	l, err := e.withLoan(ctx, id, func(l *Loan) error {
		tx = &Transaction{
			ID:            e.newID(),
			LoanID:        l.ID,
			Type:          req.Type,
			EffectiveDate: req.Date,
			Amount:        req.Amount,
			ExternalID:    req.ExternalID,
			ChargeID:      req.ChargeID,
		}
		if req.Type == TxWriteOff {
			tx.Amount = money.Zero(l.Currency) // computed during application
		}
		return Insert(l, tx)
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, l, tx)
	return &TransactionResult{Transaction: tx, Loan: l}, nil
}

// Reverse flips a transaction's reversed flag and replays everything from
// its effective date forward.
func (e *Engine) Reverse(ctx context.Context, id LoanID, txID TransactionID) (*ReplayResult, error) {
	l, err := e.withLoan(ctx, id, func(l *Loan) error {
		return ReverseTransaction(l, txID)
	})
	if err != nil {
		return nil, err
	}
	return &ReplayResult{Loan: l, Reversed: txID}, nil
}

// Chargeback creates the credit transaction for a disputed original and
// links both sides bidirectionally.
func (e *Engine) Chargeback(ctx context.Context, id LoanID, txID TransactionID, amount money.Money, date Date) (*TransactionResult, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	var tx *Transaction
	l, err := e.withLoan(ctx, id, func(l *Loan) error {
		tx = &Transaction{ID: e.newID(), LoanID: l.ID, Type: TxChargeback, EffectiveDate: date, Amount: amount}
		return InsertChargeback(l, tx, txID)
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, l, tx)
	return &TransactionResult{Transaction: tx, Loan: l}, nil
}

// =============================================================================
// SCHEDULE OPERATIONS
// =============================================================================

// AddCharge attaches a fee or penalty due on a date. Because charges are
// schedule inputs, the loan replays so allocation against the new dues is
// deterministic; a charge due after maturity produces the additional
// installment.
func (e *Engine) AddCharge(ctx context.Context, id LoanID, charge Charge) (*Loan, error) {
	if err := charge.Validate(); err != nil {
		return nil, err
	}
	return e.withLoan(ctx, id, func(l *Loan) error {
		for _, existing := range l.Charges {
			if existing.ID == charge.ID {
				return &ValidationError{Field: "id", Message: "duplicate charge id"}
			}
		}
		l.Charges = append(l.Charges, charge)
		if l.Status == StatusPending || l.Status == StatusApproved {
			return nil // folded in at disbursement
		}
		return Replay(l)
	})
}

// Reschedule moves the maturity date and regenerates. Moving maturity past a
// post-maturity charge's due date merges the charge back into the final
// regular installment.
func (e *Engine) Reschedule(ctx context.Context, id LoanID, newMaturity Date) (*Loan, error) {
	if newMaturity.IsZero() {
		return nil, &ValidationError{Field: "maturity_date", Message: "mandatory"}
	}
	return e.withLoan(ctx, id, func(l *Loan) error {
		if !l.Status.Open() {
			return &IllegalTransitionError{Loan: l.ID, Status: l.Status, Operation: "reschedule"}
		}
		// The new maturity replaces the final regular due date, so it has to
		// stay after the installment before it; due dates strictly increase.
		var lastRegular *Installment
		for _, inst := range l.Schedule {
			if !inst.Additional {
				lastRegular = inst
			}
		}
		if lastRegular != nil && !newMaturity.After(lastRegular.FromDate) {
			return &ValidationError{Field: "maturity_date", Message: "maturity must fall after the penultimate installment due date"}
		}
		l.MaturityOverride = newMaturity
		return Replay(l)
	})
}

// =============================================================================
// READS
// =============================================================================

func (e *Engine) GetLoan(ctx context.Context, id LoanID) (*Loan, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) GetSchedule(ctx context.Context, id LoanID) ([]*Installment, error) {
	l, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.Schedule, nil
}

// GetDelinquency classifies on demand against the supplied business date.
func (e *Engine) GetDelinquency(ctx context.Context, id LoanID, businessDate Date) (DelinquencyState, error) {
	l, err := e.store.Get(ctx, id)
	if err != nil {
		return DelinquencyState{}, err
	}
	return ClassifyDelinquency(l, businessDate, e.NextDueDateMode), nil
}

func (e *Engine) ListLoans(ctx context.Context, statuses ...LoanStatus) ([]LoanID, error) {
	if len(statuses) == 0 {
		return e.store.List(ctx)
	}
	return e.store.ListByStatus(ctx, statuses...)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (e *Engine) notify(ctx context.Context, l *Loan, tx *Transaction) {
	if tx == nil {
		return
	}
	if e.observer != nil {
		e.observer.TransactionApplied(ctx, l, tx)
	}
	if e.events != nil {
		e.events.TransactionCompleted(ctx, l, tx)
	}
}
