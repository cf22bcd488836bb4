/*
store.go - Persistence interface for loan aggregates

The engine mutates a cloned aggregate and swaps it in with a single Save.
Save is the atomic unit: a store either persists the whole post-replay
aggregate or none of it. That is what keeps replay all-or-nothing even when
the schedule, ledger and summary all changed.

IMPLEMENTATIONS:
  - loan/store/memory.go: in-memory, for tests and development
  - store/sqlite/sqlite.go: production SQLite
*/
package loan

import "context"

// Store persists loan aggregates.
type Store interface {
	// Save atomically persists the full aggregate, replacing any prior
	// version.
	Save(ctx context.Context, l *Loan) error

	// Get loads a loan or returns ErrLoanNotFound.
	Get(ctx context.Context, id LoanID) (*Loan, error)

	// List returns all loan IDs.
	List(ctx context.Context) ([]LoanID, error)

	// ListByStatus returns loan IDs in any of the given statuses.
	ListByStatus(ctx context.Context, statuses ...LoanStatus) ([]LoanID, error)
}

// EventSink receives domain events. One TransactionCompleted per applied
// transaction; one LoanSnapshot per loan per COB cycle; DelinquencyChanged
// when the classification moves.
type EventSink interface {
	TransactionCompleted(ctx context.Context, l *Loan, tx *Transaction)
	DelinquencyChanged(ctx context.Context, l *Loan, state DelinquencyState)
	LoanSnapshot(ctx context.Context, l *Loan, businessDate Date)
}

// LedgerObserver is the accounting hook: it receives the loan and
// transaction after every successful application so the GL layer can derive
// journal deltas.
type LedgerObserver interface {
	TransactionApplied(ctx context.Context, l *Loan, tx *Transaction)
}
