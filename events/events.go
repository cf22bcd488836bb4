/*
Package events publishes loan domain events.

PURPOSE:
  Downstream consumers (notifications, reporting, external ledgers) hear
  about transactions and COB snapshots through here. The engine calls the
  loan.EventSink interface; this package adapts it onto a Publisher with a
  suppression layer in between.

EVENT SHAPE:
  One TransactionEvent per completed transaction, one LoanSnapshotEvent per
  loan per COB cycle, one DelinquencyEvent whenever the classification
  moves. Snapshots can be suppressed wholesale or per event kind.
*/
package events

import (
	"context"
	"sync"

	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/money"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

type Kind string

const (
	KindTransaction  Kind = "loan.transaction.completed"
	KindDelinquency  Kind = "loan.delinquency.changed"
	KindLoanSnapshot Kind = "loan.snapshot"
)

type Event struct {
	Kind Kind        `json:"kind"`
	Loan loan.LoanID `json:"loan"`

	// Transaction events
	Transaction     loan.TransactionID   `json:"transaction,omitempty"`
	TransactionType loan.TransactionType `json:"transaction_type,omitempty"`
	Amount          money.Money          `json:"amount,omitempty"`
	EffectiveDate   loan.Date            `json:"effective_date,omitempty"`

	// Delinquency events
	Classification string `json:"classification,omitempty"`
	OverdueDays    int    `json:"overdue_days,omitempty"`

	// Snapshot events
	BusinessDate loan.Date       `json:"business_date,omitempty"`
	Status       loan.LoanStatus `json:"status,omitempty"`
	Outstanding  money.Money     `json:"outstanding,omitempty"`
}

// Publisher delivers events. Implementations must be safe for concurrent
// use; the engine publishes from whatever goroutine applied the transaction.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// =============================================================================
// SINK - loan.EventSink implementation with suppression
// =============================================================================

// Suppression disables event kinds wholesale. Zero value publishes
// everything.
type Suppression struct {
	Transactions bool
	Delinquency  bool
	Snapshots    bool
}

type Sink struct {
	pub      Publisher
	suppress Suppression
}

func NewSink(pub Publisher, suppress Suppression) *Sink {
	return &Sink{pub: pub, suppress: suppress}
}

func (s *Sink) TransactionCompleted(ctx context.Context, l *loan.Loan, tx *loan.Transaction) {
	if s.suppress.Transactions {
		return
	}
	s.pub.Publish(ctx, Event{
		Kind:            KindTransaction,
		Loan:            l.ID,
		Transaction:     tx.ID,
		TransactionType: tx.Type,
		Amount:          tx.Amount,
		EffectiveDate:   tx.EffectiveDate,
		Status:          l.Status,
	})
}

func (s *Sink) DelinquencyChanged(ctx context.Context, l *loan.Loan, state loan.DelinquencyState) {
	if s.suppress.Delinquency {
		return
	}
	s.pub.Publish(ctx, Event{
		Kind:           KindDelinquency,
		Loan:           l.ID,
		Classification: state.Classification,
		OverdueDays:    state.OverdueDays,
		Amount:         state.DelinquentAmount,
		Status:         l.Status,
	})
}

func (s *Sink) LoanSnapshot(ctx context.Context, l *loan.Loan, businessDate loan.Date) {
	if s.suppress.Snapshots {
		return
	}
	s.pub.Publish(ctx, Event{
		Kind:         KindLoanSnapshot,
		Loan:         l.ID,
		BusinessDate: businessDate,
		Status:       l.Status,
		Outstanding:  l.TotalOutstanding(),
	})
}

// =============================================================================
// MEMORY PUBLISHER
// =============================================================================

// Memory accumulates events for tests and development.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// OfKind filters recorded events.
func (m *Memory) OfKind(k Kind) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
