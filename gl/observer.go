package gl

import (
	"context"
	"sync"

	"github.com/warp/loan-engine/loan"
)

// Poster receives balanced journal deltas. Implementations forward them to
// an external ledger or keep them locally.
type Poster interface {
	Post(ctx context.Context, delta *JournalDelta) error
}

// =============================================================================
// OBSERVER - loan.LedgerObserver implementation
// =============================================================================

// Observer builds a delta for every applied transaction and hands it to the
// poster. Posting failures are collected rather than propagated: the loan
// mutation already committed, so accounting catches up out of band.
type Observer struct {
	poster Poster

	mu     sync.Mutex
	failed []*JournalDelta
}

func NewObserver(p Poster) *Observer {
	return &Observer{poster: p}
}

func (o *Observer) TransactionApplied(ctx context.Context, l *loan.Loan, tx *loan.Transaction) {
	d := BuildDelta(l, tx)
	if len(d.Entries) == 0 {
		return
	}
	if err := o.poster.Post(ctx, d); err != nil {
		o.mu.Lock()
		o.failed = append(o.failed, d)
		o.mu.Unlock()
	}
}

// Failed returns deltas whose posting failed, for retry tooling.
func (o *Observer) Failed() []*JournalDelta {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*JournalDelta(nil), o.failed...)
}

// =============================================================================
// MEMORY POSTER
// =============================================================================

// MemoryPoster accumulates deltas in memory, for tests and development.
type MemoryPoster struct {
	mu     sync.Mutex
	deltas []*JournalDelta
}

func NewMemoryPoster() *MemoryPoster {
	return &MemoryPoster{}
}

func (p *MemoryPoster) Post(_ context.Context, d *JournalDelta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deltas = append(p.deltas, d)
	return nil
}

func (p *MemoryPoster) Deltas() []*JournalDelta {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*JournalDelta(nil), p.deltas...)
}

// ForLoan filters posted deltas by loan.
func (p *MemoryPoster) ForLoan(id loan.LoanID) []*JournalDelta {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*JournalDelta
	for _, d := range p.deltas {
		if d.Loan == id {
			out = append(out, d)
		}
	}
	return out
}
