// Package store provides loan.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	loans map[loan.LoanID]*loan.Loan
}

func NewMemory() *Memory {
	return &Memory{loans: make(map[loan.LoanID]*loan.Loan)}
}

// Save stores a deep copy of the aggregate so later caller mutations never
// leak into persisted state.
func (m *Memory) Save(_ context.Context, l *loan.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[l.ID] = l.Clone()
	return nil
}

// Get returns a deep copy; callers mutate freely and Save to commit.
func (m *Memory) Get(_ context.Context, id loan.LoanID) (*loan.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[id]
	if !ok {
		return nil, loan.ErrLoanNotFound
	}
	return l.Clone(), nil
}

func (m *Memory) List(_ context.Context) ([]loan.LoanID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]loan.LoanID, 0, len(m.loans))
	for id := range m.loans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) ListByStatus(_ context.Context, statuses ...loan.LoanStatus) ([]loan.LoanID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[loan.LoanStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var ids []loan.LoanID
	for id, l := range m.loans {
		if want[l.Status] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
