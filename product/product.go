/*
Package product holds loan product definitions: the term defaults and
allocation configuration a loan is created from.

PURPOSE:
  A Product is the configuration unit risk teams manage. Loans snapshot the
  product's policies at creation time, so later product edits never reach
  already-open loans.

VALIDATION:
  Mis-configured products are rejected at configuration time with
  PolicyViolation, before any loan can be created from them:
    - advanced payment allocation without a DEFAULT rule
    - custom credit allocation under a non-advanced strategy
    - overlapping delinquency ranges
    - duplicate delinquency bucket names per product set

SEE ALSO:
  - factory.go: JSON parsing of product definitions
  - loan/policy.go: the policy types themselves
*/
package product

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// PRODUCT DEFINITION
// =============================================================================

// AllocationStrategy selects how repayments decompose across buckets.
type AllocationStrategy string

const (
	// StrategyPenaltiesFirst is the fixed conventional ordering; rule
	// customization is not available under it.
	StrategyPenaltiesFirst AllocationStrategy = "penalties-fees-principal-interest"
	// StrategyAdvanced enables per-transaction-type allocation rules and
	// credit allocation ordering.
	StrategyAdvanced AllocationStrategy = "advanced-payment-allocation"
)

type Product struct {
	ID       loan.ProductID `json:"id"`
	Name     string         `json:"name"`
	Currency string         `json:"currency"`

	// Terms are the defaults a new loan starts from; per-loan overrides
	// (principal, installment count, dates) land on top.
	Terms loan.LoanTerms `json:"terms"`

	Strategy          AllocationStrategy          `json:"strategy"`
	Allocation        loan.AllocationPolicy       `json:"allocation"`
	CreditAllocation  loan.CreditAllocationPolicy `json:"credit_allocation"`
	DelinquencyBucket loan.DelinquencyBucket      `json:"delinquency_bucket"`
}

// Validate rejects configurations that would misbehave at transaction time.
func (p Product) Validate() error {
	if p.Strategy == "" || p.Strategy == StrategyPenaltiesFirst {
		if len(p.Allocation.Rules) > 0 {
			if _, ok := p.Allocation.Rules[loan.DefaultRuleKey]; !ok || len(p.Allocation.Rules) > 1 {
				return &loan.PolicyViolationError{Product: p.ID, Message: "allocation rule overrides require the advanced payment allocation strategy"}
			}
		}
		if len(p.CreditAllocation.Order) > 0 {
			return &loan.PolicyViolationError{Product: p.ID, Message: "credit allocation configuration requires the advanced payment allocation strategy"}
		}
		return p.DelinquencyBucket.Validate()
	}

	if err := p.Allocation.Validate(p.ID); err != nil {
		return err
	}
	if err := p.CreditAllocation.Validate(p.ID); err != nil {
		return err
	}
	return p.DelinquencyBucket.Validate()
}

// NewLoan builds a pending loan from the product and per-loan terms,
// snapshotting the product's policies onto the aggregate.
func (p Product) NewLoan(id loan.LoanID, terms loan.LoanTerms) (*loan.Loan, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	l, err := loan.NewLoan(id, p.ID, p.Currency, terms)
	if err != nil {
		return nil, err
	}
	if len(p.Allocation.Rules) > 0 {
		l.Policy = p.Allocation
	}
	if len(p.CreditAllocation.Order) > 0 {
		l.CreditPolicy = p.CreditAllocation
	}
	l.DelinquencyBucket = p.DelinquencyBucket
	return l, nil
}

// =============================================================================
// PRODUCT STORE
// =============================================================================

// Store keeps validated products in memory. Product sets are small and
// read-heavy; a mutex-guarded map is enough.
type Store struct {
	mu       sync.RWMutex
	products map[loan.ProductID]Product
}

func NewStore() *Store {
	return &Store{products: make(map[loan.ProductID]Product)}
}

// Put validates and stores a product. Bucket names must be unique across
// the stored set.
func (s *Store) Put(_ context.Context, p Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.DelinquencyBucket.Name != "" {
		for id, existing := range s.products {
			if id != p.ID && existing.DelinquencyBucket.Name == p.DelinquencyBucket.Name {
				return &loan.PolicyViolationError{Product: p.ID, Message: "delinquency bucket name already used by product " + string(id)}
			}
		}
	}
	s.products[p.ID] = p
	return nil
}

func (s *Store) Get(_ context.Context, id loan.ProductID) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, &loan.ValidationError{Field: "product_id", Message: "unknown product " + string(id)}
	}
	return p, nil
}

func (s *Store) List(_ context.Context) []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
