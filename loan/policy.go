/*
policy.go - Payment and credit allocation policies

PURPOSE:
  An AllocationPolicy decides which installment buckets a payment satisfies
  first. Rules are ordered lists over twelve allocation buckets:
  {past-due, due, in-advance} x {penalty, fee, principal, interest}.

RULE RESOLUTION:
  A policy carries one mandatory DEFAULT rule plus optional per-transaction-
  type overrides (e.g. GOODWILL_CREDIT allocating to the last installment).
  The engine resolves the rule for a transaction's type and falls back to
  DEFAULT.

CREDIT ALLOCATION:
  Chargebacks and charge adjustments restore previously paid amounts rather
  than satisfy dues, so they use the simpler CreditAllocationPolicy ordered
  purely over {penalty, fee, interest, principal}.

SEE ALSO:
  - allocation.go: the walk that consumes these rules
  - product/: configuration-time validation and JSON parsing
*/
package loan

// =============================================================================
// ALLOCATION BUCKETS - category x bucket
// =============================================================================

type AllocationCategory string

const (
	CategoryPastDue   AllocationCategory = "past_due"
	CategoryDue       AllocationCategory = "due"
	CategoryInAdvance AllocationCategory = "in_advance"
)

// AllocationSlot is one (category, bucket) pair in a rule's ordering.
type AllocationSlot struct {
	Category AllocationCategory `json:"category"`
	Bucket   Bucket             `json:"bucket"`
}

// DefaultAllocationOrder is the conventional ordering: penalties first, then
// fees, principal, interest, within past-due, then due, then in-advance.
func DefaultAllocationOrder() []AllocationSlot {
	var slots []AllocationSlot
	for _, cat := range []AllocationCategory{CategoryPastDue, CategoryDue, CategoryInAdvance} {
		for _, b := range []Bucket{BucketPenalty, BucketFee, BucketPrincipal, BucketInterest} {
			slots = append(slots, AllocationSlot{Category: cat, Bucket: b})
		}
	}
	return slots
}

// =============================================================================
// FUTURE INSTALLMENT ALLOCATION
// =============================================================================

// FutureInstallmentRule decides how in-advance amounts (beyond currently due
// installments) are spread over future installments.
type FutureInstallmentRule string

const (
	// FutureNextInstallment applies overflow to the immediately following
	// unpaid installment.
	FutureNextInstallment FutureInstallmentRule = "next_installment"
	// FutureReamortization spreads overflow evenly across all remaining
	// unpaid installments.
	FutureReamortization FutureInstallmentRule = "reamortization"
	// FutureLastInstallment applies overflow entirely to the final
	// installment.
	FutureLastInstallment FutureInstallmentRule = "last_installment"
)

// =============================================================================
// POLICY TYPES
// =============================================================================

// RuleKey selects a rule: a concrete TransactionType or DefaultRuleKey.
type RuleKey string

const DefaultRuleKey RuleKey = "DEFAULT"

// AllocationRule is an ordered bucket walk plus the future-installment rule.
type AllocationRule struct {
	Key    RuleKey               `json:"key"`
	Order  []AllocationSlot      `json:"order"`
	Future FutureInstallmentRule `json:"future"`
}

// AllocationPolicy is the product-level payment allocation configuration.
type AllocationPolicy struct {
	Rules map[RuleKey]AllocationRule `json:"rules"`
}

// Resolve returns the rule for a transaction type, falling back to DEFAULT.
func (p AllocationPolicy) Resolve(t TransactionType) AllocationRule {
	if r, ok := p.Rules[RuleKey(string(t))]; ok {
		return r
	}
	return p.Rules[DefaultRuleKey]
}

// Validate enforces the configuration invariants: a DEFAULT rule is
// mandatory, every rule's order is non-empty and duplicate-free.
func (p AllocationPolicy) Validate(product ProductID) error {
	if _, ok := p.Rules[DefaultRuleKey]; !ok {
		return &PolicyViolationError{Product: product, Message: "advanced payment allocation requires a DEFAULT rule"}
	}
	for key, rule := range p.Rules {
		if len(rule.Order) == 0 {
			return &PolicyViolationError{Product: product, Message: "rule " + string(key) + " has an empty allocation order"}
		}
		seen := map[AllocationSlot]bool{}
		for _, slot := range rule.Order {
			if seen[slot] {
				return &PolicyViolationError{Product: product, Message: "rule " + string(key) + " repeats allocation slot " + string(slot.Category) + "/" + string(slot.Bucket)}
			}
			seen[slot] = true
		}
		switch rule.Future {
		case FutureNextInstallment, FutureReamortization, FutureLastInstallment:
		default:
			return &PolicyViolationError{Product: product, Message: "rule " + string(key) + " has unknown future installment rule"}
		}
	}
	return nil
}

// DefaultAllocationPolicy is the fallback used when a product does not
// configure one.
func DefaultAllocationPolicy() AllocationPolicy {
	return AllocationPolicy{Rules: map[RuleKey]AllocationRule{
		DefaultRuleKey: {Key: DefaultRuleKey, Order: DefaultAllocationOrder(), Future: FutureNextInstallment},
	}}
}

// =============================================================================
// CREDIT ALLOCATION POLICY
// =============================================================================

// CreditAllocationPolicy orders the buckets a restoring credit (chargeback,
// charge adjustment) decomposes into. No past/due/in-advance distinction.
type CreditAllocationPolicy struct {
	Order []Bucket `json:"order"`
}

// DefaultCreditAllocation: penalty, fee, interest, principal.
func DefaultCreditAllocation() CreditAllocationPolicy {
	return CreditAllocationPolicy{Order: []Bucket{BucketPenalty, BucketFee, BucketInterest, BucketPrincipal}}
}

func (p CreditAllocationPolicy) Validate(product ProductID) error {
	if len(p.Order) == 0 {
		return nil // absent policy falls back to the default order
	}
	seen := map[Bucket]bool{}
	for _, b := range p.Order {
		switch b {
		case BucketPrincipal, BucketInterest, BucketFee, BucketPenalty:
		default:
			return &PolicyViolationError{Product: product, Message: "credit allocation names unknown bucket"}
		}
		if seen[b] {
			return &PolicyViolationError{Product: product, Message: "credit allocation repeats bucket " + string(b)}
		}
		seen[b] = true
	}
	return nil
}
