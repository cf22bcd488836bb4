/*
factory.go - JSON to Go product conversion

PURPOSE:
  Converts JSON product definitions into Product values. This enables
  product configuration without code changes - risk teams define products
  in JSON, and the factory creates the proper Go structs.

JSON SCHEMA:
  {
    "id": "personal-24m",
    "name": "Personal 24 months",
    "currency": "USD",
    "terms": {
      "principal": "10000.00",
      "annual_rate": "12",
      "installments": 24,
      "repay_every": 1,
      "frequency": "months",
      "amortization": "equal_installments",
      "interest": "declining_balance",
      "day_count": "actual/365"
    },
    "strategy": "advanced-payment-allocation",
    "allocation_rules": [
      {"key": "DEFAULT", "future": "next_installment",
       "order": ["past_due:penalty", "past_due:fee", "..."]}
    ],
    "credit_allocation": ["penalty", "fee", "interest", "principal"],
    "delinquency_bucket": {
      "name": "standard",
      "ranges": [{"classification": "DELINQUENT_30", "min_age": 1, "max_age": 30}]
    }
  }

KEY FEATURES:
  - Validates JSON structure and policy invariants
  - Sets sensible defaults (strategy, day count, installment multiple)
  - Compact "category:bucket" slot notation for allocation orders
*/
package product

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/money"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProductJSON is the JSON representation of a product.
type ProductJSON struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Currency string    `json:"currency"`
	Terms    TermsJSON `json:"terms"`

	Strategy          string                 `json:"strategy,omitempty"`
	AllocationRules   []AllocationRuleJSON   `json:"allocation_rules,omitempty"`
	CreditAllocation  []string               `json:"credit_allocation,omitempty"`
	DelinquencyBucket loan.DelinquencyBucket `json:"delinquency_bucket,omitempty"`
}

// TermsJSON represents default loan terms. Monetary amounts and rates are
// strings so no precision is lost in transit.
type TermsJSON struct {
	Principal          string `json:"principal"`
	AnnualRate         string `json:"annual_rate"`
	Installments       int    `json:"installments"`
	RepayEvery         int    `json:"repay_every"`
	Frequency          string `json:"frequency"`
	Amortization       string `json:"amortization,omitempty"`
	Interest           string `json:"interest,omitempty"`
	InterestCalcPeriod string `json:"interest_calc_period,omitempty"`
	DayCount           string `json:"day_count,omitempty"`

	MultiDisbursement bool `json:"multi_disbursement,omitempty"`
	MaxTranches       int  `json:"max_tranches,omitempty"`

	InstallmentMultiple   int64 `json:"installment_multiple,omitempty"`
	GraceOnArrearsAgeing  int   `json:"grace_on_arrears_ageing,omitempty"`
	InterestRecalculation bool  `json:"interest_recalculation,omitempty"`
	AccrualAccounting     bool  `json:"accrual_accounting,omitempty"`

	OverduePenaltyRate      string `json:"overdue_penalty_rate,omitempty"`
	OverduePenaltyGraceDays int    `json:"overdue_penalty_grace_days,omitempty"`
}

// AllocationRuleJSON represents one allocation rule. Slots use the compact
// "category:bucket" notation.
type AllocationRuleJSON struct {
	Key    string   `json:"key"`
	Future string   `json:"future,omitempty"`
	Order  []string `json:"order"`
}

// =============================================================================
// PRODUCT FACTORY
// =============================================================================

// Factory converts JSON products to Go structs.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// Parse parses a JSON string into a validated Product.
func (f *Factory) Parse(jsonStr string) (Product, error) {
	var pj ProductJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return Product{}, fmt.Errorf("failed to parse product JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts ProductJSON to a validated Product.
func (f *Factory) FromJSON(pj ProductJSON) (Product, error) {
	if pj.ID == "" {
		return Product{}, &loan.ValidationError{Field: "id", Message: "mandatory"}
	}
	if pj.Currency == "" {
		return Product{}, &loan.ValidationError{Field: "currency", Message: "mandatory"}
	}

	terms, err := parseTerms(pj.Terms, pj.Currency)
	if err != nil {
		return Product{}, err
	}

	p := Product{
		ID:                loan.ProductID(pj.ID),
		Name:              pj.Name,
		Currency:          pj.Currency,
		Terms:             terms,
		Strategy:          parseStrategy(pj.Strategy),
		DelinquencyBucket: pj.DelinquencyBucket,
	}

	if len(pj.AllocationRules) > 0 {
		rules := make(map[loan.RuleKey]loan.AllocationRule, len(pj.AllocationRules))
		for _, rj := range pj.AllocationRules {
			rule, err := parseRule(rj)
			if err != nil {
				return Product{}, err
			}
			rules[rule.Key] = rule
		}
		p.Allocation = loan.AllocationPolicy{Rules: rules}
	}

	for _, b := range pj.CreditAllocation {
		p.CreditAllocation.Order = append(p.CreditAllocation.Order, loan.Bucket(b))
	}

	if err := p.Validate(); err != nil {
		return Product{}, err
	}
	return p, nil
}

// ToJSON converts a Product back to its JSON representation.
func (f *Factory) ToJSON(p Product) ProductJSON {
	pj := ProductJSON{
		ID:       string(p.ID),
		Name:     p.Name,
		Currency: p.Currency,
		Strategy: string(p.Strategy),
		Terms: TermsJSON{
			Principal:               p.Terms.Principal.Amount().StringFixed(money.Scale),
			AnnualRate:              p.Terms.AnnualRate.String(),
			Installments:            p.Terms.Installments,
			RepayEvery:              p.Terms.RepayEvery,
			Frequency:               string(p.Terms.Frequency),
			Amortization:            string(p.Terms.Amortization),
			Interest:                string(p.Terms.Interest),
			InterestCalcPeriod:      string(p.Terms.InterestCalcPeriod),
			DayCount:                string(p.Terms.DayCount),
			MultiDisbursement:       p.Terms.MultiDisbursement,
			MaxTranches:             p.Terms.MaxTranches,
			InstallmentMultiple:     p.Terms.InstallmentMultiple,
			GraceOnArrearsAgeing:    p.Terms.GraceOnArrearsAgeing,
			InterestRecalculation:   p.Terms.InterestRecalculation,
			AccrualAccounting:       p.Terms.AccrualAccounting,
			OverduePenaltyGraceDays: p.Terms.OverduePenaltyGraceDays,
		},
		DelinquencyBucket: p.DelinquencyBucket,
	}
	if !p.Terms.OverduePenaltyRate.IsZero() {
		pj.Terms.OverduePenaltyRate = p.Terms.OverduePenaltyRate.String()
	}
	for key, rule := range p.Allocation.Rules {
		rj := AllocationRuleJSON{Key: string(key), Future: string(rule.Future)}
		for _, slot := range rule.Order {
			rj.Order = append(rj.Order, string(slot.Category)+":"+string(slot.Bucket))
		}
		pj.AllocationRules = append(pj.AllocationRules, rj)
	}
	for _, b := range p.CreditAllocation.Order {
		pj.CreditAllocation = append(pj.CreditAllocation, string(b))
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseStrategy(s string) AllocationStrategy {
	switch s {
	case string(StrategyAdvanced):
		return StrategyAdvanced
	default:
		return StrategyPenaltiesFirst
	}
}

func parseTerms(tj TermsJSON, currency string) (loan.LoanTerms, error) {
	principal, err := money.NewFromString(tj.Principal, currency)
	if err != nil {
		return loan.LoanTerms{}, &loan.ValidationError{Field: "principal", Message: err.Error()}
	}
	rate, err := decimal.NewFromString(orDefault(tj.AnnualRate, "0"))
	if err != nil {
		return loan.LoanTerms{}, &loan.ValidationError{Field: "annual_rate", Message: err.Error()}
	}

	terms := loan.LoanTerms{
		Principal:               principal,
		AnnualRate:              rate,
		Installments:            tj.Installments,
		RepayEvery:              tj.RepayEvery,
		Frequency:               loan.PeriodFrequency(orDefault(tj.Frequency, string(loan.FrequencyMonths))),
		Amortization:            loan.AmortizationType(orDefault(tj.Amortization, string(loan.AmortizationEqualInstallments))),
		Interest:                loan.InterestType(orDefault(tj.Interest, string(loan.InterestDeclining))),
		InterestCalcPeriod:      loan.InterestCalcPeriod(orDefault(tj.InterestCalcPeriod, string(loan.CalcPeriodSameAsRepaym))),
		DayCount:                loan.DayCountConvention(orDefault(tj.DayCount, string(loan.DayCountActual365))),
		MultiDisbursement:       tj.MultiDisbursement,
		MaxTranches:             tj.MaxTranches,
		InstallmentMultiple:     tj.InstallmentMultiple,
		GraceOnArrearsAgeing:    tj.GraceOnArrearsAgeing,
		InterestRecalculation:   tj.InterestRecalculation,
		AccrualAccounting:       tj.AccrualAccounting,
		OverduePenaltyGraceDays: tj.OverduePenaltyGraceDays,
	}
	if terms.InstallmentMultiple == 0 {
		terms.InstallmentMultiple = 1
	}
	if tj.OverduePenaltyRate != "" {
		pr, err := decimal.NewFromString(tj.OverduePenaltyRate)
		if err != nil {
			return loan.LoanTerms{}, &loan.ValidationError{Field: "overdue_penalty_rate", Message: err.Error()}
		}
		terms.OverduePenaltyRate = pr
	}
	if err := terms.Validate(); err != nil {
		return loan.LoanTerms{}, err
	}
	return terms, nil
}

func parseRule(rj AllocationRuleJSON) (loan.AllocationRule, error) {
	rule := loan.AllocationRule{
		Key:    loan.RuleKey(rj.Key),
		Future: loan.FutureInstallmentRule(orDefault(rj.Future, string(loan.FutureNextInstallment))),
	}
	for _, s := range rj.Order {
		parts := strings.SplitN(s, ":", 2)
		if len(parts) != 2 {
			return loan.AllocationRule{}, &loan.ValidationError{Field: "order", Message: "allocation slot must be category:bucket, got " + s}
		}
		rule.Order = append(rule.Order, loan.AllocationSlot{
			Category: loan.AllocationCategory(parts[0]),
			Bucket:   loan.Bucket(parts[1]),
		})
	}
	return rule, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
