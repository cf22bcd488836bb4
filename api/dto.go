/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Amounts travel as decimal strings ("312.00"), dates as "2006-01-02".
  Parsing errors surface as 400s; the engine never sees raw strings.

SEE ALSO:
  - handlers.go: Uses these types
  - product/factory.go: ProductJSON type
*/
package api

import (
	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/money"
	"github.com/warp/loan-engine/product"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateProductRequest wraps a product definition.
type CreateProductRequest struct {
	Config product.ProductJSON `json:"config"`
}

// CreateLoanRequest creates a pending loan from a product. Term fields
// override the product defaults when set.
type CreateLoanRequest struct {
	ID         string `json:"id,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	ProductID  string `json:"product_id"`

	Principal          string `json:"principal,omitempty"`
	Installments       int    `json:"installments,omitempty"`
	RepayEvery         int    `json:"repay_every,omitempty"`
	Frequency          string `json:"frequency,omitempty"`
	FirstRepaymentDate string `json:"first_repayment_date,omitempty"`
}

// ApproveLoanRequest approves a pending loan.
type ApproveLoanRequest struct {
	Date   string `json:"date"`
	Amount string `json:"amount,omitempty"` // defaults to proposed principal
}

// DisburseRequest releases a tranche.
type DisburseRequest struct {
	Date   string `json:"date"`
	Amount string `json:"amount"`
}

// TransactionRequest applies a financial transaction.
type TransactionRequest struct {
	Type       string `json:"type"`
	Date       string `json:"date"`
	Amount     string `json:"amount"`
	ExternalID string `json:"external_id,omitempty"`
	ChargeID   string `json:"charge_id,omitempty"`
}

// ChargebackRequest disputes an original transaction.
type ChargebackRequest struct {
	Date   string `json:"date"`
	Amount string `json:"amount"`
}

// AddChargeRequest attaches a fee or penalty.
type AddChargeRequest struct {
	ID      string `json:"id"`
	Bucket  string `json:"bucket"`
	Amount  string `json:"amount"`
	DueDate string `json:"due_date"`
}

// RescheduleRequest moves the maturity date.
type RescheduleRequest struct {
	MaturityDate string `json:"maturity_date"`
}

// RunCOBRequest triggers a COB cycle or single step.
type RunCOBRequest struct {
	BusinessDate string `json:"business_date"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// PortionsDTO is the per-bucket decomposition of an amount.
type PortionsDTO struct {
	Principal string `json:"principal"`
	Interest  string `json:"interest"`
	Fee       string `json:"fee"`
	Penalty   string `json:"penalty"`
}

func portionsDTO(p loan.Portions) PortionsDTO {
	return PortionsDTO{
		Principal: p.Principal.Amount().StringFixed(money.Scale),
		Interest:  p.Interest.Amount().StringFixed(money.Scale),
		Fee:       p.Fee.Amount().StringFixed(money.Scale),
		Penalty:   p.Penalty.Amount().StringFixed(money.Scale),
	}
}

// InstallmentDTO represents one schedule line.
type InstallmentDTO struct {
	Seq         int         `json:"seq"`
	FromDate    string      `json:"from_date"`
	DueDate     string      `json:"due_date"`
	Due         PortionsDTO `json:"due"`
	Paid        PortionsDTO `json:"paid"`
	Waived      PortionsDTO `json:"waived"`
	Outstanding PortionsDTO `json:"outstanding"`
	Additional  bool        `json:"additional,omitempty"`
	Complete    bool        `json:"complete"`
}

func installmentDTO(inst *loan.Installment) InstallmentDTO {
	return InstallmentDTO{
		Seq:         inst.Seq,
		FromDate:    inst.FromDate.String(),
		DueDate:     inst.DueDate.String(),
		Due:         portionsDTO(inst.Due),
		Paid:        portionsDTO(inst.Paid),
		Waived:      portionsDTO(inst.Waived),
		Outstanding: portionsDTO(inst.OutstandingPortions()),
		Additional:  inst.Additional,
		Complete:    inst.Complete(),
	}
}

// TransactionDTO represents a ledger entry.
type TransactionDTO struct {
	ID               string      `json:"id"`
	Type             string      `json:"type"`
	EffectiveDate    string      `json:"effective_date"`
	Seq              int64       `json:"seq"`
	Amount           string      `json:"amount"`
	Portions         PortionsDTO `json:"portions"`
	OutstandingAfter string      `json:"outstanding_after"`
	Overpayment      string      `json:"overpayment,omitempty"`
	Reversed         bool        `json:"reversed,omitempty"`
	ExternalID       string      `json:"external_id,omitempty"`
	Relations        []RelationDTO `json:"relations,omitempty"`
}

type RelationDTO struct {
	Type string `json:"type"`
	To   string `json:"to"`
}

func transactionDTO(tx *loan.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:               string(tx.ID),
		Type:             string(tx.Type),
		EffectiveDate:    tx.EffectiveDate.String(),
		Seq:              tx.Seq,
		Amount:           tx.Amount.Amount().StringFixed(money.Scale),
		Portions:         portionsDTO(tx.Portions),
		OutstandingAfter: tx.OutstandingAfter.Amount().StringFixed(money.Scale),
		Reversed:         tx.Reversed,
		ExternalID:       tx.ExternalID,
	}
	if tx.OverpaymentPortion.IsPositive() {
		dto.Overpayment = tx.OverpaymentPortion.Amount().StringFixed(money.Scale)
	}
	for _, rel := range tx.Relations {
		dto.Relations = append(dto.Relations, RelationDTO{Type: string(rel.Type), To: string(rel.To)})
	}
	return dto
}

// DelinquencyDTO is the classifier output.
type DelinquencyDTO struct {
	Classification     string `json:"classification,omitempty"`
	OverdueDays        int    `json:"overdue_days"`
	DelinquentAmount   string `json:"delinquent_amount"`
	OldestOverdueDate  string `json:"oldest_overdue_date,omitempty"`
	NextPaymentDueDate string `json:"next_payment_due_date,omitempty"`
}

func delinquencyDTO(s loan.DelinquencyState) DelinquencyDTO {
	dto := DelinquencyDTO{
		Classification:   s.Classification,
		OverdueDays:      s.OverdueDays,
		DelinquentAmount: s.DelinquentAmount.Amount().StringFixed(money.Scale),
	}
	if !s.OldestOverdueDate.IsZero() {
		dto.OldestOverdueDate = s.OldestOverdueDate.String()
	}
	if !s.NextPaymentDueDate.IsZero() {
		dto.NextPaymentDueDate = s.NextPaymentDueDate.String()
	}
	return dto
}

// LoanDTO represents a loan in API responses.
type LoanDTO struct {
	ID               string           `json:"id"`
	ExternalID       string           `json:"external_id,omitempty"`
	ProductID        string           `json:"product_id"`
	Currency         string           `json:"currency"`
	Status           string           `json:"status"`
	DisbursedTotal   string           `json:"disbursed_total"`
	TotalOutstanding string           `json:"total_outstanding"`
	Overpayment      string           `json:"overpayment"`
	ApprovalDate     string           `json:"approval_date,omitempty"`
	Schedule         []InstallmentDTO `json:"schedule,omitempty"`
	Delinquency      *DelinquencyDTO  `json:"delinquency,omitempty"`
}

func loanDTO(l *loan.Loan, includeSchedule bool) LoanDTO {
	dto := LoanDTO{
		ID:               string(l.ID),
		ExternalID:       l.ExternalID,
		ProductID:        string(l.ProductID),
		Currency:         l.Currency,
		Status:           string(l.Status),
		DisbursedTotal:   l.DisbursedTotal.Amount().StringFixed(money.Scale),
		TotalOutstanding: l.TotalOutstanding().Amount().StringFixed(money.Scale),
		Overpayment:      l.Overpayment.Amount().StringFixed(money.Scale),
	}
	if !l.ApprovalDate.IsZero() {
		dto.ApprovalDate = l.ApprovalDate.String()
	}
	if includeSchedule {
		for _, inst := range l.Schedule {
			dto.Schedule = append(dto.Schedule, installmentDTO(inst))
		}
	}
	if l.Delinquency != nil {
		d := delinquencyDTO(*l.Delinquency)
		dto.Delinquency = &d
	}
	return dto
}

// TransactionResultDTO pairs the new transaction with the post-apply loan.
type TransactionResultDTO struct {
	Transaction TransactionDTO `json:"transaction"`
	Loan        LoanDTO        `json:"loan"`
}

// COBStepResultDTO reports a single step execution.
type COBStepResultDTO struct {
	Step         string           `json:"step"`
	Changed      bool             `json:"changed"`
	Transactions []TransactionDTO `json:"transactions,omitempty"`
	Delinquency  *DelinquencyDTO  `json:"delinquency,omitempty"`
}
