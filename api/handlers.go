/*
handlers.go - HTTP API handlers for the loan engine

PURPOSE:
  Exposes the loan engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Products:
    GET    /api/products                    List products
    POST   /api/products                    Create product from JSON

  Loans:
    POST   /api/loans                       Create pending loan
    GET    /api/loans/{id}                  Loan details
    POST   /api/loans/{id}/approve          Approve
    POST   /api/loans/{id}/disburse         Release a tranche
    POST   /api/loans/{id}/undo-disbursement Reverse the latest tranche
    POST   /api/loans/{id}/transactions     Apply a transaction
    GET    /api/loans/{id}/transactions     Ledger history
    POST   /api/loans/{id}/charges          Attach a fee/penalty
    POST   /api/loans/{id}/reschedule       Move maturity
    GET    /api/loans/{id}/schedule         Repayment schedule
    GET    /api/loans/{id}/delinquency      On-demand classification
    POST   /api/loans/{id}/cob/{step}       Run one COB step

  Transactions:
    POST   /api/loans/{id}/transactions/{txId}/reverse
    POST   /api/loans/{id}/transactions/{txId}/chargeback

  COB:
    POST   /api/cob/run                     Full cycle over open loans

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Loan or transaction not found
  - 409: Illegal state transition, already-reversed conflicts
  - 500: Replay failures, internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/loan-engine/cob"
	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/money"
	"github.com/warp/loan-engine/product"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *loan.Engine
	Products *product.Store
	Factory  *product.Factory
	Runner   *cob.Runner
	Clock    loan.BusinessClock
}

// NewHandler creates a new handler.
func NewHandler(engine *loan.Engine, products *product.Store, runner *cob.Runner, clock loan.BusinessClock) *Handler {
	return &Handler{
		Engine:   engine,
		Products: products,
		Factory:  product.NewFactory(),
		Runner:   runner,
		Clock:    clock,
	}
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns all products.
// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	var out []product.ProductJSON
	for _, p := range h.Products.List(r.Context()) {
		out = append(out, h.Factory.ToJSON(p))
	}
	if out == nil {
		out = []product.ProductJSON{}
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateProduct validates and stores a product definition.
// POST /api/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	p, err := h.Factory.FromJSON(req.Config)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Products.Put(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Factory.ToJSON(p))
}

// =============================================================================
// LOAN LIFECYCLE HANDLERS
// =============================================================================

// CreateLoan creates a pending loan from a product.
// POST /api/loans
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	p, err := h.Products.Get(r.Context(), loan.ProductID(req.ProductID))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	terms := p.Terms
	if req.Principal != "" {
		principal, err := money.NewFromString(req.Principal, p.Currency)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid principal", err)
			return
		}
		terms.Principal = principal
	}
	if req.Installments > 0 {
		terms.Installments = req.Installments
	}
	if req.RepayEvery > 0 {
		terms.RepayEvery = req.RepayEvery
	}
	if req.Frequency != "" {
		terms.Frequency = loan.PeriodFrequency(req.Frequency)
	}
	if req.FirstRepaymentDate != "" {
		d, err := loan.ParseDate(req.FirstRepaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid first_repayment_date", err)
			return
		}
		terms.FirstRepaymentDate = d
	}

	id := loan.LoanID(req.ID)
	if id == "" {
		id = loan.LoanID(uuid.NewString())
	}
	l, err := p.NewLoan(id, terms)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	l.ExternalID = req.ExternalID
	if err := h.Engine.CreateLoan(r.Context(), l); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loanDTO(l, false))
}

// GetLoan returns loan details with schedule.
// GET /api/loans/{id}
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	l, err := h.Engine.GetLoan(r.Context(), loan.LoanID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanDTO(l, true))
}

// ApproveLoan approves a pending loan.
// POST /api/loans/{id}/approve
func (h *Handler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	var req ApproveLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	id := loan.LoanID(chi.URLParam(r, "id"))
	date, err := loan.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	l, err := h.Engine.GetLoan(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	amount := money.Zero(l.Currency)
	if req.Amount != "" {
		amount, err = money.NewFromString(req.Amount, l.Currency)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
	}
	l, err = h.Engine.ApproveLoan(r.Context(), id, date, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanDTO(l, false))
}

// Disburse releases a tranche.
// POST /api/loans/{id}/disburse
func (h *Handler) Disburse(w http.ResponseWriter, r *http.Request) {
	var req DisburseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	id := loan.LoanID(chi.URLParam(r, "id"))
	date, amount, err := h.parseDateAmount(r, id, req.Date, req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid disbursement", err)
		return
	}
	res, err := h.Engine.Disburse(r.Context(), id, date, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransactionResultDTO{
		Transaction: transactionDTO(res.Transaction),
		Loan:        loanDTO(res.Loan, true),
	})
}

// UndoDisbursement reverses the latest tranche.
// POST /api/loans/{id}/undo-disbursement
func (h *Handler) UndoDisbursement(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.UndoLastDisbursement(r.Context(), loan.LoanID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanDTO(res.Loan, true))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ApplyTransaction validates and applies a financial transaction.
// POST /api/loans/{id}/transactions
func (h *Handler) ApplyTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	id := loan.LoanID(chi.URLParam(r, "id"))
	date, amount, err := h.parseDateAmount(r, id, req.Date, req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
		return
	}
	res, err := h.Engine.ApplyTransaction(r.Context(), id, loan.TransactionRequest{
		Type:       loan.TransactionType(req.Type),
		Date:       date,
		Amount:     amount,
		ExternalID: req.ExternalID,
		ChargeID:   loan.ChargeID(req.ChargeID),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransactionResultDTO{
		Transaction: transactionDTO(res.Transaction),
		Loan:        loanDTO(res.Loan, true),
	})
}

// ListTransactions returns the ledger in chronological order.
// GET /api/loans/{id}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	l, err := h.Engine.GetLoan(r.Context(), loan.LoanID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]TransactionDTO, 0, len(l.Transactions))
	for _, tx := range l.Transactions {
		dtos = append(dtos, transactionDTO(tx))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReverseTransaction flips a transaction and replays.
// POST /api/loans/{id}/transactions/{txId}/reverse
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	id := loan.LoanID(chi.URLParam(r, "id"))
	txID := loan.TransactionID(chi.URLParam(r, "txId"))
	res, err := h.Engine.Reverse(r.Context(), id, txID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanDTO(res.Loan, true))
}

// Chargeback disputes an original transaction.
// POST /api/loans/{id}/transactions/{txId}/chargeback
func (h *Handler) Chargeback(w http.ResponseWriter, r *http.Request) {
	var req ChargebackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	id := loan.LoanID(chi.URLParam(r, "id"))
	txID := loan.TransactionID(chi.URLParam(r, "txId"))
	date, amount, err := h.parseDateAmount(r, id, req.Date, req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid chargeback", err)
		return
	}
	res, err := h.Engine.Chargeback(r.Context(), id, txID, amount, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransactionResultDTO{
		Transaction: transactionDTO(res.Transaction),
		Loan:        loanDTO(res.Loan, true),
	})
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// AddCharge attaches a fee or penalty due on a date.
// POST /api/loans/{id}/charges
func (h *Handler) AddCharge(w http.ResponseWriter, r *http.Request) {
	var req AddChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	id := loan.LoanID(chi.URLParam(r, "id"))
	l, err := h.Engine.GetLoan(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	amount, err := money.NewFromString(req.Amount, l.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	dueDate, err := loan.ParseDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date", err)
		return
	}
	chargeID := loan.ChargeID(req.ID)
	if chargeID == "" {
		chargeID = loan.ChargeID(uuid.NewString())
	}
	l, err = h.Engine.AddCharge(r.Context(), id, loan.Charge{
		ID:      chargeID,
		Bucket:  loan.Bucket(req.Bucket),
		Amount:  amount,
		DueDate: dueDate,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loanDTO(l, true))
}

// Reschedule moves the maturity date.
// POST /api/loans/{id}/reschedule
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	maturity, err := loan.ParseDate(req.MaturityDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid maturity_date", err)
		return
	}
	l, err := h.Engine.Reschedule(r.Context(), loan.LoanID(chi.URLParam(r, "id")), maturity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanDTO(l, true))
}

// GetSchedule returns the repayment schedule.
// GET /api/loans/{id}/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.Engine.GetSchedule(r.Context(), loan.LoanID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]InstallmentDTO, 0, len(sched))
	for _, inst := range sched {
		dtos = append(dtos, installmentDTO(inst))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDelinquency classifies on demand. ?date= overrides the business date.
// GET /api/loans/{id}/delinquency
func (h *Handler) GetDelinquency(w http.ResponseWriter, r *http.Request) {
	businessDate := h.Clock.Today()
	if q := r.URL.Query().Get("date"); q != "" {
		d, err := loan.ParseDate(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		businessDate = d
	}
	state, err := h.Engine.GetDelinquency(r.Context(), loan.LoanID(chi.URLParam(r, "id")), businessDate)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, delinquencyDTO(state))
}

// =============================================================================
// COB HANDLERS
// =============================================================================

// RunCOBStep runs one named step for one loan.
// POST /api/loans/{id}/cob/{step}
func (h *Handler) RunCOBStep(w http.ResponseWriter, r *http.Request) {
	var req RunCOBRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	businessDate, err := h.businessDate(req.BusinessDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid business_date", err)
		return
	}
	res, err := h.Engine.RunCOBStep(r.Context(),
		loan.LoanID(chi.URLParam(r, "id")),
		loan.COBStep(chi.URLParam(r, "step")),
		businessDate)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dto := COBStepResultDTO{Step: string(res.Step), Changed: res.Changed}
	for _, tx := range res.Transactions {
		dto.Transactions = append(dto.Transactions, transactionDTO(tx))
	}
	if res.Delinquency != nil {
		d := delinquencyDTO(*res.Delinquency)
		dto.Delinquency = &d
	}
	writeJSON(w, http.StatusOK, dto)
}

// RunCOB executes the full cycle over all open loans.
// POST /api/cob/run
func (h *Handler) RunCOB(w http.ResponseWriter, r *http.Request) {
	var req RunCOBRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	businessDate, err := h.businessDate(req.BusinessDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid business_date", err)
		return
	}
	report, err := h.Runner.Run(r.Context(), businessDate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "COB run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"business_date": report.BusinessDate.String(),
		"processed":     report.Processed,
		"failed":        report.Failed,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) businessDate(s string) (loan.Date, error) {
	if s == "" {
		return h.Clock.Today(), nil
	}
	return loan.ParseDate(s)
}

// parseDateAmount resolves the loan's currency before parsing the amount.
func (h *Handler) parseDateAmount(r *http.Request, id loan.LoanID, dateStr, amountStr string) (loan.Date, money.Money, error) {
	date, err := loan.ParseDate(dateStr)
	if err != nil {
		return loan.Date{}, money.Money{}, err
	}
	l, err := h.Engine.GetLoan(r.Context(), id)
	if err != nil {
		return loan.Date{}, money.Money{}, err
	}
	amount := money.Zero(l.Currency)
	if amountStr != "" {
		amount, err = money.NewFromString(amountStr, l.Currency)
		if err != nil {
			return loan.Date{}, money.Money{}, err
		}
	}
	return date, amount, nil
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case loan.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, loan.ErrIllegalTransition), errors.Is(err, loan.ErrAlreadyReversed):
		writeError(w, http.StatusConflict, "Conflict", err)
	case loan.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
