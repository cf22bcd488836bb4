/*
Package cob runs the close-of-business pipeline.

PURPOSE:
  Once per business day the runner walks every open loan through the fixed
  COB step chain. Loans are fanned out over a worker pool; the steps for a
  single loan always run in order on one worker, inside the engine's
  per-loan critical section.

FAILURE ISOLATION:
  A step failure abandons the remaining steps for that loan only; the run
  continues with the other loans and the failure lands in the run report.
  Re-running the same business date is safe - every step is idempotent by
  date.
*/
package cob

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// RUNNER
// =============================================================================

type Runner struct {
	engine  *loan.Engine
	events  loan.EventSink // optional; receives one snapshot per loan per cycle
	log     *logrus.Logger
	workers int
}

type RunnerOption func(*Runner)

func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithEventSink(s loan.EventSink) RunnerOption {
	return func(r *Runner) { r.events = s }
}

func WithLogger(l *logrus.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

func NewRunner(engine *loan.Engine, opts ...RunnerOption) *Runner {
	r := &Runner{engine: engine, log: logrus.New(), workers: 4}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// RUN REPORT
// =============================================================================

type LoanReport struct {
	Loan     loan.LoanID
	Steps    []loan.COBStep // steps that ran
	Changed  bool
	Err      error
	FailedAt loan.COBStep // step the error came from
}

type RunReport struct {
	BusinessDate loan.Date
	Processed    int
	Failed       int
	Loans        []LoanReport
}

// =============================================================================
// EXECUTION
// =============================================================================

// Run executes the full COB cycle for every open loan at the business date.
func (r *Runner) Run(ctx context.Context, businessDate loan.Date) (*RunReport, error) {
	ids, err := r.engine.ListLoans(ctx, loan.StatusActive, loan.StatusOverpaid)
	if err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{
		"business_date": businessDate.String(),
		"loans":         len(ids),
		"workers":       r.workers,
	}).Info("cob run started")

	jobs := make(chan loan.LoanID)
	results := make(chan LoanReport)

	var wg sync.WaitGroup
	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				results <- r.runLoan(ctx, id, businessDate)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, id := range ids {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	report := &RunReport{BusinessDate: businessDate}
	for lr := range results {
		report.Loans = append(report.Loans, lr)
		report.Processed++
		if lr.Err != nil {
			report.Failed++
		}
	}

	r.log.WithFields(logrus.Fields{
		"business_date": businessDate.String(),
		"processed":     report.Processed,
		"failed":        report.Failed,
	}).Info("cob run finished")
	return report, ctx.Err()
}

// runLoan walks one loan through the step chain in the canonical order.
func (r *Runner) runLoan(ctx context.Context, id loan.LoanID, businessDate loan.Date) LoanReport {
	lr := LoanReport{Loan: id}
	var last *loan.Loan
	for _, step := range loan.COBStepOrder {
		res, err := r.engine.RunCOBStep(ctx, id, step, businessDate)
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"loan": string(id),
				"step": string(step),
			}).WithError(err).Error("cob step failed")
			lr.Err = err
			lr.FailedAt = step
			return lr
		}
		lr.Steps = append(lr.Steps, step)
		lr.Changed = lr.Changed || res.Changed
		last = res.Loan
		r.log.WithFields(logrus.Fields{
			"loan":    string(id),
			"step":    string(step),
			"changed": res.Changed,
		}).Debug("cob step completed")
	}
	// One snapshot per loan per cycle; skipped entirely when nothing moved.
	if lr.Changed && r.events != nil && last != nil {
		r.events.LoanSnapshot(ctx, last, businessDate)
	}
	return lr
}
