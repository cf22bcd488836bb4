/*
scheduler.go - Automated close-of-business scheduler

PURPOSE:
  Triggers the nightly COB cycle on a cron schedule. The default expression
  fires shortly after midnight and processes the business day that just
  closed.

DESIGN:
  - robfig/cron drives the schedule; no hand-rolled tickers
  - The business date fed to the run comes from the injected BusinessClock,
    shifted back one day: a run at 00:30 closes yesterday's books
  - Overlapping runs are prevented by cron's SkipIfStillRunning wrapper

USAGE:
  scheduler := NewCOBScheduler(runner, clock, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - cob/runner.go: the cycle the scheduler triggers
  - handlers.go: RunCOB endpoint (manual trigger)
*/
package api

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/cob"
	"github.com/warp/loan-engine/loan"
)

// DefaultCOBSpec fires at 00:30 every day.
const DefaultCOBSpec = "30 0 * * *"

// COBScheduler runs the COB cycle on a cron schedule.
type COBScheduler struct {
	Runner *cob.Runner
	Clock  loan.BusinessClock
	Spec   string

	log  *logrus.Logger
	cron *cron.Cron
}

// NewCOBScheduler creates a scheduler with the default nightly spec.
func NewCOBScheduler(runner *cob.Runner, clock loan.BusinessClock, log *logrus.Logger) *COBScheduler {
	if log == nil {
		log = logrus.New()
	}
	return &COBScheduler{
		Runner: runner,
		Clock:  clock,
		Spec:   DefaultCOBSpec,
		log:    log,
	}
}

// Start registers the job and begins the cron loop.
func (s *COBScheduler) Start() error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DiscardLogger),
	))
	_, err := s.cron.AddFunc(s.Spec, s.runOnce)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("spec", s.Spec).Info("cob scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *COBScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("cob scheduler stopped")
}

// runOnce closes the previous business day.
func (s *COBScheduler) runOnce() {
	businessDate := s.Clock.Today().AddDays(-1)
	report, err := s.Runner.Run(context.Background(), businessDate)
	if err != nil {
		s.log.WithError(err).Error("scheduled cob run failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"business_date": businessDate.String(),
		"processed":     report.Processed,
		"failed":        report.Failed,
	}).Info("scheduled cob run completed")
}
