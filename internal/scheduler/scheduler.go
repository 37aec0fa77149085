// Package scheduler decides when GreetPipe reaches out on its own.
//
// Outreach picks a channel member to greet once per membership epoch.
// Scheduler runs periodic housekeeping, such as roster refreshes, from cron expressions.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// 5-field cron (min, hour, dom, month, dow), panics in jobs are recovered
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Signal schedules a non-blocking send on ch for every firing of expr.
// A signal that the receiver has not consumed yet is not duplicated.
func (s *Scheduler) Signal(expr string, ch chan<- struct{}) error {
	return s.AddJob(expr, func() {
		select {
		case ch <- struct{}{}:
			slog.Debug("Scheduler signalled job", "expr", expr)
		default:
		}
	})
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
