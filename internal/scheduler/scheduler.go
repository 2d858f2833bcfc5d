// Package scheduler drives the recurring update cycle.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/johnrirwin/feedwatch/internal/logging"
)

// Scheduler runs a job every N minutes and can be rescheduled when the
// user changes the update period.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	period  int
	job     func()
	logger  *logging.Logger
	started bool
}

// New creates a scheduler for the given job.
func New(job func(), logger *logging.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		job:    job,
		logger: logger,
	}
}

// Start schedules the job at the given period in minutes and begins
// running. Calling Start on a running scheduler is a reschedule.
func (s *Scheduler) Start(periodMinutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.scheduleLocked(periodMinutes); err != nil {
		return err
	}
	if !s.started {
		s.cron.Start()
		s.started = true
	}
	return nil
}

// Reschedule replaces the job's period. A matching period is a no-op.
func (s *Scheduler) Reschedule(periodMinutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if periodMinutes == s.period {
		return nil
	}
	return s.scheduleLocked(periodMinutes)
}

// Period returns the currently scheduled period in minutes.
func (s *Scheduler) Period() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// Stop halts the scheduler. A running job finishes first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		<-s.cron.Stop().Done()
		s.started = false
	}
}

func (s *Scheduler) scheduleLocked(periodMinutes int) error {
	if periodMinutes < 1 {
		return fmt.Errorf("update period must be at least 1 minute, got %d", periodMinutes)
	}

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %dm", periodMinutes), s.job)
	if err != nil {
		return fmt.Errorf("failed to schedule update job: %w", err)
	}

	s.entryID = entryID
	s.period = periodMinutes
	s.logger.Info("Update job scheduled", logging.WithField("periodMinutes", periodMinutes))
	return nil
}
