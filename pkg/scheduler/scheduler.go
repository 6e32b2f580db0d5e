// Package scheduler is the time-driven dispatcher: it polls the store for
// due scheduled jobs and for meetings needing status transitions, dispatches
// each due job to its handler, and applies the fixed-delay retry policy.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"stepflow/pkg/executor"
	"stepflow/pkg/model"
	"stepflow/pkg/orchestrator"
	"stepflow/pkg/store"
)

// Config holds the scheduler intervals and retry policy. Zero values fall
// back to the built-in defaults.
type Config struct {
	PollInterval    time.Duration // job poll tick, default 30s
	MeetingInterval time.Duration // meeting poll tick, default 60s
	BatchSize       int           // jobs fetched per poll, default 10
	RetryDelay      time.Duration // fixed reschedule delay, default 5m
	MeetingWindow   time.Duration // bounded past window for meeting poll, default 2h
	HandlerTimeout  time.Duration // per-handler bound, default 2m
	StopGrace       time.Duration // wait for in-flight dispatches on Stop, default 10s
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.MeetingInterval <= 0 {
		c.MeetingInterval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Minute
	}
	if c.MeetingWindow <= 0 {
		c.MeetingWindow = 2 * time.Hour
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 2 * time.Minute
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	return c
}

// JobHandler executes one job type. A non-nil error drives the retry policy;
// the returned payload is persisted on the job when it succeeds.
type JobHandler func(ctx context.Context, job model.ScheduledJob) (map[string]interface{}, error)

// Scheduler runs the two periodic passes. Construct with New, register any
// extra handlers, then Start.
type Scheduler struct {
	store store.TaskStore
	orch  *orchestrator.Orchestrator
	exec  executor.Executor
	cfg   Config

	handlers map[string]JobHandler

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New builds a scheduler with the built-in handlers registered
// (execute_substep, send_reminder, check_participant).
func New(st store.TaskStore, orch *orchestrator.Orchestrator, exec executor.Executor, cfg Config) *Scheduler {
	s := &Scheduler{
		store:    st,
		orch:     orch,
		exec:     exec,
		cfg:      cfg.withDefaults(),
		handlers: make(map[string]JobHandler),
	}
	s.handlers["execute_substep"] = s.executeSubstepJob
	s.handlers["send_reminder"] = s.sendReminderJob
	s.handlers["check_participant"] = s.checkParticipantJob
	return s
}

// RegisterHandler binds a job type to a handler. Call before Start; the
// registry is closed once the clock is running.
func (s *Scheduler) RegisterHandler(jobType string, h JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		log.Printf("scheduler: ignoring handler registration for %q after start", jobType)
		return
	}
	s.handlers[jobType] = h
}

// Start registers both periodic passes and begins the clock. Calling Start
// on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	go s.loop(ctx, s.cfg.PollInterval, s.pollJobs)
	go s.loop(ctx, s.cfg.MeetingInterval, s.pollMeetings)
	log.Printf("scheduler: started (job poll %s, meeting poll %s)", s.cfg.PollInterval, s.cfg.MeetingInterval)
}

// Stop cancels both passes and waits, up to the grace period, for in-flight
// dispatches to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.StopGrace):
		log.Printf("scheduler: stop grace period elapsed with dispatches still in flight")
	}
	log.Printf("scheduler: stopped")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, pass func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass(ctx)
		}
	}
}

// pollJobs fetches due pending jobs and dispatches each concurrently. The
// poll does not wait for dispatches; a slow handler can still be processing
// when the next tick fires, which is why the claim is conditional.
func (s *Scheduler) pollJobs(ctx context.Context) {
	now := time.Now()
	jobs, err := s.store.ListDueJobs(now, s.cfg.BatchSize)
	if err != nil {
		log.Printf("scheduler: job poll skipped: %v", err)
		return
	}
	for _, job := range jobs {
		claimed, ok, err := s.store.ClaimJob(job.ID, now)
		if err != nil {
			log.Printf("scheduler: claim %s failed: %v", job.ID, err)
			continue
		}
		if !ok {
			continue // another cycle won the claim
		}
		s.inflight.Add(1)
		go func(j model.ScheduledJob) {
			defer s.inflight.Done()
			s.dispatch(ctx, j)
		}(claimed)
	}
}

// dispatch runs one claimed job and applies the retry policy. Failures are
// isolated per job; nothing here can affect a sibling dispatch.
func (s *Scheduler) dispatch(ctx context.Context, job model.ScheduledJob) {
	log.Printf("scheduler: executing job %s (%s) attempt %d/%d", job.ID, job.JobType, job.Attempts, job.MaxAttempts)

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandlerTimeout)
	defer cancel()

	result, err := s.runHandler(hctx, job)
	if err != nil {
		s.recordFailure(job, err)
		return
	}
	now := time.Now()
	job.Status = model.JobCompleted
	job.Result = result
	job.CompletedAt = &now
	if err := s.store.UpdateJob(job); err != nil {
		log.Printf("scheduler: job %s completed but store update failed: %v", job.ID, err)
		return
	}
	log.Printf("scheduler: job %s completed", job.ID)
}

func (s *Scheduler) runHandler(ctx context.Context, job model.ScheduledJob) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	h, ok := s.handlers[job.JobType]
	if !ok {
		return nil, fmt.Errorf("unknown job type: %s", job.JobType)
	}
	return h(ctx, job)
}

// recordFailure either reschedules the job after the fixed retry delay or
// marks it terminally failed once the attempt budget is spent.
func (s *Scheduler) recordFailure(job model.ScheduledJob, cause error) {
	job.LastError = cause.Error()
	if job.Attempts >= job.MaxAttempts {
		job.Status = model.JobFailed
		log.Printf("scheduler: job %s failed permanently after %d attempts: %v", job.ID, job.Attempts, cause)
	} else {
		job.Status = model.JobPending
		job.ScheduledFor = time.Now().Add(s.cfg.RetryDelay)
		log.Printf("scheduler: job %s failed (attempt %d/%d), retrying in %s: %v",
			job.ID, job.Attempts, job.MaxAttempts, s.cfg.RetryDelay, cause)
	}
	if err := s.store.UpdateJob(job); err != nil {
		log.Printf("scheduler: failed to record job %s failure: %v", job.ID, err)
	}
}
