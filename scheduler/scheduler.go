// Package scheduler runs agents in reflect mode on their cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/engine"
	"github.com/hupe1980/freza/logging"
)

// cronParser accepts standard 5-field, 6-field (with seconds) and
// descriptor (@daily, @every 1h) expressions.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Invoker starts reflect invocations. *engine.Engine implements it.
type Invoker interface {
	StartInvocation(ctx context.Context, req engine.StartRequest) (*engine.StartResult, error)
	ListActiveInstances() []core.Instance
}

// Options configures a Scheduler.
type Options struct {
	Logger logging.Logger
}

// Scheduler owns one cron job per agent with a reflect schedule.
type Scheduler struct {
	invoker Invoker
	cron    *cron.Cron
	logger  logging.Logger

	mu   sync.Mutex
	jobs map[string]job
}

type job struct {
	id       cron.EntryID
	schedule string
}

// New creates a stopped Scheduler.
func New(invoker Invoker, optFns ...func(o *Options)) *Scheduler {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Scheduler{
		invoker: invoker,
		cron:    cron.New(cron.WithParser(cronParser)),
		logger:  opts.Logger,
		jobs:    make(map[string]job),
	}
}

// ValidateSchedule reports whether expr is a schedule the scheduler accepts.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: schedule %q: %v", core.ErrInvalid, expr, err)
	}
	return nil
}

// Sync reconciles the jobs with the agents of catalog. Unchanged schedules
// keep their entry; invalid ones are skipped and reported.
func (s *Scheduler) Sync(catalog core.Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]string)
	for _, a := range catalog.Agents() {
		if a.ReflectSchedule != "" {
			wanted[a.Name] = a.ReflectSchedule
		}
	}

	for name, j := range s.jobs {
		if wanted[name] != j.schedule {
			s.cron.Remove(j.id)
			delete(s.jobs, name)
		}
	}

	var errs []error
	for name, expr := range wanted {
		if _, ok := s.jobs[name]; ok {
			continue
		}
		agent := name
		id, err := s.cron.AddFunc(expr, func() { s.Trigger(context.Background(), agent) })
		if err != nil {
			s.logger.Warn("invalid reflect schedule", "agent", agent, "schedule", expr, "error", err)
			errs = append(errs, fmt.Errorf("agent %s: %w", agent, err))
			continue
		}
		s.jobs[agent] = job{id: id, schedule: expr}
		s.logger.Info("reflect scheduled", "agent", agent, "schedule", expr)
	}
	return errors.Join(errs...)
}

// Trigger starts a reflect invocation of agent unless one is still active.
// It reports whether an invocation was started.
func (s *Scheduler) Trigger(ctx context.Context, agent string) bool {
	for _, inst := range s.invoker.ListActiveInstances() {
		if inst.Agent == agent && inst.Mode == core.ModeReflect {
			s.logger.Info("skipping reflect, previous run still active", "agent", agent, "instance_id", inst.InstanceID)
			return false
		}
	}
	res, err := s.invoker.StartInvocation(ctx, engine.StartRequest{Agent: agent, Mode: core.ModeReflect})
	if err != nil {
		s.logger.Error("reflect invocation failed to start", "agent", agent, "error", err)
		return false
	}
	s.logger.Info("reflect started", "agent", agent, "instance_id", res.InstanceID)
	return true
}

// Scheduled returns the agents with an active job, sorted.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron loop. The returned context is done once running jobs
// have returned.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }
