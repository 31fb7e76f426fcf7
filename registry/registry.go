// Package registry tracks live invocation instances.
//
// Every invocation registers itself, heartbeats while it runs and completes
// exactly once. Completed records linger for a short grace period so a
// final status read still succeeds. Records whose heartbeat goes stale are
// swept, which is the crash-recovery path for runtimes that die without
// reporting back.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/util"
	"github.com/hupe1980/freza/logging"
)

const minSweepInterval = 100 * time.Millisecond

// Options configures a Registry.
type Options struct {
	// StaleAfter is the heartbeat age after which a non-terminal record is swept.
	StaleAfter time.Duration
	// SweepInterval is the period of the background sweep loop.
	SweepInterval time.Duration
	// CompleteGrace is how long a terminal record stays readable.
	CompleteGrace time.Duration
	// Clock returns the current time.
	Clock func() time.Time
	// OnEvict is called (outside the lock) for each swept record.
	OnEvict func(core.Instance)
	Logger  logging.Logger
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*core.Instance
	timers    map[string]*time.Timer
	closed    bool
	opts      Options
}

// New creates a Registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{
		StaleAfter:    300 * time.Second,
		SweepInterval: 30 * time.Second,
		CompleteGrace: 5 * time.Second,
		Clock:         time.Now,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.SweepInterval <= 0 && opts.StaleAfter > 0 {
		opts.SweepInterval = max(opts.StaleAfter/4, minSweepInterval)
	}
	return &Registry{
		instances: make(map[string]*core.Instance),
		timers:    make(map[string]*time.Timer),
		opts:      opts,
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) func(o *Options) {
	return func(o *Options) { o.Clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = logging.OrNoOp(l) }
}

// WithOnEvict registers a callback for swept records.
func WithOnEvict(fn func(core.Instance)) func(o *Options) {
	return func(o *Options) { o.OnEvict = fn }
}

// Register stores inst with a fresh id and status starting, returning the id.
// A pre-set InstanceID is kept.
func (r *Registry) Register(inst core.Instance) string {
	now := r.opts.Clock()
	if inst.InstanceID == "" {
		inst.InstanceID = util.NewID()
	}
	inst.Status = core.StatusStarting
	if inst.StartedAt.IsZero() {
		inst.StartedAt = now
	}
	inst.LastHeartbeat = now

	r.mu.Lock()
	r.instances[inst.InstanceID] = &inst
	r.mu.Unlock()

	r.opts.Logger.Debug("instance registered", "instance_id", inst.InstanceID, "agent", inst.Agent, "mode", string(inst.Mode))
	return inst.InstanceID
}

// SetStatus moves a record to a non-terminal status. Use Complete for
// terminal ones.
func (r *Registry) SetStatus(id string, status core.Status) error {
	if status.Terminal() {
		return fmt.Errorf("registry: use Complete for terminal status %q", status)
	}
	return r.update(id, func(inst *core.Instance) {
		inst.Status = status
		inst.LastHeartbeat = r.opts.Clock()
	})
}

// SetPID records the runtime process id.
func (r *Registry) SetPID(id string, pid int) error {
	return r.update(id, func(inst *core.Instance) { inst.PID = pid })
}

// SetThread records the thread the instance writes to.
func (r *Registry) SetThread(id, threadID string) error {
	return r.update(id, func(inst *core.Instance) { inst.ThreadID = threadID })
}

func (r *Registry) update(id string, fn func(*core.Instance)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return core.NewNotFound("instance", id)
	}
	if inst.Status.Terminal() {
		return fmt.Errorf("registry: instance %s already %s", id, inst.Status)
	}
	fn(inst)
	return nil
}

// Heartbeat refreshes the record and optionally its current task. Unknown
// or terminal ids are ignored.
func (r *Registry) Heartbeat(id string, task *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok || inst.Status.Terminal() {
		return
	}
	inst.LastHeartbeat = r.opts.Clock()
	if task != nil {
		inst.CurrentTask = *task
	}
}

// Complete marks the record terminal and schedules its removal after the
// grace period. It fails with NotFoundError when the record was already
// swept and is a no-op when the record is already terminal.
func (r *Registry) Complete(id string, status core.Status, reason string) error {
	if !status.Terminal() {
		return fmt.Errorf("registry: %q is not a terminal status", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return core.NewNotFound("instance", id)
	}
	if inst.Status.Terminal() {
		return nil
	}
	now := r.opts.Clock()
	inst.Status = status
	inst.Reason = reason
	inst.FinishedAt = now
	inst.LastHeartbeat = now
	inst.CurrentTask = ""

	if r.closed || r.opts.CompleteGrace <= 0 {
		delete(r.instances, id)
		return nil
	}
	r.timers[id] = time.AfterFunc(r.opts.CompleteGrace, func() { r.remove(id) })
	return nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.timers, id)
	if inst, ok := r.instances[id]; ok && inst.Status.Terminal() {
		delete(r.instances, id)
	}
}

// Get returns a copy of the record, including terminal records still in
// their grace period.
func (r *Registry) Get(id string) (core.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return core.Instance{}, core.NewNotFound("instance", id)
	}
	return *inst, nil
}

// ListActive sweeps stale records and returns the remaining non-terminal
// ones ordered by StartedAt.
func (r *Registry) ListActive() []core.Instance {
	r.Sweep()

	r.mu.RLock()
	out := make([]core.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		if !inst.Status.Terminal() {
			out = append(out, *inst)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].InstanceID < out[j].InstanceID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Count returns the number of non-terminal records without sweeping.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, inst := range r.instances {
		if !inst.Status.Terminal() {
			n++
		}
	}
	return n
}

// Sweep removes non-terminal records whose heartbeat is older than
// StaleAfter and returns them.
func (r *Registry) Sweep() []core.Instance {
	if r.opts.StaleAfter <= 0 {
		return nil
	}
	now := r.opts.Clock()

	r.mu.Lock()
	var evicted []core.Instance
	for id, inst := range r.instances {
		if inst.Status.Terminal() {
			continue
		}
		if now.Sub(inst.LastHeartbeat) > r.opts.StaleAfter {
			evicted = append(evicted, *inst)
			delete(r.instances, id)
		}
	}
	r.mu.Unlock()

	for _, inst := range evicted {
		r.opts.Logger.Warn("swept stale instance",
			"instance_id", inst.InstanceID,
			"agent", inst.Agent,
			"last_heartbeat", inst.LastHeartbeat,
		)
		if r.opts.OnEvict != nil {
			r.opts.OnEvict(inst)
		}
	}
	return evicted
}

// SweepInterval returns the period of Run. It is zero when sweeping is
// disabled (StaleAfter <= 0).
func (r *Registry) SweepInterval() time.Duration {
	if r.opts.StaleAfter <= 0 {
		return 0
	}
	return r.opts.SweepInterval
}

// Run sweeps every SweepInterval until ctx is done. Without a stale
// threshold it only waits for ctx.
func (r *Registry) Run(ctx context.Context) {
	if r.SweepInterval() <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close stops pending grace timers and drops terminal records.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
		if inst, ok := r.instances[id]; ok && inst.Status.Terminal() {
			delete(r.instances, id)
		}
	}
}
