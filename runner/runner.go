package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/util"
	"github.com/hupe1980/freza/logging"
	"github.com/hupe1980/freza/registry"
)

var (
	// ErrShuttingDown is returned by Start after Shutdown was called.
	ErrShuttingDown = errors.New("runner: shutting down")
	// ErrBusy is returned by Start when all invocation slots are taken.
	ErrBusy = errors.New("runner: too many concurrent invocations")
)

const (
	maxTriggerLen = 500
	maxSummaryLen = 1000
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Timeout bounds a single invocation. Zero disables it.
	Timeout time.Duration
	// HeartbeatInterval refreshes the registry while the runtime is silent.
	HeartbeatInterval time.Duration
	// KillGrace is how long a cancelled runtime may take to exit after
	// SIGTERM before it is killed.
	KillGrace time.Duration
	// EventBuffer sets the capacity of each run's event channel.
	EventBuffer int
	// MaxConcurrent limits concurrently running invocations. Zero means
	// unlimited.
	MaxConcurrent int
	ToolLabels    core.ToolLabels
	// Memory receives short-term state updates when set.
	Memory core.MemoryStore
	Clock  func() time.Time
	// OnEvent observes every event a run emits, including the synthetic
	// error and done events.
	OnEvent func(run *Run, ev core.Event)
	// OnFinish observes the outcome of every run after it was persisted.
	OnFinish func(run *Run, out Outcome)
	Logger   logging.Logger
}

// Request describes one invocation to start.
type Request struct {
	// InstanceID is optional; the registry generates one when empty.
	InstanceID string
	Agent      core.AgentDefinition
	Mode       core.Mode
	Channel    string
	// ThreadID is the thread the turn is appended to. Empty creates a new
	// thread. ThreadReserved marks an id obtained from ReserveThreadID that
	// is released again when nothing gets persisted.
	ThreadID       string
	ThreadReserved bool
	Trigger        string
	Launch         core.LaunchRequest
}

// Outcome is the final state of a run.
type Outcome struct {
	Status core.Status
	// ThreadID is empty when a fresh thread ended up without any turn.
	ThreadID  string
	Turn      core.Turn
	Persisted bool
	Err       error
}

// Run is one in-flight invocation.
type Run struct {
	ID        string
	Agent     string
	Mode      core.Mode
	Channel   string
	StartedAt time.Time

	events chan core.Event
	stop   chan error
	done   chan struct{}

	// tool names by tool id, for tool_result labels
	toolNames map[string]string

	mu       sync.Mutex
	threadID string
	outcome  Outcome
}

// Events yields the run's events in runtime order, ending with done. It
// must be drained; the runner blocks while the channel is full.
func (r *Run) Events() <-chan core.Event { return r.events }

// Done is closed once the run finished and its outcome is available.
func (r *Run) Done() <-chan struct{} { return r.done }

// ThreadID returns the thread the run writes to.
func (r *Run) ThreadID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threadID
}

// Outcome returns the final state. It is only meaningful after Done.
func (r *Run) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// Wait blocks until the run finished or ctx is done.
func (r *Run) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		return r.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (r *Run) requestStop(err error) {
	select {
	case r.stop <- err:
	default:
	}
}

// Runner starts invocations and drives each one to completion. Public
// methods are safe for concurrent use.
type Runner struct {
	registry *registry.Registry
	threads  core.ThreadStore
	launcher core.Launcher
	limiter  *core.Limiter
	opts     Options

	mu     sync.Mutex
	runs   map[string]*Run
	wg     sync.WaitGroup
	closed bool
}

// New constructs a Runner with optional overrides.
func New(reg *registry.Registry, threads core.ThreadStore, launcher core.Launcher, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Timeout:           600 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		KillGrace:         2 * time.Second,
		EventBuffer:       256,
		MaxConcurrent:     10,
		ToolLabels:        core.DefaultToolLabels(),
		Clock:             time.Now,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.EventBuffer < 0 {
		opts.EventBuffer = 0
	}
	return &Runner{
		registry: reg,
		threads:  threads,
		launcher: launcher,
		limiter:  core.NewLimiter(opts.MaxConcurrent),
		opts:     opts,
		runs:     make(map[string]*Run),
	}
}

// Start registers the instance, launches the runtime and returns once it is
// running. The run continues after ctx is cancelled; use Cancel to stop it.
func (r *Runner) Start(ctx context.Context, req Request) (*Run, error) {
	release := func() {
		if req.ThreadReserved {
			r.threads.ReleaseThreadID(req.ThreadID)
		}
	}
	if err := ctx.Err(); err != nil {
		release()
		return nil, err
	}
	if !req.Mode.Valid() {
		release()
		return nil, fmt.Errorf("%w: mode %q", core.ErrInvalid, req.Mode)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		release()
		return nil, ErrShuttingDown
	}
	r.wg.Add(1)
	r.mu.Unlock()

	if err := r.limiter.Acquire(); err != nil {
		r.wg.Done()
		release()
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}

	now := r.opts.Clock()
	id := r.registry.Register(core.Instance{
		InstanceID:  req.InstanceID,
		Mode:        req.Mode,
		ChannelName: req.Channel,
		Agent:       req.Agent.Name,
		StartedAt:   now,
		ThreadID:    req.ThreadID,
		Trigger:     util.Truncate(req.Trigger, maxTriggerLen),
	})
	run := &Run{
		ID:        id,
		Agent:     req.Agent.Name,
		Mode:      req.Mode,
		Channel:   req.Channel,
		StartedAt: now,
		events:    make(chan core.Event, r.opts.EventBuffer),
		stop:      make(chan error, 1),
		done:      make(chan struct{}),
		toolNames: make(map[string]string),
		threadID:  req.ThreadID,
	}
	r.putShortTerm(run, "initializing", "running", nil)

	lreq := req.Launch
	lreq.InstanceID = id
	lreq.Agent = req.Agent

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	proc, err := r.launcher.Launch(procCtx, lreq)
	if err != nil {
		cancel()
		r.limiter.Release()
		if cerr := r.registry.Complete(id, core.StatusFailed, err.Error()); cerr != nil {
			r.opts.Logger.Warn("complete failed instance", "instance_id", id, "error", cerr)
		}
		r.putShortTerm(run, "failed", "failed", &Outcome{Err: err})
		release()
		r.wg.Done()
		return nil, fmt.Errorf("launch agent %s: %w", req.Agent.Name, err)
	}

	_ = r.registry.SetPID(id, proc.PID())
	_ = r.registry.SetStatus(id, core.StatusRunning)
	r.putShortTerm(run, "thinking", "running", nil)

	r.mu.Lock()
	r.runs[id] = run
	closed := r.closed
	r.mu.Unlock()
	if closed {
		run.requestStop(fmt.Errorf("%w: %v", core.ErrCancelled, ErrShuttingDown))
	}

	r.opts.Logger.Info("invocation started",
		"instance_id", id, "agent", req.Agent.Name, "mode", string(req.Mode),
		"channel", req.Channel, "thread_id", req.ThreadID, "pid", proc.PID())

	go r.drive(cancel, run, proc, req)
	return run, nil
}

// Cancel stops a running invocation. The run fails with core.ErrCancelled.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	run, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return core.NewNotFound("instance", id)
	}
	run.requestStop(core.ErrCancelled)
	return nil
}

// Get returns the in-flight run with id.
func (r *Runner) Get(id string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	return run, ok
}

// Active returns the number of in-flight runs.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// Shutdown cancels every run and waits until all of them finished or ctx
// is done. Start fails afterwards.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, run := range r.runs {
		run.requestStop(fmt.Errorf("%w: %v", core.ErrCancelled, ErrShuttingDown))
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) drive(cancel context.CancelFunc, run *Run, proc core.Process, req Request) {
	defer r.wg.Done()
	defer r.limiter.Release()
	defer cancel()

	var (
		failure   error
		timeout   <-chan time.Time
		heartbeat <-chan time.Time
		killTimer *time.Timer
	)
	if r.opts.Timeout > 0 {
		t := time.NewTimer(r.opts.Timeout)
		defer t.Stop()
		timeout = t.C
	}
	if r.opts.HeartbeatInterval > 0 {
		t := time.NewTicker(r.opts.HeartbeatInterval)
		defer t.Stop()
		heartbeat = t.C
	}

	stop := run.stop
	halt := func(err error, graceful bool) {
		if failure == nil {
			failure = err
		}
		timeout, stop = nil, nil
		if !graceful || r.opts.KillGrace <= 0 {
			_ = proc.Kill()
			return
		}
		_ = proc.Terminate()
		if killTimer == nil {
			killTimer = time.AfterFunc(r.opts.KillGrace, func() { _ = proc.Kill() })
		}
	}

	tr := newTrace()
	records := proc.Records()
loop:
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				break loop
			}
			if err := r.handle(run, tr, rec); err != nil && failure == nil {
				r.opts.Logger.Warn("runtime reported failure", "instance_id", run.ID, "error", err)
				halt(err, true)
			}
		case <-heartbeat:
			r.registry.Heartbeat(run.ID, nil)
		case <-timeout:
			r.opts.Logger.Warn("invocation timed out", "instance_id", run.ID, "after", r.opts.Timeout.String())
			halt(&core.TimeoutError{After: r.opts.Timeout}, false)
		case err := <-stop:
			r.opts.Logger.Info("stopping invocation", "instance_id", run.ID, "reason", err.Error())
			halt(err, true)
		}
	}
	if killTimer != nil {
		killTimer.Stop()
	}

	waitErr := proc.Wait()
	r.finish(run, req, tr, failure, waitErr)
}

// handle classifies one record, forwards its events and folds it into the
// trace. It returns the failure the record reports, if any.
func (r *Runner) handle(run *Run, tr *trace, rec core.Record) error {
	tr.addRecord(rec)

	var failure error
	for _, ev := range rec.Events {
		switch ev.Type {
		case core.EventDone:
			continue
		case core.EventError:
			if failure == nil {
				failure = &core.SubprocessError{Reason: ev.Message}
			}
			continue
		}
		if err := ev.Validate(); err != nil {
			if failure == nil {
				failure = &core.SubprocessError{Reason: "malformed event: " + err.Error()}
			}
			continue
		}
		tr.addEvent(ev)
		r.track(run, ev)
		r.emit(run, ev)
	}

	if rec.Err != nil {
		return rec.Err
	}
	return failure
}

// track reflects ev in the registry and the short-term state.
func (r *Runner) track(run *Run, ev core.Event) {
	var task string
	switch ev.Type {
	case core.EventToolUse:
		run.toolNames[ev.ToolID] = ev.Name
		task = r.opts.ToolLabels.InProgress(ev.Name, ev.InputSummary)
	case core.EventToolResult:
		name := run.toolNames[ev.ToolID]
		if name == "" {
			name = "tool"
		}
		task = r.opts.ToolLabels.Done(name)
	default:
		r.registry.Heartbeat(run.ID, nil)
		return
	}
	r.registry.Heartbeat(run.ID, &task)
	r.putShortTerm(run, task, "running", nil)
}

func (r *Runner) emit(run *Run, ev core.Event) {
	run.events <- ev
	if r.opts.OnEvent != nil {
		r.opts.OnEvent(run, ev)
	}
}

func (r *Runner) finish(run *Run, req Request, tr *trace, failure, waitErr error) {
	now := r.opts.Clock()
	elapsed := now.Sub(run.StartedAt)

	err := failure
	if err == nil && waitErr != nil {
		err = waitErr
	}
	if err == nil && tr.result == nil {
		err = &core.SubprocessError{Reason: "runtime exited without a result"}
	}

	out := Outcome{Status: core.StatusCompleted, ThreadID: req.ThreadID, Err: err}
	if err != nil {
		out.Status = core.StatusFailed
	}

	out.Turn = tr.turn(elapsed.Milliseconds())
	out.Turn.InstanceID = run.ID
	out.Turn.Mode = run.Mode
	out.Turn.Status = out.Status
	out.Turn.TriggerMessage = req.Trigger
	if err != nil {
		out.Turn.Error = err.Error()
	}

	if out.Status == core.StatusCompleted || tr.meaningful {
		threadID, aerr := r.threads.AppendTurn(context.Background(), req.ThreadID, req.Agent.Name, req.Channel, out.Turn)
		switch {
		case aerr == nil:
			out.ThreadID = threadID
			out.Persisted = true
			_ = r.registry.SetThread(run.ID, threadID)
		case core.IsConcurrency(aerr):
			r.opts.Logger.Error("thread invariant violated", "instance_id", run.ID, "thread_id", req.ThreadID, "error", aerr)
		default:
			r.opts.Logger.Error("persist turn", "instance_id", run.ID, "thread_id", req.ThreadID, "error", aerr)
		}
		if aerr != nil && out.Err == nil {
			out.Err = fmt.Errorf("persist turn: %w", aerr)
			out.Status = core.StatusFailed
		}
	}
	if !out.Persisted && req.ThreadReserved {
		out.ThreadID = ""
	}

	run.mu.Lock()
	run.threadID = out.ThreadID
	run.mu.Unlock()

	if out.Err != nil {
		r.emit(run, core.Error(out.Err.Error()))
	}
	r.emit(run, core.Done())
	close(run.events)

	reason := ""
	if out.Err != nil {
		reason = out.Err.Error()
		if errors.Is(out.Err, core.ErrCancelled) {
			reason = core.ErrCancelled.Error()
		}
	}
	if cerr := r.registry.Complete(run.ID, out.Status, reason); cerr != nil {
		r.opts.Logger.Warn("complete instance", "instance_id", run.ID, "error", cerr)
	}

	if out.Status == core.StatusCompleted {
		r.putShortTerm(run, "complete", "finished", &out)
	} else {
		r.putShortTerm(run, "failed", "failed", &out)
	}

	if !out.Persisted && req.ThreadReserved {
		r.threads.ReleaseThreadID(req.ThreadID)
	}

	r.mu.Lock()
	delete(r.runs, run.ID)
	r.mu.Unlock()

	run.mu.Lock()
	run.outcome = out
	run.mu.Unlock()
	close(run.done)

	r.opts.Logger.Info("invocation finished",
		"instance_id", run.ID, "agent", run.Agent, "status", string(out.Status),
		"thread_id", out.ThreadID, "duration_ms", out.Turn.DurationMS,
		"cost_usd", out.Turn.CostUSD, "persisted", out.Persisted, "error", out.Err)

	if r.opts.OnFinish != nil {
		r.opts.OnFinish(run, out)
	}
}

func (r *Runner) putShortTerm(run *Run, task, status string, out *Outcome) {
	if r.opts.Memory == nil {
		return
	}
	st := core.ShortTermState{
		InstanceID:  run.ID,
		Mode:        run.Mode,
		Agent:       run.Agent,
		ChannelName: run.Channel,
		StartedAt:   float64(run.StartedAt.UnixNano()) / float64(time.Second),
		CurrentTask: task,
		Status:      status,
	}
	if out != nil {
		st.Summary = util.Truncate(out.Turn.Response, maxSummaryLen)
		st.CostUSD = out.Turn.CostUSD
		st.DurationS = float64(out.Turn.DurationMS) / 1000
		if out.Err != nil {
			st.Error = out.Err.Error()
		}
	}
	if err := r.opts.Memory.PutShortTerm(st); err != nil {
		r.opts.Logger.Warn("write short-term state", "instance_id", run.ID, "error", err)
	}
}
