package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/freza/broadcast"
	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/util"
	"github.com/hupe1980/freza/logging"
	"github.com/hupe1980/freza/memory"
	"github.com/hupe1980/freza/prompt"
	"github.com/hupe1980/freza/registry"
	"github.com/hupe1980/freza/runner"
	"github.com/hupe1980/freza/thread"
)

// Config defines tuning parameters for the Engine's operational behavior.
//
// Example:
//
//	cfg := DefaultConfig
//	cfg.Timeout = 20 * time.Minute
//	eng := New(catalog, launcher, WithConfig(cfg))
type Config struct {
	// Model and MaxTurns apply to agents that do not set their own.
	Model    string
	MaxTurns int

	// Timeout bounds one invocation; zero disables it.
	Timeout time.Duration
	// HeartbeatInterval refreshes running instances in the registry.
	HeartbeatInterval time.Duration
	// KillGrace is the SIGTERM to SIGKILL delay on cancellation.
	KillGrace time.Duration

	// MaxConcurrentInvocations limits the number of invocations that can
	// run simultaneously. Set to 0 for unlimited.
	MaxConcurrentInvocations int

	// EventBufferSize sets the capacity of each invocation's event channel.
	EventBufferSize int

	// ToolLabels overrides the human labels shown as current task.
	ToolLabels core.ToolLabels
}

// DefaultConfig provides production-ready default configuration values.
//
// Configuration values:
//   - Model: "opus", MaxTurns: 100
//   - Timeout: 600s, HeartbeatInterval: 30s, KillGrace: 2s
//   - MaxConcurrentInvocations: 10
//   - EventBufferSize: 256
var DefaultConfig = Config{
	Model:                    "opus",
	MaxTurns:                 100,
	Timeout:                  600 * time.Second,
	HeartbeatInterval:        30 * time.Second,
	KillGrace:                2 * time.Second,
	MaxConcurrentInvocations: 10,
	EventBufferSize:          256,
}

// Options configures an Engine instance using the functional options pattern.
//
// All services have in-memory defaults suitable for tests and development.
// Production deployments pass the file or SQL backed stores.
//
// Example:
//
//	eng := New(catalog, router,
//	    WithConfig(cfg),
//	    WithThreadStore(store),
//	    WithLogger(logger),
//	)
type Options struct {
	// Config contains operational parameters for the engine behavior.
	Config Config

	// Registry tracks running instances. Defaults to a fresh registry.
	Registry *registry.Registry

	// ThreadStore persists turns. Defaults to an in-memory store.
	ThreadStore core.ThreadStore

	// MemoryStore holds agent memory and short-term state.
	MemoryStore core.MemoryStore

	// Hub fans events out to subscribers. Defaults to a hub with replay.
	Hub *broadcast.Hub

	// Layout locates agent directories for prompts and launchers.
	Layout core.Layout

	// Callbacks receives lifecycle notifications.
	Callbacks *CallbackManager

	// PromptCmd is the command agents are told to call back with.
	PromptCmd string

	Clock func() time.Time

	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger
}

// WithConfig replaces the operational configuration.
func WithConfig(cfg Config) func(o *Options) {
	return func(o *Options) { o.Config = cfg }
}

// WithThreadStore sets the thread store.
func WithThreadStore(s core.ThreadStore) func(o *Options) {
	return func(o *Options) { o.ThreadStore = s }
}

// WithMemoryStore sets the memory store.
func WithMemoryStore(s core.MemoryStore) func(o *Options) {
	return func(o *Options) { o.MemoryStore = s }
}

// WithRegistry sets the instance registry.
func WithRegistry(r *registry.Registry) func(o *Options) {
	return func(o *Options) { o.Registry = r }
}

// WithHub sets the broadcast hub.
func WithHub(h *broadcast.Hub) func(o *Options) {
	return func(o *Options) { o.Hub = h }
}

// WithCallbacks sets the callback manager.
func WithCallbacks(cm *CallbackManager) func(o *Options) {
	return func(o *Options) { o.Callbacks = cm }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Engine is the session coordinator: it resolves incoming messages into
// invocations, hands them to the runner and exposes the read side of the
// registry, the thread store and the live event streams.
//
// Concurrency Model:
//   - Every invocation runs on its own goroutine inside the runner
//   - Events flow one way: runner -> hub pump -> subscribers
//   - The registry is the only state shared by all invocations
//
// All public methods are safe for concurrent use.
type Engine struct {
	catalog   core.Catalog
	registry  *registry.Registry
	threads   core.ThreadStore
	memory    core.MemoryStore
	hub       *broadcast.Hub
	runner    *runner.Runner
	prompts   *prompt.Builder
	callbacks *CallbackManager
	layout    core.Layout
	config    Config
	logger    logging.Logger
}

// New creates an Engine. catalog resolves agents and channels; launcher
// starts their runtimes, usually a launcher.Router.
func New(catalog core.Catalog, launcher core.Launcher, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:    DefaultConfig,
		PromptCmd: "freza",
		Clock:     time.Now,
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Registry == nil {
		opts.Registry = registry.New(registry.WithClock(opts.Clock), registry.WithLogger(opts.Logger))
	}
	if opts.ThreadStore == nil {
		opts.ThreadStore = thread.NewInMemoryStore()
	}
	if opts.MemoryStore == nil {
		opts.MemoryStore = memory.NewInMemoryStore()
	}
	if opts.Hub == nil {
		opts.Hub = broadcast.New(func(o *broadcast.Options) { o.Logger = opts.Logger })
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}

	e := &Engine{
		catalog:   catalog,
		registry:  opts.Registry,
		threads:   opts.ThreadStore,
		memory:    opts.MemoryStore,
		hub:       opts.Hub,
		callbacks: opts.Callbacks,
		layout:    opts.Layout,
		config:    opts.Config,
		logger:    opts.Logger,
	}

	labels := core.DefaultToolLabels().Merge(opts.Config.ToolLabels)
	e.runner = runner.New(opts.Registry, opts.ThreadStore, launcher, func(o *runner.Options) {
		o.Timeout = opts.Config.Timeout
		o.HeartbeatInterval = opts.Config.HeartbeatInterval
		o.KillGrace = opts.Config.KillGrace
		o.EventBuffer = opts.Config.EventBufferSize
		o.MaxConcurrent = opts.Config.MaxConcurrentInvocations
		o.ToolLabels = labels
		o.Memory = opts.MemoryStore
		o.Clock = opts.Clock
		o.OnEvent = e.onEvent
		o.OnFinish = e.onFinish
		o.Logger = opts.Logger
	})
	e.prompts = prompt.NewBuilder(opts.Layout, catalog, opts.MemoryStore, opts.Registry, func(o *prompt.Options) {
		o.Cmd = opts.PromptCmd
		o.Clock = opts.Clock
	})

	return e
}

// StartRequest is the input of StartInvocation.
type StartRequest struct {
	// Agent is optional; it falls back to the channel's default agent and
	// then to core.DefaultAgent.
	Agent   string
	Message string
	// ThreadID continues an existing thread. Empty starts a fresh one.
	ThreadID string
	Mode     core.Mode
	Channel  string
	// Subscribe opens a subscription before the first event is published.
	Subscribe bool
}

// StartResult identifies a started invocation.
type StartResult struct {
	InstanceID string `json:"instance_id"`
	ThreadID   string `json:"thread_id"`
	Agent      string `json:"agent"`
	// Subscription is set when StartRequest.Subscribe was true.
	Subscription *broadcast.Subscription `json:"-"`

	run *runner.Run
}

// StartInvocation resolves req into an invocation and returns once the
// runtime is running. It does not wait for completion.
//
// Validation happens before any resource is allocated: an invalid name or
// mode fails with core.ErrInvalid, an unknown agent or thread with
// core.NotFoundError.
func (e *Engine) StartInvocation(ctx context.Context, req StartRequest) (*StartResult, error) {
	if req.Mode == "" {
		req.Mode = core.ModeDirect
		if req.Channel != "" {
			req.Mode = core.ModeChannel
		}
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: mode %q", core.ErrInvalid, req.Mode)
	}

	var channel *core.ChannelDefinition
	if req.Channel != "" {
		if err := core.ValidateName(req.Channel); err != nil {
			return nil, err
		}
		if ch, ok := e.catalog.Channel(req.Channel); ok {
			channel = &ch
		}
	} else if req.Mode == core.ModeChannel {
		return nil, fmt.Errorf("%w: channel mode requires a channel name", core.ErrInvalid)
	}

	name := req.Agent
	if name == "" && channel != nil {
		name = channel.DefaultAgent
	}
	if name == "" {
		name = core.DefaultAgent
	}
	if err := core.ValidateName(name); err != nil {
		return nil, err
	}
	agent, ok := e.catalog.Agent(name)
	if !ok {
		return nil, core.NewNotFound("agent", name)
	}

	var (
		history  []core.Exchange
		resume   string
		threadID = req.ThreadID
		reserved bool
	)
	if threadID != "" {
		th, err := e.threads.GetThread(ctx, threadID)
		if err != nil {
			return nil, err
		}
		history, resume = continuation(th, agent.Name)
	} else {
		id, err := e.threads.ReserveThreadID(ctx)
		if err != nil {
			return nil, fmt.Errorf("reserve thread id: %w", err)
		}
		threadID, reserved = id, true
	}
	releaseReservation := func() {
		if reserved {
			e.threads.ReleaseThreadID(threadID)
		}
	}

	instanceID := util.NewID()
	cc := &CallbackContext{
		InstanceID: instanceID,
		Agent:      agent.Name,
		Mode:       req.Mode,
		Channel:    req.Channel,
		ThreadID:   threadID,
		Trigger:    req.Message,
	}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeInvocation, cc); err != nil {
		releaseReservation()
		return nil, fmt.Errorf("%w: %w", core.ErrInvalid, err)
	}

	launch, err := e.launchRequest(agent, channel, instanceID, req, history, resume)
	if err != nil {
		releaseReservation()
		return nil, err
	}

	e.hub.Register(instanceID)
	var sub *broadcast.Subscription
	if req.Subscribe {
		if sub, err = e.hub.Open(instanceID); err != nil {
			e.hub.Close(instanceID)
			releaseReservation()
			return nil, err
		}
	}

	run, err := e.runner.Start(ctx, runner.Request{
		InstanceID:     instanceID,
		Agent:          agent,
		Mode:           req.Mode,
		Channel:        req.Channel,
		ThreadID:       threadID,
		ThreadReserved: reserved,
		Trigger:        req.Message,
		Launch:         launch,
	})
	if err != nil {
		e.hub.Close(instanceID)
		return nil, err
	}
	e.hub.Attach(run.ID, run.Events())

	cc.InstanceID = run.ID
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackInvocationStarted, cc); err != nil {
		e.logger.Warn("invocation_started callback failed", "instance_id", run.ID, "error", err)
	}

	return &StartResult{
		InstanceID:   run.ID,
		ThreadID:     threadID,
		Agent:        agent.Name,
		Subscription: sub,
		run:          run,
	}, nil
}

func (e *Engine) launchRequest(
	agent core.AgentDefinition,
	channel *core.ChannelDefinition,
	instanceID string,
	req StartRequest,
	history []core.Exchange,
	resume string,
) (core.LaunchRequest, error) {
	system, err := e.prompts.System(agent, channel, instanceID)
	if err != nil {
		return core.LaunchRequest{}, fmt.Errorf("build system prompt: %w", err)
	}

	var embedded []core.Exchange
	if resume == "" && !nativeHistory(agent) {
		embedded = history
	}
	user, err := e.prompts.User(prompt.UserInput{
		InstanceID: instanceID,
		Agent:      agent,
		Mode:       req.Mode,
		Channel:    req.Channel,
		Message:    req.Message,
		History:    embedded,
	})
	if err != nil {
		return core.LaunchRequest{}, fmt.Errorf("build user prompt: %w", err)
	}

	model := agent.Model
	if model == "" {
		model = e.config.Model
	}
	maxTurns := agent.MaxTurns
	if maxTurns <= 0 {
		maxTurns = e.config.MaxTurns
	}
	return core.LaunchRequest{
		InstanceID:      instanceID,
		Agent:           agent,
		Prompt:          user,
		SystemPrompt:    system,
		Model:           model,
		MaxTurns:        maxTurns,
		ResumeSessionID: resume,
		History:         history,
		BaseDir:         e.layout.BaseDir,
	}, nil
}

// nativeHistory reports whether the agent's runtime consumes prior turns
// from LaunchRequest.History itself.
func nativeHistory(agent core.AgentDefinition) bool {
	if agent.InvokeFile != "" {
		return true
	}
	switch agent.Runtime {
	case core.RuntimeScript, core.RuntimeAnthropic, core.RuntimeOpenAI:
		return true
	}
	return false
}

// continuation extracts the prior exchanges of th and the most recent
// runtime session of agent that can be resumed.
func continuation(th *core.Thread, agent string) ([]core.Exchange, string) {
	history := make([]core.Exchange, 0, len(th.Entries))
	resume := ""
	for _, t := range th.Entries {
		history = append(history, core.Exchange{Trigger: t.TriggerMessage, Response: t.Response})
		if th.Agent == agent && t.SessionID != "" && t.Status == core.StatusCompleted {
			resume = t.SessionID
		}
	}
	return history, resume
}

// Wait blocks until the invocation finished and returns its outcome.
func (r *StartResult) Wait(ctx context.Context) (runner.Outcome, error) {
	return r.run.Wait(ctx)
}

// InvokeResult is the outcome of a synchronous invocation.
type InvokeResult struct {
	StartResult
	Events  []core.Event
	Outcome runner.Outcome
}

// Invoke runs an invocation to completion and collects its events. When
// ctx is cancelled the invocation is stopped and ctx.Err is returned after
// it finished.
func (e *Engine) Invoke(ctx context.Context, req StartRequest) (*InvokeResult, error) {
	req.Subscribe = true
	started, err := e.StartInvocation(ctx, req)
	if err != nil {
		return nil, err
	}
	sub := started.Subscription
	defer sub.Close()

	res := &InvokeResult{StartResult: *started}
	var ctxErr error
	done := ctx.Done()
	for events := sub.Events(); events != nil; {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			res.Events = append(res.Events, ev)
		case <-done:
			ctxErr = ctx.Err()
			done = nil
			_ = e.runner.Cancel(started.InstanceID)
		}
	}

	<-started.run.Done()
	res.Outcome = started.run.Outcome()
	res.ThreadID = res.Outcome.ThreadID
	if ctxErr != nil {
		return res, ctxErr
	}
	return res, nil
}

// GetInstance returns the registry record of an invocation. Finished
// invocations stay visible for the registry's grace period.
func (e *Engine) GetInstance(id string) (core.Instance, error) {
	return e.registry.Get(id)
}

// ListActiveInstances returns running invocations ordered by start time.
func (e *Engine) ListActiveInstances() []core.Instance {
	return e.registry.ListActive()
}

// Subscribe opens a live subscription to a running invocation. Finished
// invocations fail with core.NotFoundError; read the thread instead.
func (e *Engine) Subscribe(instanceID string) (*broadcast.Subscription, error) {
	return e.hub.Open(instanceID)
}

// Stop cancels a running invocation.
func (e *Engine) Stop(instanceID string) error {
	return e.runner.Cancel(instanceID)
}

// ListThreads returns thread summaries, newest first.
func (e *Engine) ListThreads(ctx context.Context) ([]core.ThreadSummary, error) {
	return e.threads.ListThreads(ctx)
}

// GetThread returns one thread with all its turns.
func (e *Engine) GetThread(ctx context.Context, threadID string) (*core.Thread, error) {
	return e.threads.GetThread(ctx, threadID)
}

// Stats aggregates every stored turn.
func (e *Engine) Stats(ctx context.Context) (core.Stats, error) {
	return e.threads.Stats(ctx)
}

// Catalog returns the agent and channel lookup table.
func (e *Engine) Catalog() core.Catalog { return e.catalog }

// Memory returns the memory store.
func (e *Engine) Memory() core.MemoryStore { return e.memory }

// Callbacks returns the callback manager for registering hooks.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// Run executes the registry sweep loop until ctx is cancelled. Short-term
// state left by instances that are no longer registered is pruned at start
// and after every sweep interval.
func (e *Engine) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.registry.Run(ctx)
	}()
	defer func() { <-done }()

	e.PruneShortTerm()
	interval := e.registry.SweepInterval()
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.PruneShortTerm()
		}
	}
}

// PruneShortTerm deletes the short-term state of every instance the
// registry no longer holds, including terminal ones whose grace period
// ended. It returns the number of deleted states.
func (e *Engine) PruneShortTerm() int {
	states, err := e.memory.ListShortTerm()
	if err != nil {
		e.logger.Warn("list short-term state", "error", err)
		return 0
	}
	n := 0
	for _, st := range states {
		if _, err := e.registry.Get(st.InstanceID); err == nil {
			continue
		}
		if err := e.memory.DeleteShortTerm(st.InstanceID); err != nil {
			e.logger.Warn("delete short-term state", "instance_id", st.InstanceID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		e.logger.Debug("pruned short-term state", "count", n)
	}
	return n
}

// Shutdown cancels all in-flight invocations and waits for them to finish
// persisting.
func (e *Engine) Shutdown(ctx context.Context) error {
	defer e.registry.Close()
	if err := e.runner.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (e *Engine) onEvent(run *runner.Run, ev core.Event) {
	cc := &CallbackContext{
		InstanceID: run.ID,
		Agent:      run.Agent,
		Mode:       run.Mode,
		Channel:    run.Channel,
		ThreadID:   run.ThreadID(),
		Event:      &ev,
	}
	if err := e.callbacks.ExecuteCallbacks(context.Background(), CallbackOnEvent, cc); err != nil {
		e.logger.Warn("on_event callback failed", "instance_id", run.ID, "error", err)
	}
}

func (e *Engine) onFinish(run *runner.Run, out runner.Outcome) {
	cc := &CallbackContext{
		InstanceID: run.ID,
		Agent:      run.Agent,
		Mode:       run.Mode,
		Channel:    run.Channel,
		ThreadID:   out.ThreadID,
		Trigger:    out.Turn.TriggerMessage,
		Outcome:    &out,
	}
	ctx := context.Background()
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterInvocation, cc); err != nil {
		e.logger.Warn("after_invocation callback failed", "instance_id", run.ID, "error", err)
	}
	if out.Err != nil {
		if err := e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, cc); err != nil {
			e.logger.Warn("on_error callback failed", "instance_id", run.ID, "error", err)
		}
	}
}
