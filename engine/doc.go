// Package engine implements the session coordinator of Freza.
//
// The Engine turns an incoming message into an invocation of exactly one
// agent. It owns no process handling itself; it resolves names, prepares
// prompts and hands the launch to the runner, then connects the runner's
// event channel to the broadcast hub so any number of clients can follow
// the invocation live.
//
// # Core Responsibilities
//
// Resolution:
//   - Agent resolution: explicit name, then the channel's default agent,
//     then the "default" agent
//   - Name validation before anything touches the filesystem
//   - Thread continuation with runtime session resume when possible
//
// Invocation:
//   - Asynchronous start (StartInvocation) and synchronous collection
//     (Invoke)
//   - Bounded concurrency, timeouts and cancellation via the runner
//   - Thread id reservation so fresh threads are only created once a turn
//     is persisted
//
// Observation:
//   - Live subscriptions through the broadcast hub
//   - Registry read access for active and recently finished instances
//   - Lifecycle callbacks for cross-cutting concerns such as metrics
//
// # Flow
//
//	StartInvocation
//	  ├─ resolve agent/channel/thread
//	  ├─ before_invocation callbacks
//	  ├─ build system and user prompt
//	  ├─ hub.Register (+ Open when subscribing)
//	  ├─ runner.Start ──► registry: starting → running
//	  └─ hub.Attach(run.Events())
//
//	runner (per invocation goroutine)
//	  ├─ events ──► hub ──► subscribers
//	  ├─ on_event callbacks
//	  └─ finish: persist turn → error → done → registry complete
//	             └─ after_invocation / on_error callbacks
//
// # Usage
//
//	eng := engine.New(catalog, router,
//	    engine.WithThreadStore(store),
//	    engine.WithLogger(logger))
//
//	res, err := eng.StartInvocation(ctx, engine.StartRequest{
//	    Agent:     "researcher",
//	    Message:   "summarize the open issues",
//	    Subscribe: true,
//	})
//	if err != nil {
//	    return err
//	}
//	for ev := range res.Subscription.Events() {
//	    handle(ev)
//	}
//
// # Error Handling
//
//   - core.ErrInvalid: bad names, modes or rejected triggers
//   - core.NotFoundError: unknown agent, thread or instance
//   - runner.ErrBusy: the concurrency limit is reached
//   - Runtime failures never surface from StartInvocation; they end the
//     event stream with an error event and a failed turn
package engine
