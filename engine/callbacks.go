package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/logging"
	"github.com/hupe1980/freza/runner"
)

// CallbackType defines the specific lifecycle points where callbacks can be executed.
//
// Callbacks provide a flexible mechanism for hooking into the invocation
// lifecycle without modifying core logic. Metrics and logging are attached
// this way.
//
// Available callback types:
//   - BeforeInvocation: after the request was resolved, before any process is spawned
//   - InvocationStarted: once the runtime is running
//   - AfterInvocation: after the turn was persisted and the registry record completed
//   - OnEvent: for every event of a running invocation, in order
//   - OnError: when an invocation failed
type CallbackType string

const (
	// CallbackBeforeInvocation is triggered before the runtime is launched.
	// Returning an error rejects the invocation.
	CallbackBeforeInvocation CallbackType = "before_invocation"

	// CallbackInvocationStarted is triggered after the runtime was launched
	// and the instance reached running.
	CallbackInvocationStarted CallbackType = "invocation_started"

	// CallbackAfterInvocation is triggered once an invocation reached a
	// terminal status.
	CallbackAfterInvocation CallbackType = "after_invocation"

	// CallbackOnEvent is triggered for every event forwarded to subscribers.
	// It runs on the invocation's goroutine and must not block.
	CallbackOnEvent CallbackType = "on_event"

	// CallbackOnError is triggered after a failed invocation, following
	// CallbackAfterInvocation.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext provides context information for callback execution.
//
// Fields not relevant to a callback type are left zero: Event is only set
// for CallbackOnEvent and Outcome only for the terminal callbacks.
type CallbackContext struct {
	InstanceID string
	Agent      string
	Mode       core.Mode
	Channel    string
	ThreadID   string
	// Trigger is the message that started the invocation.
	Trigger string

	Event   *core.Event
	Outcome *runner.Outcome

	CallbackType CallbackType
}

// Callback defines the interface for invocation lifecycle hooks.
//
// Callbacks run synchronously. Only an error from CallbackBeforeInvocation
// changes the flow; errors from the other types are logged.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	cb := NewFunctionCallback(
//	    CallbackAfterInvocation,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("%s finished: %s", cc.InstanceID, cc.Outcome.Status)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager orchestrates callback execution throughout the invocation
// lifecycle.
//
// Callbacks are executed in registration order, and any callback returning
// an error stops the remaining callbacks of that type. Registration and
// execution are safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates a new callback manager instance.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback to the manager for its type.
//
// Example:
//
//	manager := NewCallbackManager()
//	manager.RegisterCallback(loggingCallback)
//	manager.RegisterCallback(metricsCallback)
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
// It returns the first error and skips the callbacks after it.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// Len returns the number of callbacks registered for a type.
func (cm *CallbackManager) Len(callbackType CallbackType) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.callbacks[callbackType])
}

// LoggingCallback writes one structured log line per lifecycle point.
//
// Example:
//
//	manager.RegisterCallback(NewLoggingCallback(CallbackAfterInvocation, logger))
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logging.OrNoOp(logger),
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle point. Events are logged at debug level.
func (c *LoggingCallback) Execute(_ context.Context, cc *CallbackContext) error {
	args := []any{
		"callback", string(c.callbackType),
		"instance_id", cc.InstanceID,
		"agent", cc.Agent,
		"mode", string(cc.Mode),
	}
	if cc.ThreadID != "" {
		args = append(args, "thread_id", cc.ThreadID)
	}
	switch {
	case cc.Event != nil:
		c.logger.Debug("invocation event", append(args, "type", string(cc.Event.Type))...)
	case cc.Outcome != nil && cc.Outcome.Err != nil:
		c.logger.Warn("invocation lifecycle", append(args, "status", string(cc.Outcome.Status), "error", cc.Outcome.Err.Error())...)
	case cc.Outcome != nil:
		c.logger.Info("invocation lifecycle", append(args,
			"status", string(cc.Outcome.Status),
			"cost_usd", cc.Outcome.Turn.CostUSD,
			"duration_ms", cc.Outcome.Turn.DurationMS)...)
	default:
		c.logger.Info("invocation lifecycle", args...)
	}
	return nil
}

// TriggerValidationCallback rejects invocations before they start.
//
// Example:
//
//	validator := func(agent, message string) error {
//	    if len(message) > 10000 {
//	        return errors.New("message too long")
//	    }
//	    return nil
//	}
//	manager.RegisterCallback(NewTriggerValidationCallback(validator))
type TriggerValidationCallback struct {
	validator func(agent, message string) error
}

// NewTriggerValidationCallback creates a new trigger validation callback.
func NewTriggerValidationCallback(validator func(agent, message string) error) *TriggerValidationCallback {
	return &TriggerValidationCallback{
		validator: validator,
	}
}

// Type returns the callback type (always CallbackBeforeInvocation).
func (c *TriggerValidationCallback) Type() CallbackType {
	return CallbackBeforeInvocation
}

// Execute runs the validator against the trigger.
func (c *TriggerValidationCallback) Execute(_ context.Context, cc *CallbackContext) error {
	if c.validator == nil {
		return nil
	}
	return c.validator(cc.Agent, cc.Trigger)
}
