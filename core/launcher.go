package core

import (
	"context"
	"encoding/json"
)

// Exchange is a prior trigger/response pair supplied to continuations.
type Exchange struct {
	Trigger  string `json:"trigger"`
	Response string `json:"response"`
}

// LaunchRequest describes one agent runtime execution.
type LaunchRequest struct {
	InstanceID   string
	Agent        AgentDefinition
	Prompt       string
	SystemPrompt string
	Model        string
	MaxTurns     int
	// ResumeSessionID continues a prior runtime session when the runtime
	// supports it.
	ResumeSessionID string
	History         []Exchange
	BaseDir         string
}

// Record is one decoded unit of runtime output: zero or more classified
// events plus the raw protocol payload for the conversation trace.
type Record struct {
	Events    []Event
	Raw       json.RawMessage
	SessionID string
	// Err is set for output that violates the protocol or reports a runtime
	// failure. The runner forwards Events first, then fails the invocation.
	Err error
}

// Process is a running agent runtime.
type Process interface {
	// PID is the OS process id, or 0 for in-process runtimes.
	PID() int
	// Records yields decoded output and is closed once the runtime has exited.
	Records() <-chan Record
	// Wait returns the exit status after Records is closed.
	Wait() error
	// Terminate asks the runtime to stop.
	Terminate() error
	// Kill stops the runtime immediately.
	Kill() error
}

// Launcher starts agent runtimes.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (Process, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, req LaunchRequest) (Process, error)

// Launch implements Launcher.
func (f LauncherFunc) Launch(ctx context.Context, req LaunchRequest) (Process, error) {
	return f(ctx, req)
}
