package core

import "time"

// Mode describes how an invocation was triggered.
type Mode string

const (
	// ModeDirect is an explicit invocation of a named agent.
	ModeDirect Mode = "direct"
	// ModeChannel is a message routed in from a channel.
	ModeChannel Mode = "channel"
	// ModeReflect is a scheduled self-reflection run.
	ModeReflect Mode = "reflect"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeDirect, ModeChannel, ModeReflect:
		return true
	}
	return false
}

// Status is the lifecycle state of an Instance.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Instance is the registry's record of one invocation process.
type Instance struct {
	InstanceID    string    `json:"instance_id"`
	Mode          Mode      `json:"mode"`
	ChannelName   string    `json:"channel_name,omitempty"`
	Agent         string    `json:"agent"`
	Status        Status    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CurrentTask   string    `json:"current_task,omitempty"`

	PID        int       `json:"pid,omitempty"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Trigger    string    `json:"trigger_message,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}
