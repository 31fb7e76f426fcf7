package core

// ShortTermState is the scratch record other instances read to learn what an
// invocation is doing.
type ShortTermState struct {
	InstanceID  string  `json:"instance_id"`
	Mode        Mode    `json:"mode"`
	Agent       string  `json:"agent_name"`
	ChannelName string  `json:"channel_name,omitempty"`
	StartedAt   float64 `json:"started_at"`
	CurrentTask string  `json:"current_task"`
	Status      string  `json:"status"`
	Error       string  `json:"error,omitempty"`
	Summary     string  `json:"response_summary,omitempty"`
	CostUSD     float64 `json:"cost_usd,omitempty"`
	DurationS   float64 `json:"duration_seconds,omitempty"`
}

// MemoryStore holds agent long-term memory and per-instance short-term state.
type MemoryStore interface {
	ReadLongTerm(agent string) (string, error)
	WriteLongTerm(agent, content string) error
	AppendLongTerm(agent, text string) error

	PutShortTerm(state ShortTermState) error
	GetShortTerm(instanceID string) (ShortTermState, bool, error)
	DeleteShortTerm(instanceID string) error
	// ListShortTerm returns every stored state ordered by start time.
	ListShortTerm() ([]ShortTermState, error)
}
