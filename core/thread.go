package core

import (
	"context"
	"encoding/json"
	"time"
)

// Turn is one request/response pair within a thread plus its raw trace.
type Turn struct {
	InstanceID        string            `json:"instance_id"`
	Mode              Mode              `json:"mode,omitempty"`
	Status            Status            `json:"status"`
	Error             string            `json:"error,omitempty"`
	SessionID         string            `json:"session_id,omitempty"`
	TriggerMessage    string            `json:"trigger_message"`
	Response          string            `json:"response"`
	ConversationTrace []json.RawMessage `json:"conversation_trace"`
	CostUSD           float64           `json:"cost_usd"`
	DurationMS        int64             `json:"duration_ms"`
	TurnsUsed         int               `json:"turns_used"`
	ToolsUsed         []string          `json:"tools_used"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Thread is a persisted multi-turn conversation with one agent.
type Thread struct {
	ThreadID      string    `json:"thread_id"`
	Agent         string    `json:"agent"`
	Channel       string    `json:"channel"`
	Entries       []Turn    `json:"entries"`
	CreatedAt     time.Time `json:"created_at"`
	LastTimestamp time.Time `json:"last_timestamp"`
}

// ThreadSummary is the list view of a thread.
type ThreadSummary struct {
	ThreadID      string    `json:"thread_id"`
	Title         string    `json:"title"`
	Agent         string    `json:"agent"`
	Channel       string    `json:"channel"`
	MessageCount  int       `json:"message_count"`
	CreatedAt     time.Time `json:"created_at"`
	LastTimestamp time.Time `json:"last_timestamp"`
}

// ThreadStore persists threads. AppendTurn must be durable before it returns
// and must serialize appends per thread id.
type ThreadStore interface {
	// AppendTurn appends turn to threadID and returns the thread id. An empty
	// id creates a fresh thread; an id obtained from ReserveThreadID creates
	// the thread under that id; any other unknown id fails with NotFoundError.
	AppendTurn(ctx context.Context, threadID, agent, channel string, turn Turn) (string, error)
	// GetThread returns the turns of a thread in append order.
	GetThread(ctx context.Context, threadID string) (*Thread, error)
	// ListThreads returns summaries ordered by LastTimestamp, newest first.
	ListThreads(ctx context.Context) ([]ThreadSummary, error)
	// Stats folds every stored turn into aggregate statistics.
	Stats(ctx context.Context) (Stats, error)
	// ReserveThreadID hands out a fresh id that AppendTurn will accept before
	// the thread exists.
	ReserveThreadID(ctx context.Context) (string, error)
	// ReleaseThreadID drops an unused reservation.
	ReleaseThreadID(threadID string)
	Close() error
}
