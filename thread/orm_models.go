package thread

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/freza/core"
)

type threadRow struct {
	ThreadID      string    `gorm:"primaryKey;size:64"`
	Agent         string    `gorm:"size:191;not null"`
	Channel       string    `gorm:"size:191"`
	CreatedAt     time.Time `gorm:"not null"`
	LastTimestamp time.Time `gorm:"not null;index"`
}

func (threadRow) TableName() string {
	return "threads"
}

type turnRow struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	ThreadID       string    `gorm:"size:64;not null;uniqueIndex:idx_turns_thread_seq,priority:1"`
	Seq            int64     `gorm:"not null;uniqueIndex:idx_turns_thread_seq,priority:2"`
	InstanceID     string    `gorm:"size:64;index"`
	Mode           string    `gorm:"size:32"`
	Status         string    `gorm:"size:32;not null"`
	Error          string    `gorm:"type:text"`
	SessionID      string    `gorm:"size:191"`
	TriggerMessage string    `gorm:"type:text"`
	Response       string    `gorm:"type:text"`
	TraceJSON      string    `gorm:"type:text;not null"`
	CostUSD        float64   `gorm:"not null"`
	DurationMS     int64     `gorm:"not null"`
	TurnsUsed      int       `gorm:"not null"`
	ToolsJSON      string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (turnRow) TableName() string {
	return "turns"
}

func turnRowFromTurn(threadID string, seq int64, t core.Turn) (turnRow, error) {
	trace, err := json.Marshal(t.ConversationTrace)
	if err != nil {
		return turnRow{}, fmt.Errorf("marshal trace: %w", err)
	}
	tools, err := json.Marshal(t.ToolsUsed)
	if err != nil {
		return turnRow{}, fmt.Errorf("marshal tools: %w", err)
	}
	return turnRow{
		ThreadID:       threadID,
		Seq:            seq,
		InstanceID:     t.InstanceID,
		Mode:           string(t.Mode),
		Status:         string(t.Status),
		Error:          t.Error,
		SessionID:      t.SessionID,
		TriggerMessage: t.TriggerMessage,
		Response:       t.Response,
		TraceJSON:      string(trace),
		CostUSD:        t.CostUSD,
		DurationMS:     t.DurationMS,
		TurnsUsed:      t.TurnsUsed,
		ToolsJSON:      string(tools),
		CreatedAt:      t.CreatedAt,
	}, nil
}

func (r turnRow) toTurn() (core.Turn, error) {
	t := core.Turn{
		InstanceID:        r.InstanceID,
		Mode:              core.Mode(r.Mode),
		Status:            core.Status(r.Status),
		Error:             r.Error,
		SessionID:         r.SessionID,
		TriggerMessage:    r.TriggerMessage,
		Response:          r.Response,
		ConversationTrace: []json.RawMessage{},
		CostUSD:           r.CostUSD,
		DurationMS:        r.DurationMS,
		TurnsUsed:         r.TurnsUsed,
		ToolsUsed:         []string{},
		CreatedAt:         r.CreatedAt,
	}
	if r.TraceJSON != "" {
		if err := json.Unmarshal([]byte(r.TraceJSON), &t.ConversationTrace); err != nil {
			return core.Turn{}, fmt.Errorf("decode trace of turn %d: %w", r.Seq, err)
		}
	}
	if r.ToolsJSON != "" {
		if err := json.Unmarshal([]byte(r.ToolsJSON), &t.ToolsUsed); err != nil {
			return core.Turn{}, fmt.Errorf("decode tools of turn %d: %w", r.Seq, err)
		}
	}
	return t, nil
}
