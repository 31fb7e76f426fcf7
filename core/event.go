package core

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates the Event union.
type EventType string

const (
	// EventTextDelta carries a fragment of assistant text.
	EventTextDelta EventType = "text_delta"
	// EventToolUse reports that the runtime started a tool call.
	EventToolUse EventType = "tool_use"
	// EventToolResult reports completion of a tool call.
	EventToolResult EventType = "tool_result"
	// EventResult is the runtime's terminal accounting record.
	EventResult EventType = "result"
	// EventDone closes the event stream of an invocation.
	EventDone EventType = "done"
	// EventError carries a human readable failure message.
	EventError EventType = "error"
)

// Event is one element of an invocation's live stream. It is a flat,
// discriminated union: Type selects which of the remaining fields are
// meaningful. JSON encoding writes exactly the fields of the variant, zero
// values included, so each event marshals to its wire shape, e.g.
//
//	{"type":"text_delta","text":"Hi"}
//	{"type":"tool_use","tool_id":"t1","name":"Bash","input_summary":"ls -la"}
//	{"type":"tool_result","tool_id":"t1","is_error":false}
//	{"type":"result","cost_usd":0.002,"duration_ms":1200,"turns":1}
//	{"type":"done"}
//
// Events are ephemeral; they are persisted only folded into a Turn.
type Event struct {
	Type         EventType `json:"type"`
	Text         string    `json:"text,omitempty"`
	ToolID       string    `json:"tool_id,omitempty"`
	Name         string    `json:"name,omitempty"`
	InputSummary string    `json:"input_summary,omitempty"`
	IsError      bool      `json:"is_error,omitempty"`
	CostUSD      float64   `json:"cost_usd,omitempty"`
	DurationMS   int64     `json:"duration_ms,omitempty"`
	Turns        int       `json:"turns,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// TextDelta creates a text_delta event.
func TextDelta(text string) Event { return Event{Type: EventTextDelta, Text: text} }

// ToolUse creates a tool_use event.
func ToolUse(toolID, name, inputSummary string) Event {
	return Event{Type: EventToolUse, ToolID: toolID, Name: name, InputSummary: inputSummary}
}

// ToolResult creates a tool_result event.
func ToolResult(toolID string, isError bool) Event {
	return Event{Type: EventToolResult, ToolID: toolID, IsError: isError}
}

// Result creates a result event.
func Result(costUSD float64, durationMS int64, turns int) Event {
	return Event{Type: EventResult, CostUSD: costUSD, DurationMS: durationMS, Turns: turns}
}

// Done creates the terminal done event.
func Done() Event { return Event{Type: EventDone} }

// Error creates an error event.
func Error(message string) Event { return Event{Type: EventError, Message: message} }

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventTextDelta:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			Text string    `json:"text"`
		}{e.Type, e.Text})
	case EventToolUse:
		return json.Marshal(struct {
			Type         EventType `json:"type"`
			ToolID       string    `json:"tool_id"`
			Name         string    `json:"name"`
			InputSummary string    `json:"input_summary"`
		}{e.Type, e.ToolID, e.Name, e.InputSummary})
	case EventToolResult:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			ToolID  string    `json:"tool_id"`
			IsError bool      `json:"is_error"`
		}{e.Type, e.ToolID, e.IsError})
	case EventResult:
		return json.Marshal(struct {
			Type       EventType `json:"type"`
			CostUSD    float64   `json:"cost_usd"`
			DurationMS int64     `json:"duration_ms"`
			Turns      int       `json:"turns"`
		}{e.Type, e.CostUSD, e.DurationMS, e.Turns})
	case EventDone:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	case EventError:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
		}{e.Type, e.Message})
	}
	type plain Event
	return json.Marshal(plain(e))
}

// IsTerminal reports whether the event ends the stream.
func (e Event) IsTerminal() bool { return e.Type == EventDone }

// Validate checks that the event is a known variant carrying its required fields.
func (e Event) Validate() error {
	switch e.Type {
	case EventTextDelta, EventDone, EventResult:
		return nil
	case EventToolUse:
		if e.Name == "" {
			return fmt.Errorf("tool_use event without name")
		}
		return nil
	case EventToolResult:
		if e.ToolID == "" {
			return fmt.Errorf("tool_result event without tool_id")
		}
		return nil
	case EventError:
		if e.Message == "" {
			return fmt.Errorf("error event without message")
		}
		return nil
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
}
