package testutil

import (
	"encoding/json"
	"time"

	"github.com/hupe1980/freza/core"
)

// Step is one scripted output of a fake runtime.
type Step struct {
	Record core.Record
	// Delay is waited before the record is emitted.
	Delay time.Duration
}

// ScriptBuilder provides a fluent helper for scripting fake runtime output.
// Example:
//
//	steps := NewScript().Text("Hi").Text(" there").Result(0.002, 1200, 1).Build()
//
// Every step carries a raw trace payload shaped like the runtime protocol.
type ScriptBuilder struct {
	steps []Step
	delay time.Duration
}

// NewScript creates an empty script.
func NewScript() *ScriptBuilder { return &ScriptBuilder{} }

// Delay sets the delay applied before the next step (chainable).
func (b *ScriptBuilder) Delay(d time.Duration) *ScriptBuilder { b.delay = d; return b }

// Text appends an assistant text fragment (chainable).
func (b *ScriptBuilder) Text(t string) *ScriptBuilder {
	return b.add(core.Record{
		Events: []core.Event{core.TextDelta(t)},
		Raw:    raw(map[string]any{"role": "assistant", "content": []any{map[string]any{"type": "text", "text": t}}}),
	})
}

// ToolUse appends a tool call (chainable).
func (b *ScriptBuilder) ToolUse(id, name, summary string) *ScriptBuilder {
	return b.add(core.Record{
		Events: []core.Event{core.ToolUse(id, name, summary)},
		Raw:    raw(map[string]any{"role": "assistant", "content": []any{map[string]any{"type": "tool_use", "id": id, "name": name}}}),
	})
}

// ToolResult appends a tool completion (chainable).
func (b *ScriptBuilder) ToolResult(id string, isError bool) *ScriptBuilder {
	return b.add(core.Record{
		Events: []core.Event{core.ToolResult(id, isError)},
		Raw:    raw(map[string]any{"role": "user", "content": []any{map[string]any{"type": "tool_result", "tool_use_id": id, "is_error": isError}}}),
	})
}

// Result appends the terminal accounting record (chainable).
func (b *ScriptBuilder) Result(costUSD float64, durationMS int64, turns int) *ScriptBuilder {
	return b.add(core.Record{
		Events: []core.Event{core.Result(costUSD, durationMS, turns)},
		Raw:    raw(map[string]any{"role": "result", "total_cost_usd": costUSD, "duration_ms": durationMS, "num_turns": turns}),
	})
}

// Session appends a trace-only record carrying a runtime session id (chainable).
func (b *ScriptBuilder) Session(id string) *ScriptBuilder {
	return b.add(core.Record{SessionID: id, Raw: raw(map[string]any{"role": "system", "session_id": id})})
}

// Fail appends a record reporting a protocol violation (chainable).
func (b *ScriptBuilder) Fail(reason string) *ScriptBuilder {
	return b.add(core.Record{Err: &core.SubprocessError{Reason: reason}})
}

// Record appends an arbitrary record (chainable).
func (b *ScriptBuilder) Record(rec core.Record) *ScriptBuilder { return b.add(rec) }

// Build returns the scripted steps.
func (b *ScriptBuilder) Build() []Step { return append([]Step(nil), b.steps...) }

func (b *ScriptBuilder) add(rec core.Record) *ScriptBuilder {
	b.steps = append(b.steps, Step{Record: rec, Delay: b.delay})
	b.delay = 0
	return b
}

func raw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
