package launcher

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/util"
)

const maxInputSummary = 200

// streamLine is the envelope of one stream-json output line.
type streamLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   *streamMessage  `json:"message,omitempty"`
	Parent    string          `json:"parent_tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Duration  int64           `json:"duration_ms,omitempty"`
	APIDur    int64           `json:"duration_api_ms,omitempty"`
	NumTurns  int             `json:"num_turns,omitempty"`
	CostUSD   float64         `json:"total_cost_usd,omitempty"`
	Result    string          `json:"result,omitempty"`
	Usage     json.RawMessage `json:"usage,omitempty"`
}

type streamMessage struct {
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// streamJSONDecoder decodes the agent CLI's stream-json protocol. The raw
// trace entry of each line is a compact, size-limited rendition of it.
type streamJSONDecoder struct {
	maxContent int
	// sawText separates text blocks with a newline after the first.
	sawText bool
}

func newStreamJSONDecoder(maxContent int) *streamJSONDecoder {
	if maxContent <= 0 {
		maxContent = 50000
	}
	return &streamJSONDecoder{maxContent: maxContent}
}

func (d *streamJSONDecoder) Decode(line []byte) core.Record {
	var msg streamLine
	if err := json.Unmarshal(line, &msg); err != nil {
		return core.Record{Err: &core.SubprocessError{
			Reason: fmt.Sprintf("malformed output line: %s", util.Ellipsize(string(line), 200)),
		}}
	}

	rec := core.Record{SessionID: msg.SessionID}
	switch msg.Type {
	case "assistant":
		d.assistant(&msg, &rec)
	case "user":
		d.user(&msg, &rec)
	case "system":
		var data map[string]any
		_ = json.Unmarshal(line, &data)
		rec.Raw = mustJSON(map[string]any{"role": "system", "subtype": msg.Subtype, "data": data})
	case "result":
		rec.Events = []core.Event{core.Result(msg.CostUSD, msg.Duration, msg.NumTurns)}
		rec.Raw = mustJSON(map[string]any{
			"role":            "result",
			"subtype":         msg.Subtype,
			"duration_ms":     msg.Duration,
			"duration_api_ms": msg.APIDur,
			"is_error":        msg.IsError,
			"num_turns":       msg.NumTurns,
			"session_id":      msg.SessionID,
			"total_cost_usd":  msg.CostUSD,
			"usage":           msg.Usage,
			"result":          d.truncateValue(msg.Result),
		})
		if msg.IsError {
			reason := "agent runtime reported an error"
			if msg.Subtype != "" {
				reason += " (" + msg.Subtype + ")"
			}
			if msg.Result != "" {
				reason += ": " + util.Ellipsize(msg.Result, 500)
			}
			rec.Err = &core.SubprocessError{Reason: reason}
		}
	}
	// other message types (rate limit notices and the like) are ignored
	return rec
}

func (d *streamJSONDecoder) Finish(error) []core.Record { return nil }

func (d *streamJSONDecoder) assistant(msg *streamLine, rec *core.Record) {
	if msg.Message == nil {
		return
	}
	var blocks []contentBlock
	if err := json.Unmarshal(msg.Message.Content, &blocks); err != nil {
		rec.Err = &core.SubprocessError{Reason: fmt.Sprintf("malformed assistant content: %v", err)}
		return
	}
	trace := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				text := b.Text
				if d.sawText {
					text = "\n" + text
				}
				d.sawText = true
				rec.Events = append(rec.Events, core.TextDelta(text))
			}
			trace = append(trace, d.textBlock("text", "text", b.Text))
		case "thinking":
			tb := d.textBlock("thinking", "thinking", b.Thinking)
			tb["signature"] = b.Signature
			trace = append(trace, tb)
		case "tool_use":
			rec.Events = append(rec.Events, core.ToolUse(b.ID, b.Name, summarizeInput(b.Input)))
			trace = append(trace, d.toolUseBlock(b))
		default:
			trace = append(trace, map[string]any{"type": b.Type})
		}
	}
	entry := map[string]any{"role": "assistant", "model": msg.Message.Model, "content": trace}
	if msg.Parent != "" {
		entry["parent_tool_use_id"] = msg.Parent
	}
	rec.Raw = mustJSON(entry)
}

func (d *streamJSONDecoder) user(msg *streamLine, rec *core.Record) {
	if msg.Message == nil {
		return
	}
	entry := map[string]any{"role": "user"}
	if msg.Parent != "" {
		entry["parent_tool_use_id"] = msg.Parent
	}

	var text string
	if err := json.Unmarshal(msg.Message.Content, &text); err == nil {
		entry["content"] = d.truncateValue(text)
		rec.Raw = mustJSON(entry)
		return
	}

	var blocks []contentBlock
	if err := json.Unmarshal(msg.Message.Content, &blocks); err != nil {
		rec.Err = &core.SubprocessError{Reason: fmt.Sprintf("malformed user content: %v", err)}
		return
	}
	trace := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "tool_result":
			rec.Events = append(rec.Events, core.ToolResult(b.ToolUseID, b.IsError))
			content, extra := d.truncate(toolResultText(b.Content))
			tb := map[string]any{"type": "tool_result", "tool_use_id": b.ToolUseID, "content": content, "is_error": b.IsError}
			for k, v := range extra {
				tb[k] = v
			}
			trace = append(trace, tb)
		case "text":
			trace = append(trace, d.textBlock("text", "text", b.Text))
		default:
			trace = append(trace, map[string]any{"type": b.Type})
		}
	}
	entry["content"] = trace
	rec.Raw = mustJSON(entry)
}

func (d *streamJSONDecoder) textBlock(typ, key, text string) map[string]any {
	t, extra := d.truncate(text)
	out := map[string]any{"type": typ, key: t}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (d *streamJSONDecoder) toolUseBlock(b contentBlock) map[string]any {
	out := map[string]any{"type": "tool_use", "id": b.ID, "name": b.Name}
	input := b.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if utf8.RuneCount(input) > d.maxContent {
		s, extra := d.truncate(string(input))
		out["input"] = s
		for k, v := range extra {
			out[k] = v
		}
		return out
	}
	out["input"] = input
	return out
}

// truncate cuts s to maxContent runes and reports the original length.
func (d *streamJSONDecoder) truncate(s string) (string, map[string]any) {
	n := utf8.RuneCountInString(s)
	if n <= d.maxContent {
		return s, nil
	}
	return util.Truncate(s, d.maxContent), map[string]any{"truncated": true, "original_length": n}
}

func (d *streamJSONDecoder) truncateValue(s string) any {
	t, extra := d.truncate(s)
	if extra == nil {
		return t
	}
	extra["text"] = t
	return extra
}

// toolResultText flattens tool_result content, which is either a string or
// a list of blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// summarizeInput renders a one-line description of a tool call's input,
// preferring the argument a human would recognise.
func summarizeInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return util.Ellipsize(string(raw), maxInputSummary)
	}
	for _, key := range []string{"command", "file_path", "path", "pattern", "url", "query", "description", "prompt", "notebook_path"} {
		if v, ok := fields[key].(string); ok && v != "" {
			return util.Ellipsize(oneLine(v), maxInputSummary)
		}
	}
	if len(fields) == 0 {
		return ""
	}
	compact, _ := json.Marshal(fields)
	return util.Ellipsize(string(compact), maxInputSummary)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return b
}
