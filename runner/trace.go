package runner

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/hupe1980/freza/core"
)

// trace folds the records of one run into the fields of its Turn.
type trace struct {
	text       strings.Builder
	raw        []json.RawMessage
	tools      map[string]struct{}
	result     *core.Event
	sessionID  string
	meaningful bool
}

func newTrace() *trace {
	return &trace{tools: make(map[string]struct{})}
}

func (t *trace) addRecord(rec core.Record) {
	if len(rec.Raw) > 0 {
		t.raw = append(t.raw, rec.Raw)
	}
	if rec.SessionID != "" {
		t.sessionID = rec.SessionID
	}
}

func (t *trace) addEvent(ev core.Event) {
	switch ev.Type {
	case core.EventTextDelta:
		t.text.WriteString(ev.Text)
		if ev.Text != "" {
			t.meaningful = true
		}
	case core.EventToolUse:
		t.tools[ev.Name] = struct{}{}
		t.meaningful = true
	case core.EventToolResult:
		t.meaningful = true
	case core.EventResult:
		r := ev
		t.result = &r
	}
}

func (t *trace) toolsUsed() []string {
	out := make([]string, 0, len(t.tools))
	for name := range t.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// turn builds the persisted record. elapsedMS is used when the runtime never
// reported its own duration.
func (t *trace) turn(elapsedMS int64) core.Turn {
	turn := core.Turn{
		SessionID:         t.sessionID,
		Response:          t.text.String(),
		ConversationTrace: t.raw,
		DurationMS:        elapsedMS,
		ToolsUsed:         t.toolsUsed(),
	}
	if turn.ConversationTrace == nil {
		turn.ConversationTrace = []json.RawMessage{}
	}
	if t.result != nil {
		turn.CostUSD = t.result.CostUSD
		turn.TurnsUsed = t.result.Turns
		if t.result.DurationMS > 0 {
			turn.DurationMS = t.result.DurationMS
		}
	}
	return turn
}
