package launcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/util"
)

// InvokeFileName is the executable an agent directory may provide to
// replace the default runtime.
const InvokeFileName = "invoke"

// recordSeparator prefixes lines that carry a JSON wire event.
const recordSeparator = '\x1e'

// ScriptRequest is the JSON document written to an invoke script's stdin.
type ScriptRequest struct {
	InstanceID      string          `json:"instance_id"`
	Agent           string          `json:"agent"`
	Prompt          string          `json:"prompt"`
	SystemPrompt    string          `json:"system_prompt"`
	AgentDir        string          `json:"agent_dir"`
	BaseDir         string          `json:"base_dir"`
	Model           string          `json:"model,omitempty"`
	MaxTurns        int             `json:"max_turns,omitempty"`
	ResumeSessionID string          `json:"resume_session_id,omitempty"`
	History         []core.Exchange `json:"history,omitempty"`
}

// ScriptOptions configures a ScriptLauncher.
type ScriptOptions struct {
	RecordBuffer int
	StripEnv     []string
	Clock        func() time.Time
}

// ScriptLauncher runs agents/<name>/invoke. The script reads a
// ScriptRequest from stdin. Each stdout line starting with 0x1E is a JSON
// event; every other line is response text.
type ScriptLauncher struct {
	opts ScriptOptions
}

// Compile-time check that ScriptLauncher implements core.Launcher.
var _ core.Launcher = (*ScriptLauncher)(nil)

// NewScriptLauncher creates a ScriptLauncher.
func NewScriptLauncher(optFns ...func(o *ScriptOptions)) *ScriptLauncher {
	opts := ScriptOptions{RecordBuffer: 64, StripEnv: []string{"CLAUDECODE"}, Clock: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ScriptLauncher{opts: opts}
}

// InvokePath returns the invoke executable of agent, or "" when it has none.
func InvokePath(agent core.AgentDefinition) string {
	if agent.InvokeFile != "" {
		return agent.InvokeFile
	}
	if agent.Dir == "" {
		return ""
	}
	p := filepath.Join(agent.Dir, InvokeFileName)
	if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
		return p
	}
	return ""
}

// Launch implements core.Launcher.
func (l *ScriptLauncher) Launch(_ context.Context, req core.LaunchRequest) (core.Process, error) {
	path := InvokePath(req.Agent)
	if path == "" {
		return nil, fmt.Errorf("agent %q has no %s executable", req.Agent.Name, InvokeFileName)
	}
	payload, err := json.Marshal(ScriptRequest{
		InstanceID:      req.InstanceID,
		Agent:           req.Agent.Name,
		Prompt:          req.Prompt,
		SystemPrompt:    req.SystemPrompt,
		AgentDir:        req.Agent.Dir,
		BaseDir:         req.BaseDir,
		Model:           req.Model,
		MaxTurns:        req.MaxTurns,
		ResumeSessionID: req.ResumeSessionID,
		History:         req.History,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal script request: %w", err)
	}

	cmd := exec.Command(path)
	cmd.Dir = req.Agent.Dir
	cmd.Env = append(baseEnv(l.opts.StripEnv...),
		"FREZA_INSTANCE_ID="+req.InstanceID,
		"FREZA_BASE_DIR="+req.BaseDir,
	)
	dec := &scriptDecoder{start: l.opts.Clock(), clock: l.opts.Clock}
	p, err := startProcess(cmd, payload, dec, l.opts.RecordBuffer)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// scriptDecoder implements the invoke script line protocol.
type scriptDecoder struct {
	start     time.Time
	clock     func() time.Time
	sawText   bool
	sawResult bool
}

func (d *scriptDecoder) Decode(line []byte) core.Record {
	if line[0] != recordSeparator {
		text := string(line)
		if d.sawText {
			text = "\n" + text
		}
		d.sawText = true
		return core.Record{
			Events: []core.Event{core.TextDelta(text)},
			Raw:    mustJSON(map[string]any{"role": "assistant", "content": []map[string]any{{"type": "text", "text": string(line)}}}),
		}
	}

	payload := bytes.TrimSpace(line[1:])
	var ev core.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return core.Record{Err: &core.SubprocessError{Reason: fmt.Sprintf("malformed event line: %s", util.Ellipsize(string(payload), 200))}}
	}
	if err := ev.Validate(); err != nil {
		return core.Record{Err: &core.SubprocessError{Reason: fmt.Sprintf("invalid event: %v", err)}}
	}

	rec := core.Record{Raw: json.RawMessage(payload)}
	switch ev.Type {
	case core.EventDone:
		// the runner owns the end of the stream
	case core.EventError:
		rec.Err = &core.SubprocessError{Reason: ev.Message}
	case core.EventResult:
		d.sawResult = true
		rec.Events = []core.Event{ev}
	case core.EventTextDelta:
		d.sawText = true
		rec.Events = []core.Event{ev}
	default:
		rec.Events = []core.Event{ev}
	}
	return rec
}

// Finish synthesizes a result for scripts that exit cleanly without one.
func (d *scriptDecoder) Finish(exitErr error) []core.Record {
	if exitErr != nil || d.sawResult {
		return nil
	}
	elapsed := d.clock().Sub(d.start).Milliseconds()
	ev := core.Result(0, elapsed, 1)
	return []core.Record{{Events: []core.Event{ev}, Raw: mustJSON(ev)}}
}
