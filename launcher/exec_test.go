//go:build !windows

package launcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/freza/core"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

func drain(t *testing.T, p core.Process) ([]core.Event, []core.Record) {
	t.Helper()
	var events []core.Event
	var recs []core.Record
	timeout := time.After(5 * time.Second)
	for {
		select {
		case rec, ok := <-p.Records():
			if !ok {
				return events, recs
			}
			recs = append(recs, rec)
			events = append(events, rec.Events...)
		case <-timeout:
			t.Fatal("records channel not closed")
		}
	}
}

func TestCLILauncherRunsFakeCLI(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "fake-cli", `cat > stdin.txt
echo "$@" > args.txt
echo '{"type":"system","subtype":"init","session_id":"sess-1"}'
echo '{"type":"assistant","session_id":"sess-1","message":{"content":[{"type":"text","text":"Hi"}]}}'
echo '{"type":"assistant","session_id":"sess-1","message":{"content":[{"type":"text","text":"there"}]}}'
echo '{"type":"result","subtype":"success","duration_ms":10,"num_turns":1,"total_cost_usd":0.5,"session_id":"sess-1"}'
`)
	l := NewCLILauncher(func(o *CLIOptions) { o.Bin = bin })
	p, err := l.Launch(context.Background(), core.LaunchRequest{
		Agent:  core.AgentDefinition{Name: "default", Dir: dir},
		Prompt: "hello prompt",
	})
	require.NoError(t, err)
	assert.Greater(t, p.PID(), 0)

	events, recs := drain(t, p)
	require.NoError(t, p.Wait())

	assert.Equal(t, []core.Event{core.TextDelta("Hi"), core.TextDelta("\nthere"), core.Result(0.5, 10, 1)}, events)
	assert.Equal(t, "sess-1", recs[0].SessionID)

	stdin, err := os.ReadFile(filepath.Join(dir, "stdin.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello prompt", string(stdin))

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "--output-format stream-json")
}

func TestCLILauncherMissingBinary(t *testing.T) {
	l := NewCLILauncher(func(o *CLIOptions) { o.Bin = "freza-definitely-not-installed" })
	_, err := l.Launch(context.Background(), core.LaunchRequest{Agent: core.AgentDefinition{Dir: t.TempDir()}})
	require.Error(t, err)
	var se *core.SubprocessError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 127, se.ExitCode)
}

func TestCLILauncherNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "fail-cli", "cat >/dev/null\necho 'boom' >&2\nexit 3\n")
	l := NewCLILauncher(func(o *CLIOptions) { o.Bin = bin })
	p, err := l.Launch(context.Background(), core.LaunchRequest{Agent: core.AgentDefinition{Dir: dir}})
	require.NoError(t, err)

	events, _ := drain(t, p)
	assert.Empty(t, events)

	err = p.Wait()
	var se *core.SubprocessError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.ExitCode)
	assert.Equal(t, "boom", se.Stderr)
}

func TestCLILauncherTerminate(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "slow-cli", "cat >/dev/null\nsleep 30\n")
	l := NewCLILauncher(func(o *CLIOptions) { o.Bin = bin })
	p, err := l.Launch(context.Background(), core.LaunchRequest{Agent: core.AgentDefinition{Dir: dir}})
	require.NoError(t, err)

	require.NoError(t, p.Terminate())
	drain(t, p)
	assert.Error(t, p.Wait())
	assert.NoError(t, p.Kill())
}

func TestScriptLauncher(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, InvokeFileName, `cat > request.json
echo "line one"
printf '\036{"type":"tool_use","tool_id":"t1","name":"Bash","input_summary":"ls"}\n'
printf '\036{"type":"tool_result","tool_id":"t1"}\n'
echo "line two"
`)
	agent := core.AgentDefinition{Name: "scripted", Dir: dir}
	require.NotEmpty(t, InvokePath(agent))

	l := NewScriptLauncher()
	p, err := l.Launch(context.Background(), core.LaunchRequest{InstanceID: "abc", Agent: agent, Prompt: "do it"})
	require.NoError(t, err)

	events, _ := drain(t, p)
	require.NoError(t, p.Wait())
	require.Len(t, events, 5)
	assert.Equal(t, core.TextDelta("line one"), events[0])
	assert.Equal(t, core.ToolUse("t1", "Bash", "ls"), events[1])
	assert.Equal(t, core.ToolResult("t1", false), events[2])
	assert.Equal(t, core.TextDelta("\nline two"), events[3])
	assert.Equal(t, core.EventResult, events[4].Type)
	assert.Equal(t, 1, events[4].Turns)

	req, err := os.ReadFile(filepath.Join(dir, "request.json"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(req), `"prompt":"do it"`))
}

func TestScriptLauncherMalformedEvent(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, InvokeFileName, "cat >/dev/null\nprintf '\\036{broken\\n'\n")
	p, err := NewScriptLauncher().Launch(context.Background(), core.LaunchRequest{Agent: core.AgentDefinition{Name: "s", Dir: dir}})
	require.NoError(t, err)

	_, recs := drain(t, p)
	require.NoError(t, p.Wait())
	require.NotEmpty(t, recs)
	assert.True(t, core.IsSubprocess(recs[0].Err))
}
