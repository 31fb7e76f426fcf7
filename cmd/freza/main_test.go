package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/freza"
	"github.com/hupe1980/freza/core"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{
		"serve", "invoke", "channel", "reflect", "threads", "thread", "stats",
		"instances", "agents", "channels", "register-agent", "register-channel",
		"unregister", "memory", "cleanup", "version",
	}
	for _, name := range required {
		assert.True(t, names[name], "expected subcommand %q to be registered", name)
	}
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, freza.Version+"\n", out)
}

func TestRegisterAgentAndList(t *testing.T) {
	dir := t.TempDir()
	out, _, err := execute(t, "--base-dir", dir, "register-agent", "researcher", "Research agent",
		"--reflect-schedule", "@daily", "--format", "toml")
	require.NoError(t, err)
	assert.Contains(t, out, "Agent 'researcher' registered.")
	assert.FileExists(t, filepath.Join(dir, "agents", "researcher", "agent.toml"))
	assert.FileExists(t, filepath.Join(dir, "agents", "researcher", "memory.md"))

	out, _, err = execute(t, "--base-dir", dir, "agents", "--json")
	require.NoError(t, err)
	var agents []core.AgentDefinition
	require.NoError(t, json.Unmarshal([]byte(out), &agents))
	require.Len(t, agents, 2)
	assert.Equal(t, core.DefaultAgent, agents[0].Name)
	assert.Equal(t, "researcher", agents[1].Name)
	assert.Equal(t, "@daily", agents[1].ReflectSchedule)

	_, _, err = execute(t, "--base-dir", dir, "unregister", "agent", "researcher")
	require.NoError(t, err)
	_, _, err = execute(t, "--base-dir", dir, "unregister", "agent", "researcher")
	assert.True(t, core.IsNotFound(err))
}

func TestRegisterAgentRejectsBadSchedule(t *testing.T) {
	_, _, err := execute(t, "--base-dir", t.TempDir(), "register-agent", "x", "X", "--reflect-schedule", "every tuesday")
	assert.ErrorIs(t, err, core.ErrInvalid)
}

func TestRegisterChannel(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "--base-dir", dir, "register-channel", "ops", "Operations", "--default-agent", "ghost")
	require.Error(t, err)

	prompt := filepath.Join(t.TempDir(), "prompt.md")
	require.NoError(t, os.WriteFile(prompt, []byte("Be brief."), 0o644))
	out, _, err := execute(t, "--base-dir", dir, "register-channel", "ops", "Operations", "--system-prompt", "@"+prompt)
	require.NoError(t, err)
	assert.Contains(t, out, "Custom system prompt: 9 chars")

	out, _, err = execute(t, "--base-dir", dir, "channels", "--json")
	require.NoError(t, err)
	var channels []core.ChannelDefinition
	require.NoError(t, json.Unmarshal([]byte(out), &channels))
	require.Len(t, channels, 1)
	assert.Equal(t, "Be brief.", channels[0].SystemPrompt)
}

func TestInvokeScriptAgent(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("invoke scripts need a POSIX shell")
	}
	dir := t.TempDir()
	_, _, err := execute(t, "--base-dir", dir, "register-agent", "echo", "Echo agent")
	require.NoError(t, err)
	script := "#!/bin/sh\ncat > /dev/null\necho pong\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agents", "echo", "invoke"), []byte(script), 0o755))

	out, stderr, err := execute(t, "--base-dir", dir, "invoke", "echo", "ping")
	require.NoError(t, err, stderr)
	assert.Equal(t, "pong\n", out)
	assert.Contains(t, stderr, "completed")

	out, _, err = execute(t, "--base-dir", dir, "threads", "--json")
	require.NoError(t, err)
	var threads []core.ThreadSummary
	require.NoError(t, json.Unmarshal([]byte(out), &threads))
	require.Len(t, threads, 1)
	assert.Equal(t, "echo", threads[0].Agent)

	out, _, err = execute(t, "--base-dir", dir, "thread", threads[0].ThreadID)
	require.NoError(t, err)
	assert.Contains(t, out, "> ping")
	assert.Contains(t, out, "pong")

	out, _, err = execute(t, "--base-dir", dir, "stats", "--json")
	require.NoError(t, err)
	var stats core.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.TotalRuns)
}

func TestInvokeUnknownAgent(t *testing.T) {
	_, _, err := execute(t, "--base-dir", t.TempDir(), "invoke", "ghost", "hi")
	assert.True(t, core.IsNotFound(err))
}

func TestMemory(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "--base-dir", dir, "memory", "--add", "prefers green tea")
	require.NoError(t, err)

	out, _, err := execute(t, "--base-dir", dir, "memory", "--search", "GREEN")
	require.NoError(t, err)
	assert.Contains(t, out, "prefers green tea")

	out, _, err = execute(t, "--base-dir", dir, "memory", "default")
	require.NoError(t, err)
	assert.Contains(t, out, "prefers green tea")
}

func TestInstances(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/instances", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]core.Instance{{
			InstanceID:  "abc123",
			Agent:       "default",
			Mode:        core.ModeDirect,
			Status:      core.StatusRunning,
			StartedAt:   time.Now().Add(-time.Minute),
			CurrentTask: "Reading file: main.go",
		}})
	}))
	defer srv.Close()

	out, _, err := execute(t, "instances", "--url", srv.URL, "--token", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", gotAuth)
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "Reading file: main.go")
}

func TestCleanup(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("invoke scripts need a POSIX shell")
	}
	dir := t.TempDir()
	_, _, err := execute(t, "--base-dir", dir, "register-agent", "echo", "Echo agent")
	require.NoError(t, err)
	script := "#!/bin/sh\ncat > /dev/null\necho pong\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agents", "echo", "invoke"), []byte(script), 0o755))
	for i := 0; i < 2; i++ {
		_, stderr, err := execute(t, "--base-dir", dir, "invoke", "echo", "ping")
		require.NoError(t, err, stderr)
	}
	shortTerm := filepath.Join(dir, "state", "short_term")
	entries, err := os.ReadDir(shortTerm)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	running := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	_, _, err = execute(t, "--base-dir", dir, "cleanup", "--url", running.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
	running.Close()

	out, _, err := execute(t, "--base-dir", dir, "cleanup", "--url", running.URL)
	require.NoError(t, err)
	assert.Equal(t, "Removed 2 short-term state file(s).\n", out)

	entries, err = os.ReadDir(shortTerm)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
