package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/testutil"
	"github.com/hupe1980/freza/memory"
	"github.com/hupe1980/freza/registry"
	"github.com/hupe1980/freza/thread"
)

type fixture struct {
	runner   *Runner
	registry *registry.Registry
	threads  *thread.InMemoryStore
	memory   *memory.InMemoryStore
	launcher *testutil.FakeLauncher
}

func newFixture(t *testing.T, launcher *testutil.FakeLauncher, optFns ...func(o *Options)) *fixture {
	t.Helper()
	reg := registry.New()
	t.Cleanup(reg.Close)
	f := &fixture{
		registry: reg,
		threads:  thread.NewInMemoryStore(),
		memory:   memory.NewInMemoryStore(),
		launcher: launcher,
	}
	opts := append([]func(o *Options){func(o *Options) {
		o.Memory = f.memory
		o.KillGrace = 50 * time.Millisecond
	}}, optFns...)
	f.runner = New(reg, f.threads, launcher, opts...)
	return f
}

func request(trigger string) Request {
	return Request{
		Agent:   core.AgentDefinition{Name: "default"},
		Mode:    core.ModeDirect,
		Trigger: trigger,
		Launch:  core.LaunchRequest{Prompt: trigger},
	}
}

func collect(t *testing.T, run *Run) []core.Event {
	t.Helper()
	var out []core.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events():
			if !ok {
				<-run.Done()
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("run %s did not finish, got %v", run.ID, out)
		}
	}
}

func TestRunCompletes(t *testing.T) {
	script := testutil.NewScript().Text("Hi").Text(" there").Result(0.002, 1200, 1).Build()
	f := newFixture(t, testutil.NewFakeLauncher(script...))

	run, err := f.runner.Start(context.Background(), request("hello"))
	require.NoError(t, err)

	inst, err := f.registry.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4242, inst.PID)

	events := collect(t, run)
	assert.Equal(t, []core.Event{
		core.TextDelta("Hi"),
		core.TextDelta(" there"),
		core.Result(0.002, 1200, 1),
		core.Done(),
	}, events)

	out := run.Outcome()
	require.NoError(t, out.Err)
	assert.Equal(t, core.StatusCompleted, out.Status)
	assert.True(t, out.Persisted)
	assert.NotEmpty(t, out.ThreadID)

	th, err := f.threads.GetThread(context.Background(), out.ThreadID)
	require.NoError(t, err)
	require.Len(t, th.Entries, 1)
	turn := th.Entries[0]
	assert.Equal(t, "hello", turn.TriggerMessage)
	assert.Equal(t, "Hi there", turn.Response)
	assert.Equal(t, 1, turn.TurnsUsed)
	assert.InDelta(t, 0.002, turn.CostUSD, 1e-9)
	assert.Equal(t, int64(1200), turn.DurationMS)
	assert.Len(t, turn.ConversationTrace, 3)
	assert.Equal(t, run.ID, turn.InstanceID)

	inst, err = f.registry.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, inst.Status)
	assert.Equal(t, out.ThreadID, inst.ThreadID)
	assert.Empty(t, f.registry.ListActive())

	st, ok, err := f.memory.GetShortTerm(run.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "complete", st.CurrentTask)
	assert.Equal(t, "Hi there", st.Summary)
}

func TestRunTimeout(t *testing.T) {
	launcher := testutil.NewFakeLauncher()
	launcher.Hang = true
	launcher.IgnoreTerminate = true
	f := newFixture(t, launcher, func(o *Options) { o.Timeout = 50 * time.Millisecond })

	run, err := f.runner.Start(context.Background(), request("slow"))
	require.NoError(t, err)

	events := collect(t, run)
	require.Len(t, events, 2)
	assert.Equal(t, core.EventError, events[0].Type)
	assert.Contains(t, events[0].Message, "timeout")
	assert.Equal(t, core.Done(), events[1])

	out := run.Outcome()
	assert.Equal(t, core.StatusFailed, out.Status)
	assert.True(t, core.IsTimeout(out.Err))
	assert.False(t, out.Persisted)

	proc := launcher.Processes()[0]
	assert.True(t, proc.Killed())
	assert.True(t, proc.Exited())

	inst, err := f.registry.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, inst.Status)
}

func TestCancelWithPartialOutput(t *testing.T) {
	launcher := testutil.NewFakeLauncher(testutil.NewScript().Text("partial").Build()...)
	launcher.Hang = true
	f := newFixture(t, launcher)

	run, err := f.runner.Start(context.Background(), request("long task"))
	require.NoError(t, err)

	first := <-run.Events()
	assert.Equal(t, core.TextDelta("partial"), first)
	require.NoError(t, f.runner.Cancel(run.ID))

	rest := collect(t, run)
	require.Len(t, rest, 2)
	assert.Equal(t, core.Error("cancelled"), rest[0])
	assert.Equal(t, core.Done(), rest[1])

	out := run.Outcome()
	assert.ErrorIs(t, out.Err, core.ErrCancelled)
	require.True(t, out.Persisted)

	th, err := f.threads.GetThread(context.Background(), out.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, th.Entries[0].Status)
	assert.Equal(t, "partial", th.Entries[0].Response)

	inst, err := f.registry.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", inst.Reason)
	assert.True(t, launcher.Processes()[0].Terminated())
	assert.False(t, launcher.Processes()[0].Killed())
}

func TestCancelWithoutOutputReleasesReservation(t *testing.T) {
	launcher := testutil.NewFakeLauncher()
	launcher.Hang = true
	f := newFixture(t, launcher)
	ctx := context.Background()

	threadID, err := f.threads.ReserveThreadID(ctx)
	require.NoError(t, err)
	req := request("never answered")
	req.ThreadID = threadID
	req.ThreadReserved = true

	run, err := f.runner.Start(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, threadID, run.ThreadID())
	require.NoError(t, f.runner.Cancel(run.ID))
	collect(t, run)

	out := run.Outcome()
	assert.False(t, out.Persisted)
	assert.Empty(t, out.ThreadID)

	_, err = f.threads.AppendTurn(ctx, threadID, "default", "", testutil.NewTurnBuilder("x").Build())
	assert.True(t, core.IsNotFound(err))

	assert.True(t, core.IsNotFound(f.runner.Cancel(run.ID)))
}

func TestMalformedOutputFails(t *testing.T) {
	script := testutil.NewScript().Text("half").Fail("malformed output: not json").Build()
	launcher := testutil.NewFakeLauncher(script...)
	launcher.Hang = true
	f := newFixture(t, launcher)

	run, err := f.runner.Start(context.Background(), request("hello"))
	require.NoError(t, err)

	events := collect(t, run)
	require.Len(t, events, 3)
	assert.Equal(t, core.EventError, events[1].Type)
	assert.Contains(t, events[1].Message, "malformed output")

	out := run.Outcome()
	assert.True(t, core.IsSubprocess(out.Err))
	assert.True(t, out.Persisted)
	assert.True(t, launcher.Processes()[0].Terminated())
}

func TestExitWithoutResultFails(t *testing.T) {
	f := newFixture(t, testutil.NewFakeLauncher(testutil.NewScript().Text("hi").Build()...))

	run, err := f.runner.Start(context.Background(), request("hello"))
	require.NoError(t, err)
	collect(t, run)

	out := run.Outcome()
	assert.Equal(t, core.StatusFailed, out.Status)
	assert.Contains(t, out.Err.Error(), "without a result")
}

func TestNonZeroExitFails(t *testing.T) {
	launcher := testutil.NewFakeLauncher(testutil.NewScript().Result(0, 10, 1).Build()...)
	launcher.ExitErr = &core.SubprocessError{ExitCode: 2, Reason: "agent runtime failed", Stderr: "boom"}
	f := newFixture(t, launcher)

	run, err := f.runner.Start(context.Background(), request("hello"))
	require.NoError(t, err)
	events := collect(t, run)

	assert.Equal(t, core.EventError, events[len(events)-2].Type)
	assert.Contains(t, events[len(events)-2].Message, "boom")
	assert.Equal(t, core.StatusFailed, run.Outcome().Status)
}

func TestToolEventsUpdateCurrentTask(t *testing.T) {
	script := testutil.NewScript().
		ToolUse("t1", "Bash", "ls -la").
		ToolResult("t1", false).
		Text("done").
		Result(0.01, 100, 2).
		Build()

	var (
		mu    sync.Mutex
		tasks []string
	)
	var f *fixture
	f = newFixture(t, testutil.NewFakeLauncher(script...), func(o *Options) {
		o.OnEvent = func(run *Run, ev core.Event) {
			if ev.Type != core.EventToolUse && ev.Type != core.EventToolResult {
				return
			}
			inst, err := f.registry.Get(run.ID)
			if err != nil {
				return
			}
			mu.Lock()
			tasks = append(tasks, inst.CurrentTask)
			mu.Unlock()
		}
	})

	run, err := f.runner.Start(context.Background(), request("list files"))
	require.NoError(t, err)
	collect(t, run)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Running command: ls -la", "Ran command"}, tasks)

	out := run.Outcome()
	assert.Equal(t, []string{"Bash"}, out.Turn.ToolsUsed)
	assert.Equal(t, 2, out.Turn.TurnsUsed)
}

func TestLaunchFailure(t *testing.T) {
	launcher := testutil.NewFakeLauncher()
	launcher.LaunchErr = errors.New("exec: not found")
	f := newFixture(t, launcher)

	req := request("hello")
	req.InstanceID = "fixed01"
	_, err := f.runner.Start(context.Background(), req)
	require.Error(t, err)

	inst, err := f.registry.Get("fixed01")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, inst.Status)
	assert.Equal(t, 0, f.runner.Active())
}

func TestMaxConcurrent(t *testing.T) {
	launcher := testutil.NewFakeLauncher()
	launcher.Hang = true
	f := newFixture(t, launcher, func(o *Options) { o.MaxConcurrent = 1 })

	run, err := f.runner.Start(context.Background(), request("one"))
	require.NoError(t, err)

	_, err = f.runner.Start(context.Background(), request("two"))
	assert.ErrorIs(t, err, ErrBusy)
	assert.Len(t, launcher.Requests(), 1)

	require.NoError(t, f.runner.Cancel(run.ID))
	collect(t, run)
}

func TestConcurrentRunsOnSameThread(t *testing.T) {
	script := testutil.NewScript().Delay(10*time.Millisecond).Text("ok").Result(0.001, 5, 1).Build()
	f := newFixture(t, testutil.NewFakeLauncher(script...))
	ctx := context.Background()

	threadID, err := f.threads.AppendTurn(ctx, "", "default", "", testutil.NewTurnBuilder("first").Build())
	require.NoError(t, err)

	var runs []*Run
	for _, msg := range []string{"a", "b"} {
		req := request(msg)
		req.ThreadID = threadID
		run, err := f.runner.Start(ctx, req)
		require.NoError(t, err)
		runs = append(runs, run)
	}

	var wg sync.WaitGroup
	for _, run := range runs {
		wg.Add(1)
		go func(run *Run) {
			defer wg.Done()
			for range run.Events() {
			}
		}(run)
	}
	wg.Wait()

	th, err := f.threads.GetThread(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, th.Entries, 3)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{th.Entries[1].TriggerMessage, th.Entries[2].TriggerMessage})
}

func TestShutdown(t *testing.T) {
	launcher := testutil.NewFakeLauncher()
	launcher.Hang = true
	f := newFixture(t, launcher)

	run, err := f.runner.Start(context.Background(), request("forever"))
	require.NoError(t, err)

	go func() {
		for range run.Events() {
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.runner.Shutdown(ctx))

	assert.ErrorIs(t, run.Outcome().Err, core.ErrCancelled)

	_, err = f.runner.Start(context.Background(), request("late"))
	assert.ErrorIs(t, err, ErrShuttingDown)
}
