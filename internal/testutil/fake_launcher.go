package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/freza/core"
)

// Compile-time check that FakeLauncher implements core.Launcher.
var _ core.Launcher = (*FakeLauncher)(nil)

// FakeLauncher replays scripted records instead of starting a runtime.
// Public fields must be set before the first Launch.
type FakeLauncher struct {
	Steps []Step
	// Hang keeps the process alive after the script until it is stopped.
	Hang bool
	// IgnoreTerminate makes only Kill stop the process.
	IgnoreTerminate bool
	// ExitErr is returned by Wait after a script that ran to completion.
	ExitErr error
	// LaunchErr fails Launch itself.
	LaunchErr error
	PID       int

	mu       sync.Mutex
	requests []core.LaunchRequest
	procs    []*FakeProcess
}

// NewFakeLauncher creates a launcher replaying steps.
func NewFakeLauncher(steps ...Step) *FakeLauncher {
	return &FakeLauncher{Steps: steps, PID: 4242}
}

// Launch implements core.Launcher.
func (l *FakeLauncher) Launch(_ context.Context, req core.LaunchRequest) (core.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	p := &FakeProcess{
		pid:             l.PID,
		records:         make(chan core.Record),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
		ignoreTerminate: l.IgnoreTerminate,
	}
	l.procs = append(l.procs, p)
	go p.run(l.Steps, l.Hang, l.ExitErr)
	return p, nil
}

// Requests returns every launch request seen so far.
func (l *FakeLauncher) Requests() []core.LaunchRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.LaunchRequest(nil), l.requests...)
}

// Processes returns every process started so far.
func (l *FakeLauncher) Processes() []*FakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeProcess(nil), l.procs...)
}

// FakeProcess is the core.Process returned by FakeLauncher.
type FakeProcess struct {
	pid             int
	records         chan core.Record
	stop            chan struct{}
	stopOnce        sync.Once
	done            chan struct{}
	exitErr         error
	ignoreTerminate bool

	terminated atomic.Bool
	killed     atomic.Bool
}

func (p *FakeProcess) run(steps []Step, hang bool, exitErr error) {
	defer close(p.done)
	defer close(p.records)

	for _, s := range steps {
		if s.Delay > 0 {
			select {
			case <-time.After(s.Delay):
			case <-p.stop:
				p.exitErr = &core.SubprocessError{ExitCode: -1, Reason: "killed by signal"}
				return
			}
		}
		select {
		case p.records <- s.Record:
		case <-p.stop:
			p.exitErr = &core.SubprocessError{ExitCode: -1, Reason: "killed by signal"}
			return
		}
	}
	if hang {
		<-p.stop
		p.exitErr = &core.SubprocessError{ExitCode: -1, Reason: "killed by signal"}
		return
	}
	p.exitErr = exitErr
}

func (p *FakeProcess) halt() { p.stopOnce.Do(func() { close(p.stop) }) }

// PID implements core.Process.
func (p *FakeProcess) PID() int { return p.pid }

// Records implements core.Process.
func (p *FakeProcess) Records() <-chan core.Record { return p.records }

// Wait implements core.Process.
func (p *FakeProcess) Wait() error {
	<-p.done
	return p.exitErr
}

// Terminate implements core.Process.
func (p *FakeProcess) Terminate() error {
	p.terminated.Store(true)
	if !p.ignoreTerminate {
		p.halt()
	}
	return nil
}

// Kill implements core.Process.
func (p *FakeProcess) Kill() error {
	p.killed.Store(true)
	p.halt()
	return nil
}

// Terminated reports whether Terminate was called.
func (p *FakeProcess) Terminated() bool { return p.terminated.Load() }

// Killed reports whether Kill was called.
func (p *FakeProcess) Killed() bool { return p.killed.Load() }

// Exited reports whether the process has finished.
func (p *FakeProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
