package launcher

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/hupe1980/freza/core"
)

const (
	maxStderrBytes = 8 << 10
	exitNotFound   = 127
)

// decoder turns runtime stdout lines into records.
type decoder interface {
	// Decode classifies one non-empty output line.
	Decode(line []byte) core.Record
	// Finish is called once after the process exited and may append
	// synthetic records.
	Finish(exitErr error) []core.Record
}

// execProcess implements core.Process for an os/exec command.
type execProcess struct {
	cmd     *exec.Cmd
	records chan core.Record
	stderr  *cappedBuffer
	done    chan struct{}
	waitErr error
}

// startProcess launches cmd, feeds stdin and decodes stdout line by line.
func startProcess(cmd *exec.Cmd, stdin []byte, dec decoder, buffer int) (*execProcess, error) {
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &cappedBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr
	cmd.Stdin = bytes.NewReader(stdin)

	if err := cmd.Start(); err != nil {
		return nil, startError(cmd.Path, err)
	}

	p := &execProcess{
		cmd:     cmd,
		records: make(chan core.Record, buffer),
		stderr:  stderr,
		done:    make(chan struct{}),
	}
	go p.read(stdout, dec)
	return p, nil
}

func (p *execProcess) read(stdout io.Reader, dec decoder) {
	defer close(p.done)
	defer close(p.records)

	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadBytes('\n')
		if trimmed := bytes.TrimRight(line, "\r\n"); len(bytes.TrimSpace(trimmed)) > 0 {
			p.records <- dec.Decode(trimmed)
		}
		if err != nil {
			break
		}
	}
	// drain anything left so the runtime never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)

	p.waitErr = exitError(p.cmd.Wait(), p.stderr.String())
	for _, rec := range dec.Finish(p.waitErr) {
		p.records <- rec
	}
}

// PID implements core.Process.
func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Records implements core.Process.
func (p *execProcess) Records() <-chan core.Record { return p.records }

// Wait implements core.Process.
func (p *execProcess) Wait() error {
	<-p.done
	return p.waitErr
}

// Terminate implements core.Process.
func (p *execProcess) Terminate() error { return ignoreFinished(terminateGroup(p.cmd)) }

// Kill implements core.Process.
func (p *execProcess) Kill() error { return ignoreFinished(killGroup(p.cmd)) }

func ignoreFinished(err error) error {
	if err == nil || errors.Is(err, os.ErrProcessDone) || strings.Contains(err.Error(), "no such process") {
		return nil
	}
	return err
}

// startError maps a failed Start the way a shell would: a missing binary is
// exit code 127.
func startError(path string, err error) error {
	var execErr *exec.Error
	if errors.As(err, &execErr) || errors.Is(err, os.ErrNotExist) {
		return &core.SubprocessError{ExitCode: exitNotFound, Reason: fmt.Sprintf("agent runtime %q not found", path)}
	}
	return &core.SubprocessError{ExitCode: 1, Reason: fmt.Sprintf("start agent runtime: %v", err)}
}

func exitError(err error, stderr string) error {
	if err == nil {
		return nil
	}
	stderr = strings.TrimSpace(stderr)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		reason := "agent runtime exited"
		if code < 0 {
			reason = "agent runtime killed by signal"
		}
		return &core.SubprocessError{ExitCode: code, Reason: reason, Stderr: stderr}
	}
	return &core.SubprocessError{ExitCode: 1, Reason: err.Error(), Stderr: stderr}
}

// cappedBuffer keeps the first limit bytes written to it.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "...(truncated)"
	}
	return b.buf.String()
}

// baseEnv returns the current environment without the variables in drop.
func baseEnv(drop ...string) []string {
	env := os.Environ()
	out := env[:0:0]
	for _, kv := range env {
		keep := true
		for _, d := range drop {
			if strings.HasPrefix(kv, d+"=") {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, kv)
		}
	}
	return out
}
