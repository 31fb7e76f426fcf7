package launcher

import (
	"context"
	"os/exec"
	"strconv"

	"github.com/hupe1980/freza/core"
)

// CLIOptions configures a CLILauncher.
type CLIOptions struct {
	// Bin is the agent CLI executable, resolved via PATH.
	Bin string
	// DefaultModel and DefaultMaxTurns apply when the request leaves them empty.
	DefaultModel    string
	DefaultMaxTurns int
	// PermissionMode is passed as --permission-mode.
	PermissionMode string
	// MaxContent caps the size of text kept in trace entries.
	MaxContent int
	// RecordBuffer is the capacity of the record channel.
	RecordBuffer int
	// ExtraArgs are appended after the generated arguments.
	ExtraArgs []string
	// StripEnv lists environment variables removed from the child.
	StripEnv []string
}

// CLILauncher runs the agent CLI in stream-json mode.
type CLILauncher struct {
	opts CLIOptions
}

// Compile-time check that CLILauncher implements core.Launcher.
var _ core.Launcher = (*CLILauncher)(nil)

// NewCLILauncher creates a CLILauncher.
func NewCLILauncher(optFns ...func(o *CLIOptions)) *CLILauncher {
	opts := CLIOptions{
		Bin:             "claude",
		DefaultModel:    "opus",
		DefaultMaxTurns: 100,
		PermissionMode:  "bypassPermissions",
		MaxContent:      50000,
		RecordBuffer:    64,
		// a nested CLI refuses to start when it thinks it runs inside another session
		StripEnv: []string{"CLAUDECODE"},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &CLILauncher{opts: opts}
}

// Args returns the command line arguments for req.
func (l *CLILauncher) Args(req core.LaunchRequest) []string {
	model := req.Model
	if model == "" {
		model = l.opts.DefaultModel
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = l.opts.DefaultMaxTurns
	}
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--model", model,
		"--max-turns", strconv.Itoa(maxTurns),
		"--permission-mode", l.opts.PermissionMode,
	}
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	if req.ResumeSessionID != "" {
		args = append(args, "--resume", req.ResumeSessionID)
	}
	return append(args, l.opts.ExtraArgs...)
}

// Launch implements core.Launcher. The prompt is written to stdin.
func (l *CLILauncher) Launch(_ context.Context, req core.LaunchRequest) (core.Process, error) {
	cmd := exec.Command(l.opts.Bin, l.Args(req)...)
	cmd.Dir = req.Agent.Dir
	cmd.Env = baseEnv(l.opts.StripEnv...)
	p, err := startProcess(cmd, []byte(req.Prompt), newStreamJSONDecoder(l.opts.MaxContent), l.opts.RecordBuffer)
	if err != nil {
		return nil, err
	}
	return p, nil
}
