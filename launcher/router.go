package launcher

import (
	"context"
	"fmt"

	"github.com/hupe1980/freza/core"
)

// Router picks a launcher per agent: the agent's invoke script when it has
// one, otherwise the launcher registered for its runtime, otherwise CLI.
type Router struct {
	CLI      core.Launcher
	Script   core.Launcher
	Runtimes map[core.Runtime]core.Launcher
}

// Compile-time check that Router implements core.Launcher.
var _ core.Launcher = (*Router)(nil)

// NewRouter wires the default launchers.
func NewRouter(cli *CLILauncher, script *ScriptLauncher, inProcess *ModelLauncher) *Router {
	r := &Router{Runtimes: map[core.Runtime]core.Launcher{}}
	if cli != nil {
		r.CLI = cli
	}
	if script != nil {
		r.Script = script
	}
	if inProcess != nil {
		r.Runtimes[core.RuntimeAnthropic] = inProcess
		r.Runtimes[core.RuntimeOpenAI] = inProcess
	}
	return r
}

// Select returns the launcher for agent.
func (r *Router) Select(agent core.AgentDefinition) (core.Launcher, error) {
	if r.Script != nil && (agent.Runtime == core.RuntimeScript || InvokePath(agent) != "") {
		return r.Script, nil
	}
	if l, ok := r.Runtimes[agent.Runtime]; ok && l != nil {
		return l, nil
	}
	switch agent.Runtime {
	case "", core.RuntimeCLI:
		if r.CLI != nil {
			return r.CLI, nil
		}
	}
	return nil, fmt.Errorf("no launcher for runtime %q of agent %q", agent.Runtime, agent.Name)
}

// Launch implements core.Launcher.
func (r *Router) Launch(ctx context.Context, req core.LaunchRequest) (core.Process, error) {
	l, err := r.Select(req.Agent)
	if err != nil {
		return nil, err
	}
	return l.Launch(ctx, req)
}
