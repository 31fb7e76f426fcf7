package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/util"
)

// DefaultReflectPrompt is used for reflect runs of agents without their own
// reflect_prompt.
const DefaultReflectPrompt = "Review your long-term memory and recent work. Consolidate what you learned, " +
	"prune stale or duplicated notes, update your active projects and decide on next steps. " +
	"Persist the result in your memory file."

// InstanceLister reports the invocations currently running.
type InstanceLister interface {
	ListActive() []core.Instance
}

// Options configures a Builder.
type Options struct {
	// Cmd is how agents should call back into the system, e.g. "freza".
	Cmd   string
	Clock func() time.Time
}

// Builder renders prompts from live system state.
type Builder struct {
	layout    core.Layout
	catalog   core.Catalog
	memory    core.MemoryStore
	instances InstanceLister
	cmd       string
	now       func() time.Time
}

// NewBuilder creates a prompt builder. instances may be nil.
func NewBuilder(layout core.Layout, catalog core.Catalog, memory core.MemoryStore, instances InstanceLister, optFns ...func(o *Options)) *Builder {
	opts := Options{
		Cmd:   "freza",
		Clock: time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Builder{
		layout:    layout,
		catalog:   catalog,
		memory:    memory,
		instances: instances,
		cmd:       opts.Cmd,
		now:       opts.Clock,
	}
}

// System renders the system prompt for one instance of agent. channel is
// nil for invocations that did not arrive through a channel.
func (b *Builder) System(agent core.AgentDefinition, channel *core.ChannelDefinition, instanceID string) (string, error) {
	data := struct {
		Agent, AgentDir, MemoryFile, ShortTermFile string
		ChannelsDir, AgentsDir, InstanceID, Cmd    string
		AgentPrompt, ChannelPrompt                 string
	}{
		Agent:         agent.Name,
		AgentDir:      b.layout.AgentDir(agent.Name),
		MemoryFile:    b.layout.MemoryFile(agent.Name),
		ShortTermFile: b.layout.ShortTermFile(instanceID),
		ChannelsDir:   b.layout.ChannelsDir(),
		AgentsDir:     b.layout.AgentsDir(),
		InstanceID:    instanceID,
		Cmd:           b.cmd,
		AgentPrompt:   strings.TrimSpace(agent.SystemPrompt),
	}
	if channel != nil {
		data.ChannelPrompt = strings.TrimSpace(channel.SystemPrompt)
	}
	return util.RenderTemplate("system", systemTemplate, data)
}

// UserInput is the per-invocation part of the user prompt.
type UserInput struct {
	InstanceID string
	Agent      core.AgentDefinition
	Mode       core.Mode
	Channel    string
	Message    string
	// History is embedded as the conversation so far when the runtime cannot
	// resume its own session.
	History []core.Exchange
}

type agentLine struct {
	Name, Description  string
	Self, CustomInvoke bool
}

type instanceLine struct {
	ID, Mode, Agent, Task string
	Uptime                float64
}

// User renders the user prompt.
func (b *Builder) User(in UserInput) (string, error) {
	if !in.Mode.Valid() {
		return "", fmt.Errorf("invalid mode %q", in.Mode)
	}

	mem := ""
	if b.memory != nil {
		doc, err := b.memory.ReadLongTerm(in.Agent.Name)
		if err != nil {
			return "", fmt.Errorf("read memory: %w", err)
		}
		mem = strings.TrimRight(doc, "\n")
		if strings.TrimSpace(mem) == "" {
			mem = ""
		}
	}

	var agents []agentLine
	for _, a := range b.catalog.Agents() {
		agents = append(agents, agentLine{
			Name:         a.Name,
			Description:  a.Description,
			Self:         a.Name == in.Agent.Name,
			CustomInvoke: a.InvokeFile != "",
		})
	}

	type channelLine struct{ Name, Description, DefaultAgent string }
	var channels []channelLine
	for _, ch := range b.catalog.Channels() {
		def := ch.DefaultAgent
		if def == "" {
			def = core.DefaultAgent
		}
		channels = append(channels, channelLine{ch.Name, ch.Description, def})
	}

	message := in.Message
	if in.Mode == core.ModeReflect && strings.TrimSpace(message) == "" {
		message = in.Agent.ReflectPrompt
		if message == "" {
			message = DefaultReflectPrompt
		}
	}

	data := map[string]any{
		"Memory":   mem,
		"Agents":   agents,
		"Self":     instanceLine{ID: in.InstanceID, Mode: string(in.Mode), Agent: in.Agent.Name},
		"Others":   b.others(in.InstanceID),
		"Channels": channels,
		"History":  in.History,
		"Mode":     string(in.Mode),
		"Channel":  in.Channel,
		"Message":  message,
	}
	return util.RenderTemplate("user", userTemplate, data)
}

func (b *Builder) others(self string) []instanceLine {
	if b.instances == nil {
		return nil
	}
	now := b.now()
	var out []instanceLine
	for _, inst := range b.instances.ListActive() {
		if inst.InstanceID == self {
			continue
		}
		out = append(out, instanceLine{
			ID:     inst.InstanceID,
			Mode:   string(inst.Mode),
			Agent:  inst.Agent,
			Task:   b.taskOf(inst),
			Uptime: now.Sub(inst.StartedAt).Seconds(),
		})
	}
	return out
}

func (b *Builder) taskOf(inst core.Instance) string {
	if inst.CurrentTask != "" {
		return inst.CurrentTask
	}
	if b.memory != nil {
		if st, ok, err := b.memory.GetShortTerm(inst.InstanceID); err == nil && ok && st.CurrentTask != "" {
			return st.CurrentTask
		}
	}
	return "unknown"
}
