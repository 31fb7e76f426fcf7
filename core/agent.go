package core

import (
	"fmt"
	"regexp"
)

// DefaultAgent is used when neither the caller nor the channel names one.
const DefaultAgent = "default"

var agentNameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateName checks agent and channel names: alphanumeric start, then
// alphanumerics, hyphens and underscores.
func ValidateName(name string) error {
	if !agentNameRE.MatchString(name) {
		return fmt.Errorf("%w: name %q must start with a letter or digit and contain only letters, digits, '-' or '_'", ErrInvalid, name)
	}
	return nil
}

// Runtime selects how an agent's invocations are executed.
type Runtime string

const (
	// RuntimeCLI runs the agent CLI as a subprocess streaming JSON lines.
	RuntimeCLI Runtime = "cli"
	// RuntimeScript runs the agent's own invoke executable.
	RuntimeScript Runtime = "script"
	// RuntimeAnthropic calls the Anthropic Messages API in process.
	RuntimeAnthropic Runtime = "anthropic"
	// RuntimeOpenAI calls the OpenAI Chat Completions API in process.
	RuntimeOpenAI Runtime = "openai"
)

// AgentDefinition is the read-only configuration of one agent.
type AgentDefinition struct {
	Name            string  `json:"name" yaml:"name" toml:"name"`
	Description     string  `json:"description" yaml:"description" toml:"description"`
	SystemPrompt    string  `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty" toml:"system_prompt,omitempty"`
	Runtime         Runtime `json:"runtime,omitempty" yaml:"runtime,omitempty" toml:"runtime,omitempty"`
	Model           string  `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
	MaxTurns        int     `json:"max_turns,omitempty" yaml:"max_turns,omitempty" toml:"max_turns,omitempty"`
	ReflectSchedule string  `json:"reflect_schedule,omitempty" yaml:"reflect_schedule,omitempty" toml:"reflect_schedule,omitempty"`
	ReflectPrompt   string  `json:"reflect_prompt,omitempty" yaml:"reflect_prompt,omitempty" toml:"reflect_prompt,omitempty"`

	// Dir is the agent's working directory; InvokeFile is set when a custom
	// invoke executable exists. Both are filled by the catalog.
	Dir        string `json:"dir,omitempty" yaml:"-" toml:"-"`
	InvokeFile string `json:"invoke_file,omitempty" yaml:"-" toml:"-"`
}

// ChannelDefinition is the read-only configuration of one channel.
type ChannelDefinition struct {
	Name         string `json:"name" yaml:"name" toml:"name"`
	Description  string `json:"description" yaml:"description" toml:"description"`
	DefaultAgent string `json:"default_agent,omitempty" yaml:"default_agent,omitempty" toml:"default_agent,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty" toml:"system_prompt,omitempty"`
}

// Catalog is the lookup table of agents and channels handed to the engine.
type Catalog interface {
	Agent(name string) (AgentDefinition, bool)
	Agents() []AgentDefinition
	Channel(name string) (ChannelDefinition, bool)
	Channels() []ChannelDefinition
}

// StaticCatalog is an immutable in-memory Catalog.
type StaticCatalog struct {
	agents   []AgentDefinition
	channels []ChannelDefinition
}

// NewStaticCatalog builds a catalog from fixed definitions.
func NewStaticCatalog(agents []AgentDefinition, channels []ChannelDefinition) *StaticCatalog {
	return &StaticCatalog{agents: agents, channels: channels}
}

// Agent looks up an agent by name.
func (c *StaticCatalog) Agent(name string) (AgentDefinition, bool) {
	for _, a := range c.agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentDefinition{}, false
}

// Agents returns all agents.
func (c *StaticCatalog) Agents() []AgentDefinition {
	return append([]AgentDefinition(nil), c.agents...)
}

// Channel looks up a channel by name.
func (c *StaticCatalog) Channel(name string) (ChannelDefinition, bool) {
	for _, ch := range c.channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChannelDefinition{}, false
}

// Channels returns all channels.
func (c *StaticCatalog) Channels() []ChannelDefinition {
	return append([]ChannelDefinition(nil), c.channels...)
}
