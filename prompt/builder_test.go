package prompt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/memory"
)

type staticInstances []core.Instance

func (s staticInstances) ListActive() []core.Instance { return s }

func newBuilder(t *testing.T, mem core.MemoryStore, running staticInstances) (*Builder, core.Layout) {
	t.Helper()
	layout := core.Layout{BaseDir: "/srv/freza"}
	catalog := core.NewStaticCatalog(
		[]core.AgentDefinition{
			{Name: "default", Description: "General purpose agent"},
			{Name: "scraper", Description: "Fetches pages", InvokeFile: "/srv/freza/agents/scraper/invoke"},
		},
		[]core.ChannelDefinition{{Name: "slack", Description: "Team chat"}},
	)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return NewBuilder(layout, catalog, mem, running, func(o *Options) {
		o.Clock = func() time.Time { return now }
	}), layout
}

func TestSystemPrompt(t *testing.T) {
	b, layout := newBuilder(t, nil, nil)

	out, err := b.System(core.AgentDefinition{Name: "default", SystemPrompt: "Be brief."},
		&core.ChannelDefinition{Name: "slack", SystemPrompt: "Use emoji sparingly."}, "abc123")
	require.NoError(t, err)

	assert.Contains(t, out, `You are "default"`)
	assert.Contains(t, out, "- Long-term memory:     "+layout.MemoryFile("default"))
	assert.Contains(t, out, "- Your instance ID:     abc123")
	assert.Contains(t, out, layout.ShortTermFile("abc123"))
	assert.Contains(t, out, "## Agent-Specific Instructions\nBe brief.")
	assert.Contains(t, out, "## Channel-Specific Instructions\nUse emoji sparingly.")

	plain, err := b.System(core.AgentDefinition{Name: "default"}, nil, "abc123")
	require.NoError(t, err)
	assert.NotContains(t, plain, "Agent-Specific Instructions")
	assert.NotContains(t, plain, "Channel-Specific Instructions")
}

func TestUserPromptDirect(t *testing.T) {
	b, _ := newBuilder(t, memory.NewInMemoryStore(), nil)

	out, err := b.User(UserInput{
		InstanceID: "abc123",
		Agent:      core.AgentDefinition{Name: "default"},
		Mode:       core.ModeDirect,
		Message:    "hello",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "(Memory is empty -- this may be your first run.")
	assert.Contains(t, out, "- **default**: General purpose agent (you)\n")
	assert.Contains(t, out, "- **scraper**: Fetches pages [custom invoke]\n")
	assert.Contains(t, out, "You are the only running instance.")
	assert.Contains(t, out, "- **slack**: Team chat (default_agent=default)")
	assert.Contains(t, out, "**Direct invocation** of agent `default`:\n\n```\nhello\n```")
	assert.NotContains(t, out, "Conversation So Far")
}

func TestUserPromptChannelWithPeersAndHistory(t *testing.T) {
	mem := memory.NewInMemoryStore()
	require.NoError(t, mem.WriteLongTerm("default", "# Agent Memory\n- likes tea\n"))
	require.NoError(t, mem.PutShortTerm(core.ShortTermState{InstanceID: "peer2", CurrentTask: "Reading file"}))

	started := time.Date(2026, 1, 2, 3, 3, 5, 0, time.UTC)
	running := staticInstances{
		{InstanceID: "abc123", Agent: "default", Mode: core.ModeChannel, StartedAt: started},
		{InstanceID: "peer1", Agent: "scraper", Mode: core.ModeDirect, StartedAt: started, CurrentTask: "Running command: ls"},
		{InstanceID: "peer2", Agent: "default", Mode: core.ModeReflect, StartedAt: started},
	}
	b, _ := newBuilder(t, mem, running)

	out, err := b.User(UserInput{
		InstanceID: "abc123",
		Agent:      core.AgentDefinition{Name: "default"},
		Mode:       core.ModeChannel,
		Channel:    "slack",
		Message:    "what next?",
		History:    []core.Exchange{{Trigger: "hi", Response: "hello there"}},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "- likes tea")
	assert.Contains(t, out, "2 other instance(s):")
	assert.Contains(t, out, "- `peer1` mode=direct agent=scraper task=\"Running command: ls\" uptime=60s")
	assert.Contains(t, out, "task=\"Reading file\"")
	assert.NotContains(t, out, "- `abc123`")
	assert.Contains(t, out, "## Conversation So Far\n\n**Turn 1**\n\nUser:\n```\nhi\n```\n\nYou:\n```\nhello there\n```")
	assert.Contains(t, out, "**Incoming message** on channel `slack`:\n\n```\nwhat next?\n```")
}

func TestUserPromptReflect(t *testing.T) {
	b, _ := newBuilder(t, nil, nil)

	out, err := b.User(UserInput{InstanceID: "r1", Agent: core.AgentDefinition{Name: "default"}, Mode: core.ModeReflect})
	require.NoError(t, err)
	assert.Contains(t, out, "**Scheduled reflection** of agent `default`:\n\n"+DefaultReflectPrompt)

	out, err = b.User(UserInput{InstanceID: "r1", Agent: core.AgentDefinition{Name: "default", ReflectPrompt: "Tidy up."}, Mode: core.ModeReflect})
	require.NoError(t, err)
	assert.Contains(t, out, "Tidy up.")

	_, err = b.User(UserInput{InstanceID: "r1", Agent: core.AgentDefinition{Name: "default"}, Mode: "bogus"})
	assert.Error(t, err)
}
