package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/util"
	"github.com/hupe1980/freza/launcher"
	"github.com/hupe1980/freza/logging"
)

// Compile-time check that Catalog implements core.Catalog.
var _ core.Catalog = (*Catalog)(nil)

const (
	agentFile   = "agent"
	channelFile = "channel"
)

// Options configures a Catalog.
type Options struct {
	// Debounce delays a reload after file system events. Defaults to 250ms.
	Debounce time.Duration
	// OnReload is called after every successful reload.
	OnReload func(c *Catalog)
	Logger   logging.Logger
}

// Catalog is the file backed agent and channel table. It is safe for
// concurrent use.
type Catalog struct {
	layout core.Layout
	opts   Options

	mu       sync.RWMutex
	agents   map[string]core.AgentDefinition
	channels map[string]core.ChannelDefinition

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	watchWg sync.WaitGroup
}

// New loads the catalog below layout.BaseDir.
func New(layout core.Layout, optFns ...func(o *Options)) (*Catalog, error) {
	opts := Options{
		Debounce: 250 * time.Millisecond,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	c := &Catalog{
		layout:   layout,
		opts:     opts,
		agents:   make(map[string]core.AgentDefinition),
		channels: make(map[string]core.ChannelDefinition),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads every definition. Broken files are logged and skipped so
// one bad agent does not take the others down.
func (c *Catalog) Reload() error {
	agents := make(map[string]core.AgentDefinition)
	err := c.scan(c.layout.AgentsDir(), agentFile, func(name, dir, path string) error {
		var def core.AgentDefinition
		if err := decodeFile(path, &def); err != nil {
			return err
		}
		if def.Name != "" && def.Name != name {
			c.opts.Logger.Warn("agent name differs from directory, using directory", "dir", dir, "name", def.Name)
		}
		def.Name = name
		def.Dir = dir
		def.InvokeFile = launcher.InvokePath(core.AgentDefinition{Dir: dir})
		agents[name] = def
		return nil
	})
	if err != nil {
		return err
	}

	channels := make(map[string]core.ChannelDefinition)
	err = c.scan(c.layout.ChannelsDir(), channelFile, func(name, dir, path string) error {
		var def core.ChannelDefinition
		if err := decodeFile(path, &def); err != nil {
			return err
		}
		def.Name = name
		channels[name] = def
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.agents, c.channels = agents, channels
	c.mu.Unlock()

	c.opts.Logger.Debug("catalog loaded", "agents", len(agents), "channels", len(channels))
	if c.opts.OnReload != nil {
		c.opts.OnReload(c)
	}
	return nil
}

func (c *Catalog) scan(root, base string, load func(name, dir, path string) error) error {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", root, err)
	}
	for _, e := range entries {
		if !e.IsDir() || core.ValidateName(e.Name()) != nil {
			continue
		}
		dir := filepath.Join(root, e.Name())
		path, ok := findDefinition(dir, base)
		if !ok {
			continue
		}
		if err := load(e.Name(), dir, path); err != nil {
			c.opts.Logger.Warn("skipping definition", "path", path, "error", err)
		}
	}
	return nil
}

// Agent implements core.Catalog.
func (c *Catalog) Agent(name string) (core.AgentDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.agents[name]
	return def, ok
}

// Agents returns all agents sorted by name.
func (c *Catalog) Agents() []core.AgentDefinition {
	c.mu.RLock()
	out := make([]core.AgentDefinition, 0, len(c.agents))
	for _, def := range c.agents {
		out = append(out, def)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Channel implements core.Catalog.
func (c *Catalog) Channel(name string) (core.ChannelDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.channels[name]
	return def, ok
}

// Channels returns all channels sorted by name.
func (c *Catalog) Channels() []core.ChannelDefinition {
	c.mu.RLock()
	out := make([]core.ChannelDefinition, 0, len(c.channels))
	for _, def := range c.channels {
		out = append(out, def)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SaveAgent writes def to agents/<name>/agent.<format>, replacing any
// existing definition file, and reloads the catalog.
func (c *Catalog) SaveAgent(def core.AgentDefinition, format Format) error {
	if err := core.ValidateName(def.Name); err != nil {
		return err
	}
	def.Dir, def.InvokeFile = "", ""
	return c.save(c.layout.AgentDir(def.Name), agentFile, format, def)
}

// SaveChannel writes def to channels/<name>/channel.<format>. The default
// agent, when set, must exist.
func (c *Catalog) SaveChannel(def core.ChannelDefinition, format Format) error {
	if err := core.ValidateName(def.Name); err != nil {
		return err
	}
	if def.DefaultAgent != "" {
		if err := core.ValidateName(def.DefaultAgent); err != nil {
			return err
		}
		if _, ok := c.Agent(def.DefaultAgent); !ok {
			return core.NewNotFound("agent", def.DefaultAgent)
		}
	}
	return c.save(c.layout.ChannelDir(def.Name), channelFile, format, def)
}

func (c *Catalog) save(dir, base string, format Format, v any) error {
	data, err := encode(format, v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", base, err)
	}
	for _, ext := range extensions {
		if ext == format.ext() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, base+ext)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale definition: %w", err)
		}
	}
	if err := util.WriteFileAtomic(filepath.Join(dir, base+format.ext()), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", base, err)
	}
	return c.Reload()
}

// RemoveAgent deletes the agent's definition file. Its directory, memory
// and threads are kept.
func (c *Catalog) RemoveAgent(name string) error {
	return c.remove(c.layout.AgentDir, agentFile, "agent", name)
}

// RemoveChannel deletes the channel's definition file.
func (c *Catalog) RemoveChannel(name string) error {
	return c.remove(c.layout.ChannelDir, channelFile, "channel", name)
}

func (c *Catalog) remove(dirOf func(string) string, base, kind, name string) error {
	if err := core.ValidateName(name); err != nil {
		return err
	}
	path, ok := findDefinition(dirOf(name), base)
	if !ok {
		return core.NewNotFound(kind, name)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", kind, err)
	}
	return c.Reload()
}

// EnsureDefault registers the default agent when the workspace has none.
func (c *Catalog) EnsureDefault() error {
	if _, ok := c.Agent(core.DefaultAgent); ok {
		return nil
	}
	return c.SaveAgent(core.AgentDefinition{
		Name:        core.DefaultAgent,
		Description: "General-purpose agent",
	}, FormatYAML)
}
